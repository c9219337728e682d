package domain

import (
	"crypto/x509"
	"errors"
	"fmt"
	"sort"
	"time"
)

var (
	// ErrNoSigningCredential reports a pool with no usable signing key for
	// the requested kind. This is a deployment defect, never a rejection.
	ErrNoSigningCredential = errors.New("domain: no usable signing credential")

	// ErrNoEncryptionCredential reports a configured encryption pool with no
	// usable key for the requested kind.
	ErrNoEncryptionCredential = errors.New("domain: no usable encryption credential")
)

// Credential is a key plus the metadata the selector needs. Key holds the
// private or symmetric material for local operations; PublicKey holds
// verify-only material (for example a client's published key).
type Credential struct {
	KeyID       string
	Algorithm   string // JOSE alg: HS256, RS256, ES256, EdDSA, dir, RSA-OAEP
	Key         any
	PublicKey   any
	Certificate *x509.Certificate
}

// Symmetric reports whether the credential is a shared secret.
func (c Credential) Symmetric() bool {
	_, ok := c.Key.([]byte)
	return ok
}

// usableAt excludes credentials backed by a certificate that is not yet
// valid. Expired certificates are still usable for validating previously
// issued tokens, so only the not-before edge is enforced here.
func (c Credential) usableAt(now time.Time) bool {
	return c.Certificate == nil || !c.Certificate.NotBefore.After(now)
}

// SortCredentials orders a pool in-place into the canonical preference
// order: symmetric keys first, then X.509-backed asymmetric keys, then raw
// asymmetric keys; among X.509 candidates the furthest expiration wins.
// Selection assumes pools are pre-sorted this way.
func SortCredentials(pool []Credential) {
	sort.SliceStable(pool, func(i, j int) bool {
		a, b := pool[i], pool[j]
		if a.Symmetric() != b.Symmetric() {
			return a.Symmetric()
		}
		if (a.Certificate != nil) != (b.Certificate != nil) {
			return a.Certificate != nil
		}
		if a.Certificate != nil && b.Certificate != nil {
			return a.Certificate.NotAfter.After(b.Certificate.NotAfter)
		}
		return false
	})
}

// SelectSigning picks the first usable signing credential for the kind.
// Identity tokens require an asymmetric key: they are verified by third
// parties that have no access to a shared secret.
func SelectSigning(kind Kind, pool []Credential, now time.Time) (Credential, error) {
	policy := kind.Policy()
	for _, c := range pool {
		if !c.usableAt(now) {
			continue
		}
		if policy.AsymmetricSigningOnly && c.Symmetric() {
			continue
		}
		return c, nil
	}
	return Credential{}, fmt.Errorf("%w for %s", ErrNoSigningCredential, kind)
}

// SelectEncryption picks the first usable encryption credential for the
// kind. Identity tokens are never encrypted. Access token encryption can be
// explicitly disabled. An empty pool means encryption is not configured and
// is not an error; a configured pool with no usable entry is.
func SelectEncryption(kind Kind, pool []Credential, now time.Time, accessEncryptionDisabled bool) (*Credential, error) {
	if kind.Policy().NeverEncrypted {
		return nil, nil
	}
	if kind == KindAccessToken && accessEncryptionDisabled {
		return nil, nil
	}
	if len(pool) == 0 {
		return nil, nil
	}
	for _, c := range pool {
		if !c.usableAt(now) {
			continue
		}
		cred := c
		return &cred, nil
	}
	return nil, fmt.Errorf("%w for %s", ErrNoEncryptionCredential, kind)
}
