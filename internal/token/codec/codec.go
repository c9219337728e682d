// Package codec turns claim sets into protected compact tokens and back.
// Encoding signs (and optionally encrypts) with a kind-specific type tag so
// a token can never be replayed as a different kind; decoding unwraps one
// encryption level, enforces the tag against the accepted kinds and verifies
// the signature. Issuer, audience and lifetime checks belong to the
// validation pipeline, not here.
package codec

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwe"

	"github.com/aussiebroadwan/tokenforge/internal/token/domain"
)

// Decode failure taxonomy. Each maps independently to a user-facing
// rejection in the decode stage.
var (
	ErrInvalidType          = errors.New("codec: invalid or missing token type tag")
	ErrInvalidIssuer        = errors.New("codec: issuer cannot be resolved to a key set")
	ErrSignatureKeyNotFound = errors.New("codec: no verification key matches the token")
	ErrInvalidSignature     = errors.New("codec: signature verification failed")
	ErrMalformed            = errors.New("codec: malformed token")

	// ErrUnsupportedAlgorithm reports a credential whose algorithm has no
	// registered signing method. Configuration defect, not a user error.
	ErrUnsupportedAlgorithm = errors.New("codec: unsupported signing algorithm")
)

// IsCompact reports whether s is structurally a compact JWS (3 segments) or
// JWE (5 segments). Strings that are not are treated as opaque reference
// ids by the validation pipeline.
func IsCompact(s string) bool {
	parts := strings.Split(s, ".")
	switch len(parts) {
	case 3:
		return parts[0] != "" && parts[1] != ""
	case 5:
		// The encrypted-key segment is legitimately empty under direct
		// symmetric encryption, so only the header has to be present.
		return parts[0] != ""
	}
	return false
}

// Encode signs claims into a compact token tagged for the given kind and,
// when an encryption credential is supplied, wraps the result in a JWE whose
// content type marks the inner JWT.
func Encode(claims map[string]any, kind domain.Kind, signing domain.Credential, encryption *domain.Credential) (string, error) {
	policy := kind.Policy()

	method := jwt.GetSigningMethod(signing.Algorithm)
	if method == nil {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, signing.Algorithm)
	}

	token := jwt.NewWithClaims(method, jwt.MapClaims(claims))
	token.Header["typ"] = policy.Tag
	if signing.KeyID != "" {
		token.Header["kid"] = signing.KeyID
	}

	signed, err := token.SignedString(signing.Key)
	if err != nil {
		return "", fmt.Errorf("codec: failed to sign %s: %w", kind, err)
	}

	if encryption == nil {
		return signed, nil
	}

	alg, key, err := encryptionAlgorithm(*encryption)
	if err != nil {
		return "", err
	}

	headers := jwe.NewHeaders()
	if err := headers.Set("typ", policy.Tag); err != nil {
		return "", fmt.Errorf("codec: failed to set typ header: %w", err)
	}
	if err := headers.Set(jwe.ContentTypeKey, "JWT"); err != nil {
		return "", fmt.Errorf("codec: failed to set cty header: %w", err)
	}

	wrapped, err := jwe.Encrypt([]byte(signed),
		jwe.WithKey(alg, key),
		jwe.WithContentEncryption(jwa.A256GCM),
		jwe.WithProtectedHeaders(headers),
	)
	if err != nil {
		return "", fmt.Errorf("codec: failed to encrypt %s: %w", kind, err)
	}

	return string(wrapped), nil
}

// Decode verifies a presented token against the acceptable kinds and
// returns the reconstructed principal and the kind resolved from the type
// tag. When ClientAssertion is the sole acceptable kind the resolved kind is
// force-assigned regardless of the token's own tag, and keys are resolved
// dynamically from the issuer claim.
func Decode(ctx context.Context, token string, kinds []domain.Kind, params *ValidationParameters) (*domain.Principal, domain.Kind, error) {
	compact := token

	if strings.Count(compact, ".") == 4 {
		inner, err := decrypt(compact, params.DecryptionKeys)
		if err != nil {
			return nil, domain.KindUnknown, err
		}
		compact = inner
	}

	parser := jwt.NewParser(jwt.WithoutClaimsValidation())

	unverified, _, err := parser.ParseUnverified(compact, jwt.MapClaims{})
	if err != nil {
		return nil, domain.KindUnknown, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	kind, err := resolveKind(unverified.Header, kinds)
	if err != nil {
		return nil, domain.KindUnknown, err
	}

	candidates, err := candidateCredentials(ctx, unverified, params)
	if err != nil {
		return nil, domain.KindUnknown, err
	}

	claims, err := verify(parser, compact, candidates)
	if err != nil {
		return nil, domain.KindUnknown, err
	}

	principal := principalFromClaims(claims)
	principal.SetKind(kind)
	return principal, kind, nil
}

func decrypt(token string, keys []domain.Credential) (string, error) {
	var lastErr error
	for _, cred := range keys {
		alg, key, err := decryptionAlgorithm(cred)
		if err != nil {
			lastErr = err
			continue
		}
		plain, err := jwe.Decrypt([]byte(token), jwe.WithKey(alg, key))
		if err != nil {
			lastErr = err
			continue
		}
		return string(plain), nil
	}
	if lastErr == nil {
		lastErr = errors.New("no decryption keys configured")
	}
	return "", fmt.Errorf("%w: %v", ErrMalformed, lastErr)
}

func resolveKind(header map[string]any, kinds []domain.Kind) (domain.Kind, error) {
	// Assertions from third-party libraries often carry generic or missing
	// tags, so the sole-acceptable-kind case is force-assigned.
	if len(kinds) == 1 && kinds[0] == domain.KindClientAssertion {
		return domain.KindClientAssertion, nil
	}

	tag, _ := header["typ"].(string)
	if tag == "" {
		return domain.KindUnknown, fmt.Errorf("%w: typ header missing", ErrInvalidType)
	}

	for _, k := range kinds {
		if k.AcceptsTag(tag) {
			return k, nil
		}
	}
	return domain.KindUnknown, fmt.Errorf("%w: %q not accepted for the requested kinds", ErrInvalidType, tag)
}

func candidateCredentials(ctx context.Context, unverified *jwt.Token, params *ValidationParameters) ([]domain.Credential, error) {
	pool := params.SigningKeys
	if params.KeyResolver != nil {
		claims, _ := unverified.Claims.(jwt.MapClaims)
		issuer, _ := claims["iss"].(string)
		if issuer == "" {
			return nil, fmt.Errorf("%w: assertion has no issuer claim", ErrInvalidIssuer)
		}
		resolved, err := params.KeyResolver(ctx, issuer)
		if err != nil {
			return nil, err
		}
		pool = resolved
	}

	kid, _ := unverified.Header["kid"].(string)
	if kid == "" {
		return pool, nil
	}

	var matched []domain.Credential
	for _, c := range pool {
		if c.KeyID == kid {
			matched = append(matched, c)
		}
	}
	if len(matched) == 0 {
		return nil, fmt.Errorf("%w: kid %q", ErrSignatureKeyNotFound, kid)
	}
	return matched, nil
}

func verify(parser *jwt.Parser, compact string, candidates []domain.Credential) (jwt.MapClaims, error) {
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: empty verification pool", ErrSignatureKeyNotFound)
	}

	var lastErr error
	for _, cred := range candidates {
		key, err := verificationKey(cred)
		if err != nil {
			lastErr = err
			continue
		}

		claims := jwt.MapClaims{}
		_, err = parser.ParseWithClaims(compact, claims, func(*jwt.Token) (any, error) {
			return key, nil
		})
		if err == nil {
			return claims, nil
		}
		lastErr = err
	}

	if errors.Is(lastErr, jwt.ErrTokenMalformed) {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, lastErr)
	}
	return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, lastErr)
}

// principalFromClaims rebuilds the claim bag. Array-valued claims become
// repeated claims of the same type, preserving element order, which is what
// lets legacy multi-value scope representations round-trip.
func principalFromClaims(claims jwt.MapClaims) *domain.Principal {
	principal := domain.NewPrincipal()

	names := make([]string, 0, len(claims))
	for name := range claims {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		switch value := claims[name].(type) {
		case []any:
			for _, v := range value {
				principal.Add(name, v)
			}
		default:
			principal.Add(name, value)
		}
	}
	return principal
}

func verificationKey(c domain.Credential) (any, error) {
	if key, ok := c.Key.([]byte); ok {
		return key, nil
	}
	if c.Certificate != nil {
		return c.Certificate.PublicKey, nil
	}
	if c.PublicKey != nil {
		return c.PublicKey, nil
	}
	switch key := c.Key.(type) {
	case *rsa.PrivateKey:
		return &key.PublicKey, nil
	case *ecdsa.PrivateKey:
		return &key.PublicKey, nil
	case ed25519.PrivateKey:
		return key.Public(), nil
	}
	return nil, fmt.Errorf("%w: credential %q has no usable key material", ErrSignatureKeyNotFound, c.KeyID)
}

func encryptionAlgorithm(c domain.Credential) (jwa.KeyEncryptionAlgorithm, any, error) {
	switch key := c.Key.(type) {
	case []byte:
		return jwa.DIRECT, key, nil
	case *rsa.PrivateKey:
		return jwa.RSA_OAEP, &key.PublicKey, nil
	case *rsa.PublicKey:
		return jwa.RSA_OAEP, key, nil
	}
	if key, ok := c.PublicKey.(*rsa.PublicKey); ok {
		return jwa.RSA_OAEP, key, nil
	}
	return "", nil, fmt.Errorf("%w: encryption credential %q", ErrUnsupportedAlgorithm, c.KeyID)
}

func decryptionAlgorithm(c domain.Credential) (jwa.KeyEncryptionAlgorithm, any, error) {
	switch key := c.Key.(type) {
	case []byte:
		return jwa.DIRECT, key, nil
	case *rsa.PrivateKey:
		return jwa.RSA_OAEP, key, nil
	}
	return "", nil, fmt.Errorf("%w: decryption credential %q", ErrUnsupportedAlgorithm, c.KeyID)
}
