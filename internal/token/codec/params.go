package codec

import (
	"context"
	"time"

	"github.com/aussiebroadwan/tokenforge/internal/token/domain"
)

// KeyResolver resolves candidate verification keys for an issuer. Used for
// client assertions, where the issuer is a client identifier whose published
// key set must be fetched. The issuer is untrusted at resolution time; the
// lookup yields candidate keys only, never proof of identity.
type KeyResolver func(ctx context.Context, issuer string) ([]domain.Credential, error)

// ValidationParameters carries everything Decode and the later validation
// stages need. Issuer, audience and lifetime are deliberately NOT validated
// by the codec: issuer sets may include trailing-slash variants and lifetime
// checks must be skew-aware and clock-source-pluggable, so explicit pipeline
// stages own those checks.
type ValidationParameters struct {
	// Issuers is the set of accepted issuer spellings.
	Issuers []string

	// SigningKeys is the static verification pool. Ignored when KeyResolver
	// is set.
	SigningKeys []domain.Credential

	// DecryptionKeys unwrap the optional encryption layer.
	DecryptionKeys []domain.Credential

	// KeyResolver, when set, resolves keys dynamically from the token's own
	// issuer claim (client assertions only).
	KeyResolver KeyResolver

	// ClockSkew is the tolerance applied by the expiration stage.
	ClockSkew time.Duration

	// ValidateLifetime gates the expiration stage.
	ValidateLifetime bool
}

// AcceptsIssuer reports whether iss is among the accepted spellings.
func (p *ValidationParameters) AcceptsIssuer(iss string) bool {
	for _, accepted := range p.Issuers {
		if accepted == iss {
			return true
		}
	}
	return false
}
