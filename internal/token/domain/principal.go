package domain

import (
	"strconv"
	"time"
)

// Standard claim types.
const (
	ClaimIssuer        = "iss"
	ClaimSubject       = "sub"
	ClaimAudience      = "aud"
	ClaimExpiresAt     = "exp"
	ClaimIssuedAt      = "iat"
	ClaimNotBefore     = "nbf"
	ClaimJTI           = "jti"
	ClaimScope         = "scope"
	ClaimAuthorizedPty = "azp"
	ClaimClientID      = "client_id"
	ClaimAMR           = "amr"
)

// Private claim types carry internal bookkeeping that has no standard
// equivalent, or that must survive independent of the standard claims.
const (
	ClaimPrivateKind            = "pvt_kind"
	ClaimPrivateTokenID         = "pvt_token_id"
	ClaimPrivateAuthorizationID = "pvt_authorization_id"
	ClaimPrivateCreatedAt       = "pvt_created_at"
	ClaimPrivateExpiresAt       = "pvt_expires_at"
	ClaimPrivateAudience        = "pvt_audience"
	ClaimPrivatePresenter       = "pvt_presenter"
	ClaimPrivateScope           = "pvt_scope"
)

// Destination names controlling which encoded token surfaces a claim.
const (
	DestinationAccessToken = "access_token"
	DestinationIDToken     = "id_token"
)

// Claim is a single (type, value) pair with an optional visibility list.
// Claim types may repeat; legacy tokens encode scope as several single-value
// claims and round-trip fidelity requires keeping them distinct until the
// normalization stage collapses them.
type Claim struct {
	Type         string
	Value        any
	Destinations []string
}

// HasDestination reports whether the claim is destined for dest. Claims
// without an explicit destination list are private to the server.
func (c Claim) HasDestination(dest string) bool {
	for _, d := range c.Destinations {
		if d == dest {
			return true
		}
	}
	return false
}

// Principal is an ordered, repeatable-claim bag representing who or what a
// token is for. It is created by the generation chain from caller-supplied
// claims and reconstructed by the validation chain from a decoded token. It
// is never persisted directly.
type Principal struct {
	claims []Claim
}

// NewPrincipal returns an empty principal.
func NewPrincipal() *Principal { return &Principal{} }

// Add appends a claim, preserving insertion order and any existing claims of
// the same type.
func (p *Principal) Add(claimType string, value any, destinations ...string) {
	p.claims = append(p.claims, Claim{Type: claimType, Value: value, Destinations: destinations})
}

// Set replaces every claim of the given type with a single claim.
func (p *Principal) Set(claimType string, value any, destinations ...string) {
	p.Remove(claimType)
	p.Add(claimType, value, destinations...)
}

// Remove deletes every claim of the given type.
func (p *Principal) Remove(claimType string) {
	kept := p.claims[:0]
	for _, c := range p.claims {
		if c.Type != claimType {
			kept = append(kept, c)
		}
	}
	p.claims = kept
}

// Get returns the first claim value of the given type as a string, or "".
func (p *Principal) Get(claimType string) string {
	for _, c := range p.claims {
		if c.Type == claimType {
			return claimString(c.Value)
		}
	}
	return ""
}

// GetAll returns every claim value of the given type, in insertion order.
func (p *Principal) GetAll(claimType string) []string {
	var out []string
	for _, c := range p.claims {
		if c.Type == claimType {
			out = append(out, claimString(c.Value))
		}
	}
	return out
}

// Has reports whether at least one claim of the given type exists.
func (p *Principal) Has(claimType string) bool {
	for _, c := range p.claims {
		if c.Type == claimType {
			return true
		}
	}
	return false
}

// Claims returns the underlying ordered claim list.
func (p *Principal) Claims() []Claim { return p.claims }

// Subject returns the sub claim.
func (p *Principal) Subject() string { return p.Get(ClaimSubject) }

// Kind returns the token kind recovered or assigned during processing.
func (p *Principal) Kind() Kind { return KindFromName(p.Get(ClaimPrivateKind)) }

// SetKind tags the principal with its resolved kind.
func (p *Principal) SetKind(k Kind) { p.Set(ClaimPrivateKind, k.String()) }

// TokenID returns the store entry id stamped at issuance, or "".
func (p *Principal) TokenID() string { return p.Get(ClaimPrivateTokenID) }

// SetTokenID stamps the store entry id onto the principal.
func (p *Principal) SetTokenID(id string) { p.Set(ClaimPrivateTokenID, id) }

// AuthorizationID returns the authorization the token belongs to, or "".
func (p *Principal) AuthorizationID() string { return p.Get(ClaimPrivateAuthorizationID) }

// SetAuthorizationID attaches the owning authorization id.
func (p *Principal) SetAuthorizationID(id string) { p.Set(ClaimPrivateAuthorizationID, id) }

// CreationDate returns the internal creation date, or the zero time.
func (p *Principal) CreationDate() time.Time { return p.getTime(ClaimPrivateCreatedAt) }

// SetCreationDate sets the internal creation date.
func (p *Principal) SetCreationDate(t time.Time) {
	p.Set(ClaimPrivateCreatedAt, t.UTC().Format(time.RFC3339Nano))
}

// ExpirationDate returns the internal expiration date, or the zero time.
func (p *Principal) ExpirationDate() time.Time { return p.getTime(ClaimPrivateExpiresAt) }

// SetExpirationDate sets the internal expiration date.
func (p *Principal) SetExpirationDate(t time.Time) {
	p.Set(ClaimPrivateExpiresAt, t.UTC().Format(time.RFC3339Nano))
}

// Audiences returns the internal audience list.
func (p *Principal) Audiences() []string { return p.GetAll(ClaimPrivateAudience) }

// SetAudiences replaces the internal audience list.
func (p *Principal) SetAudiences(audiences ...string) {
	p.Remove(ClaimPrivateAudience)
	for _, a := range audiences {
		p.Add(ClaimPrivateAudience, a)
	}
}

// Presenters returns the internal presenter list (typically the client id
// the token was issued to).
func (p *Principal) Presenters() []string { return p.GetAll(ClaimPrivatePresenter) }

// SetPresenters replaces the internal presenter list.
func (p *Principal) SetPresenters(presenters ...string) {
	p.Remove(ClaimPrivatePresenter)
	for _, pr := range presenters {
		p.Add(ClaimPrivatePresenter, pr)
	}
}

// Scopes returns the internal scope list.
func (p *Principal) Scopes() []string { return p.GetAll(ClaimPrivateScope) }

// SetScopes replaces the internal scope list.
func (p *Principal) SetScopes(scopes ...string) {
	p.Remove(ClaimPrivateScope)
	for _, s := range scopes {
		p.Add(ClaimPrivateScope, s)
	}
}

func (p *Principal) getTime(claimType string) time.Time {
	v := p.Get(claimType)
	if v == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

func claimString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		// JSON numbers decode as float64; unix timestamps fit losslessly.
		return strconv.FormatInt(int64(t), 10)
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}
