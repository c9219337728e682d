package domain

import "fmt"

// Kind is the semantic token type. It drives the codec type tag, credential
// constraints, claim mapping and the user-facing error set. All per-kind
// branching in the engine goes through the policy table below so the
// kind-to-policy mapping stays auditable in one place.
type Kind int

const (
	KindUnknown Kind = iota
	KindAccessToken
	KindIDToken
	KindAuthorizationCode
	KindDeviceCode
	KindRefreshToken
	KindUserCode
	KindClientAssertion
)

// OAuth2 error codes used in rejections.
const (
	ErrorCodeInvalidToken         = "invalid_token"
	ErrorCodeInvalidGrant         = "invalid_grant"
	ErrorCodeInvalidClient        = "invalid_client"
	ErrorCodeInvalidRequest       = "invalid_request"
	ErrorCodeAuthorizationPending = "authorization_pending"
	ErrorCodeAccessDenied         = "access_denied"
	ErrorCodeServerError          = "server_error"
)

// ErrorURI is attached to every rejection so callers can link the error
// code back to its definition.
const ErrorURI = "https://datatracker.ietf.org/doc/html/rfc6749#section-5.2"

// KindPolicy captures everything that differs between token kinds.
type KindPolicy struct {
	// Name is the stable string form used in claims and store records.
	Name string

	// Tag is the canonical JOSE "typ" header written when encoding.
	Tag string

	// AcceptedTags lists the equivalent spellings accepted when decoding.
	// A token whose typ is not in the accepted set of a requested kind
	// cannot be redeemed as that kind.
	AcceptedTags []string

	// AsymmetricSigningOnly forbids symmetric signing credentials. Identity
	// tokens are verified by third parties without access to a shared
	// secret, so they must never be HMAC-signed.
	AsymmetricSigningOnly bool

	// NeverEncrypted forbids the encryption layer entirely. Identity tokens
	// must remain directly decodable by the client.
	NeverEncrypted bool

	// ReferenceDelivery means the caller receives an opaque reference id
	// instead of the protected token itself.
	ReferenceDelivery bool

	// InvalidCode/InvalidDescription form the rejection for a token of
	// this kind that cannot be accepted.
	InvalidCode        string
	InvalidDescription string

	// ExpiredDescription is the rejection description for an expired token.
	ExpiredDescription string
}

var kindPolicies = map[Kind]KindPolicy{
	KindAccessToken: {
		Name:               "access_token",
		Tag:                "at+jwt",
		AcceptedTags:       []string{"at+jwt", "application/at+jwt"},
		InvalidCode:        ErrorCodeInvalidToken,
		InvalidDescription: "The access token is invalid.",
		ExpiredDescription: "The access token is no longer valid.",
	},
	KindIDToken: {
		Name:                  "id_token",
		Tag:                   "jwt",
		AcceptedTags:          []string{"jwt", "JWT"},
		AsymmetricSigningOnly: true,
		NeverEncrypted:        true,
		InvalidCode:           ErrorCodeInvalidToken,
		InvalidDescription:    "The identity token is invalid.",
		ExpiredDescription:    "The identity token is no longer valid.",
	},
	KindAuthorizationCode: {
		Name:               "authorization_code",
		Tag:                "ac+jwt",
		AcceptedTags:       []string{"ac+jwt", "application/ac+jwt"},
		InvalidCode:        ErrorCodeInvalidGrant,
		InvalidDescription: "The specified authorization code is invalid.",
		ExpiredDescription: "The specified authorization code is no longer valid.",
	},
	KindDeviceCode: {
		Name:               "device_code",
		Tag:                "dc+jwt",
		AcceptedTags:       []string{"dc+jwt", "application/dc+jwt"},
		ReferenceDelivery:  true,
		InvalidCode:        ErrorCodeInvalidGrant,
		InvalidDescription: "The specified device code is invalid.",
		ExpiredDescription: "The specified device code is no longer valid.",
	},
	KindRefreshToken: {
		Name:               "refresh_token",
		Tag:                "rt+jwt",
		AcceptedTags:       []string{"rt+jwt", "application/rt+jwt"},
		InvalidCode:        ErrorCodeInvalidGrant,
		InvalidDescription: "The specified refresh token is invalid.",
		ExpiredDescription: "The specified refresh token is no longer valid.",
	},
	KindUserCode: {
		Name:               "user_code",
		Tag:                "uc+jwt",
		AcceptedTags:       []string{"uc+jwt", "application/uc+jwt"},
		ReferenceDelivery:  true,
		InvalidCode:        ErrorCodeInvalidGrant,
		InvalidDescription: "The specified user code is invalid.",
		ExpiredDescription: "The specified user code is no longer valid.",
	},
	KindClientAssertion: {
		Name: "client_assertion",
		Tag:  "jwt",
		// Assertions minted by third-party libraries carry generic or
		// missing tags, so no tag constraint applies.
		AcceptedTags:       nil,
		InvalidCode:        ErrorCodeInvalidClient,
		InvalidDescription: "The specified client assertion is invalid.",
		ExpiredDescription: "The specified client assertion is no longer valid.",
	},
}

// Policy returns the policy entry for k. Unmapped kinds are an
// implementation defect, not a user error, so this panics in the same way an
// out-of-range enum switch would have.
func (k Kind) Policy() KindPolicy {
	p, ok := kindPolicies[k]
	if !ok {
		panic(fmt.Sprintf("domain: no policy for kind %d", k))
	}
	return p
}

// Known reports whether k maps to a policy entry.
func (k Kind) Known() bool {
	_, ok := kindPolicies[k]
	return ok
}

// String returns the stable name, or "unknown".
func (k Kind) String() string {
	if p, ok := kindPolicies[k]; ok {
		return p.Name
	}
	return "unknown"
}

// KindFromName maps a stable name back to its Kind. Returns KindUnknown for
// unrecognized names.
func KindFromName(name string) Kind {
	for k, p := range kindPolicies {
		if p.Name == name {
			return k
		}
	}
	return KindUnknown
}

// AcceptsTag reports whether the given typ header spelling is acceptable for
// kind k. Client assertions accept any tag.
func (k Kind) AcceptsTag(tag string) bool {
	p := k.Policy()
	if k == KindClientAssertion {
		return true
	}
	for _, t := range p.AcceptedTags {
		if t == tag {
			return true
		}
	}
	return false
}

// InvalidRejection builds the kind-specific rejection for an unacceptable
// token.
func (k Kind) InvalidRejection() Rejection {
	p := k.Policy()
	return Rejection{Code: p.InvalidCode, Description: p.InvalidDescription, URI: ErrorURI}
}

// ExpiredRejection builds the kind-specific rejection for an expired token.
func (k Kind) ExpiredRejection() Rejection {
	p := k.Policy()
	return Rejection{Code: p.InvalidCode, Description: p.ExpiredDescription, URI: ErrorURI}
}
