package domain

import "time"

// TokenStatus is the lifecycle state of a stored token entry.
type TokenStatus string

const (
	TokenStatusValid    TokenStatus = "valid"
	TokenStatusInactive TokenStatus = "inactive"
	TokenStatusRedeemed TokenStatus = "redeemed"
	TokenStatusRejected TokenStatus = "rejected"
	TokenStatusRevoked  TokenStatus = "revoked"
)

// AuthorizationStatus is the lifecycle state of a stored authorization.
type AuthorizationStatus string

const (
	AuthorizationStatusValid   AuthorizationStatus = "valid"
	AuthorizationStatusRevoked AuthorizationStatus = "revoked"
)

// TokenEntry models the stored token record. The engine consumes these; the
// store owns them. A reference id, once issued, is unique across all
// entries. The payload holds the protected token when it exists server-side.
type TokenEntry struct {
	ID              string
	ReferenceID     string
	AuthorizationID string
	ApplicationID   string
	Subject         string
	Kind            Kind
	Status          TokenStatus
	Payload         string
	CreatedAt       time.Time
	ExpiresAt       time.Time
	RedeemedAt      *time.Time

	// ConcurrencyToken is an opaque version regenerated on every write.
	// Conflicting writers fail with a distinct concurrency error.
	ConcurrencyToken string
}

// AuthorizationEntry models the stored authorization record. A token's
// validity is conditionally gated on its authorization's status.
type AuthorizationEntry struct {
	ID            string
	ApplicationID string
	Subject       string
	Status        AuthorizationStatus

	// AdHoc authorizations are created implicitly for a single sign-in and
	// are prunable once their tokens are gone.
	AdHoc bool

	CreatedAt        time.Time
	ConcurrencyToken string
}

// Application is the client record consumed for client-assertion key
// resolution and for attaching issued tokens to an application.
type Application struct {
	ID          string
	ClientID    string
	DisplayName string

	// JWKS is the client's published key set as a JSON document.
	JWKS string
}
