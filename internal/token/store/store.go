// Package store defines the collaborator contracts the token engine
// consumes. Concrete drivers (sqlite today) implement them; the engine never
// touches a database directly. Isolation is chosen per operation: cascade
// revocation must not let a new child row appear mid-flight (serializable),
// while bulk prune batches accept a narrow attach-after-read race
// (repeatable read) as a documented performance trade-off.
package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/aussiebroadwan/tokenforge/internal/token/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")

	// ErrConcurrency reports a conflicting concurrent write. It means
	// "retry the whole validate/generate call", never "the token is
	// invalid"; drivers must not retry automatically.
	ErrConcurrency = errors.New("store: concurrent modification")

	// ErrDuplicateReference reports a reference id collision. Reference
	// ids are unique across all entries; user-code generation retries on
	// this error.
	ErrDuplicateReference = errors.New("store: reference id already in use")
)

// TxOptions selects the isolation level for a transaction.
type TxOptions struct {
	Isolation sql.IsolationLevel
}

// Store is the root data access contract.
type Store interface {
	Tokens() Tokens
	Authorizations() Authorizations
	Applications() Applications

	ApplyMigrations() error

	// WithTx executes fn within a transaction at the requested isolation.
	// fn returning an error rolls back; nil commits.
	WithTx(ctx context.Context, opts TxOptions, fn func(tx Tx) error) error

	Close() error
	Ping(ctx context.Context) error
}

// Tx is a transaction-scoped store.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

// Tokens is the token entry repository.
type Tokens interface {
	// Create inserts a new entry. The entry's ConcurrencyToken must already
	// be set.
	Create(ctx context.Context, e domain.TokenEntry) error

	// FindByID returns an entry by primary key.
	FindByID(ctx context.Context, id string) (domain.TokenEntry, error)

	// FindByReferenceID resolves an opaque reference id to its entry.
	FindByReferenceID(ctx context.Context, referenceID string) (domain.TokenEntry, error)

	// Update persists payload/reference/status fields using optimistic
	// concurrency: the stored ConcurrencyToken must match e's, and a fresh
	// one is written. Mismatch yields ErrConcurrency.
	Update(ctx context.Context, e domain.TokenEntry) error

	// SetStatus transitions an entry's status.
	SetStatus(ctx context.Context, id string, status domain.TokenStatus) error

	// SetRedeemed marks the entry redeemed at the given instant.
	SetRedeemed(ctx context.Context, id string, at time.Time) error

	// ListByAuthorizationID returns every entry in an authorization's
	// token family.
	ListByAuthorizationID(ctx context.Context, authorizationID string) ([]domain.TokenEntry, error)

	// HasLiveTokens reports whether any valid, unexpired entry remains
	// under the authorization.
	HasLiveTokens(ctx context.Context, authorizationID string, now time.Time) (bool, error)

	// ListPrunable returns ids of entries that are expired or terminal and
	// older than the threshold, capped at limit.
	ListPrunable(ctx context.Context, olderThan time.Time, limit int) ([]string, error)

	// Delete removes an entry permanently.
	Delete(ctx context.Context, id string) error
}

// Authorizations is the authorization entry repository.
type Authorizations interface {
	Create(ctx context.Context, a domain.AuthorizationEntry) error
	FindByID(ctx context.Context, id string) (domain.AuthorizationEntry, error)
	SetStatus(ctx context.Context, id string, status domain.AuthorizationStatus) error

	// ListPrunable returns ids of non-valid or ad-hoc authorizations
	// older than the threshold, capped at limit. Callers must check
	// Tokens.HasLiveTokens before deleting a candidate.
	ListPrunable(ctx context.Context, olderThan time.Time, limit int) ([]string, error)

	Delete(ctx context.Context, id string) error
}

// Applications resolves client identifiers for token attachment and
// client-assertion key discovery.
type Applications interface {
	Create(ctx context.Context, app domain.Application) error
	FindByClientID(ctx context.Context, clientID string) (domain.Application, error)
}
