// Package sqlite is the embedded-database driver for the token store.
// Optimistic concurrency is enforced in SQL: updates match on the stored
// concurrency token and report conflicts through store.ErrConcurrency.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/aussiebroadwan/tokenforge/internal/token/store"
)

// dbtx is the common surface of *sql.DB and *sql.Tx the repositories use.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct {
	db  *sql.DB
	dsn string
}

func NewStore(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	// Enforce FKs
	if _, err := db.ExecContext(context.Background(), `PRAGMA foreign_keys = ON;`); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{
		db:  db,
		dsn: dsn,
	}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the database connection is still alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithTx executes fn within a transaction at the requested isolation,
// automatically handling commit/rollback.
func (s *Store) WithTx(ctx context.Context, opts store.TxOptions, fn func(tx store.Tx) error) error {
	var sqlOpts *sql.TxOptions
	if opts.Isolation != sql.LevelDefault {
		sqlOpts = &sql.TxOptions{Isolation: mapIsolation(opts.Isolation)}
	}

	tx, err := s.db.BeginTx(ctx, sqlOpts)
	if err != nil {
		return err
	}

	scoped := newTx(tx)

	// Ensure rollback is called if we panic or return early with error
	defer func() {
		_ = scoped.Rollback() // safe to call even after commit
	}()

	if err := fn(scoped); err != nil {
		return err // rollback happens in defer
	}

	return scoped.Commit()
}

// mapIsolation narrows the requested level to what the embedded database
// actually provides. Every sqlite transaction is serializable, so weaker
// requests are satisfied trivially.
func mapIsolation(level sql.IsolationLevel) sql.IsolationLevel {
	switch level {
	case sql.LevelSerializable:
		return sql.LevelSerializable
	default:
		return sql.LevelDefault
	}
}

func (s *Store) Tokens() store.Tokens                 { return &tokensRepo{db: s.db} }
func (s *Store) Authorizations() store.Authorizations { return &authorizationsRepo{db: s.db} }
func (s *Store) Applications() store.Applications     { return &applicationsRepo{db: s.db} }

func mapNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

// mapConstraint translates the driver's constraint violations onto the store
// error taxonomy. The embedded driver reports them as plain errors, so the
// message is inspected.
func mapConstraint(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "tokens.reference_id"):
		return store.ErrDuplicateReference
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return store.ErrAlreadyExists
	}
	return err
}

func mapNullString(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

func mapStringNull(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}

func mapNullTimePtr(nt sql.NullTime) *time.Time {
	if nt.Valid {
		val := nt.Time
		return &val
	}
	return nil
}

func mapOptionalTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{Valid: false}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func mapTimeNull(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{Valid: false}
	}
	return sql.NullTime{Time: t, Valid: true}
}

func mapNullTime(nt sql.NullTime) time.Time {
	if nt.Valid {
		return nt.Time
	}
	return time.Time{}
}
