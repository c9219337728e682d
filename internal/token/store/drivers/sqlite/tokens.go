package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/aussiebroadwan/tokenforge/internal/token/domain"
	"github.com/aussiebroadwan/tokenforge/internal/token/store"
	"github.com/aussiebroadwan/tokenforge/pkg/cryptox"
)

type tokensRepo struct {
	db dbtx
}

const tokenColumns = `id, reference_id, authorization_id, application_id, subject,
	kind, status, payload, created_at, expires_at, redeemed_at, concurrency_token`

func (r *tokensRepo) Create(ctx context.Context, e domain.TokenEntry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO tokens (`+tokenColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID,
		mapStringNull(e.ReferenceID),
		mapStringNull(e.AuthorizationID),
		mapStringNull(e.ApplicationID),
		e.Subject,
		e.Kind.String(),
		string(e.Status),
		e.Payload,
		e.CreatedAt,
		mapTimeNull(e.ExpiresAt),
		mapOptionalTime(e.RedeemedAt),
		e.ConcurrencyToken,
	)
	return mapConstraint(err)
}

func (r *tokensRepo) FindByID(ctx context.Context, id string) (domain.TokenEntry, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+tokenColumns+` FROM tokens WHERE id = ?`, id)
	return scanToken(row)
}

func (r *tokensRepo) FindByReferenceID(ctx context.Context, referenceID string) (domain.TokenEntry, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+tokenColumns+` FROM tokens WHERE reference_id = ?`, referenceID)
	return scanToken(row)
}

// Update matches on the caller's concurrency token and rotates it, so a
// writer holding a stale copy of the entry fails instead of clobbering a
// concurrent change.
func (r *tokensRepo) Update(ctx context.Context, e domain.TokenEntry) error {
	fresh := cryptox.MustGenerateToken(cryptox.TokenSize128)

	res, err := r.db.ExecContext(ctx, `
		UPDATE tokens
		SET reference_id = ?, status = ?, payload = ?, expires_at = ?,
		    redeemed_at = ?, concurrency_token = ?
		WHERE id = ? AND concurrency_token = ?`,
		mapStringNull(e.ReferenceID),
		string(e.Status),
		e.Payload,
		mapTimeNull(e.ExpiresAt),
		mapOptionalTime(e.RedeemedAt),
		fresh,
		e.ID,
		e.ConcurrencyToken,
	)
	if err != nil {
		return mapConstraint(err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return r.missOrConflict(ctx, e.ID)
	}
	return nil
}

func (r *tokensRepo) SetStatus(ctx context.Context, id string, status domain.TokenStatus) error {
	fresh := cryptox.MustGenerateToken(cryptox.TokenSize128)

	res, err := r.db.ExecContext(ctx, `
		UPDATE tokens SET status = ?, concurrency_token = ? WHERE id = ?`,
		string(status), fresh, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *tokensRepo) SetRedeemed(ctx context.Context, id string, at time.Time) error {
	fresh := cryptox.MustGenerateToken(cryptox.TokenSize128)

	res, err := r.db.ExecContext(ctx, `
		UPDATE tokens SET status = ?, redeemed_at = ?, concurrency_token = ? WHERE id = ?`,
		string(domain.TokenStatusRedeemed), at, fresh, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *tokensRepo) ListByAuthorizationID(ctx context.Context, authorizationID string) ([]domain.TokenEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+tokenColumns+` FROM tokens
		WHERE authorization_id = ?
		ORDER BY created_at`, authorizationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.TokenEntry
	for rows.Next() {
		entry, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (r *tokensRepo) HasLiveTokens(ctx context.Context, authorizationID string, now time.Time) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM tokens
		WHERE authorization_id = ?
		  AND status = ?
		  AND (expires_at IS NULL OR expires_at > ?)`,
		authorizationID, string(domain.TokenStatusValid), now).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *tokensRepo) ListPrunable(ctx context.Context, olderThan time.Time, limit int) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id FROM tokens
		WHERE created_at < ?
		  AND (status != ? OR (expires_at IS NOT NULL AND expires_at < ?))
		ORDER BY created_at
		LIMIT ?`,
		olderThan, string(domain.TokenStatusValid), olderThan, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *tokensRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM tokens WHERE id = ?`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// missOrConflict distinguishes a stale concurrency token from a vanished
// row after a zero-row update.
func (r *tokensRepo) missOrConflict(ctx context.Context, id string) error {
	var exists int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM tokens WHERE id = ?`, id).Scan(&exists)
	if err != nil {
		return err
	}
	if exists > 0 {
		return store.ErrConcurrency
	}
	return store.ErrNotFound
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanToken(row rowScanner) (domain.TokenEntry, error) {
	var (
		e          domain.TokenEntry
		refID      sql.NullString
		authzID    sql.NullString
		appID      sql.NullString
		kind       string
		status     string
		expiresAt  sql.NullTime
		redeemedAt sql.NullTime
	)

	err := row.Scan(
		&e.ID, &refID, &authzID, &appID, &e.Subject,
		&kind, &status, &e.Payload, &e.CreatedAt, &expiresAt, &redeemedAt,
		&e.ConcurrencyToken,
	)
	if err != nil {
		return domain.TokenEntry{}, mapNotFound(err)
	}

	e.ReferenceID = mapNullString(refID)
	e.AuthorizationID = mapNullString(authzID)
	e.ApplicationID = mapNullString(appID)
	e.Kind = domain.KindFromName(kind)
	e.Status = domain.TokenStatus(status)
	e.ExpiresAt = mapNullTime(expiresAt)
	e.RedeemedAt = mapNullTimePtr(redeemedAt)
	return e, nil
}
