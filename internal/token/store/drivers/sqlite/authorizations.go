package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/aussiebroadwan/tokenforge/internal/token/domain"
	"github.com/aussiebroadwan/tokenforge/internal/token/store"
	"github.com/aussiebroadwan/tokenforge/pkg/cryptox"
)

type authorizationsRepo struct {
	db dbtx
}

func (r *authorizationsRepo) Create(ctx context.Context, a domain.AuthorizationEntry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO authorizations (id, application_id, subject, status, ad_hoc, created_at, concurrency_token)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID,
		mapStringNull(a.ApplicationID),
		a.Subject,
		string(a.Status),
		a.AdHoc,
		a.CreatedAt,
		a.ConcurrencyToken,
	)
	return mapConstraint(err)
}

func (r *authorizationsRepo) FindByID(ctx context.Context, id string) (domain.AuthorizationEntry, error) {
	var (
		a     domain.AuthorizationEntry
		appID sql.NullString
	)
	var status string

	err := r.db.QueryRowContext(ctx, `
		SELECT id, application_id, subject, status, ad_hoc, created_at, concurrency_token
		FROM authorizations WHERE id = ?`, id).
		Scan(&a.ID, &appID, &a.Subject, &status, &a.AdHoc, &a.CreatedAt, &a.ConcurrencyToken)
	if err != nil {
		return domain.AuthorizationEntry{}, mapNotFound(err)
	}

	a.ApplicationID = mapNullString(appID)
	a.Status = domain.AuthorizationStatus(status)
	return a, nil
}

func (r *authorizationsRepo) SetStatus(ctx context.Context, id string, status domain.AuthorizationStatus) error {
	fresh := cryptox.MustGenerateToken(cryptox.TokenSize128)

	res, err := r.db.ExecContext(ctx, `
		UPDATE authorizations SET status = ?, concurrency_token = ? WHERE id = ?`,
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

// ListPrunable returns non-valid authorizations and ad-hoc ones older than
// the threshold. Candidates may still own live tokens; the caller filters
// those out with Tokens.HasLiveTokens before deleting.
func (r *authorizationsRepo) ListPrunable(ctx context.Context, olderThan time.Time, limit int) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id FROM authorizations
		WHERE created_at < ?
		  AND (status != ? OR ad_hoc)
		ORDER BY created_at
		LIMIT ?`,
		olderThan, string(domain.AuthorizationStatusValid), limit)
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

func (r *authorizationsRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM authorizations WHERE id = ?`, id)
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
