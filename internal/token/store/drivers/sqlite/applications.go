package sqlite

import (
	"context"

	"github.com/aussiebroadwan/tokenforge/internal/token/domain"
)

type applicationsRepo struct {
	db dbtx
}

func (r *applicationsRepo) Create(ctx context.Context, app domain.Application) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO applications (id, client_id, display_name, jwks)
		VALUES (?, ?, ?, ?)`,
		app.ID, app.ClientID, app.DisplayName, app.JWKS)
	return mapConstraint(err)
}

func (r *applicationsRepo) FindByClientID(ctx context.Context, clientID string) (domain.Application, error) {
	var app domain.Application
	err := r.db.QueryRowContext(ctx, `
		SELECT id, client_id, display_name, jwks
		FROM applications WHERE client_id = ?`, clientID).
		Scan(&app.ID, &app.ClientID, &app.DisplayName, &app.JWKS)
	if err != nil {
		return domain.Application{}, mapNotFound(err)
	}
	return app, nil
}
