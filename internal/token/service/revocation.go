package service

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/aussiebroadwan/tokenforge/internal/token/domain"
	"github.com/aussiebroadwan/tokenforge/internal/token/store"
	"github.com/aussiebroadwan/tokenforge/pkg/slogx"
)

// RevocationReport summarizes a cascade revocation.
type RevocationReport struct {
	// Revoked counts entries transitioned to revoked.
	Revoked int

	// Failed counts entries whose transition failed. The aggregate error
	// returned alongside the report carries one entry per failure.
	Failed int
}

// RevokeTokenFamily revokes every token under an authorization. The listing
// runs at serializable isolation so a token attached concurrently cannot slip
// past the sweep. Per-item failures are collected rather than aborting the
// sweep; cancellation between items stops it early.
func (e *Engine) RevokeTokenFamily(ctx context.Context, authorizationID string) (RevocationReport, error) {
	if e.opts.Store == nil {
		return RevocationReport{}, fmt.Errorf("%w: revocation requires a store", ErrConfiguration)
	}
	if authorizationID == "" {
		return RevocationReport{}, fmt.Errorf("%w: authorization id is required", ErrConfiguration)
	}

	var report RevocationReport
	var errs *multierror.Error

	txErr := e.opts.Store.WithTx(ctx, store.TxOptions{Isolation: sql.LevelSerializable}, func(tx store.Tx) error {
		entries, err := tx.Tokens().ListByAuthorizationID(ctx, authorizationID)
		if err != nil {
			return err
		}

		for _, entry := range entries {
			if err := ctx.Err(); err != nil {
				return err
			}
			if entry.Status == domain.TokenStatusRevoked {
				continue
			}
			if err := tx.Tokens().SetStatus(ctx, entry.ID, domain.TokenStatusRevoked); err != nil {
				report.Failed++
				errs = multierror.Append(errs, fmt.Errorf("token %s: %w", entry.ID, err))
				continue
			}
			report.Revoked++
		}
		return nil
	})
	if txErr != nil {
		return report, txErr
	}

	return report, errs.ErrorOrNil()
}

// RevokeAuthorization revokes the authorization itself and its whole token
// family in one serializable transaction.
func (e *Engine) RevokeAuthorization(ctx context.Context, authorizationID string) (RevocationReport, error) {
	if e.opts.Store == nil {
		return RevocationReport{}, fmt.Errorf("%w: revocation requires a store", ErrConfiguration)
	}
	if authorizationID == "" {
		return RevocationReport{}, fmt.Errorf("%w: authorization id is required", ErrConfiguration)
	}

	var report RevocationReport
	var errs *multierror.Error

	txErr := e.opts.Store.WithTx(ctx, store.TxOptions{Isolation: sql.LevelSerializable}, func(tx store.Tx) error {
		if err := tx.Authorizations().SetStatus(ctx, authorizationID, domain.AuthorizationStatusRevoked); err != nil {
			return err
		}

		entries, err := tx.Tokens().ListByAuthorizationID(ctx, authorizationID)
		if err != nil {
			return err
		}

		for _, entry := range entries {
			if err := ctx.Err(); err != nil {
				return err
			}
			if entry.Status == domain.TokenStatusRevoked {
				continue
			}
			if err := tx.Tokens().SetStatus(ctx, entry.ID, domain.TokenStatusRevoked); err != nil {
				report.Failed++
				errs = multierror.Append(errs, fmt.Errorf("token %s: %w", entry.ID, err))
				continue
			}
			report.Revoked++
		}
		return nil
	})
	if txErr != nil {
		return report, txErr
	}

	return report, errs.ErrorOrNil()
}

// Redeem marks a token entry redeemed at the current instant. Refresh token
// rotation calls this before minting the replacement.
func (e *Engine) Redeem(ctx context.Context, tokenID string) error {
	if e.opts.Store == nil {
		return fmt.Errorf("%w: redemption requires a store", ErrConfiguration)
	}
	return e.opts.Store.Tokens().SetRedeemed(ctx, tokenID, e.now())
}

// revokeTokenFamily is the best-effort variant used by the replay guard.
// The cascade is defense in depth: its failure must not change the
// accept/reject outcome, so errors are logged and swallowed.
func (e *Engine) revokeTokenFamily(ctx context.Context, authorizationID string) {
	if authorizationID == "" {
		return
	}

	report, err := e.RevokeTokenFamily(ctx, authorizationID)
	log := slogx.FromContext(ctx)
	if err != nil {
		log.Error("token family revocation failed",
			"authorization_id", authorizationID,
			"revoked", report.Revoked,
			"failed", report.Failed,
			"error", err)
		return
	}
	log.Warn("revoked token family after suspected replay",
		"authorization_id", authorizationID,
		"revoked", report.Revoked)
}
