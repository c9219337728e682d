package service

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/time/rate"

	"github.com/aussiebroadwan/tokenforge/internal/token/store"
)

// Pruner periodically deletes expired and terminal token entries, and the
// orphaned ad-hoc authorizations left behind, to prevent unbounded growth of
// the token tables.
type Pruner struct {
	Store    store.Store
	Logger   *slog.Logger
	Interval time.Duration

	// Threshold is the minimum age before an entry becomes prunable.
	// Keeping recently expired entries around preserves replay detection
	// for tokens still in flight.
	Threshold time.Duration

	// BatchSize caps how many entries one pass removes per table.
	BatchSize int

	// Limiter paces deletions so a large backlog cannot monopolize the
	// database.
	Limiter *rate.Limiter

	// Now is the clock source. Defaults to time.Now.
	Now func() time.Time

	// Internal channels for lifecycle management
	stopCh chan struct{}
	doneCh chan struct{}
}

// Pruner defaults applied by NewPruner.
const (
	DefaultPruneInterval  = 1 * time.Hour
	DefaultPruneThreshold = 14 * 24 * time.Hour
	DefaultPruneBatchSize = 1000
)

// NewPruner creates a pruner with the given interval. Zero or negative
// settings fall back to defaults.
func NewPruner(st store.Store, logger *slog.Logger, interval time.Duration) *Pruner {
	if interval <= 0 {
		interval = DefaultPruneInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Pruner{
		Store:     st,
		Logger:    logger,
		Interval:  interval,
		Threshold: DefaultPruneThreshold,
		BatchSize: DefaultPruneBatchSize,
		Limiter:   rate.NewLimiter(rate.Limit(200), 50),
		Now:       time.Now,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start begins the background worker that periodically prunes.
// This is non-blocking and should be called after the database is ready.
// Call Stop() to gracefully shutdown the worker.
func (p *Pruner) Start() {
	go p.run()
	p.Logger.Info("token pruner started", "interval", p.Interval, "threshold", p.Threshold)
}

// Stop gracefully shuts down the background worker.
// Blocks until the worker has finished any in-progress pass.
func (p *Pruner) Stop() {
	close(p.stopCh)
	<-p.doneCh
	p.Logger.Info("token pruner stopped")
}

// run is the main background worker loop.
func (p *Pruner) run() {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	// Run a pass immediately on startup
	p.pass()

	for {
		select {
		case <-ticker.C:
			p.pass()
		case <-p.stopCh:
			return
		}
	}
}

func (p *Pruner) pass() {
	ctx := context.Background()
	report, err := p.Prune(ctx)
	if err != nil {
		p.Logger.Error("prune pass failed",
			"tokens_deleted", report.TokensDeleted,
			"authorizations_deleted", report.AuthorizationsDeleted,
			"error", err)
		return
	}
	p.Logger.Info("prune pass completed",
		"tokens_deleted", report.TokensDeleted,
		"authorizations_deleted", report.AuthorizationsDeleted)
}

// PruneReport summarizes one prune pass.
type PruneReport struct {
	TokensDeleted         int
	AuthorizationsDeleted int
	Failed                int
}

// Prune removes one batch of expired or terminal token entries and orphaned
// ad-hoc authorizations. The pass runs at repeatable-read isolation: the
// candidate list stays stable for the pass, and the narrow window where a
// token attaches to an authorization after the candidate read is accepted
// as a trade-off against serializing every issuance against the pruner.
func (p *Pruner) Prune(ctx context.Context) (PruneReport, error) {
	if p.Store == nil {
		return PruneReport{}, fmt.Errorf("%w: pruning requires a store", ErrConfiguration)
	}

	olderThan := p.Now().Add(-p.Threshold)

	var report PruneReport
	var errs *multierror.Error

	txErr := p.Store.WithTx(ctx, store.TxOptions{Isolation: sql.LevelRepeatableRead}, func(tx store.Tx) error {
		tokenIDs, err := tx.Tokens().ListPrunable(ctx, olderThan, p.BatchSize)
		if err != nil {
			return err
		}
		for _, id := range tokenIDs {
			if err := p.pace(ctx); err != nil {
				return err
			}
			if err := tx.Tokens().Delete(ctx, id); err != nil {
				report.Failed++
				errs = multierror.Append(errs, fmt.Errorf("token %s: %w", id, err))
				continue
			}
			report.TokensDeleted++
		}

		authzIDs, err := tx.Authorizations().ListPrunable(ctx, olderThan, p.BatchSize)
		if err != nil {
			return err
		}
		for _, id := range authzIDs {
			if err := p.pace(ctx); err != nil {
				return err
			}
			// An old candidate can still back a live token family.
			live, err := tx.Tokens().HasLiveTokens(ctx, id, p.Now())
			if err != nil {
				report.Failed++
				errs = multierror.Append(errs, fmt.Errorf("authorization %s: %w", id, err))
				continue
			}
			if live {
				continue
			}
			if err := tx.Authorizations().Delete(ctx, id); err != nil {
				report.Failed++
				errs = multierror.Append(errs, fmt.Errorf("authorization %s: %w", id, err))
				continue
			}
			report.AuthorizationsDeleted++
		}
		return nil
	})
	if txErr != nil {
		return report, txErr
	}

	return report, errs.ErrorOrNil()
}

func (p *Pruner) pace(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.Limiter == nil {
		return nil
	}
	return p.Limiter.Wait(ctx)
}
