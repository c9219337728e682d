package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/tokenforge/internal/token/domain"
	"github.com/aussiebroadwan/tokenforge/internal/token/store"
	"github.com/aussiebroadwan/tokenforge/pkg/cryptox"
	"github.com/aussiebroadwan/tokenforge/pkg/idx"
)

func newTestPruner(t *testing.T, st store.Store, clock *testClock) *Pruner {
	t.Helper()

	pruner := NewPruner(st, nil, time.Hour)
	pruner.Now = clock.Now
	return pruner
}

func createToken(t *testing.T, st store.Store, entry domain.TokenEntry) domain.TokenEntry {
	t.Helper()

	if entry.ID == "" {
		entry.ID = idx.New().String()
	}
	entry.ConcurrencyToken = cryptox.MustGenerateToken(cryptox.TokenSize128)
	require.NoError(t, st.Tokens().Create(context.Background(), entry))
	return entry
}

func TestPrune(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newTestClock()
	st := newTestStore(t)
	pruner := newTestPruner(t, st, clock)

	old := clock.Now().Add(-30 * 24 * time.Hour)
	fresh := clock.Now().Add(-time.Hour)

	revoked := createToken(t, st, domain.TokenEntry{
		Kind:      domain.KindRefreshToken,
		Status:    domain.TokenStatusRevoked,
		CreatedAt: old,
	})
	expired := createToken(t, st, domain.TokenEntry{
		Kind:      domain.KindAccessToken,
		Status:    domain.TokenStatusValid,
		CreatedAt: old,
		ExpiresAt: old.Add(time.Hour),
	})
	liveOld := createToken(t, st, domain.TokenEntry{
		Kind:      domain.KindRefreshToken,
		Status:    domain.TokenStatusValid,
		CreatedAt: old,
		ExpiresAt: clock.Now().Add(24 * time.Hour),
	})
	recentRevoked := createToken(t, st, domain.TokenEntry{
		Kind:      domain.KindRefreshToken,
		Status:    domain.TokenStatusRevoked,
		CreatedAt: fresh,
	})

	report, err := pruner.Prune(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, report.TokensDeleted)
	require.Zero(t, report.Failed)

	_, err = st.Tokens().FindByID(ctx, revoked.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = st.Tokens().FindByID(ctx, expired.ID)
	require.ErrorIs(t, err, store.ErrNotFound)

	// Valid unexpired entries and recent entries survive regardless of age.
	_, err = st.Tokens().FindByID(ctx, liveOld.ID)
	require.NoError(t, err)
	_, err = st.Tokens().FindByID(ctx, recentRevoked.ID)
	require.NoError(t, err)
}

func TestPruneAuthorizations(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newTestClock()
	st := newTestStore(t)
	pruner := newTestPruner(t, st, clock)

	old := clock.Now().Add(-30 * 24 * time.Hour)

	newAuthz := func(status domain.AuthorizationStatus, adHoc bool) string {
		authz := domain.AuthorizationEntry{
			ID:               idx.New().String(),
			Subject:          "alice",
			Status:           status,
			AdHoc:            adHoc,
			CreatedAt:        old,
			ConcurrencyToken: cryptox.MustGenerateToken(cryptox.TokenSize128),
		}
		require.NoError(t, st.Authorizations().Create(ctx, authz))
		return authz.ID
	}

	revokedAuthz := newAuthz(domain.AuthorizationStatusRevoked, false)
	emptyAdHoc := newAuthz(domain.AuthorizationStatusValid, true)
	backedAdHoc := newAuthz(domain.AuthorizationStatusValid, true)
	permanent := newAuthz(domain.AuthorizationStatusValid, false)

	backing := createToken(t, st, domain.TokenEntry{
		Kind:            domain.KindRefreshToken,
		Status:          domain.TokenStatusValid,
		AuthorizationID: backedAdHoc,
		CreatedAt:       clock.Now(),
		ExpiresAt:       clock.Now().Add(24 * time.Hour),
	})

	report, err := pruner.Prune(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, report.AuthorizationsDeleted)

	_, err = st.Authorizations().FindByID(ctx, revokedAuthz)
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = st.Authorizations().FindByID(ctx, emptyAdHoc)
	require.ErrorIs(t, err, store.ErrNotFound)

	// Ad-hoc authorizations with live tokens and permanent grants survive.
	_, err = st.Authorizations().FindByID(ctx, backedAdHoc)
	require.NoError(t, err)
	_, err = st.Authorizations().FindByID(ctx, permanent)
	require.NoError(t, err)

	// Once the last live token dies the ad-hoc authorization goes too.
	require.NoError(t, st.Tokens().SetStatus(ctx, backing.ID, domain.TokenStatusRevoked))

	report, err = pruner.Prune(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.AuthorizationsDeleted)

	_, err = st.Authorizations().FindByID(ctx, backedAdHoc)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestPruneBatchCap(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newTestClock()
	st := newTestStore(t)
	pruner := newTestPruner(t, st, clock)
	pruner.BatchSize = 3

	old := clock.Now().Add(-30 * 24 * time.Hour)
	for i := 0; i < 5; i++ {
		createToken(t, st, domain.TokenEntry{
			Kind:      domain.KindAccessToken,
			Status:    domain.TokenStatusRevoked,
			CreatedAt: old,
		})
	}

	report, err := pruner.Prune(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, report.TokensDeleted)

	report, err = pruner.Prune(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, report.TokensDeleted)
}

func TestPruneCancellation(t *testing.T) {
	t.Parallel()

	clock := newTestClock()
	st := newTestStore(t)
	pruner := newTestPruner(t, st, clock)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := pruner.Prune(ctx)
	require.Error(t, err)
}
