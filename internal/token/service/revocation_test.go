package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/tokenforge/internal/token/domain"
)

func TestRevokeTokenFamily(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newTestClock()
	st := newTestStore(t)
	engine := newTestEngine(t, st, clock)

	authzID := createAuthorization(t, st, clock)

	var entryIDs []string
	for i := 0; i < 3; i++ {
		principal := domain.NewPrincipal()
		principal.Set(domain.ClaimSubject, "alice")
		principal.SetAuthorizationID(authzID)
		principal.SetExpirationDate(clock.Now().Add(time.Hour))

		result, err := engine.Generate(ctx, domain.KindRefreshToken, principal)
		require.NoError(t, err)
		entryIDs = append(entryIDs, result.EntryID)
	}

	// Pre-revoke one entry; the sweep must skip it.
	require.NoError(t, st.Tokens().SetStatus(ctx, entryIDs[0], domain.TokenStatusRevoked))

	report, err := engine.RevokeTokenFamily(ctx, authzID)
	require.NoError(t, err)
	require.Equal(t, 2, report.Revoked)
	require.Zero(t, report.Failed)

	for _, id := range entryIDs {
		entry, err := st.Tokens().FindByID(ctx, id)
		require.NoError(t, err)
		require.Equal(t, domain.TokenStatusRevoked, entry.Status)
	}

	t.Run("requires an authorization id", func(t *testing.T) {
		_, err := engine.RevokeTokenFamily(ctx, "")
		require.ErrorIs(t, err, ErrConfiguration)
	})

	t.Run("empty family revokes nothing", func(t *testing.T) {
		other := createAuthorization(t, st, clock)
		report, err := engine.RevokeTokenFamily(ctx, other)
		require.NoError(t, err)
		require.Zero(t, report.Revoked)
	})
}

func TestRevokeAuthorization(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newTestClock()
	st := newTestStore(t)
	engine := newTestEngine(t, st, clock)

	authzID := createAuthorization(t, st, clock)

	principal := domain.NewPrincipal()
	principal.Set(domain.ClaimSubject, "alice")
	principal.SetAuthorizationID(authzID)
	principal.SetExpirationDate(clock.Now().Add(time.Hour))

	result, err := engine.Generate(ctx, domain.KindRefreshToken, principal)
	require.NoError(t, err)

	report, err := engine.RevokeAuthorization(ctx, authzID)
	require.NoError(t, err)
	require.Equal(t, 1, report.Revoked)

	authz, err := st.Authorizations().FindByID(ctx, authzID)
	require.NoError(t, err)
	require.Equal(t, domain.AuthorizationStatusRevoked, authz.Status)

	entry, err := st.Tokens().FindByID(ctx, result.EntryID)
	require.NoError(t, err)
	require.Equal(t, domain.TokenStatusRevoked, entry.Status)
}
