package sqlite

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/tokenforge/internal/token/domain"
	"github.com/aussiebroadwan/tokenforge/internal/token/store"
	"github.com/aussiebroadwan/tokenforge/pkg/cryptox"
	"github.com/aussiebroadwan/tokenforge/pkg/idx"
)

func newStore(t *testing.T) *Store {
	t.Helper()

	st, err := NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	require.NoError(t, st.ApplyMigrations())
	return st
}

func newEntry(kind domain.Kind, status domain.TokenStatus) domain.TokenEntry {
	return domain.TokenEntry{
		ID:               idx.New().String(),
		Kind:             kind,
		Status:           status,
		Subject:          "alice",
		CreatedAt:        time.Now().UTC(),
		ConcurrencyToken: cryptox.MustGenerateToken(cryptox.TokenSize128),
	}
}

func TestTokensCRUD(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := newStore(t)

	entry := newEntry(domain.KindRefreshToken, domain.TokenStatusValid)
	entry.ExpiresAt = time.Now().Add(time.Hour).UTC()
	require.NoError(t, st.Tokens().Create(ctx, entry))

	t.Run("find by id round-trips", func(t *testing.T) {
		got, err := st.Tokens().FindByID(ctx, entry.ID)
		require.NoError(t, err)
		require.Equal(t, entry.ID, got.ID)
		require.Equal(t, domain.KindRefreshToken, got.Kind)
		require.Equal(t, domain.TokenStatusValid, got.Status)
		require.Equal(t, "alice", got.Subject)
		require.False(t, got.ExpiresAt.IsZero())
		require.Nil(t, got.RedeemedAt)
	})

	t.Run("missing ids yield not found", func(t *testing.T) {
		_, err := st.Tokens().FindByID(ctx, "missing")
		require.ErrorIs(t, err, store.ErrNotFound)

		_, err = st.Tokens().FindByReferenceID(ctx, "missing")
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("redeem stamps the instant", func(t *testing.T) {
		at := time.Now().UTC()
		require.NoError(t, st.Tokens().SetRedeemed(ctx, entry.ID, at))

		got, err := st.Tokens().FindByID(ctx, entry.ID)
		require.NoError(t, err)
		require.Equal(t, domain.TokenStatusRedeemed, got.Status)
		require.NotNil(t, got.RedeemedAt)
	})

	t.Run("delete removes the row", func(t *testing.T) {
		require.NoError(t, st.Tokens().Delete(ctx, entry.ID))
		_, err := st.Tokens().FindByID(ctx, entry.ID)
		require.ErrorIs(t, err, store.ErrNotFound)

		require.ErrorIs(t, st.Tokens().Delete(ctx, entry.ID), store.ErrNotFound)
	})
}

func TestTokensOptimisticConcurrency(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := newStore(t)

	entry := newEntry(domain.KindAccessToken, domain.TokenStatusValid)
	require.NoError(t, st.Tokens().Create(ctx, entry))

	// First writer wins and rotates the concurrency token.
	first := entry
	first.Payload = "payload-1"
	require.NoError(t, st.Tokens().Update(ctx, first))

	// Second writer still holds the original token and must fail.
	second := entry
	second.Payload = "payload-2"
	require.ErrorIs(t, st.Tokens().Update(ctx, second), store.ErrConcurrency)

	// A fresh read picks up the rotated token and can write again.
	got, err := st.Tokens().FindByID(ctx, entry.ID)
	require.NoError(t, err)
	require.Equal(t, "payload-1", got.Payload)
	require.NotEqual(t, entry.ConcurrencyToken, got.ConcurrencyToken)

	got.Payload = "payload-3"
	require.NoError(t, st.Tokens().Update(ctx, got))

	t.Run("vanished rows are not found", func(t *testing.T) {
		ghost := newEntry(domain.KindAccessToken, domain.TokenStatusValid)
		require.ErrorIs(t, st.Tokens().Update(ctx, ghost), store.ErrNotFound)
	})
}

func TestTokensReferenceUniqueness(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := newStore(t)

	first := newEntry(domain.KindDeviceCode, domain.TokenStatusInactive)
	first.ReferenceID = "shared-reference"
	require.NoError(t, st.Tokens().Create(ctx, first))

	second := newEntry(domain.KindUserCode, domain.TokenStatusValid)
	second.ReferenceID = "shared-reference"
	require.ErrorIs(t, st.Tokens().Create(ctx, second), store.ErrDuplicateReference)

	t.Run("resolves back to the owning entry", func(t *testing.T) {
		got, err := st.Tokens().FindByReferenceID(ctx, "shared-reference")
		require.NoError(t, err)
		require.Equal(t, first.ID, got.ID)
	})
}

func TestTokensFamilyQueries(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := newStore(t)

	authz := domain.AuthorizationEntry{
		ID:               idx.New().String(),
		Subject:          "alice",
		Status:           domain.AuthorizationStatusValid,
		CreatedAt:        time.Now().UTC(),
		ConcurrencyToken: cryptox.MustGenerateToken(cryptox.TokenSize128),
	}
	require.NoError(t, st.Authorizations().Create(ctx, authz))

	live := newEntry(domain.KindRefreshToken, domain.TokenStatusValid)
	live.AuthorizationID = authz.ID
	live.ExpiresAt = time.Now().Add(time.Hour).UTC()
	require.NoError(t, st.Tokens().Create(ctx, live))

	revoked := newEntry(domain.KindAccessToken, domain.TokenStatusRevoked)
	revoked.AuthorizationID = authz.ID
	require.NoError(t, st.Tokens().Create(ctx, revoked))

	t.Run("lists the whole family", func(t *testing.T) {
		entries, err := st.Tokens().ListByAuthorizationID(ctx, authz.ID)
		require.NoError(t, err)
		require.Len(t, entries, 2)
	})

	t.Run("reports live tokens", func(t *testing.T) {
		has, err := st.Tokens().HasLiveTokens(ctx, authz.ID, time.Now().UTC())
		require.NoError(t, err)
		require.True(t, has)

		require.NoError(t, st.Tokens().SetStatus(ctx, live.ID, domain.TokenStatusRevoked))

		has, err = st.Tokens().HasLiveTokens(ctx, authz.ID, time.Now().UTC())
		require.NoError(t, err)
		require.False(t, has)
	})
}

func TestWithTxCommitAndRollback(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := newStore(t)

	t.Run("commit persists writes", func(t *testing.T) {
		entry := newEntry(domain.KindAccessToken, domain.TokenStatusValid)
		err := st.WithTx(ctx, store.TxOptions{Isolation: sql.LevelSerializable}, func(tx store.Tx) error {
			return tx.Tokens().Create(ctx, entry)
		})
		require.NoError(t, err)

		_, err = st.Tokens().FindByID(ctx, entry.ID)
		require.NoError(t, err)
	})

	t.Run("error rolls back", func(t *testing.T) {
		entry := newEntry(domain.KindAccessToken, domain.TokenStatusValid)
		err := st.WithTx(ctx, store.TxOptions{}, func(tx store.Tx) error {
			if err := tx.Tokens().Create(ctx, entry); err != nil {
				return err
			}
			return sql.ErrConnDone
		})
		require.ErrorIs(t, err, sql.ErrConnDone)

		_, err = st.Tokens().FindByID(ctx, entry.ID)
		require.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestApplications(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := newStore(t)

	app := domain.Application{
		ID:          idx.New().String(),
		ClientID:    "client-1",
		DisplayName: "Test Client",
		JWKS:        `{"keys":[]}`,
	}
	require.NoError(t, st.Applications().Create(ctx, app))

	got, err := st.Applications().FindByClientID(ctx, "client-1")
	require.NoError(t, err)
	require.Equal(t, app.ID, got.ID)
	require.Equal(t, `{"keys":[]}`, got.JWKS)

	_, err = st.Applications().FindByClientID(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)

	dup := app
	dup.ID = idx.New().String()
	require.ErrorIs(t, st.Applications().Create(ctx, dup), store.ErrAlreadyExists)
}
