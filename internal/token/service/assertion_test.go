package service

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/tokenforge/internal/token/domain"
	"github.com/aussiebroadwan/tokenforge/pkg/idx"
)

func registerClient(t *testing.T, engine *Engine, clientID string) ed25519.PrivateKey {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	key, err := jwk.FromRaw(pub)
	require.NoError(t, err)
	require.NoError(t, key.Set(jwk.KeyIDKey, "client-key"))

	set := jwk.NewSet()
	require.NoError(t, set.AddKey(key))

	jwks, err := json.Marshal(set)
	require.NoError(t, err)

	app := domain.Application{
		ID:          idx.New().String(),
		ClientID:    clientID,
		DisplayName: "Test Client",
		JWKS:        string(jwks),
	}
	require.NoError(t, engine.opts.Store.Applications().Create(context.Background(), app))
	return priv
}

func mintAssertion(t *testing.T, key ed25519.PrivateKey, clientID string, exp time.Time) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.GetSigningMethod("EdDSA"), jwt.MapClaims{
		"iss": clientID,
		"sub": clientID,
		"aud": "https://issuer.test",
		"exp": exp.Unix(),
	})
	token.Header["kid"] = "client-key"

	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

func TestClientAssertionValidation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newTestClock()
	st := newTestStore(t)
	engine := newTestEngine(t, st, clock)

	clientKey := registerClient(t, engine, "client-1")

	t.Run("accepts an assertion signed with a published key", func(t *testing.T) {
		assertion := mintAssertion(t, clientKey, "client-1", clock.Now().Add(5*time.Minute))

		validation, err := engine.Validate(ctx, assertion, domain.KindClientAssertion)
		require.NoError(t, err)
		require.True(t, validation.Accepted())
		require.Equal(t, domain.KindClientAssertion, validation.Principal.Kind())
		require.Equal(t, "client-1", validation.Principal.Get(domain.ClaimIssuer))
	})

	t.Run("rejects assertions from unknown clients", func(t *testing.T) {
		assertion := mintAssertion(t, clientKey, "nobody", clock.Now().Add(5*time.Minute))

		validation, err := engine.Validate(ctx, assertion, domain.KindClientAssertion)
		require.NoError(t, err)
		require.False(t, validation.Accepted())
		require.Equal(t, domain.ErrorCodeInvalidClient, validation.Rejection.Code)
	})

	t.Run("rejects assertions signed with the wrong key", func(t *testing.T) {
		_, wrongKey, err := ed25519.GenerateKey(rand.Reader)
		require.NoError(t, err)

		assertion := mintAssertion(t, wrongKey, "client-1", clock.Now().Add(5*time.Minute))

		validation, err := engine.Validate(ctx, assertion, domain.KindClientAssertion)
		require.NoError(t, err)
		require.False(t, validation.Accepted())
		require.Equal(t, domain.ErrorCodeInvalidToken, validation.Rejection.Code)
	})

	t.Run("rejects expired assertions", func(t *testing.T) {
		assertion := mintAssertion(t, clientKey, "client-1", clock.Now().Add(-10*time.Minute))

		validation, err := engine.Validate(ctx, assertion, domain.KindClientAssertion)
		require.NoError(t, err)
		require.False(t, validation.Accepted())
		require.Equal(t, "The specified client assertion is no longer valid.", validation.Rejection.Description)
	})
}
