package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPrincipalClaims(t *testing.T) {
	t.Parallel()

	t.Run("repeated claims preserve insertion order", func(t *testing.T) {
		p := NewPrincipal()
		p.Add(ClaimScope, "read")
		p.Add(ClaimScope, "write")

		require.Equal(t, []string{"read", "write"}, p.GetAll(ClaimScope))
		require.Equal(t, "read", p.Get(ClaimScope))
	})

	t.Run("set replaces all claims of a type", func(t *testing.T) {
		p := NewPrincipal()
		p.Add(ClaimScope, "read")
		p.Add(ClaimScope, "write")
		p.Set(ClaimScope, "read write")

		require.Equal(t, []string{"read write"}, p.GetAll(ClaimScope))
	})

	t.Run("numeric values stringify losslessly", func(t *testing.T) {
		p := NewPrincipal()
		p.Add(ClaimIssuedAt, float64(1735689600))

		require.Equal(t, "1735689600", p.Get(ClaimIssuedAt))
	})

	t.Run("destinations gate claim visibility", func(t *testing.T) {
		c := Claim{Type: "email", Value: "a@b.c", Destinations: []string{DestinationIDToken}}
		require.True(t, c.HasDestination(DestinationIDToken))
		require.False(t, c.HasDestination(DestinationAccessToken))

		private := Claim{Type: "secret", Value: "x"}
		require.False(t, private.HasDestination(DestinationAccessToken))
	})
}

func TestPrincipalInternalAccessors(t *testing.T) {
	t.Parallel()

	t.Run("dates round-trip at nanosecond precision", func(t *testing.T) {
		p := NewPrincipal()
		created := time.Date(2026, 3, 1, 12, 30, 45, 123456789, time.UTC)

		p.SetCreationDate(created)
		require.True(t, p.CreationDate().Equal(created))

		require.True(t, p.ExpirationDate().IsZero())
	})

	t.Run("kind round-trips through its name", func(t *testing.T) {
		p := NewPrincipal()
		p.SetKind(KindRefreshToken)
		require.Equal(t, KindRefreshToken, p.Kind())
	})

	t.Run("list accessors replace wholesale", func(t *testing.T) {
		p := NewPrincipal()
		p.SetAudiences("api", "web")
		p.SetAudiences("api")

		require.Equal(t, []string{"api"}, p.Audiences())
	})
}

func TestKindPolicies(t *testing.T) {
	t.Parallel()

	t.Run("tags accept the prefixed spelling", func(t *testing.T) {
		require.True(t, KindAccessToken.AcceptsTag("at+jwt"))
		require.True(t, KindAccessToken.AcceptsTag("application/at+jwt"))
		require.False(t, KindAccessToken.AcceptsTag("rt+jwt"))
	})

	t.Run("identity tokens accept both jwt spellings", func(t *testing.T) {
		require.True(t, KindIDToken.AcceptsTag("jwt"))
		require.True(t, KindIDToken.AcceptsTag("JWT"))
		require.False(t, KindIDToken.AcceptsTag("at+jwt"))
	})

	t.Run("client assertions accept any tag", func(t *testing.T) {
		require.True(t, KindClientAssertion.AcceptsTag("anything"))
	})

	t.Run("rejections carry kind-specific codes", func(t *testing.T) {
		require.Equal(t, ErrorCodeInvalidToken, KindAccessToken.InvalidRejection().Code)
		require.Equal(t, ErrorCodeInvalidGrant, KindAuthorizationCode.InvalidRejection().Code)
		require.Equal(t, "The specified authorization code is no longer valid.",
			KindAuthorizationCode.ExpiredRejection().Description)
	})

	t.Run("names round-trip", func(t *testing.T) {
		for _, k := range []Kind{
			KindAccessToken, KindIDToken, KindAuthorizationCode,
			KindDeviceCode, KindRefreshToken, KindUserCode, KindClientAssertion,
		} {
			require.Equal(t, k, KindFromName(k.String()))
		}
		require.Equal(t, KindUnknown, KindFromName("bogus"))
	})
}
