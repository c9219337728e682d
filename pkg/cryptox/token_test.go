package cryptox

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateToken(t *testing.T) {
	t.Parallel()

	t.Run("tokens are unique and url-safe", func(t *testing.T) {
		a, err := GenerateToken(TokenSize256)
		require.NoError(t, err)
		b, err := GenerateToken(TokenSize256)
		require.NoError(t, err)

		require.NotEqual(t, a, b)
		require.NotContains(t, a, "+")
		require.NotContains(t, a, "/")
		require.NotContains(t, a, "=")
	})

	t.Run("rejects non-positive sizes", func(t *testing.T) {
		_, err := GenerateToken(0)
		require.Error(t, err)
	})
}

func TestRandomString(t *testing.T) {
	t.Parallel()

	const charset = "BCDFGHJKMNPQRSTVWXZ23456789"

	s, err := RandomString(charset, 8)
	require.NoError(t, err)
	require.Len(t, s, 8)
	for _, r := range s {
		require.True(t, strings.ContainsRune(charset, r))
	}

	_, err = RandomString("", 8)
	require.Error(t, err)
	_, err = RandomString(charset, 0)
	require.Error(t, err)
}

func TestFingerprintToken(t *testing.T) {
	t.Parallel()

	a := FingerprintToken("token-a")
	require.Equal(t, a, FingerprintToken("token-a"))
	require.NotEqual(t, a, FingerprintToken("token-b"))
}
