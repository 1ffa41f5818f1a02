package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPasswordRoundTrip(t *testing.T) {
	hash, err := HashPassword("s3cret-pass")
	require.NoError(t, err)
	require.NotEqual(t, "s3cret-pass", hash)

	require.True(t, VerifyPassword(hash, "s3cret-pass"))
	require.False(t, VerifyPassword(hash, "wrong"))
}

func TestAnswerHashIsCaseSensitive(t *testing.T) {
	hash, err := HashAnswer("Fluffy")
	require.NoError(t, err)

	require.True(t, VerifyAnswer(hash, "Fluffy"))
	require.False(t, VerifyAnswer(hash, "fluffy"))
	require.False(t, VerifyAnswer(hash, " Fluffy"))
}

func TestGenerateTokenLengthAndUniqueness(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 32; i++ {
		token, err := GenerateToken(32)
		require.NoError(t, err)
		require.NotEmpty(t, token)

		_, dup := seen[token]
		require.False(t, dup, "token collision")
		seen[token] = struct{}{}
	}
}

func TestTokenDigestStable(t *testing.T) {
	a := TokenDigest("token-a")
	require.Equal(t, a, TokenDigest("token-a"))
	require.NotEqual(t, a, TokenDigest("token-b"))
	require.Len(t, a, 64)
}
