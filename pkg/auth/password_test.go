package auth

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashPasswordWithSalt(t *testing.T) {
	// the salt is appended to the password before hashing
	require.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", HashPasswordWithSalt("ab", "c"))
	require.NotEqual(t, HashPasswordWithSalt("secret", "a"), HashPasswordWithSalt("secret", "b"))
}

func TestGenerateAndVerify(t *testing.T) {
	hash, salt, err := GenerateHashAndSalt("hunter2")
	require.NoError(t, err)
	require.Len(t, salt, 2*saltBytes)

	require.True(t, VerifyPassword("hunter2", salt, hash))
	require.False(t, VerifyPassword("hunter3", salt, hash))
	require.False(t, VerifyPassword("hunter2", "other", hash))
	require.False(t, VerifyPassword("", "", ""))
}

func TestRandomHex(t *testing.T) {
	a, err := RandomHex(8)
	require.NoError(t, err)
	b, err := RandomHex(8)
	require.NoError(t, err)
	require.Len(t, a, 16)
	require.NotEqual(t, a, b)
}
