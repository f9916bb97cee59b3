package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHasherByName(t *testing.T) {
	for _, name := range []string{"", "keccak256", " KECCAK256 "} {
		h, err := HasherByName(name)
		require.NoError(t, err, name)
		require.Equal(t, HasherKeccak256, h.Name())
	}
	h, err := HasherByName("Blake3")
	require.NoError(t, err)
	require.Equal(t, HasherBlake3, h.Name())

	for _, name := range []string{"sha256", "blake2b", "keccak"} {
		_, err := HasherByName(name)
		require.Error(t, err, name)
		require.Contains(t, err.Error(), "unsupported hasher")
	}
}

func TestHashersDisagree(t *testing.T) {
	secret := []byte("s3cr3t")
	keccak, blake := Keccak256().Sum(secret), Blake3().Sum(secret)
	require.NotEqual(t, keccak, blake)
	require.NotEqual(t, [32]byte{}, keccak)

	// Sum over several parts hashes their concatenation.
	require.Equal(t, Keccak256().Sum([]byte("s3c"), []byte("r3t")), keccak)
	require.Equal(t, Blake3().Sum([]byte("s3"), []byte("cr3t")), blake)
}
