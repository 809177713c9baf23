package security

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSealOpenRoundTrip(t *testing.T) {
	salt, err := NewSalt()
	require.NoError(t, err)
	c, err := NewCipher("hunter2", salt)
	require.NoError(t, err)

	plaintext := []byte(`{"node_id":1,"vector":[1,2,3]}`)
	ciphertext, err := c.Seal(plaintext)
	require.NoError(t, err)
	require.NotEqual(t, plaintext, ciphertext)

	decrypted, err := c.Open(ciphertext)
	require.NoError(t, err)
	require.Equal(t, plaintext, decrypted)
}

func TestOpenFailsWithWrongPassphrase(t *testing.T) {
	salt, err := NewSalt()
	require.NoError(t, err)
	c1, err := NewCipher("correct", salt)
	require.NoError(t, err)
	c2, err := NewCipher("wrong", salt)
	require.NoError(t, err)

	ciphertext, err := c1.Seal([]byte("secret"))
	require.NoError(t, err)

	_, err = c2.Open(ciphertext)
	require.Error(t, err)
}
