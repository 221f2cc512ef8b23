package security

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCipherRoundTrip(t *testing.T) {
	c, err := NewCipher("test-secret")
	require.NoError(t, err)

	enc, err := c.Encrypt("0123456789")
	require.NoError(t, err)
	assert.True(t, IsEncrypted(enc))
	assert.NotContains(t, enc, "0123456789")

	plain, err := c.Decrypt(enc)
	require.NoError(t, err)
	assert.Equal(t, "0123456789", plain)
}

func TestCipherNonceIsRandom(t *testing.T) {
	c, err := NewCipher("test-secret")
	require.NoError(t, err)
	a, _ := c.Encrypt("same")
	b, _ := c.Encrypt("same")
	assert.NotEqual(t, a, b)
}

func TestCipherPlaintextPassthrough(t *testing.T) {
	c, err := NewCipher("test-secret")
	require.NoError(t, err)
	plain, err := c.Decrypt("250655")
	require.NoError(t, err)
	assert.Equal(t, "250655", plain)
}

func TestCipherWrongKey(t *testing.T) {
	a, _ := NewCipher("key-a")
	b, _ := NewCipher("key-b")
	enc, err := a.Encrypt("secret")
	require.NoError(t, err)

	_, err = b.Decrypt(enc)
	assert.True(t, errors.Is(err, ErrCiphertext))
}

func TestCipherCorrupted(t *testing.T) {
	c, _ := NewCipher("k")
	_, err := c.Decrypt(encPrefix + "!!!not-base64")
	assert.True(t, errors.Is(err, ErrCiphertext))
	_, err = c.Decrypt(encPrefix + "AAAA")
	assert.True(t, errors.Is(err, ErrCiphertext))
}

func TestNewCipherRequiresKey(t *testing.T) {
	_, err := NewCipher("")
	assert.ErrorIs(t, err, ErrNoKey)
}

func TestMaskAccountNumber(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"1234567890", "******7890"},
		{"1234", "1234"},
		{"12", "12"},
		{" 9876543 ", "***6543"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MaskAccountNumber(tt.in), tt.in)
	}
}
