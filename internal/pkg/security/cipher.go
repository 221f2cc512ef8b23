package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"

	"github.com/rebooked/marketplace/internal/pkg/env"
)

const encPrefix = "enc:v1:"

var (
	ErrNoKey      = errors.New("encryption key is not configured")
	ErrCiphertext = errors.New("malformed ciphertext")
)

// Cipher encrypts small sensitive values (bank details, addresses) at rest.
// Values are stored as "enc:v1:" + base64(nonce|sealed).
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher derives an AES-256 key from secret with HKDF-SHA256.
func NewCipher(secret string) (*Cipher, error) {
	if secret == "" {
		return nil, ErrNoKey
	}
	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, []byte(secret), nil, []byte("marketplace-sensitive-data"))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Cipher{aead: aead}, nil
}

// NewCipherFromEnv reads BANKING_ENCRYPTION_KEY.
func NewCipherFromEnv() (*Cipher, error) {
	return NewCipher(env.GetEnv("BANKING_ENCRYPTION_KEY", ""))
}

func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return encPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt. Values without the prefix are
// legacy plaintext and are returned unchanged.
func (c *Cipher) Decrypt(value string) (string, error) {
	if !IsEncrypted(value) {
		return value, nil
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, encPrefix))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCiphertext, err)
	}
	ns := c.aead.NonceSize()
	if len(raw) < ns {
		return "", ErrCiphertext
	}
	plain, err := c.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCiphertext, err)
	}
	return string(plain), nil
}

func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, encPrefix)
}

// MaskAccountNumber keeps the last four digits.
func MaskAccountNumber(acct string) string {
	acct = strings.TrimSpace(acct)
	if len(acct) <= 4 {
		return acct
	}
	return strings.Repeat("*", len(acct)-4) + acct[len(acct)-4:]
}
