// Package security implements the optional at-rest encryption for WAL
// record payloads. It is a trimmed adaptation of the example pack's key
// derivation and AEAD pattern (PBKDF2 key derivation, AES-256-GCM sealing),
// scoped to exactly what storage.Cipher needs: nothing about key rotation,
// multiple active keys, or field-level encryption survives, since the
// engine encrypts or doesn't for an entire WAL file at Open time.
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	keyLength  = 32 // AES-256
	saltLength = 16
	iterations = 100_000
)

// Cipher seals and opens WAL payloads with AES-256-GCM, using a key derived
// from a passphrase via PBKDF2-SHA256. It satisfies storage.Cipher.
type Cipher struct {
	gcm cipher.AEAD
}

// NewCipher derives a key from passphrase and salt (salt should be
// persisted alongside the database so the same key can be rederived on
// reopen; barq.Open stores it in the version marker file) and returns a ready
// Cipher.
func NewCipher(passphrase string, salt []byte) (*Cipher, error) {
	key := pbkdf2.Key([]byte(passphrase), salt, iterations, keyLength, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("security: new aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("security: new gcm: %w", err)
	}
	return &Cipher{gcm: gcm}, nil
}

// NewSalt generates a fresh random salt for a new database.
func NewSalt() ([]byte, error) {
	salt := make([]byte, saltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("security: generate salt: %w", err)
	}
	return salt, nil
}

// Seal encrypts plaintext, prefixing the result with a fresh random nonce.
func (c *Cipher) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("security: generate nonce: %w", err)
	}
	return c.gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts a value produced by Seal.
func (c *Cipher) Open(ciphertext []byte) ([]byte, error) {
	size := c.gcm.NonceSize()
	if len(ciphertext) < size {
		return nil, fmt.Errorf("security: ciphertext too short")
	}
	nonce, body := ciphertext[:size], ciphertext[size:]
	plain, err := c.gcm.Open(nil, nonce, body, nil)
	if err != nil {
		return nil, fmt.Errorf("security: authentication failed: %w", err)
	}
	return plain, nil
}
