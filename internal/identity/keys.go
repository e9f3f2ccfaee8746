// Package identity manages the per-machine data key that protects the
// activity store at rest.
package identity

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/quantumlife/worktrail/internal/core"
)

// KeySize is the size of the data key in bytes.
const KeySize = chacha20poly1305.KeySize

// Argon2id parameters for machine-derived keys.
const (
	argonTime    = 3
	argonMemory  = 64 * 1024
	argonThreads = 4
)

// GenerateKey returns a fresh random data key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate data key: %w", err)
	}
	return key, nil
}

// DeriveKey stretches secret material into a data key with Argon2id.
func DeriveKey(secret, salt []byte) []byte {
	return argon2.IDKey(secret, salt, argonTime, argonMemory, argonThreads, KeySize)
}

// Cipher seals and opens store values with XChaCha20-Poly1305.
// The nonce is prepended to each ciphertext.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher creates a cipher from a 32-byte data key.
func NewCipher(key []byte) (*Cipher, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Seal encrypts plaintext. additional binds the ciphertext to a context such
// as the store key it is written under.
func (c *Cipher) Seal(plaintext, additional []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plaintext)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, plaintext, additional), nil
}

// Open decrypts data produced by Seal.
func (c *Cipher) Open(data, additional []byte) ([]byte, error) {
	if len(data) < c.aead.NonceSize()+c.aead.Overhead() {
		return nil, fmt.Errorf("%w: ciphertext too short", core.ErrDecryption)
	}
	nonce := data[:c.aead.NonceSize()]
	plaintext, err := c.aead.Open(nil, nonce, data[c.aead.NonceSize():], additional)
	if err != nil {
		return nil, errors.Join(core.ErrDecryption, err)
	}
	return plaintext, nil
}
