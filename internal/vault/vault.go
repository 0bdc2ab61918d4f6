// Package vault encrypts connector credentials at rest with AES-256-GCM.
// The key is process-wide, environment-provided, and never persisted next
// to the data it protects.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

// KeySize is the required AES-256 key length in bytes.
const KeySize = 32

var (
	// ErrInvalidKey indicates the supplied key is not 32 bytes.
	ErrInvalidKey = errors.New("vault: key must be 32 bytes")
	// ErrDecrypt indicates a tampered blob or wrong key. Decryption fails
	// closed: no partial or garbled payload is ever returned.
	ErrDecrypt = errors.New("vault: decryption failed")
)

// Vault performs authenticated symmetric encryption of credentials.
type Vault struct {
	aead cipher.AEAD
}

// New builds a vault around a raw 32-byte key.
func New(key []byte) (*Vault, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: init gcm: %w", err)
	}
	return &Vault{aead: aead}, nil
}

// NewFromHex builds a vault from a hex-encoded key, the form the key takes
// in configuration.
func NewFromHex(encoded string) (*Vault, error) {
	key, err := hex.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("vault: decode key: %w", err)
	}
	return New(key)
}

// Encrypt serializes and seals credentials. Every call draws a fresh random
// nonce which is prepended to the ciphertext.
func (v *Vault) Encrypt(c Credentials) ([]byte, error) {
	plaintext, err := marshalCredentials(c)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("vault: generate nonce: %w", err)
	}

	return v.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt splits the nonce back off the blob and opens it. Any tamper or
// wrong-key condition returns ErrDecrypt.
func (v *Vault) Decrypt(blob []byte) (Credentials, error) {
	nonceSize := v.aead.NonceSize()
	if len(blob) < nonceSize+1 {
		return nil, ErrDecrypt
	}

	nonce, ciphertext := blob[:nonceSize], blob[nonceSize:]
	plaintext, err := v.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecrypt
	}

	return unmarshalCredentials(plaintext)
}
