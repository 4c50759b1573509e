// Package encryption provides per-owner field encryption for values stored at
// rest, such as document titles and summaries.
//
// Callers always pass the owning space's owner id as the key scope, never the
// identity of whoever triggered the write.
package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hkdf"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// Prefix marks a value produced by AESEncrypter.
const Prefix = "enc:v1:"

// ErrMissingOwnerKey is returned when an owner key is required but empty.
var ErrMissingOwnerKey = errors.New("owner key is required")

// Encrypter encrypts and decrypts string fields scoped to an owner.
//
// Encrypt is idempotent on already-encrypted input and passes empty input
// through. Decrypt passes plaintext through unchanged.
type Encrypter interface {
	Encrypt(plaintext, ownerKey string) (string, error)
	Decrypt(ciphertext, ownerKey string) (string, error)
	IsEncrypted(s string) bool
}

// AESEncrypter encrypts with AES-256-GCM using a key derived per owner from a
// master secret.
type AESEncrypter struct {
	master []byte
}

// NewAESEncrypter returns an encrypter for the given master secret.
func NewAESEncrypter(secret string) (*AESEncrypter, error) {
	if len(secret) < 16 {
		return nil, fmt.Errorf("encryption secret must be at least 16 bytes, got %d", len(secret))
	}
	return &AESEncrypter{master: []byte(secret)}, nil
}

// IsEncrypted reports whether s carries the ciphertext prefix.
func (e *AESEncrypter) IsEncrypted(s string) bool {
	return strings.HasPrefix(s, Prefix)
}

// Encrypt seals plaintext under the owner's key.
func (e *AESEncrypter) Encrypt(plaintext, ownerKey string) (string, error) {
	if plaintext == "" || e.IsEncrypted(plaintext) {
		return plaintext, nil
	}

	aead, err := e.aead(ownerKey)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, []byte(plaintext), []byte(ownerKey))
	return Prefix + base64.RawStdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt for the same owner.
func (e *AESEncrypter) Decrypt(ciphertext, ownerKey string) (string, error) {
	if !e.IsEncrypted(ciphertext) {
		return ciphertext, nil
	}

	raw, err := base64.RawStdEncoding.DecodeString(strings.TrimPrefix(ciphertext, Prefix))
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}

	aead, err := e.aead(ownerKey)
	if err != nil {
		return "", err
	}
	if len(raw) < aead.NonceSize() {
		return "", errors.New("ciphertext too short")
	}

	nonce, sealed := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, sealed, []byte(ownerKey))
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}
	return string(plain), nil
}

func (e *AESEncrypter) aead(ownerKey string) (cipher.AEAD, error) {
	if ownerKey == "" {
		return nil, ErrMissingOwnerKey
	}

	key, err := hkdf.Key(sha256.New, e.master, nil, "recollect/owner/"+ownerKey, 32)
	if err != nil {
		return nil, fmt.Errorf("failed to derive owner key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// Noop stores values as plaintext. It is used when no master secret is
// configured.
type Noop struct{}

// Encrypt returns plaintext unchanged.
func (Noop) Encrypt(plaintext, _ string) (string, error) { return plaintext, nil }

// Decrypt returns ciphertext unchanged.
func (Noop) Decrypt(ciphertext, _ string) (string, error) { return ciphertext, nil }

// IsEncrypted reports whether s carries the ciphertext prefix.
func (Noop) IsEncrypted(s string) bool { return strings.HasPrefix(s, Prefix) }

// New returns an AESEncrypter for secret, or Noop when secret is empty.
func New(secret string) (Encrypter, error) {
	if secret == "" {
		return Noop{}, nil
	}
	return NewAESEncrypter(secret)
}
