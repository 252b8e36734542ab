package storage

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	// passphraseSalt and passphraseInfo bind derived keys to this application
	passphraseSalt = "llm_keypool"
	passphraseInfo = "credential-secret-ref"
)

// Codec seals credential secrets into secret references and opens them again.
// A reference is base64(nonce || AES-GCM ciphertext).
type Codec struct {
	aead cipher.AEAD
}

// NewCodec creates a codec with the given key.
// The key should be 16, 24, or 32 bytes for AES-128, AES-192, or AES-256.
func NewCodec(key []byte) (*Codec, error) {
	if len(key) != 16 && len(key) != 24 && len(key) != 32 {
		return nil, fmt.Errorf("invalid key size: must be 16, 24, or 32 bytes, got %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Codec{aead: aead}, nil
}

// NewCodecFromBase64 creates a codec from a base64-encoded key
func NewCodecFromBase64(encodedKey string) (*Codec, error) {
	if encodedKey == "" {
		return nil, fmt.Errorf("encryption key cannot be empty")
	}

	key, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64 key: %w", err)
	}

	return NewCodec(key)
}

// NewCodecFromPassphrase derives an AES-256 key from a passphrase with HKDF-SHA256
func NewCodecFromPassphrase(passphrase string) (*Codec, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("encryption passphrase cannot be empty")
	}

	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, []byte(passphrase), []byte(passphraseSalt), []byte(passphraseInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}

	return NewCodec(key)
}

// GenerateKey generates a random key of the given size, base64 encoded for
// storage in an environment variable
func GenerateKey(keySize int) (string, error) {
	if keySize != 16 && keySize != 24 && keySize != 32 {
		return "", fmt.Errorf("invalid key size: must be 16, 24, or 32 bytes")
	}

	key := make([]byte, keySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("failed to generate random key: %w", err)
	}

	return base64.StdEncoding.EncodeToString(key), nil
}

// Seal encrypts a plaintext secret into a secret reference
func (c *Codec) Seal(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a secret reference. Any corrupt input yields ErrMalformedSecret.
func (c *Codec) Decrypt(ref string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ref)
	if err != nil {
		return "", fmt.Errorf("%w: failed to decode base64: %w", ErrMalformedSecret, err)
	}

	nonceSize := c.aead.NonceSize()
	if len(data) < nonceSize+c.aead.Overhead() {
		return "", fmt.Errorf("%w: ciphertext too short", ErrMalformedSecret)
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: failed to decrypt: %w", ErrMalformedSecret, err)
	}

	return string(plaintext), nil
}
