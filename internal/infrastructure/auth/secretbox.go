package auth

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	sealedPrefix = "v1:"
	plainPrefix  = "plain:"
)

// ErrSecretCorrupted is returned when a sealed value cannot be opened
var ErrSecretCorrupted = errors.New("auth: sealed secret is corrupted or the key changed")

// SecretBox seals client secrets and OAuth tokens before they are persisted.
// Without a key it stores values tagged as plain text, which is only
// accepted outside production by config validation.
type SecretBox struct {
	aead cipher.AEAD
}

// NewSecretBox creates a box from a 32-byte key, or a pass-through box for a nil key
func NewSecretBox(key []byte) (*SecretBox, error) {
	if key == nil {
		return &SecretBox{}, nil
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("auth: invalid credential key: %w", err)
	}
	return &SecretBox{aead: aead}, nil
}

// Encrypting reports whether values are actually encrypted
func (b *SecretBox) Encrypting() bool {
	return b.aead != nil
}

// Seal encrypts plaintext. Empty values stay empty.
func (b *SecretBox) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	if b.aead == nil {
		return plainPrefix + plaintext, nil
	}

	nonce := make([]byte, b.aead.NonceSize(), b.aead.NonceSize()+len(plaintext)+b.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("auth: failed to generate nonce: %w", err)
	}
	sealed := b.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return sealedPrefix + base64.RawStdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value produced by Seal
func (b *SecretBox) Open(value string) (string, error) {
	switch {
	case value == "":
		return "", nil
	case strings.HasPrefix(value, plainPrefix):
		return strings.TrimPrefix(value, plainPrefix), nil
	case !strings.HasPrefix(value, sealedPrefix):
		return "", ErrSecretCorrupted
	case b.aead == nil:
		return "", fmt.Errorf("%w: no credential key configured", ErrSecretCorrupted)
	}

	raw, err := base64.RawStdEncoding.DecodeString(strings.TrimPrefix(value, sealedPrefix))
	if err != nil || len(raw) < b.aead.NonceSize() {
		return "", ErrSecretCorrupted
	}
	nonce, ciphertext := raw[:b.aead.NonceSize()], raw[b.aead.NonceSize():]
	plain, err := b.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrSecretCorrupted
	}
	return string(plain), nil
}
