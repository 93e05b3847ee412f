package store

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// TokenSealer encrypts OAuth tokens before they are written to the database,
// so a database dump alone cannot impersonate the connected Google account.
type TokenSealer struct {
	key [32]byte
}

// NewTokenSealer derives a sealing key from the configured secret.
func NewTokenSealer(secret string) *TokenSealer {
	return &TokenSealer{key: sha256.Sum256([]byte(secret))}
}

// Seal encrypts a token. Empty tokens seal to an empty payload so the column
// default stays distinguishable from an encrypted empty string.
func (s *TokenSealer) Seal(plain string) ([]byte, error) {
	if plain == "" {
		return nil, nil
	}
	aead, err := chacha20poly1305.NewX(s.key[:])
	if err != nil {
		return nil, fmt.Errorf("init token cipher: %w", err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, []byte(plain), nil), nil
}

// Open decrypts a sealed token.
func (s *TokenSealer) Open(sealed []byte) (string, error) {
	if len(sealed) == 0 {
		return "", nil
	}
	aead, err := chacha20poly1305.NewX(s.key[:])
	if err != nil {
		return "", fmt.Errorf("init token cipher: %w", err)
	}
	if len(sealed) < chacha20poly1305.NonceSizeX {
		return "", fmt.Errorf("sealed token too short (%d bytes)", len(sealed))
	}
	nonce, ciphertext := sealed[:chacha20poly1305.NonceSizeX], sealed[chacha20poly1305.NonceSizeX:]
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("unseal token: %w", err)
	}
	return string(plain), nil
}
