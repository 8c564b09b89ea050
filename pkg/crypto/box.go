package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	keySize   = 32
	nonceSize = 24
)

var ErrDecrypt = errors.New("crypto: unable to open sealed value")

// Box seals and opens short secrets such as provider access tokens
type Box struct {
	key [keySize]byte
}

// NewBox parses a 32-byte key given as hex or standard base64
func NewBox(encodedKey string) (*Box, error) {
	raw, err := decodeKey(strings.TrimSpace(encodedKey))
	if err != nil {
		return nil, err
	}
	if len(raw) != keySize {
		return nil, fmt.Errorf("crypto: key must be %d bytes, got %d", keySize, len(raw))
	}
	b := &Box{}
	copy(b.key[:], raw)
	return b, nil
}

func decodeKey(s string) ([]byte, error) {
	if s == "" {
		return nil, errors.New("crypto: empty key")
	}
	if raw, err := hex.DecodeString(s); err == nil {
		return raw, nil
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("crypto: key is neither hex nor base64: %w", err)
	}
	return raw, nil
}

// Seal encrypts plaintext and returns base64url(nonce || ciphertext)
func (b *Box) Seal(plaintext string) (string, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("crypto: generate nonce: %w", err)
	}
	out := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &b.key)
	return base64.RawURLEncoding.EncodeToString(out), nil
}

// Open reverses Seal
func (b *Box) Open(sealed string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(sealed)
	if err != nil || len(raw) < nonceSize+secretbox.Overhead {
		return "", ErrDecrypt
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	plain, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &b.key)
	if !ok {
		return "", ErrDecrypt
	}
	return string(plain), nil
}
