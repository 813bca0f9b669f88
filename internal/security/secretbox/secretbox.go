// Package secretbox encrypts small secrets (TOTP seeds) at rest with
// AES-256-GCM. Ciphertexts are serialized as hex(iv):hex(tag):hex(data).
package secretbox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	KeySize = 32
	IVSize  = 16
	TagSize = 16
	sep     = ":"
)

var ErrMalformed = errors.New("secretbox: malformed ciphertext")

// Box holds a normalized 32-byte key.
type Box struct {
	key []byte
}

// New normalizes raw into a 32-byte key and returns a Box.
func New(raw string) (*Box, error) {
	key, err := NormalizeKey(raw)
	if err != nil {
		return nil, err
	}
	return &Box{key: key}, nil
}

// NormalizeKey turns an operator-supplied key into exactly 32 bytes. It tries,
// in order: 64 hex characters, base64 decoding to 32 bytes, and finally
// SHA-256 of the raw string.
func NormalizeKey(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("secretbox: encryption key is empty")
	}
	if len(raw) == 2*KeySize {
		if b, err := hex.DecodeString(raw); err == nil {
			return b, nil
		}
	}
	if b, err := base64.StdEncoding.DecodeString(raw); err == nil && len(b) == KeySize {
		return b, nil
	}
	if b, err := base64.RawStdEncoding.DecodeString(raw); err == nil && len(b) == KeySize {
		return b, nil
	}
	sum := sha256.Sum256([]byte(raw))
	return sum[:], nil
}

func (b *Box) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(b.key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, IVSize)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return aead, nil
}

// Encrypt seals plaintext under a fresh random IV.
func (b *Box) Encrypt(plaintext string) (string, error) {
	aead, err := b.gcm()
	if err != nil {
		return "", err
	}
	iv := make([]byte, IVSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("iv random: %w", err)
	}
	sealed := aead.Seal(nil, iv, []byte(plaintext), nil)
	ct, tag := sealed[:len(sealed)-TagSize], sealed[len(sealed)-TagSize:]
	return hex.EncodeToString(iv) + sep + hex.EncodeToString(tag) + sep + hex.EncodeToString(ct), nil
}

// Decrypt opens a value produced by Encrypt.
func (b *Box) Decrypt(encoded string) (string, error) {
	parts := strings.Split(encoded, sep)
	if len(parts) != 3 {
		return "", ErrMalformed
	}
	iv, err := hex.DecodeString(parts[0])
	if err != nil || len(iv) != IVSize {
		return "", ErrMalformed
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil || len(tag) != TagSize {
		return "", ErrMalformed
	}
	ct, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", ErrMalformed
	}
	aead, err := b.gcm()
	if err != nil {
		return "", err
	}
	pt, err := aead.Open(nil, iv, append(ct, tag...), nil)
	if err != nil {
		return "", fmt.Errorf("gcm auth/decrypt: %w", err)
	}
	return string(pt), nil
}
