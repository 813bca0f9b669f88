// Package totp implements RFC 6238 time-based one-time passwords
// (HMAC-SHA1, 30 second step, 6 digits).
package totp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	Digits     = 6
	Period     = 30
	secretSize = 20
)

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// GenerateSecret returns a random 160-bit secret, base32 without padding.
func GenerateSecret() (string, error) {
	raw := make([]byte, secretSize)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return b32.EncodeToString(raw), nil
}

// ProvisioningURI builds the otpauth:// URI rendered as a QR code by authenticator apps.
func ProvisioningURI(issuer, account, secret string) string {
	label := url.PathEscape(fmt.Sprintf("%s:%s", issuer, account))
	q := url.Values{}
	q.Set("secret", secret)
	q.Set("issuer", issuer)
	q.Set("algorithm", "SHA1")
	q.Set("digits", fmt.Sprint(Digits))
	q.Set("period", fmt.Sprint(Period))
	return fmt.Sprintf("otpauth://totp/%s?%s", label, q.Encode())
}

// ValidFormat reports whether code is exactly six ASCII digits.
func ValidFormat(code string) bool {
	if len(code) != Digits {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}

// Code computes the code for secret at t.
func Code(secret string, t time.Time) (string, error) {
	key, err := decodeSecret(secret)
	if err != nil {
		return "", err
	}
	return hotp(key, uint64(t.Unix()/Period)), nil
}

// Verify checks code against the steps t-window..t+window.
func Verify(secret, code string, t time.Time, window int) bool {
	_, ok := Match(secret, code, t, window)
	return ok
}

// Match is Verify that also returns the time step the code belongs to.
// Callers record the step to refuse a second use of the same code.
func Match(secret, code string, t time.Time, window int) (int64, bool) {
	code = strings.TrimSpace(code)
	if !ValidFormat(code) {
		return 0, false
	}
	key, err := decodeSecret(secret)
	if err != nil {
		return 0, false
	}
	counter := t.Unix() / Period
	var step int64
	ok := 0
	for c := counter - int64(window); c <= counter+int64(window); c++ {
		if c < 0 {
			continue
		}
		hit := subtle.ConstantTimeCompare([]byte(hotp(key, uint64(c))), []byte(code))
		if hit == 1 {
			step = c
		}
		ok |= hit
	}
	return step, ok == 1
}

func decodeSecret(secret string) ([]byte, error) {
	s := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(secret), " ", ""))
	s = strings.TrimRight(s, "=")
	key, err := b32.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("totp: decode secret: %w", err)
	}
	return key, nil
}

func hotp(key []byte, counter uint64) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], counter)
	m := hmac.New(sha1.New, key)
	_, _ = m.Write(msg[:])
	sum := m.Sum(nil)
	offset := sum[len(sum)-1] & 0x0f
	bin := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff
	return fmt.Sprintf("%06d", bin%1_000_000)
}
