package auth

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"netcrew.io/internal/apperr"
)

func TestHashPasswordRoundTrip(t *testing.T) {
	hash, err := HashPassword("correct horse battery")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$v=19$m=65536,t=2,p=1$") {
		t.Fatalf("unexpected encoding %q", hash)
	}
	if !VerifyPassword(hash, "correct horse battery") {
		t.Fatalf("expected password to verify")
	}
	if VerifyPassword(hash, "correct horse battery!") {
		t.Fatalf("wrong password verified")
	}

	again, err := HashPassword("correct horse battery")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if again == hash {
		t.Fatalf("salts must differ between hashes")
	}
	if _, err := HashPassword(""); err == nil {
		t.Fatalf("empty password must not hash")
	}
}

func TestVerifyPasswordRejectsMalformed(t *testing.T) {
	for _, encoded := range []string{
		"",
		"plaintext",
		"$2a$10$abcdefghijklmnopqrstuv",
		"$argon2i$v=19$m=65536,t=2,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=x,t=2,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=65536,t=2,p=1$!!!$aGFzaA",
		"$argon2id$v=19$m=65536,t=2,p=1$c2FsdA$",
	} {
		if VerifyPassword(encoded, "anything") {
			t.Fatalf("malformed hash %q verified", encoded)
		}
	}
}

func TestCheckPassword(t *testing.T) {
	bl := NewBlacklist("Password123", " letmein99 ", "")
	if bl.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", bl.Len())
	}

	if err := CheckPassword("short", bl); !errors.Is(err, apperr.ErrBadRequest) {
		t.Fatalf("expected bad request for short password, got %v", err)
	}
	if err := CheckPassword("PASSWORD123", bl); !errors.Is(err, apperr.ErrUnprocessableEntity) {
		t.Fatalf("expected unprocessable for blacklisted password, got %v", err)
	}
	if err := CheckPassword("ünïcødé", bl); !errors.Is(err, apperr.ErrBadRequest) {
		t.Fatalf("length counts runes, got %v", err)
	}
	if err := CheckPassword("a fine passphrase", bl); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := CheckPassword("a fine passphrase", nil); err != nil {
		t.Fatalf("nil blacklist must allow: %v", err)
	}
}

func TestLoadBlacklist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "common.txt")
	content := "# top passwords\n123456789\n\nQwerty123\n  iloveyou1  \n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	bl, err := LoadBlacklist(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if bl.Len() != 3 {
		t.Fatalf("expected 3 entries, got %d", bl.Len())
	}
	if !bl.Contains("qwerty123") || !bl.Contains("ILOVEYOU1") {
		t.Fatalf("entries should match case-insensitively")
	}
	if bl.Contains("# top passwords") {
		t.Fatalf("comments must be skipped")
	}

	empty, err := LoadBlacklist("")
	if err != nil || empty.Len() != 0 {
		t.Fatalf("empty path should yield empty list: %v", err)
	}
	if _, err := LoadBlacklist(filepath.Join(t.TempDir(), "missing.txt")); err == nil {
		t.Fatalf("missing file should fail")
	}
}

func TestValidatePermissions(t *testing.T) {
	if err := ValidatePermissions([]string{"users:read", "audit:read"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := ValidatePermissions([]string{"users:read", "users:destroy", "moon:land"})
	if !errors.Is(err, apperr.ErrBadRequest) {
		t.Fatalf("expected bad request, got %v", err)
	}
	if !strings.Contains(err.Error(), "users:destroy, moon:land") {
		t.Fatalf("error should list unknown keys: %v", err)
	}

	got, err := NormalizePermissions([]string{" roles:read", "audit:read", "roles:read", ""})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if strings.Join(got, ",") != "audit:read,roles:read" {
		t.Fatalf("unexpected normalized keys %v", got)
	}
}

func TestSystemRolesUseCatalogKeys(t *testing.T) {
	for _, role := range SystemRoles() {
		if err := ValidatePermissions(role.Permissions); err != nil {
			t.Fatalf("role %s: %v", role.Name, err)
		}
		if !role.IsSystem {
			t.Fatalf("role %s must be marked system", role.Name)
		}
	}
}

func TestTokenSigner(t *testing.T) {
	if _, err := NewTokenSigner("too-short"); err == nil {
		t.Fatalf("short secret must be rejected")
	}
	signer, err := NewTokenSigner(strings.Repeat("x", 32))
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	now := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	signer.now = func() time.Time { return now }

	session := Session{ID: "sess-1", UserID: "user-1", CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	token, err := signer.Sign(session)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	claims, err := signer.Parse(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.ID != "sess-1" || claims.Subject != "user-1" || claims.Issuer != "netcrew" {
		t.Fatalf("unexpected claims %+v", claims)
	}

	signer.now = func() time.Time { return now.Add(2 * time.Hour) }
	if _, err := signer.Parse(token); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expired token must be invalid, got %v", err)
	}

	signer.now = func() time.Time { return now }
	future := Session{ID: "sess-2", UserID: "user-1", CreatedAt: now.Add(time.Minute), ExpiresAt: now.Add(time.Hour)}
	token, err = signer.Sign(future)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := signer.Parse(token); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("token issued in the future must be invalid, got %v", err)
	}

	if _, err := signer.Sign(Session{ID: "s"}); err == nil {
		t.Fatalf("sign without user id must fail")
	}
}

func TestParseDevice(t *testing.T) {
	cases := []struct {
		ua                  string
		browser, os, device string
	}{
		{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36 Edg/124.0", "Edge", "Windows", "desktop"},
		{"Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Mobile/15E148 Safari/604.1", "Safari", "iOS", "mobile"},
		{"Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Mobile Safari/537.36", "Chrome", "Android", "mobile"},
		{"Mozilla/5.0 (iPad; CPU OS 17_4 like Mac OS X) AppleWebKit/605.1.15 Version/17.4 Safari/604.1", "Safari", "iOS", "tablet"},
		{"curl/8.6.0", "curl", "", "bot"},
		{"", "", "", ""},
	}
	for _, tc := range cases {
		d := ParseDevice(" 192.0.2.1 ", tc.ua)
		if d.IP != "192.0.2.1" {
			t.Fatalf("ip not trimmed: %q", d.IP)
		}
		if d.Browser != tc.browser || d.OS != tc.os || d.Kind != tc.device {
			t.Fatalf("%q: got %s/%s/%s", tc.ua, d.Browser, d.OS, d.Kind)
		}
	}
}
