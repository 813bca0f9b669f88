package auth

import (
	"bufio"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/argon2"

	"netcrew.io/internal/apperr"
)

// MinPasswordLength is the shortest password accepted at registration or reset.
const MinPasswordLength = 8

// passwordParams are the argon2id cost parameters for new hashes.
// Verification reads the parameters back from the encoded hash.
var passwordParams = struct {
	memory      uint32
	iterations  uint32
	parallelism uint8
	keyLength   uint32
	saltLength  int
}{memory: 64 * 1024, iterations: 2, parallelism: 1, keyLength: 32, saltLength: 16}

// HashPassword returns an encoded argon2id hash of password.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password is empty")
	}
	p := passwordParams
	salt := make([]byte, p.saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	hash := argon2.IDKey([]byte(password), salt, p.iterations, p.memory, p.parallelism, p.keyLength)
	return fmt.Sprintf(
		"$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s",
		p.memory,
		p.iterations,
		p.parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// VerifyPassword reports whether password matches the encoded hash.
func VerifyPassword(encoded, password string) bool {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" || parts[2] != "v=19" {
		return false
	}
	var memory, iterations uint32
	var parallelism uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		return false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	stored, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(stored) == 0 {
		return false
	}
	key := argon2.IDKey([]byte(password), salt, iterations, memory, parallelism, uint32(len(stored)))
	return subtle.ConstantTimeCompare(key, stored) == 1
}

// Blacklist holds passwords that are rejected regardless of length.
type Blacklist struct {
	entries map[string]struct{}
}

// LoadBlacklist reads one password per line; blank lines and lines starting
// with '#' are ignored. An empty path yields an empty list.
func LoadBlacklist(path string) (*Blacklist, error) {
	bl := &Blacklist{entries: map[string]struct{}{}}
	if strings.TrimSpace(path) == "" {
		return bl, nil
	}
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("open password blacklist: %w", err)
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.ToLower(strings.TrimSpace(sc.Text()))
		if line != "" && !strings.HasPrefix(line, "#") {
			bl.entries[line] = struct{}{}
		}
	}
	return bl, sc.Err()
}

// NewBlacklist builds a list from literal entries.
func NewBlacklist(entries ...string) *Blacklist {
	bl := &Blacklist{entries: make(map[string]struct{}, len(entries))}
	for _, e := range entries {
		if e = strings.ToLower(strings.TrimSpace(e)); e != "" {
			bl.entries[e] = struct{}{}
		}
	}
	return bl
}

func (b *Blacklist) Contains(password string) bool {
	if b == nil {
		return false
	}
	_, ok := b.entries[strings.ToLower(strings.TrimSpace(password))]
	return ok
}

func (b *Blacklist) Len() int {
	if b == nil {
		return 0
	}
	return len(b.entries)
}

// CheckPassword enforces the password policy for new passwords.
func CheckPassword(password string, bl *Blacklist) error {
	if len([]rune(password)) < MinPasswordLength {
		return apperr.BadRequest(fmt.Sprintf("password must be at least %d characters", MinPasswordLength))
	}
	if bl.Contains(password) {
		return apperr.Unprocessable("password is too common")
	}
	return nil
}
