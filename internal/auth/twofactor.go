package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"netcrew.io/internal/apperr"
	"netcrew.io/internal/obs"
	"netcrew.io/internal/security/secretbox"
	"netcrew.io/internal/security/totp"
)

const (
	BackupCodeCount  = 10
	backupCodeBytes  = 4
	totpVerifyWindow = 1
)

// TwoFactorSetup is returned once, when enrollment starts.
type TwoFactorSetup struct {
	Secret string `json:"secret"`
	URI    string `json:"otpauth_url"`
}

// TwoFactorStatus summarises a user's second-factor state.
type TwoFactorStatus struct {
	Enabled              bool `json:"enabled"`
	BackupCodesRemaining int  `json:"backup_codes_remaining"`
}

// SecondFactor carries either a TOTP code or a backup code.
type SecondFactor struct {
	Code       string
	BackupCode string
}

// TwoFactorService manages TOTP enrollment and backup codes.
type TwoFactorService struct {
	users    UserStore
	sessions *SessionService
	box      *secretbox.Box
	issuer   string
	now      func() time.Time
}

func NewTwoFactorService(users UserStore, sessions *SessionService, box *secretbox.Box, issuer string) (*TwoFactorService, error) {
	if users == nil || sessions == nil || box == nil {
		return nil, errors.New("two-factor service: missing dependency")
	}
	if strings.TrimSpace(issuer) == "" {
		issuer = "netcrew"
	}
	return &TwoFactorService{users: users, sessions: sessions, box: box, issuer: issuer, now: time.Now}, nil
}

// Setup starts enrollment after re-checking the password. The plaintext
// secret leaves the service only here.
func (s *TwoFactorService) Setup(ctx context.Context, userID, password string) (TwoFactorSetup, error) {
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return TwoFactorSetup{}, err
	}
	if user.TwoFactorEnabled {
		return TwoFactorSetup{}, apperr.BadRequest("two-factor authentication is already enabled")
	}
	if !VerifyPassword(user.PasswordHash, password) {
		return TwoFactorSetup{}, apperr.BadRequest("invalid password")
	}
	secret, err := totp.GenerateSecret()
	if err != nil {
		return TwoFactorSetup{}, fmt.Errorf("generate totp secret: %w", err)
	}
	encrypted, err := s.box.Encrypt(secret)
	if err != nil {
		return TwoFactorSetup{}, fmt.Errorf("encrypt totp secret: %w", err)
	}
	if err := s.users.SetTwoFactorSecret(ctx, user.ID, encrypted); err != nil {
		return TwoFactorSetup{}, err
	}
	return TwoFactorSetup{Secret: secret, URI: totp.ProvisioningURI(s.issuer, user.Email, secret)}, nil
}

// Enable confirms enrollment with a TOTP code and returns fresh backup codes.
func (s *TwoFactorService) Enable(ctx context.Context, userID, code string) ([]string, error) {
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.TwoFactorEnabled {
		return nil, apperr.BadRequest("two-factor authentication is already enabled")
	}
	if user.TwoFactorSecret == "" {
		return nil, apperr.BadRequest("two-factor setup has not been started")
	}
	if err := s.checkTOTP(ctx, user, code); err != nil {
		return nil, err
	}
	codes, hashes, err := generateBackupCodes()
	if err != nil {
		return nil, err
	}
	if err := s.users.EnableTwoFactor(ctx, user.ID, hashes); err != nil {
		return nil, err
	}
	return codes, nil
}

// Validate completes the second factor for a pending session.
func (s *TwoFactorService) Validate(ctx context.Context, principal *Principal, factor SecondFactor) error {
	if principal == nil {
		return apperr.ErrUnauthorized
	}
	user, err := s.loadUser(ctx, principal.User.ID)
	if err != nil {
		return err
	}
	if err := s.verify(ctx, user, factor); err != nil {
		return err
	}
	if !principal.Session.TwoFactorPending {
		return nil
	}
	return s.sessions.CompleteTwoFactor(ctx, principal.Session.ID)
}

// Disable verifies a second factor and then clears the secret and codes.
func (s *TwoFactorService) Disable(ctx context.Context, userID string, factor SecondFactor) error {
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.verify(ctx, user, factor); err != nil {
		return err
	}
	return s.users.DisableTwoFactor(ctx, user.ID)
}

// RegenerateBackupCodes replaces every backup code after a TOTP check.
func (s *TwoFactorService) RegenerateBackupCodes(ctx context.Context, userID, code string) ([]string, error) {
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.TwoFactorEnabled {
		return nil, apperr.BadRequest("two-factor authentication is not enabled")
	}
	if err := s.checkTOTP(ctx, user, code); err != nil {
		return nil, err
	}
	codes, hashes, err := generateBackupCodes()
	if err != nil {
		return nil, err
	}
	if err := s.users.ReplaceBackupCodes(ctx, user.ID, hashes); err != nil {
		return nil, err
	}
	return codes, nil
}

func (s *TwoFactorService) Status(ctx context.Context, userID string) (TwoFactorStatus, error) {
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return TwoFactorStatus{}, err
	}
	st := TwoFactorStatus{Enabled: user.TwoFactorEnabled}
	if user.TwoFactorEnabled {
		st.BackupCodesRemaining = len(user.BackupCodes)
	}
	return st, nil
}

// verify accepts a TOTP code or consumes a backup code. A backup code is
// spent by a single conditional removal in the store, so concurrent
// requests presenting the same code cannot both succeed.
func (s *TwoFactorService) verify(ctx context.Context, user User, factor SecondFactor) error {
	if !user.TwoFactorEnabled {
		return apperr.BadRequest("two-factor authentication is not enabled")
	}
	code := strings.TrimSpace(factor.Code)
	backup := strings.TrimSpace(factor.BackupCode)
	switch {
	case code != "":
		return s.checkTOTP(ctx, user, code)
	case backup != "":
		hash, ok := matchBackupCode(user.BackupCodes, backup)
		if !ok {
			return apperr.BadRequest("invalid backup code")
		}
		consumed, err := s.users.ConsumeBackupCode(ctx, user.ID, hash)
		if err != nil {
			return err
		}
		if !consumed {
			return apperr.BadRequest("invalid backup code")
		}
		obs.From(ctx).Info("backup code consumed", obs.UserID(user.ID))
		return nil
	default:
		return apperr.BadRequest("verification code is required")
	}
}

// checkTOTP accepts each time step at most once per user.
func (s *TwoFactorService) checkTOTP(ctx context.Context, user User, code string) error {
	code = strings.TrimSpace(code)
	if !totp.ValidFormat(code) {
		return apperr.BadRequest("verification code must be 6 digits")
	}
	secret, err := s.box.Decrypt(user.TwoFactorSecret)
	if err != nil {
		return fmt.Errorf("decrypt totp secret: %w", err)
	}
	step, ok := totp.Match(secret, code, s.now(), totpVerifyWindow)
	if !ok {
		return apperr.BadRequest("invalid verification code")
	}
	fresh, err := s.users.AdvanceTOTPCounter(ctx, user.ID, step)
	if err != nil {
		return err
	}
	if !fresh {
		obs.From(ctx).Warn("totp code reused", obs.UserID(user.ID))
		return apperr.BadRequest("verification code already used")
	}
	return nil
}

func (s *TwoFactorService) loadUser(ctx context.Context, id string) (User, error) {
	user, err := s.users.GetUser(ctx, id)
	if errors.Is(err, apperr.ErrNotFound) {
		return User{}, apperr.NotFound("user not found")
	}
	return user, err
}

// generateBackupCodes returns plaintext codes and their hashes.
func generateBackupCodes() (codes, hashes []string, err error) {
	codes = make([]string, BackupCodeCount)
	hashes = make([]string, BackupCodeCount)
	buf := make([]byte, backupCodeBytes)
	for i := range codes {
		if _, err := rand.Read(buf); err != nil {
			return nil, nil, fmt.Errorf("generate backup code: %w", err)
		}
		codes[i] = strings.ToUpper(hex.EncodeToString(buf))
		hashes[i] = HashBackupCode(codes[i])
	}
	return codes, hashes, nil
}

// HashBackupCode returns the stored form of a backup code.
func HashBackupCode(code string) string {
	sum := sha256.Sum256([]byte(normalizeBackupCode(code)))
	return hex.EncodeToString(sum[:])
}

func normalizeBackupCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	return strings.NewReplacer("-", "", " ", "").Replace(code)
}

// matchBackupCode compares against every stored hash without stopping at
// the first match.
func matchBackupCode(stored []string, code string) (string, bool) {
	candidate := []byte(HashBackupCode(code))
	var found string
	for _, h := range stored {
		if subtle.ConstantTimeCompare([]byte(h), candidate) == 1 {
			found = h
		}
	}
	return found, found != ""
}
