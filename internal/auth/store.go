package auth

import (
	"context"
	"time"
)

// UserStore persists users. Missing rows yield apperr.ErrNotFound and
// duplicate emails apperr.ErrConflict.
type UserStore interface {
	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	ListUsers(ctx context.Context) ([]User, error)
	UpdateUser(ctx context.Context, id string, upd UserUpdate) (User, error)
	SetUserRoles(ctx context.Context, id string, roleIDs []string) error
	SetUserActive(ctx context.Context, id string, active bool) error
	TouchLogin(ctx context.Context, id string, at time.Time) error
	CountUsersWithRole(ctx context.Context, roleID string) (int, error)

	// SetTwoFactorSecret stores a new encrypted secret in the disabled state
	// and drops any existing backup codes.
	SetTwoFactorSecret(ctx context.Context, id, encrypted string) error
	EnableTwoFactor(ctx context.Context, id string, backupHashes []string) error
	ReplaceBackupCodes(ctx context.Context, id string, backupHashes []string) error
	// ConsumeBackupCode removes hash from the user's codes in one atomic
	// conditional update and reports whether this call removed it.
	ConsumeBackupCode(ctx context.Context, id, hash string) (bool, error)
	DisableTwoFactor(ctx context.Context, id string) error
	// AdvanceTOTPCounter records step as the user's last accepted TOTP step
	// and reports false when that step or a later one was already accepted.
	AdvanceTOTPCounter(ctx context.Context, id string, step int64) (bool, error)
}

// RoleStore persists roles. Duplicate names yield apperr.ErrConflict.
type RoleStore interface {
	CreateRole(ctx context.Context, role *Role) error
	GetRole(ctx context.Context, id string) (Role, error)
	GetRoleByName(ctx context.Context, name string) (Role, error)
	GetRoles(ctx context.Context, ids []string) ([]Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	UpdateRole(ctx context.Context, role Role) (Role, error)
	DeleteRole(ctx context.Context, id string) error
}

// SessionStore persists sessions.
type SessionStore interface {
	CreateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id string) (Session, error)
	ListSessions(ctx context.Context, userID string, now time.Time) ([]Session, error)
	// RevokeSession marks an unrevoked session of userID revoked; it
	// reports false when nothing matched.
	RevokeSession(ctx context.Context, userID, id string, at time.Time) (bool, error)
	RevokeUserSessions(ctx context.Context, userID string, at time.Time) (int, error)
	TouchSession(ctx context.Context, id string, at time.Time) error
	CompleteTwoFactor(ctx context.Context, id string) error
}
