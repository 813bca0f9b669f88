package auth

import "time"

// User is an identity record. Roles holds role ids by reference.
type User struct {
	ID               string     `json:"id"`
	ExternalID       string     `json:"external_id,omitempty"`
	Email            string     `json:"email"`
	Name             string     `json:"name"`
	PasswordHash     string     `json:"-"`
	Active           bool       `json:"active"`
	EmailVerified    bool       `json:"email_verified"`
	Roles            []string   `json:"roles"`
	TwoFactorSecret  string     `json:"-"`
	TwoFactorEnabled bool       `json:"two_factor_enabled"`
	BackupCodes      []string   `json:"-"`
	LastLoginAt      *time.Time `json:"last_login_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Role bundles permissions. System roles only accept hierarchy changes.
type Role struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	DisplayName        string    `json:"display_name"`
	Description        string    `json:"description,omitempty"`
	Permissions        []string  `json:"permissions"`
	HierarchyLevel     int       `json:"hierarchy_level"`
	IsSystem           bool      `json:"is_system"`
	InheritPermissions bool      `json:"inherit_permissions"`
	InheritsFrom       []string  `json:"inherits_from,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Device describes the client a session was opened from.
type Device struct {
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	Browser   string `json:"browser,omitempty"`
	OS        string `json:"os,omitempty"`
	Kind      string `json:"device,omitempty"`
}

// Session binds a bearer credential to a user. Revocation is terminal.
type Session struct {
	ID               string     `json:"id"`
	UserID           string     `json:"user_id"`
	Device           Device     `json:"device"`
	TwoFactorPending bool       `json:"two_factor_pending"`
	CreatedAt        time.Time  `json:"created_at"`
	LastActiveAt     time.Time  `json:"last_active_at"`
	ExpiresAt        time.Time  `json:"expires_at"`
	RevokedAt        *time.Time `json:"revoked_at,omitempty"`
}

// Active reports whether the session can still authenticate at now.
func (s Session) Active(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}

// UserUpdate carries optional profile changes.
type UserUpdate struct {
	Name          *string
	Email         *string
	PasswordHash  *string
	EmailVerified *bool
}

// RoleUpdate carries optional role changes. Unsupported names request
// fields that cannot be changed through an update, such as is_system.
type RoleUpdate struct {
	Name               *string
	DisplayName        *string
	Description        *string
	Permissions        *[]string
	HierarchyLevel     *int
	InheritPermissions *bool
	InheritsFrom       *[]string
	Unsupported        []string
}

// onlyHierarchy reports whether the update touches nothing but the hierarchy level.
func (u RoleUpdate) onlyHierarchy() bool {
	return u.Name == nil && u.DisplayName == nil && u.Description == nil && u.Permissions == nil &&
		u.InheritPermissions == nil && u.InheritsFrom == nil && len(u.Unsupported) == 0
}

// apply returns role with the update applied.
func (u RoleUpdate) apply(role Role) Role {
	if u.Name != nil {
		role.Name = *u.Name
	}
	if u.DisplayName != nil {
		role.DisplayName = *u.DisplayName
	}
	if u.Description != nil {
		role.Description = *u.Description
	}
	if u.Permissions != nil {
		role.Permissions = *u.Permissions
	}
	if u.HierarchyLevel != nil {
		role.HierarchyLevel = *u.HierarchyLevel
	}
	if u.InheritPermissions != nil {
		role.InheritPermissions = *u.InheritPermissions
	}
	if u.InheritsFrom != nil {
		role.InheritsFrom = *u.InheritsFrom
	}
	return role
}
