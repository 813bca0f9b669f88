package audit

import (
	"time"

	"netcrew.io/internal/apperr"
)

// Action names an audited event.
type Action string

const (
	ActionRegister         Action = "user.register"
	ActionLogin            Action = "user.login"
	ActionLoginFailed      Action = "user.login_failed"
	ActionLogout           Action = "user.logout"
	ActionUserUpdate       Action = "user.update"
	ActionRolesChanged     Action = "user.roles_changed"
	ActionUserSuspended    Action = "user.suspended"
	ActionUserReactivated  Action = "user.reactivated"
	ActionPasswordReset    Action = "user.password_reset"
	ActionEmailVerified    Action = "user.email_verified"
	ActionSessionRevoked   Action = "session.revoke"
	ActionRoleCreate       Action = "role.create"
	ActionRoleUpdate       Action = "role.update"
	ActionRoleDelete       Action = "role.delete"
	ActionTwoFactorEnable  Action = "2fa.enable"
	ActionTwoFactorDisable Action = "2fa.disable"
	ActionTwoFactorFailed  Action = "2fa.validate_failed"
	ActionBackupCodesReset Action = "2fa.backup_codes_regenerated"
	ActionShiftCreate      Action = "schedule.create"
	ActionShiftDelete      Action = "schedule.delete"
)

// Severity ranks entries for review.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Changes holds the before and after snapshots of a mutation.
type Changes struct {
	Before any `json:"before,omitempty"`
	After  any `json:"after,omitempty"`
}

// Entry is one append-only audit record. Resource references are weak:
// entries outlive the users and roles they mention.
type Entry struct {
	ID           string         `json:"id"`
	Action       Action         `json:"action"`
	Severity     Severity       `json:"severity"`
	ActorID      string         `json:"actor_id,omitempty"`
	ActorEmail   string         `json:"actor_email,omitempty"`
	ResourceType string         `json:"resource_type,omitempty"`
	ResourceID   string         `json:"resource_id,omitempty"`
	ResourceName string         `json:"resource_name,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Changes      *Changes       `json:"changes,omitempty"`
	Success      bool           `json:"success"`
	IP           string         `json:"ip,omitempty"`
	UserAgent    string         `json:"user_agent,omitempty"`
	RequestID    string         `json:"request_id,omitempty"`
	OccurredAt   time.Time      `json:"occurred_at"`
}

const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// Filter selects entries for List. Zero fields do not filter.
type Filter struct {
	Action       Action
	Severity     Severity
	ActorID      string
	ResourceType string
	ResourceID   string
	Success      *bool
	Since        *time.Time
	Until        *time.Time
	Limit        int
	Skip         int
}

// Normalize applies the paging defaults and rejects out-of-range values.
func (f Filter) Normalize() (Filter, error) {
	if f.Limit == 0 {
		f.Limit = DefaultLimit
	}
	if f.Limit < 1 || f.Limit > MaxLimit {
		return Filter{}, apperr.BadRequest("limit must be between 1 and 200")
	}
	if f.Skip < 0 {
		return Filter{}, apperr.BadRequest("skip must not be negative")
	}
	if f.Severity != "" && f.Severity != SeverityInfo && f.Severity != SeverityWarning && f.Severity != SeverityCritical {
		return Filter{}, apperr.BadRequest("unknown severity")
	}
	if f.Since != nil && f.Until != nil && f.Until.Before(*f.Since) {
		return Filter{}, apperr.BadRequest("invalid date range")
	}
	return f, nil
}

// Matches reports whether e passes every set filter field.
func (f Filter) Matches(e Entry) bool {
	switch {
	case f.Action != "" && e.Action != f.Action:
		return false
	case f.Severity != "" && e.Severity != f.Severity:
		return false
	case f.ActorID != "" && e.ActorID != f.ActorID:
		return false
	case f.ResourceType != "" && e.ResourceType != f.ResourceType:
		return false
	case f.ResourceID != "" && e.ResourceID != f.ResourceID:
		return false
	case f.Success != nil && e.Success != *f.Success:
		return false
	case f.Since != nil && e.OccurredAt.Before(*f.Since):
		return false
	case f.Until != nil && e.OccurredAt.After(*f.Until):
		return false
	}
	return true
}

// Page is one slice of the trail, newest first.
type Page struct {
	Items []Entry `json:"items"`
	Total int     `json:"total"`
	Limit int     `json:"limit"`
	Skip  int     `json:"skip"`
}
