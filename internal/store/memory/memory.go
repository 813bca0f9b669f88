// Package memory is an in-process implementation of every store interface.
// It backs development mode and end-to-end tests; each mutation runs under
// one lock, matching the single-statement atomicity of the Postgres store.
package memory

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"netcrew.io/internal/apperr"
	"netcrew.io/internal/audit"
	"netcrew.io/internal/auth"
	"netcrew.io/internal/schedule"
)

var (
	_ auth.UserStore    = (*Store)(nil)
	_ auth.RoleStore    = (*Store)(nil)
	_ auth.SessionStore = (*Store)(nil)
	_ audit.Store       = (*Store)(nil)
	_ schedule.Store    = (*Store)(nil)
)

type Store struct {
	mu       sync.RWMutex
	users    map[string]auth.User
	roles    map[string]auth.Role
	sessions map[string]auth.Session
	audit    []audit.Entry
	shifts   map[string]schedule.Shift
	now      func() time.Time

	// last accepted TOTP step per user id
	totpSteps map[string]int64
}

func New() *Store {
	return &Store{
		users:    map[string]auth.User{},
		roles:    map[string]auth.Role{},
		sessions: map[string]auth.Session{},
		shifts:   map[string]schedule.Shift{},
		now:      time.Now,

		totpSteps: map[string]int64{},
	}
}

func (s *Store) Ping(context.Context) error { return nil }

// Users -------------------------------------------------------------------

func cloneUser(u auth.User) auth.User {
	u.Roles = slices.Clone(u.Roles)
	u.BackupCodes = slices.Clone(u.BackupCodes)
	if u.LastLoginAt != nil {
		t := *u.LastLoginAt
		u.LastLoginAt = &t
	}
	return u
}

func (s *Store) CreateUser(_ context.Context, u *auth.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; ok {
		return apperr.ErrConflict
	}
	for _, existing := range s.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return apperr.ErrConflict
		}
	}
	now := s.now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	s.users[u.ID] = cloneUser(*u)
	return nil
}

func (s *Store) GetUser(_ context.Context, id string) (auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return auth.User{}, apperr.ErrNotFound
	}
	return cloneUser(u), nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			return cloneUser(u), nil
		}
	}
	return auth.User{}, apperr.ErrNotFound
}

func (s *Store) ListUsers(context.Context) ([]auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]auth.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, cloneUser(u))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt) || (out[i].CreatedAt.Equal(out[j].CreatedAt) && out[i].ID < out[j].ID)
	})
	return out, nil
}

// mutateUser applies fn to the stored user under the write lock.
func (s *Store) mutateUser(id string, fn func(u *auth.User) error) (auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return auth.User{}, apperr.ErrNotFound
	}
	if err := fn(&u); err != nil {
		return auth.User{}, err
	}
	u.UpdatedAt = s.now().UTC()
	s.users[id] = u
	return cloneUser(u), nil
}

func (s *Store) UpdateUser(_ context.Context, id string, upd auth.UserUpdate) (auth.User, error) {
	if upd.Email != nil {
		s.mu.RLock()
		for _, other := range s.users {
			if other.ID != id && strings.EqualFold(other.Email, *upd.Email) {
				s.mu.RUnlock()
				return auth.User{}, apperr.ErrConflict
			}
		}
		s.mu.RUnlock()
	}
	return s.mutateUser(id, func(u *auth.User) error {
		if upd.Name != nil {
			u.Name = *upd.Name
		}
		if upd.Email != nil {
			u.Email = *upd.Email
		}
		if upd.PasswordHash != nil {
			u.PasswordHash = *upd.PasswordHash
		}
		if upd.EmailVerified != nil {
			u.EmailVerified = *upd.EmailVerified
		}
		return nil
	})
}

func (s *Store) SetUserRoles(_ context.Context, id string, roleIDs []string) error {
	_, err := s.mutateUser(id, func(u *auth.User) error {
		u.Roles = slices.Clone(roleIDs)
		return nil
	})
	return err
}

func (s *Store) SetUserActive(_ context.Context, id string, active bool) error {
	_, err := s.mutateUser(id, func(u *auth.User) error {
		u.Active = active
		return nil
	})
	return err
}

func (s *Store) TouchLogin(_ context.Context, id string, at time.Time) error {
	_, err := s.mutateUser(id, func(u *auth.User) error {
		u.LastLoginAt = &at
		return nil
	})
	return err
}

func (s *Store) CountUsersWithRole(_ context.Context, roleID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, u := range s.users {
		if slices.Contains(u.Roles, roleID) {
			n++
		}
	}
	return n, nil
}

func (s *Store) SetTwoFactorSecret(_ context.Context, id, encrypted string) error {
	_, err := s.mutateUser(id, func(u *auth.User) error {
		u.TwoFactorSecret = encrypted
		u.TwoFactorEnabled = false
		u.BackupCodes = nil
		delete(s.totpSteps, u.ID)
		return nil
	})
	return err
}

func (s *Store) EnableTwoFactor(_ context.Context, id string, hashes []string) error {
	_, err := s.mutateUser(id, func(u *auth.User) error {
		u.TwoFactorEnabled = true
		u.BackupCodes = slices.Clone(hashes)
		return nil
	})
	return err
}

func (s *Store) ReplaceBackupCodes(_ context.Context, id string, hashes []string) error {
	_, err := s.mutateUser(id, func(u *auth.User) error {
		u.BackupCodes = slices.Clone(hashes)
		return nil
	})
	return err
}

func (s *Store) ConsumeBackupCode(_ context.Context, id, hash string) (bool, error) {
	removed := false
	_, err := s.mutateUser(id, func(u *auth.User) error {
		idx := slices.Index(u.BackupCodes, hash)
		if idx < 0 {
			return nil
		}
		u.BackupCodes = slices.Delete(slices.Clone(u.BackupCodes), idx, idx+1)
		removed = true
		return nil
	})
	return removed, err
}

func (s *Store) DisableTwoFactor(_ context.Context, id string) error {
	_, err := s.mutateUser(id, func(u *auth.User) error {
		u.TwoFactorEnabled = false
		u.TwoFactorSecret = ""
		u.BackupCodes = nil
		delete(s.totpSteps, u.ID)
		return nil
	})
	return err
}

func (s *Store) AdvanceTOTPCounter(_ context.Context, id string, step int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return false, apperr.ErrNotFound
	}
	if last, ok := s.totpSteps[id]; ok && last >= step {
		return false, nil
	}
	s.totpSteps[id] = step
	return true, nil
}

// Roles -------------------------------------------------------------------

func cloneRole(r auth.Role) auth.Role {
	r.Permissions = slices.Clone(r.Permissions)
	r.InheritsFrom = slices.Clone(r.InheritsFrom)
	return r
}

func (s *Store) CreateRole(_ context.Context, role *auth.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[role.ID]; ok {
		return apperr.ErrConflict
	}
	for _, r := range s.roles {
		if r.Name == role.Name {
			return apperr.ErrConflict
		}
	}
	now := s.now().UTC()
	role.CreatedAt, role.UpdatedAt = now, now
	s.roles[role.ID] = cloneRole(*role)
	return nil
}

func (s *Store) GetRole(_ context.Context, id string) (auth.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.roles[id]
	if !ok {
		return auth.Role{}, apperr.ErrNotFound
	}
	return cloneRole(r), nil
}

func (s *Store) GetRoleByName(_ context.Context, name string) (auth.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.roles {
		if r.Name == name {
			return cloneRole(r), nil
		}
	}
	return auth.Role{}, apperr.ErrNotFound
}

func (s *Store) GetRoles(_ context.Context, ids []string) ([]auth.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]auth.Role, 0, len(ids))
	for _, id := range ids {
		if r, ok := s.roles[id]; ok {
			out = append(out, cloneRole(r))
		}
	}
	return out, nil
}

func (s *Store) ListRoles(context.Context) ([]auth.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]auth.Role, 0, len(s.roles))
	for _, r := range s.roles {
		out = append(out, cloneRole(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) UpdateRole(_ context.Context, role auth.Role) (auth.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.roles[role.ID]
	if !ok {
		return auth.Role{}, apperr.ErrNotFound
	}
	for _, r := range s.roles {
		if r.ID != role.ID && r.Name == role.Name {
			return auth.Role{}, apperr.ErrConflict
		}
	}
	role.CreatedAt = existing.CreatedAt
	role.UpdatedAt = s.now().UTC()
	s.roles[role.ID] = cloneRole(role)
	return cloneRole(role), nil
}

func (s *Store) DeleteRole(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[id]; !ok {
		return apperr.ErrNotFound
	}
	for _, u := range s.users {
		if slices.Contains(u.Roles, id) {
			return apperr.ErrConflict
		}
	}
	delete(s.roles, id)
	return nil
}

// Sessions ----------------------------------------------------------------

func (s *Store) CreateSession(_ context.Context, sess *auth.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; ok {
		return apperr.ErrConflict
	}
	s.sessions[sess.ID] = *sess
	return nil
}

func (s *Store) GetSession(_ context.Context, id string) (auth.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return auth.Session{}, apperr.ErrNotFound
	}
	return sess, nil
}

func (s *Store) ListSessions(_ context.Context, userID string, now time.Time) ([]auth.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []auth.Session
	for _, sess := range s.sessions {
		if sess.UserID == userID && sess.Active(now) {
			out = append(out, sess)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActiveAt.After(out[j].LastActiveAt) })
	return out, nil
}

func (s *Store) RevokeSession(_ context.Context, userID, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || sess.UserID != userID || sess.RevokedAt != nil {
		return false, nil
	}
	sess.RevokedAt = &at
	s.sessions[id] = sess
	return true, nil
}

func (s *Store) RevokeUserSessions(_ context.Context, userID string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, sess := range s.sessions {
		if sess.UserID == userID && sess.RevokedAt == nil {
			sess.RevokedAt = &at
			s.sessions[id] = sess
			n++
		}
	}
	return n, nil
}

func (s *Store) TouchSession(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || sess.RevokedAt != nil {
		return nil
	}
	if at.After(sess.LastActiveAt) {
		sess.LastActiveAt = at
		s.sessions[id] = sess
	}
	return nil
}

func (s *Store) CompleteTwoFactor(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || sess.RevokedAt != nil {
		return apperr.ErrNotFound
	}
	sess.TwoFactorPending = false
	s.sessions[id] = sess
	return nil
}

// Audit -------------------------------------------------------------------

func (s *Store) AppendAudit(_ context.Context, e audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, e)
	return nil
}

func (s *Store) ListAudit(_ context.Context, f audit.Filter) ([]audit.Entry, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []audit.Entry
	for i := len(s.audit) - 1; i >= 0; i-- {
		if f.Matches(s.audit[i]) {
			matched = append(matched, s.audit[i])
		}
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].OccurredAt.After(matched[j].OccurredAt) })
	total := len(matched)
	if f.Skip >= total {
		return []audit.Entry{}, total, nil
	}
	end := min(f.Skip+f.Limit, total)
	return matched[f.Skip:end], total, nil
}

// Shifts ------------------------------------------------------------------

func (s *Store) CreateShift(_ context.Context, shift *schedule.Shift) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.shifts {
		if existing.EmployeeID == shift.EmployeeID && existing.Overlaps(shift.StartsAt, shift.EndsAt) {
			return apperr.ErrConflict
		}
	}
	s.shifts[shift.ID] = *shift
	return nil
}

func (s *Store) FindOverlapping(_ context.Context, employeeID string, startsAt, endsAt time.Time) ([]schedule.Shift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []schedule.Shift
	for _, sh := range s.shifts {
		if sh.EmployeeID == employeeID && sh.Overlaps(startsAt, endsAt) {
			out = append(out, sh)
		}
	}
	return out, nil
}

func (s *Store) ListShifts(_ context.Context, employeeID string, from, to time.Time) ([]schedule.Shift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []schedule.Shift
	for _, sh := range s.shifts {
		if employeeID != "" && sh.EmployeeID != employeeID {
			continue
		}
		if sh.Overlaps(from, to) {
			out = append(out, sh)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out, nil
}

func (s *Store) GetShift(_ context.Context, id string) (schedule.Shift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sh, ok := s.shifts[id]
	if !ok {
		return schedule.Shift{}, apperr.ErrNotFound
	}
	return sh, nil
}

func (s *Store) DeleteShift(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.shifts[id]; !ok {
		return apperr.ErrNotFound
	}
	delete(s.shifts, id)
	return nil
}
