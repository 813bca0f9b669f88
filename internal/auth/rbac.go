package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"netcrew.io/internal/apperr"
	"netcrew.io/internal/ids"
	"netcrew.io/internal/obs"
)

var roleNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_-]{1,47}$`)

const roleNameRule = "role name must be 2-48 lowercase letters, digits, '-' or '_'"

func normalizeRoleName(raw string) (string, error) {
	name := strings.ToLower(strings.TrimSpace(raw))
	if !roleNamePattern.MatchString(name) {
		return "", apperr.BadRequest(roleNameRule)
	}
	return name, nil
}

// RoleInput describes a role to create.
type RoleInput struct {
	Name               string
	DisplayName        string
	Description        string
	Permissions        []string
	HierarchyLevel     int
	InheritPermissions bool
	InheritsFrom       []string
}

// RBACService owns roles, role aggregation and user role assignment.
type RBACService struct {
	users    UserStore
	roles    RoleStore
	sessions SessionStore
	now      func() time.Time
}

func NewRBACService(users UserStore, roles RoleStore, sessions SessionStore) (*RBACService, error) {
	if users == nil || roles == nil || sessions == nil {
		return nil, errors.New("rbac: user, role and session stores are required")
	}
	return &RBACService{users: users, roles: roles, sessions: sessions, now: time.Now}, nil
}

// EnsureSystemRoles creates missing built-in roles and resets the
// permission sets of existing ones to their defaults.
func (s *RBACService) EnsureSystemRoles(ctx context.Context) error {
	for _, def := range SystemRoles() {
		existing, err := s.roles.GetRoleByName(ctx, def.Name)
		switch {
		case errors.Is(err, apperr.ErrNotFound):
			role := def
			role.ID = ids.New()
			if err := s.roles.CreateRole(ctx, &role); err != nil && !errors.Is(err, apperr.ErrConflict) {
				return fmt.Errorf("seed role %s: %w", def.Name, err)
			}
		case err != nil:
			return fmt.Errorf("load role %s: %w", def.Name, err)
		default:
			existing.Permissions = def.Permissions
			existing.IsSystem = true
			existing.InheritPermissions = false
			existing.InheritsFrom = nil
			if _, err := s.roles.UpdateRole(ctx, existing); err != nil {
				return fmt.Errorf("sync role %s: %w", def.Name, err)
			}
		}
	}
	return nil
}

// ListPermissions returns the role's own permissions and, when inheritance is
// enabled, those of its parents. Each role is visited at most once, so a
// cyclic inheritsFrom chain terminates.
func (s *RBACService) ListPermissions(ctx context.Context, role Role) (PermissionSet, error) {
	set := PermissionSet{}
	if err := s.collect(ctx, role, set, map[string]struct{}{}); err != nil {
		return nil, err
	}
	return set, nil
}

func (s *RBACService) collect(ctx context.Context, role Role, set PermissionSet, visited map[string]struct{}) error {
	if role.ID != "" {
		if _, ok := visited[role.ID]; ok {
			return nil
		}
		visited[role.ID] = struct{}{}
	}
	set.add(role.Permissions)
	if !role.InheritPermissions {
		return nil
	}
	for _, parentID := range role.InheritsFrom {
		if _, ok := visited[parentID]; ok {
			continue
		}
		parent, err := s.roles.GetRole(ctx, parentID)
		if errors.Is(err, apperr.ErrNotFound) {
			obs.From(ctx).Warn("skipping unresolved parent role",
				zap.String("role_id", role.ID), zap.String("parent_id", parentID))
			continue
		}
		if err != nil {
			return fmt.Errorf("load parent role %s: %w", parentID, err)
		}
		if err := s.collect(ctx, parent, set, visited); err != nil {
			return err
		}
	}
	return nil
}

// EffectivePermissions unions ListPermissions over every role the user
// references. Unresolvable role references are skipped.
func (s *RBACService) EffectivePermissions(ctx context.Context, user User) (PermissionSet, error) {
	set := PermissionSet{}
	if len(user.Roles) == 0 {
		return set, nil
	}
	roles, err := s.roles.GetRoles(ctx, user.Roles)
	if err != nil {
		return nil, fmt.Errorf("load user roles: %w", err)
	}
	if len(roles) < len(user.Roles) {
		obs.From(ctx).Warn("user references unknown roles",
			obs.UserID(user.ID), zap.Int("referenced", len(user.Roles)), zap.Int("resolved", len(roles)))
	}
	visited := map[string]struct{}{}
	for _, role := range roles {
		if err := s.collect(ctx, role, set, visited); err != nil {
			return nil, err
		}
	}
	return set, nil
}

func (s *RBACService) GetRole(ctx context.Context, id string) (Role, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Role{}, apperr.BadRequest("role id is required")
	}
	role, err := s.roles.GetRole(ctx, id)
	if errors.Is(err, apperr.ErrNotFound) {
		return Role{}, apperr.NotFound("role not found")
	}
	return role, err
}

// ListRoles returns roles ordered by hierarchy level, highest first.
func (s *RBACService) ListRoles(ctx context.Context) ([]Role, error) {
	roles, err := s.roles.ListRoles(ctx)
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(roles, func(a, b Role) int {
		if a.HierarchyLevel != b.HierarchyLevel {
			return b.HierarchyLevel - a.HierarchyLevel
		}
		return strings.Compare(a.Name, b.Name)
	})
	return roles, nil
}

func (s *RBACService) CreateRole(ctx context.Context, in RoleInput) (Role, error) {
	name, err := normalizeRoleName(in.Name)
	if err != nil {
		return Role{}, err
	}
	perms, err := NormalizePermissions(in.Permissions)
	if err != nil {
		return Role{}, err
	}
	display := strings.TrimSpace(in.DisplayName)
	if display == "" {
		display = name
	}
	role := Role{
		ID:                 ids.New(),
		Name:               name,
		DisplayName:        display,
		Description:        strings.TrimSpace(in.Description),
		Permissions:        perms,
		HierarchyLevel:     in.HierarchyLevel,
		InheritPermissions: in.InheritPermissions,
		InheritsFrom:       dedupeStrings(in.InheritsFrom),
	}
	if err := s.checkParents(ctx, role.ID, role.InheritsFrom); err != nil {
		return Role{}, err
	}
	if err := s.roles.CreateRole(ctx, &role); err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			return Role{}, apperr.Conflict(fmt.Sprintf("role %q already exists", name))
		}
		return Role{}, err
	}
	return role, nil
}

// UpdateRole applies upd and returns the role before and after the change.
// System roles only accept hierarchy level changes.
func (s *RBACService) UpdateRole(ctx context.Context, id string, upd RoleUpdate) (before, after Role, err error) {
	before, err = s.GetRole(ctx, id)
	if err != nil {
		return Role{}, Role{}, err
	}
	if before.IsSystem && !upd.onlyHierarchy() {
		return Role{}, Role{}, apperr.Forbidden("system roles only allow hierarchy level changes")
	}
	if len(upd.Unsupported) > 0 {
		return Role{}, Role{}, apperr.BadRequest("unsupported fields: " + strings.Join(upd.Unsupported, ", "))
	}
	if upd.Name != nil {
		name, err := normalizeRoleName(*upd.Name)
		if err != nil {
			return Role{}, Role{}, err
		}
		upd.Name = &name
	}
	if upd.DisplayName != nil {
		v := strings.TrimSpace(*upd.DisplayName)
		if v == "" {
			return Role{}, Role{}, apperr.BadRequest("display name cannot be empty")
		}
		upd.DisplayName = &v
	}
	if upd.Description != nil {
		v := strings.TrimSpace(*upd.Description)
		upd.Description = &v
	}
	if upd.Permissions != nil {
		perms, err := NormalizePermissions(*upd.Permissions)
		if err != nil {
			return Role{}, Role{}, err
		}
		upd.Permissions = &perms
	}
	if upd.InheritsFrom != nil {
		parents := dedupeStrings(*upd.InheritsFrom)
		if err := s.checkParents(ctx, before.ID, parents); err != nil {
			return Role{}, Role{}, err
		}
		upd.InheritsFrom = &parents
	}
	next := upd.apply(before)
	after, err = s.roles.UpdateRole(ctx, next)
	if errors.Is(err, apperr.ErrNotFound) {
		return Role{}, Role{}, apperr.NotFound("role not found")
	}
	if errors.Is(err, apperr.ErrConflict) {
		return Role{}, Role{}, apperr.Conflict(fmt.Sprintf("role %q already exists", next.Name))
	}
	if err != nil {
		return Role{}, Role{}, err
	}
	return before, after, nil
}

// DeleteRole removes a non-system role that no user references.
func (s *RBACService) DeleteRole(ctx context.Context, id string) (Role, error) {
	role, err := s.GetRole(ctx, id)
	if err != nil {
		return Role{}, err
	}
	if role.IsSystem {
		return Role{}, apperr.Forbidden("system roles cannot be deleted")
	}
	n, err := s.users.CountUsersWithRole(ctx, role.ID)
	if err != nil {
		return Role{}, err
	}
	if n > 0 {
		return Role{}, apperr.Conflict(fmt.Sprintf("role %q is assigned to %d user(s)", role.Name, n))
	}
	if err := s.roles.DeleteRole(ctx, role.ID); err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			return Role{}, apperr.Conflict(fmt.Sprintf("role %q is still referenced", role.Name))
		}
		return Role{}, err
	}
	return role, nil
}

// checkParents rejects unknown parents and edges that would make roleID
// reachable from itself.
func (s *RBACService) checkParents(ctx context.Context, roleID string, parents []string) error {
	for _, p := range parents {
		if p == roleID {
			return apperr.BadRequest("a role cannot inherit from itself")
		}
		if _, err := s.roles.GetRole(ctx, p); err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				return apperr.BadRequest(fmt.Sprintf("parent role %s does not exist", p))
			}
			return err
		}
	}
	visited := map[string]struct{}{}
	queue := slices.Clone(parents)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if id == roleID {
			return apperr.BadRequest("role inheritance would create a cycle")
		}
		if _, ok := visited[id]; ok {
			continue
		}
		visited[id] = struct{}{}
		role, err := s.roles.GetRole(ctx, id)
		if errors.Is(err, apperr.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		queue = append(queue, role.InheritsFrom...)
	}
	return nil
}

func (s *RBACService) GetUser(ctx context.Context, id string) (User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return User{}, apperr.BadRequest("user id is required")
	}
	u, err := s.users.GetUser(ctx, id)
	if errors.Is(err, apperr.ErrNotFound) {
		return User{}, apperr.NotFound("user not found")
	}
	return u, err
}

func (s *RBACService) ListUsers(ctx context.Context) ([]User, error) {
	return s.users.ListUsers(ctx)
}

// UpdateProfile changes the display name of a user.
func (s *RBACService) UpdateProfile(ctx context.Context, userID, name string) (before, after User, err error) {
	before, err = s.GetUser(ctx, userID)
	if err != nil {
		return User{}, User{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return User{}, User{}, apperr.BadRequest("name cannot be empty")
	}
	after, err = s.users.UpdateUser(ctx, before.ID, UserUpdate{Name: &name})
	if err != nil {
		return User{}, User{}, err
	}
	return before, after, nil
}

// CheckRoles dedupes roleIDs and fails with NotFound on the first id that
// does not resolve. It writes nothing.
func (s *RBACService) CheckRoles(ctx context.Context, roleIDs []string) ([]string, error) {
	roleIDs = dedupeStrings(roleIDs)
	if len(roleIDs) == 0 {
		return nil, nil
	}
	found, err := s.roles.GetRoles(ctx, roleIDs)
	if err != nil {
		return nil, err
	}
	if len(found) == len(roleIDs) {
		return roleIDs, nil
	}
	known := make(map[string]struct{}, len(found))
	for _, r := range found {
		known[r.ID] = struct{}{}
	}
	for _, id := range roleIDs {
		if _, ok := known[id]; !ok {
			return nil, apperr.NotFound(fmt.Sprintf("role %s not found", id))
		}
	}
	return roleIDs, nil
}

// AssignRoles replaces the user's role set. Every role must exist.
func (s *RBACService) AssignRoles(ctx context.Context, userID string, roleIDs []string) (before, after User, err error) {
	before, err = s.GetUser(ctx, userID)
	if err != nil {
		return User{}, User{}, err
	}
	roleIDs, err = s.CheckRoles(ctx, roleIDs)
	if err != nil {
		return User{}, User{}, err
	}
	if err := s.users.SetUserRoles(ctx, before.ID, roleIDs); err != nil {
		return User{}, User{}, err
	}
	after = before
	after.Roles = roleIDs
	return before, after, nil
}

// SetUserActive suspends or reactivates a user. Callers cannot suspend
// themselves; suspension revokes every session of the target.
func (s *RBACService) SetUserActive(ctx context.Context, actorID, userID string, active bool) (User, error) {
	if !active && strings.TrimSpace(actorID) == strings.TrimSpace(userID) {
		return User{}, apperr.BadRequest("you cannot suspend your own account")
	}
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return User{}, err
	}
	if err := s.users.SetUserActive(ctx, user.ID, active); err != nil {
		return User{}, err
	}
	user.Active = active
	if !active {
		n, err := s.sessions.RevokeUserSessions(ctx, user.ID, s.now().UTC())
		if err != nil {
			return User{}, fmt.Errorf("revoke sessions: %w", err)
		}
		obs.From(ctx).Info("user suspended", obs.UserID(user.ID), zap.Int("sessions_revoked", n))
	}
	return user, nil
}

func dedupeStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := set[v]; ok {
			continue
		}
		set[v] = struct{}{}
		result = append(result, v)
	}
	return result
}
