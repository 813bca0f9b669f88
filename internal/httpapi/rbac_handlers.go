package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"

	"netcrew.io/internal/apperr"
	"netcrew.io/internal/audit"
	"netcrew.io/internal/auth"
	"netcrew.io/internal/cache"
	"netcrew.io/internal/mail"
	"netcrew.io/internal/obs"
)

const (
	rolesCacheKey = "roles:list"
	rolesCacheTTL = 5 * time.Minute
)

type updateUserRequest struct {
	Name  *string   `json:"name" validate:"omitempty,min=1,max=120"`
	Roles *[]string `json:"roles" validate:"omitempty,max=20,dive,entity_id"`
}

type suspendRequest struct {
	// Suspended defaults to true; false reactivates the account.
	Suspended *bool `json:"suspended"`
}

type createRoleRequest struct {
	Name               string   `json:"name" validate:"required,min=2,max=48"`
	DisplayName        string   `json:"display_name" validate:"required,max=80"`
	Description        string   `json:"description" validate:"max=500"`
	Permissions        []string `json:"permissions" validate:"max=100"`
	HierarchyLevel     int      `json:"hierarchy_level" validate:"gte=0,lte=1000"`
	InheritPermissions bool     `json:"inherit_permissions"`
	InheritsFrom       []string `json:"inherits_from" validate:"max=20,dive,entity_id"`
}

type updateRoleRequest struct {
	Name               *string   `json:"name" validate:"omitempty,min=2,max=48"`
	DisplayName        *string   `json:"display_name" validate:"omitempty,min=1,max=80"`
	Description        *string   `json:"description" validate:"omitempty,max=500"`
	Permissions        *[]string `json:"permissions" validate:"omitempty,max=100"`
	HierarchyLevel     *int      `json:"hierarchy_level" validate:"omitempty,gte=0,lte=1000"`
	InheritPermissions *bool     `json:"inherit_permissions"`
	InheritsFrom       *[]string `json:"inherits_from" validate:"omitempty,max=20,dive,entity_id"`

	unsupported []string
}

var updateRoleFields = []string{
	"name", "display_name", "description", "permissions",
	"hierarchy_level", "inherit_permissions", "inherits_from",
}

// UnmarshalJSON keeps the keys it cannot apply so the service can reject
// them: system roles answer 403, other roles 400.
func (b *updateRoleRequest) UnmarshalJSON(data []byte) error {
	type plain updateRoleRequest
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return err
	}
	if err := json.Unmarshal(data, (*plain)(b)); err != nil {
		return err
	}
	b.unsupported = nil
	for k := range keys {
		if !slices.Contains(updateRoleFields, k) {
			b.unsupported = append(b.unsupported, k)
		}
	}
	slices.Sort(b.unsupported)
	return nil
}

func (b updateRoleRequest) update() auth.RoleUpdate {
	return auth.RoleUpdate{
		Name:               b.Name,
		Unsupported:        b.unsupported,
		DisplayName:        b.DisplayName,
		Description:        b.Description,
		Permissions:        b.Permissions,
		HierarchyLevel:     b.HierarchyLevel,
		InheritPermissions: b.InheritPermissions,
		InheritsFrom:       b.InheritsFrom,
	}
}

type roleDetail struct {
	Role                 auth.Role `json:"role"`
	EffectivePermissions []string  `json:"effective_permissions"`
}

func (a *API) mountAdmin(r chi.Router) {
	r.Get("/auth/users", Handle(a, Route{RequirePermission: auth.PermUsersRead}, a.listUsers))
	r.Patch("/auth/users/{id}", Handle(a, Route{RequirePermission: auth.PermUsersUpdate, Params: []string{"id"}}, a.updateUser))
	r.Patch("/auth/users/{id}/suspend", Handle(a, Route{RequirePermission: auth.PermUsersSuspend, Params: []string{"id"}}, a.suspendUser))
}

func (a *API) mountRoles(r chi.Router) {
	r.Get("/roles", Handle(a, Route{RequirePermission: auth.PermRolesRead}, a.listRoles))
	r.Post("/roles", Handle(a, Route{RequirePermission: auth.PermRolesCreate}, a.createRole))
	r.Get("/roles/{id}", Handle(a, Route{RequirePermission: auth.PermRolesRead, Params: []string{"id"}}, a.getRole))
	r.Patch("/roles/{id}", Handle(a, Route{RequirePermission: auth.PermRolesUpdate, Params: []string{"id"}}, a.updateRole))
	r.Delete("/roles/{id}", Handle(a, Route{RequirePermission: auth.PermRolesDelete, Params: []string{"id"}}, a.deleteRole))
	r.Get("/permissions", Handle(a, Route{RequirePermission: auth.PermRolesRead}, a.listPermissions))
}

func (a *API) listUsers(ctx context.Context, _ *Request[NoBody]) (Response, error) {
	users, err := a.rbac.ListUsers(ctx)
	if err != nil {
		return Response{}, err
	}
	return OK(users), nil
}

// updateUser edits a profile and, with roles:assign, the role set. The
// extra permission and the role ids are checked before anything is written.
func (a *API) updateUser(ctx context.Context, req *Request[updateUserRequest]) (Response, error) {
	body := req.Body
	if body.Name == nil && body.Roles == nil {
		return Response{}, apperr.BadRequest("nothing to update")
	}
	if body.Roles != nil && !req.Principal.HasPermission(auth.PermRoleAssign) {
		obs.AuthDecisions.WithLabelValues("forbidden").Inc()
		return Response{}, apperr.Forbidden("insufficient permissions to assign roles")
	}
	id := req.Param("id")
	if _, err := a.rbac.GetUser(ctx, id); err != nil {
		return Response{}, err
	}
	if body.Roles != nil {
		roles, err := a.rbac.CheckRoles(ctx, *body.Roles)
		if err != nil {
			return Response{}, err
		}
		body.Roles = &roles
	}

	var user auth.User
	if body.Name != nil {
		before, after, err := a.rbac.UpdateProfile(ctx, id, *body.Name)
		if err != nil {
			return Response{}, err
		}
		a.record(req.HTTP, audit.Entry{
			Action:       audit.ActionUserUpdate,
			ResourceType: "user",
			ResourceID:   after.ID,
			ResourceName: after.Email,
			Changes:      &audit.Changes{Before: map[string]any{"name": before.Name}, After: map[string]any{"name": after.Name}},
			Success:      true,
		})
		user = after
	}
	if body.Roles != nil {
		before, after, err := a.rbac.AssignRoles(ctx, id, *body.Roles)
		if err != nil {
			return Response{}, err
		}
		a.record(req.HTTP, audit.Entry{
			Action:       audit.ActionRolesChanged,
			Severity:     audit.SeverityWarning,
			ResourceType: "user",
			ResourceID:   after.ID,
			ResourceName: after.Email,
			Changes:      &audit.Changes{Before: map[string]any{"roles": before.Roles}, After: map[string]any{"roles": after.Roles}},
			Success:      true,
		})
		a.accounts.Notify(ctx, mail.RolesChanged(after.Email, after.Name, a.roleNames(ctx, after.Roles)))
		user = after
	}
	return OK(user, "user updated"), nil
}

func (a *API) suspendUser(ctx context.Context, req *Request[suspendRequest]) (Response, error) {
	suspend := req.Body.Suspended == nil || *req.Body.Suspended
	user, err := a.rbac.SetUserActive(ctx, req.Principal.User.ID, req.Param("id"), !suspend)
	if err != nil {
		return Response{}, err
	}
	entry := audit.Entry{
		Action:       audit.ActionUserReactivated,
		Severity:     audit.SeverityWarning,
		ResourceType: "user",
		ResourceID:   user.ID,
		ResourceName: user.Email,
		Changes:      &audit.Changes{Before: map[string]any{"active": suspend}, After: map[string]any{"active": !suspend}},
		Success:      true,
	}
	notice := mail.AccountReactivated(user.Email, user.Name)
	msg := "user reactivated"
	if suspend {
		entry.Action = audit.ActionUserSuspended
		entry.Severity = audit.SeverityCritical
		notice = mail.AccountSuspended(user.Email, user.Name)
		msg = "user suspended"
	}
	a.record(req.HTTP, entry)
	a.accounts.Notify(ctx, notice)
	return OK(user, msg), nil
}

// roleNames resolves ids for notification text; unknown ids are kept as is.
func (a *API) roleNames(ctx context.Context, ids []string) []string {
	roles, err := a.rbac.ListRoles(ctx)
	if err != nil {
		return ids
	}
	byID := make(map[string]string, len(roles))
	for _, r := range roles {
		byID[r.ID] = r.DisplayName
	}
	out := make([]string, len(ids))
	for i, id := range ids {
		if name, ok := byID[id]; ok && name != "" {
			out[i] = name
			continue
		}
		out[i] = id
	}
	return out
}

// listRoles serves from the cache when it can. Cache failures fall through
// to the store.
func (a *API) listRoles(ctx context.Context, _ *Request[NoBody]) (Response, error) {
	var roles []auth.Role
	err := cache.GetJSON(ctx, a.cache, rolesCacheKey, &roles)
	if err == nil {
		return OK(roles), nil
	}
	if !errors.Is(err, cache.ErrNotFound) {
		obs.From(ctx).Warn("role cache read failed", obs.Err(err))
	}
	roles, err = a.rbac.ListRoles(ctx)
	if err != nil {
		return Response{}, err
	}
	if err := cache.SetJSON(ctx, a.cache, rolesCacheKey, roles, rolesCacheTTL); err != nil {
		obs.From(ctx).Warn("role cache write failed", obs.Err(err))
	}
	return OK(roles), nil
}

func (a *API) invalidateRoles(ctx context.Context) {
	if err := a.cache.Delete(ctx, rolesCacheKey); err != nil {
		obs.From(ctx).Warn("role cache invalidation failed", obs.Err(err))
	}
}

func (a *API) getRole(ctx context.Context, req *Request[NoBody]) (Response, error) {
	role, err := a.rbac.GetRole(ctx, req.Param("id"))
	if err != nil {
		return Response{}, err
	}
	perms, err := a.rbac.ListPermissions(ctx, role)
	if err != nil {
		return Response{}, err
	}
	return OK(roleDetail{Role: role, EffectivePermissions: perms.Sorted()}), nil
}

func (a *API) createRole(ctx context.Context, req *Request[createRoleRequest]) (Response, error) {
	b := req.Body
	role, err := a.rbac.CreateRole(ctx, auth.RoleInput{
		Name:               b.Name,
		DisplayName:        b.DisplayName,
		Description:        b.Description,
		Permissions:        b.Permissions,
		HierarchyLevel:     b.HierarchyLevel,
		InheritPermissions: b.InheritPermissions,
		InheritsFrom:       b.InheritsFrom,
	})
	if err != nil {
		return Response{}, err
	}
	a.invalidateRoles(ctx)
	a.record(req.HTTP, audit.Entry{
		Action:       audit.ActionRoleCreate,
		ResourceType: "role",
		ResourceID:   role.ID,
		ResourceName: role.Name,
		Changes:      &audit.Changes{After: role},
		Success:      true,
	})
	return Created(role, "role created"), nil
}

func (a *API) updateRole(ctx context.Context, req *Request[updateRoleRequest]) (Response, error) {
	before, after, err := a.rbac.UpdateRole(ctx, req.Param("id"), req.Body.update())
	if err != nil {
		return Response{}, err
	}
	a.invalidateRoles(ctx)
	a.record(req.HTTP, audit.Entry{
		Action:       audit.ActionRoleUpdate,
		Severity:     audit.SeverityWarning,
		ResourceType: "role",
		ResourceID:   after.ID,
		ResourceName: after.Name,
		Changes:      &audit.Changes{Before: before, After: after},
		Success:      true,
	})
	return OK(after, "role updated"), nil
}

func (a *API) deleteRole(ctx context.Context, req *Request[NoBody]) (Response, error) {
	role, err := a.rbac.DeleteRole(ctx, req.Param("id"))
	if err != nil {
		return Response{}, err
	}
	a.invalidateRoles(ctx)
	a.record(req.HTTP, audit.Entry{
		Action:       audit.ActionRoleDelete,
		Severity:     audit.SeverityCritical,
		ResourceType: "role",
		ResourceID:   role.ID,
		ResourceName: role.Name,
		Changes:      &audit.Changes{Before: role},
		Success:      true,
	})
	return OK(nil, "role deleted"), nil
}

func (a *API) listPermissions(context.Context, *Request[NoBody]) (Response, error) {
	return OK(auth.Catalog), nil
}
