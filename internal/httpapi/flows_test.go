package httpapi

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"netcrew.io/internal/audit"
	"netcrew.io/internal/auth"
	"netcrew.io/internal/ids"
	"netcrew.io/internal/schedule"
	"netcrew.io/internal/security/totp"
)

func TestRegisterDuplicateEmailConflicts(t *testing.T) {
	env := newTestAPI(t)
	env.register("a@x.com", "Ana")

	resp := env.do(http.MethodPost, "/api/v1/auth/register", map[string]string{
		"email": "a@x.com", "name": "Ana Again", "password": testPassword,
	}, "")
	require.Equal(t, http.StatusConflict, resp.Status)
	require.False(t, resp.Success)
	require.Contains(t, resp.message(), "already exists")
}

func TestRegisterValidationAndBlacklist(t *testing.T) {
	env := newTestAPI(t)

	resp := env.do(http.MethodPost, "/api/v1/auth/register", map[string]string{"email": "bad"}, "")
	require.Equal(t, http.StatusBadRequest, resp.Status)
	require.Contains(t, resp.Messages, "email must be a valid email address")
	require.Contains(t, resp.Messages, "name is required")

	resp = env.do(http.MethodPost, "/api/v1/auth/register", map[string]string{
		"email": "b@x.com", "name": "Bo", "password": "password123",
	}, "")
	require.Equal(t, http.StatusUnprocessableEntity, resp.Status)
	require.Contains(t, resp.message(), "too common")
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	env := newTestAPI(t)
	env.register("c@x.com", "Cy")

	resp := env.do(http.MethodPost, "/api/v1/auth/login", map[string]string{
		"email": "c@x.com", "password": "not the password",
	}, "")
	require.Equal(t, http.StatusUnauthorized, resp.Status)
	require.Equal(t, []string{"invalid email or password"}, resp.Messages)

	entries, total, err := env.store.ListAudit(context.Background(), audit.Filter{Action: audit.ActionLoginFailed, Limit: 10})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Equal(t, audit.SeverityWarning, entries[0].Severity)
}

func TestRoleAssignmentRequiresRoleAssignPermission(t *testing.T) {
	env := newTestAPI(t)
	ctx := context.Background()
	_, adminToken := env.userWithRole("admin@x.com", auth.RoleAdmin)

	// A role that may edit users but not hand out roles.
	resp := env.do(http.MethodPost, "/api/v1/roles", map[string]any{
		"name":         "hr",
		"display_name": "HR",
		"permissions":  []string{"users:read", "users:update"},
	}, adminToken)
	require.Equal(t, http.StatusCreated, resp.Status, resp.message())

	_, hrToken := env.userWithRole("hr@x.com", "hr")
	target, _ := env.userWithRole("tech@x.com", auth.RoleEmployee)

	resp = env.do(http.MethodPatch, "/api/v1/auth/users/"+target.ID, map[string]any{
		"roles": []string{env.roleID(auth.RoleAdmin)},
	}, hrToken)
	require.Equal(t, http.StatusForbidden, resp.Status)
	require.False(t, resp.Success)

	stored, err := env.store.GetUser(ctx, target.ID)
	require.NoError(t, err)
	require.Equal(t, []string{env.roleID(auth.RoleEmployee)}, stored.Roles)

	// An employee cannot reach the route at all.
	_, empToken := env.userWithRole("emp@x.com", auth.RoleEmployee)
	resp = env.do(http.MethodPatch, "/api/v1/auth/users/"+target.ID, map[string]any{
		"roles": []string{env.roleID(auth.RoleAdmin)},
	}, empToken)
	require.Equal(t, http.StatusForbidden, resp.Status)

	// Renaming is allowed for hr.
	resp = env.do(http.MethodPatch, "/api/v1/auth/users/"+target.ID, map[string]any{"name": "Tech Two"}, hrToken)
	require.Equal(t, http.StatusOK, resp.Status, resp.message())
}

func TestUserUpdateWithUnknownRoleWritesNothing(t *testing.T) {
	env := newTestAPI(t)
	ctx := context.Background()
	_, adminToken := env.userWithRole("admin@x.com", auth.RoleAdmin)
	target, _ := env.userWithRole("tech@x.com", auth.RoleEmployee)

	resp := env.do(http.MethodPatch, "/api/v1/auth/users/"+target.ID, map[string]any{
		"name":  "Changed",
		"roles": []string{env.roleID(auth.RoleManager), ids.New()},
	}, adminToken)
	require.Equal(t, http.StatusNotFound, resp.Status, resp.message())

	stored, err := env.store.GetUser(ctx, target.ID)
	require.NoError(t, err)
	require.Equal(t, target.Name, stored.Name)
	require.Equal(t, []string{env.roleID(auth.RoleEmployee)}, stored.Roles)

	entries, _, err := env.store.ListAudit(ctx, audit.Filter{Action: audit.ActionUserUpdate, Limit: 10})
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestAdminAssignsRolesAuditsAndNotifies(t *testing.T) {
	env := newTestAPI(t)
	_, adminToken := env.userWithRole("admin@x.com", auth.RoleAdmin)
	target, _ := env.userWithRole("tech@x.com", auth.RoleEmployee)

	managerID := env.roleID(auth.RoleManager)
	resp := env.do(http.MethodPatch, "/api/v1/auth/users/"+target.ID, map[string]any{
		"roles": []string{managerID},
	}, adminToken)
	require.Equal(t, http.StatusOK, resp.Status, resp.message())

	var updated auth.User
	resp.decode(t, &updated)
	require.Equal(t, []string{managerID}, updated.Roles)

	entries, _, err := env.store.ListAudit(context.Background(), audit.Filter{Action: audit.ActionRolesChanged, Limit: 10})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, target.ID, entries[0].ResourceID)
	require.NotEmpty(t, entries[0].ActorID)

	sent := env.mailer.Sent()
	require.NotEmpty(t, sent)
	last := sent[len(sent)-1]
	require.Equal(t, "tech@x.com", last.To)
	require.Contains(t, last.Text, "Manager")
}

func TestTwoFactorEnableThenDisableWithBackupCode(t *testing.T) {
	env := newTestAPI(t)
	env.register("d@x.com", "Di")
	token, _ := env.login("d@x.com")

	resp := env.do(http.MethodPost, "/api/v1/auth/2fa/setup", map[string]string{"password": testPassword}, token)
	require.Equal(t, http.StatusOK, resp.Status, resp.message())
	var setup auth.TwoFactorSetup
	resp.decode(t, &setup)
	require.NotEmpty(t, setup.Secret)
	require.True(t, strings.HasPrefix(setup.URI, "otpauth://totp/"))

	code, err := totp.Code(setup.Secret, time.Now())
	require.NoError(t, err)
	resp = env.do(http.MethodPost, "/api/v1/auth/2fa/verify", map[string]string{"code": code}, token)
	require.Equal(t, http.StatusOK, resp.Status, resp.message())
	var codes backupCodesResponse
	resp.decode(t, &codes)
	require.Len(t, codes.BackupCodes, 10)
	for _, c := range codes.BackupCodes {
		require.Regexp(t, `^[0-9A-F]{8}$`, c)
	}

	resp = env.do(http.MethodPost, "/api/v1/auth/2fa/disable", map[string]string{"backup_code": codes.BackupCodes[0]}, token)
	require.Equal(t, http.StatusOK, resp.Status, resp.message())

	resp = env.do(http.MethodGet, "/api/v1/auth/2fa/status", nil, token)
	require.Equal(t, http.StatusOK, resp.Status)
	var st auth.TwoFactorStatus
	resp.decode(t, &st)
	require.False(t, st.Enabled)
	require.Zero(t, st.BackupCodesRemaining)
}

func TestPendingSessionAndSingleUseBackupCode(t *testing.T) {
	env := newTestAPI(t)
	env.register("e@x.com", "Ed")
	token, _ := env.login("e@x.com")

	resp := env.do(http.MethodPost, "/api/v1/auth/2fa/setup", map[string]string{"password": testPassword}, token)
	require.Equal(t, http.StatusOK, resp.Status)
	var setup auth.TwoFactorSetup
	resp.decode(t, &setup)
	code, err := totp.Code(setup.Secret, time.Now())
	require.NoError(t, err)
	resp = env.do(http.MethodPost, "/api/v1/auth/2fa/verify", map[string]string{"code": code}, token)
	require.Equal(t, http.StatusOK, resp.Status)
	var codes backupCodesResponse
	resp.decode(t, &codes)

	pending, required := env.login("e@x.com")
	require.True(t, required)

	resp = env.do(http.MethodGet, "/api/v1/auth/me", nil, pending)
	require.Equal(t, http.StatusUnauthorized, resp.Status, "pending session must not pass RequireAuth")

	resp = env.do(http.MethodPost, "/api/v1/auth/2fa/validate", map[string]string{"backup_code": codes.BackupCodes[3]}, pending)
	require.Equal(t, http.StatusOK, resp.Status, resp.message())
	resp = env.do(http.MethodGet, "/api/v1/auth/me", nil, pending)
	require.Equal(t, http.StatusOK, resp.Status)

	second, _ := env.login("e@x.com")
	resp = env.do(http.MethodPost, "/api/v1/auth/2fa/validate", map[string]string{"backup_code": codes.BackupCodes[3]}, second)
	require.Equal(t, http.StatusBadRequest, resp.Status, "a backup code works once")
	resp = env.do(http.MethodPost, "/api/v1/auth/2fa/validate", map[string]string{"backup_code": strings.ToLower(codes.BackupCodes[4])}, second)
	require.Equal(t, http.StatusOK, resp.Status, resp.message())

	failed, _, err := env.store.ListAudit(context.Background(), audit.Filter{Action: audit.ActionTwoFactorFailed, Limit: 10})
	require.NoError(t, err)
	require.Len(t, failed, 1)
}

func TestSessionRevocationIsMonotonic(t *testing.T) {
	env := newTestAPI(t)
	env.register("f@x.com", "Fi")
	first, _ := env.login("f@x.com")
	other, _ := env.login("f@x.com")

	resp := env.do(http.MethodGet, "/api/v1/auth/me", nil, first)
	require.Equal(t, http.StatusOK, resp.Status)
	var me meResponse
	resp.decode(t, &me)

	resp = env.do(http.MethodGet, "/api/v1/auth/me/sessions", nil, other)
	require.Equal(t, http.StatusOK, resp.Status)
	var sessions []sessionView
	resp.decode(t, &sessions)
	require.Len(t, sessions, 2)

	resp = env.do(http.MethodDelete, "/api/v1/auth/me/sessions/"+me.Session.ID, nil, other)
	require.Equal(t, http.StatusOK, resp.Status, resp.message())

	for i := 0; i < 3; i++ {
		resp = env.do(http.MethodGet, "/api/v1/auth/me", nil, first)
		require.Equal(t, http.StatusUnauthorized, resp.Status)
	}
	resp = env.do(http.MethodDelete, "/api/v1/auth/me/sessions/"+me.Session.ID, nil, other)
	require.Equal(t, http.StatusNotFound, resp.Status)

	resp = env.do(http.MethodGet, "/api/v1/auth/me", nil, other)
	require.Equal(t, http.StatusOK, resp.Status)
}

func TestLogoutClearsSession(t *testing.T) {
	env := newTestAPI(t)
	env.register("g@x.com", "Gil")
	token, _ := env.login("g@x.com")

	resp := env.do(http.MethodPost, "/api/v1/auth/logout", nil, token)
	require.Equal(t, http.StatusOK, resp.Status)
	resp = env.do(http.MethodGet, "/api/v1/auth/me", nil, token)
	require.Equal(t, http.StatusUnauthorized, resp.Status)
}

func TestSessionCookieAuthenticates(t *testing.T) {
	env := newTestAPI(t)
	env.register("h@x.com", "Hal")

	body := strings.NewReader(`{"email":"h@x.com","password":"` + testPassword + `"}`)
	resp, err := env.srv.Client().Post(env.srv.URL+"/api/v1/auth/login", "application/json", body)
	require.NoError(t, err)
	resp.Body.Close()
	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == "netcrew_session" {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	require.True(t, cookie.HttpOnly)

	req, err := http.NewRequest(http.MethodGet, env.srv.URL+"/api/v1/auth/me", nil)
	require.NoError(t, err)
	req.AddCookie(&http.Cookie{Name: cookie.Name, Value: cookie.Value})
	me, err := env.srv.Client().Do(req)
	require.NoError(t, err)
	me.Body.Close()
	require.Equal(t, http.StatusOK, me.StatusCode)
}

func TestSystemRoleAcceptsHierarchyOnly(t *testing.T) {
	env := newTestAPI(t)
	_, adminToken := env.userWithRole("admin@x.com", auth.RoleAdmin)
	managerID := env.roleID(auth.RoleManager)

	resp := env.do(http.MethodPatch, "/api/v1/roles/"+managerID, map[string]any{"display_name": "Boss"}, adminToken)
	require.Equal(t, http.StatusForbidden, resp.Status)

	resp = env.do(http.MethodPatch, "/api/v1/roles/"+managerID, map[string]any{"permissions": []string{"users:read"}}, adminToken)
	require.Equal(t, http.StatusForbidden, resp.Status)

	resp = env.do(http.MethodPatch, "/api/v1/roles/"+managerID, map[string]any{"hierarchy_level": 60}, adminToken)
	require.Equal(t, http.StatusOK, resp.Status, resp.message())
	var role auth.Role
	resp.decode(t, &role)
	require.Equal(t, 60, role.HierarchyLevel)
	require.Equal(t, "Manager", role.DisplayName)

	resp = env.do(http.MethodDelete, "/api/v1/roles/"+managerID, nil, adminToken)
	require.Equal(t, http.StatusForbidden, resp.Status)
}

func TestSystemRoleRejectsRenameAndFlagChanges(t *testing.T) {
	env := newTestAPI(t)
	ctx := context.Background()
	_, adminToken := env.userWithRole("admin@x.com", auth.RoleAdmin)
	managerID := env.roleID(auth.RoleManager)

	for _, body := range []map[string]any{
		{"name": "boss", "hierarchy_level": 55},
		{"is_system": false},
		{"is_system": false, "hierarchy_level": 55},
	} {
		resp := env.do(http.MethodPatch, "/api/v1/roles/"+managerID, body, adminToken)
		require.Equal(t, http.StatusForbidden, resp.Status, "body %v: %s", body, resp.message())
	}

	stored, err := env.store.GetRole(ctx, managerID)
	require.NoError(t, err)
	require.Equal(t, auth.RoleManager, stored.Name)
	require.True(t, stored.IsSystem)
	require.Equal(t, 50, stored.HierarchyLevel)

	entries, _, err := env.store.ListAudit(ctx, audit.Filter{Action: audit.ActionRoleUpdate, Limit: 10})
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestCustomRoleRename(t *testing.T) {
	env := newTestAPI(t)
	_, adminToken := env.userWithRole("admin@x.com", auth.RoleAdmin)

	resp := env.do(http.MethodPost, "/api/v1/roles", map[string]any{"name": "hr", "display_name": "HR"}, adminToken)
	require.Equal(t, http.StatusCreated, resp.Status, resp.message())
	var hr auth.Role
	resp.decode(t, &hr)
	resp = env.do(http.MethodPost, "/api/v1/roles", map[string]any{"name": "ops", "display_name": "Ops"}, adminToken)
	require.Equal(t, http.StatusCreated, resp.Status, resp.message())
	var ops auth.Role
	resp.decode(t, &ops)

	resp = env.do(http.MethodPatch, "/api/v1/roles/"+hr.ID, map[string]any{"name": " People "}, adminToken)
	require.Equal(t, http.StatusOK, resp.Status, resp.message())
	var renamed auth.Role
	resp.decode(t, &renamed)
	require.Equal(t, "people", renamed.Name)
	require.Equal(t, hr.ID, env.roleID("people"))

	resp = env.do(http.MethodPatch, "/api/v1/roles/"+ops.ID, map[string]any{"name": "people"}, adminToken)
	require.Equal(t, http.StatusConflict, resp.Status, resp.message())

	resp = env.do(http.MethodPatch, "/api/v1/roles/"+ops.ID, map[string]any{"name": "Bad Name!"}, adminToken)
	require.Equal(t, http.StatusBadRequest, resp.Status)

	resp = env.do(http.MethodPatch, "/api/v1/roles/"+ops.ID, map[string]any{"is_system": true}, adminToken)
	require.Equal(t, http.StatusBadRequest, resp.Status)
	require.Contains(t, resp.message(), "unsupported fields: is_system")
}

func TestRoleCycleRejectedAndInheritanceResolved(t *testing.T) {
	env := newTestAPI(t)
	_, adminToken := env.userWithRole("admin@x.com", auth.RoleAdmin)

	resp := env.do(http.MethodPost, "/api/v1/roles", map[string]any{
		"name": "dispatch", "display_name": "Dispatch", "permissions": []string{"schedules:read"},
	}, adminToken)
	require.Equal(t, http.StatusCreated, resp.Status, resp.message())
	var parent auth.Role
	resp.decode(t, &parent)

	resp = env.do(http.MethodPost, "/api/v1/roles", map[string]any{
		"name": "lead", "display_name": "Lead", "permissions": []string{"schedules:create"},
		"inherit_permissions": true, "inherits_from": []string{parent.ID},
	}, adminToken)
	require.Equal(t, http.StatusCreated, resp.Status, resp.message())
	var child auth.Role
	resp.decode(t, &child)

	resp = env.do(http.MethodGet, "/api/v1/roles/"+child.ID, nil, adminToken)
	require.Equal(t, http.StatusOK, resp.Status)
	var detail roleDetail
	resp.decode(t, &detail)
	require.Equal(t, []string{"schedules:create", "schedules:read"}, detail.EffectivePermissions)

	resp = env.do(http.MethodPatch, "/api/v1/roles/"+parent.ID, map[string]any{
		"inherit_permissions": true, "inherits_from": []string{child.ID},
	}, adminToken)
	require.Equal(t, http.StatusBadRequest, resp.Status)

	resp = env.do(http.MethodPost, "/api/v1/roles", map[string]any{
		"name": "dispatch", "display_name": "Again",
	}, adminToken)
	require.Equal(t, http.StatusConflict, resp.Status)

	resp = env.do(http.MethodPost, "/api/v1/roles", map[string]any{
		"name": "bogus", "display_name": "Bogus", "permissions": []string{"reactor:meltdown"},
	}, adminToken)
	require.Equal(t, http.StatusBadRequest, resp.Status)
}

func TestRoleListCacheInvalidatedOnWrite(t *testing.T) {
	env := newTestAPI(t)
	ctx := context.Background()
	_, adminToken := env.userWithRole("admin@x.com", auth.RoleAdmin)

	resp := env.do(http.MethodGet, "/api/v1/roles", nil, adminToken)
	require.Equal(t, http.StatusOK, resp.Status)
	var roles []auth.Role
	resp.decode(t, &roles)
	require.Len(t, roles, 3)
	_, err := env.cache.Get(ctx, rolesCacheKey)
	require.NoError(t, err, "list should populate the cache")

	resp = env.do(http.MethodPost, "/api/v1/roles", map[string]any{"name": "auditor", "display_name": "Auditor", "permissions": []string{"audit:read"}}, adminToken)
	require.Equal(t, http.StatusCreated, resp.Status)
	_, err = env.cache.Get(ctx, rolesCacheKey)
	require.Error(t, err, "create should invalidate the cache")

	resp = env.do(http.MethodGet, "/api/v1/roles", nil, adminToken)
	resp.decode(t, &roles)
	require.Len(t, roles, 4)
}

func TestAssignedRoleCannotBeDeleted(t *testing.T) {
	env := newTestAPI(t)
	_, adminToken := env.userWithRole("admin@x.com", auth.RoleAdmin)

	resp := env.do(http.MethodPost, "/api/v1/roles", map[string]any{"name": "night", "display_name": "Night shift"}, adminToken)
	require.Equal(t, http.StatusCreated, resp.Status)
	var role auth.Role
	resp.decode(t, &role)
	env.userWithRole("night@x.com", "night")

	resp = env.do(http.MethodDelete, "/api/v1/roles/"+role.ID, nil, adminToken)
	require.Equal(t, http.StatusConflict, resp.Status)
}

func TestSelfSuspensionRejected(t *testing.T) {
	env := newTestAPI(t)
	admin, adminToken := env.userWithRole("admin@x.com", auth.RoleAdmin)

	resp := env.do(http.MethodPatch, "/api/v1/auth/users/"+admin.ID+"/suspend", map[string]any{}, adminToken)
	require.Equal(t, http.StatusBadRequest, resp.Status)
	require.Contains(t, resp.message(), "cannot suspend your own account")

	stored, err := env.store.GetUser(context.Background(), admin.ID)
	require.NoError(t, err)
	require.True(t, stored.Active)
}

func TestSuspensionRevokesSessionsAndNotifies(t *testing.T) {
	env := newTestAPI(t)
	_, adminToken := env.userWithRole("admin@x.com", auth.RoleAdmin)
	target, targetToken := env.userWithRole("tech@x.com", auth.RoleEmployee)

	resp := env.do(http.MethodPatch, "/api/v1/auth/users/"+target.ID+"/suspend", nil, adminToken)
	require.Equal(t, http.StatusOK, resp.Status, resp.message())

	resp = env.do(http.MethodGet, "/api/v1/auth/me", nil, targetToken)
	require.Equal(t, http.StatusUnauthorized, resp.Status)

	resp = env.do(http.MethodPost, "/api/v1/auth/login", map[string]string{"email": "tech@x.com", "password": testPassword}, "")
	require.Equal(t, http.StatusForbidden, resp.Status)

	sent := env.mailer.Sent()
	require.Equal(t, "Your account has been suspended", sent[len(sent)-1].Subject)

	entries, _, err := env.store.ListAudit(context.Background(), audit.Filter{Action: audit.ActionUserSuspended, Limit: 5})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, audit.SeverityCritical, entries[0].Severity)

	resp = env.do(http.MethodPatch, "/api/v1/auth/users/"+target.ID+"/suspend", map[string]any{"suspended": false}, adminToken)
	require.Equal(t, http.StatusOK, resp.Status)
	env.login("tech@x.com")
}

func TestOverlappingShiftRejected(t *testing.T) {
	env := newTestAPI(t)
	_, managerToken := env.userWithRole("boss@x.com", auth.RoleManager)
	employee, employeeToken := env.userWithRole("tech@x.com", auth.RoleEmployee)

	create := func(start, end, token string) apiResponse {
		return env.do(http.MethodPost, "/api/v1/schedules", map[string]string{
			"employee_id": employee.ID, "starts_at": start, "ends_at": end,
		}, token)
	}

	resp := create("2025-01-06T09:00:00Z", "2025-01-06T17:00:00Z", managerToken)
	require.Equal(t, http.StatusCreated, resp.Status, resp.message())

	resp = create("2025-01-06T12:00:00Z", "2025-01-06T20:00:00Z", managerToken)
	require.Equal(t, http.StatusBadRequest, resp.Status)
	require.Contains(t, resp.message(), "already has a scheduled shift")

	resp = create("2025-01-06T17:00:00Z", "2025-01-06T20:00:00Z", managerToken)
	require.Equal(t, http.StatusCreated, resp.Status, "adjacent shifts do not overlap")

	resp = create("2025-01-07T17:00:00Z", "2025-01-07T09:00:00Z", managerToken)
	require.Equal(t, http.StatusBadRequest, resp.Status)
	require.Contains(t, resp.message(), "invalid date range")

	resp = create("2025-01-08T09:00:00Z", "2025-01-08T17:00:00Z", employeeToken)
	require.Equal(t, http.StatusForbidden, resp.Status)

	resp = env.do(http.MethodGet, "/api/v1/schedules?employee_id="+employee.ID+"&from=2025-01-01T00:00:00Z&to=2025-01-31T00:00:00Z", nil, employeeToken)
	require.Equal(t, http.StatusOK, resp.Status)
	var shifts []schedule.Shift
	resp.decode(t, &shifts)
	require.Len(t, shifts, 2)
}

func TestAuditLogListing(t *testing.T) {
	env := newTestAPI(t)
	_, adminToken := env.userWithRole("admin@x.com", auth.RoleAdmin)
	_, empToken := env.userWithRole("tech@x.com", auth.RoleEmployee)

	resp := env.do(http.MethodGet, "/api/v1/audit-logs?action=user.register&limit=1", nil, adminToken)
	require.Equal(t, http.StatusOK, resp.Status, resp.message())
	var page audit.Page
	resp.decode(t, &page)
	require.Equal(t, 2, page.Total)
	require.Len(t, page.Items, 1)
	require.Equal(t, 1, page.Limit)

	resp = env.do(http.MethodGet, "/api/v1/audit-logs?limit=500", nil, adminToken)
	require.Equal(t, http.StatusBadRequest, resp.Status)
	resp = env.do(http.MethodGet, "/api/v1/audit-logs?skip=-1", nil, adminToken)
	require.Equal(t, http.StatusBadRequest, resp.Status)

	resp = env.do(http.MethodGet, "/api/v1/audit-logs", nil, empToken)
	require.Equal(t, http.StatusForbidden, resp.Status)
	resp = env.do(http.MethodGet, "/api/v1/audit-logs", nil, "")
	require.Equal(t, http.StatusUnauthorized, resp.Status)
}

func TestPasswordResetTokenIsSingleUse(t *testing.T) {
	env := newTestAPI(t)
	env.register("r@x.com", "Ray")
	oldToken, _ := env.login("r@x.com")

	resp := env.do(http.MethodPost, "/api/v1/auth/forgot-password/request", map[string]string{"email": "r@x.com"}, "")
	require.Equal(t, http.StatusOK, resp.Status)
	resp = env.do(http.MethodPost, "/api/v1/auth/forgot-password/request", map[string]string{"email": "nobody@x.com"}, "")
	require.Equal(t, http.StatusOK, resp.Status, "unknown emails are not disclosed")

	sent := env.mailer.Sent()
	require.NotEmpty(t, sent)
	link := sent[len(sent)-1].Text
	idx := strings.Index(link, "token=")
	require.Positive(t, idx)
	token := strings.Fields(link[idx+len("token="):])[0]

	body := map[string]string{"token": token, "password": "a brand new passphrase"}
	resp = env.do(http.MethodPost, "/api/v1/auth/forgot-password/confirm", body, "")
	require.Equal(t, http.StatusOK, resp.Status, resp.message())
	resp = env.do(http.MethodPost, "/api/v1/auth/forgot-password/confirm", body, "")
	require.Equal(t, http.StatusBadRequest, resp.Status)

	resp = env.do(http.MethodGet, "/api/v1/auth/me", nil, oldToken)
	require.Equal(t, http.StatusUnauthorized, resp.Status, "reset signs out every session")

	resp = env.do(http.MethodPost, "/api/v1/auth/login", map[string]string{"email": "r@x.com", "password": "a brand new passphrase"}, "")
	require.Equal(t, http.StatusOK, resp.Status)
}

func TestEmailVerificationFlow(t *testing.T) {
	env := newTestAPI(t)
	env.register("v@x.com", "Vi")
	token, _ := env.login("v@x.com")

	resp := env.do(http.MethodPost, "/api/v1/auth/verify-email/request", nil, token)
	require.Equal(t, http.StatusOK, resp.Status, resp.message())

	sent := env.mailer.Sent()
	text := sent[len(sent)-1].Text
	idx := strings.Index(text, "token=")
	require.Positive(t, idx)
	verifyToken := strings.Fields(text[idx+len("token="):])[0]

	resp = env.do(http.MethodPost, "/api/v1/auth/verify-email/confirm", map[string]string{"token": verifyToken}, "")
	require.Equal(t, http.StatusOK, resp.Status, resp.message())
	var user auth.User
	resp.decode(t, &user)
	require.True(t, user.EmailVerified)

	resp = env.do(http.MethodPost, "/api/v1/auth/verify-email/request", nil, token)
	require.Equal(t, http.StatusBadRequest, resp.Status)
}

func TestPermissionCatalogListed(t *testing.T) {
	env := newTestAPI(t)
	_, managerToken := env.userWithRole("boss@x.com", auth.RoleManager)

	resp := env.do(http.MethodGet, "/api/v1/permissions", nil, managerToken)
	require.Equal(t, http.StatusOK, resp.Status)
	var catalog []auth.CatalogEntry
	resp.decode(t, &catalog)
	require.Len(t, catalog, len(auth.Catalog))
}
