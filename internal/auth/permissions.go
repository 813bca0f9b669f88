package auth

import (
	"fmt"
	"slices"
	"strings"

	"netcrew.io/internal/apperr"
)

// Permission names one allowed action on one resource kind.
type Permission string

const (
	PermUsersRead    Permission = "users:read"
	PermUsersUpdate  Permission = "users:update"
	PermUsersSuspend Permission = "users:suspend"

	PermRolesRead   Permission = "roles:read"
	PermRolesCreate Permission = "roles:create"
	PermRolesUpdate Permission = "roles:update"
	PermRolesDelete Permission = "roles:delete"
	PermRoleAssign  Permission = "roles:assign"

	PermAuditRead Permission = "audit:read"

	PermSchedulesRead   Permission = "schedules:read"
	PermSchedulesCreate Permission = "schedules:create"
	PermSchedulesUpdate Permission = "schedules:update"
	PermSchedulesDelete Permission = "schedules:delete"

	PermTimesheetsRead    Permission = "timesheets:read"
	PermTimesheetsApprove Permission = "timesheets:approve"

	PermInvoicesRead   Permission = "invoices:read"
	PermInvoicesCreate Permission = "invoices:create"

	PermNetworkRead Permission = "network:read"
	PermNetworkEdit Permission = "network:edit"
)

// CatalogEntry documents one permission.
type CatalogEntry struct {
	Key         Permission `json:"key"`
	Description string     `json:"description"`
}

// Catalog is the closed set of permissions the service understands.
var Catalog = []CatalogEntry{
	{PermUsersRead, "List and view user accounts"},
	{PermUsersUpdate, "Edit user profiles"},
	{PermUsersSuspend, "Suspend and reactivate users"},
	{PermRolesRead, "View roles and the permission catalog"},
	{PermRolesCreate, "Create roles"},
	{PermRolesUpdate, "Edit roles"},
	{PermRolesDelete, "Delete roles"},
	{PermRoleAssign, "Assign roles to users"},
	{PermAuditRead, "Read the audit trail"},
	{PermSchedulesRead, "View shift schedules"},
	{PermSchedulesCreate, "Create shifts"},
	{PermSchedulesUpdate, "Edit shifts"},
	{PermSchedulesDelete, "Delete shifts"},
	{PermTimesheetsRead, "View timesheets"},
	{PermTimesheetsApprove, "Approve timesheets"},
	{PermInvoicesRead, "View invoices"},
	{PermInvoicesCreate, "Create invoices"},
	{PermNetworkRead, "View network designs"},
	{PermNetworkEdit, "Edit network designs"},
}

var catalogIndex = func() map[Permission]struct{} {
	m := make(map[Permission]struct{}, len(Catalog))
	for _, e := range Catalog {
		m[e.Key] = struct{}{}
	}
	return m
}()

// IsKnownPermission reports whether p is part of the catalog.
func IsKnownPermission(p Permission) bool {
	_, ok := catalogIndex[p]
	return ok
}

// AllPermissions returns every catalog key.
func AllPermissions() []Permission {
	out := make([]Permission, 0, len(Catalog))
	for _, e := range Catalog {
		out = append(out, e.Key)
	}
	return out
}

// ValidatePermissions rejects any key outside the catalog.
func ValidatePermissions(keys []string) error {
	_, err := NormalizePermissions(keys)
	return err
}

// NormalizePermissions trims, de-duplicates and sorts keys, rejecting any
// key outside the catalog.
func NormalizePermissions(keys []string) ([]string, error) {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	var unknown []string
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		if !IsKnownPermission(Permission(k)) {
			unknown = append(unknown, k)
			continue
		}
		out = append(out, k)
	}
	if len(unknown) > 0 {
		return nil, apperr.BadRequest(fmt.Sprintf("unknown permissions: %s", strings.Join(unknown, ", ")))
	}
	slices.Sort(out)
	return out, nil
}

// System role names.
const (
	RoleAdmin    = "admin"
	RoleManager  = "manager"
	RoleEmployee = "employee"
)

// SystemRoles are seeded at boot and protected from modification.
func SystemRoles() []Role {
	keys := func(perms ...Permission) []string {
		out := make([]string, len(perms))
		for i, p := range perms {
			out[i] = string(p)
		}
		return out
	}
	return []Role{
		{
			Name:           RoleAdmin,
			DisplayName:    "Administrator",
			Description:    "Full access to every resource",
			Permissions:    keys(AllPermissions()...),
			HierarchyLevel: 100,
			IsSystem:       true,
		},
		{
			Name:        RoleManager,
			DisplayName: "Manager",
			Description: "Runs crews, schedules and timesheets",
			Permissions: keys(
				PermUsersRead, PermRolesRead,
				PermSchedulesRead, PermSchedulesCreate, PermSchedulesUpdate, PermSchedulesDelete,
				PermTimesheetsRead, PermTimesheetsApprove,
				PermInvoicesRead, PermNetworkRead, PermNetworkEdit,
			),
			HierarchyLevel: 50,
			IsSystem:       true,
		},
		{
			Name:           RoleEmployee,
			DisplayName:    "Employee",
			Description:    "Field technician access",
			Permissions:    keys(PermSchedulesRead, PermTimesheetsRead, PermNetworkRead),
			HierarchyLevel: 10,
			IsSystem:       true,
		},
	}
}
