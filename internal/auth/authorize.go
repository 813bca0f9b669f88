package auth

import "slices"

// PermissionSet is a flattened, de-duplicated set of permissions.
type PermissionSet map[Permission]struct{}

// NewPermissionSet builds a set from raw keys.
func NewPermissionSet(keys ...string) PermissionSet {
	set := make(PermissionSet, len(keys))
	for _, k := range keys {
		set[Permission(k)] = struct{}{}
	}
	return set
}

func (s PermissionSet) add(keys []string) {
	for _, k := range keys {
		s[Permission(k)] = struct{}{}
	}
}

// HasPermission reports whether required is a member of s.
func (s PermissionSet) HasPermission(required Permission) bool {
	_, ok := s[required]
	return ok
}

// HasAnyPermission reports whether at least one of required is in s.
func (s PermissionSet) HasAnyPermission(required ...Permission) bool {
	for _, p := range required {
		if s.HasPermission(p) {
			return true
		}
	}
	return false
}

// HasAllPermissions reports whether every one of required is in s.
func (s PermissionSet) HasAllPermissions(required ...Permission) bool {
	for _, p := range required {
		if !s.HasPermission(p) {
			return false
		}
	}
	return true
}

// Sorted returns the keys in lexical order.
func (s PermissionSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for p := range s {
		out = append(out, string(p))
	}
	slices.Sort(out)
	return out
}

// Principal is an authenticated caller with its effective permissions.
type Principal struct {
	User        User
	Session     Session
	Permissions PermissionSet
}

// HasPermission reports whether the principal can execute the action.
func (p Principal) HasPermission(perm Permission) bool {
	return p.Permissions.HasPermission(perm)
}
