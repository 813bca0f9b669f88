package pg

import (
	"context"
	"database/sql"
	"errors"

	"netcrew.io/internal/apperr"
	"netcrew.io/internal/auth"
)

const roleColumns = `id, name, display_name, description, permissions, hierarchy_level, is_system,
	inherit_permissions, inherits_from, created_at, updated_at`

func scanRole(row rowScanner) (auth.Role, error) {
	var (
		r        auth.Role
		rawPerms []byte
		rawInh   []byte
	)
	if err := row.Scan(&r.ID, &r.Name, &r.DisplayName, &r.Description, &rawPerms, &r.HierarchyLevel, &r.IsSystem,
		&r.InheritPermissions, &rawInh, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return auth.Role{}, err
	}
	var err error
	if r.Permissions, err = decodeStrings(rawPerms); err != nil {
		return auth.Role{}, err
	}
	if r.Permissions == nil {
		r.Permissions = []string{}
	}
	if r.InheritsFrom, err = decodeStrings(rawInh); err != nil {
		return auth.Role{}, err
	}
	return r, nil
}

func (s *Store) CreateRole(ctx context.Context, role *auth.Role) error {
	perms, err := jsonStrings(role.Permissions)
	if err != nil {
		return err
	}
	inherits, err := jsonStrings(role.InheritsFrom)
	if err != nil {
		return err
	}
	err = s.db.QueryRowContext(ctx, `
		insert into roles (id, name, display_name, description, permissions, hierarchy_level, is_system,
			inherit_permissions, inherits_from)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		returning created_at, updated_at
	`, role.ID, role.Name, role.DisplayName, role.Description, perms, role.HierarchyLevel, role.IsSystem,
		role.InheritPermissions, inherits,
	).Scan(&role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if isPgCode(err, pgErrUniqueViolation) {
			return apperr.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) GetRole(ctx context.Context, id string) (auth.Role, error) {
	r, err := scanRole(s.db.QueryRowContext(ctx, `select `+roleColumns+` from roles where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Role{}, apperr.ErrNotFound
	}
	return r, err
}

func (s *Store) GetRoleByName(ctx context.Context, name string) (auth.Role, error) {
	r, err := scanRole(s.db.QueryRowContext(ctx, `select `+roleColumns+` from roles where name = $1`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Role{}, apperr.ErrNotFound
	}
	return r, err
}

// GetRoles loads the given roles; ids without a row are left out.
func (s *Store) GetRoles(ctx context.Context, ids []string) ([]auth.Role, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `select `+roleColumns+` from roles where id = any($1) order by name`, ids)
	if err != nil {
		return nil, err
	}
	return collectRoles(rows)
}

func (s *Store) ListRoles(ctx context.Context) ([]auth.Role, error) {
	rows, err := s.db.QueryContext(ctx, `select `+roleColumns+` from roles order by name`)
	if err != nil {
		return nil, err
	}
	return collectRoles(rows)
}

func collectRoles(rows *sql.Rows) ([]auth.Role, error) {
	defer rows.Close()
	var result []auth.Role
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// UpdateRole overwrites every mutable column. The name is immutable.
func (s *Store) UpdateRole(ctx context.Context, role auth.Role) (auth.Role, error) {
	perms, err := jsonStrings(role.Permissions)
	if err != nil {
		return auth.Role{}, err
	}
	inherits, err := jsonStrings(role.InheritsFrom)
	if err != nil {
		return auth.Role{}, err
	}
	updated, err := scanRole(s.db.QueryRowContext(ctx, `
		update roles
		set name = $2, display_name = $3, description = $4, permissions = $5, hierarchy_level = $6,
			is_system = $7, inherit_permissions = $8, inherits_from = $9, updated_at = now()
		where id = $1
		returning `+roleColumns,
		role.ID, role.Name, role.DisplayName, role.Description, perms, role.HierarchyLevel, role.IsSystem,
		role.InheritPermissions, inherits))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return auth.Role{}, apperr.ErrNotFound
	case isPgCode(err, pgErrUniqueViolation):
		return auth.Role{}, apperr.ErrConflict
	}
	return updated, err
}

// DeleteRole fails with ErrConflict while user_roles still references the role.
func (s *Store) DeleteRole(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from roles where id = $1`, id)
	if err != nil {
		if isPgCode(err, pgErrForeignKeyViolation) {
			return apperr.ErrConflict
		}
		return err
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}
