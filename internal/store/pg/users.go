package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"netcrew.io/internal/apperr"
	"netcrew.io/internal/auth"
)

const userColumns = `
	u.id, coalesce(u.external_id, ''), u.email, u.name, u.password_hash, u.active, u.email_verified,
	coalesce((select json_agg(ur.role_id order by ur.role_id) from user_roles ur where ur.user_id = u.id), '[]'::json),
	coalesce(u.two_factor_secret, ''), u.two_factor_enabled, u.backup_codes, u.last_login_at,
	u.created_at, u.updated_at`

func scanUser(row rowScanner) (auth.User, error) {
	var (
		u         auth.User
		rawRoles  []byte
		rawCodes  []byte
		lastLogin sql.NullTime
	)
	if err := row.Scan(&u.ID, &u.ExternalID, &u.Email, &u.Name, &u.PasswordHash, &u.Active, &u.EmailVerified,
		&rawRoles, &u.TwoFactorSecret, &u.TwoFactorEnabled, &rawCodes, &lastLogin,
		&u.CreatedAt, &u.UpdatedAt); err != nil {
		return auth.User{}, err
	}
	var err error
	if u.Roles, err = decodeStrings(rawRoles); err != nil {
		return auth.User{}, err
	}
	if u.BackupCodes, err = decodeStrings(rawCodes); err != nil {
		return auth.User{}, err
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		u.LastLoginAt = &t
	}
	return u, nil
}

func (s *Store) CreateUser(ctx context.Context, u *auth.User) error {
	codes, err := jsonStrings(u.BackupCodes)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(ctx, `
		insert into users (id, external_id, email, name, password_hash, active, email_verified, backup_codes)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
		returning created_at, updated_at
	`, u.ID, nullIfEmpty(u.ExternalID), u.Email, u.Name, u.PasswordHash, u.Active, u.EmailVerified, codes,
	).Scan(&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if isPgCode(err, pgErrUniqueViolation) {
			return apperr.ErrConflict
		}
		return err
	}
	if err := insertUserRoles(ctx, tx, u.ID, u.Roles); err != nil {
		return err
	}
	return tx.Commit()
}

func insertUserRoles(ctx context.Context, tx *sql.Tx, userID string, roleIDs []string) error {
	for _, roleID := range roleIDs {
		if _, err := tx.ExecContext(ctx,
			`insert into user_roles (user_id, role_id) values ($1, $2) on conflict do nothing`,
			userID, roleID); err != nil {
			if isPgCode(err, pgErrForeignKeyViolation) {
				return apperr.ErrNotFound
			}
			return err
		}
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (auth.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `select `+userColumns+` from users u where u.id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.User{}, apperr.ErrNotFound
	}
	return u, err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (auth.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `select `+userColumns+` from users u where lower(u.email) = lower($1)`, email))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.User{}, apperr.ErrNotFound
	}
	return u, err
}

func (s *Store) ListUsers(ctx context.Context) ([]auth.User, error) {
	rows, err := s.db.QueryContext(ctx, `select `+userColumns+` from users u order by u.created_at, u.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []auth.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *Store) UpdateUser(ctx context.Context, id string, upd auth.UserUpdate) (auth.User, error) {
	var (
		setClauses []string
		args       []any
		idx        = 1
	)
	add := func(column string, value any) {
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", column, idx))
		args = append(args, value)
		idx++
	}
	if upd.Name != nil {
		add("name", *upd.Name)
	}
	if upd.Email != nil {
		add("email", *upd.Email)
	}
	if upd.PasswordHash != nil {
		add("password_hash", *upd.PasswordHash)
	}
	if upd.EmailVerified != nil {
		add("email_verified", *upd.EmailVerified)
	}
	if len(setClauses) > 0 {
		setClauses = append(setClauses, "updated_at = now()")
		query := fmt.Sprintf(`update users set %s where id = $%d`, strings.Join(setClauses, ", "), idx)
		args = append(args, id)
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			if isPgCode(err, pgErrUniqueViolation) {
				return auth.User{}, apperr.ErrConflict
			}
			return auth.User{}, err
		}
		if n, err := rowsAffected(res); err != nil {
			return auth.User{}, err
		} else if n == 0 {
			return auth.User{}, apperr.ErrNotFound
		}
	}
	return s.GetUser(ctx, id)
}

// SetUserRoles replaces the role set in one transaction.
func (s *Store) SetUserRoles(ctx context.Context, id string, roleIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `update users set updated_at = now() where id = $1`, id)
	if err != nil {
		return err
	}
	if n, err := rowsAffected(res); err != nil {
		return err
	} else if n == 0 {
		return apperr.ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `delete from user_roles where user_id = $1`, id); err != nil {
		return err
	}
	if err := insertUserRoles(ctx, tx, id, roleIDs); err != nil {
		return err
	}
	return tx.Commit()
}

// execUser runs a single-row user update and maps zero rows to ErrNotFound.
func (s *Store) execUser(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
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

func (s *Store) SetUserActive(ctx context.Context, id string, active bool) error {
	return s.execUser(ctx, `update users set active = $2, updated_at = now() where id = $1`, id, active)
}

func (s *Store) TouchLogin(ctx context.Context, id string, at time.Time) error {
	return s.execUser(ctx, `update users set last_login_at = $2 where id = $1`, id, at)
}

func (s *Store) CountUsersWithRole(ctx context.Context, roleID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `select count(*) from user_roles where role_id = $1`, roleID).Scan(&n)
	return n, err
}

func (s *Store) SetTwoFactorSecret(ctx context.Context, id, encrypted string) error {
	return s.execUser(ctx, `
		update users
		set two_factor_secret = $2, two_factor_enabled = false, backup_codes = '[]'::jsonb,
			totp_last_counter = null, updated_at = now()
		where id = $1
	`, id, encrypted)
}

func (s *Store) EnableTwoFactor(ctx context.Context, id string, backupHashes []string) error {
	codes, err := jsonStrings(backupHashes)
	if err != nil {
		return err
	}
	return s.execUser(ctx, `
		update users
		set two_factor_enabled = true, backup_codes = $2, updated_at = now()
		where id = $1 and two_factor_secret is not null
	`, id, codes)
}

func (s *Store) ReplaceBackupCodes(ctx context.Context, id string, backupHashes []string) error {
	codes, err := jsonStrings(backupHashes)
	if err != nil {
		return err
	}
	return s.execUser(ctx, `update users set backup_codes = $2, updated_at = now() where id = $1`, id, codes)
}

// ConsumeBackupCode removes hash only if it is still present. Two concurrent
// callers cannot both see a row affected.
func (s *Store) ConsumeBackupCode(ctx context.Context, id, hash string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		update users
		set backup_codes = backup_codes - $2::text, updated_at = now()
		where id = $1 and two_factor_enabled and backup_codes ? $2::text
	`, id, hash)
	if err != nil {
		return false, err
	}
	n, err := rowsAffected(res)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) DisableTwoFactor(ctx context.Context, id string) error {
	return s.execUser(ctx, `
		update users
		set two_factor_enabled = false, two_factor_secret = null, backup_codes = '[]'::jsonb,
			totp_last_counter = null, updated_at = now()
		where id = $1
	`, id)
}

// AdvanceTOTPCounter moves totp_last_counter forward only. A replayed code
// maps to a step that is not greater than the stored one and matches no row.
func (s *Store) AdvanceTOTPCounter(ctx context.Context, id string, step int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		update users
		set totp_last_counter = $2, updated_at = now()
		where id = $1 and (totp_last_counter is null or totp_last_counter < $2)
	`, id, step)
	if err != nil {
		return false, err
	}
	n, err := rowsAffected(res)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
