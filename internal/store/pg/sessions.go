package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"netcrew.io/internal/apperr"
	"netcrew.io/internal/auth"
)

const sessionColumns = `id, user_id, coalesce(ip, ''), coalesce(user_agent, ''), coalesce(browser, ''),
	coalesce(os, ''), coalesce(device, ''), two_factor_pending, created_at, last_active_at, expires_at, revoked_at`

func scanSession(row rowScanner) (auth.Session, error) {
	var (
		sess    auth.Session
		revoked sql.NullTime
	)
	if err := row.Scan(&sess.ID, &sess.UserID, &sess.Device.IP, &sess.Device.UserAgent, &sess.Device.Browser,
		&sess.Device.OS, &sess.Device.Kind, &sess.TwoFactorPending, &sess.CreatedAt, &sess.LastActiveAt,
		&sess.ExpiresAt, &revoked); err != nil {
		return auth.Session{}, err
	}
	if revoked.Valid {
		t := revoked.Time
		sess.RevokedAt = &t
	}
	return sess, nil
}

func (s *Store) CreateSession(ctx context.Context, sess *auth.Session) error {
	_, err := s.db.ExecContext(ctx, `
		insert into sessions (id, user_id, ip, user_agent, browser, os, device, two_factor_pending,
			created_at, last_active_at, expires_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, sess.ID, sess.UserID, nullIfEmpty(sess.Device.IP), nullIfEmpty(sess.Device.UserAgent),
		nullIfEmpty(sess.Device.Browser), nullIfEmpty(sess.Device.OS), nullIfEmpty(sess.Device.Kind),
		sess.TwoFactorPending, sess.CreatedAt, sess.LastActiveAt, sess.ExpiresAt)
	if err != nil {
		switch {
		case isPgCode(err, pgErrUniqueViolation):
			return apperr.ErrConflict
		case isPgCode(err, pgErrForeignKeyViolation):
			return apperr.ErrNotFound
		}
		return err
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, id string) (auth.Session, error) {
	sess, err := scanSession(s.db.QueryRowContext(ctx, `select `+sessionColumns+` from sessions where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Session{}, apperr.ErrNotFound
	}
	return sess, err
}

func (s *Store) ListSessions(ctx context.Context, userID string, now time.Time) ([]auth.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+sessionColumns+`
		from sessions
		where user_id = $1 and revoked_at is null and expires_at > $2
		order by last_active_at desc
	`, userID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []auth.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// RevokeSession only matches unrevoked rows, so revocation happens once.
func (s *Store) RevokeSession(ctx context.Context, userID, id string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		update sessions set revoked_at = $3
		where id = $1 and user_id = $2 and revoked_at is null
	`, id, userID, at)
	if err != nil {
		return false, err
	}
	n, err := rowsAffected(res)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) RevokeUserSessions(ctx context.Context, userID string, at time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`update sessions set revoked_at = $2 where user_id = $1 and revoked_at is null`, userID, at)
	if err != nil {
		return 0, err
	}
	n, err := rowsAffected(res)
	return int(n), err
}

func (s *Store) TouchSession(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		update sessions set last_active_at = greatest(last_active_at, $2)
		where id = $1 and revoked_at is null
	`, id, at)
	return err
}

func (s *Store) CompleteTwoFactor(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`update sessions set two_factor_pending = false where id = $1 and revoked_at is null`, id)
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
