package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"netcrew.io/internal/apperr"
	"netcrew.io/internal/schedule"
)

const shiftColumns = `id, employee_id, created_by, coalesce(location_id, ''), starts_at, ends_at, coalesce(notes, ''), created_at`

func scanShift(row rowScanner) (schedule.Shift, error) {
	var sh schedule.Shift
	err := row.Scan(&sh.ID, &sh.EmployeeID, &sh.CreatedBy, &sh.LocationID, &sh.StartsAt, &sh.EndsAt, &sh.Notes, &sh.CreatedAt)
	return sh, err
}

// CreateShift relies on the shifts_no_overlap exclusion constraint to close
// the window between the service's overlap check and the insert.
func (s *Store) CreateShift(ctx context.Context, sh *schedule.Shift) error {
	_, err := s.db.ExecContext(ctx, `
		insert into shifts (id, employee_id, created_by, location_id, starts_at, ends_at, notes, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, sh.ID, sh.EmployeeID, sh.CreatedBy, nullIfEmpty(sh.LocationID), sh.StartsAt, sh.EndsAt,
		nullIfEmpty(sh.Notes), sh.CreatedAt)
	if err != nil {
		switch {
		case isPgCode(err, pgErrExclusionViolation):
			return apperr.ErrConflict
		case isPgCode(err, pgErrForeignKeyViolation):
			return apperr.ErrNotFound
		}
		return err
	}
	return nil
}

func (s *Store) FindOverlapping(ctx context.Context, employeeID string, startsAt, endsAt time.Time) ([]schedule.Shift, error) {
	return s.queryShifts(ctx, `
		select `+shiftColumns+` from shifts
		where employee_id = $1 and starts_at < $3 and ends_at > $2
		order by starts_at`, employeeID, startsAt, endsAt)
}

func (s *Store) ListShifts(ctx context.Context, employeeID string, from, to time.Time) ([]schedule.Shift, error) {
	clauses := []string{"starts_at < $2", "ends_at > $1"}
	args := []any{from, to}
	if employeeID != "" {
		args = append(args, employeeID)
		clauses = append(clauses, fmt.Sprintf("employee_id = $%d", len(args)))
	}
	return s.queryShifts(ctx, `select `+shiftColumns+` from shifts where `+strings.Join(clauses, " and ")+` order by starts_at`, args...)
}

func (s *Store) queryShifts(ctx context.Context, query string, args ...any) ([]schedule.Shift, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []schedule.Shift
	for rows.Next() {
		sh, err := scanShift(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sh)
	}
	return out, rows.Err()
}

func (s *Store) GetShift(ctx context.Context, id string) (schedule.Shift, error) {
	sh, err := scanShift(s.db.QueryRowContext(ctx, `select `+shiftColumns+` from shifts where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return schedule.Shift{}, apperr.ErrNotFound
	}
	return sh, err
}

func (s *Store) DeleteShift(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from shifts where id = $1`, id)
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
