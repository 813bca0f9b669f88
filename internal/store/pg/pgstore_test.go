package pg

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"netcrew.io/internal/apperr"
	"netcrew.io/internal/audit"
	"netcrew.io/internal/auth"
	"netcrew.io/internal/schedule"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		db.Close()
	})
	return New(db), mock
}

func TestConsumeBackupCodeConditionalRemoval(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta("set backup_codes = backup_codes - $2::text")).
		WithArgs("u1", "hash").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("backup_codes ? $2::text")).
		WithArgs("u1", "hash").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := store.ConsumeBackupCode(ctx, "u1", "hash")
	if err != nil || !ok {
		t.Fatalf("first consume: ok=%v err=%v", ok, err)
	}
	ok, err = store.ConsumeBackupCode(ctx, "u1", "hash")
	if err != nil || ok {
		t.Fatalf("second consume must report false: ok=%v err=%v", ok, err)
	}
}

func TestRevokeSessionOnlyOnce(t *testing.T) {
	store, mock := newMockStore(t)
	at := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectExec(`update sessions set revoked_at = \$3\s+where id = \$1 and user_id = \$2 and revoked_at is null`).
		WithArgs("s1", "u1", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`update sessions set revoked_at`).
		WithArgs("s1", "u1", at).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if ok, err := store.RevokeSession(context.Background(), "u1", "s1", at); err != nil || !ok {
		t.Fatalf("revoke: ok=%v err=%v", ok, err)
	}
	if ok, err := store.RevokeSession(context.Background(), "u1", "s1", at); err != nil || ok {
		t.Fatalf("second revoke must not match: ok=%v err=%v", ok, err)
	}
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`insert into users`).
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})
	mock.ExpectRollback()

	err := store.CreateUser(context.Background(), &auth.User{ID: "u1", Email: "a@example.com", Name: "A", PasswordHash: "x", Active: true})
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestCreateUserWithRoles(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(`insert into users`).
		WithArgs("u1", nil, "a@example.com", "A", "hash", true, false, []byte("[]")).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
	mock.ExpectExec(`insert into user_roles`).WithArgs("u1", "r1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	u := &auth.User{ID: "u1", Email: "a@example.com", Name: "A", PasswordHash: "hash", Active: true, Roles: []string{"r1"}}
	if err := store.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if !u.CreatedAt.Equal(now) {
		t.Fatalf("created_at not populated")
	}
}

func TestGetUserDecodesJSONColumns(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()
	cols := []string{"id", "external_id", "email", "name", "password_hash", "active", "email_verified",
		"roles", "two_factor_secret", "two_factor_enabled", "backup_codes", "last_login_at", "created_at", "updated_at"}

	mock.ExpectQuery(`from users u where u.id = \$1`).WithArgs("u1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("u1", "", "a@example.com", "A", "hash", true, true,
			[]byte(`["r1","r2"]`), "enc", true, []byte(`["h1"]`), nil, now, now))
	mock.ExpectQuery(`from users u where u.id = \$1`).WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(cols))

	u, err := store.GetUser(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if len(u.Roles) != 2 || u.Roles[1] != "r2" || len(u.BackupCodes) != 1 || u.LastLoginAt != nil {
		t.Fatalf("unexpected user %+v", u)
	}
	if _, err := store.GetUser(context.Background(), "missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDeleteRoleStillReferenced(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`delete from roles where id = \$1`).WithArgs("r1").
		WillReturnError(&pgconn.PgError{Code: pgErrForeignKeyViolation})
	mock.ExpectExec(`delete from roles where id = \$1`).WithArgs("r2").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.DeleteRole(context.Background(), "r1"); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if err := store.DeleteRole(context.Background(), "r2"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUpdateRoleRenameConflict(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`update roles\s+set name = \$2, display_name = \$3`).
		WithArgs("r1", "lead", "Lead", "", sqlmock.AnyArg(), 10, false, false, sqlmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	_, err := store.UpdateRole(context.Background(), auth.Role{ID: "r1", Name: "lead", DisplayName: "Lead", HierarchyLevel: 10})
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestCreateShiftExclusionViolation(t *testing.T) {
	store, mock := newMockStore(t)
	start := time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)

	mock.ExpectExec(`insert into shifts`).
		WillReturnError(&pgconn.PgError{Code: pgErrExclusionViolation})

	err := store.CreateShift(context.Background(), &schedule.Shift{ID: "s1", EmployeeID: "e1", CreatedBy: "a1", StartsAt: start, EndsAt: start.Add(time.Hour), CreatedAt: start})
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestListAuditBuildsFilter(t *testing.T) {
	store, mock := newMockStore(t)
	ok := false
	occurred := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`select count(*) from audit_logs where action = $1 and success = $2`)).
		WithArgs("user.login", false).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))
	mock.ExpectQuery(`from audit_logs where action = \$1 and success = \$2\s+order by occurred_at desc, id desc\s+limit \$3 offset \$4`).
		WithArgs("user.login", false, 5, 10).
		WillReturnRows(sqlmock.NewRows([]string{"id", "action", "severity", "actor_id", "actor_email", "resource_type",
			"resource_id", "resource_name", "metadata", "changes", "success", "ip", "user_agent", "request_id", "occurred_at"}).
			AddRow("a1", "user.login", "warning", "", "", "", "", "", []byte(`{"email":"x@example.com"}`), nil, false,
				"10.0.0.1", "", "req-1", occurred))

	entries, total, err := store.ListAudit(context.Background(), audit.Filter{Action: audit.ActionLogin, Success: &ok, Limit: 5, Skip: 10})
	if err != nil {
		t.Fatalf("ListAudit: %v", err)
	}
	if total != 7 || len(entries) != 1 {
		t.Fatalf("unexpected result total=%d len=%d", total, len(entries))
	}
	if entries[0].Metadata["email"] != "x@example.com" || entries[0].Changes != nil || entries[0].Severity != audit.SeverityWarning {
		t.Fatalf("unexpected entry %+v", entries[0])
	}
}

func TestAdvanceTOTPCounterOnlyMovesForward(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta("where id = $1 and (totp_last_counter is null or totp_last_counter < $2)")).
		WithArgs("u1", int64(56_666_666)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("set totp_last_counter = $2")).
		WithArgs("u1", int64(56_666_666)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if ok, err := store.AdvanceTOTPCounter(ctx, "u1", 56_666_666); err != nil || !ok {
		t.Fatalf("first use: ok=%v err=%v", ok, err)
	}
	if ok, err := store.AdvanceTOTPCounter(ctx, "u1", 56_666_666); err != nil || ok {
		t.Fatalf("replayed step must report false: ok=%v err=%v", ok, err)
	}
}
