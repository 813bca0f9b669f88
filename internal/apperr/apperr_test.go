package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestIsMatchesKind(t *testing.T) {
	err := Conflict("user with this email already exists")
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict to match sentinel")
	}
	if errors.Is(err, ErrNotFound) {
		t.Fatalf("conflict must not match not-found")
	}
	wrapped := fmt.Errorf("create user: %w", err)
	if !errors.Is(wrapped, ErrConflict) {
		t.Fatalf("wrapped error lost its kind")
	}
}

func TestFromUnclassified(t *testing.T) {
	cause := errors.New("connection refused")
	got := From(cause)
	if got.Kind != KindInternal {
		t.Fatalf("expected internal, got %s", got.Kind)
	}
	if got.Message != ErrInternal.Message {
		t.Fatalf("internal message leaked cause: %q", got.Message)
	}
	if !errors.Is(got, cause) {
		t.Fatalf("cause not preserved")
	}
}

func TestStatusAndMessages(t *testing.T) {
	cases := map[Kind]int{
		KindUnauthorized:        http.StatusUnauthorized,
		KindForbidden:           http.StatusForbidden,
		KindBadRequest:          http.StatusBadRequest,
		KindConflict:            http.StatusConflict,
		KindNotFound:            http.StatusNotFound,
		KindUnprocessableEntity: http.StatusUnprocessableEntity,
		KindInternal:            http.StatusInternalServerError,
	}
	for kind, status := range cases {
		if got := StatusOf(kind); got != status {
			t.Fatalf("StatusOf(%s)=%d, want %d", kind, got, status)
		}
	}

	v := Validation([]string{"email is required", "password is required"})
	if len(v.Messages()) != 2 {
		t.Fatalf("expected field messages, got %v", v.Messages())
	}
	if msgs := NotFound("role not found").Messages(); len(msgs) != 1 || msgs[0] != "role not found" {
		t.Fatalf("unexpected messages %v", msgs)
	}
}
