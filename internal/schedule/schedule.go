// Package schedule books employee shifts and refuses overlapping bookings.
package schedule

import (
	"context"
	"errors"
	"strings"
	"time"

	"netcrew.io/internal/apperr"
	"netcrew.io/internal/auth"
	"netcrew.io/internal/ids"
)

// Shift is one booked time window for an employee. The window is half-open:
// a shift ending at 12:00 does not overlap one starting at 12:00.
type Shift struct {
	ID         string    `json:"id"`
	EmployeeID string    `json:"employee_id"`
	CreatedBy  string    `json:"created_by"`
	LocationID string    `json:"location_id,omitempty"`
	StartsAt   time.Time `json:"starts_at"`
	EndsAt     time.Time `json:"ends_at"`
	Notes      string    `json:"notes,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Overlaps reports whether the two half-open windows intersect.
func (s Shift) Overlaps(startsAt, endsAt time.Time) bool {
	return s.StartsAt.Before(endsAt) && startsAt.Before(s.EndsAt)
}

// Store persists shifts. CreateShift returns apperr.ErrConflict when the
// store itself detects an overlap.
type Store interface {
	CreateShift(ctx context.Context, s *Shift) error
	FindOverlapping(ctx context.Context, employeeID string, startsAt, endsAt time.Time) ([]Shift, error)
	ListShifts(ctx context.Context, employeeID string, from, to time.Time) ([]Shift, error)
	GetShift(ctx context.Context, id string) (Shift, error)
	DeleteShift(ctx context.Context, id string) error
}

// Input is a shift booking request.
type Input struct {
	EmployeeID string
	LocationID string
	StartsAt   time.Time
	EndsAt     time.Time
	Notes      string
}

var errOverlap = apperr.BadRequest("employee already has a scheduled shift in this time window")

type Service struct {
	store Store
	users auth.UserStore
	now   func() time.Time
}

func NewService(store Store, users auth.UserStore) (*Service, error) {
	if store == nil || users == nil {
		return nil, errors.New("schedule: store and user store are required")
	}
	return &Service{store: store, users: users, now: time.Now}, nil
}

// Create books a shift for an existing employee.
func (s *Service) Create(ctx context.Context, actorID string, in Input) (Shift, error) {
	if in.StartsAt.IsZero() || in.EndsAt.IsZero() || !in.EndsAt.After(in.StartsAt) {
		return Shift{}, apperr.BadRequest("invalid date range")
	}
	employee, err := s.users.GetUser(ctx, strings.TrimSpace(in.EmployeeID))
	if errors.Is(err, apperr.ErrNotFound) {
		return Shift{}, apperr.NotFound("employee not found")
	}
	if err != nil {
		return Shift{}, err
	}
	if !employee.Active {
		return Shift{}, apperr.BadRequest("employee account is suspended")
	}
	existing, err := s.store.FindOverlapping(ctx, employee.ID, in.StartsAt.UTC(), in.EndsAt.UTC())
	if err != nil {
		return Shift{}, err
	}
	if len(existing) > 0 {
		return Shift{}, errOverlap
	}
	shift := Shift{
		ID:         ids.New(),
		EmployeeID: employee.ID,
		CreatedBy:  actorID,
		LocationID: strings.TrimSpace(in.LocationID),
		StartsAt:   in.StartsAt.UTC(),
		EndsAt:     in.EndsAt.UTC(),
		Notes:      strings.TrimSpace(in.Notes),
		CreatedAt:  s.now().UTC(),
	}
	if err := s.store.CreateShift(ctx, &shift); err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			return Shift{}, errOverlap
		}
		return Shift{}, err
	}
	return shift, nil
}

// List returns shifts intersecting [from, to), optionally for one employee.
// Zero bounds default to the surrounding four weeks.
func (s *Service) List(ctx context.Context, employeeID string, from, to time.Time) ([]Shift, error) {
	now := s.now().UTC()
	if from.IsZero() {
		from = now.AddDate(0, 0, -14)
	}
	if to.IsZero() {
		to = from.AddDate(0, 0, 28)
	}
	if !to.After(from) {
		return nil, apperr.BadRequest("invalid date range")
	}
	shifts, err := s.store.ListShifts(ctx, strings.TrimSpace(employeeID), from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	if shifts == nil {
		shifts = []Shift{}
	}
	return shifts, nil
}

// Delete removes a shift and returns it.
func (s *Service) Delete(ctx context.Context, id string) (Shift, error) {
	shift, err := s.store.GetShift(ctx, id)
	if errors.Is(err, apperr.ErrNotFound) {
		return Shift{}, apperr.NotFound("shift not found")
	}
	if err != nil {
		return Shift{}, err
	}
	if err := s.store.DeleteShift(ctx, shift.ID); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return Shift{}, apperr.NotFound("shift not found")
		}
		return Shift{}, err
	}
	return shift, nil
}
