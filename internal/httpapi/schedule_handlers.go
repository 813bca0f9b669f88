package httpapi

import (
	"context"
	"time"

	"github.com/go-chi/chi/v5"

	"netcrew.io/internal/audit"
	"netcrew.io/internal/auth"
	"netcrew.io/internal/schedule"
)

type createShiftRequest struct {
	EmployeeID string    `json:"employee_id" validate:"required,entity_id"`
	LocationID string    `json:"location_id" validate:"max=64"`
	StartsAt   time.Time `json:"starts_at" validate:"required"`
	EndsAt     time.Time `json:"ends_at" validate:"required"`
	Notes      string    `json:"notes" validate:"max=500"`
}

func (a *API) mountSchedules(r chi.Router) {
	r.Get("/schedules", Handle(a, Route{RequirePermission: auth.PermSchedulesRead}, a.listShifts))
	r.Post("/schedules", Handle(a, Route{RequirePermission: auth.PermSchedulesCreate}, a.createShift))
	r.Delete("/schedules/{id}", Handle(a, Route{RequirePermission: auth.PermSchedulesDelete, Params: []string{"id"}}, a.deleteShift))
}

func (a *API) createShift(ctx context.Context, req *Request[createShiftRequest]) (Response, error) {
	b := req.Body
	shift, err := a.schedule.Create(ctx, req.Principal.User.ID, schedule.Input{
		EmployeeID: b.EmployeeID,
		LocationID: b.LocationID,
		StartsAt:   b.StartsAt,
		EndsAt:     b.EndsAt,
		Notes:      b.Notes,
	})
	if err != nil {
		return Response{}, err
	}
	a.recordAsync(req.HTTP, audit.Entry{
		Action:       audit.ActionShiftCreate,
		ResourceType: "shift",
		ResourceID:   shift.ID,
		Metadata:     map[string]any{"employee_id": shift.EmployeeID},
		Changes:      &audit.Changes{After: shift},
		Success:      true,
	})
	return Created(shift, "shift scheduled"), nil
}

func (a *API) listShifts(ctx context.Context, req *Request[NoBody]) (Response, error) {
	from, err := timeParam(req.Query, "from")
	if err != nil {
		return Response{}, err
	}
	to, err := timeParam(req.Query, "to")
	if err != nil {
		return Response{}, err
	}
	var fromT, toT time.Time
	if from != nil {
		fromT = *from
	}
	if to != nil {
		toT = *to
	}
	shifts, err := a.schedule.List(ctx, req.Query.Get("employee_id"), fromT, toT)
	if err != nil {
		return Response{}, err
	}
	return OK(shifts), nil
}

func (a *API) deleteShift(ctx context.Context, req *Request[NoBody]) (Response, error) {
	shift, err := a.schedule.Delete(ctx, req.Param("id"))
	if err != nil {
		return Response{}, err
	}
	a.record(req.HTTP, audit.Entry{
		Action:       audit.ActionShiftDelete,
		Severity:     audit.SeverityWarning,
		ResourceType: "shift",
		ResourceID:   shift.ID,
		Changes:      &audit.Changes{Before: shift},
		Success:      true,
	})
	return OK(nil, "shift deleted"), nil
}
