package httpapi

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"netcrew.io/internal/apperr"
	"netcrew.io/internal/audit"
	"netcrew.io/internal/auth"
)

func (a *API) mountAudit(r chi.Router) {
	r.Get("/audit-logs", Handle(a, Route{RequirePermission: auth.PermAuditRead}, a.listAudit))
}

func (a *API) listAudit(ctx context.Context, req *Request[NoBody]) (Response, error) {
	f, err := parseAuditFilter(req.Query)
	if err != nil {
		return Response{}, err
	}
	page, err := a.audit.List(ctx, f)
	if err != nil {
		return Response{}, err
	}
	return OK(page), nil
}

func parseAuditFilter(q url.Values) (audit.Filter, error) {
	f := audit.Filter{
		Action:       audit.Action(strings.TrimSpace(q.Get("action"))),
		Severity:     audit.Severity(strings.TrimSpace(q.Get("severity"))),
		ActorID:      strings.TrimSpace(q.Get("actor_id")),
		ResourceType: strings.TrimSpace(q.Get("resource_type")),
		ResourceID:   strings.TrimSpace(q.Get("resource_id")),
	}
	var err error
	if f.Limit, err = intParam(q, "limit"); err != nil {
		return audit.Filter{}, err
	}
	if f.Skip, err = intParam(q, "skip"); err != nil {
		return audit.Filter{}, err
	}
	if v := q.Get("success"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return audit.Filter{}, apperr.BadRequest("success must be true or false")
		}
		f.Success = &b
	}
	if f.Since, err = timeParam(q, "since"); err != nil {
		return audit.Filter{}, err
	}
	if f.Until, err = timeParam(q, "until"); err != nil {
		return audit.Filter{}, err
	}
	return f, nil
}

func intParam(q url.Values, name string) (int, error) {
	v := strings.TrimSpace(q.Get(name))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, apperr.BadRequest(name + " must be an integer")
	}
	return n, nil
}

func timeParam(q url.Values, name string) (*time.Time, error) {
	v := strings.TrimSpace(q.Get(name))
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, apperr.BadRequest(name + " must be an RFC 3339 timestamp")
	}
	return &t, nil
}
