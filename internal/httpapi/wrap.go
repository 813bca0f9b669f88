package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"netcrew.io/internal/apperr"
	"netcrew.io/internal/auth"
	"netcrew.io/internal/obs"
	"netcrew.io/internal/validation"
)

// Route declares the gate in front of a handler. It is checked once, when
// the handler is built.
type Route struct {
	RequireAuth       bool
	RequirePermission auth.Permission
	// AllowPendingTwoFactor admits sessions that still owe a second factor.
	AllowPendingTwoFactor bool
	// Params are chi URL parameters that must be present and non-empty.
	Params []string
}

func (rt Route) validate() error {
	if rt.RequirePermission != "" && !auth.IsKnownPermission(rt.RequirePermission) {
		return fmt.Errorf("unknown permission %q", rt.RequirePermission)
	}
	for _, p := range rt.Params {
		if strings.TrimSpace(p) == "" {
			return errors.New("empty path parameter name")
		}
	}
	return nil
}

func (rt Route) needsAuth() bool {
	return rt.RequireAuth || rt.RequirePermission != ""
}

// NoBody marks handlers that take no request body.
type NoBody struct{}

// Request is what a wrapped handler receives. Principal is nil on public
// routes without a valid session.
type Request[B any] struct {
	Principal *auth.Principal
	Body      B
	Params    map[string]string
	Query     url.Values
	HTTP      *http.Request

	w http.ResponseWriter
}

func (r *Request[B]) Param(name string) string { return r.Params[name] }

// SetCookie adds a cookie to the eventual response.
func (r *Request[B]) SetCookie(c *http.Cookie) { http.SetCookie(r.w, c) }

// Response is a successful handler result.
type Response struct {
	Status   int
	Data     any
	Messages []string
}

func OK(data any, messages ...string) Response {
	return Response{Status: http.StatusOK, Data: data, Messages: messages}
}

func Created(data any, messages ...string) Response {
	return Response{Status: http.StatusCreated, Data: data, Messages: messages}
}

type HandlerFunc[B any] func(ctx context.Context, req *Request[B]) (Response, error)

type envelope struct {
	Success  bool     `json:"success"`
	Data     any      `json:"data,omitempty"`
	Messages []string `json:"messages"`
}

// Handle builds the http.HandlerFunc for fn. Steps run in a fixed order:
// session lookup, authentication, permission check, path params, body
// validation, then fn. Every error is mapped to the envelope here.
func Handle[B any](a *API, route Route, fn HandlerFunc[B]) http.HandlerFunc {
	if err := route.validate(); err != nil {
		panic(fmt.Sprintf("httpapi: invalid route: %v", err))
	}
	var zero B
	_, noBody := any(zero).(NoBody)
	needsAuth := route.needsAuth()

	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		principal, err := a.resolvePrincipal(r)
		if err != nil {
			if needsAuth {
				a.fail(w, r, err)
				return
			}
			obs.From(ctx).Warn("optional session lookup failed", obs.Err(err))
			principal = nil
		}
		if principal != nil && principal.Session.TwoFactorPending && !route.AllowPendingTwoFactor {
			principal = nil
		}
		if needsAuth && principal == nil {
			obs.AuthDecisions.WithLabelValues("unauthenticated").Inc()
			a.fail(w, r, apperr.ErrUnauthorized)
			return
		}
		if route.RequirePermission != "" && !principal.HasPermission(route.RequirePermission) {
			obs.AuthDecisions.WithLabelValues("forbidden").Inc()
			obs.From(ctx).Info("permission denied",
				obs.UserID(principal.User.ID), zap.String("permission", string(route.RequirePermission)))
			a.fail(w, r, apperr.ErrForbidden)
			return
		}
		if principal != nil {
			ctx = auth.ContextWithPrincipal(ctx, principal)
			ctx = obs.WithLogger(ctx, obs.From(ctx).With(obs.UserID(principal.User.ID)))
			r = r.WithContext(ctx)
		}

		params := make(map[string]string, len(route.Params))
		for _, name := range route.Params {
			v := strings.TrimSpace(chi.URLParam(r, name))
			if v == "" {
				a.fail(w, r, apperr.BadRequest("missing path parameter: "+name))
				return
			}
			params[name] = v
		}

		var body B
		if !noBody {
			if err := decodeBody(r, &body); err != nil {
				a.fail(w, r, err)
				return
			}
			if err := validation.Struct(&body); err != nil {
				a.fail(w, r, err)
				return
			}
		}

		if needsAuth {
			obs.AuthDecisions.WithLabelValues("allowed").Inc()
		}
		resp, err := fn(ctx, &Request[B]{
			Principal: principal,
			Body:      body,
			Params:    params,
			Query:     r.URL.Query(),
			HTTP:      r,
			w:         w,
		})
		if err != nil {
			a.fail(w, r, err)
			return
		}
		status := resp.Status
		if status == 0 {
			status = http.StatusOK
		}
		writeEnvelope(w, status, true, resp.Data, resp.Messages)
	}
}

// resolvePrincipal returns nil without error when no usable session is
// presented.
func (a *API) resolvePrincipal(r *http.Request) (*auth.Principal, error) {
	token := a.sessionToken(r)
	if token == "" {
		return nil, nil
	}
	p, err := a.sessions.Validate(r.Context(), token)
	if errors.Is(err, auth.ErrInvalidSession) {
		return nil, nil
	}
	return p, err
}

func decodeBody(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return nil
		case errors.As(err, &tooLarge):
			return apperr.BadRequest("request body too large")
		default:
			return apperr.BadRequest("invalid JSON body")
		}
	}
	if dec.More() {
		return apperr.BadRequest("invalid JSON body")
	}
	return nil
}

// fail maps err to its envelope. Internal errors are logged in full and
// answered with a generic message.
func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	appErr := apperr.From(err)
	log := obs.From(r.Context())
	if appErr.Kind == apperr.KindInternal {
		log.Error("request failed", zap.String("path", r.URL.Path), obs.Err(err))
		writeEnvelope(w, http.StatusInternalServerError, false, nil, apperr.ErrInternal.Messages())
		return
	}
	log.Debug("request rejected", zap.String("kind", string(appErr.Kind)), obs.Err(err))
	writeEnvelope(w, appErr.Status(), false, nil, appErr.Messages())
}

func writeEnvelope(w http.ResponseWriter, status int, success bool, data any, messages []string) {
	if messages == nil {
		messages = []string{}
	}
	writeJSON(w, status, envelope{Success: success, Data: data, Messages: messages})
}
