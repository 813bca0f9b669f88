package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"netcrew.io/internal/audit"
	"netcrew.io/internal/auth"
	"netcrew.io/internal/cache"
	"netcrew.io/internal/obs"
	"netcrew.io/internal/schedule"
)

// Pinger is anything /readyz can check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe pings the store and the cache.
type ReadyProbe struct {
	DB    Pinger
	Cache Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB != nil {
		if err := rp.DB.Ping(ctx); err != nil {
			return err
		}
	}
	if rp.Cache != nil {
		return rp.Cache.Ping(ctx)
	}
	return nil
}

// Options tune the transport around the handlers.
type Options struct {
	CookieName   string
	CookieSecure bool
	CORSOrigins  []string
	RatePerSec   float64
	RateBurst    int
	MaxBodyBytes int64
}

// Deps are the services the API fronts.
type Deps struct {
	Accounts  *auth.AccountService
	Sessions  *auth.SessionService
	TwoFactor *auth.TwoFactorService
	RBAC      *auth.RBACService
	Audit     *audit.Recorder
	Schedule  *schedule.Service
	Cache     cache.Client
	Probe     ReadyProbe
	Version   string
	Options   Options
}

// API is the HTTP layer over the auth, audit and schedule services.
type API struct {
	accounts  *auth.AccountService
	sessions  *auth.SessionService
	twoFactor *auth.TwoFactorService
	rbac      *auth.RBACService
	audit     *audit.Recorder
	schedule  *schedule.Service
	cache     cache.Client
	probe     ReadyProbe
	version   string
	opts      Options
	limiter   *rateLimiter
}

func New(d Deps) (*API, error) {
	if d.Accounts == nil || d.Sessions == nil || d.TwoFactor == nil || d.RBAC == nil ||
		d.Audit == nil || d.Schedule == nil || d.Cache == nil {
		return nil, errors.New("httpapi: missing dependency")
	}
	opts := d.Options
	if opts.CookieName == "" {
		opts.CookieName = "netcrew_session"
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	return &API{
		accounts:  d.Accounts,
		sessions:  d.Sessions,
		twoFactor: d.TwoFactor,
		rbac:      d.RBAC,
		audit:     d.Audit,
		schedule:  d.Schedule,
		cache:     d.Cache,
		probe:     d.Probe,
		version:   d.Version,
		opts:      opts,
		limiter:   newRateLimiter(opts.RatePerSec, opts.RateBurst),
	}, nil
}

// Handler returns the full router with middleware applied.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID, Recover, obs.Instrument, Logging, SecurityHeaders)
	if len(a.opts.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   a.opts.CORSOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Content-Type", "Authorization", requestIDHeader},
			ExposedHeaders:   []string{requestIDHeader},
			AllowCredentials: true,
			MaxAge:           600,
		}))
	}
	r.Use(a.limiter.Middleware, MaxBodyBytes(a.opts.MaxBodyBytes))

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Handle("/metrics", obs.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		a.mountAuth(r)
		a.mountAdmin(r)
		a.mountRoles(r)
		a.mountAudit(r)
		a.mountSchedules(r)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusNotFound, false, nil, []string{"route not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusMethodNotAllowed, false, nil, []string{"method not allowed"})
	})
	return r
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "netcrew-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.probe.Check(ctx); err != nil {
		obs.From(r.Context()).Warn("readiness check failed", obs.Err(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// record writes an awaited audit entry stamped with the client address.
func (a *API) record(r *http.Request, e audit.Entry) {
	a.audit.Record(r.Context(), withClient(r, e))
}

// recordAsync queues a best-effort audit entry.
func (a *API) recordAsync(r *http.Request, e audit.Entry) {
	a.audit.RecordAsync(r.Context(), withClient(r, e))
}

func withClient(r *http.Request, e audit.Entry) audit.Entry {
	if e.IP == "" {
		e.IP = clientIP(r)
	}
	if e.UserAgent == "" {
		e.UserAgent = r.UserAgent()
	}
	return e
}
