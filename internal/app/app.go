// Package app assembles stores, services and the HTTP layer from config.
// Both binaries build on it.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"netcrew.io/internal/audit"
	"netcrew.io/internal/auth"
	"netcrew.io/internal/cache"
	"netcrew.io/internal/config"
	"netcrew.io/internal/httpapi"
	"netcrew.io/internal/mail"
	"netcrew.io/internal/obs"
	"netcrew.io/internal/schedule"
	"netcrew.io/internal/security/secretbox"
	"netcrew.io/internal/store/memory"
	"netcrew.io/internal/store/pg"
	"netcrew.io/internal/tasks"
)

// Store is the union of the persistence ports. The postgres and in-memory
// stores both satisfy it.
type Store interface {
	auth.UserStore
	auth.RoleStore
	auth.SessionStore
	audit.Store
	schedule.Store
	Ping(ctx context.Context) error
}

type App struct {
	Config    config.Config
	Store     Store
	Cache     cache.Client
	Tasks     *tasks.Queue
	RBAC      *auth.RBACService
	Sessions  *auth.SessionService
	TwoFactor *auth.TwoFactorService
	Accounts  *auth.AccountService
	Audit     *audit.Recorder
	Schedule  *schedule.Service

	closers []func() error
}

// OpenStore returns the postgres store when a DSN is configured and the
// in-memory store otherwise.
func OpenStore(cfg config.PGConfig) (Store, func() error, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		obs.Logger().Warn("pg.dsn not set, using the in-memory store; data is lost on restart")
		return memory.New(), func() error { return nil }, nil
	}
	st, err := pg.Open(cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		st.DB().SetMaxOpenConns(cfg.MaxOpenConns)
		st.DB().SetMaxIdleConns(cfg.MaxOpenConns)
	}
	return st, st.Close, nil
}

// New wires every service. The task queue is started; Close drains it.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	a := &App{Config: cfg}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close(context.Background())
		}
	}()

	store, closeStore, err := OpenStore(cfg.PG)
	if err != nil {
		return nil, err
	}
	a.Store = store
	a.closers = append(a.closers, closeStore)

	cacheCfg := cache.Config{Prefix: cfg.Redis.Prefix}
	if cfg.Redis.Addr != "" {
		cacheCfg.Driver = "redis"
		cacheCfg.Addr = cfg.Redis.Addr
		cacheCfg.Password = cfg.Redis.Password
		cacheCfg.DB = cfg.Redis.DB
	}
	a.Cache, err = cache.New(ctx, cacheCfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.Cache.Close)

	a.Tasks = tasks.New(tasks.Config{Workers: cfg.Tasks.Workers, Buffer: cfg.Tasks.Buffer})
	a.Tasks.Start(ctx)

	if a.RBAC, err = auth.NewRBACService(store, store, store); err != nil {
		return nil, err
	}
	signer, err := auth.NewTokenSigner(cfg.Session.Secret)
	if err != nil {
		return nil, err
	}
	if a.Sessions, err = auth.NewSessionService(signer, store, store, a.RBAC, a.Tasks, cfg.Session.TTL); err != nil {
		return nil, err
	}
	box, err := secretbox.New(cfg.TOTP.Key)
	if err != nil {
		return nil, err
	}
	if a.TwoFactor, err = auth.NewTwoFactorService(store, a.Sessions, box, cfg.TOTP.Issuer); err != nil {
		return nil, err
	}
	blacklist, err := auth.LoadBlacklist(cfg.Password.BlacklistPath)
	if err != nil {
		return nil, err
	}
	a.Accounts, err = auth.NewAccountService(auth.AccountDeps{
		Users:     store,
		Roles:     store,
		RBAC:      a.RBAC,
		Sessions:  a.Sessions,
		Cache:     a.Cache,
		Sender:    newSender(cfg.SMTP),
		Tasks:     a.Tasks,
		Blacklist: blacklist,
		BaseURL:   cfg.App.BaseURL,
	})
	if err != nil {
		return nil, err
	}
	if a.Audit, err = audit.NewRecorder(store, a.Tasks); err != nil {
		return nil, err
	}
	if a.Schedule, err = schedule.NewService(store, store); err != nil {
		return nil, err
	}

	obs.Logger().Info("services ready",
		zap.Bool("postgres", cfg.PG.DSN != ""),
		zap.Bool("redis", cfg.Redis.Addr != ""),
		zap.Bool("smtp", cfg.SMTP.Host != ""),
		zap.Int("password_blacklist", blacklist.Len()),
	)
	ok = true
	return a, nil
}

func newSender(cfg config.SMTPConfig) mail.Sender {
	if strings.TrimSpace(cfg.Host) == "" {
		return mail.NewLogSender()
	}
	return mail.NewSMTPSender(mail.SMTPConfig{
		Host:     cfg.Host,
		Port:     cfg.Port,
		User:     cfg.User,
		Password: cfg.Password,
		From:     cfg.From,
		TLSMode:  cfg.TLSMode,
	})
}

// API builds the HTTP layer over the wired services.
func (a *App) API(version string) (*httpapi.API, error) {
	cfg := a.Config
	return httpapi.New(httpapi.Deps{
		Accounts:  a.Accounts,
		Sessions:  a.Sessions,
		TwoFactor: a.TwoFactor,
		RBAC:      a.RBAC,
		Audit:     a.Audit,
		Schedule:  a.Schedule,
		Cache:     a.Cache,
		Probe:     httpapi.ReadyProbe{DB: a.Store, Cache: a.Cache},
		Version:   version,
		Options: httpapi.Options{
			CookieName:   cfg.Session.CookieName,
			CookieSecure: cfg.Session.CookieSecure,
			CORSOrigins:  cfg.CORS.Origins,
			RatePerSec:   cfg.RateLimit.RPS,
			RateBurst:    cfg.RateLimit.Burst,
			MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
		},
	})
}

// Close drains queued tasks, then releases the cache and the store.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Tasks != nil {
		drainCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := a.Tasks.Shutdown(drainCtx); err != nil {
			errs = append(errs, err)
		}
		cancel()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
