package httpapi

import (
	"context"
	"errors"
	"time"

	"github.com/go-chi/chi/v5"

	"netcrew.io/internal/apperr"
	"netcrew.io/internal/audit"
	"netcrew.io/internal/auth"
)

type registerRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Name     string `json:"name" validate:"required,max=120"`
	Password string `json:"password" validate:"required,min=8,max=256"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,max=256"`
}

type emailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type resetConfirmRequest struct {
	Token    string `json:"token" validate:"required,max=128"`
	Password string `json:"password" validate:"required,min=8,max=256"`
}

type tokenRequest struct {
	Token string `json:"token" validate:"required,max=128"`
}

type passwordRequest struct {
	Password string `json:"password" validate:"required,max=256"`
}

type codeRequest struct {
	Code string `json:"code" validate:"required,len=6,numeric"`
}

type secondFactorRequest struct {
	Code       string `json:"code" validate:"omitempty,len=6,numeric"`
	BackupCode string `json:"backup_code" validate:"omitempty,max=16"`
}

func (b secondFactorRequest) factor() auth.SecondFactor {
	return auth.SecondFactor{Code: b.Code, BackupCode: b.BackupCode}
}

type loginResponse struct {
	User              auth.User `json:"user"`
	Token             string    `json:"token"`
	ExpiresAt         time.Time `json:"expires_at"`
	TwoFactorRequired bool      `json:"two_factor_required"`
}

type meResponse struct {
	User        auth.User    `json:"user"`
	Permissions []string     `json:"permissions"`
	Session     auth.Session `json:"session"`
}

type sessionView struct {
	auth.Session
	Current bool `json:"current"`
}

type backupCodesResponse struct {
	BackupCodes []string `json:"backup_codes"`
}

func (a *API) mountAuth(r chi.Router) {
	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", Handle(a, Route{}, a.register))
		r.Post("/login", Handle(a, Route{}, a.login))
		r.Post("/logout", Handle(a, Route{RequireAuth: true, AllowPendingTwoFactor: true}, a.logout))
		r.Post("/forgot-password/request", Handle(a, Route{}, a.requestPasswordReset))
		r.Post("/forgot-password/confirm", Handle(a, Route{}, a.confirmPasswordReset))
		r.Post("/verify-email/request", Handle(a, Route{RequireAuth: true}, a.requestEmailVerification))
		r.Post("/verify-email/confirm", Handle(a, Route{}, a.confirmEmailVerification))

		r.Get("/me", Handle(a, Route{RequireAuth: true}, a.me))
		r.Get("/me/sessions", Handle(a, Route{RequireAuth: true}, a.listSessions))
		r.Delete("/me/sessions/{id}", Handle(a, Route{RequireAuth: true, Params: []string{"id"}}, a.revokeSession))

		r.Post("/2fa/setup", Handle(a, Route{RequireAuth: true}, a.twoFactorSetup))
		r.Post("/2fa/verify", Handle(a, Route{RequireAuth: true}, a.twoFactorEnable))
		r.Post("/2fa/validate", Handle(a, Route{RequireAuth: true, AllowPendingTwoFactor: true}, a.twoFactorValidate))
		r.Post("/2fa/disable", Handle(a, Route{RequireAuth: true}, a.twoFactorDisable))
		r.Post("/2fa/backup-codes", Handle(a, Route{RequireAuth: true}, a.regenerateBackupCodes))
		r.Get("/2fa/status", Handle(a, Route{RequireAuth: true}, a.twoFactorStatus))
	})
}

func (a *API) register(ctx context.Context, req *Request[registerRequest]) (Response, error) {
	user, err := a.accounts.Register(ctx, auth.RegisterInput{
		Email:    req.Body.Email,
		Name:     req.Body.Name,
		Password: req.Body.Password,
	})
	if err != nil {
		return Response{}, err
	}
	a.record(req.HTTP, audit.Entry{
		Action:       audit.ActionRegister,
		ActorID:      user.ID,
		ActorEmail:   user.Email,
		ResourceType: "user",
		ResourceID:   user.ID,
		ResourceName: user.Email,
		Success:      true,
	})
	return Created(user, "registration successful"), nil
}

func (a *API) login(ctx context.Context, req *Request[loginRequest]) (Response, error) {
	device := auth.ParseDevice(clientIP(req.HTTP), req.HTTP.UserAgent())
	res, err := a.accounts.Login(ctx, req.Body.Email, req.Body.Password, device)
	if err != nil {
		if errors.Is(err, apperr.ErrUnauthorized) || errors.Is(err, apperr.ErrForbidden) {
			a.recordAsync(req.HTTP, audit.Entry{
				Action:       audit.ActionLoginFailed,
				Severity:     audit.SeverityWarning,
				ActorEmail:   req.Body.Email,
				ResourceType: "user",
				ResourceName: req.Body.Email,
				Metadata:     map[string]any{"reason": apperr.From(err).Message},
			})
		}
		return Response{}, err
	}
	req.SetCookie(a.sessionCookie(res.Token, res.Session.ExpiresAt))
	a.record(req.HTTP, audit.Entry{
		Action:       audit.ActionLogin,
		ActorID:      res.User.ID,
		ActorEmail:   res.User.Email,
		ResourceType: "session",
		ResourceID:   res.Session.ID,
		Metadata:     map[string]any{"two_factor_required": res.TwoFactorRequired, "browser": device.Browser, "os": device.OS},
		Success:      true,
	})
	msg := "login successful"
	if res.TwoFactorRequired {
		msg = "two-factor verification required"
	}
	return OK(loginResponse{
		User:              res.User,
		Token:             res.Token,
		ExpiresAt:         res.Session.ExpiresAt,
		TwoFactorRequired: res.TwoFactorRequired,
	}, msg), nil
}

func (a *API) logout(ctx context.Context, req *Request[NoBody]) (Response, error) {
	if err := a.accounts.Logout(ctx, req.Principal); err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return Response{}, err
	}
	req.SetCookie(a.expiredCookie())
	a.record(req.HTTP, audit.Entry{
		Action:       audit.ActionLogout,
		ResourceType: "session",
		ResourceID:   req.Principal.Session.ID,
		Success:      true,
	})
	return OK(nil, "logged out"), nil
}

func (a *API) requestPasswordReset(ctx context.Context, req *Request[emailRequest]) (Response, error) {
	if err := a.accounts.RequestPasswordReset(ctx, req.Body.Email); err != nil {
		return Response{}, err
	}
	return OK(nil, "if the account exists, a reset link has been sent"), nil
}

func (a *API) confirmPasswordReset(ctx context.Context, req *Request[resetConfirmRequest]) (Response, error) {
	user, err := a.accounts.ConfirmPasswordReset(ctx, req.Body.Token, req.Body.Password)
	if err != nil {
		return Response{}, err
	}
	a.record(req.HTTP, audit.Entry{
		Action:       audit.ActionPasswordReset,
		Severity:     audit.SeverityWarning,
		ActorID:      user.ID,
		ActorEmail:   user.Email,
		ResourceType: "user",
		ResourceID:   user.ID,
		Success:      true,
	})
	return OK(nil, "password updated"), nil
}

func (a *API) requestEmailVerification(ctx context.Context, req *Request[NoBody]) (Response, error) {
	if err := a.accounts.RequestEmailVerification(ctx, req.Principal.User); err != nil {
		return Response{}, err
	}
	return OK(nil, "verification email sent"), nil
}

func (a *API) confirmEmailVerification(ctx context.Context, req *Request[tokenRequest]) (Response, error) {
	user, err := a.accounts.ConfirmEmailVerification(ctx, req.Body.Token)
	if err != nil {
		return Response{}, err
	}
	a.recordAsync(req.HTTP, audit.Entry{
		Action:       audit.ActionEmailVerified,
		ActorID:      user.ID,
		ActorEmail:   user.Email,
		ResourceType: "user",
		ResourceID:   user.ID,
		Success:      true,
	})
	return OK(user, "email verified"), nil
}

func (a *API) me(_ context.Context, req *Request[NoBody]) (Response, error) {
	p := req.Principal
	return OK(meResponse{User: p.User, Permissions: p.Permissions.Sorted(), Session: p.Session}), nil
}

func (a *API) listSessions(ctx context.Context, req *Request[NoBody]) (Response, error) {
	sessions, err := a.sessions.List(ctx, req.Principal.User.ID)
	if err != nil {
		return Response{}, err
	}
	out := make([]sessionView, len(sessions))
	for i, s := range sessions {
		out[i] = sessionView{Session: s, Current: s.ID == req.Principal.Session.ID}
	}
	return OK(out), nil
}

func (a *API) revokeSession(ctx context.Context, req *Request[NoBody]) (Response, error) {
	id := req.Param("id")
	if err := a.sessions.Revoke(ctx, req.Principal.User.ID, id); err != nil {
		return Response{}, err
	}
	if id == req.Principal.Session.ID {
		req.SetCookie(a.expiredCookie())
	}
	a.record(req.HTTP, audit.Entry{
		Action:       audit.ActionSessionRevoked,
		ResourceType: "session",
		ResourceID:   id,
		Success:      true,
	})
	return OK(nil, "session revoked"), nil
}

func (a *API) twoFactorSetup(ctx context.Context, req *Request[passwordRequest]) (Response, error) {
	setup, err := a.twoFactor.Setup(ctx, req.Principal.User.ID, req.Body.Password)
	if err != nil {
		return Response{}, err
	}
	return OK(setup, "scan the code with your authenticator app, then confirm with a code"), nil
}

func (a *API) twoFactorEnable(ctx context.Context, req *Request[codeRequest]) (Response, error) {
	codes, err := a.twoFactor.Enable(ctx, req.Principal.User.ID, req.Body.Code)
	if err != nil {
		return Response{}, err
	}
	a.record(req.HTTP, audit.Entry{
		Action:       audit.ActionTwoFactorEnable,
		Severity:     audit.SeverityWarning,
		ResourceType: "user",
		ResourceID:   req.Principal.User.ID,
		Success:      true,
	})
	return OK(backupCodesResponse{BackupCodes: codes}, "two-factor authentication enabled"), nil
}

func (a *API) twoFactorValidate(ctx context.Context, req *Request[secondFactorRequest]) (Response, error) {
	if err := a.twoFactor.Validate(ctx, req.Principal, req.Body.factor()); err != nil {
		if errors.Is(err, apperr.ErrBadRequest) {
			a.recordAsync(req.HTTP, audit.Entry{
				Action:       audit.ActionTwoFactorFailed,
				Severity:     audit.SeverityWarning,
				ResourceType: "session",
				ResourceID:   req.Principal.Session.ID,
			})
		}
		return Response{}, err
	}
	return OK(nil, "two-factor verification complete"), nil
}

func (a *API) twoFactorDisable(ctx context.Context, req *Request[secondFactorRequest]) (Response, error) {
	if err := a.twoFactor.Disable(ctx, req.Principal.User.ID, req.Body.factor()); err != nil {
		return Response{}, err
	}
	a.record(req.HTTP, audit.Entry{
		Action:       audit.ActionTwoFactorDisable,
		Severity:     audit.SeverityCritical,
		ResourceType: "user",
		ResourceID:   req.Principal.User.ID,
		Success:      true,
	})
	return OK(nil, "two-factor authentication disabled"), nil
}

func (a *API) regenerateBackupCodes(ctx context.Context, req *Request[codeRequest]) (Response, error) {
	codes, err := a.twoFactor.RegenerateBackupCodes(ctx, req.Principal.User.ID, req.Body.Code)
	if err != nil {
		return Response{}, err
	}
	a.record(req.HTTP, audit.Entry{
		Action:       audit.ActionBackupCodesReset,
		Severity:     audit.SeverityWarning,
		ResourceType: "user",
		ResourceID:   req.Principal.User.ID,
		Success:      true,
	})
	return OK(backupCodesResponse{BackupCodes: codes}, "backup codes regenerated"), nil
}

func (a *API) twoFactorStatus(ctx context.Context, req *Request[NoBody]) (Response, error) {
	st, err := a.twoFactor.Status(ctx, req.Principal.User.ID)
	if err != nil {
		return Response{}, err
	}
	return OK(st), nil
}
