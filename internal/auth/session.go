package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"netcrew.io/internal/apperr"
	"netcrew.io/internal/ids"
	"netcrew.io/internal/obs"
)

// touchInterval throttles last-active writes per session.
const touchInterval = time.Minute

// Dispatcher runs best-effort work outside the request.
type Dispatcher interface {
	Submit(name string, fn func(ctx context.Context) error) error
}

// SessionService issues, validates and revokes sessions.
type SessionService struct {
	signer   *TokenSigner
	sessions SessionStore
	users    UserStore
	rbac     *RBACService
	tasks    Dispatcher
	ttl      time.Duration
	now      func() time.Time
}

func NewSessionService(signer *TokenSigner, sessions SessionStore, users UserStore, rbac *RBACService, tasks Dispatcher, ttl time.Duration) (*SessionService, error) {
	if signer == nil || sessions == nil || users == nil || rbac == nil || tasks == nil {
		return nil, errors.New("session service: missing dependency")
	}
	if ttl <= 0 {
		return nil, errors.New("session service: ttl must be greater than zero")
	}
	return &SessionService{
		signer:   signer,
		sessions: sessions,
		users:    users,
		rbac:     rbac,
		tasks:    tasks,
		ttl:      ttl,
		now:      time.Now,
	}, nil
}

// TTL reports the lifetime of newly issued sessions.
func (s *SessionService) TTL() time.Duration { return s.ttl }

// Issue opens a session for user and returns it with its signed token.
// When pendingTwoFactor is set the session only unlocks second-factor
// validation and logout.
func (s *SessionService) Issue(ctx context.Context, user User, device Device, pendingTwoFactor bool) (Session, string, error) {
	now := s.now().UTC()
	session := Session{
		ID:               ids.New(),
		UserID:           user.ID,
		Device:           device,
		TwoFactorPending: pendingTwoFactor,
		CreatedAt:        now,
		LastActiveAt:     now,
		ExpiresAt:        now.Add(s.ttl),
	}
	if err := s.sessions.CreateSession(ctx, &session); err != nil {
		return Session{}, "", fmt.Errorf("create session: %w", err)
	}
	token, err := s.signer.Sign(session)
	if err != nil {
		return Session{}, "", err
	}
	return session, token, nil
}

// Validate resolves a token to a principal. Credential problems yield
// ErrInvalidSession; store failures are returned as-is.
func (s *SessionService) Validate(ctx context.Context, token string) (*Principal, error) {
	claims, err := s.signer.Parse(token)
	if err != nil {
		return nil, ErrInvalidSession
	}
	session, err := s.sessions.GetSession(ctx, claims.ID)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, ErrInvalidSession
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	now := s.now().UTC()
	if session.UserID != claims.Subject || !session.Active(now) {
		return nil, ErrInvalidSession
	}
	user, err := s.users.GetUser(ctx, session.UserID)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, ErrInvalidSession
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if !user.Active {
		return nil, ErrInvalidSession
	}
	perms, err := s.rbac.EffectivePermissions(ctx, user)
	if err != nil {
		return nil, err
	}
	if now.Sub(session.LastActiveAt) >= touchInterval {
		s.touch(ctx, session.ID, now)
	}
	return &Principal{User: user, Session: session, Permissions: perms}, nil
}

func (s *SessionService) touch(ctx context.Context, id string, at time.Time) {
	err := s.tasks.Submit("session.touch", func(ctx context.Context) error {
		return s.sessions.TouchSession(ctx, id, at)
	})
	if err != nil {
		obs.From(ctx).Debug("session touch dropped", obs.SessionID(id), obs.Err(err))
	}
}

// Revoke ends one session owned by userID. Revoking an unknown or already
// revoked session yields NotFound.
func (s *SessionService) Revoke(ctx context.Context, userID, sessionID string) error {
	ok, err := s.sessions.RevokeSession(ctx, userID, sessionID, s.now().UTC())
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFound("session not found")
	}
	return nil
}

// RevokeAll ends every active session of userID.
func (s *SessionService) RevokeAll(ctx context.Context, userID string) (int, error) {
	n, err := s.sessions.RevokeUserSessions(ctx, userID, s.now().UTC())
	if err != nil {
		return 0, err
	}
	obs.From(ctx).Info("sessions revoked", obs.UserID(userID), zap.Int("count", n))
	return n, nil
}

// List returns the active sessions of userID.
func (s *SessionService) List(ctx context.Context, userID string) ([]Session, error) {
	return s.sessions.ListSessions(ctx, userID, s.now().UTC())
}

// CompleteTwoFactor clears the pending second-factor mark of a session.
func (s *SessionService) CompleteTwoFactor(ctx context.Context, sessionID string) error {
	if err := s.sessions.CompleteTwoFactor(ctx, sessionID); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return apperr.Unauthorized("session is no longer active")
		}
		return err
	}
	return nil
}
