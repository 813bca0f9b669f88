package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"netcrew.io/internal/apperr"
	"netcrew.io/internal/cache"
	"netcrew.io/internal/ids"
	mailer "netcrew.io/internal/mail"
	"netcrew.io/internal/obs"
)

const (
	accountTokenTTL    = 30 * time.Minute
	resetTokenPrefix   = "pwreset:"
	verifyTokenPrefix  = "verify:"
	accountTokenLength = 32
)

// dummyHash keeps the login path doing argon2 work for unknown emails.
var dummyHash, _ = HashPassword("netcrew-timing-equaliser")

// RegisterInput is the self-service signup payload.
type RegisterInput struct {
	Email    string
	Name     string
	Password string
}

// LoginResult is the outcome of a successful password check.
type LoginResult struct {
	User              User
	Session           Session
	Token             string
	TwoFactorRequired bool
}

// AccountService covers registration, login and the email token flows.
type AccountService struct {
	users     UserStore
	roles     RoleStore
	rbac      *RBACService
	sessions  *SessionService
	cache     cache.Client
	sender    mailer.Sender
	tasks     Dispatcher
	blacklist *Blacklist
	baseURL   string
	now       func() time.Time
}

// AccountDeps groups the collaborators of AccountService.
type AccountDeps struct {
	Users     UserStore
	Roles     RoleStore
	RBAC      *RBACService
	Sessions  *SessionService
	Cache     cache.Client
	Sender    mailer.Sender
	Tasks     Dispatcher
	Blacklist *Blacklist
	BaseURL   string
}

func NewAccountService(d AccountDeps) (*AccountService, error) {
	if d.Users == nil || d.Roles == nil || d.RBAC == nil || d.Sessions == nil || d.Cache == nil || d.Sender == nil || d.Tasks == nil {
		return nil, errors.New("account service: missing dependency")
	}
	base := strings.TrimRight(strings.TrimSpace(d.BaseURL), "/")
	if base == "" {
		return nil, errors.New("account service: base url is required")
	}
	return &AccountService{
		users:     d.Users,
		roles:     d.Roles,
		rbac:      d.RBAC,
		sessions:  d.Sessions,
		cache:     d.Cache,
		sender:    d.Sender,
		tasks:     d.Tasks,
		blacklist: d.Blacklist,
		baseURL:   base,
		now:       time.Now,
	}, nil
}

// Register creates an active user holding the employee role.
func (s *AccountService) Register(ctx context.Context, in RegisterInput) (User, error) {
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return User{}, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return User{}, apperr.BadRequest("name is required")
	}
	if err := CheckPassword(in.Password, s.blacklist); err != nil {
		return User{}, err
	}
	if _, err := s.users.GetUserByEmail(ctx, email); err == nil {
		return User{}, apperr.Conflict("user with this email already exists")
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return User{}, err
	}
	hash, err := HashPassword(in.Password)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}
	now := s.now().UTC()
	user := User{
		ID:           ids.New(),
		Email:        email,
		Name:         name,
		PasswordHash: hash,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if role, err := s.roles.GetRoleByName(ctx, RoleEmployee); err == nil {
		user.Roles = []string{role.ID}
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return User{}, err
	}
	if err := s.users.CreateUser(ctx, &user); err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			return User{}, apperr.Conflict("user with this email already exists")
		}
		return User{}, err
	}
	return user, nil
}

// CreateAdmin registers a user and grants the admin role. The email is
// treated as verified.
func (s *AccountService) CreateAdmin(ctx context.Context, in RegisterInput) (User, error) {
	if err := s.rbac.EnsureSystemRoles(ctx); err != nil {
		return User{}, err
	}
	user, err := s.Register(ctx, in)
	if err != nil {
		return User{}, err
	}
	admin, err := s.roles.GetRoleByName(ctx, RoleAdmin)
	if err != nil {
		return User{}, fmt.Errorf("load admin role: %w", err)
	}
	if _, user, err = s.rbac.AssignRoles(ctx, user.ID, []string{admin.ID}); err != nil {
		return User{}, err
	}
	verified := true
	return s.users.UpdateUser(ctx, user.ID, UserUpdate{EmailVerified: &verified})
}

// Login checks the password and opens a session. Users with 2FA enabled get
// a pending session that must be completed through TwoFactorService.Validate.
func (s *AccountService) Login(ctx context.Context, email, password string, device Device) (LoginResult, error) {
	invalid := apperr.Unauthorized("invalid email or password")
	email = strings.ToLower(strings.TrimSpace(email))
	user, err := s.users.GetUserByEmail(ctx, email)
	if errors.Is(err, apperr.ErrNotFound) {
		VerifyPassword(dummyHash, password)
		return LoginResult{}, invalid
	}
	if err != nil {
		return LoginResult{}, err
	}
	if !VerifyPassword(user.PasswordHash, password) {
		return LoginResult{}, invalid
	}
	if !user.Active {
		return LoginResult{}, apperr.Forbidden("account is suspended")
	}
	session, token, err := s.sessions.Issue(ctx, user, device, user.TwoFactorEnabled)
	if err != nil {
		return LoginResult{}, err
	}
	now := s.now().UTC()
	if err := s.users.TouchLogin(ctx, user.ID, now); err != nil {
		obs.From(ctx).Warn("record last login failed", obs.UserID(user.ID), obs.Err(err))
	} else {
		user.LastLoginAt = &now
	}
	return LoginResult{User: user, Session: session, Token: token, TwoFactorRequired: user.TwoFactorEnabled}, nil
}

// Logout revokes the caller's current session.
func (s *AccountService) Logout(ctx context.Context, principal *Principal) error {
	if principal == nil {
		return apperr.ErrUnauthorized
	}
	return s.sessions.Revoke(ctx, principal.User.ID, principal.Session.ID)
}

// RequestPasswordReset mails a reset link when the address belongs to an
// active user. It reports success either way.
func (s *AccountService) RequestPasswordReset(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	user, err := s.users.GetUserByEmail(ctx, email)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !user.Active {
		return nil
	}
	token, err := s.issueToken(ctx, resetTokenPrefix, user.ID)
	if err != nil {
		return err
	}
	s.Notify(ctx, mailer.PasswordReset(user.Email, user.Name, s.link("/reset-password", token)))
	return nil
}

// ConfirmPasswordReset sets a new password and signs the user out everywhere.
func (s *AccountService) ConfirmPasswordReset(ctx context.Context, token, password string) (User, error) {
	if err := CheckPassword(password, s.blacklist); err != nil {
		return User{}, err
	}
	userID, err := s.redeemToken(ctx, resetTokenPrefix, token)
	if err != nil {
		return User{}, err
	}
	hash, err := HashPassword(password)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}
	user, err := s.users.UpdateUser(ctx, userID, UserUpdate{PasswordHash: &hash})
	if errors.Is(err, apperr.ErrNotFound) {
		return User{}, apperr.BadRequest("invalid or expired token")
	}
	if err != nil {
		return User{}, err
	}
	if _, err := s.sessions.RevokeAll(ctx, user.ID); err != nil {
		return User{}, err
	}
	return user, nil
}

// RequestEmailVerification mails a confirmation link to the user.
func (s *AccountService) RequestEmailVerification(ctx context.Context, user User) error {
	if user.EmailVerified {
		return apperr.BadRequest("email is already verified")
	}
	token, err := s.issueToken(ctx, verifyTokenPrefix, user.ID)
	if err != nil {
		return err
	}
	s.Notify(ctx, mailer.VerifyEmail(user.Email, user.Name, s.link("/verify-email", token)))
	return nil
}

// ConfirmEmailVerification marks the token owner's email as verified.
func (s *AccountService) ConfirmEmailVerification(ctx context.Context, token string) (User, error) {
	userID, err := s.redeemToken(ctx, verifyTokenPrefix, token)
	if err != nil {
		return User{}, err
	}
	verified := true
	user, err := s.users.UpdateUser(ctx, userID, UserUpdate{EmailVerified: &verified})
	if errors.Is(err, apperr.ErrNotFound) {
		return User{}, apperr.BadRequest("invalid or expired token")
	}
	return user, err
}

// Notify sends msg on the task queue. Delivery failures are logged only.
func (s *AccountService) Notify(ctx context.Context, msg mailer.Message) {
	log := obs.From(ctx)
	err := s.tasks.Submit("mail.send", func(taskCtx context.Context) error {
		return s.sender.Send(obs.WithLogger(taskCtx, log), msg)
	})
	if err != nil {
		log.Warn("notification not queued", zap.String("subject", msg.Subject), obs.Err(err))
	}
}

func (s *AccountService) issueToken(ctx context.Context, prefix, userID string) (string, error) {
	raw := make([]byte, accountTokenLength)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	token := hex.EncodeToString(raw)
	if err := s.cache.Set(ctx, prefix+hashToken(token), []byte(userID), accountTokenTTL); err != nil {
		return "", fmt.Errorf("store token: %w", err)
	}
	return token, nil
}

// redeemToken consumes a token; each token works once.
func (s *AccountService) redeemToken(ctx context.Context, prefix, token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", apperr.BadRequest("token is required")
	}
	raw, err := s.cache.Take(ctx, prefix+hashToken(token))
	if errors.Is(err, cache.ErrNotFound) {
		return "", apperr.BadRequest("invalid or expired token")
	}
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (s *AccountService) link(path, token string) string {
	return s.baseURL + path + "?token=" + url.QueryEscape(token)
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", apperr.BadRequest("invalid email address")
	}
	return email, nil
}
