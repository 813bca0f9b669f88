package auth_test

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"netcrew.io/internal/auth"
	"netcrew.io/internal/cache"
	"netcrew.io/internal/mail"
	"netcrew.io/internal/security/secretbox"
	"netcrew.io/internal/store/memory"
	"netcrew.io/internal/tasks"
)

const goodPassword = "correct horse battery"

type services struct {
	store     *memory.Store
	rbac      *auth.RBACService
	sessions  *auth.SessionService
	twoFactor *auth.TwoFactorService
	accounts  *auth.AccountService
	mailer    *mail.LogSender
}

func newServices(t *testing.T) *services {
	t.Helper()
	ctx := context.Background()
	store := memory.New()

	rbac, err := auth.NewRBACService(store, store, store)
	require.NoError(t, err)
	require.NoError(t, rbac.EnsureSystemRoles(ctx))

	signer, err := auth.NewTokenSigner(strings.Repeat("s", 32))
	require.NoError(t, err)
	sessions, err := auth.NewSessionService(signer, store, store, rbac, tasks.Inline{}, time.Hour)
	require.NoError(t, err)

	box, err := secretbox.New("unit-test-key")
	require.NoError(t, err)
	twoFactor, err := auth.NewTwoFactorService(store, sessions, box, "netcrew-test")
	require.NoError(t, err)

	sender := mail.NewLogSender()
	accounts, err := auth.NewAccountService(auth.AccountDeps{
		Users:     store,
		Roles:     store,
		RBAC:      rbac,
		Sessions:  sessions,
		Cache:     cache.NewMemory("test", time.Minute),
		Sender:    sender,
		Tasks:     tasks.Inline{},
		Blacklist: auth.NewBlacklist("password123", "qwertyuiop"),
		BaseURL:   "https://app.netcrew.test/",
	})
	require.NoError(t, err)

	return &services{store: store, rbac: rbac, sessions: sessions, twoFactor: twoFactor, accounts: accounts, mailer: sender}
}

func (s *services) register(t *testing.T, email string) auth.User {
	t.Helper()
	u, err := s.accounts.Register(context.Background(), auth.RegisterInput{
		Email: email, Name: strings.Split(email, "@")[0], Password: goodPassword,
	})
	require.NoError(t, err)
	return u
}

func (s *services) roleID(t *testing.T, name string) string {
	t.Helper()
	r, err := s.store.GetRoleByName(context.Background(), name)
	require.NoError(t, err)
	return r.ID
}

// lastLinkToken extracts the token query parameter from the newest mail.
func (s *services) lastLinkToken(t *testing.T) string {
	t.Helper()
	sent := s.mailer.Sent()
	require.NotEmpty(t, sent)
	for _, field := range strings.Fields(sent[len(sent)-1].Text) {
		if strings.HasPrefix(field, "https://") {
			u, err := url.Parse(field)
			require.NoError(t, err)
			return u.Query().Get("token")
		}
	}
	t.Fatalf("no link in %q", sent[len(sent)-1].Text)
	return ""
}
