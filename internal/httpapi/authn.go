package httpapi

import (
	"net/http"
	"strings"
	"time"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// sessionToken reads the session cookie, falling back to a bearer token for
// API clients.
func (a *API) sessionToken(r *http.Request) string {
	if c, err := r.Cookie(a.opts.CookieName); err == nil && strings.TrimSpace(c.Value) != "" {
		return strings.TrimSpace(c.Value)
	}
	return extractBearerToken(r.Header.Get(authHeader))
}

func extractBearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return ""
	}
	return strings.TrimSpace(header[len(bearer):])
}

func (a *API) sessionCookie(token string, expires time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     a.opts.CookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		MaxAge:   int(time.Until(expires).Seconds()),
		HttpOnly: true,
		Secure:   a.opts.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
}

func (a *API) expiredCookie() *http.Cookie {
	return &http.Cookie{
		Name:     a.opts.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.opts.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
}
