package session

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/authcode-flow/internal/serviceerr"
)

// MakeSessionCookie returns the cookie carrying the signed session ID.
func (m *Manager) MakeSessionCookie(ctx context.Context, sessionID string) (*http.Cookie, error) {
	encoded, err := m.cookies.Encode(m.sessionCookieTemplate.Name, sessionID)
	if err != nil {
		return nil, fmt.Errorf("encoding session cookie: %w", err)
	}

	sessionCookie := m.sessionCookieTemplate.ToCookie(encoded)
	if err := sessionCookie.Valid(); err != nil {
		return nil, fmt.Errorf("invalid session cookie: %w", err)
	}

	if !strings.HasPrefix(sessionCookie.Name, "__Host-") {
		slogctx.Warn(ctx, "Session cookie name does not start with __Host-; this is not recommended in production environments")
	}
	if !sessionCookie.Secure {
		slogctx.Warn(ctx, "Session cookie is not marked as Secure; this is not recommended in production environments")
	}
	if !sessionCookie.HttpOnly {
		slogctx.Warn(ctx, "Session cookie is not marked as HttpOnly; this is not recommended in production environments")
	}

	return sessionCookie, nil
}

// MakeCSRFCookie returns the cookie the page scripts read the CSRF token from.
func (m *Manager) MakeCSRFCookie(ctx context.Context, value string) (*http.Cookie, error) {
	csrfCookie := m.csrfCookieTemplate.ToCookie(value)
	if err := csrfCookie.Valid(); err != nil {
		return nil, fmt.Errorf("invalid CSRF cookie: %w", err)
	}

	if !csrfCookie.Secure {
		slogctx.Warn(ctx, "CSRF cookie is not marked as Secure; this is not recommended in production environments")
	}
	if csrfCookie.HttpOnly {
		slogctx.Warn(ctx, "CSRF cookie is marked as HttpOnly; this is not recommended as the CSRF token needs to be accessible from JavaScript")
	}

	return csrfCookie, nil
}

// ClearCookies returns the cookies that remove the session and CSRF cookies.
func (m *Manager) ClearCookies() []*http.Cookie {
	return []*http.Cookie{
		m.sessionCookieTemplate.ToExpiredCookie(),
		m.csrfCookieTemplate.ToExpiredCookie(),
	}
}

// SessionIDFromRequest returns the session ID of the signed session cookie.
func (m *Manager) SessionIDFromRequest(r *http.Request) (string, error) {
	c, err := r.Cookie(m.sessionCookieTemplate.Name)
	if err != nil {
		return "", serviceerr.ErrUnauthorized
	}

	var sessionID string
	if err := m.cookies.Decode(m.sessionCookieTemplate.Name, c.Value, &sessionID); err != nil {
		slogctx.Debug(r.Context(), "Rejected session cookie", "error", err)
		return "", serviceerr.ErrUnauthorized
	}

	return sessionID, nil
}

// SessionFromRequest returns the live session the request belongs to.
func (m *Manager) SessionFromRequest(r *http.Request) (Session, error) {
	sessionID, err := m.SessionIDFromRequest(r)
	if err != nil {
		return Session{}, err
	}

	return m.LoadSession(r.Context(), sessionID)
}
