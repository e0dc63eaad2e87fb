package server

import (
	"encoding/json"
	"errors"
	"net/http"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/authcode-flow/internal/oidc"
	"github.com/openkcm/authcode-flow/internal/serviceerr"
	"github.com/openkcm/authcode-flow/internal/session"
	"github.com/openkcm/authcode-flow/pkg/csrf"
	"github.com/openkcm/authcode-flow/pkg/fingerprint"
)

const (
	notAuthenticated = "not_authenticated"
	internalError    = "internal_error"
	profileMessage   = "This is a protected resource"
)

type errorResponse struct {
	Error string `json:"error"`
}

type profileResponse struct {
	Message string      `json:"message"`
	User    oidc.Claims `json:"user"`
}

type handlers struct {
	sManager *session.Manager
	pages    *pages
}

// home greets the logged in user or offers the login link.
func (h *handlers) home(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	page := homePage{Title: "OAuth 2.0 Authorization Code Flow"}

	s, err := h.sManager.SessionFromRequest(r)
	switch {
	case err == nil:
		page.LoggedIn = true
		page.DisplayName = displayName(s.Claims)
		page.CSRFToken = s.CSRFToken
	case errors.Is(err, serviceerr.ErrUnauthorized):
	default:
		slogctx.Error(ctx, "Failed to load session", "error", err)
		h.pages.renderError(ctx, w, err)
		return
	}

	h.pages.render(ctx, w, http.StatusOK, "home", page)
}

// login starts a flow and redirects to the authorization endpoint.
func (h *handlers) login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	fp, err := fingerprint.Extract(ctx)
	if err != nil {
		slogctx.Error(ctx, "Failed to extract fingerprint", "error", err)
		h.pages.renderError(ctx, w, serviceerr.ErrUnknown)
		return
	}

	authURL, err := h.sManager.BeginLogin(ctx, fp, r.URL.Query().Get("request_uri"))
	if err != nil {
		slogctx.Error(ctx, "Failed to begin login", "error", err)
		h.pages.renderError(ctx, w, err)
		return
	}

	http.Redirect(w, r, authURL, http.StatusFound)
}

// callback completes the flow, sets the session cookies and returns the user
// to where the login started.
func (h *handlers) callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	fp, err := fingerprint.Extract(ctx)
	if err != nil {
		slogctx.Error(ctx, "Failed to extract fingerprint", "error", err)
		h.pages.renderError(ctx, w, serviceerr.ErrUnknown)
		return
	}

	result, err := h.sManager.CompleteLogin(ctx, r.URL.Query(), fp)
	if err != nil {
		slogctx.Warn(ctx, "Login did not complete", "phase", result.Phase, "error", err)
		h.pages.renderError(ctx, w, err)
		return
	}

	sessionCookie, err := h.sManager.MakeSessionCookie(ctx, result.SessionID)
	if err != nil {
		slogctx.Error(ctx, "Failed to create session cookie", "error", err)
		h.pages.renderError(ctx, w, serviceerr.ErrUnknown)
		return
	}

	csrfCookie, err := h.sManager.MakeCSRFCookie(ctx, result.CSRFToken)
	if err != nil {
		slogctx.Error(ctx, "Failed to create CSRF cookie", "error", err)
		h.pages.renderError(ctx, w, serviceerr.ErrUnknown)
		return
	}

	http.SetCookie(w, sessionCookie)
	http.SetCookie(w, csrfCookie)
	http.Redirect(w, r, result.RequestURI, http.StatusFound)
}

// logout ends the session. The request must carry the CSRF token of the session.
func (h *handlers) logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sessionID, err := h.sManager.SessionIDFromRequest(r)
	if err == nil {
		if err := h.sManager.Logout(ctx, sessionID, csrf.FromRequest(r)); err != nil {
			slogctx.Warn(ctx, "Logout rejected", "error", err)
			h.pages.renderError(ctx, w, err)
			return
		}
	}

	for _, c := range h.sManager.ClearCookies() {
		http.SetCookie(w, c)
	}
	http.Redirect(w, r, "/", http.StatusFound)
}

// profile is an example of a protected resource.
func (h *handlers) profile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	s, err := h.sManager.SessionFromRequest(r)
	if err != nil {
		if errors.Is(err, serviceerr.ErrUnauthorized) {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: notAuthenticated})
			return
		}

		slogctx.Error(ctx, "Failed to load session", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: internalError})
		return
	}

	writeJSON(w, http.StatusOK, profileResponse{
		Message: profileMessage,
		User:    s.Claims,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func displayName(c oidc.Claims) string {
	switch {
	case c.Email != "":
		return c.Email
	case c.Name != "":
		return c.Name
	default:
		return "User"
	}
}
