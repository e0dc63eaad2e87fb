package server

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/authcode-flow/internal/flow"
	"github.com/openkcm/authcode-flow/internal/serviceerr"
)

//go:embed templates/*.gohtml
var templatesFS embed.FS

type homePage struct {
	Title       string
	LoggedIn    bool
	DisplayName string
	CSRFToken   string
}

type errorPage struct {
	Title       string
	Code        serviceerr.Code
	Description string
	Hints       []string
}

var exchangeHints = []string{
	"Authorization code already used (codes are single-use)",
	"Authorization code expired (usually valid for 10 minutes)",
	"Invalid client credentials",
	"Redirect URI mismatch",
}

type pages struct {
	tmpl *template.Template
}

func loadPages() (*pages, error) {
	tmpl, err := template.ParseFS(templatesFS, "templates/*.gohtml")
	if err != nil {
		return nil, fmt.Errorf("parsing page templates: %w", err)
	}

	return &pages{tmpl: tmpl}, nil
}

func (p *pages) render(ctx context.Context, w http.ResponseWriter, status int, name string, data any) {
	var buf bytes.Buffer
	if err := p.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		slogctx.Error(ctx, "Failed to render page", "page", name, "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// renderError shows err to the user. Only the code and the sanitised
// description of a service error are displayed; anything else is an
// internal error.
func (p *pages) renderError(ctx context.Context, w http.ResponseWriter, err error) {
	var serviceErr *serviceerr.Error
	if !errors.As(err, &serviceErr) {
		serviceErr = serviceerr.ErrUnknown
	}

	// Do not tell the client that its fingerprint changed.
	if serviceErr.Err == serviceerr.CodeFingerprintMismatch {
		serviceErr = serviceerr.ErrUnauthorized
	}

	page := errorPage{
		Title:       errorTitle(serviceErr.Err),
		Code:        serviceErr.Err,
		Description: flow.SafeDescription(serviceErr.Description),
	}
	if serviceerr.IsTokenExchange(serviceErr) || serviceErr.Err == serviceerr.CodeTransport {
		page.Hints = exchangeHints
	}
	if serviceErr.Err == serviceerr.CodeUnknown && page.Description == "" {
		page.Description = serviceerr.ErrUnknown.Description
	}

	p.render(ctx, w, serviceErr.HTTPStatus(), "error", page)
}

func errorTitle(code serviceerr.Code) string {
	switch code {
	case serviceerr.CodeAccessDenied:
		return "Authorization Error"
	case serviceerr.CodeStateMismatch:
		return "Invalid State Parameter"
	case serviceerr.CodeStateExpired:
		return "Login Expired"
	case serviceerr.CodeMissingCode:
		return "No Authorization Code"
	case serviceerr.CodeInvalidCSRFToken:
		return "Invalid CSRF Token"
	case serviceerr.CodeUnauthorized:
		return "Not Authenticated"
	case serviceerr.CodeInvalidGrant, serviceerr.CodeInvalidClient, serviceerr.CodeUnsupportedGrantType,
		serviceerr.CodeInvalidRequest, serviceerr.CodeTransport, serviceerr.CodeInvalidAtHash:
		return "Token Exchange Failed"
	default:
		return "Login Failed"
	}
}
