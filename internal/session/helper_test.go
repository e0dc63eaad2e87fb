package session_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/stretchr/testify/require"

	otlpaudit "github.com/openkcm/common-sdk/pkg/otlp/audit"

	"github.com/openkcm/authcode-flow/internal/config"
	"github.com/openkcm/authcode-flow/internal/flow"
	"github.com/openkcm/authcode-flow/internal/oidc"
	"github.com/openkcm/authcode-flow/internal/session"
)

const (
	testCSRFSecret  = "12345678901234567890123456789012" // NOSONAR
	testHashKey     = "abcdefghijklmnopqrstuvwxyz012345" // NOSONAR
	testClientID    = "my-client-id"
	testRedirectURI = "http://localhost:5000/callback"
	testAuthURL     = "https://idp.example.com/oauth2/authorize"
)

func StartAuditServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"success": true}`))
		} else {
			w.WriteHeader(http.StatusOK)
		}
	}))
	t.Cleanup(server.Close)

	return server
}

type fakeExchanger struct {
	mu          sync.Mutex
	credentials flow.Credentials
	result      flow.TokenResult
	err         error

	calls       int
	gotCode     string
	gotVerifier string
}

func (f *fakeExchanger) Exchange(_ context.Context, code, verifier string) (flow.TokenResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	f.gotCode = code
	f.gotVerifier = verifier

	return f.result, f.err
}

func (f *fakeExchanger) Credentials() flow.Credentials {
	return f.credentials
}

func (f *fakeExchanger) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls
}

type fakeDecoder struct {
	claims oidc.Claims
	err    error
}

func (f fakeDecoder) Decode(context.Context, string, string) (oidc.Claims, error) {
	return f.claims, f.err
}

func testOAuth() *config.OAuth {
	return &config.OAuth{
		ClientID:    testClientID,
		RedirectURI: testRedirectURI,
		Scopes:      []string{"openid", "profile", "email"},
		FlowTimeout: 10 * time.Minute,
	}
}

func testSessionManagerConfig() *config.SessionManager {
	return &config.SessionManager{
		SessionDuration:     time.Hour,
		CSRFSecretParsed:    []byte(testCSRFSecret),
		CookieHashKeyParsed: []byte(testHashKey),
		SessionCookieTemplate: config.CookieTemplate{
			Name:     "__Host-Session",
			Path:     "/",
			Secure:   true,
			SameSite: config.CookieSameSiteLax,
			HTTPOnly: true,
		},
		CSRFCookieTemplate: config.CookieTemplate{
			Name:     "__Host-CSRF",
			Path:     "/",
			Secure:   true,
			SameSite: config.CookieSameSiteStrict,
		},
	}
}

func newAuditLogger(t *testing.T) *otlpaudit.AuditLogger {
	t.Helper()

	auditServer := StartAuditServer(t)
	auditLogger, err := otlpaudit.NewLogger(&commoncfg.Audit{Endpoint: auditServer.URL})
	require.NoError(t, err)

	return auditLogger
}

func newTestManager(t *testing.T, sessions session.Repository, exchanger session.Exchanger, decoder session.IDTokenDecoder) *session.Manager {
	t.Helper()

	m, err := session.NewManager(testOAuth(), testSessionManagerConfig(), testAuthURL, sessions, exchanger, decoder, newAuditLogger(t))
	require.NoError(t, err)

	return m
}

func stateFromURL(t *testing.T, authURL string) string {
	t.Helper()

	u, err := url.Parse(authURL)
	require.NoError(t, err)

	state := u.Query().Get("state")
	require.NotEmpty(t, state, "no state in %s", authURL)

	return state
}
