package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/stretchr/testify/require"

	"github.com/openkcm/authcode-flow/internal/config"
	"github.com/openkcm/authcode-flow/internal/flow"
	"github.com/openkcm/authcode-flow/internal/oidc"
	"github.com/openkcm/authcode-flow/internal/session"
	sessionmock "github.com/openkcm/authcode-flow/internal/session/mock"
)

const (
	testUserAgent = "server-test/1.0"
	testAuthURL   = "https://idp.example.com/oauth2/authorize"
)

type fakeExchanger struct {
	result flow.TokenResult
	err    error
}

func (f fakeExchanger) Exchange(context.Context, string, string) (flow.TokenResult, error) {
	return f.result, f.err
}

func (fakeExchanger) Credentials() flow.Credentials {
	return flow.CredentialsPKCE
}

type fakeDecoder struct {
	claims oidc.Claims
}

func (f fakeDecoder) Decode(context.Context, string, string) (oidc.Claims, error) {
	return f.claims, nil
}

func testConfig() *config.Config {
	return &config.Config{
		BaseConfig: commoncfg.BaseConfig{
			Application: commoncfg.Application{
				Name: "test-app",
			},
		},
		HTTP: config.HTTPServer{
			Address:         "localhost:0",
			ShutdownTimeout: time.Second,
		},
		OAuth: config.OAuth{
			ClientID:    "my-client-id",
			RedirectURI: "http://localhost:5000/callback",
			Scopes:      []string{"openid", "profile", "email"},
			FlowTimeout: 10 * time.Minute,
		},
		SessionManager: config.SessionManager{
			SessionDuration:     time.Hour,
			CSRFSecretParsed:    []byte("12345678901234567890123456789012"),
			CookieHashKeyParsed: []byte("abcdefghijklmnopqrstuvwxyz012345"),
			SessionCookieTemplate: config.CookieTemplate{
				Name:     "__Host-Session",
				Path:     "/",
				Secure:   true,
				HTTPOnly: true,
				SameSite: config.CookieSameSiteLax,
			},
			CSRFCookieTemplate: config.CookieTemplate{
				Name:     "__Host-CSRF",
				Path:     "/",
				Secure:   true,
				SameSite: config.CookieSameSiteStrict,
			},
		},
	}
}

type testEnv struct {
	cfg      *config.Config
	sessions *sessionmock.Repository
	handler  http.Handler
}

func newTestEnv(t *testing.T, exchanger session.Exchanger, claims oidc.Claims, opts ...sessionmock.RepositoryOption) *testEnv {
	t.Helper()

	cfg := testConfig()
	require.NoError(t, initMeters(t.Context(), cfg))

	sessions := sessionmock.NewInMemRepository(opts...)
	sManager, err := session.NewManager(&cfg.OAuth, &cfg.SessionManager, testAuthURL, sessions, exchanger, fakeDecoder{claims: claims}, nil)
	require.NoError(t, err)

	handler, err := newRouter(cfg, sManager)
	require.NoError(t, err)

	return &testEnv{cfg: cfg, sessions: sessions, handler: handler}
}

func (e *testEnv) do(t *testing.T, req *http.Request, cookies ...*http.Cookie) *http.Response {
	t.Helper()

	req.Header.Set("User-Agent", testUserAgent)
	for _, c := range cookies {
		req.AddCookie(c)
	}

	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	resp := rec.Result()
	t.Cleanup(func() { _ = resp.Body.Close() })

	return resp
}

// login runs /login and /callback and returns the cookies set by the callback.
func (e *testEnv) login(t *testing.T, requestURI string) []*http.Cookie {
	t.Helper()

	resp := e.do(t, httptest.NewRequest(http.MethodGet, "/login?request_uri="+url.QueryEscape(requestURI), nil))
	require.Equal(t, http.StatusFound, resp.StatusCode)

	location, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	state := location.Query().Get("state")
	require.NotEmpty(t, state)

	resp = e.do(t, httptest.NewRequest(http.MethodGet, "/callback?code=auth-code&state="+url.QueryEscape(state), nil))
	require.Equal(t, http.StatusFound, resp.StatusCode)

	return resp.Cookies()
}

func cookieNamed(cookies []*http.Cookie, name string) *http.Cookie {
	for _, c := range cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}
