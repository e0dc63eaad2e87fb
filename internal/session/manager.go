package session

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/securecookie"

	otlpaudit "github.com/openkcm/common-sdk/pkg/otlp/audit"
	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/authcode-flow/internal/config"
	"github.com/openkcm/authcode-flow/internal/flow"
	"github.com/openkcm/authcode-flow/internal/oidc"
	"github.com/openkcm/authcode-flow/internal/pkce"
	"github.com/openkcm/authcode-flow/internal/serviceerr"
	"github.com/openkcm/authcode-flow/pkg/csrf"
)

const auditInitiator = "authcode flow"

type Exchanger interface {
	Exchange(ctx context.Context, code, verifier string) (flow.TokenResult, error)
	Credentials() flow.Credentials
}

type IDTokenDecoder interface {
	Decode(ctx context.Context, rawIDToken, accessToken string) (oidc.Claims, error)
}

// Manager drives a login from the authorization redirect to a stored session.
type Manager struct {
	sessions  Repository
	exchanger Exchanger
	idTokens  IDTokenDecoder
	pkce      pkce.Source
	audit     *otlpaudit.AuditLogger
	cookies   *securecookie.SecureCookie

	authorizationEndpoint string
	clientID              string
	redirectURI           string
	scopes                []string
	extraParams           map[string]string
	flowTimeout           time.Duration
	sessionDuration       time.Duration

	sessionCookieTemplate config.CookieTemplate
	csrfCookieTemplate    config.CookieTemplate

	csrfSecret []byte
	now        func() time.Time
}

func NewManager(
	oauth *config.OAuth,
	cfg *config.SessionManager,
	authorizationEndpoint string,
	sessions Repository,
	exchanger Exchanger,
	idTokens IDTokenDecoder,
	auditLogger *otlpaudit.AuditLogger,
) (*Manager, error) {
	if len(cfg.CSRFSecretParsed) < 32 {
		return nil, serviceerr.ErrConfig.WithDescription("CSRF secret must be at least 32 bytes")
	}
	if len(cfg.CookieHashKeyParsed) < 32 {
		return nil, serviceerr.ErrConfig.WithDescription("cookie hash key must be at least 32 bytes")
	}

	// The endpoint is validated up front so that misconfiguration shows at startup.
	if _, err := flow.BuildAuthorizationURL(flow.AuthRequest{
		AuthorizationEndpoint: authorizationEndpoint,
		ClientID:              oauth.ClientID,
		RedirectURI:           oauth.RedirectURI,
		State:                 "probe",
		ExtraParams:           oauth.AdditionalAuthParams,
	}); err != nil {
		return nil, err
	}

	cookies := securecookie.New(cfg.CookieHashKeyParsed, nil)
	cookies.MaxAge(int(cfg.SessionDuration / time.Second))

	return &Manager{
		sessions:              sessions,
		exchanger:             exchanger,
		idTokens:              idTokens,
		audit:                 auditLogger,
		cookies:               cookies,
		authorizationEndpoint: authorizationEndpoint,
		clientID:              oauth.ClientID,
		redirectURI:           oauth.RedirectURI,
		scopes:                oauth.Scopes,
		extraParams:           oauth.AdditionalAuthParams,
		flowTimeout:           oauth.FlowTimeout,
		sessionDuration:       cfg.SessionDuration,
		sessionCookieTemplate: cfg.SessionCookieTemplate,
		csrfCookieTemplate:    cfg.CSRFCookieTemplate,
		csrfSecret:            cfg.CSRFSecretParsed,
		now:                   time.Now,
	}, nil
}

// BeginLogin stores a new flow state and returns the provider URL to redirect to.
func (m *Manager) BeginLogin(ctx context.Context, fingerprint, requestURI string) (string, error) {
	now := m.now()
	state := flow.FlowState{
		State:       m.pkce.State(),
		Fingerprint: fingerprint,
		RequestURI:  SafeRequestURI(requestURI),
		CreatedAt:   now,
		Expiry:      now.Add(m.flowTimeout),
	}

	var challenge string
	if m.exchanger.Credentials().UsesPKCE() {
		p := m.pkce.PKCE()
		state.CodeVerifier = p.Verifier
		challenge = p.Challenge
	}

	u, err := flow.BuildAuthorizationURL(flow.AuthRequest{
		AuthorizationEndpoint: m.authorizationEndpoint,
		ClientID:              m.clientID,
		RedirectURI:           m.redirectURI,
		Scopes:                m.scopes,
		State:                 state.State,
		CodeChallenge:         challenge,
		ExtraParams:           m.extraParams,
	})
	if err != nil {
		return "", fmt.Errorf("building authorization url: %w", err)
	}

	if err := m.sessions.StoreFlow(ctx, state); err != nil {
		return "", fmt.Errorf("storing flow state: %w", err)
	}

	slogctx.Debug(ctx, "Stored flow state", "phase", flow.PhaseAwaitingCallback, "pkce", challenge != "")

	return u, nil
}

// CompleteLogin handles the callback query. The flow state is erased before
// anything else happens with it, so a replayed callback finds nothing.
func (m *Manager) CompleteLogin(ctx context.Context, params url.Values, fingerprint string) (LoginResult, error) {
	correlationID := uuid.NewString()
	ctx = slogctx.With(ctx, "correlation_id", correlationID)

	metadata, err := otlpaudit.NewEventMetadata(auditInitiator, m.clientID, correlationID)
	if err != nil {
		return LoginResult{Phase: flow.PhaseFailed}, fmt.Errorf("creating audit metadata: %w", err)
	}

	fail := func(reason string, err error) (LoginResult, error) {
		phase := flow.PhaseOf(err)
		slogctx.Info(ctx, "Login failed", "phase", phase, "code", serviceerr.CodeOf(err), "reason", reason)
		m.sendUserLoginFailureAudit(ctx, metadata, reason)

		return LoginResult{Phase: phase}, err
	}

	stored, err := m.takeFlow(ctx, params.Get("state"))
	if err != nil {
		return fail("failed to load flow state", err)
	}

	code, err := flow.ValidateCallback(stored, params, m.now())
	if err != nil {
		return fail("callback rejected", err)
	}

	if stored.Fingerprint != "" &&
		subtle.ConstantTimeCompare([]byte(stored.Fingerprint), []byte(fingerprint)) != 1 {
		return fail("fingerprint mismatch", serviceerr.ErrFingerprintMismatch)
	}

	slogctx.Debug(ctx, "Callback validated", "phase", flow.PhaseValidated)

	tokens, err := m.exchanger.Exchange(ctx, code, stored.CodeVerifier)
	if err != nil {
		return fail("failed to exchange code for tokens", err)
	}

	slogctx.Info(ctx, "Exchanged the auth code for tokens")

	claims, err := m.idTokens.Decode(ctx, tokens.IDToken, tokens.AccessToken)
	if err != nil {
		return fail("failed to decode id token", fmt.Errorf("decoding id token: %w", err))
	}

	now := m.now()
	sessionID := m.pkce.SessionID()
	s := Session{
		ID:           sessionID,
		Fingerprint:  fingerprint,
		CSRFToken:    csrf.NewToken(sessionID, m.csrfSecret),
		Claims:       claims,
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		IDToken:      tokens.IDToken,
		TokenType:    tokens.TokenType,
		Scope:        tokens.Scope,
		CreatedAt:    now,
		Expiry:       now.Add(m.sessionDuration),
	}
	if tokens.ExpiresIn > 0 {
		s.AccessTokenExpiry = now.Add(time.Duration(tokens.ExpiresIn) * time.Second)
	}

	if err := m.sessions.StoreSession(ctx, s); err != nil {
		return fail("failed to store session", fmt.Errorf("storing session: %w", err))
	}

	m.sendUserLoginSuccessAudit(ctx, metadata, claims.Subject)

	return LoginResult{
		SessionID:  sessionID,
		CSRFToken:  s.CSRFToken,
		RequestURI: stored.RequestURI,
		Phase:      flow.PhaseExchanged,
	}, nil
}

// takeFlow loads and erases the flow state of stateID. It returns a nil state
// when there is nothing to consume, which the validator reports as a mismatch.
func (m *Manager) takeFlow(ctx context.Context, stateID string) (*flow.FlowState, error) {
	if !pkce.IsWellFormedState(stateID) {
		slogctx.Debug(ctx, "Callback state is malformed", "length", len(stateID))
		return nil, nil
	}

	state, err := m.sessions.LoadFlow(ctx, stateID)
	if err != nil {
		if errors.Is(err, serviceerr.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("loading flow state: %w", err)
	}

	if err := m.sessions.DeleteFlow(ctx, stateID); err != nil {
		if errors.Is(err, serviceerr.ErrNotFound) {
			// Another callback consumed it first.
			return nil, nil
		}
		return nil, fmt.Errorf("deleting flow state: %w", err)
	}

	return &state, nil
}

// LoadSession returns the live session with the given ID.
func (m *Manager) LoadSession(ctx context.Context, sessionID string) (Session, error) {
	if sessionID == "" {
		return Session{}, serviceerr.ErrUnauthorized
	}

	s, err := m.sessions.LoadSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, serviceerr.ErrNotFound) {
			return Session{}, serviceerr.ErrUnauthorized
		}
		return Session{}, fmt.Errorf("loading session: %w", err)
	}

	if s.Expired(m.now()) {
		if err := m.sessions.DeleteSession(ctx, sessionID); err != nil && !errors.Is(err, serviceerr.ErrNotFound) {
			slogctx.Warn(ctx, "Failed to delete expired session", "error", err)
		}
		return Session{}, serviceerr.ErrUnauthorized
	}

	return s, nil
}

// Logout deletes the session once the CSRF token has been checked.
func (m *Manager) Logout(ctx context.Context, sessionID, csrfToken string) error {
	if !m.ValidateCSRFToken(csrfToken, sessionID) {
		return serviceerr.ErrInvalidCSRFToken
	}

	if err := m.sessions.DeleteSession(ctx, sessionID); err != nil && !errors.Is(err, serviceerr.ErrNotFound) {
		return fmt.Errorf("deleting session: %w", err)
	}

	slogctx.Info(ctx, "Session terminated")

	return nil
}

// PurgeExpired drops expired records from stores that do not expire them natively.
func (m *Manager) PurgeExpired(ctx context.Context) (int64, error) {
	purger, ok := m.sessions.(Purger)
	if !ok {
		slogctx.Debug(ctx, "Session store expires records natively; nothing to purge")
		return 0, nil
	}

	n, err := purger.PurgeExpired(ctx, m.now())
	if err != nil {
		return 0, fmt.Errorf("purging expired records: %w", err)
	}

	return n, nil
}

func (m *Manager) ValidateCSRFToken(token, sessionID string) bool {
	return csrf.Validate(token, sessionID, m.csrfSecret)
}

// SafeRequestURI keeps local absolute paths only, so the post-login redirect
// cannot leave the application.
func SafeRequestURI(requestURI string) string {
	if requestURI == "" || !strings.HasPrefix(requestURI, "/") ||
		strings.HasPrefix(requestURI, "//") || strings.HasPrefix(requestURI, "/\\") {
		return "/"
	}

	u, err := url.Parse(requestURI)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return "/"
	}

	return requestURI
}

// sendUserLoginFailureAudit creates the user-login-failure audit event and sends it.
// Errors are logged and not propagated.
func (m *Manager) sendUserLoginFailureAudit(ctx context.Context, metadata otlpaudit.EventMetadata, reason string) {
	if m.audit == nil {
		return
	}

	event, err := otlpaudit.NewUserLoginFailureEvent(metadata, m.clientID, otlpaudit.LOGINMETHOD_OPENIDCONNECT, otlpaudit.FailReason(reason), m.clientID)
	if err != nil {
		slogctx.Error(ctx, "creating audit log", "error", err)
		return
	}

	if err := m.audit.SendEvent(ctx, event); err != nil {
		slogctx.Error(ctx, "Failed to send audit log for user login failure", "error", err)
	}
}

func (m *Manager) sendUserLoginSuccessAudit(ctx context.Context, metadata otlpaudit.EventMetadata, subject string) {
	if m.audit == nil {
		return
	}

	if subject == "" {
		subject = m.clientID
	}

	event, err := otlpaudit.NewUserLoginSuccessEvent(metadata, subject, otlpaudit.LOGINMETHOD_OPENIDCONNECT, otlpaudit.MFATYPE_NONE, otlpaudit.USERTYPE_BUSINESS, subject)
	if err != nil {
		slogctx.Error(ctx, "creating audit log", "error", err)
		return
	}

	if err := m.audit.SendEvent(ctx, event); err != nil {
		slogctx.Error(ctx, "Failed to send audit log for user login success", "error", err)
	}
}
