package flow

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/oauth2"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/authcode-flow/internal/serviceerr"
)

const (
	DefaultExchangeTimeout = 15 * time.Second
	DefaultRetryDelay      = 500 * time.Millisecond

	redacted = "[REDACTED]"
)

// Credentials selects what proves the client identity at the token endpoint.
// It is configured explicitly, never guessed per provider.
type Credentials string

const (
	CredentialsClientSecret     Credentials = "client_secret"
	CredentialsPKCE             Credentials = "pkce"
	CredentialsClientSecretPKCE Credentials = "client_secret+pkce"
)

func (c Credentials) Valid() bool {
	switch c {
	case CredentialsClientSecret, CredentialsPKCE, CredentialsClientSecretPKCE:
		return true
	default:
		return false
	}
}

func (c Credentials) UsesPKCE() bool {
	return c == CredentialsPKCE || c == CredentialsClientSecretPKCE
}

func (c Credentials) UsesSecret() bool {
	return c == CredentialsClientSecret || c == CredentialsClientSecretPKCE
}

type ExchangerConfig struct {
	TokenEndpoint string
	ClientID      string
	ClientSecret  string
	RedirectURI   string
	Credentials   Credentials
	Timeout       time.Duration // Per attempt
	RetryDelay    time.Duration // Pause before the single transport retry
}

// Exchanger trades an authorization code for tokens.
type Exchanger struct {
	oauth        *oauth2.Config
	client       *http.Client
	credentials  Credentials
	clientSecret string
	retryDelay   time.Duration
}

func NewExchanger(cfg ExchangerConfig, httpClient *http.Client) (*Exchanger, error) {
	switch {
	case cfg.TokenEndpoint == "":
		return nil, serviceerr.ErrConfig.WithDescription("token endpoint is empty")
	case cfg.ClientID == "":
		return nil, serviceerr.ErrConfig.WithDescription("client id is empty")
	case cfg.RedirectURI == "":
		return nil, serviceerr.ErrConfig.WithDescription("redirect uri is empty")
	case !cfg.Credentials.Valid():
		return nil, serviceerr.ErrConfig.WithDescription(fmt.Sprintf("unknown credentials mode %q", cfg.Credentials))
	case cfg.Credentials.UsesSecret() && cfg.ClientSecret == "":
		return nil, serviceerr.ErrConfig.WithDescription("client secret is required by the credentials mode")
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	client := *httpClient
	next := client.Transport
	if next == nil {
		next = http.DefaultTransport
	}
	client.Transport = &acceptJSONRoundTripper{next: next}
	client.Timeout = cfg.Timeout
	if client.Timeout <= 0 {
		client.Timeout = DefaultExchangeTimeout
	}

	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = DefaultRetryDelay
	}

	var secret string
	if cfg.Credentials.UsesSecret() {
		secret = cfg.ClientSecret
	}

	return &Exchanger{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: secret,
			RedirectURL:  cfg.RedirectURI,
			Endpoint: oauth2.Endpoint{
				TokenURL:  cfg.TokenEndpoint,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		client:       &client,
		credentials:  cfg.Credentials,
		clientSecret: secret,
		retryDelay:   retryDelay,
	}, nil
}

// Credentials returns the configured credentials mode.
func (e *Exchanger) Credentials() Credentials {
	return e.credentials
}

// Exchange posts the authorization code to the token endpoint.
//
// Provider answers are final: a reused or expired code can never succeed, so
// only a transport failure, where the provider has not consumed the code, is
// retried, and only once.
func (e *Exchanger) Exchange(ctx context.Context, code, verifier string) (TokenResult, error) {
	if code == "" {
		return TokenResult{}, serviceerr.ErrMissingCode
	}

	var opts []oauth2.AuthCodeOption
	if e.credentials.UsesPKCE() {
		if verifier == "" {
			return TokenResult{}, serviceerr.ErrInvalidRequest.WithDescription("code verifier is missing")
		}
		opts = append(opts, oauth2.VerifierOption(verifier))
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, e.client)

	var token *oauth2.Token
	attempt := 0
	operation := func() error {
		attempt++
		t, err := e.oauth.Exchange(ctx, code, opts...)
		if err != nil {
			if isRetryable(ctx, err) {
				slogctx.Warn(ctx, "Token endpoint transport failure", "attempt", attempt, "error", err)
				return err
			}
			return backoff.Permanent(err)
		}
		token = t
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(e.retryDelay), 1), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return TokenResult{}, e.mapError(ctx, err, code, verifier)
	}

	return toTokenResult(token), nil
}

func (e *Exchanger) mapError(ctx context.Context, err error, code, verifier string) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		status := 0
		if retrieveErr.Response != nil {
			status = retrieveErr.Response.StatusCode
		}
		slogctx.Debug(ctx, "Token endpoint returned an error", "status", status, "error_code", retrieveErr.ErrorCode)

		desc := e.redact(retrieveErr.ErrorDescription, code, verifier)
		if retrieveErr.ErrorCode == "" && desc == "" {
			desc = fmt.Sprintf("token endpoint returned status %d", status)
		}

		return serviceerr.FromTokenError(retrieveErr.ErrorCode, desc)
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) || ctx.Err() != nil {
		if urlErr != nil && urlErr.Timeout() || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return serviceerr.ErrTransport.WithDescription("token endpoint timed out")
		}
		return serviceerr.ErrTransport
	}

	slogctx.Debug(ctx, "Malformed token endpoint response", "error", err)

	return serviceerr.ErrUnknown.WithDescription("malformed token endpoint response")
}

// redact strips values that must never reach the user from a provider text.
func (e *Exchanger) redact(s string, values ...string) string {
	for _, v := range append(values, e.clientSecret) {
		if v != "" {
			s = strings.ReplaceAll(s, v, redacted)
		}
	}

	return SafeDescription(s)
}

// isRetryable reports transport failures where the request cannot have reached
// the provider. A timed out attempt may already have redeemed the code.
func isRetryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var urlErr *url.Error

	return errors.As(err, &urlErr) && !urlErr.Timeout()
}

func toTokenResult(t *oauth2.Token) TokenResult {
	res := TokenResult{
		AccessToken:  t.AccessToken,
		TokenType:    t.TokenType,
		RefreshToken: t.RefreshToken,
		ExpiresIn:    t.ExpiresIn,
	}
	if res.ExpiresIn == 0 && !t.Expiry.IsZero() {
		res.ExpiresIn = int64(time.Until(t.Expiry).Round(time.Second) / time.Second)
	}
	if idToken, ok := t.Extra("id_token").(string); ok {
		res.IDToken = idToken
	}
	if scope, ok := t.Extra("scope").(string); ok {
		res.Scope = scope
	}

	return res
}

// acceptJSONRoundTripper asks the token endpoint for JSON. Some providers
// answer form-encoded bodies otherwise.
type acceptJSONRoundTripper struct {
	next http.RoundTripper
}

func (t *acceptJSONRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.Header.Set("Accept", "application/json")

	return t.next.RoundTrip(r)
}
