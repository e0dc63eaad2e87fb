package config

import (
	"fmt"
	"net/url"

	"github.com/openkcm/common-sdk/pkg/commoncfg"

	"github.com/openkcm/authcode-flow/internal/flow"
	"github.com/openkcm/authcode-flow/internal/serviceerr"
)

const (
	minCSRFSecretLength    = 32
	minCookieHashKeyLength = 32
)

// Validate checks the configuration and loads the secrets referenced by it.
// Every problem is reported as a config_error.
func Validate(cfg *Config) error {
	if err := cfg.OAuth.validate(); err != nil {
		return err
	}

	switch cfg.Store.Type {
	case StoreTypeMemory, StoreTypeValkey, StoreTypePostgres:
	default:
		return configError("unknown store type %q", cfg.Store.Type)
	}

	sm := &cfg.SessionManager
	if sm.SessionDuration <= 0 {
		return configError("session duration must be positive")
	}

	csrfSecret, err := commoncfg.LoadValueFromSourceRef(sm.CSRFSecret)
	if err != nil {
		return configError("loading csrf secret: %v", err)
	}
	if len(csrfSecret) < minCSRFSecretLength {
		return configError("CSRF secret must be at least %d bytes", minCSRFSecretLength)
	}
	sm.CSRFSecretParsed = csrfSecret

	hashKey, err := commoncfg.LoadValueFromSourceRef(sm.CookieHashKey)
	if err != nil {
		return configError("loading cookie hash key: %v", err)
	}
	if len(hashKey) < minCookieHashKeyLength {
		return configError("cookie hash key must be at least %d bytes", minCookieHashKeyLength)
	}
	sm.CookieHashKeyParsed = hashKey

	if sm.SessionCookieTemplate.Name == "" || sm.CSRFCookieTemplate.Name == "" {
		return configError("cookie templates need a name")
	}

	return nil
}

func (o OAuth) validate() error {
	if o.ClientID == "" {
		return configError("oauth client id is empty")
	}
	if err := absoluteURL("oauth redirect uri", o.RedirectURI); err != nil {
		return err
	}

	if o.Issuer == "" && (o.AuthorizationEndpoint == "" || o.TokenEndpoint == "") {
		return configError("oauth endpoints are required when no issuer is configured")
	}
	for name, value := range map[string]string{
		"oauth issuer":                 o.Issuer,
		"oauth authorization endpoint": o.AuthorizationEndpoint,
		"oauth token endpoint":         o.TokenEndpoint,
		"oauth jwks uri":               o.JWKSURI,
	} {
		if value == "" {
			continue
		}
		if err := absoluteURL(name, value); err != nil {
			return err
		}
	}

	creds := flow.Credentials(o.Credentials)
	if !creds.Valid() {
		return configError("unknown oauth credentials %q", o.Credentials)
	}
	if creds.UsesSecret() && o.ClientSecret.Source == "" {
		return configError("oauth credentials %q need a client secret", o.Credentials)
	}

	if o.FlowTimeout <= 0 {
		return configError("oauth flow timeout must be positive")
	}
	if o.ExchangeTimeout <= 0 {
		return configError("oauth exchange timeout must be positive")
	}

	return nil
}

// ClientSecretValue loads the client secret when the credentials need one.
func (o OAuth) ClientSecretValue() (string, error) {
	if !flow.Credentials(o.Credentials).UsesSecret() {
		return "", nil
	}

	secret, err := commoncfg.LoadValueFromSourceRef(o.ClientSecret)
	if err != nil {
		return "", configError("loading client secret: %v", err)
	}
	if len(secret) == 0 {
		return "", configError("client secret is empty")
	}

	return string(secret), nil
}

func absoluteURL(name, value string) error {
	u, err := url.Parse(value)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return configError("%s must be an absolute URL", name)
	}

	return nil
}

func configError(format string, args ...any) error {
	return serviceerr.ErrConfig.WithDescription(fmt.Sprintf(format, args...))
}
