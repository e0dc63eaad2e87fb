// Package config defines the necessary types to configure the application.
// An example config file config.yaml is provided in the repository.
package config

import (
	"time"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
)

type Config struct {
	commoncfg.BaseConfig `mapstructure:",squash" yaml:",inline"`

	HTTP HTTPServer `yaml:"http"`

	Store          Store          `yaml:"store"`
	Database       Database       `yaml:"database"`
	ValKey         ValKey         `yaml:"valkey"`
	Housekeeper    Housekeeper    `yaml:"housekeeper"`
	OAuth          OAuth          `yaml:"oauth"`
	SessionManager SessionManager `yaml:"sessionManager"`
}

type HTTPServer struct {
	Address         string        `yaml:"address" default:":5000"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" default:"5s"`
}

type StoreType string

const (
	StoreTypeMemory   StoreType = "memory"
	StoreTypeValkey   StoreType = "valkey"
	StoreTypePostgres StoreType = "postgres"
)

// Store selects where flow states and sessions are kept.
type Store struct {
	Type StoreType `yaml:"type" default:"memory"`
	// CleanupInterval is how often the memory store drops expired items.
	CleanupInterval time.Duration `yaml:"cleanupInterval" default:"1m"`
}

type Database struct {
	Name     string              `yaml:"name"`
	Port     string              `yaml:"port"`
	Host     commoncfg.SourceRef `yaml:"host"`
	User     commoncfg.SourceRef `yaml:"user"`
	Password commoncfg.SourceRef `yaml:"password"`
	SSLMode  string              `yaml:"sslMode" default:"require"`
}

type ValKey struct {
	Host     commoncfg.SourceRef `yaml:"host"`
	User     commoncfg.SourceRef `yaml:"user"`
	Password commoncfg.SourceRef `yaml:"password"`
	Prefix   string              `yaml:"prefix" default:"authcode"`
}

type Housekeeper struct {
	TriggerInterval time.Duration `yaml:"triggerInterval" default:"15m"`
	// Embedded runs the purge loop inside the api-server as well.
	Embedded bool `yaml:"embedded"`
}

// OAuth describes the client registration at the provider. Endpoints left
// empty are discovered from the issuer.
type OAuth struct {
	Issuer                string              `yaml:"issuer"`
	AuthorizationEndpoint string              `yaml:"authorizationEndpoint"`
	TokenEndpoint         string              `yaml:"tokenEndpoint"`
	JWKSURI               string              `yaml:"jwksURI"`
	ClientID              string              `yaml:"clientID"`
	ClientSecret          commoncfg.SourceRef `yaml:"clientSecret"`
	RedirectURI           string              `yaml:"redirectURI" default:"http://localhost:5000/callback"`
	Scopes                []string            `yaml:"scopes"`
	// Credentials is one of client_secret, pkce or client_secret+pkce.
	Credentials          string            `yaml:"credentials" default:"pkce"`
	AdditionalAuthParams map[string]string `yaml:"additionalAuthParams"`
	FlowTimeout          time.Duration     `yaml:"flowTimeout" default:"10m"`
	ExchangeTimeout      time.Duration     `yaml:"exchangeTimeout" default:"15s"`
	RetryDelay           time.Duration     `yaml:"retryDelay" default:"500ms"`
}

type SessionManager struct {
	SessionDuration time.Duration       `yaml:"sessionDuration" default:"12h"`
	CSRFSecret      commoncfg.SourceRef `yaml:"csrfSecret"`
	// CSRFSecretParsed is filled from CSRFSecret at startup.
	CSRFSecretParsed []byte `yaml:"-"`
	// CookieHashKey authenticates the session cookie value.
	CookieHashKey       commoncfg.SourceRef `yaml:"cookieHashKey"`
	CookieHashKeyParsed []byte              `yaml:"-"`

	SessionCookieTemplate CookieTemplate `yaml:"sessionCookieTemplate"`
	CSRFCookieTemplate    CookieTemplate `yaml:"csrfCookieTemplate"`
}

type CookieSameSite string

const (
	CookieSameSiteNone   CookieSameSite = "None"
	CookieSameSiteLax    CookieSameSite = "Lax"
	CookieSameSiteStrict CookieSameSite = "Strict"
)

type CookieTemplate struct {
	Name     string         `yaml:"name"`
	MaxAge   int            `yaml:"maxAge"`
	Path     string         `yaml:"path" default:"/"`
	Domain   string         `yaml:"domain"`
	Secure   bool           `yaml:"secure"`
	SameSite CookieSameSite `yaml:"sameSite" default:"Lax"`
	HTTPOnly bool           `yaml:"httpOnly"`
}
