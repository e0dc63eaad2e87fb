package oidc

import (
	"context"
	"fmt"
	"net/http"

	"github.com/zitadel/oidc/v3/pkg/client"

	slogctx "github.com/veqryn/slog-context"
)

// Configuration holds the provider endpoints. Usually accessible from the
// well-known openid-configuration URL.
// It's a subset of https://openid.net/specs/openid-connect-discovery-1_0.html#ProviderMetadata
type Configuration struct {
	Issuer                           string   `json:"issuer,omitempty"`
	AuthorizationEndpoint            string   `json:"authorization_endpoint,omitempty"`
	TokenEndpoint                    string   `json:"token_endpoint,omitempty"`
	UserinfoEndpoint                 string   `json:"userinfo_endpoint,omitempty"`
	JwksURI                          string   `json:"jwks_uri,omitempty"`
	EndSessionEndpoint               string   `json:"end_session_endpoint,omitempty"`
	IDTokenSigningAlgValuesSupported []string `json:"id_token_signing_alg_values_supported,omitempty"`
	ScopesSupported                  []string `json:"scopes_supported,omitempty"`
}

// Complete reports whether the endpoints needed by the code flow are known.
func (c Configuration) Complete() bool {
	return c.AuthorizationEndpoint != "" && c.TokenEndpoint != ""
}

// Discover fetches the openid-configuration document of the issuer.
func Discover(ctx context.Context, issuer string, httpClient *http.Client) (Configuration, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	doc, err := client.Discover(ctx, issuer, httpClient)
	if err != nil {
		return Configuration{}, fmt.Errorf("discovering provider %s: %w", issuer, err)
	}

	return Configuration{
		Issuer:                           doc.Issuer,
		AuthorizationEndpoint:            doc.AuthorizationEndpoint,
		TokenEndpoint:                    doc.TokenEndpoint,
		UserinfoEndpoint:                 doc.UserinfoEndpoint,
		JwksURI:                          doc.JwksURI,
		EndSessionEndpoint:               doc.EndSessionEndpoint,
		IDTokenSigningAlgValuesSupported: doc.IDTokenSigningAlgValuesSupported,
		ScopesSupported:                  doc.ScopesSupported,
	}, nil
}

// Resolve returns the explicit configuration, filling the gaps from the
// discovery document when an issuer is set. Explicit values always win.
func Resolve(ctx context.Context, explicit Configuration, httpClient *http.Client) (Configuration, error) {
	if explicit.Issuer == "" || (explicit.Complete() && explicit.JwksURI != "") {
		return explicit, nil
	}

	discovered, err := Discover(ctx, explicit.Issuer, httpClient)
	if err != nil {
		if explicit.Complete() {
			slogctx.Warn(ctx, "Provider discovery failed; ID tokens will not be verified", "issuer", explicit.Issuer, "error", err)
			return explicit, nil
		}
		return Configuration{}, err
	}

	resolved := discovered
	overrideString(&resolved.AuthorizationEndpoint, explicit.AuthorizationEndpoint)
	overrideString(&resolved.TokenEndpoint, explicit.TokenEndpoint)
	overrideString(&resolved.UserinfoEndpoint, explicit.UserinfoEndpoint)
	overrideString(&resolved.JwksURI, explicit.JwksURI)
	overrideString(&resolved.EndSessionEndpoint, explicit.EndSessionEndpoint)
	if len(explicit.IDTokenSigningAlgValuesSupported) > 0 {
		resolved.IDTokenSigningAlgValuesSupported = explicit.IDTokenSigningAlgValuesSupported
	}

	slogctx.Info(ctx, "Resolved provider configuration", "issuer", resolved.Issuer,
		"authorization_endpoint", resolved.AuthorizationEndpoint, "token_endpoint", resolved.TokenEndpoint)

	return resolved, nil
}

func overrideString(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}
