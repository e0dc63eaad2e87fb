package flow

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/openkcm/authcode-flow/internal/pkce"
	"github.com/openkcm/authcode-flow/internal/serviceerr"
)

// AuthRequest holds the inputs of the authorization URL.
type AuthRequest struct {
	AuthorizationEndpoint string
	ClientID              string
	RedirectURI           string
	Scopes                []string
	State                 string
	CodeChallenge         string            // Empty disables PKCE
	ExtraParams           map[string]string // Provider specific, e.g. access_type=offline
}

var reservedAuthParams = map[string]struct{}{
	"client_id":             {},
	"redirect_uri":          {},
	"response_type":         {},
	"scope":                 {},
	"state":                 {},
	"code_challenge":        {},
	"code_challenge_method": {},
}

// BuildAuthorizationURL returns the provider URL the browser is redirected to.
func BuildAuthorizationURL(req AuthRequest) (string, error) {
	switch {
	case req.AuthorizationEndpoint == "":
		return "", serviceerr.ErrConfig.WithDescription("authorization endpoint is empty")
	case req.ClientID == "":
		return "", serviceerr.ErrConfig.WithDescription("client id is empty")
	case req.RedirectURI == "":
		return "", serviceerr.ErrConfig.WithDescription("redirect uri is empty")
	case req.State == "":
		return "", serviceerr.ErrInvalidRequest.WithDescription("state is empty")
	}

	u, err := url.Parse(req.AuthorizationEndpoint)
	if err != nil || !u.IsAbs() {
		return "", serviceerr.ErrConfig.WithDescription(fmt.Sprintf("authorization endpoint %q is not an absolute url", req.AuthorizationEndpoint))
	}

	q := u.Query()
	q.Set("client_id", req.ClientID)
	q.Set("redirect_uri", req.RedirectURI)
	q.Set("response_type", "code")
	if scope := joinScopes(req.Scopes); scope != "" {
		q.Set("scope", scope)
	}
	q.Set("state", req.State)
	if req.CodeChallenge != "" {
		q.Set("code_challenge", req.CodeChallenge)
		q.Set("code_challenge_method", pkce.MethodS256)
	}
	for key, value := range req.ExtraParams {
		if _, ok := reservedAuthParams[key]; ok {
			return "", serviceerr.ErrConfig.WithDescription(fmt.Sprintf("additional parameter %q overrides a reserved parameter", key))
		}
		q.Set(key, value)
	}

	u.RawQuery = q.Encode()

	return u.String(), nil
}

// joinScopes space-joins scopes, dropping blanks and duplicates while keeping order.
func joinScopes(scopes []string) string {
	seen := make(map[string]struct{}, len(scopes))
	out := make([]string, 0, len(scopes))
	for _, s := range scopes {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}

	return strings.Join(out, " ")
}
