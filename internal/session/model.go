package session

import (
	"time"

	"github.com/openkcm/authcode-flow/internal/flow"
	"github.com/openkcm/authcode-flow/internal/oidc"
)

// Session is created once the code has been exchanged. Tokens never leave
// the store.
type Session struct {
	ID          string      `json:"id"`
	Fingerprint string      `json:"fingerprint"`
	CSRFToken   string      `json:"csrfToken"`
	Claims      oidc.Claims `json:"claims"`

	AccessToken       string    `json:"accessToken"`
	RefreshToken      string    `json:"refreshToken,omitempty"`
	IDToken           string    `json:"idToken,omitempty"`
	TokenType         string    `json:"tokenType,omitempty"`
	Scope             string    `json:"scope,omitempty"`
	AccessTokenExpiry time.Time `json:"accessTokenExpiry"`

	CreatedAt time.Time `json:"createdAt"`
	Expiry    time.Time `json:"expiry"`
}

func (s Session) Expired(now time.Time) bool {
	return !s.Expiry.IsZero() && now.After(s.Expiry)
}

// LoginResult is what the callback handler needs to finish the request.
type LoginResult struct {
	SessionID  string
	CSRFToken  string
	RequestURI string
	Phase      flow.Phase
}
