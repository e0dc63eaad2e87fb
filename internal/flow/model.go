// Package flow implements the authorization code exchange sequence: building
// the authorization request, validating the callback and exchanging the code
// for tokens. It holds no storage; callers own the FlowState lifecycle.
package flow

import (
	"errors"
	"time"

	"github.com/openkcm/authcode-flow/internal/serviceerr"
)

// FlowState is the record kept between the authorization redirect and the
// callback. It is valid for exactly one callback.
type FlowState struct {
	State        string    // Anti-CSRF state round-tripped through the provider
	CodeVerifier string    // PKCE verifier, empty when PKCE is not used
	Fingerprint  string    // Fingerprint to bind the flow to a specific client
	RequestURI   string    // Where to send the user after login
	CreatedAt    time.Time // Start of the authorization request
	Expiry       time.Time // End of the AwaitingCallback phase
}

// Expired reports whether the callback window has passed at now.
func (f FlowState) Expired(now time.Time) bool {
	return !f.Expiry.IsZero() && now.After(f.Expiry)
}

// TokenResult is the successful answer of the token endpoint.
type TokenResult struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
}

// Phase is the position of a flow in its lifecycle:
// Idle -> AwaitingCallback -> (Validated | Rejected) -> (Exchanged | Failed).
type Phase string

const (
	PhaseIdle             Phase = "idle"
	PhaseAwaitingCallback Phase = "awaiting_callback"
	PhaseValidated        Phase = "validated"
	PhaseRejected         Phase = "rejected"
	PhaseExchanged        Phase = "exchanged"
	PhaseFailed           Phase = "failed"
)

// PhaseOf returns the terminal phase a flow ends in when it stops with err.
// Callback validation failures reject the flow; anything after validation fails it.
func PhaseOf(err error) Phase {
	if err == nil {
		return PhaseExchanged
	}

	for _, rejected := range []error{
		serviceerr.ErrAccessDenied,
		serviceerr.ErrStateMismatch,
		serviceerr.ErrStateExpired,
		serviceerr.ErrMissingCode,
		serviceerr.ErrFingerprintMismatch,
	} {
		if errors.Is(err, rejected) {
			return PhaseRejected
		}
	}

	return PhaseFailed
}
