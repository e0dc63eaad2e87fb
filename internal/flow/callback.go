package flow

import (
	"crypto/subtle"
	"net/url"
	"strings"
	"time"
	"unicode"

	"github.com/openkcm/authcode-flow/internal/serviceerr"
)

const maxDescriptionLength = 256

// ValidateCallback checks the query of the callback request against the
// stored flow and returns the authorization code. stored is nil when no flow
// is pending for the received state.
//
// The caller must erase the stored flow after this call whatever the result
// and must not exchange anything unless the error is nil.
func ValidateCallback(stored *FlowState, params url.Values, now time.Time) (string, error) {
	if providerErr := params.Get("error"); providerErr != "" {
		desc := SafeDescription(params.Get("error_description"))
		if desc == "" {
			desc = SafeDescription(providerErr)
		} else {
			desc = SafeDescription(providerErr) + ": " + desc
		}

		return "", serviceerr.ErrProviderDenied.WithDescription(desc)
	}

	state := params.Get("state")
	if state == "" || stored == nil || stored.State == "" ||
		subtle.ConstantTimeCompare([]byte(state), []byte(stored.State)) != 1 {
		return "", serviceerr.ErrStateMismatch
	}

	if stored.Expired(now) {
		return "", serviceerr.ErrStateExpired
	}

	code := params.Get("code")
	if code == "" {
		return "", serviceerr.ErrMissingCode
	}

	return code, nil
}

// SafeDescription trims a provider supplied text to printable characters and
// a bounded length so it can be shown back to the user.
func SafeDescription(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsPrint(r) {
			return r
		}
		return -1
	}, s)
	s = strings.TrimSpace(s)
	if r := []rune(s); len(r) > maxDescriptionLength {
		s = string(r[:maxDescriptionLength])
	}

	return s
}
