package csrf

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
)

const (
	HeaderName = "X-CSRF-Token"
	FormField  = "csrf_token"

	nonceLength = 32
)

func mac(sessionID string, nonce, key []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(fmt.Appendf(nil, "%d!%s!%d!", len(sessionID), sessionID, len(nonce)))
	h.Write(nonce)

	return h.Sum(nil)
}

// NewToken returns a token that only validates for sessionID under key.
func NewToken(sessionID string, key []byte) string {
	nonce := make([]byte, nonceLength)
	_, _ = rand.Read(nonce)

	return base64.RawURLEncoding.EncodeToString(mac(sessionID, nonce, key)) +
		"." + base64.RawURLEncoding.EncodeToString(nonce)
}

func Validate(token, sessionID string, key []byte) bool {
	macPart, noncePart, ok := strings.Cut(token, ".")
	if !ok || sessionID == "" {
		return false
	}

	received, err := base64.RawURLEncoding.DecodeString(macPart)
	if err != nil {
		return false
	}

	nonce, err := base64.RawURLEncoding.DecodeString(noncePart)
	if err != nil || len(nonce) != nonceLength {
		return false
	}

	return hmac.Equal(received, mac(sessionID, nonce, key))
}

// FromRequest returns the token sent in the header, falling back to the form field.
func FromRequest(r *http.Request) string {
	if token := r.Header.Get(HeaderName); token != "" {
		return token
	}

	return r.PostFormValue(FormField)
}
