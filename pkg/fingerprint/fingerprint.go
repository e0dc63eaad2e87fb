package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
)

var headerKeys = []string{"User-Agent", "Accept-Language"}

type ctxKey struct{}

var ErrNoFingerprint = errors.New("no fingerprint in ctx")

func FromHTTPRequest(r *http.Request) (string, error) {
	if r == nil {
		return "", errors.New("http request is nil")
	}

	h := sha256.New()
	for _, key := range headerKeys {
		h.Write([]byte(r.Header.Get(key)))
		h.Write([]byte{0})
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// Middleware stores the fingerprint of every request in its context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fp, _ := FromHTTPRequest(r)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, fp)))
	})
}

func Extract(ctx context.Context) (string, error) {
	fp, ok := ctx.Value(ctxKey{}).(string)
	if !ok {
		return "", ErrNoFingerprint
	}

	return fp, nil
}
