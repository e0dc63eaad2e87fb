// Package responsewriter wraps the response writer of a request so that
// middleware running after the handler can see the status it wrote.
package responsewriter

import (
	"context"
	"errors"
	"net/http"
)

// Using an unexported type prevents key collisions from other packages.
type responseWriterKey string

// ResponseWriterKey is the context key for the status recorder.
const ResponseWriterKey responseWriterKey = "response-writer"

// StatusRecorder remembers the first status code written through it.
type StatusRecorder struct {
	http.ResponseWriter

	status int
}

func (r *StatusRecorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *StatusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// Status returns the written status code, or 200 if the handler wrote nothing.
func (r *StatusRecorder) Status() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *StatusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Middleware hands a StatusRecorder to the next handler and stores it in the
// request context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec, ok := w.(*StatusRecorder)
		if !ok {
			rec = &StatusRecorder{ResponseWriter: w}
		}
		ctx := context.WithValue(r.Context(), ResponseWriterKey, rec)
		next.ServeHTTP(rec, r.WithContext(ctx))
	})
}

// FromContext retrieves the status recorder of the current request.
func FromContext(ctx context.Context) (*StatusRecorder, error) {
	rec, ok := ctx.Value(ResponseWriterKey).(*StatusRecorder)
	if !ok {
		return nil, errors.New("response writer not found in context")
	}
	return rec, nil
}
