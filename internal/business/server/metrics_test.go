package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openkcm/authcode-flow/internal/middleware/responsewriter"
)

func TestInitMeters(t *testing.T) {
	t.Run("initializes meters successfully", func(t *testing.T) {
		err := initMeters(t.Context(), testConfig())
		assert.NoError(t, err)
		assert.NotNil(t, counter)
		assert.NotNil(t, hist)
	})
}

func TestNewTraceMiddleware(t *testing.T) {
	cfg := testConfig()
	require.NoError(t, initMeters(t.Context(), cfg))

	tests := []struct {
		name       string
		withWriter bool
		status     int
	}{
		{name: "with status recorder", withWriter: true, status: http.StatusTeapot},
		{name: "without status recorder", withWriter: false, status: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handlerCalled := false
			next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				handlerCalled = true

				w.WriteHeader(tt.status)
			})

			var handler http.Handler = newTraceMiddleware(cfg, "TestOperation")(next)
			if tt.withWriter {
				handler = responsewriter.Middleware(handler)
			}

			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			req.Header.Set("User-Agent", "test-agent")
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.True(t, handlerCalled)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}
