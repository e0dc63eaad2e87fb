//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIServer(t *testing.T) {
	const cmdName = "api-server"

	ctx := t.Context()

	istat := initInfra(t, cmdName)
	defer istat.Close(ctx)

	istat.PreparePostgres(t)
	istat.PrepareConfig(t)

	commandCtx, cancelCommand := context.WithTimeout(ctx, 30*time.Second)
	defer cancelCommand()

	istat.StartCommand(t, commandCtx, cmdName)

	baseURL := "http://" + istat.Cfg.HTTP.Address
	waitForServer(t, statusURL)
	waitForServer(t, baseURL+"/")

	t.Run("status endpoints", func(t *testing.T) {
		for _, endpoint := range []string{"version", "probe/readiness", "probe/liveness"} {
			resp, err := http.Get(statusURL + endpoint)
			require.NoError(t, err)

			got, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			require.NoError(t, err)

			var js json.RawMessage
			assert.NoError(t, json.Unmarshal(got, &js), "%s response is not valid json: %s", endpoint, got)
		}
	})

	t.Run("login redirects to the provider and stores the flow", func(t *testing.T) {
		var before int
		err := istat.Postgres.QueryRow(ctx, `SELECT count(*) FROM flow_state;`).Scan(&before)
		require.NoError(t, err)

		client := &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		}
		resp, err := client.Get(baseURL + "/login")
		require.NoError(t, err)
		resp.Body.Close()

		require.Equal(t, http.StatusFound, resp.StatusCode)

		location, err := url.Parse(resp.Header.Get("Location"))
		require.NoError(t, err)
		assert.Equal(t, istat.Cfg.OAuth.AuthorizationEndpoint, location.Scheme+"://"+location.Host+location.Path)
		assert.Equal(t, "S256", location.Query().Get("code_challenge_method"))
		assert.NotEmpty(t, location.Query().Get("state"))

		var after int
		err = istat.Postgres.QueryRow(ctx, `SELECT count(*) FROM flow_state;`).Scan(&after)
		require.NoError(t, err)
		assert.Equal(t, before+1, after)
	})

	t.Run("profile requires a session", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/api/profile")
		require.NoError(t, err)
		resp.Body.Close()

		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

func TestAPIServer_Valkey(t *testing.T) {
	const cmdName = "api-server"

	ctx := t.Context()

	istat := initInfra(t, cmdName)
	defer istat.Close(ctx)

	istat.PrepareValKey(t)
	istat.PrepareConfig(t)

	commandCtx, cancelCommand := context.WithTimeout(ctx, 30*time.Second)
	defer cancelCommand()

	istat.StartCommand(t, commandCtx, cmdName)

	baseURL := "http://" + istat.Cfg.HTTP.Address
	waitForServer(t, baseURL+"/")

	client := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	}
	resp, err := client.Get(baseURL + "/login")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusFound, resp.StatusCode)
}
