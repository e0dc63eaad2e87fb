package sessionvalkey_test

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valkey-io/valkey-go"

	"github.com/openkcm/authcode-flow/internal/dbtest/valkeytest"
	"github.com/openkcm/authcode-flow/internal/flow"
	"github.com/openkcm/authcode-flow/internal/oidc"
	"github.com/openkcm/authcode-flow/internal/serviceerr"
	"github.com/openkcm/authcode-flow/internal/session"
	sessionvalkey "github.com/openkcm/authcode-flow/internal/session/valkey"
)

const prefix = "authcode-test"

var client valkey.Client

func TestMain(m *testing.M) {
	ctx := context.Background()

	valkeyClient, _, terminate := valkeytest.Start(ctx)
	client = valkeyClient

	code := m.Run()
	terminate(ctx)

	os.Exit(code)
}

// jsonTime drops what a JSON round trip loses, so values compare equal.
func jsonTime(t *testing.T, tm time.Time) time.Time {
	t.Helper()

	b, err := json.Marshal(tm)
	require.NoError(t, err)
	var out time.Time
	require.NoError(t, json.Unmarshal(b, &out))

	return out
}

func TestRepository_Flow(t *testing.T) {
	ctx := t.Context()
	repo := sessionvalkey.NewRepository(client, prefix+":")

	state := flow.FlowState{
		State:        uuid.NewString(),
		CodeVerifier: "verifier-one",
		Fingerprint:  "fingerprint-one",
		RequestURI:   "/profile",
		CreatedAt:    jsonTime(t, time.Now()),
		Expiry:       jsonTime(t, time.Now().Add(10*time.Minute)),
	}

	require.NoError(t, repo.StoreFlow(ctx, state))
	assert.ErrorIs(t, repo.StoreFlow(ctx, state), serviceerr.ErrConflict)

	ttl, err := client.Do(ctx, client.B().Pttl().Key(prefix+":flow:"+state.State).Build()).AsInt64()
	require.NoError(t, err)
	assert.LessOrEqual(t, ttl, (10 * time.Minute).Milliseconds())
	assert.Greater(t, ttl, (10*time.Minute - 10*time.Second).Milliseconds(), "key expires with the flow, got %dms", ttl)

	got, err := repo.LoadFlow(ctx, state.State)
	require.NoError(t, err)
	assert.Equal(t, state, got)

	require.NoError(t, repo.DeleteFlow(ctx, state.State))
	assert.ErrorIs(t, repo.DeleteFlow(ctx, state.State), serviceerr.ErrNotFound)

	_, err = repo.LoadFlow(ctx, state.State)
	assert.ErrorIs(t, err, serviceerr.ErrNotFound)
}

func TestRepository_FlowExpiry(t *testing.T) {
	ctx := t.Context()
	repo := sessionvalkey.NewRepository(client, prefix)

	err := repo.StoreFlow(ctx, flow.FlowState{State: uuid.NewString(), Expiry: time.Now().Add(-time.Second)})
	assert.ErrorIs(t, err, session.ErrExpired)

	stateID := uuid.NewString()
	require.NoError(t, repo.StoreFlow(ctx, flow.FlowState{State: stateID, Expiry: time.Now().Add(100 * time.Millisecond)}))

	assert.Eventually(t, func() bool {
		_, err := repo.LoadFlow(ctx, stateID)
		return err != nil
	}, 2*time.Second, 50*time.Millisecond)

	_, err = repo.LoadFlow(ctx, stateID)
	assert.ErrorIs(t, err, serviceerr.ErrNotFound)
}

func TestRepository_Session(t *testing.T) {
	ctx := t.Context()
	repo := sessionvalkey.NewRepository(client, prefix)

	s := session.Session{
		ID:                uuid.NewString(),
		Fingerprint:       "fingerprint-one",
		CSRFToken:         "csrf",
		Claims:            oidc.Claims{Subject: "user-1", Email: "me@example.com", Groups: []string{"admins"}},
		AccessToken:       "at",
		RefreshToken:      "rt",
		TokenType:         "Bearer",
		AccessTokenExpiry: jsonTime(t, time.Now().Add(time.Hour)),
		CreatedAt:         jsonTime(t, time.Now()),
		Expiry:            jsonTime(t, time.Now().Add(2*time.Hour)),
	}

	require.NoError(t, repo.StoreSession(ctx, s))

	got, err := repo.LoadSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s, got)

	s.AccessToken = "rotated"
	require.NoError(t, repo.StoreSession(ctx, s))
	got, err = repo.LoadSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "rotated", got.AccessToken)

	require.NoError(t, repo.DeleteSession(ctx, s.ID))
	assert.ErrorIs(t, repo.DeleteSession(ctx, s.ID), serviceerr.ErrNotFound)

	_, err = repo.LoadSession(ctx, s.ID)
	assert.ErrorIs(t, err, serviceerr.ErrNotFound)
	assert.ErrorIs(t, err, sessionvalkey.ErrGetSession)
}

func TestRepository_MalformedValue(t *testing.T) {
	ctx := t.Context()
	repo := sessionvalkey.NewRepository(client, prefix)

	id := uuid.NewString()
	err := client.Do(ctx, client.B().Set().Key(prefix+":session:"+id).Value("{not json").Build()).Error()
	require.NoError(t, err)

	_, err = repo.LoadSession(ctx, id)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, serviceerr.ErrNotFound)
}
