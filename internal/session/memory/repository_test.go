package sessionmemory_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openkcm/authcode-flow/internal/flow"
	"github.com/openkcm/authcode-flow/internal/oidc"
	"github.com/openkcm/authcode-flow/internal/serviceerr"
	"github.com/openkcm/authcode-flow/internal/session"
	sessionmemory "github.com/openkcm/authcode-flow/internal/session/memory"
)

func TestRepository_Flow(t *testing.T) {
	ctx := t.Context()
	repo := sessionmemory.NewRepository(time.Minute)

	state := flow.FlowState{
		State:        "state-one",
		CodeVerifier: "verifier-one",
		Fingerprint:  "fingerprint-one",
		RequestURI:   "/profile",
		CreatedAt:    time.Now(),
		Expiry:       time.Now().Add(time.Minute),
	}

	require.NoError(t, repo.StoreFlow(ctx, state))
	assert.ErrorIs(t, repo.StoreFlow(ctx, state), serviceerr.ErrConflict)

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
	repo := sessionmemory.NewRepository(time.Minute)

	err := repo.StoreFlow(ctx, flow.FlowState{State: "late", Expiry: time.Now().Add(-time.Second)})
	assert.ErrorIs(t, err, session.ErrExpired)

	require.NoError(t, repo.StoreFlow(ctx, flow.FlowState{State: "short", Expiry: time.Now().Add(50 * time.Millisecond)}))
	require.NoError(t, repo.StoreFlow(ctx, flow.FlowState{State: "forever"}))

	time.Sleep(100 * time.Millisecond)

	_, err = repo.LoadFlow(ctx, "short")
	assert.ErrorIs(t, err, serviceerr.ErrNotFound)
	assert.ErrorIs(t, repo.DeleteFlow(ctx, "short"), serviceerr.ErrNotFound)

	_, err = repo.LoadFlow(ctx, "forever")
	assert.NoError(t, err)
}

func TestRepository_Session(t *testing.T) {
	ctx := t.Context()
	repo := sessionmemory.NewRepository(time.Minute)

	s := session.Session{
		ID:          "session-one",
		Fingerprint: "fingerprint-one",
		CSRFToken:   "csrf",
		Claims:      oidc.Claims{Subject: "user-1", Email: "me@example.com"},
		AccessToken: "at",
		Expiry:      time.Now().Add(time.Hour),
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

	err = repo.StoreSession(ctx, session.Session{ID: "old", Expiry: time.Now().Add(-time.Second)})
	assert.ErrorIs(t, err, session.ErrExpired)
}
