package sessionvalkey

import (
	"context"
	"errors"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/openkcm/authcode-flow/internal/flow"
	"github.com/openkcm/authcode-flow/internal/session"
)

type ObjectType string

const (
	objectTypeFlow    ObjectType = "flow"
	objectTypeSession ObjectType = "session"
)

var (
	ErrGetFlow      = errors.New("getting flow state from store")
	ErrStoreFlow    = errors.New("setting flow state into storage")
	ErrDeleteFlow   = errors.New("deleting flow state from store")
	ErrGetSession   = errors.New("getting session from store")
	ErrStoreSession = errors.New("setting session into storage")
	ErrDelSession   = errors.New("deleting session from store")
)

// Repository keeps flows and sessions as JSON values whose keys expire with them.
type Repository struct {
	store *store
	now   func() time.Time
}

var _ = session.Repository(&Repository{})

func NewRepository(valkeyClient valkey.Client, prefix string) *Repository {
	return &Repository{
		store: newStore(valkeyClient, prefix),
		now:   time.Now,
	}
}

func (r *Repository) LoadFlow(ctx context.Context, stateID string) (flow.FlowState, error) {
	var state flow.FlowState
	if err := r.store.Get(ctx, objectTypeFlow, stateID, &state); err != nil {
		return flow.FlowState{}, errors.Join(ErrGetFlow, err)
	}

	return state, nil
}

func (r *Repository) StoreFlow(ctx context.Context, state flow.FlowState) error {
	ttl, err := session.TTL(state.Expiry, r.now())
	if err != nil {
		return err
	}

	if err := r.store.Set(ctx, objectTypeFlow, state.State, state, ttl, true); err != nil {
		return errors.Join(ErrStoreFlow, err)
	}

	return nil
}

func (r *Repository) DeleteFlow(ctx context.Context, stateID string) error {
	if err := r.store.Destroy(ctx, objectTypeFlow, stateID); err != nil {
		return errors.Join(ErrDeleteFlow, err)
	}

	return nil
}

func (r *Repository) LoadSession(ctx context.Context, sessionID string) (session.Session, error) {
	var s session.Session
	if err := r.store.Get(ctx, objectTypeSession, sessionID, &s); err != nil {
		return session.Session{}, errors.Join(ErrGetSession, err)
	}

	return s, nil
}

func (r *Repository) StoreSession(ctx context.Context, s session.Session) error {
	ttl, err := session.TTL(s.Expiry, r.now())
	if err != nil {
		return err
	}

	if err := r.store.Set(ctx, objectTypeSession, s.ID, s, ttl, false); err != nil {
		return errors.Join(ErrStoreSession, err)
	}

	return nil
}

func (r *Repository) DeleteSession(ctx context.Context, sessionID string) error {
	if err := r.store.Destroy(ctx, objectTypeSession, sessionID); err != nil {
		return errors.Join(ErrDelSession, err)
	}

	return nil
}
