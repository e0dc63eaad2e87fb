package sessionmemory

import (
	"context"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/openkcm/authcode-flow/internal/flow"
	"github.com/openkcm/authcode-flow/internal/serviceerr"
	"github.com/openkcm/authcode-flow/internal/session"
)

const (
	flowPrefix    = "flow:"
	sessionPrefix = "session:"
)

// Repository keeps flows and sessions in process memory, so it only suits a
// single instance.
type Repository struct {
	// mu makes load-then-delete atomic for DeleteFlow and DeleteSession.
	mu    sync.Mutex
	cache *cache.Cache
	now   func() time.Time
}

var _ = session.Repository(&Repository{})

func NewRepository(cleanupInterval time.Duration) *Repository {
	return &Repository{
		cache: cache.New(cache.NoExpiration, cleanupInterval),
		now:   time.Now,
	}
}

func (r *Repository) LoadFlow(_ context.Context, stateID string) (flow.FlowState, error) {
	v, ok := r.cache.Get(flowPrefix + stateID)
	if !ok {
		return flow.FlowState{}, serviceerr.ErrNotFound
	}

	//nolint:forcetypeassert
	return v.(flow.FlowState), nil
}

func (r *Repository) StoreFlow(_ context.Context, state flow.FlowState) error {
	return r.add(flowPrefix+state.State, state, state.Expiry)
}

func (r *Repository) DeleteFlow(_ context.Context, stateID string) error {
	return r.take(flowPrefix + stateID)
}

func (r *Repository) LoadSession(_ context.Context, sessionID string) (session.Session, error) {
	v, ok := r.cache.Get(sessionPrefix + sessionID)
	if !ok {
		return session.Session{}, serviceerr.ErrNotFound
	}

	//nolint:forcetypeassert
	return v.(session.Session), nil
}

func (r *Repository) StoreSession(_ context.Context, s session.Session) error {
	ttl, err := session.TTL(s.Expiry, r.now())
	if err != nil {
		return err
	}
	r.cache.Set(sessionPrefix+s.ID, s, ttlOrForever(ttl))

	return nil
}

func (r *Repository) DeleteSession(_ context.Context, sessionID string) error {
	return r.take(sessionPrefix + sessionID)
}

func (r *Repository) add(key string, v any, expiry time.Time) error {
	ttl, err := session.TTL(expiry, r.now())
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.cache.Add(key, v, ttlOrForever(ttl)); err != nil {
		return serviceerr.ErrConflict
	}

	return nil
}

func (r *Repository) take(key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.cache.Get(key); !ok {
		return serviceerr.ErrNotFound
	}
	r.cache.Delete(key)

	return nil
}

func ttlOrForever(ttl time.Duration) time.Duration {
	if ttl == 0 {
		return cache.NoExpiration
	}

	return ttl
}
