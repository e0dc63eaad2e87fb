package sessionmock

import (
	"context"
	"sync"

	"github.com/openkcm/authcode-flow/internal/flow"
	"github.com/openkcm/authcode-flow/internal/serviceerr"
	"github.com/openkcm/authcode-flow/internal/session"
)

type RepositoryOption func(*Repository)

// Repository is an in-memory store with injectable errors. It ignores expiry.
type Repository struct {
	mu       sync.Mutex
	flows    map[string]flow.FlowState
	sessions map[string]session.Session

	loadFlowErr, storeFlowErr, deleteFlowErr          error
	loadSessionErr, storeSessionErr, deleteSessionErr error
}

func WithFlow(state flow.FlowState) RepositoryOption {
	return func(r *Repository) { r.flows[state.State] = state }
}
func WithSession(sess session.Session) RepositoryOption {
	return func(r *Repository) { r.sessions[sess.ID] = sess }
}
func WithLoadFlowError(err error) RepositoryOption {
	return func(r *Repository) { r.loadFlowErr = err }
}
func WithStoreFlowError(err error) RepositoryOption {
	return func(r *Repository) { r.storeFlowErr = err }
}
func WithDeleteFlowError(err error) RepositoryOption {
	return func(r *Repository) { r.deleteFlowErr = err }
}
func WithLoadSessionError(err error) RepositoryOption {
	return func(r *Repository) { r.loadSessionErr = err }
}
func WithStoreSessionError(err error) RepositoryOption {
	return func(r *Repository) { r.storeSessionErr = err }
}
func WithDeleteSessionError(err error) RepositoryOption {
	return func(r *Repository) { r.deleteSessionErr = err }
}

var _ = session.Repository(&Repository{})

func NewInMemRepository(opts ...RepositoryOption) *Repository {
	r := &Repository{
		flows:    make(map[string]flow.FlowState),
		sessions: make(map[string]session.Session),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

func (r *Repository) LoadFlow(_ context.Context, stateID string) (flow.FlowState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.loadFlowErr != nil {
		return flow.FlowState{}, r.loadFlowErr
	}
	if state, ok := r.flows[stateID]; ok {
		return state, nil
	}
	return flow.FlowState{}, serviceerr.ErrNotFound
}

func (r *Repository) StoreFlow(_ context.Context, state flow.FlowState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.storeFlowErr != nil {
		return r.storeFlowErr
	}
	if _, ok := r.flows[state.State]; ok {
		return serviceerr.ErrConflict
	}
	r.flows[state.State] = state
	return nil
}

func (r *Repository) DeleteFlow(_ context.Context, stateID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.deleteFlowErr != nil {
		return r.deleteFlowErr
	}
	if _, ok := r.flows[stateID]; !ok {
		return serviceerr.ErrNotFound
	}
	delete(r.flows, stateID)
	return nil
}

func (r *Repository) LoadSession(_ context.Context, sessionID string) (session.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.loadSessionErr != nil {
		return session.Session{}, r.loadSessionErr
	}
	if s, ok := r.sessions[sessionID]; ok {
		return s, nil
	}
	return session.Session{}, serviceerr.ErrNotFound
}

func (r *Repository) StoreSession(_ context.Context, s session.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.storeSessionErr != nil {
		return r.storeSessionErr
	}
	r.sessions[s.ID] = s
	return nil
}

func (r *Repository) DeleteSession(_ context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.deleteSessionErr != nil {
		return r.deleteSessionErr
	}
	if _, ok := r.sessions[sessionID]; !ok {
		return serviceerr.ErrNotFound
	}
	delete(r.sessions, sessionID)
	return nil
}

// Flows returns a copy of the pending flows.
func (r *Repository) Flows() []flow.FlowState {
	r.mu.Lock()
	defer r.mu.Unlock()

	flows := make([]flow.FlowState, 0, len(r.flows))
	for _, f := range r.flows {
		flows = append(flows, f)
	}
	return flows
}

// Sessions returns a copy of the stored sessions.
func (r *Repository) Sessions() []session.Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions := make([]session.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}
