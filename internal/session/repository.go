package session

import (
	"context"
	"errors"
	"time"

	"github.com/openkcm/authcode-flow/internal/flow"
)

// ErrExpired is returned when a record is stored after its expiry.
var ErrExpired = errors.New("record already expired")

// Repository keeps the pending flows and the sessions. Missing records are
// reported as serviceerr.ErrNotFound, including by the delete operations, so
// that only one caller can consume a flow.
type Repository interface {
	// Flow state operations
	LoadFlow(ctx context.Context, stateID string) (flow.FlowState, error)
	StoreFlow(ctx context.Context, state flow.FlowState) error
	DeleteFlow(ctx context.Context, stateID string) error
	// Session operations
	LoadSession(ctx context.Context, sessionID string) (Session, error)
	StoreSession(ctx context.Context, session Session) error
	DeleteSession(ctx context.Context, sessionID string) error
}

// Purger is implemented by stores without native expiry.
type Purger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// TTL returns how long a record expiring at expiry must be kept. A zero
// expiry means forever and yields a zero TTL.
func TTL(expiry, now time.Time) (time.Duration, error) {
	if expiry.IsZero() {
		return 0, nil
	}

	ttl := expiry.Sub(now)
	if ttl <= 0 {
		return 0, ErrExpired
	}

	return ttl, nil
}
