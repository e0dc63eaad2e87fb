package sessionsql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openkcm/authcode-flow/internal/flow"
	"github.com/openkcm/authcode-flow/internal/serviceerr"
	"github.com/openkcm/authcode-flow/internal/session"
)

type Repository struct {
	db *pgxpool.Pool
}

var (
	_ session.Repository = (*Repository)(nil)
	_ session.Purger     = (*Repository)(nil)
)

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{
		db: db,
	}
}

func (r *Repository) LoadFlow(ctx context.Context, stateID string) (state flow.FlowState, _ error) {
	var expiry *time.Time
	if err := r.db.QueryRow(ctx, `SELECT state_id, code_verifier, fingerprint, request_uri, created_at, expiry
FROM flow_state
WHERE state_id = $1;`,
		stateID,
	).
		Scan(&state.State, &state.CodeVerifier, &state.Fingerprint, &state.RequestURI, &state.CreatedAt, &expiry); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return flow.FlowState{}, serviceerr.ErrNotFound
		}
		if err, ok := handlePgError(err); ok {
			return flow.FlowState{}, err
		}

		return flow.FlowState{}, fmt.Errorf("selecting from flow_state: %w", err)
	}

	state.Expiry = fromNullable(expiry)

	return state, nil
}

func (r *Repository) StoreFlow(ctx context.Context, state flow.FlowState) error {
	if _, err := r.db.Exec(
		ctx, `INSERT INTO flow_state (state_id, code_verifier, fingerprint, request_uri, created_at, expiry)
	VALUES ($1, $2, $3, $4, $5, $6);`,
		state.State, state.CodeVerifier, state.Fingerprint, state.RequestURI, state.CreatedAt, toNullable(state.Expiry),
	); err != nil {
		if err, ok := handlePgError(err); ok {
			return err
		}

		return fmt.Errorf("inserting into flow_state: %w", err)
	}

	return nil
}

func (r *Repository) DeleteFlow(ctx context.Context, stateID string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM flow_state WHERE state_id = $1;`, stateID)
	if err != nil {
		if err, ok := handlePgError(err); ok {
			return err
		}
		return fmt.Errorf("deleting from flow_state: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return serviceerr.ErrNotFound
	}

	return nil
}

func (r *Repository) LoadSession(ctx context.Context, sessionID string) (s session.Session, _ error) {
	var (
		claims            []byte
		accessTokenExpiry *time.Time
		expiry            *time.Time
	)

	if err := r.db.QueryRow(
		ctx, `SELECT id, fingerprint, csrf_token, claims, access_token, refresh_token, id_token, token_type, scope, access_token_expiry, created_at, expiry
FROM sessions
WHERE id = $1;`,
		sessionID,
	).
		Scan(&s.ID, &s.Fingerprint, &s.CSRFToken, &claims, &s.AccessToken, &s.RefreshToken, &s.IDToken,
			&s.TokenType, &s.Scope, &accessTokenExpiry, &s.CreatedAt, &expiry); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return session.Session{}, serviceerr.ErrNotFound
		}

		return session.Session{}, fmt.Errorf("selecting from sessions: %w", err)
	}

	if len(claims) > 0 {
		if err := json.Unmarshal(claims, &s.Claims); err != nil {
			return session.Session{}, fmt.Errorf("unmarshalling session claims: %w", err)
		}
	}

	s.AccessTokenExpiry = fromNullable(accessTokenExpiry)
	s.Expiry = fromNullable(expiry)

	return s, nil
}

func (r *Repository) StoreSession(ctx context.Context, s session.Session) error {
	claims, err := json.Marshal(s.Claims)
	if err != nil {
		return fmt.Errorf("marshalling session claims: %w", err)
	}

	if _, err := r.db.Exec(
		ctx, `INSERT INTO sessions (id, fingerprint, csrf_token, claims, access_token, refresh_token, id_token, token_type, scope, access_token_expiry, created_at, expiry)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	ON CONFLICT (id)
	DO UPDATE SET (fingerprint, csrf_token, claims, access_token, refresh_token, id_token, token_type, scope, access_token_expiry, created_at, expiry) =
		(EXCLUDED.fingerprint, EXCLUDED.csrf_token, EXCLUDED.claims, EXCLUDED.access_token, EXCLUDED.refresh_token, EXCLUDED.id_token,
		 EXCLUDED.token_type, EXCLUDED.scope, EXCLUDED.access_token_expiry, EXCLUDED.created_at, EXCLUDED.expiry);`,
		s.ID, s.Fingerprint, s.CSRFToken, claims, s.AccessToken, s.RefreshToken, s.IDToken,
		s.TokenType, s.Scope, toNullable(s.AccessTokenExpiry), s.CreatedAt, toNullable(s.Expiry),
	); err != nil {
		if err, ok := handlePgError(err); ok {
			return err
		}

		return fmt.Errorf("inserting into sessions: %w", err)
	}

	return nil
}

func (r *Repository) DeleteSession(ctx context.Context, sessionID string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE id = $1;`, sessionID)
	if err != nil {
		return fmt.Errorf("deleting from sessions: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return serviceerr.ErrNotFound
	}

	return nil
}

// PurgeExpired removes flow states and sessions that expired before now.
// It returns the number of removed rows.
func (r *Repository) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	flows, err := tx.Exec(ctx, `DELETE FROM flow_state WHERE expiry IS NOT NULL AND expiry <= $1;`, now)
	if err != nil {
		return 0, fmt.Errorf("purging flow_state: %w", err)
	}

	sessions, err := tx.Exec(ctx, `DELETE FROM sessions WHERE expiry IS NOT NULL AND expiry <= $1;`, now)
	if err != nil {
		return 0, fmt.Errorf("purging sessions: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("committing tx: %w", err)
	}

	return flows.RowsAffected() + sessions.RowsAffected(), nil
}

func toNullable(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func fromNullable(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
