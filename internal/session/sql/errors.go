package sessionsql

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/openkcm/authcode-flow/internal/serviceerr"
)

const (
	uniqueViolation         = "23505"
	characterNotInRepertory = "22021"
	untranslatableCharacter = "22P05"
)

func handlePgError(err error) (error, bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err, false
	}

	switch pgErr.Code {
	case uniqueViolation:
		return serviceerr.ErrConflict, true
	case characterNotInRepertory, untranslatableCharacter:
		// A key the database cannot encode was never stored.
		return serviceerr.ErrNotFound, true
	}

	return err, false
}
