// Package repository holds the typed store operations. Every invariant on
// the swarm entities is enforced here, inside per-transition transactions,
// never at call sites.
package repository

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/swarmgrid/swarm-core/internal/apperrors"
)

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) &&
		(pgErr.Code == "40001" || pgErr.Code == "40P01")
}

// classifyStoreErr separates connectivity failures (retryable forever at
// the next tick) from everything else.
func classifyStoreErr(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if isSerializationFailure(err) {
			return apperrors.Conflict("store", pgErr.Message)
		}
		return apperrors.Internal(op, err)
	}
	// Non-protocol errors from the pool are connectivity problems.
	return apperrors.StoreUnavailable(op, err)
}
