package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/visionai/drscreen/internal/platform/apperr"
)

// SQLSTATE codes the repositories care about.
const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
	checkViolation      = "23514"
	notNullViolation    = "23502"
)

// MapError translates a pgx error into the apperr taxonomy. what names the
// record for the message, e.g. "encounter".
func MapError(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", apperr.ErrNotFound, what)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case uniqueViolation:
			return fmt.Errorf("%w: %s (%s)", apperr.ErrDuplicateKey, what, pgErr.ConstraintName)
		case foreignKeyViolation, checkViolation, notNullViolation:
			return fmt.Errorf("%w: %s (%s)", apperr.ErrInvalidInput, what, pgErr.ConstraintName)
		default:
			return fmt.Errorf("%s: %w", what, err)
		}
	}

	// Anything that never reached the server: dial, TLS, pool closed.
	return fmt.Errorf("%w: %s: %v", apperr.ErrStorageUnavailable, what, err)
}

// IsUniqueViolation reports whether err is a unique constraint violation on
// the named constraint, or on any constraint when constraint is empty.
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}
