package db

import (
	"context"
	"errors"
	"net"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PostgreSQL SQLSTATE codes the storage layer reacts to.
const (
	CodeUniqueViolation      = "23505"
	CodeSerializationFailure = "40001"
	CodeDeadlockDetected     = "40P01"
)

var (
	// ErrConflict marks a write that lost a race and may succeed if retried.
	ErrConflict = errors.New("storage conflict")
	// ErrUnavailable marks a store that could not be reached.
	ErrUnavailable = errors.New("storage unavailable")
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("not found")
)

// Classify maps driver errors onto ErrConflict, ErrUnavailable or ErrNotFound
// while keeping the original error in the chain. Other errors are returned
// unchanged, as are errors that were already classified.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var already *classified
	if errors.As(err, &already) {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return &classified{kind: ErrNotFound, err: err}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case CodeUniqueViolation, CodeSerializationFailure, CodeDeadlockDetected:
			return &classified{kind: ErrConflict, err: err}
		}
		// Class 08: connection exception.
		if len(pgErr.Code) == 5 && pgErr.Code[:2] == "08" {
			return &classified{kind: ErrUnavailable, err: err}
		}
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) || pgconn.SafeToRetry(err) || isConnectError(err) {
		return &classified{kind: ErrUnavailable, err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &classified{kind: ErrUnavailable, err: err}
	}
	return err
}

func isConnectError(err error) bool {
	var connErr *pgconn.ConnectError
	return errors.As(err, &connErr)
}

type classified struct {
	kind error
	err  error
}

func (c *classified) Error() string { return c.kind.Error() + ": " + c.err.Error() }

func (c *classified) Unwrap() []error { return []error{c.kind, c.err} }
