package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"unique violation", &pgconn.PgError{Code: CodeUniqueViolation}, ErrConflict},
		{"serialization failure", &pgconn.PgError{Code: CodeSerializationFailure}, ErrConflict},
		{"deadlock", &pgconn.PgError{Code: CodeDeadlockDetected}, ErrConflict},
		{"wrapped unique violation", fmt.Errorf("insert: %w", &pgconn.PgError{Code: CodeUniqueViolation}), ErrConflict},
		{"connection failure", &pgconn.PgError{Code: "08006"}, ErrUnavailable},
		{"no rows", pgx.ErrNoRows, ErrNotFound},
		{"deadline", context.DeadlineExceeded, ErrUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			if !errors.Is(got, tt.want) {
				t.Errorf("Classify(%v) = %v, want errors.Is %v", tt.err, got, tt.want)
			}
			if !errors.Is(got, tt.err) && !errors.Is(got, errors.Unwrap(tt.err)) {
				t.Errorf("Classify(%v) dropped the original error", tt.err)
			}
		})
	}
}

func TestClassify_Passthrough(t *testing.T) {
	if Classify(nil) != nil {
		t.Error("expected nil for nil error")
	}

	checkViolation := &pgconn.PgError{Code: "23514"}
	got := Classify(checkViolation)
	if errors.Is(got, ErrConflict) || errors.Is(got, ErrUnavailable) {
		t.Errorf("check violation must not be classified, got %v", got)
	}

	plain := errors.New("plain")
	if Classify(plain) != plain {
		t.Error("expected unrelated errors to pass through unchanged")
	}
}

func TestClassify_Idempotent(t *testing.T) {
	once := Classify(&pgconn.PgError{Code: CodeUniqueViolation})
	wrapped := fmt.Errorf("insert patient: %w", once)
	if got := Classify(wrapped); got != wrapped {
		t.Errorf("expected already classified error to pass through, got %v", got)
	}
}
