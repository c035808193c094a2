package registration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/jbp/intake/internal/platform/db"
)

const DefaultMaxAttempts = 5

// Allocator numbers registrations within a period. The increment and the row
// insert share one transaction, so uniqueness rests on the store's row lock
// and unique constraints rather than on any in-process state.
type Allocator struct {
	store       Store
	maxAttempts int
	backoff     time.Duration
	logger      zerolog.Logger
}

func NewAllocator(store Store, maxAttempts int, logger zerolog.Logger) *Allocator {
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Allocator{
		store:       store,
		maxAttempts: maxAttempts,
		backoff:     10 * time.Millisecond,
		logger:      logger,
	}
}

// AllocateAndInsert persists rec under the next identifier of period and
// returns that identifier. Conflicts are retried; an unreachable store is
// reported at once as ErrStorageUnavailable.
func (a *Allocator) AllocateAndInsert(ctx context.Context, period Period, rec IntakeRecord, createdAt time.Time) (PatientIdentifier, error) {
	var lastErr error
	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		id, err := a.attempt(ctx, period, rec, createdAt)
		switch {
		case err == nil:
			return id, nil
		case errors.Is(err, ErrSequenceExhausted):
			return "", err
		case errors.Is(err, db.ErrUnavailable):
			return "", fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
		case errors.Is(err, db.ErrConflict):
			lastErr = err
			a.logger.Warn().Err(err).
				Str("period", period.String()).
				Int("attempt", attempt).
				Msg("identifier allocation conflict, retrying")
		default:
			return "", err
		}

		if attempt < a.maxAttempts {
			if err := a.wait(ctx, attempt); err != nil {
				return "", fmt.Errorf("allocation interrupted: %w", err)
			}
		}
	}
	return "", fmt.Errorf("%w after %d attempts: %w", ErrAllocationConflict, a.maxAttempts, lastErr)
}

func (a *Allocator) attempt(ctx context.Context, period Period, rec IntakeRecord, createdAt time.Time) (PatientIdentifier, error) {
	var id PatientIdentifier
	err := a.store.RunInTx(ctx, func(ctx context.Context) error {
		seq, err := a.store.NextSequence(ctx, period)
		if err != nil {
			return err
		}
		id, err = FormatIdentifier(period, seq)
		if err != nil {
			return err
		}
		return a.store.InsertPatient(ctx, PatientRow{
			Identifier: id,
			Period:     period,
			Sequence:   seq,
			LastName:   rec.LastName,
			FirstName:  rec.FirstName,
			MiddleName: rec.MiddleName,
			BirthDate:  rec.BirthDate,
			CreatedAt:  createdAt,
		})
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (a *Allocator) wait(ctx context.Context, attempt int) error {
	if a.backoff <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(time.Duration(attempt) * a.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
