package registration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/jbp/intake/internal/platform/db"
	"github.com/jbp/intake/internal/platform/events"
)

// ServiceConfig carries the optional collaborators of a Service. Zero values
// select the defaults: five attempts, the local time zone, the wall clock, no
// events.
type ServiceConfig struct {
	MaxAttempts int
	Location    *time.Location
	Clock       func() time.Time
	Publisher   events.Publisher
	Logger      zerolog.Logger
}

type Service struct {
	store     Store
	allocator *Allocator
	location  *time.Location
	clock     func() time.Time
	publisher events.Publisher
	logger    zerolog.Logger
}

func NewService(store Store, cfg ServiceConfig) *Service {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Publisher == nil {
		cfg.Publisher = events.Nop{}
	}
	logger := cfg.Logger.With().Str("component", "registration").Logger()
	return &Service{
		store:     store,
		allocator: NewAllocator(store, cfg.MaxAttempts, logger),
		location:  cfg.Location,
		clock:     cfg.Clock,
		publisher: cfg.Publisher,
		logger:    logger,
	}
}

// Register validates raw, assigns the next identifier of the current period
// and persists the row in one transaction. Validation errors come back as
// *ValidationError with nothing written; later failures as *RegistrationError.
func (s *Service) Register(ctx context.Context, raw RawIntake) (PatientIdentifier, error) {
	rec, err := Validate(raw)
	if err != nil {
		return "", err
	}

	now := s.clock().In(s.location)
	period := PeriodOf(now)

	id, err := s.allocator.AllocateAndInsert(ctx, period, rec, now)
	if err != nil {
		s.logger.Error().Err(err).Str("period", period.String()).Msg("registration failed")
		return "", &RegistrationError{Err: err}
	}

	s.logger.Info().Str("identifier", string(id)).Str("period", period.String()).Msg("patient registered")
	s.publish(ctx, events.NewPatientRegistered(string(id), period.String(), now))
	return id, nil
}

// publish runs after commit; a failed publish is logged and never undoes
// the registration.
func (s *Service) publish(ctx context.Context, evt events.PatientRegistered) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.publisher.Publish(ctx, evt); err != nil {
		s.logger.Warn().Err(err).Str("identifier", evt.Identifier).Msg("publish registration event")
	}
}

func (s *Service) GetPatient(ctx context.Context, id string) (*PatientRow, error) {
	if _, _, err := ParseIdentifier(id); err != nil {
		return nil, err
	}
	row, err := s.store.GetPatient(ctx, PatientIdentifier(id))
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return row, nil
}

func (s *Service) ListPatients(ctx context.Context, limit, offset int) ([]PatientRow, int, error) {
	rows, total, err := s.store.ListPatients(ctx, limit, offset)
	if err != nil {
		return nil, 0, mapStoreErr(err)
	}
	return rows, total, nil
}

// Health reports whether the store is reachable.
func (s *Service) Health(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return nil
}

func mapStoreErr(err error) error {
	switch {
	case errors.Is(err, db.ErrNotFound):
		return ErrPatientNotFound
	case errors.Is(err, db.ErrUnavailable):
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return err
}
