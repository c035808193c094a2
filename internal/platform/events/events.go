// Package events publishes notifications about completed registrations to an
// external sink. Events carry the identifier and period only, never the
// patient's name or birthdate.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const TypePatientRegistered = "patient.registered"

// PatientRegistered is emitted after the registration transaction commits.
type PatientRegistered struct {
	Type         string    `json:"type"`
	Identifier   string    `json:"identifier"`
	Period       string    `json:"period"`
	RegisteredAt time.Time `json:"registered_at"`
}

func NewPatientRegistered(identifier, period string, at time.Time) PatientRegistered {
	return PatientRegistered{
		Type:         TypePatientRegistered,
		Identifier:   identifier,
		Period:       period,
		RegisteredAt: at.UTC(),
	}
}

// Publisher delivers registration events. Publish must be safe for
// concurrent use.
type Publisher interface {
	Publish(ctx context.Context, evt PatientRegistered) error
	Close() error
}

func encode(evt PatientRegistered) ([]byte, error) {
	b, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", evt.Type, err)
	}
	return b, nil
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, PatientRegistered) error { return nil }
func (Nop) Close() error                                     { return nil }

// LogPublisher writes events to the service log.
type LogPublisher struct {
	logger zerolog.Logger
}

func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.With().Str("component", "events").Logger()}
}

func (p *LogPublisher) Publish(_ context.Context, evt PatientRegistered) error {
	p.logger.Info().
		Str("type", evt.Type).
		Str("identifier", evt.Identifier).
		Str("period", evt.Period).
		Time("registered_at", evt.RegisteredAt).
		Msg("event published")
	return nil
}

func (p *LogPublisher) Close() error { return nil }
