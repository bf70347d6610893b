// Package events publishes waiting-list audit events.
package events

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Event types published for waiting-list mutations.
const (
	TypeEntryCreated = "waitlist.entry.created"
	TypeEntryUpdated = "waitlist.entry.updated"
	TypeEntryRemoved = "waitlist.entry.removed"

	// TypeDataAccess records a staff request that read or changed patient data.
	TypeDataAccess = "waitlist.data.accessed"
)

// Event is the message written for every audited mutation. Key groups the
// events of one entry on one partition.
type Event struct {
	ID         string      `json:"id"`
	Type       string      `json:"type"`
	Key        string      `json:"key"`
	Actor      string      `json:"actor"`
	Reason     string      `json:"reason"`
	OccurredAt time.Time   `json:"occurred_at"`
	Data       interface{} `json:"data,omitempty"`
}

type Publisher interface {
	Publish(ctx context.Context, evt Event) error
	Close() error
}

// LogPublisher writes events to the structured log. It is used when no
// broker is configured.
type LogPublisher struct {
	logger zerolog.Logger
}

func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.With().Str("component", "events").Logger()}
}

func (p *LogPublisher) Publish(_ context.Context, evt Event) error {
	p.logger.Info().
		Str("event_id", evt.ID).
		Str("event_type", evt.Type).
		Str("key", evt.Key).
		Str("actor", evt.Actor).
		Str("reason", evt.Reason).
		Time("occurred_at", evt.OccurredAt).
		Interface("data", evt.Data).
		Msg("audit_event")
	return nil
}

func (p *LogPublisher) Close() error { return nil }
