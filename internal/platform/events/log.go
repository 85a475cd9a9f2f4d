package events

import (
	"context"

	"github.com/rs/zerolog"
)

// LogPublisher records events in the log when no broker is configured.
type LogPublisher struct {
	logger zerolog.Logger
}

func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, eventType, key string, payload Payload) error {
	p.logger.Info().
		Str("event_type", eventType).
		Str("key", key).
		Str("actor_id", payload.ActorID).
		Str("target_id", payload.TargetID).
		Str("action", payload.Action).
		Msg("event")
	return nil
}
