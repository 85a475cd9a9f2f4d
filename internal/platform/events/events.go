// Package events publishes allocation lifecycle events. Publishing is
// best-effort: callers log failures and never roll back on them.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Payload is the body the audit consumer expects.
type Payload struct {
	ActorID      string `json:"actor_id"`
	TargetID     string `json:"target_id"`
	ResourceType string `json:"resource_type"`
	Action       string `json:"action"`
	Details      string `json:"details"`
}

// Envelope wraps a payload with its identity and type.
type Envelope struct {
	EventID   string  `json:"event_id"`
	Type      string  `json:"type"`
	Timestamp string  `json:"timestamp"`
	Payload   Payload `json:"payload"`
}

func NewEnvelope(eventType string, p Payload, at time.Time) Envelope {
	return Envelope{
		EventID:   uuid.NewString(),
		Type:      eventType,
		Timestamp: at.UTC().Format(time.RFC3339Nano),
		Payload:   p,
	}
}

// Publisher sends one event keyed for partitioning.
type Publisher interface {
	Publish(ctx context.Context, eventType, key string, p Payload) error
}

// Topic is the destination of an event type under a prefix,
// e.g. "healthcore.appointment.booked".
func Topic(prefix, eventType string) string {
	if prefix == "" {
		return eventType
	}
	return prefix + "." + eventType
}
