package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes envelopes to one topic per event type. The writer is
// asynchronous; delivery failures surface through the completion callback
// and are logged.
type KafkaPublisher struct {
	writer messageWriter
	prefix string
	now    func() time.Time
}

func NewKafkaPublisher(brokers []string, prefix string, logger zerolog.Logger) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		Async:                  true,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
		Completion: func(messages []kafka.Message, err error) {
			if err == nil {
				return
			}
			for _, m := range messages {
				logger.Warn().Err(err).Str("topic", m.Topic).Str("key", string(m.Key)).Msg("event delivery failed")
			}
		},
	}
	return &KafkaPublisher{writer: w, prefix: prefix, now: time.Now}
}

func (p *KafkaPublisher) Publish(ctx context.Context, eventType, key string, payload Payload) error {
	body, err := json.Marshal(NewEnvelope(eventType, payload, p.now()))
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", eventType, err)
	}

	msg := kafka.Message{
		Topic: Topic(p.prefix, eventType),
		Key:   []byte(key),
		Value: body,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(eventType)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", eventType, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
