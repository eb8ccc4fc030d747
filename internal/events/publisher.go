package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/poacher-dev/poacher/internal/types"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes events to one Kafka topic.
type Publisher struct {
	writer messageWriter
}

// NewPublisher creates a publisher for the given broker and topic.
func NewPublisher(broker, topic string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(broker),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: false,
			WriteTimeout:           10 * time.Second,
		},
	}
}

// NewPublisherWithWriter builds a publisher using a custom writer (tests).
func NewPublisherWithWriter(writer messageWriter) *Publisher {
	return &Publisher{writer: writer}
}

// Close flushes and shuts down the underlying writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

// Publish validates and writes one event.
func (p *Publisher) Publish(ctx context.Context, e *Event) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}

	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", e.Type, err)
	}

	msg := kafka.Message{
		Key:   []byte(e.Key()),
		Value: payload,
		Time:  e.Timestamp,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(e.Type)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publishing %s event: %w", e.Type, err)
	}
	return nil
}

// RepositoryArchived publishes an archive event. It makes the publisher a
// pipeline observer.
func (p *Publisher) RepositoryArchived(ctx context.Context, item types.ArchivedItem) error {
	return p.Publish(ctx, NewArchivedEvent(item))
}

// SessionEnded publishes the summary of a finished session.
func (p *Publisher) SessionEnded(ctx context.Context, rec types.SessionRecord) error {
	return p.Publish(ctx, NewSessionEndedEvent(rec))
}
