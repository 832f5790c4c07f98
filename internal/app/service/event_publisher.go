package service

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/linksmith/linksmith/internal/app/model"
)

// EventPublisher announces link lifecycle transitions on NATS JetStream
// so peer instances can drop cached records.
type EventPublisher struct {
	js nats.JetStreamContext
}

// NewEventPublisher creates a publisher on the given JetStream context.
func NewEventPublisher(js nats.JetStreamContext) *EventPublisher {
	return &EventPublisher{js: js}
}

// EnsureStream creates the lifecycle event stream if it does not exist.
func (p *EventPublisher) EnsureStream() error {
	if _, err := p.js.StreamInfo(model.LinkStreamName); err == nil {
		return nil
	}
	_, err := p.js.AddStream(&nats.StreamConfig{
		Name:     model.LinkStreamName,
		Subjects: []string{model.LinkStreamSubject},
		MaxBytes: model.LinkStreamMaxBytes,
	})
	if err != nil {
		return fmt.Errorf("nats: create link event stream: %w", err)
	}
	return nil
}

// Publish emits one lifecycle event to the stream.
func (p *EventPublisher) Publish(eventType, slug string) error {
	event := model.LinkEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Slug:      slug,
		Timestamp: time.Now(),
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	_, err = p.js.Publish(model.LinkStreamSubject, data)
	return err
}
