package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// EventDispatcher is the high-level contract for outgoing domain events.
// Handlers stay agnostic of the transport implementation.
type EventDispatcher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
	PublishRaw(ctx context.Context, routingKey string, payload []byte) error
	Publisher() message.Publisher
}

type eventDispatcher struct {
	publisher message.Publisher
}

func NewEventDispatcher(pub message.Publisher) EventDispatcher {
	return &eventDispatcher{publisher: pub}
}

func (d *eventDispatcher) Publish(ctx context.Context, routingKey string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("event dispatcher: marshal failure: %w", err)
	}
	return d.PublishRaw(ctx, routingKey, body)
}

func (d *eventDispatcher) PublishRaw(ctx context.Context, routingKey string, payload []byte) error {
	if routingKey == "" {
		return fmt.Errorf("event dispatcher: empty routing key")
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)

	if err := d.publisher.Publish(routingKey, msg); err != nil {
		return fmt.Errorf("event dispatcher: failed to publish to topic %s: %w", routingKey, err)
	}
	return nil
}

func (d *eventDispatcher) Publisher() message.Publisher {
	return d.publisher
}
