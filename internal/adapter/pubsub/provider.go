// Package pubsub wires Watermill onto the platform's AMQP topology: one
// durable topic exchange (social.events) that every producer publishes into
// and every consumer queue binds against.
package pubsub

import (
	"github.com/ThreeDotsLabs/watermill"
	amqp "github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	amqp091 "github.com/rabbitmq/amqp091-go"
)

const (
	// ExchangeSocialEvents is the durable topic exchange for domain events.
	ExchangeSocialEvents = "social.events"

	// NotificationQueue is the durable consumer queue of the notification
	// pipeline. Routing-key binds are added per handler.
	NotificationQueue = "notification.queue"

	// PoisonTopic receives envelopes that exhausted their retries.
	PoisonTopic = "notification.queue.poison"

	// MetaRoutingKey carries the AMQP routing key into message metadata.
	// Consumers sharing one queue dispatch on it.
	MetaRoutingKey = "routing_key"
)

// routingKeyMarshaler decorates the default marshaler so deliveries expose
// their routing key to handlers.
type routingKeyMarshaler struct {
	amqp.DefaultMarshaler
}

func (m routingKeyMarshaler) Unmarshal(amqpMsg amqp091.Delivery) (*message.Message, error) {
	msg, err := m.DefaultMarshaler.Unmarshal(amqpMsg)
	if err != nil {
		return nil, err
	}
	msg.Metadata.Set(MetaRoutingKey, amqpMsg.RoutingKey)
	return msg, nil
}

// Provider builds AMQP publishers and subscribers that share one broker URL.
type Provider struct {
	amqpURL string
	logger  watermill.LoggerAdapter
}

func NewProvider(amqpURL string, logger watermill.LoggerAdapter) *Provider {
	return &Provider{amqpURL: amqpURL, logger: logger}
}

// baseConfig is the shared topic-exchange topology. The watermill "topic" is
// used as the AMQP routing key on both publish and queue-bind.
func (p *Provider) baseConfig(queue string) amqp.Config {
	return amqp.Config{
		Connection: amqp.ConnectionConfig{AmqpURI: p.amqpURL},
		Marshaler:  routingKeyMarshaler{},
		Exchange: amqp.ExchangeConfig{
			GenerateName: func(string) string { return ExchangeSocialEvents },
			Type:         "topic",
			Durable:      true,
		},
		Queue: amqp.QueueConfig{
			GenerateName: amqp.GenerateQueueNameConstant(queue),
			Durable:      true,
		},
		QueueBind: amqp.QueueBindConfig{
			GenerateRoutingKey: func(topic string) string { return topic },
		},
		Publish: amqp.PublishConfig{
			GenerateRoutingKey: func(topic string) string { return topic },
		},
		Consume: amqp.ConsumeConfig{
			Qos: amqp.QosConfig{PrefetchCount: 32},
			// Failed handlers must not spin on the same delivery; redrive
			// goes through the poison queue instead.
			NoRequeueOnNack: true,
		},
		TopologyBuilder: &amqp.DefaultTopologyBuilder{},
	}
}

// BuildSubscriber returns a subscriber whose queue binds the given routing
// key on social.events. One subscriber per handler keeps per-key ordering.
func (p *Provider) BuildSubscriber(queue string) (message.Subscriber, error) {
	return amqp.NewSubscriber(p.baseConfig(queue), p.logger)
}

// BuildPublisher returns a publisher for social.events.
func (p *Provider) BuildPublisher() (message.Publisher, error) {
	return amqp.NewPublisher(p.baseConfig(""), p.logger)
}
