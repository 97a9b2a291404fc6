package amqp

import (
	"context"
	"encoding/json"
	"runtime/debug"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/pulsesocial/pulse/internal/service"
	"github.com/pulsesocial/pulse/internal/store/idempotency"
)

// DomainHandler is the functional signature for business logic.
type DomainHandler[T any] func(ctx context.Context, payload *T) error

// Bind connects Watermill to domain logic, handling panic recovery, dedup
// and error classification.
//
// Outcomes:
//   - duplicate envelope: ack and discard;
//   - undecodable payload or validation error: ack and drop with a warning
//     (retrying can never succeed);
//   - transient handler error: release the dedup key so a redrive is not
//     suppressed, then nack (no requeue; the poison queue takes over).
func Bind[T any](c *Consumer, routingKey string, fn DomainHandler[T]) message.NoPublishHandlerFunc {
	return func(msg *message.Message) (err error) {
		// [PANIC_RECOVERY] Keep the consumer alive across handler bugs.
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("PANIC_RECOVERED",
					"err", r,
					"stack", string(debug.Stack()),
					"msg_id", msg.UUID)
				err = nil
			}
		}()

		ctx := msg.Context()
		key := dedupKey(msg)

		first, idemErr := c.idem.CheckAndMark(ctx, idempotency.NamespaceProcessedMsg, key, c.dedupTTL)
		if idemErr != nil {
			// Degraded mode: at-least-once still holds, duplicates become
			// possible. Correctness must not depend on dedup alone.
			c.logger.Warn("DEDUP_UNAVAILABLE", "err", idemErr, "msg_id", msg.UUID)
			first = true
		} else if !first {
			c.metrics.EventsDeduplicated.Inc()
			c.metrics.EventsConsumed.WithLabelValues(routingKey, "duplicate").Inc()
			return nil
		}

		payload := new(T)
		if err := json.Unmarshal(msg.Payload, payload); err != nil {
			c.logger.Warn("DECODE_FAILED", "err", err, "msg_id", msg.UUID, "routing_key", routingKey)
			c.metrics.EventsConsumed.WithLabelValues(routingKey, "invalid").Inc()
			return nil
		}

		if err := fn(ctx, payload); err != nil {
			if service.IsValidation(err) {
				c.logger.Warn("EVENT_REJECTED", "err", err, "msg_id", msg.UUID, "routing_key", routingKey)
				c.metrics.EventsConsumed.WithLabelValues(routingKey, "invalid").Inc()
				return nil
			}
			if idemErr == nil {
				if rmErr := c.idem.Remove(ctx, idempotency.NamespaceProcessedMsg, key); rmErr != nil {
					c.logger.Warn("DEDUP_RELEASE_FAILED", "err", rmErr, "msg_id", msg.UUID)
				}
			}
			c.metrics.EventsConsumed.WithLabelValues(routingKey, "error").Inc()
			return err
		}

		c.metrics.EventsConsumed.WithLabelValues(routingKey, "ok").Inc()
		return nil
	}
}
