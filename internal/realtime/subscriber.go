package realtime

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/pulsesocial/pulse/internal/domain/registry"
	"github.com/pulsesocial/pulse/internal/metrics"
)

const (
	backoffBase   = 500 * time.Millisecond
	backoffCap    = 30 * time.Second
	backoffJitter = 0.2
)

// Subscriber is this instance's single pub/sub reader. It pattern-subscribes
// to the per-user channels and the broadcast channel, and enqueues received
// frames into local send queues. The receive loop never blocks on a slow
// connection: a full queue means drop-and-schedule-removal.
type Subscriber struct {
	rdb     *redis.Client
	manager *registry.ConnectionManager
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewSubscriber(rdb *redis.Client, manager *registry.ConnectionManager, logger *slog.Logger, m *metrics.Metrics) *Subscriber {
	return &Subscriber{rdb: rdb, manager: manager, logger: logger, metrics: m}
}

// Run blocks until ctx is cancelled, re-establishing the subscription with
// exponential backoff whenever it is lost. While disconnected, realtime
// delivery is suspended; durable notifications remain the source of truth.
func (s *Subscriber) Run(ctx context.Context) error {
	backoff := backoffBase

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		pubsub := s.rdb.PSubscribe(ctx, userChannelGlob)
		err := pubsub.Subscribe(ctx, broadcastChannel)
		if err == nil {
			_, err = pubsub.Receive(ctx) // wait for subscription confirmation
		}
		if err != nil {
			_ = pubsub.Close()
			s.logger.Warn("REALTIME_SUBSCRIBE_FAILED", "err", err, "retry_in", backoff)
			if !sleep(ctx, withJitter(backoff)) {
				return ctx.Err()
			}
			backoff = nextBackoff(backoff)
			continue
		}

		s.logger.Info("REALTIME_SUBSCRIBED", "pattern", userChannelGlob, "channel", broadcastChannel)
		backoff = backoffBase

		ch := pubsub.Channel()
	recv:
		for {
			select {
			case <-ctx.Done():
				_ = pubsub.Close()
				return ctx.Err()
			case msg, ok := <-ch:
				if !ok {
					break recv
				}
				s.route(msg.Channel, []byte(msg.Payload))
			}
		}

		_ = pubsub.Close()
		s.logger.Warn("REALTIME_SUBSCRIPTION_LOST", "retry_in", backoff)
		if !sleep(ctx, withJitter(backoff)) {
			return ctx.Err()
		}
		backoff = nextBackoff(backoff)
	}
}

// route fans a received frame into the matching local send queues.
func (s *Subscriber) route(channel string, payload []byte) {
	if channel == broadcastChannel {
		for _, conn := range s.manager.AllConnections() {
			s.enqueue(conn, payload)
		}
		return
	}

	raw := strings.TrimPrefix(channel, userChannelPrefix)
	userID, err := uuid.Parse(raw)
	if err != nil {
		s.logger.Warn("REALTIME_BAD_CHANNEL", "channel", channel)
		return
	}
	s.manager.ForEach(userID, func(conn *registry.Conn) {
		s.enqueue(conn, payload)
	})
}

// enqueue applies the backpressure policy: a saturated queue drops the frame
// and schedules the connection for removal. Removal runs on its own
// goroutine because enqueue may be called under the registry's reader lock.
func (s *Subscriber) enqueue(conn *registry.Conn, payload []byte) {
	if conn.TrySend(payload) {
		s.metrics.FramesDelivered.Inc()
		return
	}
	s.metrics.FramesDropped.Inc()
	s.logger.Warn("SEND_QUEUE_FULL", "conn_id", conn.ID(), "user_id", conn.UserID())
	go s.manager.Remove(conn)
}

func withJitter(d time.Duration) time.Duration {
	delta := (rand.Float64()*2 - 1) * backoffJitter // [-0.2, +0.2)
	return time.Duration(float64(d) * (1 + delta))
}

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > backoffCap {
		return backoffCap
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
