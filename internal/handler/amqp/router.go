package amqp

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"

	"github.com/pulsesocial/pulse/config"
	"github.com/pulsesocial/pulse/internal/adapter/pubsub"
	"github.com/pulsesocial/pulse/internal/domain/model"
	"github.com/pulsesocial/pulse/internal/metrics"
	"github.com/pulsesocial/pulse/internal/service"
	"github.com/pulsesocial/pulse/internal/store/idempotency"
)

// Consumer owns the notification pipeline: one durable queue bound to every
// routing key of social.events, one typed handler per key.
type Consumer struct {
	notifier     *service.Notifier
	followers    *service.FollowerSource
	idem         idempotency.Store
	dispatcher   pubsub.EventDispatcher
	logger       *slog.Logger
	metrics      *metrics.Metrics
	dedupTTL     time.Duration
	frontendBase string
}

func NewConsumer(
	notifier *service.Notifier,
	followers *service.FollowerSource,
	idem idempotency.Store,
	dispatcher pubsub.EventDispatcher,
	logger *slog.Logger,
	m *metrics.Metrics,
	cfg *config.Config,
) *Consumer {
	return &Consumer{
		notifier:     notifier,
		followers:    followers,
		idem:         idem,
		dispatcher:   dispatcher,
		logger:       logger,
		metrics:      m,
		dedupTTL:     cfg.Idempotency.DedupTTL,
		frontendBase: cfg.FrontendBaseURL,
	}
}

func NewWatermillRouter(logger watermill.LoggerAdapter) (*message.Router, error) {
	return message.NewRouter(message.RouterConfig{CloseTimeout: 30 * time.Second}, logger)
}

// HandlerTable maps every routing key to its bound typed handler.
func (c *Consumer) HandlerTable() map[string]message.NoPublishHandlerFunc {
	return map[string]message.NoPublishHandlerFunc{
		model.RKViolationEvents: Bind(c, model.RKViolationEvents, c.onViolation),
		model.RKPostCreated:     Bind(c, model.RKPostCreated, c.onPostCreated),
		model.RKUserFollowed:    Bind(c, model.RKUserFollowed, c.onUserFollowed),
		model.RKPostLiked:       Bind(c, model.RKPostLiked, c.onPostLiked),
		model.RKPostCommented:   Bind(c, model.RKPostCommented, c.onPostCommented),
		model.RKCommentReplied:  Bind(c, model.RKCommentReplied, c.onCommentReplied),
		model.RKCommunityJoined: Bind(c, model.RKCommunityJoined, c.onCommunityJoined),
	}
}

// Dispatch resolves the typed handler from the delivery's routing key. All
// consumers on the shared queue use this same entry point, so it does not
// matter which of them the broker hands a given envelope to.
func (c *Consumer) Dispatch(table map[string]message.NoPublishHandlerFunc) message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		rk := msg.Metadata.Get(pubsub.MetaRoutingKey)
		h, ok := table[rk]
		if !ok {
			c.logger.Warn("UNROUTED_EVENT", "routing_key", rk, "msg_id", msg.UUID)
			return nil
		}
		return h(msg)
	}
}

// RegisterHandlers binds notification.queue to each routing key and attaches
// the middleware chain. The queue is shared fleet-wide, so each envelope is
// processed exactly once across all instances (modulo broker redelivery,
// which dedup absorbs).
func (c *Consumer) RegisterHandlers(router *message.Router, provider *pubsub.Provider) error {
	poison, err := middleware.PoisonQueue(c.dispatcher.Publisher(), pubsub.PoisonTopic)
	if err != nil {
		return fmt.Errorf("poison queue setup: %w", err)
	}

	sub, err := provider.BuildSubscriber(pubsub.NotificationQueue)
	if err != nil {
		return fmt.Errorf("notification subscriber: %w", err)
	}

	dispatch := c.Dispatch(c.HandlerTable())

	// One registration per routing key creates the queue bind; the handler
	// body is shared because the broker round-robins the queue's consumers
	// without regard to the key that matched.
	configs := []struct {
		name  string
		topic string
	}{
		{"ON_VIOLATION", model.RKViolationEvents},
		{"ON_POST_CREATED", model.RKPostCreated},
		{"ON_USER_FOLLOWED", model.RKUserFollowed},
		{"ON_POST_LIKED", model.RKPostLiked},
		{"ON_POST_COMMENTED", model.RKPostCommented},
		{"ON_COMMENT_REPLIED", model.RKCommentReplied},
		{"ON_COMMUNITY_JOINED", model.RKCommunityJoined},
	}

	for _, hc := range configs {
		router.AddConsumerHandler(hc.name, hc.topic, sub, dispatch).AddMiddleware(
			TraceIDMiddleware,
			LoggingMiddleware(c.logger),
			NewRetryMiddleware().Middleware,
			poison,
			middleware.NewThrottle(100, time.Second).Middleware,
			middleware.Timeout(time.Second*30),
		)
	}

	c.logger.Info("AMQP_PIPELINE_READY", "queue", pubsub.NotificationQueue, "handlers", len(configs))
	return nil
}
