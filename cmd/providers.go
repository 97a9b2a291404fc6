package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"github.com/pulsesocial/pulse/config"
	"github.com/pulsesocial/pulse/internal/adapter/pubsub"
	"github.com/pulsesocial/pulse/internal/metrics"
	"github.com/pulsesocial/pulse/internal/service"
	"github.com/pulsesocial/pulse/internal/store/idempotency"
	"github.com/pulsesocial/pulse/internal/store/postgres"
)

func ProvideLogger() *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
	return logger
}

func ProvideWatermillLogger(logger *slog.Logger) watermill.LoggerAdapter {
	return watermill.NewSlogLogger(logger)
}

func ProvideMetrics() *metrics.Metrics {
	return metrics.New()
}

func ProvideRedisClient(lc fx.Lifecycle, cfg *config.Config) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	})
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := rdb.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis: ping: %w", err)
			}
			return nil
		},
		OnStop: func(context.Context) error {
			return rdb.Close()
		},
	})
	return rdb
}

func ProvidePgxPool(lc fx.Lifecycle, cfg *config.Config) (*pgxpool.Pool, error) {
	if err := postgres.Migrate(cfg.PostgresDSN); err != nil {
		return nil, err
	}
	pool, err := postgres.NewPool(context.Background(), cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			pool.Close()
			return nil
		},
	})
	return pool, nil
}

func ProvidePubsubProvider(cfg *config.Config, logger watermill.LoggerAdapter) *pubsub.Provider {
	return pubsub.NewProvider(cfg.AMQPURL, logger)
}

func ProvideEventDispatcher(provider *pubsub.Provider) (pubsub.EventDispatcher, error) {
	pub, err := provider.BuildPublisher()
	if err != nil {
		return nil, fmt.Errorf("pubsub: build publisher: %w", err)
	}
	return pubsub.NewEventDispatcher(pub), nil
}

// storesModule binds the persistent stores to the capability interfaces the
// services consume.
var storesModule = fx.Module("stores",
	fx.Provide(
		postgres.NewNotificationStore,
		postgres.NewOutboxStore,
		postgres.NewSessionStore,
		postgres.NewFollowStore,
		idempotency.NewRedisStore,

		func(s *postgres.NotificationStore) service.NotificationRepo { return s },
		func(s *postgres.SessionStore) service.SessionRepo { return s },
		func(s *postgres.FollowStore) service.FollowerRepo { return s },
		func(s *idempotency.RedisStore) idempotency.Store { return s },
	),
)
