// Package realtime bridges notification producers and gateway instances.
// Producers publish frames onto per-user or broadcast channels without
// knowing which instance, if any, holds the target user's sockets; each
// instance's Subscriber delivers to its local connections.
package realtime

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/pulsesocial/pulse/internal/domain/model"
)

const (
	userChannelPrefix = "ws:user:"
	userChannelGlob   = "ws:user:*"
	broadcastChannel  = "ws:broadcast"
)

// Router is the publish side of the cross-instance delivery layer. A single
// producer publishing to a single user keeps FIFO order end to end: the
// pub/sub channel and every send queue behind it are FIFO.
type Router struct {
	rdb *redis.Client
}

func NewRouter(rdb *redis.Client) *Router {
	return &Router{rdb: rdb}
}

func (r *Router) PublishToUser(ctx context.Context, userID uuid.UUID, frame model.PushFrame) error {
	data, err := frame.Marshal()
	if err != nil {
		return fmt.Errorf("realtime: marshal frame: %w", err)
	}
	if err := r.rdb.Publish(ctx, userChannelPrefix+userID.String(), data).Err(); err != nil {
		return fmt.Errorf("realtime: publish to user %s: %w", userID, err)
	}
	return nil
}

func (r *Router) Broadcast(ctx context.Context, frame model.PushFrame) error {
	data, err := frame.Marshal()
	if err != nil {
		return fmt.Errorf("realtime: marshal frame: %w", err)
	}
	if err := r.rdb.Publish(ctx, broadcastChannel, data).Err(); err != nil {
		return fmt.Errorf("realtime: broadcast: %w", err)
	}
	return nil
}
