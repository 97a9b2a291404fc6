// Package chat hosts the per-stream chat rooms on /ws/live/{stream_id}.
// Rooms are ephemeral: created on first join, destroyed when empty.
package chat

import (
	"log/slog"
	"sync"
	"time"

	"github.com/pulsesocial/pulse/config"
	"github.com/pulsesocial/pulse/internal/metrics"
)

type Hub struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
	cfg     config.ChatConfig
	wsCfg   config.WSConfig

	mu    sync.RWMutex
	rooms map[string]*room

	now func() time.Time
}

type room struct {
	clients map[*client]struct{}

	// lastViewUpdate throttles viewer-count broadcasts against join/leave
	// stampedes. Guarded by the hub lock.
	lastViewUpdate time.Time
}

func NewHub(logger *slog.Logger, m *metrics.Metrics, cfg config.ChatConfig, wsCfg config.WSConfig) *Hub {
	return &Hub{
		logger:  logger,
		metrics: m,
		cfg:     cfg,
		wsCfg:   wsCfg,
		rooms:   make(map[string]*room),
		now:     time.Now,
	}
}

// add joins a client to its room, creating the room on first join. Returns
// the resulting viewer count.
func (h *Hub) add(c *client) int {
	h.mu.Lock()
	rm, ok := h.rooms[c.streamID]
	if !ok {
		rm = &room{clients: make(map[*client]struct{})}
		h.rooms[c.streamID] = rm
	}
	rm.clients[c] = struct{}{}
	count := len(rm.clients)
	h.mu.Unlock()

	h.logger.Info("CHAT_JOINED", "stream_id", c.streamID, "user_id", c.userID, "viewers", count)
	return count
}

// remove leaves the room and deletes it once empty.
func (h *Hub) remove(c *client) {
	h.mu.Lock()
	rm, ok := h.rooms[c.streamID]
	if ok {
		delete(rm.clients, c)
		if len(rm.clients) == 0 {
			delete(h.rooms, c.streamID)
		}
	}
	h.mu.Unlock()
	c.close()
}

// broadcast fans a frame to every client in the room with non-blocking
// enqueues; a saturated client is skipped rather than stalling the room.
func (h *Hub) broadcast(streamID string, frame []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rm, ok := h.rooms[streamID]
	if !ok {
		return
	}
	for c := range rm.clients {
		c.trySend(frame)
	}
}

// broadcastViewUpdate emits the viewer count, at most once per throttle
// window per room regardless of churn.
func (h *Hub) broadcastViewUpdate(streamID string) {
	h.mu.Lock()
	rm, ok := h.rooms[streamID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if h.now().Sub(rm.lastViewUpdate) < h.cfg.ViewUpdateThrottle {
		h.mu.Unlock()
		return
	}
	rm.lastViewUpdate = h.now()
	count := len(rm.clients)
	clients := make([]*client, 0, count)
	for c := range rm.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	frame := Frame{Type: TypeViewUpdate, StreamID: streamID, Count: count}.marshal()
	for _, c := range clients {
		c.trySend(frame)
	}
}

// viewerCount reports the current room size (0 when the room is gone).
func (h *Hub) viewerCount(streamID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rm, ok := h.rooms[streamID]
	if !ok {
		return 0
	}
	return len(rm.clients)
}
