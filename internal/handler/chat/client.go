package chat

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/pulsesocial/pulse/internal/handler/ws"
)

type client struct {
	hub      *Hub
	sock     *websocket.Conn
	streamID string
	userID   uuid.UUID
	username string

	send    chan []byte
	limiter *rate.Limiter

	closeMu sync.Mutex
	closed  bool
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true }, // origin enforced upstream
}

// ServeHTTP upgrades /ws/live/{stream_id} and runs the client until it
// disconnects or is kicked.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	streamID := chi.URLParam(r, "streamID")
	if streamID == "" {
		http.Error(w, "missing stream id", http.StatusBadRequest)
		return
	}

	userID, ok := ws.Identity(r)
	if !ok {
		http.Error(w, "missing or invalid user id", http.StatusBadRequest)
		return
	}
	username := r.URL.Query().Get("username")
	if username == "" {
		username = userID.String()
	}

	sock, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("CHAT_UPGRADE_FAILED", "err", err, "stream_id", streamID)
		return
	}

	c := &client{
		hub:      h,
		sock:     sock,
		streamID: streamID,
		userID:   userID,
		username: username,
		send:     make(chan []byte, h.wsCfg.SendQueueCapacity),
		limiter:  rate.NewLimiter(rate.Limit(h.cfg.RateLimitPerSec), h.cfg.RateLimitPerSec),
	}

	count := h.add(c)
	c.trySend(Frame{Type: TypeJoined, StreamID: streamID, Count: count}.marshal())
	h.broadcastViewUpdate(streamID)

	go c.writePump()
	go c.readPump()
}

// trySend enqueues without blocking; a full queue drops the frame. Chat is
// best-effort, a lagging viewer misses messages rather than stalls the room.
func (c *client) trySend(frame []byte) {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- frame:
	default:
	}
}

// close shuts the send queue exactly once; the write pump exits on the
// closed channel and tears the socket down.
func (c *client) close() {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *client) readPump() {
	h := c.hub
	defer func() {
		h.remove(c)
		h.broadcast(c.streamID, Frame{Type: TypeLeft, StreamID: c.streamID, UserID: c.userID.String()}.marshal())
		h.broadcastViewUpdate(c.streamID)
		h.logger.Info("CHAT_LEFT", "stream_id", c.streamID, "user_id", c.userID, "viewers", h.viewerCount(c.streamID))
	}()

	c.sock.SetReadLimit(h.wsCfg.ReadLimit)
	_ = c.sock.SetReadDeadline(time.Now().Add(h.wsCfg.PongWait))
	c.sock.SetPongHandler(func(string) error {
		return c.sock.SetReadDeadline(time.Now().Add(h.wsCfg.PongWait))
	})

	for {
		_, raw, err := c.sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("CHAT_READ_ERROR", "err", err, "stream_id", c.streamID)
			}
			return
		}
		if !c.handleInbound(raw) {
			return
		}
	}
}

// handleInbound processes one frame from the viewer. Returns false when the
// client must be disconnected.
func (c *client) handleInbound(raw []byte) bool {
	h := c.hub

	if !c.limiter.Allow() {
		c.trySend(Frame{Type: TypeError, Message: "rate limit exceeded"}.marshal())
		h.logger.Warn("CHAT_RATE_LIMITED", "stream_id", c.streamID, "user_id", c.userID)
		return false
	}

	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		c.trySend(Frame{Type: TypeError, Message: "malformed frame"}.marshal())
		return true
	}
	if frame.Type != TypeChat {
		return true
	}

	content := truncate(frame.Content, h.cfg.MaxMessageChars)
	if content == "" {
		return true
	}

	out := Frame{
		Type:      TypeChatBroadcast,
		StreamID:  c.streamID,
		UserID:    c.userID.String(),
		Username:  c.username,
		Content:   content,
		Timestamp: h.now().UnixMilli(),
	}
	h.broadcast(c.streamID, out.marshal())
	h.metrics.ChatMessages.Inc()
	return true
}

func (c *client) writePump() {
	ticker := time.NewTicker(c.hub.wsCfg.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.sock.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.sock.SetWriteDeadline(time.Now().Add(c.hub.wsCfg.WriteWait))
			if !ok {
				_ = c.sock.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.sock.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.sock.SetWriteDeadline(time.Now().Add(c.hub.wsCfg.WriteWait))
			if err := c.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
