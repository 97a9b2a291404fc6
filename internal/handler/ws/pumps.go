package ws

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/pulsesocial/pulse/internal/domain/registry"
)

// readPump is the only reader of the socket. The gateway is push-only, so
// inbound frames are discarded; the pump exists to process pongs and detect
// the peer close.
func (g *Gateway) readPump(conn *registry.Conn) {
	defer func() {
		g.manager.Remove(conn)
		g.metrics.Connections.Dec()
		conn.PumpExited()
		g.logger.Info("WS_CLOSED", "user_id", conn.UserID(), "conn_id", conn.ID(), "dropped_frames", conn.Dropped())
	}()

	sock := conn.Socket()
	sock.SetReadLimit(g.cfg.ReadLimit)
	_ = conn.SetReadDeadlineIn(g.cfg.PongWait)
	sock.SetPongHandler(func(string) error {
		return conn.SetReadDeadlineIn(g.cfg.PongWait)
	})

	for {
		if _, _, err := sock.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				g.logger.Debug("WS_READ_ERROR", "err", err, "conn_id", conn.ID())
			}
			return
		}
	}
}

// writePump is the only writer of the socket. It flushes the send queue,
// keeps the peer alive with pings, and emits the final GoingAway frame once
// the manager closes the queue. Buffered frames are always delivered before
// the close frame: a closed channel yields its backlog first.
func (g *Gateway) writePump(conn *registry.Conn) {
	sock := conn.Socket()
	ticker := time.NewTicker(g.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = sock.Close()
		conn.PumpExited()
	}()

	for {
		select {
		case frame, ok := <-conn.Recv():
			_ = sock.SetWriteDeadline(time.Now().Add(g.cfg.WriteWait))
			if !ok {
				// Draining: the manager closed the queue.
				_ = sock.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				return
			}
			if err := sock.WriteMessage(websocket.TextMessage, frame); err != nil {
				g.logger.Debug("WS_WRITE_FAILED", "err", err, "conn_id", conn.ID())
				return
			}

		case <-ticker.C:
			_ = sock.SetWriteDeadline(time.Now().Add(g.cfg.WriteWait))
			if err := sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
