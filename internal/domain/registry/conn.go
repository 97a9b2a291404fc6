package registry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// pumpsPerConn is fixed by the gateway design: one read pump, one write pump.
const pumpsPerConn = 2

// Conn is a single authenticated WebSocket connection. A user may hold many
// of them (one per tab or device).
//
// Concurrency contract:
//   - only the write pump writes to the socket, only the read pump reads;
//   - the bounded send queue is the sole cross-pump channel;
//   - the queue is closed exclusively by the ConnectionManager, which signals
//     the write pump to emit its final close frame and exit.
type Conn struct {
	id     uuid.UUID
	userID uuid.UUID
	sock   *websocket.Conn

	send chan []byte

	ctx    context.Context
	cancel context.CancelFunc

	// [LIFECYCLE] pumpsLeft counts pump goroutines still running; done is
	// closed when the last one exits, releasing RemoveAndWait callers.
	pumpsLeft atomic.Int32
	done      chan struct{}

	// sendMu serializes enqueues against the queue close in drain. Senders
	// hold the read side only for a non-blocking enqueue, never across I/O.
	sendMu    sync.RWMutex
	closed    bool
	closeOnce sync.Once
	dropped   atomic.Uint64
}

// NewConn wraps an upgraded socket. ctx is the connection's root context;
// cancelling it tells both pumps to wind down.
func NewConn(ctx context.Context, userID uuid.UUID, sock *websocket.Conn, queueCap int) *Conn {
	childCtx, cancel := context.WithCancel(ctx)
	c := &Conn{
		id:     uuid.New(),
		userID: userID,
		sock:   sock,
		send:   make(chan []byte, queueCap),
		ctx:    childCtx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	c.pumpsLeft.Store(pumpsPerConn)
	return c
}

func (c *Conn) ID() uuid.UUID            { return c.id }
func (c *Conn) UserID() uuid.UUID        { return c.userID }
func (c *Conn) Socket() *websocket.Conn  { return c.sock }
func (c *Conn) Context() context.Context { return c.ctx }

// Recv exposes the send queue to the write pump.
func (c *Conn) Recv() <-chan []byte { return c.send }

// TrySend enqueues a frame without blocking. A false return means the queue
// is saturated; per the backpressure policy the caller drops the frame and
// schedules the connection for removal.
func (c *Conn) TrySend(frame []byte) bool {
	c.sendMu.RLock()
	defer c.sendMu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		c.dropped.Add(1)
		return false
	}
}

// Dropped reports how many frames were shed due to a full queue.
func (c *Conn) Dropped() uint64 { return c.dropped.Load() }

// PumpExited must be called exactly once by each pump goroutine as it
// returns. When the last pump exits the connection is considered Closed.
func (c *Conn) PumpExited() {
	if c.pumpsLeft.Add(-1) == 0 {
		close(c.done)
	}
}

// PumpsDone is closed once both pumps have exited.
func (c *Conn) PumpsDone() <-chan struct{} { return c.done }

// ForceClose tears the socket down regardless of pump state. Used when the
// shutdown budget expires.
func (c *Conn) ForceClose() {
	c.cancel()
	_ = c.sock.Close()
}

// drain moves the connection into Draining: the context is cancelled and the
// send queue closed so the write pump emits a GoingAway frame and exits.
// Only the ConnectionManager may call this.
func (c *Conn) drain() {
	c.closeOnce.Do(func() {
		c.cancel()
		c.sendMu.Lock()
		c.closed = true
		close(c.send)
		c.sendMu.Unlock()
	})
}

// SetReadDeadlineIn is a small convenience for the read pump's pong handler.
func (c *Conn) SetReadDeadlineIn(d time.Duration) error {
	return c.sock.SetReadDeadline(time.Now().Add(d))
}
