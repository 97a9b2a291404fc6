/*
Package registry tracks which users are connected to this gateway instance.

Key concepts:
  - One ConnectionManager per process owns every accepted Connection.
  - A user maps to a set of Connections (one per tab/device); the set is
    guarded by a reader/writer lock so concurrent readers never observe it
    mid-mutation.
  - The manager is the single authority allowed to close a connection's send
    queue; closing the queue is the Draining signal for the write pump.
*/
package registry

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ConnectionManager is the per-process registry of live connections.
type ConnectionManager struct {
	mu    sync.RWMutex
	users map[uuid.UUID]map[*Conn]struct{}
	count int

	logger *slog.Logger
}

func NewConnectionManager(logger *slog.Logger) *ConnectionManager {
	return &ConnectionManager{
		users:  make(map[uuid.UUID]map[*Conn]struct{}),
		logger: logger,
	}
}

// Add registers a connection under its user. A connection appears in at most
// one set; re-adding the same pointer is a no-op.
func (m *ConnectionManager) Add(conn *Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.users[conn.UserID()]
	if !ok {
		set = make(map[*Conn]struct{})
		m.users[conn.UserID()] = set
	}
	if _, dup := set[conn]; dup {
		return
	}
	set[conn] = struct{}{}
	m.count++
}

// Remove detaches the connection and drains it. Removal is idempotent: a
// second call for the same connection is a no-op.
func (m *ConnectionManager) Remove(conn *Conn) {
	if m.detach(conn) {
		conn.drain()
	}
}

// RemoveAndWait removes the connection and blocks until both of its pumps
// have exited. The registry lock is released before waiting.
func (m *ConnectionManager) RemoveAndWait(conn *Conn) {
	m.Remove(conn)
	<-conn.PumpsDone()
}

// detach drops the connection from the user set under the writer lock and
// reports whether it was present.
func (m *ConnectionManager) detach(conn *Conn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.users[conn.UserID()]
	if !ok {
		return false
	}
	if _, present := set[conn]; !present {
		return false
	}
	delete(set, conn)
	if len(set) == 0 {
		delete(m.users, conn.UserID())
	}
	m.count--
	return true
}

// Count returns the total number of registered connections.
func (m *ConnectionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.count
}

// ForEach invokes fn for every connection of the given user. fn must not
// block: it runs under the reader lock.
func (m *ConnectionManager) ForEach(userID uuid.UUID, fn func(*Conn)) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for conn := range m.users[userID] {
		fn(conn)
	}
}

// AllConnections snapshots every registered connection.
func (m *ConnectionManager) AllConnections() []*Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Conn, 0, m.count)
	for _, set := range m.users {
		for conn := range set {
			out = append(out, conn)
		}
	}
	return out
}

// Shutdown drains every connection and waits for pump exit within the given
// budget (via ctx). Connections still alive when the budget expires are
// force-closed.
func (m *ConnectionManager) Shutdown(ctx context.Context) error {
	conns := m.AllConnections()
	m.logger.Info("GATEWAY_DRAIN_STARTED", "connections", len(conns))

	for _, conn := range conns {
		m.Remove(conn)
	}

	g := new(errgroup.Group)
	for _, conn := range conns {
		g.Go(func() error {
			select {
			case <-conn.PumpsDone():
				return nil
			case <-ctx.Done():
				conn.ForceClose()
				m.logger.Warn("CONNECTION_FORCE_CLOSED", "conn_id", conn.ID(), "user_id", conn.UserID())
				return ctx.Err()
			}
		})
	}
	err := g.Wait()
	m.logger.Info("GATEWAY_DRAIN_FINISHED", "remaining", m.Count())
	return err
}
