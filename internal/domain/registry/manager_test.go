package registry

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConn(t *testing.T, userID uuid.UUID, queueCap int) *Conn {
	t.Helper()
	return NewConn(context.Background(), userID, nil, queueCap)
}

func TestAddIsDedupedByPointer(t *testing.T) {
	m := NewConnectionManager(slog.Default())
	conn := testConn(t, uuid.New(), 1)

	m.Add(conn)
	m.Add(conn)

	assert.Equal(t, 1, m.Count())
}

func TestCountTracksMultipleConnectionsPerUser(t *testing.T) {
	m := NewConnectionManager(slog.Default())
	user := uuid.New()

	a := testConn(t, user, 1)
	b := testConn(t, user, 1)
	c := testConn(t, uuid.New(), 1)
	m.Add(a)
	m.Add(b)
	m.Add(c)
	require.Equal(t, 3, m.Count())

	var seen int
	m.ForEach(user, func(*Conn) { seen++ })
	assert.Equal(t, 2, seen)
	assert.Len(t, m.AllConnections(), 3)
}

func TestRemoveIsIdempotent(t *testing.T) {
	m := NewConnectionManager(slog.Default())
	conn := testConn(t, uuid.New(), 1)
	m.Add(conn)

	m.Remove(conn)
	m.Remove(conn)

	assert.Equal(t, 0, m.Count())
}

func TestRemoveClosesSendQueueExactlyOnce(t *testing.T) {
	m := NewConnectionManager(slog.Default())
	conn := testConn(t, uuid.New(), 2)
	m.Add(conn)

	require.True(t, conn.TrySend([]byte("queued")))
	m.Remove(conn)

	// Buffered frame is still readable, then the channel reports closed.
	frame, ok := <-conn.Recv()
	require.True(t, ok)
	assert.Equal(t, []byte("queued"), frame)

	_, ok = <-conn.Recv()
	assert.False(t, ok)

	// Draining connection refuses new frames rather than panicking.
	assert.False(t, conn.TrySend([]byte("late")))
}

func TestTrySendBackpressure(t *testing.T) {
	conn := testConn(t, uuid.New(), 1)

	assert.True(t, conn.TrySend([]byte("a")))
	assert.False(t, conn.TrySend([]byte("b")), "full queue must not block")
	assert.Equal(t, uint64(1), conn.Dropped())
}

func TestRemoveAndWaitBlocksUntilPumpsExit(t *testing.T) {
	m := NewConnectionManager(slog.Default())
	conn := testConn(t, uuid.New(), 1)
	m.Add(conn)

	go func() {
		// Both pumps observe the drained queue and exit.
		<-conn.Context().Done()
		conn.PumpExited()
		conn.PumpExited()
	}()

	done := make(chan struct{})
	go func() {
		m.RemoveAndWait(conn)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RemoveAndWait did not return after both pumps exited")
	}
	assert.Equal(t, 0, m.Count())
}

func TestShutdownDrainsEverything(t *testing.T) {
	m := NewConnectionManager(slog.Default())

	for range 4 {
		conn := testConn(t, uuid.New(), 1)
		m.Add(conn)
		go func() {
			<-conn.Context().Done()
			conn.PumpExited()
			conn.PumpExited()
		}()
	}
	require.Equal(t, 4, m.Count())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))
	assert.Equal(t, 0, m.Count())
}
