package ws

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsesocial/pulse/config"
	"github.com/pulsesocial/pulse/internal/domain/registry"
	"github.com/pulsesocial/pulse/internal/metrics"
)

func testWSConfig() config.WSConfig {
	return config.WSConfig{
		SendQueueCapacity: 8,
		ReadLimit:         4096,
		PingPeriod:        30 * time.Second,
		PongWait:          90 * time.Second,
		WriteWait:         time.Second,
		ShutdownBudget:    5 * time.Second,
	}
}

func newTestGateway(t *testing.T) (*Gateway, *registry.ConnectionManager, *httptest.Server) {
	t.Helper()
	manager := registry.NewConnectionManager(slog.Default())
	g := NewGateway(slog.Default(), manager, metrics.New(), testWSConfig())
	srv := httptest.NewServer(g)
	t.Cleanup(srv.Close)
	return g, manager, srv
}

func dial(t *testing.T, srv *httptest.Server, userID uuid.UUID) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	header := http.Header{"X-User-Id": {userID.String()}}
	sock, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { _ = sock.Close() })
	return sock
}

func waitForCount(t *testing.T, manager *registry.ConnectionManager, want int) {
	t.Helper()
	require.Eventually(t, func() bool { return manager.Count() == want },
		2*time.Second, 10*time.Millisecond)
}

func TestIdentityExtraction(t *testing.T) {
	user := uuid.New()

	withHeader := httptest.NewRequest(http.MethodGet, "/ws", nil)
	withHeader.Header.Set("X-User-Id", user.String())
	got, ok := Identity(withHeader)
	require.True(t, ok)
	assert.Equal(t, user, got)

	withQuery := httptest.NewRequest(http.MethodGet, "/ws?user_id="+user.String(), nil)
	got, ok = Identity(withQuery)
	require.True(t, ok)
	assert.Equal(t, user, got)

	_, ok = Identity(httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.False(t, ok)

	nilID := httptest.NewRequest(http.MethodGet, "/ws?user_id="+uuid.Nil.String(), nil)
	_, ok = Identity(nilID)
	assert.False(t, ok, "the nil uuid is not an identity")
}

func TestUpgradeRejectedWithoutIdentity(t *testing.T) {
	_, _, srv := newTestGateway(t)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUpgradeRejectedWhileShuttingDown(t *testing.T) {
	g, _, srv := newTestGateway(t)
	g.StopAccepting()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"X-User-Id": {uuid.NewString()}})
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestFrameDelivery(t *testing.T) {
	_, manager, srv := newTestGateway(t)
	user := uuid.New()

	sock := dial(t, srv, user)
	waitForCount(t, manager, 1)

	manager.ForEach(user, func(c *registry.Conn) {
		require.True(t, c.TrySend([]byte(`{"eventType":"test"}`)))
	})

	require.NoError(t, sock.SetReadDeadline(time.Now().Add(2*time.Second)))
	kind, frame, err := sock.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, kind)
	assert.JSONEq(t, `{"eventType":"test"}`, string(frame))
}

func TestClientDisconnectCleansUp(t *testing.T) {
	_, manager, srv := newTestGateway(t)
	sock := dial(t, srv, uuid.New())
	waitForCount(t, manager, 1)

	require.NoError(t, sock.Close())
	waitForCount(t, manager, 0)
}

func TestGracefulDrainDeliversQueuedFramesThenGoingAway(t *testing.T) {
	_, manager, srv := newTestGateway(t)
	user := uuid.New()

	sockA := dial(t, srv, user)
	sockB := dial(t, srv, user)
	waitForCount(t, manager, 2)

	manager.ForEach(user, func(c *registry.Conn) {
		require.True(t, c.TrySend([]byte("queued frame")))
	})

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	shutdownErr := make(chan error, 1)
	go func() { shutdownErr <- manager.Shutdown(shutdownCtx) }()

	for _, sock := range []*websocket.Conn{sockA, sockB} {
		require.NoError(t, sock.SetReadDeadline(time.Now().Add(3*time.Second)))

		_, frame, err := sock.ReadMessage()
		require.NoError(t, err, "queued frame must be flushed before the close frame")
		assert.Equal(t, "queued frame", string(frame))

		_, _, err = sock.ReadMessage()
		require.Error(t, err)
		assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway),
			"drain must end with a GoingAway close frame, got: %v", err)
	}

	require.NoError(t, <-shutdownErr)
	assert.Equal(t, 0, manager.Count())
}
