package monitor

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsesocial/pulse/config"
	"github.com/pulsesocial/pulse/internal/domain/model"
	"github.com/pulsesocial/pulse/internal/metrics"
)

type recordingDispatcher struct {
	mu     sync.Mutex
	events []recordedEvent
}

type recordedEvent struct {
	routingKey string
	payload    []byte
}

func (d *recordingDispatcher) Publish(ctx context.Context, routingKey string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return d.PublishRaw(ctx, routingKey, body)
}

func (d *recordingDispatcher) PublishRaw(_ context.Context, routingKey string, payload []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, recordedEvent{routingKey, payload})
	return nil
}

func (d *recordingDispatcher) Publisher() message.Publisher { return nil }

func (d *recordingDispatcher) recorded() []recordedEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]recordedEvent(nil), d.events...)
}

func TestLastSegmentLineSkipsTags(t *testing.T) {
	playlist := strings.NewReader(`#EXTM3U
#EXT-X-VERSION:3
#EXTINF:4.0,
seg-1.ts
#EXTINF:4.0,
seg-2.ts
`)
	assert.Equal(t, "seg-2.ts", lastSegmentLine(playlist))
}

func TestLastSegmentLineEmptyPlaylist(t *testing.T) {
	assert.Equal(t, "", lastSegmentLine(strings.NewReader("#EXTM3U\n")))
}

func TestResolveSegmentURL(t *testing.T) {
	base := "http://cdn.local/live/s9.m3u8"

	assert.Equal(t, "http://cdn.local/live/seg-1.ts", resolveSegmentURL(base, "seg-1.ts"))
	assert.Equal(t, "http://other/abs.ts", resolveSegmentURL(base, "http://other/abs.ts"))
}

func TestStripFences(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{`{"result":"Accepted"}`, `{"result":"Accepted"}`},
		{"```json\n{\"result\":\"Rejected\"}\n```", `{"result":"Rejected"}`},
		{"```\n{\"result\":\"Warning\"}\n```", `{"result":"Warning"}`},
		{"  ```json\n{\"a\":1}\n```  ", `{"a":1}`},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, stripFences(tc.in))
	}
}

func TestParseVerdict(t *testing.T) {
	events := []oracleEvent{
		{Content: oracleMessage{Parts: []oraclePart{{Text: "thinking..."}}}},
		{Content: oracleMessage{Parts: []oraclePart{{Text: "```json\n{\"result\":\"Rejected\",\"message\":\"R\"}\n```"}}}},
	}
	body, err := json.Marshal(events)
	require.NoError(t, err)

	outcome, err := parseVerdict(body)
	require.NoError(t, err)
	assert.True(t, outcome.Rejected())
	assert.Equal(t, "R", outcome.Message)

	_, err = parseVerdict([]byte(`[]`))
	assert.Error(t, err, "no text parts means no verdict")
}

func newTestManager(t *testing.T, cdnURL, oracleURL string, dispatcher *recordingDispatcher) *Manager {
	t.Helper()
	cfg := &config.Config{
		CDNBaseURL: cdnURL,
		Monitor: config.MonitorConfig{
			Interval:         20 * time.Millisecond,
			OfflineThreshold: 4,
			SegmentTimeout:   2 * time.Second,
		},
	}
	oracle := NewOracleClient(oracleURL, "stream-moderator", slog.Default())
	m := NewManager(slog.Default(), metrics.New(), cfg, oracle, dispatcher)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return m
}

func TestStartMonitoringIsIdempotent(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	m := newTestManager(t, "http://cdn.invalid", "http://oracle.invalid", dispatcher)

	user := uuid.New()
	require.NoError(t, m.StartMonitoring("s1", user))
	assert.ErrorIs(t, m.StartMonitoring("s1", user), ErrMonitorActive)
	assert.True(t, m.Active("s1"))
}

func TestMonitorDetectsViolationAndTearsDown(t *testing.T) {
	cdn := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/live/stream9.m3u8":
			_, _ = w.Write([]byte("#EXTM3U\n#EXTINF:4.0,\nseg-1.ts\n"))
		case "/live/seg-1.ts":
			_, _ = w.Write([]byte("segment-bytes"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer cdn.Close()

	oracle := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/run", r.URL.Path)
		verdict := "```json\n{\"result\":\"Rejected\",\"message\":\"R\"}\n```"
		resp := []oracleEvent{{Content: oracleMessage{Parts: []oraclePart{{Text: verdict}}}}}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer oracle.Close()

	dispatcher := &recordingDispatcher{}
	m := newTestManager(t, cdn.URL, oracle.URL, dispatcher)

	user := uuid.New()
	require.NoError(t, m.StartMonitoring("stream9", user))

	require.Eventually(t, func() bool {
		return !m.Active("stream9")
	}, 3*time.Second, 10*time.Millisecond, "monitor must tear itself down on rejection")

	events := dispatcher.recorded()
	require.Len(t, events, 1, "exactly one violation per rejection")
	assert.Equal(t, model.RKViolationEvents, events[0].routingKey)

	var ev model.ViolationEvent
	require.NoError(t, json.Unmarshal(events[0].payload, &ev))
	assert.Equal(t, user, ev.UserID)
	assert.Equal(t, "stream9", ev.StreamID)
	assert.Equal(t, "R", ev.Reason)
}

func TestMonitorGoesOfflineAfterThreshold(t *testing.T) {
	cdn := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer cdn.Close()

	dispatcher := &recordingDispatcher{}
	m := newTestManager(t, cdn.URL, "http://oracle.invalid", dispatcher)

	require.NoError(t, m.StartMonitoring("s-offline", uuid.New()))

	require.Eventually(t, func() bool {
		return !m.Active("s-offline")
	}, 3*time.Second, 10*time.Millisecond, "404 playlists count as idle ticks")
	assert.Empty(t, dispatcher.recorded())
}

func TestSeenSegmentCountsAsIdle(t *testing.T) {
	var oracleCalls int
	var mu sync.Mutex

	cdn := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/live/s2.m3u8":
			// Same segment on every poll.
			_, _ = w.Write([]byte("#EXTM3U\nseg-1.ts\n"))
		case "/live/seg-1.ts":
			_, _ = w.Write([]byte("segment-bytes"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer cdn.Close()

	oracle := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		oracleCalls++
		mu.Unlock()
		resp := []oracleEvent{{Content: oracleMessage{Parts: []oraclePart{{Text: `{"result":"Accepted","message":""}`}}}}}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer oracle.Close()

	dispatcher := &recordingDispatcher{}
	m := newTestManager(t, cdn.URL, oracle.URL, dispatcher)
	require.NoError(t, m.StartMonitoring("s2", uuid.New()))

	// The repeated segment eventually trips the idle threshold.
	require.Eventually(t, func() bool {
		return !m.Active("s2")
	}, 3*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, oracleCalls, "a segment is moderated once")
}
