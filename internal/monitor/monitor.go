// Package monitor runs the livestream moderation control loop: one goroutine
// per live stream that polls the HLS playlist, feeds new segments to the
// moderation oracle, and emits a violation event when a stream is rejected.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pulsesocial/pulse/config"
	"github.com/pulsesocial/pulse/internal/adapter/pubsub"
	"github.com/pulsesocial/pulse/internal/domain/model"
	"github.com/pulsesocial/pulse/internal/metrics"
)

// ErrMonitorActive is returned when a stream already has a running monitor.
var ErrMonitorActive = errors.New("monitor already active")

type Manager struct {
	logger     *slog.Logger
	metrics    *metrics.Metrics
	cfg        config.MonitorConfig
	cdnBaseURL string
	httpClient *http.Client
	oracle     *OracleClient
	dispatcher pubsub.EventDispatcher

	mu     sync.Mutex
	active map[string]*entry

	// rootCtx bounds every monitor goroutine to the process lifecycle.
	rootCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type entry struct {
	userID       uuid.UUID
	seenSegments map[string]struct{}
	cancel       context.CancelFunc
}

func NewManager(logger *slog.Logger, m *metrics.Metrics, cfg *config.Config, oracle *OracleClient, dispatcher pubsub.EventDispatcher) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		logger:     logger,
		metrics:    m,
		cfg:        cfg.Monitor,
		cdnBaseURL: cfg.CDNBaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		oracle:     oracle,
		dispatcher: dispatcher,
		active:     make(map[string]*entry),
		rootCtx:    ctx,
		cancel:     cancel,
	}
}

// StartMonitoring spawns the periodic loop for a stream. Idempotent: a
// second call for the same stream returns ErrMonitorActive and spawns
// nothing.
func (m *Manager) StartMonitoring(streamID string, userID uuid.UUID) error {
	m.mu.Lock()
	if _, ok := m.active[streamID]; ok {
		m.mu.Unlock()
		return ErrMonitorActive
	}
	ctx, cancel := context.WithCancel(m.rootCtx)
	e := &entry{
		userID:       userID,
		seenSegments: make(map[string]struct{}),
		cancel:       cancel,
	}
	m.active[streamID] = e
	m.mu.Unlock()

	m.metrics.MonitorsActive.Inc()
	m.logger.Info("MONITOR_STARTED", "stream_id", streamID, "user_id", userID)

	m.wg.Add(1)
	go m.loop(ctx, streamID, e)
	return nil
}

// StopMonitoring cancels a stream's monitor. No-op when none is active.
func (m *Manager) StopMonitoring(streamID string) {
	m.mu.Lock()
	e, ok := m.active[streamID]
	m.mu.Unlock()
	if ok {
		e.cancel()
	}
}

// Active reports whether a monitor currently exists for the stream.
func (m *Manager) Active(streamID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.active[streamID]
	return ok
}

// Shutdown cancels every monitor and waits for the loops to exit.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.cancel()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// teardown removes the map entry. It runs inside the loop goroutine, before
// the loop returns, so no other path ever deletes an active entry.
func (m *Manager) teardown(streamID string, e *entry, reason string) {
	m.mu.Lock()
	delete(m.active, streamID)
	m.mu.Unlock()

	e.cancel()
	m.metrics.MonitorsActive.Dec()
	m.logger.Info("MONITOR_STOPPED", "stream_id", streamID, "reason", reason)
}

func (m *Manager) loop(ctx context.Context, streamID string, e *entry) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	// idle counts no-new-segment ticks, faults counts fetch/moderation
	// errors. One shared threshold, two causes for the operator.
	var idle, faults int

	for {
		select {
		case <-ctx.Done():
			m.teardown(streamID, e, "cancelled")
			return
		case <-ticker.C:
		}

		outcome, err := m.tick(ctx, streamID, e)
		switch {
		case outcome == tickViolation:
			m.teardown(streamID, e, "violation")
			return
		case err == nil && outcome == tickFresh:
			idle, faults = 0, 0
		case err == nil: // tickIdle
			idle++
			if idle+faults >= m.cfg.OfflineThreshold {
				m.teardown(streamID, e, "stream offline")
				return
			}
		default:
			faults++
			m.logger.Warn("MONITOR_TICK_FAILED", "err", err, "stream_id", streamID, "consecutive", idle+faults)
			if idle+faults >= m.cfg.OfflineThreshold {
				m.teardown(streamID, e, "too many failures")
				return
			}
		}
	}
}

type tickOutcome int

const (
	tickIdle tickOutcome = iota
	tickFresh
	tickViolation
)

// tick runs one monitoring round: playlist poll, new-segment download,
// moderation verdict.
func (m *Manager) tick(ctx context.Context, streamID string, e *entry) (tickOutcome, error) {
	segURL, err := m.latestSegment(ctx, streamID)
	if errors.Is(err, errPlaylistOffline) {
		return tickIdle, nil
	}
	if err != nil {
		return tickIdle, err
	}

	if _, seen := e.seenSegments[segURL]; seen {
		return tickIdle, nil
	}
	e.seenSegments[segURL] = struct{}{}

	segment, err := m.downloadSegment(ctx, segURL)
	if err != nil {
		return tickIdle, err
	}

	outcome, err := m.oracle.Moderate(ctx, e.userID.String(), streamID, segment)
	if err != nil {
		return tickIdle, err
	}

	if outcome.Rejected() {
		m.logger.Warn("MODERATION_REJECTED", "stream_id", streamID, "user_id", e.userID, "reason", outcome.Message)
		if err := m.publishViolation(ctx, streamID, e.userID, outcome.Message); err != nil {
			return tickIdle, err
		}
		return tickViolation, nil
	}
	return tickFresh, nil
}

func (m *Manager) downloadSegment(ctx context.Context, segURL string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.SegmentTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, segURL, nil)
	if err != nil {
		return nil, fmt.Errorf("monitor: build segment request: %w", err)
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("monitor: download segment: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("monitor: segment status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("monitor: read segment: %w", err)
	}
	return data, nil
}

func (m *Manager) publishViolation(ctx context.Context, streamID string, userID uuid.UUID, reason string) error {
	return m.dispatcher.Publish(ctx, model.RKViolationEvents, model.ViolationEvent{
		UserID:   userID,
		StreamID: streamID,
		Reason:   reason,
	})
}
