package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
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

type fakeOutboxRepo struct {
	pending []model.OutboxEntry
	marked  []uuid.UUID
	fetchEr error
}

func (r *fakeOutboxRepo) FetchPending(_ context.Context, limit int) ([]model.OutboxEntry, error) {
	if r.fetchEr != nil {
		return nil, r.fetchEr
	}
	if len(r.pending) > limit {
		return r.pending[:limit], nil
	}
	return r.pending, nil
}

func (r *fakeOutboxRepo) MarkPublished(_ context.Context, ids []uuid.UUID) error {
	r.marked = append(r.marked, ids...)
	return nil
}

type flakyDispatcher struct {
	failKeys map[string]bool
	sent     []string
}

func (d *flakyDispatcher) Publish(ctx context.Context, routingKey string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return d.PublishRaw(ctx, routingKey, body)
}

func (d *flakyDispatcher) PublishRaw(_ context.Context, routingKey string, _ []byte) error {
	if d.failKeys[routingKey] {
		return errors.New("broker unavailable")
	}
	d.sent = append(d.sent, routingKey)
	return nil
}

func (d *flakyDispatcher) Publisher() message.Publisher { return nil }

func entry(rk string) model.OutboxEntry {
	return model.OutboxEntry{
		ID:         uuid.New(),
		RoutingKey: rk,
		Payload:    []byte(`{}`),
		Status:     model.OutboxPending,
		CreatedAt:  time.Now(),
	}
}

func newTestWorker(repo *fakeOutboxRepo, d *flakyDispatcher) *Worker {
	return NewWorker(repo, d, slog.Default(), metrics.New(), config.OutboxConfig{
		PollInterval: 10 * time.Millisecond,
		BatchSize:    100,
	})
}

func TestDrainOncePublishesAndMarks(t *testing.T) {
	repo := &fakeOutboxRepo{pending: []model.OutboxEntry{entry("stream.live"), entry("stream.ended")}}
	d := &flakyDispatcher{}
	w := newTestWorker(repo, d)

	w.drainOnce(context.Background())

	assert.Equal(t, []string{"stream.live", "stream.ended"}, d.sent)
	assert.Len(t, repo.marked, 2)
}

func TestDrainOnceLeavesFailedEntriesPending(t *testing.T) {
	ok := entry("stream.live")
	bad := entry("stream.ended")
	repo := &fakeOutboxRepo{pending: []model.OutboxEntry{ok, bad}}
	d := &flakyDispatcher{failKeys: map[string]bool{"stream.ended": true}}
	w := newTestWorker(repo, d)

	w.drainOnce(context.Background())

	require.Len(t, repo.marked, 1, "only acknowledged entries flip to published")
	assert.Equal(t, ok.ID, repo.marked[0])
}

func TestDrainOnceToleratesFetchFailure(t *testing.T) {
	repo := &fakeOutboxRepo{fetchEr: errors.New("db down")}
	w := newTestWorker(repo, &flakyDispatcher{})

	assert.NotPanics(t, func() { w.drainOnce(context.Background()) })
}

func TestRunStopsOnCancel(t *testing.T) {
	repo := &fakeOutboxRepo{pending: []model.OutboxEntry{entry("stream.live")}}
	w := newTestWorker(repo, &flakyDispatcher{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on cancellation")
	}
}
