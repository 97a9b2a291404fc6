package amqp

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsesocial/pulse/internal/adapter/pubsub"
	"github.com/pulsesocial/pulse/internal/domain/model"
	"github.com/pulsesocial/pulse/internal/metrics"
	"github.com/pulsesocial/pulse/internal/service"
	"github.com/pulsesocial/pulse/internal/store/idempotency"
	"github.com/pulsesocial/pulse/internal/store/memory"
)

type nopPublisher struct{}

func (nopPublisher) PublishToUser(context.Context, uuid.UUID, model.PushFrame) error { return nil }

type fixedFollowers struct{ ids []uuid.UUID }

func (f fixedFollowers) Followers(context.Context, uuid.UUID) ([]uuid.UUID, error) {
	return f.ids, nil
}

type testHarness struct {
	consumer *Consumer
	repo     *memory.NotificationStore
	idem     *idempotency.MemoryStore
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	repo := memory.NewNotificationStore()
	idem := idempotency.NewMemoryStore()
	notifier := service.NewNotifier(repo, nopPublisher{}, slog.Default(), metrics.New(), 24*time.Hour)

	return &testHarness{
		consumer: &Consumer{
			notifier:     notifier,
			followers:    service.NewFollowerSource(fixedFollowers{}),
			idem:         idem,
			logger:       slog.Default(),
			metrics:      metrics.New(),
			dedupTTL:     time.Hour,
			frontendBase: "http://front",
		},
		repo: repo,
		idem: idem,
	}
}

func envelope(id, routingKey string, payload []byte) *message.Message {
	msg := message.NewMessage(id, payload)
	msg.Metadata.Set(pubsub.MetaRoutingKey, routingKey)
	return msg
}

func TestDedupKeyPrefersMessageID(t *testing.T) {
	withID := message.NewMessage("msg-1", []byte(`{}`))
	assert.Equal(t, "msg-1", dedupKey(withID))

	anon := message.NewMessage("", []byte(`{"a":1}`))
	again := message.NewMessage("", []byte(`{"a":1}`))
	other := message.NewMessage("", []byte(`{"a":2}`))

	assert.Equal(t, dedupKey(anon), dedupKey(again), "identical payloads share a key")
	assert.NotEqual(t, dedupKey(anon), dedupKey(other))
}

func TestDuplicateEnvelopeIsAckedWithoutEffect(t *testing.T) {
	h := newHarness(t)
	dispatch := h.consumer.Dispatch(h.consumer.HandlerTable())

	payload := []byte(`{"user_id":"` + uuid.NewString() + `","stream_id":"s1","reason":"R"}`)

	require.NoError(t, dispatch(envelope("dup-1", model.RKViolationEvents, payload)))
	require.NoError(t, dispatch(envelope("dup-1", model.RKViolationEvents, payload)))

	assert.Equal(t, 1, h.repo.Count(), "second delivery must ack and write nothing")
}

func TestValidationErrorIsAckedAndDropped(t *testing.T) {
	h := newHarness(t)
	dispatch := h.consumer.Dispatch(h.consumer.HandlerTable())

	// Nil user id can never succeed; retrying is pointless.
	err := dispatch(envelope("v-1", model.RKViolationEvents, []byte(`{"stream_id":"s1","reason":"R"}`)))
	require.NoError(t, err)
	assert.Equal(t, 0, h.repo.Count())
}

func TestUndecodablePayloadIsAcked(t *testing.T) {
	h := newHarness(t)
	dispatch := h.consumer.Dispatch(h.consumer.HandlerTable())

	err := dispatch(envelope("bad-1", model.RKPostLiked, []byte(`{not json`)))
	require.NoError(t, err)
	assert.Equal(t, 0, h.repo.Count())
}

func TestUnroutedEventIsAcked(t *testing.T) {
	h := newHarness(t)
	dispatch := h.consumer.Dispatch(h.consumer.HandlerTable())

	err := dispatch(envelope("x-1", "unknown.key", []byte(`{}`)))
	assert.NoError(t, err)
}

func TestTransientErrorReleasesDedupKey(t *testing.T) {
	h := newHarness(t)

	calls := 0
	handler := Bind(h.consumer, "test.key", func(context.Context, *struct{}) error {
		calls++
		if calls == 1 {
			return errors.New("db unavailable")
		}
		return nil
	})

	msg := message.NewMessage("t-1", []byte(`{}`))
	require.Error(t, handler(msg), "transient failure must nack")

	// The redelivery must not be suppressed as a duplicate.
	require.NoError(t, handler(message.NewMessage("t-1", []byte(`{}`))))
	assert.Equal(t, 2, calls)
}

func TestDedupOutageDegradesToProcessing(t *testing.T) {
	h := newHarness(t)
	h.consumer.idem = failingIdem{}

	dispatch := h.consumer.Dispatch(h.consumer.HandlerTable())
	payload := []byte(`{"user_id":"` + uuid.NewString() + `","stream_id":"s1","reason":"R"}`)

	require.NoError(t, dispatch(envelope("d-1", model.RKViolationEvents, payload)))
	assert.Equal(t, 1, h.repo.Count(), "dedup outage must not stop the pipeline")
}

func TestPanicInHandlerIsRecovered(t *testing.T) {
	h := newHarness(t)

	handler := Bind(h.consumer, "test.key", func(context.Context, *struct{}) error {
		panic("boom")
	})

	assert.NotPanics(t, func() {
		err := handler(message.NewMessage("p-1", []byte(`{}`)))
		assert.NoError(t, err)
	})
}

func TestAggregationAcrossDistinctDeliveries(t *testing.T) {
	h := newHarness(t)
	dispatch := h.consumer.Dispatch(h.consumer.HandlerTable())

	owner := uuid.New()
	like := func(msgID, liker string) {
		payload := []byte(`{"post_owner":"` + owner.String() + `","post_id":"p1","liker_id":"` +
			uuid.NewString() + `","liker_username":"` + liker + `"}`)
		require.NoError(t, dispatch(envelope(msgID, model.RKPostLiked, payload)))
	}

	like("l-1", "A")
	like("l-2", "B")
	like("l-3", "C")

	require.Equal(t, 1, h.repo.Count(), "likes within the window collapse into one row")

	n, err := h.repo.FindAggregated(context.Background(), owner, model.NotificationPostLiked, "p1", time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 3, n.ActorsCount)
	assert.Equal(t, "C and 2 others liked your post", n.Body)
}

type failingIdem struct{}

func (failingIdem) CheckAndMark(context.Context, string, string, time.Duration) (bool, error) {
	return false, errors.New("redis down")
}

func (failingIdem) Remove(context.Context, string, string) error {
	return errors.New("redis down")
}
