package outbox_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ariefcatur/go-inventory-orders/internal/memory"
	"github.com/ariefcatur/go-inventory-orders/internal/outbox"
)

type recordingPublisher struct {
	mu   sync.Mutex
	seen []string
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, e outbox.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = append(p.seen, e.ID)
	return p.err
}

func (p *recordingPublisher) Seen() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.seen...)
}

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func addEvent(t *testing.T, s *memory.Store, aggregate string, at time.Time) *outbox.Event {
	t.Helper()
	e := outbox.NewEvent(aggregate, "OrderCreated", []byte(`{"order_id":"`+aggregate+`"}`), at)
	require.NoError(t, s.Outbox().Add(context.Background(), e))
	return e
}

func eventByID(t *testing.T, s *memory.Store, id string) outbox.Event {
	t.Helper()
	for _, e := range s.Events() {
		if e.ID == id {
			return e
		}
	}
	t.Fatalf("event %s not found", id)
	return outbox.Event{}
}

func TestRunOnce_PublishesOldestFirst(t *testing.T) {
	store := memory.NewStore()
	second := addEvent(t, store, "o2", epoch.Add(time.Second))
	first := addEvent(t, store, "o1", epoch)
	pub := &recordingPublisher{}
	w := outbox.NewWorker(store.Outbox(), pub, zap.NewNop(), outbox.WithClock(func() time.Time { return epoch.Add(time.Hour) }))

	res, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, outbox.CycleResult{Published: 2}, res)
	assert.Equal(t, []string{first.ID, second.ID}, pub.Seen())

	got := eventByID(t, store, first.ID)
	assert.Equal(t, outbox.StatusCompleted, got.Status)
	require.NotNil(t, got.ProcessedAt)
	assert.Equal(t, epoch.Add(time.Hour), *got.ProcessedAt)
	assert.Equal(t, 0, got.RetryCount)

	res, err = w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, outbox.CycleResult{}, res)
	assert.Len(t, pub.Seen(), 2)
}

func TestRunOnce_FailsAfterMaxRetries(t *testing.T) {
	store := memory.NewStore()
	ev := addEvent(t, store, "o1", epoch)
	pub := &recordingPublisher{err: errors.New("broker down")}
	core, logs := observer.New(zap.WarnLevel)
	w := outbox.NewWorker(store.Outbox(), pub, zap.New(core))

	for attempt := 1; attempt < outbox.DefaultMaxRetries; attempt++ {
		res, err := w.RunOnce(context.Background())
		require.NoError(t, err)
		assert.Equal(t, outbox.CycleResult{Retrying: 1}, res)

		got := eventByID(t, store, ev.ID)
		assert.Equal(t, outbox.StatusPending, got.Status)
		assert.Equal(t, attempt, got.RetryCount)
		assert.Nil(t, got.ProcessedAt)
	}

	res, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, outbox.CycleResult{Failed: 1}, res)

	got := eventByID(t, store, ev.ID)
	assert.Equal(t, outbox.StatusFailed, got.Status)
	assert.Equal(t, outbox.DefaultMaxRetries, got.RetryCount)
	assert.Equal(t, 1, logs.FilterMessage("Outbox event exceeded max retries, marked as failed").Len())

	// terminal events are never picked up again
	pub.err = nil
	res, err = w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, outbox.CycleResult{}, res)
	assert.Len(t, pub.Seen(), outbox.DefaultMaxRetries)
	assert.Equal(t, outbox.StatusFailed, eventByID(t, store, ev.ID).Status)
}

func TestRunOnce_RecoversAfterTransientFailure(t *testing.T) {
	store := memory.NewStore()
	ev := addEvent(t, store, "o1", epoch)
	pub := &recordingPublisher{err: errors.New("timeout")}
	w := outbox.NewWorker(store.Outbox(), pub, zap.NewNop(), outbox.WithMaxRetries(3))

	_, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	pub.err = nil
	_, err = w.RunOnce(context.Background())
	require.NoError(t, err)

	got := eventByID(t, store, ev.ID)
	assert.Equal(t, outbox.StatusCompleted, got.Status)
	assert.Equal(t, 1, got.RetryCount)
}

func TestRunOnce_StopsOnCancelledContext(t *testing.T) {
	store := memory.NewStore()
	addEvent(t, store, "o1", epoch)
	pub := &recordingPublisher{}
	w := outbox.NewWorker(store.Outbox(), pub, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, outbox.CycleResult{}, res)
	assert.Empty(t, pub.Seen())
}

func TestRun_PollsUntilCancelled(t *testing.T) {
	store := memory.NewStore()
	pub := &recordingPublisher{}
	w := outbox.NewWorker(store.Outbox(), pub, zap.NewNop(), outbox.WithPollInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	addEvent(t, store, "o1", epoch)
	require.Eventually(t, func() bool { return len(pub.Seen()) == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("outbox worker ignored cancellation")
	}
}

func TestMultiPublisher(t *testing.T) {
	ok := &recordingPublisher{}
	bad := &recordingPublisher{err: errors.New("nope")}
	ev := outbox.NewEvent("o1", "OrderCreated", nil, epoch)

	err := outbox.MultiPublisher{ok, bad}.Publish(context.Background(), *ev)
	require.Error(t, err)
	assert.Len(t, ok.Seen(), 1)
	assert.Len(t, bad.Seen(), 1)

	require.NoError(t, outbox.MultiPublisher{ok, outbox.LogPublisher{Logger: zap.NewNop()}}.Publish(context.Background(), *ev))
}
