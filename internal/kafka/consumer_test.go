package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-inventory-orders/internal/orders"
	"github.com/ariefcatur/go-inventory-orders/internal/outbox"
)

type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.msgs) > 0 {
		m := r.msgs[0]
		r.msgs = r.msgs[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Committed() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func (r *fakeReader) Close() error { return nil }

func TestConsumer_RetriesFailedMessageBeforeCommitting(t *testing.T) {
	pub := &Publisher{w: &fakeWriter{}, producer: "order-api", logger: zap.NewNop()}
	good, err := pub.message(*outbox.NewEvent("o1", orders.EventOrderCreated, []byte(`{"order_id":"o1"}`), time.Now()))
	require.NoError(t, err)
	good.Offset = 1
	failing, err := pub.message(*outbox.NewEvent("o2", orders.EventOrderCreated, []byte(`{"order_id":"o2"}`), time.Now()))
	require.NoError(t, err)
	failing.Offset = 2
	poison := kafka.Message{Offset: 3, Value: []byte("garbage")}

	r := &fakeReader{msgs: []kafka.Message{good, failing, poison}}
	c := &Consumer{r: r, workers: 1, backoff: time.Millisecond, logger: zap.NewNop()}

	var (
		mu       sync.Mutex
		seen     []outbox.Event
		failures int
	)
	h := func(_ context.Context, e outbox.Event) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, e)
		if e.AggregateID == "o2" && failures < 2 {
			failures++
			return errors.New("queue closed")
		}
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx, h) }()

	require.Eventually(t, func() bool { return len(r.Committed()) == 3 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop")
	}

	// the failing message is retried in place and committed before the next one
	assert.Equal(t, []int64{1, 2, 3}, r.Committed())
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 4)
	assert.Equal(t, "o2", seen[3].AggregateID)
	assert.Equal(t, orders.EventOrderCreated, seen[0].EventType)
	assert.Equal(t, "o1", seen[0].AggregateID)
	assert.JSONEq(t, `{"order_id":"o1"}`, string(seen[0].Payload))
}

func TestConsumer_StopsRetryingOnCancel(t *testing.T) {
	pub := &Publisher{w: &fakeWriter{}, producer: "order-api", logger: zap.NewNop()}
	m, err := pub.message(*outbox.NewEvent("o1", orders.EventOrderCreated, []byte(`{"order_id":"o1"}`), time.Now()))
	require.NoError(t, err)
	m.Offset = 7

	r := &fakeReader{msgs: []kafka.Message{m}}
	c := &Consumer{r: r, workers: 1, backoff: time.Millisecond, logger: zap.NewNop()}

	ctx, cancel := context.WithCancel(context.Background())
	calls := make(chan struct{}, 100)
	h := func(context.Context, outbox.Event) error {
		select {
		case calls <- struct{}{}:
		default:
		}
		return errors.New("downstream unavailable")
	}

	done := make(chan error, 1)
	go func() { done <- c.Start(ctx, h) }()
	<-calls
	<-calls
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop")
	}
	assert.Empty(t, r.Committed())
}
