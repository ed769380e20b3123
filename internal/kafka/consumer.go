package kafka

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-inventory-orders/internal/outbox"
)

// Handler must return nil only when the event was handled and the offset may
// be committed.
type Handler func(ctx context.Context, e outbox.Event) error

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads envelopes written by Publisher and hands them back as
// outbox events.
type Consumer struct {
	r       messageReader
	workers int
	backoff time.Duration
	logger  *zap.Logger
}

func NewConsumer(brokers []string, group, topic string, workers int, logger *zap.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{r: r, workers: workers, backoff: 200 * time.Millisecond, logger: logger}
}

// Start blocks until ctx is cancelled or the reader fails.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	jobs := make(chan kafka.Message, 1024)
	errs := make(chan error, c.workers)
	done := make(chan struct{})

	go func() {
		defer close(done)
		c.runWorkers(ctx, jobs, errs, h)
	}()
	defer func() { <-done }()

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			close(jobs)
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		select {
		case jobs <- m:
		case <-ctx.Done():
			close(jobs)
			return nil
		}

		// drain without blocking so a slow handler cannot deadlock the loop
		select {
		case e := <-errs:
			c.logger.Warn("Kafka message left uncommitted", zap.Error(e))
		default:
		}
	}
}

func (c *Consumer) runWorkers(ctx context.Context, jobs <-chan kafka.Message, errs chan<- error, h Handler) {
	done := make(chan struct{}, c.workers)
	for i := 0; i < c.workers; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for m := range jobs {
				if err := c.handle(ctx, m, h); err != nil {
					select {
					case errs <- err:
					default:
					}
				}
			}
		}()
	}
	for i := 0; i < c.workers; i++ {
		<-done
	}
}

// handle retries a failing handler on the same message until it succeeds or
// ctx ends, so a later commit never skips past an unhandled offset.
func (c *Consumer) handle(ctx context.Context, m kafka.Message, h Handler) error {
	e, err := eventFromMessage(m)
	if err != nil {
		// A poison message is skipped, not retried forever.
		c.logger.Error("Dropping undecodable kafka message",
			zap.String("topic", m.Topic), zap.Int64("offset", m.Offset), zap.Error(err))
		return c.r.CommitMessages(ctx, m)
	}
	for attempt := 1; ; attempt++ {
		err := h(ctx, e)
		if err == nil {
			break
		}
		c.logger.Warn("Kafka handler failed, retrying message",
			zap.String("topic", m.Topic), zap.Int64("offset", m.Offset), zap.Int("attempt", attempt), zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.backoff):
		}
	}
	return c.r.CommitMessages(ctx, m)
}

func eventFromMessage(m kafka.Message) (outbox.Event, error) {
	env, err := DecodeEnvelope(m.Value)
	if err != nil {
		return outbox.Event{}, err
	}
	aggregate := env.CorrelationID
	if aggregate == "" {
		aggregate = string(m.Key)
	}
	return outbox.Event{
		ID:          env.EventID,
		AggregateID: aggregate,
		EventType:   env.EventType,
		Payload:     env.Payload,
		CreatedAt:   env.OccurredAt,
		Status:      outbox.StatusCompleted,
	}, nil
}
