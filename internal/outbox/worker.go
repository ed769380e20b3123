package outbox

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	DefaultPollInterval = 5 * time.Second
	DefaultMaxRetries   = 5
)

// Worker polls the outbox and hands pending events to a Publisher.
type Worker struct {
	repo         Repository
	publisher    Publisher
	pollInterval time.Duration
	maxRetries   int
	now          func() time.Time
	logger       *zap.Logger
	tracer       trace.Tracer

	published metric.Int64Counter
	failed    metric.Int64Counter
}

type WorkerOption func(*Worker)

func WithPollInterval(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

func WithMaxRetries(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.maxRetries = n
		}
	}
}

func WithClock(now func() time.Time) WorkerOption {
	return func(w *Worker) { w.now = now }
}

func NewWorker(repo Repository, publisher Publisher, logger *zap.Logger, opts ...WorkerOption) *Worker {
	meter := otel.Meter("outbox")
	published, err := meter.Int64Counter("outbox.events.published",
		metric.WithDescription("Outbox events published successfully"))
	if err != nil {
		logger.Warn("Failed to create outbox.events.published counter", zap.Error(err))
	}
	failed, err := meter.Int64Counter("outbox.events.failed",
		metric.WithDescription("Outbox events that exhausted their retries"))
	if err != nil {
		logger.Warn("Failed to create outbox.events.failed counter", zap.Error(err))
	}

	w := &Worker{
		repo:         repo,
		publisher:    publisher,
		pollInterval: DefaultPollInterval,
		maxRetries:   DefaultMaxRetries,
		now:          time.Now,
		logger:       logger,
		tracer:       otel.Tracer("outbox"),
		published:    published,
		failed:       failed,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run polls until ctx is cancelled. An event being published when shutdown is
// signalled is finished; the remaining events of the cycle are left pending.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("Outbox publisher started", zap.Duration("poll_interval", w.pollInterval))
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Outbox publisher stopped")
			return
		case <-timer.C:
		}

		w.safeCycle(ctx)
		timer.Reset(w.pollInterval)
	}
}

func (w *Worker) safeCycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Recovered panic in outbox cycle", zap.Any("panic", r))
		}
	}()
	if _, err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
		w.logger.Error("Outbox cycle failed", zap.Error(err))
	}
}

// CycleResult summarises one polling cycle.
type CycleResult struct {
	Published int
	Retrying  int
	Failed    int
}

// RunOnce processes every pending event once, oldest first.
func (w *Worker) RunOnce(ctx context.Context) (CycleResult, error) {
	var res CycleResult

	events, err := w.repo.Pending(ctx)
	if err != nil {
		return res, fmt.Errorf("load pending outbox events: %w", err)
	}
	if len(events) == 0 {
		return res, nil
	}

	ctx, span := w.tracer.Start(ctx, "outbox.cycle", trace.WithAttributes(attribute.Int("outbox.pending", len(events))))
	defer span.End()

	w.logger.Info("Processing pending outbox events", zap.Int("count", len(events)))
	for i := range events {
		if ctx.Err() != nil {
			break
		}
		ev := events[i]
		if ev.Terminal() {
			continue
		}

		w.publishOne(ctx, &ev)
		switch ev.Status {
		case StatusCompleted:
			res.Published++
		case StatusFailed:
			res.Failed++
		default:
			res.Retrying++
		}

		if err := w.repo.Update(context.WithoutCancel(ctx), &ev); err != nil {
			w.logger.Error("Failed to persist outbox event state",
				zap.String("event_id", ev.ID), zap.Error(err))
		}
	}
	return res, nil
}

func (w *Worker) publishOne(ctx context.Context, ev *Event) {
	err := w.publisher.Publish(ctx, *ev)
	if err == nil {
		processed := w.now().UTC()
		ev.Status = StatusCompleted
		ev.ProcessedAt = &processed
		w.published.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", ev.EventType)))
		w.logger.Info("Outbox event published",
			zap.String("event_id", ev.ID), zap.String("event_type", ev.EventType))
		return
	}

	ev.RetryCount++
	w.logger.Warn("Failed to publish outbox event",
		zap.String("event_id", ev.ID),
		zap.String("event_type", ev.EventType),
		zap.Int("retry_count", ev.RetryCount),
		zap.Error(err))

	if ev.RetryCount >= w.maxRetries {
		ev.Status = StatusFailed
		w.failed.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", ev.EventType)))
		w.logger.Error("Outbox event exceeded max retries, marked as failed",
			zap.String("event_id", ev.ID), zap.Int("max_retries", w.maxRetries))
	}
}
