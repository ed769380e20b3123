package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-inventory-orders/internal/orders"
	"github.com/ariefcatur/go-inventory-orders/internal/outbox"
)

const (
	DefaultDelay       = 2 * time.Minute
	DefaultSuccessRate = 0.9

	revertTimeout = 5 * time.Second
)

// Worker charges orders one task at a time against a simulated gateway.
type Worker struct {
	queue       *Queue
	store       orders.Store
	cache       orders.StatusCache
	logger      *zap.Logger
	tracer      trace.Tracer
	delay       time.Duration
	successRate float64
	random      func() float64
	now         func() time.Time

	completed metric.Int64Counter
	failed    metric.Int64Counter
}

type Option func(*Worker)

// WithDelay sets the simulated gateway round trip.
func WithDelay(d time.Duration) Option {
	return func(w *Worker) {
		if d >= 0 {
			w.delay = d
		}
	}
}

func WithSuccessRate(r float64) Option {
	return func(w *Worker) {
		if r >= 0 && r <= 1 {
			w.successRate = r
		}
	}
}

// WithRandom replaces the source of the gateway outcome; values are in [0,1).
func WithRandom(fn func() float64) Option { return func(w *Worker) { w.random = fn } }

func WithClock(now func() time.Time) Option { return func(w *Worker) { w.now = now } }

func WithStatusCache(c orders.StatusCache) Option { return func(w *Worker) { w.cache = c } }

func NewWorker(queue *Queue, store orders.Store, logger *zap.Logger, opts ...Option) *Worker {
	meter := otel.Meter("payment")
	completed, err := meter.Int64Counter("payments.completed", metric.WithDescription("Payments accepted by the gateway"))
	if err != nil {
		logger.Warn("Failed to create payments.completed counter", zap.Error(err))
	}
	failed, err := meter.Int64Counter("payments.failed", metric.WithDescription("Payments declined by the gateway"))
	if err != nil {
		logger.Warn("Failed to create payments.failed counter", zap.Error(err))
	}

	w := &Worker{
		queue:       queue,
		store:       store,
		logger:      logger,
		tracer:      otel.Tracer("payment"),
		delay:       DefaultDelay,
		successRate: DefaultSuccessRate,
		random:      rand.Float64,
		now:         time.Now,
		completed:   completed,
		failed:      failed,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run processes tasks until ctx is cancelled or the queue is closed and empty.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("Payment worker started", zap.Duration("delay", w.delay), zap.Float64("success_rate", w.successRate))
	defer w.logger.Info("Payment worker stopped")

	for {
		task, err := w.queue.Dequeue(ctx)
		if err != nil {
			if !errors.Is(err, ErrQueueClosed) && ctx.Err() == nil {
				w.logger.Error("Payment queue failed", zap.Error(err))
			}
			return
		}
		w.safeProcess(ctx, task)
	}
}

// Requeue queues a task for every order still waiting for payment. It runs at
// startup to pick up payments that were abandoned or left in the queue by the
// previous process, since their OrderCreated events are already published.
func (w *Worker) Requeue(ctx context.Context) (int, error) {
	pending, err := w.store.Orders().ListPendingPayments(ctx)
	if err != nil {
		return 0, fmt.Errorf("list pending payments: %w", err)
	}
	for _, o := range pending {
		if err := w.queue.Enqueue(ctx, orders.PaymentTask{OrderID: o.ID, Amount: o.FinalAmount}); err != nil {
			return 0, fmt.Errorf("requeue payment for order %s: %w", o.ID, err)
		}
	}
	if len(pending) > 0 {
		w.logger.Info("Requeued pending payments", zap.Int("count", len(pending)))
	}
	return len(pending), nil
}

func (w *Worker) safeProcess(ctx context.Context, task orders.PaymentTask) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Recovered panic while processing payment",
				zap.String("order_id", task.OrderID), zap.Any("panic", r))
		}
	}()
	if err := w.Process(ctx, task); err != nil && ctx.Err() == nil {
		w.logger.Error("Error processing payment", zap.String("order_id", task.OrderID), zap.Error(err))
	}
}

// Process charges one order. Orders that are missing or no longer awaiting
// payment are skipped, so a task delivered twice is charged once. If ctx is
// cancelled during the gateway round trip the payment is abandoned and the
// order returns to payment Pending.
func (w *Worker) Process(ctx context.Context, task orders.PaymentTask) error {
	ctx, span := w.tracer.Start(ctx, "payment.process", trace.WithAttributes(attribute.String("order.id", task.OrderID)))
	defer span.End()

	log := w.logger.With(zap.String("order_id", task.OrderID))

	order, err := w.store.Orders().GetByID(ctx, task.OrderID)
	if errors.Is(err, orders.ErrOrderNotFound) {
		log.Warn("Order not found for payment, skipping")
		return nil
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("load order: %w", err)
	}
	if !orders.CanTransitionPayment(order.PaymentStatus, orders.PaymentProcessing) {
		log.Info("Payment already handled, skipping", zap.String("payment_status", string(order.PaymentStatus)))
		return nil
	}

	order.PaymentStatus = orders.PaymentProcessing
	if err := w.store.Orders().Update(ctx, order); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("mark payment processing: %w", err)
	}
	w.cacheStatus(ctx, order)
	log.Info("Processing payment", zap.String("amount", task.Amount.String()))

	if err := w.wait(ctx); err != nil {
		w.abandon(ctx, order)
		return err
	}

	if w.random() < w.successRate {
		err = w.complete(ctx, order)
	} else {
		err = w.decline(ctx, order)
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	w.cacheStatus(ctx, order)
	return nil
}

func (w *Worker) wait(ctx context.Context) error {
	if w.delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(w.delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (w *Worker) complete(ctx context.Context, order *orders.Order) error {
	now := w.now().UTC()
	order.PaymentStatus = orders.PaymentCompleted
	order.Status = orders.StatusProcessing

	payload, err := json.Marshal(orders.OrderCompletedPayload{
		OrderID:        order.ID,
		OwnerID:        order.OwnerID,
		TotalAmount:    order.TotalAmount,
		DiscountAmount: order.DiscountAmount,
		FinalAmount:    order.FinalAmount,
		ItemCount:      len(order.Items),
		CompletedAt:    now,
	})
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", orders.EventOrderCompleted, err)
	}

	err = w.store.WithinTx(ctx, func(tx orders.Repositories) error {
		if err := tx.Orders().Update(ctx, order); err != nil {
			return err
		}
		return tx.Outbox().Add(ctx, outbox.NewEvent(order.ID, orders.EventOrderCompleted, payload, now))
	})
	if err != nil {
		return fmt.Errorf("record completed payment: %w", err)
	}

	w.completed.Add(ctx, 1)
	w.logger.Info("Payment completed", zap.String("order_id", order.ID))
	return nil
}

func (w *Worker) decline(ctx context.Context, order *orders.Order) error {
	order.PaymentStatus = orders.PaymentFailed
	order.Status = orders.StatusFailed
	if err := w.store.Orders().Update(ctx, order); err != nil {
		return fmt.Errorf("record failed payment: %w", err)
	}

	w.failed.Add(ctx, 1)
	w.logger.Warn("Payment failed", zap.String("order_id", order.ID))
	return nil
}

// abandon runs after ctx is cancelled, so it writes on a detached context.
func (w *Worker) abandon(ctx context.Context, order *orders.Order) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), revertTimeout)
	defer cancel()

	order.PaymentStatus = orders.PaymentPending
	if err := w.store.Orders().Update(ctx, order); err != nil {
		w.logger.Error("Failed to release abandoned payment", zap.String("order_id", order.ID), zap.Error(err))
		return
	}
	w.cacheStatus(ctx, order)
	w.logger.Info("Payment abandoned on shutdown, order left pending", zap.String("order_id", order.ID))
}

func (w *Worker) cacheStatus(ctx context.Context, order *orders.Order) {
	if w.cache == nil {
		return
	}
	if err := w.cache.SetStatus(ctx, order.StatusView()); err != nil {
		w.logger.Warn("Failed to cache order status", zap.String("order_id", order.ID), zap.Error(err))
	}
}
