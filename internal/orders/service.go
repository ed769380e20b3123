package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-inventory-orders/internal/discount"
	"github.com/ariefcatur/go-inventory-orders/internal/outbox"
)

const (
	DefaultMaxAttempts  = 3
	DefaultRetryBackoff = 100 * time.Millisecond
)

// Service creates and reads orders.
type Service struct {
	store       Store
	discounts   *discount.Factory
	payments    PaymentEnqueuer
	cache       StatusCache
	logger      *zap.Logger
	tracer      trace.Tracer
	maxAttempts int
	backoff     time.Duration
	now         func() time.Time

	created   metric.Int64Counter
	conflicts metric.Int64Counter
}

type Option func(*Service)

func WithStatusCache(c StatusCache) Option { return func(s *Service) { s.cache = c } }

// WithRetry sets the attempt budget and the base backoff; attempt n waits n*backoff.
func WithRetry(maxAttempts int, backoff time.Duration) Option {
	return func(s *Service) {
		if maxAttempts > 0 {
			s.maxAttempts = maxAttempts
		}
		if backoff >= 0 {
			s.backoff = backoff
		}
	}
}

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func NewService(store Store, discounts *discount.Factory, payments PaymentEnqueuer, logger *zap.Logger, opts ...Option) *Service {
	meter := otel.Meter("orders")
	created, err := meter.Int64Counter("orders.created", metric.WithDescription("Orders committed"))
	if err != nil {
		logger.Warn("Failed to create orders.created counter", zap.Error(err))
	}
	conflicts, err := meter.Int64Counter("orders.concurrency_conflicts",
		metric.WithDescription("Order attempts rolled back on a stock version conflict"))
	if err != nil {
		logger.Warn("Failed to create orders.concurrency_conflicts counter", zap.Error(err))
	}

	s := &Service{
		store:       store,
		discounts:   discounts,
		payments:    payments,
		logger:      logger,
		tracer:      otel.Tracer("orders"),
		maxAttempts: DefaultMaxAttempts,
		backoff:     DefaultRetryBackoff,
		now:         time.Now,
		created:     created,
		conflicts:   conflicts,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateOrder reserves stock, records the order and its OrderCreated event in
// one transaction, then queues the payment. Stock version conflicts retry the
// whole attempt with a linear backoff.
func (s *Service) CreateOrder(ctx context.Context, ownerID string, req CreateOrderRequest) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "orders.create", trace.WithAttributes(
		attribute.String("order.owner_id", ownerID),
		attribute.Int("order.items", len(req.Items)),
	))
	defer span.End()

	if err := validateItems(req.Items); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		order, err := s.tryCreate(ctx, ownerID, req)
		if err == nil {
			span.SetAttributes(attribute.String("order.id", order.ID), attribute.Int("order.attempts", attempt))
			s.created.Add(ctx, 1)
			s.afterCommit(ctx, order)
			return order, nil
		}
		if !errors.Is(err, ErrConcurrencyConflict) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}

		s.conflicts.Add(ctx, 1)
		s.logger.Warn("Stock version conflict while creating order",
			zap.String("owner_id", ownerID), zap.Int("attempt", attempt), zap.Int("max_attempts", s.maxAttempts))
		if attempt == s.maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.backoff * time.Duration(attempt)):
		}
	}

	span.SetStatus(codes.Error, ErrConcurrencyExhausted.Error())
	return nil, ErrConcurrencyExhausted
}

func validateItems(items []ItemInput) error {
	if len(items) == 0 {
		return ErrEmptyOrder
	}
	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		if strings.TrimSpace(it.ProductID) == "" {
			return ErrInvalidProductID
		}
		if it.Quantity < 1 || it.Quantity > MaxItemQuantity {
			return fmt.Errorf("%w: product %s quantity %d", ErrInvalidQuantity, it.ProductID, it.Quantity)
		}
		if _, dup := seen[it.ProductID]; dup {
			return ErrDuplicateProduct
		}
		seen[it.ProductID] = struct{}{}
	}
	return nil
}

func (s *Service) tryCreate(ctx context.Context, ownerID string, req CreateOrderRequest) (*Order, error) {
	var created *Order

	err := s.store.WithinTx(ctx, func(tx Repositories) error {
		products := make(map[string]*Product, len(req.Items))
		for _, it := range req.Items {
			p, err := tx.Products().GetByID(ctx, it.ProductID)
			if err != nil {
				return err
			}
			if p.StockQuantity < it.Quantity {
				return &InsufficientStockError{
					ProductID:   p.ID,
					ProductName: p.Name,
					Available:   p.StockQuantity,
					Requested:   it.Quantity,
				}
			}
			products[it.ProductID] = p
		}

		for _, it := range req.Items {
			next := *products[it.ProductID]
			next.StockQuantity -= it.Quantity
			if err := tx.Products().UpdateWithVersion(ctx, &next, products[it.ProductID].Version); err != nil {
				return err
			}
		}

		now := s.now().UTC()
		order := &Order{
			ID:            uuid.NewString(),
			OwnerID:       ownerID,
			Status:        StatusPending,
			PaymentStatus: PaymentPending,
			CreatedAt:     now,
		}
		total := decimal.Zero
		for _, it := range req.Items {
			p := products[it.ProductID]
			line := p.Price.Mul(decimal.NewFromInt(int64(it.Quantity)))
			order.Items = append(order.Items, OrderItem{
				ID:          uuid.NewString(),
				OrderID:     order.ID,
				ProductID:   p.ID,
				ProductName: p.Name,
				Quantity:    it.Quantity,
				UnitPrice:   p.Price,
				TotalPrice:  line,
			})
			total = total.Add(line)
		}

		disc := decimal.Zero
		if strings.TrimSpace(req.DiscountCode) != "" {
			disc = s.applyDiscount(req.DiscountCode, total)
		}
		order.TotalAmount = total
		order.DiscountAmount = disc
		order.FinalAmount = total.Sub(disc)

		if err := tx.Orders().Add(ctx, order); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		payload, err := json.Marshal(OrderCreatedPayload{OrderID: order.ID, FinalAmount: order.FinalAmount})
		if err != nil {
			return fmt.Errorf("encode %s payload: %w", EventOrderCreated, err)
		}
		if err := tx.Outbox().Add(ctx, outbox.NewEvent(order.ID, EventOrderCreated, payload, now)); err != nil {
			return fmt.Errorf("insert outbox event: %w", err)
		}

		created = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// applyDiscount never fails the order: any problem with the code means no discount.
func (s *Service) applyDiscount(code string, total decimal.Decimal) decimal.Decimal {
	card, err := s.discounts.FromCode(code)
	if err != nil {
		s.logger.Warn("Ignoring invalid discount code", zap.String("discount_code", code), zap.Error(err))
		return decimal.Zero
	}
	if !card.CanApply(total) {
		s.logger.Warn("Discount code does not meet minimum amount",
			zap.String("discount_code", code), zap.String("total", total.String()))
		return decimal.Zero
	}

	d := card.Discount(total).Round(2)
	if d.IsNegative() {
		return decimal.Zero
	}
	return decimal.Min(d, total)
}

// afterCommit runs outside the transaction; its failures never fail the order.
func (s *Service) afterCommit(ctx context.Context, order *Order) {
	if s.cache != nil {
		if err := s.cache.SetStatus(ctx, order.StatusView()); err != nil {
			s.logger.Warn("Failed to cache order status", zap.String("order_id", order.ID), zap.Error(err))
		}
	}

	if s.payments == nil {
		return
	}
	task := PaymentTask{OrderID: order.ID, Amount: order.FinalAmount}
	if err := s.payments.Enqueue(ctx, task); err != nil {
		s.logger.Error("Failed to queue payment, the outbox event will trigger it later",
			zap.String("order_id", order.ID), zap.Error(err))
		return
	}
	s.logger.Info("Payment queued",
		zap.String("order_id", order.ID), zap.String("amount", order.FinalAmount.String()))
}

// GetOrder hides orders that belong to another owner.
func (s *Service) GetOrder(ctx context.Context, ownerID, orderID string) (*Order, error) {
	o, err := s.store.Orders().GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.OwnerID != ownerID {
		return nil, ErrOrderNotFound
	}
	return o, nil
}

func (s *Service) ListOrders(ctx context.Context, ownerID string) ([]Order, error) {
	return s.store.Orders().ListByOwner(ctx, ownerID)
}

// GetStatus reads through the status cache, falling back to the store on a
// miss or when the cached entry belongs to another owner.
func (s *Service) GetStatus(ctx context.Context, ownerID, orderID string) (*StatusView, error) {
	if s.cache != nil {
		if v, err := s.cache.GetStatus(ctx, orderID); err == nil && v != nil && v.OwnerID == ownerID {
			return v, nil
		}
	}

	o, err := s.GetOrder(ctx, ownerID, orderID)
	if err != nil {
		return nil, err
	}
	v := o.StatusView()
	if s.cache != nil {
		if err := s.cache.SetStatus(ctx, v); err != nil {
			s.logger.Debug("Failed to cache order status", zap.String("order_id", orderID), zap.Error(err))
		}
	}
	return &v, nil
}
