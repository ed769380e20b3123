package orders

import (
	"context"

	"github.com/ariefcatur/go-inventory-orders/internal/outbox"
)

type ProductRepository interface {
	GetByID(ctx context.Context, id string) (*Product, error)
	List(ctx context.Context) ([]Product, error)
	// Add fails with ErrProductExists for a duplicate id.
	Add(ctx context.Context, p *Product) error
	// UpdateWithVersion writes p only if the stored version equals expected,
	// otherwise it fails with ErrConcurrencyConflict. On success p.Version
	// holds the new version.
	UpdateWithVersion(ctx context.Context, p *Product, expected int64) error
	// Delete fails with ErrProductNotFound for an unknown id.
	Delete(ctx context.Context, id string) error
}

type OrderRepository interface {
	GetByID(ctx context.Context, id string) (*Order, error)
	// ListByOwner returns the owner's orders, newest first.
	ListByOwner(ctx context.Context, ownerID string) ([]Order, error)
	// ListPendingPayments returns orders still waiting for a payment attempt,
	// oldest first.
	ListPendingPayments(ctx context.Context) ([]Order, error)
	Add(ctx context.Context, o *Order) error
	Update(ctx context.Context, o *Order) error
}

// Repositories groups the repositories bound to one connection or transaction.
type Repositories interface {
	Products() ProductRepository
	Orders() OrderRepository
	Outbox() outbox.Repository
}

// Store opens atomic scopes over all repositories.
type Store interface {
	Repositories
	// WithinTx commits when fn returns nil and rolls back otherwise. A
	// serialization failure at commit is reported as ErrConcurrencyConflict.
	WithinTx(ctx context.Context, fn func(tx Repositories) error) error
}

// PaymentEnqueuer accepts payment tasks for asynchronous processing.
type PaymentEnqueuer interface {
	Enqueue(ctx context.Context, t PaymentTask) error
}

// StatusCache is an optional read-through cache of order status views.
type StatusCache interface {
	GetStatus(ctx context.Context, orderID string) (*StatusView, error)
	SetStatus(ctx context.Context, v StatusView) error
}
