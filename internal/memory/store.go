// Package memory is an in-process implementation of the order store, used by
// tests and by STORE=memory deployments.
package memory

import (
	"context"
	"sync"

	"github.com/ariefcatur/go-inventory-orders/internal/orders"
	"github.com/ariefcatur/go-inventory-orders/internal/outbox"
)

type state struct {
	products map[string]orders.Product
	orders   map[string]orders.Order
	events   []outbox.Event // insertion order
}

func newState() *state {
	return &state{
		products: make(map[string]orders.Product),
		orders:   make(map[string]orders.Order),
	}
}

func (s *state) clone() *state {
	c := &state{
		products: make(map[string]orders.Product, len(s.products)),
		orders:   make(map[string]orders.Order, len(s.orders)),
		events:   make([]outbox.Event, len(s.events)),
	}
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = v.Clone()
	}
	for i, e := range s.events {
		c.events[i] = cloneEvent(e)
	}
	return c
}

// Store keeps all state behind one mutex. A transaction holds that mutex for
// its whole duration and works on a copy that replaces the live state only on
// commit, so transactions are serializable and a failed one leaves no trace.
// Inside WithinTx only the Repositories passed to fn may be used.
type Store struct {
	mu sync.Mutex
	st *state
}

func NewStore() *Store {
	return &Store{st: newState()}
}

func (s *Store) Products() orders.ProductRepository { return productRepo{s: s} }
func (s *Store) Orders() orders.OrderRepository     { return orderRepo{s: s} }
func (s *Store) Outbox() outbox.Repository          { return outboxRepo{s: s} }

func (s *Store) WithinTx(ctx context.Context, fn func(tx orders.Repositories) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(txRepos{s: s, tx: work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.st = work
	return nil
}

type txRepos struct {
	s  *Store
	tx *state
}

func (r txRepos) Products() orders.ProductRepository { return productRepo{s: r.s, tx: r.tx} }
func (r txRepos) Orders() orders.OrderRepository     { return orderRepo{s: r.s, tx: r.tx} }
func (r txRepos) Outbox() outbox.Repository          { return outboxRepo{s: r.s, tx: r.tx} }

// with runs fn against the transaction state if bound to one, otherwise
// against the live state under the store lock.
func with(s *Store, tx *state, fn func(st *state) error) error {
	if tx != nil {
		return fn(tx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.st)
}
