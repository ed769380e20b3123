package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/ariefcatur/go-inventory-orders/internal/orders"
	"github.com/ariefcatur/go-inventory-orders/internal/outbox"
)

type productRepo struct {
	s  *Store
	tx *state
}

func (r productRepo) GetByID(_ context.Context, id string) (*orders.Product, error) {
	var out orders.Product
	err := with(r.s, r.tx, func(st *state) error {
		p, ok := st.products[id]
		if !ok {
			return fmt.Errorf("%w: %s", orders.ErrProductNotFound, id)
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r productRepo) List(_ context.Context) ([]orders.Product, error) {
	var out []orders.Product
	_ = with(r.s, r.tx, func(st *state) error {
		out = make([]orders.Product, 0, len(st.products))
		for _, p := range st.products {
			out = append(out, p)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r productRepo) Add(_ context.Context, p *orders.Product) error {
	return with(r.s, r.tx, func(st *state) error {
		if _, ok := st.products[p.ID]; ok {
			return fmt.Errorf("%w: %s", orders.ErrProductExists, p.ID)
		}
		if p.Version == 0 {
			p.Version = 1
		}
		st.products[p.ID] = *p
		return nil
	})
}

func (r productRepo) UpdateWithVersion(_ context.Context, p *orders.Product, expected int64) error {
	return with(r.s, r.tx, func(st *state) error {
		cur, ok := st.products[p.ID]
		if !ok {
			return fmt.Errorf("%w: %s", orders.ErrProductNotFound, p.ID)
		}
		if cur.Version != expected {
			return fmt.Errorf("%w: product %s at version %d, expected %d",
				orders.ErrConcurrencyConflict, p.ID, cur.Version, expected)
		}
		next := *p
		next.Version = expected + 1
		next.CreatedAt = cur.CreatedAt
		st.products[p.ID] = next
		p.Version = next.Version
		return nil
	})
}

func (r productRepo) Delete(_ context.Context, id string) error {
	return with(r.s, r.tx, func(st *state) error {
		if _, ok := st.products[id]; !ok {
			return fmt.Errorf("%w: %s", orders.ErrProductNotFound, id)
		}
		delete(st.products, id)
		return nil
	})
}

type orderRepo struct {
	s  *Store
	tx *state
}

func (r orderRepo) GetByID(_ context.Context, id string) (*orders.Order, error) {
	var out orders.Order
	err := with(r.s, r.tx, func(st *state) error {
		o, ok := st.orders[id]
		if !ok {
			return orders.ErrOrderNotFound
		}
		out = o.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r orderRepo) ListByOwner(_ context.Context, ownerID string) ([]orders.Order, error) {
	var out []orders.Order
	_ = with(r.s, r.tx, func(st *state) error {
		for _, o := range st.orders {
			if o.OwnerID == ownerID {
				out = append(out, o.Clone())
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (r orderRepo) ListPendingPayments(_ context.Context) ([]orders.Order, error) {
	var out []orders.Order
	_ = with(r.s, r.tx, func(st *state) error {
		for _, o := range st.orders {
			if o.PaymentStatus == orders.PaymentPending {
				out = append(out, o.Clone())
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r orderRepo) Add(_ context.Context, o *orders.Order) error {
	return with(r.s, r.tx, func(st *state) error {
		if _, ok := st.orders[o.ID]; ok {
			return fmt.Errorf("%w: %s", orders.ErrOrderExists, o.ID)
		}
		st.orders[o.ID] = o.Clone()
		return nil
	})
}

func (r orderRepo) Update(_ context.Context, o *orders.Order) error {
	return with(r.s, r.tx, func(st *state) error {
		if _, ok := st.orders[o.ID]; !ok {
			return orders.ErrOrderNotFound
		}
		st.orders[o.ID] = o.Clone()
		return nil
	})
}

type outboxRepo struct {
	s  *Store
	tx *state
}

func (r outboxRepo) Pending(_ context.Context) ([]outbox.Event, error) {
	var out []outbox.Event
	_ = with(r.s, r.tx, func(st *state) error {
		for _, e := range st.events {
			if e.ProcessedAt == nil && e.Status == outbox.StatusPending {
				out = append(out, cloneEvent(e))
			}
		}
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r outboxRepo) Add(_ context.Context, e *outbox.Event) error {
	return with(r.s, r.tx, func(st *state) error {
		for _, cur := range st.events {
			if cur.ID == e.ID {
				return fmt.Errorf("%w: %s", outbox.ErrEventExists, e.ID)
			}
		}
		st.events = append(st.events, cloneEvent(*e))
		return nil
	})
}

func (r outboxRepo) Update(_ context.Context, e *outbox.Event) error {
	return with(r.s, r.tx, func(st *state) error {
		for i := range st.events {
			if st.events[i].ID == e.ID {
				st.events[i] = cloneEvent(*e)
				return nil
			}
		}
		return fmt.Errorf("%w: %s", outbox.ErrEventNotFound, e.ID)
	})
}

// Events returns every outbox event in insertion order, whatever its status.
func (s *Store) Events() []outbox.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]outbox.Event, len(s.st.events))
	for i, e := range s.st.events {
		out[i] = cloneEvent(e)
	}
	return out
}

func cloneEvent(e outbox.Event) outbox.Event {
	e.Payload = append([]byte(nil), e.Payload...)
	if e.ProcessedAt != nil {
		t := *e.ProcessedAt
		e.ProcessedAt = &t
	}
	return e
}
