package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ariefcatur/go-inventory-orders/internal/orders"
)

const orderColumns = `id, owner_id, total_amount, discount_amount, final_amount, status, payment_status, created_at`

type orderRepo struct{ q querier }

func scanOrder(row pgx.Row) (*orders.Order, error) {
	var (
		o             orders.Order
		status, payst string
	)
	err := row.Scan(&o.ID, &o.OwnerID, &o.TotalAmount, &o.DiscountAmount, &o.FinalAmount, &status, &payst, &o.CreatedAt)
	o.Status = orders.Status(status)
	o.PaymentStatus = orders.PaymentStatus(payst)
	return &o, err
}

func (r orderRepo) GetByID(ctx context.Context, id string) (*orders.Order, error) {
	o, err := scanOrder(r.q.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, orders.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}

	items, err := r.items(ctx, []string{o.ID})
	if err != nil {
		return nil, err
	}
	o.Items = items[o.ID]
	return o, nil
}

func (r orderRepo) ListByOwner(ctx context.Context, ownerID string) ([]orders.Order, error) {
	return r.list(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE owner_id=$1 ORDER BY created_at DESC, id DESC`, ownerID)
}

func (r orderRepo) ListPendingPayments(ctx context.Context) ([]orders.Order, error) {
	return r.list(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE payment_status=$1 ORDER BY created_at, id`, string(orders.PaymentPending))
}

func (r orderRepo) list(ctx context.Context, sql string, args ...any) ([]orders.Order, error) {
	rows, err := r.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var (
		out []orders.Order
		ids []string
	)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
		ids = append(ids, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return out, nil
	}

	items, err := r.items(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Items = items[out[i].ID]
	}
	return out, nil
}

func (r orderRepo) items(ctx context.Context, orderIDs []string) (map[string][]orders.OrderItem, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, order_id, product_id, product_name, quantity, unit_price, total_price
		FROM order_items WHERE order_id = ANY($1) ORDER BY order_id, line_no`, orderIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]orders.OrderItem, len(orderIDs))
	for rows.Next() {
		var it orders.OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.ProductName, &it.Quantity, &it.UnitPrice, &it.TotalPrice); err != nil {
			return nil, err
		}
		out[it.OrderID] = append(out[it.OrderID], it)
	}
	return out, rows.Err()
}

func (r orderRepo) Add(ctx context.Context, o *orders.Order) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO orders(id, owner_id, total_amount, discount_amount, final_amount, status, payment_status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		o.ID, o.OwnerID, o.TotalAmount, o.DiscountAmount, o.FinalAmount, string(o.Status), string(o.PaymentStatus), o.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", orders.ErrOrderExists, o.ID)
	}
	if err != nil {
		return err
	}

	for i, it := range o.Items {
		if _, err := r.q.Exec(ctx, `
			INSERT INTO order_items(id, order_id, line_no, product_id, product_name, quantity, unit_price, total_price)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			it.ID, o.ID, i, it.ProductID, it.ProductName, it.Quantity, it.UnitPrice, it.TotalPrice); err != nil {
			return fmt.Errorf("insert order item %s: %w", it.ProductID, err)
		}
	}
	return nil
}

// Update persists the status fields, the only part of an order that changes
// after creation.
func (r orderRepo) Update(ctx context.Context, o *orders.Order) error {
	ct, err := r.q.Exec(ctx, `UPDATE orders SET status=$2, payment_status=$3 WHERE id=$1`,
		o.ID, string(o.Status), string(o.PaymentStatus))
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return orders.ErrOrderNotFound
	}
	return nil
}
