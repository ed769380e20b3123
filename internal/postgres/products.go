package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ariefcatur/go-inventory-orders/internal/orders"
)

const productColumns = `id, name, description, price, stock_quantity, version, created_at`

type productRepo struct{ q querier }

func scanProduct(row pgx.Row) (*orders.Product, error) {
	var p orders.Product
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.StockQuantity, &p.Version, &p.CreatedAt)
	return &p, err
}

func (r productRepo) GetByID(ctx context.Context, id string) (*orders.Product, error) {
	p, err := scanProduct(r.q.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", orders.ErrProductNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (r productRepo) List(ctx context.Context) ([]orders.Product, error) {
	rows, err := r.q.Query(ctx, `SELECT `+productColumns+` FROM products ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []orders.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (r productRepo) Add(ctx context.Context, p *orders.Product) error {
	if p.Version == 0 {
		p.Version = 1
	}
	_, err := r.q.Exec(ctx, `
		INSERT INTO products(id, name, description, price, stock_quantity, version, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		p.ID, p.Name, p.Description, p.Price, p.StockQuantity, p.Version, p.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", orders.ErrProductExists, p.ID)
	}
	return err
}

// UpdateWithVersion is a compare-and-swap on the version column.
func (r productRepo) UpdateWithVersion(ctx context.Context, p *orders.Product, expected int64) error {
	ct, err := r.q.Exec(ctx, `
		UPDATE products
		SET name=$2, description=$3, price=$4, stock_quantity=$5, version=version+1
		WHERE id=$1 AND version=$6`,
		p.ID, p.Name, p.Description, p.Price, p.StockQuantity, expected)
	if err != nil {
		return asConflict(err)
	}
	if ct.RowsAffected() == 1 {
		p.Version = expected + 1
		return nil
	}

	var exists bool
	if err := r.q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM products WHERE id=$1)`, p.ID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", orders.ErrProductNotFound, p.ID)
	}
	return fmt.Errorf("%w: product %s no longer at version %d", orders.ErrConcurrencyConflict, p.ID, expected)
}

func (r productRepo) Delete(ctx context.Context, id string) error {
	ct, err := r.q.Exec(ctx, `DELETE FROM products WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", orders.ErrProductNotFound, id)
	}
	return nil
}
