package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ariefcatur/go-inventory-orders/internal/orders"
	"github.com/ariefcatur/go-inventory-orders/internal/outbox"
)

const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// Store implements orders.Store on PostgreSQL.
type Store struct {
	db DB
}

func NewStore(db DB) *Store { return &Store{db: db} }

func (s *Store) Products() orders.ProductRepository { return productRepo{q: s.db} }
func (s *Store) Orders() orders.OrderRepository     { return orderRepo{q: s.db} }
func (s *Store) Outbox() outbox.Repository          { return outboxRepo{q: s.db} }

func (s *Store) WithinTx(ctx context.Context, fn func(tx orders.Repositories) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	if err := fn(txRepos{tx: tx}); err != nil {
		return asConflict(err)
	}
	if err := tx.Commit(ctx); err != nil {
		committed = true // a failed commit already ended the tx
		return asConflict(fmt.Errorf("commit: %w", err))
	}
	committed = true
	return nil
}

type txRepos struct{ tx pgx.Tx }

func (r txRepos) Products() orders.ProductRepository { return productRepo{q: r.tx} }
func (r txRepos) Orders() orders.OrderRepository     { return orderRepo{q: r.tx} }
func (r txRepos) Outbox() outbox.Repository          { return outboxRepo{q: r.tx} }

// asConflict reports serialization failures and deadlocks as
// orders.ErrConcurrencyConflict so the caller retries the whole attempt.
func asConflict(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == codeSerializationFailure || pgErr.Code == codeDeadlockDetected) {
		return fmt.Errorf("%w: %s", orders.ErrConcurrencyConflict, pgErr.Message)
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation
}
