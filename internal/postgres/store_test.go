package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-inventory-orders/internal/orders"
	"github.com/ariefcatur/go-inventory-orders/internal/outbox"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		mock.Close()
	})
	return mock
}

var created = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func TestProductRepo_GetByID(t *testing.T) {
	mock := newMock(t)
	store := NewStore(mock)

	mock.ExpectQuery(`SELECT .+ FROM products WHERE id=\$1`).
		WithArgs("p1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "description", "price", "stock_quantity", "version", "created_at"}).
			AddRow("p1", "Lamp", "desk lamp", "19.99", 5, int64(3), created))

	p, err := store.Products().GetByID(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, "Lamp", p.Name)
	assert.True(t, p.Price.Equal(decimal.RequireFromString("19.99")))
	assert.Equal(t, 5, p.StockQuantity)
	assert.Equal(t, int64(3), p.Version)
}

func TestProductRepo_GetByIDNotFound(t *testing.T) {
	mock := newMock(t)
	store := NewStore(mock)

	mock.ExpectQuery(`FROM products WHERE id=\$1`).WithArgs("ghost").WillReturnError(pgx.ErrNoRows)

	_, err := store.Products().GetByID(context.Background(), "ghost")
	require.ErrorIs(t, err, orders.ErrProductNotFound)
}

func TestProductRepo_UpdateWithVersion(t *testing.T) {
	p := &orders.Product{ID: "p1", Name: "Lamp", Price: decimal.RequireFromString("19.99"), StockQuantity: 4, Version: 3}

	t.Run("matching version", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectExec(`UPDATE products`).
			WithArgs("p1", "Lamp", "", pgxmock.AnyArg(), 4, int64(3)).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		next := *p
		require.NoError(t, NewStore(mock).Products().UpdateWithVersion(context.Background(), &next, 3))
		assert.Equal(t, int64(4), next.Version)
	})

	t.Run("stale version", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectExec(`UPDATE products`).
			WithArgs("p1", "Lamp", "", pgxmock.AnyArg(), 4, int64(2)).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mock.ExpectQuery(`SELECT EXISTS`).WithArgs("p1").
			WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

		next := *p
		err := NewStore(mock).Products().UpdateWithVersion(context.Background(), &next, 2)
		require.ErrorIs(t, err, orders.ErrConcurrencyConflict)
		assert.Equal(t, int64(3), next.Version)
	})

	t.Run("missing product", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectExec(`UPDATE products`).
			WithArgs("p1", "Lamp", "", pgxmock.AnyArg(), 4, int64(3)).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mock.ExpectQuery(`SELECT EXISTS`).WithArgs("p1").
			WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))

		next := *p
		err := NewStore(mock).Products().UpdateWithVersion(context.Background(), &next, 3)
		require.ErrorIs(t, err, orders.ErrProductNotFound)
	})
}

func TestProductRepo_AddDuplicateAndDeleteMissing(t *testing.T) {
	mock := newMock(t)
	store := NewStore(mock)

	mock.ExpectExec(`INSERT INTO products`).
		WithArgs("p1", "Lamp", "", pgxmock.AnyArg(), 1, int64(1), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: codeUniqueViolation})
	mock.ExpectExec(`DELETE FROM products`).WithArgs("p2").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	err := store.Products().Add(context.Background(), &orders.Product{ID: "p1", Name: "Lamp", Price: decimal.NewFromInt(1), StockQuantity: 1})
	require.ErrorIs(t, err, orders.ErrProductExists)

	err = store.Products().Delete(context.Background(), "p2")
	require.ErrorIs(t, err, orders.ErrProductNotFound)
}

func TestWithinTx_Commit(t *testing.T) {
	mock := newMock(t)
	store := NewStore(mock)
	o := &orders.Order{
		ID:            "o1",
		OwnerID:       "u1",
		Status:        orders.StatusPending,
		PaymentStatus: orders.PaymentPending,
		CreatedAt:     created,
		Items: []orders.OrderItem{
			{ID: "i1", ProductID: "p1", ProductName: "Lamp", Quantity: 2},
		},
	}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO orders`).
		WithArgs("o1", "u1", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), "PENDING", "PENDING", created).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO order_items`).
		WithArgs("i1", "o1", 0, "p1", "Lamp", 2, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO outbox_events`).
		WithArgs(pgxmock.AnyArg(), "o1", orders.EventOrderCreated, []byte(`{"order_id":"o1"}`), created, pgxmock.AnyArg(), 0, "PENDING").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := store.WithinTx(context.Background(), func(tx orders.Repositories) error {
		if err := tx.Orders().Add(context.Background(), o); err != nil {
			return err
		}
		return tx.Outbox().Add(context.Background(), outbox.NewEvent("o1", orders.EventOrderCreated, []byte(`{"order_id":"o1"}`), created))
	})
	require.NoError(t, err)
}

func TestWithinTx_RollbackOnError(t *testing.T) {
	mock := newMock(t)
	store := NewStore(mock)
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := store.WithinTx(context.Background(), func(orders.Repositories) error { return boom })
	require.ErrorIs(t, err, boom)
}

func TestWithinTx_CommitConflict(t *testing.T) {
	for _, code := range []string{codeSerializationFailure, codeDeadlockDetected} {
		t.Run(code, func(t *testing.T) {
			mock := newMock(t)
			mock.ExpectBegin()
			mock.ExpectCommit().WillReturnError(&pgconn.PgError{Code: code, Message: "could not serialize access"})

			err := NewStore(mock).WithinTx(context.Background(), func(orders.Repositories) error { return nil })
			require.ErrorIs(t, err, orders.ErrConcurrencyConflict)
		})
	}
}

func TestOrderRepo_GetByIDWithItems(t *testing.T) {
	mock := newMock(t)
	store := NewStore(mock)

	mock.ExpectQuery(`FROM orders WHERE id=\$1`).WithArgs("o1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "owner_id", "total_amount", "discount_amount", "final_amount", "status", "payment_status", "created_at"}).
			AddRow("o1", "u1", "100.00", "10.00", "90.00", "PROCESSING", "COMPLETED", created))
	mock.ExpectQuery(`FROM order_items`).WithArgs([]string{"o1"}).
		WillReturnRows(pgxmock.NewRows([]string{"id", "order_id", "product_id", "product_name", "quantity", "unit_price", "total_price"}).
			AddRow("i1", "o1", "p1", "Lamp", 2, "50.00", "100.00"))

	o, err := store.Orders().GetByID(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusProcessing, o.Status)
	assert.Equal(t, orders.PaymentCompleted, o.PaymentStatus)
	assert.True(t, o.FinalAmount.Equal(decimal.RequireFromString("90")))
	require.Len(t, o.Items, 1)
	assert.Equal(t, "Lamp", o.Items[0].ProductName)
	assert.True(t, o.Items[0].UnitPrice.Equal(decimal.RequireFromString("50")))
}

func TestOrderRepo_ListPendingPayments(t *testing.T) {
	mock := newMock(t)

	mock.ExpectQuery(`FROM orders\s+WHERE payment_status=\$1 ORDER BY created_at, id`).WithArgs("PENDING").
		WillReturnRows(pgxmock.NewRows([]string{"id", "owner_id", "total_amount", "discount_amount", "final_amount", "status", "payment_status", "created_at"}).
			AddRow("o1", "u1", "100.00", "0.00", "100.00", "PENDING", "PENDING", created).
			AddRow("o2", "u2", "40.00", "0.00", "40.00", "PENDING", "PENDING", created.Add(time.Minute)))
	mock.ExpectQuery(`FROM order_items`).WithArgs([]string{"o1", "o2"}).
		WillReturnRows(pgxmock.NewRows([]string{"id", "order_id", "product_id", "product_name", "quantity", "unit_price", "total_price"}).
			AddRow("i1", "o1", "p1", "Lamp", 2, "50.00", "100.00").
			AddRow("i2", "o2", "p2", "Mug", 4, "10.00", "40.00"))

	list, err := NewStore(mock).Orders().ListPendingPayments(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "o1", list[0].ID)
	assert.True(t, list[1].FinalAmount.Equal(decimal.RequireFromString("40")))
	require.Len(t, list[1].Items, 1)
	assert.Equal(t, "Mug", list[1].Items[0].ProductName)
}

func TestOrderRepo_UpdateMissing(t *testing.T) {
	mock := newMock(t)
	mock.ExpectExec(`UPDATE orders SET status`).WithArgs("o1", "FAILED", "FAILED").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := NewStore(mock).Orders().Update(context.Background(), &orders.Order{
		ID: "o1", Status: orders.StatusFailed, PaymentStatus: orders.PaymentFailed,
	})
	require.ErrorIs(t, err, orders.ErrOrderNotFound)
}

func TestOutboxRepo_PendingAndUpdate(t *testing.T) {
	mock := newMock(t)
	store := NewStore(mock)

	mock.ExpectQuery(`FROM outbox_events\s+WHERE processed_at IS NULL AND status = 'PENDING'\s+ORDER BY created_at`).
		WillReturnRows(pgxmock.NewRows([]string{"id", "aggregate_id", "event_type", "payload", "created_at", "retry_count", "status"}).
			AddRow("e1", "o1", "OrderCreated", []byte(`{"order_id":"o1"}`), created, 2, "PENDING"))

	events, err := store.Outbox().Pending(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, 2, events[0].RetryCount)
	assert.Equal(t, outbox.StatusPending, events[0].Status)
	assert.JSONEq(t, `{"order_id":"o1"}`, string(events[0].Payload))

	processed := created.Add(time.Minute)
	ev := events[0]
	ev.Status = outbox.StatusCompleted
	ev.ProcessedAt = &processed
	mock.ExpectExec(`UPDATE outbox_events`).WithArgs("e1", &processed, 2, "COMPLETED").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, store.Outbox().Update(context.Background(), &ev))
}
