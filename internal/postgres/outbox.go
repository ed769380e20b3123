package postgres

import (
	"context"
	"fmt"

	"github.com/ariefcatur/go-inventory-orders/internal/outbox"
)

type outboxRepo struct{ q querier }

func (r outboxRepo) Pending(ctx context.Context) ([]outbox.Event, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, aggregate_id, event_type, payload, created_at, retry_count, status
		FROM outbox_events
		WHERE processed_at IS NULL AND status = 'PENDING'
		ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []outbox.Event
	for rows.Next() {
		var (
			e      outbox.Event
			status string
		)
		if err := rows.Scan(&e.ID, &e.AggregateID, &e.EventType, &e.Payload, &e.CreatedAt, &e.RetryCount, &status); err != nil {
			return nil, err
		}
		e.Status = outbox.Status(status)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r outboxRepo) Add(ctx context.Context, e *outbox.Event) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO outbox_events(id, aggregate_id, event_type, payload, created_at, processed_at, retry_count, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		e.ID, e.AggregateID, e.EventType, e.Payload, e.CreatedAt, e.ProcessedAt, e.RetryCount, string(e.Status))
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", outbox.ErrEventExists, e.ID)
	}
	return err
}

func (r outboxRepo) Update(ctx context.Context, e *outbox.Event) error {
	ct, err := r.q.Exec(ctx, `UPDATE outbox_events SET processed_at=$2, retry_count=$3, status=$4 WHERE id=$1`,
		e.ID, e.ProcessedAt, e.RetryCount, string(e.Status))
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", outbox.ErrEventNotFound, e.ID)
	}
	return nil
}
