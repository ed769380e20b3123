package payment

import (
	"context"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-inventory-orders/internal/orders"
	"github.com/ariefcatur/go-inventory-orders/internal/outbox"
)

// TriggerPublisher is an outbox sink that queues a payment for every
// published OrderCreated event. The worker skips orders that are already
// paid, so overlapping with the post-commit enqueue is harmless.
type TriggerPublisher struct {
	Queue  orders.PaymentEnqueuer
	Logger *zap.Logger
}

func (p TriggerPublisher) Publish(ctx context.Context, e outbox.Event) error {
	if e.EventType != orders.EventOrderCreated {
		return nil
	}

	payload, err := orders.DecodePayload[orders.OrderCreatedPayload](e.Payload)
	if err != nil {
		// Redelivery cannot fix a broken payload.
		p.Logger.Error("Undecodable OrderCreated payload, payment not triggered",
			zap.String("event_id", e.ID), zap.Error(err))
		return nil
	}
	if payload.OrderID == "" {
		payload.OrderID = e.AggregateID
	}

	return p.Queue.Enqueue(ctx, orders.PaymentTask{OrderID: payload.OrderID, Amount: payload.FinalAmount})
}
