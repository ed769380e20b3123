package outbox

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// PublisherFunc adapts a plain function to Publisher.
type PublisherFunc func(ctx context.Context, e Event) error

func (f PublisherFunc) Publish(ctx context.Context, e Event) error { return f(ctx, e) }

// LogPublisher only logs the event. It always succeeds and stands in for a
// broker when none is configured.
type LogPublisher struct {
	Logger *zap.Logger
}

func (p LogPublisher) Publish(_ context.Context, e Event) error {
	p.Logger.Info("Publishing outbox event",
		zap.String("event_id", e.ID),
		zap.String("event_type", e.EventType),
		zap.String("aggregate_id", e.AggregateID),
		zap.ByteString("payload", e.Payload))
	return nil
}

// MultiPublisher hands the event to every sink in order. The event counts as
// published only if all sinks accept it, so sinks must tolerate redelivery.
type MultiPublisher []Publisher

func (m MultiPublisher) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
