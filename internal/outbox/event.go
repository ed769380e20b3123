package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

var (
	ErrEventNotFound = errors.New("outbox event not found")
	ErrEventExists   = errors.New("outbox event already exists")
)

// Event is a domain event recorded in the same transaction as the state
// change it describes. Only the publisher mutates it after insertion.
type Event struct {
	ID          string
	AggregateID string // order id, used as the partition key downstream
	EventType   string
	Payload     []byte
	CreatedAt   time.Time
	ProcessedAt *time.Time
	RetryCount  int
	Status      Status
}

// NewEvent returns a pending event with a fresh id.
func NewEvent(aggregateID, eventType string, payload []byte, now time.Time) *Event {
	return &Event{
		ID:          uuid.NewString(),
		AggregateID: aggregateID,
		EventType:   eventType,
		Payload:     payload,
		CreatedAt:   now.UTC(),
		Status:      StatusPending,
	}
}

// Terminal reports whether the event will never be published again.
func (e *Event) Terminal() bool {
	return e.Status == StatusCompleted || e.Status == StatusFailed
}

// Repository persists outbox events.
type Repository interface {
	// Pending returns unprocessed, non-failed events, oldest first.
	Pending(ctx context.Context) ([]Event, error)
	Add(ctx context.Context, e *Event) error
	Update(ctx context.Context, e *Event) error
}

// Publisher delivers one event to the outside world.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}
