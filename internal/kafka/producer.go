package kafka

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-inventory-orders/internal/orders"
	"github.com/ariefcatur/go-inventory-orders/internal/outbox"
)

const (
	HeaderEventType    = "x-event-type"
	HeaderEventVersion = "x-event-version"

	eventVersion = 1
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher delivers outbox events to Kafka, one topic per event type and
// the order id as key so events of one order stay in one partition.
// Writes are synchronous: the outbox marks an event completed only after
// the broker acknowledged it.
type Publisher struct {
	w        messageWriter
	producer string
	logger   *zap.Logger
}

func NewPublisher(brokers []string, producer string, logger *zap.Logger) *Publisher {
	return &Publisher{
		w: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
			BatchTimeout:           10 * time.Millisecond,
			WriteTimeout:           10 * time.Second,
		},
		producer: producer,
		logger:   logger,
	}
}

func (p *Publisher) Publish(ctx context.Context, e outbox.Event) error {
	msg, err := p.message(e)
	if err != nil {
		return err
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write %s to %s: %w", e.EventType, msg.Topic, err)
	}
	p.logger.Debug("Event written to kafka",
		zap.String("event_id", e.ID), zap.String("topic", msg.Topic))
	return nil
}

func (p *Publisher) message(e outbox.Event) (kafka.Message, error) {
	value, err := encodeEnvelope(orders.Envelope{
		EventID:       e.ID,
		EventType:     e.EventType,
		EventVersion:  eventVersion,
		OccurredAt:    e.CreatedAt,
		Producer:      p.producer,
		CorrelationID: e.AggregateID,
		Payload:       e.Payload,
	})
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Topic: orders.TopicFor(e.EventType),
		Key:   orders.PartitionKey(e.AggregateID),
		Value: value,
		Time:  e.CreatedAt,
		Headers: []kafka.Header{
			{Key: HeaderEventType, Value: []byte(e.EventType)},
			{Key: HeaderEventVersion, Value: []byte(strconv.Itoa(eventVersion))},
		},
	}, nil
}

func (p *Publisher) Close() error { return p.w.Close() }
