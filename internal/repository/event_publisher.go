package repository

import (
	"context"

	"CapitalDash/internal/domain/models"
	"CapitalDash/internal/domain/repository"
	pkgkafka "CapitalDash/pkg/kafka"
)

// KafkaEventPublisher writes domain events to one topic, keyed by event type.
type KafkaEventPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

func NewKafkaEventPublisher(producer *pkgkafka.Producer, topic string) repository.EventPublisher {
	return &KafkaEventPublisher{producer: producer, topic: topic}
}

func (p *KafkaEventPublisher) Publish(ctx context.Context, ev models.Event) error {
	return p.producer.Publish(ctx, p.topic, []byte(ev.Type), ev)
}

// Close leaves the producer open; it is shared with the log collector.
func (p *KafkaEventPublisher) Close() error {
	return nil
}

// NoopPublisher drops events. It is used when Kafka is disabled.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, models.Event) error { return nil }
func (NoopPublisher) Close() error                                { return nil }
