package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

// OutboxTopicPublisher публикует outbox-сообщения в topic, соответствующий типу события.
type OutboxTopicPublisher struct {
	producer *Producer
	dlq      bool
}

// NewOutboxPublisher создаёт Kafka-паблишер для transactional outbox.
func NewOutboxPublisher(producer *Producer) domain.OutboxPublisher {
	return &OutboxTopicPublisher{producer: producer}
}

// NewOutboxDLQPublisher создаёт паблишер, который отправляет сообщения в DLQ topic события.
func NewOutboxDLQPublisher(producer *Producer) domain.OutboxPublisher {
	return &OutboxTopicPublisher{producer: producer, dlq: true}
}

// Publish отправляет событие; ключ сообщения - идентификатор продажи.
func (p *OutboxTopicPublisher) Publish(ctx context.Context, event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka outbox publisher is not initialized")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	topic, err := TopicForEvent(event.EventType)
	if err != nil {
		return err
	}
	if p.dlq {
		topic = DLQTopic(topic)
	}

	envelope := NewEnvelope(event, time.Now().UTC())
	return p.producer.PublishEvent(topic, envelope.Key(), envelope, sarama.RecordHeader{
		Key:   []byte(HeaderEventType),
		Value: []byte(event.EventType),
	})
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
