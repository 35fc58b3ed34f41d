package kafka

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

// Topics для событий продаж
const (
	TopicSaleCreated = "sales.sale.created"
	TopicSaleUpdated = "sales.sale.updated"
	TopicSaleDeleted = "sales.sale.deleted"

	// DLQSuffix добавляется к topic события для Dead Letter Queue.
	DLQSuffix = ".dlq"

	// DefaultConsumerGroup - группа consumer-ов, пишущих журнал событий.
	DefaultConsumerGroup = "sales-event-log"
)

// Kafka headers для retry логики
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
	HeaderEventType     = "x-event-type"
)

var eventTopics = map[string]string{
	domain.OutboxEventSaleCreated: TopicSaleCreated,
	domain.OutboxEventSaleUpdated: TopicSaleUpdated,
	domain.OutboxEventSaleDeleted: TopicSaleDeleted,
}

// SaleTopics возвращает topics всех событий продаж.
func SaleTopics() []string {
	return []string{TopicSaleCreated, TopicSaleUpdated, TopicSaleDeleted}
}

// TopicForEvent возвращает topic для типа outbox-события.
func TopicForEvent(eventType string) (string, error) {
	topic, ok := eventTopics[eventType]
	if !ok {
		return "", fmt.Errorf("%w: %q", domain.ErrUnknownEventType, eventType)
	}
	return topic, nil
}

// DLQTopic возвращает имя DLQ для topic.
func DLQTopic(topic string) string {
	if strings.HasSuffix(topic, DLQSuffix) {
		return topic
	}
	return topic + DLQSuffix
}

// OriginalTopic возвращает topic, из которого сообщение попало в DLQ.
func OriginalTopic(dlqTopic string) string {
	return strings.TrimSuffix(dlqTopic, DLQSuffix)
}

// Envelope - формат сообщения о событии продажи в Kafka.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// NewEnvelope упаковывает outbox-сообщение для публикации.
func NewEnvelope(msg domain.OutboxMessage, publishedAt time.Time) Envelope {
	return Envelope{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       json.RawMessage(msg.Payload),
		PublishedAt:   publishedAt,
	}
}

// OutboxMessage восстанавливает исходное outbox-сообщение.
// Время создания берётся из момента публикации.
func (e Envelope) OutboxMessage() domain.OutboxMessage {
	return domain.OutboxMessage{
		ID:            e.ID,
		AggregateType: e.AggregateType,
		AggregateID:   e.AggregateID,
		EventType:     e.EventType,
		Payload:       []byte(e.Payload),
		CreatedAt:     e.PublishedAt,
	}
}

// Key возвращает ключ партиционирования: события одной продажи идут в одну партицию.
func (e Envelope) Key() string {
	if e.AggregateID != "" {
		return e.AggregateID
	}
	return e.ID
}

// ConsumerDLQMessage - тело сообщения, отправленного consumer-ом в DLQ.
type ConsumerDLQMessage struct {
	OriginalTopic     string    `json:"original_topic"`
	OriginalPartition int32     `json:"original_partition"`
	OriginalOffset    int64     `json:"original_offset"`
	OriginalKey       string    `json:"original_key"`
	OriginalValue     string    `json:"original_value"`
	ErrorMessage      string    `json:"error_message"`
	FailedAt          time.Time `json:"failed_at"`
	RetryCount        int       `json:"retry_count"`
}
