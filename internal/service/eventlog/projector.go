package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/sales/internal/domain"
	"github.com/vladislavdragonenkov/sales/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/sales/internal/metrics"
)

// Projector записывает события продаж в append-only журнал.
//
// Работает в двух режимах: как domain.OutboxPublisher, когда outbox worker
// доставляет события напрямую, и как обработчик Kafka consumer-а.
type Projector struct {
	repo    domain.EventLogRepository
	metrics *metrics.SalesMetrics
	logger  *log.Entry
	now     func() time.Time
}

// NewProjector создаёт проектор журнала событий.
func NewProjector(repo domain.EventLogRepository, m *metrics.SalesMetrics, logger *log.Entry) *Projector {
	if logger == nil {
		logger = log.WithField("component", "event-log-projector")
	}
	return &Projector{
		repo:    repo,
		metrics: m,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Publish преобразует outbox-сообщение в запись журнала и сохраняет её.
// Повторная доставка того же сообщения не создаёт дубликат.
func (p *Projector) Publish(ctx context.Context, msg domain.OutboxMessage) error {
	event, err := p.toSaleEvent(msg)
	if err != nil {
		return err
	}

	if err := p.repo.Append(ctx, event); err != nil {
		return fmt.Errorf("append sale event %s: %w", event.ID, err)
	}

	p.metrics.RecordEventLogAppended(string(event.Type))
	p.logger.WithFields(log.Fields{
		"event_id":   event.ID,
		"event_type": event.Type,
		"sale_id":    event.Data.SaleID,
	}).Debug("sale event appended")
	return nil
}

// HandleMessage - kafka.MessageHandler для consumer group журнала событий.
func (p *Projector) HandleMessage(ctx context.Context, message *sarama.ConsumerMessage) error {
	envelope, err := kafka.ParseEnvelope(message)
	if err != nil {
		return err
	}
	return p.Publish(ctx, envelope.OutboxMessage())
}

func (p *Projector) toSaleEvent(msg domain.OutboxMessage) (domain.SaleEvent, error) {
	if msg.ID == "" {
		return domain.SaleEvent{}, domain.ErrEventIDRequired
	}

	eventType, err := domain.EventTypeFromOutbox(msg.EventType)
	if err != nil {
		return domain.SaleEvent{}, fmt.Errorf("%w: %q", err, msg.EventType)
	}

	var data domain.SaleEventData
	if err := json.Unmarshal(msg.Payload, &data); err != nil {
		return domain.SaleEvent{}, fmt.Errorf("decode %s payload: %w", msg.EventType, err)
	}
	if data.SaleID == "" {
		data.SaleID = msg.AggregateID
	}

	date := msg.CreatedAt
	if date.IsZero() {
		date = p.now()
	}

	return domain.SaleEvent{
		ID:      msg.ID,
		Type:    eventType,
		Data:    data,
		Version: domain.SaleEventVersion,
		Date:    date.UTC(),
	}, nil
}

var (
	_ domain.OutboxPublisher = (*Projector)(nil)
	_ kafka.MessageHandler   = (*Projector)(nil).HandleMessage
)
