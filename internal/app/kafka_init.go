package app

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/sales/internal/domain"
	"github.com/vladislavdragonenkov/sales/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/sales/internal/service/eventlog"
)

// initKafkaProducer инициализирует Kafka producer если brokers не пустой.
// Возвращает nil, nil если brokers пустой.
func initKafkaProducer(brokers []string, logger *log.Entry) (*kafka.Producer, error) {
	if len(brokers) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokers)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil, err
	}

	logger.WithField("brokers", brokers).Info("kafka producer initialized")
	return producer, nil
}

// startEventLogConsumer подписывает проектор журнала на топики продаж.
// Сообщения, не обработанные за cfg.KafkaConsumerRetries попыток, уходят в DLQ.
func startEventLogConsumer(
	ctx context.Context,
	cfg Config,
	producer *kafka.Producer,
	projector *eventlog.Projector,
	logger *log.Entry,
) (*kafka.Consumer, error) {
	consumer, err := kafka.NewConsumerWithDLQ(
		cfg.Brokers(),
		cfg.KafkaGroupID,
		kafka.SaleTopics(),
		projector.HandleMessage,
		producer,
		cfg.KafkaConsumerRetries,
		kafka.WithConsumerLogger(logger.WithField("layer", "kafka-consumer")),
	)
	if err != nil {
		return nil, err
	}
	if err := consumer.Start(ctx); err != nil {
		_ = consumer.Stop()
		return nil, err
	}
	return consumer, nil
}

// createOutboxPublishers выбирает, куда outbox worker доставляет события.
// Без Kafka события сразу попадают в журнал через проектор, DLQ не используется.
func createOutboxPublishers(producer *kafka.Producer, projector *eventlog.Projector) (publisher, dlq domain.OutboxPublisher) {
	if producer == nil {
		return projector, nil
	}
	return kafka.NewOutboxPublisher(producer), kafka.NewOutboxDLQPublisher(producer)
}

// closeKafkaProducer закрывает Kafka producer если он не nil.
func closeKafkaProducer(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}

// stopKafkaConsumer останавливает consumer журнала событий.
func stopKafkaConsumer(consumer *kafka.Consumer, logger *log.Entry) {
	if consumer == nil {
		return
	}
	if err := consumer.Stop(); err != nil {
		logger.WithError(err).Warn("failed to stop kafka consumer")
	}
}
