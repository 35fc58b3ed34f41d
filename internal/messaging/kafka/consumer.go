package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

const (
	defaultMaxRetries = 3
	defaultRetryDelay = 100 * time.Millisecond
)

// MessageHandler обрабатывает одно сообщение с событием продажи.
type MessageHandler func(ctx context.Context, message *sarama.ConsumerMessage) error

// ConsumerOption настраивает Consumer.
type ConsumerOption func(*Consumer)

// WithConsumerLogger задаёт logger consumer-а.
func WithConsumerLogger(logger *log.Entry) ConsumerOption {
	return func(c *Consumer) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRetryDelay задаёт паузу между повторными попытками обработки.
func WithRetryDelay(delay time.Duration) ConsumerOption {
	return func(c *Consumer) {
		if delay >= 0 {
			c.retryDelay = delay
		}
	}
}

// WithInitialOffset задаёт позицию чтения для новой группы
// (sarama.OffsetOldest или sarama.OffsetNewest).
func WithInitialOffset(offset int64) ConsumerOption {
	return func(c *Consumer) {
		c.initialOffset = offset
	}
}

// Consumer читает события продаж из consumer group с retry и DLQ.
type Consumer struct {
	consumer      sarama.ConsumerGroup
	topics        []string
	handler       MessageHandler
	logger        *log.Entry
	wg            sync.WaitGroup
	dlqProducer   *Producer
	maxRetries    int
	retryDelay    time.Duration
	initialOffset int64
}

// NewConsumerWithDLQ подключает consumer group к брокерам.
// После maxRetries неудачных попыток сообщение уходит в <topic>.dlq;
// без dlqProducer оно остаётся непомеченным и будет прочитано снова.
func NewConsumerWithDLQ(
	brokers []string,
	groupID string,
	topics []string,
	handler MessageHandler,
	dlqProducer *Producer,
	maxRetries int,
	options ...ConsumerOption,
) (*Consumer, error) {
	if groupID == "" {
		groupID = DefaultConsumerGroup
	}
	c := newConsumer(topics, handler, dlqProducer, maxRetries, options)

	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = c.initialOffset
	config.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer group %s: %w", groupID, err)
	}
	c.consumer = group
	return c, nil
}

// NewConsumerFromGroup оборачивает готовую sarama.ConsumerGroup.
func NewConsumerFromGroup(
	group sarama.ConsumerGroup,
	topics []string,
	handler MessageHandler,
	dlqProducer *Producer,
	maxRetries int,
	options ...ConsumerOption,
) *Consumer {
	c := newConsumer(topics, handler, dlqProducer, maxRetries, options)
	c.consumer = group
	return c
}

func newConsumer(topics []string, handler MessageHandler, dlqProducer *Producer, maxRetries int, options []ConsumerOption) *Consumer {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	c := &Consumer{
		topics:        topics,
		handler:       handler,
		logger:        log.WithField("component", "kafka-consumer"),
		dlqProducer:   dlqProducer,
		maxRetries:    maxRetries,
		retryDelay:    defaultRetryDelay,
		initialOffset: sarama.OffsetOldest,
	}
	for _, option := range options {
		option(c)
	}
	return c
}

// Start запускает чтение topics и слушатель ошибок группы в фоне.
func (c *Consumer) Start(ctx context.Context) error {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			// Consume возвращается на каждом rebalance.
			if err := c.consumer.Consume(ctx, c.topics, c); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.logger.WithError(err).Error("error from consumer")
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for err := range c.consumer.Errors() {
			c.logger.WithError(err).Error("consumer error")
		}
	}()

	c.logger.WithField("topics", c.topics).Info("kafka consumer started")
	return nil
}

// Stop закрывает группу и ждёт фоновые горутины.
func (c *Consumer) Stop() error {
	if err := c.consumer.Close(); err != nil {
		return fmt.Errorf("close kafka consumer: %w", err)
	}
	c.wg.Wait()
	c.logger.Info("kafka consumer stopped")
	return nil
}

func (c *Consumer) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim передаёт сообщения партиции обработчику и помечает
// обработанные или отправленные в DLQ.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}

			fields := log.Fields{
				"topic":     message.Topic,
				"partition": message.Partition,
				"offset":    message.Offset,
			}
			c.logger.WithFields(fields).Debug("received message")

			if err := c.handleMessageWithRetry(session.Context(), message); err != nil {
				// Без отметки offset сообщение будет прочитано снова после rebalance.
				c.logger.WithError(err).WithFields(fields).Error("message processing failed after all retries")
				continue
			}

			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

// handleMessageWithRetry обрабатывает сообщение с повторами и отправкой в DLQ.
// Уже сделанные попытки берутся из header x-retry-count.
func (c *Consumer) handleMessageWithRetry(ctx context.Context, message *sarama.ConsumerMessage) error {
	retryCount := c.getRetryCount(message)
	attempts := c.maxRetries - retryCount
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = c.handler(ctx, message)
		if err == nil {
			return nil
		}
		retryCount++

		if attempt == attempts {
			break
		}
		c.logger.WithError(err).WithFields(log.Fields{
			"topic":       message.Topic,
			"retry_count": retryCount,
			"max_retries": c.maxRetries,
		}).Warn("message processing failed, will retry")

		if c.retryDelay > 0 {
			timer := time.NewTimer(c.retryDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}

	if c.dlqProducer == nil {
		return err
	}

	if dlqErr := c.sendToDLQ(message, err, retryCount); dlqErr != nil {
		c.logger.WithError(dlqErr).Error("failed to send message to DLQ")
		return fmt.Errorf("send to %s: %w", DLQTopic(message.Topic), dlqErr)
	}
	c.logger.WithFields(log.Fields{
		"topic":       message.Topic,
		"dlq_topic":   DLQTopic(message.Topic),
		"retry_count": retryCount,
	}).Warn("message sent to DLQ after max retries")
	return nil
}

// getRetryCount читает число уже сделанных попыток из x-retry-count.
func (c *Consumer) getRetryCount(message *sarama.ConsumerMessage) int {
	for _, header := range message.Headers {
		if header == nil || string(header.Key) != HeaderRetryCount {
			continue
		}
		count, err := strconv.Atoi(string(header.Value))
		if err == nil && count >= 0 {
			return count
		}
	}
	return 0
}

// sendToDLQ отправляет сообщение в DLQ его topic.
func (c *Consumer) sendToDLQ(message *sarama.ConsumerMessage, processingErr error, retryCount int) error {
	failedAt := time.Now().UTC()
	dlqMessage := ConsumerDLQMessage{
		OriginalTopic:     message.Topic,
		OriginalPartition: message.Partition,
		OriginalOffset:    message.Offset,
		OriginalKey:       string(message.Key),
		OriginalValue:     string(message.Value),
		ErrorMessage:      processingErr.Error(),
		FailedAt:          failedAt,
		RetryCount:        retryCount,
	}

	return c.dlqProducer.PublishEvent(
		DLQTopic(message.Topic),
		string(message.Key),
		dlqMessage,
		sarama.RecordHeader{Key: []byte(HeaderRetryCount), Value: []byte(strconv.Itoa(retryCount))},
		sarama.RecordHeader{Key: []byte(HeaderOriginalTopic), Value: []byte(message.Topic)},
		sarama.RecordHeader{Key: []byte(HeaderErrorMessage), Value: []byte(processingErr.Error())},
		sarama.RecordHeader{Key: []byte(HeaderFailedAt), Value: []byte(failedAt.Format(time.RFC3339))},
	)
}

// ParseEnvelope разбирает событие продажи из сообщения.
func ParseEnvelope(message *sarama.ConsumerMessage) (Envelope, error) {
	var envelope Envelope
	if err := json.Unmarshal(message.Value, &envelope); err != nil {
		return Envelope{}, fmt.Errorf("decode sale event envelope: %w", err)
	}
	if envelope.ID == "" {
		return Envelope{}, errors.New("sale event envelope has no id")
	}
	return envelope, nil
}
