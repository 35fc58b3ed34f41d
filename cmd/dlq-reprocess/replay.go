package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/sales/internal/domain"
	"github.com/vladislavdragonenkov/sales/internal/messaging/kafka"
)

var errUnsupportedMessage = errors.New("unsupported dlq message")

// outboxDLQPayload - тело, которое outbox worker кладёт в DLQ после исчерпания попыток.
type outboxDLQPayload struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishError  string          `json:"publish_error"`
}

type replayMessage struct {
	topic     string
	key       string
	value     []byte
	eventType string
}

type replayStats struct {
	processed int
	replayed  int
	skipped   int
}

func (s *replayStats) add(other replayStats) {
	s.processed += other.processed
	s.replayed += other.replayed
	s.skipped += other.skipped
}

type replayer struct {
	cfg      config
	client   offsetClient
	consumer partitionConsumerSource
	producer replayProducer
	logger   *log.Entry
	now      func() time.Time
}

func newReplayer(cfg config, client offsetClient, consumer partitionConsumerSource, producer replayProducer) (*replayer, error) {
	if client == nil || consumer == nil {
		return nil, fmt.Errorf("kafka client and consumer are required")
	}
	if cfg.execute && producer == nil {
		return nil, fmt.Errorf("producer is required in execute mode")
	}
	return &replayer{
		cfg:      cfg,
		client:   client,
		consumer: consumer,
		producer: producer,
		logger:   log.WithField("component", "dlq-reprocess"),
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

func (r *replayer) mode() string {
	if r.cfg.execute {
		return "execute"
	}
	return "dry-run"
}

// run обходит DLQ topics по порядку, пока не исчерпан общий лимит.
func (r *replayer) run(ctx context.Context) (replayStats, error) {
	r.logger.WithFields(log.Fields{
		"topics":      r.cfg.topics,
		"limit":       r.cfg.limit,
		"mode":        r.mode(),
		"from_newest": r.cfg.fromNewest,
	}).Info("starting dlq replay")

	var total replayStats
	for _, topic := range r.cfg.topics {
		if total.processed >= r.cfg.limit {
			break
		}
		stats, err := r.replayTopic(ctx, topic, r.cfg.limit-total.processed)
		total.add(stats)
		if err != nil {
			return total, err
		}
	}

	r.logger.WithFields(log.Fields{
		"mode":      r.mode(),
		"processed": total.processed,
		"replayed":  total.replayed,
		"skipped":   total.skipped,
	}).Info("dlq replay finished")
	return total, nil
}

func (r *replayer) replayTopic(ctx context.Context, topic string, limit int) (replayStats, error) {
	var stats replayStats

	partitions, err := r.client.Partitions(topic)
	if err != nil {
		return stats, fmt.Errorf("get partitions for topic %s: %w", topic, err)
	}
	if len(partitions) == 0 {
		r.logger.WithField("topic", topic).Warn("dlq topic has no partitions")
		return stats, nil
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	for _, partition := range partitions {
		if stats.processed >= limit {
			break
		}
		partStats, err := r.replayPartition(ctx, topic, partition, limit-stats.processed)
		stats.add(partStats)
		if err != nil {
			return stats, err
		}
	}
	return stats, nil
}

// replayPartition читает партицию от стартового смещения до newest,
// зафиксированного на момент запуска.
func (r *replayer) replayPartition(ctx context.Context, topic string, partition int32, limit int) (replayStats, error) {
	var stats replayStats
	if limit <= 0 {
		return stats, nil
	}

	oldest, err := r.client.GetOffset(topic, partition, sarama.OffsetOldest)
	if err != nil {
		return stats, fmt.Errorf("get oldest offset for %s/%d: %w", topic, partition, err)
	}
	newest, err := r.client.GetOffset(topic, partition, sarama.OffsetNewest)
	if err != nil {
		return stats, fmt.Errorf("get newest offset for %s/%d: %w", topic, partition, err)
	}
	if newest <= oldest {
		return stats, nil
	}

	start := oldest
	if r.cfg.fromNewest {
		start = max(newest-int64(limit), oldest)
	}

	pc, err := r.consumer.ConsumePartition(topic, partition, start)
	if err != nil {
		return stats, fmt.Errorf("consume %s/%d: %w", topic, partition, err)
	}
	defer func() { _ = pc.Close() }()

	idle := time.NewTimer(r.cfg.idleTimeout)
	defer idle.Stop()

	for stats.processed < limit {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case <-idle.C:
			return stats, nil
		case cerr := <-pc.Errors():
			if cerr != nil {
				return stats, fmt.Errorf("%s/%d consumer error: %w", topic, partition, cerr)
			}
		case msg, ok := <-pc.Messages():
			if !ok || msg == nil || msg.Offset >= newest {
				return stats, nil
			}
			idle.Reset(r.cfg.idleTimeout)

			stats.processed++
			if err := r.handle(msg); err != nil {
				if errors.Is(err, errUnsupportedMessage) {
					stats.skipped++
					r.logger.WithError(err).WithFields(log.Fields{
						"topic":     msg.Topic,
						"partition": msg.Partition,
						"offset":    msg.Offset,
					}).Warn("skip dlq message")
					continue
				}
				return stats, err
			}
			stats.replayed++

			if msg.Offset+1 >= newest {
				return stats, nil
			}
		}
	}
	return stats, nil
}

func (r *replayer) handle(msg *sarama.ConsumerMessage) error {
	replay, err := extractReplayMessage(msg, r.now())
	if err != nil {
		return err
	}

	fields := log.Fields{
		"partition":    msg.Partition,
		"offset":       msg.Offset,
		"target_topic": replay.topic,
		"key":          replay.key,
		"event_type":   replay.eventType,
	}
	if !r.cfg.execute {
		r.logger.WithFields(fields).Info("dlq replay candidate")
		return nil
	}
	if err := publishReplay(r.producer, replay); err != nil {
		return fmt.Errorf("publish replay message: %w", err)
	}
	r.logger.WithFields(fields).Debug("dlq message replayed")
	return nil
}

func publishReplay(producer replayProducer, msg replayMessage) error {
	if producer == nil {
		return fmt.Errorf("producer is nil")
	}

	pm := &sarama.ProducerMessage{
		Topic:     msg.topic,
		Key:       sarama.StringEncoder(msg.key),
		Value:     sarama.ByteEncoder(msg.value),
		Timestamp: time.Now().UTC(),
	}
	if msg.eventType != "" {
		pm.Headers = []sarama.RecordHeader{{Key: []byte(kafka.HeaderEventType), Value: []byte(msg.eventType)}}
	}
	_, _, err := producer.SendMessage(pm)
	return err
}

// extractReplayMessage восстанавливает исходное сообщение из DLQ-записи.
// Поддерживаются записи consumer-а (ConsumerDLQMessage) и outbox worker-а
// (Envelope с outboxDLQPayload внутри).
func extractReplayMessage(msg *sarama.ConsumerMessage, now time.Time) (replayMessage, error) {
	fallbackTopic := kafka.OriginalTopic(msg.Topic)

	var consumerMsg kafka.ConsumerDLQMessage
	if err := json.Unmarshal(msg.Value, &consumerMsg); err == nil && consumerMsg.OriginalValue != "" {
		topic := strings.TrimSpace(consumerMsg.OriginalTopic)
		if topic == "" {
			topic = fallbackTopic
		}
		var envelope kafka.Envelope
		_ = json.Unmarshal([]byte(consumerMsg.OriginalValue), &envelope)
		return replayMessage{
			topic:     topic,
			key:       consumerMsg.OriginalKey,
			value:     []byte(consumerMsg.OriginalValue),
			eventType: envelope.EventType,
		}, nil
	}

	var envelope kafka.Envelope
	if err := json.Unmarshal(msg.Value, &envelope); err != nil || len(envelope.Payload) == 0 {
		return replayMessage{}, fmt.Errorf("%w: neither consumer nor outbox dlq format", errUnsupportedMessage)
	}

	var payload outboxDLQPayload
	if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
		return replayMessage{}, fmt.Errorf("%w: decode outbox dlq payload: %v", errUnsupportedMessage, err)
	}
	if len(payload.Payload) == 0 {
		return replayMessage{}, fmt.Errorf("%w: outbox dlq payload has no original event", errUnsupportedMessage)
	}

	original := domain.OutboxMessage{
		ID:            firstNonEmpty(payload.OutboxID, envelope.ID),
		AggregateType: firstNonEmpty(payload.AggregateType, envelope.AggregateType),
		AggregateID:   firstNonEmpty(payload.AggregateID, envelope.AggregateID),
		EventType:     firstNonEmpty(payload.EventType, envelope.EventType),
		Payload:       payload.Payload,
	}

	topic, err := kafka.TopicForEvent(original.EventType)
	if err != nil {
		topic = fallbackTopic
	}

	replay := kafka.NewEnvelope(original, now)
	encoded, err := json.Marshal(replay)
	if err != nil {
		return replayMessage{}, fmt.Errorf("encode replay envelope: %w", err)
	}
	return replayMessage{
		topic:     topic,
		key:       replay.Key(),
		value:     encoded,
		eventType: original.EventType,
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
