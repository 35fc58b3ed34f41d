package main

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/sales/internal/messaging/kafka"
)

func TestParseBrokers(t *testing.T) {
	assert.Equal(t, []string{"broker-1:9092", "broker-2:9092"}, parseBrokers(" broker-1:9092, ,broker-2:9092 "))
	assert.Empty(t, parseBrokers(" , "))
}

func TestNormalizeTopics(t *testing.T) {
	got := normalizeTopics([]string{" sales.sale.created.dlq ", "", "sales.sale.created.dlq", "sales.sale.deleted.dlq"})
	assert.Equal(t, []string{"sales.sale.created.dlq", "sales.sale.deleted.dlq"}, got)
}

func TestDefaultDLQTopics(t *testing.T) {
	assert.Equal(t, []string{
		"sales.sale.created.dlq",
		"sales.sale.updated.dlq",
		"sales.sale.deleted.dlq",
	}, defaultDLQTopics())
}

func TestConfigValidate(t *testing.T) {
	valid := config{
		brokers:     []string{"broker:9092"},
		topics:      defaultDLQTopics(),
		limit:       1,
		idleTimeout: time.Second,
	}
	require.NoError(t, valid.validate())

	tests := []struct {
		name    string
		mutate  func(*config)
		wantErr string
	}{
		{name: "no brokers", mutate: func(c *config) { c.brokers = nil }, wantErr: "kafka brokers are required"},
		{name: "no topics", mutate: func(c *config) { c.topics = nil }, wantErr: "at least one dlq topic"},
		{name: "not a dlq topic", mutate: func(c *config) { c.topics = []string{kafka.TopicSaleCreated} }, wantErr: "is not a dlq topic"},
		{name: "zero limit", mutate: func(c *config) { c.limit = 0 }, wantErr: "limit must be > 0"},
		{name: "zero idle timeout", mutate: func(c *config) { c.idleTimeout = 0 }, wantErr: "idle-timeout must be > 0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRootCmd_FlagsAndEnv(t *testing.T) {
	var captured config
	stubDependencies(t, func(cfg config) (offsetClient, partitionConsumerSource, replayProducer, error) {
		captured = cfg
		return &stubOffsetClient{}, &stubPartitionConsumerSource{}, &stubReplayProducer{}, nil
	})

	cmd := newRootCmd(func(key string) (string, bool) {
		if key == envKafkaBrokers {
			return "env-broker:9092", true
		}
		return "", false
	})
	cmd.SetArgs([]string{
		"--topic", "sales.sale.updated.dlq",
		"--limit", "10",
		"--execute",
		"--from-newest",
		"--idle-timeout", "3s",
	})
	require.NoError(t, cmd.ExecuteContext(context.Background()))

	assert.Equal(t, []string{"env-broker:9092"}, captured.brokers)
	assert.Equal(t, []string{"sales.sale.updated.dlq"}, captured.topics)
	assert.Equal(t, 10, captured.limit)
	assert.True(t, captured.execute)
	assert.True(t, captured.fromNewest)
	assert.Equal(t, 3*time.Second, captured.idleTimeout)
}

func TestRootCmd_RequiresBrokers(t *testing.T) {
	cmd := newRootCmd(func(string) (string, bool) { return "", false })
	cmd.SetArgs([]string{})
	err := cmd.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kafka brokers are required")
}

func TestExtractReplayMessage_ConsumerDLQ(t *testing.T) {
	msg := &sarama.ConsumerMessage{
		Topic: "sales.sale.created.dlq",
		Value: []byte(`{"original_topic":"sales.sale.created","original_key":"sale-1","original_value":"{\"id\":\"evt-1\",\"event_type\":\"sale.created\"}"}`),
	}

	got, err := extractReplayMessage(msg, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "sales.sale.created", got.topic)
	assert.Equal(t, "sale-1", got.key)
	assert.Equal(t, "sale.created", got.eventType)
	assert.JSONEq(t, `{"id":"evt-1","event_type":"sale.created"}`, string(got.value))
}

func TestExtractReplayMessage_ConsumerDLQWithoutTopic(t *testing.T) {
	msg := &sarama.ConsumerMessage{
		Topic: "sales.sale.deleted.dlq",
		Value: []byte(`{"original_key":"sale-1","original_value":"{}"}`),
	}

	got, err := extractReplayMessage(msg, time.Now())
	require.NoError(t, err)
	assert.Equal(t, kafka.TopicSaleDeleted, got.topic)
}

func TestExtractReplayMessage_OutboxDLQ(t *testing.T) {
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	msg := &sarama.ConsumerMessage{
		Topic: "sales.sale.updated.dlq",
		Value: []byte(`{
			"id": "outbox-1",
			"aggregate_type": "sale",
			"aggregate_id": "sale-1",
			"event_type": "sale.updated",
			"payload": {
				"outbox_id": "outbox-1",
				"aggregate_type": "sale",
				"aggregate_id": "sale-1",
				"event_type": "sale.updated",
				"payload": {"saleId": "sale-1", "version": 2},
				"publish_error": "timeout"
			}
		}`),
	}

	got, err := extractReplayMessage(msg, now)
	require.NoError(t, err)
	assert.Equal(t, kafka.TopicSaleUpdated, got.topic)
	assert.Equal(t, "sale-1", got.key)
	assert.Equal(t, "sale.updated", got.eventType)

	envelope, err := kafka.ParseEnvelope(&sarama.ConsumerMessage{Value: got.value})
	require.NoError(t, err)
	assert.Equal(t, "outbox-1", envelope.ID)
	assert.True(t, now.Equal(envelope.PublishedAt), "published at %s", envelope.PublishedAt)
	assert.JSONEq(t, `{"saleId":"sale-1","version":2}`, string(envelope.Payload))
}

func TestExtractReplayMessage_Unsupported(t *testing.T) {
	tests := map[string]string{
		"unknown shape":      `{"foo":"bar"}`,
		"not json":           `not-json`,
		"payload not object": `{"id":"x","payload":"not-an-object"}`,
		"missing original":   `{"id":"x","payload":{"outbox_id":"x","event_type":"sale.created"}}`,
	}
	for name, value := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := extractReplayMessage(&sarama.ConsumerMessage{Topic: "sales.sale.created.dlq", Value: []byte(value)}, time.Now())
			assert.ErrorIs(t, err, errUnsupportedMessage)
		})
	}
}

func TestFirstNonEmpty(t *testing.T) {
	assert.Equal(t, "x", firstNonEmpty("", "  ", "x", "y"))
	assert.Equal(t, "", firstNonEmpty("", " "))
}

func TestPublishReplay(t *testing.T) {
	require.Error(t, publishReplay(nil, replayMessage{}))

	producer := &stubReplayProducer{}
	require.NoError(t, publishReplay(producer, replayMessage{topic: "topic", key: "key", value: []byte(`{}`), eventType: "sale.created"}))
	require.NotNil(t, producer.lastMsg)
	assert.Equal(t, "topic", producer.lastMsg.Topic)
	require.Len(t, producer.lastMsg.Headers, 1)
	assert.Equal(t, kafka.HeaderEventType, string(producer.lastMsg.Headers[0].Key))

	producer.sendErr = errors.New("send failed")
	assert.Error(t, publishReplay(producer, replayMessage{topic: "topic"}))
}

func TestNewReplayer_Validation(t *testing.T) {
	_, err := newReplayer(config{}, nil, nil, nil)
	assert.Error(t, err)

	_, err = newReplayer(config{execute: true}, &stubOffsetClient{}, &stubPartitionConsumerSource{}, nil)
	assert.ErrorContains(t, err, "producer is required")
}

func TestReplayPartition_DryRun(t *testing.T) {
	client := singlePartitionClient(2)
	consumer := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{
		0: closedPartitionConsumer(consumerDLQMessage(0, 0, "sale-1")),
	}}
	r := mustReplayer(t, testConfig(false), client, consumer, nil)

	stats, err := r.replayPartition(context.Background(), "sales.sale.created.dlq", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, replayStats{processed: 1, replayed: 1}, stats)
	require.Len(t, consumer.calls, 1)
	assert.Equal(t, int64(0), consumer.calls[0].offset)
}

func TestReplayPartition_Execute(t *testing.T) {
	client := singlePartitionClient(2)
	consumer := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{
		0: closedPartitionConsumer(consumerDLQMessage(0, 0, "sale-1")),
	}}
	producer := &stubReplayProducer{}
	r := mustReplayer(t, testConfig(true), client, consumer, producer)

	stats, err := r.replayPartition(context.Background(), "sales.sale.created.dlq", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.replayed)
	assert.Equal(t, 1, producer.calls)
	assert.Equal(t, kafka.TopicSaleCreated, producer.lastMsg.Topic)
}

func TestReplayPartition_FromNewest(t *testing.T) {
	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 3, newest: 10}}}
	consumer := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{
		0: closedPartitionConsumer(nil),
	}}
	cfg := testConfig(false)
	cfg.fromNewest = true
	r := mustReplayer(t, cfg, client, consumer, nil)

	_, err := r.replayPartition(context.Background(), "sales.sale.created.dlq", 0, 2)
	require.NoError(t, err)
	require.Len(t, consumer.calls, 1)
	assert.Equal(t, int64(8), consumer.calls[0].offset)
}

func TestReplayPartition_SkipsUnsupported(t *testing.T) {
	client := singlePartitionClient(2)
	consumer := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{
		0: closedPartitionConsumer([]*sarama.ConsumerMessage{
			{Topic: "sales.sale.created.dlq", Offset: 0, Value: []byte(`{"foo":"bar"}`)},
			consumerDLQMessage(0, 1, "sale-2")[0],
		}),
	}}
	producer := &stubReplayProducer{}
	r := mustReplayer(t, testConfig(true), client, consumer, producer)

	stats, err := r.replayPartition(context.Background(), "sales.sale.created.dlq", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, replayStats{processed: 2, replayed: 1, skipped: 1}, stats)
}

func TestReplayPartition_Errors(t *testing.T) {
	cfg := testConfig(true)

	offsetErr := &stubOffsetClient{offsetErr: map[int32]error{0: errors.New("offset")}}
	r := mustReplayer(t, cfg, offsetErr, &stubPartitionConsumerSource{}, &stubReplayProducer{})
	_, err := r.replayPartition(context.Background(), "t.dlq", 0, 1)
	assert.Error(t, err)

	r = mustReplayer(t, cfg, singlePartitionClient(2), &stubPartitionConsumerSource{consumeErr: errors.New("consume")}, &stubReplayProducer{})
	_, err = r.replayPartition(context.Background(), "t.dlq", 0, 1)
	assert.Error(t, err)

	withErr := &stubPartitionConsumer{
		messages: make(chan *sarama.ConsumerMessage),
		errors:   make(chan *sarama.ConsumerError, 1),
	}
	withErr.errors <- &sarama.ConsumerError{Err: errors.New("consumer boom")}
	r = mustReplayer(t, cfg, singlePartitionClient(2),
		&stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: withErr}}, &stubReplayProducer{})
	_, err = r.replayPartition(context.Background(), "t.dlq", 0, 1)
	assert.ErrorContains(t, err, "consumer error")

	r = mustReplayer(t, cfg, singlePartitionClient(2),
		&stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: closedPartitionConsumer(consumerDLQMessage(0, 0, "sale-1"))}},
		&stubReplayProducer{sendErr: errors.New("send fail")})
	_, err = r.replayPartition(context.Background(), "t.dlq", 0, 1)
	assert.ErrorContains(t, err, "publish replay message")
}

func TestReplayPartition_IdleTimeoutAndContext(t *testing.T) {
	idle := &stubPartitionConsumer{
		messages: make(chan *sarama.ConsumerMessage),
		errors:   make(chan *sarama.ConsumerError),
	}
	r := mustReplayer(t, testConfig(false), singlePartitionClient(2),
		&stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: idle}}, nil)

	stats, err := r.replayPartition(context.Background(), "t.dlq", 0, 1)
	require.NoError(t, err)
	assert.Zero(t, stats.processed)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := testConfig(false)
	cfg.idleTimeout = time.Minute
	r = mustReplayer(t, cfg, singlePartitionClient(2),
		&stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: &stubPartitionConsumer{
			messages: make(chan *sarama.ConsumerMessage),
			errors:   make(chan *sarama.ConsumerError),
		}}}, nil)
	_, err = r.replayPartition(ctx, "t.dlq", 0, 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReplayer_RunRespectsLimitAcrossTopics(t *testing.T) {
	client := &stubOffsetClient{
		partitions: []int32{2, 0},
		offsets: map[int32]offsetRange{
			0: {oldest: 0, newest: 2},
			2: {oldest: 0, newest: 2},
		},
	}
	consumer := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{
		0: closedPartitionConsumer(consumerDLQMessage(0, 0, "sale-1")),
		2: closedPartitionConsumer(consumerDLQMessage(2, 0, "sale-2")),
	}}
	cfg := testConfig(false)
	cfg.limit = 1
	cfg.topics = []string{"sales.sale.created.dlq", "sales.sale.updated.dlq"}
	r := mustReplayer(t, cfg, client, consumer, nil)

	stats, err := r.run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.processed)
	require.Len(t, consumer.calls, 1)
	assert.Equal(t, int32(0), consumer.calls[0].partition)
	assert.Equal(t, "sales.sale.created.dlq", consumer.calls[0].topic)
}

func TestReplayer_RunEmptyAndFailingTopics(t *testing.T) {
	r := mustReplayer(t, testConfig(false), &stubOffsetClient{}, &stubPartitionConsumerSource{}, nil)
	stats, err := r.run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.processed)

	r = mustReplayer(t, testConfig(false), &stubOffsetClient{partitionsErr: errors.New("metadata")}, &stubPartitionConsumerSource{}, nil)
	_, err = r.run(context.Background())
	assert.ErrorContains(t, err, "get partitions")
}

func TestRun_ClosesDependencies(t *testing.T) {
	stubDependencies(t, func(config) (offsetClient, partitionConsumerSource, replayProducer, error) {
		return nil, nil, nil, errors.New("deps failed")
	})
	assert.ErrorContains(t, run(context.Background(), testConfig(false)), "deps failed")

	client := singlePartitionClient(2)
	client.partitions = []int32{0}
	consumer := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{
		0: closedPartitionConsumer(consumerDLQMessage(0, 0, "sale-1")),
	}}
	producer := &stubReplayProducer{}
	stubDependencies(t, func(config) (offsetClient, partitionConsumerSource, replayProducer, error) {
		return client, consumer, producer, nil
	})

	cfg := testConfig(true)
	cfg.topics = []string{"sales.sale.created.dlq"}
	require.NoError(t, run(context.Background(), cfg))
	assert.True(t, client.closed)
	assert.True(t, consumer.closed)
	assert.True(t, producer.closed)
	assert.Equal(t, 1, producer.calls)
}

func testConfig(execute bool) config {
	return config{
		brokers:     []string{"broker:9092"},
		topics:      defaultDLQTopics(),
		limit:       100,
		execute:     execute,
		idleTimeout: 20 * time.Millisecond,
	}
}

func mustReplayer(t *testing.T, cfg config, client offsetClient, consumer partitionConsumerSource, producer replayProducer) *replayer {
	t.Helper()
	r, err := newReplayer(cfg, client, consumer, producer)
	require.NoError(t, err)
	return r
}

func stubDependencies(t *testing.T, fn func(config) (offsetClient, partitionConsumerSource, replayProducer, error)) {
	t.Helper()
	previous := newReplayDependencies
	newReplayDependencies = fn
	t.Cleanup(func() { newReplayDependencies = previous })
}

func consumerDLQMessage(partition int32, offset int64, saleID string) []*sarama.ConsumerMessage {
	value := `{"original_topic":"sales.sale.created","original_key":"` + saleID +
		`","original_value":"{\"id\":\"evt-` + saleID + `\",\"event_type\":\"sale.created\"}"}`
	return []*sarama.ConsumerMessage{{
		Topic:     "sales.sale.created.dlq",
		Partition: partition,
		Offset:    offset,
		Value:     []byte(value),
	}}
}

type offsetRange struct {
	oldest int64
	newest int64
}

type stubOffsetClient struct {
	partitions    []int32
	partitionsErr error
	offsets       map[int32]offsetRange
	offsetErr     map[int32]error
	closed        bool
}

func singlePartitionClient(newest int64) *stubOffsetClient {
	return &stubOffsetClient{
		partitions: []int32{0},
		offsets:    map[int32]offsetRange{0: {oldest: 0, newest: newest}},
	}
}

func (s *stubOffsetClient) GetOffset(_ string, partition int32, marker int64) (int64, error) {
	if err, ok := s.offsetErr[partition]; ok {
		return 0, err
	}
	r := s.offsets[partition]
	switch marker {
	case sarama.OffsetOldest:
		return r.oldest, nil
	case sarama.OffsetNewest:
		return r.newest, nil
	default:
		return 0, errors.New("unsupported offset marker")
	}
}

func (s *stubOffsetClient) Partitions(string) ([]int32, error) {
	if s.partitionsErr != nil {
		return nil, s.partitionsErr
	}
	return append([]int32(nil), s.partitions...), nil
}

func (s *stubOffsetClient) Close() error {
	s.closed = true
	return nil
}

type consumeCall struct {
	topic     string
	partition int32
	offset    int64
}

type stubPartitionConsumerSource struct {
	consumers  map[int32]partitionConsumer
	consumeErr error
	calls      []consumeCall
	closed     bool
}

func (s *stubPartitionConsumerSource) ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error) {
	s.calls = append(s.calls, consumeCall{topic: topic, partition: partition, offset: offset})
	if s.consumeErr != nil {
		return nil, s.consumeErr
	}
	pc, ok := s.consumers[partition]
	if !ok {
		return nil, errors.New("partition " + strings.TrimSpace(topic) + " not configured")
	}
	return pc, nil
}

func (s *stubPartitionConsumerSource) Close() error {
	s.closed = true
	return nil
}

type stubPartitionConsumer struct {
	messages chan *sarama.ConsumerMessage
	errors   chan *sarama.ConsumerError
}

func (s *stubPartitionConsumer) Messages() <-chan *sarama.ConsumerMessage { return s.messages }
func (s *stubPartitionConsumer) Errors() <-chan *sarama.ConsumerError     { return s.errors }
func (s *stubPartitionConsumer) Close() error                             { return nil }

func closedPartitionConsumer(messages []*sarama.ConsumerMessage) *stubPartitionConsumer {
	msgCh := make(chan *sarama.ConsumerMessage, len(messages))
	for _, msg := range messages {
		msgCh <- msg
	}
	close(msgCh)
	return &stubPartitionConsumer{messages: msgCh, errors: make(chan *sarama.ConsumerError)}
}

type stubReplayProducer struct {
	sendErr error
	calls   int
	closed  bool
	lastMsg *sarama.ProducerMessage
}

func (s *stubReplayProducer) SendMessage(msg *sarama.ProducerMessage) (int32, int64, error) {
	s.calls++
	s.lastMsg = msg
	if s.sendErr != nil {
		return 0, 0, s.sendErr
	}
	return 0, int64(s.calls), nil
}

func (s *stubReplayProducer) Close() error {
	s.closed = true
	return nil
}
