package app

import (
	"fmt"
	"strings"
	"time"
)

const (
	// StorageDriverMemory хранит продажи в памяти процесса.
	StorageDriverMemory = "memory"
	// StorageDriverPostgres использует PostgreSQL как основную БД.
	StorageDriverPostgres = "postgres"

	// EventLogDriverMemory держит журнал событий в памяти.
	EventLogDriverMemory = "memory"
	// EventLogDriverMongo пишет журнал событий в MongoDB.
	EventLogDriverMongo = "mongo"
)

// Config описывает настройки запуска sales-service.
type Config struct {
	HTTPAddr       string `yaml:"http_addr"`
	MetricsAddr    string `yaml:"metrics_addr"`
	GRPCHealthAddr string `yaml:"grpc_health_addr"`

	StorageDriver       string `yaml:"storage_driver"`
	PostgresDSN         string `yaml:"postgres_dsn"`
	PostgresAutoMigrate bool   `yaml:"postgres_auto_migrate"`

	EventLogDriver string `yaml:"eventlog_driver"`
	MongoURI       string `yaml:"mongo_uri"`
	MongoDatabase  string `yaml:"mongo_database"`

	// KafkaBrokers - список брокеров через запятую; пустое значение отключает Kafka.
	KafkaBrokers         string `yaml:"kafka_brokers"`
	KafkaGroupID         string `yaml:"kafka_group_id"`
	KafkaConsumerRetries int    `yaml:"kafka_consumer_retries"`

	OutboxPollInterval time.Duration `yaml:"outbox_poll_interval"`
	OutboxBatchSize    int           `yaml:"outbox_batch_size"`
	OutboxMaxAttempts  int           `yaml:"outbox_max_attempts"`
	OutboxRetryDelay   time.Duration `yaml:"outbox_retry_delay"`
	// OutboxMaxPending - порог backlog для health check; 0 отключает проверку.
	OutboxMaxPending int `yaml:"outbox_max_pending"`

	IdempotencyTTL              time.Duration `yaml:"idempotency_ttl"`
	IdempotencyCleanupInterval  time.Duration `yaml:"idempotency_cleanup_interval"`
	IdempotencyCleanupBatchSize int           `yaml:"idempotency_cleanup_batch_size"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DefaultConfig возвращает конфигурацию для локального запуска без внешних зависимостей.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:       ":8080",
		MetricsAddr:    ":9090",
		GRPCHealthAddr: ":50051",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,

		EventLogDriver: EventLogDriverMemory,
		MongoDatabase:  "sales",

		KafkaGroupID:         "sales-event-log",
		KafkaConsumerRetries: 3,

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  5,
		OutboxRetryDelay:   50 * time.Millisecond,
		OutboxMaxPending:   1000,

		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  10 * time.Minute,
		IdempotencyCleanupBatchSize: 500,

		LogLevel:  "info",
		LogFormat: "text",

		ShutdownTimeout: 5 * time.Second,
	}
}

// Brokers разбирает KafkaBrokers в список адресов.
func (c Config) Brokers() []string {
	var brokers []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// KafkaEnabled сообщает, настроены ли брокеры.
func (c Config) KafkaEnabled() bool {
	return len(c.Brokers()) > 0
}

// Validate проверяет сочетание драйверов и обязательных параметров.
func (c Config) Validate() error {
	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			return fmt.Errorf("postgres dsn is required for storage driver %q", c.StorageDriver)
		}
	default:
		return fmt.Errorf("unsupported storage driver %q", c.StorageDriver)
	}

	switch c.EventLogDriver {
	case EventLogDriverMemory:
	case EventLogDriverMongo:
		if strings.TrimSpace(c.MongoURI) == "" {
			return fmt.Errorf("mongo uri is required for event log driver %q", c.EventLogDriver)
		}
	default:
		return fmt.Errorf("unsupported event log driver %q", c.EventLogDriver)
	}
	return nil
}
