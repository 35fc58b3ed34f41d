package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/vladislavdragonenkov/sales/internal/app"
)

const (
	envConfigFile = "SALES_CONFIG_FILE"

	envHTTPAddr       = "SALES_HTTP_ADDR"
	envMetricsAddr    = "SALES_METRICS_ADDR"
	envGRPCHealthAddr = "SALES_GRPC_HEALTH_ADDR"

	envStorageDriver       = "SALES_STORAGE_DRIVER"
	envPostgresDSN         = "SALES_POSTGRES_DSN"
	envPostgresAutoMigrate = "SALES_POSTGRES_AUTO_MIGRATE"

	envEventLogDriver = "SALES_EVENTLOG_DRIVER"
	envMongoURI       = "SALES_MONGO_URI"
	envMongoDatabase  = "SALES_MONGO_DATABASE"

	envKafkaBrokers         = "KAFKA_BROKERS"
	envKafkaGroupID         = "SALES_KAFKA_GROUP_ID"
	envKafkaConsumerRetries = "SALES_KAFKA_CONSUMER_RETRIES"

	envOutboxPollInterval = "SALES_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize    = "SALES_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts  = "SALES_OUTBOX_MAX_ATTEMPTS"
	envOutboxRetryDelay   = "SALES_OUTBOX_RETRY_DELAY"
	envOutboxMaxPending   = "SALES_OUTBOX_MAX_PENDING"

	envIdempotencyTTL              = "SALES_IDEMPOTENCY_TTL"
	envIdempotencyCleanupInterval  = "SALES_IDEMPOTENCY_CLEANUP_INTERVAL"
	envIdempotencyCleanupBatchSize = "SALES_IDEMPOTENCY_CLEANUP_BATCH_SIZE"

	envLogLevel  = "SALES_LOG_LEVEL"
	envLogFormat = "SALES_LOG_FORMAT"
)

type envLookup func(key string) (string, bool)

// readConfig собирает конфигурацию: значения по умолчанию, затем YAML-файл
// из SALES_CONFIG_FILE, затем переменные окружения.
func readConfig(lookup envLookup) (app.Config, []string, error) {
	cfg := app.DefaultConfig()
	if path, ok := lookup(envConfigFile); ok && strings.TrimSpace(path) != "" {
		fileCfg, err := loadConfigFile(strings.TrimSpace(path), cfg)
		if err != nil {
			return cfg, nil, err
		}
		cfg = fileCfg
	}
	cfg, warnings := applyEnv(cfg, lookup)
	return cfg, warnings, nil
}

// loadConfigFile накладывает YAML-файл на base; отсутствующие ключи сохраняют значения base.
func loadConfigFile(path string, base app.Config) (app.Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("read config file %s: %w", path, err)
	}
	cfg := base
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return base, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// readConfigFromEnv применяет переменные окружения к конфигурации по умолчанию.
func readConfigFromEnv(lookup envLookup) (app.Config, []string) {
	return applyEnv(app.DefaultConfig(), lookup)
}

// applyEnv переопределяет поля cfg. Некорректные значения пропускаются
// с предупреждением, поле сохраняет прежнее значение.
func applyEnv(cfg app.Config, lookup envLookup) (app.Config, []string) {
	var warnings []string
	warn := func(key, value string, err error) {
		warnings = append(warnings, fmt.Sprintf("ignoring %s=%q: %v", key, value, err))
	}

	setString := func(key string, target *string, normalize func(string) string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*target = normalize(v)
		}
	}
	setBool := func(key string, target *bool) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseBool(v)
		if err != nil {
			warn(key, v, err)
			return
		}
		*target = parsed
	}
	setInt := func(key string, target *int, valid func(int) bool, rule string) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseInt(v, valid, rule)
		if err != nil {
			warn(key, v, err)
			return
		}
		*target = parsed
	}
	setDuration := func(key string, target *time.Duration, valid func(time.Duration) bool, rule string) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseDuration(v, valid, rule)
		if err != nil {
			warn(key, v, err)
			return
		}
		*target = parsed
	}

	positive := func(v int) bool { return v > 0 }
	nonNegative := func(v int) bool { return v >= 0 }
	positiveDuration := func(v time.Duration) bool { return v > 0 }
	nonNegativeDuration := func(v time.Duration) bool { return v >= 0 }

	setString(envHTTPAddr, &cfg.HTTPAddr, strings.TrimSpace)
	setString(envMetricsAddr, &cfg.MetricsAddr, strings.TrimSpace)
	setString(envGRPCHealthAddr, &cfg.GRPCHealthAddr, strings.TrimSpace)

	setString(envStorageDriver, &cfg.StorageDriver, normalizeName)
	setString(envPostgresDSN, &cfg.PostgresDSN, strings.TrimSpace)
	setBool(envPostgresAutoMigrate, &cfg.PostgresAutoMigrate)

	setString(envEventLogDriver, &cfg.EventLogDriver, normalizeName)
	setString(envMongoURI, &cfg.MongoURI, strings.TrimSpace)
	setString(envMongoDatabase, &cfg.MongoDatabase, strings.TrimSpace)

	setString(envKafkaBrokers, &cfg.KafkaBrokers, strings.TrimSpace)
	setString(envKafkaGroupID, &cfg.KafkaGroupID, strings.TrimSpace)
	setInt(envKafkaConsumerRetries, &cfg.KafkaConsumerRetries, positive, "must be > 0")

	setDuration(envOutboxPollInterval, &cfg.OutboxPollInterval, positiveDuration, "must be > 0")
	setInt(envOutboxBatchSize, &cfg.OutboxBatchSize, positive, "must be > 0")
	setInt(envOutboxMaxAttempts, &cfg.OutboxMaxAttempts, positive, "must be > 0")
	setDuration(envOutboxRetryDelay, &cfg.OutboxRetryDelay, nonNegativeDuration, "must be >= 0")
	setInt(envOutboxMaxPending, &cfg.OutboxMaxPending, nonNegative, "must be >= 0")

	setDuration(envIdempotencyTTL, &cfg.IdempotencyTTL, positiveDuration, "must be > 0")
	setDuration(envIdempotencyCleanupInterval, &cfg.IdempotencyCleanupInterval, positiveDuration, "must be > 0")
	setInt(envIdempotencyCleanupBatchSize, &cfg.IdempotencyCleanupBatchSize, positive, "must be > 0")

	setString(envLogLevel, &cfg.LogLevel, normalizeName)
	setString(envLogFormat, &cfg.LogFormat, normalizeName)

	return cfg, warnings
}

// setupLogger настраивает формат и уровень логирования для сервиса.
func setupLogger(cfg app.Config) {
	if cfg.LogFormat == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.WithError(err).Warn("unknown log level, using info")
		level = log.InfoLevel
	}
	log.SetLevel(level)
}

func normalizeName(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

func parseBool(raw string) (bool, error) {
	switch normalizeName(raw) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid bool value %q", raw)
	}
}

func parseInt(raw string, valid func(int) bool, rule string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q: %w", raw, err)
	}
	if valid != nil && !valid(value) {
		return 0, fmt.Errorf("value %d %s", value, rule)
	}
	return value, nil
}

func parseDuration(raw string, valid func(time.Duration) bool, rule string) (time.Duration, error) {
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	if valid != nil && !valid(value) {
		return 0, fmt.Errorf("value %s %s", value, rule)
	}
	return value, nil
}
