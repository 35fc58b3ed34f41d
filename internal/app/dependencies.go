package app

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/sales/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/sales/internal/health"
	"github.com/vladislavdragonenkov/sales/internal/storage/memory"
	"github.com/vladislavdragonenkov/sales/internal/storage/mongo"
	"github.com/vladislavdragonenkov/sales/internal/storage/postgres"
)

// runtimeDependencies - хранилища, выбранные конфигурацией, и их health checks.
type runtimeDependencies struct {
	saleRepo        domain.SaleRepository
	outboxRepo      domain.OutboxRepository
	eventLogRepo    domain.EventLogRepository
	idempotencyRepo domain.IdempotencyRepository

	checkers map[string]healthcheck.Checker
	closers  []func(ctx context.Context) error
}

// initRuntimeDependencies подключает основное хранилище и журнал событий.
// При ошибке уже открытые подключения закрываются.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (deps *runtimeDependencies, err error) {
	cfg.StorageDriver = strings.ToLower(strings.TrimSpace(cfg.StorageDriver))
	cfg.EventLogDriver = strings.ToLower(strings.TrimSpace(cfg.EventLogDriver))
	if cfg.EventLogDriver == "" {
		cfg.EventLogDriver = EventLogDriverMemory
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	deps = &runtimeDependencies{checkers: make(map[string]healthcheck.Checker)}
	defer func() {
		if err != nil {
			deps.close(context.Background(), logger)
			deps = nil
		}
	}()

	if err := deps.initStorage(ctx, cfg, logger); err != nil {
		return deps, err
	}
	if err := deps.initEventLog(ctx, cfg, logger); err != nil {
		return deps, err
	}
	return deps, nil
}

func (d *runtimeDependencies) initStorage(ctx context.Context, cfg Config, logger *log.Entry) error {
	switch cfg.StorageDriver {
	case StorageDriverPostgres:
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		d.closers = append(d.closers, func(context.Context) error { return store.Close() })

		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				return fmt.Errorf("apply postgres migrations: %w", err)
			}
			logger.Info("postgres migrations applied")
		}

		d.saleRepo = postgres.NewSaleRepository(store)
		d.outboxRepo = postgres.NewOutboxRepository(store)
		d.idempotencyRepo = postgres.NewIdempotencyRepository(store)
		d.checkers["postgres"] = healthcheck.NewPingChecker("postgres", 0, store.Ping)
		logger.Info("using postgres storage")
	default:
		outboxRepo := memory.NewOutboxRepository()
		d.outboxRepo = outboxRepo
		d.saleRepo = memory.NewSaleRepository(outboxRepo)
		d.idempotencyRepo = memory.NewIdempotencyRepository()
		logger.Info("using in-memory storage")
	}
	return nil
}

func (d *runtimeDependencies) initEventLog(ctx context.Context, cfg Config, logger *log.Entry) error {
	switch cfg.EventLogDriver {
	case EventLogDriverMongo:
		client, err := mongo.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return fmt.Errorf("connect event log store: %w", err)
		}
		d.closers = append(d.closers, client.Close)

		repo, err := mongo.NewEventLogRepository(ctx, client)
		if err != nil {
			return err
		}
		d.eventLogRepo = repo
		d.checkers["mongo"] = healthcheck.NewPingChecker("mongo", 0, client.Ping)
		logger.WithField("database", cfg.MongoDatabase).Info("using mongo event log")
	default:
		d.eventLogRepo = memory.NewEventLogRepository()
		logger.Info("using in-memory event log")
	}
	return nil
}

// close освобождает подключения в обратном порядке открытия.
func (d *runtimeDependencies) close(ctx context.Context, logger *log.Entry) {
	if d == nil {
		return
	}
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](ctx); err != nil {
			logger.WithError(err).Warn("failed to close storage connection")
		}
	}
	d.closers = nil
}
