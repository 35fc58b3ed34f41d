package app

import (
	"context"
	"testing"

	log "github.com/sirupsen/logrus"
)

func TestInitRuntimeDependencies_Memory(t *testing.T) {
	t.Parallel()

	deps, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: StorageDriverMemory,
	}, log.WithField("test", "memory-storage"))
	if err != nil {
		t.Fatalf("initRuntimeDependencies(memory) failed: %v", err)
	}
	defer deps.close(context.Background(), log.WithField("test", "memory-storage"))

	if deps.saleRepo == nil {
		t.Fatal("saleRepo should not be nil for memory storage")
	}
	if deps.outboxRepo == nil {
		t.Fatal("outboxRepo should not be nil for memory storage")
	}
	if deps.eventLogRepo == nil {
		t.Fatal("eventLogRepo should not be nil for memory storage")
	}
	if deps.idempotencyRepo == nil {
		t.Fatal("idempotencyRepo should not be nil for memory storage")
	}
	if len(deps.checkers) != 0 {
		t.Fatalf("memory storage should not register health checkers, got %d", len(deps.checkers))
	}
}

func TestInitRuntimeDependencies_NormalizesDrivers(t *testing.T) {
	t.Parallel()

	deps, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver:  " Memory ",
		EventLogDriver: "MEMORY",
	}, log.WithField("test", "normalize"))
	if err != nil {
		t.Fatalf("expected drivers to be normalized, got %v", err)
	}
	deps.close(context.Background(), log.WithField("test", "normalize"))
}

func TestInitRuntimeDependencies_PostgresRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: StorageDriverPostgres,
	}, log.WithField("test", "postgres-missing-dsn"))
	if err == nil {
		t.Fatal("expected error when postgres driver is selected without DSN")
	}
}

func TestInitRuntimeDependencies_MongoRequiresURI(t *testing.T) {
	t.Parallel()

	_, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver:  StorageDriverMemory,
		EventLogDriver: EventLogDriverMongo,
	}, log.WithField("test", "mongo-missing-uri"))
	if err == nil {
		t.Fatal("expected error when mongo event log is selected without URI")
	}
}

func TestInitRuntimeDependencies_UnsupportedDriver(t *testing.T) {
	t.Parallel()

	_, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: "sqlite",
	}, log.WithField("test", "unsupported-driver"))
	if err == nil {
		t.Fatal("expected error for unsupported storage driver")
	}
}

func TestRuntimeDependencies_CloseRunsInReverseOrder(t *testing.T) {
	var order []int
	deps := &runtimeDependencies{}
	for i := 0; i < 3; i++ {
		i := i
		deps.closers = append(deps.closers, func(context.Context) error {
			order = append(order, i)
			return nil
		})
	}

	deps.close(context.Background(), log.WithField("test", "close"))
	deps.close(context.Background(), log.WithField("test", "close"))

	if len(order) != 3 || order[0] != 2 || order[2] != 0 {
		t.Fatalf("unexpected close order %v", order)
	}

	var nilDeps *runtimeDependencies
	nilDeps.close(context.Background(), log.WithField("test", "close"))
}
