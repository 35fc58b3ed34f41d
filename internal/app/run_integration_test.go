package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"

	healthcheck "github.com/vladislavdragonenkov/sales/internal/health"
)

func TestRun_MemoryGracefulShutdown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.GRPCHealthAddr = "127.0.0.1:0"
	cfg.MetricsAddr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(150 * time.Millisecond)
		cancel()
	}()

	err := Run(ctx, cfg)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRun_ServesSalesAPI(t *testing.T) {
	port := findFreePort(t)

	cfg := DefaultConfig()
	cfg.HTTPAddr = fmt.Sprintf("127.0.0.1:%d", port)
	cfg.GRPCHealthAddr = "127.0.0.1:0"
	cfg.MetricsAddr = "127.0.0.1:0"
	cfg.OutboxPollInterval = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, cfg) }()
	defer func() {
		cancel()
		<-done
	}()

	baseURL := fmt.Sprintf("http://127.0.0.1:%d/api/sales", port)
	body := `{"saleDate":"2024-01-10T10:00:00Z","customerId":1,"customerName":"Acme","branchId":2,"branchName":"Main",` +
		`"items":[{"productId":1,"productName":"Widget","quantity":4,"unitPrice":2.5}]}`

	var resp *http.Response
	var err error
	for attempt := 0; attempt < 50; attempt++ {
		resp, err = http.Post(baseURL, "application/json", bytes.NewBufferString(body))
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("sales api is not reachable: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	location := resp.Header.Get("Location")
	if !strings.HasPrefix(location, "/api/sales/") {
		t.Fatalf("unexpected location %q", location)
	}

	// Outbox worker доставляет событие в журнал в фоне.
	eventsURL := fmt.Sprintf("http://127.0.0.1:%d%s/events", port, location)
	deadline := time.Now().Add(2 * time.Second)
	for {
		eventsResp, err := http.Get(eventsURL)
		if err != nil {
			t.Fatalf("get events: %v", err)
		}
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(eventsResp.Body)
		eventsResp.Body.Close()

		if strings.Contains(buf.String(), `"SaleCreated"`) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("sale event did not reach the event log: %s", buf.String())
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestRun_InvalidStorageDriver(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StorageDriver = "invalid-driver"
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.GRPCHealthAddr = "127.0.0.1:0"
	cfg.MetricsAddr = "127.0.0.1:0"

	err := Run(context.Background(), cfg)
	if err == nil || !strings.Contains(err.Error(), "unsupported storage driver") {
		t.Fatalf("expected unsupported storage driver error, got %v", err)
	}
}

func TestInitRuntimeDependencies_PostgresSuccess(t *testing.T) {
	dsn := postgresTestDSNCandidate()
	if dsn == "" {
		t.Skip("postgres dsn is not available")
	}

	cfg := DefaultConfig()
	cfg.StorageDriver = StorageDriverPostgres
	cfg.PostgresDSN = dsn
	cfg.PostgresAutoMigrate = true

	logger := log.WithField("test", "postgres-init")
	deps, err := initRuntimeDependencies(context.Background(), cfg, logger)
	if err != nil {
		t.Skipf("postgres is not available for app integration test: %v", err)
	}
	defer deps.close(context.Background(), logger)

	if deps.saleRepo == nil || deps.outboxRepo == nil || deps.idempotencyRepo == nil {
		t.Fatalf("postgres dependencies must be initialized: %+v", deps)
	}
	checker, ok := deps.checkers["postgres"]
	if !ok {
		t.Fatal("expected postgres health checker")
	}
	if check := checker.Check(); check.Status != healthcheck.StatusHealthy {
		t.Fatalf("expected healthy storage checker, got %+v", check)
	}
}

func TestShutdownHelpers(t *testing.T) {
	logger := log.WithField("test", "shutdown")

	cancelCalled := false
	done := make(chan struct{})
	close(done)
	shutdownOutboxWorker(func() { cancelCalled = true }, done, logger)
	if !cancelCalled {
		t.Fatal("expected outbox cancel func to be called")
	}

	shutdownOutboxWorker(nil, nil, logger)
	stopGRPC(nil, nil, logger)
	stopKafka(nil, nil, logger)

	ctx, cancel := context.WithCancel(context.Background())
	finished := runBackground(ctx, func(ctx context.Context) { <-ctx.Done() })
	cancel()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("background func did not stop")
	}
}

func TestStartGRPCHealthServer(t *testing.T) {
	logger := log.WithField("test", "grpc-health")

	grpcServer, healthServer, errCh, err := startGRPCHealthServer("127.0.0.1:0", logger)
	if err != nil {
		t.Fatalf("startGRPCHealthServer failed: %v", err)
	}
	stopGRPC(grpcServer, healthServer, logger)

	select {
	case err := <-errCh:
		t.Fatalf("unexpected serve error: %v", err)
	default:
	}

	if _, _, _, err := startGRPCHealthServer("bad-address", logger); err == nil {
		t.Fatal("expected listen error for invalid address")
	}
}

func postgresTestDSNCandidate() string {
	return strings.TrimSpace(os.Getenv("SALES_POSTGRES_TEST_DSN"))
}
