package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	healthcheck "github.com/vladislavdragonenkov/sales/internal/health"
	"github.com/vladislavdragonenkov/sales/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/sales/internal/metrics"
	"github.com/vladislavdragonenkov/sales/internal/service/eventlog"
	"github.com/vladislavdragonenkov/sales/internal/service/idempotency"
	"github.com/vladislavdragonenkov/sales/internal/service/outbox"
	"github.com/vladislavdragonenkov/sales/internal/service/sales"
	"github.com/vladislavdragonenkov/sales/internal/transport/httpapi"
	"github.com/vladislavdragonenkov/sales/internal/version"
)

// healthServiceName - имя сервиса в gRPC health protocol.
const healthServiceName = "sales.SalesService"

// Run поднимает HTTP API, фоновые worker-ы и служебные серверы и блокируется
// до отмены ctx или падения HTTP-сервера.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	deps, err := initRuntimeDependencies(ctx, cfg, logger.WithField("layer", "storage"))
	if err != nil {
		return err
	}
	defer deps.close(context.Background(), logger)

	salesMetrics := metrics.NewSalesMetrics()
	projector := eventlog.NewProjector(deps.eventLogRepo, salesMetrics, logger.WithField("layer", "eventlog"))

	kafkaProducer, kafkaConsumer := initKafka(ctx, cfg, projector, logger)
	publisher, dlqPublisher := createOutboxPublishers(kafkaProducer, projector)

	workerOptions := []outbox.Option{
		outbox.WithLogger(logger.WithField("layer", "outbox")),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	}
	if dlqPublisher != nil {
		workerOptions = append(workerOptions, outbox.WithDLQPublisher(dlqPublisher))
	}
	outboxWorker := outbox.NewWorker(deps.outboxRepo, publisher, workerOptions...)
	cleanupWorker := idempotency.NewCleanupWorker(deps.idempotencyRepo,
		idempotency.WithLogger(logger.WithField("layer", "idempotency-cleanup")),
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
	)

	workersCtx, cancelWorkers := context.WithCancel(context.Background())
	outboxDone := runBackground(workersCtx, outboxWorker.Run)
	cleanupDone := runBackground(workersCtx, cleanupWorker.Run)

	service := sales.NewService(deps.saleRepo, deps.eventLogRepo,
		sales.WithLogger(logger.WithField("layer", "service")),
		sales.WithMetrics(salesMetrics),
		sales.WithNotifier(outboxWorker),
	)
	router := httpapi.NewRouter(httpapi.RouterConfig{
		Service: service,
		Guard:   idempotency.NewGuard(deps.idempotencyRepo, cfg.IdempotencyTTL, logger.WithField("layer", "idempotency")),
		Metrics: metrics.NewHTTPMetrics(prometheus.DefaultRegisterer),
		Logger:  logger.WithField("layer", "http"),
	})

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	for name, checker := range deps.checkers {
		healthHandler.RegisterChecker(name, checker)
	}
	if cfg.OutboxMaxPending > 0 {
		healthHandler.RegisterChecker("outbox", healthcheck.NewOutboxBacklogChecker(deps.outboxRepo, cfg.OutboxMaxPending, 0))
	}
	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)

	grpcServer, healthServer, grpcErrCh, err := startGRPCHealthServer(cfg.GRPCHealthAddr, logger)
	if err != nil {
		shutdownOutboxWorker(cancelWorkers, outboxDone, logger)
		<-cleanupDone
		stopKafka(kafkaConsumer, kafkaProducer, logger)
		shutdownHTTP(metricsSrv, logger)
		return err
	}

	lis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		stopGRPC(grpcServer, healthServer, logger)
		shutdownOutboxWorker(cancelWorkers, outboxDone, logger)
		<-cleanupDone
		stopKafka(kafkaConsumer, kafkaProducer, logger)
		shutdownHTTP(metricsSrv, logger)
		return fmt.Errorf("listen http %s: %w", cfg.HTTPAddr, err)
	}

	httpSrv := &http.Server{Handler: router, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("HTTP API слушает %s", lis.Addr())
		if err := httpSrv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем sales-service")
		runErr = ctx.Err()
	case err := <-errCh:
		runErr = err
	case err := <-grpcErrCh:
		runErr = fmt.Errorf("grpc health server: %w", err)
	}

	shutdownHTTPWithTimeout(httpSrv, cfg.ShutdownTimeout, logger)
	stopGRPC(grpcServer, healthServer, logger)
	// Worker останавливается после HTTP, чтобы успеть забрать последние записи outbox.
	shutdownOutboxWorker(cancelWorkers, outboxDone, logger)
	<-cleanupDone
	stopKafka(kafkaConsumer, kafkaProducer, logger)
	shutdownHTTP(metricsSrv, logger)

	return runErr
}

// initKafka поднимает producer и consumer журнала событий. Любая ошибка
// переводит сервис в режим без Kafka.
func initKafka(ctx context.Context, cfg Config, projector *eventlog.Projector, logger *log.Entry) (*kafka.Producer, *kafka.Consumer) {
	if !cfg.KafkaEnabled() {
		return nil, nil
	}

	producer, err := initKafkaProducer(cfg.Brokers(), logger)
	if err != nil || producer == nil {
		return nil, nil
	}

	consumer, err := startEventLogConsumer(ctx, cfg, producer, projector, logger)
	if err != nil {
		logger.WithError(err).Warn("failed to start kafka consumer, event log is fed in-process")
		closeKafkaProducer(producer, logger)
		return nil, nil
	}
	return producer, consumer
}

func stopKafka(consumer *kafka.Consumer, producer *kafka.Producer, logger *log.Entry) {
	stopKafkaConsumer(consumer, logger)
	closeKafkaProducer(producer, logger)
}

// startGRPCHealthServer запускает gRPC health service с Prometheus-интерсепторами.
func startGRPCHealthServer(addr string, logger *log.Entry) (*grpc.Server, *health.Server, <-chan error, error) {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok2 := are.ExistingCollector.(*promgrpc.ServerMetrics); ok2 {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(grpcMetrics.StreamServerInterceptor()),
	)
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)
	grpcMetrics.InitializeMetrics(grpcServer)

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("listen grpc %s: %w", addr, err)
	}

	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(healthServiceName, healthpb.HealthCheckResponse_SERVING)

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("gRPC health сервер слушает %s", lis.Addr())
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- err
		}
	}()
	return grpcServer, healthServer, errCh, nil
}

// stopGRPC переводит health в NOT_SERVING и останавливает сервер.
func stopGRPC(grpcServer *grpc.Server, healthServer *health.Server, logger *log.Entry) {
	if grpcServer == nil {
		return
	}
	if healthServer != nil {
		healthServer.Shutdown()
	}

	stoppedCh := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stoppedCh)
	}()
	select {
	case <-stoppedCh:
	case <-time.After(5 * time.Second):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		grpcServer.Stop()
	}
}

// runBackground запускает fn в горутине и закрывает канал по её завершении.
func runBackground(ctx context.Context, fn func(context.Context)) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn(ctx)
	}()
	return done
}

// shutdownOutboxWorker останавливает worker и ждёт выхода из Run.
func shutdownOutboxWorker(cancel context.CancelFunc, done <-chan struct{}, logger *log.Entry) {
	if cancel != nil {
		cancel()
	}
	if done == nil {
		return
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		logger.Warn("outbox worker did not stop in time")
	}
}

// startMetricsServer запускает HTTP-обработчик /metrics для Prometheus и health probes.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/livez, %s/readyz", addr, addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	shutdownHTTPWithTimeout(srv, 5*time.Second, logger)
}

func shutdownHTTPWithTimeout(srv *http.Server, timeout time.Duration, logger *log.Entry) {
	if srv == nil {
		return
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
