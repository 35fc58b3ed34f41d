package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/sales/internal/domain"
	"github.com/vladislavdragonenkov/sales/internal/metrics"
)

const (
	defaultCleanupInterval  = 10 * time.Minute
	defaultCleanupBatchSize = 500
)

// CleanupWorker удаляет ключи Idempotency-Key, у которых истёк TTL.
type CleanupWorker struct {
	repo      domain.IdempotencyRepository
	logger    *log.Entry
	now       func() time.Time
	interval  time.Duration
	batchSize int

	registerer prometheus.Registerer
	passes     *prometheus.CounterVec
	purged     prometheus.Counter
	lastPurged prometheus.Gauge
}

// CleanupOption настраивает CleanupWorker.
type CleanupOption func(*CleanupWorker)

func WithLogger(logger *log.Entry) CleanupOption {
	return func(w *CleanupWorker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithRegisterer задаёт реестр метрик; nil отключает регистрацию.
func WithRegisterer(registerer prometheus.Registerer) CleanupOption {
	return func(w *CleanupWorker) { w.registerer = registerer }
}

// WithInterval задаёт паузу между проходами; значения <= 0 игнорируются.
func WithInterval(interval time.Duration) CleanupOption {
	return func(w *CleanupWorker) {
		if interval > 0 {
			w.interval = interval
		}
	}
}

// WithBatchSize ограничивает число ключей, удаляемых одним запросом к хранилищу.
func WithBatchSize(size int) CleanupOption {
	return func(w *CleanupWorker) {
		if size > 0 {
			w.batchSize = size
		}
	}
}

// WithCleanupClock подменяет источник времени, относительно которого ключ считается просроченным.
func WithCleanupClock(now func() time.Time) CleanupOption {
	return func(w *CleanupWorker) {
		if now != nil {
			w.now = now
		}
	}
}

func NewCleanupWorker(repo domain.IdempotencyRepository, options ...CleanupOption) *CleanupWorker {
	w := &CleanupWorker{
		repo:       repo,
		logger:     log.WithField("component", "idempotency-cleanup"),
		now:        func() time.Time { return time.Now().UTC() },
		interval:   defaultCleanupInterval,
		batchSize:  defaultCleanupBatchSize,
		registerer: prometheus.DefaultRegisterer,
	}
	for _, option := range options {
		option(w)
	}

	w.passes = metrics.Register(w.registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sales_idempotency_cleanup_runs_total",
		Help: "Idempotency key cleanup passes by result.",
	}, []string{"result"}))
	w.purged = metrics.Register(w.registerer, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sales_idempotency_cleanup_deleted_total",
		Help: "Expired idempotency keys removed.",
	}))
	w.lastPurged = metrics.Register(w.registerer, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sales_idempotency_cleanup_last_deleted",
		Help: "Idempotency keys removed by the last cleanup pass.",
	}))
	return w
}

// Run делает проход сразу и затем раз в interval, пока ctx не отменён.
func (w *CleanupWorker) Run(ctx context.Context) {
	if w.repo == nil {
		w.logger.Warn("no idempotency repository, cleanup disabled")
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.pass(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *CleanupWorker) pass(ctx context.Context) {
	purged, err := w.PurgeExpired(ctx)
	switch {
	case errors.Is(err, context.Canceled):
	case err != nil:
		w.passes.WithLabelValues("error").Inc()
		w.logger.WithError(err).WithField("purged", purged).Warn("idempotency cleanup pass failed")
	default:
		w.passes.WithLabelValues("ok").Inc()
		w.lastPurged.Set(float64(purged))
		if purged > 0 {
			w.logger.WithField("purged", purged).Info("expired idempotency keys removed")
		}
	}
}

// PurgeExpired удаляет ключи, просроченные на текущий момент.
// Удаление идёт порциями по batchSize, пока хранилище не вернёт неполную порцию.
func (w *CleanupWorker) PurgeExpired(ctx context.Context) (int, error) {
	cutoff := w.now()
	var total int
	for ctx.Err() == nil {
		n, err := w.repo.DeleteExpired(cutoff, w.batchSize)
		if err != nil {
			return total, err
		}
		total += n
		w.purged.Add(float64(n))
		if n < w.batchSize {
			return total, nil
		}
	}
	return total, ctx.Err()
}
