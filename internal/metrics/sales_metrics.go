package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Результаты операций для меток.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// SalesMetrics содержит метрики операций с продажами.
type SalesMetrics struct {
	// Счётчики изменений состояния продаж
	salesCreated   prometheus.Counter
	salesUpdated   prometheus.Counter
	salesCancelled prometheus.Counter

	// Операции сервиса по имени и результату
	operations        *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec

	// Суммы и скидки в минимальных денежных единицах
	revenueMinor  prometheus.Counter
	discountMinor prometheus.Counter

	// Журнал событий
	eventLogAppended *prometheus.CounterVec
}

// NewSalesMetrics создаёт метрики в DefaultRegisterer.
func NewSalesMetrics() *SalesMetrics {
	return NewSalesMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewSalesMetricsWithRegisterer создаёт метрики в указанном реестре
// (повторная регистрация возвращает уже существующие коллекторы).
func NewSalesMetricsWithRegisterer(registerer prometheus.Registerer) *SalesMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &SalesMetrics{
		salesCreated: Register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sales_created_total",
			Help: "Total number of sales created",
		})),
		salesUpdated: Register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sales_updated_total",
			Help: "Total number of sales updated",
		})),
		salesCancelled: Register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sales_cancelled_total",
			Help: "Total number of sales cancelled",
		})),
		operations: Register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sales_operations_total",
			Help: "Sales service operations by name and result",
		}, []string{"operation", "result"})),
		operationDuration: Register(registerer, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sales_operation_duration_seconds",
			Help:    "Duration of sales service operations in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"operation"})),
		revenueMinor: Register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sales_revenue_minor_total",
			Help: "Sum of created sale totals in minor currency units",
		})),
		discountMinor: Register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sales_discount_minor_total",
			Help: "Sum of discounts granted on created sales in minor currency units",
		})),
		eventLogAppended: Register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sales_event_log_appended_total",
			Help: "Sale events written to the event log by type",
		}, []string{"type"})),
	}
}

// Register регистрирует коллектор или возвращает ранее зарегистрированный того же типа.
// С nil registerer коллектор возвращается как есть.
func Register[T prometheus.Collector](registerer prometheus.Registerer, collector T) T {
	if registerer == nil {
		return collector
	}
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(T)
			if !ok {
				panic(fmt.Sprintf("collector already registered with unexpected type %T", alreadyRegistered.ExistingCollector))
			}
			return existing
		}
		panic(fmt.Sprintf("register collector: %v", err))
	}
	return collector
}

// RecordSaleCreated учитывает созданную продажу и её суммы.
func (m *SalesMetrics) RecordSaleCreated(totalBeforeDiscount, total int64) {
	if m == nil {
		return
	}
	m.salesCreated.Inc()
	if total > 0 {
		m.revenueMinor.Add(float64(total))
	}
	if discount := totalBeforeDiscount - total; discount > 0 {
		m.discountMinor.Add(float64(discount))
	}
}

// RecordSaleUpdated увеличивает счётчик обновлённых продаж.
func (m *SalesMetrics) RecordSaleUpdated() {
	if m == nil {
		return
	}
	m.salesUpdated.Inc()
}

// RecordSaleCancelled увеличивает счётчик отменённых продаж.
func (m *SalesMetrics) RecordSaleCancelled() {
	if m == nil {
		return
	}
	m.salesCancelled.Inc()
}

// ObserveOperation фиксирует результат и длительность операции сервиса.
func (m *SalesMetrics) ObserveOperation(operation string, started time.Time, err error) {
	if m == nil {
		return
	}
	result := ResultSuccess
	if err != nil {
		result = ResultError
	}
	m.operations.WithLabelValues(operation, result).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

// RecordEventLogAppended учитывает запись в журнал событий.
func (m *SalesMetrics) RecordEventLogAppended(eventType string) {
	if m == nil {
		return
	}
	m.eventLogAppended.WithLabelValues(eventType).Inc()
}
