package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics содержит метрики входящих HTTP-запросов.
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inFlight prometheus.Gauge
}

// NewHTTPMetrics создаёт HTTP-метрики в указанном реестре.
func NewHTTPMetrics(registerer prometheus.Registerer) *HTTPMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &HTTPMetrics{
		requests: Register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sales_http_requests_total",
			Help: "HTTP requests by method, route and status code",
		}, []string{"method", "route", "code"})),
		duration: Register(registerer, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sales_http_request_duration_seconds",
			Help:    "HTTP request latency by method and route",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"})),
		inFlight: Register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sales_http_requests_in_flight",
			Help: "Number of HTTP requests being served",
		})),
	}
}

// Started отмечает начало обработки запроса.
func (m *HTTPMetrics) Started() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

// Finished фиксирует завершение запроса.
func (m *HTTPMetrics) Finished(method, route string, code int, started time.Time) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.inFlight.Dec()
	m.requests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.duration.WithLabelValues(method, route).Observe(time.Since(started).Seconds())
}
