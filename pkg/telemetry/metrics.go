package telemetry

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus instruments scraped from /metrics. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	apiRequests     *prometheus.CounterVec
	apiDuration     *prometheus.HistogramVec
	ingestBatches   *prometheus.CounterVec
	ingestBatchTime *prometheus.HistogramVec
	ingestMessages  prometheus.Counter
}

// NewMetrics registers the instruments with reg, or the default registerer
// when reg is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	apiRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "txledger_api_requests_total",
		Help: "Counts API requests by method, route and status.",
	}, []string{"method", "route", "status"})

	apiDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "txledger_api_duration_seconds",
		Help:    "API request latency per method and route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	ingestBatches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "txledger_ingest_batches_total",
		Help: "Counts consumed event batches by status.",
	}, []string{"status"})

	ingestBatchTime := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "txledger_ingest_batch_duration_seconds",
		Help:    "Time spent applying one event batch.",
		Buckets: prometheus.DefBuckets,
	}, []string{"status"})

	ingestMessages := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "txledger_ingest_messages_total",
		Help: "Messages read from the event stream.",
	})

	reg.MustRegister(
		apiRequests,
		apiDuration,
		ingestBatches,
		ingestBatchTime,
		ingestMessages,
	)

	return &Metrics{
		apiRequests:     apiRequests,
		apiDuration:     apiDuration,
		ingestBatches:   ingestBatches,
		ingestBatchTime: ingestBatchTime,
		ingestMessages:  ingestMessages,
	}
}

// ObserveAPIRequest records an API request and latency.
func (m *Metrics) ObserveAPIRequest(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	methodLabel := sanitizeLabel(method)
	routeLabel := sanitizeLabel(route)
	m.apiRequests.WithLabelValues(methodLabel, routeLabel, strconv.Itoa(status)).Inc()
	m.apiDuration.WithLabelValues(methodLabel, routeLabel).Observe(duration.Seconds())
}

// RecordIngestBatch registers one consumed batch.
func (m *Metrics) RecordIngestBatch(status string, count int, duration time.Duration) {
	if m == nil {
		return
	}
	statusLabel := sanitizeLabel(status)
	m.ingestBatches.WithLabelValues(statusLabel).Inc()
	m.ingestBatchTime.WithLabelValues(statusLabel).Observe(duration.Seconds())
	if count > 0 {
		m.ingestMessages.Add(float64(count))
	}
}

// GinMiddleware observes every request served by the engine.
func GinMiddleware(m *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		m.ObserveAPIRequest(c.Request.Method, c.FullPath(), c.Writer.Status(), time.Since(start))
	}
}

func sanitizeLabel(val string) string {
	if val == "" {
		return "unknown"
	}
	return val
}
