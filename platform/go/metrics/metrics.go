// Package metrics exposes Prometheus instrumentation for soft-delete
// maintenance and the HTTP API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/collabridge/rapport-tracker/platform/go/persistence"
	"github.com/collabridge/rapport-tracker/platform/go/policy"
)

const namespace = "rapport"

// Recorder implements persistence.BulkObserver and persistence.CascadeObserver.
type Recorder struct {
	gatherer prometheus.Gatherer
	policy   *policy.Holder
	logger   *zap.Logger

	bulkOperations *prometheus.CounterVec
	bulkRows       *prometheus.CounterVec
	cascadeRows    *prometheus.CounterVec
	cleanupRows    *prometheus.CounterVec
	tableRecords   *prometheus.GaugeVec
	deletionRatio  *prometheus.GaugeVec
	dbLatency      prometheus.Gauge
	httpDuration   *prometheus.HistogramVec
}

var (
	_ persistence.BulkObserver    = (*Recorder)(nil)
	_ persistence.CascadeObserver = (*Recorder)(nil)
)

// Option customizes a Recorder.
type Option func(*Recorder)

// WithLogger sets the logger used for alert lines.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Recorder) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithPolicy enables bulk and ratio alerts according to the current policy.
func WithPolicy(holder *policy.Holder) Option {
	return func(r *Recorder) {
		r.policy = holder
	}
}

// NewRecorder registers every collector on registry. A nil registry uses a fresh one.
func NewRecorder(registry *prometheus.Registry, opts ...Option) *Recorder {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	factory := promauto.With(registry)

	r := &Recorder{
		gatherer: registry,
		logger:   zap.NewNop(),

		bulkOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "softdelete",
			Name:      "bulk_operations_total",
			Help:      "Bulk soft-delete, restore and hard-delete operations by outcome.",
		}, []string{"operation", "entity", "result"}),

		bulkRows: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "softdelete",
			Name:      "bulk_rows_total",
			Help:      "Rows affected by bulk operations.",
		}, []string{"operation", "entity"}),

		cascadeRows: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "softdelete",
			Name:      "cascade_rows_total",
			Help:      "Rows soft-deleted by cascades, by root and affected entity.",
		}, []string{"root", "entity"}),

		cleanupRows: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "softdelete",
			Name:      "cleanup_rows_total",
			Help:      "Rows physically removed by retention cleanup.",
		}, []string{"entity"}),

		tableRecords: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "softdelete",
			Name:      "table_records",
			Help:      "Rows per table and deletion state at the last health check.",
		}, []string{"entity", "state"}),

		deletionRatio: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "softdelete",
			Name:      "deletion_ratio_percent",
			Help:      "Deleted rows as a percentage of all rows at the last health check.",
		}, []string{"entity"}),

		dbLatency: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "ping_latency_milliseconds",
			Help:      "Round trip of the last health check query.",
		}),

		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration by route pattern.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "route", "status"}),
	}

	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ObserveBulk counts a finished bulk operation and logs an alert when the
// affected rows reach the policy threshold.
func (r *Recorder) ObserveBulk(operation, entity string, affected int64, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	r.bulkOperations.WithLabelValues(operation, entity, result).Inc()
	if affected > 0 {
		r.bulkRows.WithLabelValues(operation, entity).Add(float64(affected))
		if operation == persistence.BulkOpHardDelete {
			r.cleanupRows.WithLabelValues(entity).Add(float64(affected))
		}
	}

	if r.policy != nil && r.policy.Current().ShouldAlertBulk(affected) {
		r.logger.Warn("large bulk operation",
			zap.String("operation", operation),
			zap.String("entity", entity),
			zap.Int64("affected", affected),
			zap.Int("threshold", r.policy.Current().BulkOperationAlertThreshold),
		)
	}
}

// ObserveCascade counts the rows a cascade touched per entity.
func (r *Recorder) ObserveCascade(root string, counts map[string]int) {
	for entity, n := range counts {
		r.cascadeRows.WithLabelValues(root, entity).Add(float64(n))
	}
}

// ObserveHealth publishes the table gauges of a health report.
func (r *Recorder) ObserveHealth(report persistence.HealthReport) {
	if report.Connection.Connected {
		r.dbLatency.Set(report.Connection.LatencyMS)
	}
	for _, t := range report.Tables {
		if t.Error != "" {
			continue
		}
		r.tableRecords.WithLabelValues(t.Entity, "active").Set(float64(t.Active))
		r.tableRecords.WithLabelValues(t.Entity, "deleted").Set(float64(t.Deleted))
		r.tableRecords.WithLabelValues(t.Entity, "stale").Set(float64(t.StaleDeleted))
		r.deletionRatio.WithLabelValues(t.Entity).Set(t.DeletionRatio)
	}
}

// Middleware records request durations labelled with the chi route pattern.
func (r *Recorder) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)

		next.ServeHTTP(ww, req)

		route := "unmatched"
		if rctx := chi.RouteContext(req.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		r.httpDuration.WithLabelValues(req.Method, route, strconv.Itoa(status)).Observe(time.Since(start).Seconds())
	})
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}
