// Package telemetry provides application-level observability for the registry
// backend.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// served by the side-channel HTTP server started by main.go:
//
//	GET http://<host>:<REG_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090. The endpoint is not served by the Gin router.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template)
//   - Audit capture: records written and records discarded
//   - Queue runtime: messages handled per queue and outcome, batch sizes
//   - Notifications: deliveries per channel, type and outcome
//   - Database connection pool gauge (polled every 30 s)
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics, labelled by method, route template and status code.
//
// The path label holds the Gin route template (e.g. /api/circulars/:id/publish),
// not the raw URL, to keep cardinality bounded.
//
// Example PromQL queries:
//   - Request rate:  rate(http_requests_total[5m])
//   - p99 latency:   histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Audit capture metrics.
//
// AuditRecordsWrittenTotal counts persisted audit rows by operation (C, U, D).
// AuditRecordsDiscardedTotal counts records lost to rolled-back commits or
// failed audit writes; a steady increase points at failing transactions.
var (
	AuditRecordsWrittenTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_records_written_total",
			Help: "Total number of audit records persisted, by operation.",
		},
		[]string{"operation"},
	)

	AuditRecordsDiscardedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_records_discarded_total",
			Help: "Total number of captured audit records discarded because the commit or the audit write failed.",
		},
	)
)

// Queue runtime metrics.
//
// QueueMessagesTotal has labels {queue, outcome} where outcome is one of
// acked, retried, failed, undecodable.
//
// Example PromQL queries:
//   - Failure rate per queue:  rate(queue_messages_total{outcome="failed"}[1h])
var (
	QueueMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_messages_total",
			Help: "Total number of queued messages handled, by queue and outcome.",
		},
		[]string{"queue", "outcome"},
	)

	QueueBatchSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "queue_batch_size",
			Help:    "Number of jobs processed per batch flush, by queue.",
			Buckets: []float64{1, 2, 5, 10, 20, 50},
		},
		[]string{"queue"},
	)

	// QueueDepth is sampled by the queue depth reporter job in the worker process.
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_depth",
			Help: "Number of messages waiting in each queue, including delayed ones.",
		},
		[]string{"queue"},
	)

	QueueTagMaintenanceTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_tag_maintenance_total",
			Help: "Total number of tag-addressed queue maintenance operations, by operation and result.",
		},
		[]string{"operation", "result"},
	)
)

// NotificationsTotal counts notification deliveries by channel, type and
// outcome (sent, dropped, failed, duplicate).
//
// Example PromQL queries:
//   - Failed e-mails:  increase(notifications_total{channel="email",outcome="failed"}[24h])
var NotificationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "notifications_total",
		Help: "Total number of notifications processed, by channel, type, and outcome.",
	},
	[]string{"channel", "type", "outcome"},
)

// DBOpenConnections tracks the number of open connections held by the pool.
// It is sampled every 30 seconds by StartDBStatsCollector.
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector launches a background goroutine that samples sql.DB
// pool statistics every 30 seconds. It exits when the database becomes
// unreachable, which happens once main closes the pool on shutdown.
func StartDBStatsCollector(db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := db.Ping(); err != nil {
				slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
				return
			}
			DBOpenConnections.Set(float64(db.Stats().OpenConnections))
		}
	}()
}
