package metrics

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "stationcloud_"

	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultGap     = "gap"
)

var (
	registerOnce sync.Once

	roundsTotal   *prometheus.CounterVec
	roundLatency  prometheus.Histogram
	deviceResults *prometheus.CounterVec

	cloudErrors *prometheus.CounterVec

	alertNotifications *prometheus.CounterVec
	alertSuppressed    *prometheus.CounterVec

	retentionDeleted *prometheus.CounterVec
	retentionSweeps  *prometheus.CounterVec
)

// Init registers engine metrics and DB-backed gauges. Safe to call once
// during wiring; later calls are no-ops.
func Init(db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		roundsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "collection_rounds_total",
				Help: "Collection rounds by result",
			},
			[]string{"result"},
		)
		roundLatency = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "collection_round_seconds",
				Help:    "Collection round latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
		)
		deviceResults = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "collection_devices_total",
				Help: "Per-device collection outcomes",
			},
			[]string{"result"},
		)
		cloudErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "cloud_api_errors_total",
				Help: "Device cloud call failures by class",
			},
			[]string{"class"},
		)
		alertNotifications = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alert_notifications_total",
				Help: "Alert notifications by kind and status",
			},
			[]string{"kind", "status"},
		)
		alertSuppressed = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alert_suppressed_total",
				Help: "Alert evaluations suppressed by the dedup window",
			},
			[]string{"kind"},
		)
		retentionDeleted = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "retention_rows_deleted_total",
				Help: "Rows removed by the retention sweep",
			},
			[]string{"table"},
		)
		retentionSweeps = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "retention_sweeps_total",
				Help: "Retention sweeps by result",
			},
			[]string{"result"},
		)

		prometheus.MustRegister(
			roundsTotal,
			roundLatency,
			deviceResults,
			cloudErrors,
			alertNotifications,
			alertSuppressed,
			retentionDeleted,
			retentionSweeps,
		)

		registerDBMetrics(db, logger)
	})
}

// ObserveRound records one finished collection round.
func ObserveRound(result string, elapsed time.Duration) {
	if roundsTotal == nil {
		return
	}
	roundsTotal.WithLabelValues(result).Inc()
	roundLatency.Observe(elapsed.Seconds())
}

// IncDeviceResult records one per-device collection outcome.
func IncDeviceResult(result string) {
	if deviceResults == nil {
		return
	}
	deviceResults.WithLabelValues(result).Inc()
}

// IncCloudError records a device cloud call failure by class.
func IncCloudError(class string) {
	if cloudErrors == nil {
		return
	}
	cloudErrors.WithLabelValues(class).Inc()
}

// IncAlertNotification records a notification attempt.
func IncAlertNotification(kind, status string) {
	if alertNotifications == nil {
		return
	}
	alertNotifications.WithLabelValues(kind, status).Inc()
}

// IncAlertSuppressed records a dedup-window suppression.
func IncAlertSuppressed(kind string) {
	if alertSuppressed == nil {
		return
	}
	alertSuppressed.WithLabelValues(kind).Inc()
}

// AddRetentionDeleted records rows removed from a table by the sweep.
func AddRetentionDeleted(table string, rows int64) {
	if retentionDeleted == nil || rows < 0 {
		return
	}
	retentionDeleted.WithLabelValues(table).Add(float64(rows))
}

// IncRetentionSweep records one finished sweep.
func IncRetentionSweep(result string) {
	if retentionSweeps == nil {
		return
	}
	retentionSweeps.WithLabelValues(result).Inc()
}
