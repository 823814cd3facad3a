// Package metrics exposes Prometheus instrumentation. Every recorder is a no-op
// until Init has been called.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	metricPrefix = "wattlog_"

	ResultSuccess = "success"
	ResultError   = "error"
	// ResultSkipped marks a rollover whose date was already archived.
	ResultSkipped = "skipped"
)

var (
	registerOnce sync.Once

	rolloverTotal   *prometheus.CounterVec
	rolloverLatency *prometheus.HistogramVec

	aggregationTotal   *prometheus.CounterVec
	aggregationLatency *prometheus.HistogramVec

	notificationsTotal *prometheus.CounterVec
	goalsExpiredTotal  prometheus.Counter

	storeErrorsTotal *prometheus.CounterVec

	exportTotal *prometheus.CounterVec
)

// Init registers the metrics with the default registry.
func Init() {
	registerOnce.Do(func() {
		rolloverTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "rollover_total",
				Help: "Total day rollovers by result",
			},
			[]string{"result"},
		)
		rolloverLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "rollover_latency_seconds",
				Help:    "Day rollover latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		aggregationTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "aggregation_total",
				Help: "Total aggregations by period and result",
			},
			[]string{"period", "result"},
		)
		aggregationLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "aggregation_latency_seconds",
				Help:    "Aggregation latency in seconds, including store reads",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"period"},
		)
		notificationsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "notifications_total",
				Help: "Total notifications sent by kind",
			},
			[]string{"kind"},
		)
		goalsExpiredTotal = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "goals_expired_total",
				Help: "Total goals moved to the goal archive",
			},
		)
		storeErrorsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "store_errors_total",
				Help: "Total store errors by operation",
			},
			[]string{"op"},
		)
		exportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "export_total",
				Help: "Total report exports by format and result",
			},
			[]string{"format", "result"},
		)
		prometheus.MustRegister(
			rolloverTotal,
			rolloverLatency,
			aggregationTotal,
			aggregationLatency,
			notificationsTotal,
			goalsExpiredTotal,
			storeErrorsTotal,
			exportTotal,
		)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRollover records a rollover and its duration.
func ObserveRollover(result string, duration time.Duration) {
	if result == "" {
		result = ResultSuccess
	}
	if rolloverTotal != nil {
		rolloverTotal.WithLabelValues(result).Inc()
	}
	if rolloverLatency != nil {
		rolloverLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// ObserveAggregation records an aggregation and its duration.
func ObserveAggregation(period, result string, duration time.Duration) {
	if period == "" {
		period = "unknown"
	}
	if result == "" {
		result = ResultSuccess
	}
	if aggregationTotal != nil {
		aggregationTotal.WithLabelValues(period, result).Inc()
	}
	if aggregationLatency != nil {
		aggregationLatency.WithLabelValues(period).Observe(duration.Seconds())
	}
}

// IncNotification counts a sent notification.
func IncNotification(kind string) {
	if kind == "" {
		kind = "unknown"
	}
	if notificationsTotal != nil {
		notificationsTotal.WithLabelValues(kind).Inc()
	}
}

// IncGoalsExpired counts goals moved to the goal archive.
func IncGoalsExpired(count int) {
	if count <= 0 {
		return
	}
	if goalsExpiredTotal != nil {
		goalsExpiredTotal.Add(float64(count))
	}
}

// IncStoreError counts a failed store operation.
func IncStoreError(op string) {
	if op == "" {
		op = "unknown"
	}
	if storeErrorsTotal != nil {
		storeErrorsTotal.WithLabelValues(op).Inc()
	}
}

// IncExport counts a report export.
func IncExport(format, result string) {
	if result == "" {
		result = ResultSuccess
	}
	if exportTotal != nil {
		exportTotal.WithLabelValues(format, result).Inc()
	}
}
