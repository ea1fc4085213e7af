// Package metrics exposes Prometheus collectors for the ingestion service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ingestJobsTotal           *prometheus.CounterVec
	ingestJobDurationSeconds  *prometheus.HistogramVec
	ingestRecordsTotal        *prometheus.CounterVec
	ingestRecordFailuresTotal *prometheus.CounterVec
	ingestIndexFailuresTotal  *prometheus.CounterVec
	connectorRequestsTotal    *prometheus.CounterVec

	once sync.Once
)

// Init registers the Prometheus collectors. Safe to call multiple times.
func Init() {
	once.Do(func() {
		ingestJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalogd_jobs_total",
				Help: "Total ingestion jobs finished, labeled by terminal status.",
			},
			[]string{"status"},
		)

		ingestJobDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "catalogd_job_duration_seconds",
				Help:    "Histogram of full catalog scan durations, labeled by terminal status.",
				Buckets: []float64{1, 10, 60, 300, 900, 1800, 3600, 7200},
			},
			[]string{"status"},
		)

		ingestRecordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalogd_records_total",
				Help: "Total catalog records drained from connectors, labeled by source.",
			},
			[]string{"source"},
		)

		ingestRecordFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalogd_record_failures_total",
				Help: "Total records that failed or timed out in the pipeline, labeled by source.",
			},
			[]string{"source"},
		)

		ingestIndexFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalogd_index_failures_total",
				Help: "Total search index pushes that failed, labeled by source.",
			},
			[]string{"source"},
		)

		connectorRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalogd_connector_requests_total",
				Help: "Total connector HTTP requests, labeled by status class.",
			},
			[]string{"status_class"},
		)
	})
}

// JobFinished records a job's terminal status and duration.
func JobFinished(status string, duration time.Duration) {
	if ingestJobsTotal == nil {
		return
	}
	ingestJobsTotal.WithLabelValues(status).Inc()
	ingestJobDurationSeconds.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordProcessed counts one record drained for the source.
func RecordProcessed(sourceID string) {
	if ingestRecordsTotal == nil {
		return
	}
	ingestRecordsTotal.WithLabelValues(sourceID).Inc()
}

// RecordFailed counts one record-level processing failure for the source.
func RecordFailed(sourceID string) {
	if ingestRecordFailuresTotal == nil {
		return
	}
	ingestRecordFailuresTotal.WithLabelValues(sourceID).Inc()
}

// IndexFailed counts one non-fatal search index failure for the source.
func IndexFailed(sourceID string) {
	if ingestIndexFailuresTotal == nil {
		return
	}
	ingestIndexFailuresTotal.WithLabelValues(sourceID).Inc()
}

// ObserveConnectorRequest counts one connector HTTP response by status class.
func ObserveConnectorRequest(statusCode int) {
	if connectorRequestsTotal == nil {
		return
	}
	connectorRequestsTotal.WithLabelValues(ClassifyStatus(statusCode)).Inc()
}

// ClassifyStatus groups HTTP status codes into coarse classes.
func ClassifyStatus(code int) string {
	if code >= 100 && code < 600 {
		return strconv.Itoa(code/100) + "xx"
	}
	return "other"
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
