// Package metrics tracks reload queue and dataset statistics and exposes
// them in Prometheus format.
package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics captures shared operational stats for the reload queue and the
// loaded dataset.
type Metrics struct {
	queueLength   int64
	queueCapacity int64
	workerCount   int64

	processedJobs int64
	failedJobs    int64

	datasetRecords int64
	skippedRows    int64

	registry     *prometheus.Registry
	queueGauge   *prometheus.GaugeVec
	jobsTotal    *prometheus.CounterVec
	jobDuration  prometheus.Histogram
	recordsGauge prometheus.Gauge
	skippedGauge prometheus.Gauge
	requests     *prometheus.CounterVec
	exportRows   prometheus.Counter
}

// Snapshot provides a consistent view of the current metrics.
type Snapshot struct {
	QueueLength    int   `json:"queue_length"`
	QueueCapacity  int   `json:"queue_capacity"`
	WorkerCount    int   `json:"worker_count"`
	ProcessedJobs  int64 `json:"processed_jobs"`
	FailedJobs     int64 `json:"failed_jobs"`
	DatasetRecords int64 `json:"dataset_records"`
	SkippedRows    int64 `json:"skipped_rows"`
}

// New creates a zeroed Metrics instance backed by its own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		queueGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "lead_viewer",
			Name:      "reload_queue",
			Help:      "Reload queue length, capacity and worker count.",
		}, []string{"field"}),
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lead_viewer",
			Name:      "reload_jobs_total",
			Help:      "Completed reload jobs by outcome.",
		}, []string{"status"}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "lead_viewer",
			Name:      "reload_duration_seconds",
			Help:      "Time spent loading and parsing the data source.",
			Buckets:   prometheus.DefBuckets,
		}),
		recordsGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lead_viewer",
			Name:      "dataset_records",
			Help:      "Records in the current dataset.",
		}),
		skippedGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lead_viewer",
			Name:      "dataset_skipped_rows",
			Help:      "Rows dropped by the last parse.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lead_viewer",
			Name:      "api_requests_total",
			Help:      "API requests by route.",
		}, []string{"route"}),
		exportRows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lead_viewer",
			Name:      "export_rows_total",
			Help:      "Rows written by CSV exports.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.queueGauge, m.jobsTotal, m.jobDuration,
		m.recordsGauge, m.skippedGauge, m.requests, m.exportRows,
	)
	return m
}

// UpdateQueue records the current queue stats.
func (m *Metrics) UpdateQueue(length, capacity, workers int) {
	atomic.StoreInt64(&m.queueLength, int64(length))
	atomic.StoreInt64(&m.queueCapacity, int64(capacity))
	atomic.StoreInt64(&m.workerCount, int64(workers))
	m.queueGauge.WithLabelValues("length").Set(float64(length))
	m.queueGauge.WithLabelValues("capacity").Set(float64(capacity))
	m.queueGauge.WithLabelValues("workers").Set(float64(workers))
}

// RecordJobCompletion increments processed/failed counters based on outcome.
func (m *Metrics) RecordJobCompletion(err error) {
	atomic.AddInt64(&m.processedJobs, 1)
	status := "success"
	if err != nil {
		atomic.AddInt64(&m.failedJobs, 1)
		status = "failed"
	}
	m.jobsTotal.WithLabelValues(status).Inc()
}

// ObserveJob satisfies queue.Observer.
func (m *Metrics) ObserveJob(_ string, d time.Duration, err error) {
	m.jobDuration.Observe(d.Seconds())
	m.RecordJobCompletion(err)
}

// RecordDataset records the size of a freshly loaded dataset.
func (m *Metrics) RecordDataset(records, skipped int) {
	atomic.StoreInt64(&m.datasetRecords, int64(records))
	atomic.StoreInt64(&m.skippedRows, int64(skipped))
	m.recordsGauge.Set(float64(records))
	m.skippedGauge.Set(float64(skipped))
}

// RecordRequest counts one API request.
func (m *Metrics) RecordRequest(route string) {
	m.requests.WithLabelValues(route).Inc()
}

// RecordExport counts rows written by an export.
func (m *Metrics) RecordExport(rows int) {
	m.exportRows.Add(float64(rows))
}

// Snapshot returns a read-only view of metrics.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		QueueLength:    int(atomic.LoadInt64(&m.queueLength)),
		QueueCapacity:  int(atomic.LoadInt64(&m.queueCapacity)),
		WorkerCount:    int(atomic.LoadInt64(&m.workerCount)),
		ProcessedJobs:  atomic.LoadInt64(&m.processedJobs),
		FailedJobs:     atomic.LoadInt64(&m.failedJobs),
		DatasetRecords: atomic.LoadInt64(&m.datasetRecords),
		SkippedRows:    atomic.LoadInt64(&m.skippedRows),
	}
}

// Registry exposes the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
