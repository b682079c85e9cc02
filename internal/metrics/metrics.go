// Package metrics provides Prometheus metrics for the docking worker.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the docking worker.
type Metrics struct {
	// Docking metrics
	Dockings        *prometheus.CounterVec
	DockingDuration *prometheus.HistogramVec
	LigandsSkipped  *prometheus.CounterVec

	// Collection metrics
	CollectionsDownloaded prometheus.Counter
	DownloadsFailed       prometheus.Counter
	UnpackFailures        prometheus.Counter
	CollectionsArchived   prometheus.Counter
	DownloadBytes         prometheus.Counter

	// Upload metrics
	Uploads        *prometheus.CounterVec
	UploadBytes    prometheus.Counter
	UploadDuration prometheus.Histogram
	RetryAttempts  *prometheus.CounterVec

	// Pipeline metrics
	QueueDepth         *prometheus.GaugeVec
	PendingCollections prometheus.Gauge
}

var defaultMetrics *Metrics

// Init initializes the metrics package with global metrics registered on
// the default registry. Call this once at startup.
func Init(namespace string) *Metrics {
	m := New(namespace, prometheus.DefaultRegisterer)
	defaultMetrics = m
	return m
}

// New creates the metrics on reg without touching the global instance.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "docking_worker"
	}
	f := promauto.With(reg)

	return &Metrics{
		Dockings: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dockings_total",
				Help:      "Total number of docking invocations by scenario and status",
			},
			[]string{"scenario", "status"},
		),
		DockingDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "docking_duration_seconds",
				Help:      "Wall-clock time of one docking invocation",
				Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12), // 0.5s to ~17min
			},
			[]string{"program"},
		),
		LigandsSkipped: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ligands_skipped_total",
				Help:      "Ligands rejected by structural validation",
			},
			[]string{"reason"},
		),
		CollectionsDownloaded: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "collections_downloaded_total",
				Help:      "Collection archives fetched into scratch space",
			},
		),
		DownloadsFailed: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "downloads_failed_total",
				Help:      "Collection archives that could not be fetched",
			},
		),
		UnpackFailures: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "unpack_failures_total",
				Help:      "Collection archives that could not be extracted",
			},
		),
		CollectionsArchived: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "collections_archived_total",
				Help:      "Collections whose outputs reached their final location",
			},
		),
		DownloadBytes: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "download_bytes_total",
				Help:      "Bytes of collection archives downloaded",
			},
		),
		Uploads: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "uploads_total",
				Help:      "Artifacts pushed to the storage backend by result",
			},
			[]string{"result"},
		),
		UploadBytes: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upload_bytes_total",
				Help:      "Bytes of artifacts uploaded",
			},
		),
		UploadDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "upload_duration_seconds",
				Help:      "Time to upload one artifact",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
			},
		),
		RetryAttempts: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retry_attempts_total",
				Help:      "Total number of retry attempts",
			},
			[]string{"operation"},
		),
		QueueDepth: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queue_depth",
				Help:      "Items waiting in each stage's input queue",
			},
			[]string{"stage"},
		),
		PendingCollections: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pending_collections",
				Help:      "Collections with outstanding completions",
			},
		),
	}
}

// Get returns the global metrics instance.
// Returns nil if Init has not been called.
func Get() *Metrics {
	return defaultMetrics
}

// StartServer starts an HTTP server for Prometheus metrics scraping.
// Blocks until the server exits.
func StartServer(address string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return http.ListenAndServe(address, mux)
}

// ObserveDocking records one finished docking invocation.
func (m *Metrics) ObserveDocking(scenario, program, status string, seconds float64) {
	m.Dockings.WithLabelValues(scenario, status).Inc()
	m.DockingDuration.WithLabelValues(program).Observe(seconds)
}

// IncSkipped increments the skipped ligand counter.
func (m *Metrics) IncSkipped(reason string) {
	m.LigandsSkipped.WithLabelValues(reason).Inc()
}

// ObserveDownload records a successful collection download.
func (m *Metrics) ObserveDownload(bytes int64) {
	m.CollectionsDownloaded.Inc()
	m.DownloadBytes.Add(float64(bytes))
}

// IncDownloadsFailed increments the failed download counter.
func (m *Metrics) IncDownloadsFailed() {
	m.DownloadsFailed.Inc()
}

// IncUnpackFailures increments the unpack failure counter.
func (m *Metrics) IncUnpackFailures() {
	m.UnpackFailures.Inc()
}

// IncArchived increments the archived collections counter.
func (m *Metrics) IncArchived() {
	m.CollectionsArchived.Inc()
}

// ObserveUpload records one upload attempt outcome.
func (m *Metrics) ObserveUpload(result string, bytes int64, seconds float64) {
	m.Uploads.WithLabelValues(result).Inc()
	if result == "success" {
		m.UploadBytes.Add(float64(bytes))
		m.UploadDuration.Observe(seconds)
	}
}

// IncRetryAttempts increments the retry attempts counter.
func (m *Metrics) IncRetryAttempts(operation string) {
	m.RetryAttempts.WithLabelValues(operation).Inc()
}

// SetQueueDepth sets the depth gauge of a stage queue.
func (m *Metrics) SetQueueDepth(stage string, depth int) {
	m.QueueDepth.WithLabelValues(stage).Set(float64(depth))
}

// SetPendingCollections sets the number of collections awaiting completion.
func (m *Metrics) SetPendingCollections(n int) {
	m.PendingCollections.Set(float64(n))
}
