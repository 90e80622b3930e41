// Package tgmetrics exposes Prometheus counters/gauges for the engine's
// hot paths (evaluator throughput, store size, sandbox task duration,
// download byte counts), grounded on the teacher's pkg/metrics/metrics.go
// (same package-level prometheus.*Vec variables registered in init,
// rescoped from cluster/raft/API metrics to evaluator/store/sandbox/
// download under the tangram_ prefix).
package tgmetrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// EvaluationsTotal counts Evaluate calls by outcome ("ok" or "error").
	EvaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tangram_evaluations_total",
			Help: "Total number of expression evaluations by outcome",
		},
		[]string{"outcome"},
	)

	EvaluationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tangram_evaluation_duration_seconds",
			Help:    "Duration of a single Evaluate call, including cache hits",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	// StoreBlocksTotal and StoreOutputsTotal report block.Store.Stats().
	StoreBlocksTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tangram_store_blocks_total",
			Help: "Total number of blocks held in the block store",
		},
	)

	StoreOutputsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tangram_store_outputs_total",
			Help: "Total number of memoised operation outputs",
		},
	)

	SandboxTaskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tangram_sandbox_task_duration_seconds",
			Help:    "Duration of a sandboxed task invocation by exit outcome",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	DownloadBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tangram_download_bytes_total",
			Help: "Total bytes fetched by the downloader",
		},
	)

	GCRemovedBlocksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tangram_gc_removed_blocks_total",
			Help: "Total number of blocks removed by garbage collection",
		},
	)

	MirrorPushBlocksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tangram_mirror_push_blocks_total",
			Help: "Total number of blocks pushed to a mirror by outcome",
		},
		[]string{"outcome"},
	)

	MirrorPullBlocksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tangram_mirror_pull_blocks_total",
			Help: "Total number of blocks pulled from a mirror by outcome",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(EvaluationsTotal)
	prometheus.MustRegister(EvaluationDuration)
	prometheus.MustRegister(StoreBlocksTotal)
	prometheus.MustRegister(StoreOutputsTotal)
	prometheus.MustRegister(SandboxTaskDuration)
	prometheus.MustRegister(DownloadBytesTotal)
	prometheus.MustRegister(GCRemovedBlocksTotal)
	prometheus.MustRegister(MirrorPushBlocksTotal)
	prometheus.MustRegister(MirrorPullBlocksTotal)
}

// Handler returns the Prometheus scrape handler, mounted by the daemon's
// HTTP surface (internal/core) at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures an operation's duration for later observation against a
// histogram, matching the teacher's metrics.Timer helper.
type Timer struct {
	start time.Time
}

func NewTimer() *Timer { return &Timer{start: time.Now()} }

func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

func (t *Timer) ObserveDurationVec(histogram *prometheus.HistogramVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}
