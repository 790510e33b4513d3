// Package progress exposes the hashing/verification pipeline's non-blocking progress
// getters (spec §6 "Progress readout") as Prometheus gauges, polled on an interval and
// served over /metrics. Grounded in sgl-project-ome's pkg/modelagent/metrics.go: a
// Metrics struct of promauto-registered gauges plus a RegisterMetricsHandler that mounts
// promhttp.Handler() on a *http.ServeMux.
package progress

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Driver is the subset of torrentdriver.HasherDriver/VerifierDriver that progress
// reporting needs. Both driver types already implement it.
type Driver interface {
	RunID() string
	BytesRead() int64
	BytesHashed() int64
	BytesDone() int64
}

// Metrics holds the gauges a running hash/verify pass updates (spec §6). One Metrics
// per process; RunID is attached as a label so a long-lived metrics server can
// distinguish successive runs.
type Metrics struct {
	bytesRead   *prometheus.GaugeVec
	bytesHashed *prometheus.GaugeVec
	bytesDone   *prometheus.GaugeVec
	currentFile *prometheus.GaugeVec
}

// NewMetrics registers the progress gauges against registerer, defaulting to the
// global DefaultRegisterer when nil (sgl-project-ome's NewMetrics does the same).
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &Metrics{
		bytesRead: promauto.With(registerer).NewGaugeVec(prometheus.GaugeOpts{
			Name: "torrentbuild_bytes_read",
			Help: "Bytes the chunk reader has read from disk for the current run.",
		}, []string{"run_id"}),
		bytesHashed: promauto.With(registerer).NewGaugeVec(prometheus.GaugeOpts{
			Name: "torrentbuild_bytes_hashed",
			Help: "Bytes that have entered a digest for the current run; each streamed byte counts once, also for hybrid.",
		}, []string{"run_id"}),
		bytesDone: promauto.With(registerer).NewGaugeVec(prometheus.GaugeOpts{
			Name: "torrentbuild_bytes_done",
			Help: "Bytes counted as done for the current run; the drivers report the hashers' completion counter, so this equals bytes_hashed.",
		}, []string{"run_id"}),
		currentFile: promauto.With(registerer).NewGaugeVec(prometheus.GaugeOpts{
			Name: "torrentbuild_current_file_index",
			Help: "Index into the file list currently being hashed, per run.",
		}, []string{"run_id"}),
	}
}

// RegisterHandler mounts the metrics endpoint, matching sgl-project-ome's
// RegisterMetricsHandler(mux *http.ServeMux) signature.
func RegisterHandler(mux *http.ServeMux) {
	mux.Handle("/metrics", promhttp.Handler())
}

// Poll samples d's progress getters every interval until ctx is cancelled, publishing
// them to m. Intended to run in its own goroutine for the lifetime of a build/verify
// run; the caller cancels ctx once the driver's Wait() returns.
func (m *Metrics) Poll(ctx context.Context, d Driver, interval time.Duration) {
	runID := d.RunID()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	sample := func() {
		m.bytesRead.WithLabelValues(runID).Set(float64(d.BytesRead()))
		m.bytesHashed.WithLabelValues(runID).Set(float64(d.BytesHashed()))
		m.bytesDone.WithLabelValues(runID).Set(float64(d.BytesDone()))
	}
	for {
		select {
		case <-ctx.Done():
			sample()
			return
		case <-ticker.C:
			sample()
		}
	}
}

// SetCurrentFile records the file index current_file_progress() reports for runID.
func (m *Metrics) SetCurrentFile(runID string, fileIndex int) {
	m.currentFile.WithLabelValues(runID).Set(float64(fileIndex))
}
