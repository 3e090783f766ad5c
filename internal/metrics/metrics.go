// Package metrics exposes engine counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metric names.
const (
	MetricSnapshotsTotal       = "globe_snapshots_total"
	MetricRecordsRejectedTotal = "globe_records_rejected_total"
	MetricMarkersTotal         = "globe_marker_commands_total"
	MetricActivationsTotal     = "globe_marker_activations_total"
	MetricStaleProfilesTotal   = "globe_profile_stale_results_total"
	MetricFramesTotal          = "globe_frames_submitted_total"
	MetricViewSize             = "globe_view_size"
	MetricSnapshotSeconds      = "globe_snapshot_apply_seconds"
)

// Command kinds for MetricMarkersTotal.
const (
	KindCreate = "create"
	KindUpdate = "update"
)

// Metrics holds the engine's collectors. All operations are thread-safe.
type Metrics struct {
	snapshots   prometheus.Counter
	rejected    prometheus.Counter
	markers     *prometheus.CounterVec
	activations prometheus.Counter
	stale       prometheus.Counter
	frames      prometheus.Counter
	viewSize    prometheus.Gauge
	applyTime   prometheus.Histogram
}

// NewMetrics creates the collectors. They are not registered; call Register.
func NewMetrics() *Metrics {
	return &Metrics{
		snapshots: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricSnapshotsTotal,
			Help: "Snapshots received from the data source",
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricRecordsRejectedTotal,
			Help: "Raw records dropped by normalization",
		}),
		markers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricMarkersTotal,
			Help: "Marker commands issued by kind",
		}, []string{"kind"}),
		activations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricActivationsTotal,
			Help: "Marker activations that focused a marker",
		}),
		stale: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricStaleProfilesTotal,
			Help: "Profile results discarded because their request was superseded",
		}),
		frames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricFramesTotal,
			Help: "Frames handed to the render loop",
		}),
		viewSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricViewSize,
			Help: "Messages in the current filtered view",
		}),
		applyTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricSnapshotSeconds,
			Help:    "Time spent turning a snapshot into a frame",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),
	}
}

// Register registers all collectors with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Collectors returns all collectors.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.snapshots,
		m.rejected,
		m.markers,
		m.activations,
		m.stale,
		m.frames,
		m.viewSize,
		m.applyTime,
	}
}

// ObserveSnapshot counts a snapshot and the records it had rejected.
func (m *Metrics) ObserveSnapshot(rejected int, seconds float64) {
	m.snapshots.Inc()
	m.rejected.Add(float64(rejected))
	m.applyTime.Observe(seconds)
}

// AddMarkerCommands counts created and updated markers.
func (m *Metrics) AddMarkerCommands(created, updated int) {
	m.markers.WithLabelValues(KindCreate).Add(float64(created))
	m.markers.WithLabelValues(KindUpdate).Add(float64(updated))
}

// IncActivations counts a focusing activation.
func (m *Metrics) IncActivations() {
	m.activations.Inc()
}

// IncStaleProfiles counts a discarded profile result.
func (m *Metrics) IncStaleProfiles() {
	m.stale.Inc()
}

// IncFrames counts a submitted frame.
func (m *Metrics) IncFrames() {
	m.frames.Inc()
}

// SetViewSize records the size of the filtered view.
func (m *Metrics) SetViewSize(n int) {
	m.viewSize.Set(float64(n))
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
