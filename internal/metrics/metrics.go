package metrics

import (
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	// Frame processing counters
	FramesRead      atomic.Uint64
	FramesProcessed atomic.Uint64
	FramesSkipped   atomic.Uint64 // per-frame failures
	FramesIngested  atomic.Uint64
	IngestDropped   atomic.Uint64

	// Error counters
	SourceErrors    atomic.Uint64
	PublishRejected atomic.Uint64 // stale generation
	NotifyDropped   atomic.Uint64
	ArchiveErrors   atomic.Uint64

	// Latency tracking
	FrameLatencyMs   atomic.Uint64 // Capture to publish
	ProcessLatencyMs atomic.Uint64 // Last frame processing time

	// Producer state
	Generation    atomic.Uint64
	SourceHealthy atomic.Uint64 // 0 = backing off, 1 = streaming
	TracksInFrame atomic.Uint64
	TotalCount    atomic.Uint64
	AlertingZones atomic.Uint64
	Threshold     atomic.Uint64

	// Reader tracking
	StreamClients atomic.Int64 // MJPEG + SSE
	ActiveClients atomic.Uint64
	TotalClients  atomic.Uint64

	// Recording state
	RecordingActive atomic.Uint64 // 0 = inactive, 1 = active
	RecordingBytes  atomic.Uint64
	RecordingFrames atomic.Uint64

	zoneCount      *prometheus.GaugeVec
	processSeconds prometheus.Histogram

	// Prometheus collectors
	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		zoneCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "zonecount_zone_visitors",
			Help: "Unique visitors counted per zone since the last reset",
		}, []string{"zone_id", "zone_name"}),
		processSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "zonecount_frame_process_seconds",
			Help:    "Time spent counting, rendering and publishing one frame",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		}),
	}

	m.registerPrometheusMetrics()

	return m
}

func (m *Metrics) gauge(name, help string, load func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: name, Help: help},
		load,
	))
}

func (m *Metrics) counter(name, help string, v *atomic.Uint64) {
	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{Name: name, Help: help},
		func() float64 { return float64(v.Load()) },
	))
}

// registerPrometheusMetrics registers all metrics with Prometheus
func (m *Metrics) registerPrometheusMetrics() {
	m.registry.MustRegister(m.zoneCount, m.processSeconds)

	// Frame processing metrics
	m.counter("zonecount_frames_read_total", "Total frames read from the source", &m.FramesRead)
	m.counter("zonecount_frames_processed_total", "Total frames counted and published", &m.FramesProcessed)
	m.counter("zonecount_frames_skipped_total", "Total frames skipped after a processing failure", &m.FramesSkipped)
	m.counter("zonecount_frames_ingested_total", "Total frames received on the ingest endpoint", &m.FramesIngested)
	m.counter("zonecount_ingest_dropped_total", "Total ingested frames replaced before processing", &m.IngestDropped)

	// Error metrics
	m.counter("zonecount_source_errors_total", "Total source open or read errors", &m.SourceErrors)
	m.counter("zonecount_publish_rejected_total", "Total publishes rejected as stale", &m.PublishRejected)
	m.counter("zonecount_notify_dropped_total", "Total alert notifications dropped", &m.NotifyDropped)
	m.counter("zonecount_archive_errors_total", "Total history archive write errors", &m.ArchiveErrors)

	// Latency metrics
	m.gauge("zonecount_frame_latency_ms", "Capture to publish latency of the last frame in milliseconds",
		func() float64 { return float64(m.FrameLatencyMs.Load()) })
	m.gauge("zonecount_process_latency_ms", "Processing latency of the last frame in milliseconds",
		func() float64 { return float64(m.ProcessLatencyMs.Load()) })

	// Producer metrics
	m.gauge("zonecount_producer_generation", "Current producer generation",
		func() float64 { return float64(m.Generation.Load()) })
	m.gauge("zonecount_source_healthy", "Source streaming (1) or backing off (0)",
		func() float64 { return float64(m.SourceHealthy.Load()) })
	m.gauge("zonecount_tracks", "Tracks in the last processed frame",
		func() float64 { return float64(m.TracksInFrame.Load()) })
	m.gauge("zonecount_total", "Total visitors in the last published frame",
		func() float64 { return float64(m.TotalCount.Load()) })
	m.gauge("zonecount_alerting_zones", "Zones above the alert threshold",
		func() float64 { return float64(m.AlertingZones.Load()) })
	m.gauge("zonecount_alert_threshold", "Current alert threshold",
		func() float64 { return float64(m.Threshold.Load()) })

	// Client metrics
	m.gauge("zonecount_stream_clients", "Connected MJPEG and SSE clients",
		func() float64 { return float64(m.StreamClients.Load()) })
	m.gauge("zonecount_webrtc_active_clients", "Number of active WebRTC clients",
		func() float64 { return float64(m.ActiveClients.Load()) })
	m.counter("zonecount_webrtc_clients_total", "Total WebRTC clients connected", &m.TotalClients)

	// Recording metrics
	m.gauge("zonecount_recording_active", "Recording active (0=inactive, 1=active)",
		func() float64 { return float64(m.RecordingActive.Load()) })
	m.gauge("zonecount_recording_bytes", "Total bytes written to recording",
		func() float64 { return float64(m.RecordingBytes.Load()) })
	m.gauge("zonecount_recording_frames", "Total frames written to recording",
		func() float64 { return float64(m.RecordingFrames.Load()) })
}

// UpdateFrameLatency updates the capture to publish latency
func (m *Metrics) UpdateFrameLatency(captureTime time.Time) {
	latency := time.Since(captureTime).Milliseconds()
	if latency < 0 {
		latency = 0
	}
	m.FrameLatencyMs.Store(uint64(latency))
}

// UpdateProcessLatency records the processing time of one frame
func (m *Metrics) UpdateProcessLatency(duration time.Duration) {
	m.ProcessLatencyMs.Store(uint64(duration.Milliseconds()))
	m.processSeconds.Observe(duration.Seconds())
}

// UpdateZones replaces the per-zone gauges. Zones missing from counts are
// removed so deleted zones stop being exported.
func (m *Metrics) UpdateZones(counts map[int]int, names map[int]string) {
	m.zoneCount.Reset()
	for id, n := range counts {
		m.zoneCount.WithLabelValues(strconv.Itoa(id), names[id]).Set(float64(n))
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer starts the metrics HTTP server
func (m *Metrics) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return http.ListenAndServe(addr, mux)
}
