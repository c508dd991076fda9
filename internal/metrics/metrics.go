package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the ruler's Prometheus collectors on a private registry
type Metrics struct {
	registry *prometheus.Registry

	samplesTotal      *prometheus.CounterVec
	invalidReadsTotal *prometheus.CounterVec
	captureErrors     prometheus.Counter
	captureSeconds    prometheus.Histogram
	misreadsRejected  prometheus.Counter
	wraparounds       prometheus.Counter
	running           prometheus.Gauge
	calibrations      *prometheus.CounterVec
	wsClients         prometheus.Gauge
	publishDropped    prometheus.Counter
	requestsTotal     *prometheus.CounterVec
}

// New creates and registers the collectors
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		samplesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ruler_samples_total",
			Help: "Bar readings taken, by validity",
		}, []string{"valid"}),
		invalidReadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ruler_invalid_reads_total",
			Help: "Invalid bar readings by reason",
		}, []string{"reason"}),
		captureErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ruler_capture_errors_total",
			Help: "Failed frame captures",
		}),
		captureSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ruler_capture_seconds",
			Help:    "Time taken by one frame capture",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		misreadsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ruler_misreads_rejected_total",
			Help: "Readings the estimator rejected as misreads",
		}),
		wraparounds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ruler_wraparounds_total",
			Help: "Completed cost cycles",
		}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ruler_running",
			Help: "1 while the frame clock is running",
		}),
		calibrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ruler_calibrations_total",
			Help: "Finished calibration sessions by outcome",
		}, []string{"outcome"}),
		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ruler_ws_clients",
			Help: "Connected websocket listeners",
		}),
		publishDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ruler_publish_dropped_total",
			Help: "Snapshots a publisher could not deliver",
		}),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ruler_http_requests_total",
			Help: "HTTP API requests by status class",
		}, []string{"code"}),
	}

	registry.MustRegister(
		m.samplesTotal,
		m.invalidReadsTotal,
		m.captureErrors,
		m.captureSeconds,
		m.misreadsRejected,
		m.wraparounds,
		m.running,
		m.calibrations,
		m.wsClients,
		m.publishDropped,
		m.requestsTotal,
	)
	return m
}

// ObserveSample counts one reading
func (m *Metrics) ObserveSample(valid bool, reason string) {
	if valid {
		m.samplesTotal.WithLabelValues("true").Inc()
		return
	}
	m.samplesTotal.WithLabelValues("false").Inc()
	m.invalidReadsTotal.WithLabelValues(reason).Inc()
}

// ObserveCapture records how long a capture took
func (m *Metrics) ObserveCapture(d time.Duration) {
	m.captureSeconds.Observe(d.Seconds())
}

// IncCaptureErrors counts a failed capture
func (m *Metrics) IncCaptureErrors() {
	m.captureErrors.Inc()
}

// IncMisreads counts a rejected reading
func (m *Metrics) IncMisreads() {
	m.misreadsRejected.Inc()
}

// IncWraparounds counts a completed cycle
func (m *Metrics) IncWraparounds() {
	m.wraparounds.Inc()
}

// SetRunning sets the running gauge
func (m *Metrics) SetRunning(running bool) {
	if running {
		m.running.Set(1)
	} else {
		m.running.Set(0)
	}
}

// IncCalibrations counts a finished calibration
func (m *Metrics) IncCalibrations(outcome string) {
	m.calibrations.WithLabelValues(outcome).Inc()
}

// SetWSClients sets the websocket listener gauge
func (m *Metrics) SetWSClients(n int) {
	m.wsClients.Set(float64(n))
}

// IncPublishDropped counts an undelivered snapshot
func (m *Metrics) IncPublishDropped() {
	m.publishDropped.Inc()
}

// Registry exposes the registry for tests and extra collectors
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
