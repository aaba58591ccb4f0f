package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the flight engine and the
// resource store. When disabled it is a no-op so callers never nil-check.
type Metrics struct {
	config MetricsConfig

	// Flight metrics
	flightsStarted   *prometheus.CounterVec
	flightsCompleted *prometheus.CounterVec
	flightDuration   *prometheus.HistogramVec
	flightsActive    prometheus.Gauge

	// Step metrics
	stepsExecuted *prometheus.CounterVec
	stepDuration  *prometheus.HistogramVec
	stepRetries   *prometheus.CounterVec

	// Resource metrics
	resourcesByState *prometheus.GaugeVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		flightsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "flights_started_total",
				Help:      "Total number of flights started",
			},
			[]string{"class"},
		),
		flightsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "flights_completed_total",
				Help:      "Total number of flights reaching a terminal state",
			},
			[]string{"class", "status"},
		),
		flightDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "flight_duration_seconds",
				Help:      "Flight wall-clock duration",
				Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
			},
			[]string{"class", "status"},
		),
		flightsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "flights_active",
				Help:      "Flights currently executing on this node",
			},
		),
		stepsExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "steps_executed_total",
				Help:      "Total step invocations by direction and outcome",
			},
			[]string{"step", "direction", "status"},
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "step_duration_seconds",
				Help:      "Step invocation duration including retries",
				Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 30, 120, 600},
			},
			[]string{"step", "direction"},
		),
		stepRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "step_retries_total",
				Help:      "Retry attempts by step",
			},
			[]string{"step"},
		),
		resourcesByState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "resources_by_state",
				Help:      "Resource rows by lifecycle state",
			},
			[]string{"state"},
		),
	}

	collectors := []prometheus.Collector{
		m.flightsStarted, m.flightsCompleted, m.flightDuration, m.flightsActive,
		m.stepsExecuted, m.stepDuration, m.stepRetries, m.resourcesByState,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}

	return m, nil
}

// Enabled reports whether metrics are being collected.
func (m *Metrics) Enabled() bool { return m.registry != nil }

// FlightStarted records a flight starting or resuming.
func (m *Metrics) FlightStarted(class string) {
	if !m.Enabled() {
		return
	}
	m.flightsStarted.WithLabelValues(class).Inc()
	m.flightsActive.Inc()
}

// FlightFinished records a flight leaving this node, terminal or not.
func (m *Metrics) FlightFinished(class, status string, d time.Duration) {
	if !m.Enabled() {
		return
	}
	m.flightsActive.Dec()
	m.flightsCompleted.WithLabelValues(class, status).Inc()
	m.flightDuration.WithLabelValues(class, status).Observe(d.Seconds())
}

// StepExecuted records one step invocation outcome.
func (m *Metrics) StepExecuted(step, direction, status string, d time.Duration) {
	if !m.Enabled() {
		return
	}
	m.stepsExecuted.WithLabelValues(step, direction, status).Inc()
	m.stepDuration.WithLabelValues(step, direction).Observe(d.Seconds())
}

// StepRetried records a retry attempt.
func (m *Metrics) StepRetried(step string) {
	if !m.Enabled() {
		return
	}
	m.stepRetries.WithLabelValues(step).Inc()
}

// SetResourceCount records the number of resource rows in a state.
func (m *Metrics) SetResourceCount(state string, n float64) {
	if !m.Enabled() {
		return
	}
	m.resourcesByState.WithLabelValues(state).Set(n)
}

// Handler returns the HTTP handler serving the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if !m.Enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve starts the metrics HTTP server. Blocks until the server stops.
func (m *Metrics) Serve() error {
	if !m.Enabled() {
		return nil
	}
	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())
	return http.ListenAndServe(m.config.ListenAddress, mux)
}
