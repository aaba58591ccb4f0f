package telemetry

// Telemetry bundles the logger, tracer, metrics and event publisher so
// wiring code passes one handle around.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

// NewTelemetry creates a telemetry instance from configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	events, err := NewEventPublisher(cfg.Events)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Events:  events,
		Config:  cfg,
	}, nil
}

// NewTestTelemetry returns a telemetry bundle suitable for tests: silent
// logger, disabled metrics and tracing, enabled event bus.
func NewTestTelemetry() *Telemetry {
	metrics, _ := NewMetrics(MetricsConfig{Enabled: false})
	tracer, _ := NewTracer(TracingConfig{Enabled: false}, "wsm-test", "test", "test")
	events, _ := NewEventPublisher(EventsConfig{Enabled: true, BufferSize: 64})
	return &Telemetry{
		Logger:  NewTestLogger(),
		Tracer:  tracer,
		Metrics: metrics,
		Events:  events,
		Config:  DefaultConfig(),
	}
}
