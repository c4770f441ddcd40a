package telemetry

import (
	"context"
	"net/http"
)

// Telemetry bundles the observability components one process carries:
// logger, tracer, metric set, and the run event bus. The CLI builds
// one instance and hands the pieces down to the packages that use
// them.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *Bus
	Config  *Config
}

type telemetryContextKey struct{}

// New assembles a Telemetry from the configuration.
func New(cfg *Config) (*Telemetry, error) {
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

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Events:  NewBus(cfg.Events),
		Config:  cfg,
	}, nil
}

// WithContext stores the telemetry instance and its logger in the
// context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	return t.Logger.WithContext(ctx)
}

// FromTelemetryContext retrieves the instance from the context, or
// nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// StartMetricsServer exposes the scrape endpoint when metrics are
// enabled. The returned server is nil otherwise.
func (t *Telemetry) StartMetricsServer() *http.Server {
	return t.Metrics.StartServer(t.Logger.Zerolog())
}

// Shutdown drains the event bus and flushes the tracer.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if err := t.Events.Shutdown(ctx); err != nil {
		return err
	}
	return t.Tracer.Shutdown(ctx)
}
