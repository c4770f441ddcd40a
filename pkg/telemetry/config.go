package telemetry

import (
	"fmt"
	"time"
)

// Config bundles the observability settings of one shipshape process.
type Config struct {
	// ServiceName identifies this process in traces and metrics.
	ServiceName string

	// ServiceVersion is the build version reported with telemetry.
	ServiceVersion string

	// Environment is the deployment environment label (dev, staging,
	// prod).
	Environment string

	// Logging configures structured logging.
	Logging LoggingConfig

	// Tracing configures distributed tracing.
	Tracing TracingConfig

	// Metrics configures the Prometheus endpoint.
	Metrics MetricsConfig

	// Events configures the run event bus.
	Events EventsConfig
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level is the minimum level (trace, debug, info, warn, error).
	Level string

	// Format is console or json.
	Format string

	// Output is stdout, stderr, or a file path.
	Output string

	// EnableCaller adds file:line to log lines.
	EnableCaller bool

	// EnableSampling caps high-frequency logging.
	EnableSampling bool

	// SamplingInitial is the per-second burst before sampling kicks in.
	SamplingInitial int

	// SamplingThereafter keeps every Nth message once sampling.
	SamplingThereafter int

	// TimeFormat is unix, unixms, or rfc3339.
	TimeFormat string
}

// TracingConfig configures distributed tracing.
type TracingConfig struct {
	// Enabled turns span generation on.
	Enabled bool

	// Exporter is otlp, stdout, or none.
	Exporter string

	// Endpoint is the OTLP collector address.
	Endpoint string

	// SamplingRate is the trace sampling ratio in [0, 1].
	SamplingRate float64

	// MaxExportBatchSize bounds one export batch.
	MaxExportBatchSize int

	// ExportTimeout bounds one export call.
	ExportTimeout time.Duration

	// Headers are extra OTLP request headers.
	Headers map[string]string

	// Insecure disables TLS towards the collector.
	Insecure bool
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Enabled turns metric collection on.
	Enabled bool

	// ListenAddress is the scrape endpoint bind address.
	ListenAddress string

	// Path is the scrape path.
	Path string

	// Namespace prefixes every metric name.
	Namespace string

	// DurationBuckets are the histogram buckets in seconds.
	DurationBuckets []float64
}

// EventsConfig configures the run event bus.
type EventsConfig struct {
	// BufferSize is the dispatch queue depth. Events beyond it are
	// dropped rather than blocking the engine.
	BufferSize int
}

// DefaultConfig returns the development-friendly defaults: console
// logs, stdout traces, metrics off.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "shipshape",
		ServiceVersion: "dev",
		Environment:    "development",
		Logging: LoggingConfig{
			Level:              "info",
			Format:             "console",
			Output:             "stderr",
			SamplingInitial:    100,
			SamplingThereafter: 100,
			TimeFormat:         "rfc3339",
		},
		Tracing: TracingConfig{
			Enabled:            false,
			Exporter:           "stdout",
			SamplingRate:       1.0,
			MaxExportBatchSize: 512,
			ExportTimeout:      30 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:       false,
			ListenAddress: ":9090",
			Path:          "/metrics",
			Namespace:     "shipshape",
			DurationBuckets: []float64{
				0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300,
			},
		},
		Events: EventsConfig{
			BufferSize: 1024,
		},
	}
}

// ProductionConfig returns defaults tuned for unattended runs: json
// logs with sampling, OTLP traces at 10%, metrics on.
func ProductionConfig() *Config {
	cfg := DefaultConfig()
	cfg.Environment = "production"
	cfg.Logging.Format = "json"
	cfg.Logging.EnableSampling = true
	cfg.Logging.TimeFormat = "unix"
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "otlp"
	cfg.Tracing.SamplingRate = 0.1
	cfg.Metrics.Enabled = true
	return cfg
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service name is required")
	}

	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	if c.Logging.Format != "console" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be console or json)", c.Logging.Format)
	}

	if c.Tracing.Enabled {
		switch c.Tracing.Exporter {
		case "otlp", "stdout", "none":
		default:
			return fmt.Errorf("invalid trace exporter: %s", c.Tracing.Exporter)
		}
		if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
			return fmt.Errorf("trace sampling rate must be within [0, 1], got %f", c.Tracing.SamplingRate)
		}
	}

	if c.Metrics.Enabled && c.Metrics.ListenAddress == "" {
		return fmt.Errorf("metrics listen address is required when metrics are enabled")
	}

	if c.Events.BufferSize < 0 {
		return fmt.Errorf("event buffer size must not be negative, got %d", c.Events.BufferSize)
	}

	return nil
}
