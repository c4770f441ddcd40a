package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/shipshape-io/shipshape/pkg/engine"
)

// Metrics exposes deploy counters and histograms to Prometheus. All
// record methods are no-ops when metrics are disabled, so callers never
// need to guard.
type Metrics struct {
	config MetricsConfig

	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	hostConnections *prometheus.CounterVec
	hostsFailed     *prometheus.CounterVec

	opsExecuted *prometheus.CounterVec
	opDuration  *prometheus.HistogramVec

	commandsExecuted *prometheus.CounterVec
	commandDuration  prometheus.Histogram

	factCacheHits   prometheus.Counter
	factCacheMisses prometheus.Counter

	activeRuns prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates the metric set. Disabled config yields an
// instance whose recorders do nothing.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DurationBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Runs started, by mode",
			},
			[]string{"mode"},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Runs reaching a terminal phase, by phase",
			},
			[]string{"phase"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Wall time of runs, by terminal phase",
				Buckets:   buckets,
			},
			[]string{"phase"},
		),

		hostConnections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "host_connections_total",
				Help:      "Connection attempts, by outcome",
			},
			[]string{"status"},
		),
		hostsFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "hosts_failed_total",
				Help:      "Hosts excluded from runs, by terminal status",
			},
			[]string{"status"},
		),

		opsExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ops_executed_total",
				Help:      "Operation records produced, by operation and status",
			},
			[]string{"op", "status"},
		),
		opDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "op_duration_seconds",
				Help:      "Per-host wall time of operations",
				Buckets:   buckets,
			},
			[]string{"op"},
		),

		commandsExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commands_executed_total",
				Help:      "Remote commands executed, by outcome",
			},
			[]string{"status"},
		),
		commandDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "command_duration_seconds",
				Help:      "Wall time of remote commands",
				Buckets:   buckets,
			},
		),

		factCacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fact_cache_hits_total",
				Help:      "Fact queries served from the per-run cache",
			},
		),
		factCacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fact_cache_misses_total",
				Help:      "Fact queries that probed the host",
			},
		),

		activeRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_runs",
				Help:      "Runs currently executing",
			},
		),
	}

	registry.MustRegister(
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.hostConnections,
		m.hostsFailed,
		m.opsExecuted,
		m.opDuration,
		m.commandsExecuted,
		m.commandDuration,
		m.factCacheHits,
		m.factCacheMisses,
		m.activeRuns,
	)

	return m, nil
}

// RecordRunStarted counts a run start.
func (m *Metrics) RecordRunStarted(dry bool) {
	if m.runsStarted == nil {
		return
	}
	mode := "apply"
	if dry {
		mode = "dry"
	}
	m.runsStarted.WithLabelValues(mode).Inc()
	m.activeRuns.Inc()
}

// RecordRunCompleted counts a terminal run with its duration.
func (m *Metrics) RecordRunCompleted(phase string, duration time.Duration) {
	if m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(phase).Inc()
	m.runDuration.WithLabelValues(phase).Observe(duration.Seconds())
	m.activeRuns.Dec()
}

// RecordHostConnection counts one connection attempt.
func (m *Metrics) RecordHostConnection(ok bool) {
	if m.hostConnections == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "failed"
	}
	m.hostConnections.WithLabelValues(status).Inc()
}

// RecordOp counts one operation record with its duration.
func (m *Metrics) RecordOp(op, status string, duration time.Duration) {
	if m.opsExecuted == nil {
		return
	}
	m.opsExecuted.WithLabelValues(op, status).Inc()
	m.opDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordCommand counts one remote command with its duration.
func (m *Metrics) RecordCommand(ok bool, duration time.Duration) {
	if m.commandsExecuted == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "failed"
	}
	m.commandsExecuted.WithLabelValues(status).Inc()
	m.commandDuration.Observe(duration.Seconds())
}

// AddFactCacheStats folds one run's cache counters in.
func (m *Metrics) AddFactCacheStats(hits, misses int64) {
	if m.factCacheHits == nil {
		return
	}
	m.factCacheHits.Add(float64(hits))
	m.factCacheMisses.Add(float64(misses))
}

// RecordReport folds a finished run's report into the metric set: the
// run itself, per-host terminal statuses, and every operation record.
func (m *Metrics) RecordReport(report *engine.Report) {
	if m.registry == nil || report == nil {
		return
	}

	m.RecordRunCompleted(string(report.Run.Phase), report.Run.Duration)

	for _, h := range report.Hosts {
		m.RecordHostConnection(h.Status != engine.HostStatusUnreachable)
		if h.Status != engine.HostStatusOK {
			m.hostsFailed.WithLabelValues(string(h.Status)).Inc()
		}
	}
	for _, rec := range report.Records {
		m.RecordOp(rec.Op, string(rec.Status), rec.Duration)
	}
}

// Handler returns the scrape handler.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartServer exposes the scrape endpoint on the configured address
// and returns the server for shutdown. Disabled metrics return nil.
func (m *Metrics) StartServer(log zerolog.Logger) *http.Server {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server error")
		}
	}()

	return server
}
