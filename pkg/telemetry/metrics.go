package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for convergence runs.
// Every method is safe on a nil or disabled *Metrics.
type Metrics struct {
	config MetricsConfig

	// Run metrics
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	activeRuns    prometheus.Gauge
	lastRunStatus *prometheus.GaugeVec

	// Resource metrics
	resourcesProcessed *prometheus.CounterVec

	// Action metrics
	actionsExecuted *prometheus.CounterVec
	actionDuration  *prometheus.HistogramVec

	// Error metrics
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	// Policy metrics
	policyViolations *prometheus.CounterVec

	registry *prometheus.Registry
}

var runStatuses = []string{"succeeded", "partial", "noop", "failed", "cancelled"}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
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
				Help:      "Total number of convergence runs started",
			},
			[]string{"machine"},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of convergence runs completed",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of convergence runs in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),
		activeRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_runs",
				Help:      "Number of convergence runs in progress",
			},
		),
		lastRunStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_status",
				Help:      "Status of the most recent run (1 for the current status, 0 otherwise)",
			},
			[]string{"status"},
		),
		resourcesProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resources_processed_total",
				Help:      "Total number of resources processed by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		actionsExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "actions_total",
				Help:      "Total number of actions by kind and status",
			},
			[]string{"kind", "status"},
		),
		actionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "action_duration_seconds",
				Help:      "Duration of applied actions in seconds",
				Buckets:   buckets,
			},
			[]string{"kind"},
		),
		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by classification",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by error code",
			},
			[]string{"code"},
		),
		policyViolations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_violations_total",
				Help:      "Total number of policy findings by policy and severity",
			},
			[]string{"policy", "severity"},
		),
	}

	collectors := []prometheus.Collector{
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.activeRuns,
		m.lastRunStatus,
		m.resourcesProcessed,
		m.actionsExecuted,
		m.actionDuration,
		m.errorsByClass,
		m.errorsByCode,
		m.policyViolations,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}

	return m, nil
}

func (m *Metrics) enabled() bool {
	return m != nil && m.registry != nil
}

// RecordRunStarted increments the counter for started runs.
func (m *Metrics) RecordRunStarted(machine string) {
	if !m.enabled() {
		return
	}
	m.runsStarted.WithLabelValues(machine).Inc()
	m.activeRuns.Inc()
}

// RecordRunCompleted records a completed run with its status and duration.
// Runs that failed before starting are counted without touching the active gauge.
func (m *Metrics) RecordRunCompleted(status string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.runsCompleted.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(duration.Seconds())
	if status != "failed" {
		m.activeRuns.Dec()
	}
	for _, s := range runStatuses {
		v := 0.0
		if s == status {
			v = 1.0
		}
		m.lastRunStatus.WithLabelValues(s).Set(v)
	}
}

// RecordResource counts a processed resource.
func (m *Metrics) RecordResource(kind, outcome string) {
	if !m.enabled() {
		return
	}
	m.resourcesProcessed.WithLabelValues(kind, outcome).Inc()
}

// RecordAction counts an action and observes its duration when it ran.
func (m *Metrics) RecordAction(kind, status string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.actionsExecuted.WithLabelValues(kind, status).Inc()
	if duration > 0 {
		m.actionDuration.WithLabelValues(kind).Observe(duration.Seconds())
	}
}

// RecordError records an error by class and optionally by code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if !m.enabled() {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
}

// RecordPolicyViolation counts a policy finding.
func (m *Metrics) RecordPolicyViolation(policy, severity string) {
	if !m.enabled() {
		return
	}
	m.policyViolations.WithLabelValues(policy, severity).Inc()
}

// Registry exposes the registry for tests and additional collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if !m.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Serve exposes metrics over HTTP until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context) error {
	if !m.enabled() {
		<-ctx.Done()
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
