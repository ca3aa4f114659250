package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for OpenMesa.
type Metrics struct {
	config MetricsConfig

	// Workflow metrics
	workflowsStarted   *prometheus.CounterVec
	workflowsCompleted *prometheus.CounterVec
	workflowDuration   *prometheus.HistogramVec

	// Cloud resource operation metrics
	resourceOps        *prometheus.CounterVec
	resourceOpDuration *prometheus.HistogramVec
	resourceOpErrors   *prometheus.CounterVec

	// Polling metrics
	pollRounds    *prometheus.CounterVec
	pollWaitTime  *prometheus.HistogramVec

	// Compensation metrics
	compensations *prometheus.CounterVec

	// Playbook metrics
	playbookRuns     *prometheus.CounterVec
	playbookDuration *prometheus.HistogramVec

	// Error metrics
	errorsByClass *prometheus.CounterVec

	// System metrics
	activeWorkflows prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	// Create a new registry
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		// Workflow metrics
		workflowsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "workflows_started_total",
				Help:      "Total number of workflows started",
			},
			[]string{"workflow"},
		),
		workflowsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "workflows_completed_total",
				Help:      "Total number of workflows completed",
			},
			[]string{"workflow", "status"},
		),
		workflowDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "workflow_duration_seconds",
				Help:      "Duration of workflow execution in seconds",
				Buckets:   buckets,
			},
			[]string{"workflow", "status"},
		),

		// Cloud resource operation metrics
		resourceOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resource_operations_total",
				Help:      "Total number of cloud resource operations",
			},
			[]string{"resource_type", "operation"},
		),
		resourceOpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "resource_operation_duration_seconds",
				Help:      "Duration of cloud resource operations in seconds",
				Buckets:   buckets,
			},
			[]string{"resource_type", "operation"},
		),
		resourceOpErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resource_operation_errors_total",
				Help:      "Total number of failed cloud resource operations",
			},
			[]string{"resource_type", "operation"},
		),

		// Polling metrics
		pollRounds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "poll_rounds_total",
				Help:      "Total number of server status poll rounds",
			},
			[]string{"outcome"},
		),
		pollWaitTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "poll_wait_seconds",
				Help:      "Time spent waiting for servers to become active",
				Buckets:   buckets,
			},
			[]string{"outcome"},
		),

		// Compensation metrics
		compensations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "compensations_total",
				Help:      "Total number of compensation (rollback) actions",
			},
			[]string{"resource_type", "outcome"},
		),

		// Playbook metrics
		playbookRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "playbook_runs_total",
				Help:      "Total number of playbook executions",
			},
			[]string{"status"},
		),
		playbookDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "playbook_duration_seconds",
				Help:      "Duration of playbook executions in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),

		// Error metrics
		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),

		// System metrics
		activeWorkflows: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_workflows",
				Help:      "Current number of in-flight workflows",
			},
		),
	}

	// Register all metrics
	registry.MustRegister(
		m.workflowsStarted,
		m.workflowsCompleted,
		m.workflowDuration,
		m.resourceOps,
		m.resourceOpDuration,
		m.resourceOpErrors,
		m.pollRounds,
		m.pollWaitTime,
		m.compensations,
		m.playbookRuns,
		m.playbookDuration,
		m.errorsByClass,
		m.activeWorkflows,
	)

	return m, nil
}

// Workflow Metrics

// RecordWorkflowStarted increments the counter for started workflows.
func (m *Metrics) RecordWorkflowStarted(workflow string) {
	if m.workflowsStarted == nil {
		return
	}
	m.workflowsStarted.WithLabelValues(workflow).Inc()
	m.activeWorkflows.Inc()
}

// RecordWorkflowCompleted records a completed workflow with its status and duration.
func (m *Metrics) RecordWorkflowCompleted(workflow, status string, duration time.Duration) {
	if m.workflowsCompleted == nil {
		return
	}
	m.workflowsCompleted.WithLabelValues(workflow, status).Inc()
	m.workflowDuration.WithLabelValues(workflow, status).Observe(duration.Seconds())
	m.activeWorkflows.Dec()
}

// Resource Operation Metrics

// RecordResourceOp records a cloud resource operation with its duration.
func (m *Metrics) RecordResourceOp(resourceType, operation string, duration time.Duration) {
	if m.resourceOps == nil {
		return
	}
	m.resourceOps.WithLabelValues(resourceType, operation).Inc()
	m.resourceOpDuration.WithLabelValues(resourceType, operation).Observe(duration.Seconds())
}

// RecordResourceOpError records a failed cloud resource operation.
func (m *Metrics) RecordResourceOpError(resourceType, operation string) {
	if m.resourceOpErrors == nil {
		return
	}
	m.resourceOpErrors.WithLabelValues(resourceType, operation).Inc()
}

// Polling Metrics

// RecordPollRound records a server status poll round.
func (m *Metrics) RecordPollRound(outcome string) {
	if m.pollRounds == nil {
		return
	}
	m.pollRounds.WithLabelValues(outcome).Inc()
}

// RecordPollWait records the total time spent waiting for servers.
func (m *Metrics) RecordPollWait(outcome string, duration time.Duration) {
	if m.pollWaitTime == nil {
		return
	}
	m.pollWaitTime.WithLabelValues(outcome).Observe(duration.Seconds())
}

// Compensation Metrics

// RecordCompensation records a compensation action and its outcome.
func (m *Metrics) RecordCompensation(resourceType string, success bool) {
	if m.compensations == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.compensations.WithLabelValues(resourceType, outcome).Inc()
}

// Playbook Metrics

// RecordPlaybookRun records a playbook execution with its status and duration.
func (m *Metrics) RecordPlaybookRun(status string, duration time.Duration) {
	if m.playbookRuns == nil {
		return
	}
	m.playbookRuns.WithLabelValues(status).Inc()
	m.playbookDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// Error Metrics

// RecordError records an error by class.
func (m *Metrics) RecordError(errorClass string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer() error {
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
			// Log error but don't fail the application
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}
