package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/openmesa/openmesa/pkg/stores"
	"github.com/openmesa/openmesa/pkg/telemetry"
)

// Config holds the tunable parameters of the workflow engine.
type Config struct {
	// PollInterval is the delay between server status poll rounds.
	PollInterval time.Duration

	// PollAttempts is the maximum number of poll rounds before the
	// provision workflow fails with a timeout.
	PollAttempts int

	// PreflightTimeout bounds the SSH reachability wait before a playbook
	// run. Zero disables the preflight.
	PreflightTimeout time.Duration
}

// DefaultConfig returns the default engine configuration: a 5 second poll
// interval with 60 attempts, giving a 5 minute provisioning ceiling.
func DefaultConfig() Config {
	return Config{
		PollInterval: 5 * time.Second,
		PollAttempts: 60,
	}
}

// Engine coordinates the five deployment workflows against the store, the
// cloud resource API, and the playbook runner.
//
// At most one workflow runs per deployment id at a time; the launch methods
// enforce this with a per-deployment lease.
type Engine struct {
	store    DeploymentStore
	cloud    ResourceClient
	runner   PlaybookRunner
	cfg      Config
	log      *telemetry.Logger
	metrics  *telemetry.Metrics
	tracer   *telemetry.Tracer
	validate *validator.Validate

	launches *launchRegistry
}

// NewEngine creates a workflow engine. A nil logger, metrics collector, or
// tracer is replaced with a no-op instance.
func NewEngine(store DeploymentStore, cloud ResourceClient, runner PlaybookRunner, cfg Config, log *telemetry.Logger, metrics *telemetry.Metrics, tracer *telemetry.Tracer) *Engine {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.PollAttempts <= 0 {
		cfg.PollAttempts = DefaultConfig().PollAttempts
	}
	if log == nil {
		log = telemetry.Nop()
	}
	if metrics == nil {
		metrics, _ = telemetry.NewMetrics(telemetry.MetricsConfig{})
	}
	if tracer == nil {
		tracer, _ = telemetry.NewTracer(telemetry.TracingConfig{}, "openmesa", "", "")
	}
	return &Engine{
		store:    store,
		cloud:    cloud,
		runner:   runner,
		cfg:      cfg,
		log:      log.NewComponentLogger("orchestrator"),
		metrics:  metrics,
		tracer:   tracer,
		validate: validator.New(),
		launches: newLaunchRegistry(),
	}
}

// statusLabel converts a success flag into the metrics label for it.
func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// setStatus transitions the deployment to the given status.
func (e *Engine) setStatus(ctx context.Context, id uuid.UUID, status stores.DeploymentStatus) error {
	_, err := e.store.UpdateDeployment(ctx, id, stores.DeploymentUpdate{Status: &status})
	if err != nil {
		return NewInternalError(fmt.Sprintf("failed to set deployment status to %s", status), err)
	}
	return nil
}

// markFailed records a FAILED status with the structured error payload.
// A store failure here is logged but not escalated: the workflow's result
// already carries the triggering error.
func (e *Engine) markFailed(ctx context.Context, id uuid.UUID, info *stores.ErrorInfo) {
	status := stores.StatusFailed
	if _, err := e.store.UpdateDeployment(ctx, id, stores.DeploymentUpdate{
		Status: &status,
		Error:  info,
	}); err != nil {
		e.log.WithDeploymentID(id.String()).WithError(err).
			Error("failed to persist FAILED status")
	}
}

// markCompleted records a COMPLETED status, optionally rewriting resources
// and extra metadata. The store clears any previous error payload.
func (e *Engine) markCompleted(ctx context.Context, id uuid.UUID, res *stores.Resources, extra *stores.ExtraMetadata) error {
	status := stores.StatusCompleted
	_, err := e.store.UpdateDeployment(ctx, id, stores.DeploymentUpdate{
		Status:        &status,
		Resources:     res,
		ExtraMetadata: extra,
	})
	if err != nil {
		return NewInternalError("failed to persist COMPLETED status", err)
	}
	return nil
}
