package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/openmesa/openmesa/pkg/stores"
)

// ErrWorkflowInFlight is returned by the launch methods when a workflow is
// already running for the deployment.
var ErrWorkflowInFlight = errors.New("a workflow is already in flight for this deployment")

// launchRegistry is the per-deployment launch lease. At most one workflow
// may hold the lease for a deployment id at a time; a second launch is
// rejected instead of racing the first.
type launchRegistry struct {
	mu       sync.Mutex
	inFlight map[uuid.UUID]string
}

func newLaunchRegistry() *launchRegistry {
	return &launchRegistry{inFlight: make(map[uuid.UUID]string)}
}

// acquire takes the lease for a deployment. It reports the name of the
// holding workflow when the lease is already taken.
func (r *launchRegistry) acquire(id uuid.UUID, workflow string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if holder, ok := r.inFlight[id]; ok {
		return holder, false
	}
	r.inFlight[id] = workflow
	return workflow, true
}

func (r *launchRegistry) release(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inFlight, id)
}

// InFlight reports whether a workflow currently holds the lease for the
// deployment, and which one.
func (e *Engine) InFlight(id uuid.UUID) (string, bool) {
	e.launches.mu.Lock()
	defer e.launches.mu.Unlock()
	holder, ok := e.launches.inFlight[id]
	return holder, ok
}

// launch acquires the deployment lease and runs fn in a supervised
// goroutine. The goroutine is detached from the caller's cancellation: a
// fire-and-forget workflow must finish (and settle the deployment status)
// even after the launching request returns. A panic inside fn forces the
// deployment to FAILED before the goroutine exits.
func (e *Engine) launch(ctx context.Context, id uuid.UUID, workflow string, fn func(context.Context)) error {
	holder, ok := e.launches.acquire(id, workflow)
	if !ok {
		return fmt.Errorf("%w: %s workflow is running for deployment %s", ErrWorkflowInFlight, holder, id)
	}

	detached := context.WithoutCancel(ctx)
	go func() {
		defer e.launches.release(id)
		defer func() {
			if r := recover(); r != nil {
				e.log.WithDeploymentID(id.String()).WithWorkflow(workflow).
					Errorf("workflow panicked: %v", r)
				e.markFailed(detached, id, &stores.ErrorInfo{
					Message: fmt.Sprintf("%s workflow terminated unexpectedly: %v", workflow, r),
				})
			}
		}()
		fn(detached)
	}()
	return nil
}

// LaunchProvision starts the provision workflow in the background.
// The caller is expected to poll the store for status.
func (e *Engine) LaunchProvision(ctx context.Context, in ProvisionInput) error {
	return e.launch(ctx, in.DeploymentID, WorkflowProvision, func(ctx context.Context) {
		e.RunProvisionWorkflow(ctx, in)
	})
}

// LaunchDelete starts the delete workflow in the background.
func (e *Engine) LaunchDelete(ctx context.Context, in DeleteInput) error {
	return e.launch(ctx, in.DeploymentID, WorkflowDelete, func(ctx context.Context) {
		e.RunDeleteWorkflow(ctx, in)
	})
}

// LaunchUpdate starts the update workflow in the background.
func (e *Engine) LaunchUpdate(ctx context.Context, in UpdateInput) error {
	return e.launch(ctx, in.DeploymentID, WorkflowUpdate, func(ctx context.Context) {
		e.RunUpdateWorkflow(ctx, in)
	})
}

// LaunchScale starts the scale workflow in the background.
func (e *Engine) LaunchScale(ctx context.Context, in ScaleInput) error {
	return e.launch(ctx, in.DeploymentID, WorkflowScale, func(ctx context.Context) {
		e.RunScaleWorkflow(ctx, in)
	})
}

// LaunchConfigure starts the configure workflow in the background.
func (e *Engine) LaunchConfigure(ctx context.Context, in ConfigureInput) error {
	return e.launch(ctx, in.DeploymentID, WorkflowConfigure, func(ctx context.Context) {
		e.RunConfigureWorkflow(ctx, in)
	})
}
