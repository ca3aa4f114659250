package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/openmesa/openmesa/pkg/stores"
	"github.com/openmesa/openmesa/pkg/telemetry"
)

// RunDeleteWorkflow tears down every resource recorded on the deployment:
// all servers concurrently, then the network (which removes its subnet).
// A deployment with no recorded resources is deleted immediately with no
// remote calls.
//
// On failure it re-attempts deletion of the original full resource set,
// best effort, and marks the deployment FAILED with the triggering error.
func (e *Engine) RunDeleteWorkflow(ctx context.Context, in DeleteInput) (res DeleteResult) {
	log := e.log.WithWorkflow(WorkflowDelete).WithDeploymentID(in.DeploymentID.String())
	ctx, span := e.tracer.StartWorkflowSpan(ctx, WorkflowDelete, in.DeploymentID.String())
	defer span.End()

	timer := telemetry.NewTimer()
	e.metrics.RecordWorkflowStarted(WorkflowDelete)
	defer func() {
		e.metrics.RecordWorkflowCompleted(WorkflowDelete, statusLabel(res.Success), timer.Duration())
	}()

	res = DeleteResult{DeploymentID: in.DeploymentID}

	if err := e.validate.Struct(in); err != nil {
		res.Error = NewValidationError(fmt.Sprintf("invalid delete input: %s", err)).Error()
		return res
	}

	if err := e.setStatus(ctx, in.DeploymentID, stores.StatusDeleting); err != nil {
		log.WithError(err).Error("cannot start deletion")
		res.Error = err.Error()
		return res
	}

	fail := func(err error) DeleteResult {
		log.WithError(err).Error("deletion failed, attempting cleanup of full resource set")
		telemetry.RecordError(span, err)
		// Cleanup runs over the original full set, not just the resources
		// whose deletion already failed.
		e.compensate(ctx, in.Resources.NetworkID, in.Resources.ServerIDs)
		e.markFailed(ctx, in.DeploymentID, &stores.ErrorInfo{
			Message: err.Error(),
			Phase:   "deletion",
		})
		res.Error = err.Error()
		return res
	}

	if !in.Resources.IsEmpty() {
		if len(in.Resources.ServerIDs) > 0 {
			errs := make([]error, len(in.Resources.ServerIDs))
			var wg sync.WaitGroup
			for i, id := range in.Resources.ServerIDs {
				wg.Add(1)
				go func(i int, id string) {
					defer wg.Done()
					errs[i] = e.cloud.DeleteServer(ctx, id)
				}(i, id)
			}
			wg.Wait()

			var deleteErr error
			for i, id := range in.Resources.ServerIDs {
				if errs[i] != nil {
					if deleteErr == nil {
						deleteErr = NewRemoteError("failed to delete server", errs[i]).WithResource(id)
					}
					continue
				}
				res.DeletedServerIDs = append(res.DeletedServerIDs, id)
			}
			if deleteErr != nil {
				return fail(deleteErr)
			}
			log.Infof("deleted %d servers", len(res.DeletedServerIDs))
		}

		if in.Resources.NetworkID != "" {
			if err := e.cloud.DeleteNetwork(ctx, in.Resources.NetworkID); err != nil {
				return fail(NewRemoteError("failed to delete network", err).
					WithResource(in.Resources.NetworkID))
			}
			log.Infof("deleted network %s", in.Resources.NetworkID)
		}
	}

	status := stores.StatusDeleted
	if _, err := e.store.UpdateDeployment(ctx, in.DeploymentID, stores.DeploymentUpdate{Status: &status}); err != nil {
		return fail(NewInternalError("failed to persist DELETED status", err))
	}

	log.Info("deletion completed")
	telemetry.RecordSuccess(span)
	res.Success = true
	return res
}
