package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/openmesa/openmesa/pkg/stores"
	"github.com/openmesa/openmesa/pkg/telemetry"
)

// RunUpdateWorkflow applies parameter changes to a running deployment:
// a new flavor resizes every server concurrently, a new network CIDR
// replaces the subnet. Either, both, or neither may be present; with
// neither the workflow degenerates to a status bounce with resources
// unchanged.
//
// Update failures are reported, not rolled back.
func (e *Engine) RunUpdateWorkflow(ctx context.Context, in UpdateInput) (res UpdateResult) {
	log := e.log.WithWorkflow(WorkflowUpdate).WithDeploymentID(in.DeploymentID.String())
	ctx, span := e.tracer.StartWorkflowSpan(ctx, WorkflowUpdate, in.DeploymentID.String())
	defer span.End()

	timer := telemetry.NewTimer()
	e.metrics.RecordWorkflowStarted(WorkflowUpdate)
	defer func() {
		e.metrics.RecordWorkflowCompleted(WorkflowUpdate, statusLabel(res.Success), timer.Duration())
	}()

	res = UpdateResult{DeploymentID: in.DeploymentID}

	if err := e.validate.Struct(in); err != nil {
		res.Error = NewValidationError(fmt.Sprintf("invalid update input: %s", err)).Error()
		return res
	}

	if err := e.setStatus(ctx, in.DeploymentID, stores.StatusInProgress); err != nil {
		log.WithError(err).Error("cannot start update")
		res.Error = err.Error()
		return res
	}

	fail := func(err error) UpdateResult {
		log.WithError(err).Error("update failed")
		telemetry.RecordError(span, err)
		e.markFailed(ctx, in.DeploymentID, &stores.ErrorInfo{
			Message: err.Error(),
			Phase:   "update",
		})
		res.Error = err.Error()
		return res
	}

	if in.Parameters.Flavor != "" && len(in.Resources.ServerIDs) > 0 {
		log.Infof("resizing %d servers to flavor %s", len(in.Resources.ServerIDs), in.Parameters.Flavor)

		errs := make([]error, len(in.Resources.ServerIDs))
		var wg sync.WaitGroup
		for i, id := range in.Resources.ServerIDs {
			wg.Add(1)
			go func(i int, id string) {
				defer wg.Done()
				errs[i] = e.cloud.ResizeServer(ctx, id, in.Parameters.Flavor)
			}(i, id)
		}
		wg.Wait()

		for i, id := range in.Resources.ServerIDs {
			if errs[i] != nil {
				return fail(NewRemoteError("failed to resize server", errs[i]).WithResource(id))
			}
			res.ResizedServerIDs = append(res.ResizedServerIDs, id)
		}
	}

	newSubnetID := ""
	if in.Parameters.NetworkCIDR != "" && in.Resources.NetworkID != "" && in.Resources.SubnetID != "" {
		log.Infof("replacing subnet %s with CIDR %s", in.Resources.SubnetID, in.Parameters.NetworkCIDR)

		// Provision the replacement before retiring the old subnet, so a
		// creation failure leaves the network untouched.
		name := fmt.Sprintf("%s-subnet-%s", in.DeploymentID, uuid.New().String()[:8])
		id, err := e.cloud.CreateSubnet(ctx, name, in.Resources.NetworkID, in.Parameters.NetworkCIDR)
		if err != nil {
			return fail(NewRemoteError("failed to create replacement subnet", err))
		}
		if err := e.cloud.DeleteSubnet(ctx, in.Resources.SubnetID); err != nil {
			return fail(NewRemoteError("failed to delete old subnet", err).
				WithResource(in.Resources.SubnetID))
		}
		newSubnetID = id
	}

	// Merge: start from a copy of the current resources and overwrite only
	// the subnet id when the network step ran. Caller-set extra keys and
	// the server list pass through untouched.
	merged := in.Resources.Clone()
	if newSubnetID != "" {
		merged.SubnetID = newSubnetID
	}

	if err := e.markCompleted(ctx, in.DeploymentID, &merged, nil); err != nil {
		return fail(err)
	}

	log.Info("update completed")
	telemetry.RecordSuccess(span)
	res.Success = true
	res.Resources = &merged
	return res
}
