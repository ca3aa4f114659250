package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/openmesa/openmesa/pkg/stores"
	"github.com/openmesa/openmesa/pkg/telemetry"
)

// RunProvisionWorkflow creates the network, subnet, and servers described by
// the deployment template, waits until every server is active, and records
// the provider-assigned resource ids on the deployment.
//
// On failure at any step it deletes whatever was actually created so far,
// best effort, and marks the deployment FAILED. It never returns an error:
// the outcome is fully described by the result.
func (e *Engine) RunProvisionWorkflow(ctx context.Context, in ProvisionInput) (res ProvisionResult) {
	log := e.log.WithWorkflow(WorkflowProvision).WithDeploymentID(in.DeploymentID.String())
	ctx, span := e.tracer.StartWorkflowSpan(ctx, WorkflowProvision, in.DeploymentID.String())
	defer span.End()

	timer := telemetry.NewTimer()
	e.metrics.RecordWorkflowStarted(WorkflowProvision)
	defer func() {
		e.metrics.RecordWorkflowCompleted(WorkflowProvision, statusLabel(res.Success), timer.Duration())
	}()

	res = ProvisionResult{DeploymentID: in.DeploymentID}

	if err := e.validate.Struct(in); err != nil {
		res.Error = NewValidationError(fmt.Sprintf("invalid provision input: %s", err)).Error()
		return res
	}
	if in.Template.NetworkConfig.CIDR == "" {
		res.Error = NewValidationError("template network_config.cidr is required").Error()
		return res
	}

	if err := e.setStatus(ctx, in.DeploymentID, stores.StatusInProgress); err != nil {
		log.WithError(err).Error("cannot start provisioning")
		res.Error = err.Error()
		return res
	}

	count, flavor, image := resolveShape(in.Template, in.Parameters)
	log.Infof("provisioning %d servers (flavor=%s, image=%s) in %s", count, flavor, image, in.CloudRegion)

	fail := func(networkID string, serverIDs []string, err error) ProvisionResult {
		log.WithError(err).Error("provisioning failed, rolling back created resources")
		telemetry.RecordError(span, err)
		e.compensate(ctx, networkID, serverIDs)
		e.markFailed(ctx, in.DeploymentID, &stores.ErrorInfo{
			Message: err.Error(),
			Type:    string(ClassOf(err)),
		})
		res.Error = err.Error()
		return res
	}

	// One network with one subnet forms the "network ready" step.
	networkName := fmt.Sprintf("%s-network", in.DeploymentID)
	networkID, err := e.cloud.CreateNetwork(ctx, networkName)
	if err != nil {
		return fail("", nil, NewRemoteError("failed to create network", err))
	}
	log.Infof("created network %s", networkID)

	subnetID, err := e.cloud.CreateSubnet(ctx, networkName+"-subnet", networkID, in.Template.NetworkConfig.CIDR)
	if err != nil {
		return fail(networkID, nil, NewRemoteError("failed to create subnet", err))
	}
	log.Infof("created subnet %s", subnetID)

	// Fan out all server creations concurrently, then join. The indexed
	// slice keeps server_ids ordered by VM index regardless of completion
	// order.
	serverIDs := make([]string, count)
	serverErrs := make([]error, count)
	var wg sync.WaitGroup
	for i := 0; i < count; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("%s-vm-%d", in.DeploymentID, i)
			serverIDs[i], serverErrs[i] = e.cloud.CreateServer(ctx, name, flavor, image, networkID)
		}(i)
	}
	wg.Wait()

	var created []string
	var createErr error
	for i := 0; i < count; i++ {
		if serverErrs[i] != nil {
			if createErr == nil {
				createErr = serverErrs[i]
			}
			continue
		}
		created = append(created, serverIDs[i])
	}
	if createErr != nil {
		// Roll back only what actually came into existence.
		return fail(networkID, created, NewRemoteError(
			fmt.Sprintf("failed to create %d of %d servers", count-len(created), count), createErr))
	}
	log.Infof("created %d servers", len(created))

	if err := e.waitForServersActive(ctx, created); err != nil {
		return fail(networkID, created, err)
	}

	resources := &stores.Resources{
		NetworkID: networkID,
		SubnetID:  subnetID,
		ServerIDs: created,
	}
	if err := e.markCompleted(ctx, in.DeploymentID, resources, nil); err != nil {
		return fail(networkID, created, err)
	}

	log.Info("provisioning completed")
	telemetry.RecordSuccess(span)
	res.Success = true
	res.NetworkID = networkID
	res.SubnetID = subnetID
	res.ServerIDs = created
	return res
}

// resolveShape applies parameter overrides on top of the template's VM
// shape. The VM count defaults to 1 when neither source specifies it.
func resolveShape(tpl stores.Template, params stores.Parameters) (count int, flavor, image string) {
	count = tpl.VMConfig.Count
	if params.VMCount != nil {
		count = *params.VMCount
	}
	if count <= 0 {
		count = 1
	}

	flavor = tpl.VMConfig.Flavor
	if params.Flavor != "" {
		flavor = params.Flavor
	}

	image = tpl.VMConfig.Image
	if params.Image != "" {
		image = params.Image
	}
	return count, flavor, image
}
