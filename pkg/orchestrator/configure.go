package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/openmesa/openmesa/pkg/stores"
	"github.com/openmesa/openmesa/pkg/telemetry"
)

// RunConfigureWorkflow resolves the IP addresses of the deployment's
// servers and executes a playbook against them. On success it records the
// configured hosts in the deployment's extra metadata. A deployment with
// no servers fails immediately with no status mutation and no remote calls.
func (e *Engine) RunConfigureWorkflow(ctx context.Context, in ConfigureInput) (res ConfigureResult) {
	log := e.log.WithWorkflow(WorkflowConfigure).WithDeploymentID(in.DeploymentID.String())
	ctx, span := e.tracer.StartWorkflowSpan(ctx, WorkflowConfigure, in.DeploymentID.String())
	defer span.End()

	timer := telemetry.NewTimer()
	e.metrics.RecordWorkflowStarted(WorkflowConfigure)
	defer func() {
		e.metrics.RecordWorkflowCompleted(WorkflowConfigure, statusLabel(res.Success), timer.Duration())
	}()

	res = ConfigureResult{DeploymentID: in.DeploymentID}

	if err := e.validate.Struct(in); err != nil {
		res.Error = NewValidationError(fmt.Sprintf("invalid configure input: %s", err)).Error()
		return res
	}

	// The empty-VM guard runs before any status mutation or remote call.
	if len(in.Resources.ServerIDs) == 0 {
		res.Error = NewValidationError("No VMs found for deployment").Error()
		log.Warn("configure requested but deployment has no servers")
		return res
	}

	if err := e.setStatus(ctx, in.DeploymentID, stores.StatusInProgress); err != nil {
		log.WithError(err).Error("cannot start configuration")
		res.Error = err.Error()
		return res
	}

	fail := func(info *stores.ErrorInfo) ConfigureResult {
		log.Errorf("configuration failed: %s", info.Message)
		e.markFailed(ctx, in.DeploymentID, info)
		res.Error = info.Message
		return res
	}

	hosts, err := e.resolveHosts(ctx, in.Resources.ServerIDs)
	if err != nil {
		telemetry.RecordError(span, err)
		return fail(&stores.ErrorInfo{
			Message: fmt.Sprintf("Configuration failed: %s", err),
		})
	}
	log.Infof("resolved %d hosts for configuration", len(hosts))

	if e.cfg.PreflightTimeout > 0 {
		if err := e.runner.WaitForHosts(ctx, hosts, e.cfg.PreflightTimeout); err != nil {
			telemetry.RecordError(span, err)
			return fail(&stores.ErrorInfo{
				Message: fmt.Sprintf("Configuration failed: hosts not reachable: %s", err),
			})
		}
	}

	pbCtx, pbSpan := e.tracer.StartPlaybookSpan(ctx, in.PlaybookPath, "")
	result, err := e.runner.RunPlaybook(pbCtx, PlaybookRequest{
		PlaybookPath: in.PlaybookPath,
		Inventory:    hosts,
		ExtraVars:    in.ExtraVars,
		Limit:        in.Limit,
	})
	if err != nil {
		telemetry.RecordError(pbSpan, err)
		pbSpan.End()
		return fail(&stores.ErrorInfo{
			Message: fmt.Sprintf("Configuration failed: %s", err),
		})
	}
	pbSpan.End()
	e.metrics.RecordPlaybookRun(string(result.Status), result.Duration)

	if result.Status != PlaybookStatusSuccessful {
		rc := result.ReturnCode
		msg := fmt.Sprintf("playbook execution %s", result.Status)
		if result.ErrorOutput != "" {
			msg = fmt.Sprintf("%s: %s", msg, result.ErrorOutput)
		}
		res.ExecutionID = result.ExecutionID
		res.ReturnCode = &rc
		return fail(&stores.ErrorInfo{
			Message:            msg,
			AnsibleExecutionID: result.ExecutionID,
			ReturnCode:         &rc,
		})
	}

	now := time.Now().UTC()
	extra := &stores.ExtraMetadata{
		ConfiguredHosts:  hosts,
		LastExecutionID:  result.ExecutionID,
		LastConfiguredAt: &now,
	}
	if err := e.markCompleted(ctx, in.DeploymentID, nil, extra); err != nil {
		telemetry.RecordError(span, err)
		return fail(&stores.ErrorInfo{Message: err.Error()})
	}

	log.Infof("configuration completed on %d hosts (execution %s)", len(hosts), result.ExecutionID)
	telemetry.RecordSuccess(span)
	res.Success = true
	res.ConfiguredHosts = hosts
	res.ExecutionID = result.ExecutionID
	return res
}

// resolveHosts looks up the first IP address of every server concurrently,
// preserving server order in the returned host list.
func (e *Engine) resolveHosts(ctx context.Context, serverIDs []string) ([]string, error) {
	addrs := make([][]string, len(serverIDs))
	errs := make([]error, len(serverIDs))

	var wg sync.WaitGroup
	for i, id := range serverIDs {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			addrs[i], errs[i] = e.cloud.ServerAddresses(ctx, id)
		}(i, id)
	}
	wg.Wait()

	hosts := make([]string, 0, len(serverIDs))
	for i, id := range serverIDs {
		if errs[i] != nil {
			return nil, NewRemoteError("failed to resolve server addresses", errs[i]).WithResource(id)
		}
		if len(addrs[i]) == 0 {
			return nil, NewRemoteError(fmt.Sprintf("server %s has no addresses", id), nil).WithResource(id)
		}
		hosts = append(hosts, addrs[i][0])
	}
	return hosts, nil
}
