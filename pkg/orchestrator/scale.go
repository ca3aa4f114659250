package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/trace"

	"github.com/openmesa/openmesa/pkg/stores"
	"github.com/openmesa/openmesa/pkg/telemetry"
)

// RunScaleWorkflow changes the deployment's server count to the target.
// Bound violations fail validation before any status mutation or remote
// call. Scale-out appends new servers to the existing network; scale-in
// removes the most recently added servers first.
func (e *Engine) RunScaleWorkflow(ctx context.Context, in ScaleInput) (res ScaleResult) {
	log := e.log.WithWorkflow(WorkflowScale).WithDeploymentID(in.DeploymentID.String())
	ctx, span := e.tracer.StartWorkflowSpan(ctx, WorkflowScale, in.DeploymentID.String())
	defer span.End()

	timer := telemetry.NewTimer()
	e.metrics.RecordWorkflowStarted(WorkflowScale)
	defer func() {
		e.metrics.RecordWorkflowCompleted(WorkflowScale, statusLabel(res.Success), timer.Duration())
	}()

	res = ScaleResult{
		DeploymentID: in.DeploymentID,
		Operation:    ScaleOpNone,
		InitialCount: in.CurrentCount,
		FinalCount:   in.CurrentCount,
	}

	if err := e.validate.Struct(in); err != nil {
		res.Error = NewValidationError(fmt.Sprintf("invalid scale input: %s", err)).Error()
		return res
	}

	// Bound validation happens before any remote call or status mutation.
	if in.TargetCount < in.MinCount {
		res.Error = NewValidationError(fmt.Sprintf(
			"target count %d is below min_count %d", in.TargetCount, in.MinCount)).Error()
		return res
	}
	if in.MaxCount != nil && in.TargetCount > *in.MaxCount {
		res.Error = NewValidationError(fmt.Sprintf(
			"target count %d exceeds max_count %d", in.TargetCount, *in.MaxCount)).Error()
		return res
	}

	if in.TargetCount == in.CurrentCount {
		log.Infof("already at target count %d, nothing to do", in.TargetCount)
		res.Success = true
		return res
	}

	if in.TargetCount > in.CurrentCount {
		return e.scaleOut(ctx, in, res, log, span)
	}
	return e.scaleIn(ctx, in, res, log, span)
}

func (e *Engine) scaleOut(ctx context.Context, in ScaleInput, res ScaleResult, log *telemetry.Logger, span trace.Span) ScaleResult {
	res.Operation = ScaleOpOut
	toAdd := in.TargetCount - in.CurrentCount
	log.Infof("scaling out from %d to %d servers", in.CurrentCount, in.TargetCount)

	if err := e.setStatus(ctx, in.DeploymentID, stores.StatusInProgress); err != nil {
		log.WithError(err).Error("cannot start scale-out")
		res.Error = err.Error()
		return res
	}

	fail := func(err error) ScaleResult {
		log.WithError(err).Error("scale-out failed")
		telemetry.RecordError(span, err)
		e.markFailed(ctx, in.DeploymentID, &stores.ErrorInfo{
			Message:   err.Error(),
			Operation: ScaleOpOut,
		})
		res.Error = err.Error()
		return res
	}

	// New server names continue the existing index sequence.
	ids := make([]string, toAdd)
	errs := make([]error, toAdd)
	var wg sync.WaitGroup
	for i := 0; i < toAdd; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("%s-vm-%d", in.DeploymentID, in.CurrentCount+i)
			ids[i], errs[i] = e.cloud.CreateServer(ctx, name,
				in.Template.VMConfig.Flavor, in.Template.VMConfig.Image, in.Resources.NetworkID)
		}(i)
	}
	wg.Wait()

	for i := 0; i < toAdd; i++ {
		if errs[i] != nil {
			return fail(NewRemoteError(
				fmt.Sprintf("failed to create server %d of %d", i+1, toAdd), errs[i]))
		}
	}

	merged := in.Resources.Clone()
	merged.ServerIDs = append(merged.ServerIDs, ids...)
	if err := e.markCompleted(ctx, in.DeploymentID, &merged, nil); err != nil {
		return fail(err)
	}

	log.Infof("scale-out completed, added %d servers", toAdd)
	telemetry.RecordSuccess(span)
	res.Success = true
	res.FinalCount = in.TargetCount
	res.NewServerIDs = ids
	return res
}

func (e *Engine) scaleIn(ctx context.Context, in ScaleInput, res ScaleResult, log *telemetry.Logger, span trace.Span) ScaleResult {
	res.Operation = ScaleOpIn
	toRemove := in.CurrentCount - in.TargetCount
	log.Infof("scaling in from %d to %d servers", in.CurrentCount, in.TargetCount)

	// Re-check the lower bound against the concrete removal count.
	if in.CurrentCount-toRemove < in.MinCount {
		res.Operation = ScaleOpNone
		res.Error = NewValidationError(fmt.Sprintf(
			"removing %d servers would violate min_count %d", toRemove, in.MinCount)).Error()
		return res
	}
	if toRemove > len(in.Resources.ServerIDs) {
		res.Operation = ScaleOpNone
		res.Error = NewValidationError(fmt.Sprintf(
			"cannot remove %d servers, only %d recorded", toRemove, len(in.Resources.ServerIDs))).Error()
		return res
	}

	if err := e.setStatus(ctx, in.DeploymentID, stores.StatusInProgress); err != nil {
		log.WithError(err).Error("cannot start scale-in")
		res.Error = err.Error()
		return res
	}

	fail := func(err error) ScaleResult {
		log.WithError(err).Error("scale-in failed")
		telemetry.RecordError(span, err)
		e.markFailed(ctx, in.DeploymentID, &stores.ErrorInfo{
			Message:   err.Error(),
			Operation: ScaleOpIn,
		})
		res.Error = err.Error()
		return res
	}

	// Most-recently-added servers are removed first.
	keep := in.Resources.ServerIDs[:len(in.Resources.ServerIDs)-toRemove]
	remove := in.Resources.ServerIDs[len(in.Resources.ServerIDs)-toRemove:]

	errs := make([]error, len(remove))
	var wg sync.WaitGroup
	for i, id := range remove {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			errs[i] = e.cloud.DeleteServer(ctx, id)
		}(i, id)
	}
	wg.Wait()

	for i, id := range remove {
		if errs[i] != nil {
			return fail(NewRemoteError("failed to delete server", errs[i]).WithResource(id))
		}
	}

	merged := in.Resources.Clone()
	merged.ServerIDs = append([]string(nil), keep...)
	if err := e.markCompleted(ctx, in.DeploymentID, &merged, nil); err != nil {
		return fail(err)
	}

	log.Infof("scale-in completed, removed %d servers", toRemove)
	telemetry.RecordSuccess(span)
	res.Success = true
	res.FinalCount = in.TargetCount
	res.RemovedServerIDs = append([]string(nil), remove...)
	return res
}
