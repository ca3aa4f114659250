package orchestrator

import (
	"context"
	"sync"
)

// CompensationOutcome records the result of one best-effort deletion
// attempt during rollback.
type CompensationOutcome struct {
	// ResourceType is "server" or "network".
	ResourceType string

	// ResourceID is the provider-assigned id that was attempted.
	ResourceID string

	// Err is nil when the deletion succeeded.
	Err error
}

// compensate attempts deletion of every given server and the network, each
// independently guarded so one failure never blocks attempts on the others.
// It never fails: all outcomes are returned for logging and metrics only.
func (e *Engine) compensate(ctx context.Context, networkID string, serverIDs []string) []CompensationOutcome {
	outcomes := make([]CompensationOutcome, len(serverIDs))

	var wg sync.WaitGroup
	for i, id := range serverIDs {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			outcomes[i] = CompensationOutcome{
				ResourceType: "server",
				ResourceID:   id,
				Err:          e.cloud.DeleteServer(ctx, id),
			}
		}(i, id)
	}
	wg.Wait()

	// The network goes last so attached ports are gone first.
	if networkID != "" {
		outcomes = append(outcomes, CompensationOutcome{
			ResourceType: "network",
			ResourceID:   networkID,
			Err:          e.cloud.DeleteNetwork(ctx, networkID),
		})
	}

	for _, o := range outcomes {
		e.metrics.RecordCompensation(o.ResourceType, o.Err == nil)
		log := e.log.WithField("resource_type", o.ResourceType).WithField("resource_id", o.ResourceID)
		if o.Err != nil {
			log.WithError(o.Err).Warn("compensation deletion failed")
		} else {
			log.Info("compensation deleted resource")
		}
	}

	return outcomes
}
