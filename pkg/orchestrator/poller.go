package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// waitForServersActive polls the status of every server concurrently per
// round until all report ACTIVE, any reports ERROR, or the attempt budget is
// exhausted.
func (e *Engine) waitForServersActive(ctx context.Context, serverIDs []string) error {
	if len(serverIDs) == 0 {
		return nil
	}

	pending := append([]string(nil), serverIDs...)
	start := time.Now()

	for attempt := 1; attempt <= e.cfg.PollAttempts; attempt++ {
		statuses := make([]string, len(pending))
		errs := make([]error, len(pending))

		var wg sync.WaitGroup
		for i, id := range pending {
			wg.Add(1)
			go func(i int, id string) {
				defer wg.Done()
				statuses[i], errs[i] = e.cloud.GetServerStatus(ctx, id)
			}(i, id)
		}
		wg.Wait()

		var stillPending []string
		for i, id := range pending {
			if errs[i] != nil {
				// A transient lookup failure keeps the server pending.
				e.log.WithServerID(id).WithError(errs[i]).
					Debug("server status lookup failed, will retry")
				stillPending = append(stillPending, id)
				continue
			}
			switch statuses[i] {
			case ServerStatusActive:
				// Ready, drop from the pending set.
			case ServerStatusError:
				e.metrics.RecordPollWait("error", time.Since(start))
				return NewRemoteError(
					fmt.Sprintf("server %s entered ERROR state during provisioning", id), nil,
				).WithResource(id)
			default:
				stillPending = append(stillPending, id)
			}
		}

		e.metrics.RecordPollRound(pollOutcome(len(stillPending)))
		if len(stillPending) == 0 {
			e.metrics.RecordPollWait("ready", time.Since(start))
			return nil
		}
		pending = stillPending

		e.log.Debugf("waiting for %d of %d servers to become active (attempt %d/%d)",
			len(pending), len(serverIDs), attempt, e.cfg.PollAttempts)

		select {
		case <-ctx.Done():
			e.metrics.RecordPollWait("canceled", time.Since(start))
			return NewRemoteError("server status polling canceled", ctx.Err())
		case <-time.After(e.cfg.PollInterval):
		}
	}

	e.metrics.RecordPollWait("timeout", time.Since(start))
	return NewTimeoutError(fmt.Sprintf(
		"timed out waiting for %d of %d servers to become active after %d attempts",
		len(pending), len(serverIDs), e.cfg.PollAttempts,
	))
}

func pollOutcome(pendingCount int) string {
	if pendingCount == 0 {
		return "all_ready"
	}
	return "pending"
}
