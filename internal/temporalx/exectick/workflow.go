package exectick

import (
	"fmt"
	"strings"
	"time"

	"go.temporal.io/sdk/workflow"
)

const (
	defaultPollInterval  = 2 * time.Second
	continueTickLimit    = 2000
	continueHistoryLimit = 15000
)

// Workflow runs one execution's tick loop to completion. The workflow ID
// is the execution ID (as decimal text); Temporal's per-workflow-ID
// uniqueness then gives "at most one active tick loop per execution" for
// free, the same guarantee the in-process broker gets from compare-and-set
// appends rather than leader election.
func Workflow(ctx workflow.Context) error {
	executionID := strings.TrimSpace(workflow.GetInfo(ctx).WorkflowExecution.ID)
	if executionID == "" {
		return fmt.Errorf("exectick: missing execution id")
	}

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 24 * time.Hour,
		HeartbeatTimeout:    30 * time.Second,
	})

	tickCount := 0
	for {
		tickCount++
		var out TickResult
		if err := workflow.ExecuteActivity(ctx, ActivityTick, executionID).Get(ctx, &out); err != nil {
			return err
		}

		switch out.Status {
		case "completed", "cancelled":
			return nil
		case "failed":
			return fmt.Errorf("execution failed (step=%s): %s", out.CurrentStep, out.FirstError)
		default:
			if d := nextWait(ctx, out.NextRunAt, defaultPollInterval); d > 0 {
				if err := workflow.Sleep(ctx, d); err != nil {
					return err
				}
			}
			if shouldContinueAsNew(ctx, tickCount) {
				return workflow.NewContinueAsNewError(ctx, Workflow)
			}
		}
	}
}

func nextWait(ctx workflow.Context, runAt *time.Time, def time.Duration) time.Duration {
	if runAt == nil || runAt.IsZero() {
		return def
	}
	now := workflow.Now(ctx)
	if runAt.Before(now) {
		return def
	}
	d := runAt.Sub(now)
	if d > 15*time.Minute {
		return 15 * time.Minute
	}
	return d
}

func shouldContinueAsNew(ctx workflow.Context, ticks int) bool {
	if ticks >= continueTickLimit {
		return true
	}
	info := workflow.GetInfo(ctx)
	return info != nil && info.GetCurrentHistoryLength() >= continueHistoryLimit
}
