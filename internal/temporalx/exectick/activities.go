// Package exectick adapts the teacher's internal/temporalx/jobrun
// continue-as-new ticking workflow from "poll one job_run row" to
// "poll one playbook execution through the broker" (§1.2 domain stack:
// Temporal as an alternative broker backend for long-running executions
// that must survive broker restarts without replaying the whole event
// log). The activity wraps broker.Broker.TickOne, which is exported
// specifically so this package can drive it; the workflow owns only the
// poll/sleep/continue-as-new control flow, never step-selection logic.
package exectick

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.temporal.io/sdk/activity"

	"github.com/noetl/noetl/internal/broker"
	"github.com/noetl/noetl/internal/eventlog"
	"github.com/noetl/noetl/internal/executions"
	"github.com/noetl/noetl/internal/platform/logger"
	"github.com/noetl/noetl/internal/stateproj"
)

type Activities struct {
	Log       *logger.Logger
	Broker    *broker.Broker
	Playbooks broker.PlaybookSource
	Events    eventlog.Store
	Execs     *executions.Store
}

func (a *Activities) Tick(ctx context.Context, executionIDStr string) (TickResult, error) {
	res := TickResult{}
	executionID, err := strconv.ParseInt(strings.TrimSpace(executionIDStr), 10, 64)
	if err != nil {
		return res, fmt.Errorf("exectick: invalid execution id %q: %w", executionIDStr, err)
	}
	res.ExecutionID = executionID

	activity.RecordHeartbeat(ctx, "ticking")

	if err := a.Broker.TickOne(ctx, executionID); err != nil {
		return res, fmt.Errorf("exectick: tick failed: %w", err)
	}

	path, version, err := a.Execs.PlaybookRefFor(ctx, executionID)
	if err != nil {
		return res, fmt.Errorf("exectick: resolving playbook ref: %w", err)
	}

	events, err := a.Events.ReadSince(ctx, executionID, -1)
	if err != nil {
		return res, fmt.Errorf("exectick: reading event log: %w", err)
	}

	pb, err := a.Playbooks.Get(ctx, path, version)
	if err != nil {
		return res, fmt.Errorf("exectick: loading playbook: %w", err)
	}
	state, err := stateproj.Project(pb, events)
	if err != nil {
		return res, fmt.Errorf("exectick: projecting state: %w", err)
	}

	res.Status = string(state.Status)
	res.FirstError = state.FirstError
	if len(state.PendingSuccessors) > 0 {
		res.CurrentStep = state.PendingSuccessors[0]
	}
	for _, step := range state.Steps {
		if step.NextRunAt != nil && (res.NextRunAt == nil || step.NextRunAt.Before(*res.NextRunAt)) {
			res.NextRunAt = step.NextRunAt
		}
	}
	return res, nil
}
