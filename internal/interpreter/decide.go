// Package interpreter implements the per-tick decision procedure (C5,
// spec §4.4): given a playbook and the current projected execution state,
// produce the ordered list of scheduling actions for this tick. It is pure
// and deterministic; the broker (C6) owns all I/O. Grounded on the
// stage-advancement loop in internal/jobs/orchestrator/engine.go and the
// dependency/readiness walk in internal/jobs/orchestrator/dag.go,
// generalized from a fixed stage graph to the step/case/iterator/
// sub-playbook graph a playbook describes.
package interpreter

import (
	"fmt"
	"time"

	"github.com/noetl/noetl/internal/domain"
	"github.com/noetl/noetl/internal/template"
)

const defaultCapabilityTag = "cpu"

// Decide computes this tick's actions. now is injected so the function
// stays pure and testable.
func Decide(playbook *domain.Playbook, state *domain.ExecutionState, now time.Time) ([]Action, error) {
	var actions []Action

	// Step 1: bootstrap.
	if state.NextSeq == 0 {
		start := playbook.StartStep()
		if start == nil {
			return nil, fmt.Errorf("interpreter: playbook %s has no steps", playbook.Path)
		}
		actions = append(actions, appendEvent(domain.EventExecutionStarted, "", 0, nil, map[string]any{
			"workload": playbook.Workload,
		}))
		return actions, nil
	}

	if state.Cancelled {
		return decideCancelled(state), nil
	}

	scope := buildScope(state)

	// branch_taken (§3, §8 scenario 2): recorded once per step that carries
	// `case` rules, the first tick after it goes terminal with a non-empty
	// selection. Gated on sp.BranchTaken (folded from the event itself) so a
	// step re-examined on every later tick — until all of its successors
	// have resolved — doesn't append a duplicate.
	for _, step := range playbook.Workflow {
		if len(step.Case) == 0 {
			continue
		}
		sp := state.Steps[step.Name]
		if sp == nil || !sp.Status.Terminal() || sp.Status == domain.StepSkipped || sp.BranchTaken {
			continue
		}
		if sp.Status == domain.StepFailed && shouldRetry(step.Retry, sp.Attempts) {
			continue
		}
		selected, err := selectedSuccessors(&step, sp, scope)
		if err != nil {
			return nil, err
		}
		if len(selected) > 0 {
			actions = append(actions, appendEvent(domain.EventBranchTaken, step.Name, sp.Attempts, nil, map[string]any{
				"selected": selected,
			}))
		}
	}

	// Step 2 & 3: walk every step currently PENDING and decide readiness or
	// skip by inspecting its predecessors directly (recomputed fresh each
	// tick from state, so no separate "already processed" bookkeeping is
	// needed: once a step stops being PENDING it naturally drops out here).
	for _, step := range playbook.Workflow {
		sp := state.Steps[step.Name]
		if sp == nil || sp.Status != domain.StepPending {
			continue
		}
		preds := playbook.Predecessors()[step.Name]
		if len(preds) == 0 {
			// Only the start step has no predecessors; it was marked
			// ready implicitly by execution_started.
			if step.Name == playbook.StartStep().Name {
				as, err := decideReady(&step, state, scope, 1, nil, now)
				if err != nil {
					return nil, err
				}
				actions = append(actions, as...)
			}
			continue
		}

		anySelects := false
		allResolved := true
		for _, predName := range preds {
			predProj := state.Steps[predName]
			if predProj == nil || !predProj.Status.Terminal() {
				allResolved = false
				continue
			}
			predStep := playbook.StepByName(predName)
			if predProj.Status == domain.StepFailed && shouldRetry(predStep.Retry, predProj.Attempts) {
				// Another attempt is still due; this edge is not settled yet.
				allResolved = false
				continue
			}
			selected, err := selectedSuccessors(predStep, predProj, scope)
			if err != nil {
				return nil, err
			}
			if containsStr(selected, step.Name) {
				anySelects = true
			}
		}

		switch {
		case anySelects:
			as, err := decideReady(&step, state, scope, 1, nil, now)
			if err != nil {
				return nil, err
			}
			actions = append(actions, as...)
		case allResolved:
			actions = append(actions, appendEvent(domain.EventStepSkipped, step.Name, 1, nil, map[string]any{
				"reason": "fan_in_all_incoming_skipped",
			}))
		}
	}

	// Retry scheduling for steps that failed and still have attempts left.
	for _, step := range playbook.Workflow {
		sp := state.Steps[step.Name]
		if sp == nil || sp.Status != domain.StepFailed {
			continue
		}
		if sp.NextRunAt != nil && sp.NextRunAt.After(now) {
			continue
		}
		if shouldRetry(step.Retry, sp.Attempts) {
			as, err := decideReady(&step, state, scope, sp.Attempts+1, nil, now)
			if err != nil {
				return nil, err
			}
			actions = append(actions, as...)
		}
	}

	// Step 4: completion check.
	if done, status := aggregateStatus(playbook, state); done {
		kind := domain.EventExecutionCompleted
		if status == domain.ExecFailed {
			kind = domain.EventExecutionFailed
		}
		actions = append(actions, appendEvent(kind, "", 0, nil, nil))
		actions = append(actions, Action{Kind: ActionCompleteExecution, FinalStatus: status})
	}

	return actions, nil
}

func decideCancelled(state *domain.ExecutionState) []Action {
	// Cancellation is terminal and already recorded; the broker's job is
	// to stop emitting new jobs, not the interpreter's. Nothing further to
	// decide once execution_cancelled has been folded.
	_ = state
	return nil
}

// decideReady resolves a step's templates and emits the action(s) that put
// it to work this tick (§4.4 step 2).
func decideReady(step *domain.StepDef, state *domain.ExecutionState, scope domain.Value, attempt int, loopIndex *int, now time.Time) ([]Action, error) {
	resolvedArgs, err := resolveArgs(step.Args, scope)
	if err != nil {
		return stepFailedFromResolution(step.Name, attempt, loopIndex, err), nil
	}
	resolvedSpec, err := template.ResolveTree(step.Spec, scope)
	if err != nil {
		return stepFailedFromResolution(step.Name, attempt, loopIndex, err), nil
	}
	specMap, _ := resolvedSpec.(map[string]any)

	switch step.Tool {
	case domain.ToolIterator:
		return decideIterator(step, state, scope, specMap, now)
	case domain.ToolPlaybook:
		return decidePlaybook(step, specMap)
	default:
		tag := capabilityTag(specMap)
		job := &domain.Job{
			Key: domain.JobKey{
				ExecutionID: state.ExecID,
				StepName:    step.Name,
				Attempt:     attempt,
				LoopIndex:   loopIdxOf(loopIndex),
			},
			CapabilityTag:   tag,
			ToolKind:        step.Tool,
			ToolSpec:        specMap,
			ContextSnapshot: map[string]any{"args": resolvedArgs, "workload": state.Workload.ToInterface()},
			Status:          domain.JobQueued,
			CreatedAt:       now,
		}
		return []Action{
			appendEvent(domain.EventStepEnqueued, step.Name, attempt, loopIndex, map[string]any{"capability_tag": tag}),
			{Kind: ActionEnqueueJob, Job: job},
		}, nil
	}
}

func stepFailedFromResolution(stepName string, attempt int, loopIndex *int, err error) []Action {
	if _, ok := err.(*domain.ResolutionError); ok {
		return []Action{appendEvent(domain.EventStepFailed, stepName, attempt, loopIndex, map[string]any{
			"reason": "unresolved_reference",
			"detail": err.Error(),
		})}
	}
	return []Action{appendEvent(domain.EventStepFailed, stepName, attempt, loopIndex, map[string]any{
		"reason": "validation_error",
		"detail": err.Error(),
	})}
}

func resolveArgs(args map[string]string, scope domain.Value) (map[string]any, error) {
	out := make(map[string]any, len(args))
	for k, v := range args {
		rv, err := template.Resolve(v, scope)
		if err != nil {
			return nil, err
		}
		out[k] = rv.ToInterface()
	}
	return out, nil
}

func capabilityTag(spec map[string]any) string {
	if spec == nil {
		return defaultCapabilityTag
	}
	if tag, ok := spec["capability_tag"].(string); ok && tag != "" {
		return tag
	}
	return defaultCapabilityTag
}

func loopIdxOf(p *int) int {
	if p == nil {
		return -1
	}
	return *p
}

func containsStr(list []string, s string) bool {
	for _, e := range list {
		if e == s {
			return true
		}
	}
	return false
}

// aggregateStatus reports whether the execution is done, and if so, its
// final status: failed if any non-retryable step failed, completed when
// every step reached a terminal status.
func aggregateStatus(playbook *domain.Playbook, state *domain.ExecutionState) (bool, domain.ExecStatus) {
	anyFailed := false
	for _, step := range playbook.Workflow {
		sp := state.Steps[step.Name]
		if sp == nil || !sp.Status.Terminal() {
			return false, ""
		}
		if sp.Status == domain.StepFailed {
			if shouldRetry(step.Retry, sp.Attempts) {
				// Still eligible for another attempt; not done yet.
				return false, ""
			}
			if step.OnError != "continue" {
				anyFailed = true
			}
		}
	}
	if len(state.InFlightJobs) > 0 {
		return false, ""
	}
	if anyFailed {
		return true, domain.ExecFailed
	}
	return true, domain.ExecCompleted
}
