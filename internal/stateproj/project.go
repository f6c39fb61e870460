// Package stateproj implements the state projector (C3, spec §4.2): a pure
// fold from an ordered event slice to an ExecutionState. It holds no
// storage handle and makes no I/O calls; every projection is a function of
// its input events alone, which is what lets the broker re-derive state
// after a crash or a losing compare-and-set race just by re-reading the
// log. Grounded on the accumulate-into-snapshot shape of
// internal/jobs/orchestrator/state.go, generalized from an in-place mutable
// snapshot to a fold over a replayable event stream.
package stateproj

import (
	"fmt"

	"github.com/noetl/noetl/internal/domain"
)

// Project folds events (must be in ascending Seq order, starting at 0 with
// no gaps) into the execution's current projected state. Events for a
// different ExecutionID are rejected; that is a caller bug, not a data
// condition the projector should paper over.
func Project(playbook *domain.Playbook, events []domain.Event) (*domain.ExecutionState, error) {
	st := &domain.ExecutionState{
		Steps:        map[string]*domain.StepProjection{},
		InFlightJobs: map[domain.StepKey]struct{}{},
		NextSeq:      0,
	}

	preds := map[string][]string{}
	if playbook != nil {
		preds = playbook.Predecessors()
		for _, s := range playbook.Workflow {
			st.Steps[s.Name] = &domain.StepProjection{
				Name:               s.Name,
				Status:             domain.StepPending,
				UnresolvedIncoming: len(preds[s.Name]),
			}
		}
	}

	for _, ev := range events {
		if len(events) > 0 && ev.ExecutionID != 0 && st.ExecID != 0 && ev.ExecutionID != st.ExecID {
			return nil, fmt.Errorf("stateproj: event for execution %d folded into state for %d", ev.ExecutionID, st.ExecID)
		}
		st.ExecID = ev.ExecutionID
		if ev.Seq != st.NextSeq {
			return nil, fmt.Errorf("stateproj: gap in event log: expected seq %d, got %d", st.NextSeq, ev.Seq)
		}
		st.NextSeq = ev.Seq + 1

		if err := apply(playbook, st, ev); err != nil {
			return nil, err
		}
	}

	recomputePendingSuccessors(playbook, st)
	return st, nil
}

func apply(playbook *domain.Playbook, st *domain.ExecutionState, ev domain.Event) error {
	switch ev.Kind {
	case domain.EventExecutionStarted:
		st.Status = domain.ExecRunning
		st.Workload = domain.FromInterface(ev.Payload["workload"])

	case domain.EventStepEnqueued:
		sp := ensureStep(st, ev.StepName)
		sp.Status = domain.StepEnqueued
		sp.Attempts = ev.Attempt
		key := domain.StepKey{ExecutionID: ev.ExecutionID, StepName: ev.StepName, Attempt: ev.Attempt, LoopIndex: loopIdx(ev.LoopIndex)}
		st.InFlightJobs[key] = struct{}{}

	case domain.EventStepStarted:
		sp := ensureStep(st, ev.StepName)
		sp.Status = domain.StepRunning
		sp.Attempts = ev.Attempt
		if sp.StartedAt == nil {
			t := ev.Timestamp
			sp.StartedAt = &t
		}

	case domain.EventStepProgress:
		// Progress events carry no state-machine transition; they exist
		// for observers (§6 SSE). The projector records nothing beyond
		// having seen them, since LastResult/LastError only update on a
		// terminal event.

	case domain.EventStepCompleted:
		sp := ensureStep(st, ev.StepName)
		result := decodeStepResult(ev.Payload)
		if ev.LoopIndex != nil {
			applyLoopChildTerminal(sp, *ev.LoopIndex, domain.StepCompleted, &result, "")
		} else {
			sp.Status = domain.StepCompleted
			sp.LastResult = &result.Data
			t := ev.Timestamp
			sp.FinishedAt = &t
			resolveOutgoingEdges(playbook, st, ev.StepName)
		}
		clearInFlight(st, ev)

	case domain.EventStepFailed:
		sp := ensureStep(st, ev.StepName)
		reason, _ := ev.Payload["reason"].(string)
		if ev.LoopIndex != nil {
			applyLoopChildTerminal(sp, *ev.LoopIndex, domain.StepFailed, nil, reason)
		} else {
			sp.Status = domain.StepFailed
			sp.LastError = reason
			t := ev.Timestamp
			sp.FinishedAt = &t
			if st.FirstFailingStep == "" {
				st.FirstFailingStep = ev.StepName
				st.FirstError = reason
			}
			resolveOutgoingEdges(playbook, st, ev.StepName)
		}
		clearInFlight(st, ev)

	case domain.EventStepSkipped:
		sp := ensureStep(st, ev.StepName)
		sp.Status = domain.StepSkipped
		t := ev.Timestamp
		sp.FinishedAt = &t
		resolveOutgoingEdges(playbook, st, ev.StepName)
		clearInFlight(st, ev)

	case domain.EventBranchTaken:
		sp := ensureStep(st, ev.StepName)
		sp.BranchTaken = true
		switch sel := ev.Payload["selected"].(type) {
		case []string:
			sp.BranchSelected = append([]string(nil), sel...)
		case []any:
			names := make([]string, 0, len(sel))
			for _, s := range sel {
				if str, ok := s.(string); ok {
					names = append(names, str)
				}
			}
			sp.BranchSelected = names
		}

	case domain.EventIteratorExpanded:
		sp := ensureStep(st, ev.StepName)
		if sp.LoopChildren == nil {
			sp.LoopChildren = map[int]*domain.LoopChildState{}
		}
		count, _ := ev.Payload["count"].(float64)
		for i := 0; i < int(count); i++ {
			if _, ok := sp.LoopChildren[i]; !ok {
				sp.LoopChildren[i] = &domain.LoopChildState{LoopIndex: i, Status: domain.StepPending}
			}
		}

	case domain.EventIteratorChildComplete:
		// Folded via EventStepCompleted/EventStepFailed carrying a
		// non-nil LoopIndex; this kind exists for external observers that
		// want iterator-level granularity without re-deriving it from
		// loop children. No additional projector state changes.

	case domain.EventSubplaybookSpawned:
		sp := ensureStep(st, ev.StepName)
		sp.Status = domain.StepRunning
		if id, ok := ev.Payload["sub_execution_id"].(float64); ok {
			sid := int64(id)
			sp.SubExecutionID = &sid
		}

	case domain.EventExecutionCompleted:
		st.Status = domain.ExecCompleted

	case domain.EventExecutionFailed:
		st.Status = domain.ExecFailed

	case domain.EventExecutionCancelled:
		st.Status = domain.ExecCancelled
		st.Cancelled = true

	default:
		return fmt.Errorf("stateproj: unknown event kind %q", ev.Kind)
	}
	return nil
}

func ensureStep(st *domain.ExecutionState, name string) *domain.StepProjection {
	sp := st.Steps[name]
	if sp == nil {
		sp = &domain.StepProjection{Name: name, Status: domain.StepPending}
		st.Steps[name] = sp
	}
	return sp
}

func loopIdx(p *int) int {
	if p == nil {
		return -1
	}
	return *p
}

func clearInFlight(st *domain.ExecutionState, ev domain.Event) {
	key := domain.StepKey{ExecutionID: ev.ExecutionID, StepName: ev.StepName, Attempt: ev.Attempt, LoopIndex: loopIdx(ev.LoopIndex)}
	delete(st.InFlightJobs, key)
}

func decodeStepResult(payload map[string]any) domain.StepResult {
	r := domain.StepResult{}
	if payload == nil {
		return r
	}
	r.Data = domain.FromInterface(payload["data"])
	if meta, ok := payload["meta"].(map[string]any); ok {
		r.Meta = meta
	}
	return r
}

func applyLoopChildTerminal(sp *domain.StepProjection, idx int, status domain.StepStatus, result *domain.StepResult, errMsg string) {
	if sp.LoopChildren == nil {
		sp.LoopChildren = map[int]*domain.LoopChildState{}
	}
	child := sp.LoopChildren[idx]
	if child == nil {
		child = &domain.LoopChildState{LoopIndex: idx}
		sp.LoopChildren[idx] = child
	}
	child.Status = status
	child.Error = errMsg
	if result != nil {
		child.Result = &result.Data
	}

	allDone := true
	for _, c := range sp.LoopChildren {
		if !c.Status.Terminal() {
			allDone = false
			break
		}
	}
	if allDone && !sp.Status.Terminal() {
		sp.Status = domain.StepCompleted
		for _, c := range sp.LoopChildren {
			if c.Status == domain.StepFailed {
				sp.Status = domain.StepFailed
				sp.LastError = c.Error
				break
			}
		}
	}
}

// resolveOutgoingEdges decrements UnresolvedIncoming on every direct
// successor of `from`, once `from` itself has reached a terminal status
// (completed/failed/skipped). Guarded by StepProjection.EdgesResolved so a
// step that fails, retries, and fails again doesn't decrement the same
// successor edge twice. This is the fan-in bookkeeping surfaced to
// observers via PendingSuccessors (e.g. internal/temporalx/exectick's
// progress reporting); the authoritative READY-vs-SKIPPED decision still
// belongs to the interpreter, which walks predecessors directly against
// their resolved branch each tick (internal/interpreter/decide.go) rather
// than trusting a counter that can only say "every predecessor is
// terminal," not "which branch each one took."
func resolveOutgoingEdges(playbook *domain.Playbook, st *domain.ExecutionState, from string) {
	sp := st.Steps[from]
	if sp == nil || sp.EdgesResolved || playbook == nil {
		return
	}
	sp.EdgesResolved = true
	for _, succ := range directSuccessors(playbook, from) {
		DecrementIncoming(st, succ)
	}
}

// directSuccessors returns every step name reachable from `from` via its
// case then/else lists or its next list, deduplicated and in no particular
// order. It is structural only: it does not evaluate `when` against any
// scope, since resolveOutgoingEdges only needs to know which successors'
// fan-in edge is now settled, not which branch was actually selected.
func directSuccessors(playbook *domain.Playbook, from string) []string {
	step := playbook.StepByName(from)
	if step == nil {
		return nil
	}
	seen := map[string]struct{}{}
	var out []string
	add := func(name string) {
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	if len(step.Case) > 0 {
		for _, rule := range step.Case {
			for _, ref := range rule.Then {
				add(ref.Step)
			}
			for _, ref := range rule.Else {
				add(ref.Step)
			}
		}
		return out
	}
	for _, ref := range step.Next {
		add(ref.Step)
	}
	return out
}

// DecrementIncoming decrements successor's UnresolvedIncoming counter by
// one, floored at zero. Exported so tests can construct projections
// directly against it; production code only reaches it through
// resolveOutgoingEdges.
func DecrementIncoming(st *domain.ExecutionState, successor string) {
	sp := st.Steps[successor]
	if sp == nil || sp.UnresolvedIncoming <= 0 {
		return
	}
	sp.UnresolvedIncoming--
}

func recomputePendingSuccessors(playbook *domain.Playbook, st *domain.ExecutionState) {
	if playbook == nil {
		return
	}
	st.PendingSuccessors = st.PendingSuccessors[:0]
	for _, s := range playbook.Workflow {
		sp := st.Steps[s.Name]
		if sp == nil || sp.Status != domain.StepPending {
			continue
		}
		if sp.UnresolvedIncoming == 0 {
			st.PendingSuccessors = append(st.PendingSuccessors, s.Name)
		}
	}
}
