package interpreter

import (
	"time"

	"github.com/noetl/noetl/internal/domain"
)

// ActionKind enumerates the four scheduling actions named in §4.4.
type ActionKind string

const (
	ActionAppendEvent       ActionKind = "append_event"
	ActionEnqueueJob        ActionKind = "enqueue_job"
	ActionSpawnSubexecution ActionKind = "spawn_subexecution"
	ActionCompleteExecution ActionKind = "complete_execution"
)

// Action is one item of the ordered action list the interpreter returns
// each tick. The broker applies AppendEvent actions first (durable source
// of truth), then EnqueueJob actions, matching §4.5's ordering rule.
type Action struct {
	Kind ActionKind

	// AppendEvent
	Event *domain.Event

	// EnqueueJob
	Job *domain.Job

	// SpawnSubexecution
	Spawn *SpawnSubexecution

	// CompleteExecution
	FinalStatus domain.ExecStatus
}

// SpawnSubexecution carries everything the broker needs to create a child
// execution row and its execution_started event.
type SpawnSubexecution struct {
	PlaybookPath    string
	PlaybookVersion string
	Workload        map[string]any
	ParentStepName  string
	ParentLoopIndex *int
}

func appendEvent(kind domain.EventKind, stepName string, attempt int, loopIndex *int, payload map[string]any) Action {
	return Action{
		Kind: ActionAppendEvent,
		Event: &domain.Event{
			Kind:      kind,
			StepName:  stepName,
			Attempt:   attempt,
			LoopIndex: loopIndex,
			Payload:   payload,
			Timestamp: time.Time{}, // filled by the event log on append
		},
	}
}
