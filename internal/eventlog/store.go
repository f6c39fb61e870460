// Package eventlog implements the append-only event journal (C2, spec §4.1):
// the sole source of truth for every execution's state. Appends are guarded
// by a compare-and-set on (execution_id, seq); conflicts are not errors,
// they are the concurrency primitive multiple broker instances rely on.
package eventlog

import (
	"context"
	"errors"

	"github.com/noetl/noetl/internal/domain"
)

// ErrConflict is returned by Append when expectedSeq does not match the
// execution's current highest seq+1. Callers must re-fold the projection
// and retry with the new expected seq; this is not a failure.
var ErrConflict = errors.New("eventlog: seq conflict")

// Store is the C2 contract (§4.1).
type Store interface {
	// Append performs compare-and-set on (execution_id, seq): the event is
	// durably written only if expectedSeq equals the next seq the
	// execution is due to receive. On conflict it returns ErrConflict and
	// the execution's actual current seq so the caller can re-fold.
	Append(ctx context.Context, executionID int64, expectedSeq int64, event domain.Event) (currentSeq int64, err error)

	// ReadSince returns events for one execution, seq > fromSeq, in
	// ascending seq order.
	ReadSince(ctx context.Context, executionID int64, fromSeq int64) ([]domain.Event, error)

	// ListLiveExecutions returns every execution_id with no terminal event
	// yet appended (execution_completed/_failed/_cancelled).
	ListLiveExecutions(ctx context.Context) ([]int64, error)

	// PruneEventsBefore deletes events with seq < seq for the given
	// execution. [EXPANSION] admin-only operation (SPEC_FULL §1.3); the
	// broker itself never calls this.
	PruneEventsBefore(ctx context.Context, executionID int64, seq int64) error
}

// IsConflict reports whether err is (or wraps) ErrConflict.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// HasTerminalStep reports whether events already contains a terminal event
// (step_completed/step_failed/step_skipped) for the (stepName, attempt,
// loopIndex) tuple. Shared by every append path — internal/worker's
// in-process publisher and the POST /events handler's out-of-process one —
// so a redelivered job can never append a second terminal event for a step
// that already has one (§8 "redelivering a completed job does not append a
// second step_completed").
func HasTerminalStep(events []domain.Event, stepName string, attempt int, loopIndex *int) bool {
	for _, ev := range events {
		if !ev.Kind.IsStepTerminal() {
			continue
		}
		if ev.StepName == stepName && ev.Attempt == attempt && loopIndexEqual(ev.LoopIndex, loopIndex) {
			return true
		}
	}
	return false
}

// loopIndexEqual compares two loop indices with the domain.StepKey
// convention: nil (not a loop child) is equivalent to -1, never to a real
// loop iteration.
func loopIndexEqual(a, b *int) bool {
	av, bv := -1, -1
	if a != nil {
		av = *a
	}
	if b != nil {
		bv = *b
	}
	return av == bv
}
