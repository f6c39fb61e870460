package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/noetl/noetl/internal/domain"
	"github.com/noetl/noetl/internal/eventlog"
)

// EventPublisher is how a worker slot reports step lifecycle events. A
// production deployment routes this through the control API's POST /events
// (§6), which performs the compare-and-set append on the worker's behalf;
// StoreEventPublisher below implements the same contract directly against
// an eventlog.Store for in-process wiring (single-binary deployments and
// tests).
type EventPublisher interface {
	Publish(ctx context.Context, executionID int64, kind domain.EventKind, stepName string, attempt int, loopIndex *int, payload map[string]any) error
	IsCancelled(ctx context.Context, executionID int64) (bool, error)

	// HasTerminal reports whether a terminal event (step_completed/
	// step_failed/step_skipped) already exists for this (stepName, attempt,
	// loopIndex) tuple within executionID. A worker checks this before
	// doing any work for a leased job, so a job redelivered after its step
	// already reached a terminal outcome is acked without re-running the
	// step or re-publishing step_started/terminal events (§8 "redelivering
	// a completed job does not append a second step_completed").
	HasTerminal(ctx context.Context, executionID int64, stepName string, attempt int, loopIndex *int) (bool, error)
}

// StoreEventPublisher appends directly to an eventlog.Store, retrying on
// ErrConflict: a concurrent writer (the broker, or another slot of this
// same worker) may have advanced the sequence between the publisher's read
// of NextSeq and its append. Bounded retries are correct here because the
// conflict window is a handful of concurrent appends to the same
// execution, never a sustained contention pattern.
type StoreEventPublisher struct {
	store      eventlog.Store
	maxRetries int
}

func NewStoreEventPublisher(store eventlog.Store) *StoreEventPublisher {
	return &StoreEventPublisher{store: store, maxRetries: 8}
}

func (p *StoreEventPublisher) Publish(ctx context.Context, executionID int64, kind domain.EventKind, stepName string, attempt int, loopIndex *int, payload map[string]any) error {
	for try := 0; try < p.maxRetries; try++ {
		events, err := p.store.ReadSince(ctx, executionID, -1)
		if err != nil {
			return fmt.Errorf("worker: reading event log before publish: %w", err)
		}
		nextSeq := int64(len(events))

		// A started/terminal event for this tuple already exists: either
		// this call raced a concurrent publisher for the same job, or the
		// caller didn't consult HasTerminal first. Either way, appending a
		// second one would violate exactly-once progression, so fold
		// instead of writing.
		if (kind == domain.EventStepStarted || kind.IsStepTerminal()) && eventlog.HasTerminalStep(events, stepName, attempt, loopIndex) {
			return nil
		}

		ev := domain.Event{
			Timestamp: time.Now().UTC(),
			Kind:      kind,
			StepName:  stepName,
			Attempt:   attempt,
			LoopIndex: loopIndex,
			Payload:   payload,
		}
		_, err = p.store.Append(ctx, executionID, nextSeq, ev)
		if err == nil {
			return nil
		}
		if eventlog.IsConflict(err) {
			continue
		}
		return fmt.Errorf("worker: publishing %s: %w", kind, err)
	}
	return fmt.Errorf("worker: publishing %s: exhausted retries against concurrent writers", kind)
}

// IsCancelled reports whether execution_cancelled already appears in the
// log, per §4.7 step 5: checked immediately before any publish so a worker
// never reports a result for a cancelled execution.
func (p *StoreEventPublisher) IsCancelled(ctx context.Context, executionID int64) (bool, error) {
	events, err := p.store.ReadSince(ctx, executionID, -1)
	if err != nil {
		return false, err
	}
	for _, ev := range events {
		if ev.Kind == domain.EventExecutionCancelled {
			return true, nil
		}
	}
	return false, nil
}

func (p *StoreEventPublisher) HasTerminal(ctx context.Context, executionID int64, stepName string, attempt int, loopIndex *int) (bool, error) {
	events, err := p.store.ReadSince(ctx, executionID, -1)
	if err != nil {
		return false, err
	}
	return eventlog.HasTerminalStep(events, stepName, attempt, loopIndex), nil
}
