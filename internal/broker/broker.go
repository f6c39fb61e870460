// Package broker implements the scheduler (C6, spec §4.5): a long-running
// loop that discovers live executions, folds their event logs (C2/C3),
// asks the interpreter (C5) for this tick's actions, and applies them —
// events first, then jobs, per the ordering rule in §4.5. Grounded on the
// poll-validate-advance loop shape of internal/jobs/orchestrator/dag.go's
// DAGEngine.Run, generalized from a fixed stage list to arbitrary
// playbooks and from a single job_run to the full event-log/queue split.
package broker

import (
	"context"
	"time"

	"github.com/noetl/noetl/internal/domain"
	"github.com/noetl/noetl/internal/eventlog"
	"github.com/noetl/noetl/internal/interpreter"
	"github.com/noetl/noetl/internal/queue"
	"github.com/noetl/noetl/internal/stateproj"
)

// PlaybookSource resolves a (path, version) to its registered definition;
// satisfied by internal/catalog.Catalog.
type PlaybookSource interface {
	Get(ctx context.Context, path, version string) (*domain.Playbook, error)
}

// ExecutionCreator spawns a child execution row for ActionSpawnSubexecution
// and appends its own execution_started event; satisfied by the server's
// execution service, which the broker never constructs directly.
type ExecutionCreator interface {
	SpawnChild(ctx context.Context, spawn *interpreter.SpawnSubexecution, parentExecID int64) (int64, error)
}

// ExecutionLister resolves which playbook (path, version) an execution
// runs; the set of live executions itself comes from the event log's
// ListLiveExecutions.
type ExecutionLister interface {
	PlaybookRefFor(ctx context.Context, executionID int64) (path, version string, err error)
}

// Options bundles tunables so NewBroker's signature stays small.
type Options struct {
	TickInterval time.Duration // how often Run polls ListLiveExecutions
	LeaseTTL     time.Duration // job lease expiry before step_failed{lease_expired}
}

func (o Options) withDefaults() Options {
	if o.TickInterval <= 0 {
		o.TickInterval = 500 * time.Millisecond
	}
	if o.LeaseTTL <= 0 {
		o.LeaseTTL = 2 * time.Minute
	}
	return o
}

// Broker is one instance of the scheduler; multiple instances may run
// concurrently against the same event log (§5: correctness rests on
// compare-and-append, not on leadership election).
type Broker struct {
	log        eventlog.Store
	playbooks  PlaybookSource
	executions ExecutionLister
	spawner    ExecutionCreator
	queue      queue.Queue
	opts       Options
}

func NewBroker(log eventlog.Store, playbooks PlaybookSource, executions ExecutionLister, spawner ExecutionCreator, q queue.Queue, opts Options) *Broker {
	return &Broker{
		log:        log,
		playbooks:  playbooks,
		executions: executions,
		spawner:    spawner,
		queue:      q,
		opts:       opts.withDefaults(),
	}
}

// Run blocks, ticking every TickInterval until ctx is cancelled.
func (b *Broker) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.opts.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := b.tickAll(ctx); err != nil {
				// A single bad execution must not stop the broker loop;
				// errors are logged by the caller via the returned value
				// only when Run itself is invoked once (tests). In the
				// long-running path we swallow and continue, matching
				// §4.5's "re-queued for a later tick" tolerance.
				continue
			}
		}
	}
}

func (b *Broker) tickAll(ctx context.Context) error {
	ids, err := b.log.ListLiveExecutions(ctx)
	if err != nil {
		return err
	}
	// Round-robin, definition-order fairness (§4.5): process in the order
	// returned, one tick per execution, no execution starved by another's
	// retry storm since each tick only ever appends what Decide computes
	// for the *current* fold.
	for _, id := range ids {
		_ = b.TickOne(ctx, id)
	}
	return nil
}

// TickOne runs exactly one projector->interpreter->apply cycle for a
// single execution. Exported so tests and an external Temporal-backed
// ticking workflow (internal/temporalx) can drive it directly.
func (b *Broker) TickOne(ctx context.Context, executionID int64) error {
	path, version, err := b.executions.PlaybookRefFor(ctx, executionID)
	if err != nil {
		return err
	}
	playbook, err := b.playbooks.Get(ctx, path, version)
	if err != nil {
		return err
	}

	events, err := b.log.ReadSince(ctx, executionID, -1)
	if err != nil {
		return err
	}
	state, err := stateproj.Project(playbook, events)
	if err != nil {
		return err
	}

	actions, err := interpreter.Decide(playbook, state, time.Now().UTC())
	if err != nil {
		return err
	}

	return b.apply(ctx, executionID, state.NextSeq, actions)
}

// apply appends events first, then enqueues jobs, per §4.5. A conflict on
// any event append means another broker instance already advanced this
// execution; the caller simply lets the next tick re-fold and converge.
func (b *Broker) apply(ctx context.Context, executionID int64, seq int64, actions []interpreter.Action) error {
	for _, a := range actions {
		switch a.Kind {
		case interpreter.ActionAppendEvent:
			ev := *a.Event
			ev.ExecutionID = executionID
			ev.Timestamp = time.Now().UTC()
			newSeq, err := b.log.Append(ctx, executionID, seq, ev)
			if err != nil {
				if eventlog.IsConflict(err) {
					return nil
				}
				return err
			}
			seq = newSeq + 1

		case interpreter.ActionEnqueueJob:
			if err := b.queue.Enqueue(ctx, *a.Job); err != nil {
				return err
			}

		case interpreter.ActionSpawnSubexecution:
			if b.spawner == nil {
				continue
			}
			if _, err := b.spawner.SpawnChild(ctx, a.Spawn, executionID); err != nil {
				return err
			}

		case interpreter.ActionCompleteExecution:
			// Status is already durable via the execution_completed/failed
			// event appended just before this action; nothing further to
			// persist here. Kept as an explicit action so callers that
			// want a side effect on completion (notifications, SSE) have
			// a single place to hook without re-deriving terminality.
		}
	}
	return nil
}

// RequestCancellation appends execution_cancelled to the execution's log
// right away, at the seq after its last event. It does not revoke queued
// or leased jobs; workers check for the cancellation marker before
// publishing results and release the job instead (§4.7 step 5).
func (b *Broker) RequestCancellation(ctx context.Context, executionID int64) error {
	ev := domain.Event{Kind: domain.EventExecutionCancelled}
	events, err := b.log.ReadSince(ctx, executionID, -1)
	if err != nil {
		return err
	}
	nextSeq := int64(len(events))
	_, err = b.log.Append(ctx, executionID, nextSeq, ev)
	if err != nil && !eventlog.IsConflict(err) {
		return err
	}
	return nil
}

// SweepExpiredLeases appends step_failed{reason:lease_expired} for any
// in-flight job whose lease deadline has passed without a terminal event,
// then lets the next tick's retry logic take over (§4.5).
func (b *Broker) SweepExpiredLeases(ctx context.Context, executionID int64, inFlight map[domain.StepKey]struct{}, leaseDeadlines map[domain.StepKey]time.Time) error {
	now := time.Now().UTC()
	events, err := b.log.ReadSince(ctx, executionID, -1)
	if err != nil {
		return err
	}
	seq := int64(len(events))
	for key := range inFlight {
		deadline, ok := leaseDeadlines[key]
		if !ok || now.Before(deadline) {
			continue
		}
		li := key.LoopIndex
		var loopIdx *int
		if li >= 0 {
			loopIdx = &li
		}
		ev := domain.Event{
			Kind:      domain.EventStepFailed,
			StepName:  key.StepName,
			Attempt:   key.Attempt,
			LoopIndex: loopIdx,
			Payload:   map[string]any{"reason": "lease_expired"},
		}
		newSeq, err := b.log.Append(ctx, executionID, seq, ev)
		if err != nil {
			if eventlog.IsConflict(err) {
				return nil
			}
			return err
		}
		seq = newSeq + 1
	}
	return nil
}
