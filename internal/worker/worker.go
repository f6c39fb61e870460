// Package worker implements the worker runtime (C9, spec §4.7): a
// long-running process leasing jobs off the queue, executing them through
// the internal/tool adapter boundary, and reporting results back through
// an EventPublisher. Grounded on internal/jobs/worker/worker.go's shape —
// a fixed goroutine pool each running an independent poll loop, a
// heartbeat goroutine per claimed job, panic recovery wrapping handler
// execution — generalized from "claim a DB row, dispatch by job_type" to
// "lease a queue entry, dispatch by tool kind."
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/noetl/noetl/internal/domain"
	"github.com/noetl/noetl/internal/platform/logger"
	"github.com/noetl/noetl/internal/queue"
	"github.com/noetl/noetl/internal/registry"
	"github.com/noetl/noetl/internal/tool"
)

// Options configures a Worker's identity and timing knobs.
type Options struct {
	Name              string
	CapabilityTags    []string
	Concurrency       int
	LeaseDuration     time.Duration
	HeartbeatInterval time.Duration
	PollInterval      time.Duration
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
	if o.LeaseDuration <= 0 {
		o.LeaseDuration = 2 * time.Minute
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 30 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	return o
}

// Worker is a pool of independent lease slots; slots within a worker share
// nothing but the tool registry and queue client (§5: "slots within a
// worker are independent").
type Worker struct {
	log     *logger.Logger
	q       queue.Queue
	tools   *tool.Registry
	events  EventPublisher
	reg     *registry.Registry
	secrets tool.CredentialResolver
	opts    Options

	mu     sync.Mutex
	leased map[domain.JobKey]struct{}
}

func New(log *logger.Logger, q queue.Queue, tools *tool.Registry, events EventPublisher, reg *registry.Registry, secrets tool.CredentialResolver, opts Options) *Worker {
	return &Worker{
		log:     log.With("component", "Worker", "worker_name", opts.Name),
		q:       q,
		tools:   tools,
		events:  events,
		reg:     reg,
		secrets: secrets,
		opts:    opts.withDefaults(),
		leased:  map[domain.JobKey]struct{}{},
	}
}

// Start registers the worker (if a registry is configured) and launches
// Concurrency independent lease slots plus one shared heartbeat goroutine.
// It returns once every slot goroutine has been spawned; it does not block.
func (w *Worker) Start(ctx context.Context) error {
	if w.reg != nil {
		if err := w.reg.Register(ctx, w.opts.Name, w.opts.CapabilityTags, w.opts.Concurrency); err != nil {
			return fmt.Errorf("worker: registering: %w", err)
		}
		go w.heartbeatLoop(ctx)
	}

	w.log.Info("starting worker pool", "concurrency", w.opts.Concurrency, "capability_tags", w.opts.CapabilityTags)
	for i := 0; i < w.opts.Concurrency; i++ {
		slotID := i + 1
		go w.runSlot(ctx, slotID)
	}
	return nil
}

func (w *Worker) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(w.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.reg.Heartbeat(ctx, w.opts.Name, w.leasedKeys()); err != nil {
				w.log.Warn("heartbeat failed", "error", err)
			}
		}
	}
}

func (w *Worker) leasedKeys() []domain.JobKey {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]domain.JobKey, 0, len(w.leased))
	for k := range w.leased {
		out = append(out, k)
	}
	return out
}

func (w *Worker) track(key domain.JobKey) {
	w.mu.Lock()
	w.leased[key] = struct{}{}
	w.mu.Unlock()
}

func (w *Worker) untrack(key domain.JobKey) {
	w.mu.Lock()
	delete(w.leased, key)
	w.mu.Unlock()
}

func (w *Worker) runSlot(ctx context.Context, slotID int) {
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()
	log := w.log.With("slot", slotID)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			job := w.leaseAny(ctx)
			if job == nil {
				continue
			}
			w.track(job.Key)
			w.handle(ctx, log, job)
			w.untrack(job.Key)
		}
	}
}

// leaseAny tries every capability tag the worker advertises in order and
// takes the first non-empty lease; a worker with one tag (the common case)
// pays no extra cost for this generality.
func (w *Worker) leaseAny(ctx context.Context) *domain.Job {
	for _, tag := range w.opts.CapabilityTags {
		job, err := w.q.Lease(ctx, tag, w.opts.Name, w.opts.LeaseDuration.Milliseconds())
		if err != nil {
			w.log.Warn("lease failed", "tag", tag, "error", err)
			continue
		}
		if job != nil {
			return job
		}
	}
	return nil
}

func (w *Worker) handle(ctx context.Context, log *logger.Logger, job *domain.Job) {
	log = log.With("execution_id", job.Key.ExecutionID, "step", job.Key.StepName, "attempt", job.Key.Attempt)

	cancelled, err := w.events.IsCancelled(ctx, job.Key.ExecutionID)
	if err != nil {
		log.Warn("checking cancellation failed", "error", err)
	}
	if cancelled {
		w.release(ctx, log, job)
		return
	}

	var loopIndex *int
	if job.Key.LoopIndex >= 0 {
		li := job.Key.LoopIndex
		loopIndex = &li
	}

	// A redelivered lease for a step that already reached a terminal
	// outcome must not re-run it or append a second step_started/terminal
	// event (§8 "redelivering a completed job does not append a second
	// step_completed"). Fold the log first and ack-without-publish.
	done, err := w.events.HasTerminal(ctx, job.Key.ExecutionID, job.Key.StepName, job.Key.Attempt, loopIndex)
	if err != nil {
		log.Warn("checking terminal event failed", "error", err)
	}
	if done {
		w.release(ctx, log, job)
		return
	}

	if err := w.events.Publish(ctx, job.Key.ExecutionID, domain.EventStepStarted, job.Key.StepName, job.Key.Attempt, loopIndex, nil); err != nil {
		log.Error("publishing step_started failed", "error", err)
		return
	}

	result, execErr := w.execute(ctx, log, job)

	cancelled, err = w.events.IsCancelled(ctx, job.Key.ExecutionID)
	if err != nil {
		log.Warn("checking cancellation before terminal publish failed", "error", err)
	}
	if cancelled {
		w.release(ctx, log, job)
		return
	}

	if execErr != nil {
		w.publishFailure(ctx, log, job, loopIndex, execErr.Error())
		return
	}
	if result.Error != "" {
		w.publishFailure(ctx, log, job, loopIndex, result.Error)
		return
	}

	payload := map[string]any{"data": result.Data, "exit": result.Exit}
	if err := w.events.Publish(ctx, job.Key.ExecutionID, domain.EventStepCompleted, job.Key.StepName, job.Key.Attempt, loopIndex, payload); err != nil {
		log.Error("publishing step_completed failed", "error", err)
		return
	}
	w.publishIteratorChildComplete(ctx, log, job, loopIndex, "completed", "")
	if err := w.q.Ack(ctx, job.CapabilityTag, job.Key, w.opts.Name); err != nil {
		log.Warn("ack failed", "error", err)
	}
}

// publishIteratorChildComplete emits iterator_child_completed for a loop
// child's terminal outcome (§3, §8 scenario 3: three such events expected
// for a three-item collection). Observer-only — the projector derives loop
// completion from the underlying step_completed/step_failed carrying the
// same loop_index — so a publish failure here is logged, not fatal to the
// job.
func (w *Worker) publishIteratorChildComplete(ctx context.Context, log *logger.Logger, job *domain.Job, loopIndex *int, status, reason string) {
	if loopIndex == nil {
		return
	}
	payload := map[string]any{"status": status}
	if reason != "" {
		payload["error"] = reason
	}
	if err := w.events.Publish(ctx, job.Key.ExecutionID, domain.EventIteratorChildComplete, job.Key.StepName, job.Key.Attempt, loopIndex, payload); err != nil {
		log.Warn("publishing iterator_child_completed failed", "error", err)
	}
}

func (w *Worker) publishFailure(ctx context.Context, log *logger.Logger, job *domain.Job, loopIndex *int, reason string) {
	payload := map[string]any{"error": reason}
	if err := w.events.Publish(ctx, job.Key.ExecutionID, domain.EventStepFailed, job.Key.StepName, job.Key.Attempt, loopIndex, payload); err != nil {
		log.Error("publishing step_failed failed", "error", err)
		return
	}
	w.publishIteratorChildComplete(ctx, log, job, loopIndex, "failed", reason)
	if err := w.q.Ack(ctx, job.CapabilityTag, job.Key, w.opts.Name); err != nil {
		log.Warn("ack failed", "error", err)
	}
}

// release drops a cancelled job without publishing anything (§4.7 step 5).
func (w *Worker) release(ctx context.Context, log *logger.Logger, job *domain.Job) {
	if err := w.q.Ack(ctx, job.CapabilityTag, job.Key, w.opts.Name); err != nil {
		log.Warn("ack on cancelled release failed", "error", err)
	}
}

// execute resolves the job's adapter and runs it, recovering from any
// panic inside Execute and converting it into an error result rather than
// letting it take down the slot goroutine.
func (w *Worker) execute(ctx context.Context, log *logger.Logger, job *domain.Job) (res tool.Result, err error) {
	adapter, ok := w.tools.Get(string(job.ToolKind))
	if !ok {
		return tool.Result{}, fmt.Errorf("worker: no adapter registered for tool kind %q", job.ToolKind)
	}

	rc := tool.RuntimeContext{
		Args:            job.ToolSpec,
		ContextSnapshot: job.ContextSnapshot,
		Secrets:         w.secrets,
	}

	cancelCh := make(chan struct{})
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			close(cancelCh)
		case <-done:
		}
	}()

	progressCh := make(chan tool.Progress)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for p := range progressCh {
			payload := map[string]any{"message": p.Message, "percent": p.Percent, "detail": p.Detail}
			var loopIndex *int
			if job.Key.LoopIndex >= 0 {
				li := job.Key.LoopIndex
				loopIndex = &li
			}
			if pubErr := w.events.Publish(ctx, job.Key.ExecutionID, domain.EventStepProgress, job.Key.StepName, job.Key.Attempt, loopIndex, payload); pubErr != nil {
				log.Warn("publishing step_progress failed", "error", pubErr)
			}
		}
	}()

	defer func() {
		close(done)
		close(progressCh)
		wg.Wait()
		if r := recover(); r != nil {
			log.Error("tool adapter panicked", "panic", r)
			err = fmt.Errorf("worker: tool panic: %v", r)
		}
	}()

	res, err = adapter.Execute(ctx, job.ToolSpec, rc, cancelCh, progressCh)
	return res, err
}
