package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/noetl/noetl/internal/domain"
	"github.com/noetl/noetl/internal/platform/logger"
	"github.com/noetl/noetl/internal/tool"
)

// countingAdapter records how many times Execute ran, so a test can assert
// a redelivered job was never re-executed.
type countingAdapter struct {
	runs atomic.Int64
}

func (a *countingAdapter) Kind() string          { return "counting" }
func (a *countingAdapter) CapabilityTag() string  { return "cpu" }
func (a *countingAdapter) RequiredSecrets() []string { return nil }
func (a *countingAdapter) Execute(ctx context.Context, spec map[string]any, rc tool.RuntimeContext, cancel <-chan struct{}, progress chan<- tool.Progress) (tool.Result, error) {
	a.runs.Add(1)
	return tool.Result{}, nil
}

type fakeQueue struct {
	mu      sync.Mutex
	pending []domain.Job
	acked   []domain.JobKey
	nacked  []domain.JobKey
}

func (q *fakeQueue) Enqueue(ctx context.Context, job domain.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, job)
	return nil
}

func (q *fakeQueue) Lease(ctx context.Context, tag, workerID string, duration int64) (*domain.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, j := range q.pending {
		if j.CapabilityTag == tag {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			out := j
			return &out, nil
		}
	}
	return nil, nil
}

func (q *fakeQueue) Extend(ctx context.Context, tag string, key domain.JobKey, workerID string, duration int64) error {
	return nil
}

func (q *fakeQueue) Ack(ctx context.Context, tag string, key domain.JobKey, workerID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.acked = append(q.acked, key)
	return nil
}

func (q *fakeQueue) Nack(ctx context.Context, tag string, key domain.JobKey, workerID string, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nacked = append(q.nacked, key)
	return nil
}

func (q *fakeQueue) Depth(ctx context.Context, tag string) (int64, error) { return 0, nil }

type fakePublisher struct {
	mu        sync.Mutex
	published []domain.EventKind
	cancelled bool
}

func (p *fakePublisher) Publish(ctx context.Context, executionID int64, kind domain.EventKind, stepName string, attempt int, loopIndex *int, payload map[string]any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, kind)
	return nil
}

func (p *fakePublisher) IsCancelled(ctx context.Context, executionID int64) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancelled, nil
}

func (p *fakePublisher) HasTerminal(ctx context.Context, executionID int64, stepName string, attempt int, loopIndex *int) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, k := range p.published {
		if k.IsStepTerminal() {
			return true, nil
		}
	}
	return false, nil
}

func (p *fakePublisher) snapshot() []domain.EventKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.EventKind, len(p.published))
	copy(out, p.published)
	return out
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return log
}

func TestWorker_HandlesNoopJob_PublishesStartedThenCompleted(t *testing.T) {
	q := &fakeQueue{}
	pub := &fakePublisher{}
	tools := tool.NewRegistry()
	if err := tools.Register(tool.NewNoopAdapter()); err != nil {
		t.Fatalf("register noop: %v", err)
	}

	w := New(testLogger(t), q, tools, pub, nil, nil, Options{Name: "w1", CapabilityTags: []string{"cpu"}, Concurrency: 1, PollInterval: 10 * time.Millisecond})

	job := domain.Job{
		Key:           domain.JobKey{ExecutionID: 1, StepName: "start", Attempt: 1, LoopIndex: -1},
		CapabilityTag: "cpu",
		ToolKind:      domain.ToolNoop,
	}
	if err := q.Enqueue(context.Background(), job); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	w.handle(context.Background(), testLogger(t), &job)

	events := pub.snapshot()
	if len(events) != 2 || events[0] != domain.EventStepStarted || events[1] != domain.EventStepCompleted {
		t.Fatalf("expected [step_started step_completed], got %v", events)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.acked) != 1 || q.acked[0] != job.Key {
		t.Fatalf("expected job acked, got %v", q.acked)
	}
}

func TestWorker_CancelledExecution_ReleasesWithoutPublishing(t *testing.T) {
	q := &fakeQueue{}
	pub := &fakePublisher{cancelled: true}
	tools := tool.NewRegistry()
	_ = tools.Register(tool.NewNoopAdapter())

	w := New(testLogger(t), q, tools, pub, nil, nil, Options{Name: "w1", CapabilityTags: []string{"cpu"}})

	job := domain.Job{
		Key:           domain.JobKey{ExecutionID: 2, StepName: "start", Attempt: 1, LoopIndex: -1},
		CapabilityTag: "cpu",
		ToolKind:      domain.ToolNoop,
	}
	w.handle(context.Background(), testLogger(t), &job)

	if len(pub.snapshot()) != 0 {
		t.Fatalf("expected no events published for cancelled execution, got %v", pub.snapshot())
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.acked) != 1 {
		t.Fatalf("expected job released via ack, got %v", q.acked)
	}
}

func TestWorker_UnknownToolKind_FailsWithoutPanic(t *testing.T) {
	q := &fakeQueue{}
	pub := &fakePublisher{}
	tools := tool.NewRegistry()

	w := New(testLogger(t), q, tools, pub, nil, nil, Options{Name: "w1", CapabilityTags: []string{"cpu"}})

	job := domain.Job{
		Key:           domain.JobKey{ExecutionID: 3, StepName: "start", Attempt: 1, LoopIndex: -1},
		CapabilityTag: "cpu",
		ToolKind:      domain.ToolKind("missing"),
	}
	w.handle(context.Background(), testLogger(t), &job)

	events := pub.snapshot()
	if len(events) != 2 || events[1] != domain.EventStepFailed {
		t.Fatalf("expected step_started then step_failed, got %v", events)
	}
}

func TestWorker_LoopChildCompletion_PublishesIteratorChildCompleted(t *testing.T) {
	q := &fakeQueue{}
	pub := &fakePublisher{}
	tools := tool.NewRegistry()
	if err := tools.Register(tool.NewNoopAdapter()); err != nil {
		t.Fatalf("register noop: %v", err)
	}

	w := New(testLogger(t), q, tools, pub, nil, nil, Options{Name: "w1", CapabilityTags: []string{"cpu"}})

	job := domain.Job{
		Key:           domain.JobKey{ExecutionID: 5, StepName: "fan_out", Attempt: 1, LoopIndex: 2},
		CapabilityTag: "cpu",
		ToolKind:      domain.ToolNoop,
	}
	w.handle(context.Background(), testLogger(t), &job)

	events := pub.snapshot()
	if len(events) != 3 || events[0] != domain.EventStepStarted || events[1] != domain.EventStepCompleted || events[2] != domain.EventIteratorChildComplete {
		t.Fatalf("expected [step_started step_completed iterator_child_completed], got %v", events)
	}
}

func TestWorker_RedeliveredCompletedJob_FoldsWithoutReexecuting(t *testing.T) {
	q := &fakeQueue{}
	// The event log already has a terminal event for this exact tuple, as
	// if a prior lease completed the step before the ack was lost and the
	// queue redelivered it.
	pub := &fakePublisher{published: []domain.EventKind{domain.EventStepStarted, domain.EventStepCompleted}}
	adapter := &countingAdapter{}
	tools := tool.NewRegistry()
	if err := tools.Register(adapter); err != nil {
		t.Fatalf("register counting adapter: %v", err)
	}

	w := New(testLogger(t), q, tools, pub, nil, nil, Options{Name: "w1", CapabilityTags: []string{"cpu"}})

	job := domain.Job{
		Key:           domain.JobKey{ExecutionID: 4, StepName: "start", Attempt: 1, LoopIndex: -1},
		CapabilityTag: "cpu",
		ToolKind:      domain.ToolKind("counting"),
	}
	w.handle(context.Background(), testLogger(t), &job)

	if adapter.runs.Load() != 0 {
		t.Fatalf("expected redelivered job to skip execution, ran %d times", adapter.runs.Load())
	}
	events := pub.snapshot()
	if len(events) != 2 {
		t.Fatalf("expected no new events published, got %v", events)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.acked) != 1 {
		t.Fatalf("expected job acked without re-publishing, got %v", q.acked)
	}
}
