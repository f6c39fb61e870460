package broker

import (
	"context"
	"sync"
	"testing"

	"github.com/noetl/noetl/internal/domain"
	"github.com/noetl/noetl/internal/eventlog"
)

type memStore struct {
	mu     sync.Mutex
	events map[int64][]domain.Event
}

func newMemStore() *memStore { return &memStore{events: map[int64][]domain.Event{}} }

func (m *memStore) Append(ctx context.Context, executionID int64, expectedSeq int64, ev domain.Event) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := int64(len(m.events[executionID])) - 1
	if cur+1 != expectedSeq {
		return cur, eventlog.ErrConflict
	}
	ev.ExecutionID = executionID
	ev.Seq = expectedSeq
	m.events[executionID] = append(m.events[executionID], ev)
	return expectedSeq, nil
}

func (m *memStore) ReadSince(ctx context.Context, executionID int64, fromSeq int64) ([]domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Event
	for _, ev := range m.events[executionID] {
		if ev.Seq > fromSeq {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *memStore) ListLiveExecutions(ctx context.Context) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []int64
	for id, evs := range m.events {
		live := true
		if len(evs) > 0 && evs[len(evs)-1].Kind.IsTerminalExecution() {
			live = false
		}
		if live {
			out = append(out, id)
		}
	}
	return out, nil
}

func (m *memStore) PruneEventsBefore(ctx context.Context, executionID int64, seq int64) error { return nil }

type fakePlaybooks struct{ pb *domain.Playbook }

func (f *fakePlaybooks) Get(ctx context.Context, path, version string) (*domain.Playbook, error) {
	return f.pb, nil
}

type fakeExecutions struct{ path, version string }

func (f *fakeExecutions) PlaybookRefFor(ctx context.Context, executionID int64) (string, string, error) {
	return f.path, f.version, nil
}

type fakeQueue struct {
	mu       sync.Mutex
	enqueued []domain.Job
}

func (q *fakeQueue) Enqueue(ctx context.Context, job domain.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.enqueued = append(q.enqueued, job)
	return nil
}
func (q *fakeQueue) Lease(ctx context.Context, tag, workerID string, d int64) (*domain.Job, error) {
	return nil, nil
}
func (q *fakeQueue) Extend(ctx context.Context, tag string, key domain.JobKey, workerID string, d int64) error {
	return nil
}
func (q *fakeQueue) Ack(ctx context.Context, tag string, key domain.JobKey, workerID string) error {
	return nil
}
func (q *fakeQueue) Nack(ctx context.Context, tag string, key domain.JobKey, workerID string, reason string) error {
	return nil
}
func (q *fakeQueue) Depth(ctx context.Context, tag string) (int64, error) { return 0, nil }

func TestBroker_TickOne_BootstrapsThenEnqueuesStartStep(t *testing.T) {
	pb := &domain.Playbook{
		Path: "examples/single",
		Workflow: []domain.StepDef{
			{Name: "start", Tool: domain.ToolNoop, Spec: map[string]any{}},
		},
	}
	store := newMemStore()
	q := &fakeQueue{}
	b := NewBroker(store, &fakePlaybooks{pb: pb}, &fakeExecutions{path: pb.Path}, nil, q, Options{})

	if err := b.TickOne(context.Background(), 1); err != nil {
		t.Fatalf("first TickOne: %v", err)
	}
	events, _ := store.ReadSince(context.Background(), 1, -1)
	if len(events) != 1 || events[0].Kind != domain.EventExecutionStarted {
		t.Fatalf("expected execution_started only, got %+v", events)
	}

	if err := b.TickOne(context.Background(), 1); err != nil {
		t.Fatalf("second TickOne: %v", err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.enqueued) != 1 || q.enqueued[0].Key.StepName != "start" {
		t.Fatalf("expected start step enqueued, got %+v", q.enqueued)
	}
}

func TestBroker_RequestCancellation(t *testing.T) {
	store := newMemStore()
	q := &fakeQueue{}
	pb := &domain.Playbook{Path: "examples/single", Workflow: []domain.StepDef{{Name: "start", Tool: domain.ToolNoop}}}
	b := NewBroker(store, &fakePlaybooks{pb: pb}, &fakeExecutions{path: pb.Path}, nil, q, Options{})

	ctx := context.Background()
	if err := b.RequestCancellation(ctx, 7); err != nil {
		t.Fatalf("RequestCancellation: %v", err)
	}
	events, _ := store.ReadSince(ctx, 7, -1)
	if len(events) != 1 || events[0].Kind != domain.EventExecutionCancelled {
		t.Fatalf("expected execution_cancelled, got %+v", events)
	}
}
