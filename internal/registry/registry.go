// Package registry implements the worker pool registry (C8, spec §4.7):
// workers register with (name, capability_tags, max_concurrency); the
// registry tracks heartbeats and marks a worker OFFLINE once it misses too
// many. Grounded on the heartbeat/staleness pattern in
// internal/jobs/orchestrator/dag.go's child-job staleness checks
// (ChildStaleRunning), generalized from "is this child job's heartbeat
// stale" to "is this worker's heartbeat stale."
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/noetl/noetl/internal/domain"
)

// Registry tracks registered workers in memory. A production deployment
// would back this with the same Postgres connection the event log uses
// (worker rows are small and low-churn compared to the event log itself);
// the in-memory map is kept here as the concrete implementation since
// nothing in the examples models a dedicated presence-registry table, and
// the registry's data is advisory (§5: "loss is tolerated, compare-and-
// append is the real guard") rather than a correctness dependency.
type Registry struct {
	mu             sync.Mutex
	workers        map[string]*domain.Worker
	staleThreshold time.Duration
}

func New(staleThreshold time.Duration) *Registry {
	if staleThreshold <= 0 {
		staleThreshold = domain.DefaultWorkerStaleThreshold
	}
	return &Registry{
		workers:        map[string]*domain.Worker{},
		staleThreshold: staleThreshold,
	}
}

func (r *Registry) Register(ctx context.Context, name string, capabilityTags []string, maxConcurrency int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	r.workers[name] = &domain.Worker{
		Name:            name,
		CapabilityTags:  capabilityTags,
		MaxConcurrency:  maxConcurrency,
		Status:          domain.WorkerOnline,
		RegisteredAt:    now,
		LastHeartbeatAt: now,
	}
	return nil
}

func (r *Registry) Heartbeat(ctx context.Context, name string, leased []domain.JobKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[name]
	if !ok {
		return nil
	}
	w.LastHeartbeatAt = time.Now().UTC()
	w.Status = domain.WorkerOnline
	w.LeasedJobKeys = leased
	return nil
}

// SweepStale marks every worker whose last heartbeat predates the stale
// threshold as OFFLINE and returns the job keys their leases held, which
// the broker must treat as abandoned (§4.7: "outstanding leases owned by
// it expire and the broker reassigns the jobs").
func (r *Registry) SweepStale(ctx context.Context, now time.Time) []domain.JobKey {
	r.mu.Lock()
	defer r.mu.Unlock()
	var abandoned []domain.JobKey
	for _, w := range r.workers {
		if w.Status == domain.WorkerOffline {
			continue
		}
		if now.Sub(w.LastHeartbeatAt) > r.staleThreshold {
			w.Status = domain.WorkerOffline
			abandoned = append(abandoned, w.LeasedJobKeys...)
			w.LeasedJobKeys = nil
		}
	}
	return abandoned
}

// Remove deregisters a worker, e.g. on graceful shutdown (DELETE
// /workers/{name}, §6). The worker's entry, including its recorded lease
// keys, is deleted, so SweepStale never reports those leases; Remove
// itself does not touch the queue.
func (r *Registry) Remove(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.workers, name)
	return nil
}

func (r *Registry) Get(ctx context.Context, name string) (*domain.Worker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[name]
	return w, ok
}

// ListByCapability returns every ONLINE worker advertising tag.
func (r *Registry) ListByCapability(ctx context.Context, tag string) []*domain.Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Worker
	for _, w := range r.workers {
		if w.Status != domain.WorkerOnline {
			continue
		}
		for _, t := range w.CapabilityTags {
			if t == tag {
				out = append(out, w)
				break
			}
		}
	}
	return out
}
