// Package queue implements the job queue (C7, spec §4.6): at-least-once
// delivery partitioned by capability tag, content-addressed by job key so
// re-enqueuing an already-queued job is a no-op. Grounded on the
// teacher's use of github.com/redis/go-redis/v9 for its SSE pub/sub bus
// (internal/clients/redis/sse_bus.go); Redis Streams with per-tag consumer
// groups is the natural generalization from pub/sub to a durable,
// acknowledged work queue.
package queue

import (
	"context"

	"github.com/noetl/noetl/internal/domain"
)

// Queue is the C7 contract.
type Queue interface {
	// Enqueue is idempotent by Job.Key: re-enqueuing an already-queued or
	// in-flight job key is a no-op.
	Enqueue(ctx context.Context, job domain.Job) error

	// Lease delivers the next job tagged capabilityTag that workerID does
	// not already hold, locking it exclusively for duration (milliseconds,
	// as for Extend). Returns nil when the tag's backlog is empty.
	Lease(ctx context.Context, capabilityTag, workerID string, duration int64) (*domain.Job, error)

	Extend(ctx context.Context, capabilityTag string, key domain.JobKey, workerID string, duration int64) error
	Ack(ctx context.Context, capabilityTag string, key domain.JobKey, workerID string) error
	Nack(ctx context.Context, capabilityTag string, key domain.JobKey, workerID string, reason string) error

	// Depth reports the current backlog size for a capability tag. The
	// broker does not call it: enqueues are not held back by queue depth.
	Depth(ctx context.Context, capabilityTag string) (int64, error)
}
