package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/noetl/noetl/internal/domain"
	"github.com/noetl/noetl/internal/platform/logger"
)

// redisQueue implements Queue on Redis Streams: one stream per capability
// tag, one consumer group per tag shared by every worker eligible for it.
// Idempotency by job key is enforced via a side SET whose members are job
// keys already enqueued and not yet acked/nacked-to-expiry; enqueuing a key
// already present is a no-op (SADD returning 0 is the guard).
type redisQueue struct {
	log *logger.Logger
	rdb *goredis.Client
}

// NewRedisQueue dials addr and verifies connectivity, mirroring the ping
// check the teacher's NewSSEBus performs at construction time.
func NewRedisQueue(log *logger.Logger, addr string) (Queue, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &redisQueue{log: log.With("service", "RedisQueue"), rdb: rdb}, nil
}

func streamName(tag string) string    { return "noetl:jobs:" + tag }
func groupName(tag string) string     { return "noetl:workers:" + tag }
func dedupeSetName(tag string) string { return "noetl:jobkeys:" + tag }

// msgIDHashName holds the JobKey -> stream entry ID mapping for a tag, set
// at Lease and consulted by Ack/Nack/Extend, which only carry a JobKey
// across the wire (the stream entry ID is a Redis Streams implementation
// detail that the Queue interface does not expose).
func msgIDHashName(tag string) string { return "noetl:jobmsgid:" + tag }

func (q *redisQueue) ensureGroup(ctx context.Context, tag string) {
	err := q.rdb.XGroupCreateMkStream(ctx, streamName(tag), groupName(tag), "0").Err()
	if err != nil && !isBusyGroupErr(err) {
		q.log.Warn("redis queue: group create failed", "tag", tag, "error", err)
	}
}

func isBusyGroupErr(err error) bool {
	return err != nil && (err.Error() == "BUSYGROUP Consumer Group name already exists")
}

func (q *redisQueue) Enqueue(ctx context.Context, job domain.Job) error {
	q.ensureGroup(ctx, job.CapabilityTag)

	key := job.Key.String()
	added, err := q.rdb.SAdd(ctx, dedupeSetName(job.CapabilityTag), key).Result()
	if err != nil {
		return fmt.Errorf("redis queue: dedupe check: %w", err)
	}
	if added == 0 {
		// Already enqueued or in flight; Enqueue is a no-op by job key.
		return nil
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.rdb.XAdd(ctx, &goredis.XAddArgs{
		Stream: streamName(job.CapabilityTag),
		Values: map[string]any{"key": key, "job": string(payload)},
	}).Err()
}

func (q *redisQueue) Lease(ctx context.Context, capabilityTag, workerID string, durationMillis int64) (*domain.Job, error) {
	q.ensureGroup(ctx, capabilityTag)

	res, err := q.rdb.XReadGroup(ctx, &goredis.XReadGroupArgs{
		Group:    groupName(capabilityTag),
		Consumer: workerID,
		Streams:  []string{streamName(capabilityTag), ">"},
		Count:    1,
		Block:    -1, // no BLOCK argument: an empty stream returns goredis.Nil
	}).Result()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, err
	}
	for _, stream := range res {
		for _, msg := range stream.Messages {
			raw, _ := msg.Values["job"].(string)
			var job domain.Job
			if err := json.Unmarshal([]byte(raw), &job); err != nil {
				continue
			}
			job.Status = domain.JobLeased
			job.LeaseOwner = workerID
			deadline := time.Now().Add(time.Duration(durationMillis) * time.Millisecond)
			job.LeaseDeadline = &deadline
			if err := q.rdb.HSet(ctx, msgIDHashName(capabilityTag), job.Key.String(), msg.ID).Err(); err != nil {
				q.log.Warn("redis queue: recording stream msg id failed", "key", job.Key.String(), "error", err)
			}
			return &job, nil
		}
	}
	return nil, nil
}

func (q *redisQueue) msgID(ctx context.Context, capabilityTag string, key domain.JobKey) (string, error) {
	id, err := q.rdb.HGet(ctx, msgIDHashName(capabilityTag), key.String()).Result()
	if err == goredis.Nil {
		return "", nil
	}
	return id, err
}

func (q *redisQueue) Extend(ctx context.Context, capabilityTag string, key domain.JobKey, workerID string, durationMillis int64) error {
	id, err := q.msgID(ctx, capabilityTag, key)
	if err != nil {
		return fmt.Errorf("redis queue: extend: resolving stream msg id: %w", err)
	}
	if id == "" {
		return nil
	}
	// XCLAIM with the same consumer resets Redis's idle-time bookkeeping,
	// which is what a worker heartbeat on a long-running job needs.
	_, err = q.rdb.XClaim(ctx, &goredis.XClaimArgs{
		Stream:   streamName(capabilityTag),
		Group:    groupName(capabilityTag),
		Consumer: workerID,
		MinIdle:  0,
		Messages: []string{id},
	}).Result()
	return err
}

func (q *redisQueue) Ack(ctx context.Context, capabilityTag string, key domain.JobKey, workerID string) error {
	id, err := q.msgID(ctx, capabilityTag, key)
	if err != nil {
		return fmt.Errorf("redis queue: ack: resolving stream msg id: %w", err)
	}
	if id != "" {
		if err := q.rdb.XAck(ctx, streamName(capabilityTag), groupName(capabilityTag), id).Err(); err != nil {
			return fmt.Errorf("redis queue: ack: %w", err)
		}
		q.rdb.HDel(ctx, msgIDHashName(capabilityTag), key.String())
	}
	return q.rdb.SRem(ctx, dedupeSetName(capabilityTag), key.String()).Err()
}

func (q *redisQueue) Nack(ctx context.Context, capabilityTag string, key domain.JobKey, workerID string, reason string) error {
	// Dropping from the dedupe set lets a subsequent Enqueue (the broker's
	// retry path re-enqueuing a new attempt number) through; the failed
	// stream entry itself is XACKed, so the group never redelivers it.
	id, err := q.msgID(ctx, capabilityTag, key)
	if err != nil {
		return fmt.Errorf("redis queue: nack: resolving stream msg id: %w", err)
	}
	if id != "" {
		if err := q.rdb.XAck(ctx, streamName(capabilityTag), groupName(capabilityTag), id).Err(); err != nil {
			return fmt.Errorf("redis queue: nack: %w", err)
		}
		q.rdb.HDel(ctx, msgIDHashName(capabilityTag), key.String())
	}
	return q.rdb.SRem(ctx, dedupeSetName(capabilityTag), key.String()).Err()
}

func (q *redisQueue) Depth(ctx context.Context, capabilityTag string) (int64, error) {
	return q.rdb.XLen(ctx, streamName(capabilityTag)).Result()
}
