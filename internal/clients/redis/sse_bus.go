// Package redis adapts the teacher's SSE pub/sub bus into the execution
// plane's change-notification subject (spec §6, §9 design note): one
// channel per execution, carrying the domain.Event that was just appended
// so a broker replica (or a status-polling client) can react immediately
// instead of waiting for its next poll tick. Grounded on the teacher's
// internal/clients/redis SSE bus (one shared channel + JSON-encoded
// messages, ping-verified at construction, a goroutine forwarding
// subscription messages to a callback), generalized from one fixed
// channel name to a channel keyed by execution ID.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/noetl/noetl/internal/domain"
	"github.com/noetl/noetl/internal/platform/logger"
)

// ChangeBus publishes and subscribes to per-execution event notifications.
// A publish failure is never fatal to the caller: it only means the
// broker's next scheduled tick (not an immediate wake-up) picks up the
// change, so callers should log and continue rather than fail the append
// that triggered the notification.
type ChangeBus interface {
	Publish(ctx context.Context, executionID int64, ev domain.Event) error
	Subscribe(ctx context.Context, executionID int64, onEvent func(domain.Event)) (func() error, error)
	Close() error
}

type changeBus struct {
	log *logger.Logger
	rdb *goredis.Client
}

// NewChangeBus dials addr and verifies connectivity with a Ping before
// returning, matching the teacher's fail-fast construction.
func NewChangeBus(log *logger.Logger, addr string) (ChangeBus, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis: change bus requires a non-empty address")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: change bus ping: %w", err)
	}

	return &changeBus{log: log.With("component", "ChangeBus"), rdb: rdb}, nil
}

func channelFor(executionID int64) string {
	return fmt.Sprintf("noetl:execution:%d", executionID)
}

func (b *changeBus) Publish(ctx context.Context, executionID int64, ev domain.Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("redis: encoding event for publish: %w", err)
	}
	return b.rdb.Publish(ctx, channelFor(executionID), raw).Err()
}

// Subscribe returns an unsubscribe func the caller must invoke once it no
// longer needs notifications (typically when its own ctx is cancelled);
// the forwarding goroutine also exits on ctx.Done() as a backstop.
func (b *changeBus) Subscribe(ctx context.Context, executionID int64, onEvent func(domain.Event)) (func() error, error) {
	sub := b.rdb.Subscribe(ctx, channelFor(executionID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("redis: subscribing to execution %d: %w", executionID, err)
	}

	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					_ = sub.Close()
					return
				}
				var ev domain.Event
				if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
					b.log.Warn("bad change-bus payload", "execution_id", executionID, "error", err)
					continue
				}
				onEvent(ev)
			}
		}
	}()

	return sub.Close, nil
}

func (b *changeBus) Close() error {
	return b.rdb.Close()
}
