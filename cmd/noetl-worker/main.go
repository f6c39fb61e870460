// Command noetl-worker runs a worker process (C9): it connects directly to
// the same Postgres (event log) and Redis (job queue) the control-API
// process uses, leases jobs, executes them through internal/tool's
// adapter registry, and appends their outcome events via
// internal/worker.StoreEventPublisher. Grounded on the teacher's
// cmd/main.go RUN_WORKER branch, generalized from an in-process goroutine
// toggle to a standalone binary.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/noetl/noetl/internal/config"
	"github.com/noetl/noetl/internal/data/db"
	"github.com/noetl/noetl/internal/eventlog"
	"github.com/noetl/noetl/internal/platform/logger"
	"github.com/noetl/noetl/internal/queue"
	"github.com/noetl/noetl/internal/tool"
	"github.com/noetl/noetl/internal/worker"
)

func main() {
	log, err := logger.New(os.Getenv("LOG_MODE"))
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	cfg := config.LoadWorkerConfig(log)

	pg, err := db.NewPostgresService(cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("connecting to postgres", "error", err)
	}
	eventStore := eventlog.NewPostgresStore(pg.DB())

	q, err := queue.NewRedisQueue(log, cfg.RedisAddr)
	if err != nil {
		log.Fatal("connecting to redis", "error", err)
	}

	tools := tool.NewRegistry()
	if err := tool.RegisterBuiltins(tools); err != nil {
		log.Fatal("registering built-in tool adapters", "error", err)
	}

	w := worker.New(log, q, tools, worker.NewStoreEventPublisher(eventStore), nil, tool.StaticResolver{}, worker.Options{
		Name:              cfg.Name,
		CapabilityTags:    cfg.CapabilityTags,
		Concurrency:       cfg.Concurrency,
		LeaseDuration:     cfg.LeaseDuration,
		HeartbeatInterval: cfg.HeartbeatInterval,
		PollInterval:      cfg.PollInterval,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("worker starting", "name", cfg.Name, "capability_tags", cfg.CapabilityTags)
	if err := w.Start(ctx); err != nil && err != context.Canceled {
		log.Fatal("worker exited", "error", err)
	}
}
