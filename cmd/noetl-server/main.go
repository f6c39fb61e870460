// Command noetl-server runs the control-plane process: the broker (C6)
// ticking every live execution, and the Control API (§6) HTTP surface in
// front of it. Grounded on the teacher's cmd/main.go single-binary
// bootstrap (construct services, wire the router, run), generalized from
// one application's handler fan-out to the execution plane's broker loop
// plus its HTTP surface.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/noetl/noetl/internal/broker"
	"github.com/noetl/noetl/internal/catalog"
	"github.com/noetl/noetl/internal/config"
	"github.com/noetl/noetl/internal/data/db"
	"github.com/noetl/noetl/internal/eventlog"
	"github.com/noetl/noetl/internal/executions"
	"github.com/noetl/noetl/internal/httpapi"
	"github.com/noetl/noetl/internal/httpapi/middleware"
	"github.com/noetl/noetl/internal/platform/logger"
	"github.com/noetl/noetl/internal/platform/neo4jdb"
	"github.com/noetl/noetl/internal/queue"
	"github.com/noetl/noetl/internal/registry"
	"github.com/noetl/noetl/internal/temporalx"
	"github.com/noetl/noetl/internal/temporalx/temporalworker"
)

func main() {
	log, err := logger.New(os.Getenv("LOG_MODE"))
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	cfg := config.LoadServerConfig(log)

	pg, err := db.NewPostgresService(cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("connecting to postgres", "error", err)
	}
	if err := pg.AutoMigrateAll(); err != nil {
		log.Fatal("running migrations", "error", err)
	}
	gdb := pg.DB()

	eventStore := eventlog.NewPostgresStore(gdb)

	q, err := queue.NewRedisQueue(log, cfg.RedisAddr)
	if err != nil {
		log.Fatal("connecting to redis", "error", err)
	}

	neo4jClient, err := neo4jdb.NewFromEnv(log)
	if err != nil {
		log.Warn("neo4j graph indexing disabled", "error", err)
		neo4jClient = nil
	}

	var blobStore catalog.BlobStore
	if cfg.GCSBucket != "" {
		blobStore, err = catalog.NewGCSBlobStore(context.Background(), cfg.GCSBucket)
		if err != nil {
			log.Warn("gcs blob store disabled", "error", err)
		}
	}

	cat := catalog.New(
		catalog.NewPlaybookStore(gdb),
		catalog.NewCredentialStore(gdb),
		catalog.NewGraphIndexer(neo4jClient),
		blobStore,
		catalog.NewPruner(eventStore),
	)

	execStore := executions.NewStore(gdb, eventStore, cfg.SubplaybookMaxDepth)
	reg := registry.New(cfg.WorkerStaleThreshold)

	brk := broker.NewBroker(eventStore, cat, execStore, execStore, q, broker.Options{
		TickInterval: cfg.BrokerTickInterval,
		LeaseTTL:     cfg.BrokerLeaseTTL,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := brk.Run(ctx); err != nil && err != context.Canceled {
			log.Error("broker loop exited", "error", err)
		}
	}()

	// Temporal backs an alternative tick path for long-running executions
	// that must survive a broker restart without replaying the whole event
	// log (§1.1). It is purely additive: TEMPORAL_ADDRESS unset disables it
	// and the in-process broker loop above is the only driver.
	if tc, err := temporalx.NewClient(log); err != nil {
		log.Warn("temporal client unavailable", "error", err)
	} else if tc != nil {
		runner, err := temporalworker.NewRunner(log, tc, brk, cat, eventStore, execStore, cfg.TemporalWorkerConcurrency)
		if err != nil {
			log.Warn("temporal worker disabled", "error", err)
		} else {
			go func() {
				if err := runner.Start(ctx); err != nil && err != context.Canceled {
					log.Error("temporal worker exited", "error", err)
				}
			}()
		}
	}

	authMW := middleware.NewAuthMiddleware(log, cfg.JWTSecretKey)
	srv := httpapi.NewServer(httpapi.RouterConfig{
		ExecutionHandler: httpapi.NewExecutionHandler(log, cat, execStore, eventStore, brk),
		EventHandler:     httpapi.NewEventHandler(eventStore, cat),
		WorkerHandler:    httpapi.NewWorkerHandler(reg),
		JobHandler:       httpapi.NewJobHandler(q),
		AuthMiddleware:   authMW,
	})

	log.Info("control API listening", "addr", cfg.HTTPAddr)
	if err := srv.Run(cfg.HTTPAddr); err != nil {
		log.Fatal("control API server failed", "error", err)
	}
}
