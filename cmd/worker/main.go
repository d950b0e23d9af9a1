// Package main implements the procserve worker: it consumes execution
// tasks from the queue, runs the registered processes, and records
// results and job state.
package main

import (
	"context"
	"log"

	"github.com/tilegrid/procserve/internal/config"
	"github.com/tilegrid/procserve/internal/platform/logger"
	"github.com/tilegrid/procserve/internal/process"
	"github.com/tilegrid/procserve/internal/store"
	"github.com/tilegrid/procserve/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	appLogger := logger.Setup(cfg.Server)
	appLogger.Info("Worker configuration loaded",
		"queue", cfg.Dispatch.Queue,
		"concurrency", cfg.Worker.Concurrency,
		"log_level", cfg.Server.LogLevel)

	ctx := context.Background()
	client, err := store.OpenRedis(ctx, cfg.Redis.URL)
	if err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}
	defer func() {
		if err := client.Close(); err != nil {
			appLogger.Error("Failed to close redis client", "error", err)
		}
	}()

	kv := store.NewRedisKV(client)
	results := store.NewResultsCache(kv, store.ResultsCacheConfig{
		ResultTTL:  cfg.Cache.ResultTTL,
		FailureTTL: cfg.Cache.FailureTTL,
		MarkerTTL:  cfg.Cache.MarkerTTL,
	})
	jobs := store.NewJobStore(kv, cfg.Cache.JobTTL)

	registry := process.NewRegistry()
	if err := registry.Register(process.Echo{}); err != nil {
		log.Fatalf("Failed to register processes: %v", err)
	}

	handler := worker.NewHandler(registry, results, jobs, appLogger)

	srv, err := worker.NewServer(cfg.Redis.URL, cfg.Dispatch.Queue, cfg.Worker.Concurrency)
	if err != nil {
		log.Fatalf("Failed to create worker server: %v", err)
	}

	// Run blocks until SIGINT or SIGTERM; asynq handles graceful
	// shutdown of in-flight tasks itself.
	if err := srv.Run(worker.NewServeMux(handler)); err != nil {
		log.Fatalf("Worker server error: %v", err)
	}
}
