package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/tilegrid/procserve/internal/config"
	"github.com/tilegrid/procserve/internal/dispatch"
	"github.com/tilegrid/procserve/internal/job"
	"github.com/tilegrid/procserve/internal/process"
	"github.com/tilegrid/procserve/internal/store"
)

// application holds the server's wired dependencies.
type application struct {
	config  *config.Config
	logger  *slog.Logger
	manager *job.Manager

	closers []func() error
}

// newApplication connects to Redis, builds the stores, the task
// dispatcher, and the job manager, and registers the available
// processes.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	app := &application{config: cfg, logger: logger}

	client, err := store.OpenRedis(ctx, cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	app.closers = append(app.closers, client.Close)

	kv := store.NewRedisKV(client)
	results := store.NewResultsCache(kv, store.ResultsCacheConfig{
		ResultTTL:  cfg.Cache.ResultTTL,
		FailureTTL: cfg.Cache.FailureTTL,
		MarkerTTL:  cfg.Cache.MarkerTTL,
	})
	jobs := store.NewJobStore(kv, cfg.Cache.JobTTL)

	queueOpt, err := asynq.ParseRedisURI(cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL for task queue: %w", err)
	}
	queueClient := asynq.NewClient(queueOpt)
	app.closers = append(app.closers, queueClient.Close)

	dispatcher := dispatch.NewDispatcher(
		dispatch.NewAsynqEnqueuer(queueClient, cfg.Dispatch.Queue),
		dispatch.Config{
			MaxRetries: cfg.Dispatch.MaxRetries,
			BaseDelay:  cfg.Dispatch.BaseDelay,
			MaxDelay:   cfg.Dispatch.MaxDelay,
		},
		logger,
	)

	registry := process.NewRegistry()
	if err := registerProcesses(registry); err != nil {
		return nil, fmt.Errorf("failed to register processes: %w", err)
	}

	app.manager = job.NewManager(registry, results, jobs, dispatcher, job.Config{
		SyncDeadline: cfg.Server.SyncDeadline,
		PollInterval: cfg.Server.PollInterval,
	}, logger)

	return app, nil
}

// registerProcesses installs every process this deployment serves.
func registerProcesses(registry *process.Registry) error {
	return registry.Register(process.Echo{})
}

// cleanup closes application resources in reverse construction order.
func (app *application) cleanup() {
	for i := len(app.closers) - 1; i >= 0; i-- {
		if err := app.closers[i](); err != nil {
			app.logger.Error("Cleanup failed", "error", err)
		}
	}
}

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 10 * time.Second
