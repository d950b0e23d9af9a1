package worker

import (
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/tilegrid/procserve/internal/dispatch"
)

// NewServeMux routes queue task types to the execution handler.
func NewServeMux(h *Handler) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(dispatch.TaskTypeExecuteProcess, h.HandleExecuteTask)
	return mux
}

// NewServer builds the queue server for the worker binary. Concurrency
// defaults to one job at a time per instance so an autoscaler never
// reclaims a worker mid-job; the server drains its in-flight task
// before accepting termination.
func NewServer(redisURL, queue string, concurrency int) (*asynq.Server, error) {
	connOpt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return asynq.NewServer(connOpt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{queue: 1},
	}), nil
}
