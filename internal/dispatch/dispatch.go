// Package dispatch submits execution tasks to the distributed worker
// pool. It wraps the queue client with a bounded exponential backoff
// retry for transient broker errors; a task that has begun executing is
// never retried from here.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sethvargo/go-retry"

	"github.com/tilegrid/procserve/internal/domain"
)

// TaskTypeExecuteProcess is the task type the worker mux routes to the
// execution handler.
const TaskTypeExecuteProcess = "process:execute"

// ExecutePayload is the wire form of an execution request handed to the
// worker pool. The job ID doubles as the queue task ID so dispatched
// tasks correlate with job records.
type ExecutePayload struct {
	JobID            string         `json:"job_id"`
	ProcessID        string         `json:"process_id"`
	Fingerprint      string         `json:"fingerprint"`
	Inputs           map[string]any `json:"inputs"`
	RequestedOutputs []string       `json:"requested_outputs,omitempty"`
}

// Enqueuer is the minimal queue-client surface the dispatcher needs.
// The asynq client satisfies it in production; tests substitute mocks.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobID string, payload []byte) error
}

// AsynqEnqueuer submits tasks through an asynq client. Queue-level
// retries are disabled: a crashed execution must not be replayed with
// side effects already applied, so recovery happens through the
// in-flight marker TTL instead.
type AsynqEnqueuer struct {
	client *asynq.Client
	queue  string
}

// NewAsynqEnqueuer wraps the given client. The caller owns the client's
// lifecycle.
func NewAsynqEnqueuer(client *asynq.Client, queue string) *AsynqEnqueuer {
	return &AsynqEnqueuer{client: client, queue: queue}
}

func (e *AsynqEnqueuer) Enqueue(ctx context.Context, jobID string, payload []byte) error {
	task := asynq.NewTask(TaskTypeExecuteProcess, payload)
	_, err := e.client.EnqueueContext(ctx, task,
		asynq.TaskID(jobID),
		asynq.Queue(e.queue),
		asynq.MaxRetry(0),
	)
	if err != nil {
		// The task ID already sits in the queue: a previous attempt got
		// through before its acknowledgment was lost.
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return nil
		}
		return fmt.Errorf("enqueue task for job %s: %w", jobID, err)
	}
	return nil
}

// Config tunes the dispatch retry policy. The exact defaults are a
// tunable, not a correctness contract.
type Config struct {
	MaxRetries uint64
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultConfig returns the dispatch retry defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		BaseDelay:  250 * time.Millisecond,
		MaxDelay:   5 * time.Second,
	}
}

// Dispatcher hands execution requests to the worker pool.
type Dispatcher struct {
	enqueuer Enqueuer
	cfg      Config
	logger   *slog.Logger
}

// NewDispatcher builds a dispatcher with the given retry policy.
func NewDispatcher(enqueuer Enqueuer, cfg Config, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{enqueuer: enqueuer, cfg: cfg, logger: logger}
}

// Dispatch enqueues payload, retrying transient broker errors with
// bounded exponential backoff. Exhausting the retry budget surfaces
// domain.ErrDispatchFailed; the caller marks the job failed so it never
// sits silently in the accepted state.
func (d *Dispatcher) Dispatch(ctx context.Context, payload ExecutePayload) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: encoding execute payload: %v", domain.ErrInternal, err)
	}

	backoff := retry.WithMaxRetries(d.cfg.MaxRetries,
		retry.WithCappedDuration(d.cfg.MaxDelay,
			retry.NewExponential(d.cfg.BaseDelay)))

	attempt := 0
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if err := d.enqueuer.Enqueue(ctx, payload.JobID, raw); err != nil {
			d.logger.Warn("task enqueue attempt failed",
				"job_id", payload.JobID,
				"process_id", payload.ProcessID,
				"attempt", attempt,
				"error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: enqueue for job %s exhausted %d attempts: %v",
			domain.ErrDispatchFailed, payload.JobID, attempt, err)
	}

	d.logger.Debug("task dispatched",
		"job_id", payload.JobID,
		"process_id", payload.ProcessID)
	return nil
}
