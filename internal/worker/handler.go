// Package worker contains the execution handler that runs inside the
// distributed worker pool: it invokes the target process, persists
// progress, writes results into the cache, and maps failures into the
// shared error taxonomy.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/tilegrid/procserve/internal/dispatch"
	"github.com/tilegrid/procserve/internal/domain"
	"github.com/tilegrid/procserve/internal/process"
	"github.com/tilegrid/procserve/internal/store"
)

// Handler executes dispatched process tasks.
type Handler struct {
	registry *process.Registry
	results  *store.ResultsCache
	jobs     *store.JobStore
	logger   *slog.Logger
}

// NewHandler wires an execution handler from its collaborators.
func NewHandler(registry *process.Registry, results *store.ResultsCache, jobs *store.JobStore, logger *slog.Logger) *Handler {
	return &Handler{
		registry: registry,
		results:  results,
		jobs:     jobs,
		logger:   logger,
	}
}

// HandleExecuteTask adapts Execute to the queue handler contract.
func (h *Handler) HandleExecuteTask(ctx context.Context, t *asynq.Task) error {
	var payload dispatch.ExecutePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		h.logger.Error("undecodable execute payload", "error", err)
		return fmt.Errorf("decoding execute payload: %v: %w", err, asynq.SkipRetry)
	}
	return h.Execute(ctx, payload)
}

// Execute runs one dispatched job end to end. Whatever path the
// execution takes, the in-flight marker for the fingerprint is cleared
// so the fingerprint never deadlocks.
func (h *Handler) Execute(ctx context.Context, payload dispatch.ExecutePayload) error {
	logger := h.logger.With("job_id", payload.JobID, "process_id", payload.ProcessID)

	// Terminal bookkeeping must not be lost to a cancelled task context.
	finalCtx := context.WithoutCancel(ctx)
	defer func() {
		if err := h.results.ClearExecution(finalCtx, payload.Fingerprint); err != nil {
			logger.Error("failed to clear execution marker", "error", err)
		}
	}()

	record, err := h.jobs.Get(ctx, payload.JobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			logger.Warn("job record missing, skipping execution")
			return nil
		}
		return err
	}
	if record.Status == domain.JobStatusDismissed {
		logger.Info("job dismissed before execution started")
		return nil
	}

	if err := h.jobs.Transition(ctx, payload.JobID, domain.JobStatusRunning, nil); err != nil {
		// Lost a race against dismissal; nothing to execute.
		logger.Warn("could not transition job to running", "error", err)
		return nil
	}
	logger.Info("job running")

	proc, err := h.registry.Lookup(payload.ProcessID)
	if err != nil {
		// The server accepted this process ID, so a miss here means the
		// worker deployment is out of step with the API deployment.
		detail := fmt.Sprintf("process %s not registered on worker", payload.ProcessID)
		h.finalize(finalCtx, logger, payload, domain.ErrorKindLibrary, detail)
		return fmt.Errorf("%w: %s", domain.ErrInternal, detail)
	}

	if err := process.ValidateInputs(proc.Describe(), payload.Inputs); err != nil {
		h.finalize(finalCtx, logger, payload, domain.ErrorKindInvalidInput, err.Error())
		return err
	}

	execCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	reporter := &progressReporter{
		jobs:   h.jobs,
		jobID:  payload.JobID,
		cancel: cancel,
		logger: logger,
		last:   -1,
	}

	outputs, err := safeExecute(execCtx, proc, payload.Inputs, reporter)
	if err != nil {
		if execCtx.Err() != nil {
			if h.isDismissed(finalCtx, payload.JobID) {
				logger.Info("job dismissed during execution")
				return nil
			}
			// The pool cancelled the task (shutdown, reclaim). That is
			// an infrastructure interruption, not a process fault, and
			// it must not be cached: the same request would likely
			// succeed on a healthy worker.
			detail := fmt.Sprintf("execution interrupted: %v", err)
			logger.Error("job interrupted", "detail", detail)
			h.markFailed(finalCtx, logger, payload.JobID, domain.ErrorKindLibrary, detail)
			return err
		}
		kind := classify(err)
		h.finalize(finalCtx, logger, payload, kind, err.Error())
		return err
	}

	if err := h.results.PutResult(finalCtx, payload.Fingerprint, outputs); err != nil {
		h.finalize(finalCtx, logger, payload, domain.ErrorKindLibrary, err.Error())
		return err
	}

	err = h.jobs.Transition(finalCtx, payload.JobID, domain.JobStatusSuccessful, func(r *domain.JobRecord) {
		r.Progress = 100
		r.Message = "execution completed"
	})
	if err != nil {
		logger.Error("failed to mark job successful", "error", err)
		return err
	}
	logger.Info("job successful")
	return nil
}

// finalize records a classified deterministic failure: the failure is
// cached under a short TTL to avoid hot-looping on deterministic bad
// input, and the job moves to failed with the detail attached.
func (h *Handler) finalize(ctx context.Context, logger *slog.Logger, payload dispatch.ExecutePayload, kind domain.ErrorKind, detail string) {
	logger.Error("job failed", "kind", kind, "detail", detail)

	if err := h.results.PutFailure(ctx, payload.Fingerprint, kind, detail); err != nil {
		logger.Error("failed to cache failure", "error", err)
	}

	h.markFailed(ctx, logger, payload.JobID, kind, detail)
}

// markFailed transitions the job to failed without touching the results
// cache.
func (h *Handler) markFailed(ctx context.Context, logger *slog.Logger, jobID string, kind domain.ErrorKind, detail string) {
	err := h.jobs.Transition(ctx, jobID, domain.JobStatusFailed, func(r *domain.JobRecord) {
		r.ErrorKind = kind
		r.ErrorDetail = detail
	})
	if err != nil {
		logger.Error("failed to mark job failed", "error", err)
	}
}

func (h *Handler) isDismissed(ctx context.Context, jobID string) bool {
	record, err := h.jobs.Get(ctx, jobID)
	return err == nil && record.Status == domain.JobStatusDismissed
}

// classify maps an execution error onto the taxonomy: schema-valid but
// semantically invalid input stays the caller's fault, infrastructure
// faults stay internal, and everything else the process raised is an
// execution error with the process's message preserved.
func classify(err error) domain.ErrorKind {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return domain.ErrorKindInvalidInput
	case errors.Is(err, domain.ErrInternal):
		return domain.ErrorKindLibrary
	default:
		return domain.ErrorKindExecution
	}
}

// safeExecute invokes the process and converts panics in process code
// into internal errors instead of taking the worker down.
func safeExecute(ctx context.Context, proc process.Process, inputs map[string]any, reporter process.Reporter) (outputs map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			outputs = nil
			err = fmt.Errorf("%w: process panicked: %v", domain.ErrInternal, r)
		}
	}()
	return proc.Execute(ctx, inputs, reporter)
}
