// Package job implements the job lifecycle engine: the manager that
// decides between synchronous and asynchronous execution, deduplicates
// identical requests through the results cache, tracks job state, and
// exposes status and result retrieval to the API layer.
package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tilegrid/procserve/internal/dispatch"
	"github.com/tilegrid/procserve/internal/domain"
	"github.com/tilegrid/procserve/internal/process"
	"github.com/tilegrid/procserve/internal/store"
)

// ExecutionMode selects how a submission behaves: sync blocks up to a
// deadline for the result, async returns the job ID immediately.
type ExecutionMode string

const (
	ModeSync  ExecutionMode = "sync"
	ModeAsync ExecutionMode = "async"
)

// SubmitRequest carries one execution request.
type SubmitRequest struct {
	Inputs  map[string]any
	Outputs []string
	Mode    ExecutionMode
}

// SubmitResult is the manager's answer to a submission: the job record
// view at return time, plus the filtered outputs when they are already
// available (cache hit, or sync execution that finished in time).
type SubmitResult struct {
	Record  *domain.JobRecord
	Outputs map[string]any
}

// Dispatcher hands an execution request to the worker pool.
type Dispatcher interface {
	Dispatch(ctx context.Context, payload dispatch.ExecutePayload) error
}

// Config tunes the manager's sync-mode polling.
type Config struct {
	// SyncDeadline bounds how long a sync submission blocks before it
	// degrades to async semantics.
	SyncDeadline time.Duration

	// PollInterval is the delay between job store polls while waiting.
	PollInterval time.Duration
}

// DefaultConfig returns the manager's polling defaults.
func DefaultConfig() Config {
	return Config{
		SyncDeadline: 30 * time.Second,
		PollInterval: 250 * time.Millisecond,
	}
}

// Manager orchestrates fingerprinting, cache lookups, dedup, job record
// bookkeeping and dispatch. It runs inside the request-handling
// processes; every store operation is non-blocking except the bounded
// sync-mode poll.
type Manager struct {
	registry   *process.Registry
	results    *store.ResultsCache
	jobs       *store.JobStore
	dispatcher Dispatcher
	cfg        Config
	logger     *slog.Logger
}

// NewManager wires a manager from its collaborators.
func NewManager(
	registry *process.Registry,
	results *store.ResultsCache,
	jobs *store.JobStore,
	dispatcher Dispatcher,
	cfg Config,
	logger *slog.Logger,
) *Manager {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.SyncDeadline <= 0 {
		cfg.SyncDeadline = DefaultConfig().SyncDeadline
	}
	return &Manager{
		registry:   registry,
		results:    results,
		jobs:       jobs,
		dispatcher: dispatcher,
		cfg:        cfg,
		logger:     logger,
	}
}

// Submit runs the submission protocol: validate, fingerprint, serve
// from cache when possible, otherwise claim the in-flight marker and
// either attach to the execution that already holds it or create a job
// and dispatch a new one.
func (m *Manager) Submit(ctx context.Context, processID string, req SubmitRequest) (*SubmitResult, error) {
	proc, err := m.registry.Lookup(processID)
	if err != nil {
		return nil, err
	}
	desc := proc.Describe()
	if err := process.ValidateInputs(desc, req.Inputs); err != nil {
		return nil, err
	}
	if err := process.ValidateOutputs(desc, req.Outputs); err != nil {
		return nil, err
	}

	fingerprint, err := domain.Fingerprint(processID, req.Inputs, req.Outputs)
	if err != nil {
		return nil, err
	}
	logger := m.logger.With("process_id", processID, "fingerprint", fingerprint)

	// Fast path: an identical request already completed. Identical
	// requests must never re-trigger computation.
	entry, err := m.results.GetResult(ctx, fingerprint)
	if err == nil {
		logger.Debug("serving submission from results cache")
		return m.completeFromCache(ctx, processID, fingerprint, req, entry)
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	record := domain.NewJobRecord(processID, fingerprint, req.Outputs)

	owner, claimed, err := m.results.ClaimExecution(ctx, fingerprint, record.ID)
	if err != nil {
		return nil, err
	}
	if !claimed {
		// Another execution for this fingerprint is in flight: converge
		// onto its job instead of duplicating the work.
		logger.Debug("attached to in-flight execution", "job_id", owner)
		return m.attach(ctx, processID, fingerprint, owner, req)
	}

	logger = logger.With("job_id", record.ID)
	if err := m.jobs.Put(ctx, record); err != nil {
		if clearErr := m.results.ClearExecution(ctx, fingerprint); clearErr != nil {
			logger.Error("failed to clear execution marker", "error", clearErr)
		}
		return nil, err
	}

	payload := dispatch.ExecutePayload{
		JobID:            record.ID,
		ProcessID:        processID,
		Fingerprint:      fingerprint,
		Inputs:           req.Inputs,
		RequestedOutputs: req.Outputs,
	}
	if err := m.dispatcher.Dispatch(ctx, payload); err != nil {
		logger.Error("dispatch failed, marking job failed", "error", err)
		m.failJob(ctx, record.ID, fingerprint, domain.KindOf(err), err.Error())
		return nil, err
	}
	logger.Info("job accepted", "mode", req.Mode)

	if req.Mode == ModeSync {
		return m.await(ctx, record.ID, req.Outputs, record)
	}
	return &SubmitResult{Record: record}, nil
}

// attach joins a submission to the job already holding the in-flight
// marker for its fingerprint.
func (m *Manager) attach(ctx context.Context, processID, fingerprint, ownerJobID string, req SubmitRequest) (*SubmitResult, error) {
	record, err := m.jobs.Get(ctx, ownerJobID)
	if err != nil {
		if !errors.Is(err, domain.ErrJobNotFound) {
			return nil, err
		}
		// The winner claimed the marker but has not written its record
		// yet. Report the accepted view; the record follows shortly.
		record = &domain.JobRecord{
			ID:          ownerJobID,
			ProcessID:   processID,
			Status:      domain.JobStatusAccepted,
			Fingerprint: fingerprint,
			Created:     time.Now().UTC(),
			Updated:     time.Now().UTC(),
		}
	}
	if req.Mode == ModeSync {
		return m.await(ctx, ownerJobID, req.Outputs, record)
	}
	return &SubmitResult{Record: record}, nil
}

// completeFromCache wraps a cached entry in a fresh job record so the
// caller still receives a job ID on the fast path.
func (m *Manager) completeFromCache(ctx context.Context, processID, fingerprint string, req SubmitRequest, entry *store.ResultEntry) (*SubmitResult, error) {
	record := domain.NewJobRecord(processID, fingerprint, req.Outputs)
	now := time.Now().UTC()
	record.Started = &now
	record.Finished = &now

	if entry.Failed {
		record.Status = domain.JobStatusFailed
		record.ErrorKind = entry.ErrorKind
		record.ErrorDetail = entry.ErrorDetail
		record.Message = "failure served from cache"
	} else {
		record.Status = domain.JobStatusSuccessful
		record.Progress = 100
		record.Message = "result retrieved from cache"
	}

	if err := m.jobs.Put(ctx, record); err != nil {
		return nil, err
	}

	result := &SubmitResult{Record: record}
	if !entry.Failed {
		result.Outputs = filterOutputs(entry.Outputs, req.Outputs)
	}
	return result, nil
}

// await polls the job store until the job reaches a terminal state or
// the sync deadline passes. On deadline the submission degrades to
// async semantics: the current record is returned, never an error. The
// record may not exist yet when awaiting another submission's job (the
// claimer has the marker but has not written its record); lastKnown is
// the view reported while that window lasts.
func (m *Manager) await(ctx context.Context, jobID string, requestedOutputs []string, lastKnown *domain.JobRecord) (*SubmitResult, error) {
	deadline := time.NewTimer(m.cfg.SyncDeadline)
	defer deadline.Stop()
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		record, err := m.jobs.Get(ctx, jobID)
		switch {
		case errors.Is(err, domain.ErrJobNotFound):
			record = lastKnown
		case err != nil:
			return nil, err
		default:
			lastKnown = record
			if record.Status.Terminal() {
				result := &SubmitResult{Record: record}
				if record.Status == domain.JobStatusSuccessful {
					outputs, err := m.resultOutputs(ctx, record, requestedOutputs)
					if err != nil {
						return nil, err
					}
					result.Outputs = outputs
				}
				return result, nil
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			m.logger.Debug("sync deadline reached, degrading to async", "job_id", jobID)
			return &SubmitResult{Record: record}, nil
		case <-ticker.C:
		}
	}
}

// GetStatus returns the job record for jobID.
func (m *Manager) GetStatus(ctx context.Context, jobID string) (*domain.JobRecord, error) {
	return m.jobs.Get(ctx, jobID)
}

// GetResult returns the outputs of a successful job, filtered to the
// outputs the caller requested. Outputs not requested are excluded even
// when they were computed.
func (m *Manager) GetResult(ctx context.Context, jobID string, requestedOutputs []string) (map[string]any, error) {
	record, err := m.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	switch record.Status {
	case domain.JobStatusSuccessful:
		return m.resultOutputs(ctx, record, requestedOutputs)
	case domain.JobStatusFailed:
		return nil, fmt.Errorf("%w: %s: %s", domain.ErrJobFailed, record.ErrorKind, record.ErrorDetail)
	case domain.JobStatusDismissed:
		return nil, fmt.Errorf("%w: job was dismissed", domain.ErrJobFailed)
	default:
		return nil, fmt.Errorf("%w: job %s is %s", domain.ErrResultNotReady, jobID, record.Status)
	}
}

func (m *Manager) resultOutputs(ctx context.Context, record *domain.JobRecord, requestedOutputs []string) (map[string]any, error) {
	entry, err := m.results.GetResult(ctx, record.Fingerprint)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// The result outlived its TTL while the job record survived.
			return nil, fmt.Errorf("%w: result for job %s has expired", domain.ErrJobNotFound, record.ID)
		}
		return nil, err
	}
	if entry.Failed {
		return nil, fmt.Errorf("%w: %s: %s", domain.ErrJobFailed, entry.ErrorKind, entry.ErrorDetail)
	}

	if len(requestedOutputs) == 0 {
		requestedOutputs = record.RequestedOutputs
	}
	return filterOutputs(entry.Outputs, requestedOutputs), nil
}

// Dismiss marks a non-terminal job dismissed. Dismissal is advisory:
// an executing worker is not interrupted forcibly, it observes the
// dismissal between progress updates.
func (m *Manager) Dismiss(ctx context.Context, jobID string) (*domain.JobRecord, error) {
	record, err := m.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if record.Status.Terminal() {
		return nil, fmt.Errorf("%w: job %s is already %s", domain.ErrJobNotCancelable, jobID, record.Status)
	}

	err = m.jobs.Transition(ctx, jobID, domain.JobStatusDismissed, func(r *domain.JobRecord) {
		r.Message = "job dismissed by caller"
	})
	if err != nil {
		// The job can complete between the pre-check above and the
		// transition; that race is still a not-cancelable answer.
		if errors.Is(err, domain.ErrInvalidTransition) {
			return nil, fmt.Errorf("%w: job %s already finished", domain.ErrJobNotCancelable, jobID)
		}
		return nil, err
	}

	// Release the fingerprint for resubmission if this job held it.
	owner, inFlight, err := m.results.InFlight(ctx, record.Fingerprint)
	if err == nil && inFlight && owner == jobID {
		if clearErr := m.results.ClearExecution(ctx, record.Fingerprint); clearErr != nil {
			m.logger.Error("failed to clear execution marker on dismissal",
				"job_id", jobID, "error", clearErr)
		}
	}

	m.logger.Info("job dismissed", "job_id", jobID)
	return m.jobs.Get(ctx, jobID)
}

// ListJobs returns every live job record.
func (m *Manager) ListJobs(ctx context.Context) ([]*domain.JobRecord, error) {
	return m.jobs.List(ctx)
}

// Describe returns the description of a registered process.
func (m *Manager) Describe(processID string) (process.Description, error) {
	proc, err := m.registry.Lookup(processID)
	if err != nil {
		return process.Description{}, err
	}
	return proc.Describe(), nil
}

// ListProcesses returns the descriptions of all registered processes.
func (m *Manager) ListProcesses() []process.Description {
	ids := m.registry.IDs()
	descriptions := make([]process.Description, 0, len(ids))
	for _, id := range ids {
		if proc, err := m.registry.Lookup(id); err == nil {
			descriptions = append(descriptions, proc.Describe())
		}
	}
	return descriptions
}

func (m *Manager) failJob(ctx context.Context, jobID, fingerprint string, kind domain.ErrorKind, detail string) {
	err := m.jobs.Transition(ctx, jobID, domain.JobStatusFailed, func(r *domain.JobRecord) {
		r.ErrorKind = kind
		r.ErrorDetail = detail
	})
	if err != nil {
		m.logger.Error("failed to mark job failed", "job_id", jobID, "error", err)
	}
	if err := m.results.ClearExecution(ctx, fingerprint); err != nil {
		m.logger.Error("failed to clear execution marker", "job_id", jobID, "error", err)
	}
}

// filterOutputs restricts outputs to the requested identifiers. An
// empty request returns everything.
func filterOutputs(outputs map[string]any, requested []string) map[string]any {
	if len(requested) == 0 {
		return outputs
	}
	filtered := make(map[string]any, len(requested))
	for _, name := range requested {
		if value, ok := outputs[name]; ok {
			filtered[name] = value
		}
	}
	return filtered
}
