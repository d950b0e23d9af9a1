package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tilegrid/procserve/internal/dispatch"
	"github.com/tilegrid/procserve/internal/domain"
	"github.com/tilegrid/procserve/internal/process"
	"github.com/tilegrid/procserve/internal/store"
)

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

type harness struct {
	registry *process.Registry
	results  *store.ResultsCache
	jobs     *store.JobStore
	handler  *Handler
}

func newHarness(t *testing.T, processes ...process.Process) *harness {
	t.Helper()
	kv := store.NewMemoryKV()
	results := store.NewResultsCache(kv, store.ResultsCacheConfig{
		ResultTTL:  time.Hour,
		FailureTTL: time.Minute,
		MarkerTTL:  5 * time.Minute,
	})
	jobs := store.NewJobStore(kv, time.Hour)
	registry := process.NewRegistry()
	for _, p := range processes {
		require.NoError(t, registry.Register(p))
	}
	return &harness{
		registry: registry,
		results:  results,
		jobs:     jobs,
		handler:  NewHandler(registry, results, jobs, setupTestLogger()),
	}
}

// prepare creates an accepted job record holding the in-flight marker,
// mirroring what the manager does before dispatch.
func (h *harness) prepare(t *testing.T, processID string, inputs map[string]any, outputs []string) dispatch.ExecutePayload {
	t.Helper()
	ctx := context.Background()
	fp, err := domain.Fingerprint(processID, inputs, outputs)
	require.NoError(t, err)

	record := domain.NewJobRecord(processID, fp, outputs)
	require.NoError(t, h.jobs.Put(ctx, record))

	_, claimed, err := h.results.ClaimExecution(ctx, fp, record.ID)
	require.NoError(t, err)
	require.True(t, claimed)

	return dispatch.ExecutePayload{
		JobID:            record.ID,
		ProcessID:        processID,
		Fingerprint:      fp,
		Inputs:           inputs,
		RequestedOutputs: outputs,
	}
}

func (h *harness) markerCleared(t *testing.T, fingerprint string) bool {
	t.Helper()
	_, inFlight, err := h.results.InFlight(context.Background(), fingerprint)
	require.NoError(t, err)
	return !inFlight
}

type failingProcess struct {
	id  string
	err error
}

func (p failingProcess) Describe() process.Description {
	return process.Description{
		ID:      p.id,
		Version: "1.0.0",
		Inputs: map[string]process.InputSpec{
			"text": {MinOccurs: 1, Schema: process.ValueSchema{Type: "string"}},
		},
		Outputs: map[string]process.OutputSpec{
			"out": {Schema: process.ValueSchema{Type: "string"}},
		},
	}
}

func (p failingProcess) Execute(ctx context.Context, inputs map[string]any, progress process.Reporter) (map[string]any, error) {
	return nil, p.err
}

type panickingProcess struct{}

func (panickingProcess) Describe() process.Description {
	return failingProcess{id: "panic"}.Describe()
}

func (panickingProcess) Execute(ctx context.Context, inputs map[string]any, progress process.Reporter) (map[string]any, error) {
	panic("index out of range")
}

func TestExecuteSuccess(t *testing.T) {
	h := newHarness(t, process.Echo{})
	payload := h.prepare(t, "echo", map[string]any{"text": "hi"}, []string{"output_text"})

	require.NoError(t, h.handler.Execute(context.Background(), payload))

	record, err := h.jobs.Get(context.Background(), payload.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusSuccessful, record.Status)
	assert.Equal(t, 100, record.Progress)
	require.NotNil(t, record.Started)
	require.NotNil(t, record.Finished)

	entry, err := h.results.GetResult(context.Background(), payload.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, "HI", entry.Outputs["output_text"])

	assert.True(t, h.markerCleared(t, payload.Fingerprint))
}

func TestExecuteProcessError(t *testing.T) {
	h := newHarness(t, failingProcess{id: "boom", err: errors.New("division by zero")})
	payload := h.prepare(t, "boom", map[string]any{"text": "hi"}, nil)

	err := h.handler.Execute(context.Background(), payload)
	require.Error(t, err)

	record, getErr := h.jobs.Get(context.Background(), payload.JobID)
	require.NoError(t, getErr)
	assert.Equal(t, domain.JobStatusFailed, record.Status)
	assert.Equal(t, domain.ErrorKindExecution, record.ErrorKind)
	assert.Contains(t, record.ErrorDetail, "division by zero")

	entry, cacheErr := h.results.GetResult(context.Background(), payload.Fingerprint)
	require.NoError(t, cacheErr)
	assert.True(t, entry.Failed)
	assert.Equal(t, domain.ErrorKindExecution, entry.ErrorKind)

	assert.True(t, h.markerCleared(t, payload.Fingerprint))
}

func TestExecuteSemanticInvalidInput(t *testing.T) {
	h := newHarness(t, failingProcess{
		id:  "picky",
		err: fmt.Errorf("%w: text must not be blank", domain.ErrInvalidInput),
	})
	payload := h.prepare(t, "picky", map[string]any{"text": " "}, nil)

	err := h.handler.Execute(context.Background(), payload)
	require.Error(t, err)

	record, getErr := h.jobs.Get(context.Background(), payload.JobID)
	require.NoError(t, getErr)
	assert.Equal(t, domain.JobStatusFailed, record.Status)
	assert.Equal(t, domain.ErrorKindInvalidInput, record.ErrorKind)
}

func TestExecuteSchemaInvalidInput(t *testing.T) {
	h := newHarness(t, process.Echo{})
	payload := h.prepare(t, "echo", map[string]any{"text": 42}, nil)

	err := h.handler.Execute(context.Background(), payload)
	require.Error(t, err)

	record, getErr := h.jobs.Get(context.Background(), payload.JobID)
	require.NoError(t, getErr)
	assert.Equal(t, domain.JobStatusFailed, record.Status)
	assert.Equal(t, domain.ErrorKindInvalidInput, record.ErrorKind)
	assert.True(t, h.markerCleared(t, payload.Fingerprint))
}

func TestExecutePanicIsLibraryError(t *testing.T) {
	h := newHarness(t, panickingProcess{})
	payload := h.prepare(t, "panic", map[string]any{"text": "hi"}, nil)

	err := h.handler.Execute(context.Background(), payload)
	require.Error(t, err)

	record, getErr := h.jobs.Get(context.Background(), payload.JobID)
	require.NoError(t, getErr)
	assert.Equal(t, domain.JobStatusFailed, record.Status)
	assert.Equal(t, domain.ErrorKindLibrary, record.ErrorKind)
	assert.Contains(t, record.ErrorDetail, "panicked")
	assert.True(t, h.markerCleared(t, payload.Fingerprint))
}

func TestExecuteUnknownProcessIsLibraryError(t *testing.T) {
	h := newHarness(t, process.Echo{})
	payload := h.prepare(t, "echo", map[string]any{"text": "hi"}, nil)
	payload.ProcessID = "not-deployed"

	err := h.handler.Execute(context.Background(), payload)
	require.Error(t, err)

	record, getErr := h.jobs.Get(context.Background(), payload.JobID)
	require.NoError(t, getErr)
	assert.Equal(t, domain.JobStatusFailed, record.Status)
	assert.Equal(t, domain.ErrorKindLibrary, record.ErrorKind)
}

func TestExecuteSkipsDismissedJob(t *testing.T) {
	h := newHarness(t, process.Echo{})
	payload := h.prepare(t, "echo", map[string]any{"text": "hi"}, nil)

	ctx := context.Background()
	require.NoError(t, h.jobs.Transition(ctx, payload.JobID, domain.JobStatusDismissed, nil))

	require.NoError(t, h.handler.Execute(ctx, payload))

	record, err := h.jobs.Get(ctx, payload.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusDismissed, record.Status)

	_, cacheErr := h.results.GetResult(ctx, payload.Fingerprint)
	assert.ErrorIs(t, cacheErr, store.ErrNotFound, "a dismissed job must not produce a result")
	assert.True(t, h.markerCleared(t, payload.Fingerprint))
}

func TestExecuteMissingRecordClearsMarker(t *testing.T) {
	h := newHarness(t, process.Echo{})
	payload := h.prepare(t, "echo", map[string]any{"text": "hi"}, nil)
	payload.JobID = "expired-job"

	require.NoError(t, h.handler.Execute(context.Background(), payload))
	assert.True(t, h.markerCleared(t, payload.Fingerprint))
}

type progressProcess struct {
	steps int
}

func (p progressProcess) Describe() process.Description {
	return failingProcess{id: "steps"}.Describe()
}

func (p progressProcess) Execute(ctx context.Context, inputs map[string]any, progress process.Reporter) (map[string]any, error) {
	for i := 1; i <= p.steps; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		progress.Report(ctx, fmt.Sprintf("step %d", i), i*100/p.steps)
	}
	return map[string]any{"out": "done"}, nil
}

func TestExecutePersistsProgress(t *testing.T) {
	h := newHarness(t, progressProcess{steps: 4})
	payload := h.prepare(t, "steps", map[string]any{"text": "hi"}, nil)

	require.NoError(t, h.handler.Execute(context.Background(), payload))

	record, err := h.jobs.Get(context.Background(), payload.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusSuccessful, record.Status)
	assert.Equal(t, 100, record.Progress)
}

// dismissingProcess dismisses its own job after the first progress
// report, simulating a caller's dismissal arriving mid-execution.
type dismissingProcess struct {
	jobs      *store.JobStore
	jobIDByFP map[string]string
	executed  chan struct{}
}

func (p *dismissingProcess) Describe() process.Description {
	return failingProcess{id: "cancelme"}.Describe()
}

func (p *dismissingProcess) Execute(ctx context.Context, inputs map[string]any, progress process.Reporter) (map[string]any, error) {
	jobID := p.jobIDByFP["current"]
	_ = p.jobs.Transition(ctx, jobID, domain.JobStatusDismissed, nil)

	// The reporter observes the dismissal and cancels ctx.
	progress.Report(ctx, "after dismissal", 10)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	close(p.executed)
	return map[string]any{"out": "should not happen"}, nil
}

func TestExecuteObservesDismissalBetweenProgressUpdates(t *testing.T) {
	proc := &dismissingProcess{jobIDByFP: map[string]string{}, executed: make(chan struct{})}
	h := newHarness(t, proc)
	proc.jobs = h.jobs

	payload := h.prepare(t, "cancelme", map[string]any{"text": "hi"}, nil)
	proc.jobIDByFP["current"] = payload.JobID

	require.NoError(t, h.handler.Execute(context.Background(), payload))

	record, err := h.jobs.Get(context.Background(), payload.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusDismissed, record.Status)

	select {
	case <-proc.executed:
		t.Fatal("execution completed despite dismissal")
	default:
	}

	_, cacheErr := h.results.GetResult(context.Background(), payload.Fingerprint)
	assert.ErrorIs(t, cacheErr, store.ErrNotFound)
	assert.True(t, h.markerCleared(t, payload.Fingerprint))
}

// blockingProcess runs until its context is cancelled.
type blockingProcess struct {
	started chan struct{}
}

func (p *blockingProcess) Describe() process.Description {
	return failingProcess{id: "block"}.Describe()
}

func (p *blockingProcess) Execute(ctx context.Context, inputs map[string]any, progress process.Reporter) (map[string]any, error) {
	close(p.started)
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestExecuteInterruptedByPoolShutdown(t *testing.T) {
	proc := &blockingProcess{started: make(chan struct{})}
	h := newHarness(t, proc)
	payload := h.prepare(t, "block", map[string]any{"text": "hi"}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- h.handler.Execute(ctx, payload)
	}()
	<-proc.started
	cancel()
	require.Error(t, <-done)

	// An interruption is an infrastructure fault, not the process's.
	record, err := h.jobs.Get(context.Background(), payload.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, record.Status)
	assert.Equal(t, domain.ErrorKindLibrary, record.ErrorKind)
	assert.Contains(t, record.ErrorDetail, "interrupted")

	// And it must not be cached: a resubmission would be served a bogus
	// failure for a request that would succeed on a healthy worker.
	_, err = h.results.GetResult(context.Background(), payload.Fingerprint)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.True(t, h.markerCleared(t, payload.Fingerprint))
}
