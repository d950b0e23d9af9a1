package worker

import (
	"context"
	"log/slog"

	"github.com/tilegrid/procserve/internal/domain"
	"github.com/tilegrid/procserve/internal/store"
)

// progressReporter writes progress updates from a running process
// through to the job store. Consecutive identical percentages are
// coalesced to keep rapid reporters from flooding the store. Each
// update also checks for dismissal, giving the execution its
// cooperative cancellation point.
type progressReporter struct {
	jobs   *store.JobStore
	jobID  string
	cancel context.CancelFunc
	logger *slog.Logger
	last   int
}

func (p *progressReporter) Report(ctx context.Context, message string, percent int) {
	if percent == p.last && message == "" {
		return
	}
	p.last = percent

	if err := p.jobs.UpdateProgress(ctx, p.jobID, message, percent); err != nil {
		p.logger.Warn("failed to persist progress update", "error", err)
	}

	record, err := p.jobs.Get(ctx, p.jobID)
	if err == nil && record.Status == domain.JobStatusDismissed {
		p.logger.Info("dismissal observed, cancelling execution")
		p.cancel()
	}
}
