package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tilegrid/procserve/internal/domain"
)

const jobKeyPrefix = "job:"

// JobStore persists job records under their job ID with an independent
// TTL from the results cache. Updates go through an atomic
// read-modify-write that enforces the status state machine, so a
// terminal state is never overwritten no matter how writers race.
type JobStore struct {
	kv  KeyValue
	ttl time.Duration
}

// NewJobStore builds a job store with the given record TTL.
func NewJobStore(kv KeyValue, ttl time.Duration) *JobStore {
	return &JobStore{kv: kv, ttl: ttl}
}

// Put stores a freshly created record.
func (s *JobStore) Put(ctx context.Context, record *domain.JobRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("%w: encoding job record: %v", domain.ErrInternal, err)
	}
	if err := s.kv.Set(ctx, jobKeyPrefix+record.ID, raw, s.ttl); err != nil {
		return fmt.Errorf("%w: writing job record: %v", domain.ErrInternal, err)
	}
	return nil
}

// Get returns the record for jobID, or domain.ErrJobNotFound when it is
// absent or TTL-expired.
func (s *JobStore) Get(ctx context.Context, jobID string) (*domain.JobRecord, error) {
	raw, err := s.kv.Get(ctx, jobKeyPrefix+jobID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrJobNotFound, jobID)
		}
		return nil, fmt.Errorf("%w: reading job record: %v", domain.ErrInternal, err)
	}
	var record domain.JobRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("%w: decoding job record: %v", domain.ErrInternal, err)
	}
	return &record, nil
}

// Transition moves a job to next, applying extra mutations to the
// record in the same atomic update. The transition is rejected when the
// state machine forbids it; racing writers therefore cannot resurrect a
// terminal job. Returns the domain.ErrJobNotFound sentinel for unknown
// jobs and domain.ErrInvalidTransition for forbidden transitions.
func (s *JobStore) Transition(ctx context.Context, jobID string, next domain.JobStatus, apply func(*domain.JobRecord)) error {
	err := s.update(ctx, jobID, func(record *domain.JobRecord) error {
		if !record.Status.CanTransitionTo(next) {
			return fmt.Errorf("%w: job %s cannot go from %s to %s",
				domain.ErrInvalidTransition, jobID, record.Status, next)
		}
		record.Status = next
		now := time.Now().UTC()
		if next == domain.JobStatusRunning && record.Started == nil {
			record.Started = &now
		}
		if next.Terminal() {
			record.Finished = &now
		}
		if apply != nil {
			apply(record)
		}
		return nil
	})
	return err
}

// UpdateProgress persists a progress update, touching only the progress
// and message fields so unrelated concurrent mutations are not
// clobbered. Progress updates on jobs already terminal are ignored.
func (s *JobStore) UpdateProgress(ctx context.Context, jobID, message string, percent int) error {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	return s.update(ctx, jobID, func(record *domain.JobRecord) error {
		// A terminal record stays byte-identical: rewriting it would
		// refresh its TTL.
		if record.Status.Terminal() {
			return ErrSkipUpdate
		}
		record.Progress = percent
		if message != "" {
			record.Message = message
		}
		return nil
	})
}

func (s *JobStore) update(ctx context.Context, jobID string, mutate func(*domain.JobRecord) error) error {
	err := s.kv.Update(ctx, jobKeyPrefix+jobID, s.ttl, func(current []byte) ([]byte, error) {
		var record domain.JobRecord
		if err := json.Unmarshal(current, &record); err != nil {
			return nil, fmt.Errorf("%w: decoding job record: %v", domain.ErrInternal, err)
		}
		if err := mutate(&record); err != nil {
			return nil, err
		}
		record.Updated = time.Now().UTC()
		next, err := json.Marshal(&record)
		if err != nil {
			return nil, fmt.Errorf("%w: encoding job record: %v", domain.ErrInternal, err)
		}
		return next, nil
	})
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%w: %s", domain.ErrJobNotFound, jobID)
	}
	return err
}

// List returns every live job record. Used by the jobs listing
// endpoint; ordering is unspecified.
func (s *JobStore) List(ctx context.Context) ([]*domain.JobRecord, error) {
	keys, err := s.kv.Keys(ctx, jobKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("%w: listing job records: %v", domain.ErrInternal, err)
	}
	records := make([]*domain.JobRecord, 0, len(keys))
	for _, key := range keys {
		raw, err := s.kv.Get(ctx, key)
		if err != nil {
			// Expired between scan and read.
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("%w: reading job record: %v", domain.ErrInternal, err)
		}
		var record domain.JobRecord
		if err := json.Unmarshal(raw, &record); err != nil {
			return nil, fmt.Errorf("%w: decoding job record: %v", domain.ErrInternal, err)
		}
		records = append(records, &record)
	}
	return records, nil
}
