package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tilegrid/procserve/internal/domain"
)

// Key prefixes keep completed entries and in-flight markers in separate
// namespaces so a marker can never shadow a finished result.
const (
	resultKeyPrefix   = "result:"
	inflightKeyPrefix = "inflight:"
)

// ResultEntry is a completed cache entry under a fingerprint: either a
// successful output set or a classified terminal failure. Successful
// entries are immutable once written.
type ResultEntry struct {
	Fingerprint string           `json:"fingerprint"`
	Outputs     map[string]any   `json:"outputs,omitempty"`
	Failed      bool             `json:"failed,omitempty"`
	ErrorKind   domain.ErrorKind `json:"error_kind,omitempty"`
	ErrorDetail string           `json:"error_detail,omitempty"`
	StoredAt    time.Time        `json:"stored_at"`
}

// ResultsCacheConfig carries the three TTLs the cache distinguishes.
type ResultsCacheConfig struct {
	// ResultTTL applies to successful results.
	ResultTTL time.Duration

	// FailureTTL applies to cached failures. It is deliberately short:
	// just long enough to avoid hot-looping on deterministically bad
	// input without blocking retries for long.
	FailureTTL time.Duration

	// MarkerTTL applies to in-flight markers. It is the backstop that
	// eventually allows resubmission when a worker dies without clearing
	// its marker.
	MarkerTTL time.Duration
}

// ResultsCache maps fingerprints to cached results and holds the
// transient in-flight markers that deduplicate concurrent identical
// requests onto a single execution.
type ResultsCache struct {
	kv  KeyValue
	cfg ResultsCacheConfig
}

// NewResultsCache builds a results cache on the given backend.
func NewResultsCache(kv KeyValue, cfg ResultsCacheConfig) *ResultsCache {
	return &ResultsCache{kv: kv, cfg: cfg}
}

// GetResult returns the completed entry for fingerprint, or ErrNotFound.
func (c *ResultsCache) GetResult(ctx context.Context, fingerprint string) (*ResultEntry, error) {
	raw, err := c.kv.Get(ctx, resultKeyPrefix+fingerprint)
	if err != nil {
		return nil, err
	}
	var entry ResultEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("%w: decoding cached result: %v", domain.ErrInternal, err)
	}
	return &entry, nil
}

// PutResult stores a successful output set under fingerprint with the
// success TTL.
func (c *ResultsCache) PutResult(ctx context.Context, fingerprint string, outputs map[string]any) error {
	return c.put(ctx, ResultEntry{
		Fingerprint: fingerprint,
		Outputs:     outputs,
		StoredAt:    time.Now().UTC(),
	}, c.cfg.ResultTTL)
}

// PutFailure caches a classified terminal failure under fingerprint
// with the (shorter) failure TTL.
func (c *ResultsCache) PutFailure(ctx context.Context, fingerprint string, kind domain.ErrorKind, detail string) error {
	return c.put(ctx, ResultEntry{
		Fingerprint: fingerprint,
		Failed:      true,
		ErrorKind:   kind,
		ErrorDetail: detail,
		StoredAt:    time.Now().UTC(),
	}, c.cfg.FailureTTL)
}

func (c *ResultsCache) put(ctx context.Context, entry ResultEntry, ttl time.Duration) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("%w: encoding cache entry: %v", domain.ErrInternal, err)
	}
	if err := c.kv.Set(ctx, resultKeyPrefix+entry.Fingerprint, raw, ttl); err != nil {
		return fmt.Errorf("%w: writing cache entry: %v", domain.ErrInternal, err)
	}
	return nil
}

// ClaimExecution attempts to place the in-flight marker for fingerprint
// on behalf of jobID. Exactly one concurrent caller wins; the losers
// receive the winner's job ID so they converge onto the same execution.
// The set-if-absent primitive of the backend makes the claim race-free.
func (c *ResultsCache) ClaimExecution(ctx context.Context, fingerprint, jobID string) (ownerJobID string, claimed bool, err error) {
	key := inflightKeyPrefix + fingerprint

	// A marker can expire between a lost claim and the follow-up read,
	// in which case the claim is simply retried.
	for {
		won, err := c.kv.SetIfAbsent(ctx, key, []byte(jobID), c.cfg.MarkerTTL)
		if err != nil {
			return "", false, fmt.Errorf("%w: claiming execution marker: %v", domain.ErrInternal, err)
		}
		if won {
			return jobID, true, nil
		}

		owner, err := c.kv.Get(ctx, key)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return "", false, fmt.Errorf("%w: reading execution marker: %v", domain.ErrInternal, err)
		}
		return string(owner), false, nil
	}
}

// InFlight returns the job ID holding the marker for fingerprint, if any.
func (c *ResultsCache) InFlight(ctx context.Context, fingerprint string) (string, bool, error) {
	owner, err := c.kv.Get(ctx, inflightKeyPrefix+fingerprint)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("%w: reading execution marker: %v", domain.ErrInternal, err)
	}
	return string(owner), true, nil
}

// ClearExecution removes the in-flight marker for fingerprint. It is
// called on every terminal path of an execution.
func (c *ResultsCache) ClearExecution(ctx context.Context, fingerprint string) error {
	if err := c.kv.Delete(ctx, inflightKeyPrefix+fingerprint); err != nil {
		return fmt.Errorf("%w: clearing execution marker: %v", domain.ErrInternal, err)
	}
	return nil
}
