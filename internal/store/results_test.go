package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tilegrid/procserve/internal/domain"
)

func newTestResultsCache(kv KeyValue) *ResultsCache {
	return NewResultsCache(kv, ResultsCacheConfig{
		ResultTTL:  time.Hour,
		FailureTTL: time.Minute,
		MarkerTTL:  5 * time.Minute,
	})
}

func TestResultsCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	cache := newTestResultsCache(NewMemoryKV())

	_, err := cache.GetResult(ctx, "fp")
	assert.ErrorIs(t, err, ErrNotFound)

	outputs := map[string]any{"output_text": "HI", "length": float64(2)}
	require.NoError(t, cache.PutResult(ctx, "fp", outputs))

	entry, err := cache.GetResult(ctx, "fp")
	require.NoError(t, err)
	assert.False(t, entry.Failed)
	assert.Equal(t, outputs, entry.Outputs)
	assert.Equal(t, "fp", entry.Fingerprint)
}

func TestResultsCacheFailureEntry(t *testing.T) {
	ctx := context.Background()
	cache := newTestResultsCache(NewMemoryKV())

	require.NoError(t, cache.PutFailure(ctx, "fp", domain.ErrorKindExecution, "division by zero"))

	entry, err := cache.GetResult(ctx, "fp")
	require.NoError(t, err)
	assert.True(t, entry.Failed)
	assert.Equal(t, domain.ErrorKindExecution, entry.ErrorKind)
	assert.Equal(t, "division by zero", entry.ErrorDetail)
}

func TestResultsCacheFailureTTLShorterThanResultTTL(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	now := time.Now()
	kv.SetClock(func() time.Time { return now })
	cache := newTestResultsCache(kv)

	require.NoError(t, cache.PutResult(ctx, "ok", map[string]any{"x": float64(1)}))
	require.NoError(t, cache.PutFailure(ctx, "bad", domain.ErrorKindExecution, "boom"))

	now = now.Add(10 * time.Minute)

	_, err := cache.GetResult(ctx, "ok")
	assert.NoError(t, err, "successful results outlive the failure TTL")

	_, err = cache.GetResult(ctx, "bad")
	assert.ErrorIs(t, err, ErrNotFound, "cached failures expire quickly to allow retries")
}

func TestClaimExecutionSingleWinner(t *testing.T) {
	ctx := context.Background()
	cache := newTestResultsCache(NewMemoryKV())

	owner, claimed, err := cache.ClaimExecution(ctx, "fp", "job-a")
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Equal(t, "job-a", owner)

	owner, claimed, err = cache.ClaimExecution(ctx, "fp", "job-b")
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Equal(t, "job-a", owner, "losers must converge onto the winner's job ID")
}

func TestClaimExecutionConcurrent(t *testing.T) {
	ctx := context.Background()
	cache := newTestResultsCache(NewMemoryKV())

	const callers = 16
	var wg sync.WaitGroup
	owners := make([]string, callers)
	wins := make([]bool, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			owner, claimed, err := cache.ClaimExecution(ctx, "fp", "job-"+string(rune('a'+i)))
			require.NoError(t, err)
			owners[i] = owner
			wins[i] = claimed
		}(i)
	}
	wg.Wait()

	winners := 0
	for i := range wins {
		if wins[i] {
			winners++
		}
		assert.Equal(t, owners[0], owners[i], "all callers must observe the same job ID")
	}
	assert.Equal(t, 1, winners, "exactly one caller wins the marker")
}

func TestClaimExecutionAfterMarkerExpiry(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	now := time.Now()
	kv.SetClock(func() time.Time { return now })
	cache := newTestResultsCache(kv)

	_, claimed, err := cache.ClaimExecution(ctx, "fp", "job-a")
	require.NoError(t, err)
	require.True(t, claimed)

	// Worker died silently; the marker TTL is the backstop.
	now = now.Add(10 * time.Minute)

	owner, claimed, err := cache.ClaimExecution(ctx, "fp", "job-b")
	require.NoError(t, err)
	assert.True(t, claimed, "an expired marker must not block resubmission")
	assert.Equal(t, "job-b", owner)
}

func TestClearExecution(t *testing.T) {
	ctx := context.Background()
	cache := newTestResultsCache(NewMemoryKV())

	_, claimed, err := cache.ClaimExecution(ctx, "fp", "job-a")
	require.NoError(t, err)
	require.True(t, claimed)

	_, inFlight, err := cache.InFlight(ctx, "fp")
	require.NoError(t, err)
	require.True(t, inFlight)

	require.NoError(t, cache.ClearExecution(ctx, "fp"))

	_, inFlight, err = cache.InFlight(ctx, "fp")
	require.NoError(t, err)
	assert.False(t, inFlight)
}
