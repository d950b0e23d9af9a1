package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryKVGetSet(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()

	_, err := kv.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, kv.Set(ctx, "k", []byte("v"), 0))
	value, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), value)
}

func TestMemoryKVTTLExpiry(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()

	now := time.Now()
	kv.SetClock(func() time.Time { return now })

	require.NoError(t, kv.Set(ctx, "k", []byte("v"), time.Minute))

	_, err := kv.Get(ctx, "k")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = kv.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryKVSetIfAbsent(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()

	won, err := kv.SetIfAbsent(ctx, "k", []byte("first"), 0)
	require.NoError(t, err)
	assert.True(t, won)

	won, err = kv.SetIfAbsent(ctx, "k", []byte("second"), 0)
	require.NoError(t, err)
	assert.False(t, won)

	value, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), value)
}

func TestMemoryKVSetIfAbsentAfterExpiry(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()

	now := time.Now()
	kv.SetClock(func() time.Time { return now })

	won, err := kv.SetIfAbsent(ctx, "k", []byte("first"), time.Minute)
	require.NoError(t, err)
	require.True(t, won)

	now = now.Add(2 * time.Minute)
	won, err = kv.SetIfAbsent(ctx, "k", []byte("second"), time.Minute)
	require.NoError(t, err)
	assert.True(t, won, "an expired key must be claimable again")
}

func TestMemoryKVUpdate(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()

	err := kv.Update(ctx, "missing", 0, func(current []byte) ([]byte, error) {
		return current, nil
	})
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, kv.Set(ctx, "k", []byte("a"), 0))
	require.NoError(t, kv.Update(ctx, "k", 0, func(current []byte) ([]byte, error) {
		return append(current, 'b'), nil
	}))

	value, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("ab"), value)

	err = kv.Update(ctx, "k", 0, func(current []byte) ([]byte, error) {
		return nil, assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	value, err = kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("ab"), value, "a failed mutate must leave the value unchanged")
}

func TestMemoryKVKeys(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()

	require.NoError(t, kv.Set(ctx, "job:1", []byte("a"), 0))
	require.NoError(t, kv.Set(ctx, "job:2", []byte("b"), 0))
	require.NoError(t, kv.Set(ctx, "result:x", []byte("c"), 0))

	keys, err := kv.Keys(ctx, "job:")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"job:1", "job:2"}, keys)
}
