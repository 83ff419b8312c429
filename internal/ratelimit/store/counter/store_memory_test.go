package counter

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bastion/pkg/requestcontext"
	"bastion/pkg/testutil"
)

func clockCtx(t time.Time) context.Context {
	return requestcontext.WithClock(context.Background(), func() time.Time { return t })
}

func Test_TryConsume_FixedWindow(t *testing.T) {
	store := New()
	base := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	ctx := clockCtx(base)

	t.Run("fresh key opens window with count 1", func(t *testing.T) {
		result, err := store.TryConsume(ctx, "ip:10.0.0.1:contact", 5, time.Minute)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
		assert.Equal(t, 5, result.Limit)
		assert.Equal(t, 4, result.Remaining)
		assert.Equal(t, base.Add(time.Minute), result.ResetAt)
	})

	t.Run("requests up to the limit allowed, then denied", func(t *testing.T) {
		for i := 0; i < 4; i++ {
			result, err := store.TryConsume(ctx, "ip:10.0.0.1:contact", 5, time.Minute)
			require.NoError(t, err)
			assert.True(t, result.Allowed, "request %d", i+2)
		}

		result, err := store.TryConsume(ctx, "ip:10.0.0.1:contact", 5, time.Minute)
		require.NoError(t, err)
		assert.False(t, result.Allowed)
		assert.Zero(t, result.Remaining)
		assert.Equal(t, base.Add(time.Minute), result.ResetAt)
		assert.Equal(t, 60, result.RetryAfter)
	})

	t.Run("elapsed window resets to count 1", func(t *testing.T) {
		later := clockCtx(base.Add(time.Minute))
		result, err := store.TryConsume(later, "ip:10.0.0.1:contact", 5, time.Minute)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
		assert.Equal(t, 4, result.Remaining)
	})
}

func Test_TryConsume_DeniedRequestsStillCount(t *testing.T) {
	store := New()
	base := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	ctx := clockCtx(base)

	for i := 0; i < 4; i++ {
		_, err := store.TryConsume(ctx, "k", 2, time.Minute)
		require.NoError(t, err)
	}

	count, err := store.CurrentCount(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 4, count, "denials keep counting against the window")
}

func Test_TryConsume_KeysAreIndependent(t *testing.T) {
	store := New()
	ctx := clockCtx(time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC))

	for i := 0; i < 2; i++ {
		result, err := store.TryConsume(ctx, "ip:10.0.0.1:contact", 1, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, i == 0, result.Allowed)
	}

	result, err := store.TryConsume(ctx, "ip:10.0.0.2:contact", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, result.Allowed, "another key has its own budget")
}

func Test_Reset(t *testing.T) {
	store := New()
	ctx := clockCtx(time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC))

	_, err := store.TryConsume(ctx, "k", 1, time.Minute)
	require.NoError(t, err)
	result, err := store.TryConsume(ctx, "k", 1, time.Minute)
	require.NoError(t, err)
	require.False(t, result.Allowed)

	require.NoError(t, store.Reset(ctx, "k"))
	result, err = store.TryConsume(ctx, "k", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

// The core concurrency property: K concurrent consumers on one fresh key with
// limit L < K admit exactly L.
func Test_TryConsume_ExactAdmissionUnderConcurrency(t *testing.T) {
	store := New()
	ctx := clockCtx(time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC))

	const goroutines = 50
	const limit = 10

	var admitted, denied atomic.Int32
	res := testutil.RunConcurrentCtx(ctx, goroutines, func(ctx context.Context, _ int) error {
		result, err := store.TryConsume(ctx, "hot-key", limit, time.Minute)
		if err != nil {
			return err
		}
		if result.Allowed {
			admitted.Add(1)
		} else {
			denied.Add(1)
		}
		return nil
	})

	require.EqualValues(t, goroutines, res.Successes)
	assert.EqualValues(t, limit, admitted.Load())
	assert.EqualValues(t, goroutines-limit, denied.Load())
}
