// Package counter implements the fixed-window counter store behind the rate
// limiter.
package counter

import (
	"context"
	"sync"
	"time"

	"bastion/internal/ratelimit/models"
	platformsync "bastion/pkg/platform/sync"
	"bastion/pkg/requestcontext"
)

// window is the mutable state of one fixed window.
type window struct {
	start time.Time
	count int
}

// InMemoryCounterStore implements CounterStore with fixed, non-overlapping
// windows per key. Increment-and-compare runs under the key's shard lock, so
// concurrent consumers on one key can never overrun the limit; distinct keys
// land on different shards and do not contend.
type InMemoryCounterStore struct {
	locks   *platformsync.ShardedMutex
	windows sync.Map // key string -> *window, mutated only under the key's shard lock
}

func New() *InMemoryCounterStore {
	return &InMemoryCounterStore{
		locks: platformsync.NewShardedMutex(),
	}
}

// TryConsume applies the fixed-window algorithm for one request.
//
// Fresh key or elapsed window: a new window opens with count=1, allowed.
// Otherwise the count is incremented atomically; exceeding the limit denies
// with the window's reset time. A denied request still counts, keeping a
// hammering client denied for the full window.
func (s *InMemoryCounterStore) TryConsume(ctx context.Context, key string, limit int, windowDur time.Duration) (*models.Result, error) {
	now := requestcontext.Now(ctx)

	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	var w *window
	if v, ok := s.windows.Load(key); ok {
		w = v.(*window)
	}

	if w == nil || !now.Before(w.start.Add(windowDur)) {
		w = &window{start: now, count: 1}
		s.windows.Store(key, w)
		return result(true, limit, limit-1, w.start.Add(windowDur), now), nil
	}

	w.count++
	resetAt := w.start.Add(windowDur)
	if w.count > limit {
		return result(false, limit, 0, resetAt, now), nil
	}
	return result(true, limit, limit-w.count, resetAt, now), nil
}

// CurrentCount returns the live count for a key, 0 when no window is open.
func (s *InMemoryCounterStore) CurrentCount(ctx context.Context, key string, windowDur time.Duration) (int, error) {
	now := requestcontext.Now(ctx)

	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	v, ok := s.windows.Load(key)
	if !ok {
		return 0, nil
	}
	w := v.(*window)
	if !now.Before(w.start.Add(windowDur)) {
		return 0, nil
	}
	return w.count, nil
}

// Reset clears the counter for a key.
func (s *InMemoryCounterStore) Reset(_ context.Context, key string) error {
	s.locks.Lock(key)
	defer s.locks.Unlock(key)
	s.windows.Delete(key)
	return nil
}

func result(allowed bool, limit, remaining int, resetAt, now time.Time) *models.Result {
	r := &models.Result{
		Allowed:   allowed,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
	if !allowed {
		seconds := int(resetAt.Sub(now).Seconds())
		if seconds < 0 {
			seconds = 0
		}
		r.RetryAfter = seconds
	}
	return r
}
