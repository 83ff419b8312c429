package incident

import (
	"context"
	"sync"
	"time"

	platformsync "bastion/pkg/platform/sync"
)

// BlockEntry is one contained actor. Entries expire on their own; guards
// consult the list on every request, so lookups must stay cheap.
type BlockEntry struct {
	IP        string    `json:"ip"`
	Reason    string    `json:"reason"`
	ExpiresAt time.Time `json:"expires_at"`
}

// BlockStore is written only by the orchestrator and read by the guard chain.
type BlockStore interface {
	Put(ctx context.Context, entry BlockEntry) error
	IsBlocked(ctx context.Context, ip string, now time.Time) (bool, error)
	ActiveCount(now time.Time) int
}

// InMemoryBlockStore keys entries by IP with per-key shard locking so request
// path lookups on distinct clients do not contend.
type InMemoryBlockStore struct {
	locks   *platformsync.ShardedMutex
	entries sync.Map // ip -> BlockEntry
}

func NewInMemoryBlockStore() *InMemoryBlockStore {
	return &InMemoryBlockStore{locks: platformsync.NewShardedMutex()}
}

func (s *InMemoryBlockStore) Put(_ context.Context, entry BlockEntry) error {
	s.locks.Lock(entry.IP)
	defer s.locks.Unlock(entry.IP)
	s.entries.Store(entry.IP, entry)
	return nil
}

// IsBlocked checks the entry and lazily drops it once expired.
func (s *InMemoryBlockStore) IsBlocked(_ context.Context, ip string, now time.Time) (bool, error) {
	v, ok := s.entries.Load(ip)
	if !ok {
		return false, nil
	}
	entry := v.(BlockEntry)
	if now.After(entry.ExpiresAt) {
		s.locks.Lock(ip)
		if v, still := s.entries.Load(ip); still && now.After(v.(BlockEntry).ExpiresAt) {
			s.entries.Delete(ip)
		}
		s.locks.Unlock(ip)
		return false, nil
	}
	return true, nil
}

// ActiveCount walks live entries; only the admin health endpoint calls it.
func (s *InMemoryBlockStore) ActiveCount(now time.Time) int {
	n := 0
	s.entries.Range(func(_, v any) bool {
		if !now.After(v.(BlockEntry).ExpiresAt) {
			n++
		}
		return true
	})
	return n
}

var _ BlockStore = (*InMemoryBlockStore)(nil)
