package event

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemoryStore keeps events in a single time-ordered slice. Appends are
// amortized O(1) because guards emit with a monotonic clock; a rare
// out-of-order append is bubbled back to keep query order stable.
type InMemoryStore struct {
	mu     sync.RWMutex
	events []Event
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

var _ Store = (*InMemoryStore)(nil)

func (s *InMemoryStore) Append(_ context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, e)
	// Keep non-decreasing timestamp order for the since-cursor binary search.
	for i := len(s.events) - 1; i > 0 && s.events[i].Timestamp.Before(s.events[i-1].Timestamp); i-- {
		s.events[i], s.events[i-1] = s.events[i-1], s.events[i]
	}
	return nil
}

func (s *InMemoryStore) Query(_ context.Context, f Filter) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Binary search the since-cursor so frequent "events since last check"
	// polls do not scan the whole log.
	start := 0
	if !f.Since.IsZero() {
		start = sort.Search(len(s.events), func(i int) bool {
			return !s.events[i].Timestamp.Before(f.Since)
		})
	}

	var out []Event
	for _, e := range s.events[start:] {
		if !f.Until.IsZero() && !e.Timestamp.Before(f.Until) {
			break
		}
		if !matches(e, f) {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

func (s *InMemoryStore) Prune(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cut := sort.Search(len(s.events), func(i int) bool {
		return !s.events[i].Timestamp.Before(before)
	})
	if cut == 0 {
		return 0, nil
	}
	s.events = append([]Event(nil), s.events[cut:]...)
	return cut, nil
}

func matches(e Event, f Filter) bool {
	if f.MinSeverity != "" && !e.Severity.AtLeast(f.MinSeverity) {
		return false
	}
	if f.ClientIP != "" && e.ClientIP != f.ClientIP {
		return false
	}
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if e.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
