package event

import (
	"context"
	"time"
)

// Filter narrows a Query. Zero values mean "no constraint".
type Filter struct {
	Types       []Type
	MinSeverity Severity
	Since       time.Time // inclusive
	Until       time.Time // exclusive
	ClientIP    string
	Limit       int
}

// Store is the append/query sink behind the bus. The in-memory implementation
// is process-local; a shared backend can replace it without touching guards.
type Store interface {
	Append(ctx context.Context, e Event) error
	Query(ctx context.Context, f Filter) ([]Event, error)
	// Prune drops events observed before the cutoff and reports how many went.
	// Open incidents keep their own event snapshots, so pruning never rewrites
	// incident history.
	Prune(ctx context.Context, before time.Time) (int, error)
}
