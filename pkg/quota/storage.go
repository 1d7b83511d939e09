package quota

import (
	"context"
	"time"
)

// Storage defines the interface for the persistent daily counter.
// The storage is the single source of truth; the Gate is its only mutator.
type Storage interface {
	// GetCount returns the counter for the given day.
	// If no counter exists yet it is created with a count of 0 and 0 is returned.
	// Concurrent first accesses for the same day must converge to a single counter.
	GetCount(ctx context.Context, day Period) (int, error)

	// IncrementCount adds one to the counter for the given day and returns the new count.
	// If no counter exists yet it is created with a count of 1.
	IncrementCount(ctx context.Context, day Period) (int, error)

	// IncrementAndCheck atomically compares the counter against limit and increments it.
	// If the stored count is greater than limit nothing is written and (count, false) is returned.
	// Otherwise the counter is incremented and (newCount, true) is returned.
	IncrementAndCheck(ctx context.Context, day Period, limit int) (int, bool, error)

	// Ping checks that the storage is reachable
	Ping(ctx context.Context) error
}

// TimeSource defines an interface for getting time from the storage engine.
// The gate uses it to pick the current day so every process agrees on the date
// regardless of local clock skew.
type TimeSource interface {
	// Now returns the current time from the storage engine.
	Now(ctx context.Context) (time.Time, error)
}
