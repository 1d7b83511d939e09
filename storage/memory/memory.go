// Package memory provides an in-memory implementation of the quota.Storage interface.
// This implementation is primarily intended for testing and development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/livedatabots/botrelay/pkg/quota"
)

// Storage implements quota.Storage using an in-memory map keyed by date
type Storage struct {
	mu    sync.Mutex
	usage map[string]*quota.DailyUsage
	now   func() time.Time
}

// New creates a new in-memory storage adapter
func New() *Storage {
	return &Storage{
		usage: make(map[string]*quota.DailyUsage),
		now:   time.Now,
	}
}

// GetCount implements quota.Storage
func (s *Storage) GetCount(ctx context.Context, day quota.Period) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.row(day).Count, nil
}

// IncrementCount implements quota.Storage
func (s *Storage) IncrementCount(ctx context.Context, day quota.Period) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.row(day)
	row.Count++
	row.UpdatedAt = s.now().UTC()
	return row.Count, nil
}

// IncrementAndCheck implements quota.Storage
func (s *Storage) IncrementAndCheck(ctx context.Context, day quota.Period, limit int) (int, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.row(day)
	if row.Count > limit {
		return row.Count, false, nil
	}
	row.Count++
	row.UpdatedAt = s.now().UTC()
	return row.Count, true, nil
}

// Ping implements quota.Storage
func (s *Storage) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Now implements quota.TimeSource
func (s *Storage) Now(_ context.Context) (time.Time, error) {
	return s.now().UTC(), nil
}

// Usage returns every stored counter ordered by date
func (s *Storage) Usage() []quota.DailyUsage {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := make([]quota.DailyUsage, 0, len(s.usage))
	for _, row := range s.usage {
		rows = append(rows, *row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Date < rows[j].Date })
	return rows
}

// Clear removes all data (useful for testing)
func (s *Storage) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.usage = make(map[string]*quota.DailyUsage)
}

// row returns the counter for day, creating it with 0 when absent.
// It must be called with mu held.
func (s *Storage) row(day quota.Period) *quota.DailyUsage {
	key := day.Key()
	row, ok := s.usage[key]
	if !ok {
		row = &quota.DailyUsage{Date: key, UpdatedAt: s.now().UTC()}
		s.usage[key] = row
	}
	return row
}
