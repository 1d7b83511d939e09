package quota

import (
	"context"
	"time"
)

// CircuitBreakerStorage wraps a Storage implementation with circuit breaker protection.
// When the circuit is open every call fails fast with ErrCircuitOpen, which the gate
// reports as an unavailable store.
type CircuitBreakerStorage struct {
	storage Storage
	cb      CircuitBreaker
}

// NewCircuitBreakerStorage creates a new storage wrapper with circuit breaker.
func NewCircuitBreakerStorage(storage Storage, cb CircuitBreaker) *CircuitBreakerStorage {
	return &CircuitBreakerStorage{
		storage: storage,
		cb:      cb,
	}
}

func (s *CircuitBreakerStorage) GetCount(ctx context.Context, day Period) (int, error) {
	var count int
	err := s.cb.Execute(ctx, func() error {
		var e error
		count, e = s.storage.GetCount(ctx, day)
		return e
	})
	return count, err
}

func (s *CircuitBreakerStorage) IncrementCount(ctx context.Context, day Period) (int, error) {
	var count int
	err := s.cb.Execute(ctx, func() error {
		var e error
		count, e = s.storage.IncrementCount(ctx, day)
		return e
	})
	return count, err
}

func (s *CircuitBreakerStorage) IncrementAndCheck(ctx context.Context, day Period, limit int) (int, bool, error) {
	var (
		count   int
		allowed bool
	)
	err := s.cb.Execute(ctx, func() error {
		var e error
		count, allowed, e = s.storage.IncrementAndCheck(ctx, day, limit)
		return e
	})
	return count, allowed, err
}

// Ping bypasses the breaker so status probes always reach the storage.
func (s *CircuitBreakerStorage) Ping(ctx context.Context) error {
	return s.storage.Ping(ctx)
}

// Now delegates to the wrapped storage when it is a TimeSource. Like Ping it
// bypasses the breaker; the gate falls back to its cached offset on error.
func (s *CircuitBreakerStorage) Now(ctx context.Context) (time.Time, error) {
	if ts, ok := s.storage.(TimeSource); ok {
		return ts.Now(ctx)
	}
	return time.Now().UTC(), nil
}

// Unwrap returns the wrapped storage.
func (s *CircuitBreakerStorage) Unwrap() Storage {
	return s.storage
}
