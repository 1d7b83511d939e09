package quota

import "time"

// Metrics defines the interface for tracking gate and storage operations.
type Metrics interface {
	// RecordDecision records the outcome of a quota check together with the observed count.
	RecordDecision(permitted bool, count int)

	// RecordIncrement records a counter increment and the resulting count.
	RecordIncrement(count int)

	// RecordStorageOperation records the duration and status of a storage operation.
	RecordStorageOperation(operation string, duration time.Duration, err error)

	// RecordCircuitBreakerStateChange records a circuit breaker state change.
	RecordCircuitBreakerStateChange(state string)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordDecision(permitted bool, count int)                                   {}
func (n *NoopMetrics) RecordIncrement(count int)                                                  {}
func (n *NoopMetrics) RecordStorageOperation(operation string, duration time.Duration, err error) {}
func (n *NoopMetrics) RecordCircuitBreakerStateChange(state string)                               {}
