package completion

import "time"

// Metrics defines the interface for tracking provider calls.
type Metrics interface {
	// RecordAttempt records a single provider request by HTTP status, "timeout" or "error".
	RecordAttempt(status string)

	// RecordCompletion records a finished Complete call; outcome is "success" or the failure kind.
	RecordCompletion(outcome string, attempts int, duration time.Duration)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordAttempt(status string)                                           {}
func (n *NoopMetrics) RecordCompletion(outcome string, attempts int, duration time.Duration) {}
