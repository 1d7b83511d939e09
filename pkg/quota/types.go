package quota

import (
	"time"
)

// Mode selects when the gate records a permitted request
type Mode string

const (
	// ModeAfterSuccess checks the counter before the gated action and increments it only
	// after the action succeeded. Concurrent requests may over-admit by up to N-1.
	ModeAfterSuccess Mode = "after_success"
	// ModeAtomic reserves a slot with a single increment-and-check before the gated action.
	// A failed action still consumes the reserved slot.
	ModeAtomic Mode = "atomic"
)

// dateLayout is the stable key format for a counter date
const dateLayout = "2006-01-02"

// Period represents a single UTC calendar day
type Period struct {
	Start time.Time
	End   time.Time
}

// Day returns the UTC calendar day containing t
func Day(t time.Time) Period {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return Period{
		Start: start,
		End:   start.AddDate(0, 0, 1),
	}
}

// Key returns a stable string key for this period
func (p Period) Key() string {
	return p.Start.UTC().Format(dateLayout)
}

// Contains reports whether t falls inside the period
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

// DailyUsage is the persisted number of chat completions served on one date
type DailyUsage struct {
	Date      string
	Count     int
	UpdatedAt time.Time
}

// Decision is the transient result of a quota check. It is never persisted.
type Decision struct {
	// Permitted reports whether the gated action may proceed
	Permitted bool

	// CurrentCount is the counter value observed (or produced, for atomic reservations)
	CurrentCount int

	// Limit is the daily allowance the decision was made against
	Limit int

	// Period is the day the decision applies to
	Period Period

	// Reserved is true when the counter was already incremented for this request
	Reserved bool
}

// Remaining returns how many more requests the limit admits today once this
// request is counted (never negative)
func (d *Decision) Remaining() int {
	remaining := d.Limit - d.CurrentCount + 1
	if d.Permitted && !d.Reserved {
		remaining--
	}
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ResetAt returns when the counter rolls over
func (d *Decision) ResetAt() time.Time {
	return d.Period.End
}

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	// Enabled determines if the circuit breaker is active
	Enabled bool

	// FailureThreshold is the number of consecutive failures before opening the circuit (default: 5)
	FailureThreshold int

	// ResetTimeout is the duration to wait before transitioning from Open to Half-Open (default: 30 seconds)
	ResetTimeout time.Duration
}

// Config holds gate configuration
type Config struct {
	// DailyLimit is the daily chat allowance used by Check and Reserve
	DailyLimit int

	// Now overrides the clock used to pick the current day.
	// If nil, the storage time is used when the storage implements TimeSource,
	// otherwise the local clock.
	Now func() time.Time

	// ClockSyncInterval is how long an offset read from the storage clock is
	// reused before the storage is asked again (default: 1 minute)
	ClockSyncInterval time.Duration

	// Metrics is used for tracking gate operations (default: NoopMetrics)
	Metrics Metrics

	// Logger is used for structured logging (default: NoopLogger)
	Logger Logger

	// CircuitBreakerConfig wraps the storage in a circuit breaker when enabled
	CircuitBreakerConfig *CircuitBreakerConfig
}
