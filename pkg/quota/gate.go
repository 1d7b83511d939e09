package quota

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const defaultClockSyncInterval = time.Minute

// Gate answers "may this request proceed?" against a shared daily counter
// and records that a permitted request proceeded.
type Gate struct {
	storage Storage
	config  Config
	logger  Logger
	metrics Metrics

	// storage clock offset, refreshed every ClockSyncInterval
	clockMu     sync.Mutex
	clockOffset time.Duration
	clockSynced time.Time
}

// NewGate creates a new gate over the given storage
func NewGate(storage Storage, config Config) (*Gate, error) {
	if storage == nil {
		return nil, fmt.Errorf("%w: storage is required", ErrStoreUnavailable)
	}
	if config.DailyLimit < 0 {
		return nil, fmt.Errorf("%w: daily limit %d", ErrInvalidLimit, config.DailyLimit)
	}

	if config.Logger == nil {
		config.Logger = &NoopLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &NoopMetrics{}
	}
	if config.ClockSyncInterval <= 0 {
		config.ClockSyncInterval = defaultClockSyncInterval
	}

	if config.CircuitBreakerConfig != nil && config.CircuitBreakerConfig.Enabled {
		metrics := config.Metrics
		logger := config.Logger
		cb := NewDefaultCircuitBreaker(
			config.CircuitBreakerConfig.FailureThreshold,
			config.CircuitBreakerConfig.ResetTimeout,
			func(state CircuitBreakerState) {
				metrics.RecordCircuitBreakerStateChange(string(state))
				logger.Warn("quota store circuit breaker state changed", F("state", string(state)))
			},
		)
		storage = NewCircuitBreakerStorage(storage, cb)
	}

	return &Gate{
		storage: storage,
		config:  config,
		logger:  config.Logger,
		metrics: config.Metrics,
	}, nil
}

// Limit returns the configured daily limit
func (g *Gate) Limit() int {
	return g.config.DailyLimit
}

// Today returns the current UTC day as seen by the gate
func (g *Gate) Today(ctx context.Context) Period {
	return Day(g.now(ctx))
}

func (g *Gate) now(ctx context.Context) time.Time {
	if g.config.Now != nil {
		return g.config.Now().UTC()
	}
	ts, ok := g.storage.(TimeSource)
	if !ok {
		return time.Now().UTC()
	}

	local := time.Now()
	g.clockMu.Lock()
	defer g.clockMu.Unlock()

	if !g.clockSynced.IsZero() && local.Sub(g.clockSynced) < g.config.ClockSyncInterval {
		return local.Add(g.clockOffset).UTC()
	}

	remote, err := ts.Now(ctx)
	if err != nil {
		g.logger.Warn("storage clock unavailable, using last known offset",
			F("offset", g.clockOffset.String()),
			F("error", err),
		)
		return local.Add(g.clockOffset).UTC()
	}
	g.clockOffset = remote.Sub(local)
	g.clockSynced = local
	return remote.UTC()
}

// GetTodaysCount returns the number of requests recorded for the current day.
// The counter is created with 0 on first access.
func (g *Gate) GetTodaysCount(ctx context.Context) (int, error) {
	day := g.Today(ctx)
	count, err := g.getCount(ctx, day)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// IncrementTodaysCount records one more request for the current day.
// It does not require a prior GetTodaysCount.
func (g *Gate) IncrementTodaysCount(ctx context.Context) error {
	day := g.Today(ctx)

	start := time.Now()
	count, err := g.storage.IncrementCount(ctx, day)
	g.metrics.RecordStorageOperation("increment_count", time.Since(start), err)
	if err != nil {
		g.logger.Error("failed to increment daily usage", F("date", day.Key()), F("error", err))
		return storeError("increment_count", day, err)
	}

	g.metrics.RecordIncrement(count)
	g.logger.Debug("daily usage incremented", F("date", day.Key()), F("count", count))
	return nil
}

// CheckAndReserve reads today's count and permits the request unless the count
// already exceeds limit. Nothing is written; the caller records a permitted
// request with IncrementTodaysCount once the gated action has succeeded.
func (g *Gate) CheckAndReserve(ctx context.Context, limit int) (*Decision, error) {
	if limit < 0 {
		return nil, ErrInvalidLimit
	}

	day := g.Today(ctx)
	count, err := g.getCount(ctx, day)
	if err != nil {
		return nil, err
	}

	decision := &Decision{
		Permitted:    count <= limit,
		CurrentCount: count,
		Limit:        limit,
		Period:       day,
	}
	g.record(decision)
	return decision, nil
}

// IncrementAndCheck performs the check and the increment as one atomic storage
// operation. A permitted decision has already consumed its slot.
func (g *Gate) IncrementAndCheck(ctx context.Context, limit int) (*Decision, error) {
	if limit < 0 {
		return nil, ErrInvalidLimit
	}

	day := g.Today(ctx)

	start := time.Now()
	count, permitted, err := g.storage.IncrementAndCheck(ctx, day, limit)
	g.metrics.RecordStorageOperation("increment_and_check", time.Since(start), err)
	if err != nil {
		g.logger.Error("failed to reserve daily usage", F("date", day.Key()), F("error", err))
		return nil, storeError("increment_and_check", day, err)
	}

	decision := &Decision{
		Permitted:    permitted,
		CurrentCount: count,
		Limit:        limit,
		Period:       day,
		Reserved:     permitted,
	}
	if permitted {
		g.metrics.RecordIncrement(count)
	}
	g.record(decision)
	return decision, nil
}

// Check is CheckAndReserve against the configured daily limit
func (g *Gate) Check(ctx context.Context) (*Decision, error) {
	return g.CheckAndReserve(ctx, g.config.DailyLimit)
}

// Reserve is IncrementAndCheck against the configured daily limit
func (g *Gate) Reserve(ctx context.Context) (*Decision, error) {
	return g.IncrementAndCheck(ctx, g.config.DailyLimit)
}

// Ping checks that the counter storage is reachable
func (g *Gate) Ping(ctx context.Context) error {
	start := time.Now()
	err := g.storage.Ping(ctx)
	g.metrics.RecordStorageOperation("ping", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (g *Gate) getCount(ctx context.Context, day Period) (int, error) {
	start := time.Now()
	count, err := g.storage.GetCount(ctx, day)
	g.metrics.RecordStorageOperation("get_count", time.Since(start), err)
	if err != nil {
		g.logger.Error("failed to read daily usage", F("date", day.Key()), F("error", err))
		return 0, storeError("get_count", day, err)
	}
	return count, nil
}

func (g *Gate) record(d *Decision) {
	g.metrics.RecordDecision(d.Permitted, d.CurrentCount)
	if !d.Permitted {
		g.logger.Info("daily chat limit reached",
			F("date", d.Period.Key()),
			F("count", d.CurrentCount),
			F("limit", d.Limit),
		)
	}
}
