// Package postgres provides a PostgreSQL implementation of the quota.Storage interface.
// Counters live in a single table keyed by calendar date; the atomic check uses a
// transaction with SELECT FOR UPDATE.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/livedatabots/botrelay/pkg/quota"
)

// DefaultTable is the table holding one row per calendar date
const DefaultTable = "daily_usage"

// Storage implements quota.Storage using PostgreSQL
type Storage struct {
	pool   *pgxpool.Pool
	config Config
	table  string
}

// Config holds PostgreSQL storage configuration
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// Table overrides the counter table name (default: daily_usage)
	Table string

	// AutoMigrate creates the counter table on startup when it does not exist
	AutoMigrate bool

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		Table:           DefaultTable,
		AutoMigrate:     true,
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// New creates a new PostgreSQL storage adapter
func New(ctx context.Context, config Config) (*Storage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}
	if config.Table == "" {
		config.Table = DefaultTable
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Storage{
		pool:   pool,
		config: config,
		table:  pgx.Identifier{config.Table}.Sanitize(),
	}

	if config.AutoMigrate {
		if err := s.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}

	return s, nil
}

// Close closes the PostgreSQL connection pool
func (s *Storage) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Migrate creates the counter table if it does not exist
func (s *Storage) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			usage_date  DATE PRIMARY KEY,
			usage_count INTEGER NOT NULL DEFAULT 0 CHECK (usage_count >= 0),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, s.table))
	if err != nil {
		return fmt.Errorf("failed to create %s table: %w", s.config.Table, err)
	}
	return nil
}

// GetCount implements quota.Storage
func (s *Storage) GetCount(ctx context.Context, day quota.Period) (int, error) {
	// Upsert first so concurrent first readers converge on one row
	_, err := s.pool.Exec(ctx, fmt.Sprintf(
		`INSERT INTO %s (usage_date, usage_count, updated_at)
			VALUES ($1::date, 0, NOW())
			ON CONFLICT (usage_date) DO NOTHING`, s.table),
		day.Key())
	if err != nil {
		return 0, fmt.Errorf("failed to ensure usage row exists: %w", err)
	}

	var count int32
	err = s.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT usage_count FROM %s WHERE usage_date = $1::date`, s.table),
		day.Key()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get usage: %w", err)
	}

	return int(count), nil
}

// IncrementCount implements quota.Storage
func (s *Storage) IncrementCount(ctx context.Context, day quota.Period) (int, error) {
	var count int32
	err := s.pool.QueryRow(ctx, fmt.Sprintf(
		`INSERT INTO %[1]s AS u (usage_date, usage_count, updated_at)
			VALUES ($1::date, 1, NOW())
			ON CONFLICT (usage_date) DO UPDATE SET
				usage_count = u.usage_count + 1,
				updated_at = NOW()
			RETURNING usage_count`, s.table),
		day.Key()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to increment usage: %w", err)
	}

	return int(count), nil
}

// IncrementAndCheck implements quota.Storage
func (s *Storage) IncrementAndCheck(ctx context.Context, day quota.Period, limit int) (int, bool, error) {
	if limit < 0 {
		return 0, false, quota.ErrInvalidLimit
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		//nolint:errcheck // Rollback error is safe to ignore if transaction was committed
		_ = tx.Rollback(ctx)
	}()

	_, err = tx.Exec(ctx, fmt.Sprintf(
		`INSERT INTO %s (usage_date, usage_count, updated_at)
			VALUES ($1::date, 0, NOW())
			ON CONFLICT (usage_date) DO NOTHING`, s.table),
		day.Key())
	if err != nil {
		return 0, false, fmt.Errorf("failed to ensure usage row exists: %w", err)
	}

	// Row is guaranteed to exist; lock it for the rest of the transaction
	var current int32
	err = tx.QueryRow(ctx, fmt.Sprintf(
		`SELECT usage_count FROM %s WHERE usage_date = $1::date FOR UPDATE`, s.table),
		day.Key()).Scan(&current)
	if err != nil {
		return 0, false, fmt.Errorf("failed to get usage for update: %w", err)
	}

	if int(current) > limit {
		return int(current), false, nil
	}

	var updated int32
	err = tx.QueryRow(ctx, fmt.Sprintf(
		`UPDATE %s SET usage_count = usage_count + 1, updated_at = NOW()
			WHERE usage_date = $1::date
			RETURNING usage_count`, s.table),
		day.Key()).Scan(&updated)
	if err != nil {
		return 0, false, fmt.Errorf("failed to update usage: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return 0, false, fmt.Errorf("failed to commit: %w", err)
	}

	return int(updated), true, nil
}

// Usage returns the stored counter for day, or nil when none exists yet.
// Unlike GetCount it never creates a row.
func (s *Storage) Usage(ctx context.Context, day quota.Period) (*quota.DailyUsage, error) {
	var (
		date      time.Time
		count     int32
		updatedAt time.Time
	)
	err := s.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT usage_date, usage_count, updated_at FROM %s WHERE usage_date = $1::date`, s.table),
		day.Key()).Scan(&date, &count, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get usage: %w", err)
	}

	return &quota.DailyUsage{
		Date:      date.Format("2006-01-02"),
		Count:     int(count),
		UpdatedAt: updatedAt.UTC(),
	}, nil
}

// Ping checks the PostgreSQL connection
func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Now implements quota.TimeSource using the database clock
func (s *Storage) Now(ctx context.Context) (time.Time, error) {
	var now time.Time
	if err := s.pool.QueryRow(ctx, `SELECT NOW()`).Scan(&now); err != nil {
		return time.Time{}, fmt.Errorf("failed to get database time: %w", err)
	}
	return now.UTC(), nil
}
