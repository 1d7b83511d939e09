// Package redis provides a Redis implementation of the quota.Storage interface.
// Each calendar date is a hash; reads and the atomic check run as Lua scripts.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/livedatabots/botrelay/pkg/quota"
)

const defaultKeyPrefix = "botrelay:daily_usage:"

// Storage implements quota.Storage using Redis
type Storage struct {
	client  redis.UniversalClient
	config  Config
	scripts map[string]*redis.Script
}

// Config holds Redis storage configuration
type Config struct {
	// KeyPrefix is prepended to the date key (default: "botrelay:daily_usage:")
	KeyPrefix string

	// UsageTTL is the TTL for counter keys (0 = no expiration)
	UsageTTL time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		KeyPrefix: defaultKeyPrefix,
		UsageTTL:  0, // counters are kept
	}
}

// New creates a new Redis storage adapter
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring
func New(client redis.UniversalClient, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	if config.KeyPrefix == "" {
		config.KeyPrefix = defaultKeyPrefix
	}

	s := &Storage{
		client:  client,
		config:  config,
		scripts: make(map[string]*redis.Script),
	}
	s.loadScripts()

	return s, nil
}

// loadScripts compiles the Lua scripts for atomic counter operations.
// ARGV[1] is always the current time in unix seconds, ARGV[2] the TTL in seconds.
func (s *Storage) loadScripts() {
	s.scripts["get"] = redis.NewScript(`
		local key = KEYS[1]
		if redis.call('HSETNX', key, 'count', 0) == 1 then
			redis.call('HSET', key, 'updated_at', ARGV[1])
			if tonumber(ARGV[2]) > 0 then
				redis.call('EXPIRE', key, tonumber(ARGV[2]))
			end
		end
		return tonumber(redis.call('HGET', key, 'count'))
	`)

	s.scripts["increment"] = redis.NewScript(`
		local key = KEYS[1]
		local count = redis.call('HINCRBY', key, 'count', 1)
		redis.call('HSET', key, 'updated_at', ARGV[1])
		if tonumber(ARGV[2]) > 0 then
			redis.call('EXPIRE', key, tonumber(ARGV[2]))
		end
		return count
	`)

	s.scripts["incrementAndCheck"] = redis.NewScript(`
		local key = KEYS[1]
		local limit = tonumber(ARGV[3])

		local current = tonumber(redis.call('HGET', key, 'count') or '0')
		if current > limit then
			return {current, 0}
		end

		local count = redis.call('HINCRBY', key, 'count', 1)
		redis.call('HSET', key, 'updated_at', ARGV[1])
		if tonumber(ARGV[2]) > 0 then
			redis.call('EXPIRE', key, tonumber(ARGV[2]))
		end
		return {count, 1}
	`)
}

func (s *Storage) usageKey(day quota.Period) string {
	return s.config.KeyPrefix + day.Key()
}

func (s *Storage) ttlSeconds() int64 {
	return int64(s.config.UsageTTL / time.Second)
}

// GetCount implements quota.Storage
func (s *Storage) GetCount(ctx context.Context, day quota.Period) (int, error) {
	count, err := s.scripts["get"].Run(ctx, s.client,
		[]string{s.usageKey(day)},
		time.Now().Unix(), s.ttlSeconds(),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to get usage: %w", err)
	}
	return count, nil
}

// IncrementCount implements quota.Storage
func (s *Storage) IncrementCount(ctx context.Context, day quota.Period) (int, error) {
	count, err := s.scripts["increment"].Run(ctx, s.client,
		[]string{s.usageKey(day)},
		time.Now().Unix(), s.ttlSeconds(),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to increment usage: %w", err)
	}
	return count, nil
}

// IncrementAndCheck implements quota.Storage
func (s *Storage) IncrementAndCheck(ctx context.Context, day quota.Period, limit int) (int, bool, error) {
	if limit < 0 {
		return 0, false, quota.ErrInvalidLimit
	}

	result, err := s.scripts["incrementAndCheck"].Run(ctx, s.client,
		[]string{s.usageKey(day)},
		time.Now().Unix(), s.ttlSeconds(), limit,
	).Int64Slice()
	if err != nil {
		return 0, false, fmt.Errorf("failed to reserve usage: %w", err)
	}
	if len(result) != 2 {
		return 0, false, fmt.Errorf("unexpected script result: %v", result)
	}

	return int(result[0]), result[1] == 1, nil
}

// Ping checks the Redis connection
func (s *Storage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Now implements quota.TimeSource using the Redis server clock
func (s *Storage) Now(ctx context.Context) (time.Time, error) {
	now, err := s.client.Time(ctx).Result()
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get redis time: %w", err)
	}
	return now.UTC(), nil
}
