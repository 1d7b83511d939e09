package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livedatabots/botrelay/pkg/quota"
)

// setupTestRedis creates a Redis client for testing
// Requires Redis running on localhost:6379
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // Use DB 15 for testing
	})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test database: %v", err)
	}

	return client
}

func testDay() quota.Period {
	return quota.Day(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		client  redis.UniversalClient
		config  Config
		wantErr bool
		prefix  string
	}{
		{
			name:    "nil client",
			config:  DefaultConfig(),
			wantErr: true,
		},
		{
			name:   "default config",
			client: redis.NewClient(&redis.Options{Addr: "localhost:6379"}),
			config: DefaultConfig(),
			prefix: "botrelay:daily_usage:",
		},
		{
			name:   "empty prefix falls back to default",
			client: redis.NewClient(&redis.Options{Addr: "localhost:6379"}),
			config: Config{},
			prefix: "botrelay:daily_usage:",
		},
		{
			name:   "custom prefix",
			client: redis.NewClient(&redis.Options{Addr: "localhost:6379"}),
			config: Config{KeyPrefix: "test:"},
			prefix: "test:",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			storage, err := New(tt.client, tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.prefix+"2024-05-01", storage.usageKey(testDay()))
		})
	}
}

func TestStorage_GetCount_CreatesKey(t *testing.T) {
	client := setupTestRedis(t)
	storage, err := New(client, DefaultConfig())
	require.NoError(t, err)
	ctx := context.Background()

	count, err := storage.GetCount(ctx, testDay())
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	stored, err := client.HGet(ctx, "botrelay:daily_usage:2024-05-01", "count").Int()
	require.NoError(t, err)
	assert.Equal(t, 0, stored)
}

func TestStorage_IncrementCount_Concurrent(t *testing.T) {
	client := setupTestRedis(t)
	storage, err := New(client, DefaultConfig())
	require.NoError(t, err)
	ctx := context.Background()

	const k = 50
	var wg sync.WaitGroup
	for i := 0; i < k; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := storage.IncrementCount(ctx, testDay())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	count, err := storage.GetCount(ctx, testDay())
	require.NoError(t, err)
	assert.Equal(t, k, count)
}

func TestStorage_IncrementAndCheck(t *testing.T) {
	client := setupTestRedis(t)
	storage, err := New(client, DefaultConfig())
	require.NoError(t, err)
	ctx := context.Background()
	limit := 2

	for want := 1; want <= limit+1; want++ {
		count, ok, err := storage.IncrementAndCheck(ctx, testDay(), limit)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, want, count)
	}

	count, ok, err := storage.IncrementAndCheck(ctx, testDay(), limit)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, limit+1, count)

	count, err = storage.GetCount(ctx, testDay())
	require.NoError(t, err)
	assert.Equal(t, limit+1, count)
}

func TestStorage_UsageTTL(t *testing.T) {
	client := setupTestRedis(t)
	storage, err := New(client, Config{UsageTTL: time.Hour})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = storage.IncrementCount(ctx, testDay())
	require.NoError(t, err)

	ttl, err := client.TTL(ctx, storage.usageKey(testDay())).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}

func TestStorage_Now(t *testing.T) {
	client := setupTestRedis(t)
	storage, err := New(client, DefaultConfig())
	require.NoError(t, err)

	now, err := storage.Now(context.Background())
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), now, 5*time.Second)
}
