package main

import (
	"context"
	"fmt"

	gcfirestore "cloud.google.com/go/firestore"
	goredis "github.com/redis/go-redis/v9"

	"github.com/livedatabots/botrelay/pkg/config"
	"github.com/livedatabots/botrelay/pkg/quota"
	"github.com/livedatabots/botrelay/storage/firestore"
	"github.com/livedatabots/botrelay/storage/memory"
	"github.com/livedatabots/botrelay/storage/postgres"
	"github.com/livedatabots/botrelay/storage/redis"
)

// openStorage connects the configured counter store. The returned func
// releases its connections.
func openStorage(ctx context.Context, cfg config.StorageConfig) (quota.Storage, func(), error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return memory.New(), func() {}, nil

	case config.BackendPostgres:
		pgConfig := postgres.DefaultConfig()
		pgConfig.ConnectionString = cfg.DatabaseURL
		storage, err := postgres.New(ctx, pgConfig)
		if err != nil {
			return nil, nil, err
		}
		return storage, storage.Close, nil

	case config.BackendRedis:
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		storage, err := redis.New(client, redis.DefaultConfig())
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return storage, func() { _ = client.Close() }, nil

	case config.BackendFirestore:
		client, err := gcfirestore.NewClient(ctx, cfg.FirestoreProjectID)
		if err != nil {
			return nil, nil, err
		}
		storage, err := firestore.New(client, firestore.Config{})
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return storage, func() { _ = client.Close() }, nil
	}

	return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
}
