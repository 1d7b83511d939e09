// Package firestore provides a Firestore implementation of the quota.Storage interface.
// Each calendar date is one document whose ID is the date key.
package firestore

import (
	"context"
	"fmt"
	"math"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/livedatabots/botrelay/pkg/quota"
)

const (
	defaultUsageCollection = "daily_usage"

	// pingDocument is read by Ping; it never needs to exist
	pingDocument = "_ping"
)

// Storage implements quota.Storage using Google Cloud Firestore
type Storage struct {
	client          *firestore.Client
	usageCollection string
}

// Config holds Firestore storage configuration
type Config struct {
	// UsageCollection is the Firestore collection for daily counters
	// Default: "daily_usage"
	UsageCollection string
}

// New creates a new Firestore storage adapter
func New(client *firestore.Client, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client is required")
	}

	if config.UsageCollection == "" {
		config.UsageCollection = defaultUsageCollection
	}

	return &Storage{
		client:          client,
		usageCollection: config.UsageCollection,
	}, nil
}

// GetCount implements quota.Storage
func (s *Storage) GetCount(ctx context.Context, day quota.Period) (int, error) {
	doc := s.usageDoc(day)
	var count int

	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(doc)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		if snap != nil && snap.Exists() {
			count = getInt(snap.Data(), "count")
			return nil
		}

		count = 0
		return tx.Create(doc, map[string]interface{}{
			"date":      day.Key(),
			"count":     0,
			"updatedAt": time.Now().UTC(),
		})
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get usage: %w", err)
	}

	return count, nil
}

// IncrementCount implements quota.Storage
func (s *Storage) IncrementCount(ctx context.Context, day quota.Period) (int, error) {
	doc := s.usageDoc(day)
	var count int

	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		current, err := getCount(tx, doc)
		if err != nil {
			return err
		}

		count = current + 1
		return tx.Set(doc, map[string]interface{}{
			"date":      day.Key(),
			"count":     count,
			"updatedAt": time.Now().UTC(),
		}, firestore.MergeAll)
	})
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

	doc := s.usageDoc(day)
	var (
		count   int
		allowed bool
	)

	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		current, err := getCount(tx, doc)
		if err != nil {
			return err
		}

		// results are reset because the transaction may be retried
		if current > limit {
			count, allowed = current, false
			return nil
		}

		count, allowed = current+1, true
		return tx.Set(doc, map[string]interface{}{
			"date":      day.Key(),
			"count":     count,
			"updatedAt": time.Now().UTC(),
		}, firestore.MergeAll)
	})
	if err != nil {
		return 0, false, fmt.Errorf("failed to reserve usage: %w", err)
	}

	return count, allowed, nil
}

// Ping reads a sentinel document; a missing document still proves connectivity
func (s *Storage) Ping(ctx context.Context) error {
	_, err := s.client.Collection(s.usageCollection).Doc(pingDocument).Get(ctx)
	if err != nil && status.Code(err) != codes.NotFound {
		return err
	}
	return nil
}

func (s *Storage) usageDoc(day quota.Period) *firestore.DocumentRef {
	return s.client.Collection(s.usageCollection).Doc(day.Key())
}

func getCount(tx *firestore.Transaction, doc *firestore.DocumentRef) (int, error) {
	snap, err := tx.Get(doc)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return 0, nil
		}
		return 0, err
	}
	if !snap.Exists() {
		return 0, nil
	}
	return getInt(snap.Data(), "count"), nil
}

func getInt(data map[string]interface{}, key string) int {
	switch v := data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(math.Round(v))
	default:
		return 0
	}
}
