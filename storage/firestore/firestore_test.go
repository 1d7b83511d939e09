package firestore

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livedatabots/botrelay/pkg/quota"
)

const testProjectID = "test-project"

// setupFirestoreClient connects to the emulator named by FIRESTORE_EMULATOR_HOST
func setupFirestoreClient(t *testing.T) *firestore.Client {
	t.Helper()

	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}

	client, err := firestore.NewClient(context.Background(), testProjectID)
	if err != nil {
		t.Skipf("Firestore emulator not available: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	return client
}

func setupTestStorage(t *testing.T) *Storage {
	t.Helper()
	client := setupFirestoreClient(t)

	storage, err := New(client, Config{
		UsageCollection: fmt.Sprintf("test_daily_usage_%d", time.Now().UnixNano()),
	})
	require.NoError(t, err)
	return storage
}

func testDay() quota.Period {
	return quota.Day(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
}

func TestNew(t *testing.T) {
	_, err := New(nil, Config{})
	assert.Error(t, err)
}

func TestStorage_GetCount_CreatesDocument(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	count, err := storage.GetCount(ctx, testDay())
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	snap, err := storage.usageDoc(testDay()).Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2024-05-01", snap.Data()["date"])
}

func TestStorage_GetCount_ConcurrentFirstAccess(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			count, err := storage.GetCount(ctx, testDay())
			assert.NoError(t, err)
			assert.Equal(t, 0, count)
		}()
	}
	wg.Wait()

	docs, err := storage.client.Collection(storage.usageCollection).Documents(ctx).GetAll()
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestStorage_IncrementCount(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		count, err := storage.IncrementCount(ctx, testDay())
		require.NoError(t, err)
		assert.Equal(t, i, count)
	}
}

func TestStorage_IncrementAndCheck(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()
	limit := 1

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
}

func TestStorage_Ping(t *testing.T) {
	storage := setupTestStorage(t)
	assert.NoError(t, storage.Ping(context.Background()))
}
