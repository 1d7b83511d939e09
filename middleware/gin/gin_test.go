package gin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	gongin "github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livedatabots/botrelay/pkg/api"
	"github.com/livedatabots/botrelay/pkg/quota"
	"github.com/livedatabots/botrelay/storage/memory"
)

func init() {
	gongin.SetMode(gongin.TestMode)
}

type errorStorage struct {
	*memory.Storage
}

func (s *errorStorage) GetCount(context.Context, quota.Period) (int, error) {
	return 0, errors.New("connection refused")
}

func setupTestGate(t *testing.T, storage quota.Storage, limit int) *quota.Gate {
	t.Helper()
	gate, err := quota.NewGate(storage, quota.Config{
		DailyLimit: limit,
		Now:        func() time.Time { return time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	return gate
}

func setupRouter(cfg Config, status int, calls *int) *gongin.Engine {
	r := gongin.New()
	r.Use(Middleware(cfg))
	r.POST("/chat", func(c *gongin.Context) {
		*calls++
		c.JSON(status, api.MessageResponse{Message: "reply"})
	})
	return r
}

func do(r http.Handler) (*httptest.ResponseRecorder, string) {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/chat", nil))
	var resp api.MessageResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return w, resp.Message
}

func todaysCount(t *testing.T, gate *quota.Gate) int {
	t.Helper()
	count, err := gate.GetTodaysCount(context.Background())
	require.NoError(t, err)
	return count
}

func TestMiddleware_PanicsWithoutGate(t *testing.T) {
	assert.PanicsWithValue(t, "botrelay/gin: Config.Gate is required", func() { Middleware(Config{}) })
}

func TestMiddleware_Success(t *testing.T) {
	gate := setupTestGate(t, memory.New(), 5)
	calls := 0
	r := setupRouter(Config{Gate: gate}, http.StatusOK, &calls)

	w, msg := do(r)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "reply", msg)
	assert.Equal(t, "5", w.Header().Get("X-Quota-Limit"))
	assert.Equal(t, "5", w.Header().Get("X-Quota-Remaining"))
	assert.Equal(t, 1, todaysCount(t, gate))
}

func TestMiddleware_FailureNotCounted(t *testing.T) {
	gate := setupTestGate(t, memory.New(), 5)
	calls := 0
	r := setupRouter(Config{Gate: gate}, http.StatusInternalServerError, &calls)

	w, _ := do(r)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, todaysCount(t, gate))
}

func TestMiddleware_QuotaExceeded(t *testing.T) {
	gate := setupTestGate(t, memory.New(), 1)
	calls := 0
	r := setupRouter(Config{Gate: gate}, http.StatusOK, &calls)

	do(r)
	do(r)
	w, msg := do(r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, api.MessageQuotaExceeded, msg)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 2, todaysCount(t, gate))
}

func TestMiddleware_StoreError(t *testing.T) {
	gate := setupTestGate(t, &errorStorage{Storage: memory.New()}, 5)
	calls := 0
	r := setupRouter(Config{Gate: gate}, http.StatusOK, &calls)

	w, msg := do(r)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, api.MessageUsageError, msg)
	assert.Zero(t, calls)
}

func TestMiddleware_CustomHandlers(t *testing.T) {
	gate := setupTestGate(t, &errorStorage{Storage: memory.New()}, 5)
	var got error
	r := setupRouter(Config{
		Gate: gate,
		OnError: func(c *gongin.Context, err error) {
			got = err
			c.Status(http.StatusServiceUnavailable)
		},
	}, http.StatusOK, new(int))

	w, _ := do(r)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.ErrorIs(t, got, quota.ErrStoreUnavailable)

	gate = setupTestGate(t, memory.New(), 0)
	require.NoError(t, gate.IncrementTodaysCount(context.Background()))
	r = setupRouter(Config{
		Gate: gate,
		OnQuotaExceeded: func(c *gongin.Context, d *quota.Decision) {
			c.JSON(http.StatusTooManyRequests, gongin.H{"count": d.CurrentCount})
		},
	}, http.StatusOK, new(int))

	w, _ = do(r)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.JSONEq(t, `{"count":1}`, w.Body.String())
}

func TestMiddleware_AtomicMode(t *testing.T) {
	gate := setupTestGate(t, memory.New(), 0)
	calls := 0
	r := setupRouter(Config{Gate: gate, Mode: quota.ModeAtomic}, http.StatusBadGateway, &calls)

	w, _ := do(r)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, 1, todaysCount(t, gate))

	_, msg := do(r)
	assert.Equal(t, api.MessageQuotaExceeded, msg)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, todaysCount(t, gate))
}

func TestGetDecision(t *testing.T) {
	gate := setupTestGate(t, memory.New(), 5)
	r := gongin.New()
	r.Use(Middleware(Config{Gate: gate}))

	var (
		got *quota.Decision
		ok  bool
	)
	r.POST("/chat", func(c *gongin.Context) {
		got, ok = GetDecision(c)
		c.Status(http.StatusNoContent)
	})

	do(r)
	require.True(t, ok)
	assert.Equal(t, 5, got.Limit)
	assert.Equal(t, 1, todaysCount(t, gate))
}

type writeFailStorage struct {
	*memory.Storage
}

func (s *writeFailStorage) IncrementCount(context.Context, quota.Period) (int, error) {
	return 0, errors.New("disk full")
}

func TestMiddleware_IncrementFailureWithholdsReply(t *testing.T) {
	gate := setupTestGate(t, &writeFailStorage{Storage: memory.New()}, 1)
	calls := 0
	r := setupRouter(Config{Gate: gate}, http.StatusOK, &calls)

	for i := 0; i < 3; i++ {
		w, msg := do(r)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, api.MessageUsageError, msg)
	}
	assert.Equal(t, 3, calls)
}

func TestMiddleware_FailedReplyFlushed(t *testing.T) {
	gate := setupTestGate(t, &writeFailStorage{Storage: memory.New()}, 1)
	r := setupRouter(Config{Gate: gate}, http.StatusBadGateway, new(int))

	w, msg := do(r)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "reply", msg)
}
