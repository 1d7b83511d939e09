package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livedatabots/botrelay/pkg/api"
	"github.com/livedatabots/botrelay/pkg/completion"
	"github.com/livedatabots/botrelay/pkg/config"
	"github.com/livedatabots/botrelay/pkg/quota"
	prommetrics "github.com/livedatabots/botrelay/pkg/quota/metrics/prometheus"
	"github.com/livedatabots/botrelay/storage/memory"
)

const clientURL = "https://bots.example.com"

const chatBody = `{"messages":[{"sender":"user","text":"hello"}],"botDetails":{"responseStyle":"a pirate"}}`

// provider is a fake chat completions endpoint
type provider struct {
	status atomic.Int32
	calls  atomic.Int32
}

func (p *provider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.calls.Add(1)
	status := int(p.status.Load())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if status != http.StatusOK {
		_, _ = w.Write([]byte(`{"error":{"message":"upstream failure","type":"server_error"}}`))
		return
	}
	_, _ = w.Write([]byte(`{
		"id": "chatcmpl-1",
		"object": "chat.completion",
		"created": 1714554000,
		"model": "gpt-35-turbo",
		"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "Ahoy!"}}]
	}`))
}

type downStorage struct {
	*memory.Storage
}

func (downStorage) GetCount(context.Context, quota.Period) (int, error) {
	return 0, errors.New("connection refused")
}

func (downStorage) Ping(context.Context) error {
	return errors.New("connection refused")
}

type testServer struct {
	router   http.Handler
	gate     *quota.Gate
	provider *provider
}

func newTestServer(t *testing.T, storage quota.Storage, limit int, mode quota.Mode) *testServer {
	t.Helper()

	p := &provider{}
	p.status.Store(http.StatusOK)
	upstream := httptest.NewServer(p)
	t.Cleanup(upstream.Close)

	reg := prometheus.NewRegistry()
	metrics := prommetrics.NewMetrics(reg, "botrelay")

	gate, err := quota.NewGate(storage, quota.Config{
		DailyLimit: limit,
		Metrics:    metrics,
		Now:        func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)

	client, err := completion.New(completion.Config{
		Endpoint: upstream.URL,
		APIKey:   "test-key",
		Timeout:  5 * time.Second,
		Metrics:  metrics,
	})
	require.NoError(t, err)

	handler, err := api.NewHandler(api.Config{Gate: gate, Completer: client, StoreName: "memory"})
	require.NoError(t, err)

	return &testServer{
		router: newRouter(routerConfig{
			Handler:   handler,
			Gate:      gate,
			Mode:      mode,
			ClientURL: clientURL,
			Registry:  reg,
			Logger:    &quota.NoopLogger{},
		}),
		gate:     gate,
		provider: p,
	}
}

func (s *testServer) chat(t *testing.T) (int, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(chatBody))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var resp api.MessageResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return w.Code, resp.Message
}

func (s *testServer) count(t *testing.T) int {
	t.Helper()
	count, err := s.gate.GetTodaysCount(context.Background())
	require.NoError(t, err)
	return count
}

func TestRouter_ChatSuccess(t *testing.T) {
	s := newTestServer(t, memory.New(), 3, quota.ModeAfterSuccess)

	code, msg := s.chat(t)

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Ahoy!", msg)
	assert.Equal(t, 1, s.count(t))
}

func TestRouter_QuotaExceededSkipsProvider(t *testing.T) {
	s := newTestServer(t, memory.New(), 1, quota.ModeAfterSuccess)

	for i := 0; i < 2; i++ {
		code, msg := s.chat(t)
		require.Equal(t, http.StatusOK, code)
		require.Equal(t, "Ahoy!", msg)
	}

	code, msg := s.chat(t)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, api.MessageQuotaExceeded, msg)
	assert.Equal(t, int32(2), s.provider.calls.Load())
	assert.Equal(t, 2, s.count(t))
}

func TestRouter_ProviderFailureNotCounted(t *testing.T) {
	s := newTestServer(t, memory.New(), 3, quota.ModeAfterSuccess)
	s.provider.status.Store(http.StatusInternalServerError)

	code, msg := s.chat(t)

	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, api.MessageBotError, msg)
	assert.Equal(t, int32(1), s.provider.calls.Load())
	assert.Equal(t, 0, s.count(t))
}

func TestRouter_AtomicModeConsumesSlotOnFailure(t *testing.T) {
	s := newTestServer(t, memory.New(), 3, quota.ModeAtomic)
	s.provider.status.Store(http.StatusInternalServerError)

	code, _ := s.chat(t)

	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, 1, s.count(t))
}

func TestRouter_StoreErrorFailsClosed(t *testing.T) {
	s := newTestServer(t, downStorage{Storage: memory.New()}, 3, quota.ModeAfterSuccess)

	code, msg := s.chat(t)

	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, api.MessageUsageError, msg)
	assert.Zero(t, s.provider.calls.Load())
}

func TestRouter_InvalidBody(t *testing.T) {
	s := newTestServer(t, memory.New(), 3, quota.ModeAfterSuccess)

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/chat", bytes.NewBufferString("{not json")))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 0, s.count(t))
}

func TestRouter_DatabaseStatus(t *testing.T) {
	s := newTestServer(t, downStorage{Storage: memory.New()}, 3, quota.ModeAfterSuccess)

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/database_status", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"database":"memory","status":"OFFLINE"}`, w.Body.String())
}

func TestRouter_RequestID(t *testing.T) {
	s := newTestServer(t, memory.New(), 3, quota.ModeAfterSuccess)

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))
}

func TestRouter_Metrics(t *testing.T) {
	s := newTestServer(t, memory.New(), 3, quota.ModeAfterSuccess)
	s.chat(t)

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `botrelay_quota_decisions_total{permitted="true"} 1`)
	assert.Contains(t, w.Body.String(), "botrelay_completions_total")
}

func TestRouter_CORS(t *testing.T) {
	s := newTestServer(t, memory.New(), 3, quota.ModeAfterSuccess)

	t.Run("preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/chat", nil)
		req.Header.Set("Origin", clientURL)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, clientURL, w.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)
		assert.Equal(t, 0, s.count(t))
	})

	t.Run("allowed origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", clientURL)
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, req)

		assert.Equal(t, clientURL, w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("other origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, req)

		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestOpenStorage(t *testing.T) {
	storage, closeFn, err := openStorage(context.Background(), config.StorageConfig{Backend: config.BackendMemory})
	require.NoError(t, err)
	defer closeFn()
	assert.IsType(t, &memory.Storage{}, storage)

	_, _, err = openStorage(context.Background(), config.StorageConfig{Backend: "sqlite"})
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, newLogger(config.LogConfig{Level: "DEBUG"}).GetLevel())
	assert.Equal(t, zerolog.InfoLevel, newLogger(config.LogConfig{Level: "verbose"}).GetLevel())
	assert.Equal(t, zerolog.InfoLevel, newLogger(config.LogConfig{}).GetLevel())
}
