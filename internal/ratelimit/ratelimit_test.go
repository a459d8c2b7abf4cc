package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLimiterBurst(t *testing.T) {
	m := NewMemoryLimiter(1, 3)
	defer m.Close()
	ctx := context.Background()

	for i := range 3 {
		ok, err := m.Allow(ctx, "k")
		require.NoError(t, err)
		assert.True(t, ok, "request %d within burst", i)
	}

	ok, err := m.Allow(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok, "burst exhausted")
}

func TestMemoryLimiterKeysAreIndependent(t *testing.T) {
	m := NewMemoryLimiter(1, 1)
	defer m.Close()
	ctx := context.Background()

	ok, _ := m.Allow(ctx, "a")
	assert.True(t, ok)
	ok, _ = m.Allow(ctx, "a")
	assert.False(t, ok, "a is exhausted")

	ok, _ = m.Allow(ctx, "b")
	assert.True(t, ok, "b has its own bucket")
}

func TestMemoryLimiterRefill(t *testing.T) {
	m := NewMemoryLimiter(1000, 1)
	defer m.Close()
	ctx := context.Background()

	ok, _ := m.Allow(ctx, "k")
	require.True(t, ok)
	ok, _ = m.Allow(ctx, "k")
	require.False(t, ok)

	// At 1000 tokens/s a token is back within a few milliseconds.
	assert.Eventually(t, func() bool {
		ok, _ := m.Allow(ctx, "k")
		return ok
	}, 100*time.Millisecond, time.Millisecond)
}

func TestMemoryLimiterEvictStale(t *testing.T) {
	m := NewMemoryLimiter(1, 1)
	defer m.Close()

	_, _ = m.Allow(context.Background(), "k")
	m.mu.Lock()
	m.buckets["k"].lastSeen = m.buckets["k"].lastSeen.Add(-2 * staleAfter)
	m.mu.Unlock()

	m.evictStale()

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Empty(t, m.buckets)
}

func TestMemoryLimiterCloseIdempotent(t *testing.T) {
	m := NewMemoryLimiter(1, 1)
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
}

func TestNoopLimiter(t *testing.T) {
	var l NoopLimiter
	ok, err := l.Allow(context.Background(), "anything")
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, l.Close())
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddlewareAllows(t *testing.T) {
	m := NewMemoryLimiter(1, 10)
	defer m.Close()
	h := Middleware(m, IPKeyFunc)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/v1/query", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddlewareRejects(t *testing.T) {
	m := NewMemoryLimiter(0.001, 1)
	defer m.Close()
	h := Middleware(m, IPKeyFunc)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/v1/query", nil)
	req.RemoteAddr = "10.0.0.1:1234"

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "too many requests")
}

func TestMiddlewareNilLimiterPassesThrough(t *testing.T) {
	h := Middleware(nil, IPKeyFunc)(okHandler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddlewareEmptyKeySkips(t *testing.T) {
	m := NewMemoryLimiter(0.001, 1)
	defer m.Close()
	skipAll := func(*http.Request) string { return "" }
	h := Middleware(m, skipAll)(okHandler())

	for range 5 {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestIPKeyFunc(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.7:5555"
	assert.Equal(t, "192.0.2.7", IPKeyFunc(r))

	r.RemoteAddr = "[::1]:5555"
	assert.Equal(t, "[::1]", IPKeyFunc(r))
}
