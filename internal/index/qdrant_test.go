package index

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreason-ai/catalog/internal/model"
)

func TestParseQdrantURL(t *testing.T) {
	tests := []struct {
		name    string
		rawURL  string
		host    string
		port    int
		tls     bool
		wantErr bool
	}{
		{
			name:   "https cloud URL with REST port",
			rawURL: "https://xyz.cloud.qdrant.io:6333",
			host:   "xyz.cloud.qdrant.io",
			port:   6334, // REST 6333 → gRPC 6334
			tls:    true,
		},
		{
			name:   "https cloud URL with gRPC port",
			rawURL: "https://xyz.cloud.qdrant.io:6334",
			host:   "xyz.cloud.qdrant.io",
			port:   6334,
			tls:    true,
		},
		{
			name:   "http local URL",
			rawURL: "http://localhost:6333",
			host:   "localhost",
			port:   6334,
			tls:    false,
		},
		{
			name:   "http no port defaults to 6334",
			rawURL: "http://qdrant.internal",
			host:   "qdrant.internal",
			port:   6334,
			tls:    false,
		},
		{
			name:   "custom port preserved",
			rawURL: "https://qdrant.example.com:9334",
			host:   "qdrant.example.com",
			port:   9334,
			tls:    true,
		},
		{
			name:    "empty URL",
			rawURL:  "",
			wantErr: true,
		},
		{
			name:    "garbage URL",
			rawURL:  "::::",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host, port, tls, err := parseQdrantURL(tt.rawURL)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.host, host)
			assert.Equal(t, tt.port, port)
			assert.Equal(t, tt.tls, tls)
		})
	}
}

func TestPointIDStable(t *testing.T) {
	a := pointID("urn:coreason:source:trials")
	b := pointID("urn:coreason:source:trials")
	c := pointID("urn:coreason:source:other")

	assert.Equal(t, a, b, "same urn, same point")
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 36, "uuid string form")
}

// newTestQdrantIndex creates a QdrantIndex connected to a local address.
// The connection may succeed (gRPC lazy connects) even if no server is running,
// but actual RPCs will fail. This is sufficient for testing early-return paths,
// error handling, and caching logic.
func newTestQdrantIndex(t *testing.T) *QdrantIndex {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	idx, err := NewQdrantIndex(QdrantConfig{
		URL:        "http://localhost:16334", // Non-standard port, no server running.
		Collection: "test_sources",
		Dims:       4,
	}, logger)
	require.NoError(t, err, "NewQdrantIndex should succeed (gRPC is lazy-connect)")
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestQdrantUpsertDimensionMismatch(t *testing.T) {
	idx := newTestQdrantIndex(t)

	m := manifest("urn:s:a", "EU", model.SensitivityPublic, "g1")
	err := idx.Upsert(context.Background(), m, []float32{1, 2})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestQdrantSearchInvalidFilter(t *testing.T) {
	idx := newTestQdrantIndex(t)

	bad := model.DataSensitivity("SECRET")
	_, err := idx.Search(context.Background(), []float32{1, 2, 3, 4}, Filter{Sensitivity: &bad}, 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidFilter)
}

func TestQdrantSearchZeroLimit(t *testing.T) {
	idx := newTestQdrantIndex(t)

	results, err := idx.Search(context.Background(), []float32{1, 2, 3, 4}, Filter{}, 0)
	require.NoError(t, err, "zero limit short-circuits before any RPC")
	assert.Empty(t, results)
}

func TestQdrantSearchFailsWithoutServer(t *testing.T) {
	idx := newTestQdrantIndex(t)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	_, err := idx.Search(ctx, []float32{1, 2, 3, 4}, Filter{}, 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStorage)
}

func TestQdrantUpsertFailsWithoutServer(t *testing.T) {
	idx := newTestQdrantIndex(t)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	m := manifest("urn:s:a", "EU", model.SensitivityPublic, "g1")
	err := idx.Upsert(ctx, m, []float32{1, 2, 3, 4})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStorage)
}

func TestQdrantHealthErrStoreAndLoad(t *testing.T) {
	idx := newTestQdrantIndex(t)

	assert.Nil(t, idx.loadHealthErr())

	testErr := fmt.Errorf("connection refused")
	idx.storeHealthErr(testErr)
	loaded := idx.loadHealthErr()
	require.Error(t, loaded)
	assert.Equal(t, "connection refused", loaded.Error())

	idx.storeHealthErr(nil)
	assert.Nil(t, idx.loadHealthErr())
}

func TestQdrantHealthyCachedResult(t *testing.T) {
	idx := newTestQdrantIndex(t)

	// A fresh cached healthy result is returned from the fast path without
	// any gRPC call (which would fail, since no server is running).
	idx.storeHealthErr(nil)
	idx.healthAt.Store(time.Now().UnixNano())
	assert.NoError(t, idx.Healthy(context.Background()))

	cachedErr := fmt.Errorf("index: qdrant unhealthy: previous failure")
	idx.storeHealthErr(cachedErr)
	idx.healthAt.Store(time.Now().UnixNano())

	err := idx.Healthy(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "previous failure")
}

func TestQdrantHealthyExpiredCache(t *testing.T) {
	idx := newTestQdrantIndex(t)

	idx.storeHealthErr(nil)
	idx.healthAt.Store(time.Now().Add(-10 * time.Second).UnixNano())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := idx.Healthy(ctx)
	require.Error(t, err, "expired cache triggers a real health check which fails")
	assert.Contains(t, err.Error(), "qdrant unhealthy")
}

func TestQdrantHealthyConcurrent(t *testing.T) {
	idx := newTestQdrantIndex(t)

	idx.healthAt.Store(time.Now().Add(-10 * time.Second).UnixNano())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errs := make(chan error, 10)
	for range 10 {
		go func() {
			errs <- idx.Healthy(ctx)
		}()
	}

	for range 10 {
		err := <-errs
		require.Error(t, err)
		assert.Contains(t, err.Error(), "qdrant unhealthy")
	}
}

func TestQdrantClose(t *testing.T) {
	idx := newTestQdrantIndex(t)
	assert.NoError(t, idx.Close())
}
