//go:build integration

package index

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreason-ai/catalog/internal/model"
	"github.com/coreason-ai/catalog/internal/testutil"
)

var testDSN string

func TestMain(m *testing.M) {
	tc := testutil.MustStartPostgres()
	testDSN = tc.DSN
	code := m.Run()
	tc.Terminate()
	os.Exit(code)
}

func newTestPostgres(t *testing.T, dims int) *PostgresIndex {
	t.Helper()
	idx, err := NewPostgresIndex(context.Background(), testDSN, dims, testutil.TestLogger())
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = idx.pool.Exec(context.Background(), `DROP TABLE IF EXISTS sources`)
		_ = idx.Close()
	})
	return idx
}

func TestPostgresUpsertAndSearch(t *testing.T) {
	idx := newTestPostgres(t, 3)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, manifest("urn:s:a", "EU", model.SensitivityPublic, "g1"), []float32{1, 0, 0}))
	require.NoError(t, idx.Upsert(ctx, manifest("urn:s:b", "US", model.SensitivityPII, "g2"), []float32{0, 1, 0}))
	require.NoError(t, idx.Upsert(ctx, manifest("urn:s:c", "EU", model.SensitivityPII, "g1"), []float32{0.9, 0.1, 0}))

	results, err := idx.Search(ctx, []float32{1, 0, 0}, Filter{}, 10)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "urn:s:a", results[0].Manifest.URN, "closest match first")
	assert.Equal(t, "urn:s:c", results[1].Manifest.URN)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestPostgresSearchFilters(t *testing.T) {
	idx := newTestPostgres(t, 2)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, manifest("urn:s:a", "EU", model.SensitivityPII, "g1"), []float32{1, 0}))
	require.NoError(t, idx.Upsert(ctx, manifest("urn:s:b", "US", model.SensitivityPII, "g1"), []float32{1, 0}))
	require.NoError(t, idx.Upsert(ctx, manifest("urn:s:c", "EU", model.SensitivityPublic, "g2"), []float32{1, 0}))

	geo := "EU"
	results, err := idx.Search(ctx, []float32{1, 0}, Filter{GeoLocation: &geo}, 10)
	require.NoError(t, err)
	require.Len(t, results, 2)

	pii := model.SensitivityPII
	results, err = idx.Search(ctx, []float32{1, 0}, Filter{GeoLocation: &geo, Sensitivity: &pii}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "urn:s:a", results[0].Manifest.URN)
}

func TestPostgresUpsertReplaces(t *testing.T) {
	idx := newTestPostgres(t, 2)
	ctx := context.Background()

	m := manifest("urn:s:a", "EU", model.SensitivityPublic, "g1")
	require.NoError(t, idx.Upsert(ctx, m, []float32{1, 0}))

	m.Description = "updated"
	require.NoError(t, idx.Upsert(ctx, m, []float32{0, 1}))

	results, err := idx.Search(ctx, []float32{0, 1}, Filter{}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1, "same urn replaced, not duplicated")
	assert.Equal(t, "updated", results[0].Manifest.Description)
}

func TestPostgresSearchLimit(t *testing.T) {
	idx := newTestPostgres(t, 2)
	ctx := context.Background()

	for i := range 5 {
		urn := fmt.Sprintf("urn:s:%d", i)
		require.NoError(t, idx.Upsert(ctx, manifest(urn, "EU", model.SensitivityPublic, "g1"), []float32{1, 0}))
	}

	results, err := idx.Search(ctx, []float32{1, 0}, Filter{}, 3)
	require.NoError(t, err)
	assert.Len(t, results, 3)
}

func TestPostgresDimensionMismatch(t *testing.T) {
	idx := newTestPostgres(t, 3)
	ctx := context.Background()

	err := idx.Upsert(ctx, manifest("urn:s:a", "EU", model.SensitivityPublic, "g1"), []float32{1, 0})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestPostgresHealthy(t *testing.T) {
	idx := newTestPostgres(t, 2)
	assert.NoError(t, idx.Healthy(context.Background()))
}
