package registry

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreason-ai/catalog/internal/embedding"
	"github.com/coreason-ai/catalog/internal/index"
	"github.com/coreason-ai/catalog/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeIndex struct {
	upserts []model.SourceManifest
	vecs    [][]float32
	err     error
}

func (f *fakeIndex) Upsert(_ context.Context, m model.SourceManifest, vec []float32) error {
	if f.err != nil {
		return f.err
	}
	f.upserts = append(f.upserts, m)
	f.vecs = append(f.vecs, vec)
	return nil
}

func (f *fakeIndex) Search(_ context.Context, _ []float32, _ index.Filter, _ int) ([]index.Result, error) {
	return nil, nil
}
func (f *fakeIndex) Healthy(_ context.Context) error { return nil }
func (f *fakeIndex) Close() error                    { return nil }

type failingEmbedder struct{}

func (failingEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return nil, embedding.ErrEmbeddingFailed
}
func (failingEmbedder) EmbedBatch(_ context.Context, _ []string) ([][]float32, error) {
	return nil, embedding.ErrEmbeddingFailed
}
func (failingEmbedder) Dimensions() int { return 8 }

func validManifest() model.SourceManifest {
	return model.SourceManifest{
		URN:         "urn:coreason:source:trials",
		Name:        "Trials",
		Description: "Oncology trial results",
		EndpointURL: "sse://trials:8001/query",
		GeoLocation: "EU",
		Sensitivity: model.SensitivityInternal,
		OwnerGroup:  "data-office",
	}
}

func TestRegister(t *testing.T) {
	idx := &fakeIndex{}
	reg := New(idx, embedding.NewHashProvider(8), testLogger())

	require.NoError(t, reg.Register(context.Background(), validManifest()))
	require.Len(t, idx.upserts, 1)
	assert.Equal(t, "urn:coreason:source:trials", idx.upserts[0].URN)
	assert.Len(t, idx.vecs[0], 8)
}

func TestRegisterInvalidManifest(t *testing.T) {
	idx := &fakeIndex{}
	reg := New(idx, embedding.NewHashProvider(8), testLogger())

	m := validManifest()
	m.Sensitivity = "TOP_SECRET"
	err := reg.Register(context.Background(), m)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidManifest)
	assert.Empty(t, idx.upserts, "invalid manifest never reaches the index")
}

func TestRegisterEmbeddingFailure(t *testing.T) {
	idx := &fakeIndex{}
	reg := New(idx, failingEmbedder{}, testLogger())

	err := reg.Register(context.Background(), validManifest())
	require.Error(t, err)
	assert.ErrorIs(t, err, embedding.ErrEmbeddingFailed)
	assert.NotErrorIs(t, err, ErrInvalidManifest)
	assert.Empty(t, idx.upserts)
}

func TestRegisterIndexFailure(t *testing.T) {
	idx := &fakeIndex{err: errors.New("disk full")}
	reg := New(idx, embedding.NewHashProvider(8), testLogger())

	err := reg.Register(context.Background(), validManifest())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidManifest)
}

func TestRegisterReplacesSameURN(t *testing.T) {
	idx := &fakeIndex{}
	reg := New(idx, embedding.NewHashProvider(8), testLogger())

	m := validManifest()
	require.NoError(t, reg.Register(context.Background(), m))
	m.Description = "Updated description"
	require.NoError(t, reg.Register(context.Background(), m))

	require.Len(t, idx.upserts, 2, "upsert semantics are the index's concern; registry just re-upserts")
	assert.Equal(t, idx.upserts[0].URN, idx.upserts[1].URN)
}
