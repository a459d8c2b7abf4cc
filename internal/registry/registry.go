// Package registry handles source onboarding: manifest validation,
// description embedding, and indexing.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/coreason-ai/catalog/internal/embedding"
	"github.com/coreason-ai/catalog/internal/index"
	"github.com/coreason-ai/catalog/internal/model"
)

// ErrInvalidManifest wraps manifest validation failures so the transport
// layer can map them to a 422 without inspecting message text.
var ErrInvalidManifest = errors.New("registry: invalid manifest")

// Registry registers source manifests into the vector index.
type Registry struct {
	index    index.Index
	embedder embedding.Provider
	logger   *slog.Logger
}

// New creates a Registry.
func New(idx index.Index, embedder embedding.Provider, logger *slog.Logger) *Registry {
	return &Registry{index: idx, embedder: embedder, logger: logger}
}

// Register validates the manifest, embeds its description, and upserts it
// into the index. Re-registering an existing URN replaces the prior entry;
// queries already in flight keep the snapshot they resolved.
func (r *Registry) Register(ctx context.Context, manifest model.SourceManifest) error {
	if err := manifest.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidManifest, err)
	}

	vec, err := r.embedder.Embed(ctx, manifest.Description)
	if err != nil {
		return fmt.Errorf("registry: embed description for %s: %w", manifest.URN, err)
	}
	if len(vec) != r.embedder.Dimensions() {
		return fmt.Errorf("registry: embedder returned %d dims, want %d: %w", len(vec), r.embedder.Dimensions(), index.ErrDimensionMismatch)
	}

	if err := r.index.Upsert(ctx, manifest, vec); err != nil {
		return fmt.Errorf("registry: index %s: %w", manifest.URN, err)
	}

	r.logger.Info("registry: source registered",
		"urn", manifest.URN,
		"sensitivity", string(manifest.Sensitivity),
		"geo", manifest.GeoLocation,
		"owner", manifest.OwnerGroup,
	)
	return nil
}
