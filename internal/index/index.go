// Package index provides vector storage and similarity search over
// registered source manifests. Three backends are supported: an embedded
// local store (sqlite), Qdrant, and Postgres with pgvector.
package index

import (
	"context"
	"errors"

	"github.com/coreason-ai/catalog/internal/model"
)

var (
	// ErrDimensionMismatch is returned when a vector's length does not match
	// the index's configured dimensionality.
	ErrDimensionMismatch = errors.New("index: vector dimension mismatch")

	// ErrInvalidFilter is returned when a filter value is not usable, for
	// example an unknown sensitivity level.
	ErrInvalidFilter = errors.New("index: invalid filter")

	// ErrStorage wraps backend I/O failures.
	ErrStorage = errors.New("index: storage failure")
)

// Filter restricts a search to manifests matching every set field.
// Nil fields are ignored. Matching is exact and case-sensitive.
type Filter struct {
	GeoLocation *string
	Sensitivity *model.DataSensitivity
	OwnerGroup  *string
}

// Validate rejects filters whose set fields cannot match anything.
func (f Filter) Validate() error {
	if f.Sensitivity != nil && !f.Sensitivity.Valid() {
		return ErrInvalidFilter
	}
	return nil
}

// Result is one search hit: the stored manifest and its raw cosine
// similarity to the query vector.
type Result struct {
	Manifest model.SourceManifest
	Score    float32
}

// Index is the interface for vector-backed manifest stores.
// Implementations must be safe for concurrent use. Upsert with an existing
// URN replaces the prior manifest and vector atomically.
type Index interface {
	// Upsert inserts or replaces a manifest keyed by its URN.
	Upsert(ctx context.Context, manifest model.SourceManifest, embedding []float32) error

	// Search returns up to limit manifests ordered by descending similarity.
	Search(ctx context.Context, embedding []float32, filter Filter, limit int) ([]Result, error)

	// Healthy returns nil if the backend is reachable.
	Healthy(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
