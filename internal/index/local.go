package index

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	_ "modernc.org/sqlite"

	"github.com/coreason-ai/catalog/internal/model"
)

// LocalIndex is an embedded single-file backend built on sqlite. Vectors are
// stored as little-endian float32 blobs and scanned brute-force at query
// time, which is fine for the catalog sizes a local deployment sees
// (hundreds of sources, not millions). It needs no external services and is
// the default backend.
type LocalIndex struct {
	db   *sql.DB
	dims int
}

const localSchema = `
CREATE TABLE IF NOT EXISTS sources (
	urn          TEXT PRIMARY KEY,
	manifest     TEXT NOT NULL,
	geo_location TEXT NOT NULL,
	sensitivity  TEXT NOT NULL,
	owner_group  TEXT NOT NULL,
	embedding    BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sources_geo ON sources(geo_location);
CREATE INDEX IF NOT EXISTS idx_sources_sensitivity ON sources(sensitivity);
CREATE INDEX IF NOT EXISTS idx_sources_owner ON sources(owner_group);
`

// NewLocalIndex opens (creating if necessary) the sqlite database at path.
// Parent directories are created as needed.
func NewLocalIndex(path string, dims int) (*LocalIndex, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: create data dir: %w", ErrStorage, err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrStorage, path, err)
	}
	// sqlite allows a single writer; serialize through one connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(localSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: apply schema: %w", ErrStorage, err)
	}

	return &LocalIndex{db: db, dims: dims}, nil
}

// Upsert inserts or replaces a manifest keyed by URN.
func (l *LocalIndex) Upsert(ctx context.Context, manifest model.SourceManifest, embedding []float32) error {
	if len(embedding) != l.dims {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(embedding), l.dims)
	}

	doc, err := json.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("%w: marshal manifest: %w", ErrStorage, err)
	}

	_, err = l.db.ExecContext(ctx, `
		INSERT INTO sources (urn, manifest, geo_location, sensitivity, owner_group, embedding)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(urn) DO UPDATE SET
			manifest = excluded.manifest,
			geo_location = excluded.geo_location,
			sensitivity = excluded.sensitivity,
			owner_group = excluded.owner_group,
			embedding = excluded.embedding`,
		manifest.URN, string(doc), manifest.GeoLocation, string(manifest.Sensitivity), manifest.OwnerGroup, encodeVector(embedding))
	if err != nil {
		return fmt.Errorf("%w: upsert %s: %w", ErrStorage, manifest.URN, err)
	}
	return nil
}

// Search scans all rows matching the filter and ranks them by cosine
// similarity in Go.
func (l *LocalIndex) Search(ctx context.Context, embedding []float32, filter Filter, limit int) ([]Result, error) {
	if len(embedding) != l.dims {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(embedding), l.dims)
	}
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []Result{}, nil
	}

	query := `SELECT manifest, embedding FROM sources WHERE 1=1`
	args := []any{}
	if filter.GeoLocation != nil {
		query += ` AND geo_location = ?`
		args = append(args, *filter.GeoLocation)
	}
	if filter.Sensitivity != nil {
		query += ` AND sensitivity = ?`
		args = append(args, string(*filter.Sensitivity))
	}
	if filter.OwnerGroup != nil {
		query += ` AND owner_group = ?`
		args = append(args, *filter.OwnerGroup)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query: %w", ErrStorage, err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var doc string
		var blob []byte
		if err := rows.Scan(&doc, &blob); err != nil {
			return nil, fmt.Errorf("%w: scan row: %w", ErrStorage, err)
		}

		vec, err := decodeVector(blob)
		if err != nil || len(vec) != l.dims {
			// Row written with a different dimensionality; skip it rather
			// than failing the whole query.
			continue
		}

		var m model.SourceManifest
		if err := json.Unmarshal([]byte(doc), &m); err != nil {
			continue
		}

		results = append(results, Result{Manifest: m, Score: cosineSimilarity(embedding, vec)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate rows: %w", ErrStorage, err)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Healthy pings the underlying database.
func (l *LocalIndex) Healthy(ctx context.Context) error {
	if err := l.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: ping: %w", ErrStorage, err)
	}
	return nil
}

// Close closes the database.
func (l *LocalIndex) Close() error {
	return l.db.Close()
}

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("index: malformed vector blob of %d bytes", len(blob))
	}
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[4*i:]))
	}
	return vec, nil
}

func cosineSimilarity(a, b []float32) float32 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
