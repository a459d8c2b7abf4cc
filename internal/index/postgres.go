package index

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvector "github.com/pgvector/pgvector-go/pgx"

	"github.com/coreason-ai/catalog/internal/model"
)

// PostgresIndex implements Index on Postgres with the pgvector extension.
// It suits deployments that already run Postgres and want the catalog
// co-located with the rest of their data.
type PostgresIndex struct {
	pool   *pgxpool.Pool
	dims   int
	logger *slog.Logger
}

// NewPostgresIndex connects to Postgres, enables the vector extension, and
// creates the sources table if needed.
func NewPostgresIndex(ctx context.Context, dsn string, dims int, logger *slog.Logger) (*PostgresIndex, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("index: parse DSN: %w", err)
	}

	// Register pgvector types on each new connection so vectors encode
	// natively instead of round-tripping through text.
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		if err := pgxvector.RegisterTypes(ctx, conn); err != nil {
			logger.Debug("index: pgvector types not registered (extension may not exist yet)", "error", err)
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("index: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("index: ping: %w", err)
	}

	p := &PostgresIndex{pool: pool, dims: dims, logger: logger}
	if err := p.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

func (p *PostgresIndex) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS sources (
			urn          TEXT PRIMARY KEY,
			manifest     JSONB NOT NULL,
			geo_location TEXT NOT NULL,
			sensitivity  TEXT NOT NULL,
			owner_group  TEXT NOT NULL,
			embedding    vector(%d) NOT NULL
		)`, p.dims),
		`CREATE INDEX IF NOT EXISTS idx_sources_geo ON sources(geo_location)`,
		`CREATE INDEX IF NOT EXISTS idx_sources_sensitivity ON sources(sensitivity)`,
		`CREATE INDEX IF NOT EXISTS idx_sources_owner ON sources(owner_group)`,
	}
	for _, stmt := range stmts {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("%w: migrate: %w", ErrStorage, err)
		}
	}
	return nil
}

// Upsert inserts or replaces a manifest keyed by URN.
func (p *PostgresIndex) Upsert(ctx context.Context, manifest model.SourceManifest, embedding []float32) error {
	if len(embedding) != p.dims {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(embedding), p.dims)
	}

	doc, err := json.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("%w: marshal manifest: %w", ErrStorage, err)
	}

	_, err = p.pool.Exec(ctx, `
		INSERT INTO sources (urn, manifest, geo_location, sensitivity, owner_group, embedding)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (urn) DO UPDATE SET
			manifest = EXCLUDED.manifest,
			geo_location = EXCLUDED.geo_location,
			sensitivity = EXCLUDED.sensitivity,
			owner_group = EXCLUDED.owner_group,
			embedding = EXCLUDED.embedding`,
		manifest.URN, doc, manifest.GeoLocation, string(manifest.Sensitivity), manifest.OwnerGroup, pgvector.NewVector(embedding))
	if err != nil {
		return fmt.Errorf("%w: upsert %s: %w", ErrStorage, manifest.URN, err)
	}
	return nil
}

// Search ranks matching rows by cosine similarity using the pgvector <=>
// operator (cosine distance; similarity is 1 - distance).
func (p *PostgresIndex) Search(ctx context.Context, embedding []float32, filter Filter, limit int) ([]Result, error) {
	if len(embedding) != p.dims {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(embedding), p.dims)
	}
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []Result{}, nil
	}

	query := `SELECT manifest, 1 - (embedding <=> $1) AS score FROM sources WHERE true`
	args := []any{pgvector.NewVector(embedding)}
	if filter.GeoLocation != nil {
		args = append(args, *filter.GeoLocation)
		query += fmt.Sprintf(` AND geo_location = $%d`, len(args))
	}
	if filter.Sensitivity != nil {
		args = append(args, string(*filter.Sensitivity))
		query += fmt.Sprintf(` AND sensitivity = $%d`, len(args))
	}
	if filter.OwnerGroup != nil {
		args = append(args, *filter.OwnerGroup)
		query += fmt.Sprintf(` AND owner_group = $%d`, len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY embedding <=> $1 LIMIT $%d`, len(args))

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query: %w", ErrStorage, err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var doc []byte
		var score float64
		if err := rows.Scan(&doc, &score); err != nil {
			return nil, fmt.Errorf("%w: scan row: %w", ErrStorage, err)
		}
		var m model.SourceManifest
		if err := json.Unmarshal(doc, &m); err != nil {
			p.logger.Warn("index: undecodable manifest row", "error", err)
			continue
		}
		results = append(results, Result{Manifest: m, Score: float32(score)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate rows: %w", ErrStorage, err)
	}
	return results, nil
}

// Healthy pings the pool.
func (p *PostgresIndex) Healthy(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: ping: %w", ErrStorage, err)
	}
	return nil
}

// Close closes the pool.
func (p *PostgresIndex) Close() error {
	p.pool.Close()
	return nil
}
