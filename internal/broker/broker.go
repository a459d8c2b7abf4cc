// Package broker implements the federated query pipeline: semantic
// discovery of candidate sources, per-candidate governance, parallel
// dispatch, and fail-safe aggregation with provenance.
package broker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/coreason-ai/catalog/internal/dispatch"
	"github.com/coreason-ai/catalog/internal/index"
	"github.com/coreason-ai/catalog/internal/model"
	"github.com/coreason-ai/catalog/internal/policy"
	"github.com/coreason-ai/catalog/internal/telemetry"
)

// Failure signatures stamped on responses that never reached dispatch.
// Clients treat these as terminal markers, so the literals are part of the
// wire contract.
const (
	SignatureEmbeddingFailed = "ERROR: Embedding Failed"
	SignatureSearchFailed    = "ERROR: Search Failed"
	SignatureFailed          = "ERROR: Signature Failed"
)

// Embedder is the slice of the embedding provider the broker needs.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Searcher is the slice of the vector index the broker needs.
type Searcher interface {
	Search(ctx context.Context, embedding []float32, filter index.Filter, limit int) ([]index.Result, error)
}

// Gate applies the two governance checks to a candidate.
type Gate interface {
	CheckAccess(user model.UserContext, manifest model.SourceManifest) bool
	Evaluate(ctx context.Context, program string, input policy.Input) (bool, error)
}

// SourceDispatcher delivers an intent to one source endpoint.
type SourceDispatcher interface {
	Query(ctx context.Context, endpoint, intent string) ([]any, error)
}

// Signer produces the provenance signature for a completed query.
type Signer interface {
	Generate(queryID uuid.UUID, results []model.SourceResult) (string, error)
}

// Options tune pipeline behavior.
type Options struct {
	// PolicyTimeout bounds each opa evaluation.
	PolicyTimeout time.Duration

	// PerSourceTimeout bounds each dispatch independently of the transport
	// timeout. Zero disables the extra deadline.
	PerSourceTimeout time.Duration

	// MaxFanout caps concurrent dispatches. Values below 1 become 1.
	MaxFanout int

	// GovernanceDebug surfaces blocked candidates in the response as
	// BLOCKED_BY_POLICY results instead of omitting them silently.
	GovernanceDebug bool
}

// Broker runs the query pipeline. All collaborators are injected; there is
// no global state, which keeps the pipeline testable with fakes.
type Broker struct {
	embedder   Embedder
	searcher   Searcher
	gate       Gate
	dispatcher SourceDispatcher
	signer     Signer
	metrics    *telemetry.BrokerMetrics
	logger     *slog.Logger
	opts       Options
}

// New creates a Broker.
func New(embedder Embedder, searcher Searcher, gate Gate, dispatcher SourceDispatcher, signer Signer, metrics *telemetry.BrokerMetrics, logger *slog.Logger, opts Options) *Broker {
	if opts.MaxFanout < 1 {
		opts.MaxFanout = 1
	}
	if opts.PolicyTimeout <= 0 {
		opts.PolicyTimeout = 5 * time.Second
	}
	return &Broker{
		embedder:   embedder,
		searcher:   searcher,
		gate:       gate,
		dispatcher: dispatcher,
		signer:     signer,
		metrics:    metrics,
		logger:     logger,
		opts:       opts,
	}
}

// DispatchQuery executes the full pipeline for one query.
//
// Discovery failures (embedding, search) terminate the pipeline and return
// an empty response whose provenance signature carries the failure marker.
// Everything after discovery is fail-safe: a misbehaving source degrades
// the response, it never fails it.
func (b *Broker) DispatchQuery(ctx context.Context, req model.QueryRequest) (model.CatalogResponse, error) {
	queryID := uuid.New()
	log := b.logger.With("query_id", queryID.String(), "user_id", req.UserContext.UserID)

	vec, err := b.embedder.Embed(ctx, req.Intent)
	if err != nil {
		log.Error("broker: intent embedding failed", "error", err)
		return model.CatalogResponse{
			QueryID:             queryID,
			AggregatedResults:   []model.SourceResult{},
			ProvenanceSignature: SignatureEmbeddingFailed,
		}, nil
	}

	candidates, err := b.searcher.Search(ctx, vec, index.Filter{}, req.EffectiveLimit())
	if err != nil {
		log.Error("broker: candidate search failed", "error", err)
		return model.CatalogResponse{
			QueryID:             queryID,
			AggregatedResults:   []model.SourceResult{},
			ProvenanceSignature: SignatureSearchFailed,
		}, nil
	}
	b.metrics.RecordQuery(ctx, len(candidates))

	allowed, blocked := b.govern(ctx, req.UserContext, candidates, log)

	results := b.fanOut(ctx, req.Intent, allowed, log)
	if b.opts.GovernanceDebug {
		results = append(results, blocked...)
	}

	partial := b.isPartial(results, len(allowed), len(candidates))
	if partial {
		b.metrics.RecordPartial(ctx)
	}

	signature, err := b.signer.Generate(queryID, results)
	if err != nil {
		// Same contract as the discovery failures: the response is still
		// delivered, the signature slot carries the failure marker.
		log.Error("broker: provenance generation failed", "error", err)
		signature = SignatureFailed
	}

	return model.CatalogResponse{
		QueryID:             queryID,
		AggregatedResults:   results,
		ProvenanceSignature: signature,
		PartialContent:      partial,
	}, nil
}

// isPartial reports whether the response must carry partial_content: any
// dispatched source that did not succeed, or any candidate filtered out by
// governance. A query with zero candidates is complete, not partial.
func (b *Broker) isPartial(results []model.SourceResult, allowed, candidates int) bool {
	if allowed < candidates {
		return true
	}
	for _, r := range results {
		if r.Status != model.StatusSuccess {
			return true
		}
	}
	return false
}

// fanOut dispatches the intent to every allowed source in parallel, bounded
// by MaxFanout, and returns results in completion order.
func (b *Broker) fanOut(ctx context.Context, intent string, allowed []model.SourceManifest, log *slog.Logger) []model.SourceResult {
	results := make([]model.SourceResult, 0, len(allowed))
	if len(allowed) == 0 {
		return results
	}

	sem := semaphore.NewWeighted(int64(b.opts.MaxFanout))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, manifest := range allowed {
		wg.Add(1)
		go func(m model.SourceManifest) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				// Context cancelled while queued; surface it as a source error
				// so the aggregate stays honest about what never ran.
				mu.Lock()
				results = append(results, model.SourceResult{
					SourceURN: m.URN,
					Status:    model.StatusError,
					Data:      map[string]any{"error": err.Error()},
				})
				mu.Unlock()
				return
			}
			defer sem.Release(1)

			res := b.dispatchOne(ctx, m, intent, log)
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
		}(manifest)
	}
	wg.Wait()

	return results
}

// dispatchOne queries a single source and folds any failure into an ERROR
// result. Dispatch errors are logged, never propagated.
func (b *Broker) dispatchOne(ctx context.Context, manifest model.SourceManifest, intent string, log *slog.Logger) model.SourceResult {
	dispatchCtx := ctx
	if b.opts.PerSourceTimeout > 0 {
		var cancel context.CancelFunc
		dispatchCtx, cancel = context.WithTimeout(ctx, b.opts.PerSourceTimeout)
		defer cancel()
	}

	start := time.Now()
	events, err := b.dispatcher.Query(dispatchCtx, manifest.EndpointURL, intent)
	latencyMS := float64(time.Since(start).Microseconds()) / 1000.0

	if err != nil {
		var statusErr *dispatch.StatusError
		switch {
		case errors.As(err, &statusErr):
			log.Warn("broker: source rejected dispatch", "urn", manifest.URN, "status", statusErr.Code)
		default:
			log.Warn("broker: source dispatch failed", "urn", manifest.URN, "error", err)
		}
		b.metrics.RecordDispatch(ctx, "error", latencyMS)
		return model.SourceResult{
			SourceURN: manifest.URN,
			Status:    model.StatusError,
			Data:      map[string]any{"error": err.Error()},
			LatencyMS: latencyMS,
		}
	}

	b.metrics.RecordDispatch(ctx, "success", latencyMS)
	return model.SourceResult{
		SourceURN: manifest.URN,
		Status:    model.StatusSuccess,
		Data:      events,
		LatencyMS: latencyMS,
	}
}
