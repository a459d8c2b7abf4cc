package model

import "github.com/google/uuid"

// ResultStatus is the terminal outcome of a single source within a query.
type ResultStatus string

const (
	StatusSuccess         ResultStatus = "SUCCESS"
	StatusError           ResultStatus = "ERROR"
	StatusBlockedByPolicy ResultStatus = "BLOCKED_BY_POLICY"
	StatusPartialContent  ResultStatus = "PARTIAL_CONTENT"
)

// SourceResult is one source's outcome within an aggregated response.
// LatencyMS is wall-clock milliseconds from the moment dispatch begins for
// the source to the moment its outcome is finalized.
type SourceResult struct {
	SourceURN string       `json:"source_urn"`
	Status    ResultStatus `json:"status"`
	Data      any          `json:"data"`
	LatencyMS float64      `json:"latency_ms"`
}

// CatalogResponse is the aggregate returned by the federation broker.
// AggregatedResults is ordered by source completion; callers must not rely
// on any particular order. PartialContent is true iff at least one included
// result is not SUCCESS, or at least one discovered candidate was dropped
// by governance.
type CatalogResponse struct {
	QueryID             uuid.UUID      `json:"query_id"`
	AggregatedResults   []SourceResult `json:"aggregated_results"`
	ProvenanceSignature string         `json:"provenance_signature"`
	PartialContent      bool           `json:"partial_content"`
}
