package catalog

import "github.com/google/uuid"

// UserContext identifies the requesting user. Governance is evaluated
// against it: groups feed the ACL gate, the whole context feeds each
// source's embedded policy.
type UserContext struct {
	UserID string         `json:"user_id"`
	Email  string         `json:"email,omitempty"`
	Groups []string       `json:"groups"`
	Claims map[string]any `json:"claims,omitempty"`
}

// SourceManifest describes a data source for registration.
type SourceManifest struct {
	URN           string         `json:"urn"`
	Name          string         `json:"name"`
	Description   string         `json:"description"`
	EndpointURL   string         `json:"endpoint_url"`
	SourcePointer map[string]any `json:"source_pointer,omitempty"`
	ACLs          []string       `json:"acls"`
	GeoLocation   string         `json:"geo_location"`
	Sensitivity   string         `json:"sensitivity"`
	OwnerGroup    string         `json:"owner_group"`
	AccessPolicy  string         `json:"access_policy"`
}

// QueryRequest is the body for Query.
type QueryRequest struct {
	Intent      string      `json:"intent"`
	UserContext UserContext `json:"user_context"`
	Limit       *int        `json:"limit,omitempty"`
}

// Result statuses returned per source.
const (
	StatusSuccess         = "SUCCESS"
	StatusError           = "ERROR"
	StatusBlockedByPolicy = "BLOCKED_BY_POLICY"
)

// SourceResult is the outcome of dispatching the intent to one source.
type SourceResult struct {
	SourceURN string  `json:"source_urn"`
	Status    string  `json:"status"`
	Data      any     `json:"data"`
	LatencyMS float64 `json:"latency_ms"`
}

// CatalogResponse is the aggregated response for a federated query.
type CatalogResponse struct {
	QueryID             uuid.UUID      `json:"query_id"`
	AggregatedResults   []SourceResult `json:"aggregated_results"`
	ProvenanceSignature string         `json:"provenance_signature"`
	PartialContent      bool           `json:"partial_content"`
}

// RegisterResponse confirms a manifest registration.
type RegisterResponse struct {
	Status string `json:"status"`
	URN    string `json:"urn"`
}

// HealthResponse reports service and index status.
type HealthResponse struct {
	Status string `json:"status"`
	Index  string `json:"index,omitempty"`
	Uptime int64  `json:"uptime_seconds,omitempty"`
}
