package model

// DefaultQueryLimit is the number of candidate sources considered when the
// request does not specify a limit.
const DefaultQueryLimit = 10

// QueryRequest is the request body for POST /v1/query.
type QueryRequest struct {
	Intent      string      `json:"intent"`
	UserContext UserContext `json:"user_context"`
	Limit       *int        `json:"limit,omitempty"`
}

// EffectiveLimit returns the requested limit, or DefaultQueryLimit when the
// field was omitted.
func (q QueryRequest) EffectiveLimit() int {
	if q.Limit == nil {
		return DefaultQueryLimit
	}
	return *q.Limit
}

// RegisterResponse is the success body for POST /v1/sources.
type RegisterResponse struct {
	Status string `json:"status"`
	URN    string `json:"urn"`
}

// ErrorResponse is the failure body for all endpoints.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// HealthResponse is the body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
	Index  string `json:"index,omitempty"`
	Uptime int64  `json:"uptime_seconds,omitempty"`
}
