package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// BrokerMetrics holds the instruments recorded along the query pipeline.
// All instruments come from the global meter provider; when telemetry is
// disabled they are no-ops, so callers record unconditionally.
type BrokerMetrics struct {
	queries          metric.Int64Counter
	candidates       metric.Int64Counter
	governance       metric.Int64Counter
	dispatches       metric.Int64Counter
	dispatchLatency  metric.Float64Histogram
	partialResponses metric.Int64Counter
}

// NewBrokerMetrics creates the broker's instruments under the given scope.
func NewBrokerMetrics(scope string) (*BrokerMetrics, error) {
	meter := Meter(scope)

	queries, err := meter.Int64Counter("catalog.queries",
		metric.WithDescription("Queries accepted by the broker"))
	if err != nil {
		return nil, fmt.Errorf("telemetry: create queries counter: %w", err)
	}
	candidates, err := meter.Int64Counter("catalog.candidates",
		metric.WithDescription("Candidate sources surfaced by semantic discovery"))
	if err != nil {
		return nil, fmt.Errorf("telemetry: create candidates counter: %w", err)
	}
	governance, err := meter.Int64Counter("catalog.governance.decisions",
		metric.WithDescription("Governance gate outcomes per candidate"))
	if err != nil {
		return nil, fmt.Errorf("telemetry: create governance counter: %w", err)
	}
	dispatches, err := meter.Int64Counter("catalog.dispatches",
		metric.WithDescription("Source dispatch outcomes"))
	if err != nil {
		return nil, fmt.Errorf("telemetry: create dispatches counter: %w", err)
	}
	dispatchLatency, err := meter.Float64Histogram("catalog.dispatch.latency",
		metric.WithDescription("Per-source dispatch latency"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, fmt.Errorf("telemetry: create dispatch latency histogram: %w", err)
	}
	partialResponses, err := meter.Int64Counter("catalog.responses.partial",
		metric.WithDescription("Responses flagged partial_content"))
	if err != nil {
		return nil, fmt.Errorf("telemetry: create partial responses counter: %w", err)
	}

	return &BrokerMetrics{
		queries:          queries,
		candidates:       candidates,
		governance:       governance,
		dispatches:       dispatches,
		dispatchLatency:  dispatchLatency,
		partialResponses: partialResponses,
	}, nil
}

// RecordQuery counts an accepted query and its candidate set size.
func (m *BrokerMetrics) RecordQuery(ctx context.Context, candidates int) {
	if m == nil {
		return
	}
	m.queries.Add(ctx, 1)
	m.candidates.Add(ctx, int64(candidates))
}

// RecordGovernance counts one gate outcome ("allowed", "blocked_acl",
// "blocked_policy", "evaluation_error").
func (m *BrokerMetrics) RecordGovernance(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.governance.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordDispatch counts a dispatch outcome and its latency.
func (m *BrokerMetrics) RecordDispatch(ctx context.Context, status string, latencyMS float64) {
	if m == nil {
		return
	}
	m.dispatches.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	m.dispatchLatency.Record(ctx, latencyMS, metric.WithAttributes(attribute.String("status", status)))
}

// RecordPartial counts a response that went out flagged partial_content.
func (m *BrokerMetrics) RecordPartial(ctx context.Context) {
	if m == nil {
		return
	}
	m.partialResponses.Add(ctx, 1)
}
