package broker

import (
	"context"
	"log/slog"

	"github.com/coreason-ai/catalog/internal/index"
	"github.com/coreason-ai/catalog/internal/model"
	"github.com/coreason-ai/catalog/internal/policy"
)

// DecisionKind classifies a governance outcome for one candidate.
type DecisionKind int

const (
	// DecisionAllow admits the candidate to dispatch.
	DecisionAllow DecisionKind = iota
	// DecisionDenyACL rejects at the group membership gate.
	DecisionDenyACL
	// DecisionDenyPolicy rejects at the embedded policy gate.
	DecisionDenyPolicy
	// DecisionEvalError rejects because policy evaluation itself failed.
	// Governance fails closed, so this is a denial, not an allowance.
	DecisionEvalError
)

// Decision is the outcome of governing one candidate. Err is set only for
// DecisionEvalError.
type Decision struct {
	Kind DecisionKind
	Err  error
}

// outcome maps a decision to its metric label.
func (d Decision) outcome() string {
	switch d.Kind {
	case DecisionAllow:
		return "allowed"
	case DecisionDenyACL:
		return "blocked_acl"
	case DecisionDenyPolicy:
		return "blocked_policy"
	default:
		return "evaluation_error"
	}
}

// decide runs both gates against one candidate, ACL first. The policy gate
// gets its own deadline so a wedged opa process cannot stall the query.
func (b *Broker) decide(ctx context.Context, user model.UserContext, manifest model.SourceManifest) Decision {
	if !b.gate.CheckAccess(user, manifest) {
		return Decision{Kind: DecisionDenyACL}
	}

	evalCtx, cancel := context.WithTimeout(ctx, b.opts.PolicyTimeout)
	defer cancel()

	allowed, err := b.gate.Evaluate(evalCtx, manifest.AccessPolicy, policy.NewInput(user, manifest))
	if err != nil {
		return Decision{Kind: DecisionEvalError, Err: err}
	}
	if !allowed {
		return Decision{Kind: DecisionDenyPolicy}
	}
	return Decision{Kind: DecisionAllow}
}

// govern filters candidates through both gates. It returns the admitted
// manifests and, for debug mode, BLOCKED_BY_POLICY placeholder results for
// everything rejected.
func (b *Broker) govern(ctx context.Context, user model.UserContext, candidates []index.Result, log *slog.Logger) (allowed []model.SourceManifest, blocked []model.SourceResult) {
	for _, c := range candidates {
		d := b.decide(ctx, user, c.Manifest)
		b.metrics.RecordGovernance(ctx, d.outcome())

		switch d.Kind {
		case DecisionAllow:
			allowed = append(allowed, c.Manifest)
		case DecisionDenyACL:
			log.Info("broker: candidate blocked by acl", "urn", c.Manifest.URN)
			blocked = append(blocked, blockedResult(c.Manifest.URN))
		case DecisionDenyPolicy:
			log.Info("broker: candidate blocked by policy", "urn", c.Manifest.URN)
			blocked = append(blocked, blockedResult(c.Manifest.URN))
		case DecisionEvalError:
			log.Warn("broker: policy evaluation failed, denying", "urn", c.Manifest.URN, "error", d.Err)
			blocked = append(blocked, blockedResult(c.Manifest.URN))
		}
	}
	return allowed, blocked
}

func blockedResult(urn string) model.SourceResult {
	return model.SourceResult{SourceURN: urn, Status: model.StatusBlockedByPolicy}
}
