// Package compliance implements the compliance orchestrator and
// circuit breaker: predicate policy evaluation over incoming
// mutations, workspace freeze transitions, and the ledger Integrity
// Guard gating writes on chain verification.
package compliance

import (
	"context"
	"time"

	"github.com/r3e-network/security-governance-core/internal/workspace"
)

// defaultPredicateTimeout bounds a single rule predicate invocation.
const defaultPredicateTimeout = 50 * time.Millisecond

// RequestContext is the ambient context a policy predicate evaluates
// against, alongside the mutation body.
type RequestContext struct {
	TenantID     string
	ResourceType string
	User         string
	IP           string
	Method       string
	Time         time.Time

	// Metrics carries velocity context injected by the job orchestrator
	// (e.g. "dailyVelocity").
	Metrics map[string]float64
}

// Predicate is a pure, total function over (body, context). It must
// not block beyond the rule's configured timeout; a predicate that
// does is treated as returning unknown (no-match).
type Predicate func(body []byte, rc RequestContext) (bool, error)

// PolicyRule is one ordered, typed compliance rule.
type PolicyRule struct {
	ID         string
	Effect     workspace.PolicyEffect
	Order      int
	Timeout    time.Duration
	FailClosed bool
	Predicate  Predicate
}

// Decision is the outcome of Evaluate.
type Decision struct {
	Effect         workspace.PolicyEffect
	PolicyID       string
	Reason         string
	ComplianceFlag string
}

// PolicyProvider resolves the ordered rule set applicable to a
// (tenant, resourceType) pair.
type PolicyProvider interface {
	Policies(ctx context.Context, tenantID, resourceType string) ([]PolicyRule, error)
}

// PredicateResolver is the optional provider capability backing custom
// permission conditions: a rule looked up by ID alone, independent of
// resource type. A provider that cannot resolve by ID makes every
// custom-predicate condition fail closed.
type PredicateResolver interface {
	PolicyByID(ctx context.Context, tenantID, ruleID string) (PolicyRule, bool, error)
}

// EventPublisher is the narrow seam into the event bus (§4.6), kept as
// an interface here so compliance never imports the concrete bus and
// avoids an import cycle with its subscribers.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, payload interface{}) error
}
