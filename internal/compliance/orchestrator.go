package compliance

import (
	"context"
	"sync"
	"time"

	serr "github.com/r3e-network/security-governance-core/infrastructure/errors"
	"github.com/r3e-network/security-governance-core/infrastructure/logging"
	"github.com/r3e-network/security-governance-core/infrastructure/metrics"
	"github.com/r3e-network/security-governance-core/infrastructure/resilience"
	"github.com/r3e-network/security-governance-core/internal/ledger"
	"github.com/r3e-network/security-governance-core/internal/workspace"
)

// Orchestrator evaluates predicate policies against incoming mutations
// and drives the circuit-breaker actions (FLAG, DENY, FREEZE).
type Orchestrator struct {
	policies  PolicyProvider
	workspace workspace.Store
	ledger    *ledger.Ledger
	publisher EventPublisher

	breakersMu sync.Mutex
	breakers   map[string]*resilience.CircuitBreaker

	logger  *logging.Logger
	metrics *metrics.Metrics
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithWorkspaceStore(s workspace.Store) Option { return func(o *Orchestrator) { o.workspace = s } }
func WithLedger(l *ledger.Ledger) Option          { return func(o *Orchestrator) { o.ledger = l } }
func WithPublisher(p EventPublisher) Option       { return func(o *Orchestrator) { o.publisher = p } }
func WithLogger(l *logging.Logger) Option         { return func(o *Orchestrator) { o.logger = l } }
func WithMetrics(m *metrics.Metrics) Option       { return func(o *Orchestrator) { o.metrics = m } }

// New constructs an Orchestrator evaluating rules from policies.
func New(policies PolicyProvider, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		policies: policies,
		breakers: make(map[string]*resilience.CircuitBreaker),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) breakerFor(policyID string) *resilience.CircuitBreaker {
	o.breakersMu.Lock()
	defer o.breakersMu.Unlock()
	cb, ok := o.breakers[policyID]
	if !ok {
		cb = resilience.New(resilience.Config{MaxFailures: 5, Timeout: 30 * time.Second, HalfOpenMax: 3})
		o.breakers[policyID] = cb
	}
	return cb
}

type match struct {
	rule PolicyRule
}

// Evaluate runs the tenant's ordered rule set against one incoming
// mutation. Every applicable rule is evaluated (not short-circuited
// on first match): the winner is chosen by effect priority, then by
// declared order, among rules whose predicate matched.
func (o *Orchestrator) Evaluate(ctx context.Context, tenantID, resourceType string, body []byte, rc RequestContext) (Decision, error) {
	rules, err := o.policies.Policies(ctx, tenantID, resourceType)
	if err != nil {
		return Decision{}, err
	}

	var matches []match
	for _, rule := range rules {
		matched, err := o.evaluateRule(ctx, rule, body, rc)
		if err != nil {
			if o.logger != nil {
				o.logger.WithError(err).WithFields(map[string]interface{}{"policyId": rule.ID}).Warn("compliance predicate error")
			}
			if rule.FailClosed {
				matches = append(matches, match{rule: rule})
			}
			continue
		}
		if matched {
			matches = append(matches, match{rule: rule})
		}
	}

	winner, ok := pickWinner(matches)
	if !ok {
		o.recordDecision(workspace.EffectAllow)
		return Decision{Effect: workspace.EffectAllow}, nil
	}

	o.recordDecision(winner.rule.Effect)
	return o.applyOutcome(ctx, tenantID, winner.rule)
}

func pickWinner(matches []match) (match, bool) {
	if len(matches) == 0 {
		return match{}, false
	}
	best := matches[0]
	for _, m := range matches[1:] {
		if workspace.EffectPriority(m.rule.Effect) > workspace.EffectPriority(best.rule.Effect) {
			best = m
			continue
		}
		if workspace.EffectPriority(m.rule.Effect) == workspace.EffectPriority(best.rule.Effect) && m.rule.Order < best.rule.Order {
			best = m
		}
	}
	return best, true
}

// evaluateRule runs rule.Predicate under the circuit breaker and a
// per-call deadline; a timeout or an open breaker is treated as
// unknown/no-match.
func (o *Orchestrator) evaluateRule(ctx context.Context, rule PolicyRule, body []byte, rc RequestContext) (bool, error) {
	timeout := rule.Timeout
	if timeout <= 0 {
		timeout = defaultPredicateTimeout
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var matched bool
	breakerErr := o.breakerFor(rule.ID).Execute(callCtx, func() error {
		done := make(chan error, 1)
		go func() {
			m, err := rule.Predicate(body, rc)
			matched = m
			done <- err
		}()
		select {
		case err := <-done:
			return err
		case <-callCtx.Done():
			return callCtx.Err()
		}
	})

	if breakerErr == resilience.ErrCircuitOpen || breakerErr == context.DeadlineExceeded {
		return false, nil
	}
	if breakerErr != nil {
		return false, breakerErr
	}
	return matched, nil
}

func (o *Orchestrator) recordDecision(effect workspace.PolicyEffect) {
	if o.metrics != nil {
		o.metrics.RecordComplianceDecision("compliance", string(effect))
	}
}

func (o *Orchestrator) applyOutcome(ctx context.Context, tenantID string, rule PolicyRule) (Decision, error) {
	switch rule.Effect {
	case workspace.EffectAllow:
		return Decision{Effect: workspace.EffectAllow, PolicyID: rule.ID}, nil

	case workspace.EffectFlag:
		return Decision{Effect: workspace.EffectFlag, PolicyID: rule.ID, ComplianceFlag: rule.ID}, nil

	case workspace.EffectDeny:
		o.auditDecision(ctx, tenantID, rule.ID, string(rule.Effect))
		return Decision{Effect: workspace.EffectDeny, PolicyID: rule.ID, Reason: "policy " + rule.ID + " denied"},
			serr.New(serr.KindPermissionDenied, "denied by compliance policy "+rule.ID)

	case workspace.EffectFreeze:
		if err := o.freezeWorkspace(ctx, tenantID, rule.ID); err != nil {
			return Decision{}, err
		}
		return Decision{Effect: workspace.EffectFreeze, PolicyID: rule.ID, Reason: "policy " + rule.ID + " froze workspace"},
			serr.New(serr.KindCircuitFrozen, "workspace frozen by compliance policy "+rule.ID)

	default:
		return Decision{Effect: workspace.EffectAllow}, nil
	}
}

func (o *Orchestrator) freezeWorkspace(ctx context.Context, workspaceID, policyID string) error {
	if o.workspace != nil {
		ws, ok, err := o.workspace.GetWorkspace(ctx, workspaceID)
		if err != nil {
			return err
		}
		if ok {
			ws.Status = workspace.StatusComplianceFrozen
			ws.CacheEpoch++
			if err := o.workspace.PutWorkspace(ctx, ws); err != nil {
				return err
			}
		}
	}

	o.auditDecision(ctx, workspaceID, policyID, string(workspace.EffectFreeze))

	if o.publisher != nil {
		_ = o.publisher.Publish(ctx, "workspace.frozen", map[string]interface{}{
			"workspaceId": workspaceID,
			"policyId":    policyID,
		})
	}
	return nil
}

func (o *Orchestrator) auditDecision(ctx context.Context, tenantID, policyID, effect string) {
	if o.ledger == nil {
		return
	}
	_, _ = o.ledger.Append(ctx, ledger.AppendRequest{
		EntityID:    tenantID,
		EntityModel: "Workspace",
		EventType:   ledger.EventCustom,
		Payload: map[string]interface{}{
			"event":    "COMPLIANCE_DECISION",
			"policyId": policyID,
			"effect":   effect,
		},
	})
}

// EvaluatePredicate runs the single rule whose ID is predicateID
// against rc, under the same breaker and timeout discipline as
// Evaluate. It backs custom permission conditions, so failure modes
// lean closed: an unresolvable or erroring predicate returns false —
// a typo in a predicate ID must never become a grant.
func (o *Orchestrator) EvaluatePredicate(ctx context.Context, tenantID, predicateID string, rc RequestContext) (bool, error) {
	resolver, ok := o.policies.(PredicateResolver)
	if !ok {
		if o.logger != nil {
			o.logger.WithFields(map[string]interface{}{"predicateId": predicateID}).
				Warn("policy provider cannot resolve predicates by id, failing closed")
		}
		return false, nil
	}

	rule, found, err := resolver.PolicyByID(ctx, tenantID, predicateID)
	if err != nil {
		return false, err
	}
	if !found || rule.Predicate == nil {
		if o.logger != nil {
			o.logger.WithFields(map[string]interface{}{"predicateId": predicateID}).
				Warn("unknown custom predicate, failing closed")
		}
		return false, nil
	}

	return o.evaluateRule(ctx, rule, nil, rc)
}

// CheckIntegrity is the Integrity Guard: before any write, verify
// entityID's audit chain and fail closed if broken. Read operations
// fail open (logged, permitted).
func (o *Orchestrator) CheckIntegrity(ctx context.Context, entityID string, isWrite bool) error {
	if o.ledger == nil {
		return nil
	}
	result, err := o.ledger.AuditChain(ctx, entityID)
	if err != nil {
		if isWrite {
			return err
		}
		if o.logger != nil {
			o.logger.WithError(err).Warn("integrity guard: audit chain read failed, failing open")
		}
		return nil
	}
	if result.Valid {
		return nil
	}
	if !isWrite {
		if o.logger != nil {
			o.logger.WithFields(map[string]interface{}{"entityId": entityID, "reason": result.Reason}).
				Warn("integrity guard: broken chain on read, failing open")
		}
		return nil
	}
	return serr.IntegrityViolation(entityID, &ledger.ChainBrokenError{EntityID: entityID, BrokenAt: result.BrokenAt, Reason: result.Reason})
}
