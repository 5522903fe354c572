// Package rbac implements the hierarchical RBAC evaluator: membership
// resolution across a workspace forest, role-chain
// inheritance, composed effective permission sets, and contextual
// condition evaluation.
package rbac

import (
	"context"
	"fmt"
	"strings"
	"time"

	serr "github.com/r3e-network/security-governance-core/infrastructure/errors"
	"github.com/r3e-network/security-governance-core/infrastructure/logging"
	"github.com/r3e-network/security-governance-core/infrastructure/metrics"
	"github.com/r3e-network/security-governance-core/internal/ledger"
	"github.com/r3e-network/security-governance-core/internal/workspace"
)

// RequestContext carries the ambient attributes conditions evaluate against.
type RequestContext struct {
	IP        string
	UserAgent string
	Timestamp time.Time
	Amount    float64
}

// GeoLookup resolves an IP to a country code. Injected: geographic IP
// resolution is a Non-goal, assumed provided externally.
type GeoLookup interface {
	CountryForIP(ctx context.Context, ip string) (string, error)
}

// PolicyOverride is the seam into the compliance orchestrator. It
// serves two spots in evaluation: a permission miss may be overridden
// with ALLOW/DENY/FLAG, and a custom-predicate condition delegates its
// predicate to the policy engine. bootstrap adapts the concrete
// orchestrator onto this interface, so rbac never imports compliance
// and there is no import cycle.
type PolicyOverride interface {
	EvaluatePermissionOverride(ctx context.Context, workspaceID, permissionCode string, reqCtx RequestContext) (workspace.PolicyEffect, string, error)
	EvaluateCustomPredicate(ctx context.Context, workspaceID, predicateID string, reqCtx RequestContext) (bool, error)
}

// PermissionCache is the narrow caching seam satisfied by the
// epoch-scoped cache tier (internal/cache), injected so rbac never
// imports the cache package directly.
type PermissionCache interface {
	GetEffectiveSet(key string, epoch int64) (map[string]bool, bool)
	SetEffectiveSet(key string, epoch int64, value map[string]bool)
}

// Decision is the outcome of a permission Check.
type Decision struct {
	Allow           bool
	Reason          string
	MatchedPolicyID string
}

// Evaluator resolves effective permissions for a principal inside a
// workspace tree.
type Evaluator struct {
	store   workspace.Store
	geo     GeoLookup
	ledger  *ledger.Ledger
	override PolicyOverride
	cache   PermissionCache

	logger  *logging.Logger
	metrics *metrics.Metrics
}

// Option configures an Evaluator.
type Option func(*Evaluator)

func WithGeoLookup(g GeoLookup) Option       { return func(e *Evaluator) { e.geo = g } }
func WithLedger(l *ledger.Ledger) Option     { return func(e *Evaluator) { e.ledger = l } }
func WithPolicyOverride(p PolicyOverride) Option { return func(e *Evaluator) { e.override = p } }
func WithPermissionCache(c PermissionCache) Option { return func(e *Evaluator) { e.cache = c } }
func WithLogger(l *logging.Logger) Option    { return func(e *Evaluator) { e.logger = l } }
func WithMetrics(m *metrics.Metrics) Option  { return func(e *Evaluator) { e.metrics = m } }

// New constructs an Evaluator over store.
func New(store workspace.Store, opts ...Option) *Evaluator {
	e := &Evaluator{store: store}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// AssignRole changes principalID's role within workspaceID to newRoleID
// and records the transition on the ledger. The
// caller's own permission to perform the reassignment is a
// Check("membership:manage", ...) call the HTTP layer makes first;
// AssignRole itself only enforces that newRoleID exists in workspaceID.
func (e *Evaluator) AssignRole(ctx context.Context, principalID, workspaceID, newRoleID, performedBy string) error {
	membership, ok, err := e.store.GetMembership(ctx, principalID, workspaceID)
	if err != nil {
		return err
	}
	if !ok {
		return serr.NotFound("Membership", principalID)
	}

	if role, roleOK, err := e.store.GetRole(ctx, newRoleID); err != nil {
		return err
	} else if !roleOK || role.WorkspaceID != workspaceID {
		return serr.NotFound("Role", newRoleID)
	}

	oldRoleID := membership.RoleID
	if oldRoleID == newRoleID {
		return nil
	}

	membership.RoleID = newRoleID
	if err := e.store.PutMembership(ctx, membership); err != nil {
		return err
	}

	// Bump the workspace's CacheEpoch so the next effectivePermissionSet
	// lookup misses the stale cached set, matching how
	// compliance.Orchestrator.freezeWorkspace invalidates on a status
	// change rather than reaching into the cache tier directly.
	if ws, ok, err := e.store.GetWorkspace(ctx, workspaceID); err != nil {
		return err
	} else if ok {
		ws.CacheEpoch++
		if err := e.store.PutWorkspace(ctx, ws); err != nil {
			return err
		}
	}

	if e.ledger != nil {
		_, err = e.ledger.Append(ctx, ledger.AppendRequest{
			EntityID:    principalID,
			EntityModel: "Membership",
			EventType:   ledger.EventUpdated,
			WorkspaceID: workspaceID,
			PerformedBy: performedBy,
			Payload: map[string]interface{}{
				"field": "role",
				"old":   oldRoleID,
				"new":   newRoleID,
			},
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// writeActions are permission actions that mutate state; a
// compliance-frozen workspace denies these while still allowing
// "*:view" and "audit:*" to owners and managers.
func isWriteAction(permissionCode string) bool {
	lower := strings.ToLower(permissionCode)
	if strings.HasSuffix(lower, "_view") || strings.HasSuffix(lower, ":view") {
		return false
	}
	if strings.HasPrefix(lower, "audit") {
		return false
	}
	return true
}

// Check resolves whether principalID may exercise permissionCode inside
// workspaceID, and unconditionally appends an access-attempt audit
// entry.
func (e *Evaluator) Check(ctx context.Context, principalID, workspaceID, permissionCode string, reqCtx RequestContext) (Decision, error) {
	decision, err := e.evaluate(ctx, principalID, workspaceID, permissionCode, reqCtx)
	e.auditAttempt(ctx, principalID, workspaceID, permissionCode, decision, err)
	if e.metrics != nil {
		outcome := "deny"
		if decision.Allow {
			outcome = "allow"
		}
		e.metrics.RecordRBACDecision("rbac", outcome, "none")
	}
	return decision, err
}

func (e *Evaluator) evaluate(ctx context.Context, principalID, workspaceID, permissionCode string, reqCtx RequestContext) (Decision, error) {
	ws, ok, err := e.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return Decision{}, err
	}
	if !ok {
		return Decision{}, serr.NotFound("Workspace", workspaceID)
	}

	if ws.Status == workspace.StatusSuspended {
		return Decision{Allow: false, Reason: "workspace suspended"}, nil
	}

	if ws.Status == workspace.StatusComplianceFrozen {
		membership, hasMembership, err := e.resolveMembership(ctx, principalID, ws)
		if err != nil {
			return Decision{}, err
		}
		isOwnerOrManager := ws.OwnerPrincipalID == principalID
		if hasMembership {
			role, _, roleErr := e.store.GetRole(ctx, membership.RoleID)
			if roleErr == nil && strings.EqualFold(role.Name, "manager") {
				isOwnerOrManager = true
			}
		}
		if isWriteAction(permissionCode) {
			return Decision{Allow: false, Reason: "workspace frozen by compliance policy"}, nil
		}
		if !isOwnerOrManager {
			return Decision{Allow: false, Reason: "workspace frozen by compliance policy"}, nil
		}
		// Owners/managers retain *:view and audit:* during a freeze; fall
		// through to normal resolution for those reads.
	}

	if ws.OwnerPrincipalID == principalID {
		return Decision{Allow: true, Reason: "workspace owner"}, nil
	}

	membership, hasMembership, err := e.resolveMembership(ctx, principalID, ws)
	if err != nil {
		return Decision{}, err
	}
	if !hasMembership {
		return e.tryOverride(ctx, workspaceID, permissionCode, reqCtx, "no membership")
	}
	if membership.Status != workspace.MembershipActive {
		return Decision{Allow: false, Reason: "membership inactive"}, nil
	}

	effective, err := e.effectivePermissionSet(ctx, membership, ws)
	if err != nil {
		return Decision{}, err
	}

	if !effective[permissionCode] {
		return e.tryOverride(ctx, workspaceID, permissionCode, reqCtx, "permission not granted")
	}

	perm, hasPerm, err := e.store.GetPermission(ctx, permissionCode)
	if err != nil {
		return Decision{}, err
	}
	if hasPerm {
		for _, cond := range perm.Conditions {
			ok, err := e.evaluateCondition(ctx, workspaceID, cond, reqCtx)
			if err != nil {
				return Decision{}, err
			}
			if !ok {
				return e.tryOverride(ctx, workspaceID, permissionCode, reqCtx, fmt.Sprintf("condition %s failed", cond.Kind))
			}
		}
	}

	return Decision{Allow: true, Reason: "granted"}, nil
}

func (e *Evaluator) tryOverride(ctx context.Context, workspaceID, permissionCode string, reqCtx RequestContext, denyReason string) (Decision, error) {
	if e.override == nil {
		return Decision{Allow: false, Reason: denyReason}, nil
	}
	effect, policyID, err := e.override.EvaluatePermissionOverride(ctx, workspaceID, permissionCode, reqCtx)
	if err != nil {
		return Decision{}, err
	}
	switch effect {
	case workspace.EffectAllow:
		return Decision{Allow: true, Reason: "policy override", MatchedPolicyID: policyID}, nil
	case workspace.EffectFlag:
		return Decision{Allow: true, Reason: "policy flagged", MatchedPolicyID: policyID}, nil
	default:
		return Decision{Allow: false, Reason: denyReason, MatchedPolicyID: policyID}, nil
	}
}

// resolveMembership does a direct lookup, then (if inheritMembers is
// set) walks the parent chain.
func (e *Evaluator) resolveMembership(ctx context.Context, principalID string, ws workspace.Workspace) (workspace.Membership, bool, error) {
	m, ok, err := e.store.GetMembership(ctx, principalID, ws.ID)
	if err != nil {
		return workspace.Membership{}, false, err
	}
	if ok {
		return m, true, nil
	}
	if !ws.InheritanceSettings.InheritMembers || ws.ParentID == "" {
		return workspace.Membership{}, false, nil
	}

	parent, ok, err := e.store.GetWorkspace(ctx, ws.ParentID)
	if err != nil || !ok {
		return workspace.Membership{}, false, err
	}
	return e.resolveMembership(ctx, principalID, parent)
}

// effectivePermissionSet resolves the role chain with a cycle guard,
// then composes
// E = (rolePerms ∪ customGrants) \ restrictedGrants. A restrictedGrant
// strictly shadows a roleGrant even from another role in the chain.
func (e *Evaluator) effectivePermissionSet(ctx context.Context, m workspace.Membership, ws workspace.Workspace) (map[string]bool, error) {
	cacheKey := m.PrincipalID + "|" + ws.ID
	if e.cache != nil {
		if cached, ok := e.cache.GetEffectiveSet(cacheKey, ws.CacheEpoch); ok {
			return cached, nil
		}
	}

	rolePerms, err := e.resolveRoleChain(ctx, m.RoleID, ws.ID)
	if err != nil {
		return nil, err
	}

	effective := make(map[string]bool, len(rolePerms)+len(m.CustomGrants))
	for code := range rolePerms {
		effective[code] = true
	}
	for _, code := range m.CustomGrants {
		effective[code] = true
	}
	for _, code := range m.RestrictedGrants {
		delete(effective, code)
	}

	if e.cache != nil {
		e.cache.SetEffectiveSet(cacheKey, ws.CacheEpoch, effective)
	}
	return effective, nil
}

func (e *Evaluator) resolveRoleChain(ctx context.Context, roleID, workspaceID string) (map[string]bool, error) {
	visited := make(map[string]bool)
	permissions := make(map[string]bool)

	currentID := roleID
	for currentID != "" {
		if visited[currentID] {
			e.auditRoleCycle(ctx, workspaceID, currentID)
			break
		}
		visited[currentID] = true

		role, ok, err := e.store.GetRole(ctx, currentID)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		for _, code := range role.Permissions {
			permissions[code] = true
		}
		currentID = role.InheritsFrom
	}

	return permissions, nil
}

func (e *Evaluator) auditRoleCycle(ctx context.Context, workspaceID, roleID string) {
	if e.ledger == nil {
		return
	}
	_, _ = e.ledger.Append(ctx, ledger.AppendRequest{
		EntityID:    roleID,
		EntityModel: "Role",
		EventType:   ledger.EventCustom,
		WorkspaceID: workspaceID,
		Payload: map[string]interface{}{
			"event":  "RoleCycleDetected",
			"roleId": roleID,
		},
	})
}

func (e *Evaluator) auditAttempt(ctx context.Context, principalID, workspaceID, permissionCode string, decision Decision, evalErr error) {
	if e.ledger == nil {
		return
	}
	payload := map[string]interface{}{
		"permissionCode": permissionCode,
		"allow":          decision.Allow,
		"reason":         decision.Reason,
	}
	if decision.MatchedPolicyID != "" {
		payload["policyId"] = decision.MatchedPolicyID
	}
	if evalErr != nil {
		payload["error"] = evalErr.Error()
	}
	_, _ = e.ledger.Append(ctx, ledger.AppendRequest{
		EntityID:    principalID,
		EntityModel: "AccessAttempt",
		EventType:   ledger.EventCustom,
		WorkspaceID: workspaceID,
		PerformedBy: principalID,
		Payload:     payload,
	})
}

// evaluateCondition checks one attached condition against the request
// context.
func (e *Evaluator) evaluateCondition(ctx context.Context, workspaceID string, cond workspace.Condition, reqCtx RequestContext) (bool, error) {
	switch cond.Kind {
	case workspace.ConditionTimeWindow:
		hour := reqCtx.Timestamp.Hour()
		if cond.StartHour <= cond.EndHour {
			return hour >= cond.StartHour && hour <= cond.EndHour, nil
		}
		// Window wraps midnight.
		return hour >= cond.StartHour || hour <= cond.EndHour, nil

	case workspace.ConditionGeoAllowlist:
		if e.geo == nil || reqCtx.IP == "" {
			return true, nil
		}
		country, err := e.geo.CountryForIP(ctx, reqCtx.IP)
		if err != nil {
			return false, nil
		}
		return containsFold(cond.CountryAllowlist, country), nil

	case workspace.ConditionDeviceAllowlist:
		return containsFold(cond.DeviceAllowlist, reqCtx.UserAgent), nil

	case workspace.ConditionAmountLimit:
		return reqCtx.Amount <= cond.MaxAmount, nil

	case workspace.ConditionCustomPredicate:
		// The predicate runs in the policy engine behind the override
		// seam. No evaluator wired means the condition cannot be
		// checked, and a condition that cannot be checked must not
		// grant.
		if e.override == nil {
			return false, nil
		}
		return e.override.EvaluateCustomPredicate(ctx, workspaceID, cond.PredicateID, reqCtx)

	default:
		return true, nil
	}
}

func containsFold(list []string, target string) bool {
	for _, v := range list {
		if strings.EqualFold(v, target) {
			return true
		}
	}
	return false
}

// MatchResourcePattern matches exact, prefix (expenses/*), or wildcard
// (*) resource patterns;
// longest match wins, ties resolved DENY > ALLOW > FLAG.
func MatchResourcePattern(pattern, resource string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, "/*") {
		prefix := strings.TrimSuffix(pattern, "*")
		return strings.HasPrefix(resource, prefix)
	}
	return pattern == resource
}

// BestResourceMatch picks the longest-matching pattern among candidates
// for resource, resolving ties by effect priority (DENY > ALLOW > FLAG).
func BestResourceMatch(resource string, candidates []struct {
	Pattern string
	Effect  workspace.PolicyEffect
}) (string, workspace.PolicyEffect, bool) {
	bestLen := -1
	bestEffectRank := -1
	var bestPattern string
	var bestEffect workspace.PolicyEffect
	found := false

	// Tie-break ranks for equal-length patterns: DENY > ALLOW > FLAG.
	tieRank := map[workspace.PolicyEffect]int{
		workspace.EffectDeny:  3,
		workspace.EffectAllow: 2,
		workspace.EffectFlag:  1,
	}

	for _, c := range candidates {
		if !MatchResourcePattern(c.Pattern, resource) {
			continue
		}
		length := len(c.Pattern)
		rank := tieRank[c.Effect]
		if length > bestLen || (length == bestLen && rank > bestEffectRank) {
			bestLen = length
			bestEffectRank = rank
			bestPattern = c.Pattern
			bestEffect = c.Effect
			found = true
		}
	}
	return bestPattern, bestEffect, found
}
