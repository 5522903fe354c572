package compliance

import (
	"context"
	"sync"
)

// StaticPolicyProvider serves a fixed rule set per resource type,
// shared across all tenants. Production deployments may back
// PolicyProvider with a tenant-aware store; this is the in-memory
// default used by tests.
type StaticPolicyProvider struct {
	mu    sync.RWMutex
	rules map[string][]PolicyRule // keyed by resourceType
}

func NewStaticPolicyProvider() *StaticPolicyProvider {
	return &StaticPolicyProvider{rules: make(map[string][]PolicyRule)}
}

// SetPolicies replaces the rule set for resourceType.
func (p *StaticPolicyProvider) SetPolicies(resourceType string, rules []PolicyRule) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rules[resourceType] = rules
}

func (p *StaticPolicyProvider) Policies(_ context.Context, _, resourceType string) ([]PolicyRule, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.rules[resourceType], nil
}

// PolicyByID finds a rule by ID across every resource type, so custom
// permission-condition predicates can reference a rule regardless of
// which resource bucket it was declared under.
func (p *StaticPolicyProvider) PolicyByID(_ context.Context, _, ruleID string) (PolicyRule, bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, rules := range p.rules {
		for _, rule := range rules {
			if rule.ID == ruleID {
				return rule, true, nil
			}
		}
	}
	return PolicyRule{}, false, nil
}
