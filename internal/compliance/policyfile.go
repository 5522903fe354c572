package compliance

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/r3e-network/security-governance-core/internal/workspace"
)

// policyFile is the on-disk YAML shape operators use to declare
// compliance rules without a redeploy: a YAML document unmarshaled
// into typed settings, validated, then turned into the live rule set
// the orchestrator consumes.
type policyFile struct {
	Policies map[string][]ruleSpec `yaml:"policies"`
}

type ruleSpec struct {
	ID         string        `yaml:"id"`
	Effect     string        `yaml:"effect"`
	Order      int           `yaml:"order"`
	FailClosed bool          `yaml:"failClosed"`
	Timeout    time.Duration `yaml:"timeout"`
	Predicate  predicateSpec `yaml:"predicate"`
}

type predicateSpec struct {
	Type      string   `yaml:"type"` // "numericThreshold" | "stringEquals"
	Path      string   `yaml:"path"`
	Op        string   `yaml:"op"`        // gt | lt | eq, for numericThreshold
	Threshold float64  `yaml:"threshold"` // for numericThreshold
	Allowed   []string `yaml:"allowed"`   // for stringEquals
}

// LoadPolicyFile reads a YAML policy document from path and returns a
// StaticPolicyProvider populated with its rules, keyed by resource
// type exactly as bootstrap.registerDefaultPolicies keys its
// hardcoded set.
func LoadPolicyFile(path string) (*StaticPolicyProvider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}

	var doc policyFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse policy file: %w", err)
	}

	provider := NewStaticPolicyProvider()
	for resourceType, specs := range doc.Policies {
		rules := make([]PolicyRule, 0, len(specs))
		for _, spec := range specs {
			rule, err := spec.toPolicyRule()
			if err != nil {
				return nil, fmt.Errorf("policy %q: %w", spec.ID, err)
			}
			rules = append(rules, rule)
		}
		provider.SetPolicies(resourceType, rules)
	}
	return provider, nil
}

// LoadPolicyFileOrDefault loads path and falls back to fallback on any
// read or parse error, logging nothing itself — callers decide whether
// a missing operator-supplied policy file is worth a warning.
func LoadPolicyFileOrDefault(path string, fallback *StaticPolicyProvider) *StaticPolicyProvider {
	provider, err := LoadPolicyFile(path)
	if err != nil {
		return fallback
	}
	return provider
}

func (s ruleSpec) toPolicyRule() (PolicyRule, error) {
	effect := workspace.PolicyEffect(s.Effect)
	switch effect {
	case workspace.EffectAllow, workspace.EffectFlag, workspace.EffectDeny, workspace.EffectFreeze:
	default:
		return PolicyRule{}, fmt.Errorf("unknown effect %q", s.Effect)
	}

	predicate, err := s.Predicate.build()
	if err != nil {
		return PolicyRule{}, err
	}

	return PolicyRule{
		ID:         s.ID,
		Effect:     effect,
		Order:      s.Order,
		Timeout:    s.Timeout,
		FailClosed: s.FailClosed,
		Predicate:  predicate,
	}, nil
}

func (p predicateSpec) build() (Predicate, error) {
	switch p.Type {
	case "numericThreshold":
		op := Comparator(p.Op)
		switch op {
		case GreaterThan, LessThan, Equal:
		default:
			return nil, fmt.Errorf("unknown comparator %q", p.Op)
		}
		return NumericThreshold(p.Path, op, p.Threshold), nil
	case "stringEquals":
		return StringEquals(p.Path, p.Allowed...), nil
	default:
		return nil, fmt.Errorf("unknown predicate type %q", p.Type)
	}
}
