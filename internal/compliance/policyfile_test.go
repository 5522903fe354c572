package compliance

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r3e-network/security-governance-core/internal/workspace"
)

const testPolicyYAML = `
policies:
  expense:
    - id: spend.daily.freeze
      effect: FREEZE
      order: 0
      predicate:
        type: numericThreshold
        path: dailyVelocity
        op: gt
        threshold: 10000
  invite:
    - id: invite.role.restricted
      effect: DENY
      order: 0
      predicate:
        type: stringEquals
        path: role
        allowed: ["owner"]
`

func writeTempPolicyFile(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "policies.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadPolicyFile(t *testing.T) {
	path := writeTempPolicyFile(t, testPolicyYAML)

	provider, err := LoadPolicyFile(path)
	require.NoError(t, err)

	rules, err := provider.Policies(context.Background(), "tenant-1", "expense")
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "spend.daily.freeze", rules[0].ID)
	assert.Equal(t, workspace.EffectFreeze, rules[0].Effect)

	matched, err := rules[0].Predicate(nil, RequestContext{Metrics: map[string]float64{"dailyVelocity": 12000}})
	require.NoError(t, err)
	assert.True(t, matched)

	inviteRules, err := provider.Policies(context.Background(), "tenant-1", "invite")
	require.NoError(t, err)
	require.Len(t, inviteRules, 1)
	assert.Equal(t, workspace.EffectDeny, inviteRules[0].Effect)
}

func TestLoadPolicyFileRejectsUnknownEffect(t *testing.T) {
	path := writeTempPolicyFile(t, `
policies:
  expense:
    - id: bad
      effect: MAYBE
      predicate:
        type: numericThreshold
        path: dailyVelocity
        op: gt
        threshold: 1
`)

	_, err := LoadPolicyFile(path)
	assert.Error(t, err)
}

func TestLoadPolicyFileRejectsUnknownPredicateType(t *testing.T) {
	path := writeTempPolicyFile(t, `
policies:
  expense:
    - id: bad
      effect: DENY
      predicate:
        type: regex
        path: dailyVelocity
`)

	_, err := LoadPolicyFile(path)
	assert.Error(t, err)
}

func TestLoadPolicyFileOrDefaultFallsBackOnMissingFile(t *testing.T) {
	fallback := NewStaticPolicyProvider()
	fallback.SetPolicies("expense", []PolicyRule{{ID: "fallback-rule", Effect: workspace.EffectAllow}})

	provider := LoadPolicyFileOrDefault(filepath.Join(t.TempDir(), "missing.yaml"), fallback)
	assert.Same(t, fallback, provider)
}
