package compliance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r3e-network/security-governance-core/internal/ledger"
	"github.com/r3e-network/security-governance-core/internal/workspace"
)

type fakePublisher struct {
	topics []string
}

func (f *fakePublisher) Publish(_ context.Context, topic string, _ interface{}) error {
	f.topics = append(f.topics, topic)
	return nil
}

func newTestLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	return ledger.New(ledger.NewMemoryStore(), []byte("test-key"))
}

func TestEvaluateAllowsWhenNoRuleMatches(t *testing.T) {
	provider := NewStaticPolicyProvider()
	provider.SetPolicies("expense", []PolicyRule{
		{ID: "p1", Effect: workspace.EffectDeny, Order: 0, Predicate: NumericThreshold("amount", GreaterThan, 100000)},
	})

	o := New(provider)
	decision, err := o.Evaluate(context.Background(), "ws-1", "expense", []byte(`{"amount": 50}`), RequestContext{})
	require.NoError(t, err)
	assert.Equal(t, workspace.EffectAllow, decision.Effect)
}

// TestDenyOutranksFlagEvenWhenFlagDeclaredFirst covers the effect
// priority tie-break (DENY > FREEZE > FLAG > ALLOW) independent of
// declaration order.
func TestDenyOutranksFlagEvenWhenFlagDeclaredFirst(t *testing.T) {
	provider := NewStaticPolicyProvider()
	provider.SetPolicies("expense", []PolicyRule{
		{ID: "flag-rule", Effect: workspace.EffectFlag, Order: 0, Predicate: func(body []byte, rc RequestContext) (bool, error) { return true, nil }},
		{ID: "deny-rule", Effect: workspace.EffectDeny, Order: 1, Predicate: func(body []byte, rc RequestContext) (bool, error) { return true, nil }},
	})

	o := New(provider)
	decision, err := o.Evaluate(context.Background(), "ws-1", "expense", []byte(`{}`), RequestContext{})
	require.Error(t, err)
	assert.Equal(t, workspace.EffectDeny, decision.Effect)
	assert.Equal(t, "deny-rule", decision.PolicyID)
}

// TestFreezeTransitionsWorkspaceAndPublishes: a
// velocity threshold breach freezes the workspace and publishes
// workspace.frozen.
func TestFreezeTransitionsWorkspaceAndPublishes(t *testing.T) {
	wsStore := workspace.NewMemoryStore()
	require.NoError(t, wsStore.PutWorkspace(context.Background(), workspace.Workspace{
		ID: "ws-2", Status: workspace.StatusActive, CacheEpoch: 1,
	}))

	provider := NewStaticPolicyProvider()
	provider.SetPolicies("expense", []PolicyRule{
		{ID: "velocity", Effect: workspace.EffectFreeze, Order: 0, Predicate: NumericThreshold("dailyVelocity", GreaterThan, 10000)},
	})

	pub := &fakePublisher{}
	o := New(provider, WithWorkspaceStore(wsStore), WithPublisher(pub), WithLedger(newTestLedger(t)))

	decision, err := o.Evaluate(context.Background(), "ws-2", "expense", []byte(`{}`), RequestContext{
		Metrics: map[string]float64{"dailyVelocity": 12000},
	})
	require.Error(t, err)
	assert.Equal(t, workspace.EffectFreeze, decision.Effect)

	ws, ok, err := wsStore.GetWorkspace(context.Background(), "ws-2")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, workspace.StatusComplianceFrozen, ws.Status)
	assert.Contains(t, pub.topics, "workspace.frozen")
}

func TestFlagAttachesComplianceFlagWithoutRejecting(t *testing.T) {
	provider := NewStaticPolicyProvider()
	provider.SetPolicies("expense", []PolicyRule{
		{ID: "review", Effect: workspace.EffectFlag, Order: 0, Predicate: NumericThreshold("amount", GreaterThan, 1000)},
	})

	o := New(provider)
	decision, err := o.Evaluate(context.Background(), "ws-3", "expense", []byte(`{"amount": 5000}`), RequestContext{})
	require.NoError(t, err)
	assert.Equal(t, workspace.EffectFlag, decision.Effect)
	assert.Equal(t, "review", decision.ComplianceFlag)
}

func TestPredicateTimeoutTreatedAsNoMatch(t *testing.T) {
	provider := NewStaticPolicyProvider()
	provider.SetPolicies("expense", []PolicyRule{
		{ID: "slow", Effect: workspace.EffectDeny, Order: 0, Timeout: 1, Predicate: func(body []byte, rc RequestContext) (bool, error) {
			time.Sleep(50 * time.Millisecond)
			return true, nil
		}},
	})

	o := New(provider)
	decision, err := o.Evaluate(context.Background(), "ws-4", "expense", []byte(`{}`), RequestContext{})
	require.NoError(t, err)
	assert.Equal(t, workspace.EffectAllow, decision.Effect)
}

func TestIntegrityGuardFailsClosedOnWriteFailsOpenOnRead(t *testing.T) {
	ld := newTestLedger(t)
	ctx := context.Background()
	_, err := ld.Append(ctx, ledger.AppendRequest{EntityID: "e1", EntityModel: "Expense", EventType: ledger.EventCreated, Payload: map[string]interface{}{"amount": 10}})
	require.NoError(t, err)

	o := New(NewStaticPolicyProvider(), WithLedger(ld))
	require.NoError(t, o.CheckIntegrity(ctx, "e1", true))
	require.NoError(t, o.CheckIntegrity(ctx, "e1", false))
}

func TestEvaluatePredicateRunsRuleByID(t *testing.T) {
	provider := NewStaticPolicyProvider()
	provider.SetPolicies("expense", []PolicyRule{
		{ID: "velocity.ok", Effect: workspace.EffectAllow, Order: 0,
			Predicate: NumericThreshold("dailyVelocity", LessThan, 10000)},
	})

	o := New(provider)

	under, err := o.EvaluatePredicate(context.Background(), "ws-5", "velocity.ok",
		RequestContext{Metrics: map[string]float64{"dailyVelocity": 500}})
	require.NoError(t, err)
	assert.True(t, under)

	over, err := o.EvaluatePredicate(context.Background(), "ws-5", "velocity.ok",
		RequestContext{Metrics: map[string]float64{"dailyVelocity": 25000}})
	require.NoError(t, err)
	assert.False(t, over)
}

func TestEvaluatePredicateUnknownIDFailsClosed(t *testing.T) {
	o := New(NewStaticPolicyProvider())
	matched, err := o.EvaluatePredicate(context.Background(), "ws-5", "no.such.predicate", RequestContext{})
	require.NoError(t, err)
	assert.False(t, matched)
}

// bareProvider implements PolicyProvider without PredicateResolver.
type bareProvider struct{}

func (bareProvider) Policies(context.Context, string, string) ([]PolicyRule, error) { return nil, nil }

func TestEvaluatePredicateFailsClosedWithoutResolver(t *testing.T) {
	o := New(bareProvider{})
	matched, err := o.EvaluatePredicate(context.Background(), "ws-5", "anything", RequestContext{})
	require.NoError(t, err)
	assert.False(t, matched)
}

func TestPolicyByIDSearchesAcrossResourceTypes(t *testing.T) {
	provider := NewStaticPolicyProvider()
	provider.SetPolicies("expense", []PolicyRule{{ID: "a", Effect: workspace.EffectAllow}})
	provider.SetPolicies("invoice", []PolicyRule{{ID: "b", Effect: workspace.EffectDeny}})

	rule, found, err := provider.PolicyByID(context.Background(), "ws-1", "b")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, workspace.EffectDeny, rule.Effect)

	_, found, err = provider.PolicyByID(context.Background(), "ws-1", "missing")
	require.NoError(t, err)
	assert.False(t, found)
}
