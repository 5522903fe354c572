// Package bootstrap constructs the process-wide dependency graph once:
// the event bus, cache, ledger, and job orchestrator are explicit
// dependencies held by a Container and injected into request-scoped
// handlers, never accessed through a package-level var.
package bootstrap

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	apierrors "github.com/r3e-network/security-governance-core/infrastructure/errors"
	"github.com/r3e-network/security-governance-core/infrastructure/logging"
	"github.com/r3e-network/security-governance-core/infrastructure/metrics"
	"github.com/r3e-network/security-governance-core/infrastructure/middleware"
	"github.com/r3e-network/security-governance-core/internal/cache"
	"github.com/r3e-network/security-governance-core/internal/compliance"
	"github.com/r3e-network/security-governance-core/internal/config"
	"github.com/r3e-network/security-governance-core/internal/eventbus"
	"github.com/r3e-network/security-governance-core/internal/jobs"
	"github.com/r3e-network/security-governance-core/internal/ledger"
	"github.com/r3e-network/security-governance-core/internal/mfa"
	"github.com/r3e-network/security-governance-core/internal/principal"
	"github.com/r3e-network/security-governance-core/internal/rbac"
	"github.com/r3e-network/security-governance-core/internal/workspace"
)

// Container holds every process-wide singleton the core's four
// subsystems depend on. It is constructed once by New and torn down
// once by Stop; handlers receive it (or its members) as an explicit
// dependency rather than reaching for package-level state.
type Container struct {
	Config   *config.Config
	Logger   *logging.Logger
	Metrics  *metrics.Metrics
	Registry *prometheus.Registry
	Health   *middleware.HealthChecker

	EventBus *eventbus.Bus
	L1Cache  *cache.L1
	l2Cache  *cache.L2
	Cache    *cache.MultiTier
	RBACPerm *cache.EffectiveSetCache

	WorkspaceStore workspace.Store
	PrincipalStore principal.Store

	Ledger *ledger.Ledger

	RBAC       *rbac.Evaluator
	MFA        *mfa.Orchestrator
	Compliance *compliance.Orchestrator
	Invites    *workspace.InviteService
	Jobs       *jobs.Orchestrator
	Velocity   *jobs.MemoryVelocityStore

	// MasterKey encrypts TOTP secrets at rest (internal/mfa.InitiateSetup).
	// It is derived from the ledger signing key rather than provisioned
	// separately, which is adequate for this core's threat model: both
	// secrets already require the same operator-controlled input to
	// reconstruct.
	MasterKey []byte
}

// Stores groups the externally-supplied (or in-memory default)
// persistence seams the Container wires together. A nil field gets an
// in-memory fallback.
type Stores struct {
	Workspace workspace.Store
	Principal principal.Store
	Ledger    ledger.EntryStore
	Jobs      jobs.Store
}

// New constructs a Container from cfg and stores. It does not start any
// background goroutines beyond what its members construct internally
// (e.g. the L1 cache's own prune loop); periodic job ticks are driven
// externally, by cmd/server's cron scheduler calling Jobs.Tick or by
// direct Jobs.Trigger calls.
func New(ctx context.Context, cfg *config.Config, stores Stores) (*Container, error) {
	if cfg == nil {
		cfg = config.New()
	}

	logger := logging.New("security-governance-core", cfg.Logging.Level, cfg.Logging.Format)

	// Each Container owns its registry so repeated construction (tests,
	// embedded use) never collides on the global default registerer.
	registry := prometheus.NewRegistry()
	m := metrics.NewWithRegistry("security-governance-core", registry)

	workspaceStore := stores.Workspace
	if workspaceStore == nil {
		workspaceStore = workspace.NewMemoryStore()
	}
	principalStore := stores.Principal
	if principalStore == nil {
		principalStore = principal.NewMemoryStore()
	}
	entryStore := stores.Ledger
	if entryStore == nil {
		entryStore = ledger.NewMemoryStore()
	}
	jobStore := stores.Jobs
	if jobStore == nil {
		jobStore = jobs.NewMemoryStore()
	}

	signingKey := []byte(cfg.Ledger.SigningKey)
	if len(signingKey) == 0 {
		return nil, fmt.Errorf("ledger signing key is required")
	}

	bus := eventbus.New(eventbus.WithLogger(logger), eventbus.WithMetrics(m))

	l1 := cache.NewL1(cfg.Cache.L1TTL, 10*time.Minute)

	var l2 *cache.L2
	if cfg.Cache.L2Addr != "" {
		var err error
		l2, err = cache.NewL2(ctx, cfg.Cache.L2Addr, "", cfg.Cache.L2DB)
		if err != nil {
			logger.WithError(err).Warn("L2 cache unavailable, degrading to L1-only")
			l2 = nil
		}
	}

	tierOpts := []cache.Option{cache.WithMetrics(m), cache.WithServiceLabel("security-governance-core")}
	if l2 != nil {
		tierOpts = append(tierOpts, cache.WithL2(l2))
	}
	multiTier := cache.NewMultiTier(l1, cfg.Cache.L1TTL, tierOpts...)
	effSet := cache.NewEffectiveSetCache(multiTier, cfg.RBAC.DecisionCacheTTL)

	led := ledger.New(entryStore, signingKey, ledger.WithLogger(logger), ledger.WithMetrics(m))

	policies := compliance.NewStaticPolicyProvider()
	registerDefaultPolicies(policies)
	if cfg.Compliance.PolicyFile != "" {
		if loaded, err := compliance.LoadPolicyFile(cfg.Compliance.PolicyFile); err != nil {
			logger.WithError(err).WithFields(map[string]interface{}{"path": cfg.Compliance.PolicyFile}).
				Warn("compliance policy file unreadable, keeping built-in default policies")
		} else {
			policies = loaded
		}
	}
	complianceOrch := compliance.New(policies,
		compliance.WithWorkspaceStore(workspaceStore),
		compliance.WithLedger(led),
		compliance.WithPublisher(busPublisher{bus}),
		compliance.WithLogger(logger),
		compliance.WithMetrics(m),
	)

	velocity := jobs.NewMemoryVelocityStore()

	evaluator := rbac.New(workspaceStore,
		rbac.WithLedger(led),
		rbac.WithPermissionCache(effSet),
		rbac.WithPolicyOverride(policyOverrideAdapter{compliance: complianceOrch, velocity: velocity}),
		rbac.WithLogger(logger),
		rbac.WithMetrics(m),
	)

	mfaOrch := mfa.New(principalStore,
		mfa.WithLedger(led),
		mfa.WithLogger(logger),
		mfa.WithMetrics(m),
	)

	invites := workspace.NewInviteService(workspaceStore)

	jobOrch := jobs.New(jobStore, jobs.WithLogger(logger), jobs.WithMetrics(m))
	registerJobs(jobOrch, workspaceStore, multiTier, velocity, led)

	health := middleware.NewHealthChecker(string(cfg.Env))
	if l2 != nil {
		l2ref := l2
		health.RegisterCheck("l2-cache", func() error { return l2ref.Ping(context.Background()) })
	}

	c := &Container{
		Config:         cfg,
		Logger:         logger,
		Metrics:        m,
		Registry:       registry,
		Health:         health,
		EventBus:       bus,
		L1Cache:        l1,
		l2Cache:        l2,
		Cache:          multiTier,
		RBACPerm:       effSet,
		WorkspaceStore: workspaceStore,
		PrincipalStore: principalStore,
		Ledger:         led,
		RBAC:           evaluator,
		MFA:            mfaOrch,
		Compliance:     complianceOrch,
		Invites:        invites,
		Jobs:           jobOrch,
		Velocity:       velocity,
		MasterKey:      derivedMasterKey(signingKey),
	}
	return c, nil
}

// derivedMasterKey reduces signingKey to the 32 bytes EncryptEnvelope
// requires.
func derivedMasterKey(signingKey []byte) []byte {
	sum := sha256.Sum256(signingKey)
	return sum[:]
}

// busPublisher adapts *eventbus.Bus to compliance.EventPublisher.
type busPublisher struct{ bus *eventbus.Bus }

func (p busPublisher) Publish(ctx context.Context, topic string, payload interface{}) error {
	return p.bus.Publish(ctx, topic, payload)
}

// policyOverrideAdapter adapts *compliance.Orchestrator to
// rbac.PolicyOverride, the same way busPublisher adapts the bus: the
// rbac package keeps depending on its own interface while the policy
// engine stays ignorant of rbac's types.
type policyOverrideAdapter struct {
	compliance *compliance.Orchestrator
	velocity   *jobs.MemoryVelocityStore
}

// resourceTypeForPermission maps a permission code onto the policy
// bucket its resource belongs to: "EXPENSE_CREATE" and "expense:create"
// both evaluate the "expense" rules.
func resourceTypeForPermission(permissionCode string) string {
	lower := strings.ToLower(permissionCode)
	if i := strings.IndexAny(lower, "_:"); i > 0 {
		return lower[:i]
	}
	return lower
}

func (a policyOverrideAdapter) requestContext(workspaceID, resourceType string, reqCtx rbac.RequestContext) compliance.RequestContext {
	rc := compliance.RequestContext{
		TenantID:     workspaceID,
		ResourceType: resourceType,
		IP:           reqCtx.IP,
		Time:         reqCtx.Timestamp,
	}
	if a.velocity != nil {
		rc.Metrics = map[string]float64{"dailyVelocity": a.velocity.DailyVelocity(workspaceID)}
	}
	return rc
}

// EvaluatePermissionOverride runs the tenant's policy rules for the
// permission's resource type. A DENY/FREEZE verdict comes back as an
// effect, not an error: the rbac caller only needs to know the
// override's direction. No matching rule means no override.
func (a policyOverrideAdapter) EvaluatePermissionOverride(ctx context.Context, workspaceID, permissionCode string, reqCtx rbac.RequestContext) (workspace.PolicyEffect, string, error) {
	resourceType := resourceTypeForPermission(permissionCode)
	rc := a.requestContext(workspaceID, resourceType, reqCtx)

	decision, err := a.compliance.Evaluate(ctx, workspaceID, resourceType, nil, rc)
	if err != nil {
		if svcErr := apierrors.GetServiceError(err); svcErr != nil &&
			(svcErr.Kind == apierrors.KindPermissionDenied || svcErr.Kind == apierrors.KindCircuitFrozen) {
			return decision.Effect, decision.PolicyID, nil
		}
		return "", "", err
	}
	if decision.PolicyID == "" {
		return "", "", nil
	}
	return decision.Effect, decision.PolicyID, nil
}

// EvaluateCustomPredicate delegates a custom permission condition to
// the policy engine's predicate-by-id evaluation.
func (a policyOverrideAdapter) EvaluateCustomPredicate(ctx context.Context, workspaceID, predicateID string, reqCtx rbac.RequestContext) (bool, error) {
	return a.compliance.EvaluatePredicate(ctx, workspaceID, predicateID, a.requestContext(workspaceID, "", reqCtx))
}

// registerDefaultPolicies seeds the compliance rule set with the
// velocity-freeze policy: daily spend above 10000 trips the circuit
// breaker to FREEZE for "expense" writes.
func registerDefaultPolicies(p *compliance.StaticPolicyProvider) {
	p.SetPolicies("expense", []compliance.PolicyRule{
		{
			ID:        "spend.daily.freeze",
			Effect:    workspace.EffectFreeze,
			Order:     0,
			Predicate: compliance.NumericThreshold("dailyVelocity", compliance.GreaterThan, 10000),
		},
	})
}

// registerJobs wires the four periodic sweeps against
// the Container's stores, cache tier, velocity sink, and ledger.
func registerJobs(o *jobs.Orchestrator, ws workspace.Store, tier *cache.MultiTier, velocity *jobs.MemoryVelocityStore, led *ledger.Ledger) {
	o.Register(jobs.Definition{
		Name:            "accessAuditor",
		Period:          24 * time.Hour,
		ExpectedRuntime: 5 * time.Minute,
		Run: (&jobs.AccessAuditor{
			Workspaces: ws,
		}).Run,
	})
	o.Register(jobs.Definition{
		Name:            "liquidityAnalyzer",
		Period:          24 * time.Hour,
		ExpectedRuntime: 10 * time.Minute,
		Run: (&jobs.LiquidityAnalyzer{
			Workspaces:   ws,
			DailySpend:   spendLast24(led),
			CeilingRatio: 0.8,
		}).Run,
	})
	o.Register(jobs.Definition{
		Name:            "velocityCalculator",
		Period:          10 * time.Minute,
		ExpectedRuntime: time.Minute,
		Run: (&jobs.VelocityCalculator{
			Workspaces:  ws,
			SpendLast24: spendLast24(led),
			Sink:        velocity,
		}).Run,
	})
	o.Register(jobs.Definition{
		Name:            "cachePruner",
		Period:          10 * time.Minute,
		ExpectedRuntime: 10 * time.Second,
		Run: (&jobs.CachePruner{
			Pruner: tier,
		}).Run,
	})
}

// spendLast24 sums the "amount" field of every CREATED "expense" ledger
// entry posted for workspaceID in the trailing 24 hours. It grounds both
// liquidityAnalyzer and velocityCalculator in the same ledger-derived
// figure rather than each guessing independently.
func spendLast24(led *ledger.Ledger) func(ctx context.Context, workspaceID string) (float64, error) {
	return func(ctx context.Context, workspaceID string) (float64, error) {
		entries, err := led.Query(ctx, ledger.QueryFilters{
			WorkspaceID: workspaceID,
			From:        time.Now().Add(-24 * time.Hour),
		}, ledger.Paging{Limit: 10000})
		if err != nil {
			return 0, err
		}

		var total float64
		for _, e := range entries {
			if e.EntityModel != "expense" || e.EventType != ledger.EventCreated {
				continue
			}
			switch v := e.Payload["amount"].(type) {
			case float64:
				total += v
			case int:
				total += float64(v)
			case int64:
				total += float64(v)
			}
		}
		return total, nil
	}
}

// Stop flushes and releases process-wide resources: the L1 prune loop
// and the L2 cache connection, if any. The in-process event bus and job
// orchestrator hold no external handles and need no explicit teardown.
func (c *Container) Stop(ctx context.Context) error {
	if c.L1Cache != nil {
		c.L1Cache.Close()
	}
	if c.l2Cache != nil {
		return c.l2Cache.Close()
	}
	return nil
}
