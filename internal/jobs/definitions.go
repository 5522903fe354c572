package jobs

import (
	"context"
	"time"

	"github.com/r3e-network/security-governance-core/internal/workspace"
)

// AccessAuditor scans every workspace's membership list and deactivates
// (marks inactive) memberships pointing at a role or principal that no
// longer exists. The membership records stay in the store; none is deleted.
type AccessAuditor struct {
	Workspaces workspace.Store
	// PrincipalExists reports whether a principal id still resolves; a
	// narrow seam so this job never imports internal/principal directly.
	PrincipalExists func(ctx context.Context, principalID string) (bool, error)
}

func (a *AccessAuditor) Run(ctx context.Context, progress ProgressFunc) error {
	workspaceIDs, err := a.Workspaces.ListAllWorkspaceIDs(ctx)
	if err != nil {
		return err
	}

	checkpoint := time.Now()
	for i, workspaceID := range workspaceIDs {
		if ctx.Err() != nil {
			_ = progress(context.Background(), "cancelled after "+workspaceID)
			return ctx.Err()
		}

		memberships, err := a.Workspaces.ListMemberships(ctx, workspaceID)
		if err != nil {
			return err
		}
		for _, m := range memberships {
			if _, ok, err := a.Workspaces.GetRole(ctx, m.RoleID); err == nil && !ok {
				m.Status = workspace.MembershipInactive
				if err := a.Workspaces.PutMembership(ctx, m); err != nil {
					return err
				}
				continue
			}
			if a.PrincipalExists == nil {
				continue
			}
			exists, err := a.PrincipalExists(ctx, m.PrincipalID)
			if err != nil {
				return err
			}
			if !exists {
				m.Status = workspace.MembershipInactive
				if err := a.Workspaces.PutMembership(ctx, m); err != nil {
					return err
				}
			}
		}

		if time.Since(checkpoint) > time.Second {
			_ = progress(ctx, "audited through "+workspaceID)
			checkpoint = time.Now()
		}
		_ = i
	}
	return nil
}

// LiquidityAnalyzer stress-tests each tenant's recent spend against a
// liquidity ceiling and flags high ruin-probability workspaces.
type LiquidityAnalyzer struct {
	Workspaces  workspace.Store
	DailySpend  func(ctx context.Context, workspaceID string) (float64, error)
	RuinFlagger func(ctx context.Context, workspaceID string, ruinProbability float64) error

	// CeilingRatio is the fraction of a (hypothetical) liquidity pool
	// spend may consume before ruin probability is considered elevated.
	CeilingRatio float64
}

func (l *LiquidityAnalyzer) Run(ctx context.Context, progress ProgressFunc) error {
	lister, ok := l.Workspaces.(interface {
		ListAllWorkspaceIDs(ctx context.Context) ([]string, error)
	})
	if !ok || l.DailySpend == nil {
		return nil
	}
	workspaceIDs, err := lister.ListAllWorkspaceIDs(ctx)
	if err != nil {
		return err
	}

	ceiling := l.CeilingRatio
	if ceiling <= 0 {
		ceiling = 0.8
	}

	for _, workspaceID := range workspaceIDs {
		if ctx.Err() != nil {
			_ = progress(context.Background(), "cancelled before "+workspaceID)
			return ctx.Err()
		}
		spend, err := l.DailySpend(ctx, workspaceID)
		if err != nil {
			return err
		}
		ruinProbability := ruinProbabilityFor(spend, ceiling)
		if ruinProbability > 0.5 && l.RuinFlagger != nil {
			if err := l.RuinFlagger(ctx, workspaceID, ruinProbability); err != nil {
				return err
			}
		}
	}
	return nil
}

// ruinProbabilityFor is a simple monotone stress function: spend past
// the configured ceiling ratio drives probability toward 1.
func ruinProbabilityFor(dailySpend, ceilingRatio float64) float64 {
	if ceilingRatio <= 0 {
		return 0
	}
	ratio := dailySpend / ceilingRatio
	if ratio < 0 {
		return 0
	}
	if ratio > 1 {
		return 1
	}
	return ratio
}

// VelocityCalculator computes each active workspace's trailing 24h
// spend and injects it into the compliance context.
type VelocityCalculator struct {
	Workspaces  workspace.Store
	SpendLast24 func(ctx context.Context, workspaceID string) (float64, error)
	Sink        VelocitySink
}

// VelocitySink receives computed velocity figures; compliance.Orchestrator's
// RequestContext.Metrics is populated from this by the caller assembling
// each request's context, keeping jobs decoupled from compliance.
type VelocitySink interface {
	SetDailyVelocity(ctx context.Context, workspaceID string, amount float64) error
}

func (v *VelocityCalculator) Run(ctx context.Context, progress ProgressFunc) error {
	lister, ok := v.Workspaces.(interface {
		ListAllWorkspaceIDs(ctx context.Context) ([]string, error)
	})
	if !ok || v.SpendLast24 == nil || v.Sink == nil {
		return nil
	}
	workspaceIDs, err := lister.ListAllWorkspaceIDs(ctx)
	if err != nil {
		return err
	}

	for _, workspaceID := range workspaceIDs {
		if ctx.Err() != nil {
			_ = progress(context.Background(), "cancelled before "+workspaceID)
			return ctx.Err()
		}
		spend, err := v.SpendLast24(ctx, workspaceID)
		if err != nil {
			return err
		}
		if err := v.Sink.SetDailyVelocity(ctx, workspaceID, spend); err != nil {
			return err
		}
	}
	return nil
}

// CachePruner drops expired L1 cache entries, cooperating with L2's
// own TTL expiry.
type CachePruner struct {
	Pruner Pruner
}

// Pruner is the narrow seam into the cache tier (§4.7), avoiding an
// import cycle between jobs and cache.
type Pruner interface {
	PruneExpired(ctx context.Context) (int, error)
}

func (c *CachePruner) Run(ctx context.Context, progress ProgressFunc) error {
	if c.Pruner == nil {
		return nil
	}
	pruned, err := c.Pruner.PruneExpired(ctx)
	if err != nil {
		return err
	}
	_ = progress(ctx, "pruned entries")
	_ = pruned
	return nil
}
