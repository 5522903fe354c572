// Package jobs implements the job orchestrator: four periodic
// sweeps run under a single-flight invariant, persisted
// per-job state, a leased advisory lock for cross-process exclusion,
// and cooperative cancellation. The periodic tick itself is supplied
// by an external caller (cmd/server wires robfig/cron/v3).
package jobs

import (
	"context"
	"time"
)

// Status is a job run's terminal or in-progress state.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusCancelled Status = "cancelled"
)

// State is the persisted record for one named job.
type State struct {
	JobName       string
	LastRunAt     time.Time
	LastStatus    Status
	LastError     string
	Paused        bool
	AttemptCount  int64
	LeaseOwner    string
	LeaseExpiresAt time.Time
}

// RunFunc is a job body. It must check ctx for cancellation at least
// once per second and, if cancelled, persist whatever partial progress
// it can via the supplied ProgressFunc before returning ctx.Err().
type RunFunc func(ctx context.Context, progress ProgressFunc) error

// ProgressFunc lets a running job persist incremental progress so a
// cancellation leaves useful partial state rather than none.
type ProgressFunc func(ctx context.Context, note string) error

// Definition registers one of the four periodic sweeps.
type Definition struct {
	Name            string
	Period          time.Duration
	ExpectedRuntime time.Duration
	Run             RunFunc
}

func (d Definition) leaseDuration() time.Duration {
	if d.ExpectedRuntime <= 0 {
		return 2 * time.Minute
	}
	return 2 * d.ExpectedRuntime
}
