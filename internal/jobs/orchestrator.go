package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	apierrors "github.com/r3e-network/security-governance-core/infrastructure/errors"
	"github.com/r3e-network/security-governance-core/infrastructure/logging"
	"github.com/r3e-network/security-governance-core/infrastructure/metrics"
	"github.com/r3e-network/security-governance-core/infrastructure/resilience"
)

// Orchestrator manages the four periodic sweeps under a single-flight
// invariant. It does not schedule ticks itself; an
// external caller (cron, a test, an HTTP trigger) drives Tick/Trigger.
type Orchestrator struct {
	store Store

	ownerID string

	mu          sync.Mutex
	definitions map[string]Definition
	cancelFuncs map[string]context.CancelFunc
	inFlight    map[string]bool

	logger  *logging.Logger
	metrics *metrics.Metrics
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithLogger(l *logging.Logger) Option   { return func(o *Orchestrator) { o.logger = l } }
func WithMetrics(m *metrics.Metrics) Option { return func(o *Orchestrator) { o.metrics = m } }

// New constructs an Orchestrator backed by store.
func New(store Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:       store,
		ownerID:     uuid.NewString(),
		definitions: make(map[string]Definition),
		cancelFuncs: make(map[string]context.CancelFunc),
		inFlight:    make(map[string]bool),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Register adds a job definition. Call before any Tick/Trigger for that job.
func (o *Orchestrator) Register(def Definition) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.definitions[def.Name] = def
}

// Pause sets or clears the paused flag without altering any other
// persisted field; a paused job skips ticks but keeps its run history.
func (o *Orchestrator) Pause(ctx context.Context, jobName string, paused bool) error {
	state, ok, err := o.store.Get(ctx, jobName)
	if err != nil {
		return err
	}
	if !ok {
		state = State{JobName: jobName}
	}
	state.Paused = paused
	return o.store.Put(ctx, state)
}

// Trigger asynchronously accepts a manual run request (HTTP 202
// semantics: the caller does not block on completion).
func (o *Orchestrator) Trigger(ctx context.Context, jobName string) error {
	o.mu.Lock()
	def, ok := o.definitions[jobName]
	o.mu.Unlock()
	if !ok {
		return &UnknownJobError{JobName: jobName}
	}

	go o.run(context.Background(), def)
	return nil
}

// Tick is the entry point an external scheduling mechanism calls once
// per job's period.
func (o *Orchestrator) Tick(ctx context.Context, jobName string) error {
	return o.Trigger(ctx, jobName)
}

// Cancel signals the in-flight run of jobName, if any, to stop at its
// next cooperative checkpoint.
func (o *Orchestrator) Cancel(jobName string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	cancel, ok := o.cancelFuncs[jobName]
	if !ok {
		return false
	}
	cancel()
	return true
}

func (o *Orchestrator) run(ctx context.Context, def Definition) {
	o.mu.Lock()
	if o.inFlight[def.Name] {
		o.mu.Unlock()
		return // single-flight: a run is already in progress in this process
	}
	o.inFlight[def.Name] = true
	runCtx, cancel := context.WithCancel(ctx)
	o.cancelFuncs[def.Name] = cancel
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		delete(o.inFlight, def.Name)
		delete(o.cancelFuncs, def.Name)
		o.mu.Unlock()
		cancel()
	}()

	state, ok, err := o.store.Get(ctx, def.Name)
	if err != nil {
		o.logError(def.Name, err)
		return
	}
	if !ok {
		state = State{JobName: def.Name}
	}
	if state.Paused {
		return
	}

	if !o.acquireLease(ctx, &state, def) {
		return // another process holds an unexpired lease
	}

	state.AttemptCount++
	state.LastStatus = StatusRunning
	if err := o.store.Put(ctx, state); err != nil {
		o.logError(def.Name, err)
		return
	}

	progress := func(progressCtx context.Context, note string) error {
		state.LastError = note
		return o.store.Put(progressCtx, state)
	}

	// Transient dependency failures get the shared backoff schedule;
	// anything else fails the run on the first attempt.
	started := time.Now()
	runErr := resilience.RetryIf(runCtx, resilience.DefaultRetryConfig(),
		func() error { return def.Run(runCtx, progress) },
		func(err error) bool {
			svcErr := apierrors.GetServiceError(err)
			return svcErr != nil && svcErr.Kind.Retryable()
		})
	elapsed := time.Since(started)

	state.LastRunAt = time.Now().UTC()
	state.LeaseOwner = ""
	state.LeaseExpiresAt = time.Time{}

	switch {
	case runErr == context.Canceled:
		state.LastStatus = StatusCancelled
		state.LastError = ""
	case runErr != nil:
		state.LastStatus = StatusFailure
		state.LastError = runErr.Error()
	default:
		state.LastStatus = StatusSuccess
		state.LastError = ""
	}

	if err := o.store.Put(ctx, state); err != nil {
		o.logError(def.Name, err)
	}
	o.recordRun(def.Name, state.LastStatus, elapsed)
}

// acquireLease implements the cross-process single-flight guard: a
// lease held by another owner and not yet expired blocks this run.
// Takeover is allowed once the lease expires.
func (o *Orchestrator) acquireLease(ctx context.Context, state *State, def Definition) bool {
	now := time.Now().UTC()
	if state.LeaseOwner != "" && state.LeaseOwner != o.ownerID && now.Before(state.LeaseExpiresAt) {
		return false
	}
	state.LeaseOwner = o.ownerID
	state.LeaseExpiresAt = now.Add(def.leaseDuration())
	return o.store.Put(ctx, *state) == nil
}

func (o *Orchestrator) logError(jobName string, err error) {
	if o.logger != nil {
		o.logger.WithError(err).WithFields(map[string]interface{}{"jobName": jobName}).Error("job orchestrator error")
	}
}

func (o *Orchestrator) recordRun(jobName string, status Status, elapsed time.Duration) {
	if o.metrics != nil {
		o.metrics.RecordJobRun("jobs", jobName, string(status), elapsed)
	}
}

// UnknownJobError is returned by Trigger/Tick for an unregistered job name.
type UnknownJobError struct {
	JobName string
}

func (e *UnknownJobError) Error() string {
	return "jobs: unknown job " + e.JobName
}
