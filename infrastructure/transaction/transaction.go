// Package transaction provides saga-style multi-step execution with
// compensation, for operations whose partial failure must be unwound
// rather than left half-applied (used by the admin tenant patch in
// internal/httpapi).
package transaction

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/r3e-network/security-governance-core/infrastructure/logging"
)

var (
	ErrTransactionFailed     = errors.New("transaction failed")
	ErrTransactionRolledBack = errors.New("transaction was rolled back")
	ErrCompensationFailed    = errors.New("compensation action failed")
)

type CompensationFunc func(ctx context.Context) error

type Step struct {
	Name         string
	Action       func(ctx context.Context) error
	Compensation CompensationFunc
}

// Transaction runs a sequence of Steps in order, rolling back previously
// executed steps' compensations (in reverse order) if a later step fails.
type Transaction struct {
	steps         []Step
	executedSteps int
	mu            sync.Mutex
	logger        *logging.Logger
}

func NewTransaction(logger *logging.Logger) *Transaction {
	return &Transaction{
		steps:  make([]Step, 0),
		logger: logger,
	}
}

func (t *Transaction) AddStep(name string, action func(ctx context.Context) error, compensation CompensationFunc) *Transaction {
	t.steps = append(t.steps, Step{
		Name:         name,
		Action:       action,
		Compensation: compensation,
	})
	return t
}

func (t *Transaction) Execute(ctx context.Context) error {
	t.mu.Lock()
	t.executedSteps = 0
	t.mu.Unlock()

	for _, step := range t.steps {
		if err := step.Action(ctx); err != nil {
			t.rollback(ctx, t.executedSteps)
			return fmt.Errorf("%w: %s: %v", ErrTransactionFailed, step.Name, err)
		}

		t.mu.Lock()
		t.executedSteps++
		t.mu.Unlock()
	}

	return nil
}

func (t *Transaction) rollback(ctx context.Context, stepsExecuted int) {
	for i := stepsExecuted - 1; i >= 0; i-- {
		step := &t.steps[i]
		if step.Compensation == nil {
			continue
		}
		if err := step.Compensation(ctx); err != nil {
			if t.logger != nil {
				t.logger.WithField("step", step.Name).WithError(err).Error("compensation failed")
			}
		}
	}
}

// ExecuteAll runs the steps in order like Execute: the first failing step
// stops the run and the executed steps are rolled back. It reports how
// many steps succeeded before that failure.
func (t *Transaction) ExecuteAll(ctx context.Context) (int, error) {
	t.mu.Lock()
	t.executedSteps = 0
	t.mu.Unlock()

	executed := 0

	for _, step := range t.steps {
		if err := step.Action(ctx); err != nil {
			t.rollback(ctx, executed)
			return executed, fmt.Errorf("%w: %s: %v", ErrTransactionFailed, step.Name, err)
		}
		executed++
	}

	return executed, nil
}

// TwoPhaseCommit coordinates a prepare/commit sequence across independent
// steps, rolling back any step that reached prepare or commit if a later
// step fails.
type TwoPhaseCommit struct {
	mu        sync.RWMutex
	prepared  map[string]bool
	committed map[string]bool
	logger    *logging.Logger
}

type TwoPhaseStep struct {
	Name     string
	Prepare  func(ctx context.Context) error
	Commit   func(ctx context.Context) error
	Rollback func(ctx context.Context) error
}

func NewTwoPhaseCommit(logger *logging.Logger) *TwoPhaseCommit {
	return &TwoPhaseCommit{
		prepared:  make(map[string]bool),
		committed: make(map[string]bool),
		logger:    logger,
	}
}

func (t *TwoPhaseCommit) Execute(ctx context.Context, steps []TwoPhaseStep) error {
	t.mu.Lock()
	t.prepared = make(map[string]bool)
	t.committed = make(map[string]bool)
	t.mu.Unlock()

	for _, step := range steps {
		if err := step.Prepare(ctx); err != nil {
			t.rollback(ctx, steps, "prepare")
			return fmt.Errorf("prepare failed for %s: %w", step.Name, err)
		}
		t.mu.Lock()
		t.prepared[step.Name] = true
		t.mu.Unlock()
	}

	for _, step := range steps {
		if err := step.Commit(ctx); err != nil {
			t.rollback(ctx, steps, "commit")
			return fmt.Errorf("commit failed for %s: %w", step.Name, err)
		}
		t.mu.Lock()
		t.committed[step.Name] = true
		t.mu.Unlock()
	}

	return nil
}

func (t *TwoPhaseCommit) rollback(ctx context.Context, steps []TwoPhaseStep, phase string) {
	for _, step := range steps {
		if step.Rollback == nil {
			continue
		}

		t.mu.RLock()
		shouldRollback := false
		if phase == "prepare" && t.prepared[step.Name] {
			shouldRollback = true
		}
		if phase == "commit" && (t.prepared[step.Name] || t.committed[step.Name]) {
			shouldRollback = true
		}
		t.mu.RUnlock()

		if shouldRollback {
			if err := step.Rollback(ctx); err != nil {
				if t.logger != nil {
					t.logger.WithField("step", step.Name).WithField("phase", phase).WithError(err).Error("rollback failed")
				}
			}
		}
	}
}
