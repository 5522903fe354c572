package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "github.com/r3e-network/security-governance-core/infrastructure/errors"
)

func waitForStatus(t *testing.T, store Store, jobName string, want Status) State {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		st, ok, err := store.Get(context.Background(), jobName)
		require.NoError(t, err)
		if ok && st.LastStatus == want {
			return st
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s never reached status %s", jobName, want)
	return State{}
}

func TestTriggerRunsJobAndPersistsSuccess(t *testing.T) {
	store := NewMemoryStore()
	o := New(store)

	var runs atomic.Int32
	o.Register(Definition{
		Name:            "sweep",
		ExpectedRuntime: time.Second,
		Run: func(ctx context.Context, progress ProgressFunc) error {
			runs.Add(1)
			return nil
		},
	})

	require.NoError(t, o.Trigger(context.Background(), "sweep"))
	st := waitForStatus(t, store, "sweep", StatusSuccess)

	assert.Equal(t, int32(1), runs.Load())
	assert.Equal(t, int64(1), st.AttemptCount)
	assert.Empty(t, st.LastError)
	assert.False(t, st.LastRunAt.IsZero())
	assert.Empty(t, st.LeaseOwner, "lease released after the run")
}

func TestTriggerUnknownJob(t *testing.T) {
	o := New(NewMemoryStore())
	err := o.Trigger(context.Background(), "nope")
	var unknown *UnknownJobError
	assert.ErrorAs(t, err, &unknown)
}

func TestSingleFlight_NoOverlappingRuns(t *testing.T) {
	store := NewMemoryStore()
	o := New(store)

	started := make(chan struct{})
	release := make(chan struct{})
	var concurrent, peak atomic.Int32

	o.Register(Definition{
		Name:            "slow",
		ExpectedRuntime: time.Second,
		Run: func(ctx context.Context, progress ProgressFunc) error {
			now := concurrent.Add(1)
			if now > peak.Load() {
				peak.Store(now)
			}
			select {
			case started <- struct{}{}:
			default:
			}
			<-release
			concurrent.Add(-1)
			return nil
		},
	})

	require.NoError(t, o.Trigger(context.Background(), "slow"))
	<-started

	// Triggers while running are accepted idempotently with no second
	// execution.
	for i := 0; i < 5; i++ {
		require.NoError(t, o.Trigger(context.Background(), "slow"))
	}
	time.Sleep(20 * time.Millisecond)
	close(release)

	waitForStatus(t, store, "slow", StatusSuccess)
	assert.Equal(t, int32(1), peak.Load())

	st, _, err := store.Get(context.Background(), "slow")
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.AttemptCount)
}

func TestPausedJobSkipsTicksWithoutAlteringState(t *testing.T) {
	store := NewMemoryStore()
	o := New(store)

	var runs atomic.Int32
	o.Register(Definition{
		Name: "paused-job",
		Run: func(ctx context.Context, progress ProgressFunc) error {
			runs.Add(1)
			return nil
		},
	})

	require.NoError(t, o.Pause(context.Background(), "paused-job", true))
	require.NoError(t, o.Tick(context.Background(), "paused-job"))
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, int32(0), runs.Load())
	st, ok, err := store.Get(context.Background(), "paused-job")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(0), st.AttemptCount)

	require.NoError(t, o.Pause(context.Background(), "paused-job", false))
	require.NoError(t, o.Tick(context.Background(), "paused-job"))
	waitForStatus(t, store, "paused-job", StatusSuccess)
}

func TestLeaseBlocksOtherOwnersUntilExpiry(t *testing.T) {
	store := NewMemoryStore()

	// Another process holds an unexpired lease.
	require.NoError(t, store.Put(context.Background(), State{
		JobName:        "leased",
		LeaseOwner:     "other-process",
		LeaseExpiresAt: time.Now().UTC().Add(time.Hour),
	}))

	o := New(store)
	var runs atomic.Int32
	o.Register(Definition{
		Name: "leased",
		Run: func(ctx context.Context, progress ProgressFunc) error {
			runs.Add(1)
			return nil
		},
	})

	require.NoError(t, o.Trigger(context.Background(), "leased"))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), runs.Load())

	// Expired lease allows takeover.
	require.NoError(t, store.Put(context.Background(), State{
		JobName:        "leased",
		LeaseOwner:     "other-process",
		LeaseExpiresAt: time.Now().UTC().Add(-time.Minute),
	}))
	require.NoError(t, o.Trigger(context.Background(), "leased"))
	waitForStatus(t, store, "leased", StatusSuccess)
	assert.Equal(t, int32(1), runs.Load())
}

func TestCancelMarksRunCancelled(t *testing.T) {
	store := NewMemoryStore()
	o := New(store)

	started := make(chan struct{})
	o.Register(Definition{
		Name: "cancellable",
		Run: func(ctx context.Context, progress ProgressFunc) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		},
	})

	require.NoError(t, o.Trigger(context.Background(), "cancellable"))
	<-started
	require.True(t, o.Cancel("cancellable"))

	st := waitForStatus(t, store, "cancellable", StatusCancelled)
	assert.Empty(t, st.LastError)
}

func TestFailureRecordsError(t *testing.T) {
	store := NewMemoryStore()
	o := New(store)

	o.Register(Definition{
		Name: "broken",
		Run: func(ctx context.Context, progress ProgressFunc) error {
			return errors.New("sweep exploded")
		},
	})

	require.NoError(t, o.Trigger(context.Background(), "broken"))
	st := waitForStatus(t, store, "broken", StatusFailure)
	assert.Contains(t, st.LastError, "sweep exploded")
}

func TestTransientFailuresAreRetriedWithinOneRun(t *testing.T) {
	store := NewMemoryStore()
	o := New(store)

	var attempts atomic.Int32
	o.Register(Definition{
		Name: "flaky",
		Run: func(ctx context.Context, progress ProgressFunc) error {
			if attempts.Add(1) < 2 {
				return apierrors.New(apierrors.KindTransient, "dependency unreachable")
			}
			return nil
		},
	})

	require.NoError(t, o.Trigger(context.Background(), "flaky"))
	st := waitForStatus(t, store, "flaky", StatusSuccess)

	assert.GreaterOrEqual(t, attempts.Load(), int32(2))
	// The backoff retries happen inside a single orchestrated run.
	assert.Equal(t, int64(1), st.AttemptCount)
}
