package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errProbe = errors.New("dependency down")

func failN(cb *CircuitBreaker, n int) {
	for i := 0; i < n; i++ {
		_ = cb.Execute(context.Background(), func() error { return errProbe })
	}
}

func TestBreakerOpensAfterMaxFailures(t *testing.T) {
	cb := New(Config{MaxFailures: 3, Timeout: time.Minute})

	failN(cb, 2)
	assert.Equal(t, StateClosed, cb.State())

	failN(cb, 1)
	assert.Equal(t, StateOpen, cb.State())

	err := cb.Execute(context.Background(), func() error {
		t.Fatal("fn must not run while open")
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestBreakerClosedResetsFailuresOnSuccess(t *testing.T) {
	cb := New(Config{MaxFailures: 3, Timeout: time.Minute})

	failN(cb, 2)
	require.NoError(t, cb.Execute(context.Background(), func() error { return nil }))

	// The success reset the streak; two more failures stay under the limit.
	failN(cb, 2)
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerProbesAfterTimeoutAndCloses(t *testing.T) {
	cb := New(Config{MaxFailures: 1, Timeout: 10 * time.Millisecond, HalfOpenMax: 2})

	failN(cb, 1)
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(20 * time.Millisecond)

	require.NoError(t, cb.Execute(context.Background(), func() error { return nil }))
	assert.Equal(t, StateHalfOpen, cb.State())

	require.NoError(t, cb.Execute(context.Background(), func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerReopensOnFailedProbe(t *testing.T) {
	cb := New(Config{MaxFailures: 1, Timeout: 10 * time.Millisecond, HalfOpenMax: 2})

	failN(cb, 1)
	time.Sleep(20 * time.Millisecond)

	_ = cb.Execute(context.Background(), func() error { return errProbe })
	assert.Equal(t, StateOpen, cb.State())
}

func TestBreakerNotifiesStateChanges(t *testing.T) {
	transitions := make(chan [2]State, 4)
	cb := New(Config{
		MaxFailures:   1,
		Timeout:       time.Minute,
		OnStateChange: func(from, to State) { transitions <- [2]State{from, to} },
	})

	failN(cb, 1)

	select {
	case tr := <-transitions:
		assert.Equal(t, StateClosed, tr[0])
		assert.Equal(t, StateOpen, tr[1])
	case <-time.After(time.Second):
		t.Fatal("no transition notification")
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(42).String())
}
