package eventbus

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublish_InvokesSubscribersInRegistrationOrder(t *testing.T) {
	b := New()
	var order []int

	b.Subscribe("workspace.frozen", func(ctx context.Context, topic string, payload interface{}) error {
		order = append(order, 1)
		return nil
	})
	b.Subscribe("workspace.frozen", func(ctx context.Context, topic string, payload interface{}) error {
		order = append(order, 2)
		return nil
	})
	b.Subscribe("workspace.frozen", func(ctx context.Context, topic string, payload interface{}) error {
		order = append(order, 3)
		return nil
	})

	require.NoError(t, b.Publish(context.Background(), "workspace.frozen", nil))
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestPublish_SubscriberErrorDoesNotAbortOthers(t *testing.T) {
	b := New()
	var secondRan bool

	b.Subscribe("t", func(ctx context.Context, topic string, payload interface{}) error {
		return errors.New("boom")
	})
	b.Subscribe("t", func(ctx context.Context, topic string, payload interface{}) error {
		secondRan = true
		return nil
	})

	require.NoError(t, b.Publish(context.Background(), "t", nil))
	assert.True(t, secondRan)
	assert.EqualValues(t, 1, b.Stats().TotalErrors)
}

func TestPublish_SubscriberPanicIsIsolated(t *testing.T) {
	b := New()
	var secondRan bool

	b.Subscribe("t", func(ctx context.Context, topic string, payload interface{}) error {
		panic("kaboom")
	})
	b.Subscribe("t", func(ctx context.Context, topic string, payload interface{}) error {
		secondRan = true
		return nil
	})

	assert.NotPanics(t, func() {
		require.NoError(t, b.Publish(context.Background(), "t", nil))
	})
	assert.True(t, secondRan)
	assert.EqualValues(t, 1, b.Stats().TotalErrors)
}

func TestStats_CountsEventsAndListeners(t *testing.T) {
	b := New()
	b.Subscribe("a", func(ctx context.Context, topic string, payload interface{}) error { return nil })
	b.Subscribe("b", func(ctx context.Context, topic string, payload interface{}) error { return nil })

	_ = b.Publish(context.Background(), "a", nil)
	_ = b.Publish(context.Background(), "a", nil)
	_ = b.Publish(context.Background(), "b", nil)

	stats := b.Stats()
	assert.EqualValues(t, 3, stats.TotalEvents)
	assert.Equal(t, 2, stats.ActiveListeners)
}

func TestSubscribe_NoSubscribersIsNoop(t *testing.T) {
	b := New()
	require.NoError(t, b.Publish(context.Background(), "nothing.listens", map[string]string{"k": "v"}))
}
