// Package eventbus implements the in-process publish/subscribe bus:
// single-threaded-publisher semantics, subscribers invoked
// in registration order, and per-subscriber error isolation so a
// subscriber crash never propagates to the publisher.
package eventbus

import (
	"context"
	"fmt"
	"sync"

	"github.com/r3e-network/security-governance-core/infrastructure/logging"
	"github.com/r3e-network/security-governance-core/infrastructure/metrics"
)

// Handler receives one published event. A Handler's panic or error is
// isolated by the Bus and never returned to Publish's caller.
type Handler func(ctx context.Context, topic string, payload interface{}) error

// Stats is a point-in-time snapshot of the bus counters.
type Stats struct {
	TotalEvents     int64
	TotalErrors     int64
	ActiveListeners int
}

// Bus is a single-process pub/sub dispatcher. The zero value is not
// usable; construct with New.
type Bus struct {
	mu   sync.RWMutex
	subs map[string][]Handler

	totalEvents int64
	totalErrors int64

	logger  *logging.Logger
	metrics *metrics.Metrics
}

// Option configures a Bus.
type Option func(*Bus)

func WithLogger(l *logging.Logger) Option   { return func(b *Bus) { b.logger = l } }
func WithMetrics(m *metrics.Metrics) Option { return func(b *Bus) { b.metrics = m } }

// New constructs an empty Bus.
func New(opts ...Option) *Bus {
	b := &Bus{subs: make(map[string][]Handler)}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers handler for topic. Handlers for a topic are invoked
// in the order they were subscribed.
func (b *Bus) Subscribe(topic string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[topic] = append(b.subs[topic], handler)
}

// Publish fans out payload to every subscriber of topic, in registration
// order, from the calling goroutine (single-threaded-publisher semantics
// from the caller's perspective). Each subscriber runs inside a recover
// guard; a panicking or erroring subscriber is logged and counted but
// never aborts the remaining subscribers or propagates to the caller.
func (b *Bus) Publish(ctx context.Context, topic string, payload interface{}) error {
	b.mu.RLock()
	handlers := make([]Handler, len(b.subs[topic]))
	copy(handlers, b.subs[topic])
	b.mu.RUnlock()

	b.mu.Lock()
	b.totalEvents++
	b.mu.Unlock()
	if b.metrics != nil {
		b.metrics.RecordEventPublished("eventbus", topic)
	}

	for _, h := range handlers {
		b.runOne(ctx, topic, payload, h)
	}
	return nil
}

// runOne invokes a single subscriber, isolating both panics and returned
// errors so a subscriber crash never propagates to the publisher.
func (b *Bus) runOne(ctx context.Context, topic string, payload interface{}, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			b.recordError(topic, fmt.Errorf("subscriber panic: %v", r))
		}
	}()
	if err := h(ctx, topic, payload); err != nil {
		b.recordError(topic, err)
	}
}

func (b *Bus) recordError(topic string, err error) {
	b.mu.Lock()
	b.totalErrors++
	b.mu.Unlock()
	if b.metrics != nil {
		b.metrics.RecordEventHandlerError("eventbus", topic)
	}
	if b.logger != nil {
		b.logger.WithFields(map[string]interface{}{"topic": topic}).WithError(err).Error("event subscriber failed")
	}
}

// Stats returns a snapshot of the bus's counters.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	active := 0
	for _, hs := range b.subs {
		active += len(hs)
	}
	return Stats{
		TotalEvents:     b.totalEvents,
		TotalErrors:     b.totalErrors,
		ActiveListeners: active,
	}
}
