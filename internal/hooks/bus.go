// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package hooks implements the instrumentation hook bus: a publish/
// subscribe mechanism decoupling agent-framework emit sites from the
// observers that turn emissions into spans, events, and log lines.
package hooks

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Payload is the data a subscriber receives on emit. It carries the
// documented fields for the hook's family (see the catalogue in the
// package doc) plus a catch-all map for forward compatibility.
// Subscribers must treat Payload as an immutable, read-only view: the bus
// does not enforce this, it is a documented contract.
type Payload map[string]any

// Subscriber is a callback registered against a hook name. Registered
// synchronous subscribers are invoked inline; Async subscribers are still
// invoked in registration order and awaited sequentially, matching the
// "awaiting asynchronous ones sequentially" contract — Bus does not run
// subscribers concurrently with each other.
type Subscriber func(ctx context.Context, name string, payload Payload)

// registration pairs a subscriber with an opaque id so Unregister can
// remove one specific registration even when the same function value was
// registered more than once (duplicate registrations are allowed and
// produce duplicate invocations, per the Hook Registration identity of
// (hook-name, callback)).
type registration struct {
	id  uint64
	sub Subscriber
}

// Handle identifies one registration for later Unregister calls.
type Handle struct {
	name string
	id   uint64
}

// Metrics receives counts of bus activity for operational observability.
// It is satisfied by tracing.MetricsCollector; the bus accepts it through
// this narrow interface rather than importing the tracing package, the
// same direction-of-dependency the exporter's Notifier uses.
type Metrics interface {
	// EmitDelivered is called once per Emit that had at least one
	// subscriber to invoke.
	EmitDelivered(name string)
	// EmitDropped is called once per Emit that had zero subscribers
	// registered, i.e. the emission had nowhere to go.
	EmitDropped(name string)
	// SubscriberPanicked is called once per recovered subscriber panic.
	SubscriberPanicked(name string)
}

type noopMetrics struct{}

func (noopMetrics) EmitDelivered(string)      {}
func (noopMetrics) EmitDropped(string)        {}
func (noopMetrics) SubscriberPanicked(string) {}

// Bus is a concurrency-safe named hook bus. The zero value is not usable;
// construct one with New.
type Bus struct {
	logger  *slog.Logger
	metrics Metrics

	mu   sync.RWMutex
	subs map[string][]registration

	// counts is a fast, lock-free path so Emit with zero subscribers for a
	// name can return without ever touching mu or allocating.
	counts sync.Map // name -> *atomic.Int64

	nextID atomic.Uint64
}

// Option configures a Bus.
type Option func(*Bus)

// WithMetrics wires a Metrics sink that records emit/drop/panic counts.
func WithMetrics(m Metrics) Option {
	return func(b *Bus) {
		if m != nil {
			b.metrics = m
		}
	}
}

// SetMetrics wires a Metrics sink after construction, for callers that
// only have a collector available once the bus already exists (e.g. the
// collector is owned by the tracer provider, which is itself constructed
// after the bus it will instrument). Must be called before the bus sees
// concurrent Emit traffic; it is not safe to call while Emit is running.
func (b *Bus) SetMetrics(m Metrics) {
	if m != nil {
		b.metrics = m
	}
}

// New creates an empty hook bus. Unknown hook names are always accepted as
// no-ops: the bus does not validate names against the design-level
// catalogue.
func New(logger *slog.Logger, opts ...Option) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bus{
		logger:  logger,
		subs:    make(map[string][]registration),
		metrics: noopMetrics{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Register appends sub to the subscriber list for name and returns a Handle
// that Unregister can later use to remove exactly this registration.
// Fan-out order for a given name always equals registration order.
func (b *Bus) Register(name string, sub Subscriber) Handle {
	id := b.nextID.Add(1)

	b.mu.Lock()
	b.subs[name] = append(b.subs[name], registration{id: id, sub: sub})
	n := len(b.subs[name])
	b.mu.Unlock()

	b.counter(name).Store(int64(n))
	return Handle{name: name, id: id}
}

// Unregister removes the registration identified by h. It is idempotent:
// calling it again, or with a Handle that was never registered, is a no-op.
func (b *Bus) Unregister(h Handle) {
	b.mu.Lock()
	list := b.subs[h.name]
	for i, r := range list {
		if r.id == h.id {
			b.subs[h.name] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	n := len(b.subs[h.name])
	b.mu.Unlock()

	b.counter(h.name).Store(int64(n))
}

// Emit invokes every subscriber registered for name, in registration
// order, and returns once all have completed. A subscriber that panics is
// recovered, logged at WARN, and skipped — emit continues with the next
// subscriber and always returns normally; panics never propagate to the
// caller.
//
// With zero subscribers registered for name, Emit returns after a single
// atomic load and no allocation or lock acquisition, satisfying the
// sub-microsecond zero-subscriber performance contract.
func (b *Bus) Emit(ctx context.Context, name string, payload Payload) {
	if c := b.counter(name); c.Load() == 0 {
		b.metrics.EmitDropped(name)
		return
	}
	b.metrics.EmitDelivered(name)

	b.mu.RLock()
	// Snapshot the slice header under the lock; the underlying array is
	// never mutated in place by Register/Unregister (both use append with
	// a fresh backing slice on removal), so subsequent structural changes
	// to b.subs[name] cannot torn-read this snapshot.
	list := b.subs[name]
	b.mu.RUnlock()

	for _, r := range list {
		b.invoke(ctx, name, r.sub, payload)
	}
}

func (b *Bus) invoke(ctx context.Context, name string, sub Subscriber, payload Payload) {
	defer func() {
		if rec := recover(); rec != nil {
			b.logger.Warn("hook subscriber panicked",
				slog.String("hook", name),
				slog.Any("panic", rec),
			)
			b.metrics.SubscriberPanicked(name)
		}
	}()
	sub(ctx, name, payload)
}

// Count returns the number of subscribers currently registered for name.
func (b *Bus) Count(name string) int {
	return int(b.counter(name).Load())
}

func (b *Bus) counter(name string) *atomic.Int64 {
	if v, ok := b.counts.Load(name); ok {
		return v.(*atomic.Int64)
	}
	c := new(atomic.Int64)
	actual, _ := b.counts.LoadOrStore(name, c)
	return actual.(*atomic.Int64)
}
