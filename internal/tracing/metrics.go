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

package tracing

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// SubscriberCounter reports how many live SSE subscribers are attached to
// the event bus. It is satisfied by eventbus.Bus.TotalSubscriberCount.
type SubscriberCounter interface {
	TotalSubscriberCount() int
}

// SessionCounter reports how many sessions are currently tracked live. It
// is satisfied by registry.LiveRegistry.Count.
type SessionCounter interface {
	Count() int
}

// MetricsCollector collects the inspector's own operational metrics: hook
// bus traffic, export failures, and SSE/session gauges, exposed through
// whatever metric.Reader the OTelProvider was configured with (Prometheus
// pull or OTLP push). It is opt-in — nothing in this package requires it
// to be constructed.
//
// MetricsCollector satisfies hooks.Metrics and exporter.Metrics by
// structural typing; neither of those packages needs to import this one.
type MetricsCollector struct {
	meter metric.Meter

	hookEmitsTotal  metric.Int64Counter
	hookDropsTotal  metric.Int64Counter
	hookPanicsTotal metric.Int64Counter
	exportFailures  metric.Int64Counter

	subscriberCounterMu sync.RWMutex
	subscriberCounter   SubscriberCounter

	sessionCounterMu sync.RWMutex
	sessionCounter   SessionCounter
}

// NewMetricsCollector creates a new metrics collector using the given
// meter provider.
func NewMetricsCollector(meterProvider metric.MeterProvider) (*MetricsCollector, error) {
	meter := meterProvider.Meter("mcp-agent-inspector")

	mc := &MetricsCollector{meter: meter}

	var err error

	mc.hookEmitsTotal, err = meter.Int64Counter(
		"inspector_hook_emits_total",
		metric.WithDescription("Hook emissions delivered to at least one subscriber"),
		metric.WithUnit("{emit}"),
	)
	if err != nil {
		return nil, err
	}

	mc.hookDropsTotal, err = meter.Int64Counter(
		"inspector_hook_drops_total",
		metric.WithDescription("Hook emissions with zero registered subscribers"),
		metric.WithUnit("{emit}"),
	)
	if err != nil {
		return nil, err
	}

	mc.hookPanicsTotal, err = meter.Int64Counter(
		"inspector_hook_subscriber_panics_total",
		metric.WithDescription("Hook subscriber invocations that panicked and were recovered"),
		metric.WithUnit("{panic}"),
	)
	if err != nil {
		return nil, err
	}

	mc.exportFailures, err = meter.Int64Counter(
		"inspector_export_batch_failures_total",
		metric.WithDescription("Session trace writes that failed, by failure class"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, err
	}

	_, err = meter.Int64ObservableGauge(
		"inspector_sse_subscribers_active",
		metric.WithDescription("Number of live SSE event-bus subscribers"),
		metric.WithUnit("{subscriber}"),
		metric.WithInt64Callback(func(ctx context.Context, observer metric.Int64Observer) error {
			mc.subscriberCounterMu.RLock()
			counter := mc.subscriberCounter
			mc.subscriberCounterMu.RUnlock()
			if counter != nil {
				observer.Observe(int64(counter.TotalSubscriberCount()))
			}
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	_, err = meter.Int64ObservableGauge(
		"inspector_sessions_active",
		metric.WithDescription("Number of sessions currently tracked in the live registry"),
		metric.WithUnit("{session}"),
		metric.WithInt64Callback(func(ctx context.Context, observer metric.Int64Observer) error {
			mc.sessionCounterMu.RLock()
			counter := mc.sessionCounter
			mc.sessionCounterMu.RUnlock()
			if counter != nil {
				observer.Observe(int64(counter.Count()))
			}
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	return mc, nil
}

// EmitDelivered records a hook emission that reached at least one
// subscriber. Satisfies hooks.Metrics.
func (mc *MetricsCollector) EmitDelivered(name string) {
	mc.hookEmitsTotal.Add(context.Background(), 1, metric.WithAttributes(attribute.String("hook", name)))
}

// EmitDropped records a hook emission with no registered subscribers.
// Satisfies hooks.Metrics.
func (mc *MetricsCollector) EmitDropped(name string) {
	mc.hookDropsTotal.Add(context.Background(), 1, metric.WithAttributes(attribute.String("hook", name)))
}

// SubscriberPanicked records a recovered hook subscriber panic. Satisfies
// hooks.Metrics.
func (mc *MetricsCollector) SubscriberPanicked(name string) {
	mc.hookPanicsTotal.Add(context.Background(), 1, metric.WithAttributes(attribute.String("hook", name)))
}

// BatchFailure records a session trace write that failed, tagged with its
// failure class ("disk_full" or "corrupt"). Satisfies exporter.Metrics.
func (mc *MetricsCollector) BatchFailure(reason string) {
	mc.exportFailures.Add(context.Background(), 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// SetSubscriberCounter wires the event bus the SSE-subscriber gauge reads
// from. Called once during inspector construction.
func (mc *MetricsCollector) SetSubscriberCounter(counter SubscriberCounter) {
	mc.subscriberCounterMu.Lock()
	mc.subscriberCounter = counter
	mc.subscriberCounterMu.Unlock()
}

// SetSessionCounter wires the live registry the active-sessions gauge
// reads from. Called once during inspector construction.
func (mc *MetricsCollector) SetSessionCounter(counter SessionCounter) {
	mc.sessionCounterMu.Lock()
	mc.sessionCounter = counter
	mc.sessionCounterMu.Unlock()
}
