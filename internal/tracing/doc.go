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

/*
Package tracing provides the inspector's own OpenTelemetry wiring: the
TracerProvider implementation that backs pkg/observability, the file span
exporter bridge into internal/exporter, correlation-ID propagation for the
gateway's own HTTP requests, and an opt-in operational metrics collector.

# Overview

The tracing package supports:

  - Distributed tracing via OpenTelemetry, with spans created through the
    TracerProvider/Tracer/SpanHandle abstraction in pkg/observability
  - Correlation ID propagation across the gateway's own HTTP requests
  - Configurable, error-aware trace sampling
  - Opt-in operational metrics (hook traffic, export failures, SSE and
    session gauges), exposed via Prometheus or OTLP

# Quick Start

Create an OTel provider:

	cfg := tracing.Config{
	    ServiceName:    "mcp-agent-inspector",
	    ServiceVersion: "0.1.0",
	    Sampling: tracing.SamplingConfig{
	        Enabled: true,
	        Type:    "head",
	        Rate:    0.1, // 10% sampling
	    },
	}

	provider, err := tracing.NewOTelProviderWithConfig(cfg)

Get a tracer and create spans:

	tracer := provider.Tracer("mcp-agent-inspector")

	ctx, span := tracer.Start(ctx, "export-batch",
	    observability.WithAttributes(map[string]any{
	        "session.id": sessionID,
	    }),
	)
	defer span.End()

# Correlation IDs

Correlation IDs link the inspector's own incoming and outgoing HTTP
requests, independent of the spans it is recording for the monitored
agent framework:

	// In HTTP middleware
	correlationID := tracing.FromContext(ctx)

	// Add to outbound requests
	req.Header.Set("X-Correlation-ID", string(correlationID))

	// Middleware extracts and injects
	handler = tracing.CorrelationMiddleware(handler)

# Metrics Collection

A MetricsCollector is always constructed alongside the provider; it only
emits anything once its counters and gauges are wired up, which sdk.New
does at startup:

	collector := provider.MetricsCollector()
	collector.SetSubscriberCounter(eventBus)  // inspector_sse_subscribers_active
	collector.SetSessionCounter(liveRegistry) // inspector_sessions_active

	// hooks.Bus and exporter.Exporter call back into the collector
	// themselves via hooks.WithMetrics / exporter.WithMetrics.

Metrics exposed at /metrics (mounted by the host, never under
/_inspector):

  - inspector_hook_emits_total{hook}
  - inspector_hook_drops_total{hook}
  - inspector_hook_subscriber_panics_total{hook}
  - inspector_export_batch_failures_total{reason}
  - inspector_sse_subscribers_active
  - inspector_sessions_active

# Configuration

Full configuration options:

	observability:
	  service_name: mcp-agent-inspector
	  sampling:
	    type: head
	    enabled: true
	    rate: 0.1
	    always_sample_errors: true
	  exporters:
	    - type: otlp
	      endpoint: localhost:4317
	  redaction:
	    level: standard
	    patterns:
	      - name: api_key
	        regex: "sk-[a-zA-Z0-9]+"
	        replacement: "[REDACTED]"

# Key Components

  - OTelProvider: OpenTelemetry SDK wrapper implementing TracerProvider
  - FileSpanExporter: bridges finished spans into internal/exporter
  - MetricsCollector: opt-in operational metrics
  - CorrelationID: request correlation for the gateway's own traffic
  - Sampler: configurable, error-aware trace sampling
*/
package tracing
