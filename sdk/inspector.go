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

package sdk

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/tombee/mcp-agent-inspector/internal/config"
	"github.com/tombee/mcp-agent-inspector/internal/enrich"
	"github.com/tombee/mcp-agent-inspector/internal/eventbus"
	"github.com/tombee/mcp-agent-inspector/internal/exporter"
	"github.com/tombee/mcp-agent-inspector/internal/gateway"
	"github.com/tombee/mcp-agent-inspector/internal/hooks"
	"github.com/tombee/mcp-agent-inspector/internal/registry"
	"github.com/tombee/mcp-agent-inspector/internal/tracestream"
	"github.com/tombee/mcp-agent-inspector/internal/tracing"
	"github.com/tombee/mcp-agent-inspector/internal/tracing/audit"
	"github.com/tombee/mcp-agent-inspector/internal/tracing/redact"
	"github.com/tombee/mcp-agent-inspector/pkg/observability"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Version is the inspector's own release version, reported by GET /health.
const Version = "0.1.0"

// Inspector wires every telemetry-plane component behind one object: the
// hook bus a host framework emits into, the tracer it starts spans with,
// and the HTTP gateway that serves the resulting data. Each Inspector
// instance is fully self-contained; nothing here is a package-level
// global, so a process can construct more than one for testing.
type Inspector struct {
	logger *slog.Logger
	cfg    *config.Config

	hookBus  *hooks.Bus
	enricher *enrich.Enricher
	provider *tracing.OTelProvider
	exp      *exporter.Exporter

	live     *registry.LiveRegistry
	registry *registry.Registry
	events   *eventbus.Bus
	trace    *tracestream.Handler
	router   *gateway.Router
	auditLog *audit.Logger

	stopHeartbeats chan struct{}
	closeOnce      sync.Once
}

// Option configures New.
type Option func(*options)

type options struct {
	logger        *slog.Logger
	controller    gateway.SessionController
	auditWriter   *audit.Logger
	serviceName   string
	extraSpanOpts []sdktrace.TracerProviderOption
}

// WithLogger sets the *slog.Logger every component logs through. Defaults
// to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithSessionController wires the host's Signal/Cancel dispatch into the
// HTTP gateway's /signal and /cancel routes. Without one, those routes
// 404 for every session, since there is nowhere to forward the request.
func WithSessionController(c gateway.SessionController) Option {
	return func(o *options) { o.controller = c }
}

// WithAuditLogger overrides the default stdout audit logger for gateway
// access records.
func WithAuditLogger(l *audit.Logger) Option {
	return func(o *options) { o.auditWriter = l }
}

// WithServiceName sets the name reported by GET /health and used as the
// OpenTelemetry resource's service.name. Defaults to
// "mcp-agent-inspector".
func WithServiceName(name string) Option {
	return func(o *options) { o.serviceName = name }
}

// New constructs an Inspector from a resolved Config (see
// internal/config.Load) and starts its background components: the file
// exporter's writer LRU and advisory lock, and the event bus's ring
// buffer. Callers must call Close when done to flush and release the
// traces-directory lock.
func New(cfg *config.Config, opts ...Option) (*Inspector, error) {
	o := &options{logger: slog.Default(), serviceName: "mcp-agent-inspector"}
	for _, opt := range opts {
		opt(o)
	}
	logger := o.logger

	bus := eventbus.New(logger)

	exp, err := exporter.New(cfg.TracesDir, logger, exporter.WithNotifier(bus))
	if err != nil {
		return nil, fmt.Errorf("create file exporter: %w", err)
	}

	fileExporter := tracing.NewFileSpanExporter(exp)
	spanOpts := append([]sdktrace.TracerProviderOption{
		sdktrace.WithBatcher(fileExporter),
	}, o.extraSpanOpts...)

	// Every span the gateway's own HTTP handlers start also goes to the
	// file exporter above; these additional processors are purely the
	// deployment's opt-in for forwarding that same ambient traffic
	// somewhere else (an OTLP collector, or stdout for local debugging).
	ambientProcessors, err := tracing.CreateExportersFromConfig(context.Background(), tracing.Config{Exporters: cfg.Exporters})
	if err != nil {
		exp.Shutdown()
		return nil, fmt.Errorf("configure ambient span exporters: %w", err)
	}
	for _, p := range ambientProcessors {
		spanOpts = append(spanOpts, sdktrace.WithSpanProcessor(p))
	}

	provider, err := tracing.NewOTelProvider(o.serviceName, Version, spanOpts...)
	if err != nil {
		exp.Shutdown()
		return nil, fmt.Errorf("create tracer provider: %w", err)
	}

	redactor := redact.NewRedactor(redactModeFor(cfg.RedactionMode))
	enricher := enrich.New(logger, enrich.WithRedactor(redactor))

	hookBus := hooks.New(logger)
	enricher.Register(hookBus)

	live := registry.NewLiveRegistry()

	scanner := registry.NewScanner(cfg.TracesDir, 1000, logger)
	go func() {
		stop := make(chan struct{})
		if err := scanner.WatchForInvalidation(stop); err != nil {
			logger.Warn("registry: file watch unavailable, cache will rely on TTL misses only", slog.Any("error", err))
		}
	}()

	var external registry.ExternalSource
	if cfg.ExternalWorkflowURL != "" {
		src, err := registry.NewWorkflowServiceSource(cfg.ExternalWorkflowURL)
		if err != nil {
			logger.Warn("registry: external workflow source disabled", slog.Any("error", err))
		} else {
			external = src
		}
	}
	reg := registry.New(scanner, live, external, logger)

	trace := tracestream.New(cfg.TracesDir, logger)

	metrics := provider.MetricsCollector()
	hookBus.SetMetrics(metrics)
	exp.SetMetrics(metrics)
	metrics.SetSubscriberCounter(bus)
	metrics.SetSessionCounter(live)

	auditLogger := o.auditWriter
	if auditLogger == nil {
		auditLogger = audit.NewStdoutLogger()
	}

	insp := &Inspector{
		logger:         logger,
		cfg:            cfg,
		hookBus:        hookBus,
		enricher:       enricher,
		provider:       provider,
		exp:            exp,
		live:           live,
		registry:       reg,
		events:         bus,
		trace:          trace,
		auditLog:       auditLogger,
		stopHeartbeats: make(chan struct{}),
	}

	registerLifecycleBridge(hookBus, bus, live, logger, insp.stopHeartbeats)

	insp.router = gateway.New(
		gateway.RouterConfig{Name: o.serviceName, Version: Version},
		reg, live, bus, trace, o.controller, auditLogger, logger,
	)

	return insp, nil
}

func redactModeFor(m config.RedactionMode) redact.RedactionMode {
	switch m {
	case config.RedactionMask:
		return redact.ModeStandard
	case config.RedactionDrop:
		return redact.ModeStrict
	default:
		return redact.ModeNone
	}
}

// Hooks returns the hook bus the host framework registers observers on
// and emits instrumentation events into. See internal/hooks for the named
// hook catalogue.
func (i *Inspector) Hooks() *hooks.Bus { return i.hookBus }

// Tracer returns a tracer for the given instrumentation scope. Spans
// started from it and ended by the host framework are exported to that
// session's trace file automatically.
func (i *Inspector) Tracer(name string) observability.Tracer { return i.provider.Tracer(name) }

// Router returns the HTTP handler serving every route under /_inspector,
// suitable for mounting on a host application's own mux
// (mux.Handle("/_inspector/", insp.Router())) or for running standalone
// behind a plain net/http.Server.
func (i *Inspector) Router() http.Handler { return i.router }

// Registry exposes the merged session list directly, for a host that
// wants it without going through HTTP.
func (i *Inspector) Registry() *registry.Registry { return i.registry }

// MetricsHandler returns an HTTP handler exposing the inspector's own
// operational metrics in Prometheus exposition format. It is never
// auto-mounted under /_inspector; a host that wants it mounts it itself,
// e.g. mux.Handle("/metrics", insp.MetricsHandler()).
func (i *Inspector) MetricsHandler() http.Handler { return i.provider.MetricsHandler() }

// Close flushes pending spans, stops the event bus, and releases the
// traces-directory lock. It is safe to call more than once.
func (i *Inspector) Close(ctx context.Context) error {
	var err error
	i.closeOnce.Do(func() {
		close(i.stopHeartbeats)
		if shutdownErr := i.provider.Shutdown(ctx); shutdownErr != nil {
			err = fmt.Errorf("shutdown tracer provider: %w", shutdownErr)
		}
		if shutdownErr := i.exp.Shutdown(); shutdownErr != nil && err == nil {
			err = fmt.Errorf("shutdown file exporter: %w", shutdownErr)
		}
		i.events.Shutdown()
	})
	return err
}
