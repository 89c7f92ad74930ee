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

// Package gateway mounts the inspector's HTTP surface under /_inspector,
// wiring the trace-stream service, the event bus, the session registry,
// and a host-provided signal/cancel dispatcher behind one router that can
// either attach to a host application's mux (co-embedded mode) or serve
// itself (standalone mode).
package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/tombee/mcp-agent-inspector/internal/eventbus"
	"github.com/tombee/mcp-agent-inspector/internal/log"
	"github.com/tombee/mcp-agent-inspector/internal/registry"
	"github.com/tombee/mcp-agent-inspector/internal/tracestream"
	"github.com/tombee/mcp-agent-inspector/internal/tracing"
	"github.com/tombee/mcp-agent-inspector/internal/tracing/audit"
)

// basePath is the mount point every route lives under.
const basePath = "/_inspector"

// requestTimeout bounds non-streaming endpoints per §5's cooperative
// scheduling model; /events and /trace are exempt since they are
// long-lived by design and rely on client-disconnect detection instead.
const requestTimeout = 30 * time.Second

// RouterConfig names the service for the health endpoint.
type RouterConfig struct {
	Name    string
	Version string
}

// SessionController is implemented by the host framework so the gateway
// can drive a live session's signal and cancellation primitives without
// depending on the framework's own execution types.
type SessionController interface {
	// Signal delivers signal with an optional payload to the running
	// session. It returns an error only for delivery failures; whether
	// the session exists at all is checked by the gateway beforehand via
	// the live registry.
	Signal(ctx context.Context, sessionID string, signal string, payload any) error

	// Cancel requests cancellation of the running session.
	Cancel(ctx context.Context, sessionID string) error
}

// Router wraps an http.ServeMux with the /_inspector route table and the
// tracing/audit middleware chain.
type Router struct {
	mux    *http.ServeMux
	config RouterConfig
	logger *slog.Logger

	registry   *registry.Registry
	live       *registry.LiveRegistry
	bus        *eventbus.Bus
	trace      *tracestream.Handler
	controller SessionController
	auditLog   *audit.Logger
}

// New creates a Router. bus, reg, and live must be non-nil; trace and
// controller may be nil in tests that do not exercise those routes, in
// which case the corresponding handlers return 404. auditLogger may be
// nil to disable access auditing.
func New(cfg RouterConfig, reg *registry.Registry, live *registry.LiveRegistry, bus *eventbus.Bus, trace *tracestream.Handler, controller SessionController, auditLogger *audit.Logger, logger *slog.Logger) *Router {
	if logger == nil {
		logger = log.New(log.FromEnv())
	}
	r := &Router{
		mux:        http.NewServeMux(),
		config:     cfg,
		logger:     logger,
		registry:   reg,
		live:       live,
		bus:        bus,
		trace:      trace,
		controller: controller,
		auditLog:   auditLogger,
	}

	r.mux.HandleFunc("GET "+basePath+"/health", r.handleHealth)
	r.mux.HandleFunc("GET "+basePath+"/sessions", withTimeout(r.handleSessions, requestTimeout))
	r.mux.HandleFunc("GET "+basePath+"/trace/{id}", r.handleTrace)
	r.mux.HandleFunc("GET "+basePath+"/events", r.handleEvents)
	r.mux.HandleFunc("POST "+basePath+"/signal/{id}", withTimeout(r.handleSignal, requestTimeout))
	r.mux.HandleFunc("POST "+basePath+"/cancel/{id}", withTimeout(r.handleCancel, requestTimeout))

	return r
}

// Mux returns the underlying ServeMux so a co-embedded host can mount it
// directly on its own router (e.g. `hostMux.Handle("/_inspector/", router.Mux())`)
// instead of running Router.ServeHTTP as a standalone server.
func (r *Router) Mux() *http.ServeMux {
	return r.mux
}

// ServeHTTP implements http.Handler, applying the full middleware chain:
// trace-context extraction, span creation, correlation-id assignment, and
// access auditing, innermost to outermost.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	var handler http.Handler = r.mux

	if r.auditLog != nil {
		handler = audit.Middleware(r.auditLog, nil)(handler)
	}
	handler = tracing.CorrelationMiddleware(handler)
	handler = tracing.TracingMiddleware(handler)
	handler = tracing.HTTPMiddleware(handler)

	handler.ServeHTTP(w, req)
}

// withTimeout bounds a handler's execution with a hard per-request
// deadline, per §5's cancellation policy for non-streaming endpoints.
func withTimeout(h http.HandlerFunc, d time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), d)
		defer cancel()
		h(w, r.WithContext(ctx))
	}
}
