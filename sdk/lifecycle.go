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
	"log/slog"
	"sync"
	"time"

	"github.com/tombee/mcp-agent-inspector/internal/eventbus"
	"github.com/tombee/mcp-agent-inspector/internal/hooks"
	"github.com/tombee/mcp-agent-inspector/internal/registry"
	"github.com/tombee/mcp-agent-inspector/internal/session"
	"github.com/tombee/mcp-agent-inspector/pkg/observability"
)

// heartbeatInterval is how often a running session's Heartbeat event
// advances its live counters, independent of the event bus's own 15s SSE
// keep-alive comment.
const heartbeatInterval = 10 * time.Second

// registerLifecycleBridge subscribes to the session-lifecycle and progress
// hook families and fans each emission out to two places: the live
// registry, so GET /sessions reflects state before any trace file exists
// on disk, and the event bus, so SSE subscribers on GET /events see it in
// real time. It also writes the same session metadata onto the active
// span as attributes, so a registry that has to fall back to file-scan
// metadata recovery (e.g. after an inspectord restart) finds a real
// status/engine/title/tags instead of the running/local defaults.
func registerLifecycleBridge(bus *hooks.Bus, events *eventbus.Bus, live *registry.LiveRegistry, logger *slog.Logger, stopAll <-chan struct{}) {
	hb := newHeartbeatTracker()

	bus.Register(hooks.Name(hooks.FamilySessionLifecycle, "started"), func(ctx context.Context, name string, payload hooks.Payload) {
		id := stringField(payload, "session-id")
		if id == "" {
			logger.Warn("session-lifecycle.started missing session-id, dropping")
			return
		}
		engine := engineField(payload)
		title := stringField(payload, "title")

		m := registry.Meta{
			ID:        id,
			Status:    registry.StatusRunning,
			Engine:    engine,
			StartedAt: time.Now(),
			Title:     title,
		}
		live.Upsert(m)

		attrs := map[string]any{
			"session.status": string(registry.StatusRunning),
			"session.engine": string(engine),
		}
		if title != "" {
			attrs["session.title"] = title
		}
		if tags, ok := payload["tags"]; ok {
			attrs["session.tags"] = tags
		}
		setSessionSpanAttrs(ctx, attrs)

		data := map[string]any{"session_id": id, "engine": string(engine), "title": title}
		if metadata, ok := payload["metadata"]; ok {
			data["metadata"] = metadata
		}
		events.Publish("SessionStarted", data)

		hb.start(id, events, logger, stopAll)
	})

	bus.Register(hooks.Name(hooks.FamilySessionLifecycle, "paused"), func(ctx context.Context, name string, payload hooks.Payload) {
		id := stringField(payload, "session-id")
		if id == "" {
			logger.Warn("session-lifecycle.paused missing session-id, dropping")
			return
		}
		if m, ok := live.Get(id); ok {
			m.Status = registry.StatusPaused
			live.Upsert(m)
		}
		setSessionSpanAttrs(ctx, map[string]any{"session.status": string(registry.StatusPaused)})

		data := map[string]any{"session_id": id, "signal_name": stringField(payload, "signal-name")}
		if prompt, ok := payload["prompt"]; ok {
			data["prompt"] = prompt
		}
		if schema, ok := payload["schema"]; ok {
			data["schema"] = schema
		}
		events.Publish("SessionPaused", data)
	})

	bus.Register(hooks.Name(hooks.FamilySessionLifecycle, "resumed"), func(ctx context.Context, name string, payload hooks.Payload) {
		id := stringField(payload, "session-id")
		if id == "" {
			logger.Warn("session-lifecycle.resumed missing session-id, dropping")
			return
		}
		if m, ok := live.Get(id); ok {
			m.Status = registry.StatusRunning
			live.Upsert(m)
		}
		setSessionSpanAttrs(ctx, map[string]any{"session.status": string(registry.StatusRunning)})

		data := map[string]any{"session_id": id, "signal_name": stringField(payload, "signal-name")}
		if p, ok := payload["payload"]; ok {
			data["payload"] = p
		}
		events.Publish("SessionResumed", data)
	})

	// waiting-on-signal is advisory: unlike paused, it does not by itself
	// change the session's registry status, since a framework may block
	// on a signal mid-step without ever transitioning the session out of
	// "running" (the scenario spec.md:305 describes is the
	// status-changing kind and arrives as session-lifecycle.paused).
	bus.Register(hooks.Name(hooks.FamilySessionLifecycle, "waiting-on-signal"), func(ctx context.Context, name string, payload hooks.Payload) {
		id := stringField(payload, "session-id")
		if id == "" {
			logger.Warn("session-lifecycle.waiting-on-signal missing session-id, dropping")
			return
		}
		data := map[string]any{"session_id": id, "signal_name": stringField(payload, "signal-name")}
		if prompt, ok := payload["prompt"]; ok {
			data["prompt"] = prompt
		}
		if schema, ok := payload["schema"]; ok {
			data["schema"] = schema
		}
		events.Publish("WaitingOnSignal", data)
	})

	bus.Register(hooks.Name(hooks.FamilySessionLifecycle, "finished"), func(ctx context.Context, name string, payload hooks.Payload) {
		id := stringField(payload, "session-id")
		if id == "" {
			logger.Warn("session-lifecycle.finished missing session-id, dropping")
			return
		}
		status := registry.StatusCompleted
		if stringField(payload, "outcome") == "error" {
			status = registry.StatusFailed
		}

		data := map[string]any{"session_id": id, "status": string(status)}
		if errVal, ok := payload["error"]; ok {
			data["error"] = errVal
		}

		if m, ok := live.Get(id); ok {
			now := time.Now()
			data["duration_ms"] = now.Sub(m.StartedAt).Milliseconds()
			m.Status = status
			m.EndedAt = &now
			live.Upsert(m)
		}
		setSessionSpanAttrs(ctx, map[string]any{"session.status": string(status)})

		events.Publish("SessionFinished", data)
		hb.stop(id)
		// The file exporter's own writer will have flushed this session's
		// trace file by the time a client re-queries the registry, so the
		// live entry is no longer the sole source of truth. It is left in
		// place rather than removed immediately: Remove would let a
		// registry.List call briefly show neither the live nor the
		// file-derived entry if the writer hasn't closed the file yet.
	})

	bus.Register(hooks.Name(hooks.FamilyProgress, "update"), func(ctx context.Context, name string, payload hooks.Payload) {
		id := stringField(payload, "session-id")
		events.Publish("Progress", map[string]any{
			"session_id":   id,
			"operation_id": stringField(payload, "operation-id"),
			"percent":      payload["percent"],
			"message":      stringField(payload, "message"),
		})
	})

	bus.Register(hooks.Name(hooks.FamilyProgress, "cancelled"), func(ctx context.Context, name string, payload hooks.Payload) {
		id := stringField(payload, "session-id")
		events.Publish("ProgressCancelled", map[string]any{
			"session_id":   id,
			"operation_id": stringField(payload, "operation-id"),
		})
	})

	registerHeartbeatCounters(bus, hb)
}

func stringField(payload hooks.Payload, key string) string {
	v, ok := payload[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func engineField(payload hooks.Payload) registry.Engine {
	switch stringField(payload, "engine") {
	case "external-workflow":
		return registry.EngineExternalWorkflow
	case "inbound-request":
		return registry.EngineInboundRequest
	default:
		return registry.EngineLocal
	}
}

// setSessionSpanAttrs writes attrs onto the active span in ctx, mirroring
// internal/enrich's currentSpan guard: a non-recording or absent span is
// silently skipped rather than treated as an error, since a
// session-lifecycle hook firing outside any span (e.g. at process
// shutdown) is routine, not a bug.
func setSessionSpanAttrs(ctx context.Context, attrs map[string]any) {
	handle, ok := observability.SpanHandleFromContext(ctx)
	if !ok || !handle.IsRecording() {
		return
	}
	handle.SetAttributes(attrs)
}

// sessionCounters accumulates the deltas a session's next Heartbeat event
// will report, reset to zero every time drain is called.
type sessionCounters struct {
	mu                                 sync.Mutex
	llmCalls, tokens, toolCalls, spans int64
}

func (c *sessionCounters) drain() (llmCalls, tokens, toolCalls, spans int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	llmCalls, tokens, toolCalls, spans = c.llmCalls, c.tokens, c.toolCalls, c.spans
	c.llmCalls, c.tokens, c.toolCalls, c.spans = 0, 0, 0, 0
	return
}

// heartbeatTracker owns one sessionCounters per live session and the
// per-session goroutine that periodically drains it onto the event bus.
// The zero value is not usable; construct one with newHeartbeatTracker.
type heartbeatTracker struct {
	mu       sync.Mutex
	counters map[string]*sessionCounters
	cancel   map[string]chan struct{}
}

func newHeartbeatTracker() *heartbeatTracker {
	return &heartbeatTracker{
		counters: make(map[string]*sessionCounters),
		cancel:   make(map[string]chan struct{}),
	}
}

func (t *heartbeatTracker) counter(id string) *sessionCounters {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.counters[id]
	if !ok {
		c = &sessionCounters{}
		t.counters[id] = c
	}
	return c
}

// start spawns the heartbeat loop for id. It is idempotent: a duplicate
// "started" emission for an id whose loop is already running is a no-op,
// rather than leaking a second goroutine.
func (t *heartbeatTracker) start(id string, events *eventbus.Bus, logger *slog.Logger, stopAll <-chan struct{}) {
	t.mu.Lock()
	if _, running := t.cancel[id]; running {
		t.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	t.cancel[id] = stop
	c := t.counter(id)
	t.mu.Unlock()

	go func() {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stopAll:
				return
			case <-stop:
				return
			case <-ticker.C:
				llmCalls, tokens, toolCalls, spans := c.drain()
				events.Publish("Heartbeat", map[string]any{
					"session_id":        id,
					"llm_calls_delta":   llmCalls,
					"tokens_delta":      tokens,
					"tool_calls_delta":  toolCalls,
					"current_span_count": spans,
				})
			}
		}
	}()
}

// stop ends id's heartbeat loop and releases its counters. Idempotent.
func (t *heartbeatTracker) stop(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if stop, ok := t.cancel[id]; ok {
		close(stop)
		delete(t.cancel, id)
	}
	delete(t.counters, id)
}

// spanCountedFamilies lists every hook family whose "before" phase starts
// a span, so the heartbeat's current-span-count delta can be derived
// without each enrichment function having to know about heartbeats.
var spanCountedFamilies = []string{
	hooks.FamilyAgentCall,
	hooks.FamilyLLMGenerate,
	hooks.FamilyToolCall,
	hooks.FamilyWorkflowRun,
	hooks.FamilyRPCRequest,
	hooks.FamilyResourceFetch,
	hooks.FamilyPromptApply,
}

// registerHeartbeatCounters wires the hook-bus subscriptions that advance
// a session's heartbeat deltas: one span-count increment per call-family
// "before", an LLM-call/token increment per llm-generate.after, and a
// tool-call increment per tool-call.after. Session identity comes from
// the ambient context the same way internal/enrich resolves it, since
// none of these hook families carry session-id in their payload.
func registerHeartbeatCounters(bus *hooks.Bus, hb *heartbeatTracker) {
	for _, family := range spanCountedFamilies {
		bus.Register(hooks.Name(family, "before"), func(ctx context.Context, name string, payload hooks.Payload) {
			if id := session.Get(ctx); id != session.Unknown {
				c := hb.counter(id)
				c.mu.Lock()
				c.spans++
				c.mu.Unlock()
			}
		})
	}

	bus.Register(hooks.Name(hooks.FamilyLLMGenerate, "after"), func(ctx context.Context, name string, payload hooks.Payload) {
		id := session.Get(ctx)
		if id == session.Unknown {
			return
		}
		c := hb.counter(id)
		c.mu.Lock()
		c.llmCalls++
		c.tokens += tokensFromUsage(payload["usage"])
		c.mu.Unlock()
	})

	bus.Register(hooks.Name(hooks.FamilyToolCall, "after"), func(ctx context.Context, name string, payload hooks.Payload) {
		id := session.Get(ctx)
		if id == session.Unknown {
			return
		}
		c := hb.counter(id)
		c.mu.Lock()
		c.toolCalls++
		c.mu.Unlock()
	})
}

// tokensFromUsage extracts a total-token count from an llm-generate.after
// hook's opaque "usage" payload field, whose shape the emitting framework
// controls. Anything it cannot recognize contributes zero rather than
// failing the heartbeat.
func tokensFromUsage(usage any) int64 {
	m, ok := usage.(map[string]any)
	if !ok {
		return 0
	}
	for _, key := range []string{"total_tokens", "total-tokens", "tokens"} {
		v, ok := m[key]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case float64:
			return int64(n)
		case int:
			return int64(n)
		case int64:
			return n
		}
	}
	return 0
}
