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

// Package enrich turns hook-bus emissions into span attributes under the
// "mcp.*" namespace. Each hook family from internal/hooks' catalogue gets
// one enrichment function; Register wires all of them onto a Bus.
package enrich

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/tombee/mcp-agent-inspector/internal/hooks"
	"github.com/tombee/mcp-agent-inspector/internal/session"
	"github.com/tombee/mcp-agent-inspector/internal/tracing/redact"
	"github.com/tombee/mcp-agent-inspector/pkg/observability"
)

// Enricher subscribes to a hook bus and writes span attributes for every
// emission whose hook family it recognizes. The zero value is not usable;
// construct one with New.
type Enricher struct {
	logger   *slog.Logger
	redactor *redact.Redactor
}

// Option configures an Enricher.
type Option func(*Enricher)

// WithRedactor applies r to every string value before it is written as a
// span attribute. Redaction happens before the 30720-byte truncation step,
// never after, so a redaction replacement can never itself be truncated
// mid-pattern.
func WithRedactor(r *redact.Redactor) Option {
	return func(e *Enricher) { e.redactor = r }
}

// New creates an Enricher. With no options, redaction is disabled.
func New(logger *slog.Logger, opts ...Option) *Enricher {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Enricher{logger: logger, redactor: redact.NewRedactor(redact.ModeNone)}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Register subscribes one enrichment function per hook family in the
// catalogue onto bus. It does not itself create spans; it only writes
// attributes onto whatever span is active in the emitting context.
func (e *Enricher) Register(bus *hooks.Bus) {
	bus.Register(hooks.Name(hooks.FamilyAgentCall, "before"), e.onAgentCall)
	bus.Register(hooks.Name(hooks.FamilyAgentCall, "after"), e.onAgentCall)
	bus.Register(hooks.Name(hooks.FamilyAgentCall, "error"), e.onAgentCall)

	bus.Register(hooks.Name(hooks.FamilyLLMGenerate, "before"), e.onLLMGenerate)
	bus.Register(hooks.Name(hooks.FamilyLLMGenerate, "after"), e.onLLMGenerate)
	bus.Register(hooks.Name(hooks.FamilyLLMGenerate, "error"), e.onLLMGenerate)

	bus.Register(hooks.Name(hooks.FamilyToolCall, "before"), e.onToolCall)
	bus.Register(hooks.Name(hooks.FamilyToolCall, "after"), e.onToolCall)
	bus.Register(hooks.Name(hooks.FamilyToolCall, "error"), e.onToolCall)

	bus.Register(hooks.Name(hooks.FamilyWorkflowRun, "before"), e.onWorkflowRun)
	bus.Register(hooks.Name(hooks.FamilyWorkflowRun, "after"), e.onWorkflowRun)
	bus.Register(hooks.Name(hooks.FamilyWorkflowRun, "error"), e.onWorkflowRun)

	bus.Register(hooks.Name(hooks.FamilyRPCRequest, "before"), e.onRPCRequest)
	bus.Register(hooks.Name(hooks.FamilyRPCRequest, "after"), e.onRPCRequest)
	bus.Register(hooks.Name(hooks.FamilyRPCRequest, "error"), e.onRPCRequest)

	bus.Register(hooks.Name(hooks.FamilyResourceFetch, "before"), e.onResourceFetch)
	bus.Register(hooks.Name(hooks.FamilyResourceFetch, "after"), e.onResourceFetch)
	bus.Register(hooks.Name(hooks.FamilyResourceFetch, "error"), e.onResourceFetch)

	bus.Register(hooks.Name(hooks.FamilyPromptApply, "before"), e.onPromptApply)
	bus.Register(hooks.Name(hooks.FamilyPromptApply, "after"), e.onPromptApply)
	bus.Register(hooks.Name(hooks.FamilyPromptApply, "error"), e.onPromptApply)

	bus.Register(hooks.Name(hooks.FamilyTransport, "connected"), e.onTransport)
	bus.Register(hooks.Name(hooks.FamilyTransport, "disconnected"), e.onTransport)
	bus.Register(hooks.Name(hooks.FamilyTransport, "reconnecting"), e.onTransport)
}

// currentSpan returns the active span for ctx, or nil if there is none or
// it is not recording. Every enrichment function must guard on this before
// doing any serialization work: writing attributes to a non-recording span
// is wasted work the backing provider would discard anyway.
func currentSpan(ctx context.Context) observability.SpanHandle {
	handle, ok := observability.SpanHandleFromContext(ctx)
	if !ok || !handle.IsRecording() {
		return nil
	}
	return handle
}

func (e *Enricher) setSessionID(ctx context.Context, attrs map[string]any) {
	if id := session.Get(ctx); id != session.Unknown {
		attrs["session.id"] = id
	}
}

// setJSON serializes value to JSON, redacts it if a redactor is configured,
// and writes it under key with size-bound truncation applied. Marshal
// failures are logged and skipped rather than propagated: an enrichment
// failure must never surface as an error to the emitting caller.
func (e *Enricher) setJSON(span observability.SpanHandle, key string, value any) {
	if value == nil {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		e.logger.Warn("enrichment failed to marshal attribute", slog.String("key", key), slog.Any("error", err))
		return
	}
	encoded := e.redactor.RedactString(string(raw))

	// SpanHandle only exposes bulk SetAttributes, so the truncation
	// bookkeeping happens on a scratch *observability.Span and its result
	// is copied over as a single attribute set.
	scratch := &observability.Span{}
	scratch.SetJSONAttribute(key, encoded)
	span.SetAttributes(scratch.Attributes)
}

func attrString(payload hooks.Payload, key string) (string, bool) {
	v, ok := payload[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func (e *Enricher) onAgentCall(ctx context.Context, name string, p hooks.Payload) {
	span := currentSpan(ctx)
	if span == nil {
		return
	}
	attrs := map[string]any{}
	e.setSessionID(ctx, attrs)
	if agent, ok := p["agent"]; ok {
		e.setJSON(span, "mcp.agent.agent_json", agent)
	}
	if result, ok := p["result"]; ok {
		e.setJSON(span, "mcp.agent.result_json", result)
	}
	if exc, ok := p["exc"]; ok {
		e.setJSON(span, "mcp.agent.exc_json", exc)
	}
	span.SetAttributes(attrs)
}

func (e *Enricher) onLLMGenerate(ctx context.Context, name string, p hooks.Payload) {
	span := currentSpan(ctx)
	if span == nil {
		return
	}
	attrs := map[string]any{}
	e.setSessionID(ctx, attrs)
	if llm, ok := p["llm"]; ok {
		attrs["mcp.llm.llm"] = llm
	}
	if prompt, ok := p["prompt"]; ok {
		e.setJSON(span, "mcp.llm.prompt_json", prompt)
	}
	if response, ok := p["response"]; ok {
		e.setJSON(span, "mcp.llm.response_json", response)
	}
	if usage, ok := p["usage"]; ok {
		e.setJSON(span, "mcp.llm.usage_json", usage)
	}
	if exc, ok := p["exc"]; ok {
		e.setJSON(span, "mcp.llm.exc_json", exc)
	}
	span.SetAttributes(attrs)
}

func (e *Enricher) onToolCall(ctx context.Context, name string, p hooks.Payload) {
	span := currentSpan(ctx)
	if span == nil {
		return
	}
	attrs := map[string]any{}
	e.setSessionID(ctx, attrs)
	if toolName, ok := attrString(p, "tool-name"); ok {
		attrs["mcp.tool.tool_name"] = toolName
	}
	if args, ok := p["args"]; ok {
		e.setJSON(span, "mcp.tool.args_json", args)
	}
	if result, ok := p["result"]; ok {
		e.setJSON(span, "mcp.tool.result_json", result)
	}
	if toolCtx, ok := p["context"]; ok {
		e.setJSON(span, "mcp.tool.context_json", toolCtx)
	}
	if exc, ok := p["exc"]; ok {
		e.setJSON(span, "mcp.tool.exc_json", exc)
	}
	span.SetAttributes(attrs)
}

func (e *Enricher) onWorkflowRun(ctx context.Context, name string, p hooks.Payload) {
	span := currentSpan(ctx)
	if span == nil {
		return
	}
	attrs := map[string]any{}
	e.setSessionID(ctx, attrs)
	if workflow, ok := p["workflow"]; ok {
		e.setJSON(span, "mcp.workflow.workflow_json", workflow)
	}
	if wfCtx, ok := p["context"]; ok {
		e.setJSON(span, "mcp.workflow.context_json", wfCtx)
	}
	if result, ok := p["result"]; ok {
		e.setJSON(span, "mcp.workflow.result_json", result)
	}
	if exc, ok := p["exc"]; ok {
		e.setJSON(span, "mcp.workflow.exc_json", exc)
	}
	span.SetAttributes(attrs)
}

func (e *Enricher) onRPCRequest(ctx context.Context, name string, p hooks.Payload) {
	span := currentSpan(ctx)
	if span == nil {
		return
	}
	attrs := map[string]any{}
	e.setSessionID(ctx, attrs)
	if envelope, ok := p["envelope"]; ok {
		e.setJSON(span, "mcp.rpc.envelope_json", envelope)
	}
	if transport, ok := attrString(p, "transport"); ok {
		attrs["mcp.rpc.transport"] = transport
	}
	if durationMs, ok := p["duration-ms"]; ok {
		attrs["mcp.rpc.duration_ms"] = durationMs
	}
	if exc, ok := p["exc"]; ok {
		e.setJSON(span, "mcp.rpc.exc_json", exc)
	}
	span.SetAttributes(attrs)
}

func (e *Enricher) onResourceFetch(ctx context.Context, name string, p hooks.Payload) {
	span := currentSpan(ctx)
	if span == nil {
		return
	}
	attrs := map[string]any{}
	e.setSessionID(ctx, attrs)
	if uri, ok := attrString(p, "uri"); ok {
		attrs["mcp.resource.uri"] = uri
	}
	if mimeType, ok := attrString(p, "mime-type"); ok {
		attrs["mcp.resource.mime_type"] = mimeType
	}
	if content, ok := p["content"]; ok {
		e.setJSON(span, "mcp.resource.content_json", content)
	}
	if fetchCtx, ok := p["context"]; ok {
		e.setJSON(span, "mcp.resource.context_json", fetchCtx)
	}
	span.SetAttributes(attrs)
}

func (e *Enricher) onPromptApply(ctx context.Context, name string, p hooks.Payload) {
	span := currentSpan(ctx)
	if span == nil {
		return
	}
	attrs := map[string]any{}
	e.setSessionID(ctx, attrs)
	if templateID, ok := attrString(p, "template-id"); ok {
		attrs["mcp.prompt.template_id"] = templateID
	}
	if params, ok := p["parameters"]; ok {
		e.setJSON(span, "mcp.prompt.parameters_json", params)
	}
	if rendered, ok := p["rendered"]; ok {
		e.setJSON(span, "mcp.prompt.rendered_json", rendered)
	}
	span.SetAttributes(attrs)
}

func (e *Enricher) onTransport(ctx context.Context, name string, p hooks.Payload) {
	span := currentSpan(ctx)
	if span == nil {
		return
	}
	attrs := map[string]any{}
	e.setSessionID(ctx, attrs)
	if transportType, ok := attrString(p, "transport-type"); ok {
		attrs["mcp.transport.transport_type"] = transportType
	}
	if uri, ok := attrString(p, "uri"); ok {
		attrs["mcp.transport.uri"] = uri
	}
	if attempt, ok := p["attempt"]; ok {
		attrs["mcp.transport.attempt"] = attempt
	}
	if reason, ok := attrString(p, "reason"); ok {
		attrs["mcp.transport.reason"] = reason
	}
	span.SetAttributes(attrs)
}
