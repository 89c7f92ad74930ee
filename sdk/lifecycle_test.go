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
	"io"
	"log/slog"
	"testing"

	"github.com/tombee/mcp-agent-inspector/internal/eventbus"
	"github.com/tombee/mcp-agent-inspector/internal/hooks"
	"github.com/tombee/mcp-agent-inspector/internal/registry"
	"github.com/tombee/mcp-agent-inspector/internal/session"
)

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newBridge(t *testing.T) (*hooks.Bus, *eventbus.Bus, *registry.LiveRegistry, chan struct{}) {
	t.Helper()
	bus := hooks.New(silentLogger())
	events := eventbus.New(silentLogger())
	live := registry.NewLiveRegistry()
	stop := make(chan struct{})
	t.Cleanup(func() { close(stop) })
	registerLifecycleBridge(bus, events, live, silentLogger(), stop)
	return bus, events, live, stop
}

func lastPublished(events *eventbus.Bus) eventbus.Event {
	var zero uint64
	_, _, _, replayed := events.Subscribe(&zero)
	if len(replayed) == 0 {
		return eventbus.Event{}
	}
	return replayed[len(replayed)-1]
}

func TestSessionStartedPublishesEngineAndTitle(t *testing.T) {
	bus, events, live, _ := newBridge(t)

	bus.Emit(context.Background(), hooks.Name(hooks.FamilySessionLifecycle, "started"), hooks.Payload{
		"session-id": "sess-1",
		"engine":     "external-workflow",
		"title":      "nightly run",
	})

	m, ok := live.Get("sess-1")
	if !ok || m.Engine != registry.EngineExternalWorkflow || m.Title != "nightly run" {
		t.Fatalf("live.Get = %+v, %v", m, ok)
	}

	got := lastPublished(events)
	if got.Type != "SessionStarted" {
		t.Fatalf("event type = %q, want SessionStarted", got.Type)
	}
	if got.Data["engine"] != "external-workflow" || got.Data["title"] != "nightly run" {
		t.Fatalf("data = %v, missing engine/title", got.Data)
	}
}

func TestSessionPausedPublishesSignalAndPrompt(t *testing.T) {
	bus, events, _, _ := newBridge(t)

	bus.Emit(context.Background(), hooks.Name(hooks.FamilySessionLifecycle, "started"), hooks.Payload{"session-id": "sess-2"})
	bus.Emit(context.Background(), hooks.Name(hooks.FamilySessionLifecycle, "paused"), hooks.Payload{
		"session-id":  "sess-2",
		"signal-name": "human-approval",
		"prompt":      "approve deployment?",
	})

	got := lastPublished(events)
	if got.Type != "SessionPaused" {
		t.Fatalf("event type = %q, want SessionPaused", got.Type)
	}
	if got.Data["signal_name"] != "human-approval" || got.Data["prompt"] != "approve deployment?" {
		t.Fatalf("data = %v, missing signal_name/prompt", got.Data)
	}
}

func TestSessionResumedPublishesSignalAndPayload(t *testing.T) {
	bus, events, _, _ := newBridge(t)

	bus.Emit(context.Background(), hooks.Name(hooks.FamilySessionLifecycle, "started"), hooks.Payload{"session-id": "sess-3"})
	bus.Emit(context.Background(), hooks.Name(hooks.FamilySessionLifecycle, "resumed"), hooks.Payload{
		"session-id":  "sess-3",
		"signal-name": "human-approval",
		"payload":     "approved",
	})

	got := lastPublished(events)
	if got.Type != "SessionResumed" {
		t.Fatalf("event type = %q, want SessionResumed", got.Type)
	}
	if got.Data["signal_name"] != "human-approval" || got.Data["payload"] != "approved" {
		t.Fatalf("data = %v, missing signal_name/payload", got.Data)
	}
}

func TestWaitingOnSignalDoesNotChangeStatus(t *testing.T) {
	bus, events, live, _ := newBridge(t)

	bus.Emit(context.Background(), hooks.Name(hooks.FamilySessionLifecycle, "started"), hooks.Payload{"session-id": "sess-4"})
	bus.Emit(context.Background(), hooks.Name(hooks.FamilySessionLifecycle, "waiting-on-signal"), hooks.Payload{
		"session-id":  "sess-4",
		"signal-name": "tool-approval",
	})

	m, ok := live.Get("sess-4")
	if !ok || m.Status != registry.StatusRunning {
		t.Fatalf("status = %v, want unchanged StatusRunning", m.Status)
	}

	got := lastPublished(events)
	if got.Type != "WaitingOnSignal" || got.Data["signal_name"] != "tool-approval" {
		t.Fatalf("event = %+v, want WaitingOnSignal with signal_name", got)
	}
}

func TestSessionFinishedPublishesErrorAndDuration(t *testing.T) {
	bus, events, live, _ := newBridge(t)

	bus.Emit(context.Background(), hooks.Name(hooks.FamilySessionLifecycle, "started"), hooks.Payload{"session-id": "sess-5"})
	bus.Emit(context.Background(), hooks.Name(hooks.FamilySessionLifecycle, "finished"), hooks.Payload{
		"session-id": "sess-5",
		"outcome":    "error",
		"error":      "boom",
	})

	m, ok := live.Get("sess-5")
	if !ok || m.Status != registry.StatusFailed || m.EndedAt == nil {
		t.Fatalf("live.Get = %+v, %v", m, ok)
	}

	got := lastPublished(events)
	if got.Type != "SessionFinished" {
		t.Fatalf("event type = %q, want SessionFinished", got.Type)
	}
	if got.Data["error"] != "boom" {
		t.Fatalf("data = %v, missing error", got.Data)
	}
	if _, ok := got.Data["duration_ms"]; !ok {
		t.Fatalf("data = %v, missing duration_ms", got.Data)
	}
}

func TestHeartbeatStopsAfterSessionFinished(t *testing.T) {
	hb := newHeartbeatTracker()
	events := eventbus.New(silentLogger())
	stop := make(chan struct{})
	defer close(stop)

	hb.start("sess-6", events, silentLogger(), stop)
	hb.start("sess-6", events, silentLogger(), stop) // idempotent, must not spawn a second loop

	hb.stop("sess-6")

	hb.mu.Lock()
	_, stillRunning := hb.cancel["sess-6"]
	hb.mu.Unlock()
	if stillRunning {
		t.Fatal("heartbeat loop still registered after stop")
	}
}

func TestHeartbeatCountersAccumulateFromHookBus(t *testing.T) {
	bus := hooks.New(silentLogger())
	hb := newHeartbeatTracker()
	registerHeartbeatCounters(bus, hb)

	ctx := session.Set(context.Background(), "sess-7")
	bus.Emit(ctx, hooks.Name(hooks.FamilyToolCall, "before"), hooks.Payload{})
	bus.Emit(ctx, hooks.Name(hooks.FamilyLLMGenerate, "after"), hooks.Payload{
		"usage": map[string]any{"total_tokens": float64(42)},
	})
	bus.Emit(ctx, hooks.Name(hooks.FamilyToolCall, "after"), hooks.Payload{})

	llmCalls, tokens, toolCalls, spans := hb.counter("sess-7").drain()
	if llmCalls != 1 || tokens != 42 || toolCalls != 1 || spans != 1 {
		t.Fatalf("counters = llm=%d tokens=%d tool=%d spans=%d, want 1,42,1,1", llmCalls, tokens, toolCalls, spans)
	}
}

func TestSetSessionSpanAttrsSkipsWithoutSpan(t *testing.T) {
	// No span in context; must not panic.
	setSessionSpanAttrs(context.Background(), map[string]any{"session.status": "running"})
}
