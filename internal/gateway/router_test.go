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

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tombee/mcp-agent-inspector/internal/eventbus"
	"github.com/tombee/mcp-agent-inspector/internal/registry"
	"github.com/tombee/mcp-agent-inspector/internal/tracestream"
)

type fakeFileEnumerator struct {
	sessions []registry.Meta
}

func (f fakeFileEnumerator) Enumerate(context.Context) ([]registry.Meta, error) {
	return f.sessions, nil
}

type fakeController struct {
	signaled  map[string]string
	cancelled map[string]bool
	err       error
}

func newFakeController() *fakeController {
	return &fakeController{signaled: map[string]string{}, cancelled: map[string]bool{}}
}

func (c *fakeController) Signal(ctx context.Context, sessionID, signal string, payload any) error {
	if c.err != nil {
		return c.err
	}
	c.signaled[sessionID] = signal
	return nil
}

func (c *fakeController) Cancel(ctx context.Context, sessionID string) error {
	if c.err != nil {
		return c.err
	}
	c.cancelled[sessionID] = true
	return nil
}

func newTestRouter(t *testing.T) (*Router, *registry.LiveRegistry, *fakeController) {
	t.Helper()
	live := registry.NewLiveRegistry()
	reg := registry.New(fakeFileEnumerator{}, live, nil, nil)
	bus := eventbus.New(nil)
	t.Cleanup(bus.Shutdown)
	trace := tracestream.New(t.TempDir(), nil)
	controller := newFakeController()

	r := New(RouterConfig{Name: "mcp-agent-inspector", Version: "0.0.1"}, reg, live, bus, trace, controller, nil, nil)
	return r, live, controller
}

func TestHandleHealth(t *testing.T) {
	r, _, _ := newTestRouter(t)

	req := httptest.NewRequest("GET", "/_inspector/health", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body["name"] != "mcp-agent-inspector" {
		t.Errorf("expected name mcp-agent-inspector, got %q", body["name"])
	}
	if body["version"] != "0.0.1" {
		t.Errorf("expected version 0.0.1, got %q", body["version"])
	}
}

func TestHandleSessions_MergesLiveOverFile(t *testing.T) {
	live := registry.NewLiveRegistry()
	reg := registry.New(fakeFileEnumerator{sessions: []registry.Meta{
		{ID: "abcdef", Status: registry.StatusCompleted, StartedAt: time.Now().Add(-time.Hour)},
	}}, live, nil, nil)
	bus := eventbus.New(nil)
	t.Cleanup(bus.Shutdown)

	r := New(RouterConfig{Name: "n", Version: "v"}, reg, live, bus, nil, nil, nil, nil)

	req := httptest.NewRequest("GET", "/_inspector/sessions", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "abcdef") {
		t.Errorf("expected response to contain session id, got: %s", w.Body.String())
	}
}

func TestHandleTrace_MissingSessionIDPatternReturns404(t *testing.T) {
	r, _, _ := newTestRouter(t)

	req := httptest.NewRequest("GET", "/_inspector/trace/x", nil) // too short to match pattern
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for invalid session id, got %d", w.Code)
	}
}

func TestHandleSignal_UnknownSessionReturns404(t *testing.T) {
	r, _, _ := newTestRouter(t)

	body := bytes.NewBufferString(`{"signal":"pause"}`)
	req := httptest.NewRequest("POST", "/_inspector/signal/abcdef", body)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown session, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandleSignal_KnownSessionDispatches(t *testing.T) {
	r, live, controller := newTestRouter(t)
	live.Upsert(registry.Meta{ID: "abcdef", Status: registry.StatusPaused, StartedAt: time.Now()})

	body := bytes.NewBufferString(`{"signal":"human_input_answer","payload":{"ok":true}}`)
	req := httptest.NewRequest("POST", "/_inspector/signal/abcdef", body)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if controller.signaled["abcdef"] != "human_input_answer" {
		t.Errorf("expected controller to record dispatched signal, got %v", controller.signaled)
	}
}

func TestHandleSignal_InvalidSignalRejected(t *testing.T) {
	r, live, _ := newTestRouter(t)
	live.Upsert(registry.Meta{ID: "abcdef", Status: registry.StatusRunning, StartedAt: time.Now()})

	body := bytes.NewBufferString(`{"signal":"not_a_real_signal"}`)
	req := httptest.NewRequest("POST", "/_inspector/signal/abcdef", body)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid signal, got %d", w.Code)
	}
}

func TestHandleCancel_KnownSessionDispatches(t *testing.T) {
	r, live, controller := newTestRouter(t)
	live.Upsert(registry.Meta{ID: "abcdef", Status: registry.StatusRunning, StartedAt: time.Now()})

	req := httptest.NewRequest("POST", "/_inspector/cancel/abcdef", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !controller.cancelled["abcdef"] {
		t.Error("expected controller to record cancellation")
	}
}

func TestHandleCancel_UnknownSessionReturns404(t *testing.T) {
	r, _, _ := newTestRouter(t)

	req := httptest.NewRequest("POST", "/_inspector/cancel/abcdef", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestSessionIDFromPath_RejectsTraversal(t *testing.T) {
	req := httptest.NewRequest("GET", "/_inspector/trace/..", nil)
	req.SetPathValue("id", "..%2f..%2fetc%2fpasswd")

	if _, ok := sessionIDFromPath(req); ok {
		t.Error("expected traversal-shaped session id to be rejected")
	}
}
