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
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/tombee/mcp-agent-inspector/internal/httputil"
	inspectorerrors "github.com/tombee/mcp-agent-inspector/pkg/errors"
)

// healthBody is the GET /health response shape.
type healthBody struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, healthBody{Name: r.config.Name, Version: r.config.Version})
}

// sessionsBody is the GET /sessions response shape.
type sessionsBody struct {
	Sessions      []any  `json:"sessions"`
	TemporalError string `json:"temporal_error,omitempty"`
}

func (r *Router) handleSessions(w http.ResponseWriter, req *http.Request) {
	result, err := r.registry.List(req.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	sessions := make([]any, len(result.Sessions))
	for i, m := range result.Sessions {
		sessions[i] = m
	}
	httputil.WriteJSON(w, http.StatusOK, sessionsBody{Sessions: sessions, TemporalError: result.TemporalError})
}

func (r *Router) handleTrace(w http.ResponseWriter, req *http.Request) {
	id, ok := sessionIDFromPath(req)
	if !ok {
		http.NotFound(w, req)
		return
	}
	if r.trace == nil {
		http.NotFound(w, req)
		return
	}
	r.trace.ServeSession(w, req, id)
}

func (r *Router) handleEvents(w http.ResponseWriter, req *http.Request) {
	r.bus.ServeHTTP(w, req)
}

// signalRequest is the POST /signal/{id} JSON body.
type signalRequest struct {
	Signal  string `json:"signal"`
	Payload any    `json:"payload,omitempty"`
}

// validSignals is the enum §6 allows in a signal request body.
var validSignals = map[string]bool{
	"human_input_answer": true,
	"pause":              true,
	"resume":             true,
}

func (r *Router) handleSignal(w http.ResponseWriter, req *http.Request) {
	id, ok := sessionIDFromPath(req)
	if !ok {
		http.NotFound(w, req)
		return
	}

	if _, known := r.live.Get(id); !known {
		httputil.WriteError(w, &inspectorerrors.NotFoundError{Resource: "session", ID: id})
		return
	}

	var body signalRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		httputil.WriteError(w, &inspectorerrors.ValidationError{Field: "body", Message: "malformed JSON"})
		return
	}
	if !validSignals[body.Signal] {
		httputil.WriteError(w, &inspectorerrors.ValidationError{Field: "signal", Message: "unrecognized signal: " + body.Signal})
		return
	}

	if r.controller == nil {
		httputil.WriteError(w, &inspectorerrors.NotFoundError{Resource: "session", ID: id})
		return
	}
	if err := r.controller.Signal(req.Context(), id, body.Signal, body.Payload); err != nil {
		r.logger.Warn("gateway: signal dispatch failed", slog.String("session_id", id), slog.Any("error", err))
		httputil.WriteError(w, &inspectorerrors.NotFoundError{Resource: "session", ID: id})
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (r *Router) handleCancel(w http.ResponseWriter, req *http.Request) {
	id, ok := sessionIDFromPath(req)
	if !ok {
		http.NotFound(w, req)
		return
	}

	if _, known := r.live.Get(id); !known {
		httputil.WriteError(w, &inspectorerrors.NotFoundError{Resource: "session", ID: id})
		return
	}

	if r.controller == nil {
		httputil.WriteError(w, &inspectorerrors.NotFoundError{Resource: "session", ID: id})
		return
	}
	if err := r.controller.Cancel(req.Context(), id); err != nil {
		r.logger.Warn("gateway: cancel dispatch failed", slog.String("session_id", id), slog.Any("error", err))
		httputil.WriteError(w, &inspectorerrors.NotFoundError{Resource: "session", ID: id})
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
