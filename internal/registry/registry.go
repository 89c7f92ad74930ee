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

// Package registry produces the unified, sorted session list: filesystem
// trace files merged with an in-memory live registry and, optionally, an
// external workflow service.
package registry

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Status is a session's lifecycle state.
type Status string

const (
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusFailed    Status = "failed"
	StatusCompleted Status = "completed"
)

// Engine classifies a session's execution environment.
type Engine string

const (
	EngineLocal             Engine = "local"
	EngineExternalWorkflow  Engine = "external-workflow"
	EngineInboundRequest    Engine = "inbound-request"
)

// Meta is one entry in the merged session list, matching the wire shape
// of GET /sessions' SessionMeta.
type Meta struct {
	ID        string     `json:"id"`
	Status    Status     `json:"status"`
	Engine    Engine     `json:"engine"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Title     string     `json:"title"`
	Tags      []string   `json:"tags,omitempty"`
}

// FileEnumerator lists sessions discoverable from the traces directory
// (base files and their rotation chunks collapsed to one entry each), by
// reading metadata out of the first and last line of each file. It is
// satisfied by *filescan.Scanner from this package's companion file.
type FileEnumerator interface {
	Enumerate(ctx context.Context) ([]Meta, error)
}

// ExternalSource optionally augments the local view with sessions known
// only to an external workflow service. Implementations must themselves
// enforce a short timeout; the registry does not impose one, matching
// §5's "external workflow-service queries have a short timeout" contract
// living at the query layer.
type ExternalSource interface {
	// List returns sessions known to the external service. err is
	// returned only for cases that should populate temporal_error; a nil
	// slice with a nil error means "no external sessions", not degraded.
	List(ctx context.Context) ([]Meta, error)
}

// LiveRegistry is the in-memory record of sessions currently running in
// this process, kept up to date by session-lifecycle hook subscribers. It
// always wins over file-derived status for a given session ID, since the
// file may not yet reflect the most recent lifecycle event.
type LiveRegistry struct {
	mu       sync.RWMutex
	sessions map[string]Meta
}

// NewLiveRegistry creates an empty live registry.
func NewLiveRegistry() *LiveRegistry {
	return &LiveRegistry{sessions: make(map[string]Meta)}
}

// Upsert records or updates a session's live metadata.
func (r *LiveRegistry) Upsert(m Meta) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[m.ID] = m
}

// Remove drops a session from the live registry, e.g. once its trace file
// has been fully closed and status is authoritative from disk.
func (r *LiveRegistry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Get returns the live metadata for id, if any.
func (r *LiveRegistry) Get(id string) (Meta, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.sessions[id]
	return m, ok
}

// Count returns the number of sessions currently tracked live, satisfying
// tracing.SessionCounter for the active-sessions gauge.
func (r *LiveRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// All returns every live session.
func (r *LiveRegistry) All() []Meta {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Meta, 0, len(r.sessions))
	for _, m := range r.sessions {
		out = append(out, m)
	}
	return out
}

// Registry merges the three sources into one sorted list.
type Registry struct {
	logger   *slog.Logger
	files    FileEnumerator
	live     *LiveRegistry
	external ExternalSource // nil disables external queries entirely
}

// New creates a Registry. external may be nil.
func New(files FileEnumerator, live *LiveRegistry, external ExternalSource, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger, files: files, live: live, external: external}
}

// Result is the outcome of List: the merged, sorted sessions plus an
// optional description of an external-source failure that must not
// suppress the local sessions found alongside it.
type Result struct {
	Sessions      []Meta
	TemporalError string
}

// List merges file-derived, live, and (if configured) external sessions,
// with live metadata always taking precedence over file metadata for a
// given ID, sorted by StartedAt descending.
func (r *Registry) List(ctx context.Context) (Result, error) {
	var fileSessions []Meta
	if r.files != nil {
		fs, err := r.files.Enumerate(ctx)
		if err != nil {
			r.logger.Warn("registry: file enumeration failed", slog.Any("error", err))
		} else {
			fileSessions = fs
		}
	}

	merged := make(map[string]Meta, len(fileSessions))
	for _, m := range fileSessions {
		merged[m.ID] = m
	}
	for _, m := range r.live.All() {
		merged[m.ID] = m // live always wins
	}

	result := Result{}
	if r.external != nil {
		extSessions, err := r.external.List(ctx)
		if err != nil {
			result.TemporalError = err.Error()
			r.logger.Warn("registry: external workflow service query failed", slog.Any("error", err))
		} else {
			for _, m := range extSessions {
				if _, exists := merged[m.ID]; !exists {
					merged[m.ID] = m
				}
			}
		}
	}

	sessions := make([]Meta, 0, len(merged))
	for _, m := range merged {
		sessions = append(sessions, m)
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].StartedAt.After(sessions[j].StartedAt) })
	result.Sessions = sessions

	return result, nil
}
