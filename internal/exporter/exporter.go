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

// Package exporter writes finished spans to per-session gzip-compressed
// NDJSON files under a traces directory, the durable record that C8's
// trace-stream service and C5's session registry both read back.
package exporter

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/tombee/mcp-agent-inspector/pkg/observability"
)

// maxOpenWriters bounds the LRU of concurrently open gzip writers.
const maxOpenWriters = 50

// unknownSessionID is the export bucket for spans that never had
// session.id set, matching this package's fallback grouping key.
const unknownSessionID = "unknown"

// Notifier is notified of exporter-level conditions the rest of the system
// surfaces to clients as events rather than errors. It is satisfied by the
// event bus's Publish method; exporter does not import the event bus
// package to avoid a dependency cycle (the event bus has no reason to
// depend on the exporter, so the direction runs exporter -> Notifier
// interface, event bus -> concrete implementation).
type Notifier interface {
	DiskSpaceLow()
}

type noopNotifier struct{}

func (noopNotifier) DiskSpaceLow() {}

// Metrics receives counts of export outcomes for operational
// observability. It is satisfied by tracing.MetricsCollector.
type Metrics interface {
	// BatchFailure is called once per session whose write failed, tagged
	// with the failure class ("disk_full" or "corrupt").
	BatchFailure(reason string)
}

type noopMetrics struct{}

func (noopMetrics) BatchFailure(string) {}

// Exporter is the file-based span exporter described in the trace file
// section of the data model: one gzip NDJSON file per session, rotating at
// 100MiB uncompressed, guarded by a single-writer advisory lock over the
// whole traces directory.
type Exporter struct {
	logger   *slog.Logger
	notifier Notifier
	metrics  Metrics
	sealer   *sealer // nil unless at-rest encryption is enabled

	mu        sync.Mutex
	dir       string
	lock      *writerLock
	lru       *writerLRU
	lockLost  bool // permanent for this process once the advisory lock is lost
	diskFull  bool // cleared automatically once a write succeeds again
	notified  bool // DiskSpaceLow has already fired once for the current diskFull episode
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithMetrics wires a Metrics sink that records export batch failures.
func WithMetrics(m Metrics) Option {
	return func(e *Exporter) {
		if m != nil {
			e.metrics = m
		}
	}
}

// SetMetrics wires a Metrics sink after construction, for callers that
// only have a collector available once the exporter already exists (the
// collector is owned by the tracer provider, which wraps this exporter).
func (e *Exporter) SetMetrics(m Metrics) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if m != nil {
		e.metrics = m
	}
}

// WithNotifier wires a Notifier that receives DiskSpaceLow notifications.
func WithNotifier(n Notifier) Option {
	return func(e *Exporter) { e.notifier = n }
}

// WithEncryption enables opt-in AES-256-GCM encryption of trace file
// contents using a key derived from passphrase via HKDF. The on-disk
// format without this option is unencrypted gzip+NDJSON; enabling it is a
// deliberate deployment choice, not a default, so the default format
// contract other tooling relies on never changes underneath it.
func WithEncryption(passphrase string) Option {
	return func(e *Exporter) { e.sealer = newSealer(passphrase) }
}

// New creates an Exporter rooted at dir. If dir cannot be created or
// written to (permission denied), it falls back to a writable temp
// directory and logs a warning, per the permission-denied degradation
// rule; if the advisory lock at dir/.inspector.lock is already held by
// another process, the Exporter starts in no-op mode: spans are accepted
// and silently dropped, and readers of existing trace files are
// unaffected since they never touch the lock.
func New(dir string, logger *slog.Logger, opts ...Option) (*Exporter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Exporter{logger: logger, notifier: noopNotifier{}, metrics: noopMetrics{}, lru: newWriterLRU(maxOpenWriters)}
	for _, opt := range opts {
		opt(e)
	}

	resolvedDir, err := ensureWritableDir(dir, logger)
	if err != nil {
		return nil, err
	}
	e.dir = resolvedDir

	lock, ok, err := tryAcquireLock(filepath.Join(resolvedDir, ".inspector.lock"))
	if err != nil {
		return nil, fmt.Errorf("acquire trace writer lock: %w", err)
	}
	if !ok {
		logger.Warn("traces directory writer lock already held; exporter starting in no-op mode", slog.String("dir", resolvedDir))
		e.lockLost = true
		return e, nil
	}
	e.lock = lock

	return e, nil
}

func ensureWritableDir(dir string, logger *slog.Logger) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		if errors.Is(err, os.ErrPermission) {
			fallback, ferr := os.MkdirTemp("", "mcp-agent-inspector-traces-*")
			if ferr != nil {
				return "", fmt.Errorf("create fallback traces dir: %w", ferr)
			}
			logger.Warn("traces directory not writable, falling back to a temp directory",
				slog.String("requested", dir), slog.String("fallback", fallback))
			return fallback, nil
		}
		return "", fmt.Errorf("create traces dir: %w", err)
	}
	return dir, nil
}

// Export appends spans to their session's trace file, grouping by the
// "session.id" attribute and falling back to "unknown" when absent. A
// single span's failure to write quarantines that session's current file
// and continues with the rest of the batch: one corrupt file must never
// drop the whole batch. The exception is disk exhaustion (ENOSPC), which
// is transient and left alone rather than quarantined — it clears itself
// the moment a write to that session succeeds again.
func (e *Exporter) Export(spans []*observability.Span) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.lockLost {
		return nil
	}
	if e.lock != nil && !e.lock.held() {
		e.logger.Warn("trace writer lock lost; switching to no-op mode")
		e.lockLost = true
		return nil
	}

	bySession := make(map[string][]*observability.Span)
	for _, span := range spans {
		id := unknownSessionID
		if v, ok := span.Attributes["session.id"].(string); ok && v != "" {
			id = v
		}
		bySession[id] = append(bySession[id], span)
	}

	anySucceeded := false
	for sessionID, group := range bySession {
		if err := e.exportSession(sessionID, group); err != nil {
			e.handleWriteFailure(sessionID, err)
			continue
		}
		anySucceeded = true
	}

	// A successful write after a disk-full episode is the recovery signal:
	// there is no other reliable way to learn free space returned short of
	// polling the filesystem, and the export path already tells us.
	if anySucceeded && e.diskFull {
		e.diskFull = false
		e.notified = false
		e.logger.Info("trace export recovered after disk space was low")
	}
	return nil
}

func (e *Exporter) exportSession(sessionID string, spans []*observability.Span) error {
	w, ok := e.lru.get(sessionID)
	if !ok {
		nw, err := newSessionWriter(e.dir, sessionID)
		if err != nil {
			return err
		}
		w = nw
		if evicted := e.lru.put(sessionID, w); evicted != nil {
			evicted.close()
		}
	}

	for _, span := range spans {
		encoded, err := json.Marshal(span)
		if err != nil {
			e.logger.Warn("dropping span that failed to serialize", slog.String("session.id", sessionID), slog.Any("error", err))
			continue
		}
		if e.sealer != nil {
			encoded, err = e.sealer.seal(encoded)
			if err != nil {
				return err
			}
		}
		if err := w.writeLine(encoded); err != nil {
			return err
		}
	}
	return nil
}

// handleWriteFailure routes an export failure to the remedy for its
// failure class. Disk exhaustion is transient and recovers on its own once
// space frees up, so it leaves the session's file and writer alone and
// only notifies once per episode; any other IO or gzip error is treated as
// file corruption and quarantines the session's file so one bad file
// cannot take the rest of the batch down with it.
func (e *Exporter) handleWriteFailure(sessionID string, err error) {
	if errors.Is(err, syscall.ENOSPC) {
		e.logger.Warn("trace export write failed: disk full, pausing export until space frees up", slog.String("session.id", sessionID))
		e.metrics.BatchFailure("disk_full")
		e.diskFull = true
		if !e.notified {
			e.notified = true
			e.notifier.DiskSpaceLow()
		}
		return
	}

	if w, ok := e.lru.get(sessionID); ok {
		if qerr := w.quarantine(); qerr != nil {
			e.logger.Warn("failed to quarantine bad trace file", slog.String("session.id", sessionID), slog.Any("error", qerr))
		}
		e.lru.remove(sessionID)
	}
	e.metrics.BatchFailure("corrupt")
	e.logger.Warn("trace export write failed, session file quarantined", slog.String("session.id", sessionID), slog.Any("error", err))
}

// Shutdown flushes and closes every open writer and releases the advisory
// lock. Calling Shutdown more than once is safe.
func (e *Exporter) Shutdown() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var firstErr error
	for _, w := range e.lru.all() {
		if err := w.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	e.lru = newWriterLRU(maxOpenWriters)

	if e.lock != nil {
		if err := e.lock.release(); err != nil && firstErr == nil {
			firstErr = err
		}
		e.lock = nil
	}
	return firstErr
}
