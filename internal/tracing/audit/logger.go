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

// Package audit provides audit logging for access to the gateway's trace,
// event, and control-plane endpoints.
package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Action represents an action taken on a resource.
type Action string

const (
	ActionTracesRead   Action = "traces:read"
	ActionEventsStream Action = "events:stream"
	ActionSessionsList Action = "sessions:list"
	ActionSignal       Action = "signal:dispatch"
	ActionCancel       Action = "cancel:dispatch"
)

// Result represents the outcome of an audited action.
type Result string

const (
	ResultSuccess  Result = "success"
	ResultNotFound Result = "not_found"
	ResultError    Result = "error"
)

// Entry represents a single audit log entry.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Actor     string    `json:"actor"`
	Action    Action    `json:"action"`
	Resource  string    `json:"resource"`
	Result    Result    `json:"result"`
	LatencyMs int64     `json:"latency_ms"`
	UserAgent string    `json:"user_agent,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Logger writes audit log entries to an append-only log.
type Logger struct {
	writer io.Writer
	mu     sync.Mutex
}

// NewLogger creates a new audit logger.
func NewLogger(writer io.Writer) *Logger {
	return &Logger{
		writer: writer,
	}
}

// NewFileLogger creates an audit logger that writes to a file.
func NewFileLogger(path string) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}

	return &Logger{
		writer: f,
	}, nil
}

// NewStdoutLogger creates an audit logger that writes to stdout.
func NewStdoutLogger() *Logger {
	return &Logger{
		writer: os.Stdout,
	}
}

// NewLoggerFromDestination creates an audit logger based on destination type.
// Valid destinations: "file", "stdout".
func NewLoggerFromDestination(destination, filePath string) (*Logger, error) {
	switch destination {
	case "file":
		if filePath == "" {
			return nil, fmt.Errorf("file_path is required when destination is 'file'")
		}
		return NewFileLogger(filePath)
	case "stdout", "":
		return NewStdoutLogger(), nil
	default:
		return nil, fmt.Errorf("invalid audit destination: %q (must be file or stdout)", destination)
	}
}

// Log writes an audit entry.
func (l *Logger) Log(entry Entry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	_, err = l.writer.Write(append(data, '\n'))
	if err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}

	return nil
}

// Close closes the underlying writer if it implements io.Closer.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if closer, ok := l.writer.(io.Closer); ok {
		return closer.Close()
	}

	return nil
}
