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

package audit

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMiddleware_AuditableEndpoints(t *testing.T) {
	tests := []struct {
		name           string
		method         string
		path           string
		expectedAction Action
		shouldAudit    bool
	}{
		{name: "sessions list", method: "GET", path: "/_inspector/sessions", expectedAction: ActionSessionsList, shouldAudit: true},
		{name: "trace read", method: "GET", path: "/_inspector/trace/abcdef", expectedAction: ActionTracesRead, shouldAudit: true},
		{name: "events stream", method: "GET", path: "/_inspector/events", expectedAction: ActionEventsStream, shouldAudit: true},
		{name: "signal dispatch", method: "POST", path: "/_inspector/signal/abcdef", expectedAction: ActionSignal, shouldAudit: true},
		{name: "cancel dispatch", method: "POST", path: "/_inspector/cancel/abcdef", expectedAction: ActionCancel, shouldAudit: true},
		{name: "health check", method: "GET", path: "/_inspector/health", shouldAudit: false},
		{name: "wrong method on trace", method: "POST", path: "/_inspector/trace/abcdef", shouldAudit: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var logBuf bytes.Buffer
			logger := NewLogger(&logBuf)

			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			})

			wrappedHandler := Middleware(logger, nil)(handler)

			req := httptest.NewRequest(tt.method, tt.path, nil)
			w := httptest.NewRecorder()
			wrappedHandler.ServeHTTP(w, req)

			logContent := logBuf.String()
			if !tt.shouldAudit {
				if logContent != "" {
					t.Errorf("expected no audit log for %s %s, got: %s", tt.method, tt.path, logContent)
				}
				return
			}

			if logContent == "" {
				t.Fatalf("expected audit log for %s %s, got none", tt.method, tt.path)
			}

			var entry Entry
			if err := json.Unmarshal([]byte(logContent), &entry); err != nil {
				t.Fatalf("failed to parse audit log: %v", err)
			}
			if entry.Action != tt.expectedAction {
				t.Errorf("expected action %q, got %q", tt.expectedAction, entry.Action)
			}
			if entry.Resource != tt.path {
				t.Errorf("expected resource %q, got %q", tt.path, entry.Resource)
			}
			if entry.Result != ResultSuccess {
				t.Errorf("expected result %q, got %q", ResultSuccess, entry.Result)
			}
		})
	}
}

func TestMiddleware_TrustedProxies(t *testing.T) {
	tests := []struct {
		name           string
		remoteAddr     string
		xff            string
		trustedProxies []string
		expectedIP     string
	}{
		{
			name:           "direct connection",
			remoteAddr:     "192.168.1.100:12345",
			trustedProxies: nil,
			expectedIP:     "192.168.1.100",
		},
		{
			name:           "untrusted proxy with xff",
			remoteAddr:     "10.0.0.1:54321",
			xff:            "203.0.113.5",
			trustedProxies: []string{"10.0.0.2"},
			expectedIP:     "10.0.0.1",
		},
		{
			name:           "trusted proxy with xff",
			remoteAddr:     "10.0.0.1:54321",
			xff:            "203.0.113.5, 10.0.0.2",
			trustedProxies: []string{"10.0.0.1"},
			expectedIP:     "203.0.113.5",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var logBuf bytes.Buffer
			logger := NewLogger(&logBuf)

			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			})

			wrappedHandler := Middleware(logger, tt.trustedProxies)(handler)

			req := httptest.NewRequest("GET", "/_inspector/sessions", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}

			w := httptest.NewRecorder()
			wrappedHandler.ServeHTTP(w, req)

			var entry Entry
			if err := json.Unmarshal(logBuf.Bytes(), &entry); err != nil {
				t.Fatalf("failed to parse audit log: %v", err)
			}
			if entry.Actor != tt.expectedIP {
				t.Errorf("expected actor %q, got %q", tt.expectedIP, entry.Actor)
			}
		})
	}
}

func TestMiddleware_StatusCodeMapping(t *testing.T) {
	tests := []struct {
		name           string
		statusCode     int
		expectedResult Result
	}{
		{name: "success 200", statusCode: http.StatusOK, expectedResult: ResultSuccess},
		{name: "not found", statusCode: http.StatusNotFound, expectedResult: ResultNotFound},
		{name: "server error", statusCode: http.StatusInternalServerError, expectedResult: ResultError},
		{name: "bad request", statusCode: http.StatusBadRequest, expectedResult: ResultError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var logBuf bytes.Buffer
			logger := NewLogger(&logBuf)

			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
			})

			wrappedHandler := Middleware(logger, nil)(handler)

			req := httptest.NewRequest("GET", "/_inspector/sessions", nil)
			w := httptest.NewRecorder()
			wrappedHandler.ServeHTTP(w, req)

			var entry Entry
			if err := json.Unmarshal(logBuf.Bytes(), &entry); err != nil {
				t.Fatalf("failed to parse audit log: %v", err)
			}
			if entry.Result != tt.expectedResult {
				t.Errorf("expected result %q, got %q", tt.expectedResult, entry.Result)
			}
		})
	}
}
