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
	"net/http"
	"strings"
	"time"
)

// Middleware creates an HTTP middleware that records access to every
// gateway route under /_inspector. The trustedProxies parameter
// specifies IP addresses from which X-Forwarded-For headers are trusted.
// The gateway carries no authenticated identity (auth is out of scope);
// Actor is the caller's resolved address.
func Middleware(logger *Logger, trustedProxies []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			action := determineAction(r.Method, r.URL.Path)
			if action == "" {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			entry := Entry{
				Actor:     extractIPAddress(r, trustedProxies),
				Action:    action,
				Resource:  r.URL.Path,
				Result:    determineResult(wrapped.statusCode),
				LatencyMs: time.Since(start).Milliseconds(),
				UserAgent: r.UserAgent(),
			}

			// Ignore logging errors to avoid cascading failures into the
			// request path they are meant to observe.
			_ = logger.Log(entry)
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush passes through to the underlying ResponseWriter's Flusher so
// streaming handlers (SSE, /trace) still work when wrapped by this
// middleware.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// extractIPAddress gets the client IP address from the request. The
// trustedProxies parameter specifies IPs from which X-Forwarded-For is
// trusted.
func extractIPAddress(r *http.Request, trustedProxies []string) string {
	remoteIP := r.RemoteAddr
	if idx := strings.LastIndex(remoteIP, ":"); idx != -1 {
		remoteIP = remoteIP[:idx]
	}

	isTrusted := false
	for _, proxy := range trustedProxies {
		if proxy == remoteIP {
			isTrusted = true
			break
		}
	}

	if isTrusted {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			parts := strings.Split(xff, ",")
			if len(parts) > 0 {
				return strings.TrimSpace(parts[0])
			}
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return xri
		}
	}

	return remoteIP
}

// determineAction maps an HTTP method and /_inspector path to an audit
// action. Only the routes named in §6 are auditable; /health is not, since
// it carries no session data.
func determineAction(method, path string) Action {
	switch {
	case path == "/_inspector/sessions" && method == http.MethodGet:
		return ActionSessionsList
	case strings.HasPrefix(path, "/_inspector/trace/") && method == http.MethodGet:
		return ActionTracesRead
	case path == "/_inspector/events" && method == http.MethodGet:
		return ActionEventsStream
	case strings.HasPrefix(path, "/_inspector/signal/") && method == http.MethodPost:
		return ActionSignal
	case strings.HasPrefix(path, "/_inspector/cancel/") && method == http.MethodPost:
		return ActionCancel
	default:
		return ""
	}
}

// determineResult maps an HTTP status code to an audit result.
func determineResult(statusCode int) Result {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return ResultSuccess
	case statusCode == http.StatusNotFound:
		return ResultNotFound
	default:
		return ResultError
	}
}
