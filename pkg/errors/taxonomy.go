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

package errors

import (
	"fmt"
	"net/http"
)

// HTTPError is satisfied by every error kind in this package that maps to a
// gateway response. Handlers type-assert to this interface rather than to
// each concrete type to build the {error:{kind,message}} body.
type HTTPError interface {
	error
	HTTPStatus() int
	Kind() string
}

// DegradedError marks a request that succeeded using only local data because
// an auxiliary source (the external workflow service) failed. It is never
// returned as the request's error value directly, since a degraded response
// is still a 200; callers attach its Message as the companion
// temporal_error field instead of surfacing this as a failure.
type DegradedError struct {
	Source  string
	Message string
	Cause   error
}

func (e *DegradedError) Error() string {
	return fmt.Sprintf("%s degraded: %s", e.Source, e.Message)
}

func (e *DegradedError) Unwrap() error { return e.Cause }

// HTTPStatus returns 200: a degraded result is still a successful response.
func (e *DegradedError) HTTPStatus() int { return http.StatusOK }

func (e *DegradedError) Kind() string { return "degraded" }

// StorageFullError indicates the exporter could not write because the
// traces directory ran out of space. The exporter drops into a no-op state
// on this error rather than failing the request that triggered a span
// export; it is surfaced only via the single DiskSpaceLow event.
type StorageFullError struct {
	Path  string
	Cause error
}

func (e *StorageFullError) Error() string {
	return fmt.Sprintf("storage full writing to %s", e.Path)
}

func (e *StorageFullError) Unwrap() error { return e.Cause }

func (e *StorageFullError) HTTPStatus() int { return http.StatusOK }

func (e *StorageFullError) Kind() string { return "storage_full" }

// CorruptTraceError is raised when a trace file or one of its lines fails
// to parse. The file is renamed with a .bad suffix and excluded from
// listing; this error carries enough detail for the single WARN log line.
type CorruptTraceError struct {
	Path  string
	Cause error
}

func (e *CorruptTraceError) Error() string {
	return fmt.Sprintf("corrupt trace file %s", e.Path)
}

func (e *CorruptTraceError) Unwrap() error { return e.Cause }

func (e *CorruptTraceError) HTTPStatus() int { return http.StatusNotFound }

func (e *CorruptTraceError) Kind() string { return "corrupt_trace" }

// SubscriberFailureError wraps a panic or error raised by a hook or event
// subscriber. It never propagates past the emission loop that caught it;
// callers log it at WARN and continue.
type SubscriberFailureError struct {
	HookName string
	Cause    error
}

func (e *SubscriberFailureError) Error() string {
	return fmt.Sprintf("subscriber for %s failed: %v", e.HookName, e.Cause)
}

func (e *SubscriberFailureError) Unwrap() error { return e.Cause }

func (e *SubscriberFailureError) HTTPStatus() int { return http.StatusOK }

func (e *SubscriberFailureError) Kind() string { return "subscriber_failure" }

// ClientDisconnectError indicates an SSE or /trace client closed its
// connection mid-stream. Handlers treat it as a signal to stop writing and
// clean up, not as a failure worth logging above debug level.
type ClientDisconnectError struct {
	Endpoint string
}

func (e *ClientDisconnectError) Error() string {
	return fmt.Sprintf("client disconnected from %s", e.Endpoint)
}

func (e *ClientDisconnectError) HTTPStatus() int { return http.StatusOK }

func (e *ClientDisconnectError) Kind() string { return "client_disconnect" }

// LockHeldError indicates another process already holds the traces
// directory's advisory lock. The exporter that observes this disables
// itself; readers remain unaffected.
type LockHeldError struct {
	Path  string
	Cause error
}

func (e *LockHeldError) Error() string {
	return fmt.Sprintf("advisory lock held by another process: %s", e.Path)
}

func (e *LockHeldError) Unwrap() error { return e.Cause }

func (e *LockHeldError) HTTPStatus() int { return http.StatusServiceUnavailable }

func (e *LockHeldError) Kind() string { return "lock_held" }
