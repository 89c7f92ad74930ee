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

// Package session provides task-local propagation of the session-id that
// threads through one root workflow execution and every task spawned from it.
package session

import (
	"context"
	"reflect"
	"regexp"
)

// Unknown is returned by Get when no session-id is visible from the current
// context.
const Unknown = "unknown"

// IDPattern is the shape every session-id appearing in a trace file must
// match: an opaque, URL-safe string of at least six characters.
var IDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{6,}$`)

type sessionKeyType struct{}

var sessionKey = sessionKeyType{}

// Set returns a derived context carrying id as the current session-id.
//
// Set is meant to be called exactly once, at the root of a workflow or in
// the middleware of an inbound request. Calling Set again within the same
// task scope to replace an existing id is undefined behavior; callers must
// not rely on the second value winning or losing.
func Set(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionKey, id)
}

// Get returns the most recently Set session-id visible from ctx, or the
// sentinel Unknown if none was ever set. Get never panics and never blocks.
//
// Because the value is carried on context.Context, a task spawned with a
// context derived from ctx (via context.WithValue, context.WithCancel, or
// simply closing over ctx) observes the same session-id: it inherits a
// snapshot at spawn time and cannot see later Sets made by unrelated
// concurrent tasks, since those tasks hold their own derived contexts.
func Get(ctx context.Context) string {
	if id, ok := ctx.Value(sessionKey).(string); ok && id != "" {
		return id
	}
	return Unknown
}

// Bind returns a wrapper around fn that, when called, injects the
// session-id current in ctx as a named "sessionID" argument if fn's formal
// parameter list declares one of that name and type (string); otherwise
// Bind returns fn unchanged (an identity wrapper).
//
// fn must be a function value. Bind panics if fn is not a func kind, since
// that reflects a programming error at the call site rather than a runtime
// condition callers should handle.
func Bind(ctx context.Context, fn any) any {
	fv := reflect.ValueOf(fn)
	ft := fv.Type()
	if ft.Kind() != reflect.Func {
		panic("session.Bind: fn must be a function")
	}

	idx, ok := sessionIDParam(ft)
	if !ok {
		return fn
	}

	id := Get(ctx)
	return reflect.MakeFunc(ft, func(args []reflect.Value) []reflect.Value {
		args[idx] = reflect.ValueOf(id)
		return fv.Call(args)
	}).Interface()
}

// sessionIDParam reports the index of the first string-typed parameter
// whose declared name would be "sessionID" by convention. Go's reflect
// package does not expose parameter names, so callers name the parameter
// type distinctly via SessionID to make it discoverable.
func sessionIDParam(ft reflect.Type) (int, bool) {
	sessionIDType := reflect.TypeOf(ID(""))
	for i := 0; i < ft.NumIn(); i++ {
		if ft.In(i) == sessionIDType {
			return i, true
		}
	}
	return 0, false
}

// ID is a distinct string type functions declare a formal parameter as when
// they want Bind to inject the ambient session-id automatically.
type ID string
