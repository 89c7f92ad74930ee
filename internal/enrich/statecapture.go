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

package enrich

import (
	"context"
	"reflect"
)

// ReplayDetector reports whether ctx is executing inside the replay of a
// durable workflow engine. State capture is skipped during replay: the
// return value was already captured on the original attempt, and durable
// engines commonly replay a function's side-effect-free portion many times
// to reconstruct state, which would otherwise re-serialize (and attribute
// as "new") the same result repeatedly.
type ReplayDetector func(ctx context.Context) bool

// alwaysLive is the default ReplayDetector: without a durable workflow
// engine attached, nothing is ever in replay.
func alwaysLive(context.Context) bool { return false }

// CaptureState wraps fn so that, once fn returns, its result is serialized
// to the span attribute "mcp.result.<name>_json" under the caller's active
// span. name is always required and explicit: CaptureState has no access
// to the call site's variable or field name, so there is no default to
// fall back to.
//
// fn must be a func whose first argument is context.Context and whose
// first return value is the result to capture; a trailing error return, if
// present, is inspected but not itself captured. CaptureState panics if fn
// does not have this shape, mirroring session.Bind's reflection contract.
func (e *Enricher) CaptureState(name string, fn any, opts ...CaptureOption) any {
	cfg := &captureConfig{replay: alwaysLive}
	for _, opt := range opts {
		opt(cfg)
	}

	fv := reflect.ValueOf(fn)
	ft := fv.Type()
	if ft.Kind() != reflect.Func || ft.NumIn() == 0 || ft.In(0) != reflect.TypeOf((*context.Context)(nil)).Elem() {
		panic("enrich: CaptureState requires a func(context.Context, ...) (T, ...)")
	}

	wrapped := reflect.MakeFunc(ft, func(args []reflect.Value) []reflect.Value {
		out := fv.Call(args)
		ctx := args[0].Interface().(context.Context)

		if !cfg.replay(ctx) && len(out) > 0 {
			if span := currentSpan(ctx); span != nil {
				e.setJSON(span, "mcp.result."+name+"_json", out[0].Interface())
			}
		}
		return out
	})

	return wrapped.Interface()
}

// CaptureOption configures CaptureState.
type CaptureOption func(*captureConfig)

type captureConfig struct {
	replay ReplayDetector
}

// WithReplayDetector overrides how CaptureState decides whether ctx is in
// a durable-workflow replay. Without this option state is always captured.
func WithReplayDetector(d ReplayDetector) CaptureOption {
	return func(c *captureConfig) { c.replay = d }
}
