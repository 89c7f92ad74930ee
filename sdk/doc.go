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

// Package sdk is the embeddable entry point for the inspector telemetry
// plane: it wires the hook bus, span enrichment, file exporter, session
// registry, event bus, and HTTP gateway into one object a host agent
// framework constructs once at startup.
//
// # Quick start
//
//	cfg := config.Default()
//	insp, err := sdk.New(cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer insp.Close(context.Background())
//
//	// Somewhere near the root of a workflow execution:
//	ctx = session.Set(ctx, sessionID)
//	insp.Hooks().Emit(ctx, hooks.Name(hooks.FamilySessionLifecycle, "started"), hooks.Payload{
//		"session-id": sessionID,
//		"engine":     "local",
//	})
//
//	// Mount the gateway on the host's own mux, or run it standalone:
//	mux.Handle("/_inspector/", insp.Router())
//
// The host framework owns span creation: call insp.Tracer(name) to obtain
// an observability.Tracer, start spans around agent/LLM/tool operations,
// and emit hooks with the current context so enrichment can find the
// active span. Ending a span exports it to that session's trace file
// automatically; the host never calls the exporter directly.
package sdk
