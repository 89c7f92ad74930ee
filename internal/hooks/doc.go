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

// Package hooks: named hook catalogue.
//
// Names are design-level, not enforced by Bus (unknown names are no-ops).
// A hook name is <family>.<phase>, e.g. "agent-call.before".
//
//	Family            Phases                       Payload keys
//	agent-call        before, after, error         agent, result?, exc?
//	llm-generate      before, after, error         llm, prompt, response?, usage?, exc?
//	tool-call         before, after, error         tool-name, args, result?, context, exc?
//	workflow-run      before, after, error         workflow, context, result?, exc?
//	rpc-request       before, after, error         envelope, transport, duration-ms?, exc?
//	resource-fetch    before, after, error         uri, content?, mime-type?, context, exc?
//	prompt-apply      before, after, error         template-id, parameters, rendered?, context, exc?
//	session-lifecycle started, paused, resumed, waiting-on-signal, finished   session-id, ...
//	progress          update, cancelled            operation-id, percent, message?, context
//	transport         connected, disconnected, reconnecting   transport-type, uri, attempt?, reason?
package hooks

// Family name constants for the hook catalogue.
const (
	FamilyAgentCall       = "agent-call"
	FamilyLLMGenerate     = "llm-generate"
	FamilyToolCall        = "tool-call"
	FamilyWorkflowRun     = "workflow-run"
	FamilyRPCRequest      = "rpc-request"
	FamilyResourceFetch   = "resource-fetch"
	FamilyPromptApply     = "prompt-apply"
	FamilySessionLifecycle = "session-lifecycle"
	FamilyProgress        = "progress"
	FamilyTransport       = "transport"
)

// Name joins a family and a phase into a hook name, e.g.
// Name(FamilyLLMGenerate, "before") == "llm-generate.before".
func Name(family, phase string) string {
	return family + "." + phase
}
