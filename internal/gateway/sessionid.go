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

package gateway

import (
	"net/http"
	"net/url"

	"github.com/tombee/mcp-agent-inspector/internal/session"
)

// sessionIDFromPath extracts and validates the {id} path parameter for the
// routes registered with Go 1.22+ ServeMux wildcards. Go's own routing
// already URL-decodes r.PathValue, so validation here runs on the decoded
// form as required: any traversal sequence collapses to characters
// session.IDPattern rejects before it can escape anywhere.
func sessionIDFromPath(r *http.Request) (string, bool) {
	raw := r.PathValue("id")

	// http.ServeMux's PathValue is already decoded, but a caller could in
	// principle reach this with an escaped value from a different router;
	// decode defensively so validation always runs on the final form.
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return "", false
	}

	if !session.IDPattern.MatchString(decoded) {
		return "", false
	}
	return decoded, true
}
