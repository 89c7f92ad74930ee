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

// Package httputil holds small HTTP response helpers shared by the
// gateway's handlers.
package httputil

import (
	"encoding/json"
	"log/slog"
	"net/http"

	inspectorerrors "github.com/tombee/mcp-agent-inspector/pkg/errors"
)

// WriteJSON writes a JSON response with the given status code and data.
// If encoding fails, it logs the error; by this point headers are already
// sent, so there is nothing more useful to do with the failure.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", slog.Any("error", err))
	}
}

// errorBody is the {error:{kind,message}} shape every gateway error
// response uses.
type errorBody struct {
	Error struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
}

// WriteError writes the taxonomy JSON error body for err. If err satisfies
// inspectorerrors.HTTPError its own status and kind are used; otherwise it
// is treated as an unclassified 500.
func WriteError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	kind := "internal_error"

	if httpErr, ok := err.(inspectorerrors.HTTPError); ok {
		status = httpErr.HTTPStatus()
		kind = httpErr.Kind()
	}

	var body errorBody
	body.Error.Kind = kind
	body.Error.Message = err.Error()
	WriteJSON(w, status, body)
}
