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

package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/tombee/mcp-agent-inspector/pkg/httpclient"
)

// externalQueryTimeout bounds a single external workflow service query,
// per §5's "external workflow-service queries have a short timeout"
// concurrency contract.
const externalQueryTimeout = 2 * time.Second

// WorkflowServiceSource queries an external durable-workflow service's
// session-listing endpoint for sessions this process does not know about
// locally (e.g. sessions running in another process against the same
// workflow engine).
type WorkflowServiceSource struct {
	client   *http.Client
	endpoint string
	limiter  *rate.Limiter
}

// NewWorkflowServiceSource creates a source querying endpoint, a full URL
// to a JSON array of Meta. Requests are throttled to at most 1 per second
// with a burst of 2, so a registry under heavy /sessions polling does not
// hammer the external service.
func NewWorkflowServiceSource(endpoint string) (*WorkflowServiceSource, error) {
	cfg := httpclient.DefaultConfig()
	cfg.Timeout = externalQueryTimeout
	cfg.UserAgent = "mcp-agent-inspector/1.0"
	client, err := httpclient.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("build external workflow service client: %w", err)
	}
	return &WorkflowServiceSource{
		client:   client,
		endpoint: endpoint,
		limiter:  rate.NewLimiter(rate.Limit(1), 2),
	}, nil
}

// List implements ExternalSource.
func (s *WorkflowServiceSource) List(ctx context.Context) ([]Meta, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("external workflow service query throttled: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, externalQueryTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("external workflow service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("external workflow service returned status %d", resp.StatusCode)
	}

	var sessions []Meta
	if err := json.NewDecoder(resp.Body).Decode(&sessions); err != nil {
		return nil, fmt.Errorf("decode external workflow service response: %w", err)
	}
	for i := range sessions {
		sessions[i].Engine = EngineExternalWorkflow
	}
	return sessions, nil
}
