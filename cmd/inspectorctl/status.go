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

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/tombee/mcp-agent-inspector/internal/lifecycle"
	"golang.org/x/term"
)

func newStatusCommand(configPath *string) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check whether inspectord is running and reachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			endpoint := fmt.Sprintf("http://%s/health", cfg.Addr())
			result := lifecycle.NewHealthChecker(endpoint).Check(cmd.Context())

			color := term.IsTerminal(int(os.Stdout.Fd()))
			out := cmd.OutOrStdout()

			if result.Success {
				fmt.Fprintf(out, "%s inspectord is healthy at %s (%s)\n",
					paint(color, "32", "OK"), cfg.Addr(), result.ResponseTime)
				return nil
			}

			fmt.Fprintf(out, "%s inspectord is not reachable at %s: %v\n",
				paint(color, "31", "DOWN"), cfg.Addr(), result.Error)
			return errNotHealthy
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "Health check timeout")
	return cmd
}

// paint wraps s in an ANSI color code when color is true; a non-terminal
// stdout (piped to a file, redirected in CI) gets plain text instead.
func paint(color bool, code, s string) string {
	if !color {
		return s
	}
	return "\x1b[" + code + "m" + s + "\x1b[0m"
}

var errNotHealthy = fmt.Errorf("inspectord health check failed")
