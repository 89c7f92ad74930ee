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

// Command inspectorctl is a small operator CLI for a running inspectord:
// it checks liveness and lets an operator jq-filter a session's trace
// file from the shell without writing a decompression script by hand.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tombee/mcp-agent-inspector/internal/config"
)

// Version information (injected via ldflags at build time).
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "inspectorctl",
		Short:         "Operator CLI for the mcp-agent-inspector sidecar",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default: XDG config dir)")

	root.AddCommand(newStatusCommand(&configPath))
	root.AddCommand(newQueryCommand(&configPath))
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print inspectorctl's version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "inspectorctl %s (commit: %s)\n", version, commit)
			return nil
		},
	})

	return root
}

// loadConfig resolves a *config.Config from the shared --config flag,
// falling back to config.Default when none is given, matching the
// three-layer resolution config.Load already implements for defaults and
// environment variables.
func loadConfig(configPath string) (*config.Config, error) {
	return config.Load(configPath)
}
