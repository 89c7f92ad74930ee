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

// Package config resolves runtime configuration in three layers: built-in
// defaults, an optional YAML file at the XDG config path, and environment
// variables, which always win.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/tombee/mcp-agent-inspector/internal/tracing"
	inspectorerrors "github.com/tombee/mcp-agent-inspector/pkg/errors"
	"gopkg.in/yaml.v3"
)

// RedactionMode controls how sensitive attribute values are handled before
// export.
type RedactionMode string

const (
	RedactionOff    RedactionMode = "off"
	RedactionMask   RedactionMode = "mask"
	RedactionDrop   RedactionMode = "drop"
)

// Config is the complete resolved runtime configuration for the inspector.
type Config struct {
	// Port is the TCP port the standalone gateway binds to.
	Port int `yaml:"port"`

	// Bind is the address the standalone gateway binds to. The gateway
	// only ever binds to loopback addresses; this exists to choose among
	// them (e.g. "127.0.0.1" vs "::1"), not to open the port externally.
	Bind string `yaml:"bind"`

	// TracesDir is where the exporter writes session trace files and
	// where the trace-stream service and registry scanner read them back.
	TracesDir string `yaml:"traces_dir"`

	// Debug enables trace-level logging and source file/line annotations.
	Debug bool `yaml:"debug"`

	// EnablePatch is reserved for a legacy monkey-patch fallback mode from
	// the source implementation; a fresh implementation has no code path
	// that consults it, but the field is kept so a config file carrying it
	// from an older deployment does not fail to parse.
	EnablePatch bool `yaml:"enable_patch"`

	// ExternalWorkflowURL, if set, points the registry at an external
	// durable-workflow service to merge into GET /sessions.
	ExternalWorkflowURL string `yaml:"external_workflow_url"`

	// RedactionMode controls attribute redaction before export.
	RedactionMode RedactionMode `yaml:"redaction_mode"`

	// RetentionChunks bounds how many rotated chunk files per session are
	// kept before the oldest is eligible for cleanup.
	RetentionChunks int `yaml:"retention_chunks"`

	// Exporters configures additional OTLP/console destinations for this
	// process's own ambient HTTP-gateway spans (the requests the
	// inspector's own /_inspector routes generate), independent of the
	// per-session trace files every monitored-framework span also gets
	// via the file exporter. Empty by default: an inspector instance
	// exports nowhere but its own trace files unless a deployment opts in.
	Exporters []tracing.ExporterConfig `yaml:"exporters"`
}

// Default returns a Config with the built-in defaults from §6.
func Default() *Config {
	return &Config{
		Port:            7800,
		Bind:            "127.0.0.1",
		TracesDir:       "traces",
		Debug:           false,
		EnablePatch:     false,
		RedactionMode:   RedactionOff,
		RetentionChunks: 10,
	}
}

// Load resolves configuration in order: defaults, then the YAML file at
// configPath (if non-empty and present), then environment variables. A
// missing file at configPath is not an error, since the file is optional;
// a present-but-unparsable file is.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			return nil, err
		}
	}

	cfg.loadFromEnv()
	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return &inspectorerrors.ConfigError{Key: "config_file", Reason: fmt.Sprintf("reading %s", path), Cause: err}
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return &inspectorerrors.ConfigError{Key: "config_file", Reason: fmt.Sprintf("parsing %s", path), Cause: err}
	}
	return nil
}

// loadFromEnv overrides fields already populated from defaults/file with
// the environment variables named in §6, which always take precedence.
func (c *Config) loadFromEnv() {
	if v := os.Getenv("INSPECTOR_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Port = port
		}
	}
	if v := os.Getenv("TRACES_DIR"); v != "" {
		c.TracesDir = v
	}
	if v := os.Getenv("INSPECTOR_DEBUG"); v != "" {
		c.Debug = true
	}
	if v := os.Getenv("INSPECTOR_ENABLE_PATCH"); v != "" {
		c.EnablePatch = true
	}
	if v := os.Getenv("INSPECTOR_BIND"); v != "" {
		c.Bind = v
	}
	if v := os.Getenv("INSPECTOR_EXTERNAL_WORKFLOW_URL"); v != "" {
		c.ExternalWorkflowURL = v
	}
	if v := os.Getenv("INSPECTOR_REDACTION_MODE"); v != "" {
		c.RedactionMode = RedactionMode(strings.ToLower(v))
	}
	if v := os.Getenv("INSPECTOR_RETENTION_CHUNKS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RetentionChunks = n
		}
	}
}

// Addr returns the "host:port" string the standalone gateway should bind
// to.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Bind, c.Port)
}
