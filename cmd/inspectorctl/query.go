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
	"bufio"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/itchyny/gojq"
	"github.com/spf13/cobra"
)

func newQueryCommand(configPath *string) *cobra.Command {
	var filter string

	cmd := &cobra.Command{
		Use:   "query <session-id>",
		Short: "jq-filter a session's decompressed trace file",
		Long: "query decompresses a session's *.jsonl.gz trace file (and any\n" +
			"rotation chunks, in order) and runs a jq filter over each span\n" +
			"line, printing one JSON result per match.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			query, err := gojq.Parse(filter)
			if err != nil {
				return fmt.Errorf("parse jq filter: %w", err)
			}

			paths, err := sessionChunkPaths(cfg.TracesDir, args[0])
			if err != nil {
				return err
			}
			if len(paths) == 0 {
				return fmt.Errorf("no trace file found for session %q under %s", args[0], cfg.TracesDir)
			}

			out := cmd.OutOrStdout()
			for _, path := range paths {
				if err := queryFile(path, query, out); err != nil {
					return fmt.Errorf("%s: %w", filepath.Base(path), err)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&filter, "filter", "f", ".", "jq filter expression applied to each span")
	return cmd
}

// sessionChunkPaths returns a session's base trace file followed by its
// rotation chunks in chunk order, matching sessionWriter's
// "<id>.jsonl.gz" / "<id>_chunk_<n>.jsonl.gz" naming.
func sessionChunkPaths(dir, sessionID string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read traces dir: %w", err)
	}

	var base string
	chunks := map[int]string{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if name == sessionID+".jsonl.gz" {
			base = filepath.Join(dir, name)
			continue
		}
		var n int
		if _, err := fmt.Sscanf(name, sessionID+"_chunk_%d.jsonl.gz", &n); err == nil {
			chunks[n] = filepath.Join(dir, name)
		}
	}

	var paths []string
	if base != "" {
		paths = append(paths, base)
	}
	nums := make([]int, 0, len(chunks))
	for n := range chunks {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	for _, n := range nums {
		paths = append(paths, chunks[n])
	}
	return paths, nil
}

func queryFile(path string, query *gojq.Query, out io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("open gzip stream: %w", err)
	}
	defer gz.Close()

	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		var span map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &span); err != nil {
			continue
		}
		iter := query.Run(span)
		for {
			v, ok := iter.Next()
			if !ok {
				break
			}
			if err, isErr := v.(error); isErr {
				fmt.Fprintf(out, "jq error: %v\n", err)
				continue
			}
			b, err := json.Marshal(v)
			if err != nil {
				continue
			}
			out.Write(append(b, '\n'))
		}
	}
	return scanner.Err()
}
