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

package exporter

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// RetentionPolicy decides which trace files (and their chunks) a
// maintenance pass should delete. It runs entirely out-of-band from the
// hot export path: a slow or buggy policy can only delay disk reclamation,
// never a span write.
type RetentionPolicy interface {
	// Prune inspects the trace files under dir and returns the paths that
	// should be deleted.
	Prune(dir string, entries []os.FileInfo) []string
}

// AgeAndCountPolicy is the default RetentionPolicy: it deletes files older
// than MaxAge, then, if more than MaxCount files remain, deletes the
// oldest excess ones by modification time.
type AgeAndCountPolicy struct {
	MaxAge   time.Duration
	MaxCount int
}

// DefaultRetentionPolicy returns the built-in policy: 7 days, 10000 files.
func DefaultRetentionPolicy() *AgeAndCountPolicy {
	return &AgeAndCountPolicy{MaxAge: 7 * 24 * time.Hour, MaxCount: 10000}
}

func (p *AgeAndCountPolicy) Prune(dir string, entries []os.FileInfo) []string {
	cutoff := time.Now().Add(-p.MaxAge)
	var kept []os.FileInfo
	var toDelete []string

	for _, fi := range entries {
		if fi.ModTime().Before(cutoff) {
			toDelete = append(toDelete, filepath.Join(dir, fi.Name()))
			continue
		}
		kept = append(kept, fi)
	}

	if p.MaxCount > 0 && len(kept) > p.MaxCount {
		sort.Slice(kept, func(i, j int) bool { return kept[i].ModTime().Before(kept[j].ModTime()) })
		excess := len(kept) - p.MaxCount
		for _, fi := range kept[:excess] {
			toDelete = append(toDelete, filepath.Join(dir, fi.Name()))
		}
	}

	return toDelete
}

// RunMaintenance lists dir's trace files (and orphaned .bad/.lock files are
// left untouched — only "*.jsonl.gz" is retention-managed), applies
// policy, and deletes what it selects. It is meant to be invoked
// periodically by the standalone daemon's maintenance tick, never from
// Export.
func RunMaintenance(dir string, policy RetentionPolicy, logger *slog.Logger) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.jsonl.gz"))
	if err != nil {
		logger.Warn("retention: failed to list trace files", slog.Any("error", err))
		return
	}

	entries := make([]os.FileInfo, 0, len(matches))
	byName := make(map[string]string, len(matches))
	for _, path := range matches {
		fi, err := os.Stat(path)
		if err != nil {
			continue
		}
		entries = append(entries, fi)
		byName[fi.Name()] = path
	}

	for _, path := range policy.Prune(dir, entries) {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logger.Warn("retention: failed to delete trace file", slog.String("path", path), slog.Any("error", err))
			continue
		}
		logger.Info("retention: deleted trace file", slog.String("path", path))
	}
}
