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
	"bufio"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// chunkSuffix matches the "_chunk_<n>" part of a rotated trace file name,
// letting Scanner collapse a base file plus its chunks into one session.
var chunkSuffix = regexp.MustCompile(`_chunk_\d+$`)

// traceLine is the subset of a serialized observability.Span this scanner
// reads to derive session metadata, without depending on the full type.
type traceLine struct {
	StartTime  string         `json:"StartTime"`
	EndTime    string         `json:"EndTime"`
	Attributes map[string]any `json:"Attributes"`
}

// Scanner is the default FileEnumerator: it globs "*.jsonl.gz" (and
// sharded-subdirectory equivalents) under a traces directory and derives
// each session's Meta from the first and last NDJSON line of its file(s).
type Scanner struct {
	dir    string
	cache  *metaCache
	logger *slog.Logger
}

// NewScanner creates a Scanner rooted at dir with a metadata cache bounded
// to maxCacheEntries.
func NewScanner(dir string, maxCacheEntries int, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{dir: dir, cache: newMetaCache(maxCacheEntries), logger: logger}
}

// Enumerate lists sessions discoverable on disk. Corrupt files (invalid
// gzip, unparsable NDJSON) are logged, skipped, and renamed with a ".bad"
// suffix rather than allowed to fail the whole listing.
func (s *Scanner) Enumerate(ctx context.Context) ([]Meta, error) {
	matches, err := doublestar.Glob(os.DirFS(s.dir), "**/*.jsonl.gz")
	if err != nil {
		return nil, err
	}

	bySession := make(map[string]Meta)
	for _, rel := range matches {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		path := filepath.Join(s.dir, rel)
		sessionID := sessionIDFromFilename(filepath.Base(rel))

		fi, err := os.Stat(path)
		if err != nil {
			continue
		}

		if cached, ok := s.cache.get(path, fi.ModTime()); ok {
			mergeChunk(bySession, sessionID, cached)
			continue
		}

		meta, err := s.scanFile(path, sessionID)
		if err != nil {
			s.logger.Warn("registry: quarantining unreadable trace file", slog.String("path", path), slog.Any("error", err))
			os.Rename(path, path+".bad")
			continue
		}

		s.cache.put(path, fi.ModTime(), meta)
		mergeChunk(bySession, sessionID, meta)
	}

	out := make([]Meta, 0, len(bySession))
	for _, m := range bySession {
		out = append(out, m)
	}
	return out, nil
}

// sessionIDFromFilename strips the ".jsonl.gz" extension and any
// "_chunk_N" rotation suffix.
func sessionIDFromFilename(name string) string {
	base := strings.TrimSuffix(name, ".jsonl.gz")
	return chunkSuffix.ReplaceAllString(base, "")
}

// mergeChunk folds one file's derived Meta into the running per-session
// merge, widening the time range across chunks of the same session.
func mergeChunk(bySession map[string]Meta, sessionID string, m Meta) {
	existing, ok := bySession[sessionID]
	if !ok {
		m.ID = sessionID
		bySession[sessionID] = m
		return
	}
	if m.StartedAt.Before(existing.StartedAt) {
		existing.StartedAt = m.StartedAt
	}
	if m.EndedAt != nil && (existing.EndedAt == nil || m.EndedAt.After(*existing.EndedAt)) {
		existing.EndedAt = m.EndedAt
		existing.Status = m.Status
	}
	bySession[sessionID] = existing
}

func (s *Scanner) scanFile(path, sessionID string) (Meta, error) {
	f, err := os.Open(path)
	if err != nil {
		return Meta{}, err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return Meta{}, err
	}
	defer gz.Close()

	sc := bufio.NewScanner(gz)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)

	meta := Meta{ID: sessionID, Status: StatusRunning, Engine: EngineLocal}
	first := true
	for sc.Scan() {
		var line traceLine
		if err := json.Unmarshal(sc.Bytes(), &line); err != nil {
			continue // one bad line must not fail the whole file
		}
		if first {
			if t, err := parseTime(line.StartTime); err == nil {
				meta.StartedAt = t
			}
			first = false
		}
		applyAttributes(&meta, line.Attributes)
		if t, err := parseTime(line.EndTime); err == nil && !t.IsZero() {
			meta.EndedAt = &t
		}
	}
	if err := sc.Err(); err != nil {
		return Meta{}, err
	}
	return meta, nil
}

func applyAttributes(meta *Meta, attrs map[string]any) {
	if v, ok := attrs["session.status"].(string); ok && v != "" {
		meta.Status = Status(v)
	}
	if v, ok := attrs["session.engine"].(string); ok && v != "" {
		meta.Engine = Engine(v)
	}
	if v, ok := attrs["session.title"].(string); ok && v != "" {
		meta.Title = v
	}
	if v, ok := attrs["session.tags"].([]any); ok {
		tags := make([]string, 0, len(v))
		for _, t := range v {
			if ts, ok := t.(string); ok {
				tags = append(tags, ts)
			}
		}
		meta.Tags = tags
	}
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errEmptyTime
	}
	return time.Parse(time.RFC3339Nano, s)
}

var errEmptyTime = errors.New("empty timestamp")
