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
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTraceFile(t *testing.T, dir, name string, lines []string) {
	t.Helper()
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	gz := gzip.NewWriter(f)
	defer gz.Close()
	for _, line := range lines {
		if _, err := gz.Write([]byte(line + "\n")); err != nil {
			t.Fatal(err)
		}
	}
}

func TestScannerDerivesMetaFromFirstAndLastLine(t *testing.T) {
	dir := t.TempDir()
	writeTraceFile(t, dir, "sess1.jsonl.gz", []string{
		`{"StartTime":"2026-01-01T00:00:00Z","EndTime":"0001-01-01T00:00:00Z","Attributes":{"session.status":"running"}}`,
		`{"StartTime":"2026-01-01T00:01:00Z","EndTime":"2026-01-01T00:02:00Z","Attributes":{"session.status":"completed"}}`,
	})

	scanner := NewScanner(dir, 1000, nil)
	sessions, err := scanner.Enumerate(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 1 {
		t.Fatalf("sessions = %d, want 1", len(sessions))
	}
	m := sessions[0]
	if m.ID != "sess1" {
		t.Fatalf("id = %q", m.ID)
	}
	if m.Status != StatusCompleted {
		t.Fatalf("status = %q, want completed", m.Status)
	}
	wantStart, _ := time.Parse(time.RFC3339, "2026-01-01T00:00:00Z")
	if !m.StartedAt.Equal(wantStart) {
		t.Fatalf("started_at = %v, want %v", m.StartedAt, wantStart)
	}
}

func TestScannerMergesRotatedChunks(t *testing.T) {
	dir := t.TempDir()
	writeTraceFile(t, dir, "sess1.jsonl.gz", []string{
		`{"StartTime":"2026-01-01T00:00:00Z","Attributes":{"session.status":"running"}}`,
	})
	writeTraceFile(t, dir, "sess1_chunk_1.jsonl.gz", []string{
		`{"StartTime":"2026-01-01T00:10:00Z","EndTime":"2026-01-01T00:20:00Z","Attributes":{"session.status":"completed"}}`,
	})

	scanner := NewScanner(dir, 1000, nil)
	sessions, err := scanner.Enumerate(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 1 {
		t.Fatalf("sessions = %d, want 1 (chunks collapsed)", len(sessions))
	}
	if sessions[0].EndedAt == nil {
		t.Fatal("expected EndedAt to be picked up from the chunk file")
	}
}

func TestScannerQuarantinesCorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.jsonl.gz")
	if err := os.WriteFile(path, []byte("not gzip"), 0644); err != nil {
		t.Fatal(err)
	}

	scanner := NewScanner(dir, 1000, nil)
	sessions, err := scanner.Enumerate(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 0 {
		t.Fatalf("sessions = %d, want 0 for a corrupt-only directory", len(sessions))
	}
	if _, err := os.Stat(path + ".bad"); err != nil {
		t.Fatalf("expected corrupt file to be renamed .bad: %v", err)
	}
}
