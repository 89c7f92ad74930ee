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
	"errors"
	"testing"
	"time"
)

type fakeFileEnumerator struct {
	sessions []Meta
	err      error
}

func (f fakeFileEnumerator) Enumerate(context.Context) ([]Meta, error) { return f.sessions, f.err }

type fakeExternalSource struct {
	sessions []Meta
	err      error
}

func (f fakeExternalSource) List(context.Context) ([]Meta, error) { return f.sessions, f.err }

func t1(offsetMinutes int) time.Time {
	return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(offsetMinutes) * time.Minute)
}

func TestListMergesFileLiveAndExternalSortedDescending(t *testing.T) {
	files := fakeFileEnumerator{sessions: []Meta{
		{ID: "abcdef", Status: StatusCompleted, Engine: EngineLocal, StartedAt: t1(0)},
	}}
	live := NewLiveRegistry()
	live.Upsert(Meta{ID: "ghijkl", Status: StatusRunning, Engine: EngineLocal, StartedAt: t1(5)})
	ext := fakeExternalSource{sessions: []Meta{
		{ID: "extone", Status: StatusRunning, StartedAt: t1(10)},
		{ID: "exttwo", Status: StatusRunning, StartedAt: t1(2)},
	}}

	reg := New(files, live, ext, nil)
	result, err := reg.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result.TemporalError != "" {
		t.Fatalf("temporal_error = %q, want empty", result.TemporalError)
	}
	if len(result.Sessions) != 4 {
		t.Fatalf("sessions = %d, want 4", len(result.Sessions))
	}
	for i := 1; i < len(result.Sessions); i++ {
		if result.Sessions[i-1].StartedAt.Before(result.Sessions[i].StartedAt) {
			t.Fatalf("sessions not sorted descending: %v", result.Sessions)
		}
	}
}

func TestExternalFailureDegradesWithoutDroppingLocalSessions(t *testing.T) {
	files := fakeFileEnumerator{sessions: []Meta{
		{ID: "abcdef", Status: StatusCompleted, StartedAt: t1(0)},
		{ID: "ghijkl", Status: StatusRunning, StartedAt: t1(1)},
	}}
	live := NewLiveRegistry()
	ext := fakeExternalSource{err: errors.New("temporal: dial timeout")}

	reg := New(files, live, ext, nil)
	result, err := reg.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result.TemporalError == "" {
		t.Fatal("expected non-empty temporal_error on external failure")
	}
	if len(result.Sessions) != 2 {
		t.Fatalf("sessions = %d, want 2 local sessions preserved", len(result.Sessions))
	}
}

func TestLiveRegistryOverridesFileStatus(t *testing.T) {
	files := fakeFileEnumerator{sessions: []Meta{
		{ID: "abcdef", Status: StatusRunning, StartedAt: t1(0)},
	}}
	live := NewLiveRegistry()
	live.Upsert(Meta{ID: "abcdef", Status: StatusPaused, StartedAt: t1(0)})

	reg := New(files, live, nil, nil)
	result, err := reg.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Sessions) != 1 || result.Sessions[0].Status != StatusPaused {
		t.Fatalf("sessions = %v, want live status to win", result.Sessions)
	}
}
