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

package session

import (
	"context"
	"sync"
	"testing"
)

func TestGetReturnsUnknownForBareContext(t *testing.T) {
	if got := Get(context.Background()); got != Unknown {
		t.Fatalf("Get() = %q, want %q", got, Unknown)
	}
}

func TestSetThenGetInSameScope(t *testing.T) {
	ctx := Set(context.Background(), "abc123")
	if got := Get(ctx); got != "abc123" {
		t.Fatalf("Get() = %q, want %q", got, "abc123")
	}
}

func TestSpawnedTaskInheritsSnapshot(t *testing.T) {
	ctx := Set(context.Background(), "root01")

	var wg sync.WaitGroup
	results := make(chan string, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(ctx context.Context) {
			defer wg.Done()
			results <- Get(ctx)
		}(ctx)
	}
	wg.Wait()
	close(results)

	for got := range results {
		if got != "root01" {
			t.Fatalf("spawned task saw %q, want %q", got, "root01")
		}
	}
}

func TestUnrelatedConcurrentTasksDoNotLeak(t *testing.T) {
	base := context.Background()
	ctxA := Set(base, "sessionA")
	ctxB := Set(base, "sessionB")

	var wg sync.WaitGroup
	wg.Add(2)
	var gotA, gotB string
	go func() { defer wg.Done(); gotA = Get(ctxA) }()
	go func() { defer wg.Done(); gotB = Get(ctxB) }()
	wg.Wait()

	if gotA != "sessionA" || gotB != "sessionB" {
		t.Fatalf("cross-task leak: gotA=%q gotB=%q", gotA, gotB)
	}
}

func TestBindInjectsNamedSessionIDParam(t *testing.T) {
	ctx := Set(context.Background(), "sess001")

	fn := func(id ID, other string) string {
		return string(id) + ":" + other
	}
	wrapped := Bind(ctx, fn).(func(ID, string) string)

	got := wrapped("", "payload")
	if want := "sess001:payload"; got != want {
		t.Fatalf("wrapped() = %q, want %q", got, want)
	}
}

func TestBindIsIdentityWithoutSessionIDParam(t *testing.T) {
	ctx := Set(context.Background(), "sess001")

	fn := func(x int) int { return x * 2 }
	wrapped := Bind(ctx, fn).(func(int) int)

	if got := wrapped(21); got != 42 {
		t.Fatalf("wrapped(21) = %d, want 42", got)
	}
}

func TestIDPattern(t *testing.T) {
	cases := map[string]bool{
		"abcdef":       true,
		"abc-123_XYZ":  true,
		"short":        false,
		"has space!!":  false,
		"abc12":        false,
		"123456789012": true,
	}
	for id, want := range cases {
		if got := IDPattern.MatchString(id); got != want {
			t.Errorf("IDPattern.MatchString(%q) = %v, want %v", id, got, want)
		}
	}
}
