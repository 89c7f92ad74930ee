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
	"sync"
	"time"
)

// cacheKey identifies one trace file's metadata cache entry: the metadata
// is only valid as long as both the path and its modification time match,
// so a file that changed on disk transparently misses and gets re-scanned.
type cacheKey struct {
	path  string
	mtime time.Time
}

// metaCache is a bounded (path,mtime) -> Meta cache, evicting the oldest
// insertion once it exceeds its capacity. Modeled on the ordered-slice-
// plus-map eviction scheme this codebase uses for bounding run history.
type metaCache struct {
	mu      sync.Mutex
	entries map[cacheKey]Meta
	order   []cacheKey
	max     int
}

func newMetaCache(max int) *metaCache {
	return &metaCache{entries: make(map[cacheKey]Meta), max: max}
}

func (c *metaCache) get(path string, mtime time.Time) (Meta, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.entries[cacheKey{path: path, mtime: mtime}]
	return m, ok
}

func (c *metaCache) put(path string, mtime time.Time, m Meta) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey{path: path, mtime: mtime}
	if _, exists := c.entries[key]; exists {
		c.entries[key] = m
		return
	}

	c.entries[key] = m
	c.order = append(c.order, key)
	if len(c.order) > c.max {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
}

// invalidate drops every entry for path regardless of mtime, used when a
// watcher observes the file was removed or renamed out from under us.
func (c *metaCache) invalidate(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if key.path == path {
			delete(c.entries, key)
		}
	}
	kept := c.order[:0:0]
	for _, key := range c.order {
		if key.path != path {
			kept = append(kept, key)
		}
	}
	c.order = kept
}
