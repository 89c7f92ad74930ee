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
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// WatchForInvalidation watches the Scanner's traces directory for
// create/write/remove/rename events and drops the matching entries from
// its metadata cache, so a session file that changed between two
// Enumerate calls is never served stale metadata from the cache. It runs
// until watcher is closed or stop is closed, and is meant to be started
// once, in a background goroutine, for the process lifetime.
func (s *Scanner) WatchForInvalidation(stop <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(s.dir); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-stop:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
					s.cache.invalidate(event.Name)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("registry: trace directory watch error", slog.Any("error", err))
			}
		}
	}()

	return nil
}
