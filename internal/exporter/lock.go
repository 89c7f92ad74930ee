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
	"fmt"
	"os"
	"syscall"
)

// writerLock is the single-writer advisory lock over a traces directory,
// held at "{traces-dir}/.inspector.lock". Unlike a PID file, losing this
// lock is not fatal: the exporter that fails to acquire it simply runs in
// no-op mode (spans are dropped, not queued) while readers are unaffected,
// since nothing about reading a trace file requires the lock.
type writerLock struct {
	path string
	file *os.File
}

// tryAcquireLock attempts to take the advisory lock at path. It returns
// ok=false, not an error, when the lock is already held: that is the
// expected outcome of a second inspector instance starting against the
// same traces directory, not a failure.
func tryAcquireLock(path string) (*writerLock, bool, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, false, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		if err == syscall.EWOULDBLOCK {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("flock: %w", err)
	}

	if err := f.Truncate(0); err == nil {
		fmt.Fprintf(f, "%d\n", os.Getpid())
		f.Sync()
	}

	return &writerLock{path: path, file: f}, true, nil
}

// held reports whether the lock is still held. A lock is lost if the
// underlying file was removed out from under the process (e.g. an operator
// clearing the traces directory) — flock alone does not detect that, so
// this re-stats the path and compares it against the open descriptor.
func (l *writerLock) held() bool {
	if l == nil || l.file == nil {
		return false
	}
	fi, err := l.file.Stat()
	if err != nil {
		return false
	}
	pathInfo, err := os.Stat(l.path)
	if err != nil {
		return false
	}
	return os.SameFile(fi, pathInfo)
}

// release drops the lock and closes the file. It does not remove the lock
// file: leaving it in place is harmless and avoids a race where a second
// waiting instance sees ErrNotExist between unlock and removal.
func (l *writerLock) release() error {
	if l == nil || l.file == nil {
		return nil
	}
	syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	err := l.file.Close()
	l.file = nil
	return err
}
