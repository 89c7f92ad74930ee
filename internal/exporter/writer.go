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
	"compress/gzip"
	"fmt"
	"os"
	"path/filepath"
)

// rotationThresholdBytes is the uncompressed-bytes-ingested watermark at
// which a session's trace file rotates to a numbered chunk.
const rotationThresholdBytes = 100 * 1024 * 1024

// sessionWriter owns one open gzip-compressed NDJSON file for a single
// session, plus its rotation and quarantine state.
type sessionWriter struct {
	dir        string
	sessionID  string
	chunk      int // 0 means the base file, N means "_chunk_N"
	file       *os.File
	gz         *gzip.Writer
	uncompressed int64
}

func newSessionWriter(dir, sessionID string) (*sessionWriter, error) {
	w := &sessionWriter{dir: dir, sessionID: sessionID}
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *sessionWriter) path() string {
	if w.chunk == 0 {
		return filepath.Join(w.dir, w.sessionID+".jsonl.gz")
	}
	return filepath.Join(w.dir, fmt.Sprintf("%s_chunk_%d.jsonl.gz", w.sessionID, w.chunk))
}

func (w *sessionWriter) open() error {
	f, err := os.OpenFile(w.path(), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	w.file = f
	w.gz = gzip.NewWriter(f)
	return nil
}

// writeLine appends one NDJSON line (without its own trailing newline) and
// flushes it through gzip immediately so a reader tailing the file with no
// Range request sees complete gzip members. It rotates to the next chunk
// first if this write would push the file over rotationThresholdBytes.
func (w *sessionWriter) writeLine(line []byte) error {
	if w.uncompressed > 0 && w.uncompressed+int64(len(line))+1 > rotationThresholdBytes {
		if err := w.rotate(); err != nil {
			return err
		}
	}

	if _, err := w.gz.Write(line); err != nil {
		return err
	}
	if _, err := w.gz.Write([]byte("\n")); err != nil {
		return err
	}
	if err := w.gz.Flush(); err != nil {
		return err
	}
	w.uncompressed += int64(len(line)) + 1
	return nil
}

func (w *sessionWriter) rotate() error {
	if err := w.close(); err != nil {
		return err
	}
	w.chunk++
	w.uncompressed = 0
	return w.open()
}

// quarantine closes the writer and renames its file to a ".bad" sibling so
// a single unrecoverable IO or gzip error on this session's file cannot
// take down export for other sessions in the same batch. A fresh writer
// for the same session ID and chunk number can be opened immediately
// after.
func (w *sessionWriter) quarantine() error {
	path := w.path()
	if w.gz != nil {
		w.gz.Close()
	}
	if w.file != nil {
		w.file.Close()
	}
	return os.Rename(path, path+".bad")
}

func (w *sessionWriter) close() error {
	var gzErr, fileErr error
	if w.gz != nil {
		gzErr = w.gz.Close()
	}
	if w.file != nil {
		fileErr = w.file.Close()
	}
	if gzErr != nil {
		return gzErr
	}
	return fileErr
}
