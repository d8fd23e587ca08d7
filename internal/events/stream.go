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

// Package events implements the append-only JSONL event stream that makes a
// run auditable. Every append is fsynced before it returns; a crash after an
// acknowledged append cannot drop the event.
package events

import (
	"bufio"
	"encoding/json"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/tombee/fieldrun/pkg/errors"
)

// Stream is an append-only event log backed by a JSONL file. Safe for
// concurrent appends; readers see a consistent prefix while appends are in
// flight.
type Stream struct {
	path string

	mu  sync.Mutex
	seq int64
}

// Open returns a Stream for the given file path. If the file exists, the
// sequence counter is recovered by counting non-empty lines; a malformed or
// truncated trailing line does not prevent opening.
func Open(path string) (*Stream, error) {
	s := &Stream{path: path}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, &errors.StorageError{Path: path, Op: "open", Cause: err}
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) != "" {
			s.seq++
		}
	}
	// A scan error here means a damaged tail; the counted prefix stands. A
	// tail cut off mid-line is terminated here (best effort) so the next
	// append writes a well-formed line of its own.
	if info, err := f.Stat(); err == nil && info.Size() > 0 {
		last := make([]byte, 1)
		if _, err := f.ReadAt(last, info.Size()-1); err == nil && last[0] != '\n' {
			if tail, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
				tail.Write([]byte{'\n'}) //nolint:errcheck
				tail.Close()
			}
		}
	}
	return s, nil
}

// Path returns the underlying file path.
func (s *Stream) Path() string {
	return s.path
}

// Append assigns the next sequence number, stamps the current UTC time,
// writes the event as one JSON line, and syncs it to stable storage before
// returning.
func (s *Stream) Append(eventType Type, data map[string]any) (Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if data == nil {
		data = map[string]any{}
	}

	event := Event{
		Seq:       s.seq + 1,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		EventType: string(eventType),
		Data:      data,
	}

	line, err := json.Marshal(event)
	if err != nil {
		return Event{}, &errors.StorageError{Path: s.path, Op: "append", Cause: err}
	}

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return Event{}, &errors.StorageError{Path: s.path, Op: "append", Cause: err}
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return Event{}, &errors.StorageError{Path: s.path, Op: "append", Cause: err}
	}
	if err := f.Sync(); err != nil {
		return Event{}, &errors.StorageError{Path: s.path, Op: "append", Cause: err}
	}

	s.seq = event.Seq
	return event, nil
}

// Events returns the events on disk at call time whose seq is greater than
// afterSeq, in ascending order. Blank lines are skipped; a malformed
// trailing line is ignored.
func (s *Stream) Events(afterSeq int64) ([]Event, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &errors.StorageError{Path: s.path, Op: "read", Cause: err}
	}
	defer f.Close()

	var out []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var event Event
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			// Damaged tail from an interrupted write.
			continue
		}
		if event.Seq > afterSeq {
			out = append(out, event)
		}
	}
	return out, nil
}

// AllEvents returns every event currently on disk.
func (s *Stream) AllEvents() ([]Event, error) {
	return s.Events(0)
}

// LastEvent returns the most recent event, optionally filtered by type.
// Pass an empty type for no filter. Returns nil when there is no match.
func (s *Stream) LastEvent(eventType Type) (*Event, error) {
	all, err := s.AllEvents()
	if err != nil {
		return nil, err
	}
	for i := len(all) - 1; i >= 0; i-- {
		if eventType == "" || all[i].EventType == string(eventType) {
			e := all[i]
			return &e, nil
		}
	}
	return nil, nil
}

// CurrentSeq returns the highest sequence number assigned so far.
func (s *Stream) CurrentSeq() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}
