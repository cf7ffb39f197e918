// Package errlog implements the structured per-record skip log: one JSON
// object per line, taxonomized by kind, never surfaced to queries.
package errlog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/sqrtqiezi/diting-storage/record"
)

// Entry is one logged skip event.
type Entry struct {
	Time   time.Time       `json:"time"`
	Kind   record.SkipKind `json:"kind"`
	Reason string          `json:"reason"`
	Source string          `json:"source,omitempty"`
	Line   int64           `json:"line,omitempty"`
	Raw    string          `json:"raw,omitempty"`
}

// Log appends Entry records to a file, one JSON object per line.
type Log struct {
	mu       sync.Mutex
	filename string
	w        io.Writer
	f        *os.File

	counts map[record.SkipKind]int
	total  int
}

// Open ensures filename's parent directory exists, then creates (or
// opens for append) filename.
func Open(filename string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return nil, fmt.Errorf("errlog: ensure dir: %w", err)
	}
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("errlog: open %s: %w", filename, err)
	}
	return &Log{filename: filename, w: f, f: f, counts: make(map[record.SkipKind]int)}, nil
}

// SetWriter redirects output to w (tests inject a bytes.Buffer here
// instead of touching the filesystem).
func (l *Log) SetWriter(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.w = w
}

// Record appends one skip entry and updates the in-memory counters.
func (l *Log) Record(kind record.SkipKind, reason, source string, line int64, raw string) error {
	entry := Entry{Time: time.Now().UTC(), Kind: kind, Reason: reason, Source: source, Line: line, Raw: raw}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("errlog: marshal entry: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("errlog: write entry: %w", err)
	}
	l.counts[kind]++
	l.total++
	return nil
}

// Count returns the total number of handled errors logged so far.
func (l *Log) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}

// CountByKind returns a snapshot of per-kind counts.
func (l *Log) CountByKind() map[record.SkipKind]int {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[record.SkipKind]int, len(l.counts))
	for k, v := range l.counts {
		out[k] = v
	}
	return out
}

// Close closes the underlying file, if any.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f != nil {
		return l.f.Close()
	}
	return nil
}
