// Package intake implements the append-only line-delimited record store:
// one UTF-8 JSON line per record, appended under an exclusive file lock
// on a sibling ".lock" path.
package intake

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sqrtqiezi/diting-storage/filelock"
	"github.com/sqrtqiezi/diting-storage/record"
)

// Log appends records to per-UTC-date files under dir.
type Log struct {
	dir          string
	lockTimeout  time.Duration
	pollInterval time.Duration
}

// New constructs a Log rooted at dir.
func New(dir string) *Log {
	return &Log{dir: dir, lockTimeout: 10 * time.Second, pollInterval: 20 * time.Millisecond}
}

// PathForDate returns the intake file path for a nominal UTC date bucket
// "YYYY-MM-DD".
func (l *Log) PathForDate(date string) string {
	return filepath.Join(l.dir, date+".jsonl")
}

// AppendRecord takes the file lock on intakePath's sibling lock file,
// writes one UTF-8 JSON line terminated by "\n", and releases the lock.
// No schema check happens at this layer; malformed records are surfaced
// at ingestion time instead.
func AppendRecord(ctx context.Context, raw record.Raw, intakePath string) error {
	return AppendRecords(ctx, []record.Raw{raw}, intakePath)
}

// AppendRecords appends multiple records under one held lock, for batch
// producers that want every line of a batch serialized against
// concurrent writers without paying the lock-acquire cost per line.
func AppendRecords(ctx context.Context, raws []record.Raw, intakePath string) error {
	if err := os.MkdirAll(filepath.Dir(intakePath), 0o755); err != nil {
		return fmt.Errorf("intake: ensure dir: %w", err)
	}

	lockPath := filelock.LockPathFor(intakePath)
	return filelock.WithLock(ctx, lockPath, 10*time.Second, 20*time.Millisecond, func() error {
		f, err := os.OpenFile(intakePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("intake: open %s: %w", intakePath, err)
		}
		defer f.Close()

		for _, raw := range raws {
			line, err := record.MarshalLine(raw)
			if err != nil {
				return fmt.Errorf("intake: marshal record: %w", err)
			}
			if _, err := f.Write(append(line, '\n')); err != nil {
				return fmt.Errorf("intake: write %s: %w", intakePath, err)
			}
		}
		return nil
	})
}
