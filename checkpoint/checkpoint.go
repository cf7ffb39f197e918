// Package checkpoint implements the durable per-intake-file cursor: one
// atomically-replaced JSON file per source, guarded by its own sibling
// file lock so concurrent saves for the same source serialize.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/sirupsen/logrus"

	"github.com/sqrtqiezi/diting-storage/atomicio"
	"github.com/sqrtqiezi/diting-storage/filelock"
)

// Status is the checkpoint lifecycle state.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Checkpoint is the durable cursor for one intake file.
type Checkpoint struct {
	SourcePath    string `json:"source_file"`
	LastLine      int64  `json:"last_processed_line"`
	LastRecordID  string `json:"last_processed_msg_id"`
	LastTimestamp int64  `json:"last_processed_timestamp"`
	RecordCount   int64  `json:"processed_record_count"`
	Status        Status `json:"status"`
	Error         string `json:"error,omitempty"`
}

// Store persists checkpoints as one file per intake source under dir.
type Store struct {
	dir          string
	lockTimeout  time.Duration
	pollInterval time.Duration
	log          *logrus.Logger
}

// New constructs a Store rooted at dir. A nil logger gets a fresh
// logrus.Logger so the store never touches a package-level singleton.
func New(dir string, log *logrus.Logger) *Store {
	if log == nil {
		log = logrus.New()
	}
	return &Store{dir: dir, lockTimeout: 10 * time.Second, pollInterval: 20 * time.Millisecond, log: log}
}

// pathFor builds "<checkpoint_dir>/<intake-stem>_checkpoint.json".
func (s *Store) pathFor(sourcePath string) string {
	stem := strings.TrimSuffix(filepath.Base(sourcePath), filepath.Ext(sourcePath))
	return filepath.Join(s.dir, stem+"_checkpoint.json")
}

// Load returns the checkpoint for sourcePath, or (nil, nil) if absent or
// corrupt — a corrupt checkpoint is treated as absent, leaving the
// restart decision to the caller.
func (s *Store) Load(sourcePath string) (*Checkpoint, error) {
	path := s.pathFor(sourcePath)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("checkpoint: read %s: %w", path, err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		s.log.WithError(err).WithField("path", path).Warn("checkpoint: corrupt checkpoint treated as absent")
		return nil, nil
	}
	return &cp, nil
}

// Save atomically persists cp, serialized under the checkpoint's own lock
// so concurrent saves for the same source serialize.
func (s *Store) Save(ctx context.Context, cp *Checkpoint) error {
	path := s.pathFor(cp.SourcePath)
	lockPath := filelock.LockPathFor(path)

	return filelock.WithLock(ctx, lockPath, s.lockTimeout, s.pollInterval, func() error {
		data, err := json.Marshal(cp)
		if err != nil {
			return fmt.Errorf("checkpoint: marshal: %w", err)
		}
		if err := atomicio.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("checkpoint: save %s: %w", path, err)
		}
		return nil
	})
}

// MarkCompleted loads, flips status to completed, and saves.
func (s *Store) MarkCompleted(ctx context.Context, sourcePath string) error {
	cp, err := s.Load(sourcePath)
	if err != nil {
		return err
	}
	if cp == nil {
		cp = &Checkpoint{SourcePath: sourcePath}
	}
	cp.Status = StatusCompleted
	cp.Error = ""
	return s.Save(ctx, cp)
}

// MarkFailed loads, flips status to failed with the given error message,
// and saves.
func (s *Store) MarkFailed(ctx context.Context, sourcePath string, cause error) error {
	cp, err := s.Load(sourcePath)
	if err != nil {
		return err
	}
	if cp == nil {
		cp = &Checkpoint{SourcePath: sourcePath}
	}
	cp.Status = StatusFailed
	if cause != nil {
		cp.Error = cause.Error()
	}
	return s.Save(ctx, cp)
}

// ListAll scans the checkpoint directory for diagnostics, skipping any
// file that fails to parse.
func (s *Store) ListAll() ([]Checkpoint, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("checkpoint: list %s: %w", s.dir, err)
	}
	var out []Checkpoint
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), "_checkpoint.json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			continue
		}
		var cp Checkpoint
		if err := json.Unmarshal(data, &cp); err != nil {
			continue
		}
		out = append(out, cp)
	}
	return out, nil
}
