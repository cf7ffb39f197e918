// Package filelock implements advisory exclusive file locking with a
// user-space polled timeout, so multiple processes sharing one intake
// or checkpoint file serialize their writes instead of corrupting them.
package filelock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrTimeout is returned when the lock could not be acquired within the
// caller-specified timeout, as a distinguishable error kind so callers
// can tell a busy lock apart from a hard I/O failure.
var ErrTimeout = errors.New("filelock: timed out acquiring lock")

// Lock is a held advisory lock on a sibling ".lock" file. Release is
// best-effort: a termination must never deadlock on an unlock failure.
type Lock struct {
	f    *os.File
	path string
}

// LockPathFor returns the sibling lock-file path for target, e.g.
// "/intake/2026-01-23.jsonl" -> "/intake/2026-01-23.jsonl.lock".
func LockPathFor(target string) string {
	return target + ".lock"
}

// Acquire opens (creating if absent) the lock file at path, ensuring its
// parent directory exists, and polls a non-blocking exclusive lock
// attempt at pollInterval until it succeeds or timeout elapses.
func Acquire(ctx context.Context, path string, timeout, pollInterval time.Duration) (*Lock, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("filelock: ensure parent dir %s: %w", dir, err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("filelock: open %s: %w", path, err)
	}

	deadline := time.Now().Add(timeout)
	if pollInterval <= 0 {
		pollInterval = 50 * time.Millisecond
	}

	for {
		ok, lockErr := tryLock(f)
		if lockErr != nil {
			f.Close()
			return nil, fmt.Errorf("filelock: lock %s: %w", path, lockErr)
		}
		if ok {
			return &Lock{f: f, path: path}, nil
		}

		if time.Now().After(deadline) {
			f.Close()
			return nil, fmt.Errorf("%w: %s after %s", ErrTimeout, path, timeout)
		}

		select {
		case <-ctx.Done():
			f.Close()
			return nil, fmt.Errorf("filelock: %w", ctx.Err())
		case <-time.After(pollInterval):
		}
	}
}

// WithLock acquires the lock, runs fn, and releases the lock on return
// (even if fn panics or errors).
func WithLock(ctx context.Context, path string, timeout, pollInterval time.Duration, fn func() error) error {
	lk, err := Acquire(ctx, path, timeout, pollInterval)
	if err != nil {
		return err
	}
	defer lk.Release()
	return fn()
}

// Release unlocks and closes the underlying file. Errors are swallowed:
// release must never fail a caller that is already tearing down.
func (l *Lock) Release() {
	if l == nil || l.f == nil {
		return
	}
	unlock(l.f)
	l.f.Close()
	l.f = nil
}
