// Package atomicio implements write-then-rename durability: a sibling
// temporary file on the same filesystem as the target is written, fsynced,
// closed, then renamed onto the target. Rename is the commit point, so a
// crash anywhere before it leaves the target exactly as it was.
package atomicio

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// WriteFile atomically replaces target with data. mode is the
// permission bits of the newly written file (subject to the umask); an
// existing target's permissions are not carried over.
func WriteFile(target string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("atomicio: ensure parent dir %s: %w", dir, err)
	}

	tmp := filepath.Join(dir, fmt.Sprintf(".%s.tmp-%s", filepath.Base(target), uuid.NewString()))

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC|os.O_EXCL, mode)
	if err != nil {
		return fmt.Errorf("atomicio: create temp file: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("atomicio: write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("atomicio: fsync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("atomicio: close temp file: %w", err)
	}

	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("atomicio: rename into place: %w", err)
	}
	return nil
}

// WriteString is a convenience wrapper over WriteFile for text content.
func WriteString(target string, text string, mode os.FileMode) error {
	return WriteFile(target, []byte(text), mode)
}
