// Package cleanup implements the intake retention sweep: removing
// intake files whose partition is already durable and whose age exceeds
// the retention window.
package cleanup

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sqrtqiezi/diting-storage/partition"
)

// Report summarizes one CleanupIntake run.
type Report struct {
	TotalScanned       int
	Deleted            int
	SkippedNoPartition int
	SkippedInUse       int
	DeletedFiles       []string
}

// CleanupIntake scans intakeDir for "<YYYY-MM-DD>.jsonl" files. A file is
// deleted (or, under dryRun, would-be-deleted) only if: its date is older
// than now-retentionDays, AND the mirrored partition directory exists
// with at least one *.parquet file. Unparseable filenames are skipped
// silently; a file that cannot currently be opened read-write is counted
// as SkippedInUse rather than deleted. No other check for handles held
// open by another process is made.
func CleanupIntake(intakeDir, partitionedRoot string, retentionDays int, dryRun bool, now time.Time) (Report, error) {
	var report Report

	entries, err := os.ReadDir(intakeDir)
	if os.IsNotExist(err) {
		return report, nil
	}
	if err != nil {
		return report, fmt.Errorf("cleanup: read %s: %w", intakeDir, err)
	}

	cutoff := now.UTC().AddDate(0, 0, -retentionDays)

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		report.TotalScanned++

		dateStr := strings.TrimSuffix(e.Name(), ".jsonl")
		key, err := partition.ParseKey(dateStr)
		if err != nil {
			continue
		}
		if !key.Time().Before(cutoff) {
			continue
		}

		path := filepath.Join(intakeDir, e.Name())
		partitionDir := key.Dir(partitionedRoot)
		files, err := partition.ListParquetFiles(partitionDir)
		if err != nil || len(files) == 0 {
			report.SkippedNoPartition++
			continue
		}

		if inUse(path) {
			report.SkippedInUse++
			continue
		}

		if !dryRun {
			if err := os.Remove(path); err != nil {
				return report, fmt.Errorf("cleanup: remove %s: %w", path, err)
			}
		}
		report.Deleted++
		report.DeletedFiles = append(report.DeletedFiles, path)
	}

	return report, nil
}

// inUse reports whether path cannot currently be opened read-write,
// taken as a proxy for another process holding it open.
func inUse(path string) bool {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return true
	}
	f.Close()
	return false
}
