package cleanup

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFakePartition(t *testing.T, root, dateDir string) {
	t.Helper()
	dir := filepath.Join(root, dateDir)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "part-0.parquet"), []byte("x"), 0o644))
}

func TestCleanupDeletesOldIntakeWithDurablePartition(t *testing.T) {
	root := t.TempDir()
	intakeDir := filepath.Join(root, "intake")
	dataRoot := filepath.Join(root, "data")
	require.NoError(t, os.MkdirAll(intakeDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(intakeDir, "2024-01-01.jsonl"), []byte("{}\n"), 0o644))
	writeFakePartition(t, dataRoot, "year=2024/month=01/day=01")

	now := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	report, err := CleanupIntake(intakeDir, dataRoot, 7, false, now)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Deleted)
	assert.Equal(t, 1, report.TotalScanned)

	_, statErr := os.Stat(filepath.Join(intakeDir, "2024-01-01.jsonl"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestCleanupSkipsWhenPartitionAbsent(t *testing.T) {
	root := t.TempDir()
	intakeDir := filepath.Join(root, "intake")
	dataRoot := filepath.Join(root, "data")
	require.NoError(t, os.MkdirAll(intakeDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(intakeDir, "2024-01-01.jsonl"), []byte("{}\n"), 0o644))

	now := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	report, err := CleanupIntake(intakeDir, dataRoot, 7, false, now)
	require.NoError(t, err)
	assert.Equal(t, 1, report.SkippedNoPartition)
	assert.Equal(t, 0, report.Deleted)

	_, statErr := os.Stat(filepath.Join(intakeDir, "2024-01-01.jsonl"))
	assert.NoError(t, statErr, "file preserved when no partition exists")
}

func TestCleanupSkipsRecentFiles(t *testing.T) {
	root := t.TempDir()
	intakeDir := filepath.Join(root, "intake")
	dataRoot := filepath.Join(root, "data")
	require.NoError(t, os.MkdirAll(intakeDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(intakeDir, "2024-01-30.jsonl"), []byte("{}\n"), 0o644))
	writeFakePartition(t, dataRoot, "year=2024/month=01/day=30")

	now := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	report, err := CleanupIntake(intakeDir, dataRoot, 7, false, now)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Deleted)
	assert.Equal(t, 0, report.SkippedNoPartition)
}

func TestCleanupDryRunPreservesFiles(t *testing.T) {
	root := t.TempDir()
	intakeDir := filepath.Join(root, "intake")
	dataRoot := filepath.Join(root, "data")
	require.NoError(t, os.MkdirAll(intakeDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(intakeDir, "2024-01-01.jsonl"), []byte("{}\n"), 0o644))
	writeFakePartition(t, dataRoot, "year=2024/month=01/day=01")

	now := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	report, err := CleanupIntake(intakeDir, dataRoot, 7, true, now)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Deleted)

	_, statErr := os.Stat(filepath.Join(intakeDir, "2024-01-01.jsonl"))
	assert.NoError(t, statErr, "dry_run must not actually delete")
}

func TestCleanupSkipsUnparseableFilenames(t *testing.T) {
	root := t.TempDir()
	intakeDir := filepath.Join(root, "intake")
	dataRoot := filepath.Join(root, "data")
	require.NoError(t, os.MkdirAll(intakeDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(intakeDir, "not-a-date.jsonl"), []byte("{}\n"), 0o644))

	now := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	report, err := CleanupIntake(intakeDir, dataRoot, 7, false, now)
	require.NoError(t, err)
	assert.Equal(t, 1, report.TotalScanned)
	assert.Equal(t, 0, report.Deleted)
	assert.Equal(t, 0, report.SkippedNoPartition)
}
