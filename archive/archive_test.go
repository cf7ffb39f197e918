package archive

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqrtqiezi/diting-storage/checkpoint"
	"github.com/sqrtqiezi/diting-storage/errlog"
	"github.com/sqrtqiezi/diting-storage/ingest"
	"github.com/sqrtqiezi/diting-storage/intake"
	"github.com/sqrtqiezi/diting-storage/partition"
	"github.com/sqrtqiezi/diting-storage/record"
	"github.com/sqrtqiezi/diting-storage/schema"
)

func seedPartition(t *testing.T, eventTime int64) string {
	t.Helper()
	root := t.TempDir()
	cps := checkpoint.New(filepath.Join(root, "checkpoints"), nil)
	errs, err := errlog.Open(filepath.Join(root, "errors.jsonl"))
	require.NoError(t, err)
	t.Cleanup(func() { errs.Close() })
	reg := schema.New(filepath.Join(root, "schemas.json"))
	dataRoot := filepath.Join(root, "data")
	eng := ingest.New(dataRoot, cps, errs, reg, nil)

	intakeLog := intake.New(filepath.Join(root, "intake"))
	path := intakeLog.PathForDate("batch")
	require.NoError(t, intake.AppendRecord(context.Background(), record.Raw{
		"record_id": "m1", "sender": "u1", "recipient": "u2", "event_time": eventTime, "event_id": "e1",
	}, path))
	_, err = eng.IncrementalIngest(context.Background(), path)
	require.NoError(t, err)

	return dataRoot
}

func TestArchivePartitionsMovesOldPartitionAndRecompresses(t *testing.T) {
	eventTime := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Unix()
	dataRoot := seedPartition(t, eventTime)
	archiveRoot := filepath.Join(filepath.Dir(dataRoot), "archive")

	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	report, err := ArchivePartitions(dataRoot, archiveRoot, 90, 0, now)
	require.NoError(t, err)
	assert.Equal(t, 1, report.ArchivedPartitions)
	assert.Greater(t, report.CompressionRatio, 0.0)

	key := partition.Of(eventTime)
	_, statErr := os.Stat(key.Dir(dataRoot))
	assert.True(t, os.IsNotExist(statErr), "source partition directory must be gone")

	archivedFiles, err := partition.ListParquetFiles(key.Dir(archiveRoot))
	require.NoError(t, err)
	assert.Len(t, archivedFiles, 1)
}

func TestArchivePartitionsIsIdempotent(t *testing.T) {
	eventTime := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Unix()
	dataRoot := seedPartition(t, eventTime)
	archiveRoot := filepath.Join(filepath.Dir(dataRoot), "archive")

	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	first, err := ArchivePartitions(dataRoot, archiveRoot, 90, 0, now)
	require.NoError(t, err)
	assert.Equal(t, 1, first.ArchivedPartitions)

	second, err := ArchivePartitions(dataRoot, archiveRoot, 90, 0, now)
	require.NoError(t, err)
	assert.Equal(t, 0, second.ArchivedPartitions, "already-archived partitions are a no-op")
}

func TestArchivePartitionsSkipsRecentPartitions(t *testing.T) {
	eventTime := time.Date(2024, 5, 20, 0, 0, 0, 0, time.UTC).Unix()
	dataRoot := seedPartition(t, eventTime)
	archiveRoot := filepath.Join(filepath.Dir(dataRoot), "archive")

	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	report, err := ArchivePartitions(dataRoot, archiveRoot, 90, 0, now)
	require.NoError(t, err)
	assert.Equal(t, 0, report.ArchivedPartitions)

	key := partition.Of(eventTime)
	_, statErr := os.Stat(key.Dir(dataRoot))
	assert.NoError(t, statErr, "recent partition must be preserved")
}
