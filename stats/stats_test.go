package stats

import (
	"context"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqrtqiezi/diting-storage/checkpoint"
	"github.com/sqrtqiezi/diting-storage/errlog"
	"github.com/sqrtqiezi/diting-storage/ingest"
	"github.com/sqrtqiezi/diting-storage/intake"
	"github.com/sqrtqiezi/diting-storage/record"
	"github.com/sqrtqiezi/diting-storage/schema"
)

func seedDataset(t *testing.T) string {
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
		"record_id": "m1", "sender": "u1", "recipient": "u2", "event_time": 1737590400, "event_id": "e1",
	}, path))
	require.NoError(t, intake.AppendRecord(context.Background(), record.Raw{
		"record_id": "m2", "sender": "u1", "recipient": "u2", "event_time": 1737676800, "event_id": "e1",
	}, path))
	_, err = eng.IncrementalIngest(context.Background(), path)
	require.NoError(t, err)

	return dataRoot
}

func TestGetPartitionStatsCountsFilesBytesAndRows(t *testing.T) {
	dataRoot := seedDataset(t)

	s, err := GetPartitionStats(dataRoot, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, s.PartitionCount)
	assert.Equal(t, 2, s.FileCount)
	assert.EqualValues(t, 2, s.TotalRecords)
	assert.Greater(t, s.TotalBytes, int64(0))
	assert.NotEmpty(t, s.HumanSize)
	assert.Greater(t, s.TotalUncompressedBytes, int64(0))
	assert.Greater(t, s.CompressionRatio, 0.0)
}

func TestScanPartitionsBuildsQueryableTree(t *testing.T) {
	dataRoot := seedDataset(t)

	tree, err := ScanPartitions(dataRoot)
	require.NoError(t, err)

	all := tree.Files("")
	sort.Strings(all)
	assert.Len(t, all, 2)

	under2025, err := firstPartitionPrefix(dataRoot)
	require.NoError(t, err)
	assert.True(t, tree.HasFile(under2025))
}

func firstPartitionPrefix(dataRoot string) (string, error) {
	tree, err := ScanPartitions(dataRoot)
	if err != nil {
		return "", err
	}
	files := tree.Files("")
	if len(files) == 0 {
		return "", nil
	}
	sort.Strings(files)
	return files[0], nil
}
