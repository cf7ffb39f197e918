package ingest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqrtqiezi/diting-storage/checkpoint"
	"github.com/sqrtqiezi/diting-storage/errlog"
	"github.com/sqrtqiezi/diting-storage/intake"
	"github.com/sqrtqiezi/diting-storage/partition"
	"github.com/sqrtqiezi/diting-storage/record"
	"github.com/sqrtqiezi/diting-storage/schema"
)

func newTestEngine(t *testing.T) (*Engine, string) {
	t.Helper()
	root := t.TempDir()
	cps := checkpoint.New(filepath.Join(root, "checkpoints"), nil)
	errs, err := errlog.Open(filepath.Join(root, "errors.jsonl"))
	require.NoError(t, err)
	t.Cleanup(func() { errs.Close() })
	reg := schema.New(filepath.Join(root, "schemas.json"))
	return New(filepath.Join(root, "data"), cps, errs, reg, nil), root
}

func TestIncrementalIngestWritesPartitionAndAdvancesCheckpoint(t *testing.T) {
	eng, root := newTestEngine(t)
	ctx := context.Background()

	intakeLog := intake.New(filepath.Join(root, "intake"))
	path := intakeLog.PathForDate("2026-01-23")
	ids := []string{"m1", "m2", "m3"}
	for i, id := range ids {
		raw := record.Raw{
			"record_id": id,
			"sender":    "u1", "recipient": "u2", "event_time": 1769212800 + i, "event_id": "e1",
		}
		require.NoError(t, intake.AppendRecord(ctx, raw, path))
	}

	summary, err := eng.IncrementalIngest(ctx, path)
	require.NoError(t, err)
	assert.EqualValues(t, 3, summary.LinesRead)
	assert.EqualValues(t, 3, summary.RecordsCleaned)
	assert.Len(t, summary.PartitionsTouched, 1)

	key := partition.Of(1769212800)
	files, err := partition.ListParquetFiles(key.Dir(eng.PartitionRoot))
	require.NoError(t, err)
	assert.Len(t, files, 1)

	cp, err := eng.Checkpoints.Load(path)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.EqualValues(t, 3, cp.LastLine)
	assert.EqualValues(t, 3, cp.RecordCount)
}

func TestIncrementalIngestResumesFromCheckpoint(t *testing.T) {
	eng, root := newTestEngine(t)
	ctx := context.Background()

	intakeLog := intake.New(filepath.Join(root, "intake"))
	path := intakeLog.PathForDate("2026-01-23")
	require.NoError(t, intake.AppendRecord(ctx, record.Raw{
		"record_id": "m1", "sender": "u1", "recipient": "u2", "event_time": 1769212800, "event_id": "e1",
	}, path))

	first, err := eng.IncrementalIngest(ctx, path)
	require.NoError(t, err)
	assert.EqualValues(t, 1, first.RecordsCleaned)

	require.NoError(t, intake.AppendRecord(ctx, record.Raw{
		"record_id": "m2", "sender": "u1", "recipient": "u2", "event_time": 1769212900, "event_id": "e1",
	}, path))

	second, err := eng.IncrementalIngest(ctx, path)
	require.NoError(t, err)
	assert.EqualValues(t, 1, second.RecordsCleaned, "resumed run only processes the new line")

	cp, err := eng.Checkpoints.Load(path)
	require.NoError(t, err)
	assert.EqualValues(t, 2, cp.RecordCount)
}

func TestIncrementalIngestDedupsWithinBatch(t *testing.T) {
	eng, root := newTestEngine(t)
	ctx := context.Background()

	intakeLog := intake.New(filepath.Join(root, "intake"))
	path := intakeLog.PathForDate("2026-01-23")
	dup := record.Raw{"record_id": "m1", "sender": "u1", "recipient": "u2", "event_time": 1769212800, "event_id": "e1"}
	require.NoError(t, intake.AppendRecord(ctx, dup, path))
	require.NoError(t, intake.AppendRecord(ctx, dup, path))

	summary, err := eng.IncrementalIngest(ctx, path)
	require.NoError(t, err)
	assert.EqualValues(t, 1, summary.RecordsCleaned)
	assert.EqualValues(t, 1, summary.RecordsDeduped)
}

func TestIncrementalIngestSkipsInvalidRecordsToErrorLog(t *testing.T) {
	eng, root := newTestEngine(t)
	ctx := context.Background()

	intakeLog := intake.New(filepath.Join(root, "intake"))
	path := intakeLog.PathForDate("2026-01-23")
	require.NoError(t, intake.AppendRecord(ctx, record.Raw{"sender": "u1", "recipient": "u2"}, path))
	require.NoError(t, intake.AppendRecord(ctx, record.Raw{
		"record_id": "m1", "sender": "u1", "recipient": "u2", "event_time": 1769212800, "event_id": "e1",
	}, path))

	summary, err := eng.IncrementalIngest(ctx, path)
	require.NoError(t, err)
	assert.EqualValues(t, 1, summary.RecordsSkipped)
	assert.EqualValues(t, 1, summary.RecordsCleaned)
	assert.Equal(t, 1, eng.Errors.Count())
}

func TestIncrementalIngestGroupsAcrossDayBoundary(t *testing.T) {
	eng, root := newTestEngine(t)
	ctx := context.Background()

	intakeLog := intake.New(filepath.Join(root, "intake"))
	path := intakeLog.PathForDate("boundary")
	require.NoError(t, intake.AppendRecord(ctx, record.Raw{
		"record_id": "m1", "sender": "u1", "recipient": "u2", "event_time": 1769212799, "event_id": "e1",
	}, path))
	require.NoError(t, intake.AppendRecord(ctx, record.Raw{
		"record_id": "m2", "sender": "u1", "recipient": "u2", "event_time": 1769212800, "event_id": "e1",
	}, path))

	summary, err := eng.IncrementalIngest(ctx, path)
	require.NoError(t, err)
	assert.Len(t, summary.PartitionsTouched, 2)
}
