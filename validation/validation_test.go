package validation

import (
	"context"
	"path/filepath"
	"testing"

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

func seedOneRecord(t *testing.T, recordID string, eventTime int64) (string, string) {
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
		"record_id": recordID, "sender": "u1", "recipient": "u2", "event_time": eventTime, "event_id": "e1",
	}, path))
	_, err = eng.IncrementalIngest(context.Background(), path)
	require.NoError(t, err)

	key := partition.Of(eventTime)
	return dataRoot, key.Dir(dataRoot)
}

func TestValidatePartitionHealthy(t *testing.T) {
	_, dir := seedOneRecord(t, "m1", 1737590400)
	report, err := ValidatePartition(dir)
	require.NoError(t, err)
	assert.True(t, report.IsValid)
	assert.Equal(t, 1, report.FileCount)
	assert.EqualValues(t, 1, report.TotalRecords)
	assert.Empty(t, report.Errors)
}

func TestValidatePartitionMissingDirectory(t *testing.T) {
	report, err := ValidatePartition(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.False(t, report.IsValid)
	assert.NotEmpty(t, report.Errors)
}

func TestDetectDuplicatesFindsRepeatedRecordID(t *testing.T) {
	root := t.TempDir()
	cps := checkpoint.New(filepath.Join(root, "checkpoints"), nil)
	errs, err := errlog.Open(filepath.Join(root, "errors.jsonl"))
	require.NoError(t, err)
	defer errs.Close()
	reg := schema.New(filepath.Join(root, "schemas.json"))
	dataRoot := filepath.Join(root, "data")
	eng := ingest.New(dataRoot, cps, errs, reg, nil)

	intakeLog := intake.New(filepath.Join(root, "intake"))
	path := intakeLog.PathForDate("batch1")
	require.NoError(t, intake.AppendRecord(context.Background(), record.Raw{
		"record_id": "m1", "sender": "u1", "recipient": "u2", "event_time": 1737590400, "event_id": "e1",
	}, path))
	_, err = eng.IncrementalIngest(context.Background(), path)
	require.NoError(t, err)

	path2 := intakeLog.PathForDate("batch2")
	require.NoError(t, intake.AppendRecord(context.Background(), record.Raw{
		"record_id": "m1", "sender": "u1", "recipient": "u2", "event_time": 1737590400, "event_id": "e1",
	}, path2))
	_, err = eng.IncrementalIngest(context.Background(), path2)
	require.NoError(t, err)

	dups, err := DetectDuplicates(dataRoot)
	require.NoError(t, err)
	require.Len(t, dups, 1)
	assert.Equal(t, "m1", dups[0].RecordID)
	assert.Equal(t, 2, dups[0].Count)
}

func TestDetectDuplicatesOnMissingRootIsEmpty(t *testing.T) {
	dups, err := DetectDuplicates(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Empty(t, dups)
}

func TestValidateSchemaDetectsMissingAndExtraFields(t *testing.T) {
	_, dir := seedOneRecord(t, "m1", 1737590400)
	files, err := partition.ListParquetFiles(dir)
	require.NoError(t, err)
	require.Len(t, files, 1)

	expected := schema.Fields{
		{Name: "record_id", Type: "string"},
		{Name: "nonexistent_field", Type: "string"},
	}
	report, err := ValidateSchema(files[0], expected)
	require.NoError(t, err)
	assert.False(t, report.IsValid)
	assert.Contains(t, report.MissingFields, "nonexistent_field")
	assert.Contains(t, report.ExtraFields, "sender")
}
