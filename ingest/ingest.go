// Package ingest implements the Ingestion Engine: checkpoint-driven
// incremental conversion of one intake file's unprocessed lines into
// columnar partition files.
//
// The per-partition write fan-out uses one pond.WorkerPool submission per
// partition group, collecting the first error under a mutex rather than
// panicking, since library code must return errors, not crash its caller.
package ingest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/alitto/pond"
	pq "github.com/parquet-go/parquet-go"
	"github.com/sirupsen/logrus"

	"github.com/sqrtqiezi/diting-storage/checkpoint"
	"github.com/sqrtqiezi/diting-storage/errlog"
	"github.com/sqrtqiezi/diting-storage/intake"
	"github.com/sqrtqiezi/diting-storage/partition"
	"github.com/sqrtqiezi/diting-storage/record"
	"github.com/sqrtqiezi/diting-storage/schema"
)

// MessageSchemaName is the registry name under which the engine keeps the
// current message-record column set.
const MessageSchemaName = "message"

var messageFields = schema.Fields{
	{Name: "record_id", Type: "string"},
	{Name: "sender", Type: "string"},
	{Name: "recipient", Type: "string"},
	{Name: "group_id", Type: "string"},
	{Name: "group_sender", Type: "string"},
	{Name: "kind", Type: "int32"},
	{Name: "event_time", Type: "timestamp"},
	{Name: "is_group", Type: "int8"},
	{Name: "content", Type: "string"},
	{Name: "desc", Type: "string"},
	{Name: "source", Type: "string"},
	{Name: "event_id", Type: "string"},
	{Name: "notify_kind", Type: "int32"},
	{Name: "ingestion_time", Type: "timestamp"},
}

// Engine converts intake lines into partitioned columnar files.
type Engine struct {
	PartitionRoot string
	Checkpoints   *checkpoint.Store
	Errors        *errlog.Log
	Schemas       *schema.Registry
	Log           *logrus.Logger

	// PoolSize bounds concurrent partition writers; 0 uses one worker per
	// touched partition.
	PoolSize int

	// BatchSize caps how many cleaned records one IncrementalIngest call
	// collects before writing and returning, so long-running sources can
	// be driven by repeated calls rather than one unbounded pass. Blank,
	// skipped and deduplicated lines do not count toward it. 0 means
	// unbounded (drain to EOF).
	BatchSize int
}

// New constructs an Engine. A nil logger gets a fresh logrus.Logger.
func New(partitionRoot string, checkpoints *checkpoint.Store, errors *errlog.Log, schemas *schema.Registry, log *logrus.Logger) *Engine {
	if log == nil {
		log = logrus.New()
	}
	return &Engine{PartitionRoot: partitionRoot, Checkpoints: checkpoints, Errors: errors, Schemas: schemas, Log: log}
}

// Summary reports the outcome of one IncrementalIngest call.
type Summary struct {
	SourceFile        string
	LinesRead         int64
	RecordsCleaned    int64
	RecordsSkipped    int64
	RecordsDeduped    int64
	PartitionsTouched []string
	LastLine          int64

	// SkippedByKind breaks RecordsSkipped down by skip reason, scoped to
	// this invocation only (not the error log's lifetime total).
	SkippedByKind map[string]int
}

// EnsureSchema registers the engine's message schema on first use, so
// downstream compatibility checks have a baseline.
func (e *Engine) EnsureSchema(ctx context.Context) error {
	existing, err := e.Schemas.Get(MessageSchemaName, 0)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	_, err = e.Schemas.Register(ctx, MessageSchemaName, messageFields, "initial message schema")
	return err
}

// IncrementalIngest resumes from the checkpoint for sourceFile (or the
// start, if none), streams unprocessed lines, cleans and deduplicates them
// within the batch, groups survivors by partition, writes one new part file
// per touched partition, and advances the checkpoint. If any partition
// write fails, the checkpoint is marked failed and its position is not
// advanced, so the next call reads the same lines again; partitions that
// were written before the failure then receive those records a second
// time.
func (e *Engine) IncrementalIngest(ctx context.Context, sourceFile string) (Summary, error) {
	if err := e.EnsureSchema(ctx); err != nil {
		return Summary{}, fmt.Errorf("ingest: ensure schema: %w", err)
	}

	cp, err := e.Checkpoints.Load(sourceFile)
	if err != nil {
		return Summary{}, fmt.Errorf("ingest: load checkpoint: %w", err)
	}
	startAfter := int64(0)
	if cp != nil {
		startAfter = cp.LastLine
	}

	summary := Summary{SourceFile: sourceFile, LastLine: startAfter, SkippedByKind: map[string]int{}}
	var cleaned []record.Record
	seen := make(map[string]struct{})

	scanErr := intake.ReadFrom(sourceFile, startAfter, func(l intake.Line) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if len(l.Content) == 0 {
			summary.LastLine = l.Number
			summary.LinesRead++
			return nil
		}
		summary.LinesRead++
		summary.LastLine = l.Number

		raw, err := record.ParseLine(l.Content)
		if err != nil {
			summary.RecordsSkipped++
			summary.SkippedByKind[string(record.SkipParseError)]++
			return e.Errors.Record(record.SkipParseError, err.Error(), sourceFile, l.Number, string(l.Content))
		}
		raw = record.UnwrapEnvelope(raw)

		res := record.Clean(raw)
		if res.Err != nil {
			summary.RecordsSkipped++
			summary.SkippedByKind[string(res.Err.Kind)]++
			return e.Errors.Record(res.Err.Kind, res.Err.Reason, sourceFile, l.Number, string(l.Content))
		}

		if _, dup := seen[res.Record.RecordID]; dup {
			summary.RecordsDeduped++
			return nil
		}
		seen[res.Record.RecordID] = struct{}{}

		summary.RecordsCleaned++
		cleaned = append(cleaned, res.Record)

		if e.BatchSize > 0 && int64(len(cleaned)) >= int64(e.BatchSize) {
			return errBatchFull
		}
		return nil
	})
	if scanErr != nil && !errors.Is(scanErr, errBatchFull) {
		_ = e.Checkpoints.MarkFailed(ctx, sourceFile, scanErr)
		return summary, fmt.Errorf("ingest: scan %s: %w", sourceFile, scanErr)
	}

	now := time.Now().UTC()
	for i := range cleaned {
		record.StampIngestionTime(&cleaned[i], now)
	}

	grouped := partition.GroupByPartition(cleaned)
	touched, writeErr := e.writePartitions(ctx, grouped)
	summary.PartitionsTouched = touched
	if writeErr != nil {
		_ = e.Checkpoints.MarkFailed(ctx, sourceFile, writeErr)
		return summary, fmt.Errorf("ingest: write partitions: %w", writeErr)
	}

	var priorCount int64
	lastRecordID := ""
	if cp != nil {
		priorCount = cp.RecordCount
		lastRecordID = cp.LastRecordID
	}
	if len(cleaned) > 0 {
		lastRecordID = cleaned[len(cleaned)-1].RecordID
	}
	newCp := &checkpoint.Checkpoint{
		SourcePath:    sourceFile,
		LastLine:      summary.LastLine,
		LastRecordID:  lastRecordID,
		LastTimestamp: now.Unix(),
		RecordCount:   priorCount + summary.RecordsCleaned,
		Status:        checkpoint.StatusProcessing,
	}
	if err := e.Checkpoints.Save(ctx, newCp); err != nil {
		return summary, fmt.Errorf("ingest: save checkpoint: %w", err)
	}

	return summary, nil
}

var errBatchFull = fmt.Errorf("ingest: batch size reached")

// writePartitions fans out one AppendToPartition call per touched
// partition across a worker pool, collecting errors instead of panicking.
func (e *Engine) writePartitions(ctx context.Context, grouped partition.GroupResult) ([]string, error) {
	if len(grouped.Groups) == 0 {
		return nil, nil
	}

	poolSize := e.PoolSize
	if poolSize <= 0 {
		poolSize = len(grouped.Groups)
	}
	pool := pond.New(poolSize, 0, pond.MinWorkers(1))
	defer pool.StopAndWait()

	var mu sync.Mutex
	var touched []string
	var firstErr error

	for key, records := range grouped.Groups {
		key, records := key, records
		pool.Submit(func() {
			if ctx.Err() != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = ctx.Err()
				}
				mu.Unlock()
				return
			}
			if err := e.AppendToPartition(key, records); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = fmt.Errorf("ingest: partition %s: %w", key, err)
				}
				mu.Unlock()
				return
			}
			mu.Lock()
			touched = append(touched, key.String())
			mu.Unlock()
		})
	}

	pool.StopAndWait()
	return touched, firstErr
}

// AppendToPartition writes records as a new, never-overwritten part file
// under the partition directory for key, snappy-compressed, with the
// string columns dictionary-encoded (see record.Record's struct tags)
// and (event_time, record_id) declared as the writer's sorting columns.
// The query engine does not read row-group statistics, so this layout
// does not prune anything on read.
func (e *Engine) AppendToPartition(key partition.Key, records []record.Record) error {
	if len(records) == 0 {
		return nil
	}
	dir := key.Dir(e.PartitionRoot)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ingest: create partition dir %s: %w", dir, err)
	}
	fname, err := partition.NextPartFileName(dir)
	if err != nil {
		return fmt.Errorf("ingest: next part file: %w", err)
	}

	f, err := os.OpenFile(fname, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("ingest: create %s: %w", fname, err)
	}
	defer f.Close()

	bw := bufio.NewWriterSize(f, 1<<20)
	writer := pq.NewGenericWriter[record.Record](bw,
		pq.Compression(&pq.Snappy),
		pq.SortingWriterConfig(pq.SortingColumns(
			pq.Ascending("event_time"),
			pq.Ascending("record_id"),
		)),
	)

	if _, err := writer.Write(records); err != nil {
		return fmt.Errorf("ingest: write rows to %s: %w", fname, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("ingest: close parquet writer for %s: %w", fname, err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("ingest: flush %s: %w", fname, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("ingest: sync %s: %w", fname, err)
	}

	e.Log.WithFields(logrus.Fields{
		"partition": key.String(),
		"file":      filepath.Base(fname),
		"records":   len(records),
	}).Debug("ingest: wrote partition file")
	return nil
}
