// Package engine wires ingestion, querying, maintenance, and schema
// management into the single programmatic surface a host embeds:
// append_record, incremental_ingest, append_to_partition, query,
// query_by_id, validate_partition, validate_schema, detect_duplicates,
// dedup_partition, cleanup_intake, archive_partitions, register_schema,
// get_schema, list_schema_versions, is_compatible,
// detect_schema_evolution, merge_schemas, get_partition_stats, and
// scan_partitions.
package engine

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sqrtqiezi/diting-storage/archive"
	"github.com/sqrtqiezi/diting-storage/checkpoint"
	"github.com/sqrtqiezi/diting-storage/cleanup"
	"github.com/sqrtqiezi/diting-storage/dedup"
	"github.com/sqrtqiezi/diting-storage/errlog"
	"github.com/sqrtqiezi/diting-storage/ingest"
	"github.com/sqrtqiezi/diting-storage/intake"
	"github.com/sqrtqiezi/diting-storage/metrics"
	"github.com/sqrtqiezi/diting-storage/partition"
	"github.com/sqrtqiezi/diting-storage/query"
	"github.com/sqrtqiezi/diting-storage/record"
	"github.com/sqrtqiezi/diting-storage/schema"
	"github.com/sqrtqiezi/diting-storage/stats"
	"github.com/sqrtqiezi/diting-storage/validation"
)

// Config is the set of paths and retention knobs the host supplies. It
// is constructed programmatically by the host; this package never reads
// YAML or any other config file itself (an explicit Non-goal).
type Config struct {
	IntakeDir       string
	PartitionedRoot string
	CheckpointDir   string
	SchemaPath      string
	ErrorLogPath    string
	ArchiveRoot     string

	RetentionDays int
	ArchiveDays   int

	// ArchiveCompressionLevel is the nominal zstd level (1-22) archival
	// recompresses with; 0 uses archive.DefaultCompressionLevel.
	ArchiveCompressionLevel int

	// IngestPoolSize bounds concurrent per-partition writers; 0 uses
	// one worker per touched partition.
	IngestPoolSize int
}

// Engine is the single handle a host constructs and holds; every
// ingestion, query, and maintenance operation is a method on it.
type Engine struct {
	cfg Config
	log *logrus.Logger

	intake      *intake.Log
	checkpoints *checkpoint.Store
	errors      *errlog.Log
	schemas     *schema.Registry
	ingestor    *ingest.Engine
	queryer     *query.Engine
	metrics     *metrics.Registry
}

// New constructs an Engine from cfg. A nil logger gets a fresh
// logrus.Logger; a nil metrics.Registry disables metrics (every
// metrics.Registry method tolerates a nil receiver).
func New(cfg Config, log *logrus.Logger, m *metrics.Registry) (*Engine, error) {
	if log == nil {
		log = logrus.New()
	}
	errs, err := errlog.Open(cfg.ErrorLogPath)
	if err != nil {
		return nil, err
	}

	cps := checkpoint.New(cfg.CheckpointDir, log)
	reg := schema.New(cfg.SchemaPath)
	ingestor := ingest.New(cfg.PartitionedRoot, cps, errs, reg, log)
	ingestor.PoolSize = cfg.IngestPoolSize

	return &Engine{
		cfg:         cfg,
		log:         log,
		intake:      intake.New(cfg.IntakeDir),
		checkpoints: cps,
		errors:      errs,
		schemas:     reg,
		ingestor:    ingestor,
		queryer:     query.New(cfg.PartitionedRoot),
		metrics:     m,
	}, nil
}

// Close releases the engine's open error log handle.
func (e *Engine) Close() error {
	return e.errors.Close()
}

// AppendRecord writes one record to the intake file for dateBucket
// ("YYYY-MM-DD").
func (e *Engine) AppendRecord(ctx context.Context, dateBucket string, raw record.Raw) error {
	return intake.AppendRecord(ctx, raw, e.intake.PathForDate(dateBucket))
}

// IncrementalIngest resumes ingestion of the intake file for dateBucket
// from its checkpoint.
func (e *Engine) IncrementalIngest(ctx context.Context, dateBucket string) (ingest.Summary, error) {
	start := time.Now()
	path := e.intake.PathForDate(dateBucket)
	summary, err := e.ingestor.IncrementalIngest(ctx, path)
	e.metrics.ObserveIngest(path, int(summary.RecordsCleaned), summary.SkippedByKind, len(summary.PartitionsTouched), time.Since(start).Seconds())
	return summary, err
}

// AppendToPartition bypasses intake/checkpoint entirely: it cleans raws
// and writes them straight to their partitions, for callers that already
// hold a batch in memory and have no need for the durability or resume
// guarantees of the checkpointed path. It returns a count of survivors
// per partition key, keyed by the partition's "YYYY-MM-DD" string form.
func (e *Engine) AppendToPartition(ctx context.Context, raws []record.Raw) (map[string]int, error) {
	if err := e.ingestor.EnsureSchema(ctx); err != nil {
		return nil, err
	}

	var cleaned []record.Record
	now := time.Now().UTC()
	for _, raw := range raws {
		raw = record.UnwrapEnvelope(raw)
		res := record.Clean(raw)
		if res.Err != nil {
			_ = e.errors.Record(res.Err.Kind, res.Err.Reason, "append_to_partition", 0, "")
			continue
		}
		record.StampIngestionTime(&res.Record, now)
		cleaned = append(cleaned, res.Record)
	}

	grouped := partition.GroupByPartition(cleaned)
	out := make(map[string]int, len(grouped.Groups))
	for key, records := range grouped.Groups {
		if err := e.ingestor.AppendToPartition(key, records); err != nil {
			return nil, err
		}
		out[key.String()] = len(records)
	}
	return out, nil
}

// MarkIngestCompleted explicitly flips a source's checkpoint to
// completed, for callers that know no further lines will ever be
// appended to dateBucket's intake file. IncrementalIngest does not
// consult the status: a later call still reads any lines past the
// checkpoint and sets the status back to processing.
func (e *Engine) MarkIngestCompleted(ctx context.Context, dateBucket string) error {
	return e.checkpoints.MarkCompleted(ctx, e.intake.PathForDate(dateBucket))
}

// Query resolves a partition-pruned range query over [startDate,
// endDate], applying filters and projecting columns.
func (e *Engine) Query(ctx context.Context, startDate, endDate string, filters map[string]interface{}, columns []string) (query.Table, error) {
	table, err := e.queryer.Query(ctx, startDate, endDate, filters, columns)
	if err == nil {
		e.metrics.ObserveQuery(len(table.Rows))
	}
	return table, err
}

// QueryByID matches on record_id set membership.
func (e *Engine) QueryByID(ctx context.Context, recordIDs []string, columns []string) (query.Table, error) {
	table, err := e.queryer.QueryByID(ctx, recordIDs, columns)
	if err == nil {
		e.metrics.ObserveQuery(len(table.Rows))
	}
	return table, err
}

// ValidatePartition runs structural checks over dir: the directory
// exists, holds at least one part file, and every part file is
// non-empty, decodes, and shares one schema with its siblings.
func (e *Engine) ValidatePartition(dir string) (validation.PartitionReport, error) {
	return validation.ValidatePartition(dir)
}

// ValidateSchema compares file's physical schema against expected.
func (e *Engine) ValidateSchema(file string, expected schema.Fields) (validation.SchemaReport, error) {
	return validation.ValidateSchema(file, expected)
}

// DetectDuplicates scans the whole dataset for repeated record_ids.
func (e *Engine) DetectDuplicates() ([]validation.DuplicateRow, error) {
	return validation.DetectDuplicates(e.cfg.PartitionedRoot)
}

// DedupPartition removes duplicate record_ids from one partition
// directory, keeping the first occurrence.
func (e *Engine) DedupPartition(dir string, inPlace bool) (dedup.PartitionResult, error) {
	return dedup.DedupPartition(dir, inPlace)
}

// CleanupIntake removes retention-eligible, already-durable intake
// files.
func (e *Engine) CleanupIntake(dryRun bool, now time.Time) (cleanup.Report, error) {
	return cleanup.CleanupIntake(e.cfg.IntakeDir, e.cfg.PartitionedRoot, e.cfg.RetentionDays, dryRun, now)
}

// ArchivePartitions recompresses and moves old partitions to the
// archive root.
func (e *Engine) ArchivePartitions(now time.Time) (archive.Report, error) {
	report, err := archive.ArchivePartitions(e.cfg.PartitionedRoot, e.cfg.ArchiveRoot, e.cfg.ArchiveDays, e.cfg.ArchiveCompressionLevel, now)
	if err == nil {
		e.metrics.ObserveArchive(report.SizeAfterBytes)
	}
	return report, err
}

// RegisterSchema registers a new version of a named schema.
func (e *Engine) RegisterSchema(ctx context.Context, name string, fields schema.Fields, note string) (int, error) {
	return e.schemas.Register(ctx, name, fields, note)
}

// GetSchema returns the fields for name at version (0 = latest).
func (e *Engine) GetSchema(name string, version int) (schema.Fields, error) {
	return e.schemas.Get(name, version)
}

// ListSchemaVersions lists the registered versions of name.
func (e *Engine) ListSchemaVersions(name string) ([]schema.VersionInfo, error) {
	return e.schemas.ListVersions(name)
}

// IsCompatible compares candidate against name's latest registered
// version.
func (e *Engine) IsCompatible(name string, candidate schema.Fields) (schema.Report, error) {
	return e.schemas.IsCompatible(name, candidate)
}

// DetectSchemaEvolution walks every file under the partitioned root,
// taking the first file's schema as baseline, and groups files into
// exact-match version buckets, reporting incompatibilities against the
// baseline via CheckCompatibility.
func (e *Engine) DetectSchemaEvolution() (EvolutionReport, error) {
	return detectSchemaEvolution(e.cfg.PartitionedRoot)
}

// MergeSchemas unions fields by name, widening type conflicts to string.
func (e *Engine) MergeSchemas(schemas []schema.Fields) (schema.Fields, error) {
	return schema.MergeSchemas(schemas)
}

// GetPartitionStats returns scan-based metadata over the dataset.
func (e *Engine) GetPartitionStats(now time.Time) (stats.PartitionStats, error) {
	return stats.GetPartitionStats(e.cfg.PartitionedRoot, now)
}

// ScanPartitions builds an in-memory index of every part file under the
// partitioned root.
func (e *Engine) ScanPartitions() (*stats.PathTree, error) {
	return stats.ScanPartitions(e.cfg.PartitionedRoot)
}
