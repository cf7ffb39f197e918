// Package metrics wraps the engine's prometheus counters and histogram
// behind one explicitly constructed handle, rather than the default
// global registry, so multiple engines in one process never collide
// over shared metric state.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry holds every metric this engine exports. Callers pass it
// explicitly to the components that should record against it; a nil
// *Registry is valid everywhere and simply does nothing (see the nil
// receiver methods below), so metrics stay optional for callers who
// don't want a prometheus registry wired up.
type Registry struct {
	reg *prometheus.Registry

	RecordsIngested   *prometheus.CounterVec
	RecordsSkipped    *prometheus.CounterVec
	PartitionsWritten prometheus.Counter
	IngestDuration    *prometheus.HistogramVec
	QueryRowsReturned prometheus.Counter
	ArchivedBytes     prometheus.Counter
}

// New constructs a Registry bound to its own prometheus.Registry (not
// the global DefaultRegisterer), so multiple Engines in one process
// never collide on metric names.
func New() *Registry {
	reg := prometheus.NewRegistry()
	m := &Registry{
		reg: reg,
		RecordsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "diting_storage_records_ingested_total",
			Help: "Records successfully cleaned and written to a partition.",
		}, []string{"source_file"}),
		RecordsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "diting_storage_records_skipped_total",
			Help: "Records dropped during cleaning, by skip kind.",
		}, []string{"kind"}),
		PartitionsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "diting_storage_partition_files_written_total",
			Help: "Part files written across all ingestion invocations.",
		}),
		IngestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "diting_storage_ingest_duration_seconds",
			Help:    "Wall-clock duration of one incremental_ingest invocation.",
			Buckets: prometheus.DefBuckets,
		}, []string{"source_file"}),
		QueryRowsReturned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "diting_storage_query_rows_returned_total",
			Help: "Rows returned across all query invocations.",
		}),
		ArchivedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "diting_storage_archived_bytes_total",
			Help: "Post-recompression bytes written by archive_partitions.",
		}),
	}
	reg.MustRegister(m.RecordsIngested, m.RecordsSkipped, m.PartitionsWritten, m.IngestDuration, m.QueryRowsReturned, m.ArchivedBytes)
	return m
}

// Gatherer exposes the underlying prometheus.Gatherer for a host's
// /metrics handler.
func (m *Registry) Gatherer() prometheus.Gatherer {
	if m == nil {
		return prometheus.NewRegistry()
	}
	return m.reg
}

func (m *Registry) recordsIngested(sourceFile string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RecordsIngested.WithLabelValues(sourceFile).Add(float64(n))
}

func (m *Registry) recordsSkipped(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RecordsSkipped.WithLabelValues(kind).Add(float64(n))
}

func (m *Registry) partitionWritten() {
	if m == nil {
		return
	}
	m.PartitionsWritten.Inc()
}

func (m *Registry) observeIngestSeconds(sourceFile string, seconds float64) {
	if m == nil {
		return
	}
	m.IngestDuration.WithLabelValues(sourceFile).Observe(seconds)
}

func (m *Registry) queryRowsReturned(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.QueryRowsReturned.Add(float64(n))
}

func (m *Registry) archivedBytes(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.ArchivedBytes.Add(float64(n))
}

// ObserveIngest records the per-invocation counters produced by one
// IncrementalIngest call.
func (m *Registry) ObserveIngest(sourceFile string, recordsIngested int, skippedByKind map[string]int, partitionsWritten int, seconds float64) {
	m.recordsIngested(sourceFile, recordsIngested)
	for kind, n := range skippedByKind {
		m.recordsSkipped(kind, n)
	}
	for i := 0; i < partitionsWritten; i++ {
		m.partitionWritten()
	}
	m.observeIngestSeconds(sourceFile, seconds)
}

// ObserveQuery records rows returned by one query invocation.
func (m *Registry) ObserveQuery(rows int) {
	m.queryRowsReturned(rows)
}

// ObserveArchive records bytes written by one archive_partitions run.
func (m *Registry) ObserveArchive(bytesAfter int64) {
	m.archivedBytes(bytesAfter)
}
