// Package query reads the partitioned columnar dataset: it prunes to the
// partition directories a date range or id lookup can touch, then
// decodes, filters, and projects the part files found there. See
// readFile for the current scan strategy and its tradeoffs.
package query

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/alitto/pond"
	pq "github.com/parquet-go/parquet-go"

	"github.com/sqrtqiezi/diting-storage/partition"
	"github.com/sqrtqiezi/diting-storage/record"
)

// Row is one result row, keyed by column name so projection can drop
// fields without needing a second struct type per column subset.
type Row map[string]interface{}

// Table is the tabular result of a query.
type Table struct {
	Columns []string
	Rows    []Row
}

// Engine reads the partitioned dataset rooted at Root.
type Engine struct {
	Root string

	// PoolSize bounds concurrent partition-file reads; 0 uses one
	// worker per file found.
	PoolSize int
}

// New constructs an Engine rooted at root.
func New(root string) *Engine {
	return &Engine{Root: root}
}

// allColumns is the default projection, in schema order.
var allColumns = []string{
	"record_id", "sender", "recipient", "group_id", "group_sender", "kind",
	"event_time", "is_group", "content", "desc", "source", "event_id",
	"notify_kind", "ingestion_time",
}

// Query resolves [startDate, endDate] (inclusive, "YYYY-MM-DD") to a
// pruned partition set, applies filters as exact-match equality, trims
// the result to columns, and re-filters event_time at the row level to
// guard against any over-matching on boundary days.
func (e *Engine) Query(ctx context.Context, startDate, endDate string, filters map[string]interface{}, columns []string) (Table, error) {
	start, err := partition.ParseKey(startDate)
	if err != nil {
		return Table{}, fmt.Errorf("query: invalid start_date %q: %w", startDate, err)
	}
	end, err := partition.ParseKey(endDate)
	if err != nil {
		return Table{}, fmt.Errorf("query: invalid end_date %q: %w", endDate, err)
	}

	keys, err := partition.ListInRange(e.Root, start, end)
	if err != nil {
		return Table{}, fmt.Errorf("query: list partitions: %w", err)
	}

	startEpoch := start.Time().Unix()
	endEpochInclusive := end.Time().Unix() + 86399

	rows, err := e.scan(ctx, keys, func(r record.Record) bool {
		if r.EventTime < startEpoch || r.EventTime > endEpochInclusive {
			return false
		}
		return matchesFilters(r, filters)
	}, columns)
	if err != nil {
		return Table{}, err
	}

	cols := columns
	if len(cols) == 0 {
		cols = allColumns
	}
	return Table{Columns: cols, Rows: rows}, nil
}

// QueryByID reads the same way as Query but matches on record_id set
// membership instead of a date range, scanning the whole dataset.
func (e *Engine) QueryByID(ctx context.Context, recordIDs []string, columns []string) (Table, error) {
	keys, err := partition.List(e.Root)
	if err != nil {
		return Table{}, fmt.Errorf("query: list partitions: %w", err)
	}

	want := make(map[string]struct{}, len(recordIDs))
	for _, id := range recordIDs {
		want[id] = struct{}{}
	}

	rows, err := e.scan(ctx, keys, func(r record.Record) bool {
		_, ok := want[r.RecordID]
		return ok
	}, columns)
	if err != nil {
		return Table{}, err
	}

	cols := columns
	if len(cols) == 0 {
		cols = allColumns
	}
	return Table{Columns: cols, Rows: rows}, nil
}

func matchesFilters(r record.Record, filters map[string]interface{}) bool {
	if len(filters) == 0 {
		return true
	}
	row := toRow(r)
	for col, want := range filters {
		got, ok := row[col]
		if !ok {
			return false
		}
		if fmt.Sprintf("%v", got) != fmt.Sprintf("%v", want) {
			return false
		}
	}
	return true
}

// scan reads every *.parquet file under the given partition keys in
// parallel (one pool task per file), keeping only rows for which keep
// returns true, and projecting to columns (nil/empty = all).
func (e *Engine) scan(ctx context.Context, keys []partition.Key, keep func(record.Record) bool, columns []string) ([]Row, error) {
	var files []string
	for _, k := range keys {
		fs, err := partition.ListParquetFiles(k.Dir(e.Root))
		if err != nil {
			return nil, fmt.Errorf("query: list files for %s: %w", k, err)
		}
		files = append(files, fs...)
	}
	if len(files) == 0 {
		return nil, nil
	}

	poolSize := e.PoolSize
	if poolSize <= 0 {
		poolSize = len(files)
	}
	pool := pond.New(poolSize, 0, pond.MinWorkers(1))
	defer pool.StopAndWait()

	var mu sync.Mutex
	var rows []Row
	var firstErr error

	for _, path := range files {
		path := path
		pool.Submit(func() {
			if ctx.Err() != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = ctx.Err()
				}
				mu.Unlock()
				return
			}
			fileRows, err := readFile(path, keep, columns)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("query: read %s: %w", path, err)
				}
				return
			}
			rows = append(rows, fileRows...)
		})
	}

	pool.StopAndWait()
	if firstErr != nil {
		return nil, firstErr
	}
	return rows, nil
}

// readFile decodes every row of path through the generic record reader,
// then applies keep and project in memory. It does not push the filter
// or the column list down into the reader: parquet-go's
// NewGenericReader[T] decodes whole rows of T, so partition pruning
// (the caller narrows which files get here at all) and this row-level
// filter are the only selectivity this engine gets. A column-projecting,
// row-group-statistics-aware reader would avoid decoding columns or row
// groups a query never needs, which matters once part files grow past a
// single row group, but it requires reading the file's own schema and
// column chunk statistics rather than decoding through a fixed Go
// struct, and is left as a follow-up rather than risking an
// unverified reimplementation of the decode path.
func readFile(path string, keep func(record.Record) bool, columns []string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := pq.NewGenericReader[record.Record](f)
	defer reader.Close()

	var out []Row
	buf := make([]record.Record, 256)
	for {
		n, readErr := reader.Read(buf)
		for i := 0; i < n; i++ {
			r := buf[i]
			if !keep(r) {
				continue
			}
			out = append(out, project(r, columns))
		}
		if readErr != nil {
			break
		}
	}
	return out, nil
}

func project(r record.Record, columns []string) Row {
	full := toRow(r)
	if len(columns) == 0 {
		return full
	}
	out := make(Row, len(columns))
	for _, c := range columns {
		if v, ok := full[c]; ok {
			out[c] = v
		}
	}
	return out
}

func toRow(r record.Record) Row {
	return Row{
		"record_id":      r.RecordID,
		"sender":         r.Sender,
		"recipient":      r.Recipient,
		"group_id":       r.GroupID,
		"group_sender":   r.GroupSender,
		"kind":           r.Kind,
		"event_time":     r.EventTime,
		"is_group":       r.IsGroup,
		"content":        r.Content,
		"desc":           r.Desc,
		"source":         r.Source,
		"event_id":       r.EventID,
		"notify_kind":    r.NotifyKind,
		"ingestion_time": r.IngestionTime,
	}
}
