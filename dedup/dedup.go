// Package dedup implements cross-batch deduplication by record id,
// keeping the first occurrence, run offline after ingestion (intra-batch
// dedup already happens inside the Ingestion Engine).
package dedup

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	pq "github.com/parquet-go/parquet-go"

	"github.com/sqrtqiezi/diting-storage/partition"
	"github.com/sqrtqiezi/diting-storage/record"
)

// FileResult is the outcome of DedupFile.
type FileResult struct {
	Total   int
	Unique  int
	Removed int
}

// DedupFile reads in, drops rows whose record_id repeats (keeping the
// first), and writes the survivors to out.
func DedupFile(in, out string) (FileResult, error) {
	rows, err := readAll(in)
	if err != nil {
		return FileResult{}, err
	}

	survivors, removed := dedupRows(rows)
	if err := writeRows(out, survivors); err != nil {
		return FileResult{}, err
	}
	return FileResult{Total: len(rows), Unique: len(survivors), Removed: removed}, nil
}

// PartitionResult is the outcome of DedupPartition.
type PartitionResult struct {
	FilesProcessed int
	Total          int
	Unique         int
	Removed        int
}

// DedupPartition reads every file in dir, concatenates, drops duplicate
// record_ids keeping the first occurrence across files in directory-
// listing (i.e. part-0, part-1, ...) order, then either rewrites dir
// in place as a single part-0.parquet or writes a sibling "<dir>_dedup"
// directory.
func DedupPartition(dir string, inPlace bool) (PartitionResult, error) {
	files, err := partition.ListParquetFiles(dir)
	if err != nil {
		return PartitionResult{}, fmt.Errorf("dedup: list %s: %w", dir, err)
	}

	var all []record.Record
	for _, f := range files {
		rows, err := readAll(f)
		if err != nil {
			return PartitionResult{}, fmt.Errorf("dedup: read %s: %w", f, err)
		}
		all = append(all, rows...)
	}

	survivors, removed := dedupRows(all)

	if inPlace {
		for _, f := range files {
			if err := os.Remove(f); err != nil {
				return PartitionResult{}, fmt.Errorf("dedup: remove %s: %w", f, err)
			}
		}
		if err := writeRows(filepath.Join(dir, "part-0.parquet"), survivors); err != nil {
			return PartitionResult{}, err
		}
	} else {
		target := dir + "_dedup"
		if err := os.MkdirAll(target, 0o755); err != nil {
			return PartitionResult{}, fmt.Errorf("dedup: mkdir %s: %w", target, err)
		}
		if err := writeRows(filepath.Join(target, "part-0.parquet"), survivors); err != nil {
			return PartitionResult{}, err
		}
	}

	return PartitionResult{FilesProcessed: len(files), Total: len(all), Unique: len(survivors), Removed: removed}, nil
}

func dedupRows(rows []record.Record) ([]record.Record, int) {
	seen := make(map[string]struct{}, len(rows))
	survivors := make([]record.Record, 0, len(rows))
	removed := 0
	for _, r := range rows {
		if _, ok := seen[r.RecordID]; ok {
			removed++
			continue
		}
		seen[r.RecordID] = struct{}{}
		survivors = append(survivors, r)
	}
	return survivors, removed
}

func readAll(path string) ([]record.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dedup: open %s: %w", path, err)
	}
	defer f.Close()

	reader := pq.NewGenericReader[record.Record](f)
	defer reader.Close()

	var out []record.Record
	buf := make([]record.Record, 256)
	for {
		n, err := reader.Read(buf)
		out = append(out, buf[:n]...)
		if err != nil {
			break
		}
	}
	return out, nil
}

func writeRows(path string, rows []record.Record) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("dedup: create %s: %w", path, err)
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
	if _, err := writer.Write(rows); err != nil {
		return fmt.Errorf("dedup: write rows to %s: %w", path, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("dedup: close writer for %s: %w", path, err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("dedup: flush %s: %w", path, err)
	}
	return f.Sync()
}
