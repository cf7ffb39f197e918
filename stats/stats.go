// Package stats computes scan-based metadata over the partitioned
// dataset (file count, total size, row count, age buckets), plus a bare
// directory-listing index for repeated path lookups.
package stats

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	pq "github.com/parquet-go/parquet-go"

	"github.com/sqrtqiezi/diting-storage/partition"
)

// AgeBucket counts partitions falling into one retention-relevant bucket.
type AgeBucket struct {
	Label string
	Count int
}

// PartitionStats is the scan-based summary over the whole dataset.
type PartitionStats struct {
	PartitionCount int
	FileCount      int
	TotalBytes     int64
	TotalRecords   int64
	AgeBuckets     []AgeBucket

	// HumanSize is TotalBytes rendered for operator-facing reports,
	// e.g. "1.2 GB".
	HumanSize string

	// TotalUncompressedBytes sums each file's self-reported logical row-
	// group size (the decoded-page total before the page codec), read
	// from the footer alongside row counts.
	TotalUncompressedBytes int64

	// CompressionRatio is TotalUncompressedBytes / TotalBytes, 0 if
	// TotalBytes is 0.
	CompressionRatio float64
}

// ageBucketBounds are the retention-relevant cutoffs, in days, used to
// bucket partitions by age: "today", "this week", "this month", "older".
var ageBucketBounds = []struct {
	label string
	days  int
}{
	{"0-1d", 1},
	{"1-7d", 7},
	{"7-30d", 30},
}

// GetPartitionStats walks every partition under root and every
// *.parquet file within it, accumulating counts, byte sizes, and row
// counts (via the parquet file footer's row-group metadata, so it does
// not need to decode every row).
func GetPartitionStats(root string, now time.Time) (PartitionStats, error) {
	keys, err := partition.List(root)
	if err != nil {
		return PartitionStats{}, fmt.Errorf("stats: list partitions: %w", err)
	}

	var out PartitionStats
	out.PartitionCount = len(keys)
	buckets := make(map[string]int, len(ageBucketBounds)+1)

	for _, key := range keys {
		dir := key.Dir(root)
		files, err := partition.ListParquetFiles(dir)
		if err != nil {
			return PartitionStats{}, fmt.Errorf("stats: list %s: %w", dir, err)
		}
		out.FileCount += len(files)

		age := now.UTC().Sub(key.Time())
		buckets[ageBucketLabel(age)]++

		for _, f := range files {
			info, err := os.Stat(f)
			if err != nil {
				continue
			}
			out.TotalBytes += info.Size()

			rows, uncompressed, err := fileMeta(f)
			if err != nil {
				continue
			}
			out.TotalRecords += rows
			out.TotalUncompressedBytes += uncompressed
		}
	}

	for _, b := range ageBucketBounds {
		out.AgeBuckets = append(out.AgeBuckets, AgeBucket{Label: b.label, Count: buckets[b.label]})
	}
	out.AgeBuckets = append(out.AgeBuckets, AgeBucket{Label: "30d+", Count: buckets["30d+"]})

	out.HumanSize = humanize.Bytes(uint64(out.TotalBytes))
	if out.TotalBytes > 0 {
		out.CompressionRatio = float64(out.TotalUncompressedBytes) / float64(out.TotalBytes)
	}
	return out, nil
}

func ageBucketLabel(age time.Duration) string {
	days := int(age.Hours() / 24)
	for _, b := range ageBucketBounds {
		if days < b.days {
			return b.label
		}
	}
	return "30d+"
}

// fileMeta reads path's footer for its row count and the self-reported
// uncompressed size of its row groups (TotalByteSize, summed across
// groups), without decoding a single row.
func fileMeta(path string) (rows, uncompressedBytes int64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return 0, 0, err
	}
	pf, err := pq.OpenFile(f, info.Size())
	if err != nil {
		return 0, 0, err
	}
	for _, rg := range pf.Metadata().RowGroups {
		uncompressedBytes += rg.TotalByteSize
	}
	return pf.NumRows(), uncompressedBytes, nil
}

// ScanPartitions builds an in-memory PathTree of every part file under
// root, relative to root, for repeated sub-prefix listing without
// re-walking the filesystem.
func ScanPartitions(root string) (*PathTree, error) {
	keys, err := partition.List(root)
	if err != nil {
		return nil, fmt.Errorf("stats: list partitions: %w", err)
	}
	tree := NewPathTree()
	for _, key := range keys {
		dir := key.Dir(root)
		files, err := partition.ListParquetFiles(dir)
		if err != nil {
			return nil, fmt.Errorf("stats: list %s: %w", dir, err)
		}
		for _, f := range files {
			rel, err := filepath.Rel(root, f)
			if err != nil {
				return nil, err
			}
			tree.AddPath(filepath.ToSlash(rel))
		}
	}
	return tree, nil
}
