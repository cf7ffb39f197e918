// Package archive implements tier-down archival: recompressing old
// partitions with a stronger codec and moving them to a separate root,
// idempotently.
package archive

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	pq "github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress/zstd"

	"github.com/sqrtqiezi/diting-storage/partition"
	"github.com/sqrtqiezi/diting-storage/record"
)

// zstdLevel maps a nominal zstd compression level (the 1-22 scale
// operators configure, matching the zstd CLI) to the named speed/ratio
// tier the bundled zstd codec exposes. The underlying encoder does not
// take an arbitrary numeric level, only four tiers, so a configured
// level is bucketed rather than applied literally: 1-3 fastest, 4-9
// default, 10-15 better compression, 16 and above best compression; 0
// or below maps to default.
func zstdLevel(level int) zstd.Level {
	switch {
	case level <= 0:
		return zstd.SpeedDefault
	case level <= 3:
		return zstd.SpeedFastest
	case level <= 9:
		return zstd.SpeedDefault
	case level <= 15:
		return zstd.SpeedBetterCompression
	default:
		return zstd.SpeedBestCompression
	}
}

// Report summarizes one ArchivePartitions run.
type Report struct {
	ArchivedPartitions int
	SizeBeforeBytes    int64
	SizeAfterBytes     int64
	CompressionRatio   float64
}

// DefaultCompressionLevel is the nominal zstd level archival uses when
// the caller does not configure one.
const DefaultCompressionLevel = 19

// ArchivePartitions recompresses every *.parquet file of every partition
// directory strictly older than now-olderThanDays into the mirrored path
// under archiveRoot using zstd at compressionLevel (0 falls back to
// DefaultCompressionLevel), then removes the source partition directory
// only once every archived file is confirmed present. A failure
// mid-partition leaves the source intact; because destination writes
// always overwrite per-file, a subsequent run is a safe retry.
func ArchivePartitions(partitionedRoot, archiveRoot string, olderThanDays, compressionLevel int, now time.Time) (Report, error) {
	if compressionLevel <= 0 {
		compressionLevel = DefaultCompressionLevel
	}
	var report Report

	keys, err := partition.List(partitionedRoot)
	if err != nil {
		return Report{}, fmt.Errorf("archive: list partitions: %w", err)
	}

	cutoff := now.UTC().AddDate(0, 0, -olderThanDays)

	for _, key := range keys {
		if !key.Time().Before(cutoff) {
			continue
		}

		srcDir := key.Dir(partitionedRoot)
		dstDir := key.Dir(archiveRoot)

		files, err := partition.ListParquetFiles(srcDir)
		if err != nil {
			return report, fmt.Errorf("archive: list %s: %w", srcDir, err)
		}
		if len(files) == 0 {
			continue
		}

		if err := os.MkdirAll(dstDir, 0o755); err != nil {
			return report, fmt.Errorf("archive: mkdir %s: %w", dstDir, err)
		}

		var before, after int64
		ok := true
		for _, src := range files {
			srcInfo, err := os.Stat(src)
			if err != nil {
				ok = false
				break
			}
			dst := filepath.Join(dstDir, filepath.Base(src))
			rows, err := readAll(src)
			if err != nil {
				ok = false
				break
			}
			if err := writeZstd(dst, rows, compressionLevel); err != nil {
				ok = false
				break
			}
			dstInfo, err := os.Stat(dst)
			if err != nil {
				ok = false
				break
			}
			before += srcInfo.Size()
			after += dstInfo.Size()
		}
		if !ok {
			continue
		}

		if err := verifyAllPresent(dstDir, files); err != nil {
			continue
		}

		if err := os.RemoveAll(srcDir); err != nil {
			return report, fmt.Errorf("archive: remove %s: %w", srcDir, err)
		}

		report.ArchivedPartitions++
		report.SizeBeforeBytes += before
		report.SizeAfterBytes += after
	}

	report.CompressionRatio = 0
	if report.SizeAfterBytes > 0 {
		report.CompressionRatio = float64(report.SizeBeforeBytes) / float64(report.SizeAfterBytes)
	}
	return report, nil
}

func verifyAllPresent(dstDir string, srcFiles []string) error {
	for _, src := range srcFiles {
		dst := filepath.Join(dstDir, filepath.Base(src))
		info, err := os.Stat(dst)
		if err != nil || info.Size() == 0 {
			return fmt.Errorf("archive: %s missing or empty after write", dst)
		}
	}
	return nil
}

func readAll(path string) ([]record.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("archive: open %s: %w", path, err)
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
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("archive: read %s: %w", path, err)
		}
	}
	return out, nil
}

func writeZstd(path string, rows []record.Record, compressionLevel int) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("archive: create %s: %w", path, err)
	}
	defer f.Close()

	bw := bufio.NewWriterSize(f, 1<<20)
	writer := pq.NewGenericWriter[record.Record](bw,
		pq.Compression(&zstd.Codec{Level: zstdLevel(compressionLevel)}),
		pq.SortingWriterConfig(pq.SortingColumns(
			pq.Ascending("event_time"),
			pq.Ascending("record_id"),
		)),
	)
	if _, err := writer.Write(rows); err != nil {
		return fmt.Errorf("archive: write rows to %s: %w", path, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("archive: close writer for %s: %w", path, err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("archive: flush %s: %w", path, err)
	}
	return f.Sync()
}
