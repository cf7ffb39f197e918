// Package validation implements per-partition structural checks, a
// duplicate-record-id probe, and single-file schema comparison.
package validation

import (
	"errors"
	"fmt"
	"io"
	"os"

	pq "github.com/parquet-go/parquet-go"

	"github.com/sqrtqiezi/diting-storage/partition"
	"github.com/sqrtqiezi/diting-storage/record"
	"github.com/sqrtqiezi/diting-storage/schema"
)

// PartitionReport is the result of ValidatePartition.
type PartitionReport struct {
	IsValid      bool
	FileCount    int
	TotalRecords int64
	TotalBytes   int64
	Errors       []string
}

// ValidatePartition checks that dir exists, contains at least one
// parquet file, and that every file in it is non-empty, readable, and
// shares an identical physical schema with its siblings, accumulating
// one error per violation rather than stopping at the first.
func ValidatePartition(dir string) (PartitionReport, error) {
	report := PartitionReport{IsValid: true}

	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		report.IsValid = false
		report.Errors = append(report.Errors, fmt.Sprintf("partition directory does not exist: %s", dir))
		return report, nil
	}

	files, err := partition.ListParquetFiles(dir)
	if err != nil {
		return PartitionReport{}, fmt.Errorf("validation: list %s: %w", dir, err)
	}
	if len(files) == 0 {
		report.IsValid = false
		report.Errors = append(report.Errors, "no parquet files in partition")
		return report, nil
	}
	report.FileCount = len(files)

	var schemas []string
	for _, f := range files {
		fi, err := os.Stat(f)
		if err != nil {
			report.IsValid = false
			report.Errors = append(report.Errors, fmt.Sprintf("cannot stat %s: %v", f, err))
			continue
		}
		if fi.Size() == 0 {
			report.IsValid = false
			report.Errors = append(report.Errors, fmt.Sprintf("empty file: %s", f))
			continue
		}
		report.TotalBytes += fi.Size()

		rows, sig, err := decodeAndSignature(f)
		if err != nil {
			report.IsValid = false
			report.Errors = append(report.Errors, fmt.Sprintf("cannot open/decode %s: %v", f, err))
			continue
		}
		report.TotalRecords += rows
		schemas = append(schemas, sig)
	}

	for i := 1; i < len(schemas); i++ {
		if schemas[i] != schemas[0] {
			report.IsValid = false
			report.Errors = append(report.Errors, "files in partition do not share an identical schema")
			break
		}
	}

	return report, nil
}

// decodeAndSignature opens path, counts rows by fully decoding it, and
// returns a stable per-field signature string for schema-equality
// comparison across files in the same partition.
func decodeAndSignature(path string) (int64, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, "", err
	}
	defer f.Close()

	reader := pq.NewGenericReader[record.Record](f)
	defer reader.Close()

	var total int64
	buf := make([]record.Record, 256)
	for {
		n, err := reader.Read(buf)
		total += int64(n)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return 0, "", err
		}
	}

	sig, err := fileSchemaSignature(path)
	if err != nil {
		return 0, "", err
	}
	return total, sig, nil
}

// fileSchemaSignature derives a comparable (name:type) signature for a
// parquet file's physical schema.
func fileSchemaSignature(path string) (string, error) {
	fields, err := FieldsOf(path)
	if err != nil {
		return "", err
	}
	sig := ""
	for _, f := range fields {
		sig += f.Name + ":" + f.Type + ";"
	}
	return sig, nil
}

// FieldsOf reads path's physical schema and returns it as schema.Fields,
// so it can be compared against a registered or expected schema. Type
// naming favors the well-known column names of this engine's own record
// schema (event_time/ingestion_time → timestamp, is_group → int8); any
// unrecognized column falls back to its raw parquet Kind name.
func FieldsOf(path string) (schema.Fields, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	pf, err := pq.OpenFile(f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("validation: open footer of %s: %w", path, err)
	}

	var out schema.Fields
	for _, col := range pf.Schema().Fields() {
		out = append(out, schema.Field{Name: col.Name(), Type: kindToType(col.Name(), col.Type().Kind())})
	}
	return out, nil
}

func kindToType(name string, kind pq.Kind) string {
	switch name {
	case "event_time", "ingestion_time":
		return "timestamp"
	case "is_group":
		return "int8"
	}
	switch kind {
	case pq.ByteArray, pq.FixedLenByteArray:
		return "string"
	case pq.Int32:
		return "int32"
	case pq.Int64:
		return "int64"
	case pq.Boolean:
		return "bool"
	case pq.Float, pq.Double:
		return "float"
	default:
		return kind.String()
	}
}

// DuplicateRow is one entry of a detect-duplicates report.
type DuplicateRow struct {
	RecordID string
	Count    int
}

// DetectDuplicates scans every *.parquet file under root, counting
// record_id occurrences, and returns only the ids with count > 1. A
// missing or empty root is a valid empty result, not an error.
func DetectDuplicates(root string) ([]DuplicateRow, error) {
	keys, err := partition.List(root)
	if err != nil {
		return nil, fmt.Errorf("validation: list partitions: %w", err)
	}

	counts := make(map[string]int)
	for _, k := range keys {
		files, err := partition.ListParquetFiles(k.Dir(root))
		if err != nil {
			return nil, fmt.Errorf("validation: list files: %w", err)
		}
		for _, path := range files {
			if err := countRecordIDs(path, counts); err != nil {
				return nil, fmt.Errorf("validation: read %s: %w", path, err)
			}
		}
	}

	var out []DuplicateRow
	for id, c := range counts {
		if c > 1 {
			out = append(out, DuplicateRow{RecordID: id, Count: c})
		}
	}
	return out, nil
}

func countRecordIDs(path string, counts map[string]int) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	reader := pq.NewGenericReader[record.Record](f)
	defer reader.Close()

	buf := make([]record.Record, 256)
	for {
		n, err := reader.Read(buf)
		for i := 0; i < n; i++ {
			counts[buf[i].RecordID]++
		}
		if err != nil {
			break
		}
	}
	return nil
}

// SchemaReport is the result of ValidateSchema.
type SchemaReport struct {
	IsValid        bool
	MissingFields  []string
	ExtraFields    []string
	TypeMismatches []string
	Errors         []string
}

// ValidateSchema compares file's physical schema against expected.
// Extra fields are tolerated (schema evolution); missing fields or type
// mismatches fail.
func ValidateSchema(file string, expected schema.Fields) (SchemaReport, error) {
	actual, err := FieldsOf(file)
	if err != nil {
		return SchemaReport{}, fmt.Errorf("validation: read schema of %s: %w", file, err)
	}

	actualTypes := make(map[string]string, len(actual))
	for _, f := range actual {
		actualTypes[f.Name] = f.Type
	}
	expectedTypes := make(map[string]string, len(expected))
	for _, f := range expected {
		expectedTypes[f.Name] = f.Type
	}

	report := SchemaReport{IsValid: true}
	for name, wantType := range expectedTypes {
		gotType, ok := actualTypes[name]
		if !ok {
			report.IsValid = false
			report.MissingFields = append(report.MissingFields, name)
			report.Errors = append(report.Errors, fmt.Sprintf("missing field %q", name))
			continue
		}
		if gotType != wantType {
			report.IsValid = false
			report.TypeMismatches = append(report.TypeMismatches, name)
			report.Errors = append(report.Errors, fmt.Sprintf("field %q: expected %s, got %s", name, wantType, gotType))
		}
	}
	for name := range actualTypes {
		if _, ok := expectedTypes[name]; !ok {
			report.ExtraFields = append(report.ExtraFields, name)
		}
	}
	return report, nil
}
