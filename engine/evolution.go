package engine

import (
	"fmt"

	"github.com/sqrtqiezi/diting-storage/partition"
	"github.com/sqrtqiezi/diting-storage/schema"
	"github.com/sqrtqiezi/diting-storage/validation"
)

// VersionBucket groups files that share one exact physical schema.
type VersionBucket struct {
	Fields schema.Fields
	Files  []string
}

// IncompatibleFile names a file whose schema broke compatibility with
// the baseline, along with the classification.
type IncompatibleFile struct {
	File   string
	Report schema.Report
}

// EvolutionReport is the result of detectSchemaEvolution: the baseline
// schema (the first file walked), every distinct schema seen grouped
// into version buckets, and any file whose schema change relative to
// the baseline is classified as breaking.
type EvolutionReport struct {
	Baseline     schema.Fields
	Versions     []VersionBucket
	Incompatible []IncompatibleFile
}

// detectSchemaEvolution reads the schema of the first file under root as
// baseline, walks every file (the baseline's own included), groups them into version
// buckets by exact schema equality, and reports files whose schema is
// breaking-incompatible with the baseline.
func detectSchemaEvolution(root string) (EvolutionReport, error) {
	keys, err := partition.List(root)
	if err != nil {
		return EvolutionReport{}, fmt.Errorf("engine: list partitions: %w", err)
	}

	var files []string
	for _, key := range keys {
		fs, err := partition.ListParquetFiles(key.Dir(root))
		if err != nil {
			return EvolutionReport{}, fmt.Errorf("engine: list %s: %w", key.Dir(root), err)
		}
		files = append(files, fs...)
	}
	if len(files) == 0 {
		return EvolutionReport{}, nil
	}

	baseline, err := validation.FieldsOf(files[0])
	if err != nil {
		return EvolutionReport{}, fmt.Errorf("engine: read schema of %s: %w", files[0], err)
	}

	report := EvolutionReport{Baseline: baseline}
	for _, f := range files {
		fields, err := validation.FieldsOf(f)
		if err != nil {
			return EvolutionReport{}, fmt.Errorf("engine: read schema of %s: %w", f, err)
		}

		placed := false
		for i := range report.Versions {
			if schema.Equal(report.Versions[i].Fields, fields) {
				report.Versions[i].Files = append(report.Versions[i].Files, f)
				placed = true
				break
			}
		}
		if !placed {
			report.Versions = append(report.Versions, VersionBucket{Fields: fields, Files: []string{f}})
		}

		if !schema.Equal(baseline, fields) {
			cr := schema.CheckCompatibility(baseline, fields)
			if cr.CompatibilityType == "breaking" {
				report.Incompatible = append(report.Incompatible, IncompatibleFile{File: f, Report: cr})
			}
		}
	}
	return report, nil
}
