// Package schema implements the schema registry: named, monotonically
// versioned field sets with a compatibility classifier, plus the pure
// schema-merge/evolution helpers used to reconcile drift across files.
package schema

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	json "github.com/goccy/go-json"

	"github.com/sqrtqiezi/diting-storage/atomicio"
	"github.com/sqrtqiezi/diting-storage/filelock"
)

// Field is one column of a schema.
type Field struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Fields is an ordered list of Field; order is not significant for
// Equal or CheckCompatibility.
type Fields []Field

func (fs Fields) byName() map[string]string {
	m := make(map[string]string, len(fs))
	for _, f := range fs {
		m[f.Name] = f.Type
	}
	return m
}

// Version is one registered version of a named schema.
type Version struct {
	Version      int       `json:"version"`
	Fields       Fields    `json:"fields"`
	Note         string    `json:"note,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
}

// VersionInfo is the summary returned by ListVersions, omitting the
// field list (callers that need it call Get for a specific version).
type VersionInfo struct {
	Version      int       `json:"version"`
	Note         string    `json:"note,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
}

// document is the whole persisted registry: name -> ordered versions.
type document struct {
	Schemas map[string][]Version `json:"schemas"`
}

// Registry is a handle bound to one persistent JSON document — an
// explicit constructed handle, not a global cache, so multiple
// independently-configured registries can coexist in one process.
type Registry struct {
	path         string
	lockTimeout  time.Duration
	pollInterval time.Duration
}

// New binds a Registry to the document at path.
func New(path string) *Registry {
	return &Registry{path: path, lockTimeout: 10 * time.Second, pollInterval: 20 * time.Millisecond}
}

func (r *Registry) load() (document, error) {
	data, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		return document{Schemas: map[string][]Version{}}, nil
	}
	if err != nil {
		return document{}, fmt.Errorf("schema: read %s: %w", r.path, err)
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return document{}, fmt.Errorf("schema: decode %s: %w", r.path, err)
	}
	if doc.Schemas == nil {
		doc.Schemas = map[string][]Version{}
	}
	return doc, nil
}

func (r *Registry) save(doc document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("schema: marshal: %w", err)
	}
	return atomicio.WriteFile(r.path, data, 0o644)
}

// Register appends a new version (version = latest+1, or 1 if none) and
// returns it. It does not itself block breaking changes — callers that
// care check IsCompatible first and decide whether to proceed.
func (r *Registry) Register(ctx context.Context, name string, fields Fields, note string) (int, error) {
	var newVersion int
	lockPath := filelock.LockPathFor(r.path)
	err := filelock.WithLock(ctx, lockPath, r.lockTimeout, r.pollInterval, func() error {
		doc, err := r.load()
		if err != nil {
			return err
		}
		versions := doc.Schemas[name]
		newVersion = 1
		if len(versions) > 0 {
			newVersion = versions[len(versions)-1].Version + 1
		}
		doc.Schemas[name] = append(versions, Version{
			Version:      newVersion,
			Fields:       fields,
			Note:         note,
			RegisteredAt: time.Now().UTC(),
		})
		return r.save(doc)
	})
	return newVersion, err
}

// Get returns the schema fields for name at version, or the latest if
// version is 0. Returns (nil, nil) if unregistered.
func (r *Registry) Get(name string, version int) (Fields, error) {
	doc, err := r.load()
	if err != nil {
		return nil, err
	}
	versions := doc.Schemas[name]
	if len(versions) == 0 {
		return nil, nil
	}
	if version == 0 {
		return versions[len(versions)-1].Fields, nil
	}
	for _, v := range versions {
		if v.Version == version {
			return v.Fields, nil
		}
	}
	return nil, nil
}

// ListVersions returns version metadata for name, oldest first.
func (r *Registry) ListVersions(name string) ([]VersionInfo, error) {
	doc, err := r.load()
	if err != nil {
		return nil, err
	}
	versions := doc.Schemas[name]
	out := make([]VersionInfo, 0, len(versions))
	for _, v := range versions {
		out = append(out, VersionInfo{Version: v.Version, Note: v.Note, RegisteredAt: v.RegisteredAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// Report is the result of a compatibility check, whether run against a
// registered version (IsCompatible) or as a pure comparison between two
// field sets (CheckCompatibility).
type Report struct {
	IsCompatible      bool     `json:"is_compatible"`
	CompatibilityType string   `json:"compatibility_type"` // full|backward|breaking
	AddedFields       []string `json:"added_fields,omitempty"`
	RemovedFields     []string `json:"removed_fields,omitempty"`
	ChangedFields     []string `json:"changed_fields,omitempty"`
}

// IsCompatible compares candidate against name's latest registered
// schema. An unregistered name is trivially compatible.
func (r *Registry) IsCompatible(name string, candidate Fields) (Report, error) {
	latest, err := r.Get(name, 0)
	if err != nil {
		return Report{}, err
	}
	if latest == nil {
		return Report{IsCompatible: true, CompatibilityType: "full"}, nil
	}
	return CheckCompatibility(latest, candidate), nil
}

// CheckCompatibility classifies the change from old to new as full (no
// change), backward (fields only added), or breaking (fields removed or
// retyped), and is safe to call without a registered schema on either side.
func CheckCompatibility(old, new Fields) Report {
	oldTypes := old.byName()
	newTypes := new.byName()

	var added, removed, changed []string
	for name, t := range newTypes {
		if _, ok := oldTypes[name]; !ok {
			added = append(added, name)
		} else if oldTypes[name] != t {
			changed = append(changed, name)
		}
	}
	for name := range oldTypes {
		if _, ok := newTypes[name]; !ok {
			removed = append(removed, name)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	sort.Strings(changed)

	compatType := "full"
	switch {
	case len(removed) > 0 || len(changed) > 0:
		compatType = "breaking"
	case len(added) > 0:
		compatType = "backward"
	}

	return Report{
		IsCompatible:      compatType != "breaking",
		CompatibilityType: compatType,
		AddedFields:       added,
		RemovedFields:     removed,
		ChangedFields:     changed,
	}
}

// MergeSchemas returns the union of fields by name across schemas; on a
// type disagreement for the same field name, the merged type widens to
// "string" so callers reading across divergent files never fail to decode.
func MergeSchemas(schemas []Fields) (Fields, error) {
	if len(schemas) == 0 {
		return nil, fmt.Errorf("schema: merge requires at least one schema")
	}
	order := []string{}
	types := map[string]string{}
	seen := map[string]bool{}
	for _, s := range schemas {
		for _, f := range s {
			if !seen[f.Name] {
				seen[f.Name] = true
				order = append(order, f.Name)
				types[f.Name] = f.Type
				continue
			}
			if types[f.Name] != f.Type {
				types[f.Name] = "string"
			}
		}
	}
	out := make(Fields, 0, len(order))
	for _, name := range order {
		out = append(out, Field{Name: name, Type: types[name]})
	}
	return out, nil
}

// Equal reports whether two field sets are identical by name and type,
// ignoring order — used to bucket files by schema when detecting schema
// evolution.
func Equal(a, b Fields) bool {
	if len(a) != len(b) {
		return false
	}
	am, bm := a.byName(), b.byName()
	for name, t := range am {
		if bm[name] != t {
			return false
		}
	}
	return true
}
