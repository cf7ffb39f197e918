// Package partition implements the pure partition-key functions: mapping
// a record's event_time to a (year, month, day) directory, and the
// stable "year=YYYY/month=MM/day=DD" wire format.
package partition

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sqrtqiezi/diting-storage/record"
)

// Key identifies one partition.
type Key struct {
	Year  int
	Month int
	Day   int
}

// Of derives the UTC calendar date partition key from a record's
// event_time (seconds since epoch).
func Of(eventTimeUnixSeconds int64) Key {
	t := time.Unix(eventTimeUnixSeconds, 0).UTC()
	return Key{Year: t.Year(), Month: int(t.Month()), Day: t.Day()}
}

// String renders the "YYYY-MM-DD" key form, e.g. "2026-01-23".
func (k Key) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", k.Year, k.Month, k.Day)
}

// Dir renders the on-disk directory form under root:
// root/year=YYYY/month=MM/day=DD.
func (k Key) Dir(root string) string {
	return filepath.Join(root,
		fmt.Sprintf("year=%04d", k.Year),
		fmt.Sprintf("month=%02d", k.Month),
		fmt.Sprintf("day=%02d", k.Day),
	)
}

// Time returns midnight UTC of the partition's calendar date.
func (k Key) Time() time.Time {
	return time.Date(k.Year, time.Month(k.Month), k.Day, 0, 0, 0, 0, time.UTC)
}

// Before reports whether k's calendar date precedes other's.
func (k Key) Before(other Key) bool {
	return k.Time().Before(other.Time())
}

// After reports whether k's calendar date is strictly after other's.
func (k Key) After(other Key) bool {
	return k.Time().After(other.Time())
}

// ParseKey parses the "YYYY-MM-DD" form, validating 1<=month<=12 and
// 1<=day<=31. It does not validate day-of-month combinations (e.g.
// "2026-02-30" parses; callers needing calendar validity should compare
// against time.Date's normalization).
func ParseKey(s string) (Key, error) {
	parts := strings.Split(s, "-")
	if len(parts) != 3 {
		return Key{}, fmt.Errorf("partition: invalid key %q: expected YYYY-MM-DD", s)
	}
	year, err := strconv.Atoi(parts[0])
	if err != nil || len(parts[0]) != 4 {
		return Key{}, fmt.Errorf("partition: invalid year in %q", s)
	}
	month, err := strconv.Atoi(parts[1])
	if err != nil || month < 1 || month > 12 {
		return Key{}, fmt.Errorf("partition: invalid month in %q", s)
	}
	day, err := strconv.Atoi(parts[2])
	if err != nil || day < 1 || day > 31 {
		return Key{}, fmt.Errorf("partition: invalid day in %q", s)
	}
	return Key{Year: year, Month: month, Day: day}, nil
}

// ParseDir parses a "year=YYYY/month=MM/day=DD" relative path (or a full
// path ending in one) back into a Key.
func ParseDir(dir string) (Key, error) {
	dir = filepath.ToSlash(dir)
	segs := strings.Split(dir, "/")
	if len(segs) < 3 {
		return Key{}, fmt.Errorf("partition: invalid directory %q", dir)
	}
	segs = segs[len(segs)-3:]
	var year, month, day int
	var err error
	if year, err = extractSeg(segs[0], "year="); err != nil {
		return Key{}, err
	}
	if month, err = extractSeg(segs[1], "month="); err != nil {
		return Key{}, err
	}
	if day, err = extractSeg(segs[2], "day="); err != nil {
		return Key{}, err
	}
	return Key{Year: year, Month: month, Day: day}, nil
}

func extractSeg(seg, prefix string) (int, error) {
	if !strings.HasPrefix(seg, prefix) {
		return 0, fmt.Errorf("partition: expected segment prefixed %q, got %q", prefix, seg)
	}
	return strconv.Atoi(strings.TrimPrefix(seg, prefix))
}

// GroupResult is the outcome of grouping records by partition.
type GroupResult struct {
	Groups  map[Key][]record.Record
	Skipped int
}

// GroupByPartition groups surviving records by the partition derived from
// event_time, skipping (and counting) any whose event_time is non-positive
// — defensive, since Clean should already have filtered these out.
func GroupByPartition(records []record.Record) GroupResult {
	res := GroupResult{Groups: make(map[Key][]record.Record)}
	for _, r := range records {
		if r.EventTime <= 0 {
			res.Skipped++
			continue
		}
		key := Of(r.EventTime)
		res.Groups[key] = append(res.Groups[key], r)
	}
	return res
}
