package partition

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOfAndDir(t *testing.T) {
	// 2025-01-23 00:00:00 UTC and 23:59:59 UTC both land on the same day.
	k1 := Of(1737590400)
	assert.Equal(t, Key{2025, 1, 23}, k1)

	k2 := Of(1737676799)
	assert.Equal(t, Key{2025, 1, 23}, k2)

	assert.Equal(t, filepath.Join("root", "year=2025", "month=01", "day=23"), k1.Dir("root"))
}

func TestCrossDayBoundary(t *testing.T) {
	k := Of(1737676800) // next day 00:00:00 UTC
	assert.Equal(t, Key{2025, 1, 24}, k)
}

func TestParseKeyRoundTrip(t *testing.T) {
	for _, k := range []Key{{2026, 1, 1}, {1999, 12, 31}, {2000, 2, 29}} {
		parsed, err := ParseKey(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, parsed)
	}
}

func TestParseKeyRejectsBadInput(t *testing.T) {
	for _, s := range []string{"", "2026-13-01", "2026-00-10", "2026-01-32", "not-a-date"} {
		_, err := ParseKey(s)
		assert.Error(t, err, s)
	}
}

func TestParseDirRoundTrip(t *testing.T) {
	k := Key{2026, 3, 5}
	parsed, err := ParseDir(k.Dir("/data/partitioned"))
	require.NoError(t, err)
	assert.Equal(t, k, parsed)
}

func TestListFindsPartitionsInRange(t *testing.T) {
	root := t.TempDir()
	for _, k := range []Key{{2026, 1, 1}, {2026, 1, 2}, {2026, 2, 1}} {
		require.NoError(t, os.MkdirAll(k.Dir(root), 0o755))
	}

	keys, err := List(root)
	require.NoError(t, err)
	require.Len(t, keys, 3)

	ranged, err := ListInRange(root, Key{2026, 1, 1}, Key{2026, 1, 31})
	require.NoError(t, err)
	assert.Equal(t, []Key{{2026, 1, 1}, {2026, 1, 2}}, ranged)
}

func TestListOnMissingRootIsEmptyNotError(t *testing.T) {
	keys, err := List(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestNextPartFileNameNeverOverwrites(t *testing.T) {
	dir := t.TempDir()
	name, err := NextPartFileName(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "part-0.parquet"), name)

	require.NoError(t, os.WriteFile(name, []byte("x"), 0o644))
	name2, err := NextPartFileName(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "part-1.parquet"), name2)
}
