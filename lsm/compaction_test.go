package lsm

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nyaru-labs/kv/common"
)

func buildInputTable(t *testing.T, dir string, icmp common.InternalComparator, fileNum uint64, entries [][2]interface{}) *Table {
	path := tablePath(dir, 0, fileNum)
	b, err := NewTableBuilder(path, len(entries))
	require.NoError(t, err)
	for _, e := range entries {
		ik := e[0].([]byte)
		value := e[1].([]byte)
		require.NoError(t, b.Add(ik, value))
	}
	require.NoError(t, b.Finish())
	tbl, err := OpenTable(path, 0, fileNum, icmp)
	require.NoError(t, err)
	return tbl
}

func ik(userKey string, version uint64, flag byte) []byte {
	return common.InternalKey([]byte(userKey), common.PackTag(version, flag))
}

// TestCompactTablesCollapsesSupersededVersions verifies spec.md §4.13's
// "drop entries with version < oldest live snapshot and not the newest
// version of that user_key" rule: at the terminal level, every
// historical version of a repeatedly-written key below the GC watermark
// must collapse to just its newest surviving entry, not accumulate.
func TestCompactTablesCollapsesSupersededVersions(t *testing.T) {
	dir := t.TempDir()
	icmp := common.InternalComparator{UserCmp: common.BytewiseComparator}

	entries := [][2]interface{}{
		{ik("a", 30, common.FlagValue), []byte("a-v30")},
		{ik("a", 20, common.FlagValue), []byte("a-v20")},
		{ik("a", 10, common.FlagValue), []byte("a-v10")},
		{ik("b", 15, common.FlagValue), []byte("b-v15")},
	}
	input := buildInputTable(t, dir, icmp, 1, entries)

	var nextFileNum uint64 = 2
	outputs, err := compactTables(dir, icmp, []*Table{input}, maxLevel, 100 /* gcWatermark: everything below is stable */, &nextFileNum)
	require.NoError(t, err)
	require.Len(t, outputs, 1)

	it := outputs[0].NewTableIterator()
	defer it.Close()
	it.SeekToFirst()

	var got []string
	for it.Valid() {
		userKey, tag := common.SplitInternalKey(it.Key())
		got = append(got, fmt.Sprintf("%s@%d", userKey, tag.Version()))
		it.Next()
	}

	require.Equal(t, []string{"a@30", "b@15"}, got, "only the newest version of each key should survive")
}

// TestCompactTablesDropsSupersededTombstoneTogetherWithOlderValue checks
// that when the newest version of a key is a tombstone below the GC
// watermark, both the tombstone and any older superseded value for that
// key are dropped, since every live reader already observes the key as
// deleted and there is nothing left for a future read to fall through
// to.
func TestCompactTablesDropsSupersededTombstoneTogetherWithOlderValue(t *testing.T) {
	dir := t.TempDir()
	icmp := common.InternalComparator{UserCmp: common.BytewiseComparator}

	entries := [][2]interface{}{
		{ik("a", 20, common.FlagDeletion), nil},
		{ik("a", 10, common.FlagValue), []byte("a-v10")},
	}
	input := buildInputTable(t, dir, icmp, 1, entries)

	var nextFileNum uint64 = 2
	outputs, err := compactTables(dir, icmp, []*Table{input}, maxLevel, 100, &nextFileNum)
	require.NoError(t, err)
	require.Empty(t, outputs, "a fully-GC'd key should produce no output table at all")
}

// TestCompactTablesKeepsVersionsAboveWatermark ensures a version still
// needed by an open snapshot (version > gcWatermark) is never collapsed
// away, even when an older version of the same key exists below it.
func TestCompactTablesKeepsVersionsAboveWatermark(t *testing.T) {
	dir := t.TempDir()
	icmp := common.InternalComparator{UserCmp: common.BytewiseComparator}

	entries := [][2]interface{}{
		{ik("a", 30, common.FlagValue), []byte("a-v30")},
		{ik("a", 20, common.FlagValue), []byte("a-v20")},
	}
	input := buildInputTable(t, dir, icmp, 1, entries)

	var nextFileNum uint64 = 2
	// watermark sits strictly between the two versions: a@20 is below
	// it and superseded, so it's GC'd; a@30 is above it and kept.
	outputs, err := compactTables(dir, icmp, []*Table{input}, maxLevel, 25, &nextFileNum)
	require.NoError(t, err)
	require.Len(t, outputs, 1)

	it := outputs[0].NewTableIterator()
	defer it.Close()
	it.SeekToFirst()

	var got []string
	for it.Valid() {
		userKey, tag := common.SplitInternalKey(it.Key())
		got = append(got, fmt.Sprintf("%s@%d", userKey, tag.Version()))
		it.Next()
	}
	require.Equal(t, []string{"a@30"}, got, "a@20 is superseded by a@30 and below the watermark, so it is dropped regardless")
}
