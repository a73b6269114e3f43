package btree

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/nyaru-labs/kv/common"
	"github.com/stretchr/testify/require"
)

func setupTestAdapter(t *testing.T) (*Adapter, func()) {
	dir := fmt.Sprintf("/tmp/btree-adapter-test-%d", time.Now().UnixNano())
	a, err := NewAdapter(dir, 4, common.BytewiseComparator)
	require.NoError(t, err)
	cleanup := func() {
		a.Close()
		os.RemoveAll(dir)
	}
	return a, cleanup
}

func TestAdapterImplementsStorageEngine(t *testing.T) {
	a, cleanup := setupTestAdapter(t)
	defer cleanup()

	require.NoError(t, a.Put([]byte("key1"), []byte("value1")))

	value, err := a.Get([]byte("key1"))
	require.NoError(t, err)
	require.Equal(t, "value1", string(value))

	_, err = a.Get([]byte("missing"))
	require.ErrorIs(t, err, common.ErrKeyNotFound)

	require.NoError(t, a.Delete([]byte("key1")))
	_, err = a.Get([]byte("key1"))
	require.ErrorIs(t, err, common.ErrKeyNotFound)
}

func TestAdapterSnapshotAndIterator(t *testing.T) {
	a, cleanup := setupTestAdapter(t)
	defer cleanup()

	require.NoError(t, a.Put([]byte("a"), []byte("1")))
	snap := a.GetSnapshot()
	require.NoError(t, a.Put([]byte("b"), []byte("2")))

	it := a.NewIterator(snap)
	defer it.Close()
	var keys []string
	for it.SeekToFirst(); it.Valid(); it.Next() {
		keys = append(keys, string(it.Key()))
	}
	require.Equal(t, []string{"a"}, keys)
	a.ReleaseSnapshot(snap)

	it2 := a.NewIterator(nil)
	defer it2.Close()
	keys = nil
	for it2.SeekToFirst(); it2.Valid(); it2.Next() {
		keys = append(keys, string(it2.Key()))
	}
	require.Equal(t, []string{"a", "b"}, keys)
}

func TestAdapterStatsTracksWrites(t *testing.T) {
	a, cleanup := setupTestAdapter(t)
	defer cleanup()

	for i := 0; i < 50; i++ {
		require.NoError(t, a.Put([]byte(fmt.Sprintf("key%03d", i)), []byte("some-value-payload")))
	}
	require.NoError(t, a.Sync())

	stats := a.Stats()
	require.Equal(t, int64(50), stats.WriteCount)
	require.Equal(t, 1, stats.NumSegments)
	require.GreaterOrEqual(t, stats.WriteAmp, 1.0)
	require.NoError(t, a.BackgroundError())
	require.NoError(t, a.Compact())
}
