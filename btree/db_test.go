package btree

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/nyaru-labs/kv/common"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) (*DB, func()) {
	dir := fmt.Sprintf("/tmp/btree-test-%d", time.Now().UnixNano())
	db, err := Open(dir, 4, common.BytewiseComparator)
	require.NoError(t, err)
	cleanup := func() {
		db.Close()
		os.RemoveAll(dir)
	}
	return db, cleanup
}

const maxVersion = ^uint64(0)

func TestBasicPutGet(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	require.NoError(t, db.Put([]byte("key1"), []byte("value1")))

	value, err := db.Get([]byte("key1"), maxVersion)
	require.NoError(t, err)
	require.Equal(t, "value1", string(value))

	_, err = db.Get([]byte("missing"), maxVersion)
	require.ErrorIs(t, err, common.ErrKeyNotFound)
}

func TestUpdateReplacesValue(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	require.NoError(t, db.Put([]byte("key1"), []byte("v1")))
	require.NoError(t, db.Put([]byte("key1"), []byte("v2")))

	value, err := db.Get([]byte("key1"), maxVersion)
	require.NoError(t, err)
	require.Equal(t, "v2", string(value))
}

func TestDeleteMasksKey(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	require.NoError(t, db.Put([]byte("key1"), []byte("v1")))
	require.NoError(t, db.Delete([]byte("key1")))

	_, err := db.Get([]byte("key1"), maxVersion)
	require.ErrorIs(t, err, common.ErrKeyNotFound)
}

func TestWriteBatchAtomicity(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	batch := &common.WriteBatch{}
	batch.Put([]byte("a"), []byte("1"))
	batch.Put([]byte("b"), []byte("2"))
	batch.Delete([]byte("a"))
	require.NoError(t, db.Write(batch))

	_, err := db.Get([]byte("a"), maxVersion)
	require.ErrorIs(t, err, common.ErrKeyNotFound)
	value, err := db.Get([]byte("b"), maxVersion)
	require.NoError(t, err)
	require.Equal(t, "2", string(value))
}

func TestSnapshotIsolation(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	require.NoError(t, db.Put([]byte("key1"), []byte("v1")))
	snap := db.GetSnapshot()
	defer db.ReleaseSnapshot(snap)

	require.NoError(t, db.Put([]byte("key1"), []byte("v2")))

	value, err := db.Get([]byte("key1"), snap.Version())
	require.NoError(t, err)
	require.Equal(t, "v1", string(value))

	value, err = db.Get([]byte("key1"), maxVersion)
	require.NoError(t, err)
	require.Equal(t, "v2", string(value))
}

func TestRangeScanOrder(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	keys := []string{"d", "b", "e", "a", "c"}
	for _, k := range keys {
		require.NoError(t, db.Put([]byte(k), []byte("value_"+k)))
	}

	it := db.NewIterator(nil)
	defer it.Close()

	var scanned []string
	for it.SeekToFirst(); it.Valid(); it.Next() {
		scanned = append(scanned, string(it.Key()))
	}
	require.Equal(t, []string{"a", "b", "c", "d", "e"}, scanned)
}

func TestReverseRangeScan(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, db.Put([]byte(k), []byte("v_"+k)))
	}

	it := db.NewIterator(nil)
	defer it.Close()

	var scanned []string
	for it.SeekToLast(); it.Valid(); it.Prev() {
		scanned = append(scanned, string(it.Key()))
	}
	require.Equal(t, []string{"c", "b", "a"}, scanned)
}

func TestManyInsertsForceSplits(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	numKeys := 500
	for i := 0; i < numKeys; i++ {
		key := fmt.Sprintf("key%05d", i)
		require.NoError(t, db.Put([]byte(key), []byte(fmt.Sprintf("value%05d", i))))
	}

	for i := 0; i < numKeys; i++ {
		key := fmt.Sprintf("key%05d", i)
		value, err := db.Get([]byte(key), maxVersion)
		require.NoError(t, err, "key %s", key)
		require.Equal(t, fmt.Sprintf("value%05d", i), string(value))
	}

	it := db.NewIterator(nil)
	defer it.Close()
	count := 0
	for it.SeekToFirst(); it.Valid(); it.Next() {
		count++
	}
	require.Equal(t, numKeys, count)
}

func TestCrashRecoveryReplaysCommittedWrites(t *testing.T) {
	dir := fmt.Sprintf("/tmp/btree-recovery-%d", time.Now().UnixNano())
	defer os.RemoveAll(dir)

	db, err := Open(dir, 4, common.BytewiseComparator)
	require.NoError(t, err)

	testData := map[string]string{"key1": "value1", "key2": "value2", "key3": "value3"}
	for k, v := range testData {
		require.NoError(t, db.Put([]byte(k), []byte(v)))
	}
	require.NoError(t, db.Sync())
	require.NoError(t, db.Close())

	db2, err := Open(dir, 4, common.BytewiseComparator)
	require.NoError(t, err)
	defer db2.Close()

	for k, expected := range testData {
		value, err := db2.Get([]byte(k), maxVersion)
		require.NoError(t, err, "key %s not recovered", k)
		require.Equal(t, expected, string(value))
	}
}
