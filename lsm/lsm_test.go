package lsm

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func setupTestLSM(t *testing.T) (*LSM, func()) {
	dir := fmt.Sprintf("/tmp/lsm-test-%d", time.Now().UnixNano())
	config := DefaultConfig(dir)
	config.MemTableSize = 1024 // small memtable to exercise flush/compaction

	l, err := Open(config)
	require.NoError(t, err)

	cleanup := func() {
		l.Close()
		os.RemoveAll(dir)
	}
	return l, cleanup
}

const maxVersion = ^uint64(0)

func TestBasicOperations(t *testing.T) {
	l, cleanup := setupTestLSM(t)
	defer cleanup()

	require.NoError(t, l.Put([]byte("key1"), []byte("value1")))

	value, _, found, err := l.Get([]byte("key1"), maxVersion)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "value1", string(value))

	_, _, found, err = l.Get([]byte("nonexistent"), maxVersion)
	require.NoError(t, err)
	require.False(t, found)
}

func TestDelete(t *testing.T) {
	l, cleanup := setupTestLSM(t)
	defer cleanup()

	require.NoError(t, l.Put([]byte("key1"), []byte("value1")))
	_, _, found, err := l.Get([]byte("key1"), maxVersion)
	require.NoError(t, err)
	require.True(t, found)

	require.NoError(t, l.Delete([]byte("key1")))
	_, _, found, err = l.Get([]byte("key1"), maxVersion)
	require.NoError(t, err)
	require.False(t, found)
}

func TestUpdate(t *testing.T) {
	l, cleanup := setupTestLSM(t)
	defer cleanup()

	require.NoError(t, l.Put([]byte("key1"), []byte("value1")))
	require.NoError(t, l.Put([]byte("key1"), []byte("value2")))

	value, _, found, err := l.Get([]byte("key1"), maxVersion)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "value2", string(value))
}

func TestMemtableFlush(t *testing.T) {
	l, cleanup := setupTestLSM(t)
	defer cleanup()

	for i := 0; i < 100; i++ {
		key := fmt.Sprintf("key%04d", i)
		value := []byte(fmt.Sprintf("value%04d", i))
		require.NoError(t, l.Put([]byte(key), value))
	}

	time.Sleep(100 * time.Millisecond)

	for i := 0; i < 100; i++ {
		key := fmt.Sprintf("key%04d", i)
		expected := fmt.Sprintf("value%04d", i)
		value, _, found, err := l.Get([]byte(key), maxVersion)
		require.NoError(t, err)
		require.True(t, found, "key %s", key)
		require.Equal(t, expected, string(value))
	}

	numL0Files := l.levels.NumFiles(0)
	require.NotZero(t, numL0Files, "expected L0 files after flush")
	t.Logf("L0 has %d files", numL0Files)
}

func TestL0Compaction(t *testing.T) {
	l, cleanup := setupTestLSM(t)
	defer cleanup()

	for i := 0; i < 500; i++ {
		key := fmt.Sprintf("key%04d", i)
		value := []byte(fmt.Sprintf("value%04d", i))
		require.NoError(t, l.Put([]byte(key), value))
	}

	time.Sleep(500 * time.Millisecond)

	for i := 0; i < 500; i++ {
		key := fmt.Sprintf("key%04d", i)
		expected := fmt.Sprintf("value%04d", i)
		value, _, found, err := l.Get([]byte(key), maxVersion)
		require.NoError(t, err)
		require.True(t, found, "key %s", key)
		require.Equal(t, expected, string(value))
	}

	t.Logf("L0 files: %d", l.levels.NumFiles(0))
	t.Logf("L1 files: %d", l.levels.NumFiles(1))
	t.Logf("L2 files: %d", l.levels.NumFiles(2))
}

func TestRangeScan(t *testing.T) {
	l, cleanup := setupTestLSM(t)
	defer cleanup()

	keys := []string{"a", "b", "c", "d", "e"}
	for _, key := range keys {
		require.NoError(t, l.Put([]byte(key), []byte("value_"+key)))
	}

	it := l.NewIterator(nil)
	defer it.Close()

	var scanned []string
	for it.SeekToFirst(); it.Valid(); it.Next() {
		scanned = append(scanned, string(it.Key()))
	}
	require.NoError(t, it.Error())
	require.Equal(t, keys, scanned)
}

func TestReverseRangeScan(t *testing.T) {
	l, cleanup := setupTestLSM(t)
	defer cleanup()

	keys := []string{"a", "b", "c", "d", "e"}
	for _, key := range keys {
		require.NoError(t, l.Put([]byte(key), []byte("value_"+key)))
	}

	it := l.NewIterator(nil)
	defer it.Close()

	var scanned []string
	for it.SeekToLast(); it.Valid(); it.Prev() {
		scanned = append(scanned, string(it.Key()))
	}
	require.Equal(t, []string{"e", "d", "c", "b", "a"}, scanned)
}

func TestTombstones(t *testing.T) {
	l, cleanup := setupTestLSM(t)
	defer cleanup()

	for i := 0; i < 10; i++ {
		key := fmt.Sprintf("key%04d", i)
		require.NoError(t, l.Put([]byte(key), []byte("value")))
	}
	for i := 0; i < 10; i += 2 {
		key := fmt.Sprintf("key%04d", i)
		require.NoError(t, l.Delete([]byte(key)))
	}

	for i := 0; i < 10; i++ {
		key := fmt.Sprintf("key%04d", i)
		_, _, found, err := l.Get([]byte(key), maxVersion)
		require.NoError(t, err)
		if i%2 == 0 {
			require.False(t, found, "key %s should be deleted", key)
		} else {
			require.True(t, found, "key %s should exist", key)
		}
	}
}

func TestSnapshotIsolation(t *testing.T) {
	l, cleanup := setupTestLSM(t)
	defer cleanup()

	require.NoError(t, l.Put([]byte("key1"), []byte("v1")))
	snap := l.GetSnapshot()
	defer l.ReleaseSnapshot(snap)

	require.NoError(t, l.Put([]byte("key1"), []byte("v2")))

	value, _, found, err := l.Get([]byte("key1"), snap.Version())
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "v1", string(value))

	value, _, found, err = l.Get([]byte("key1"), maxVersion)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "v2", string(value))
}

func TestConcurrentWrites(t *testing.T) {
	l, cleanup := setupTestLSM(t)
	defer cleanup()

	done := make(chan bool)
	for g := 0; g < 10; g++ {
		go func(id int) {
			for i := 0; i < 50; i++ {
				key := fmt.Sprintf("key%02d%04d", id, i)
				value := []byte(fmt.Sprintf("value%d", i))
				if err := l.Put([]byte(key), value); err != nil {
					t.Errorf("Put failed: %v", err)
				}
			}
			done <- true
		}(g)
	}
	for g := 0; g < 10; g++ {
		<-done
	}

	time.Sleep(200 * time.Millisecond)

	for g := 0; g < 10; g++ {
		for i := 0; i < 50; i++ {
			key := fmt.Sprintf("key%02d%04d", g, i)
			expected := fmt.Sprintf("value%d", i)
			value, _, found, err := l.Get([]byte(key), maxVersion)
			require.NoError(t, err)
			require.True(t, found, "key %s", key)
			require.Equal(t, expected, string(value))
		}
	}
	t.Logf("Successfully wrote and verified %d keys", 10*50)
}
