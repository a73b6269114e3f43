package lsm

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCrashRecovery(t *testing.T) {
	dir := fmt.Sprintf("/tmp/lsm-crash-test-%d", time.Now().UnixNano())
	defer os.RemoveAll(dir)

	config := DefaultConfig(dir)
	l, err := Open(config)
	require.NoError(t, err)

	testData := map[string]string{
		"key1": "value1",
		"key2": "value2",
		"key3": "value3",
	}
	for key, value := range testData {
		require.NoError(t, l.Put([]byte(key), []byte(value)))
	}

	require.NoError(t, l.Sync())
	require.NoError(t, l.Close())

	l2, err := Open(config)
	require.NoError(t, err)
	defer l2.Close()

	for key, expected := range testData {
		value, _, found, err := l2.Get([]byte(key), maxVersion)
		require.NoError(t, err)
		require.True(t, found, "key %s not found after recovery", key)
		require.Equal(t, expected, string(value))
	}
	t.Log("Crash recovery successful")
}

func TestCompactionPreservesData(t *testing.T) {
	dir := fmt.Sprintf("/tmp/lsm-compaction-test-%d", time.Now().UnixNano())
	defer os.RemoveAll(dir)

	config := DefaultConfig(dir)
	config.MemTableSize = 512
	l, err := Open(config)
	require.NoError(t, err)
	defer l.Close()

	numKeys := 1000
	testData := make(map[string]string, numKeys)
	for i := 0; i < numKeys; i++ {
		key := fmt.Sprintf("key%05d", i)
		value := fmt.Sprintf("value%05d", i)
		testData[key] = value
		require.NoError(t, l.Put([]byte(key), []byte(value)))
	}

	time.Sleep(1 * time.Second)

	for key, expected := range testData {
		value, _, found, err := l.Get([]byte(key), maxVersion)
		require.NoError(t, err)
		require.True(t, found, "key %s not found after compaction", key)
		require.Equal(t, expected, string(value))
	}

	t.Logf("After compaction: L0=%d L1=%d L2=%d",
		l.levels.NumFiles(0), l.levels.NumFiles(1), l.levels.NumFiles(2))
}

func TestBloomFilterEffectiveness(t *testing.T) {
	dir := fmt.Sprintf("/tmp/lsm-bloom-test-%d", time.Now().UnixNano())
	defer os.RemoveAll(dir)

	config := DefaultConfig(dir)
	config.MemTableSize = 512
	l, err := Open(config)
	require.NoError(t, err)
	defer l.Close()

	for i := 0; i < 100; i++ {
		key := fmt.Sprintf("key%05d", i)
		value := []byte(fmt.Sprintf("value%05d", i))
		require.NoError(t, l.Put([]byte(key), value))
	}

	time.Sleep(200 * time.Millisecond)

	misses := 0
	for i := 100; i < 200; i++ {
		key := fmt.Sprintf("key%05d", i)
		_, _, found, err := l.Get([]byte(key), maxVersion)
		require.NoError(t, err)
		if !found {
			misses++
		}
	}
	require.Equal(t, 100, misses)
}

func TestUpdatesDuringCompaction(t *testing.T) {
	dir := fmt.Sprintf("/tmp/lsm-update-test-%d", time.Now().UnixNano())
	defer os.RemoveAll(dir)

	config := DefaultConfig(dir)
	config.MemTableSize = 512
	l, err := Open(config)
	require.NoError(t, err)
	defer l.Close()

	for i := 0; i < 100; i++ {
		key := fmt.Sprintf("key%04d", i)
		value := []byte(fmt.Sprintf("v1-%04d", i))
		require.NoError(t, l.Put([]byte(key), value))
	}
	time.Sleep(100 * time.Millisecond)

	for i := 0; i < 100; i++ {
		key := fmt.Sprintf("key%04d", i)
		value := []byte(fmt.Sprintf("v2-%04d", i))
		require.NoError(t, l.Put([]byte(key), value))
	}
	time.Sleep(300 * time.Millisecond)

	for i := 0; i < 100; i++ {
		key := fmt.Sprintf("key%04d", i)
		expected := fmt.Sprintf("v2-%04d", i)
		value, _, found, err := l.Get([]byte(key), maxVersion)
		require.NoError(t, err)
		require.True(t, found, "key %s", key)
		require.Equal(t, expected, string(value))
	}
}

func TestPersistenceAcrossRestart(t *testing.T) {
	dir := fmt.Sprintf("/tmp/lsm-persist-test-%d", time.Now().UnixNano())
	defer os.RemoveAll(dir)

	config := DefaultConfig(dir)
	config.MemTableSize = 512

	l1, err := Open(config)
	require.NoError(t, err)

	for i := 0; i < 200; i++ {
		key := fmt.Sprintf("key%04d", i)
		value := []byte(fmt.Sprintf("value%04d", i))
		require.NoError(t, l1.Put([]byte(key), value))
	}
	time.Sleep(300 * time.Millisecond)
	require.NoError(t, l1.Close())

	l2, err := Open(config)
	require.NoError(t, err)
	defer l2.Close()

	for i := 0; i < 200; i++ {
		key := fmt.Sprintf("key%04d", i)
		expected := fmt.Sprintf("value%04d", i)
		value, _, found, err := l2.Get([]byte(key), maxVersion)
		require.NoError(t, err)
		require.True(t, found, "key %s not found after restart", key)
		require.Equal(t, expected, string(value))
	}

	t.Logf("After restart: L0=%d L1=%d L2=%d",
		l2.levels.NumFiles(0), l2.levels.NumFiles(1), l2.levels.NumFiles(2))
}

func TestGCWatermarkRetainsTombstoneForOpenSnapshot(t *testing.T) {
	dir := fmt.Sprintf("/tmp/lsm-gc-test-%d", time.Now().UnixNano())
	defer os.RemoveAll(dir)

	config := DefaultConfig(dir)
	config.MemTableSize = 256
	l, err := Open(config)
	require.NoError(t, err)
	defer l.Close()

	require.NoError(t, l.Put([]byte("key1"), []byte("value1")))
	snap := l.GetSnapshot()
	defer l.ReleaseSnapshot(snap)

	require.NoError(t, l.Delete([]byte("key1")))
	for i := 0; i < 50; i++ {
		key := fmt.Sprintf("filler%04d", i)
		require.NoError(t, l.Put([]byte(key), []byte("x")))
	}
	time.Sleep(300 * time.Millisecond)
	require.NoError(t, l.Compact())

	value, _, found, err := l.Get([]byte("key1"), snap.Version())
	require.NoError(t, err)
	require.True(t, found, "snapshot should still observe the pre-delete value")
	require.Equal(t, "value1", string(value))

	_, _, found, err = l.Get([]byte("key1"), maxVersion)
	require.NoError(t, err)
	require.False(t, found, "latest read should observe the delete")
}
