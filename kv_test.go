package kv

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nyaru-labs/kv/common"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T, engineName string) *DB {
	dir := filepath.Join(t.TempDir(), "data")
	db, err := Open(Options{EngineName: engineName, CreateIfMissing: true}, dir)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenRejectsUnknownEngine(t *testing.T) {
	dir := t.TempDir()
	_, err := Open(Options{EngineName: "made-up-engine", CreateIfMissing: true}, dir)
	require.Error(t, err)
	require.Equal(t, common.KindInvalidArgument, common.StatusKind(err))
}

func TestOpenRequiresCreateIfMissing(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "absent")
	_, err := Open(Options{EngineName: EngineBalance}, dir)
	require.Error(t, err)
}

func TestOpenRejectsExistingWhenErrorIfExists(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	db, err := Open(Options{EngineName: EngineBalance, CreateIfMissing: true}, dir)
	require.NoError(t, err)
	db.Close()

	_, err = Open(Options{EngineName: EngineBalance, ErrorIfExists: true}, dir)
	require.Error(t, err)
}

func TestBasicPutGetDeleteBothEngines(t *testing.T) {
	for _, engine := range []string{EngineBalance, EngineLSM} {
		t.Run(engine, func(t *testing.T) {
			db := openTestDB(t, engine)

			require.NoError(t, db.Put(WriteOptions{}, []byte("a"), []byte("1")))
			value, err := db.Get(ReadOptions{}, []byte("a"))
			require.NoError(t, err)
			require.Equal(t, "1", string(value))

			require.NoError(t, db.Delete(WriteOptions{}, []byte("a")))
			_, err = db.Get(ReadOptions{}, []byte("a"))
			require.Equal(t, common.ErrKeyNotFound, err)
		})
	}
}

func TestWriteBatchBothEngines(t *testing.T) {
	for _, engine := range []string{EngineBalance, EngineLSM} {
		t.Run(engine, func(t *testing.T) {
			db := openTestDB(t, engine)

			batch := common.NewWriteBatch()
			batch.Put([]byte("x"), []byte("1"))
			batch.Put([]byte("y"), []byte("2"))
			require.NoError(t, db.Write(WriteOptions{Sync: true}, batch))

			for _, kv := range [][2]string{{"x", "1"}, {"y", "2"}} {
				value, err := db.Get(ReadOptions{}, []byte(kv[0]))
				require.NoError(t, err)
				require.Equal(t, kv[1], string(value))
			}
		})
	}
}

func TestSnapshotIsolationThroughDB(t *testing.T) {
	for _, engine := range []string{EngineBalance, EngineLSM} {
		t.Run(engine, func(t *testing.T) {
			db := openTestDB(t, engine)

			require.NoError(t, db.Put(WriteOptions{}, []byte("k"), []byte("before")))
			snap := db.GetSnapshot()
			defer db.ReleaseSnapshot(snap)

			require.NoError(t, db.Put(WriteOptions{}, []byte("k"), []byte("after")))

			iter := db.NewIterator(ReadOptions{Snapshot: snap})
			defer iter.Close()
			iter.Seek([]byte("k"))
			require.True(t, iter.Valid())
			require.Equal(t, "before", string(iter.Value()))

			latest, err := db.Get(ReadOptions{}, []byte("k"))
			require.NoError(t, err)
			require.Equal(t, "after", string(latest))
		})
	}
}

func TestStatsReflectActivity(t *testing.T) {
	db := openTestDB(t, EngineBalance)

	require.NoError(t, db.Put(WriteOptions{}, []byte("k"), []byte("v")))
	_, err := db.Get(ReadOptions{}, []byte("k"))
	require.NoError(t, err)
	_, err = db.Get(ReadOptions{}, []byte("missing"))
	require.Equal(t, common.ErrKeyNotFound, err)

	stats := db.Stats()
	require.EqualValues(t, 1, stats.WriteCount)
	require.EqualValues(t, 2, stats.ReadCount)
	require.EqualValues(t, 1, stats.CacheHits)
	require.EqualValues(t, 1, stats.CacheMisses)

	require.Nil(t, db.BackgroundError())
}

func TestConfigFileOverlaySelectsEngine(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "options.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("engine_name: lsm\nwrite_buffer_size: 65536\n"), 0o644))

	dataDir := filepath.Join(dir, "data")
	db, err := Open(Options{CreateIfMissing: true, ConfigFile: configPath}, dataDir)
	require.NoError(t, err)
	defer db.Close()

	require.Equal(t, EngineLSM, db.opts.EngineName)
	require.Equal(t, 65536, db.opts.WriteBufferSize)
}

