package btree

import (
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/nyaru-labs/kv/common"
)

// Adapter implements common.StorageEngine over DB, the paged engine's
// transactional layer, so the root kv package can dispatch between
// btree and lsm through one interface. Grounded on lsm.Adapter's
// wrap-and-delegate shape (same Stats/Compact/BackgroundError surface),
// adapted to the paged engine's single-Table, no-background-worker
// design: Compact is a no-op here since spec.md only specifies
// compaction for the LSM engine (see DB.Delete's comment), and there
// are no background workers to latch an error from.
type Adapter struct {
	db *DB

	logicalBytes atomic.Int64
	writeCount   atomic.Int64
	readCount    atomic.Int64
}

// NewAdapter opens a paged-engine database at dir and wraps it.
func NewAdapter(dir string, order int, cmp common.Comparator) (*Adapter, error) {
	db, err := Open(dir, order, cmp)
	if err != nil {
		return nil, err
	}
	return &Adapter{db: db}, nil
}

func (a *Adapter) Put(key, value []byte) error {
	a.logicalBytes.Add(int64(len(key) + len(value)))
	a.writeCount.Add(1)
	return a.db.Put(key, value)
}

func (a *Adapter) Get(key []byte) ([]byte, error) {
	a.readCount.Add(1)
	a.db.mu.Lock()
	asOf := a.db.lastTxID
	a.db.mu.Unlock()
	return a.db.Get(key, asOf)
}

func (a *Adapter) Delete(key []byte) error {
	a.logicalBytes.Add(int64(len(key)))
	a.writeCount.Add(1)
	return a.db.Delete(key)
}

func (a *Adapter) Write(batch *common.WriteBatch) error {
	for _, e := range batch.Entries() {
		a.logicalBytes.Add(int64(len(e.Key) + len(e.Value)))
	}
	a.writeCount.Add(1)
	return a.db.Write(batch)
}

func (a *Adapter) NewIterator(snap common.Snapshot) common.Iterator {
	s, _ := snap.(*Snapshot)
	return a.db.NewIterator(s)
}

func (a *Adapter) GetSnapshot() common.Snapshot { return a.db.GetSnapshot() }

func (a *Adapter) ReleaseSnapshot(snap common.Snapshot) {
	if s, ok := snap.(*Snapshot); ok {
		a.db.ReleaseSnapshot(s)
	}
}

func (a *Adapter) Close() error { return a.db.Close() }
func (a *Adapter) Sync() error  { return a.db.Sync() }

// Compact is a no-op: the paged engine never compacts on its own
// (spec.md scopes compaction to the LSM engine, C13); tombstones and
// stale versions stay in the tree, since Put/Delete only ever add
// entries.
func (a *Adapter) Compact() error { return nil }

// BackgroundError always returns nil: the paged engine has no
// background worker to latch an asynchronous failure from.
func (a *Adapter) BackgroundError() error { return nil }

func (a *Adapter) Stats() common.Stats {
	diskSize := a.fileSize()

	writeAmp := 1.0
	if logical := a.logicalBytes.Load(); logical > 0 {
		writeAmp = float64(diskSize) / float64(logical)
		if writeAmp < 1.0 {
			writeAmp = 1.0
		}
	}

	return common.Stats{
		NumKeys:       a.estimateNumKeys(),
		NumSegments:   1, // one data.kvt Table file
		ActiveSegSize: diskSize,
		TotalDiskSize: diskSize,
		WriteCount:    a.writeCount.Load(),
		ReadCount:     a.readCount.Load(),
		CompactCount:  0,
		WriteAmp:      writeAmp,
		SpaceAmp:      writeAmp, // same disk-size/logical-bytes ratio as WriteAmp
	}
}

func (a *Adapter) fileSize() int64 {
	a.db.mu.Lock()
	dir := a.db.dir
	a.db.mu.Unlock()
	info, err := os.Stat(filepath.Join(dir, "data.kvt"))
	if err != nil {
		return 0
	}
	return info.Size()
}

// estimateNumKeys approximates live key count from on-disk size and a
// rough per-entry footprint, matching the LSM adapter's file-count
// heuristic in spirit: the paged engine has no free running counter of
// live keys, and walking the whole leaf chain just to answer Stats
// would defeat its point-lookup performance.
func (a *Adapter) estimateNumKeys() int64 {
	const avgEntryBytes = 64
	size := a.fileSize()
	if size <= 0 {
		return 0
	}
	return size / avgEntryBytes
}

var _ common.StorageEngine = (*Adapter)(nil)
