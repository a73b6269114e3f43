package lsm

import (
	"sync/atomic"

	"github.com/nyaru-labs/kv/common"
)

// Adapter implements common.StorageEngine on top of LSM, translating
// the engine's (key, asOf-versioned) contract into the tagged, always-
// latest-version contract the public interface exposes. Grounded on the
// teacher's lsm.Adapter (same wrap-and-delegate shape plus a
// writeAmp/spaceAmp Stats estimate), generalized from string keys to
// []byte and from a no-op Compact to one that actually drives LSM.Compact.
type Adapter struct {
	lsm *LSM

	logicalBytes atomic.Int64 // bytes the caller asked to write, for WriteAmp
}

func NewAdapter(config Config) (*Adapter, error) {
	l, err := Open(config)
	if err != nil {
		return nil, err
	}
	return &Adapter{lsm: l}, nil
}

func (a *Adapter) Put(key, value []byte) error {
	a.logicalBytes.Add(int64(len(key) + len(value)))
	return a.lsm.Put(key, value)
}

func (a *Adapter) Get(key []byte) ([]byte, error) {
	value, _, found, err := a.lsm.Get(key, latestVersion(a.lsm))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, common.ErrKeyNotFound
	}
	return value, nil
}

func (a *Adapter) Delete(key []byte) error {
	a.logicalBytes.Add(int64(len(key)))
	return a.lsm.Delete(key)
}

func (a *Adapter) Write(batch *common.WriteBatch) error {
	for _, e := range batch.Entries() {
		a.logicalBytes.Add(int64(len(e.Key) + len(e.Value)))
	}
	return a.lsm.Write(batch)
}

// NewIterator adapts common.Snapshot to *lsm.Snapshot; a foreign
// Snapshot implementation (impossible in practice since only GetSnapshot
// constructs one) falls back to the latest committed version.
func (a *Adapter) NewIterator(snap common.Snapshot) common.Iterator {
	s, _ := snap.(*Snapshot)
	return a.lsm.NewIterator(s)
}

func (a *Adapter) GetSnapshot() common.Snapshot { return a.lsm.GetSnapshot() }

func (a *Adapter) ReleaseSnapshot(snap common.Snapshot) {
	if s, ok := snap.(*Snapshot); ok {
		a.lsm.ReleaseSnapshot(s)
	}
}

func (a *Adapter) Close() error { return a.lsm.Close() }
func (a *Adapter) Sync() error  { return a.lsm.Sync() }

// Compact forces every over-threshold level to compact, unlike the
// teacher's Adapter.Compact, which was a no-op stub deferring entirely
// to automatic background compaction.
func (a *Adapter) Compact() error { return a.lsm.Compact() }

func (a *Adapter) BackgroundError() error { return a.lsm.BackgroundError() }

// Stats reports point-in-time counters plus write/space amplification
// estimates, grounded on the teacher's Adapter.Stats heuristic (flush-
// count/compaction-count-derived writeAmp, L0-file-count-derived
// spaceAmp), now fed by actual tracked logical bytes for writeAmp's
// denominator instead of a flat constant.
func (a *Adapter) Stats() common.Stats {
	writeCount, readCount, flushCount, compactCount, totalFiles, totalSize := a.lsm.Stats()

	a.lsm.mu.RLock()
	activeSegSize := a.lsm.active.Size()
	immutablePresent := a.lsm.immutable != nil
	var immutableSize int64
	if immutablePresent {
		immutableSize = a.lsm.immutable.Size()
	}
	a.lsm.mu.RUnlock()

	numKeys := estimateNumKeys(a.lsm, totalFiles)

	writeAmp := 1.0
	if logical := a.logicalBytes.Load(); logical > 0 {
		writeAmp = float64(totalSize+activeSegSize+immutableSize) / float64(logical)
		if writeAmp < 1.0 {
			writeAmp = 1.0
		}
	}

	spaceAmp := 1.2
	if l0Files := a.lsm.levels.NumFiles(0); l0Files > 2 {
		spaceAmp = 1.5 + float64(l0Files)*0.1
		if spaceAmp > 3.0 {
			spaceAmp = 3.0
		}
	}

	numSegments := totalFiles + 1
	if immutablePresent {
		numSegments++
	}
	_ = flushCount // folded into WriteAmp via totalSize, not reported separately

	return common.Stats{
		NumKeys:       numKeys,
		NumSegments:   numSegments,
		ActiveSegSize: activeSegSize,
		TotalDiskSize: totalSize,
		WriteCount:    writeCount,
		ReadCount:     readCount,
		CompactCount:  compactCount,
		WriteAmp:      writeAmp,
		SpaceAmp:      spaceAmp,
	}
}

// estimateNumKeys approximates the key count from the table file count
// alone, matching the teacher's "10k keys per file" rough estimate
// rather than scanning every table's index; memtable entries are not
// counted.
func estimateNumKeys(l *LSM, totalFiles int) int64 {
	return int64(totalFiles) * 10000
}

func latestVersion(l *LSM) uint64 {
	return l.lastTxID.Load()
}

var _ common.StorageEngine = (*Adapter)(nil)
