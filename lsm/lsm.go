package lsm

import (
	"container/list"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/nyaru-labs/kv/common"
	walpkg "github.com/nyaru-labs/kv/log"
)

// Config mirrors the teacher's lsm.Config (DataDir/MemTableSize/
// MaxL0Files). MaxL0Files is carried but not consulted: the L0
// compaction trigger and the thresholds of the other levels are the
// fixed constants in levels.go, as in the teacher.
type Config struct {
	DataDir      string
	MemTableSize int
	MaxL0Files   int
}

func DefaultConfig(dataDir string) Config {
	return Config{DataDir: dataDir, MemTableSize: 4 * 1024 * 1024, MaxL0Files: maxL0Files}
}

// recordKind tags entries in the shared write-ahead log. A simplified
// family compared to btree.DB's recordKind set: the LSM engine's
// durability boundary is "flushed into a level-0 table", so there is no
// checkpoint record, only the begin/put|delete/commit group making up
// one atomic write.
type recordKind byte

const (
	recBeginTx recordKind = iota
	recPut
	recDelete
	recCommitTx
)

// LSM is the log-structured merge-tree engine (design components
// C9-C13): an active/immutable memtable pair, a shared write-ahead log,
// a leveled set of on-disk tables, and background flush/compaction
// workers. Grounded on the teacher's LSM struct in lsm.go (same
// active/immutable/levels/stats shape and channel-driven background
// workers), generalized from string keys to tagged internal keys and
// from a raw channel+sync.WaitGroup pair to golang.org/x/sync/errgroup,
// per the project's ambient-stack choice for managed goroutine
// lifetimes.
type LSM struct {
	mu sync.RWMutex

	config Config
	icmp   common.InternalComparator

	active    *MemTable
	immutable *MemTable
	levels    *LevelManager

	logFile   *os.File
	logWriter *walpkg.Writer

	lastTxID    atomic.Uint64
	nextFileNum atomic.Uint64

	snapshots *list.List // of *Snapshot

	flushCh      chan *MemTable
	compactionCh chan int

	eg     *errgroup.Group
	cancel context.CancelFunc
	bgErr  atomic.Pointer[error]

	writeCount   atomic.Int64
	readCount    atomic.Int64
	flushCount   atomic.Int64
	compactCount atomic.Int64
}

// Snapshot pins a tx_id watermark, matching btree.Snapshot's shape so
// both engines expose the same common.Snapshot contract.
type Snapshot struct {
	TxID uint64
	elem *list.Element
}

func (s *Snapshot) Version() uint64 { return s.TxID }

var _ common.Snapshot = (*Snapshot)(nil)

// Open creates or recovers an LSM database rooted at config.DataDir.
func Open(config Config) (*LSM, error) {
	if config.MemTableSize <= 0 {
		config.MemTableSize = DefaultConfig(config.DataDir).MemTableSize
	}
	if err := os.MkdirAll(config.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("lsm: create data directory: %w", err)
	}
	icmp := common.InternalComparator{UserCmp: common.BytewiseComparator}

	ctx, cancel := context.WithCancel(context.Background())
	eg, egCtx := errgroup.WithContext(ctx)

	l := &LSM{
		config:       config,
		icmp:         icmp,
		active:       NewMemTable(icmp, config.MemTableSize),
		levels:       NewLevelManager(icmp),
		snapshots:    list.New(),
		flushCh:      make(chan *MemTable, 4),
		compactionCh: make(chan int, 8),
		eg:           eg,
		cancel:       cancel,
	}

	if err := l.loadTables(); err != nil {
		cancel()
		return nil, fmt.Errorf("lsm: load tables: %w", err)
	}
	if err := l.recoverFromLog(); err != nil {
		cancel()
		return nil, fmt.Errorf("lsm: recover from log: %w", err)
	}
	if err := l.openLogForAppend(); err != nil {
		cancel()
		return nil, fmt.Errorf("lsm: open log: %w", err)
	}

	l.eg.Go(func() error { return l.flushWorker(egCtx) })
	l.eg.Go(func() error { return l.compactionWorker(egCtx) })

	return l, nil
}

func (l *LSM) logPath() string { return filepath.Join(l.config.DataDir, "redo.log") }

func (l *LSM) openLogForAppend() error {
	f, err := os.OpenFile(l.logPath(), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	l.logFile = f
	l.logWriter = walpkg.NewWriter(f)
	return nil
}

// loadTables scans config.DataDir for "L{level}-{filenum}.sst" files,
// grounded on the teacher's loadSSTables (same fmt.Sscanf filename
// parse), opening each into the LevelManager and advancing nextFileNum
// past the highest one seen.
func (l *LSM) loadTables() error {
	entries, err := os.ReadDir(l.config.DataDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) != ".sst" {
			continue
		}
		var level int
		var fileNum uint64
		if _, err := fmt.Sscanf(e.Name(), "L%d-%d.sst", &level, &fileNum); err != nil {
			continue
		}
		t, err := OpenTable(filepath.Join(l.config.DataDir, e.Name()), level, fileNum, l.icmp)
		if err != nil {
			return fmt.Errorf("load table %s: %w", e.Name(), err)
		}
		l.levels.AddTable(t, level)
		if fileNum >= l.nextFileNum.Load() {
			l.nextFileNum.Store(fileNum + 1)
		}
	}
	return nil
}

// recoverFromLog replays the shared WAL into the active memtable,
// mirroring btree.DB.replayLog's BeginTx/Put|Delete/CommitTx discipline:
// a transaction's mutations are buffered until its commit record is
// seen, so a torn write at the tail of the log (no commit record) is
// silently dropped rather than partially applied.
func (l *LSM) recoverFromLog() error {
	f, err := os.Open(l.logPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	r := walpkg.NewReader(f, true)
	pending := make(map[uint64][]func())
	scratch := make([]byte, 0, 256)
	for {
		rec, err := r.Read(scratch)
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if len(rec) == 0 {
			continue
		}
		kind := recordKind(rec[0])
		body := rec[1:]
		switch kind {
		case recBeginTx:
			txID, _ := binary.Uvarint(body)
			pending[txID] = nil
		case recPut:
			txID, n := binary.Uvarint(body)
			body = body[n:]
			klen, n2 := binary.Uvarint(body)
			body = body[n2:]
			key := append([]byte(nil), body[:klen]...)
			val := append([]byte(nil), body[klen:]...)
			pending[txID] = append(pending[txID], func() { l.active.Put(key, val, txID) })
		case recDelete:
			txID, n := binary.Uvarint(body)
			key := append([]byte(nil), body[n:]...)
			pending[txID] = append(pending[txID], func() { l.active.Delete(key, txID) })
		case recCommitTx:
			txID, _ := binary.Uvarint(body)
			for _, apply := range pending[txID] {
				apply()
			}
			if txID > l.lastTxID.Load() {
				l.lastTxID.Store(txID)
			}
			delete(pending, txID)
		}
	}
	return nil
}

func appendUvarint(buf []byte, v uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	return append(buf, tmp[:n]...)
}

func (l *LSM) logRecord(kind recordKind, body []byte) error {
	rec := append([]byte{byte(kind)}, body...)
	return l.logWriter.Append(rec)
}

func (l *LSM) nextTxID() uint64 { return l.lastTxID.Add(1) }

// Put assigns a tx_id, logs it durably, and inserts into the active
// memtable, rotating and scheduling a flush if it is now full.
func (l *LSM) Put(key, value []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	txID := l.nextTxID()
	if err := l.logRecord(recBeginTx, appendUvarint(nil, txID)); err != nil {
		return fmt.Errorf("lsm: append to log: %w", err)
	}
	body := appendUvarint(nil, txID)
	body = appendUvarint(body, uint64(len(key)))
	body = append(body, key...)
	body = append(body, value...)
	if err := l.logRecord(recPut, body); err != nil {
		return fmt.Errorf("lsm: append to log: %w", err)
	}
	if err := l.logRecord(recCommitTx, appendUvarint(nil, txID)); err != nil {
		return fmt.Errorf("lsm: append to log: %w", err)
	}

	l.active.Put(key, value, txID)
	l.writeCount.Add(1)
	l.maybeRotateLocked()
	return nil
}

func (l *LSM) Delete(key []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	txID := l.nextTxID()
	if err := l.logRecord(recBeginTx, appendUvarint(nil, txID)); err != nil {
		return fmt.Errorf("lsm: append to log: %w", err)
	}
	body := appendUvarint(nil, txID)
	body = append(body, key...)
	if err := l.logRecord(recDelete, body); err != nil {
		return fmt.Errorf("lsm: append to log: %w", err)
	}
	if err := l.logRecord(recCommitTx, appendUvarint(nil, txID)); err != nil {
		return fmt.Errorf("lsm: append to log: %w", err)
	}

	l.active.Delete(key, txID)
	l.writeCount.Add(1)
	l.maybeRotateLocked()
	return nil
}

// Write applies batch as one transaction sharing a single tx_id, the
// same atomic-group contract as btree.DB.Write.
func (l *LSM) Write(batch *common.WriteBatch) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	txID := l.nextTxID()
	if err := l.logRecord(recBeginTx, appendUvarint(nil, txID)); err != nil {
		return fmt.Errorf("lsm: append to log: %w", err)
	}
	for _, e := range batch.Entries() {
		if e.Op == common.OpDelete {
			body := appendUvarint(nil, txID)
			body = append(body, e.Key...)
			if err := l.logRecord(recDelete, body); err != nil {
				return fmt.Errorf("lsm: append to log: %w", err)
			}
		} else {
			body := appendUvarint(nil, txID)
			body = appendUvarint(body, uint64(len(e.Key)))
			body = append(body, e.Key...)
			body = append(body, e.Value...)
			if err := l.logRecord(recPut, body); err != nil {
				return fmt.Errorf("lsm: append to log: %w", err)
			}
		}
	}
	if err := l.logRecord(recCommitTx, appendUvarint(nil, txID)); err != nil {
		return fmt.Errorf("lsm: append to log: %w", err)
	}

	for _, e := range batch.Entries() {
		if e.Op == common.OpDelete {
			l.active.Delete(e.Key, txID)
		} else {
			l.active.Put(e.Key, e.Value, txID)
		}
	}
	l.writeCount.Add(1)
	l.maybeRotateLocked()
	return nil
}

// maybeRotateLocked swaps a full active memtable to immutable and
// schedules its flush; caller must hold l.mu. If a previous immutable
// flush hasn't drained yet, writes keep landing in the still-active
// memtable rather than blocking: the flush worker catches up.
func (l *LSM) maybeRotateLocked() {
	if !l.active.IsFull() || l.immutable != nil {
		return
	}
	l.immutable = l.active
	l.active = NewMemTable(l.icmp, l.config.MemTableSize)
	select {
	case l.flushCh <- l.immutable:
	default:
	}
}

// Get returns the newest value for key with version <= asOf, checking
// the active memtable, the immutable memtable, then tables level by
// level (L0 newest-file-first since its files may overlap, L1+ the
// tables whose range contains key).
func (l *LSM) Get(key []byte, asOf uint64) ([]byte, common.Tag, bool, error) {
	l.mu.RLock()
	active, immutable := l.active, l.immutable
	l.mu.RUnlock()
	l.readCount.Add(1)

	if v, tag, ok := active.Get(key, asOf); ok {
		return v, tag, !tag.IsDeletion(), nil
	}
	if immutable != nil {
		if v, tag, ok := immutable.Get(key, asOf); ok {
			return v, tag, !tag.IsDeletion(), nil
		}
	}

	for level := 0; level < 5; level++ {
		tables := l.levels.GetAllTables(level)
		if level == 0 {
			for i := len(tables) - 1; i >= 0; i-- {
				v, tag, found, err := tables[i].Get(key, asOf)
				if err != nil {
					return nil, 0, false, err
				}
				if found {
					return v, tag, !tag.IsDeletion(), nil
				}
			}
			continue
		}
		for _, t := range tables {
			minUK, _ := common.SplitInternalKey(t.MinKey())
			maxUK, _ := common.SplitInternalKey(t.MaxKey())
			if l.icmp.UserCmp.Compare(key, minUK) < 0 || l.icmp.UserCmp.Compare(key, maxUK) > 0 {
				continue
			}
			v, tag, found, err := t.Get(key, asOf)
			if err != nil {
				return nil, 0, false, err
			}
			if found {
				return v, tag, !tag.IsDeletion(), nil
			}
		}
	}
	return nil, 0, false, nil
}

func (l *LSM) GetSnapshot() *Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := &Snapshot{TxID: l.lastTxID.Load()}
	s.elem = l.snapshots.PushBack(s)
	return s
}

func (l *LSM) ReleaseSnapshot(s *Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s.elem != nil {
		l.snapshots.Remove(s.elem)
		s.elem = nil
	}
}

// oldestLiveSnapshot is the compaction GC watermark: every open
// snapshot reads at a version at or above it, so an entry (tombstone
// or superseded value) with version at or below it is visible to every
// open snapshot identically and can be collapsed away at the max level
// without changing what any of them observes.
func (l *LSM) oldestLiveSnapshot() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	min := l.lastTxID.Load()
	for e := l.snapshots.Front(); e != nil; e = e.Next() {
		if s := e.Value.(*Snapshot); s.TxID < min {
			min = s.TxID
		}
	}
	return min
}

// NewIterator returns a DBIterator merging the active/immutable
// memtables with every on-disk table, visible at snapshot.TxID (or the
// latest committed tx_id if snapshot is nil).
func (l *LSM) NewIterator(snapshot *Snapshot) *DBIterator {
	l.mu.RLock()
	defer l.mu.RUnlock()

	asOf := l.lastTxID.Load()
	if snapshot != nil {
		asOf = snapshot.TxID
	}

	var children []seqIter
	children = append(children, l.active.NewMemIterator())
	if l.immutable != nil {
		children = append(children, l.immutable.NewMemIterator())
	}
	for level := 0; level < 5; level++ {
		for _, t := range l.levels.GetAllTables(level) {
			children = append(children, t.NewTableIterator())
		}
	}
	return newDBIterator(l.icmp, children, asOf)
}

// flushWorker drains flushCh, writing each immutable memtable out as a
// new level-0 table, grounded on the teacher's flushWorker/flushMemtable
// channel loop, replacing its sync.WaitGroup-based shutdown with the
// errgroup's ctx cancellation.
func (l *LSM) flushWorker(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case mt := <-l.flushCh:
			if err := l.flushMemtable(mt); err != nil {
				l.latchBgErr(fmt.Errorf("lsm: flush memtable: %w", err))
				continue
			}
			l.flushCount.Add(1)
			l.mu.Lock()
			if l.immutable == mt {
				l.immutable = nil
			}
			l.mu.Unlock()
			if l.levels.ShouldCompact(0) {
				select {
				case l.compactionCh <- 0:
				default:
				}
			}
		}
	}
}

func (l *LSM) flushMemtable(mt *MemTable) error {
	if mt.Size() == 0 {
		return nil
	}
	fileNum := l.nextFileNum.Add(1) - 1
	path := tablePath(l.config.DataDir, 0, fileNum)
	builder, err := NewTableBuilder(path, int(mt.Size()/32+1))
	if err != nil {
		return err
	}
	it := mt.NewMemIterator()
	for it.SeekToFirst(); it.Valid(); it.Next() {
		if err := builder.Add(it.Key(), it.Value()); err != nil {
			builder.Abort()
			return err
		}
	}
	if err := builder.Finish(); err != nil {
		return err
	}
	t, err := OpenTable(path, 0, fileNum, l.icmp)
	if err != nil {
		return err
	}
	l.levels.AddTable(t, 0)
	return nil
}

// compactionWorker drains compactionCh, merging the picked level into
// level+1 and cascading upward while the next level also needs
// compaction, grounded on the teacher's compactionWorker/
// triggerNextLevelCompaction chain.
func (l *LSM) compactionWorker(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case level := <-l.compactionCh:
			for level < maxLevel && l.levels.ShouldCompact(level) {
				if err := l.compactLevel(level); err != nil {
					l.latchBgErr(fmt.Errorf("lsm: compact level %d: %w", level, err))
					break
				}
				l.compactCount.Add(1)
				level++
			}
		}
	}
}

func (l *LSM) compactLevel(level int) error {
	inputs := l.levels.PickCompactionFiles(level)
	if len(inputs) == 0 {
		return nil
	}
	minKey, maxKey := inputs[0].MinKey(), inputs[0].MaxKey()
	for _, t := range inputs {
		if l.icmp.UserCmp.Compare(t.MinKey(), minKey) < 0 {
			minKey = t.MinKey()
		}
		if l.icmp.UserCmp.Compare(t.MaxKey(), maxKey) > 0 {
			maxKey = t.MaxKey()
		}
	}
	overlapping := l.levels.GetOverlapping(level+1, minKey, maxKey)
	allInputs := append(append([]*Table(nil), inputs...), overlapping...)

	nextFileNum := l.nextFileNum.Load()
	outputs, err := compactTables(l.config.DataDir, l.icmp, allInputs, level+1, l.oldestLiveSnapshot(), &nextFileNum)
	if err != nil {
		return err
	}
	l.nextFileNum.Store(nextFileNum)

	l.mu.Lock()
	for _, t := range inputs {
		l.levels.RemoveTable(t, level)
	}
	for _, t := range overlapping {
		l.levels.RemoveTable(t, level+1)
	}
	for _, t := range outputs {
		l.levels.AddTable(t, level+1)
	}
	l.mu.Unlock()

	deleteTables(allInputs)
	return nil
}

func (l *LSM) latchBgErr(err error) { l.bgErr.Store(&err) }

// BackgroundError returns the latest error latched by the flush or
// compaction worker, or nil.
func (l *LSM) BackgroundError() error {
	if p := l.bgErr.Load(); p != nil {
		return *p
	}
	return nil
}

// GetLevels returns the level manager (for debugging/stats).
func (l *LSM) GetLevels() *LevelManager { return l.levels }

func (l *LSM) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.logFile.Sync()
}

// Compact forces every level that is over its trigger threshold to
// compact into the next one, used by the root Compact() API and tests.
func (l *LSM) Compact() error {
	for level := 0; level < maxLevel; level++ {
		for l.levels.ShouldCompact(level) {
			before := l.levels.NumFiles(level)
			if err := l.compactLevel(level); err != nil {
				return err
			}
			l.compactCount.Add(1)
			if l.levels.NumFiles(level) >= before {
				break
			}
		}
	}
	return nil
}

// Stats reports point-in-time counters; writeAmp/spaceAmp are layered
// on top by lsm.Adapter, which tracks the logical bytes written needed
// to compute them, mirroring how the teacher's Adapter.Stats built on
// the bare LSM struct rather than computing them here.
func (l *LSM) Stats() (writeCount, readCount, flushCount, compactCount int64, totalFiles int, totalDiskSize int64) {
	return l.writeCount.Load(), l.readCount.Load(), l.flushCount.Load(), l.compactCount.Load(),
		l.levels.GetTotalFiles(), l.levels.GetTotalSize()
}

// Close stops the background workers, flushes any pending memtable
// inline, and closes the log and every table.
func (l *LSM) Close() error {
	l.cancel()
	_ = l.eg.Wait()

	l.mu.Lock()
	immutable := l.immutable
	active := l.active
	l.mu.Unlock()

	if immutable != nil {
		if err := l.flushMemtable(immutable); err != nil {
			return err
		}
	}
	if err := l.flushMemtable(active); err != nil {
		return err
	}

	var firstErr error
	if l.logFile != nil {
		if err := l.logFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := l.levels.CloseAll(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
