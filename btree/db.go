package btree

import (
	"container/list"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/nyaru-labs/kv/common"
	walpkg "github.com/nyaru-labs/kv/log"
)

// recordKind tags one redo-log record, per spec.md §4.8's "family of
// framed records": BeginTx/Put/Delete/CommitTx/AbortTx/StartCheckpoint/
// EndCheckpoint.
type recordKind byte

const (
	recBeginTx recordKind = iota
	recPut
	recDelete
	recCommitTx
	recAbortTx
	recStartCheckpoint
	recEndCheckpoint
)

// DB is the paged engine's transactional layer (design component C8):
// it wraps a Tree/Table with transaction-id assignment, a redo log for
// crash recovery, and a snapshot list, grounded on the teacher's
// btree.go DB-equivalent type and wal.go's log-then-apply discipline,
// generalized onto the shared log package and common.Tag internal-key
// encoding.
type DB struct {
	mu sync.Mutex

	dir   string
	table *Table
	tree  *Tree
	icmp  internalComparator

	logFile   *os.File
	logWriter *walpkg.Writer

	lastTxID uint64

	snapshots *list.List // of *Snapshot, oldest at Front

	manifestCmpName string
}

// Snapshot is a node in the DB's intrusive snapshot list: readers
// created against it see only entries with tx_id <= TxID, and the
// oldest live snapshot bounds what compaction may reclaim (spec.md
// §4.8's "Snapshot list").
type Snapshot struct {
	TxID uint64
	elem *list.Element
}

func (s *Snapshot) Version() uint64 { return s.TxID }

var _ common.Snapshot = (*Snapshot)(nil)

// Open opens (creating if absent) a paged-engine database rooted at
// dir: dir/data.kvt holds the Table, dir/redo.log the write-ahead log,
// and dir/CURRENT the manifest's comparator-name record. Recovery
// replays the redo log's committed transactions since the last
// EndCheckpoint into the tree.
func Open(dir string, order int, cmp common.Comparator) (*DB, error) {
	if cmp == nil {
		cmp = common.BytewiseComparator
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	if b, err := os.ReadFile(filepath.Join(dir, "CURRENT")); err == nil {
		want := cmp.Name() + "\n"
		if len(b) < len(want) || string(b[:len(want)]) != want {
			return nil, common.InvalidArgument(fmt.Sprintf("btree: comparator %q does not match the one recorded in CURRENT", cmp.Name()))
		}
	}
	icmp := internalComparator{UserCmp: cmp}

	table, err := OpenTable(filepath.Join(dir, "data.kvt"), icmp)
	if err != nil {
		return nil, err
	}
	tree := NewTree(order, icmp, table)

	db := &DB{
		dir:             dir,
		table:           table,
		tree:            tree,
		icmp:            icmp,
		snapshots:       list.New(),
		manifestCmpName: cmp.Name(),
	}

	if err := db.replayLog(); err != nil {
		table.Close()
		return nil, err
	}
	if err := db.openLogForAppend(); err != nil {
		table.Close()
		return nil, err
	}
	if err := db.writeManifest(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func (db *DB) logPath() string { return filepath.Join(db.dir, "redo.log") }

func (db *DB) openLogForAppend() error {
	f, err := os.OpenFile(db.logPath(), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	db.logFile = f
	db.logWriter = walpkg.NewWriter(f)
	return nil
}

// writeManifest persists the comparator name and last_tx_id into
// dir/CURRENT, matching spec.md §4.8's VersionPatch fields in
// simplified form: a full multi-version patch log is not needed since
// the paged engine has exactly one durable Table, not a multi-level
// file set, so the manifest here only needs to guard against opening
// a database with a mismatched comparator and to record the recovered
// tx_id watermark — recorded as an Open Question decision in
// DESIGN.md.
func (db *DB) writeManifest() error {
	f, err := os.Create(filepath.Join(db.dir, "CURRENT"))
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, "%s\n%d\n", db.manifestCmpName, db.lastTxID)
	return err
}

// replayLog replays committed transactions recorded since the last
// EndCheckpoint, discarding any BeginTx stream with no matching
// CommitTx (spec.md §4.8).
func (db *DB) replayLog() error {
	f, err := os.Open(db.logPath())
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
		case recStartCheckpoint:
			pending = make(map[uint64][]func())
		case recEndCheckpoint:
			pending = make(map[uint64][]func())
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
			pending[txID] = append(pending[txID], func() {
				ik := internalKey(key, common.PackTag(txID, common.FlagValue))
				db.tree.Put(ik, val)
			})
		case recDelete:
			txID, n := binary.Uvarint(body)
			key := append([]byte(nil), body[n:]...)
			pending[txID] = append(pending[txID], func() {
				ik := internalKey(key, common.PackTag(txID, common.FlagDeletion))
				db.tree.Put(ik, nil)
			})
		case recCommitTx:
			txID, _ := binary.Uvarint(body)
			for _, apply := range pending[txID] {
				apply()
			}
			if txID > db.lastTxID {
				db.lastTxID = txID
			}
			delete(pending, txID)
		case recAbortTx:
			txID, _ := binary.Uvarint(body)
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

func (db *DB) logRecord(kind recordKind, body []byte) error {
	rec := append([]byte{byte(kind)}, body...)
	return db.logWriter.Append(rec)
}

// nextTxID assigns a fresh transaction id (spec.md §4.8: "each Put/
// Delete assigns tx_id = ++last_tx_id"). Caller must hold db.mu.
func (db *DB) nextTxID() uint64 {
	db.lastTxID++
	return db.lastTxID
}

// Put assigns a fresh tx_id, logs it durably, and inserts the
// internal key into the tree.
func (db *DB) Put(key, value []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	txID := db.nextTxID()
	if err := db.logRecord(recBeginTx, appendUvarint(nil, txID)); err != nil {
		return err
	}
	body := appendUvarint(nil, txID)
	body = appendUvarint(body, uint64(len(key)))
	body = append(body, key...)
	body = append(body, value...)
	if err := db.logRecord(recPut, body); err != nil {
		return err
	}
	if err := db.logRecord(recCommitTx, appendUvarint(nil, txID)); err != nil {
		return err
	}

	ik := internalKey(key, common.PackTag(txID, common.FlagValue))
	return db.tree.Put(ik, value)
}

// Delete assigns a fresh tx_id and inserts a deletion tombstone; the
// paged engine never physically removes older versions itself — that
// is left to an out-of-band compaction, which is out of scope for this
// engine (spec.md only specifies compaction for the LSM engine, C13).
func (db *DB) Delete(key []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	txID := db.nextTxID()
	if err := db.logRecord(recBeginTx, appendUvarint(nil, txID)); err != nil {
		return err
	}
	body := appendUvarint(nil, txID)
	body = append(body, key...)
	if err := db.logRecord(recDelete, body); err != nil {
		return err
	}
	if err := db.logRecord(recCommitTx, appendUvarint(nil, txID)); err != nil {
		return err
	}

	ik := internalKey(key, common.PackTag(txID, common.FlagDeletion))
	return db.tree.Put(ik, nil)
}

// Write applies batch as a single atomic transaction: one tx_id for
// every entry, logged as one BeginTx/.../CommitTx group.
func (db *DB) Write(batch *common.WriteBatch) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	txID := db.nextTxID()
	if err := db.logRecord(recBeginTx, appendUvarint(nil, txID)); err != nil {
		return err
	}
	for _, e := range batch.Entries() {
		if e.Op == common.OpDelete {
			body := appendUvarint(nil, txID)
			body = append(body, e.Key...)
			if err := db.logRecord(recDelete, body); err != nil {
				return err
			}
		} else {
			body := appendUvarint(nil, txID)
			body = appendUvarint(body, uint64(len(e.Key)))
			body = append(body, e.Key...)
			body = append(body, e.Value...)
			if err := db.logRecord(recPut, body); err != nil {
				return err
			}
		}
	}
	if err := db.logRecord(recCommitTx, appendUvarint(nil, txID)); err != nil {
		return err
	}

	for _, e := range batch.Entries() {
		if e.Op == common.OpDelete {
			ik := internalKey(e.Key, common.PackTag(txID, common.FlagDeletion))
			if err := db.tree.Put(ik, nil); err != nil {
				return err
			}
		} else {
			ik := internalKey(e.Key, common.PackTag(txID, common.FlagValue))
			if err := db.tree.Put(ik, e.Value); err != nil {
				return err
			}
		}
	}
	return nil
}

// Get seeks to (user_key, tag=ForSeek(asOf)) and returns the newest
// entry with version <= asOf, per spec.md §4.8: since tag sorts
// descending by version, the first matching internal key reached is
// exactly that entry; a Deletion tag yields NotFound.
func (db *DB) Get(key []byte, asOf uint64) ([]byte, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	it := NewIterator(db.tree)
	seekKey := internalKey(key, common.ForSeek(asOf))
	it.Seek(seekKey)
	if !it.Valid() {
		return nil, common.ErrKeyNotFound
	}
	foundUser, tag := splitInternalKey(it.Key())
	if db.icmp.UserCmp.Compare(foundUser, key) != 0 {
		return nil, common.ErrKeyNotFound
	}
	if tag.IsDeletion() {
		return nil, common.ErrKeyNotFound
	}
	return append([]byte(nil), it.Value()...), nil
}

// GetSnapshot pins the current tx_id watermark and links it into the
// snapshot list.
func (db *DB) GetSnapshot() *Snapshot {
	db.mu.Lock()
	defer db.mu.Unlock()
	s := &Snapshot{TxID: db.lastTxID}
	s.elem = db.snapshots.PushBack(s)
	return s
}

func (db *DB) ReleaseSnapshot(s *Snapshot) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if s.elem != nil {
		db.snapshots.Remove(s.elem)
		s.elem = nil
	}
}

// oldestLiveSnapshot returns the minimum TxID among active snapshots,
// or the current lastTxID if none are held; this bounds how far a
// future compaction pass may reclaim tombstones (spec.md §4.8).
func (db *DB) oldestLiveSnapshot() uint64 {
	min := db.lastTxID
	for e := db.snapshots.Front(); e != nil; e = e.Next() {
		if s := e.Value.(*Snapshot); s.TxID < min {
			min = s.TxID
		}
	}
	return min
}

// NewIterator returns a user-key iterator collapsing internal-key
// versions visible at snapshot.TxID (or the latest committed tx_id if
// snapshot is nil), skipping tombstoned user keys.
func (db *DB) NewIterator(snapshot *Snapshot) *DBIterator {
	db.mu.Lock()
	asOf := db.lastTxID
	db.mu.Unlock()
	if snapshot != nil {
		asOf = snapshot.TxID
	}
	return &DBIterator{db: db, inner: NewIterator(db.tree), asOf: asOf}
}

// DBIterator wraps the raw internal-key Iterator and collapses
// versions: for each distinct user_key it emits at most the newest
// Value with tag.Version() <= asOf, skipping the rest of that key's
// versions and suppressing the key entirely if that newest visible
// entry is a Deletion (spec.md §4.12's DBIterator, restated for this
// engine).
type DBIterator struct {
	db    *DB
	inner *Iterator
	asOf  uint64

	curKey []byte
	curVal []byte
	valid  bool
}

func (it *DBIterator) SeekToFirst() {
	it.inner.SeekToFirst()
	it.advanceToVisible()
}

func (it *DBIterator) SeekToLast() {
	// Internal keys sort newest-version-first within a user_key, so the
	// tree's last entry may not be the newest version at or below asOf;
	// a full Prev-based scan from the end is needed.
	it.inner.SeekToLast()
	it.retreatToVisible()
}

func (it *DBIterator) Seek(userKey []byte) {
	it.inner.Seek(internalKey(userKey, common.ForSeek(it.asOf)))
	it.advanceToVisible()
}

func (it *DBIterator) Next() bool {
	if !it.valid {
		return false
	}
	key := it.curKey
	for it.inner.Valid() {
		uk, _ := splitInternalKey(it.inner.Key())
		if it.db.icmp.UserCmp.Compare(uk, key) != 0 {
			break
		}
		it.inner.Next()
	}
	it.advanceToVisible()
	return it.valid
}

func (it *DBIterator) Prev() bool {
	if !it.valid {
		return false
	}
	key := it.curKey
	for it.inner.Valid() {
		uk, _ := splitInternalKey(it.inner.Key())
		if it.db.icmp.UserCmp.Compare(uk, key) != 0 {
			break
		}
		it.inner.Prev()
	}
	it.retreatToVisible()
	return it.valid
}

// advanceToVisible scans forward from the inner iterator's current
// position to the next user_key whose newest version <= asOf is a
// Value (skipping Deletions and versions > asOf).
func (it *DBIterator) advanceToVisible() {
	it.valid = false
	for it.inner.Valid() {
		uk, tag := splitInternalKey(it.inner.Key())
		if tag.Version() > it.asOf {
			it.inner.Next()
			continue
		}
		if tag.IsDeletion() {
			key := append([]byte(nil), uk...)
			it.skipUserKeyForward(key)
			continue
		}
		it.curKey = append([]byte(nil), uk...)
		it.curVal = append([]byte(nil), it.inner.Value()...)
		it.valid = true
		return
	}
}

func (it *DBIterator) skipUserKeyForward(key []byte) {
	for it.inner.Valid() {
		uk, _ := splitInternalKey(it.inner.Key())
		if it.db.icmp.UserCmp.Compare(uk, key) != 0 {
			return
		}
		it.inner.Next()
	}
}

// retreatToVisible scans backward, buffering the newest Value seen per
// user_key (internal-key order is newest-first, the opposite of the
// backward scan direction, per spec.md §4.12) and emitting it only
// once that user_key is exhausted; a key whose newest visible entry is
// a Deletion is skipped.
func (it *DBIterator) retreatToVisible() {
	it.valid = false
	var bufKey, bufVal []byte
	haveBuf, bufLive := false, false
	for it.inner.Valid() {
		uk, tag := splitInternalKey(it.inner.Key())
		if haveBuf && it.db.icmp.UserCmp.Compare(uk, bufKey) != 0 {
			if bufLive {
				it.curKey, it.curVal = bufKey, bufVal
				it.valid = true
				return
			}
			haveBuf = false
		}
		if tag.Version() <= it.asOf {
			// older versions come first backward: each visible entry
			// supersedes the buffered one
			bufKey = append([]byte(nil), uk...)
			bufVal = append([]byte(nil), it.inner.Value()...)
			bufLive = !tag.IsDeletion()
			haveBuf = true
		}
		it.inner.Prev()
	}
	if haveBuf && bufLive {
		it.curKey, it.curVal = bufKey, bufVal
		it.valid = true
	}
}

func (it *DBIterator) Valid() bool   { return it.valid }
func (it *DBIterator) Key() []byte   { return it.curKey }
func (it *DBIterator) Value() []byte { return it.curVal }
func (it *DBIterator) Error() error  { return it.inner.Error() }
func (it *DBIterator) Close() error  { return nil }

var _ common.Iterator = (*DBIterator)(nil)

// Sync flushes the Table and fsyncs the redo log.
func (db *DB) Sync() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.table.Sync(); err != nil {
		return err
	}
	return db.logFile.Sync()
}

// Close flushes and closes the Table and redo log.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.logWriter != nil {
		db.logRecord(recEndCheckpoint, nil)
	}
	var firstErr error
	if err := db.table.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if db.logFile != nil {
		if err := db.logFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
