package lsm

import (
	"sync"
	"sync/atomic"

	"github.com/nyaru-labs/kv/common"
	"github.com/nyaru-labs/kv/internal/skiplist"
)

// MemTable is an in-memory sorted structure for recent writes, backed
// by internal/skiplist keyed on internal keys (user_key ‖ Tag), per
// spec.md §4.9. Grounded on the teacher's memtable.go (same
// maxSize/IsFull/flush-trigger contract), generalized from a sorted
// slice to the design's lock-free-for-readers skiplist.
type MemTable struct {
	list    *skiplist.SkipList
	icmp    common.InternalComparator
	size    atomic.Int64
	maxSize int

	mu sync.Mutex // serializes writers; readers never block
}

// NewMemTable creates an empty memtable bounded at maxSize bytes
// (approximate).
func NewMemTable(icmp common.InternalComparator, maxSize int) *MemTable {
	return &MemTable{
		list:    skiplist.New(entryComparator(icmp)),
		icmp:    icmp,
		maxSize: maxSize,
	}
}

// entryComparator adapts an InternalComparator (which compares bare
// internal keys) to the skiplist.Comparator shape, which compares
// whole encoded entries (length-prefixed internal key ‖ value).
func entryComparator(icmp common.InternalComparator) skiplist.Comparator {
	return func(a, b []byte) int {
		ika, _ := decodeMemEntry(a)
		ikb, _ := decodeMemEntry(b)
		return icmp.Compare(ika, ikb)
	}
}

// Put inserts user_key->value tagged with (version, Value).
func (m *MemTable) Put(userKey, value []byte, version uint64) {
	m.insert(userKey, value, common.PackTag(version, common.FlagValue))
}

// Delete inserts a deletion tombstone tagged with (version, Deletion).
func (m *MemTable) Delete(userKey []byte, version uint64) {
	m.insert(userKey, nil, common.PackTag(version, common.FlagDeletion))
}

func (m *MemTable) insert(userKey, value []byte, tag common.Tag) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ik := common.InternalKey(userKey, tag)
	entry := encodeMemEntry(ik, value)
	m.list.Put(entry)
	m.size.Add(int64(len(entry)))
}

// encodeMemEntry packs an internal key and its value into one
// skiplist entry: a 2-byte little-endian len(ik) ‖ ik ‖ value, so the skiplist's
// single []byte key type can carry both without a second map.
func encodeMemEntry(ik, value []byte) []byte {
	buf := make([]byte, 0, 2+len(ik)+len(value))
	var tmp [2]byte
	tmp[0] = byte(len(ik))
	tmp[1] = byte(len(ik) >> 8)
	buf = append(buf, tmp[:]...)
	buf = append(buf, ik...)
	buf = append(buf, value...)
	return buf
}

func decodeMemEntry(entry []byte) (ik, value []byte) {
	n := int(entry[0]) | int(entry[1])<<8
	return entry[2 : 2+n], entry[2+n:]
}

// Get looks up the newest entry for userKey with version <= asOf.
func (m *MemTable) Get(userKey []byte, asOf uint64) (value []byte, tag common.Tag, found bool) {
	seekEntry := encodeMemEntry(common.InternalKey(userKey, common.ForSeek(asOf)), nil)
	it := m.list.NewIterator()
	it.Seek(seekEntry)
	if !it.Valid() {
		return nil, 0, false
	}
	ik, val := decodeMemEntry(it.Key())
	uk, t := common.SplitInternalKey(ik)
	if m.icmp.UserCmp.Compare(uk, userKey) != 0 {
		return nil, 0, false
	}
	return val, t, true
}

func (m *MemTable) Size() int64 { return m.size.Load() }
func (m *MemTable) IsFull() bool { return m.Size() >= int64(m.maxSize) }

// NewMemIterator returns a raw internal-key iterator over every entry
// (the DBIterator in iterator.go is responsible for version collapse).
func (m *MemTable) NewMemIterator() *memIterator {
	return &memIterator{inner: m.list.NewIterator()}
}

// memIterator adapts the skiplist's encoded entries to
// (internalKey, value) pairs for the merging iterator.
type memIterator struct {
	inner *skiplist.Iterator
}

func (it *memIterator) SeekToFirst() { it.inner.SeekToFirst() }
func (it *memIterator) SeekToLast()  { it.inner.SeekToLast() }
func (it *memIterator) Seek(ik []byte) {
	it.inner.Seek(encodeMemEntry(ik, nil))
}
func (it *memIterator) Next() bool {
	it.inner.Next()
	return it.inner.Valid()
}
func (it *memIterator) Prev() bool {
	it.inner.Prev()
	return it.inner.Valid()
}
func (it *memIterator) Valid() bool { return it.inner.Valid() }
func (it *memIterator) Error() error { return nil }
func (it *memIterator) Key() []byte {
	ik, _ := decodeMemEntry(it.inner.Key())
	return ik
}
func (it *memIterator) Value() []byte {
	_, v := decodeMemEntry(it.inner.Key())
	return v
}
