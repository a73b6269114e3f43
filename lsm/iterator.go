package lsm

import (
	"github.com/nyaru-labs/kv/common"
)

// seqIter is the shape every internal-key source (memtable, immutable
// memtable, on-disk table) exposes to the merging iterator.
type seqIter interface {
	SeekToFirst()
	SeekToLast()
	Seek(target []byte)
	Next() bool
	Prev() bool
	Valid() bool
	Key() []byte
	Value() []byte
	Error() error
}

type direction int

const (
	dirForward direction = iota
	dirReverse
)

// mergingIterator merges N sorted internal-key sources into one
// logical stream, picking the smallest (or, in reverse, largest) key
// among all children at each step. Bidirectional traversal follows the
// classic LevelDB MergingIterator algorithm: switching direction
// re-synchronizes every other child to straddle the current key before
// resuming, grounded on original_source/src/lsm/merger.cc (the teacher's
// own iterator.go only merged forward via a priority heap, so this
// generalizes it to support Prev too, which DBIterator's
// snapshot-collapsing scan needs in both directions).
type mergingIterator struct {
	icmp     common.InternalComparator
	children []seqIter
	current  seqIter
	dir      direction
}

func newMergingIterator(icmp common.InternalComparator, children []seqIter) *mergingIterator {
	return &mergingIterator{icmp: icmp, children: children}
}

func (m *mergingIterator) Valid() bool { return m.current != nil }

func (m *mergingIterator) SeekToFirst() {
	for _, c := range m.children {
		c.SeekToFirst()
	}
	m.dir = dirForward
	m.findSmallest()
}

func (m *mergingIterator) SeekToLast() {
	for _, c := range m.children {
		c.SeekToLast()
	}
	m.dir = dirReverse
	m.findLargest()
}

func (m *mergingIterator) Seek(target []byte) {
	for _, c := range m.children {
		c.Seek(target)
	}
	m.dir = dirForward
	m.findSmallest()
}

func (m *mergingIterator) Next() bool {
	if m.current == nil {
		return false
	}
	if m.dir != dirForward {
		key := append([]byte(nil), m.current.Key()...)
		for _, c := range m.children {
			if c == m.current {
				continue
			}
			c.Seek(key)
			if c.Valid() && m.icmp.Compare(c.Key(), key) == 0 {
				c.Next()
			}
		}
		m.dir = dirForward
	}
	m.current.Next()
	m.findSmallest()
	return m.Valid()
}

func (m *mergingIterator) Prev() bool {
	if m.current == nil {
		return false
	}
	if m.dir != dirReverse {
		key := append([]byte(nil), m.current.Key()...)
		for _, c := range m.children {
			if c == m.current {
				continue
			}
			c.Seek(key)
			if c.Valid() {
				c.Prev()
			} else {
				c.SeekToLast()
			}
		}
		m.dir = dirReverse
	}
	m.current.Prev()
	m.findLargest()
	return m.Valid()
}

func (m *mergingIterator) findSmallest() {
	var smallest seqIter
	for _, c := range m.children {
		if !c.Valid() {
			continue
		}
		if smallest == nil || m.icmp.Compare(c.Key(), smallest.Key()) < 0 {
			smallest = c
		}
	}
	m.current = smallest
}

func (m *mergingIterator) findLargest() {
	var largest seqIter
	for _, c := range m.children {
		if !c.Valid() {
			continue
		}
		if largest == nil || m.icmp.Compare(c.Key(), largest.Key()) > 0 {
			largest = c
		}
	}
	m.current = largest
}

func (m *mergingIterator) Key() []byte   { return m.current.Key() }
func (m *mergingIterator) Value() []byte { return m.current.Value() }
func (m *mergingIterator) Error() error {
	for _, c := range m.children {
		if err := c.Error(); err != nil {
			return err
		}
	}
	return nil
}

// DBIterator collapses the merged internal-key stream into user-key
// order, emitting at most the newest Value with version <= asOf per
// user_key and skipping Deletions, mirroring btree.DBIterator's
// semantics (spec.md §4.12) exactly since both engines share the same
// tagged-internal-key model.
type DBIterator struct {
	icmp  common.InternalComparator
	inner *mergingIterator
	asOf  uint64

	curKey []byte
	curVal []byte
	valid  bool
}

func newDBIterator(icmp common.InternalComparator, children []seqIter, asOf uint64) *DBIterator {
	return &DBIterator{icmp: icmp, inner: newMergingIterator(icmp, children), asOf: asOf}
}

func (it *DBIterator) SeekToFirst() {
	it.inner.SeekToFirst()
	it.advanceToVisible()
}

func (it *DBIterator) SeekToLast() {
	it.inner.SeekToLast()
	it.retreatToVisible()
}

func (it *DBIterator) Seek(userKey []byte) {
	it.inner.Seek(common.InternalKey(userKey, common.ForSeek(it.asOf)))
	it.advanceToVisible()
}

func (it *DBIterator) Next() bool {
	if !it.valid {
		return false
	}
	key := it.curKey
	for it.inner.Valid() {
		uk, _ := common.SplitInternalKey(it.inner.Key())
		if it.icmp.UserCmp.Compare(uk, key) != 0 {
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
		uk, _ := common.SplitInternalKey(it.inner.Key())
		if it.icmp.UserCmp.Compare(uk, key) != 0 {
			break
		}
		it.inner.Prev()
	}
	it.retreatToVisible()
	return it.valid
}

func (it *DBIterator) advanceToVisible() {
	it.valid = false
	for it.inner.Valid() {
		uk, tag := common.SplitInternalKey(it.inner.Key())
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
		uk, _ := common.SplitInternalKey(it.inner.Key())
		if it.icmp.UserCmp.Compare(uk, key) != 0 {
			return
		}
		it.inner.Next()
	}
}

func (it *DBIterator) retreatToVisible() {
	it.valid = false
	var bufKey, bufVal []byte
	haveBuf, bufLive := false, false
	for it.inner.Valid() {
		uk, tag := common.SplitInternalKey(it.inner.Key())
		if haveBuf && it.icmp.UserCmp.Compare(uk, bufKey) != 0 {
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
