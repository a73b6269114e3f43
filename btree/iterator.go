package btree

import (
	"github.com/nyaru-labs/kv/common"
)

// Iterator walks the B+tree's leaf chain in key order. Descent to the
// first/last leaf is a binary-search walk from the root; subsequent
// Next calls follow Page.Link without re-descending, the same
// leaf-chain walk the teacher's iterator.go uses.
type Iterator struct {
	t     *Tree
	page  *Page
	idx   int
	err   error
}

// NewIterator returns an Iterator positioned before the first entry;
// call SeekToFirst, SeekToLast, or Seek before reading Key/Value.
func NewIterator(t *Tree) *Iterator {
	return &Iterator{t: t, idx: -1}
}

func (it *Iterator) Valid() bool {
	return it.err == nil && it.page != nil && it.idx >= 0 && it.idx < len(it.page.Entries)
}

func (it *Iterator) Error() error { return it.err }
func (it *Iterator) Close() error { return nil }

// SeekToFirst positions the iterator at the smallest key: descend via
// Link at every interior node (Link is the rightmost child, so the
// leftmost descent instead always follows the first entry's Child,
// falling back to Link only for an empty root).
func (it *Iterator) SeekToFirst() {
	id := it.t.alloc.Root()
	page, err := it.t.alloc.Get(id, true)
	if err != nil {
		it.err = err
		return
	}
	for !page.Leaf {
		var childID uint64
		if len(page.Entries) > 0 {
			childID = page.Entries[0].Child
		} else {
			childID = page.Link
		}
		child, err := it.t.alloc.Get(childID, true)
		if err != nil {
			it.err = err
			return
		}
		page = child
	}
	it.page = page
	it.idx = 0
	if len(page.Entries) == 0 {
		it.idx = -1
	}
}

// SeekToLast positions the iterator at the largest key: always descend
// via Link, the rightmost child at every interior node.
func (it *Iterator) SeekToLast() {
	id := it.t.alloc.Root()
	page, err := it.t.alloc.Get(id, true)
	if err != nil {
		it.err = err
		return
	}
	for !page.Leaf {
		child, err := it.t.alloc.Get(page.Link, true)
		if err != nil {
			it.err = err
			return
		}
		page = child
	}
	it.page = page
	it.idx = len(page.Entries) - 1
}

// Seek positions the iterator at the first entry with key >= target.
func (it *Iterator) Seek(target []byte) {
	leaf, err := it.t.findLeaf(target)
	if err != nil {
		it.err = err
		return
	}
	idx, _ := leaf.search(it.t.cmp, target)
	for idx == len(leaf.Entries) && leaf.Link != 0 {
		next, err := it.t.alloc.Get(leaf.Link, true)
		if err != nil {
			it.err = err
			return
		}
		leaf = next
		idx = 0
	}
	it.page = leaf
	it.idx = idx
	if idx == len(leaf.Entries) {
		it.idx = -1
	}
}

// Next advances to the next entry, crossing into the following leaf
// via Link when the current leaf is exhausted, and reports whether the
// iterator landed on a valid entry.
func (it *Iterator) Next() bool {
	if !it.Valid() {
		return false
	}
	it.idx++
	for it.idx >= len(it.page.Entries) {
		if it.page.Link == 0 {
			it.idx = -1
			it.page = nil
			return false
		}
		next, err := it.t.alloc.Get(it.page.Link, true)
		if err != nil {
			it.err = err
			return false
		}
		it.page = next
		it.idx = 0
		if len(next.Entries) > 0 {
			return true
		}
	}
	return true
}

// Prev moves to the previous entry. Within a leaf this just
// decrements idx; crossing into the previous leaf walks up via
// ParentID to the nearest ancestor with a left sibling, then descends
// that sibling's rightmost spine back down to its leaf (leaves are
// only forward-linked, so this ParentID walk is the only way back).
// Reports whether the iterator landed on a valid entry.
func (it *Iterator) Prev() bool {
	if it.page == nil {
		return false
	}
	if it.idx > 0 {
		it.idx--
		return true
	}
	sib, err := it.t.leftSiblingLeaf(it.page)
	if err != nil {
		it.err = err
		return false
	}
	if sib == nil || len(sib.Entries) == 0 {
		it.idx = -1
		it.page = nil
		return false
	}
	it.page = sib
	it.idx = len(sib.Entries) - 1
	return true
}

func (it *Iterator) Key() []byte {
	if !it.Valid() {
		return nil
	}
	return it.page.Entries[it.idx].Key
}

func (it *Iterator) Value() []byte {
	if !it.Valid() {
		return nil
	}
	return it.page.Entries[it.idx].Value
}

var _ common.Iterator = (*Iterator)(nil)
