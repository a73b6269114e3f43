// Package btree implements the paged, crash-recoverable B+tree storage
// engine (design components C4, C7, C8): a generic B+tree parameterized
// over a key Comparator and a PageAllocator, a Table that persists the
// tree's pages to a single file with a page cache and free-space
// bitmap, and a DB layer adding transactions, snapshots, and a
// manifest.
//
// Grounded on the teacher's btree/{page,node,btree,split,merge,
// iterator,latch,pager,wal}.go, generalized from the teacher's fixed
// 4KB slotted-page format to the design's order-m, variable-page-size,
// forward-linked-chain format (spec.md §3-4.4, §4.7).
package btree

import (
	"errors"

	"github.com/nyaru-labs/kv/common"
)

// NoParent is the sentinel parent id meaning "this page has no parent"
// (the root), serialized on disk as -1 per spec.md §3.
const NoParent = ^uint64(0)

var (
	ErrPageFull     = errors.New("btree: page is full")
	ErrCellNotFound = errors.New("btree: cell not found")
	ErrCorrupt      = errors.New("btree: corrupt page")
)

// Entry is one slot of a Page: for a leaf, a key/value pair; for an
// interior node, a separator key paired with the child page id holding
// keys < key (and >= the previous entry's key); the node's
// Link/right-pointer holds the child for keys >= the last entry's key.
type Entry struct {
	Key   []byte
	Value []byte // leaf only
	Child uint64 // interior only
}

// Page is an in-memory B+tree node: a leaf holding key/value entries or
// an interior node holding key/child-link entries. Parent is resolved
// through the Table's id->address map on load and is a non-owning
// back-reference in memory (design notes §9: "arena + indices").
type Page struct {
	ID        uint64
	ParentID  uint64
	Leaf      bool
	Link      uint64 // leaf: forward link to next leaf. interior: rightmost child.
	Timestamp uint64
	Entries   []Entry

	dirty bool
}

func newLeaf(id uint64) *Page {
	return &Page{ID: id, ParentID: NoParent, Leaf: true, dirty: true}
}

func newInterior(id uint64) *Page {
	return &Page{ID: id, ParentID: NoParent, Leaf: false, dirty: true}
}

func (p *Page) NumEntries() int { return len(p.Entries) }
func (p *Page) Dirty() bool     { return p.dirty }
func (p *Page) MarkDirty()      { p.dirty = true }
func (p *Page) clearDirty()     { p.dirty = false }

// search returns the index of the first entry whose key is >= key
// (standard lower-bound binary search), and whether that entry's key
// equals key exactly.
func (p *Page) search(cmp common.Comparator, key []byte) (int, bool) {
	lo, hi := 0, len(p.Entries)
	for lo < hi {
		mid := (lo + hi) / 2
		c := cmp.Compare(p.Entries[mid].Key, key)
		if c < 0 {
			lo = mid + 1
		} else if c > 0 {
			hi = mid
		} else {
			return mid, true
		}
	}
	return lo, false
}

// childFor returns the child page id an interior node directs key to.
// An entry (Key, Child) means Child holds every key strictly less than
// Key (the child "to the left of" the separator); Link, the rightmost
// pointer, holds keys >= the last entry's key (spec.md §4.4: "interior
// nodes use link to point to the rightmost child"). So childFor finds
// the first entry whose Key is > key and returns its Child, falling
// back to Link when key is >= every separator.
func (p *Page) childFor(cmp common.Comparator, key []byte) uint64 {
	lo, hi := 0, len(p.Entries)
	for lo < hi {
		mid := (lo + hi) / 2
		if cmp.Compare(p.Entries[mid].Key, key) > 0 {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	if lo == len(p.Entries) {
		return p.Link
	}
	return p.Entries[lo].Child
}
