package btree

import (
	"github.com/nyaru-labs/kv/common"
)

// DefaultOrder is the B+tree order (max entries per page) used when
// NewTree's order argument is <= 0, matching spec.md §3's default of 127.
const DefaultOrder = 127

// Tree is a generic B+tree: order m, parameterized over a Comparator
// and a PageAllocator. It holds no file handle of its own — Table (in
// table.go) implements PageAllocator to back it with durable, cached
// pages; tests can back it with a trivial in-memory allocator.
type Tree struct {
	order int
	cmp   common.Comparator
	alloc PageAllocator
}

// NewTree constructs a Tree of the given order over alloc. order <= 0
// selects DefaultOrder.
func NewTree(order int, cmp common.Comparator, alloc PageAllocator) *Tree {
	if order <= 0 {
		order = DefaultOrder
	}
	if cmp == nil {
		cmp = common.BytewiseComparator
	}
	return &Tree{order: order, cmp: cmp, alloc: alloc}
}

func (t *Tree) Order() int { return t.order }

// Get performs a binary-search descent to the leaf that would contain
// key and returns its value if present.
func (t *Tree) Get(key []byte) ([]byte, bool, error) {
	leaf, err := t.findLeaf(key)
	if err != nil {
		return nil, false, err
	}
	idx, exact := leaf.search(t.cmp, key)
	if !exact {
		return nil, false, nil
	}
	return leaf.Entries[idx].Value, true, nil
}

// findLeaf descends from the root to the leaf that would contain key,
// using binary search within each node (spec.md §4.4).
func (t *Tree) findLeaf(key []byte) (*Page, error) {
	id := t.alloc.Root()
	page, err := t.alloc.Get(id, true)
	if err != nil {
		return nil, err
	}
	for !page.Leaf {
		childID := page.childFor(t.cmp, key)
		child, err := t.alloc.Get(childID, true)
		if err != nil {
			return nil, err
		}
		page = child
	}
	return page, nil
}

// leftSiblingLeaf returns the rightmost leaf of the subtree immediately
// to the left of node, walking up via ParentID until an ancestor with
// a left sibling is found and then back down that sibling's Link
// spine. Returns (nil, nil) if node has no left sibling anywhere (it
// is the tree's first leaf).
func (t *Tree) leftSiblingLeaf(node *Page) (*Page, error) {
	if node.ParentID == NoParent {
		return nil, nil
	}
	parent, err := t.alloc.Get(node.ParentID, true)
	if err != nil {
		return nil, err
	}
	pos := -1
	for i, e := range parent.Entries {
		if e.Child == node.ID {
			pos = i
			break
		}
	}
	var siblingID uint64
	switch {
	case pos == -1 && len(parent.Entries) > 0: // node is Link
		siblingID = parent.Entries[len(parent.Entries)-1].Child
	case pos > 0:
		siblingID = parent.Entries[pos-1].Child
	default:
		return t.leftSiblingLeaf(parent)
	}
	sib, err := t.alloc.Get(siblingID, true)
	if err != nil {
		return nil, err
	}
	for !sib.Leaf {
		sib, err = t.alloc.Get(sib.Link, true)
		if err != nil {
			return nil, err
		}
	}
	return sib, nil
}

// Put inserts or overwrites key->value. Insertion always happens at a
// leaf; if the leaf overflows Order, it is split and the separator is
// propagated upward, recursing into parent splits as needed.
func (t *Tree) Put(key, value []byte) error {
	leaf, err := t.findLeaf(key)
	if err != nil {
		return err
	}
	idx, exact := leaf.search(t.cmp, key)
	owned := t.alloc.Duplicate(key)
	ownedVal := append([]byte(nil), value...)
	if exact {
		leaf.Entries[idx].Value = ownedVal
		leaf.MarkDirty()
		return nil
	}
	leaf.Entries = append(leaf.Entries, Entry{})
	copy(leaf.Entries[idx+1:], leaf.Entries[idx:])
	leaf.Entries[idx] = Entry{Key: owned, Value: ownedVal}
	leaf.MarkDirty()

	if leaf.NumEntries() > t.order {
		return t.splitLeaf(leaf)
	}
	return nil
}

// Delete removes key from the leaf. If the leaf becomes empty it is
// unlinked from the leaf chain and removed from its parent, collapsing
// ancestors that become empty in turn (the root may shrink).
func (t *Tree) Delete(key []byte) error {
	leaf, err := t.findLeaf(key)
	if err != nil {
		return err
	}
	idx, exact := leaf.search(t.cmp, key)
	if !exact {
		return common.ErrKeyNotFound
	}
	leaf.Entries = append(leaf.Entries[:idx], leaf.Entries[idx+1:]...)
	leaf.MarkDirty()

	if leaf.NumEntries() == 0 && leaf.ParentID != NoParent {
		return t.collapseEmptyLeaf(leaf)
	}
	return nil
}
