package btree

// splitLeaf splits a full leaf in half, links the new sibling into the
// leaf chain, and propagates the separator key upward into the parent
// (creating a new root if the leaf had none), per spec.md §4.4.
func (t *Tree) splitLeaf(left *Page) error {
	mid := len(left.Entries) / 2
	right, err := t.alloc.Allocate(len(left.Entries) - mid)
	if err != nil {
		return err
	}
	right.Leaf = true
	right.Entries = append([]Entry(nil), left.Entries[mid:]...)
	left.Entries = left.Entries[:mid:mid]

	right.Link = left.Link
	left.Link = right.ID
	right.ParentID = left.ParentID
	left.MarkDirty()
	right.MarkDirty()

	sepKey := t.alloc.Duplicate(right.Entries[0].Key)
	return t.insertIntoParent(left, right.ID, sepKey)
}

// insertIntoParent inserts (sepKey -> rightID) into left's parent,
// directly right of left's own entry, creating a new root if left had
// no parent. A parent overflow recurses into splitInternal.
func (t *Tree) insertIntoParent(left *Page, rightID uint64, sepKey []byte) error {
	if left.ParentID == NoParent {
		root, err := t.alloc.Allocate(1)
		if err != nil {
			return err
		}
		root.Leaf = false
		root.Link = rightID
		root.Entries = []Entry{{Key: sepKey, Child: left.ID}}
		root.MarkDirty()
		left.ParentID = root.ID
		right, err := t.alloc.Get(rightID, true)
		if err != nil {
			return err
		}
		right.ParentID = root.ID
		right.MarkDirty()
		t.alloc.SetRoot(root.ID)
		return nil
	}

	parent, err := t.alloc.Get(left.ParentID, true)
	if err != nil {
		return err
	}

	// Exactly one existing slot routes to left.ID today — either some
	// entry's Child, or Link if left was the rightmost child. That slot
	// covered left's whole pre-split range; post-split it must cover only
	// [sepKey, old-upper) and so now routes to rightID, while a new entry
	// (sepKey -> left.ID) is inserted directly before it to claim the
	// [*, sepKey) sub-range that stayed with left.
	pos := -1
	for i, e := range parent.Entries {
		if e.Child == left.ID {
			pos = i
			break
		}
	}
	if pos == -1 {
		parent.Entries = append(parent.Entries, Entry{Key: sepKey, Child: left.ID})
		parent.Link = rightID
	} else {
		parent.Entries = append(parent.Entries, Entry{})
		copy(parent.Entries[pos+1:], parent.Entries[pos:])
		parent.Entries[pos] = Entry{Key: sepKey, Child: left.ID}
		parent.Entries[pos+1].Child = rightID
	}
	parent.MarkDirty()

	right, err := t.alloc.Get(rightID, true)
	if err != nil {
		return err
	}
	right.ParentID = parent.ID
	right.MarkDirty()

	if parent.NumEntries() > t.order {
		return t.splitInternal(parent)
	}
	return nil
}

// splitInternal splits an overflowing interior node: the right half's
// first entry's key is promoted to the grandparent (and removed from
// the right page, since in a B+tree interior separator is not
// duplicated — its Child becomes the left page's new Link, and the
// right page inherits the old Link).
func (t *Tree) splitInternal(left *Page) error {
	mid := len(left.Entries) / 2
	promoted := left.Entries[mid]

	right, err := t.alloc.Allocate(len(left.Entries) - mid - 1)
	if err != nil {
		return err
	}
	right.Leaf = false
	right.Entries = append([]Entry(nil), left.Entries[mid+1:]...)
	right.Link = left.Link
	right.ParentID = left.ParentID
	left.Entries = left.Entries[:mid:mid]
	left.Link = promoted.Child
	left.MarkDirty()
	right.MarkDirty()

	// Re-parent every child moved into right, including its Link.
	// promoted.Child, now left.Link, stays under left and is not touched.
	for _, e := range right.Entries {
		if child, err := t.alloc.Get(e.Child, true); err == nil {
			child.ParentID = right.ID
			child.MarkDirty()
		}
	}
	if child, err := t.alloc.Get(right.Link, true); err == nil {
		child.ParentID = right.ID
		child.MarkDirty()
	}

	sepKey := t.alloc.Duplicate(promoted.Key)
	return t.insertIntoParent(left, right.ID, sepKey)
}
