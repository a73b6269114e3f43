package btree

// collapseEmptyLeaf handles a leaf that just became empty after a
// Delete: unlink it from the leaf chain, remove its routing slot from
// its parent, and collapse the parent in turn if the removal leaves it
// with no entries (a redundant single-child pass-through), per
// spec.md §4.4's "if parent becomes empty, collapse it" rule.
//
// The leaf's chain predecessor is its left sibling under the same
// parent when it has one; a leaf that is the leftmost child of its
// parent is relinked from the rightmost leaf of the neighboring subtree
// to its left, found through leftSiblingLeaf.
func (t *Tree) collapseEmptyLeaf(leaf *Page) error {
	return t.detachAndCollapse(leaf)
}

// detachAndCollapse removes an empty node (zero entries) from its
// parent. For a leaf, the leaf chain is relinked around it first and
// its routing slot is removed. An empty interior node is a redundant
// pass-through to its Link child, which takes over the node's slot in
// the parent (or becomes the new root). If removing a leaf's slot
// leaves the parent with zero entries, the parent is collapsed in turn.
func (t *Tree) detachAndCollapse(node *Page) error {
	if node.ParentID == NoParent {
		if !node.Leaf && len(node.Entries) == 0 {
			child, err := t.alloc.Get(node.Link, true)
			if err != nil {
				return err
			}
			child.ParentID = NoParent
			child.MarkDirty()
			t.alloc.SetRoot(child.ID)
			return t.alloc.Free(node)
		}
		return nil
	}

	parent, err := t.alloc.Get(node.ParentID, true)
	if err != nil {
		return err
	}

	pos := -1
	for i, e := range parent.Entries {
		if e.Child == node.ID {
			pos = i
			break
		}
	}

	if node.Leaf {
		if pos == -1 { // node was Link (rightmost leaf under this parent)
			if n := len(parent.Entries); n > 0 {
				predID := parent.Entries[n-1].Child
				if pred, err := t.alloc.Get(predID, true); err == nil {
					pred.Link = node.Link
					pred.MarkDirty()
				}
				parent.Link = predID
				parent.Entries = parent.Entries[:n-1]
			}
		} else {
			if pos > 0 {
				predID := parent.Entries[pos-1].Child
				if pred, err := t.alloc.Get(predID, true); err == nil {
					pred.Link = node.Link
					pred.MarkDirty()
				}
			} else if pred, err := t.leftSiblingLeaf(node); err == nil && pred != nil {
				pred.Link = node.Link
				pred.MarkDirty()
			}
			parent.Entries = append(parent.Entries[:pos], parent.Entries[pos+1:]...)
		}
	} else if pos == -1 { // empty interior node: its Link child takes its slot
		parent.Link = node.Link
	} else {
		parent.Entries[pos].Child = node.Link
	}
	if !node.Leaf {
		if child, err := t.alloc.Get(node.Link, true); err == nil {
			child.ParentID = parent.ID
			child.MarkDirty()
		}
	}
	parent.MarkDirty()

	if err := t.alloc.Free(node); err != nil {
		return err
	}

	if len(parent.Entries) == 0 {
		return t.detachAndCollapse(parent)
	}
	return nil
}
