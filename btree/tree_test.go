package btree

import (
	"fmt"
	"math/rand"
	"sort"
	"testing"

	"github.com/nyaru-labs/kv/common"
	"github.com/stretchr/testify/require"
)

// memAllocator is an in-memory PageAllocator test double, letting Tree
// invariants be checked without the Table/file-format layer (spec.md
// §8 testable property 4: "B+tree laws").
type memAllocator struct {
	pages  map[uint64]*Page
	nextID uint64
	root   uint64
}

func newMemAllocator() *memAllocator {
	a := &memAllocator{pages: make(map[uint64]*Page)}
	root := newLeaf(a.allocID())
	a.pages[root.ID] = root
	a.root = root.ID
	return a
}

func (a *memAllocator) allocID() uint64 { a.nextID++; return a.nextID }

func (a *memAllocator) Allocate(numEntries int) (*Page, error) {
	p := &Page{ID: a.allocID(), ParentID: NoParent}
	a.pages[p.ID] = p
	return p, nil
}

func (a *memAllocator) Free(p *Page) error {
	delete(a.pages, p.ID)
	return nil
}

func (a *memAllocator) Duplicate(key []byte) []byte { return append([]byte(nil), key...) }

func (a *memAllocator) Get(id uint64, cached bool) (*Page, error) {
	p, ok := a.pages[id]
	if !ok {
		return nil, ErrCellNotFound
	}
	return p, nil
}

func (a *memAllocator) Root() uint64       { return a.root }
func (a *memAllocator) SetRoot(id uint64)  { a.root = id }

func newTestTree(order int) *Tree {
	return NewTree(order, common.BytewiseComparator, newMemAllocator())
}

func leafChainKeys(t *testing.T, tree *Tree) []string {
	it := NewIterator(tree)
	var keys []string
	for it.SeekToFirst(); it.Valid(); it.Next() {
		keys = append(keys, string(it.Key()))
	}
	require.NoError(t, it.Error())
	return keys
}

func TestTreeInsertOrderIndependence(t *testing.T) {
	keys := make([]string, 200)
	for i := range keys {
		keys[i] = fmt.Sprintf("key%04d", i)
	}

	perm := append([]string(nil), keys...)
	rand.Shuffle(len(perm), func(i, j int) { perm[i], perm[j] = perm[j], perm[i] })

	tree := newTestTree(4)
	for _, k := range perm {
		require.NoError(t, tree.Put([]byte(k), []byte("v_"+k)))
	}

	sort.Strings(keys)
	require.Equal(t, keys, leafChainKeys(t, tree))

	for _, k := range keys {
		value, found, err := tree.Get([]byte(k))
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, "v_"+k, string(value))
	}
}

func TestTreeDeleteRemovesKeyFromLeafChain(t *testing.T) {
	tree := newTestTree(4)
	keys := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	for _, k := range keys {
		require.NoError(t, tree.Put([]byte(k), []byte(k)))
	}

	require.NoError(t, tree.Delete([]byte("c")))
	require.NoError(t, tree.Delete([]byte("f")))

	_, found, err := tree.Get([]byte("c"))
	require.NoError(t, err)
	require.False(t, found)

	require.Equal(t, []string{"a", "b", "d", "e", "g", "h"}, leafChainKeys(t, tree))
}

func TestTreeDeleteMissingKeyReturnsNotFound(t *testing.T) {
	tree := newTestTree(4)
	require.NoError(t, tree.Put([]byte("a"), []byte("1")))
	err := tree.Delete([]byte("zzz"))
	require.ErrorIs(t, err, common.ErrKeyNotFound)
}

func TestTreeReverseIterationMatchesSortedOrder(t *testing.T) {
	tree := newTestTree(3)
	keys := []string{"m", "a", "z", "d", "q", "b"}
	for _, k := range keys {
		require.NoError(t, tree.Put([]byte(k), []byte(k)))
	}

	it := NewIterator(tree)
	var scanned []string
	for it.SeekToLast(); it.Valid(); it.Prev() {
		scanned = append(scanned, string(it.Key()))
	}

	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	for i, j := 0, len(sorted)-1; i < j; i, j = i+1, j-1 {
		sorted[i], sorted[j] = sorted[j], sorted[i]
	}
	require.Equal(t, sorted, scanned)
}

func TestTreeSeekFindsLowerBound(t *testing.T) {
	tree := newTestTree(4)
	for _, k := range []string{"a", "c", "e", "g"} {
		require.NoError(t, tree.Put([]byte(k), []byte(k)))
	}

	it := NewIterator(tree)
	it.Seek([]byte("d"))
	require.True(t, it.Valid())
	require.Equal(t, "e", string(it.Key()))
}
