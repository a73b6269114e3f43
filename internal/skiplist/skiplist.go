// Package skiplist implements the lock-free-for-readers, single-writer
// skiplist from the design's C3 component, grounded on
// original_source/src/lsm/skiplist.h. Height is chosen per node as
// 1 + geometric(p=1/kBranching), capped at kMaxHeight; next pointers use
// atomic release stores on insert and acquire loads on read so a reader
// never observes a half-initialized successor.
package skiplist

import (
	"math/rand"
	"sync/atomic"
)

const (
	MaxHeight = 12
	Branching = 4
)

// Comparator orders keys; duplicate insertion is forbidden by the
// structure (callers must Contains/Seek before Put if duplicates are
// possible in their domain).
type Comparator func(a, b []byte) int

type node struct {
	key  []byte
	next []atomic.Pointer[node]
}

func newNode(key []byte, height int) *node {
	return &node{key: key, next: make([]atomic.Pointer[node], height)}
}

func (n *node) getNext(level int) *node  { return n.next[level].Load() }
func (n *node) setNext(level int, x *node) { n.next[level].Store(x) }

// SkipList is safe for any number of concurrent readers while a single
// writer calls Put; it is not safe for concurrent writers.
type SkipList struct {
	compare    Comparator
	head       *node
	maxHeight  atomic.Int32
	rnd        *rand.Rand
}

// New creates an empty skiplist ordered by compare.
func New(compare Comparator) *SkipList {
	s := &SkipList{
		compare: compare,
		head:    newNode(nil, MaxHeight),
		rnd:     rand.New(rand.NewSource(0xc0ffee)),
	}
	s.maxHeight.Store(1)
	return s
}

func (s *SkipList) height() int { return int(s.maxHeight.Load()) }

func (s *SkipList) randomHeight() int {
	h := 1
	for h < MaxHeight && s.rnd.Intn(Branching) == 0 {
		h++
	}
	return h
}

func (s *SkipList) keyIsAfterNode(key []byte, n *node) bool {
	return n != nil && s.compare(n.key, key) < 0
}

// findGreaterOrEqual returns the first node with key >= key, and if
// prev is non-nil fills it with, at each level, the last node visited
// before crossing into the returned node — the classic skiplist search
// used by both Put and Seek.
func (s *SkipList) findGreaterOrEqual(key []byte, prev []*node) *node {
	x := s.head
	level := s.height() - 1
	for {
		next := x.getNext(level)
		if s.keyIsAfterNode(key, next) {
			x = next
		} else {
			if prev != nil {
				prev[level] = x
			}
			if level == 0 {
				return next
			}
			level--
		}
	}
}

func (s *SkipList) findLessThan(key []byte) *node {
	x := s.head
	level := s.height() - 1
	for {
		next := x.getNext(level)
		if next == nil || s.compare(next.key, key) >= 0 {
			if level == 0 {
				return x
			}
			level--
		} else {
			x = next
		}
	}
}

func (s *SkipList) findLast() *node {
	x := s.head
	level := s.height() - 1
	for {
		next := x.getNext(level)
		if next == nil {
			if level == 0 {
				return x
			}
			level--
		} else {
			x = next
		}
	}
}

// Put inserts key. Duplicate insertion (a key equal under the
// comparator to one already present) is forbidden and will corrupt
// iteration order if attempted; callers that need upsert semantics
// layer a tombstone/version scheme on top (as the LSM memtable does).
func (s *SkipList) Put(key []byte) {
	var prev [MaxHeight]*node
	s.findGreaterOrEqual(key, prev[:])

	height := s.randomHeight()
	if height > s.height() {
		for i := s.height(); i < height; i++ {
			prev[i] = s.head
		}
		s.maxHeight.Store(int32(height))
	}

	x := newNode(key, height)
	for i := 0; i < height; i++ {
		x.setNext(i, prev[i].getNext(i))
		prev[i].setNext(i, x)
	}
}

// Contains reports whether key is present.
func (s *SkipList) Contains(key []byte) bool {
	x := s.findGreaterOrEqual(key, nil)
	return x != nil && s.compare(x.key, key) == 0
}

// Iterator provides forward and backward traversal, seeking, and
// first/last positioning.
type Iterator struct {
	list *SkipList
	node *node
}

func (s *SkipList) NewIterator() *Iterator {
	return &Iterator{list: s}
}

func (it *Iterator) Valid() bool   { return it.node != nil }
func (it *Iterator) Key() []byte   { return it.node.key }

func (it *Iterator) Next() {
	it.node = it.node.getNext(0)
}

// Prev uses the list's findLessThan helper, per the design note that
// backward iteration over a forward-only linked structure must restart
// the search from head rather than maintain a reverse pointer.
func (it *Iterator) Prev() {
	it.node = it.list.findLessThan(it.node.key)
	if it.node == it.list.head {
		it.node = nil
	}
}

func (it *Iterator) Seek(target []byte) {
	it.node = it.list.findGreaterOrEqual(target, nil)
}

func (it *Iterator) SeekToFirst() {
	it.node = it.list.head.getNext(0)
}

func (it *Iterator) SeekToLast() {
	it.node = it.list.findLast()
	if it.node == it.list.head {
		it.node = nil
	}
}
