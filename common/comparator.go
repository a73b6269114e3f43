package common

import "bytes"

// Comparator is an injected total order over user keys, carrying a Name
// used for on-disk format compatibility checks: the btree engine records
// the comparator's name in its CURRENT file (see original_source
// yukino::Comparator, SPEC_FULL §13) and rejects a reopen with a
// differently-named comparator with InvalidArgument rather than silently
// reordering data. The lsm engine always orders keys with
// BytewiseComparator and records no name.
type Comparator interface {
	Compare(a, b []byte) int
	Name() string
}

// bytewiseComparator orders keys lexicographically, byte by byte. This
// is the default used when Options.Comparator is nil.
type bytewiseComparator struct{}

func (bytewiseComparator) Compare(a, b []byte) int { return bytes.Compare(a, b) }
func (bytewiseComparator) Name() string            { return "kv.BytewiseComparator" }

// BytewiseComparator is the default Comparator: lexicographic byte-wise
// ordering.
var BytewiseComparator Comparator = bytewiseComparator{}
