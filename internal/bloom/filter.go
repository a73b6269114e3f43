package bloom

import (
	"encoding/binary"
	"math"
)

// Filter is a probabilistic membership structure used to skip table
// reads that cannot contain a key. Per spec.md §4.6 it hashes each key
// with five classic string hash functions (JS, BKDR, ELF, AP, RS) and
// maps each to a bit position modulo the bitmap size, rather than the
// double-hashing scheme a generic Bloom filter implementation would
// use — this is the one place the design names concrete algorithms, so
// Filter follows them exactly instead of substituting FNV.
type Filter struct {
	bitmap    *Bitmap
	numHashes int
}

// NewFilter sizes a filter for expectedKeys entries at the requested
// falsePositiveRate, using the standard optimal-parameters formulas,
// then clamps to the five named hash functions (never more than 5
// independent probes, since only five are defined).
func NewFilter(expectedKeys int, falsePositiveRate float64) *Filter {
	if expectedKeys < 1 {
		expectedKeys = 1
	}
	numBits := int(math.Ceil(-float64(expectedKeys) * math.Log(falsePositiveRate) / (math.Ln2 * math.Ln2)))
	if numBits < 8 {
		numBits = 8
	}
	numHashes := int(math.Ceil(float64(numBits) / float64(expectedKeys) * math.Ln2))
	if numHashes < 1 {
		numHashes = 1
	}
	if numHashes > 5 {
		numHashes = 5
	}
	return &Filter{bitmap: NewBitmap(numBits), numHashes: numHashes}
}

// ApproximateCounting estimates the number of distinct keys inserted,
// per spec.md §4.6: popcount / numHashes.
func (f *Filter) ApproximateCounting() float64 {
	return float64(f.bitmap.PopCount()) / float64(f.numHashes)
}

func (f *Filter) positions(key []byte) []int {
	fns := [5]func([]byte) uint32{hashJS, hashBKDR, hashELF, hashAP, hashRS}
	pos := make([]int, f.numHashes)
	m := uint32(f.bitmap.Len())
	for i := 0; i < f.numHashes; i++ {
		pos[i] = int(fns[i](key) % m)
	}
	return pos
}

func (f *Filter) Add(key []byte) {
	for _, p := range f.positions(key) {
		f.bitmap.Set(p)
	}
}

// MayContain returns false only when key is definitely absent.
func (f *Filter) MayContain(key []byte) bool {
	for _, p := range f.positions(key) {
		if !f.bitmap.Test(p) {
			return false
		}
	}
	return true
}

// Encode serializes the filter as [numBits(4)][numHashes(4)][bits...].
func (f *Filter) Encode() []byte {
	buf := make([]byte, 8+len(f.bitmap.Bytes()))
	binary.LittleEndian.PutUint32(buf[0:], uint32(f.bitmap.Len()))
	binary.LittleEndian.PutUint32(buf[4:], uint32(f.numHashes))
	copy(buf[8:], f.bitmap.Bytes())
	return buf
}

// DecodeFilter parses a filter previously produced by Encode.
func DecodeFilter(data []byte) *Filter {
	if len(data) < 8 {
		return nil
	}
	numBits := int(binary.LittleEndian.Uint32(data[0:]))
	numHashes := int(binary.LittleEndian.Uint32(data[4:]))
	bits := make([]byte, len(data)-8)
	copy(bits, data[8:])
	return &Filter{bitmap: WrapBitmap(bits, numBits), numHashes: numHashes}
}

// The five named string hash functions from spec.md §4.6.

func hashJS(key []byte) uint32 {
	var hash uint32 = 1315423911
	for _, c := range key {
		hash ^= (hash << 5) + uint32(c) + (hash >> 2)
	}
	return hash
}

func hashBKDR(key []byte) uint32 {
	const seed uint32 = 131
	var hash uint32
	for _, c := range key {
		hash = hash*seed + uint32(c)
	}
	return hash
}

func hashELF(key []byte) uint32 {
	var hash, x uint32
	for _, c := range key {
		hash = (hash << 4) + uint32(c)
		x = hash & 0xF0000000
		if x != 0 {
			hash ^= x >> 24
		}
		hash &^= x
	}
	return hash
}

func hashAP(key []byte) uint32 {
	var hash uint32 = 0
	for i, c := range key {
		if i&1 == 0 {
			hash ^= (hash << 7) ^ uint32(c) ^ (hash >> 3)
		} else {
			hash ^= ^((hash << 11) ^ uint32(c) ^ (hash >> 5))
		}
	}
	return hash
}

func hashRS(key []byte) uint32 {
	var a uint32 = 63689
	const b uint32 = 378551
	var hash uint32
	for _, c := range key {
		hash = hash*a + uint32(c)
		a *= b
	}
	return hash
}
