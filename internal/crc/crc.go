// Package crc provides the CRC32 and buffered-I/O primitives from the
// design's C1 component: a running digest wraps the zlib polynomial
// (hash/crc32.IEEETable) so block/record trailers can be verified after
// reading, plus a geometrically-growing buffered writer.
package crc

import "hash/crc32"

// table is the standard polynomial used by zlib, matching spec.md §4.1.
var table = crc32.MakeTable(crc32.IEEE)

// Checksum computes the CRC32 of data in one shot.
func Checksum(data []byte) uint32 {
	return crc32.Checksum(data, table)
}

// Extend returns the CRC32 of (logically) the bytes that produced crc
// followed by data, without re-scanning the original bytes — used by
// record framing to fold the type byte and payload into one checksum
// incrementally.
func Extend(crc uint32, data []byte) uint32 {
	return crc32.Update(crc, table, data)
}

// VerifiedReader wraps an underlying reader and accumulates a running
// digest of everything read through it, so a caller can check the
// accumulated digest against a trailer once a block/record boundary is
// reached.
type VerifiedReader struct {
	r   func(p []byte) (int, error)
	crc uint32
}

// NewVerifiedReader wraps read, a function reading into a buffer
// exactly like io.Reader.Read, with CRC accumulation.
func NewVerifiedReader(read func(p []byte) (int, error)) *VerifiedReader {
	return &VerifiedReader{r: read}
}

func (v *VerifiedReader) Read(p []byte) (int, error) {
	n, err := v.r(p)
	if n > 0 {
		v.crc = Extend(v.crc, p[:n])
	}
	return n, err
}

func (v *VerifiedReader) Sum() uint32 { return v.crc }
func (v *VerifiedReader) Reset()      { v.crc = 0 }

// BufferedWriter is a growable byte buffer used while building a page,
// block, or record payload before it is handed to the OS. Growth
// follows the design's rule: cap' = max(cap*2+128, cap+add).
type BufferedWriter struct {
	buf []byte
}

func NewBufferedWriter(initialCap int) *BufferedWriter {
	return &BufferedWriter{buf: make([]byte, 0, initialCap)}
}

func (w *BufferedWriter) grow(add int) {
	need := len(w.buf) + add
	if need <= cap(w.buf) {
		return
	}
	newCap := cap(w.buf)*2 + 128
	if need > newCap {
		newCap = len(w.buf) + add
	}
	nb := make([]byte, len(w.buf), newCap)
	copy(nb, w.buf)
	w.buf = nb
}

// Write appends p, growing the backing buffer as needed.
func (w *BufferedWriter) Write(p []byte) (int, error) {
	w.grow(len(p))
	w.buf = append(w.buf, p...)
	return len(p), nil
}

// WriteByte appends a single byte.
func (w *BufferedWriter) WriteByte(b byte) error {
	w.grow(1)
	w.buf = append(w.buf, b)
	return nil
}

// Skip appends n zero bytes, used to pad a block to its boundary.
func (w *BufferedWriter) Skip(n int) {
	w.grow(n)
	for i := 0; i < n; i++ {
		w.buf = append(w.buf, 0)
	}
}

func (w *BufferedWriter) Bytes() []byte { return w.buf }
func (w *BufferedWriter) Len() int      { return len(w.buf) }
func (w *BufferedWriter) Reset()        { w.buf = w.buf[:0] }
