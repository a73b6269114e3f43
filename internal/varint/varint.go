// Package varint implements the byte-level codec primitives from the
// design's C1 component: little-endian fixed-width integers and 7-bit
// LEB128 varints; the CRC32 + buffered I/O helpers live in internal/crc.
// It is grounded on the teacher's btree/varint.go, generalized
// from a package-private uint16 helper into the full Varint32/Varint64
// pair the design calls for (kMaxLen 5 and 10 respectively).
package varint

import "errors"

var (
	ErrOverflow  = errors.New("varint: overflow")
	ErrTruncated = errors.New("varint: truncated")
)

const (
	// MaxLenVarint32 is Varint32::kMaxLen from the design: a 32-bit value
	// never needs more than 5 LEB128 bytes.
	MaxLenVarint32 = 5
	// MaxLenVarint64 is Varint64::kMaxLen: a 64-bit value never needs
	// more than 10 LEB128 bytes.
	MaxLenVarint64 = 10
)

// PutUvarint32 encodes x into buf and returns the number of bytes
// written. buf must have at least MaxLenVarint32 bytes of room.
func PutUvarint32(buf []byte, x uint32) int {
	return putUvarint(buf, uint64(x))
}

// PutUvarint64 encodes x into buf and returns the number of bytes
// written. buf must have at least MaxLenVarint64 bytes of room.
func PutUvarint64(buf []byte, x uint64) int {
	return putUvarint(buf, x)
}

func putUvarint(buf []byte, x uint64) int {
	i := 0
	for x >= 0x80 {
		buf[i] = byte(x) | 0x80
		x >>= 7
		i++
	}
	buf[i] = byte(x)
	return i + 1
}

// Uvarint32 decodes a uint32 from buf, returning the value and the
// number of bytes consumed. n <= 0 signals an error: n == 0 means buf
// was exhausted before a terminating byte, n < 0 means the encoded
// value overflows a uint32.
func Uvarint32(buf []byte) (uint32, int) {
	x, n := uvarint(buf, MaxLenVarint32)
	if n <= 0 {
		return 0, n
	}
	if x > 0xFFFFFFFF {
		return 0, -n
	}
	return uint32(x), n
}

// Uvarint64 decodes a uint64 from buf, returning the value and the
// number of bytes consumed, with the same n<=0 error convention as
// Uvarint32.
func Uvarint64(buf []byte) (uint64, int) {
	return uvarint(buf, MaxLenVarint64)
}

func uvarint(buf []byte, maxLen int) (uint64, int) {
	var x uint64
	var s uint
	for i, b := range buf {
		if i == maxLen {
			return 0, -(i + 1)
		}
		if b < 0x80 {
			if i == maxLen-1 && b > 1 {
				return 0, -(i + 1)
			}
			return x | uint64(b)<<s, i + 1
		}
		x |= uint64(b&0x7f) << s
		s += 7
	}
	return 0, 0
}

// SizeofUvarint32 returns the number of bytes PutUvarint32 would write
// for x.
func SizeofUvarint32(x uint32) int { return sizeofUvarint(uint64(x)) }

// SizeofUvarint64 returns the number of bytes PutUvarint64 would write
// for x.
func SizeofUvarint64(x uint64) int { return sizeofUvarint(x) }

func sizeofUvarint(x uint64) int {
	n := 1
	for x >= 0x80 {
		x >>= 7
		n++
	}
	return n
}

// ReadUvarint64 decodes a varint one byte at a time, pulling each byte
// from next (for example an io.ByteReader's ReadByte). It mirrors Uvarint64's error convention by returning
// ErrOverflow/ErrTruncated instead of a sign-encoded byte count, since a
// streaming reader cannot hand back "bytes consumed" on failure.
func ReadUvarint64(next func() (byte, error)) (uint64, error) {
	var x uint64
	var s uint
	for i := 0; ; i++ {
		b, err := next()
		if err != nil {
			return 0, err
		}
		if i == MaxLenVarint64 {
			return 0, ErrOverflow
		}
		if b < 0x80 {
			if i == MaxLenVarint64-1 && b > 1 {
				return 0, ErrOverflow
			}
			return x | uint64(b)<<s, nil
		}
		x |= uint64(b&0x7f) << s
		s += 7
	}
}
