// Package log implements the record-oriented write-ahead log framing
// shared by both storage engines (design component C5), grounded on
// original_source/src/lsm/log.h and the teacher's btree/wal.go and
// lsm/wal.go, which this package replaces with one implementation both
// engines' WALs build on.
//
// The file is divided into fixed blocks (default 32KiB). A record is a
// sequence of (header, payload) fragments, each fitting within one
// block. Header: crc32(4) || length(2) || type(1). If fewer than
// HeaderSize bytes remain in a block, the writer zero-pads and rolls to
// the next block.
package log

import (
	"bufio"
	"io"

	"github.com/nyaru-labs/kv/internal/crc"
)

type RecordType byte

const (
	// ZeroType marks a preallocated hole; readers skip zero fragments.
	ZeroType RecordType = 0
	FullType RecordType = 1
	// FirstType/MiddleType/LastType fragment a record that spans more
	// than one block.
	FirstType  RecordType = 2
	MiddleType RecordType = 3
	LastType   RecordType = 4
)

const (
	HeaderSize       = 4 + 2 + 1
	DefaultBlockSize = 32 * 1024
)

// Writer frames records onto an underlying io.Writer, tracking its
// position within the current block so it knows when to pad and roll.
type Writer struct {
	w           io.Writer
	blockSize   int
	blockOffset int
}

func NewWriter(w io.Writer) *Writer {
	return NewWriterSize(w, DefaultBlockSize)
}

func NewWriterSize(w io.Writer, blockSize int) *Writer {
	return &Writer{w: w, blockSize: blockSize}
}

// Append writes record as one or more physical fragments, padding and
// rolling to a new block whenever fewer than HeaderSize bytes remain.
func (lw *Writer) Append(record []byte) error {
	begin := true
	for {
		leftover := lw.blockSize - lw.blockOffset
		if leftover < HeaderSize {
			if leftover > 0 {
				if err := lw.writeZeros(leftover); err != nil {
					return err
				}
			}
			lw.blockOffset = 0
		}

		avail := lw.blockSize - lw.blockOffset - HeaderSize
		fragLen := len(record)
		if fragLen > avail {
			fragLen = avail
		}

		end := fragLen == len(record)
		var typ RecordType
		switch {
		case begin && end:
			typ = FullType
		case begin:
			typ = FirstType
		case end:
			typ = LastType
		default:
			typ = MiddleType
		}

		if err := lw.emit(record[:fragLen], typ); err != nil {
			return err
		}
		record = record[fragLen:]
		begin = false
		if len(record) == 0 {
			return nil
		}
	}
}

func (lw *Writer) emit(payload []byte, typ RecordType) error {
	var hdr [HeaderSize]byte
	c := crc.Checksum(payload)
	c = crc.Extend(c, []byte{byte(typ)})
	putUint32(hdr[0:4], c)
	putUint16(hdr[4:6], uint16(len(payload)))
	hdr[6] = byte(typ)

	if _, err := lw.w.Write(hdr[:]); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := lw.w.Write(payload); err != nil {
			return err
		}
	}
	lw.blockOffset += HeaderSize + len(payload)
	return nil
}

func (lw *Writer) writeZeros(n int) error {
	zeros := make([]byte, n)
	_, err := lw.w.Write(zeros)
	return err
}

func putUint32(b []byte, v uint32) {
	b[0], b[1], b[2], b[3] = byte(v), byte(v>>8), byte(v>>16), byte(v>>24)
}
func putUint16(b []byte, v uint16) { b[0], b[1] = byte(v), byte(v>>8) }
func getUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
func getUint16(b []byte) uint16 { return uint16(b[0]) | uint16(b[1])<<8 }

// Reader returns one logical record at a time, concatenating fragments
// into a reusable scratch buffer.
type Reader struct {
	r           *bufio.Reader
	blockSize   int
	blockOffset int
	checksum    bool
	err         error
}

func NewReader(r io.Reader, verifyChecksums bool) *Reader {
	return NewReaderSize(r, verifyChecksums, DefaultBlockSize)
}

func NewReaderSize(r io.Reader, verifyChecksums bool, blockSize int) *Reader {
	return &Reader{r: bufio.NewReaderSize(r, blockSize), blockSize: blockSize, checksum: verifyChecksums}
}

// ErrCorruptRecord is returned (wrapped) when a CRC mismatches or a
// fragment sequence is malformed (Middle/Last without a preceding
// First, or a First/Full in the middle of an open fragment).
var ErrCorruptRecord = corruptErr{}

type corruptErr struct{}

func (corruptErr) Error() string { return "log: corrupt record" }

// Read returns the next logical record, reusing scratch's backing array
// when the record is a multi-fragment record, returning io.EOF when the
// stream is exhausted.
func (lr *Reader) Read(scratch []byte) ([]byte, error) {
	if lr.err != nil {
		return nil, lr.err
	}
	scratch = scratch[:0]
	inFragmentedRecord := false

	for {
		payload, typ, err := lr.readPhysicalRecord()
		if err != nil {
			lr.err = err
			return nil, err
		}
		switch typ {
		case ZeroType:
			// preallocated hole; skip.
			continue
		case FullType:
			if inFragmentedRecord {
				return nil, ErrCorruptRecord
			}
			return payload, nil
		case FirstType:
			if inFragmentedRecord {
				return nil, ErrCorruptRecord
			}
			scratch = append(scratch, payload...)
			inFragmentedRecord = true
		case MiddleType:
			if !inFragmentedRecord {
				return nil, ErrCorruptRecord
			}
			scratch = append(scratch, payload...)
		case LastType:
			if !inFragmentedRecord {
				return nil, ErrCorruptRecord
			}
			scratch = append(scratch, payload...)
			return scratch, nil
		default:
			return nil, ErrCorruptRecord
		}
	}
}

func (lr *Reader) readPhysicalRecord() ([]byte, RecordType, error) {
	leftover := lr.blockSize - lr.blockOffset
	if leftover < HeaderSize {
		if leftover > 0 {
			if _, err := io.CopyN(io.Discard, lr.r, int64(leftover)); err != nil {
				return nil, 0, err
			}
		}
		lr.blockOffset = 0
	}

	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(lr.r, hdr[:]); err != nil {
		return nil, 0, err
	}
	length := getUint16(hdr[4:6])
	typ := RecordType(hdr[6])

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(lr.r, payload); err != nil {
			return nil, 0, err
		}
	}
	lr.blockOffset += HeaderSize + int(length)

	if typ != ZeroType && lr.checksum {
		want := getUint32(hdr[0:4])
		got := crc.Checksum(payload)
		got = crc.Extend(got, []byte{byte(typ)})
		if want != got {
			return nil, 0, ErrCorruptRecord
		}
	}
	return payload, typ, nil
}
