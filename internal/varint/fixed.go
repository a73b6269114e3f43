package varint

import "encoding/binary"

// Fixed-width little-endian helpers, the other half of C1 alongside the
// LEB128 varints above: used for header fields (lengths, CRCs, page
// ids) whose width must not depend on the value encoded.

func PutFixed16(buf []byte, x uint16) { binary.LittleEndian.PutUint16(buf, x) }
func Fixed16(buf []byte) uint16       { return binary.LittleEndian.Uint16(buf) }

func PutFixed32(buf []byte, x uint32) { binary.LittleEndian.PutUint32(buf, x) }
func Fixed32(buf []byte) uint32       { return binary.LittleEndian.Uint32(buf) }

func PutFixed64(buf []byte, x uint64) { binary.LittleEndian.PutUint64(buf, x) }
func Fixed64(buf []byte) uint64       { return binary.LittleEndian.Uint64(buf) }
