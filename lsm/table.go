package lsm

import (
	"encoding/binary"
	"fmt"
	"os"
	"sort"

	"github.com/nyaru-labs/kv/common"
	"github.com/nyaru-labs/kv/internal/bloom"
)

// targetBlockSize is the approximate size at which a data block is
// flushed; grounded on the teacher's fixed 4KB blockSize in
// sstable.go, kept as a soft target now that blocks are variable-
// length (prefix compression makes a hard 4KB ceiling the wrong fit).
const targetBlockSize = 4096

const tableMagic = 0x5354424c // "STBL", same constant the teacher used

// footer: index_offset(8) index_len(8) bloom_offset(8) bloom_len(8)
// min_key_len(4) max_key_len(4) magic(4), followed by min_key ‖ max_key
// before the fixed trailer. Grounded on the teacher's sstable.go
// footer/metadata split, merged into one fixed+variable trailer.
const footerFixedSize = 8 + 8 + 8 + 8 + 4 + 4 + 4

// Table is an immutable, sorted run of internal-key/value entries on
// disk: one file per (level, fileNum), same naming and per-level
// placement the teacher's SSTable/LevelManager used.
type Table struct {
	file    *os.File
	path    string
	level   int
	fileNum uint64
	icmp    common.InternalComparator

	index      []tableIndexEntry
	filter     *bloom.Filter
	minKey     []byte
	maxKey     []byte
	indexBlock *Block
}

type tableIndexEntry struct {
	lastKey []byte // last (largest) internal key in the referenced block
	offset  uint64
	length  uint32
}

// OpenTable opens an existing table file and loads its index, filter,
// and key-range metadata into memory (the data blocks stay on disk
// and are read on demand), matching the teacher's OpenSSTable split.
func OpenTable(path string, level int, fileNum uint64, icmp common.InternalComparator) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("lsm: open table: %w", err)
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	size := stat.Size()
	if size < footerFixedSize {
		f.Close()
		return nil, fmt.Errorf("lsm: table file too small")
	}

	fixed := make([]byte, footerFixedSize)
	if _, err := f.ReadAt(fixed, size-footerFixedSize); err != nil {
		f.Close()
		return nil, fmt.Errorf("lsm: read footer: %w", err)
	}
	indexOffset := binary.LittleEndian.Uint64(fixed[0:])
	indexLen := binary.LittleEndian.Uint64(fixed[8:])
	bloomOffset := binary.LittleEndian.Uint64(fixed[16:])
	bloomLen := binary.LittleEndian.Uint64(fixed[24:])
	minKeyLen := binary.LittleEndian.Uint32(fixed[32:])
	maxKeyLen := binary.LittleEndian.Uint32(fixed[36:])
	magic := binary.LittleEndian.Uint32(fixed[40:])
	if magic != tableMagic {
		f.Close()
		return nil, fmt.Errorf("lsm: bad table magic")
	}

	keysOffset := size - footerFixedSize - int64(minKeyLen) - int64(maxKeyLen)
	keysBuf := make([]byte, minKeyLen+maxKeyLen)
	if _, err := f.ReadAt(keysBuf, keysOffset); err != nil {
		f.Close()
		return nil, fmt.Errorf("lsm: read key range: %w", err)
	}
	minKey := append([]byte(nil), keysBuf[:minKeyLen]...)
	maxKey := append([]byte(nil), keysBuf[minKeyLen:]...)

	indexRaw := make([]byte, indexLen)
	if _, err := f.ReadAt(indexRaw, int64(indexOffset)); err != nil {
		f.Close()
		return nil, fmt.Errorf("lsm: read index block: %w", err)
	}
	indexBlock, err := NewBlock(indexRaw)
	if err != nil {
		f.Close()
		return nil, err
	}
	index, err := decodeIndexBlock(indexBlock)
	if err != nil {
		f.Close()
		return nil, err
	}

	var filter *bloom.Filter
	if bloomLen > 0 {
		bloomRaw := make([]byte, bloomLen)
		if _, err := f.ReadAt(bloomRaw, int64(bloomOffset)); err != nil {
			f.Close()
			return nil, fmt.Errorf("lsm: read bloom filter: %w", err)
		}
		filter = bloom.DecodeFilter(bloomRaw)
	}

	return &Table{
		file: f, path: path, level: level, fileNum: fileNum, icmp: icmp,
		index: index, filter: filter, minKey: minKey, maxKey: maxKey,
		indexBlock: indexBlock,
	}, nil
}

// decodeIndexBlock reads (lastKey -> offset,length) entries stored as
// value = uint64(offset) ‖ uint32(length) under key = lastKey.
func decodeIndexBlock(blk *Block) ([]tableIndexEntry, error) {
	var entries []tableIndexEntry
	it := blk.NewIterator()
	for it.SeekToFirst(); it.Valid(); it.Next() {
		v := it.Value()
		if len(v) != 12 {
			return nil, fmt.Errorf("lsm: corrupt index entry")
		}
		entries = append(entries, tableIndexEntry{
			lastKey: append([]byte(nil), it.Key()...),
			offset:  binary.LittleEndian.Uint64(v[0:]),
			length:  binary.LittleEndian.Uint32(v[8:]),
		})
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	return entries, nil
}

// Get returns the value (and its tag) for the newest internal key
// matching userKey with version <= asOf, or found=false.
func (t *Table) Get(userKey []byte, asOf uint64) (value []byte, tag common.Tag, found bool, err error) {
	if t.filter != nil && !t.filter.MayContain(userKey) {
		return nil, 0, false, nil
	}
	seekKey := common.InternalKey(userKey, common.ForSeek(asOf))
	idx := sort.Search(len(t.index), func(i int) bool {
		return t.icmp.Compare(t.index[i].lastKey, seekKey) >= 0
	})
	if idx == len(t.index) {
		return nil, 0, false, nil
	}
	blk, err := t.readBlock(t.index[idx])
	if err != nil {
		return nil, 0, false, err
	}
	bit := blk.NewIterator()
	bit.Seek(t.icmp.Compare, seekKey)
	if !bit.Valid() {
		return nil, 0, false, nil
	}
	uk, tg := common.SplitInternalKey(bit.Key())
	if t.icmp.UserCmp.Compare(uk, userKey) != 0 {
		return nil, 0, false, nil
	}
	return append([]byte(nil), bit.Value()...), tg, true, nil
}

func (t *Table) readBlock(e tableIndexEntry) (*Block, error) {
	buf := make([]byte, e.length)
	if _, err := t.file.ReadAt(buf, int64(e.offset)); err != nil {
		return nil, fmt.Errorf("lsm: read data block: %w", err)
	}
	return NewBlock(buf)
}

// Overlaps reports whether [start, end] intersects this table's key
// range (nil start/end means unbounded on that side).
func (t *Table) Overlaps(cmp common.Comparator, start, end []byte) bool {
	if start != nil && cmp.Compare(t.maxKey, start) < 0 {
		return false
	}
	if end != nil && cmp.Compare(t.minKey, end) > 0 {
		return false
	}
	return true
}

func (t *Table) MinKey() []byte    { return t.minKey }
func (t *Table) MaxKey() []byte    { return t.maxKey }
func (t *Table) Level() int        { return t.level }
func (t *Table) FileNum() uint64   { return t.fileNum }
func (t *Table) Path() string      { return t.path }

func (t *Table) Close() error {
	if t.file != nil {
		return t.file.Close()
	}
	return nil
}

func (t *Table) Remove() error {
	t.Close()
	return os.Remove(t.path)
}

// NewTableIterator returns an iterator over every internal key in the
// table (forward, and backward via SeekToLast/Prev), used by compaction
// and the DB-level merging iterator.
func (t *Table) NewTableIterator() *tableIterator {
	return &tableIterator{table: t}
}

type tableIterator struct {
	table   *Table
	blkIdx  int
	blk     *BlockIterator
	err     error
}

func (it *tableIterator) loadBlock(i int) bool {
	if i < 0 || i >= len(it.table.index) {
		it.blk = nil
		return false
	}
	blk, err := it.table.readBlock(it.table.index[i])
	if err != nil {
		it.err = err
		it.blk = nil
		return false
	}
	it.blkIdx = i
	it.blk = blk.NewIterator()
	return true
}

func (it *tableIterator) SeekToFirst() {
	if !it.loadBlock(0) {
		return
	}
	it.blk.SeekToFirst()
	it.advanceEmptyBlocks()
}

func (it *tableIterator) advanceEmptyBlocks() {
	for it.blk != nil && !it.blk.Valid() {
		if !it.loadBlock(it.blkIdx + 1) {
			return
		}
		it.blk.SeekToFirst()
	}
}

func (it *tableIterator) Seek(target []byte) {
	idx := sort.Search(len(it.table.index), func(i int) bool {
		return it.table.icmp.Compare(it.table.index[i].lastKey, target) >= 0
	})
	if !it.loadBlock(idx) {
		return
	}
	it.blk.Seek(it.table.icmp.Compare, target)
	it.advanceEmptyBlocks()
}

func (it *tableIterator) Valid() bool { return it.err == nil && it.blk != nil && it.blk.Valid() }
func (it *tableIterator) Error() error { return it.err }
func (it *tableIterator) Key() []byte   { return it.blk.Key() }
func (it *tableIterator) Value() []byte { return it.blk.Value() }

func (it *tableIterator) Next() bool {
	if it.blk == nil {
		return false
	}
	if !it.blk.Next() {
		if !it.loadBlock(it.blkIdx + 1) {
			return false
		}
		it.blk.SeekToFirst()
		it.advanceEmptyBlocks()
	}
	return it.Valid()
}

func (it *tableIterator) SeekToLast() {
	if !it.loadBlock(len(it.table.index) - 1) {
		return
	}
	it.blk.SeekToLast()
}

func (it *tableIterator) Prev() bool {
	if it.blk == nil {
		return false
	}
	if !it.blk.Prev() {
		if !it.loadBlock(it.blkIdx - 1) {
			return false
		}
		it.blk.SeekToLast()
	}
	return it.Valid()
}

// TableBuilder assembles data blocks, a bloom filter, and an index
// block into one table file. Entries must arrive in ascending internal
// key order, matching the teacher's SSTableBuilder.Add contract.
type TableBuilder struct {
	file       *os.File
	path       string
	dataBlock  *BlockBuilder
	indexBlock *BlockBuilder
	filter     *bloom.Filter
	minKey     []byte
	maxKey     []byte
	numEntries int
	offset     uint64
}

func NewTableBuilder(path string, expectedKeys int) (*TableBuilder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("lsm: create table: %w", err)
	}
	return &TableBuilder{
		file:       f,
		path:       path,
		dataBlock:  NewBlockBuilder(),
		indexBlock: NewBlockBuilder(),
		filter:     bloom.NewFilter(expectedKeys, 0.01),
	}, nil
}

// Add appends one internal-key/value entry.
func (b *TableBuilder) Add(internalKey, value []byte) error {
	if b.numEntries == 0 {
		b.minKey = append([]byte(nil), internalKey...)
	}
	b.maxKey = append(b.maxKey[:0], internalKey...)
	b.numEntries++

	userKey, _ := common.SplitInternalKey(internalKey)
	b.filter.Add(userKey)

	b.dataBlock.Add(internalKey, value)
	if b.dataBlock.EstimatedSize() >= targetBlockSize {
		return b.flushDataBlock()
	}
	return nil
}

func (b *TableBuilder) flushDataBlock() error {
	if b.dataBlock.Empty() {
		return nil
	}
	data := b.dataBlock.Finish()
	lastKey := append([]byte(nil), b.dataBlock.lastKey...)
	if _, err := b.file.Write(data); err != nil {
		return fmt.Errorf("lsm: write data block: %w", err)
	}

	var v [12]byte
	binary.LittleEndian.PutUint64(v[0:], b.offset)
	binary.LittleEndian.PutUint32(v[8:], uint32(len(data)))
	b.indexBlock.Add(lastKey, v[:])

	b.offset += uint64(len(data))
	b.dataBlock.Reset()
	return nil
}

// Finish flushes remaining data, writes the index block, bloom filter,
// min/max keys, and footer, then closes the file.
func (b *TableBuilder) Finish() error {
	if err := b.flushDataBlock(); err != nil {
		return err
	}

	indexOffset := b.offset
	indexData := b.indexBlock.Finish()
	if _, err := b.file.Write(indexData); err != nil {
		return fmt.Errorf("lsm: write index block: %w", err)
	}
	b.offset += uint64(len(indexData))

	bloomOffset := b.offset
	bloomData := b.filter.Encode()
	if _, err := b.file.Write(bloomData); err != nil {
		return fmt.Errorf("lsm: write bloom filter: %w", err)
	}
	b.offset += uint64(len(bloomData))

	if _, err := b.file.Write(b.minKey); err != nil {
		return err
	}
	if _, err := b.file.Write(b.maxKey); err != nil {
		return err
	}

	footer := make([]byte, footerFixedSize)
	binary.LittleEndian.PutUint64(footer[0:], indexOffset)
	binary.LittleEndian.PutUint64(footer[8:], uint64(len(indexData)))
	binary.LittleEndian.PutUint64(footer[16:], bloomOffset)
	binary.LittleEndian.PutUint64(footer[24:], uint64(len(bloomData)))
	binary.LittleEndian.PutUint32(footer[32:], uint32(len(b.minKey)))
	binary.LittleEndian.PutUint32(footer[36:], uint32(len(b.maxKey)))
	binary.LittleEndian.PutUint32(footer[40:], tableMagic)
	if _, err := b.file.Write(footer); err != nil {
		return fmt.Errorf("lsm: write footer: %w", err)
	}

	if err := b.file.Sync(); err != nil {
		return err
	}
	return b.file.Close()
}

func (b *TableBuilder) Abort() error {
	b.file.Close()
	return os.Remove(b.path)
}

func (b *TableBuilder) NumEntries() int { return b.numEntries }
