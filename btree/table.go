package btree

import (
	"container/list"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"os"
	"sync"

	"github.com/nyaru-labs/kv/common"
	"github.com/nyaru-labs/kv/internal/area"
	"github.com/nyaru-labs/kv/internal/bloom"
	"github.com/nyaru-labs/kv/internal/varint"
)

// Table is the on-disk PageAllocator for the paged engine (design
// component C7): it persists logical B+tree Pages into a single file
// built from fixed-size physical blocks, with a page cache and a
// free-space bitmap, grounded on the teacher's pager.go generalized
// from fixed 4KB slotted pages to the design's chained-physical-block
// format (spec.md §3, §4.7).
//
// File layout: a header block (magic, page size, order) followed by
// physical blocks of physBlockSize bytes each: CRC32(4) | len(2) |
// type(1) | next(4) | payload. A logical Page whose encoding exceeds
// one block's payload is split across a forward chain of blocks
// (First/Middle/Last), mirroring the shared WAL's fragment framing
// (package log) so both engines reuse the same physical-record idiom.
type Table struct {
	mu sync.Mutex

	file          *os.File
	physBlockSize int
	headerBlocks  int // blocks consumed by the header

	cmp common.Comparator

	nextID   uint64
	nextTS   uint64
	rootID   uint64
	freeList []uint64

	bitmap   *bloom.Bitmap // 1 bit per physical block: allocated/free
	locIndex map[uint64]int64

	cache     map[uint64]*list.Element
	used      *list.List // recently touched pages, trimmed to kHoldCachedPage
	purge     *list.List // pages evicted from used, kept until dropped
	holdLimit int

	// keyArea backs Duplicate's separator-key copies: interior pages
	// hold many small, same-lifetime key buffers (they live as long as
	// the page itself, freed together on Close), the exact shape the
	// slab allocator targets instead of one GC-tracked allocation per
	// duplicated key.
	keyArea *area.Area
}

type cacheEntry struct {
	id   uint64
	page *Page
}

const (
	tableMagic          = 0x42542b31 // "BT+1"
	kHoldCachedPage      = 7
	defaultPhysBlockSize = 4096
)

type physBlockType byte

const (
	physZero physBlockType = iota
	physFull
	physFirst
	physMiddle
	physLast
)

const physHeaderSize = 4 + 2 + 1 + 4 // crc + len + type + next

var (
	ErrBadMagic       = errors.New("btree: bad table magic")
	ErrTruncatedBlock = errors.New("btree: truncated physical block")
	ErrBadChecksum    = errors.New("btree: physical block checksum mismatch")
)

// OpenTable opens (creating if absent) a Table-backed file at path.
func OpenTable(path string, cmp common.Comparator) (*Table, error) {
	if cmp == nil {
		cmp = common.BytewiseComparator
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if errors.Is(err, os.ErrNotExist) {
		return createTable(path, cmp)
	}
	if err != nil {
		return nil, err
	}
	return loadTable(f, cmp)
}

func createTable(path string, cmp common.Comparator) (*Table, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	t := &Table{
		file:          f,
		physBlockSize: defaultPhysBlockSize,
		cmp:           cmp,
		cache:         make(map[uint64]*list.Element),
		used:          list.New(),
		purge:         list.New(),
		holdLimit:     kHoldCachedPage,
		bitmap:        bloom.NewBitmap(1024),
		keyArea:       area.New(defaultPhysBlockSize),
	}
	if err := t.writeHeader(); err != nil {
		f.Close()
		return nil, err
	}
	root := newLeaf(t.allocID())
	t.putCache(root)
	t.rootID = root.ID
	if err := t.flushPage(root); err != nil {
		return nil, err
	}
	return t, nil
}

func loadTable(f *os.File, cmp common.Comparator) (*Table, error) {
	t := &Table{
		file:      f,
		cmp:       cmp,
		cache:     make(map[uint64]*list.Element),
		used:      list.New(),
		purge:     list.New(),
		holdLimit: kHoldCachedPage,
		keyArea:   area.New(defaultPhysBlockSize),
	}
	if err := t.readHeader(); err != nil {
		return nil, err
	}
	return t, t.recover()
}

func (t *Table) writeHeader() error {
	buf := make([]byte, 0, 32)
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], tableMagic)
	buf = append(buf, tmp[:]...)
	n := varint.PutUvarint32(tmp[:], uint32(t.physBlockSize))
	buf = append(buf, tmp[:n]...)
	n = varint.PutUvarint32(tmp[:], uint32(DefaultOrder))
	buf = append(buf, tmp[:n]...)
	t.headerBlocks = 1
	padded := make([]byte, t.physBlockSize)
	copy(padded, buf)
	_, err := t.file.WriteAt(padded, 0)
	return err
}

func (t *Table) readHeader() error {
	probe := make([]byte, defaultPhysBlockSize)
	n, err := t.file.ReadAt(probe, 0)
	if err != nil && n == 0 {
		return err
	}
	if binary.BigEndian.Uint32(probe[0:4]) != tableMagic {
		return ErrBadMagic
	}
	blockSize, n1 := varint.Uvarint32(probe[4:])
	if n1 <= 0 {
		return ErrCorrupt
	}
	if _, n2 := varint.Uvarint32(probe[4+n1:]); n2 <= 0 {
		return ErrCorrupt
	}
	t.physBlockSize = int(blockSize)
	t.headerBlocks = 1
	return nil
}

func (t *Table) allocID() uint64 {
	t.nextID++
	return t.nextID
}

// --- PageAllocator ---

func (t *Table) Allocate(numEntries int) (*Page, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := &Page{ID: t.allocID(), ParentID: NoParent, dirty: true}
	p.Entries = make([]Entry, 0, numEntries)
	t.putCacheLocked(p)
	return p, nil
}

func (t *Table) Free(p *Page) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if elem, ok := t.cache[p.ID]; ok {
		t.used.Remove(elem)
		delete(t.cache, p.ID)
	}
	t.freeList = append(t.freeList, p.ID)
	return nil
}

// Duplicate returns an Area-backed copy of key so separator keys held
// by interior pages don't each become a separate GC-tracked allocation.
func (t *Table) Duplicate(key []byte) []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := t.keyArea.Allocate(len(key))
	if c == nil {
		return nil
	}
	buf := c.Bytes()
	copy(buf, key)
	return buf
}

func (t *Table) Get(id uint64, cached bool) (*Page, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if elem, ok := t.cache[id]; ok {
		t.used.MoveToFront(elem)
		return elem.Value.(*cacheEntry).page, nil
	}
	page, err := t.loadPage(id)
	if err != nil {
		return nil, err
	}
	t.putCacheLocked(page)
	return page, nil
}

func (t *Table) Root() uint64 { return t.rootID }
func (t *Table) SetRoot(id uint64) {
	t.mu.Lock()
	t.rootID = id
	t.mu.Unlock()
}

func (t *Table) putCache(p *Page) { t.putCacheLocked(p) }

// putCacheLocked inserts p at the front of the used list, demoting
// anything beyond holdLimit into the purge list (kept, but first to
// be dropped under memory pressure) — the teacher's pager.go LRU with
// the design's two-list used/purge split (spec.md §4.7).
func (t *Table) putCacheLocked(p *Page) {
	elem := t.used.PushFront(&cacheEntry{id: p.ID, page: p})
	t.cache[p.ID] = elem
	for t.used.Len() > t.holdLimit {
		back := t.used.Back()
		t.used.Remove(back)
		t.purge.PushFront(back.Value)
		for t.purge.Len() > t.holdLimit*4 {
			old := t.purge.Back()
			t.purge.Remove(old)
			ce := old.Value.(*cacheEntry)
			if t.cache[ce.id] == nil {
				delete(t.cache, ce.id)
			}
		}
	}
}

// flushPage writes a dirty page to disk and clears its dirty bit.
func (t *Table) flushPage(p *Page) error {
	if !p.dirty {
		return nil
	}
	if err := t.writePage(p); err != nil {
		return err
	}
	p.clearDirty()
	return nil
}

// Sync flushes every cached dirty page and fsyncs the file, matching
// pager.go's Flush+Sync split.
func (t *Table) Sync() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.cache {
		ce := e.Value.(*cacheEntry)
		if err := t.flushPage(ce.page); err != nil {
			return fmt.Errorf("btree: flush page %d: %w", ce.id, err)
		}
	}
	return t.file.Sync()
}

func (t *Table) Close() error {
	if err := t.Sync(); err != nil {
		return err
	}
	t.keyArea.Purge()
	return t.file.Close()
}

// --- physical encode/decode ---

// encodePage serializes a Page's logical content (ParentID, Leaf,
// Link, Timestamp, Entries) to bytes, independent of physical chunking.
func encodePage(p *Page) []byte {
	buf := make([]byte, 0, 64+len(p.Entries)*16)
	var tmp [varint.MaxLenVarint64]byte
	putV := func(v uint64) {
		n := varint.PutUvarint64(tmp[:], v)
		buf = append(buf, tmp[:n]...)
	}
	putBytes := func(b []byte) {
		putV(uint64(len(b)))
		buf = append(buf, b...)
	}

	putV(p.ID)
	putV(p.ParentID)
	if p.Leaf {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	putV(p.Link)
	putV(p.Timestamp)
	putV(uint64(len(p.Entries)))
	for _, e := range p.Entries {
		putBytes(e.Key)
		if p.Leaf {
			putBytes(e.Value)
		} else {
			putV(e.Child)
		}
	}
	return buf
}

func decodePage(data []byte) (*Page, error) {
	p := &Page{}
	off := 0
	readV := func() (uint64, error) {
		v, n := varint.Uvarint64(data[off:])
		if n <= 0 {
			return 0, ErrCorrupt
		}
		off += n
		return v, nil
	}
	readBytes := func() ([]byte, error) {
		n, err := readV()
		if err != nil {
			return nil, err
		}
		if off+int(n) > len(data) {
			return nil, ErrCorrupt
		}
		b := append([]byte(nil), data[off:off+int(n)]...)
		off += int(n)
		return b, nil
	}

	id, err := readV()
	if err != nil {
		return nil, err
	}
	p.ID = id
	parentID, err := readV()
	if err != nil {
		return nil, err
	}
	p.ParentID = parentID
	if off >= len(data) {
		return nil, ErrCorrupt
	}
	p.Leaf = data[off] == 1
	off++
	if p.Link, err = readV(); err != nil {
		return nil, err
	}
	if p.Timestamp, err = readV(); err != nil {
		return nil, err
	}
	count, err := readV()
	if err != nil {
		return nil, err
	}
	p.Entries = make([]Entry, count)
	for i := range p.Entries {
		key, err := readBytes()
		if err != nil {
			return nil, err
		}
		p.Entries[i].Key = key
		if p.Leaf {
			val, err := readBytes()
			if err != nil {
				return nil, err
			}
			p.Entries[i].Value = val
		} else {
			child, err := readV()
			if err != nil {
				return nil, err
			}
			p.Entries[i].Child = child
		}
	}
	return p, nil
}

// writePage encodes p and writes it as a fresh chain of physical
// blocks at the end of the file, double-write-safe: the new chain is
// written before the page's old location is abandoned, so a crash
// mid-write leaves the previous version intact; writePage itself does
// not fsync, Sync does (design §4.7, mirroring the teacher's
// write-before-free discipline in pager.go's Flush).
func (t *Table) writePage(p *Page) error {
	t.nextTS++
	p.Timestamp = t.nextTS
	payload := encodePage(p)
	chunkSize := t.physBlockSize - physHeaderSize
	if chunkSize <= 0 {
		return fmt.Errorf("btree: block size %d too small", t.physBlockSize)
	}

	info, err := t.file.Stat()
	if err != nil {
		return err
	}
	startOffset := info.Size()

	numChunks := (len(payload) + chunkSize - 1) / chunkSize
	if numChunks == 0 {
		numChunks = 1
	}

	offset := startOffset
	for i := 0; i < numChunks; i++ {
		lo := i * chunkSize
		hi := lo + chunkSize
		if hi > len(payload) {
			hi = len(payload)
		}
		chunk := payload[lo:hi]

		var typ physBlockType
		switch {
		case numChunks == 1:
			typ = physFull
		case i == 0:
			typ = physFirst
		case i == numChunks-1:
			typ = physLast
		default:
			typ = physMiddle
		}

		// Every physical block occupies exactly physBlockSize bytes on
		// disk, chunk or no, so offsets stay block-index arithmetic
		// (start + i*physBlockSize) regardless of the final chunk's
		// length.
		block := make([]byte, t.physBlockSize)
		binary.LittleEndian.PutUint16(block[4:6], uint16(len(chunk)))
		block[6] = byte(typ)
		next := uint32(0)
		hasNext := typ == physFirst || typ == physMiddle
		if hasNext {
			next = uint32((offset + int64(t.physBlockSize)) / int64(t.physBlockSize))
		}
		binary.LittleEndian.PutUint32(block[7:11], next)
		copy(block[physHeaderSize:], chunk)
		// CRC covers type+next+chunk only, not the trailing zero
		// padding out to physBlockSize, so it matches what loadPage
		// recomputes from the stored length.
		crc := crc32.ChecksumIEEE(block[6 : physHeaderSize+len(chunk)])
		binary.LittleEndian.PutUint32(block[0:4], crc)

		if _, err := t.file.WriteAt(block, offset); err != nil {
			return err
		}
		offset += int64(t.physBlockSize)
	}

	t.markAllocated(startOffset, offset)
	t.setPageLocation(p.ID, startOffset)
	return nil
}

// loadPage reads and reassembles a logical page starting at its known
// physical offset, following First/Middle/Last chains and verifying
// each block's CRC.
func (t *Table) loadPage(id uint64) (*Page, error) {
	offset, ok := t.locationOf(id)
	if !ok {
		return nil, common.ErrKeyNotFound
	}
	var payload []byte
	for {
		header := make([]byte, physHeaderSize)
		if _, err := t.file.ReadAt(header, offset); err != nil {
			return nil, ErrTruncatedBlock
		}
		crc := binary.LittleEndian.Uint32(header[0:4])
		length := binary.LittleEndian.Uint16(header[4:6])
		typ := physBlockType(header[6])
		next := binary.LittleEndian.Uint32(header[7:11])

		body := make([]byte, length)
		if _, err := t.file.ReadAt(body, offset+physHeaderSize); err != nil {
			return nil, ErrTruncatedBlock
		}
		check := crc32.ChecksumIEEE(append(header[6:7], append(append([]byte(nil), header[7:11]...), body...)...))
		if check != crc {
			return nil, ErrBadChecksum
		}
		payload = append(payload, body...)
		if typ == physFull || typ == physLast {
			break
		}
		offset = int64(next) * int64(t.physBlockSize)
	}
	page, err := decodePage(payload)
	if err != nil {
		return nil, err
	}
	page.ID = id
	return page, nil
}

// --- location tracking & recovery ---

func (t *Table) locations() map[uint64]int64 {
	if t.locIndex == nil {
		t.locIndex = make(map[uint64]int64)
	}
	return t.locIndex
}

func (t *Table) setPageLocation(id uint64, offset int64) {
	t.locations()[id] = offset
}

func (t *Table) locationOf(id uint64) (int64, bool) {
	off, ok := t.locations()[id]
	return off, ok
}

func (t *Table) markAllocated(start, end int64) {
	first := int(start / int64(t.physBlockSize))
	last := int(end / int64(t.physBlockSize))
	for first >= t.bitmap.Len() {
		t.bitmap.Grow(t.bitmap.Len() * 2)
	}
	for b := first; b < last; b++ {
		t.bitmap.Set(b)
	}
}

// recover scans the file from the first block after the header,
// rebuilding the id->offset index by keeping, for each page id, the
// chain with the newest Timestamp (the double-write discipline in
// writePage means an older chain for the same id may still be on disk
// after a crash between writing the new chain and reclaiming the old
// one's blocks).
func (t *Table) recover() error {
	t.locIndex = make(map[uint64]int64)
	info, err := t.file.Stat()
	if err != nil {
		return err
	}
	offset := int64(t.headerBlocks) * int64(t.physBlockSize)
	best := make(map[uint64]uint64) // id -> timestamp of kept chain
	for offset < info.Size() {
		chainStart := offset
		header := make([]byte, physHeaderSize)
		if _, err := t.file.ReadAt(header, offset); err != nil {
			break
		}
		length := binary.LittleEndian.Uint16(header[4:6])
		typ := physBlockType(header[6])
		next := binary.LittleEndian.Uint32(header[7:11])
		if typ == physZero {
			break
		}

		var payload []byte
		cur := offset
		curType := typ
		curNext := next
		curLen := length
		numBlocks := int64(0)
		for {
			body := make([]byte, curLen)
			t.file.ReadAt(body, cur+physHeaderSize)
			payload = append(payload, body...)
			numBlocks++
			if curType == physFull || curType == physLast {
				offset = chainStart + numBlocks*int64(t.physBlockSize)
				break
			}
			cur = int64(curNext) * int64(t.physBlockSize)
			h := make([]byte, physHeaderSize)
			if _, err := t.file.ReadAt(h, cur); err != nil {
				break
			}
			curLen = binary.LittleEndian.Uint16(h[4:6])
			curType = physBlockType(h[6])
			curNext = binary.LittleEndian.Uint32(h[7:11])
		}

		page, err := decodePage(payload)
		if err != nil {
			continue
		}
		id := page.ID
		if prevTS, ok := best[id]; !ok || page.Timestamp >= prevTS {
			best[id] = page.Timestamp
			t.locIndex[id] = chainStart
			if id > t.nextID {
				t.nextID = id
			}
			if page.Timestamp > t.nextTS {
				t.nextTS = page.Timestamp
			}
			if page.ParentID == NoParent {
				t.rootID = id
			}
		}
	}
	return nil
}
