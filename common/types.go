package common

// StorageEngine is the interface both persistence engines implement. It is
// the seam the root kv package dispatches Options.EngineName across.
type StorageEngine interface {
	Put(key, value []byte) error

	// Get returns ErrKeyNotFound if key doesn't exist, or is masked by a
	// Deletion tombstone at the requested read version.
	Get(key []byte) ([]byte, error)

	// Delete removes a key. Not an error if the key did not exist.
	Delete(key []byte) error

	// Write applies a WriteBatch atomically, assigning it one version.
	Write(batch *WriteBatch) error

	// NewIterator returns a range iterator. If snap is non-nil, the
	// iterator observes only entries with version <= snap.Version().
	NewIterator(snap Snapshot) Iterator

	// GetSnapshot pins the current version for snapshot-consistent reads.
	GetSnapshot() Snapshot

	// ReleaseSnapshot unpins a previously acquired snapshot.
	ReleaseSnapshot(Snapshot)

	// Close closes the storage engine.
	Close() error

	// Sync ensures all data is persisted to disk.
	Sync() error

	// Stats returns engine statistics.
	Stats() Stats

	// Compact manually triggers compaction.
	Compact() error

	// BackgroundError returns the latest error latched by a background
	// worker (flush, compaction, checkpoint), or nil.
	BackgroundError() error
}

// Stats contains engine statistics; kv.DB.Stats fills CacheHits and
// CacheMisses from the internal/metrics Registry.CacheCounts.
type Stats struct {
	// Basic counts
	NumKeys       int64
	NumSegments   int
	ActiveSegSize int64
	TotalDiskSize int64

	// Performance metrics
	WriteCount   int64
	ReadCount    int64
	CompactCount int64

	// Cache
	CacheHits   int64
	CacheMisses int64

	// Amplification factors
	WriteAmp float64 // bytes written to disk / bytes written by user
	SpaceAmp float64 // disk space used / logical data size
}

// Iterator is the range-scan contract shared by both engines. Valid()
// must be checked before Key()/Value(); direction is reversible via
// Prev() where the underlying engine supports it (both do, via the
// btree leftSiblingLeaf walk and the lsm merging iterator respectively).
type Iterator interface {
	SeekToFirst()
	SeekToLast()
	Seek(key []byte)
	Valid() bool
	Next() bool
	Prev() bool
	Key() []byte
	Value() []byte
	Error() error
	Close() error
}

// Snapshot is a pinned version. Readers created against a Snapshot never
// observe writes committed after it was taken.
type Snapshot interface {
	Version() uint64
}

// Op is the kind of a single WriteBatch entry.
type Op byte

const (
	OpValue Op = 0
	OpDelete Op = 1
)

// BatchEntry is one (op, key, value) triple inside a WriteBatch.
type BatchEntry struct {
	Op    Op
	Key   []byte
	Value []byte
}

// WriteBatch is an ordered list of operations applied atomically as a
// unit; on commit the whole batch is assigned one version, and every
// entry within it carries that same version (spec.md §3).
type WriteBatch struct {
	entries []BatchEntry
	size    int
}

func NewWriteBatch() *WriteBatch {
	return &WriteBatch{}
}

func (b *WriteBatch) Put(key, value []byte) {
	b.entries = append(b.entries, BatchEntry{Op: OpValue, Key: append([]byte(nil), key...), Value: append([]byte(nil), value...)})
	b.size += len(key) + len(value) + 16
}

func (b *WriteBatch) Delete(key []byte) {
	b.entries = append(b.entries, BatchEntry{Op: OpDelete, Key: append([]byte(nil), key...)})
	b.size += len(key) + 16
}

func (b *WriteBatch) Clear() {
	b.entries = b.entries[:0]
	b.size = 0
}

func (b *WriteBatch) Count() int       { return len(b.entries) }
func (b *WriteBatch) ApproxSize() int  { return b.size }
func (b *WriteBatch) Entries() []BatchEntry { return b.entries }
