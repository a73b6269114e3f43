// Package kv is the module's public API (spec.md §6): Open, Options,
// DB, dispatching to the btree (paged, "yukino.balance") or lsm engine
// by Options.EngineName behind one common.StorageEngine surface.
//
// Grounded on the teacher's cmd/demo, which drives btree/lsm/hashindex
// side by side through their individual constructors; this package
// generalizes that into the single entry point spec.md §6 describes,
// adding the create_if_missing/error_if_exists checks and env/config/
// logger/metrics wiring the distilled spec treats as external
// collaborators (§11).
package kv

import (
	"fmt"
	"path/filepath"

	"github.com/nyaru-labs/kv/btree"
	"github.com/nyaru-labs/kv/common"
	"github.com/nyaru-labs/kv/env"
	"github.com/nyaru-labs/kv/internal/config"
	"github.com/nyaru-labs/kv/internal/logger"
	"github.com/nyaru-labs/kv/internal/metrics"
	"github.com/nyaru-labs/kv/lsm"
)

// Engine names recognized by Options.EngineName, spec.md §6's glossary.
const (
	EngineBalance = "yukino.balance" // paged B+tree engine
	EngineLSM     = "lsm"            // log-structured merge engine
)

// Options mirrors spec.md §6's "Options (recognized fields)".
type Options struct {
	EngineName      string
	Comparator      common.Comparator
	CreateIfMissing bool
	ErrorIfExists   bool
	Env             env.Env

	// WriteBufferSize and MaxL0Files only apply to EngineLSM. MaxL0Files
	// is passed into lsm.Config, but the lsm level-0 compaction trigger
	// is the fixed maxL0Files constant.
	WriteBufferSize int
	MaxL0Files      int

	// Order only applies to EngineBalance; zero selects btree.DefaultOrder.
	Order int

	// ConfigFile, if set, is loaded via internal/config and layered
	// under the fields above wherever they were left at their zero
	// value (spec.md §11's additive YAML overlay).
	ConfigFile string

	// Logger receives structured events; a nil Logger uses logger.Global.
	Logger *logger.Logger
}

// WriteOptions mirrors spec.md §6's WriteOptions.
type WriteOptions struct {
	Sync bool
}

// ReadOptions mirrors spec.md §6's ReadOptions. VerifyChecksums is
// accepted but has no effect: the btree engine always verifies page
// CRCs when it loads a page, and both engines verify WAL record CRCs
// during recovery, but lsm table blocks carry no checksum and are read
// unverified. FillCache is likewise accepted but unused: neither engine
// implements a cache bypass path.
type ReadOptions struct {
	VerifyChecksums bool
	FillCache       bool
	Snapshot        common.Snapshot
}

// DB is the opened, engine-agnostic handle spec.md §6 describes.
type DB struct {
	engine  common.StorageEngine
	name    string
	opts    Options
	log     *logger.Logger
	metrics *metrics.Registry
}

// resolveOptions layers a YAML config overlay under the caller-supplied
// Options, then fills remaining engine defaults.
func resolveOptions(opts Options) (Options, error) {
	if opts.ConfigFile != "" {
		file, err := config.Load(opts.ConfigFile)
		if err != nil {
			return opts, common.IOError(err.Error())
		}
		opts.EngineName = config.StringOr(opts.EngineName, file.EngineName)
		opts.WriteBufferSize = config.IntOr(opts.WriteBufferSize, file.WriteBufferSize)
		opts.MaxL0Files = config.IntOr(opts.MaxL0Files, file.MaxL0Files)
		opts.CreateIfMissing = opts.CreateIfMissing || config.BoolOr(file.CreateIfMissing, false)
		opts.ErrorIfExists = opts.ErrorIfExists || config.BoolOr(file.ErrorIfExists, false)
	}
	if opts.EngineName == "" {
		opts.EngineName = EngineBalance
	}
	if opts.Comparator == nil {
		opts.Comparator = common.BytewiseComparator
	}
	if opts.Env == nil {
		opts.Env = env.Default()
	}
	if opts.Logger == nil {
		opts.Logger = logger.Global
	}
	return opts, nil
}

// Open opens (or creates) the database rooted at dir, dispatching to
// btree or lsm per opts.EngineName, per spec.md §6's `Open(options,
// name) → DB | error`.
func Open(opts Options, name string) (*DB, error) {
	opts, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}

	exists := opts.Env.FileExists(name)
	if exists && opts.ErrorIfExists {
		return nil, common.InvalidArgument(fmt.Sprintf("database %q already exists", name))
	}
	if !exists && !opts.CreateIfMissing {
		return nil, common.InvalidArgument(fmt.Sprintf("database %q does not exist and create_if_missing is false", name))
	}

	log := opts.Logger.Component(opts.EngineName)
	reg := metrics.New(metricsNamespace(opts.EngineName, name))

	var engine common.StorageEngine
	switch opts.EngineName {
	case EngineBalance:
		adapter, err := btree.NewAdapter(name, opts.Order, opts.Comparator)
		if err != nil {
			return nil, err
		}
		engine = adapter
	case EngineLSM:
		cfg := lsm.DefaultConfig(name)
		if opts.WriteBufferSize > 0 {
			cfg.MemTableSize = opts.WriteBufferSize
		}
		if opts.MaxL0Files > 0 {
			cfg.MaxL0Files = opts.MaxL0Files
		}
		adapter, err := lsm.NewAdapter(cfg)
		if err != nil {
			return nil, err
		}
		engine = adapter
	default:
		return nil, common.InvalidArgument(fmt.Sprintf("unknown engine_name %q", opts.EngineName))
	}

	log.Info("database opened").Str("dir", name).Str("engine", opts.EngineName).Send()

	return &DB{engine: engine, name: name, opts: opts, log: log, metrics: reg}, nil
}

func metricsNamespace(engineName, name string) string {
	return "kv_" + sanitizeMetricName(engineName) + "_" + sanitizeMetricName(filepath.Base(name))
}

func sanitizeMetricName(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			out[i] = c
		default:
			out[i] = '_'
		}
	}
	return string(out)
}

func (db *DB) Put(wo WriteOptions, key, value []byte) error {
	db.metrics.WritesTotal.Inc()
	if err := db.engine.Put(key, value); err != nil {
		return err
	}
	return db.maybeSync(wo)
}

func (db *DB) Delete(wo WriteOptions, key []byte) error {
	db.metrics.WritesTotal.Inc()
	if err := db.engine.Delete(key); err != nil {
		return err
	}
	return db.maybeSync(wo)
}

func (db *DB) Write(wo WriteOptions, batch *common.WriteBatch) error {
	db.metrics.WritesTotal.Inc()
	if err := db.engine.Write(batch); err != nil {
		return err
	}
	return db.maybeSync(wo)
}

func (db *DB) maybeSync(wo WriteOptions) error {
	if !wo.Sync {
		return nil
	}
	return db.engine.Sync()
}

func (db *DB) Get(ro ReadOptions, key []byte) ([]byte, error) {
	db.metrics.ReadsTotal.Inc()
	value, err := db.engine.Get(key)
	if err != nil {
		if err == common.ErrKeyNotFound {
			db.metrics.CacheMissesTotal.Inc()
		}
		return nil, err
	}
	db.metrics.CacheHitsTotal.Inc()
	return value, nil
}

func (db *DB) NewIterator(ro ReadOptions) common.Iterator {
	return db.engine.NewIterator(ro.Snapshot)
}

func (db *DB) GetSnapshot() common.Snapshot {
	db.metrics.SnapshotsTotal.Inc()
	db.metrics.SnapshotsOpen.Inc()
	return db.engine.GetSnapshot()
}

func (db *DB) ReleaseSnapshot(snap common.Snapshot) {
	db.metrics.SnapshotsOpen.Dec()
	db.engine.ReleaseSnapshot(snap)
}

func (db *DB) Close() error { return db.engine.Close() }
func (db *DB) Sync() error  { return db.engine.Sync() }

func (db *DB) Compact() error {
	db.metrics.CompactionsTotal.WithLabelValues("manual").Inc()
	return db.engine.Compact()
}

func (db *DB) BackgroundError() error { return db.engine.BackgroundError() }

// Stats snapshots both the engine's own counters and this DB's
// request-level Prometheus counters into one common.Stats value.
func (db *DB) Stats() common.Stats {
	stats := db.engine.Stats()
	hits, misses := db.metrics.CacheCounts()
	stats.CacheHits = hits
	stats.CacheMisses = misses
	return stats
}

// Metrics exposes the Prometheus collectors for this DB instance so
// the host process can register them wherever it already scrapes from
// (spec.md §1 Non-goals: no built-in network listener here).
func (db *DB) Metrics() *metrics.Registry { return db.metrics }
