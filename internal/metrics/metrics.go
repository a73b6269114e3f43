// Package metrics exposes the engines' internal counters as Prometheus
// collectors, feeding common.Stats without ever opening a network
// listener itself (the host process registers the Gatherer wherever it
// already exposes scrape endpoints).
//
// Grounded on dd0wney-graphdb/pkg/metrics: a single Registry struct
// holding every collector, built with promauto against a private
// *prometheus.Registry, trimmed down to the storage-engine concerns
// this module actually has (page cache, compaction, WAL, snapshots)
// instead of graphdb's HTTP/cluster/licensing surface.
package metrics

import (
	dto "github.com/prometheus/client_model/go"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds every collector one storage engine instance reports.
type Registry struct {
	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter

	CompactionsTotal          *prometheus.CounterVec
	CompactionBytesReadTotal  prometheus.Counter
	CompactionBytesWritten    prometheus.Counter
	CompactionDurationSeconds prometheus.Histogram

	FlushesTotal          prometheus.Counter
	FlushDurationSeconds  prometheus.Histogram
	MemTableSizeBytes     prometheus.Gauge

	WALAppendsTotal      prometheus.Counter
	WALFsyncSeconds      prometheus.Histogram
	WALCorruptionsTotal  prometheus.Counter

	SnapshotsOpen       prometheus.Gauge
	SnapshotsTotal      prometheus.Counter

	ReadsTotal  prometheus.Counter
	WritesTotal prometheus.Counter

	registry *prometheus.Registry
}

// New creates an isolated Registry backed by its own *prometheus.Registry,
// so multiple engine instances in one process (e.g. a btree and an lsm
// DB opened side by side) don't collide on metric names.
func New(namespace string) *Registry {
	r := &Registry{registry: prometheus.NewRegistry()}
	r.init(namespace)
	return r
}

func (r *Registry) init(ns string) {
	f := promauto.With(r.registry)

	r.CacheHitsTotal = f.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Name: "cache_hits_total", Help: "Page/block cache hits.",
	})
	r.CacheMissesTotal = f.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Name: "cache_misses_total", Help: "Page/block cache misses.",
	})

	r.CompactionsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Name: "compactions_total", Help: "Compactions run, by outcome.",
	}, []string{"outcome"})
	r.CompactionBytesReadTotal = f.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Name: "compaction_bytes_read_total", Help: "Bytes read by compaction.",
	})
	r.CompactionBytesWritten = f.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Name: "compaction_bytes_written_total", Help: "Bytes written by compaction.",
	})
	r.CompactionDurationSeconds = f.NewHistogram(prometheus.HistogramOpts{
		Namespace: ns, Name: "compaction_duration_seconds", Help: "Compaction wall time.",
		Buckets: prometheus.DefBuckets,
	})

	r.FlushesTotal = f.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Name: "flushes_total", Help: "Memtable flushes to disk.",
	})
	r.FlushDurationSeconds = f.NewHistogram(prometheus.HistogramOpts{
		Namespace: ns, Name: "flush_duration_seconds", Help: "Flush wall time.",
		Buckets: prometheus.DefBuckets,
	})
	r.MemTableSizeBytes = f.NewGauge(prometheus.GaugeOpts{
		Namespace: ns, Name: "memtable_size_bytes", Help: "Active memtable size.",
	})

	r.WALAppendsTotal = f.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Name: "wal_appends_total", Help: "Records appended to the write-ahead log.",
	})
	r.WALFsyncSeconds = f.NewHistogram(prometheus.HistogramOpts{
		Namespace: ns, Name: "wal_fsync_seconds", Help: "fsync latency of the write-ahead log.",
		Buckets: prometheus.DefBuckets,
	})
	r.WALCorruptionsTotal = f.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Name: "wal_corruptions_total", Help: "Corrupt WAL records detected during recovery.",
	})

	r.SnapshotsOpen = f.NewGauge(prometheus.GaugeOpts{
		Namespace: ns, Name: "snapshots_open", Help: "Snapshots currently held open.",
	})
	r.SnapshotsTotal = f.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Name: "snapshots_total", Help: "Snapshots ever taken.",
	})

	r.ReadsTotal = f.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Name: "reads_total", Help: "Get calls served.",
	})
	r.WritesTotal = f.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Name: "writes_total", Help: "Put/Delete/Write calls served.",
	})
}

// Gatherer exposes the registry for the host process to scrape; the
// engine itself never starts an HTTP listener.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.registry }

// CacheCounts reports the current values of the cache hit and miss
// counters. Used by kv.DB.Stats to fill common.Stats.CacheHits and
// CacheMisses.
func (r *Registry) CacheCounts() (hits, misses int64) {
	return int64(readCounter(r.CacheHitsTotal)), int64(readCounter(r.CacheMissesTotal))
}

func readCounter(c prometheus.Counter) float64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}
