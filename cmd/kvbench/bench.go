package main

import (
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nyaru-labs/kv"
	"github.com/nyaru-labs/kv/common"
)

// workload describes one run: how many goroutines hammer the database,
// for how long, and what fraction of ops are writes. Keys are ASCII user
// keys "key:%010d" drawn over numKeys rather than from a generic
// reusable key-distribution abstraction.
type workload struct {
	name        string
	writeFrac   float64
	numKeys     int
	valueSize   int
	concurrency int
	duration    time.Duration
}

func standardWorkloads(duration time.Duration, concurrency int) []workload {
	return []workload{
		{name: "write-heavy", writeFrac: 0.9, numKeys: 50000, valueSize: 128, concurrency: concurrency, duration: duration},
		{name: "read-heavy", writeFrac: 0.1, numKeys: 50000, valueSize: 128, concurrency: concurrency, duration: duration},
		{name: "balanced", writeFrac: 0.5, numKeys: 50000, valueSize: 128, concurrency: concurrency, duration: duration},
		{name: "write-only", writeFrac: 1.0, numKeys: 50000, valueSize: 128, concurrency: concurrency, duration: duration},
	}
}

func quickWorkloads(duration time.Duration, concurrency int) []workload {
	w := standardWorkloads(duration, concurrency)
	for i := range w {
		w[i].numKeys = 2000
		w[i].duration = duration
	}
	return w
}

// latencies collects samples for one op class and reduces them to the
// percentiles the summary table prints. Built directly on a sorted
// []time.Duration rather than a streaming histogram: a bench run's
// sample count comfortably fits in memory, and sorting once at the end
// is simpler than maintaining bucket boundaries during the hot loop.
type latencies struct {
	mu      sync.Mutex
	samples []time.Duration
}

func (l *latencies) record(d time.Duration) {
	l.mu.Lock()
	l.samples = append(l.samples, d)
	l.mu.Unlock()
}

type latencyStats struct {
	min, mean, p50, p95, p99, max time.Duration
}

func (l *latencies) stats() latencyStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.samples) == 0 {
		return latencyStats{}
	}
	sorted := append([]time.Duration(nil), l.samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	pick := func(pct float64) time.Duration {
		idx := int(pct * float64(len(sorted)-1))
		return sorted[idx]
	}
	return latencyStats{
		min:  sorted[0],
		mean: sum / time.Duration(len(sorted)),
		p50:  pick(0.50),
		p95:  pick(0.95),
		p99:  pick(0.99),
		max:  sorted[len(sorted)-1],
	}
}

// result is one workload's outcome against one open database.
type result struct {
	workload   string
	engine     string
	writeOps   int64
	readOps    int64
	elapsed    time.Duration
	writeStats latencyStats
	readStats  latencyStats
	stats      common.Stats
}

// runWorkload drives w against db for w.duration using w.concurrency
// workers, each doing a Put or Get per the write fraction, keyed by a
// worker-local random source seeded from the worker index and the
// current time, so runs differ from one another.
func runWorkload(db *kv.DB, engineName string, w workload) result {
	var wg sync.WaitGroup
	var writeOps, readOps int64
	writeLat := &latencies{}
	readLat := &latencies{}

	stop := make(chan struct{})
	start := time.Now()

	for i := 0; i < w.concurrency; i++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rnd := rand.New(rand.NewSource(seed))
			value := make([]byte, w.valueSize)
			for {
				select {
				case <-stop:
					return
				default:
				}
				key := []byte(fmt.Sprintf("key:%010d", rnd.Intn(w.numKeys)))
				if rnd.Float64() < w.writeFrac {
					rnd.Read(value)
					t0 := time.Now()
					db.Put(kv.WriteOptions{}, key, value)
					writeLat.record(time.Since(t0))
					atomic.AddInt64(&writeOps, 1)
				} else {
					t0 := time.Now()
					db.Get(kv.ReadOptions{}, key)
					readLat.record(time.Since(t0))
					atomic.AddInt64(&readOps, 1)
				}
			}
		}(int64(i) + time.Now().UnixNano())
	}

	time.Sleep(w.duration)
	close(stop)
	wg.Wait()

	return result{
		workload:   w.name,
		engine:     engineName,
		writeOps:   atomic.LoadInt64(&writeOps),
		readOps:    atomic.LoadInt64(&readOps),
		elapsed:    time.Since(start),
		writeStats: writeLat.stats(),
		readStats:  readLat.stats(),
		stats:      db.Stats(),
	}
}

func printResult(r result) {
	totalOps := r.writeOps + r.readOps
	fmt.Printf("\n--- %s / %s ---\n", r.engine, r.workload)
	fmt.Printf("Ops: %d (writes: %d, reads: %d) over %v => %.0f ops/sec\n",
		totalOps, r.writeOps, r.readOps, r.elapsed.Round(time.Millisecond),
		float64(totalOps)/r.elapsed.Seconds())

	if r.writeOps > 0 {
		s := r.writeStats
		fmt.Printf("Write latency: min %v  mean %v  p50 %v  p95 %v  p99 %v  max %v\n",
			s.min, s.mean, s.p50, s.p95, s.p99, s.max)
	}
	if r.readOps > 0 {
		s := r.readStats
		fmt.Printf("Read latency:  min %v  mean %v  p50 %v  p95 %v  p99 %v  max %v\n",
			s.min, s.mean, s.p50, s.p95, s.p99, s.max)
	}

	fmt.Printf("Engine stats: cache hits %d / misses %d, write amp %.2fx, space amp %.2fx, disk %.1f MB\n",
		r.stats.CacheHits, r.stats.CacheMisses, r.stats.WriteAmp, r.stats.SpaceAmp,
		float64(r.stats.TotalDiskSize)/(1<<20))
}

func printSummaryTable(results []result) {
	if len(results) == 0 {
		return
	}
	fmt.Println("\n" + strings.Repeat("=", 78))
	fmt.Println("SUMMARY")
	fmt.Println(strings.Repeat("=", 78))
	fmt.Printf("%-12s %-14s %12s %12s %12s\n", "Engine", "Workload", "Ops/sec", "Write P99", "Read P99")
	fmt.Println(strings.Repeat("-", 78))
	for _, r := range results {
		total := r.writeOps + r.readOps
		opsPerSec := float64(total) / r.elapsed.Seconds()
		writeP99, readP99 := "n/a", "n/a"
		if r.writeOps > 0 {
			writeP99 = r.writeStats.p99.String()
		}
		if r.readOps > 0 {
			readP99 = r.readStats.p99.String()
		}
		fmt.Printf("%-12s %-14s %11.0f/s %12s %12s\n", r.engine, r.workload, opsPerSec, writeP99, readP99)
	}
}
