// Command kvbench drives the kv package's public Open/Put/Get surface
// against a chosen engine (or both, for comparison) and reports
// throughput, latency percentiles, and the engine's own Stats(), adapted
// from the teacher's cmd/benchmark (which compared hashindex against lsm
// the same way).
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/nyaru-labs/kv"
)

func main() {
	quick := flag.Bool("quick", false, "Run quick benchmarks (fewer keys)")
	workloadName := flag.String("workload", "all", "Workload to run (all, write-heavy, read-heavy, balanced, write-only)")
	duration := flag.Duration("duration", 10*time.Second, "Duration for each benchmark")
	concurrency := flag.Int("concurrency", 8, "Number of concurrent workers")
	engineFlag := flag.String("engine", "compare", "Engine to benchmark: balance, lsm, or compare")
	flag.Parse()

	fmt.Println("kv Benchmark")
	fmt.Println("============")
	fmt.Printf("Duration: %v, Concurrency: %d, Mode: %s\n", *duration, *concurrency, *engineFlag)

	var workloads []workload
	if *quick {
		workloads = quickWorkloads(*duration, *concurrency)
	} else {
		workloads = standardWorkloads(*duration, *concurrency)
	}
	if *workloadName != "all" {
		filtered := workloads[:0:0]
		for _, w := range workloads {
			if w.name == *workloadName {
				filtered = append(filtered, w)
			}
		}
		if len(filtered) == 0 {
			fmt.Printf("unknown workload: %s\n", *workloadName)
			os.Exit(1)
		}
		workloads = filtered
	}

	var engineNames []string
	switch *engineFlag {
	case "balance":
		engineNames = []string{kv.EngineBalance}
	case "lsm":
		engineNames = []string{kv.EngineLSM}
	case "compare":
		engineNames = []string{kv.EngineBalance, kv.EngineLSM}
	default:
		fmt.Printf("unknown engine: %s (must be balance, lsm, or compare)\n", *engineFlag)
		os.Exit(1)
	}

	var results []result
	for _, engineName := range engineNames {
		results = append(results, runEngine(engineName, workloads)...)
	}
	printSummaryTable(results)
}

func runEngine(engineName string, workloads []workload) []result {
	dir, err := os.MkdirTemp("", "kvbench-"+engineName+"-*")
	if err != nil {
		fmt.Printf("failed to create temp dir: %v\n", err)
		os.Exit(1)
	}
	defer os.RemoveAll(dir)

	db, err := kv.Open(kv.Options{EngineName: engineName, CreateIfMissing: true}, dir)
	if err != nil {
		fmt.Printf("failed to open %s: %v\n", engineName, err)
		os.Exit(1)
	}
	defer db.Close()

	results := make([]result, 0, len(workloads))
	for _, w := range workloads {
		r := runWorkload(db, engineName, w)
		printResult(r)
		results = append(results, r)
	}
	return results
}
