package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"strings"
	"time"

	"github.com/KevoDB/btkv/pkg/common/log"
	"github.com/KevoDB/btkv/pkg/config"
	"github.com/KevoDB/btkv/pkg/engine"
)

const (
	defaultValueSize = 16
	defaultKeyCount  = 100000
)

var (
	// Command line flags
	benchmarkType = flag.String("type", "all", "Type of benchmark to run (write, sequential-write, random-write, overflow-write, read, scan, mixed, delete, export, tune, or all)")
	duration      = flag.Duration("duration", 10*time.Second, "Maximum duration of each benchmark")
	numKeys       = flag.Int("keys", defaultKeyCount, "Number of keys to use")
	valueSize     = flag.Int("value-size", defaultValueSize, "Size of values in bytes")
	dataDir       = flag.String("data-dir", "./benchmark-data", "Directory to store benchmark data")
	sequential    = flag.Bool("sequential", false, "Use sequential keys instead of random")
	scanSize      = flag.Int("scan-size", 100, "Number of keys covered by each range scan")
	cacheSize     = flag.Int("cache", config.NewDefaultConfig().BlockCacheSize, "Block cache size in blocks")
	cpuProfile    = flag.String("cpu-profile", "", "Write CPU profile to file")
	memProfile    = flag.String("mem-profile", "", "Write memory profile to file")
	resultsFile   = flag.String("results", "", "CSV file to write results to (in addition to stdout)")
)

func main() {
	flag.Parse()

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Could not create CPU profile: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			fmt.Fprintf(os.Stderr, "Could not start CPU profile: %v\n", err)
			os.Exit(1)
		}
		defer pprof.StopCPUProfile()
	}

	// Remove any existing benchmark data before starting
	if _, err := os.Stat(*dataDir); err == nil {
		fmt.Println("Cleaning previous benchmark data...")
		if err := os.RemoveAll(*dataDir); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to clean benchmark directory: %v\n", err)
		}
	}
	if err := os.MkdirAll(*dataDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create benchmark directory: %v\n", err)
		os.Exit(1)
	}

	opts := benchOptions{
		NumKeys:    *numKeys,
		ValueSize:  *valueSize,
		ScanSize:   *scanSize,
		Duration:   *duration,
		Sequential: *sequential,
		Seed:       time.Now().UnixNano(),
	}

	types := strings.Split(*benchmarkType, ",")
	if len(types) == 1 && strings.EqualFold(types[0], "tune") {
		fmt.Println("Running configuration tuning benchmarks...")
		if _, err := RunConfigTuning(*dataDir, opts); err != nil {
			fmt.Fprintf(os.Stderr, "Tuning failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	cfg := config.NewDefaultConfig()
	cfg.BlockCacheSize = *cacheSize
	e, err := engine.Create(filepath.Join(*dataDir, "bench.bt"),
		engine.WithConfig(cfg),
		engine.WithLogger(log.NewStandardLogger(log.WithLevel(log.LevelWarn))))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create storage engine: %v\n", err)
		os.Exit(1)
	}
	defer e.Close()

	fmt.Printf("Benchmark Report (%s)\n", time.Now().Format(time.RFC3339))
	fmt.Printf("Keys: %d, Value Size: %d bytes, Duration: %s, Mode: %s\n",
		opts.NumKeys, opts.ValueSize, opts.Duration, opts.keyMode())

	r := newRunner(e, opts)
	var results []BenchmarkResult
	for _, typ := range types {
		typ = strings.ToLower(strings.TrimSpace(typ))
		if typ == "all" {
			results = append(results, r.runAll()...)
			continue
		}
		bench, ok := r.benchmark(typ)
		if !ok {
			fmt.Fprintf(os.Stderr, "Unknown benchmark type: %s\n", typ)
			os.Exit(1)
		}
		fmt.Printf("Running %s benchmark...\n", typ)
		results = append(results, bench())
	}

	for _, result := range results {
		fmt.Println(result)
	}
	PrintResultTable(results)

	if report, err := e.Check(); err != nil {
		fmt.Fprintf(os.Stderr, "Tree check failed after benchmarks: %v\n", err)
	} else {
		fmt.Printf("Tree: %s\n", report)
	}

	if *resultsFile != "" {
		if err := SaveResultCSV(results, *resultsFile); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write results to file: %v\n", err)
		}
	}

	if *memProfile != "" {
		f, err := os.Create(*memProfile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Could not create memory profile: %v\n", err)
		} else {
			defer f.Close()
			runtime.GC() // Run GC before taking memory profile
			if err := pprof.WriteHeapProfile(f); err != nil {
				fmt.Fprintf(os.Stderr, "Could not write memory profile: %v\n", err)
			}
		}
	}
}
