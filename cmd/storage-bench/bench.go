package main

import (
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"
	"time"

	"github.com/KevoDB/btkv/pkg/btree"
	"github.com/KevoDB/btkv/pkg/engine"
	"github.com/KevoDB/btkv/pkg/snapshot"
)

// benchOptions are the parameters shared by every benchmark of a run
type benchOptions struct {
	NumKeys    int
	ValueSize  int
	ScanSize   int
	Duration   time.Duration
	Sequential bool
	Seed       int64
}

func (o benchOptions) keyMode() string {
	if o.Sequential {
		return "Sequential"
	}
	return "Random"
}

// runner runs benchmarks against one engine. Write benchmarks stop after
// NumKeys operations or when Duration runs out, whichever comes first.
type runner struct {
	e    *engine.Engine
	opts benchOptions
	rng  *rand.Rand

	// keys known to be stored, for the read side of the benchmarks
	loaded []int32
}

func newRunner(e *engine.Engine, opts benchOptions) *runner {
	if opts.NumKeys <= 0 {
		opts.NumKeys = defaultKeyCount
	}
	if opts.ScanSize <= 0 {
		opts.ScanSize = 100
	}
	return &runner{e: e, opts: opts, rng: rand.New(rand.NewSource(opts.Seed))}
}

// benchmark returns the benchmark registered under name
func (r *runner) benchmark(name string) (func() BenchmarkResult, bool) {
	benchmarks := map[string]func() BenchmarkResult{
		"write":            func() BenchmarkResult { return r.runWrite("Write", r.opts.Sequential, r.opts.ValueSize) },
		"sequential-write": func() BenchmarkResult { return r.runWrite("SequentialWrite", true, r.opts.ValueSize) },
		"random-write":     func() BenchmarkResult { return r.runWrite("RandomWrite", false, r.opts.ValueSize) },
		"overflow-write":   func() BenchmarkResult { return r.runWrite("OverflowWrite", false, 4*btree.BlockSize) },
		"read":             r.runRead,
		"scan":             r.runScan,
		"mixed":            r.runMixed,
		"delete":           r.runDelete,
		"export":           r.runExport,
	}
	bench, ok := benchmarks[name]
	return bench, ok
}

func (r *runner) runAll() []BenchmarkResult {
	var results []BenchmarkResult
	for _, name := range []string{"sequential-write", "random-write", "overflow-write", "read", "scan", "mixed", "export", "delete"} {
		bench, _ := r.benchmark(name)
		fmt.Printf("Running %s benchmark...\n", name)
		results = append(results, bench())
	}
	return results
}

func (r *runner) nextKey(sequential bool, i int) int32 {
	if sequential {
		return int32(i)
	}
	return r.rng.Int31() - math.MaxInt32/2
}

func makeValue(size int) []byte {
	value := make([]byte, size)
	for i := range value {
		value[i] = byte(i % 256)
	}
	return value
}

func (r *runner) result(name string, ops int, elapsed time.Duration, valueSize int) BenchmarkResult {
	res := BenchmarkResult{
		BenchmarkType: name,
		NumKeys:       r.opts.NumKeys,
		ValueSize:     valueSize,
		Mode:          r.opts.keyMode(),
		Operations:    ops,
		Duration:      elapsed.Seconds(),
		Timestamp:     time.Now(),
	}
	if elapsed > 0 {
		res.Throughput = float64(ops) / elapsed.Seconds()
	}
	if res.Throughput > 0 {
		res.Latency = 1000000.0 / res.Throughput
	}
	return res
}

func (r *runner) runWrite(name string, sequential bool, valueSize int) BenchmarkResult {
	value := makeValue(valueSize)
	start := time.Now()
	deadline := start.Add(r.opts.Duration)

	var opsCount, errCount int
	for i := 0; i < r.opts.NumKeys && time.Now().Before(deadline); i++ {
		key := r.nextKey(sequential, i)
		if err := r.e.Put(key, value); err != nil {
			if errors.Is(err, engine.ErrEngineClosed) {
				fmt.Fprintf(os.Stderr, "Engine closed, stopping benchmark\n")
				break
			}
			errCount++
			continue
		}
		r.loaded = append(r.loaded, key)
		opsCount++
	}

	if errCount > 0 {
		fmt.Fprintf(os.Stderr, "%s: %d writes failed\n", name, errCount)
	}
	return r.result(name, opsCount, time.Since(start), valueSize)
}

// prepare makes sure there is data to read
func (r *runner) prepare() {
	if len(r.loaded) == 0 {
		r.runWrite("Prepare", r.opts.Sequential, r.opts.ValueSize)
	}
}

func (r *runner) runRead() BenchmarkResult {
	r.prepare()

	start := time.Now()
	deadline := start.Add(r.opts.Duration)

	var opsCount, hitCount int
	for opsCount < r.opts.NumKeys && time.Now().Before(deadline) {
		key := r.loaded[r.rng.Intn(len(r.loaded))]
		// every other read asks for a key that is probably absent
		if opsCount%2 == 1 {
			key = r.nextKey(false, opsCount)
		}

		_, err := r.e.Get(key)
		if errors.Is(err, engine.ErrEngineClosed) {
			break
		}
		if err == nil {
			hitCount++
		}
		opsCount++
	}

	res := r.result("Read", opsCount, time.Since(start), r.opts.ValueSize)
	if opsCount > 0 {
		res.HitRate = float64(hitCount) / float64(opsCount) * 100
	}
	return res
}

func (r *runner) runScan() BenchmarkResult {
	r.prepare()

	start := time.Now()
	deadline := start.Add(r.opts.Duration)

	var scans, entries int
	for scans < r.opts.NumKeys/r.opts.ScanSize+1 && time.Now().Before(deadline) {
		from := r.loaded[r.rng.Intn(len(r.loaded))]
		to := from + int32(r.opts.ScanSize)
		if to < from {
			to = math.MaxInt32
		}

		iter, err := r.e.Scan(from, to)
		if err != nil {
			break
		}
		for iter.SeekToFirst(); iter.Valid(); iter.Next() {
			_ = iter.Value()
			entries++
		}
		if err := iter.Err(); err != nil {
			fmt.Fprintf(os.Stderr, "Scan error: %v\n", err)
			break
		}
		scans++
	}

	elapsed := time.Since(start)
	res := r.result("Scan", scans, elapsed, r.opts.ValueSize)
	if elapsed > 0 {
		res.EntriesPerSec = float64(entries) / elapsed.Seconds()
	}
	return res
}

func (r *runner) runMixed() BenchmarkResult {
	r.prepare()
	value := makeValue(r.opts.ValueSize)

	start := time.Now()
	deadline := start.Add(r.opts.Duration)

	const readRatio = 0.75
	var readOps, writeOps int
	for readOps+writeOps < r.opts.NumKeys && time.Now().Before(deadline) {
		var err error
		if r.rng.Float64() < readRatio {
			_, err = r.e.Get(r.loaded[r.rng.Intn(len(r.loaded))])
			readOps++
		} else {
			key := r.nextKey(r.opts.Sequential, len(r.loaded))
			if err = r.e.Put(key, value); err == nil {
				r.loaded = append(r.loaded, key)
			}
			writeOps++
		}
		if errors.Is(err, engine.ErrEngineClosed) {
			break
		}
	}

	total := readOps + writeOps
	res := r.result("Mixed", total, time.Since(start), r.opts.ValueSize)
	if total > 0 {
		res.ReadRatio = float64(readOps) / float64(total) * 100
		res.WriteRatio = float64(writeOps) / float64(total) * 100
	}
	return res
}

// runDelete removes half of the loaded keys, which drives merges and
// borrows through the tree
func (r *runner) runDelete() BenchmarkResult {
	r.prepare()

	start := time.Now()
	deadline := start.Add(r.opts.Duration)

	var opsCount int
	kept := r.loaded[:0]
	for i, key := range r.loaded {
		if i%2 == 1 || !time.Now().Before(deadline) {
			kept = append(kept, key)
			continue
		}
		if _, err := r.e.Delete(key); err != nil {
			kept = append(kept, key)
			if errors.Is(err, engine.ErrEngineClosed) {
				break
			}
			continue
		}
		opsCount++
	}
	r.loaded = kept

	return r.result("Delete", opsCount, time.Since(start), r.opts.ValueSize)
}

// runExport streams a zstd snapshot of the whole store to nowhere
func (r *runner) runExport() BenchmarkResult {
	r.prepare()

	start := time.Now()
	count, err := r.e.Export(io.Discard, snapshot.CodecZstd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Export error: %v\n", err)
	}
	elapsed := time.Since(start)

	res := r.result("Export", 1, elapsed, r.opts.ValueSize)
	if elapsed > 0 {
		res.EntriesPerSec = float64(count) / elapsed.Seconds()
	}
	return res
}
