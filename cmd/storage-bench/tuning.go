package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/KevoDB/btkv/pkg/common/log"
	"github.com/KevoDB/btkv/pkg/config"
	"github.com/KevoDB/btkv/pkg/engine"
)

// TuningResults stores the results of the configuration tuning runs
type TuningResults struct {
	Timestamp  time.Time                    `json:"timestamp"`
	Parameters []string                     `json:"parameters"`
	Results    map[string][]TuningBenchmark `json:"results"`
}

// TuningBenchmark stores the result of a single configuration test
type TuningBenchmark struct {
	ConfigName   string                 `json:"config_name"`
	ConfigValue  interface{}            `json:"config_value"`
	WriteResults BenchmarkResult        `json:"write_results"`
	ReadResults  BenchmarkResult        `json:"read_results"`
	ScanResults  BenchmarkResult        `json:"scan_results"`
	MixedResults BenchmarkResult        `json:"mixed_results"`
	EngineStats  map[string]interface{} `json:"engine_stats"`
}

// ConfigOption is a configuration setting and the values to try for it
type ConfigOption struct {
	Name   string
	Values []interface{}
	Apply  func(cfg *config.Config, value interface{})
}

func tuningOptions() []ConfigOption {
	return []ConfigOption{
		{
			Name:   "BlockCacheSize",
			Values: []interface{}{0, 64, 1024, 16384},
			Apply: func(cfg *config.Config, v interface{}) {
				cfg.BlockCacheSize = v.(int)
			},
		},
		{
			Name:   "SyncMode",
			Values: []interface{}{config.SyncNone, config.SyncImmediate},
			Apply: func(cfg *config.Config, v interface{}) {
				cfg.SyncMode = v.(config.SyncMode)
			},
		},
	}
}

// RunConfigTuning runs the write, read, scan and mixed benchmarks once per
// configuration value, each against a fresh data file
func RunConfigTuning(baseDir string, opts benchOptions) (*TuningResults, error) {
	tuningDir := filepath.Join(baseDir, fmt.Sprintf("tuning-%d", time.Now().Unix()))
	if err := os.MkdirAll(tuningDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create tuning directory: %w", err)
	}

	results := &TuningResults{
		Timestamp: time.Now(),
		Parameters: []string{fmt.Sprintf("Keys: %d, ValueSize: %d bytes, Duration: %s",
			opts.NumKeys, opts.ValueSize, opts.Duration)},
		Results: make(map[string][]TuningBenchmark),
	}

	for _, option := range tuningOptions() {
		fmt.Printf("Testing %s variations...\n", option.Name)
		for _, value := range option.Values {
			fmt.Printf("  Testing %s=%v\n", option.Name, value)
			benchmark, err := runBenchmarkWithConfig(tuningDir, option, value, opts)
			if err != nil {
				fmt.Printf("Error testing %s=%v: %v\n", option.Name, value, err)
				continue
			}
			results.Results[option.Name] = append(results.Results[option.Name], *benchmark)
		}
	}

	resultPath := filepath.Join(tuningDir, "tuning_results.json")
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal results: %w", err)
	}
	if err := os.WriteFile(resultPath, data, 0644); err != nil {
		return nil, fmt.Errorf("failed to write results: %w", err)
	}

	f, err := os.Create(filepath.Join(tuningDir, "recommendations.md"))
	if err != nil {
		return nil, fmt.Errorf("failed to create recommendations: %w", err)
	}
	defer f.Close()
	if err := writeRecommendations(f, results); err != nil {
		return nil, fmt.Errorf("failed to write recommendations: %w", err)
	}

	fmt.Printf("Tuning complete. Results saved to %s\n", resultPath)
	return results, nil
}

func runBenchmarkWithConfig(baseDir string, option ConfigOption, value interface{}, opts benchOptions) (*TuningBenchmark, error) {
	cfg := config.NewDefaultConfig()
	option.Apply(cfg, value)

	path := filepath.Join(baseDir, fmt.Sprintf("%s_%v", option.Name, value), "tune.bt")
	e, err := engine.Create(path,
		engine.WithConfig(cfg),
		engine.WithLogger(log.NewStandardLogger(log.WithLevel(log.LevelWarn))))
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	defer e.Close()

	r := newRunner(e, opts)
	benchmark := &TuningBenchmark{
		ConfigName:   option.Name,
		ConfigValue:  fmt.Sprint(value),
		WriteResults: r.runWrite("Write", opts.Sequential, opts.ValueSize),
		ReadResults:  r.runRead(),
		ScanResults:  r.runScan(),
		MixedResults: r.runMixed(),
	}
	benchmark.EngineStats = e.GetStats()

	if _, err := e.Check(); err != nil {
		return nil, fmt.Errorf("tree check failed: %w", err)
	}
	return benchmark, nil
}

// writeRecommendations names the best value of each setting per workload
func writeRecommendations(w io.Writer, results *TuningResults) error {
	var b strings.Builder
	b.WriteString("# Configuration Recommendations\n\n")
	fmt.Fprintf(&b, "Generated %s\n\n", results.Timestamp.Format(time.RFC3339))
	for _, p := range results.Parameters {
		fmt.Fprintf(&b, "- %s\n", p)
	}

	names := make([]string, 0, len(results.Results))
	for name := range results.Results {
		names = append(names, name)
	}
	sort.Strings(names)

	workloads := []struct {
		name   string
		metric func(TuningBenchmark) float64
	}{
		{"writes", func(t TuningBenchmark) float64 { return t.WriteResults.Throughput }},
		{"reads", func(t TuningBenchmark) float64 { return t.ReadResults.Throughput }},
		{"scans", func(t TuningBenchmark) float64 { return t.ScanResults.EntriesPerSec }},
		{"mixed", func(t TuningBenchmark) float64 { return t.MixedResults.Throughput }},
	}

	for _, name := range names {
		runs := results.Results[name]
		if len(runs) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n## %s\n\n", name)
		for _, wl := range workloads {
			best := runs[0]
			for _, run := range runs[1:] {
				if wl.metric(run) > wl.metric(best) {
					best = run
				}
			}
			fmt.Fprintf(&b, "- Best for %s: %v (%.2f)\n", wl.name, best.ConfigValue, wl.metric(best))
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}
