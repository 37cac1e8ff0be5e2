package main

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// BenchmarkResult stores the results of a benchmark
type BenchmarkResult struct {
	BenchmarkType string
	NumKeys       int
	ValueSize     int
	Mode          string
	Operations    int
	Duration      float64 // seconds
	Throughput    float64 // ops/sec
	Latency       float64 // µs/op
	HitRate       float64 // For read benchmarks
	EntriesPerSec float64 // For scan and export benchmarks
	ReadRatio     float64 // For mixed benchmarks
	WriteRatio    float64 // For mixed benchmarks
	Timestamp     time.Time
}

func (r BenchmarkResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "\n%s Benchmark Results:", r.BenchmarkType)
	fmt.Fprintf(&b, "\n  Key Mode: %s", r.Mode)
	fmt.Fprintf(&b, "\n  Operations: %d", r.Operations)
	fmt.Fprintf(&b, "\n  Time: %.2f seconds", r.Duration)
	fmt.Fprintf(&b, "\n  Throughput: %.2f ops/sec", r.Throughput)
	fmt.Fprintf(&b, "\n  Latency: %.3f µs/op", r.Latency)
	if r.HitRate > 0 {
		fmt.Fprintf(&b, "\n  Hit Rate: %.2f%%", r.HitRate)
	}
	if r.EntriesPerSec > 0 {
		fmt.Fprintf(&b, "\n  Entries: %.2f entries/sec", r.EntriesPerSec)
	}
	if r.ReadRatio > 0 || r.WriteRatio > 0 {
		fmt.Fprintf(&b, "\n  Mix: %.1f%% reads, %.1f%% writes", r.ReadRatio, r.WriteRatio)
	}
	return b.String()
}

var csvHeader = []string{
	"Timestamp", "BenchmarkType", "NumKeys", "ValueSize", "Mode",
	"Operations", "Duration", "Throughput", "Latency", "HitRate",
	"EntriesPerSec", "ReadRatio", "WriteRatio",
}

// SaveResultCSV saves benchmark results to a CSV file
func SaveResultCSV(results []BenchmarkResult, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return err
	}

	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(csvHeader); err != nil {
		return err
	}

	for _, r := range results {
		record := []string{
			r.Timestamp.Format(time.RFC3339),
			r.BenchmarkType,
			strconv.Itoa(r.NumKeys),
			strconv.Itoa(r.ValueSize),
			r.Mode,
			strconv.Itoa(r.Operations),
			fmt.Sprintf("%.2f", r.Duration),
			fmt.Sprintf("%.2f", r.Throughput),
			fmt.Sprintf("%.3f", r.Latency),
			fmt.Sprintf("%.2f", r.HitRate),
			fmt.Sprintf("%.2f", r.EntriesPerSec),
			fmt.Sprintf("%.1f", r.ReadRatio),
			fmt.Sprintf("%.1f", r.WriteRatio),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// LoadResultCSV loads benchmark results from a CSV file
func LoadResultCSV(filename string) ([]BenchmarkResult, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, err
	}

	// Skip header
	if len(records) <= 1 {
		return []BenchmarkResult{}, nil
	}
	records = records[1:]

	results := make([]BenchmarkResult, 0, len(records))
	for _, record := range records {
		if len(record) < len(csvHeader) {
			continue
		}

		timestamp, _ := time.Parse(time.RFC3339, record[0])
		numKeys, _ := strconv.Atoi(record[2])
		valueSize, _ := strconv.Atoi(record[3])
		operations, _ := strconv.Atoi(record[5])
		duration, _ := strconv.ParseFloat(record[6], 64)
		throughput, _ := strconv.ParseFloat(record[7], 64)
		latency, _ := strconv.ParseFloat(record[8], 64)
		hitRate, _ := strconv.ParseFloat(record[9], 64)
		entriesPerSec, _ := strconv.ParseFloat(record[10], 64)
		readRatio, _ := strconv.ParseFloat(record[11], 64)
		writeRatio, _ := strconv.ParseFloat(record[12], 64)

		results = append(results, BenchmarkResult{
			Timestamp:     timestamp,
			BenchmarkType: record[1],
			NumKeys:       numKeys,
			ValueSize:     valueSize,
			Mode:          record[4],
			Operations:    operations,
			Duration:      duration,
			Throughput:    throughput,
			Latency:       latency,
			HitRate:       hitRate,
			EntriesPerSec: entriesPerSec,
			ReadRatio:     readRatio,
			WriteRatio:    writeRatio,
		})
	}

	return results, nil
}

// PrintResultTable prints a formatted table of benchmark results
func PrintResultTable(results []BenchmarkResult) {
	if len(results) == 0 {
		fmt.Println("No results to display")
		return
	}

	fmt.Println("+-----------------+--------+---------+------------+----------+-------------+")
	fmt.Println("| Benchmark Type  | Keys   | ValSize | Throughput | Latency  | Extra       |")
	fmt.Println("+-----------------+--------+---------+------------+----------+-------------+")

	for _, r := range results {
		extra := "-"
		switch r.BenchmarkType {
		case "Read":
			extra = fmt.Sprintf("%.2f%% hits", r.HitRate)
		case "Mixed":
			extra = fmt.Sprintf("R:%.0f/W:%.0f", r.ReadRatio, r.WriteRatio)
		case "Scan", "Export":
			extra = fmt.Sprintf("%.0f e/s", r.EntriesPerSec)
		}

		latencyUnit := "µs"
		latency := r.Latency
		if latency > 1000 {
			latencyUnit = "ms"
			latency /= 1000
		}

		fmt.Printf("| %-15s | %6d | %7d | %10.2f | %6.2f%s | %11s |\n",
			r.BenchmarkType,
			r.NumKeys,
			r.ValueSize,
			r.Throughput,
			latency, latencyUnit,
			extra)
	}
	fmt.Println("+-----------------+--------+---------+------------+----------+-------------+")
}
