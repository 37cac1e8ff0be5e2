package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/KevoDB/btkv/pkg/common/log"
	"github.com/KevoDB/btkv/pkg/config"
	"github.com/KevoDB/btkv/pkg/engine"
	"github.com/KevoDB/btkv/pkg/snapshot"
	"github.com/KevoDB/btkv/pkg/telemetry"
)

// maxShownValue is how much of a value GET and SCAN print
const maxShownValue = 64

// shell runs commands against at most one open store
type shell struct {
	out  io.Writer
	opts Options
	tel  telemetry.Telemetry

	eng  *engine.Engine
	path string
}

func newShell(out io.Writer, opts Options, tel telemetry.Telemetry) *shell {
	if opts.set == nil {
		opts.set = make(map[string]bool)
	}
	if tel == nil {
		tel = telemetry.NewNoop()
	}
	return &shell{out: out, opts: opts, tel: tel}
}

func (s *shell) prompt() string {
	if s.eng == nil {
		return "btkv> "
	}
	if s.eng.Config().ReadOnly {
		return fmt.Sprintf("btkv:%s[RO]> ", s.path)
	}
	return fmt.Sprintf("btkv:%s> ", s.path)
}

func (s *shell) printf(format string, args ...interface{}) {
	fmt.Fprintf(s.out, format, args...)
}

// engineOptions builds the options for Create and Open. Settings given on
// the command line override the ones stored in the manifest.
func (s *shell) engineOptions(path string, create bool) ([]engine.Option, error) {
	level, err := log.ParseLevel(s.opts.LogLevel)
	if err != nil {
		return nil, err
	}
	opts := []engine.Option{
		engine.WithLogger(log.NewStandardLogger(log.WithLevel(level), log.WithOutput(os.Stderr))),
		engine.WithTelemetry(s.tel),
	}

	overrides := s.opts.set["cache"] || s.opts.set["sync"] || s.opts.set["readonly"] || s.opts.set["log-level"]
	if !overrides {
		return opts, nil
	}

	cfg := config.NewDefaultConfig()
	if !create {
		stored, err := config.LoadConfigFromManifest(path)
		if err != nil {
			return nil, err
		}
		if cfg, err = stored.Clone(); err != nil {
			return nil, err
		}
	}

	syncMode := cfg.SyncMode
	if s.opts.set["sync"] {
		if syncMode, err = config.ParseSyncMode(s.opts.SyncMode); err != nil {
			return nil, err
		}
	}
	cfg.Update(func(c *config.Config) {
		if s.opts.set["cache"] {
			c.BlockCacheSize = s.opts.CacheSize
		}
		if s.opts.set["log-level"] {
			c.LogLevel = s.opts.LogLevel
		}
		c.SyncMode = syncMode
		c.ReadOnly = s.opts.ReadOnly
	})
	return append(opts, engine.WithConfig(cfg)), nil
}

func (s *shell) create(path string) error {
	opts, err := s.engineOptions(path, true)
	if err != nil {
		return err
	}
	if err := s.closeEngine(); err != nil {
		return err
	}
	eng, err := engine.Create(path, opts...)
	if err != nil {
		return err
	}
	s.eng, s.path = eng, path
	return nil
}

func (s *shell) open(path string) error {
	opts, err := s.engineOptions(path, false)
	if err != nil {
		return err
	}
	if err := s.closeEngine(); err != nil {
		return err
	}
	eng, err := engine.Open(path, opts...)
	if err != nil {
		return err
	}
	s.eng, s.path = eng, path
	return nil
}

func (s *shell) closeEngine() error {
	if s.eng == nil {
		return nil
	}
	err := s.eng.Close()
	s.eng, s.path = nil, ""
	return err
}

// execute runs one input line and reports whether the shell should exit
func (s *shell) execute(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}

	parts := strings.Fields(line)
	cmd := strings.ToUpper(parts[0])

	if strings.HasPrefix(cmd, ".") {
		return s.dotCommand(strings.ToLower(cmd), parts[1:])
	}

	if s.eng == nil {
		s.printf("Error: No data file open\n")
		return false
	}

	switch cmd {
	case "INSERT", "PUT":
		if len(parts) < 3 {
			s.printf("Error: %s requires key and value arguments\n", cmd)
			return false
		}
		key, err := parseKey(parts[1])
		if err != nil {
			s.printf("Error: %s\n", err)
			return false
		}
		value, err := parseValue(key, strings.Join(parts[2:], " "))
		if err != nil {
			s.printf("Error: %s\n", err)
			return false
		}

		start := time.Now()
		if cmd == "INSERT" {
			err = s.eng.Insert(key, value)
		} else {
			err = s.eng.Put(key, value)
		}
		switch {
		case errors.Is(err, engine.ErrKeyExists):
			s.printf("Key %d already exists\n", key)
		case err != nil:
			s.printf("Error storing value: %s\n", err)
		default:
			s.printf("Value stored (%d bytes, %.2f ms)\n", len(value), float64(time.Since(start).Microseconds())/1000.0)
		}

	case "GET":
		if len(parts) < 2 {
			s.printf("Error: GET requires a key argument\n")
			return false
		}
		key, err := parseKey(parts[1])
		if err != nil {
			s.printf("Error: %s\n", err)
			return false
		}
		value, err := s.eng.Get(key)
		switch {
		case errors.Is(err, engine.ErrKeyNotFound):
			s.printf("Key not found\n")
		case err != nil:
			s.printf("Error getting value: %s\n", err)
		default:
			s.printf("%s\n", showValue(value))
		}

	case "DELETE":
		if len(parts) < 2 {
			s.printf("Error: DELETE requires a key argument\n")
			return false
		}
		key, err := parseKey(parts[1])
		if err != nil {
			s.printf("Error: %s\n", err)
			return false
		}
		found, err := s.eng.Delete(key)
		switch {
		case err != nil:
			s.printf("Error deleting key: %s\n", err)
		case !found:
			s.printf("Key not found\n")
		default:
			s.printf("Key deleted\n")
		}

	case "SCAN":
		s.scan(parts[1:])

	default:
		s.printf("Unknown command: %s\n", cmd)
	}
	return false
}

func (s *shell) dotCommand(cmd string, args []string) bool {
	switch cmd {
	case ".help":
		s.printf("%s", helpText)

	case ".exit":
		if err := s.closeEngine(); err != nil {
			s.printf("Error closing data file: %s\n", err)
		}
		s.printf("Goodbye!\n")
		return true

	case ".create", ".open":
		if len(args) < 1 {
			s.printf("Error: Missing path argument\n")
			return false
		}
		var err error
		if cmd == ".create" {
			err = s.create(args[0])
		} else {
			err = s.open(args[0])
		}
		if err != nil {
			s.printf("Error opening data file: %s\n", err)
			return false
		}
		s.printf("Data file opened at %s\n", args[0])

	case ".close":
		if s.eng == nil {
			s.printf("No data file open\n")
			return false
		}
		path := s.path
		if err := s.closeEngine(); err != nil {
			s.printf("Error closing data file: %s\n", err)
			return false
		}
		s.printf("Data file %s closed\n", path)

	default:
		if s.eng == nil {
			if isKnownDotCommand(cmd) {
				s.printf("No data file open\n")
			} else {
				s.printf("Unknown command: %s\n", cmd)
			}
			return false
		}
		s.storeCommand(cmd, args)
	}
	return false
}

func isKnownDotCommand(cmd string) bool {
	switch cmd {
	case ".stats", ".check", ".dump", ".tree", ".export", ".import":
		return true
	}
	return false
}

// storeCommand runs the dot commands that need an open store
func (s *shell) storeCommand(cmd string, args []string) {
	switch cmd {
	case ".stats":
		s.printStats(s.eng.GetStats())

	case ".check":
		report, err := s.eng.Check()
		if err != nil {
			s.printf("Check failed: %s\n", err)
			return
		}
		s.printf("OK: %s\n", report)

	case ".dump":
		if err := s.eng.Dump(s.out); err != nil {
			s.printf("Error dumping entries: %s\n", err)
		}

	case ".tree":
		if err := s.eng.DumpTree(s.out); err != nil {
			s.printf("Error dumping tree: %s\n", err)
		}

	case ".export":
		if len(args) < 1 {
			s.printf("Error: Missing path argument\n")
			return
		}
		codec := snapshot.CodecZstd
		if len(args) > 1 {
			var err error
			if codec, err = snapshot.ParseCodec(args[1]); err != nil {
				s.printf("Error: %s\n", err)
				return
			}
		}
		count, err := s.exportTo(args[0], codec)
		if err != nil {
			s.printf("Error exporting: %s\n", err)
			return
		}
		s.printf("Exported %d entries to %s (%s)\n", count, args[0], codec)

	case ".import":
		if len(args) < 1 {
			s.printf("Error: Missing path argument\n")
			return
		}
		f, err := os.Open(args[0])
		if err != nil {
			s.printf("Error importing: %s\n", err)
			return
		}
		defer f.Close()
		count, err := s.eng.Import(f)
		if err != nil {
			s.printf("Error importing after %d entries: %s\n", count, err)
			return
		}
		s.printf("Imported %d entries from %s\n", count, args[0])

	default:
		s.printf("Unknown command: %s\n", cmd)
	}
}

func (s *shell) exportTo(path string, codec snapshot.Codec) (uint64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	count, err := s.eng.Export(f, codec)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return 0, err
	}
	return count, nil
}

func (s *shell) scan(args []string) {
	start, end := int32(math.MinInt32), int32(math.MaxInt32)
	switch len(args) {
	case 0:
	case 2:
		var err error
		if start, err = parseKey(args[0]); err != nil {
			s.printf("Error: %s\n", err)
			return
		}
		if end, err = parseKey(args[1]); err != nil {
			s.printf("Error: %s\n", err)
			return
		}
	default:
		s.printf("Error: Invalid SCAN syntax. See .help for usage\n")
		return
	}

	iter, err := s.eng.Scan(start, end)
	if err != nil {
		s.printf("Error creating iterator: %s\n", err)
		return
	}

	count := 0
	for iter.SeekToFirst(); iter.Valid(); iter.Next() {
		s.printf("%d: %s\n", iter.Key(), showValue(iter.Value()))
		count++
	}
	if err := iter.Err(); err != nil {
		s.printf("Error scanning: %s\n", err)
		return
	}

	// [start, end) cannot name the largest key
	if len(args) == 0 {
		if value, err := s.eng.Get(math.MaxInt32); err == nil {
			s.printf("%d: %s\n", int32(math.MaxInt32), showValue(value))
			count++
		}
	}
	s.printf("%d entries found\n", count)
}

func (s *shell) printStats(stats map[string]interface{}) {
	s.printf("📊 Operations:\n")
	for _, op := range []string{"insert", "put", "get", "delete", "scan", "check", "export", "import"} {
		s.printf("  • %s: %d\n", toTitle(op), getUint64(stats, op+"_ops", 0))
	}

	s.printf("\n⚡ Latency (avg):\n")
	for _, op := range []string{"insert", "put", "get", "delete"} {
		if latency, ok := stats[op+"_latency"].(map[string]interface{}); ok {
			if avgNs, ok := latency["avg_ns"].(uint64); ok {
				s.printf("  • %s: %.3f ms\n", toTitle(op), float64(avgNs)/1000000.0)
			}
		}
	}

	s.printf("\n🌳 Tree:\n")
	s.printf("  • Height: %d\n", getUint64(stats, "tree_height", 0))
	s.printf("  • Blocks: %d\n", getUint64(stats, "block_count", 0))
	for _, event := range []string{"split", "merge", "rotate", "root_split", "root_collapse"} {
		if n := getUint64(stats, event+"_count", 0); n > 0 {
			s.printf("  • %s: %d\n", toTitle(strings.ReplaceAll(event, "_", " ")), n)
		}
	}

	s.printf("\n💾 Storage:\n")
	s.printf("  • Bytes Read: %d\n", getUint64(stats, "total_bytes_read", 0))
	s.printf("  • Bytes Written: %d\n", getUint64(stats, "total_bytes_written", 0))
	if _, ok := stats["cache_hits"]; ok {
		s.printf("  • Cache Hits: %d\n", getUint64(stats, "cache_hits", 0))
		s.printf("  • Cache Misses: %d\n", getUint64(stats, "cache_misses", 0))
		s.printf("  • Cached Blocks: %d\n", getUint64(stats, "cache_blocks", 0))
	}

	if errorsMap, ok := stats["errors"].(map[string]uint64); ok && len(errorsMap) > 0 {
		s.printf("\n⚠️ Errors:\n")
		names := make([]string, 0, len(errorsMap))
		for name := range errorsMap {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			s.printf("  • %s: %d\n", toTitle(strings.ReplaceAll(name, "_", " ")), errorsMap[name])
		}
	}
}

// getUint64 reads a numeric statistic whatever integer type it was stored as
func getUint64(m map[string]interface{}, key string, defaultVal uint64) uint64 {
	if val, ok := m[key]; ok {
		switch v := val.(type) {
		case uint64:
			return v
		case int64:
			return uint64(v)
		case int:
			return uint64(v)
		case float64:
			return uint64(v)
		}
	}
	return defaultVal
}

func parseKey(s string) (int32, error) {
	k, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid key %q: keys are 32-bit integers", s)
	}
	return int32(k), nil
}

// parseValue returns the bytes of a value argument. "@N" generates N bytes
// that embed the key, so overflow chains can be built by hand.
func parseValue(key int32, arg string) ([]byte, error) {
	if !strings.HasPrefix(arg, "@") || len(arg) == 1 {
		return []byte(arg), nil
	}
	n, err := strconv.Atoi(arg[1:])
	if err != nil || n < 0 {
		return nil, fmt.Errorf("invalid generated value size %q", arg)
	}
	return generateValue(key, n), nil
}

func generateValue(key int32, n int) []byte {
	pattern := []byte(fmt.Sprintf("<%d>", key))
	return bytes.Repeat(pattern, n/len(pattern)+1)[:n]
}

// showValue prints short printable values as they are and summarizes the rest
func showValue(v []byte) string {
	printable := utf8.Valid(v)
	for _, r := range string(v) {
		if !printable || !unicode.IsPrint(r) {
			printable = false
			break
		}
	}
	switch {
	case printable && len(v) <= maxShownValue:
		return string(v)
	case printable:
		return fmt.Sprintf("%s... (%d bytes)", v[:maxShownValue], len(v))
	default:
		return fmt.Sprintf("<%d bytes of binary data>", len(v))
	}
}

// toTitle converts the first character of each word to title case
func toTitle(s string) string {
	prev := ' '
	return strings.Map(
		func(r rune) rune {
			if unicode.IsSpace(prev) || unicode.IsPunct(prev) {
				prev = r
				return unicode.ToTitle(r)
			}
			prev = r
			return r
		},
		s)
}
