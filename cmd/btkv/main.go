package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/chzyer/readline"

	"github.com/KevoDB/btkv/pkg/config"
	"github.com/KevoDB/btkv/pkg/telemetry"
)

// Command completer for readline
var completer = readline.NewPrefixCompleter(
	readline.PcItem(".help"),
	readline.PcItem(".create"),
	readline.PcItem(".open"),
	readline.PcItem(".close"),
	readline.PcItem(".exit"),
	readline.PcItem(".stats"),
	readline.PcItem(".check"),
	readline.PcItem(".dump"),
	readline.PcItem(".tree"),
	readline.PcItem(".export"),
	readline.PcItem(".import"),
	readline.PcItem("INSERT"),
	readline.PcItem("PUT"),
	readline.PcItem("GET"),
	readline.PcItem("DELETE"),
	readline.PcItem("SCAN"),
)

const helpText = `
btkv - A single-file B-tree key-value store.

Usage:
  btkv [options] [data_file]  - Start with an optional data file

Options:
  -create                 - Create (or truncate) the data file instead of opening it
  -cache int              - Block cache size in blocks
  -sync string            - Sync mode: none or immediate
  -readonly               - Open the data file read-only
  -log-level string       - Log level: debug, info, warn or error

Commands:
  .help                   - Show this help message
  .create PATH            - Create (or truncate) a data file at PATH
  .open PATH              - Open the data file at PATH
  .close                  - Close the current data file
  .exit                   - Exit the program
  .stats                  - Show store statistics
  .check                  - Verify the tree and fragment invariants
  .dump                   - List every key with a value summary
  .tree                   - Show the tree structure node by node
  .export PATH [CODEC]    - Write a snapshot (codec: none, zstd, snappy)
  .import PATH            - Apply a snapshot, replacing existing keys

  INSERT key value        - Store a new key; fails if it exists
  PUT key value           - Store a key, replacing any old value
  GET key                 - Retrieve a value by key
  DELETE key              - Delete a key

  SCAN                    - Scan all keys
  SCAN start end          - Scan keys in range [start, end)

Keys are signed 32-bit integers. A value written as @N is replaced by a
generated value of N bytes.
`

// Options holds the command line configuration
type Options struct {
	DataPath string
	Create   bool

	CacheSize int
	SyncMode  string
	ReadOnly  bool
	LogLevel  string

	// names of the flags given explicitly; only those override the manifest
	set map[string]bool
}

func main() {
	opts := parseFlags()

	telCfg := telemetry.DefaultConfig()
	telCfg.LoadFromEnv()
	tel, err := telemetry.New(telCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing telemetry: %s\n", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error shutting down telemetry: %s\n", err)
		}
	}()

	sh := newShell(os.Stdout, opts, tel)
	defer sh.closeEngine()

	if opts.DataPath != "" {
		var err error
		if opts.Create {
			err = sh.create(opts.DataPath)
		} else {
			err = sh.open(opts.DataPath)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening data file: %s\n", err)
			os.Exit(1)
		}
	}

	runInteractive(sh)
}

// parseFlags parses command line flags and returns the Options
func parseFlags() Options {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "btkv - A single-file B-tree key-value store\n\n")
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: btkv [options] [data_file]\n\n")
		fmt.Fprintf(flag.CommandLine.Output(), "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(flag.CommandLine.Output(), "\nTelemetry is configured with BTKV_TELEMETRY_* environment variables.\n")
		fmt.Fprintf(flag.CommandLine.Output(), "For more details, start btkv and type .help\n")
	}

	defaults := config.NewDefaultConfig()
	create := flag.Bool("create", false, "Create (or truncate) the data file instead of opening it")
	cacheSize := flag.Int("cache", defaults.BlockCacheSize, "Block cache size in blocks (0 disables the cache)")
	syncMode := flag.String("sync", defaults.SyncMode.String(), "Sync mode: none or immediate")
	readOnly := flag.Bool("readonly", false, "Open the data file read-only")
	logLevel := flag.String("log-level", "warn", "Log level: debug, info, warn or error (logs go to stderr)")

	flag.Parse()

	opts := Options{
		Create:    *create,
		CacheSize: *cacheSize,
		SyncMode:  *syncMode,
		ReadOnly:  *readOnly,
		LogLevel:  *logLevel,
		set:       make(map[string]bool),
	}
	flag.Visit(func(f *flag.Flag) {
		opts.set[f.Name] = true
	})
	if flag.NArg() > 0 {
		opts.DataPath = flag.Arg(0)
	}
	return opts
}

// runInteractive starts the interactive CLI mode
func runInteractive(sh *shell) {
	fmt.Println("btkv version 1.0.0")
	fmt.Println("Enter .help for usage hints.")

	historyFile := filepath.Join(os.TempDir(), ".btkv_history")
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "btkv> ",
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    completer,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing readline: %s\n", err)
		os.Exit(1)
	}
	defer rl.Close()

	for {
		rl.SetPrompt(sh.prompt())

		line, readErr := rl.Readline()
		if readErr != nil {
			if readErr == readline.ErrInterrupt {
				if len(line) == 0 {
					break
				}
				continue
			} else if readErr == io.EOF {
				fmt.Println("Goodbye!")
				break
			}
			fmt.Fprintf(os.Stderr, "Error reading input: %s\n", readErr)
			continue
		}

		if sh.execute(line) {
			return
		}
	}
}
