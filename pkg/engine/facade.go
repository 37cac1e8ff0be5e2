package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/KevoDB/btkv/pkg/btree"
	"github.com/KevoDB/btkv/pkg/common/iterator"
	"github.com/KevoDB/btkv/pkg/common/iterator/bounded"
	"github.com/KevoDB/btkv/pkg/common/log"
	"github.com/KevoDB/btkv/pkg/config"
	"github.com/KevoDB/btkv/pkg/device"
	"github.com/KevoDB/btkv/pkg/engine/interfaces"
	"github.com/KevoDB/btkv/pkg/snapshot"
	"github.com/KevoDB/btkv/pkg/stats"
	"github.com/KevoDB/btkv/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// Ensure EngineFacade implements the Engine interface
var _ interfaces.Engine = (*EngineFacade)(nil)

// inlineValueLimit is the largest value stored without a fragment chain
const inlineValueLimit = btree.EntryDataLen

// EngineFacade serialises access to one B-tree file and wraps it with
// configuration, statistics, logging and telemetry. Reads share a
// read lock; mutations take the write lock.
type EngineFacade struct {
	cfg      *config.Config
	manifest *config.Manifest
	path     string

	dev   device.BlockDevice
	cache *device.CachedDevice
	tree  *btree.Tree

	stats   stats.Collector
	metrics EngineMetrics
	tel     telemetry.Telemetry
	logger  log.Logger

	// reported cache counters, for deltas
	lastHits, lastMisses uint64

	mu       sync.RWMutex
	closed   atomic.Bool
	readOnly bool
}

// Engine is the name callers use for the facade
type Engine = EngineFacade

// CurrentLayout returns the block geometry of this build
func CurrentLayout() config.Layout {
	return config.Layout{
		BlockSize:    btree.BlockSize,
		FragmentSize: btree.FragmentSize,
		EntryDataLen: btree.EntryDataLen,
	}
}

func newFacade(path string, cfg *config.Config, o options) *EngineFacade {
	logger := o.logger
	if logger == nil {
		logger = log.GetDefaultLogger().WithField("component", "engine")
		logger.SetLevel(cfg.Level())
	}

	collector := o.stats
	if collector == nil {
		collector = stats.NewAtomicCollector()
	}

	tel := o.telemetry
	if tel == nil {
		tel = telemetry.NewNoop()
	}

	return &EngineFacade{
		cfg:      cfg,
		path:     path,
		stats:    collector,
		metrics:  NewEngineMetrics(tel),
		tel:      tel,
		logger:   logger,
		readOnly: cfg.ReadOnly,
	}
}

func resolveOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Create makes a new empty store at path, replacing any file already
// there, and writes its manifest next to it
func Create(path string, opts ...Option) (*EngineFacade, error) {
	o := resolveOptions(opts)

	cfg := o.config
	if cfg == nil {
		cfg = config.NewDefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.ReadOnly {
		return nil, fmt.Errorf("%w: cannot create a store", ErrReadOnly)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	start := time.Now()
	e := newFacade(path, cfg, o)

	dev, err := device.Open(path, device.CreateOrTruncate)
	if err != nil {
		return nil, e.initFailed(start, fmt.Errorf("failed to create data file: %w", err))
	}
	if err := e.attach(dev); err != nil {
		dev.Close()
		return nil, e.initFailed(start, err)
	}

	tree, err := btree.Create(e.dev, e.treeOptions()...)
	if err != nil {
		e.dev.Close()
		return nil, e.initFailed(start, fmt.Errorf("failed to create tree: %w", err))
	}
	e.tree = tree

	manifest, err := config.NewManifest(path, cfg, CurrentLayout())
	if err == nil {
		err = manifest.Save()
	}
	if err != nil {
		e.dev.Close()
		return nil, e.initFailed(start, fmt.Errorf("failed to save manifest: %w", err))
	}
	e.manifest = manifest

	if err := e.syncIfNeeded(); err != nil {
		e.dev.Close()
		return nil, e.initFailed(start, err)
	}

	e.metrics.RecordComponentInitialization(context.Background(), telemetry.ComponentBTree, time.Since(start), true)
	e.metrics.RecordTreeShape(context.Background(), tree.Height(), tree.BlockCount())
	e.logger.Info("Created store at %s", path)
	return e, nil
}

// Open opens the existing store at path. Without WithConfig the
// configuration comes from the manifest, or defaults when there is none.
func Open(path string, opts ...Option) (*EngineFacade, error) {
	o := resolveOptions(opts)

	manifest, err := config.LoadManifest(path)
	switch {
	case err == nil:
		if err := manifest.GetLayout().Check(CurrentLayout()); err != nil {
			return nil, err
		}
	case errors.Is(err, config.ErrManifestNotFound):
		manifest = nil
	default:
		return nil, fmt.Errorf("failed to load manifest: %w", err)
	}

	cfg := o.config
	if cfg == nil && manifest != nil {
		if cfg, err = manifest.GetConfig().Clone(); err != nil {
			return nil, err
		}
	}
	if cfg == nil {
		cfg = config.NewDefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	e := newFacade(path, cfg, o)

	mode := device.OpenExisting
	if cfg.ReadOnly {
		mode = device.ReadOnly
	}
	dev, err := device.Open(path, mode)
	if err != nil {
		return nil, e.initFailed(start, fmt.Errorf("failed to open data file: %w", err))
	}
	if err := e.attach(dev); err != nil {
		dev.Close()
		return nil, e.initFailed(start, err)
	}

	tree, err := btree.Open(e.dev, e.treeOptions()...)
	if err != nil {
		e.dev.Close()
		return nil, e.initFailed(start, fmt.Errorf("failed to open tree: %w", err))
	}
	e.tree = tree

	if err := e.recordManifest(manifest, o.config != nil); err != nil {
		e.dev.Close()
		return nil, e.initFailed(start, err)
	}

	e.metrics.RecordComponentInitialization(context.Background(), telemetry.ComponentBTree, time.Since(start), true)
	e.metrics.RecordTreeShape(context.Background(), tree.Height(), tree.BlockCount())
	e.logger.Info("Opened store at %s (height %d, %d blocks, read-only %v)",
		path, tree.Height(), tree.BlockCount(), e.readOnly)
	return e, nil
}

// attach wraps dev with the block cache when one is configured
func (e *EngineFacade) attach(dev device.BlockDevice) error {
	if e.cfg.BlockCacheSize == 0 {
		e.dev = dev
		return nil
	}
	cache, err := device.NewCachedDevice(dev, e.cfg.BlockCacheSize)
	if err != nil {
		return err
	}
	e.cache = cache
	e.dev = cache
	return nil
}

func (e *EngineFacade) treeOptions() []btree.Option {
	return []btree.Option{
		btree.WithLogger(e.logger.WithField("component", "btree")),
		btree.WithStats(e.stats),
	}
}

// recordManifest makes sure a writable store has a manifest matching its
// configuration
func (e *EngineFacade) recordManifest(manifest *config.Manifest, override bool) error {
	if e.readOnly {
		e.manifest = manifest
		return nil
	}

	var err error
	switch {
	case manifest == nil:
		manifest, err = config.NewManifest(e.path, e.cfg, CurrentLayout())
	case override:
		err = manifest.UpdateConfig(func(c *config.Config) {
			c.BlockCacheSize = e.cfg.BlockCacheSize
			c.SyncMode = e.cfg.SyncMode
			c.LogLevel = e.cfg.LogLevel
		})
	default:
		e.manifest = manifest
		return nil
	}
	if err == nil {
		err = manifest.Save()
	}
	if err != nil {
		return fmt.Errorf("failed to save manifest: %w", err)
	}
	e.manifest = manifest
	return nil
}

func (e *EngineFacade) initFailed(start time.Time, err error) error {
	e.metrics.RecordComponentInitialization(context.Background(), telemetry.ComponentBTree, time.Since(start), false)
	e.metrics.RecordError(context.Background(), "init_error", telemetry.ComponentEngine)
	e.logger.Error("Failed to initialise store at %s: %v", e.path, err)
	return err
}

// Insert adds key with value. It fails with ErrKeyExists when the key is
// already present, without changing the store.
func (e *EngineFacade) Insert(key int32, value []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.writable(); err != nil {
		return err
	}

	start := time.Now()
	err := e.tree.Insert(key, value)
	if err == nil {
		err = e.syncIfNeeded()
	}
	e.finishWrite(stats.OpInsert, start, len(value), err)
	return err
}

// Put stores value under key, replacing any previous value
func (e *EngineFacade) Put(key int32, value []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.writable(); err != nil {
		return err
	}

	start := time.Now()
	err := e.put(key, value)
	if err == nil {
		err = e.syncIfNeeded()
	}
	e.finishWrite(stats.OpPut, start, len(value), err)
	return err
}

// put replaces the value of key. The caller holds the write lock.
func (e *EngineFacade) put(key int32, value []byte) error {
	return e.tree.Put(key, value)
}

// Get returns the value stored under key, or ErrKeyNotFound
func (e *EngineFacade) Get(key int32) ([]byte, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed.Load() {
		return nil, ErrEngineClosed
	}

	start := time.Now()
	value, found, err := e.tree.Search(key)
	if err == nil && !found {
		err = ErrKeyNotFound
	}
	e.track(stats.OpGet, start, err)
	if err != nil {
		return nil, err
	}
	e.metrics.RecordValueSize(context.Background(), telemetry.OpTypeGet, len(value))
	return value, nil
}

// Delete removes key and reports whether it was present
func (e *EngineFacade) Delete(key int32) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.writable(); err != nil {
		return false, err
	}

	start := time.Now()
	found, err := e.tree.Delete(key)
	if err == nil && found {
		err = e.syncIfNeeded()
	}
	e.track(stats.OpDelete, start, err)
	if err == nil && found {
		e.metrics.RecordTreeShape(context.Background(), e.tree.Height(), e.tree.BlockCount())
	}
	return found, err
}

// Scan returns an iterator over the keys in [start, end). Every iterator
// call takes the read lock, so mutations between calls are allowed. Keys
// always come out in increasing order; a key changed after the iterator
// passed it is not revisited.
func (e *EngineFacade) Scan(start, end int32) (iterator.Iterator, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed.Load() {
		return nil, ErrEngineClosed
	}

	begin := time.Now()
	iter := bounded.Range(&lockedIterator{iter: e.tree.NewIterator(), mu: &e.mu}, start, end)
	e.track(stats.OpScan, begin, nil)
	return iter, nil
}

// Check walks the whole store and verifies every structural invariant
func (e *EngineFacade) Check() (btree.VerifyReport, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed.Load() {
		return btree.VerifyReport{}, ErrEngineClosed
	}

	ctx, span := e.tel.StartSpan(context.Background(), "btkv.engine.check",
		attribute.String(telemetry.AttrOperationType, telemetry.OpTypeCheck))
	defer span.End()

	start := time.Now()
	report, err := e.tree.Verify()
	e.trackCtx(ctx, stats.OpCheck, start, err)
	if err != nil {
		e.logger.Error("Check of %s failed: %v", e.path, err)
		return report, err
	}
	e.logger.Debug("Check of %s passed: %s", e.path, report)
	return report, nil
}

// Dump writes every key with a short value summary in key order
func (e *EngineFacade) Dump(w io.Writer) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed.Load() {
		return ErrEngineClosed
	}
	return e.tree.Dump(w)
}

// DumpTree writes the node structure of the tree
func (e *EngineFacade) DumpTree(w io.Writer) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed.Load() {
		return ErrEngineClosed
	}
	return e.tree.DumpTree(w)
}

// Export writes a snapshot of every record to w
func (e *EngineFacade) Export(w io.Writer, codec snapshot.Codec) (uint64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed.Load() {
		return 0, ErrEngineClosed
	}

	ctx, span := e.tel.StartSpan(context.Background(), "btkv.engine.export",
		attribute.String(telemetry.AttrOperationType, telemetry.OpTypeExport),
		attribute.String(telemetry.AttrCodec, codec.String()))
	defer span.End()

	start := time.Now()
	count, err := snapshot.Export(w, e.tree.NewIterator(), codec)
	e.trackCtx(ctx, stats.OpExport, start, err)
	if err != nil {
		return count, err
	}

	e.logger.Info("Exported %d records from %s (%s)", count, e.path, codec)
	return count, nil
}

// Import applies every record of the snapshot in r with Put semantics and
// returns the number applied. Records before a failure stay applied.
func (e *EngineFacade) Import(r io.Reader) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.writable(); err != nil {
		return 0, err
	}

	ctx, span := e.tel.StartSpan(context.Background(), "btkv.engine.import",
		attribute.String(telemetry.AttrOperationType, telemetry.OpTypeImport))
	defer span.End()

	start := time.Now()
	count, err := snapshot.Import(r, func(key int32, value []byte) error {
		return e.put(key, value)
	})
	if syncErr := e.syncIfNeeded(); err == nil {
		err = syncErr
	}
	e.trackCtx(ctx, stats.OpImport, start, err)
	e.metrics.RecordTreeShape(ctx, e.tree.Height(), e.tree.BlockCount())
	if err != nil {
		return count, err
	}

	e.logger.Info("Imported %d records into %s", count, e.path)
	return count, nil
}

// Sync flushes written blocks to stable storage
func (e *EngineFacade) Sync() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed.Load() {
		return ErrEngineClosed
	}
	if e.readOnly {
		return nil
	}
	return e.tree.Sync()
}

// GetStats returns the current statistics for the engine
func (e *EngineFacade) GetStats() map[string]interface{} {
	stats := e.stats.GetStats()

	if e.cache != nil {
		hits, misses, cached := e.cache.CacheStats()
		stats["cache_hits"] = hits
		stats["cache_misses"] = misses
		stats["cache_blocks"] = cached
	}

	stats["path"] = e.path
	stats["read_only"] = e.readOnly
	stats["closed"] = e.closed.Load()

	return stats
}

// Config returns the configuration the engine runs with
func (e *EngineFacade) Config() *config.Config {
	return e.cfg
}

// Close syncs and closes the store. Closing twice is not an error.
func (e *EngineFacade) Close() error {
	if e.closed.Swap(true) {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var err error
	if !e.readOnly {
		err = e.tree.Sync()
	}
	if closeErr := e.dev.Close(); err == nil {
		err = closeErr
	}

	if e.cache != nil {
		hits, misses, _ := e.cache.CacheStats()
		e.metrics.RecordCacheStats(context.Background(), hits-e.lastHits, misses-e.lastMisses)
		e.lastHits, e.lastMisses = hits, misses
	}
	e.metrics.Close()

	if err != nil {
		e.stats.TrackError("close_error")
		e.logger.Error("Failed to close store at %s: %v", e.path, err)
		return err
	}
	e.logger.Info("Closed store at %s", e.path)
	return nil
}

// writable checks that a mutation may run. The caller holds the write lock.
func (e *EngineFacade) writable() error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	if e.readOnly {
		return ErrReadOnly
	}
	return nil
}

func (e *EngineFacade) syncIfNeeded() error {
	if e.cfg.SyncMode != config.SyncImmediate {
		return nil
	}
	if err := e.tree.Sync(); err != nil {
		return fmt.Errorf("failed to sync: %w", err)
	}
	return nil
}

func (e *EngineFacade) finishWrite(op stats.OperationType, start time.Time, size int, err error) {
	e.track(op, start, err)
	if err != nil {
		return
	}
	ctx := context.Background()
	e.metrics.RecordValueSize(ctx, string(op), size)
	e.metrics.RecordTreeShape(ctx, e.tree.Height(), e.tree.BlockCount())
}

func (e *EngineFacade) track(op stats.OperationType, start time.Time, err error) {
	e.trackCtx(context.Background(), op, start, err)
}

func (e *EngineFacade) trackCtx(ctx context.Context, op stats.OperationType, start time.Time, err error) {
	elapsed := time.Since(start)
	e.stats.TrackOperationWithLatency(op, uint64(elapsed.Nanoseconds()))

	failed := err != nil && !isMiss(err)
	e.metrics.RecordEngineOperation(ctx, string(op), elapsed, !failed)
	if failed {
		e.stats.TrackError(string(op) + "_error")
		e.metrics.RecordError(ctx, string(op)+"_error", telemetry.ComponentEngine)
		e.logger.Error("%s failed on %s: %v", op, e.path, err)
	}
}

// lockedIterator takes the engine's read lock around every call
type lockedIterator struct {
	iter iterator.Iterator
	mu   *sync.RWMutex
}

func (l *lockedIterator) SeekToFirst() {
	l.mu.RLock()
	defer l.mu.RUnlock()
	l.iter.SeekToFirst()
}

func (l *lockedIterator) SeekToLast() {
	l.mu.RLock()
	defer l.mu.RUnlock()
	l.iter.SeekToLast()
}

func (l *lockedIterator) Seek(target int32) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.iter.Seek(target)
}

func (l *lockedIterator) Next() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.iter.Next()
}

func (l *lockedIterator) Key() int32 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.iter.Key()
}

func (l *lockedIterator) Value() []byte {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.iter.Value()
}

func (l *lockedIterator) Valid() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.iter.Valid()
}

func (l *lockedIterator) Err() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.iter.Err()
}
