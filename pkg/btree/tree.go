// Package btree implements an order-preserving int32 key/value store laid
// out as a B-tree on the fixed-size blocks of a block device.
//
// Block 0 holds the header. Every other block is either a tree node or a
// fragment block carrying the tail of values too long to live inline in
// a node entry. Block numbers come from a monotonically increasing cursor
// in the header and are never reused.
//
// A Tree is not safe for concurrent use. Callers serialise mutations and
// may run concurrent reads only if the device allows it.
package btree

import (
	"fmt"
	"math"

	"github.com/KevoDB/btkv/pkg/common/log"
	"github.com/KevoDB/btkv/pkg/device"
	"github.com/KevoDB/btkv/pkg/stats"
)

// MaxValueSize is the largest value length an entry can describe
const MaxValueSize = math.MaxInt32

// Tree is a B-tree stored on a block device
type Tree struct {
	s      *store
	root   *node
	height int

	// version changes on every mutation so iterators can detect that the
	// path they hold is out of date
	version uint64
}

type options struct {
	logger log.Logger
	stats  stats.Collector
}

// Option configures a Tree
type Option func(*options)

// WithLogger sets the logger used for structural debug output
func WithLogger(logger log.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithStats sets the collector that receives structural events
func WithStats(collector stats.Collector) Option {
	return func(o *options) {
		o.stats = collector
	}
}

func newStore(dev device.BlockDevice, opts []Option) *store {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = log.GetDefaultLogger().WithField("component", "btree")
	}
	return &store{dev: dev, logger: o.logger, stats: o.stats}
}

// Create initialises an empty tree on dev: a header in block 0 and an empty
// root leaf in block 1. Anything already on the device is overwritten.
func Create(dev device.BlockDevice, opts ...Option) (*Tree, error) {
	s := newStore(dev, opts)
	s.hdr = newHeader()
	s.hdr.allocateBlockNumber() // block 0 is the header

	root, err := s.allocateNode(NodeLeaf)
	if err != nil {
		return nil, err
	}
	s.hdr.rootBlock = root.block
	if err := s.writeHeader(); err != nil {
		return nil, err
	}

	t := &Tree{s: s, root: root, height: 1}
	t.trackShape()
	s.logger.Debug("created tree on %s", dev.Path())
	return t, nil
}

// Open loads an existing tree from dev, validating the header and root
func Open(dev device.BlockDevice, opts ...Option) (*Tree, error) {
	s := newStore(dev, opts)
	if err := s.loadHeader(); err != nil {
		return nil, err
	}

	root, err := s.readNode(s.hdr.rootBlock)
	if err != nil {
		return nil, fmt.Errorf("failed to load root: %w", err)
	}

	t := &Tree{s: s, root: root, height: 1}
	for n := root; !n.isLeaf(); t.height++ {
		if n, err = s.readNode(n.children[0]); err != nil {
			return nil, fmt.Errorf("failed to measure tree height: %w", err)
		}
	}
	t.trackShape()
	s.logger.Debug("opened tree on %s: root %d, height %d, %d blocks",
		dev.Path(), root.block, t.height, s.hdr.blockCount)
	return t, nil
}

// Search returns the value stored under key and whether the key exists
func (t *Tree) Search(key int32) ([]byte, bool, error) {
	e, found, err := t.find(key)
	if err != nil || !found {
		return nil, false, err
	}
	value, err := t.value(e)
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Contains reports whether key exists without reading its value
func (t *Tree) Contains(key int32) (bool, error) {
	_, found, err := t.find(key)
	return found, err
}

// find descends from the root to the entry holding key
func (t *Tree) find(key int32) (Entry, bool, error) {
	n := t.root
	for {
		i, found := n.search(key)
		if found {
			return n.entries[i], true, nil
		}
		if n.isLeaf() {
			return Entry{}, false, nil
		}

		var err error
		if n, err = t.s.readNode(n.children[i]); err != nil {
			return Entry{}, false, err
		}
	}
}

// value materialises the value of e, following its fragment chain if needed
func (t *Tree) value(e Entry) ([]byte, error) {
	if e.Kind == EntryComplete {
		return e.inlineValue(), nil
	}
	return t.s.readOverflow(e)
}

// Height returns the number of levels in the tree. An empty tree has height 1.
func (t *Tree) Height() int {
	return t.height
}

// BlockCount returns the number of blocks allocated in the file
func (t *Tree) BlockCount() int64 {
	return t.s.hdr.blockCount
}

// Sync flushes the underlying device
func (t *Tree) Sync() error {
	return t.s.dev.Sync()
}

func (t *Tree) trackShape() {
	if t.s.stats != nil {
		t.s.stats.TrackTreeShape(t.height, t.s.hdr.blockCount)
	}
}
