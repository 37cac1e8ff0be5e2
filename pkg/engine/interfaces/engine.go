package interfaces

import (
	"io"

	"github.com/KevoDB/btkv/pkg/btree"
	"github.com/KevoDB/btkv/pkg/common/iterator"
	"github.com/KevoDB/btkv/pkg/snapshot"
)

// Engine defines the core interface for the storage engine
// This is the primary interface clients will interact with
type Engine interface {
	// Core operations
	Insert(key int32, value []byte) error
	Put(key int32, value []byte) error
	Get(key int32) ([]byte, error)
	Delete(key int32) (bool, error)

	// Iterator access over [start, end)
	Scan(start, end int32) (iterator.Iterator, error)

	// Maintenance operations
	Check() (btree.VerifyReport, error)
	Dump(w io.Writer) error
	DumpTree(w io.Writer) error
	Sync() error

	// Snapshots
	Export(w io.Writer, codec snapshot.Codec) (uint64, error)
	Import(r io.Reader) (uint64, error)

	// Statistics
	GetStats() map[string]interface{}

	// Lifecycle management
	Close() error
}
