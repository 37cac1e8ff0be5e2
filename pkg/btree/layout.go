package btree

import (
	"fmt"

	"github.com/KevoDB/btkv/pkg/device"
)

/*
On-disk layout. Every block is device.BlockSize bytes, little-endian, and
starts with a 4-byte magic number. Unused space is zero.

Header (block 0):
  | magic | reserved | block | block_count | free_block | root | bucket[1..K-1] |
  |  4B   |    4B    |  8B   |     8B      |     8B     |  8B  |   8B * (K-1)   |

Node:
  | magic | kind | n  | block | entries        | children (internal only) |
  |  4B   |  2B  | 2B |  8B   | 44B * MAX      | 8B * (MAX+1)             |

Entry:
  | key | kind | length | payload |
  | 4B  |  4B  |   4B   |   32B   |

  An overflow entry's payload holds
  | first fragment block | first fragment index | value prefix |
  |          8B          |          4B          |     20B      |

Fragment block:
  | magic | reserved | block | next_block | used bitmap | reserved | K fragments |
  |  4B   |    4B    |  8B   |     8B     |     1B      |    7B    |   32B * K   |

  Each reserved cluster of contiguous fragments starts with
  | data length | next block | next fragment | data ... |
  |     4B      |     8B     |      4B       |          |
*/

const (
	// BlockSize is the size of every block in the file
	BlockSize = device.BlockSize
	// FragmentSize is the size of one fragment inside a fragment block
	FragmentSize = 32
	// EntryDataLen is the inline payload capacity of an entry
	EntryDataLen = 32

	// HeaderMagic identifies the header block
	HeaderMagic uint32 = 0x823A9BE4
	// NodeMagic identifies a node block
	NodeMagic uint32 = 0x76F3D90A
	// FragmentMagic identifies a fragment block
	FragmentMagic uint32 = 0x2301AD98

	// InvalidBlock denotes "no block"
	InvalidBlock int64 = -1
	// InvalidFragment denotes "no fragment"
	InvalidFragment int32 = -1
)

const (
	nodeHeaderSize = 16
	entrySize      = 12 + EntryDataLen
	childSize      = 8

	// MaxLeafEntries is the entry capacity of a leaf node
	MaxLeafEntries = (BlockSize - nodeHeaderSize) / entrySize
	// MaxInternalEntries is the entry capacity of an internal node; the
	// extra child pointer is paid for up front
	MaxInternalEntries = (BlockSize - nodeHeaderSize - childSize) / (entrySize + childSize)

	// MinLeafEntries is the occupancy floor of a non-root leaf
	MinLeafEntries = (MaxLeafEntries+1)/2 - 1
	// MinInternalEntries is the occupancy floor of a non-root internal node
	MinInternalEntries = (MaxInternalEntries+1)/2 - 1

	childrenOffset = nodeHeaderSize + MaxInternalEntries*entrySize

	overflowRefSize = 12
	// OverflowPrefixLen is how many value bytes an overflow entry keeps inline
	OverflowPrefixLen = EntryDataLen - overflowRefSize

	fragmentHeaderSize = 32
	// FragmentsPerBlock is K, the number of fragments in a fragment block
	FragmentsPerBlock = (BlockSize - fragmentHeaderSize) / FragmentSize
	// clusterHeaderSize is the per-cluster overflow data header
	clusterHeaderSize = 16

	headerBucketOffset = 40
)

func init() {
	// two minimal nodes plus a separator must fit in one node, or merge
	// could overflow
	if 2*MinLeafEntries+1 > MaxLeafEntries || 2*MinInternalEntries+1 > MaxInternalEntries {
		panic(fmt.Sprintf("btree: invalid node capacities leaf=%d/%d internal=%d/%d",
			MinLeafEntries, MaxLeafEntries, MinInternalEntries, MaxInternalEntries))
	}
	if childrenOffset+childSize*(MaxInternalEntries+1) > BlockSize {
		panic("btree: internal node does not fit in a block")
	}
	if fragmentHeaderSize+FragmentsPerBlock*FragmentSize != BlockSize {
		panic("btree: fragment size does not evenly divide the block")
	}
	if FragmentsPerBlock > 8 {
		panic("btree: fragment bitmap holds at most 8 fragments")
	}
	if headerBucketOffset+8*(FragmentsPerBlock-1) > BlockSize {
		panic("btree: header does not fit in a block")
	}
}

// fragmentsFor returns how many fragments a cluster needs to carry n bytes
func fragmentsFor(n int) int {
	return (n + clusterHeaderSize + FragmentSize - 1) / FragmentSize
}

// clusterCapacity returns the data bytes a cluster of count fragments carries
func clusterCapacity(count int) int {
	return count*FragmentSize - clusterHeaderSize
}
