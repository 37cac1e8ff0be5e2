package btree

import (
	"encoding/binary"
	"fmt"
	"slices"
	"sort"
)

// NodeKind distinguishes internal nodes from leaves
type NodeKind uint16

const (
	// NodeInternal nodes carry n entries and n+1 child pointers
	NodeInternal NodeKind = iota
	// NodeLeaf nodes carry entries only
	NodeLeaf
)

func (k NodeKind) String() string {
	switch k {
	case NodeInternal:
		return "internal"
	case NodeLeaf:
		return "leaf"
	default:
		return fmt.Sprintf("nodekind(%d)", uint16(k))
	}
}

// node is the in-memory form of one node block. Nodes are plain values
// loaded by block number; nothing holds a node across public calls except
// the tree's root.
type node struct {
	block    int64
	kind     NodeKind
	entries  []Entry
	children []int64 // len(entries)+1 for internal nodes, nil for leaves
}

func newNode(block int64, kind NodeKind) *node {
	n := &node{block: block, kind: kind, entries: make([]Entry, 0, maxEntries(kind))}
	if kind == NodeInternal {
		n.children = make([]int64, 0, MaxInternalEntries+1)
	}
	return n
}

func maxEntries(kind NodeKind) int {
	if kind == NodeLeaf {
		return MaxLeafEntries
	}
	return MaxInternalEntries
}

func minEntries(kind NodeKind) int {
	if kind == NodeLeaf {
		return MinLeafEntries
	}
	return MinInternalEntries
}

func (n *node) isLeaf() bool    { return n.kind == NodeLeaf }
func (n *node) count() int      { return len(n.entries) }
func (n *node) maxEntries() int { return maxEntries(n.kind) }
func (n *node) minEntries() int { return minEntries(n.kind) }
func (n *node) isFull() bool    { return n.count() == n.maxEntries() }

// search returns the index of the first entry with a key >= key, and
// whether that entry matches
func (n *node) search(key int32) (int, bool) {
	i := sort.Search(len(n.entries), func(i int) bool {
		return n.entries[i].Key >= key
	})
	return i, i < len(n.entries) && n.entries[i].Key == key
}

// clone returns a copy of n that later changes to n do not reach
func (n *node) clone() *node {
	c := &node{block: n.block, kind: n.kind}
	c.entries = append(make([]Entry, 0, cap(n.entries)), n.entries...)
	if n.children != nil {
		c.children = append(make([]int64, 0, cap(n.children)), n.children...)
	}
	return c
}

func (n *node) setEntry(i int, e Entry) {
	n.entries[i] = e
}

func (n *node) insertEntry(i int, e Entry) {
	n.entries = slices.Insert(n.entries, i, e)
}

func (n *node) removeEntry(i int) Entry {
	e := n.entries[i]
	n.entries = slices.Delete(n.entries, i, i+1)
	return e
}

func (n *node) insertChild(i int, block int64) {
	n.children = slices.Insert(n.children, i, block)
}

func (n *node) removeChild(i int) int64 {
	c := n.children[i]
	n.children = slices.Delete(n.children, i, i+1)
	return c
}

// removeEntryAndRightChild removes entry i together with children[i+1]
func (n *node) removeEntryAndRightChild(i int) (Entry, int64) {
	e := n.removeEntry(i)
	c := n.removeChild(i + 1)
	return e, c
}

// merge appends the separator and all of other's entries (and children)
// to n. The caller guarantees the result fits.
func (n *node) merge(sep Entry, other *node) {
	if n.kind != other.kind {
		panic(fmt.Sprintf("btree: merging %s node %d into %s node %d", other.kind, other.block, n.kind, n.block))
	}
	if n.count()+other.count()+1 > n.maxEntries() {
		panic(fmt.Sprintf("btree: merge of nodes %d and %d overflows", n.block, other.block))
	}
	n.entries = append(n.entries, sep)
	n.entries = append(n.entries, other.entries...)
	if n.kind == NodeInternal {
		n.children = append(n.children, other.children...)
	}
}

// encode serialises the node into one block
func (n *node) encode() []byte {
	if n.count() > n.maxEntries() {
		panic(fmt.Sprintf("btree: node %d holds %d entries", n.block, n.count()))
	}

	buf := make([]byte, BlockSize)
	binary.LittleEndian.PutUint32(buf[0:4], NodeMagic)
	binary.LittleEndian.PutUint16(buf[4:6], uint16(n.kind))
	binary.LittleEndian.PutUint16(buf[6:8], uint16(n.count()))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(n.block))

	for i, e := range n.entries {
		off := nodeHeaderSize + i*entrySize
		e.encodeTo(buf[off : off+entrySize])
	}

	if n.kind == NodeInternal {
		for i := 0; i <= MaxInternalEntries; i++ {
			c := InvalidBlock
			if i < len(n.children) {
				c = n.children[i]
			}
			off := childrenOffset + i*childSize
			binary.LittleEndian.PutUint64(buf[off:off+childSize], uint64(c))
		}
	}
	return buf
}

// decodeNode parses block, checking the magic number and that the block
// was read from where it claims to live
func decodeNode(block int64, buf []byte) (*node, error) {
	if magic := binary.LittleEndian.Uint32(buf[0:4]); magic != NodeMagic {
		return nil, corruptf(block, "node magic %#x, expected %#x", magic, NodeMagic)
	}
	if stored := int64(binary.LittleEndian.Uint64(buf[8:16])); stored != block {
		return nil, corruptf(block, "node claims block number %d", stored)
	}

	kind := NodeKind(binary.LittleEndian.Uint16(buf[4:6]))
	if kind != NodeInternal && kind != NodeLeaf {
		return nil, corruptf(block, "unknown node kind %d", kind)
	}
	count := int(binary.LittleEndian.Uint16(buf[6:8]))
	if count > maxEntries(kind) {
		return nil, corruptf(block, "%s node holds %d entries", kind, count)
	}

	n := newNode(block, kind)
	for i := 0; i < count; i++ {
		off := nodeHeaderSize + i*entrySize
		e, err := decodeEntry(block, buf[off:off+entrySize])
		if err != nil {
			return nil, err
		}
		n.entries = append(n.entries, e)
	}

	if kind == NodeInternal {
		for i := 0; i <= count; i++ {
			off := childrenOffset + i*childSize
			c := int64(binary.LittleEndian.Uint64(buf[off : off+childSize]))
			if c <= 0 {
				return nil, corruptf(block, "child %d points at block %d", i, c)
			}
			n.children = append(n.children, c)
		}
	}
	return n, nil
}
