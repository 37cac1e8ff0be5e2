package btree

import (
	"fmt"

	"github.com/KevoDB/btkv/pkg/stats"
)

// Insert adds key with value. Full nodes on the way down are split before
// the descent enters them, so the leaf that receives the entry always has
// room. Inserting a key that already exists fails with ErrKeyExists and
// writes nothing.
func (t *Tree) Insert(key int32, value []byte) error {
	if len(value) > MaxValueSize {
		return fmt.Errorf("%w: %d bytes", ErrValueTooLarge, len(value))
	}

	exists, err := t.Contains(key)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %d", ErrKeyExists, key)
	}

	e, err := t.buildEntry(key, value)
	if err != nil {
		return err
	}
	return t.insertEntry(e)
}

// Put stores value under key, replacing any existing value. The fragment
// chain of a long value is written before the old entry is removed, so a
// failed chain write leaves the old value in place.
func (t *Tree) Put(key int32, value []byte) error {
	if len(value) > MaxValueSize {
		return fmt.Errorf("%w: %d bytes", ErrValueTooLarge, len(value))
	}

	e, err := t.buildEntry(key, value)
	if err != nil {
		return err
	}
	if _, err := t.Delete(key); err != nil {
		return err
	}
	return t.insertEntry(e)
}

// insertEntry places a built entry whose key is absent from the tree
func (t *Tree) insertEntry(e Entry) error {
	t.version++
	if t.root.isFull() {
		if err := t.growRoot(); err != nil {
			return err
		}
	}

	if err := t.insertNonFull(t.root, e); err != nil {
		return err
	}
	t.trackShape()
	return nil
}

// buildEntry stores short values inline and writes the tail of long values
// to a fragment chain
func (t *Tree) buildEntry(key int32, value []byte) (Entry, error) {
	if len(value) <= EntryDataLen {
		return newCompleteEntry(key, value), nil
	}

	block, frag, err := t.s.writeOverflow(value[OverflowPrefixLen:])
	if err != nil {
		return Entry{}, fmt.Errorf("failed to write overflow value for key %d: %w", key, err)
	}
	return newOverflowEntry(key, int32(len(value)), block, frag, value[:OverflowPrefixLen]), nil
}

// growRoot puts a new internal root above the full root and splits the old
// root under it
func (t *Tree) growRoot() error {
	old := t.root
	root, err := t.s.allocateNode(NodeInternal)
	if err != nil {
		return err
	}
	root.insertChild(0, old.block)

	if _, err := t.splitChild(root, 0, old); err != nil {
		return err
	}

	t.s.hdr.rootBlock = root.block
	if err := t.s.writeHeader(); err != nil {
		return err
	}
	t.root = root
	t.height++

	t.s.event(stats.EventRootSplit)
	t.s.logger.Debug("root grew to block %d, height %d", root.block, t.height)
	return nil
}

// splitChild splits the full node y, which is parent.children[i]. y keeps
// the lower half, a new node z takes the upper half and the median moves up
// into parent at i. The new node is written first and the parent last.
func (t *Tree) splitChild(parent *node, i int, y *node) (*node, error) {
	z, err := t.s.allocateNode(y.kind)
	if err != nil {
		return nil, err
	}

	mid := (y.maxEntries() - 1) / 2
	median := y.entries[mid]

	z.entries = append(z.entries, y.entries[mid+1:]...)
	y.entries = y.entries[:mid]
	if !y.isLeaf() {
		z.children = append(z.children, y.children[mid+1:]...)
		y.children = y.children[:mid+1]
	}

	parent.insertEntry(i, median)
	parent.insertChild(i+1, z.block)

	for _, n := range []*node{z, y, parent} {
		if err := t.s.writeNode(n); err != nil {
			return nil, err
		}
	}
	if err := t.s.writeHeader(); err != nil {
		return nil, err
	}

	t.s.event(stats.EventSplit)
	t.s.logger.Debug("split %s node %d at key %d into %d", y.kind, y.block, median.Key, z.block)
	return z, nil
}

// insertNonFull places e in the subtree rooted at n, which is not full
func (t *Tree) insertNonFull(n *node, e Entry) error {
	for !n.isLeaf() {
		// e.Key is absent, so this is the first entry with a greater key
		i, _ := n.search(e.Key)

		child, err := t.s.readNode(n.children[i])
		if err != nil {
			return err
		}
		if child.isFull() {
			z, err := t.splitChild(n, i, child)
			if err != nil {
				return err
			}
			if e.Key > n.entries[i].Key {
				child = z
			}
		}
		n = child
	}

	i, _ := n.search(e.Key)
	n.insertEntry(i, e)
	return t.s.writeNode(n)
}
