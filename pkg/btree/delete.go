package btree

import (
	"github.com/KevoDB/btkv/pkg/stats"
)

// Delete removes key and reports whether it was present. A missing key
// leaves the file untouched.
//
// The descent never enters a child holding only the minimum number of
// entries: it first borrows an entry from a sibling through the parent, or
// merges the child with a sibling. Removal from the leaf therefore never
// leaves a node below the minimum.
func (t *Tree) Delete(key int32) (bool, error) {
	exists, err := t.Contains(key)
	if err != nil || !exists {
		return false, err
	}
	t.version++

	if err := t.delete(t.root, key); err != nil {
		return false, err
	}

	if !t.root.isLeaf() && t.root.count() == 0 {
		if err := t.collapseRoot(); err != nil {
			return false, err
		}
	}
	t.trackShape()
	return true, nil
}

func (t *Tree) delete(n *node, key int32) error {
	for {
		i, found := n.search(key)

		if found && n.isLeaf() {
			n.removeEntry(i)
			return t.s.writeNode(n)
		}

		if found {
			y, err := t.s.readNode(n.children[i])
			if err != nil {
				return err
			}
			z, err := t.s.readNode(n.children[i+1])
			if err != nil {
				return err
			}

			if y.count()+z.count()+1 <= y.maxEntries() {
				// the key moves down into y with the rest of z
				if err := t.mergeChildren(n, i, y, z); err != nil {
					return err
				}
				n = y
				continue
			}

			// the larger side has entries to spare
			var repl Entry
			if y.count() >= z.count() {
				repl, err = t.removeMax(y)
			} else {
				repl, err = t.removeMin(z)
			}
			if err != nil {
				return err
			}
			n.setEntry(i, repl)
			return t.s.writeNode(n)
		}

		if n.isLeaf() {
			return nil
		}

		child, err := t.ensureChildAboveMin(n, i)
		if err != nil {
			return err
		}
		n = child
	}
}

// removeMin removes and returns the smallest entry of the subtree rooted
// at n, which must hold more than the minimum
func (t *Tree) removeMin(n *node) (Entry, error) {
	for !n.isLeaf() {
		child, err := t.ensureChildAboveMin(n, 0)
		if err != nil {
			return Entry{}, err
		}
		n = child
	}
	e := n.removeEntry(0)
	return e, t.s.writeNode(n)
}

// removeMax removes and returns the largest entry of the subtree rooted
// at n, which must hold more than the minimum
func (t *Tree) removeMax(n *node) (Entry, error) {
	for !n.isLeaf() {
		child, err := t.ensureChildAboveMin(n, n.count())
		if err != nil {
			return Entry{}, err
		}
		n = child
	}
	e := n.removeEntry(n.count() - 1)
	return e, t.s.writeNode(n)
}

// ensureChildAboveMin returns x.children[i] holding more than the minimum
// number of entries, or the node it was merged into. x must itself hold
// more than the minimum unless it is the root.
func (t *Tree) ensureChildAboveMin(x *node, i int) (*node, error) {
	c, err := t.s.readNode(x.children[i])
	if err != nil {
		return nil, err
	}
	if c.count() > c.minEntries() {
		return c, nil
	}

	var left *node
	if i > 0 {
		if left, err = t.s.readNode(x.children[i-1]); err != nil {
			return nil, err
		}
		if left.count() > left.minEntries() {
			return c, t.rotateRight(x, i, left, c)
		}
	}

	if i < x.count() {
		right, err := t.s.readNode(x.children[i+1])
		if err != nil {
			return nil, err
		}
		if right.count() > right.minEntries() {
			return c, t.rotateLeft(x, i, c, right)
		}
		return c, t.mergeChildren(x, i, c, right)
	}

	// c is the last child, so it has a left sibling
	return left, t.mergeChildren(x, i-1, left, c)
}

// rotateRight moves the separator x.entries[i-1] down to the front of c
// and the last entry of c's left sibling up into its place
func (t *Tree) rotateRight(x *node, i int, left, c *node) error {
	last := left.count() - 1
	c.insertEntry(0, x.entries[i-1])
	x.setEntry(i-1, left.removeEntry(last))
	if !c.isLeaf() {
		c.insertChild(0, left.removeChild(last+1))
	}

	t.s.event(stats.EventRotate)
	t.s.logger.Debug("rotated an entry from node %d into node %d", left.block, c.block)
	return t.writeNodes(left, c, x)
}

// rotateLeft moves the separator x.entries[i] down to the end of c and the
// first entry of c's right sibling up into its place
func (t *Tree) rotateLeft(x *node, i int, c, right *node) error {
	c.insertEntry(c.count(), x.entries[i])
	x.setEntry(i, right.removeEntry(0))
	if !c.isLeaf() {
		c.insertChild(len(c.children), right.removeChild(0))
	}

	t.s.event(stats.EventRotate)
	t.s.logger.Debug("rotated an entry from node %d into node %d", right.block, c.block)
	return t.writeNodes(right, c, x)
}

// mergeChildren folds x.entries[i] and z = x.children[i+1] into
// y = x.children[i]. z's block is abandoned.
func (t *Tree) mergeChildren(x *node, i int, y, z *node) error {
	sep, _ := x.removeEntryAndRightChild(i)
	y.merge(sep, z)

	t.s.event(stats.EventMerge)
	t.s.logger.Debug("merged node %d into node %d around key %d", z.block, y.block, sep.Key)
	return t.writeNodes(y, x)
}

// collapseRoot replaces an internal root left without keys by its only child
func (t *Tree) collapseRoot() error {
	child, err := t.s.readNode(t.root.children[0])
	if err != nil {
		return err
	}

	t.s.hdr.rootBlock = child.block
	if err := t.s.writeHeader(); err != nil {
		return err
	}
	old := t.root.block
	t.root = child
	t.height--
	t.version++

	t.s.event(stats.EventRootCollapse)
	t.s.logger.Debug("root collapsed from block %d to block %d, height %d", old, child.block, t.height)
	return nil
}

// writeNodes persists nodes in order
func (t *Tree) writeNodes(nodes ...*node) error {
	for _, n := range nodes {
		if err := t.s.writeNode(n); err != nil {
			return err
		}
	}
	return nil
}
