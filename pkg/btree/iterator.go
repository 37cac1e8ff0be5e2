package btree

import (
	"github.com/KevoDB/btkv/pkg/common/iterator"
)

// frame is one level of the path from the root to the iterator position.
// In a leaf idx is the current entry. In an internal node idx is the child
// the path descends into, which is also the entry visited once that child
// is exhausted.
type frame struct {
	n   *node
	idx int
}

// Iterator walks the tree in key order using an explicit stack of frames.
// Values are read lazily. The frames are private copies of the nodes, so a
// mutation of the tree between calls never changes the current entry. Next
// notices such a mutation and seeks again past the current key.
type Iterator struct {
	t       *Tree
	stack   []frame
	err     error
	version uint64
}

// Ensure Iterator implements the common iterator contract
var _ iterator.Iterator = (*Iterator)(nil)

// NewIterator returns an unpositioned iterator over t
func (t *Tree) NewIterator() *Iterator {
	return &Iterator{t: t, stack: make([]frame, 0, t.height)}
}

// reset clears the position and returns a copy of the root to descend from
func (it *Iterator) reset() *node {
	it.stack = it.stack[:0]
	it.err = nil
	it.version = it.t.version
	return it.t.root.clone()
}

// push descends from n to a leaf, always taking the first child when
// leftmost is set and the last child otherwise
func (it *Iterator) push(n *node, leftmost bool) {
	for {
		idx := 0
		if !leftmost {
			idx = n.count()
			if n.isLeaf() {
				idx--
			}
		}
		it.stack = append(it.stack, frame{n: n, idx: idx})
		if n.isLeaf() {
			return
		}

		child, err := it.t.s.readNode(n.children[idx])
		if err != nil {
			it.fail(err)
			return
		}
		n = child
	}
}

// settle pops exhausted frames until the top frame points at an entry
func (it *Iterator) settle() {
	for len(it.stack) > 0 {
		top := it.stack[len(it.stack)-1]
		if top.idx < top.n.count() {
			return
		}
		it.stack = it.stack[:len(it.stack)-1]
	}
}

func (it *Iterator) fail(err error) {
	it.err = err
	it.stack = it.stack[:0]
}

// SeekToFirst positions the iterator at the smallest key
func (it *Iterator) SeekToFirst() {
	it.push(it.reset(), true)
	it.settle()
}

// SeekToLast positions the iterator at the largest key
func (it *Iterator) SeekToLast() {
	it.push(it.reset(), false)
	if it.Valid() {
		return
	}
	// only an empty root leaf leaves idx at -1
	it.stack = it.stack[:0]
}

// Seek positions the iterator at the first key >= target
func (it *Iterator) Seek(target int32) bool {
	n := it.reset()
	for {
		i, found := n.search(target)
		it.stack = append(it.stack, frame{n: n, idx: i})
		if found || n.isLeaf() {
			break
		}

		child, err := it.t.s.readNode(n.children[i])
		if err != nil {
			it.fail(err)
			return false
		}
		n = child
	}

	it.settle()
	return it.Valid()
}

// Next advances to the next key in order
func (it *Iterator) Next() bool {
	if !it.Valid() {
		return false
	}

	if it.version != it.t.version {
		current := it.entry().Key
		if !it.Seek(current) {
			return false
		}
		if it.entry().Key != current {
			// current was deleted, so its successor is already in place
			return true
		}
	}

	top := &it.stack[len(it.stack)-1]
	top.idx++
	if top.n.isLeaf() {
		it.settle()
		return it.Valid()
	}

	// the successor of an internal entry is the leftmost entry of the
	// subtree to its right
	child, err := it.t.s.readNode(top.n.children[top.idx])
	if err != nil {
		it.fail(err)
		return false
	}
	it.push(child, true)
	it.settle()
	return it.Valid()
}

func (it *Iterator) entry() Entry {
	top := it.stack[len(it.stack)-1]
	return top.n.entries[top.idx]
}

// Key returns the current key
func (it *Iterator) Key() int32 {
	if !it.Valid() {
		return 0
	}
	return it.entry().Key
}

// Value returns the current value, reading its fragment chain if needed.
// A failed read invalidates the iterator and is reported by Err.
func (it *Iterator) Value() []byte {
	if !it.Valid() {
		return nil
	}
	v, err := it.t.value(it.entry())
	if err != nil {
		it.fail(err)
		return nil
	}
	return v
}

// Entry returns the raw entry at the current position
func (it *Iterator) Entry() (Entry, bool) {
	if !it.Valid() {
		return Entry{}, false
	}
	return it.entry(), true
}

// Valid returns true if the iterator is positioned at an entry
func (it *Iterator) Valid() bool {
	if len(it.stack) == 0 {
		return false
	}
	top := it.stack[len(it.stack)-1]
	return top.idx >= 0 && top.idx < top.n.count()
}

// Err returns the error that stopped the iterator, if any
func (it *Iterator) Err() error {
	return it.err
}
