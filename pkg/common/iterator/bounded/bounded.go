package bounded

import (
	"github.com/KevoDB/btkv/pkg/common/iterator"
)

// BoundedIterator wraps an iterator and limits it to the key range
// [start, end). A nil bound leaves that side open.
type BoundedIterator struct {
	iterator.Iterator
	start *int32
	end   *int32
}

// NewBoundedIterator creates a new bounded iterator
func NewBoundedIterator(iter iterator.Iterator, startKey, endKey *int32) *BoundedIterator {
	bi := &BoundedIterator{
		Iterator: iter,
	}
	bi.SetBounds(startKey, endKey)
	return bi
}

// Range is a convenience for the closed-open range [start, end)
func Range(iter iterator.Iterator, start, end int32) *BoundedIterator {
	return NewBoundedIterator(iter, &start, &end)
}

// SetBounds sets the start and end bounds for the iterator
func (b *BoundedIterator) SetBounds(start, end *int32) {
	// Copy the bounds so callers can reuse their variables
	b.start, b.end = nil, nil
	if start != nil {
		s := *start
		b.start = &s
	}
	if end != nil {
		e := *end
		b.end = &e
	}
}

// SeekToFirst positions at the first key in the bounded range
func (b *BoundedIterator) SeekToFirst() {
	if b.start != nil {
		b.Iterator.Seek(*b.start)
	} else {
		b.Iterator.SeekToFirst()
	}
}

// SeekToLast positions at the last key in the bounded range
func (b *BoundedIterator) SeekToLast() {
	if b.end == nil {
		b.Iterator.SeekToLast()
		if b.Iterator.Valid() && b.start != nil && b.Iterator.Key() < *b.start {
			// everything is below the range; leave the iterator exhausted
			b.Iterator.Seek(*b.start)
		}
		return
	}

	// The underlying iterator only moves forward, so walk the range and
	// come back to the last key seen
	b.SeekToFirst()
	var last *int32
	for b.checkBounds() {
		k := b.Iterator.Key()
		last = &k
		b.Iterator.Next()
	}

	if last != nil {
		b.Iterator.Seek(*last)
	}
}

// Seek positions at the first key >= target within bounds
func (b *BoundedIterator) Seek(target int32) bool {
	// If target is before start bound, use start bound instead
	if b.start != nil && target < *b.start {
		target = *b.start
	}

	// If target is at or after end bound, the seek will fail
	if b.end != nil && target >= *b.end {
		return false
	}

	if b.Iterator.Seek(target) {
		return b.checkBounds()
	}
	return false
}

// Next advances to the next key within bounds
func (b *BoundedIterator) Next() bool {
	if !b.checkBounds() {
		return false
	}
	if !b.Iterator.Next() {
		return false
	}
	return b.checkBounds()
}

// Valid returns true if the iterator is positioned at a valid entry within bounds
func (b *BoundedIterator) Valid() bool {
	return b.checkBounds()
}

// Key returns the current key if within bounds
func (b *BoundedIterator) Key() int32 {
	if !b.Valid() {
		return 0
	}
	return b.Iterator.Key()
}

// Value returns the current value if within bounds
func (b *BoundedIterator) Value() []byte {
	if !b.Valid() {
		return nil
	}
	return b.Iterator.Value()
}

// checkBounds reports whether the underlying iterator sits inside the range
func (b *BoundedIterator) checkBounds() bool {
	if !b.Iterator.Valid() {
		return false
	}

	key := b.Iterator.Key()
	if b.start != nil && key < *b.start {
		return false
	}
	if b.end != nil && key >= *b.end {
		return false
	}
	return true
}
