package btree

import (
	"errors"

	"github.com/KevoDB/btkv/pkg/stats"
)

// reserveFragments finds room for a cluster of requested fragments. The
// request is clamped to FragmentsPerBlock. Partially used fragment blocks
// are tried smallest adequate bucket first, so a perfect fit always wins;
// a fresh fragment block is allocated when no bucket can serve.
//
// The reserved fragments are marked used on disk and the header is
// persisted before returning. The caller fills the cluster afterwards.
func (s *store) reserveFragments(requested int) (block int64, start int32, granted int, err error) {
	granted = min(max(requested, 1), FragmentsPerBlock)

	var fb *fragmentBlock
	if granted < FragmentsPerBlock {
		fb, start, err = s.reserveFromBuckets(granted)
		if err != nil {
			return InvalidBlock, InvalidFragment, 0, err
		}
	}

	if fb == nil {
		fb, err = s.allocateFragmentBlock()
		if err != nil {
			return InvalidBlock, InvalidFragment, 0, err
		}
		// an empty block always has room
		if start, err = fb.reserve(granted); err != nil {
			return InvalidBlock, InvalidFragment, 0, err
		}
	}

	if err := s.fileFragmentBlock(fb); err != nil {
		return InvalidBlock, InvalidFragment, 0, err
	}
	if err := s.writeHeader(); err != nil {
		return InvalidBlock, InvalidFragment, 0, err
	}

	s.event(stats.EventFragmentReserve)
	return fb.block, start, granted, nil
}

// reserveFromBuckets scans the free-fragment buckets from count upward.
// It returns a nil block when no tracked block can hold count fragments.
func (s *store) reserveFromBuckets(count int) (*fragmentBlock, int32, error) {
	// every visit unlinks one block, so a sane chain ends within blockCount visits
	visits := int64(0)

	for c := count; c < FragmentsPerBlock; {
		head := s.hdr.buckets[c]
		if head == InvalidBlock {
			c++
			continue
		}
		if visits++; visits > s.hdr.blockCount {
			return nil, InvalidFragment, corruptf(0, "bucket %d chain does not terminate", c)
		}

		fb, err := s.readFragmentBlock(head)
		if err != nil {
			return nil, InvalidFragment, err
		}
		s.hdr.buckets[c] = fb.next
		fb.next = InvalidBlock

		start, err := fb.reserve(count)
		if errors.Is(err, errFragmentsExhausted) {
			// the block was filed under the wrong bucket; put it where its
			// real run says and look at this bucket's new head
			_, run := fb.maxCluster()
			s.event(stats.EventBucketMismatch)
			s.logger.Warn("fragment block %d filed in bucket %d has a free run of %d", fb.block, c, run)
			if err := s.fileFragmentBlock(fb); err != nil {
				return nil, InvalidFragment, err
			}
			continue
		}
		if err != nil {
			return nil, InvalidFragment, err
		}
		return fb, start, nil
	}
	return nil, InvalidFragment, nil
}

// fileFragmentBlock links fb at the head of the bucket matching its
// largest free run, or leaves it untracked when it is full, and writes it
func (s *store) fileFragmentBlock(fb *fragmentBlock) error {
	_, run := fb.maxCluster()
	switch {
	case run == 0 || run == FragmentsPerBlock:
		fb.next = InvalidBlock
	case s.hdr.buckets[run] != fb.block:
		fb.next = s.hdr.buckets[run]
		s.hdr.buckets[run] = fb.block
	}
	return s.writeFragmentBlock(fb)
}
