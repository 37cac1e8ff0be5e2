package btree

import (
	"fmt"
)

// VerifyReport summarises a successful Verify walk
type VerifyReport struct {
	Height          int
	InternalNodes   int
	LeafNodes       int
	Entries         int
	OverflowEntries int
	OverflowBytes   int64
	FragmentBlocks  int // fragment blocks tracked by the free buckets
	BlockCount      int64
}

func (r VerifyReport) String() string {
	return fmt.Sprintf("height=%d internal=%d leaves=%d entries=%d overflow=%d (%d bytes) tracked_fragment_blocks=%d blocks=%d",
		r.Height, r.InternalNodes, r.LeafNodes, r.Entries, r.OverflowEntries, r.OverflowBytes, r.FragmentBlocks, r.BlockCount)
}

type verifier struct {
	t      *Tree
	report VerifyReport
	seen   map[int64]bool
	leafAt int
}

// Verify reads every reachable block and checks the structural invariants:
// key order and separator bounds, node occupancy, child counts, uniform
// leaf depth, overflow chain lengths and free-bucket membership. It
// returns the first violation found as an ErrCorrupted error.
func (t *Tree) Verify() (VerifyReport, error) {
	v := &verifier{
		t:      t,
		seen:   make(map[int64]bool),
		leafAt: -1,
	}
	v.report.BlockCount = t.s.hdr.blockCount

	if t.root.block != t.s.hdr.rootBlock {
		return v.report, corruptf(0, "header root %d but tree root is %d", t.s.hdr.rootBlock, t.root.block)
	}
	if !t.root.isLeaf() && t.root.count() == 0 {
		return v.report, corruptf(t.root.block, "internal root has no keys")
	}

	if err := v.walk(t.root, nil, nil, 1); err != nil {
		return v.report, err
	}
	v.report.Height = v.leafAt
	if v.report.Height != t.height {
		return v.report, corruptf(t.root.block, "tree height %d but leaves sit at depth %d", t.height, v.report.Height)
	}

	if err := v.buckets(); err != nil {
		return v.report, err
	}
	return v.report, nil
}

// walk checks the subtree at n, whose keys must lie strictly between lo
// and hi when those are set
func (v *verifier) walk(n *node, lo, hi *int32, depth int) error {
	if v.seen[n.block] {
		return corruptf(n.block, "node reachable twice")
	}
	v.seen[n.block] = true

	if n != v.t.root && (n.count() < n.minEntries() || n.count() > n.maxEntries()) {
		return corruptf(n.block, "%s node holds %d entries, want %d..%d",
			n.kind, n.count(), n.minEntries(), n.maxEntries())
	}

	for i, e := range n.entries {
		if i > 0 && n.entries[i-1].Key >= e.Key {
			return corruptf(n.block, "keys %d and %d out of order", n.entries[i-1].Key, e.Key)
		}
		if lo != nil && e.Key <= *lo {
			return corruptf(n.block, "key %d not above separator %d", e.Key, *lo)
		}
		if hi != nil && e.Key >= *hi {
			return corruptf(n.block, "key %d not below separator %d", e.Key, *hi)
		}
		if err := v.entry(e); err != nil {
			return err
		}
	}

	if n.isLeaf() {
		v.report.LeafNodes++
		if v.leafAt == -1 {
			v.leafAt = depth
		} else if v.leafAt != depth {
			return corruptf(n.block, "leaf at depth %d, others at depth %d", depth, v.leafAt)
		}
		return nil
	}

	v.report.InternalNodes++
	if len(n.children) != n.count()+1 {
		return corruptf(n.block, "internal node with %d entries has %d children", n.count(), len(n.children))
	}
	for i, c := range n.children {
		child, err := v.t.s.readNode(c)
		if err != nil {
			return err
		}
		childLo, childHi := lo, hi
		if i > 0 {
			childLo = &n.entries[i-1].Key
		}
		if i < n.count() {
			childHi = &n.entries[i].Key
		}
		if err := v.walk(child, childLo, childHi, depth+1); err != nil {
			return err
		}
	}
	return nil
}

func (v *verifier) entry(e Entry) error {
	v.report.Entries++
	if e.Kind != EntryOverflow {
		return nil
	}

	v.report.OverflowEntries++
	v.report.OverflowBytes += int64(e.Length)
	_, total, err := v.t.s.overflowChain(e)
	if err != nil {
		return err
	}
	if total != int(e.Length) {
		block, _ := e.overflowRef()
		return corruptf(block, "overflow chain for key %d holds %d bytes, entry says %d", e.Key, total, e.Length)
	}
	return nil
}

// buckets checks that every fragment block filed in bucket c has a
// largest free run of exactly c, that its free fragments number c, and
// that no block is filed twice
func (v *verifier) buckets() error {
	filed := make(map[int64]int)
	for c := 1; c < FragmentsPerBlock; c++ {
		for b := v.t.s.hdr.buckets[c]; b != InvalidBlock; {
			if prev, ok := filed[b]; ok {
				return corruptf(b, "fragment block filed in buckets %d and %d", prev, c)
			}
			filed[b] = c

			fb, err := v.t.s.readFragmentBlock(b)
			if err != nil {
				return err
			}
			if _, run := fb.maxCluster(); run != c {
				return corruptf(b, "fragment block in bucket %d has a largest free run of %d", c, run)
			}
			if free := fb.freeCount(); free != c {
				return corruptf(b, "fragment block in bucket %d has %d free fragments", c, free)
			}
			v.report.FragmentBlocks++
			b = fb.next
		}
	}
	return nil
}
