package btree

import (
	"bytes"
	"io"
	"math/rand"
	"testing"

	"github.com/KevoDB/btkv/pkg/common/log"
	"github.com/KevoDB/btkv/pkg/device"
	"github.com/KevoDB/btkv/pkg/stats"
)

func newTestStore(t *testing.T) *store {
	t.Helper()
	s := &store{
		dev:    device.NewMemDevice("alloc-test"),
		hdr:    newHeader(),
		logger: log.NewStandardLogger(log.WithOutput(io.Discard)),
		stats:  stats.NewAtomicCollector(),
	}
	s.hdr.allocateBlockNumber()
	s.hdr.rootBlock = 0
	if err := s.writeHeader(); err != nil {
		t.Fatalf("writeHeader: %v", err)
	}
	return s
}

func checkBuckets(t *testing.T, s *store) {
	t.Helper()
	v := &verifier{t: &Tree{s: s}}
	if err := v.buckets(); err != nil {
		t.Fatalf("bucket invariant broken: %v", err)
	}
}

func mustReserve(t *testing.T, s *store, count int) (int64, int32, int) {
	t.Helper()
	block, start, granted, err := s.reserveFragments(count)
	if err != nil {
		t.Fatalf("reserveFragments(%d): %v", count, err)
	}
	checkBuckets(t, s)
	return block, start, granted
}

func TestReserveFillsPartialBlocks(t *testing.T) {
	s := newTestStore(t)

	a, start, granted := mustReserve(t, s, 3)
	if a != 1 || start != 0 || granted != 3 {
		t.Fatalf("first reservation = (%d, %d, %d), want (1, 0, 3)", a, start, granted)
	}
	if s.hdr.buckets[4] != a {
		t.Fatalf("block %d should head bucket 4, buckets=%v", a, s.hdr.buckets)
	}

	// a perfect fit for the remaining run
	b, start, _ := mustReserve(t, s, 4)
	if b != a || start != 3 {
		t.Fatalf("second reservation = (%d, %d), want (%d, 3)", b, start, a)
	}
	for c := 1; c < FragmentsPerBlock; c++ {
		if s.hdr.buckets[c] != InvalidBlock {
			t.Errorf("full block should leave every bucket empty, bucket %d = %d", c, s.hdr.buckets[c])
		}
	}

	c, start, _ := mustReserve(t, s, 2)
	if c != 2 || start != 0 {
		t.Fatalf("third reservation = (%d, %d), want a fresh block 2 at 0", c, start)
	}
	if s.hdr.blockCount != 3 {
		t.Errorf("blockCount = %d, want 3", s.hdr.blockCount)
	}

	// the header on disk matches memory
	buf := make([]byte, BlockSize)
	if err := s.dev.ReadBlock(0, buf); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf, s.hdr.encode()) {
		t.Error("header was not persisted after reservation")
	}
}

func TestReservePrefersSmallestAdequateRun(t *testing.T) {
	s := newTestStore(t)

	big, _, _ := mustReserve(t, s, 2) // run of 5 left

	// hide the first block so the next request opens a second one
	s.hdr.buckets[5] = InvalidBlock
	small, _, _ := mustReserve(t, s, 4) // run of 3 left
	s.hdr.buckets[5] = big
	if big == small {
		t.Fatal("expected two fragment blocks")
	}

	// bucket 5 could serve, but bucket 3 is the best fit
	got, _, _ := mustReserve(t, s, 3)
	if got != small {
		t.Errorf("request for 3 went to block %d, want the best fit %d", got, small)
	}

	got, start, _ := mustReserve(t, s, 1)
	if got != big || start != 2 {
		t.Errorf("request for 1 = (%d, %d), want (%d, 2)", got, start, big)
	}
	if s.hdr.buckets[4] != big {
		t.Errorf("block %d should now head bucket 4", big)
	}
}

func TestReserveWholeBlock(t *testing.T) {
	s := newTestStore(t)

	partial, _, _ := mustReserve(t, s, 1)

	for _, req := range []int{FragmentsPerBlock, FragmentsPerBlock + 5} {
		block, start, granted := mustReserve(t, s, req)
		if block == partial || start != 0 || granted != FragmentsPerBlock {
			t.Errorf("reserve(%d) = (%d, %d, %d), want a fresh block with %d fragments",
				req, block, start, granted, FragmentsPerBlock)
		}
	}
	if s.hdr.buckets[FragmentsPerBlock-1] != partial {
		t.Errorf("partial block should still head bucket %d", FragmentsPerBlock-1)
	}
}

func TestReserveRefilesMisfiledBlock(t *testing.T) {
	s := newTestStore(t)

	misfiled, _, _ := mustReserve(t, s, 5) // run of 2 left, filed in bucket 2

	s.hdr.buckets[2] = InvalidBlock
	s.hdr.buckets[4] = misfiled

	got, _, _, err := s.reserveFragments(3)
	if err != nil {
		t.Fatalf("reserveFragments: %v", err)
	}
	if got == misfiled {
		t.Fatalf("reservation used block %d, whose run is too short", misfiled)
	}
	if s.hdr.buckets[2] != misfiled || s.hdr.buckets[4] != got {
		t.Errorf("buckets after re-filing = %v", s.hdr.buckets)
	}
	checkBuckets(t, s)

	if n := s.stats.GetStats()["bucket_mismatch_count"]; n != uint64(1) {
		t.Errorf("bucket_mismatch_count = %v, want 1", n)
	}
}

func TestReserveRandomKeepsBuckets(t *testing.T) {
	s := newTestStore(t)
	r := rand.New(rand.NewSource(7))

	used := make(map[int64]uint8)
	for i := 0; i < 300; i++ {
		block, start, granted := mustReserve(t, s, 1+r.Intn(FragmentsPerBlock+2))
		for f := int(start); f < int(start)+granted; f++ {
			bit := uint8(1) << uint(f)
			if used[block]&bit != 0 {
				t.Fatalf("fragment %d of block %d handed out twice", f, block)
			}
			used[block] |= bit
		}
	}
}

func TestOverflowChainRoundTrip(t *testing.T) {
	s := newTestStore(t)
	r := rand.New(rand.NewSource(11))

	for _, size := range []int{33, 36, 52, 53, 96, 228, 229, 500, 4096} {
		value := make([]byte, size)
		r.Read(value)

		block, frag, err := s.writeOverflow(value[OverflowPrefixLen:])
		if err != nil {
			t.Fatalf("writeOverflow(%d): %v", size, err)
		}
		checkBuckets(t, s)

		e := newOverflowEntry(int32(size), int32(size), block, frag, value[:OverflowPrefixLen])
		got, err := s.readOverflow(e)
		if err != nil {
			t.Fatalf("readOverflow(%d): %v", size, err)
		}
		if !bytes.Equal(got, value) {
			t.Errorf("value of %d bytes did not round trip", size)
		}

		chain, total, err := s.overflowChain(e)
		if err != nil {
			t.Fatalf("overflowChain(%d): %v", size, err)
		}
		if total != size {
			t.Errorf("chain for %d bytes holds %d", size, total)
		}
		wantLinks := (size - OverflowPrefixLen + clusterCapacity(FragmentsPerBlock) - 1) / clusterCapacity(FragmentsPerBlock)
		if len(chain) != wantLinks {
			t.Errorf("chain for %d bytes has %d clusters, want %d", size, len(chain), wantLinks)
		}
	}
}

func TestReadOverflowDetectsShortChain(t *testing.T) {
	s := newTestStore(t)
	value := bytes.Repeat([]byte("z"), 100)

	block, frag, err := s.writeOverflow(value[OverflowPrefixLen:])
	if err != nil {
		t.Fatal(err)
	}

	// claim more bytes than the chain holds
	e := newOverflowEntry(1, 150, block, frag, value[:OverflowPrefixLen])
	if _, err := s.readOverflow(e); err == nil {
		t.Error("expected an error for a chain shorter than the entry length")
	}

	// claim fewer
	e = newOverflowEntry(1, 60, block, frag, value[:OverflowPrefixLen])
	if _, err := s.readOverflow(e); err == nil {
		t.Error("expected an error for a chain longer than the entry length")
	}
}
