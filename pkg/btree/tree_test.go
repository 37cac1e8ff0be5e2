package btree

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"path/filepath"
	"sort"
	"testing"

	"github.com/KevoDB/btkv/pkg/common/log"
	"github.com/KevoDB/btkv/pkg/device"
	"github.com/KevoDB/btkv/pkg/stats"
)

func quietLogger() log.Logger {
	return log.NewStandardLogger(log.WithOutput(io.Discard))
}

func newTestTree(t *testing.T) (*Tree, *device.MemDevice, *stats.AtomicCollector) {
	t.Helper()
	dev := device.NewMemDevice(t.Name())
	collector := stats.NewAtomicCollector()
	tree, err := Create(dev, WithLogger(quietLogger()), WithStats(collector))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return tree, dev, collector
}

func mustVerify(t *testing.T, tree *Tree) VerifyReport {
	t.Helper()
	report, err := tree.Verify()
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	return report
}

func mustSearch(t *testing.T, tree *Tree, key int32) []byte {
	t.Helper()
	v, found, err := tree.Search(key)
	if err != nil {
		t.Fatalf("Search(%d): %v", key, err)
	}
	if !found {
		t.Fatalf("Search(%d): key not found", key)
	}
	return v
}

func valueFor(key int32, size int) []byte {
	v := make([]byte, size)
	for i := range v {
		v[i] = byte(int(key)*31 + i)
	}
	return v
}

// snapshot copies every block written to dev
func snapshot(t *testing.T, dev *device.MemDevice) [][]byte {
	t.Helper()
	blocks := make([][]byte, dev.Blocks())
	for i := range blocks {
		blocks[i] = make([]byte, BlockSize)
		if err := dev.ReadBlock(int64(i), blocks[i]); err != nil {
			t.Fatalf("ReadBlock(%d): %v", i, err)
		}
	}
	return blocks
}

func TestCreateEmpty(t *testing.T) {
	tree, _, _ := newTestTree(t)

	if _, found, err := tree.Search(1); err != nil || found {
		t.Fatalf("Search on empty tree = %v, %v", found, err)
	}
	if tree.root.block != 1 || !tree.root.isLeaf() {
		t.Errorf("root should be a leaf in block 1, got %s %d", tree.root.kind, tree.root.block)
	}
	if tree.BlockCount() != 2 {
		t.Errorf("BlockCount = %d, want 2", tree.BlockCount())
	}

	report := mustVerify(t, tree)
	if report.Height != 1 || report.Entries != 0 || report.LeafNodes != 1 {
		t.Errorf("report = %+v", report)
	}
}

func TestInsertAndSearch(t *testing.T) {
	tree, _, _ := newTestTree(t)

	values := map[int32][]byte{
		0:    {},
		-7:   []byte("negative"),
		42:   []byte("the answer"),
		1000: bytes.Repeat([]byte("m"), EntryDataLen),
	}
	for k, v := range values {
		if err := tree.Insert(k, v); err != nil {
			t.Fatalf("Insert(%d): %v", k, err)
		}
	}
	for k, v := range values {
		if got := mustSearch(t, tree, k); !bytes.Equal(got, v) {
			t.Errorf("Search(%d) = %q, want %q", k, got, v)
		}
	}
	if _, found, _ := tree.Search(43); found {
		t.Error("Search(43) found a key that was never inserted")
	}
}

func TestInsertDuplicate(t *testing.T) {
	tree, dev, _ := newTestTree(t)

	if err := tree.Insert(5, []byte("first")); err != nil {
		t.Fatal(err)
	}
	before := snapshot(t, dev)

	err := tree.Insert(5, bytes.Repeat([]byte("second"), 20))
	if !errors.Is(err, ErrKeyExists) {
		t.Fatalf("expected ErrKeyExists, got %v", err)
	}

	after := snapshot(t, dev)
	if len(before) != len(after) {
		t.Fatalf("duplicate insert grew the file from %d to %d blocks", len(before), len(after))
	}
	for i := range before {
		if !bytes.Equal(before[i], after[i]) {
			t.Errorf("duplicate insert changed block %d", i)
		}
	}
	if got := mustSearch(t, tree, 5); string(got) != "first" {
		t.Errorf("Search(5) = %q, want %q", got, "first")
	}
}

func TestSplitOnInsert(t *testing.T) {
	tree, _, collector := newTestTree(t)

	for k := int32(1); k <= MaxLeafEntries+1; k++ {
		if err := tree.Insert(k, valueFor(k, 8)); err != nil {
			t.Fatalf("Insert(%d): %v", k, err)
		}
	}

	root := tree.root
	if root.isLeaf() || root.count() != 1 {
		t.Fatalf("root should be internal with one key, got %s with %d", root.kind, root.count())
	}
	if root.entries[0].Key != 3 {
		t.Errorf("separator = %d, want 3", root.entries[0].Key)
	}

	left, err := tree.s.readNode(root.children[0])
	if err != nil {
		t.Fatal(err)
	}
	right, err := tree.s.readNode(root.children[1])
	if err != nil {
		t.Fatal(err)
	}
	if !left.isLeaf() || !right.isLeaf() {
		t.Fatal("both children should be leaves")
	}
	// the split leaves (L-1)/2 entries on each side, then the sixth key
	// lands on the right
	if left.count() != (MaxLeafEntries-1)/2 || right.count() != MaxLeafEntries-1-(MaxLeafEntries-1)/2+1 {
		t.Errorf("leaf sizes = %d and %d", left.count(), right.count())
	}
	if tree.Height() != 2 {
		t.Errorf("Height = %d, want 2", tree.Height())
	}

	stats := collector.GetStats()
	if stats["root_split_count"] != uint64(1) || stats["split_count"] != uint64(1) {
		t.Errorf("split counters = %v / %v", stats["root_split_count"], stats["split_count"])
	}
	mustVerify(t, tree)
}

func TestInternalSplit(t *testing.T) {
	tree, _, _ := newTestTree(t)

	for k := int32(0); k < 200; k++ {
		if err := tree.Insert(k, valueFor(k, int(k%40))); err != nil {
			t.Fatalf("Insert(%d): %v", k, err)
		}
	}
	report := mustVerify(t, tree)
	if report.Height < 3 {
		t.Errorf("200 sequential keys should build at least 3 levels, got %d", report.Height)
	}
	if report.Entries != 200 {
		t.Errorf("Entries = %d, want 200", report.Entries)
	}
	for k := int32(0); k < 200; k++ {
		if got := mustSearch(t, tree, k); !bytes.Equal(got, valueFor(k, int(k%40))) {
			t.Fatalf("Search(%d) returned the wrong value", k)
		}
	}
}

func TestOverflowValue(t *testing.T) {
	tree, _, _ := newTestTree(t)

	value := valueFor(9, 3*EntryDataLen)
	if err := tree.Insert(9, value); err != nil {
		t.Fatal(err)
	}

	e, found, err := tree.find(9)
	if err != nil || !found {
		t.Fatalf("find(9) = %v, %v", found, err)
	}
	if e.Kind != EntryOverflow || e.Length != int32(len(value)) {
		t.Fatalf("entry kind=%s length=%d", e.Kind, e.Length)
	}
	if !bytes.Equal(e.overflowPrefix(), value[:OverflowPrefixLen]) {
		t.Error("inline prefix does not match the value")
	}

	chain, total, err := tree.s.overflowChain(e)
	if err != nil {
		t.Fatal(err)
	}
	if total != len(value) || len(chain) != 1 || chain[0].count != 3 {
		t.Errorf("chain = %+v holding %d bytes", chain, total)
	}

	if got := mustSearch(t, tree, 9); !bytes.Equal(got, value) {
		t.Error("overflow value did not round trip")
	}

	report := mustVerify(t, tree)
	if report.OverflowEntries != 1 || report.FragmentBlocks != 1 {
		t.Errorf("report = %+v", report)
	}
}

func TestLargeValues(t *testing.T) {
	tree, _, _ := newTestTree(t)

	sizes := []int{33, 52, 53, 100, 228, 229, BlockSize, 10 * BlockSize, 64 << 10}
	for i, size := range sizes {
		if err := tree.Insert(int32(i), valueFor(int32(i), size)); err != nil {
			t.Fatalf("Insert of %d bytes: %v", size, err)
		}
	}
	for i, size := range sizes {
		if got := mustSearch(t, tree, int32(i)); !bytes.Equal(got, valueFor(int32(i), size)) {
			t.Errorf("value of %d bytes did not round trip", size)
		}
	}
	mustVerify(t, tree)
}

func TestDeleteAbsentKey(t *testing.T) {
	tree, dev, _ := newTestTree(t)

	for k := int32(0); k < 40; k += 2 {
		if err := tree.Insert(k, valueFor(k, 50)); err != nil {
			t.Fatal(err)
		}
	}
	before := snapshot(t, dev)

	for _, k := range []int32{-1, 1, 17, 39, 1000} {
		deleted, err := tree.Delete(k)
		if err != nil {
			t.Fatalf("Delete(%d): %v", k, err)
		}
		if deleted {
			t.Errorf("Delete(%d) reported a key that was never inserted", k)
		}
	}

	after := snapshot(t, dev)
	if len(before) != len(after) {
		t.Fatalf("deleting absent keys grew the file")
	}
	for i := range before {
		if !bytes.Equal(before[i], after[i]) {
			t.Errorf("deleting absent keys changed block %d", i)
		}
	}
	for k := int32(0); k < 40; k += 2 {
		if got := mustSearch(t, tree, k); !bytes.Equal(got, valueFor(k, 50)) {
			t.Errorf("Search(%d) changed after deleting absent keys", k)
		}
	}
}

func TestDeleteInternalKey(t *testing.T) {
	tree, _, collector := newTestTree(t)

	for k := int32(1); k <= 6; k++ {
		if err := tree.Insert(k, valueFor(k, 4)); err != nil {
			t.Fatal(err)
		}
	}

	// the right child is larger, so the successor replaces the separator
	if ok, err := tree.Delete(3); err != nil || !ok {
		t.Fatalf("Delete(3) = %v, %v", ok, err)
	}
	if tree.root.entries[0].Key != 4 {
		t.Errorf("separator = %d, want the successor 4", tree.root.entries[0].Key)
	}
	mustVerify(t, tree)

	// now both children are minimal and merge around the key
	if ok, err := tree.Delete(4); err != nil || !ok {
		t.Fatalf("Delete(4) = %v, %v", ok, err)
	}
	if !tree.root.isLeaf() || tree.Height() != 1 {
		t.Fatalf("root should collapse to a leaf, got %s height %d", tree.root.kind, tree.Height())
	}
	if tree.s.hdr.rootBlock != tree.root.block {
		t.Errorf("header root %d, tree root %d", tree.s.hdr.rootBlock, tree.root.block)
	}

	report := mustVerify(t, tree)
	if report.Entries != 4 {
		t.Errorf("Entries = %d, want 4", report.Entries)
	}
	if stats := collector.GetStats(); stats["root_collapse_count"] != uint64(1) {
		t.Errorf("root_collapse_count = %v", stats["root_collapse_count"])
	}
}

// buildMinimalTree writes a three level tree where every node other than
// the root holds the minimum number of entries:
//
//	              [6]
//	      [3]             [9]
//	[1 2]     [4 5]  [7 8]    [10 11]
func buildMinimalTree(t *testing.T) (*Tree, *device.MemDevice, *stats.AtomicCollector) {
	t.Helper()
	tree, dev, collector := newTestTree(t)
	s := tree.s

	leaf := func(keys ...int32) *node {
		n, err := s.allocateNode(NodeLeaf)
		if err != nil {
			t.Fatal(err)
		}
		for i, k := range keys {
			n.insertEntry(i, newCompleteEntry(k, valueFor(k, 10)))
		}
		return n
	}
	internal := func(key int32, left, right *node) *node {
		n, err := s.allocateNode(NodeInternal)
		if err != nil {
			t.Fatal(err)
		}
		n.insertEntry(0, newCompleteEntry(key, valueFor(key, 10)))
		n.insertChild(0, left.block)
		n.insertChild(1, right.block)
		return n
	}

	l1, l2, l3, l4 := leaf(1, 2), leaf(4, 5), leaf(7, 8), leaf(10, 11)
	i1, i2 := internal(3, l1, l2), internal(9, l3, l4)
	root := internal(6, i1, i2)

	if err := tree.writeNodes(l1, l2, l3, l4, i1, i2, root); err != nil {
		t.Fatal(err)
	}
	s.hdr.rootBlock = root.block
	if err := s.writeHeader(); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(dev, WithLogger(quietLogger()), WithStats(collector))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return reopened, dev, collector
}

func TestCascadingMerge(t *testing.T) {
	tree, _, collector := buildMinimalTree(t)

	report := mustVerify(t, tree)
	if report.Height != 3 || report.Entries != 11 {
		t.Fatalf("minimal tree report = %+v", report)
	}

	if ok, err := tree.Delete(5); err != nil || !ok {
		t.Fatalf("Delete(5) = %v, %v", ok, err)
	}

	report = mustVerify(t, tree)
	if report.Height != 2 || report.Entries != 10 {
		t.Errorf("after delete report = %+v", report)
	}

	stats := collector.GetStats()
	if stats["merge_count"] != uint64(2) {
		t.Errorf("merge_count = %v, want 2", stats["merge_count"])
	}
	if stats["root_collapse_count"] != uint64(1) {
		t.Errorf("root_collapse_count = %v, want 1", stats["root_collapse_count"])
	}

	for k := int32(1); k <= 11; k++ {
		v, found, err := tree.Search(k)
		if err != nil {
			t.Fatal(err)
		}
		if k == 5 {
			if found {
				t.Error("key 5 still present")
			}
			continue
		}
		if !found || !bytes.Equal(v, valueFor(k, 10)) {
			t.Errorf("Search(%d) = %v, %v", k, found, v)
		}
	}
}

func TestBorrowFromSibling(t *testing.T) {
	tree, _, collector := buildMinimalTree(t)

	// give the right leaf of the right subtree a spare entry
	if err := tree.Insert(12, valueFor(12, 10)); err != nil {
		t.Fatal(err)
	}
	// and the left leaf of the left subtree one too
	if err := tree.Insert(0, valueFor(0, 10)); err != nil {
		t.Fatal(err)
	}
	mustVerify(t, tree)

	// 7 lives in [7 8], whose right sibling [10 11 12] can lend
	if ok, err := tree.Delete(7); err != nil || !ok {
		t.Fatalf("Delete(7) = %v, %v", ok, err)
	}
	mustVerify(t, tree)

	if n := collector.GetStats()["rotate_count"]; n == nil || n.(uint64) == 0 {
		t.Errorf("expected at least one rotation, got %v", n)
	}

	for _, k := range []int32{0, 1, 2, 3, 4, 5, 6, 8, 9, 10, 11, 12} {
		mustSearch(t, tree, k)
	}
}

func TestRandomOperations(t *testing.T) {
	tree, _, _ := newTestTree(t)
	r := rand.New(rand.NewSource(42))
	model := make(map[int32][]byte)

	for i := 0; i < 3000; i++ {
		key := int32(r.Intn(400)) - 200
		switch op := r.Intn(10); {
		case op < 6:
			size := r.Intn(48)
			if r.Intn(8) == 0 {
				size = 33 + r.Intn(700)
			}
			value := valueFor(key+int32(i), size)
			err := tree.Insert(key, value)
			if _, exists := model[key]; exists {
				if !errors.Is(err, ErrKeyExists) {
					t.Fatalf("step %d: Insert(%d) of existing key = %v", i, key, err)
				}
				continue
			}
			if err != nil {
				t.Fatalf("step %d: Insert(%d): %v", i, key, err)
			}
			model[key] = value
		default:
			deleted, err := tree.Delete(key)
			if err != nil {
				t.Fatalf("step %d: Delete(%d): %v", i, key, err)
			}
			_, exists := model[key]
			if deleted != exists {
				t.Fatalf("step %d: Delete(%d) = %v, model has it: %v", i, key, deleted, exists)
			}
			delete(model, key)
		}

		report, err := tree.Verify()
		if err != nil {
			t.Fatalf("step %d: Verify: %v", i, err)
		}
		if report.Entries != len(model) {
			t.Fatalf("step %d: tree holds %d entries, model %d", i, report.Entries, len(model))
		}
	}

	for k, v := range model {
		if got := mustSearch(t, tree, k); !bytes.Equal(got, v) {
			t.Errorf("Search(%d) returned the wrong value", k)
		}
	}

	// drain everything; the root must end up an empty leaf
	for k := range model {
		if ok, err := tree.Delete(k); err != nil || !ok {
			t.Fatalf("Delete(%d) = %v, %v", k, ok, err)
		}
	}
	report := mustVerify(t, tree)
	if report.Entries != 0 || report.Height != 1 || !tree.root.isLeaf() {
		t.Errorf("drained tree report = %+v", report)
	}
}

func TestReopenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tree.bt")

	dev, err := device.Open(path, device.CreateOrTruncate)
	if err != nil {
		t.Fatal(err)
	}
	tree, err := Create(dev, WithLogger(quietLogger()))
	if err != nil {
		t.Fatal(err)
	}
	for k := int32(0); k < 150; k++ {
		if err := tree.Insert(k*3, valueFor(k, int(k)%90)); err != nil {
			t.Fatalf("Insert(%d): %v", k*3, err)
		}
	}
	for k := int32(0); k < 150; k += 4 {
		if _, err := tree.Delete(k * 3); err != nil {
			t.Fatal(err)
		}
	}
	height := tree.Height()
	if err := dev.Close(); err != nil {
		t.Fatal(err)
	}

	dev, err = device.Open(path, device.ReadOnly)
	if err != nil {
		t.Fatal(err)
	}
	defer dev.Close()

	reopened, err := Open(dev, WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if reopened.Height() != height {
		t.Errorf("Height after reopen = %d, want %d", reopened.Height(), height)
	}
	mustVerify(t, reopened)

	for k := int32(0); k < 150; k++ {
		v, found, err := reopened.Search(k * 3)
		if err != nil {
			t.Fatal(err)
		}
		if k%4 == 0 {
			if found {
				t.Errorf("deleted key %d found after reopen", k*3)
			}
		} else if !found || !bytes.Equal(v, valueFor(k, int(k)%90)) {
			t.Errorf("key %d lost after reopen", k*3)
		}
	}

	// the read-only device refuses writes
	if err := reopened.Insert(1, []byte("x")); !errors.Is(err, device.ErrReadOnly) {
		t.Errorf("expected device.ErrReadOnly, got %v", err)
	}
}

func TestOpenRejectsGarbage(t *testing.T) {
	dev := device.NewMemDevice("garbage")
	if err := dev.WriteBlock(0, bytes.Repeat([]byte{0xAB}, BlockSize)); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(dev, WithLogger(quietLogger())); !errors.Is(err, ErrCorrupted) {
		t.Errorf("expected ErrCorrupted, got %v", err)
	}
}

func TestCorruptedChildDetected(t *testing.T) {
	tree, dev, _ := newTestTree(t)
	for k := int32(0); k < 20; k++ {
		if err := tree.Insert(k, valueFor(k, 5)); err != nil {
			t.Fatal(err)
		}
	}

	// overwrite a child with a copy of the root: magic is right, block number is not
	victim := tree.root.children[1]
	if err := dev.WriteBlock(victim, tree.root.encode()); err != nil {
		t.Fatal(err)
	}

	var err error
	for k := int32(0); k < 20 && err == nil; k++ {
		_, _, err = tree.Search(k)
	}
	if !errors.Is(err, ErrCorrupted) {
		t.Fatalf("expected ErrCorrupted, got %v", err)
	}
	var ce *CorruptionError
	if !errors.As(err, &ce) || ce.Block != victim {
		t.Errorf("corruption should name block %d, got %v", victim, err)
	}
	if _, err := tree.Verify(); !errors.Is(err, ErrCorrupted) {
		t.Errorf("Verify should report corruption, got %v", err)
	}
}

func TestIteratorOrder(t *testing.T) {
	tree, _, _ := newTestTree(t)
	r := rand.New(rand.NewSource(3))

	var keys []int32
	for _, k := range r.Perm(120) {
		key := int32(k*2 - 100)
		keys = append(keys, key)
		if err := tree.Insert(key, valueFor(key, k%60)); err != nil {
			t.Fatal(err)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	it := tree.NewIterator()
	var got []int32
	for it.SeekToFirst(); it.Valid(); it.Next() {
		got = append(got, it.Key())
		want := valueFor(it.Key(), int(it.Key()+100)/2%60)
		if !bytes.Equal(it.Value(), want) {
			t.Fatalf("value for key %d does not match", it.Key())
		}
	}
	if err := it.Err(); err != nil {
		t.Fatal(err)
	}
	if fmt.Sprint(got) != fmt.Sprint(keys) {
		t.Fatalf("iteration order\n got %v\nwant %v", got, keys)
	}

	tests := []struct {
		target int32
		valid  bool
		want   int32
	}{
		{-1000, true, -100},
		{-100, true, -100},
		{-99, true, -98},
		{0, true, 0},
		{1, true, 2},
		{138, true, 138},
		{139, false, 0},
	}
	for _, tt := range tests {
		ok := it.Seek(tt.target)
		if ok != tt.valid {
			t.Errorf("Seek(%d) = %v, want %v", tt.target, ok, tt.valid)
			continue
		}
		if ok && it.Key() != tt.want {
			t.Errorf("Seek(%d) landed on %d, want %d", tt.target, it.Key(), tt.want)
		}
	}

	// walking on from a seek continues in order
	it.Seek(51)
	for _, want := range []int32{52, 54, 56} {
		if !it.Valid() || it.Key() != want {
			t.Fatalf("expected %d after seek, got valid=%v key=%d", want, it.Valid(), it.Key())
		}
		it.Next()
	}

	it.SeekToLast()
	if !it.Valid() || it.Key() != 138 {
		t.Errorf("SeekToLast landed on %d", it.Key())
	}
	if it.Next() {
		t.Error("Next after the last key should fail")
	}
}

func TestIteratorEmptyTree(t *testing.T) {
	tree, _, _ := newTestTree(t)
	it := tree.NewIterator()

	it.SeekToFirst()
	if it.Valid() {
		t.Error("iterator over an empty tree should be invalid after SeekToFirst")
	}
	it.SeekToLast()
	if it.Valid() {
		t.Error("iterator over an empty tree should be invalid after SeekToLast")
	}
	if it.Seek(0) {
		t.Error("Seek on an empty tree should fail")
	}
}

func TestDump(t *testing.T) {
	tree, _, _ := newTestTree(t)
	for k := int32(1); k <= 7; k++ {
		if err := tree.Insert(k, valueFor(k, int(k)*10)); err != nil {
			t.Fatal(err)
		}
	}

	var buf bytes.Buffer
	if err := tree.Dump(&buf); err != nil {
		t.Fatal(err)
	}
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	if len(lines) != 7 {
		t.Fatalf("Dump wrote %d lines, want 7:\n%s", len(lines), buf.String())
	}
	if !bytes.HasPrefix(lines[3], []byte("4\toverflow\t40\t")) {
		t.Errorf("unexpected dump line %q", lines[3])
	}

	buf.Reset()
	if err := tree.DumpTree(&buf); err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte("internal ")) {
		t.Errorf("tree dump should start at the internal root:\n%s", buf.String())
	}
	if n := bytes.Count(buf.Bytes(), []byte("  leaf ")); n != 2 {
		t.Errorf("tree dump lists %d leaves, want 2:\n%s", n, buf.String())
	}
}

func TestIteratorAcrossMutations(t *testing.T) {
	tree, _, _ := newTestTree(t)
	for k := int32(0); k < 300; k++ {
		if err := tree.Insert(k, valueFor(k, 8)); err != nil {
			t.Fatal(err)
		}
	}

	it := tree.NewIterator()
	seen := make(map[int32]bool)
	last := int32(-1)
	step := 0
	for it.SeekToFirst(); it.Valid(); it.Next() {
		key := it.Key()
		if key <= last {
			t.Fatalf("key %d came after %d", key, last)
		}
		last = key
		seen[key] = true

		// even keys come and go on both sides of the iterator, odd keys
		// are only ever replaced
		m := int32(step*74%300) &^ 1
		if _, err := tree.Delete(m); err != nil {
			t.Fatal(err)
		}
		if err := tree.Put(m+1, valueFor(m+1, 120)); err != nil {
			t.Fatal(err)
		}
		if step%3 == 0 {
			r := int32(step*52%300) &^ 1
			if err := tree.Put(r, valueFor(r, 8)); err != nil {
				t.Fatal(err)
			}
		}
		step++
	}
	if err := it.Err(); err != nil {
		t.Fatal(err)
	}

	for k := int32(1); k < 300; k += 2 {
		if !seen[k] {
			t.Errorf("key %d was never returned", k)
		}
	}
	mustVerify(t, tree)
}

func TestPut(t *testing.T) {
	tree, _, _ := newTestTree(t)

	if err := tree.Put(4, []byte("new")); err != nil {
		t.Fatalf("Put of an absent key: %v", err)
	}
	if got := mustSearch(t, tree, 4); string(got) != "new" {
		t.Errorf("Search(4) = %q", got)
	}

	long := valueFor(4, 150)
	if err := tree.Put(4, long); err != nil {
		t.Fatalf("Put replacing a key: %v", err)
	}
	if got := mustSearch(t, tree, 4); !bytes.Equal(got, long) {
		t.Errorf("Search(4) returned %d bytes, want the replacement", len(got))
	}
	mustVerify(t, tree)
}

// failingDevice fails every block write while armed
type failingDevice struct {
	*device.MemDevice
	armed bool
}

func (d *failingDevice) WriteBlock(n int64, buf []byte) error {
	if d.armed {
		return errors.New("write failed")
	}
	return d.MemDevice.WriteBlock(n, buf)
}

func TestPutKeepsOldValueWhenChainWriteFails(t *testing.T) {
	dev := &failingDevice{MemDevice: device.NewMemDevice(t.Name())}
	tree, err := Create(dev, WithLogger(quietLogger()))
	if err != nil {
		t.Fatal(err)
	}

	old := valueFor(9, 100)
	if err := tree.Insert(9, old); err != nil {
		t.Fatal(err)
	}

	dev.armed = true
	if err := tree.Put(9, valueFor(9, 400)); err == nil {
		t.Fatal("expected Put to fail while writes fail")
	}
	dev.armed = false

	if got := mustSearch(t, tree, 9); !bytes.Equal(got, old) {
		t.Errorf("old value lost after a failed Put: got %d bytes", len(got))
	}
}
