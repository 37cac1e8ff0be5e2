package btree

import (
	"encoding/binary"
)

// header is the catalog kept in block 0: the allocation cursor, the root
// pointer and the free-fragment bucket heads
type header struct {
	blockCount    int64
	freeBlockHead int64
	rootBlock     int64
	// buckets[c] is the first fragment block whose largest free cluster is
	// exactly c fragments. Index 0 is unused.
	buckets [FragmentsPerBlock]int64
}

func newHeader() *header {
	h := &header{
		freeBlockHead: InvalidBlock,
		rootBlock:     InvalidBlock,
	}
	for i := range h.buckets {
		h.buckets[i] = InvalidBlock
	}
	return h
}

// allocateBlockNumber hands out the next block number. Block numbers are
// never reused.
func (h *header) allocateBlockNumber() int64 {
	n := h.blockCount
	h.blockCount++
	return n
}

func (h *header) encode() []byte {
	buf := make([]byte, BlockSize)
	binary.LittleEndian.PutUint32(buf[0:4], HeaderMagic)
	binary.LittleEndian.PutUint64(buf[8:16], 0)
	binary.LittleEndian.PutUint64(buf[16:24], uint64(h.blockCount))
	binary.LittleEndian.PutUint64(buf[24:32], uint64(h.freeBlockHead))
	binary.LittleEndian.PutUint64(buf[32:40], uint64(h.rootBlock))
	for c := 1; c < FragmentsPerBlock; c++ {
		off := headerBucketOffset + (c-1)*8
		binary.LittleEndian.PutUint64(buf[off:off+8], uint64(h.buckets[c]))
	}
	return buf
}

func decodeHeader(buf []byte) (*header, error) {
	if magic := binary.LittleEndian.Uint32(buf[0:4]); magic != HeaderMagic {
		return nil, corruptf(0, "header magic %#x, expected %#x", magic, HeaderMagic)
	}
	if stored := int64(binary.LittleEndian.Uint64(buf[8:16])); stored != 0 {
		return nil, corruptf(0, "header claims block number %d", stored)
	}

	h := newHeader()
	h.blockCount = int64(binary.LittleEndian.Uint64(buf[16:24]))
	h.freeBlockHead = int64(binary.LittleEndian.Uint64(buf[24:32]))
	h.rootBlock = int64(binary.LittleEndian.Uint64(buf[32:40]))
	for c := 1; c < FragmentsPerBlock; c++ {
		off := headerBucketOffset + (c-1)*8
		h.buckets[c] = int64(binary.LittleEndian.Uint64(buf[off : off+8]))
	}

	if h.blockCount < 2 {
		return nil, corruptf(0, "block count %d", h.blockCount)
	}
	if h.rootBlock < 1 || h.rootBlock >= h.blockCount {
		return nil, corruptf(0, "root block %d outside [1, %d)", h.rootBlock, h.blockCount)
	}
	for c := 1; c < FragmentsPerBlock; c++ {
		if b := h.buckets[c]; b != InvalidBlock && (b < 1 || b >= h.blockCount) {
			return nil, corruptf(0, "bucket %d head %d outside the file", c, b)
		}
	}
	return h, nil
}
