package btree

import (
	"encoding/binary"
	"math/bits"
)

// fragmentBlock is a block split into FragmentsPerBlock fragments that
// hold overflow value bytes
type fragmentBlock struct {
	block int64
	// next links the block into a free-fragment bucket chain. It is not
	// part of any value's data chain.
	next int64
	used uint8
	data [FragmentsPerBlock * FragmentSize]byte
}

// clusterHeader heads every reserved cluster of fragments
type clusterHeader struct {
	length    int32
	nextBlock int64
	nextFrag  int32
}

func newFragmentBlock(block int64) *fragmentBlock {
	return &fragmentBlock{block: block, next: InvalidBlock}
}

func (f *fragmentBlock) isUsed(i int) bool {
	return f.used&(1<<uint(i)) != 0
}

func (f *fragmentBlock) freeCount() int {
	return FragmentsPerBlock - bits.OnesCount8(f.used)
}

// maxCluster finds the longest run of free fragments. Ties go to the
// lowest starting index. start is InvalidFragment when the block is full.
func (f *fragmentBlock) maxCluster() (start int32, length int) {
	start = InvalidFragment
	for i := 0; i+length < FragmentsPerBlock; i++ {
		if f.isUsed(i) {
			continue
		}
		end := i + 1
		for end < FragmentsPerBlock && !f.isUsed(end) {
			end++
		}
		if end-i > length {
			start, length = int32(i), end-i
		}
		i = end
	}
	return start, length
}

// reserve marks count fragments used at the start of the largest free run
func (f *fragmentBlock) reserve(count int) (int32, error) {
	start, length := f.maxCluster()
	if count > length || count < 1 {
		return InvalidFragment, errFragmentsExhausted
	}
	for i := int(start); i < int(start)+count; i++ {
		f.used |= 1 << uint(i)
	}
	return start, nil
}

// writeCluster stores a cluster header and data in the count fragments
// starting at frag
func (f *fragmentBlock) writeCluster(frag int32, count int, hdr clusterHeader, data []byte) {
	off := int(frag) * FragmentSize
	end := off + count*FragmentSize
	clear(f.data[off:end])
	binary.LittleEndian.PutUint32(f.data[off:off+4], uint32(hdr.length))
	binary.LittleEndian.PutUint64(f.data[off+4:off+12], uint64(hdr.nextBlock))
	binary.LittleEndian.PutUint32(f.data[off+12:off+16], uint32(hdr.nextFrag))
	copy(f.data[off+clusterHeaderSize:end], data)
}

// readCluster returns the header and data of the cluster starting at frag
func (f *fragmentBlock) readCluster(frag int32) (clusterHeader, []byte, error) {
	if frag < 0 || int(frag) >= FragmentsPerBlock {
		return clusterHeader{}, nil, corruptf(f.block, "fragment index %d out of range", frag)
	}
	if !f.isUsed(int(frag)) {
		return clusterHeader{}, nil, corruptf(f.block, "fragment %d is not in use", frag)
	}

	off := int(frag) * FragmentSize
	hdr := clusterHeader{
		length:    int32(binary.LittleEndian.Uint32(f.data[off : off+4])),
		nextBlock: int64(binary.LittleEndian.Uint64(f.data[off+4 : off+12])),
		nextFrag:  int32(binary.LittleEndian.Uint32(f.data[off+12 : off+16])),
	}

	start := off + clusterHeaderSize
	if hdr.length <= 0 || start+int(hdr.length) > len(f.data) {
		return hdr, nil, corruptf(f.block, "fragment %d has data length %d", frag, hdr.length)
	}
	return hdr, f.data[start : start+int(hdr.length)], nil
}

func (f *fragmentBlock) encode() []byte {
	buf := make([]byte, BlockSize)
	binary.LittleEndian.PutUint32(buf[0:4], FragmentMagic)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(f.block))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(f.next))
	buf[24] = f.used
	copy(buf[fragmentHeaderSize:], f.data[:])
	return buf
}

func decodeFragmentBlock(block int64, buf []byte) (*fragmentBlock, error) {
	if magic := binary.LittleEndian.Uint32(buf[0:4]); magic != FragmentMagic {
		return nil, corruptf(block, "fragment block magic %#x, expected %#x", magic, FragmentMagic)
	}
	if stored := int64(binary.LittleEndian.Uint64(buf[8:16])); stored != block {
		return nil, corruptf(block, "fragment block claims block number %d", stored)
	}

	f := &fragmentBlock{
		block: block,
		next:  int64(binary.LittleEndian.Uint64(buf[16:24])),
		used:  buf[24],
	}
	if f.used>>FragmentsPerBlock != 0 {
		return nil, corruptf(block, "used bitmap %#x marks fragments past %d", f.used, FragmentsPerBlock)
	}
	copy(f.data[:], buf[fragmentHeaderSize:])
	return f, nil
}
