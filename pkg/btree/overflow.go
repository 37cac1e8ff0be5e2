package btree

// cluster locates one reserved run of fragments in an overflow chain
type cluster struct {
	block int64
	frag  int32
	count int
}

// writeOverflow stores data as a chain of fragment clusters and returns the
// first link. All clusters are reserved first and then written tail to
// head, so every cluster already knows its successor when it is written.
func (s *store) writeOverflow(data []byte) (int64, int32, error) {
	var chain []cluster
	for remaining := len(data); remaining > 0; {
		block, frag, count, err := s.reserveFragments(fragmentsFor(remaining))
		if err != nil {
			return InvalidBlock, InvalidFragment, err
		}
		chain = append(chain, cluster{block: block, frag: frag, count: count})
		remaining -= min(clusterCapacity(count), remaining)
	}

	// offsets[i] is where cluster i's share of data begins
	offsets := make([]int, len(chain)+1)
	for i, c := range chain {
		offsets[i+1] = min(offsets[i]+clusterCapacity(c.count), len(data))
	}

	nextBlock, nextFrag := InvalidBlock, InvalidFragment
	for i := len(chain) - 1; i >= 0; i-- {
		c := chain[i]
		// clusters may share a block, so always start from what is on disk
		fb, err := s.readFragmentBlock(c.block)
		if err != nil {
			return InvalidBlock, InvalidFragment, err
		}
		chunk := data[offsets[i]:offsets[i+1]]
		fb.writeCluster(c.frag, c.count, clusterHeader{
			length:    int32(len(chunk)),
			nextBlock: nextBlock,
			nextFrag:  nextFrag,
		}, chunk)
		if err := s.writeFragmentBlock(fb); err != nil {
			return InvalidBlock, InvalidFragment, err
		}
		nextBlock, nextFrag = c.block, c.frag
	}
	return nextBlock, nextFrag, nil
}

// readOverflow rebuilds the value of an overflow entry from its inline
// prefix and fragment chain
func (s *store) readOverflow(e Entry) ([]byte, error) {
	value := make([]byte, 0, e.Length)
	value = append(value, e.overflowPrefix()...)

	block, frag := e.overflowRef()
	for len(value) < int(e.Length) {
		if block == InvalidBlock {
			return nil, corruptf(block, "overflow chain for key %d ends after %d of %d bytes", e.Key, len(value), e.Length)
		}
		fb, err := s.readFragmentBlock(block)
		if err != nil {
			return nil, err
		}
		hdr, data, err := fb.readCluster(frag)
		if err != nil {
			return nil, err
		}
		if len(value)+len(data) > int(e.Length) {
			return nil, corruptf(block, "overflow chain for key %d delivers more than %d bytes", e.Key, e.Length)
		}
		value = append(value, data...)
		block, frag = hdr.nextBlock, hdr.nextFrag
	}

	if block != InvalidBlock {
		return nil, corruptf(block, "overflow chain for key %d continues past %d bytes", e.Key, e.Length)
	}
	return value, nil
}

// overflowChain lists the clusters of an overflow entry without copying
// their data
func (s *store) overflowChain(e Entry) ([]cluster, int, error) {
	var chain []cluster
	total := OverflowPrefixLen

	block, frag := e.overflowRef()
	for block != InvalidBlock {
		if len(chain) > int(s.hdr.blockCount)*FragmentsPerBlock {
			return nil, 0, corruptf(block, "overflow chain for key %d loops", e.Key)
		}
		fb, err := s.readFragmentBlock(block)
		if err != nil {
			return nil, 0, err
		}
		hdr, data, err := fb.readCluster(frag)
		if err != nil {
			return nil, 0, err
		}
		chain = append(chain, cluster{block: block, frag: frag, count: fragmentsFor(len(data))})
		total += len(data)
		block, frag = hdr.nextBlock, hdr.nextFrag
	}
	return chain, total, nil
}
