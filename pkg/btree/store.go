package btree

import (
	"fmt"

	"github.com/KevoDB/btkv/pkg/common/log"
	"github.com/KevoDB/btkv/pkg/device"
	"github.com/KevoDB/btkv/pkg/stats"
)

// store moves nodes, fragment blocks and the header between memory and
// the block device. Every load validates the block it reads.
type store struct {
	dev    device.BlockDevice
	hdr    *header
	logger log.Logger
	stats  stats.Collector
}

func (s *store) read(block int64) ([]byte, error) {
	buf := make([]byte, BlockSize)
	if err := s.dev.ReadBlock(block, buf); err != nil {
		return nil, err
	}
	s.trackBytes(false)
	return buf, nil
}

func (s *store) write(block int64, buf []byte) error {
	if err := s.dev.WriteBlock(block, buf); err != nil {
		return err
	}
	s.trackBytes(true)
	return nil
}

func (s *store) readNode(block int64) (*node, error) {
	if block < 1 || block >= s.hdr.blockCount {
		return nil, corruptf(block, "node pointer outside the file (block count %d)", s.hdr.blockCount)
	}
	buf, err := s.read(block)
	if err != nil {
		return nil, fmt.Errorf("failed to read node: %w", err)
	}
	return decodeNode(block, buf)
}

func (s *store) writeNode(n *node) error {
	if err := s.write(n.block, n.encode()); err != nil {
		return fmt.Errorf("failed to write node: %w", err)
	}
	return nil
}

// allocateNode assigns a fresh block number and writes the empty node at
// once so later reads of that block see a valid node
func (s *store) allocateNode(kind NodeKind) (*node, error) {
	n := newNode(s.hdr.allocateBlockNumber(), kind)
	if err := s.writeNode(n); err != nil {
		return nil, err
	}
	s.event(stats.EventNodeAlloc)
	s.logger.Debug("allocated %s node at block %d", kind, n.block)
	return n, nil
}

func (s *store) readFragmentBlock(block int64) (*fragmentBlock, error) {
	if block < 1 || block >= s.hdr.blockCount {
		return nil, corruptf(block, "fragment block pointer outside the file (block count %d)", s.hdr.blockCount)
	}
	buf, err := s.read(block)
	if err != nil {
		return nil, fmt.Errorf("failed to read fragment block: %w", err)
	}
	return decodeFragmentBlock(block, buf)
}

func (s *store) writeFragmentBlock(f *fragmentBlock) error {
	if err := s.write(f.block, f.encode()); err != nil {
		return fmt.Errorf("failed to write fragment block: %w", err)
	}
	return nil
}

func (s *store) allocateFragmentBlock() (*fragmentBlock, error) {
	f := newFragmentBlock(s.hdr.allocateBlockNumber())
	if err := s.writeFragmentBlock(f); err != nil {
		return nil, err
	}
	s.event(stats.EventFragmentAlloc)
	s.logger.Debug("allocated fragment block %d", f.block)
	return f, nil
}

func (s *store) writeHeader() error {
	if err := s.write(0, s.hdr.encode()); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	return nil
}

func (s *store) loadHeader() error {
	buf, err := s.read(0)
	if err != nil {
		return fmt.Errorf("failed to read header: %w", err)
	}
	hdr, err := decodeHeader(buf)
	if err != nil {
		return err
	}
	s.hdr = hdr
	return nil
}

func (s *store) event(e stats.EventType) {
	if s.stats != nil {
		s.stats.TrackEvent(e)
	}
}

func (s *store) trackBytes(isWrite bool) {
	if s.stats != nil {
		s.stats.TrackBytes(isWrite, BlockSize)
	}
}
