package device

import (
	"sync"
)

// MemDevice keeps blocks in memory. It is used by tests and by tooling that
// wants a scratch tree.
type MemDevice struct {
	mu     sync.RWMutex
	name   string
	blocks [][]byte
	closed bool
}

// NewMemDevice creates an empty in-memory device
func NewMemDevice(name string) *MemDevice {
	return &MemDevice{name: name}
}

// Path returns the device name
func (m *MemDevice) Path() string {
	return m.name
}

// ReadBlock copies block n into buf
func (m *MemDevice) ReadBlock(n int64, buf []byte) error {
	if err := checkArgs("read", m.name, n, buf); err != nil {
		return err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return newIoError("read", m.name, n, ErrClosed)
	}
	if n >= int64(len(m.blocks)) {
		return newIoError("read", m.name, n, ErrShortRead)
	}
	copy(buf, m.blocks[n])
	return nil
}

// WriteBlock stores a copy of buf as block n. Gaps are zero-filled, the way
// a sparse file write would leave them.
func (m *MemDevice) WriteBlock(n int64, buf []byte) error {
	if err := checkArgs("write", m.name, n, buf); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return newIoError("write", m.name, n, ErrClosed)
	}
	for int64(len(m.blocks)) <= n {
		m.blocks = append(m.blocks, make([]byte, BlockSize))
	}
	copy(m.blocks[n], buf)
	return nil
}

// Blocks returns the number of blocks written so far
func (m *MemDevice) Blocks() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.blocks))
}

// Sync is a no-op
func (m *MemDevice) Sync() error {
	return nil
}

// Close marks the device closed; its contents are kept for inspection
func (m *MemDevice) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
