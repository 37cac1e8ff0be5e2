package device

import (
	"errors"
	"io"
	"os"
	"sync/atomic"
)

// Mode selects how Open treats an existing or missing file
type Mode int

const (
	// OpenExisting opens a file that must already exist, read-write
	OpenExisting Mode = iota
	// CreateOrTruncate creates the file, discarding any previous contents
	CreateOrTruncate
	// OpenOrCreate opens the file, creating it when missing
	OpenOrCreate
	// ReadOnly opens an existing file for reading only
	ReadOnly
)

func (m Mode) flags() int {
	switch m {
	case CreateOrTruncate:
		return os.O_RDWR | os.O_CREATE | os.O_TRUNC
	case OpenOrCreate:
		return os.O_RDWR | os.O_CREATE
	case ReadOnly:
		return os.O_RDONLY
	default:
		return os.O_RDWR
	}
}

// FileDevice is a BlockDevice backed by an operating system file
type FileDevice struct {
	path     string
	file     *os.File
	readOnly bool
	closed   atomic.Bool
}

// Open opens path as a block device
func Open(path string, mode Mode) (*FileDevice, error) {
	file, err := os.OpenFile(path, mode.flags(), 0644)
	if err != nil {
		return nil, newIoError("open", path, -1, err)
	}

	return &FileDevice{
		path:     path,
		file:     file,
		readOnly: mode == ReadOnly,
	}, nil
}

// Path returns the file name
func (d *FileDevice) Path() string {
	return d.path
}

// ReadBlock reads block n into buf
func (d *FileDevice) ReadBlock(n int64, buf []byte) error {
	if err := checkArgs("read", d.path, n, buf); err != nil {
		return err
	}
	if d.closed.Load() {
		return newIoError("read", d.path, n, ErrClosed)
	}

	read, err := d.file.ReadAt(buf, n*BlockSize)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return newIoError("read", d.path, n, ErrShortRead)
		}
		return newIoError("read", d.path, n, err)
	}
	if read != BlockSize {
		return newIoError("read", d.path, n, ErrShortRead)
	}
	return nil
}

// WriteBlock writes buf as block n, extending the file when needed
func (d *FileDevice) WriteBlock(n int64, buf []byte) error {
	if err := checkArgs("write", d.path, n, buf); err != nil {
		return err
	}
	if d.closed.Load() {
		return newIoError("write", d.path, n, ErrClosed)
	}
	if d.readOnly {
		return newIoError("write", d.path, n, ErrReadOnly)
	}

	if _, err := d.file.WriteAt(buf, n*BlockSize); err != nil {
		return newIoError("write", d.path, n, err)
	}
	return nil
}

// Blocks returns the number of whole blocks currently in the file
func (d *FileDevice) Blocks() (int64, error) {
	info, err := d.file.Stat()
	if err != nil {
		return 0, newIoError("stat", d.path, -1, err)
	}
	return info.Size() / BlockSize, nil
}

// Sync commits the file contents to stable storage
func (d *FileDevice) Sync() error {
	if d.closed.Load() {
		return newIoError("sync", d.path, -1, ErrClosed)
	}
	if d.readOnly {
		return nil
	}
	if err := d.file.Sync(); err != nil {
		return newIoError("sync", d.path, -1, err)
	}
	return nil
}

// Close closes the file. Closing twice is a no-op.
func (d *FileDevice) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := d.file.Close(); err != nil {
		return newIoError("close", d.path, -1, err)
	}
	return nil
}
