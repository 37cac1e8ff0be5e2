// Package device provides fixed-size block I/O over random-access storage.
//
// Every block is addressed by an absolute block number; the byte offset of
// block n is n*BlockSize. Devices are synchronous and blocking. FileDevice
// and MemDevice are safe for concurrent reads.
package device

import (
	"errors"
	"fmt"
	"io/fs"
	"syscall"
)

// BlockSize is the unit of all device I/O in bytes
const BlockSize = 256

var (
	// ErrBadBlockNumber is returned for negative block numbers
	ErrBadBlockNumber = errors.New("invalid block number")
	// ErrBadBufferSize is returned when a buffer is not exactly BlockSize bytes
	ErrBadBufferSize = errors.New("buffer is not one block long")
	// ErrShortRead is returned when a block lies (partly) past the end of the device
	ErrShortRead = errors.New("short block read")
	// ErrReadOnly is returned when writing to a device opened read-only
	ErrReadOnly = errors.New("device is read-only")
	// ErrClosed is returned for operations on a closed device
	ErrClosed = errors.New("device is closed")
)

// BlockDevice is the narrow contract the B-tree consumes
type BlockDevice interface {
	// ReadBlock fills buf with the contents of block n
	ReadBlock(n int64, buf []byte) error
	// WriteBlock stores buf as the contents of block n
	WriteBlock(n int64, buf []byte) error
	// Sync flushes written blocks to stable storage
	Sync() error
	// Close releases the device
	Close() error
	// Path names the backing store, used in error messages
	Path() string
}

// ErrorKind classifies device failures
type ErrorKind int

const (
	// KindIO is a generic I/O failure
	KindIO ErrorKind = iota
	// KindNotFound means the backing file does not exist
	KindNotFound
	// KindAccessDenied means the caller may not open or write the backing file
	KindAccessDenied
)

// String returns the string representation of the error kind
func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindAccessDenied:
		return "access denied"
	default:
		return "i/o failure"
	}
}

// IoError describes a failed device operation. It carries the operation,
// the file name, the block involved (-1 when not block-specific) and the
// underlying error.
type IoError struct {
	Op    string
	Path  string
	Block int64
	Err   error
}

func (e *IoError) Error() string {
	if e.Block >= 0 {
		return fmt.Sprintf("%s %s (block %d): %v", e.Op, e.Path, e.Block, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IoError) Unwrap() error {
	return e.Err
}

// Kind maps the underlying error to not-found, access-denied or generic I/O
func (e *IoError) Kind() ErrorKind {
	switch {
	case errors.Is(e.Err, fs.ErrNotExist):
		return KindNotFound
	case errors.Is(e.Err, fs.ErrPermission), errors.Is(e.Err, ErrReadOnly):
		return KindAccessDenied
	default:
		return KindIO
	}
}

// Code returns the operating system error number, or 0 when the failure did
// not originate in a system call
func (e *IoError) Code() int {
	var errno syscall.Errno
	if errors.As(e.Err, &errno) {
		return int(errno)
	}
	return 0
}

func newIoError(op, path string, block int64, err error) *IoError {
	return &IoError{Op: op, Path: path, Block: block, Err: err}
}

func checkArgs(op, path string, n int64, buf []byte) error {
	if n < 0 {
		return newIoError(op, path, n, ErrBadBlockNumber)
	}
	if len(buf) != BlockSize {
		return newIoError(op, path, n, fmt.Errorf("%w: got %d bytes", ErrBadBufferSize, len(buf)))
	}
	return nil
}
