package btree

import (
	"errors"
	"fmt"
)

var (
	// ErrCorrupted is returned when a block fails validation on read
	ErrCorrupted = errors.New("btree file is corrupted")
	// ErrKeyExists is returned when inserting a key that is already present
	ErrKeyExists = errors.New("key already exists")
	// ErrValueTooLarge is returned for values whose length does not fit an int32
	ErrValueTooLarge = errors.New("value too large")

	// errFragmentsExhausted signals that a candidate fragment block cannot
	// hold the requested cluster. The allocator handles it internally.
	errFragmentsExhausted = errors.New("cannot reserve requested count of fragments")
)

// CorruptionError describes a block that failed validation
type CorruptionError struct {
	Block  int64
	Reason string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("%v: block %d: %s", ErrCorrupted, e.Block, e.Reason)
}

// Is reports ErrCorrupted so callers can use errors.Is
func (e *CorruptionError) Is(target error) bool {
	return target == ErrCorrupted
}

func corruptf(block int64, format string, args ...interface{}) error {
	return &CorruptionError{Block: block, Reason: fmt.Sprintf(format, args...)}
}
