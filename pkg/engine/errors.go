package engine

import (
	"errors"

	"github.com/KevoDB/btkv/pkg/btree"
)

var (
	// ErrEngineClosed is returned when operations are performed on a closed engine
	ErrEngineClosed = errors.New("engine is closed")
	// ErrKeyNotFound is returned when a key is not found
	ErrKeyNotFound = errors.New("key not found")
	// ErrReadOnly is returned for mutations on an engine opened read-only
	ErrReadOnly = errors.New("engine is read-only")

	// ErrKeyExists is returned by Insert when the key is already present
	ErrKeyExists = btree.ErrKeyExists
)

// isMiss reports errors that describe the request rather than a failure
// of the store
func isMiss(err error) bool {
	return errors.Is(err, ErrKeyNotFound) ||
		errors.Is(err, btree.ErrKeyExists) ||
		errors.Is(err, btree.ErrValueTooLarge)
}
