package iterator

// Iterator defines the interface for iterating over key-value pairs in key
// order. Keys are the store's signed 32-bit keys.
type Iterator interface {
	// SeekToFirst positions the iterator at the first key
	SeekToFirst()

	// SeekToLast positions the iterator at the last key
	SeekToLast()

	// Seek positions the iterator at the first key >= target
	Seek(target int32) bool

	// Next advances the iterator to the next key
	Next() bool

	// Key returns the current key
	Key() int32

	// Value returns the current value
	Value() []byte

	// Valid returns true if the iterator is positioned at a valid entry
	Valid() bool

	// Err returns the first error hit while moving or reading values.
	// An iterator that hit an error is no longer valid.
	Err() error
}
