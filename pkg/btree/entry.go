package btree

import (
	"encoding/binary"
	"fmt"
)

// EntryKind tells whether an entry holds its value inline or in a fragment chain
type EntryKind uint32

const (
	// EntryComplete entries carry the whole value in the payload
	EntryComplete EntryKind = iota
	// EntryOverflow entries carry a value prefix and a pointer to the rest
	EntryOverflow
)

func (k EntryKind) String() string {
	switch k {
	case EntryComplete:
		return "complete"
	case EntryOverflow:
		return "overflow"
	default:
		return fmt.Sprintf("kind(%d)", uint32(k))
	}
}

// Entry is one key/value record stored in a node. Entries are values and
// are always replaced whole.
type Entry struct {
	Key     int32
	Kind    EntryKind
	Length  int32 // total logical value length
	Payload [EntryDataLen]byte
}

// newCompleteEntry builds an entry holding value inline
func newCompleteEntry(key int32, value []byte) Entry {
	e := Entry{Key: key, Kind: EntryComplete, Length: int32(len(value))}
	copy(e.Payload[:], value)
	return e
}

// newOverflowEntry builds an entry pointing at a fragment chain
func newOverflowEntry(key int32, length int32, block int64, frag int32, prefix []byte) Entry {
	e := Entry{Key: key, Kind: EntryOverflow, Length: length}
	binary.LittleEndian.PutUint64(e.Payload[0:8], uint64(block))
	binary.LittleEndian.PutUint32(e.Payload[8:12], uint32(frag))
	copy(e.Payload[overflowRefSize:], prefix)
	return e
}

// overflowRef returns the first fragment of an overflow entry's chain
func (e Entry) overflowRef() (int64, int32) {
	block := int64(binary.LittleEndian.Uint64(e.Payload[0:8]))
	frag := int32(binary.LittleEndian.Uint32(e.Payload[8:12]))
	return block, frag
}

// overflowPrefix returns the inline part of an overflow entry's value
func (e Entry) overflowPrefix() []byte {
	return e.Payload[overflowRefSize:]
}

// inlineValue returns the value of a complete entry
func (e Entry) inlineValue() []byte {
	out := make([]byte, e.Length)
	copy(out, e.Payload[:e.Length])
	return out
}

func (e Entry) encodeTo(b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], uint32(e.Key))
	binary.LittleEndian.PutUint32(b[4:8], uint32(e.Kind))
	binary.LittleEndian.PutUint32(b[8:12], uint32(e.Length))
	copy(b[12:entrySize], e.Payload[:])
}

func decodeEntry(block int64, b []byte) (Entry, error) {
	e := Entry{
		Key:    int32(binary.LittleEndian.Uint32(b[0:4])),
		Kind:   EntryKind(binary.LittleEndian.Uint32(b[4:8])),
		Length: int32(binary.LittleEndian.Uint32(b[8:12])),
	}
	copy(e.Payload[:], b[12:entrySize])

	switch e.Kind {
	case EntryComplete:
		if e.Length < 0 || e.Length > EntryDataLen {
			return e, corruptf(block, "complete entry %d has length %d", e.Key, e.Length)
		}
	case EntryOverflow:
		if e.Length <= EntryDataLen {
			return e, corruptf(block, "overflow entry %d has length %d", e.Key, e.Length)
		}
	default:
		return e, corruptf(block, "entry %d has unknown kind %d", e.Key, e.Kind)
	}
	return e, nil
}
