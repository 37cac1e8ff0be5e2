package snapshot

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
)

const (
	// FooterSize is the fixed size of the footer in bytes
	FooterSize = 44
	// FooterMagic marks the end of a complete record stream
	FooterMagic = uint64(0xB7EEB7EE5EA1ED00)
)

// Footer closes the record stream of a snapshot
type Footer struct {
	Magic   uint64
	Version uint32
	// Timestamp of when the snapshot was written
	Timestamp int64
	// Number of records before the footer
	Count uint64
	// xxhash64 of the uncompressed record stream
	RecordChecksum uint64
	// Checksum of all footer fields excluding the checksum itself
	Checksum uint64
}

func newFooter(count, recordChecksum uint64) *Footer {
	return &Footer{
		Magic:          FooterMagic,
		Version:        CurrentVersion,
		Timestamp:      time.Now().UnixNano(),
		Count:          count,
		RecordChecksum: recordChecksum,
	}
}

// Encode serializes the footer to a byte slice
func (f *Footer) Encode() []byte {
	result := make([]byte, FooterSize)

	binary.LittleEndian.PutUint64(result[0:8], f.Magic)
	binary.LittleEndian.PutUint32(result[8:12], f.Version)
	binary.LittleEndian.PutUint64(result[12:20], uint64(f.Timestamp))
	binary.LittleEndian.PutUint64(result[20:28], f.Count)
	binary.LittleEndian.PutUint64(result[28:36], f.RecordChecksum)

	f.Checksum = xxhash.Sum64(result[:36])
	binary.LittleEndian.PutUint64(result[36:], f.Checksum)

	return result
}

// decodeFooter parses and validates a footer
func decodeFooter(data []byte) (*Footer, error) {
	if len(data) < FooterSize {
		return nil, fmt.Errorf("%w: footer is %d bytes, expected %d",
			ErrInvalidSnapshot, len(data), FooterSize)
	}

	footer := &Footer{
		Magic:          binary.LittleEndian.Uint64(data[0:8]),
		Version:        binary.LittleEndian.Uint32(data[8:12]),
		Timestamp:      int64(binary.LittleEndian.Uint64(data[12:20])),
		Count:          binary.LittleEndian.Uint64(data[20:28]),
		RecordChecksum: binary.LittleEndian.Uint64(data[28:36]),
		Checksum:       binary.LittleEndian.Uint64(data[36:44]),
	}

	if footer.Magic != FooterMagic {
		return nil, fmt.Errorf("%w: footer magic %x, expected %x",
			ErrInvalidSnapshot, footer.Magic, FooterMagic)
	}

	if footer.Version != CurrentVersion {
		return nil, fmt.Errorf("%w: footer version %d", ErrInvalidSnapshot, footer.Version)
	}

	expected := xxhash.Sum64(data[:36])
	if footer.Checksum != expected {
		return nil, fmt.Errorf("%w: footer checksum %x, calculated %x",
			ErrChecksumMismatch, footer.Checksum, expected)
	}

	return footer, nil
}
