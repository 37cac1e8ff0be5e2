// Package snapshot reads and writes portable dumps of a key/value store.
//
// A snapshot starts with an uncompressed 8-byte header (magic, version,
// codec). Everything after it is one compressed stream holding the records
// in key order, then a footer:
//
//	record: tag(1)=0x01 key(int32) length(uint32) value(length)
//	footer: tag(1)=0xFF Footer(44)
//
// Integers are little-endian. The footer carries the record count and an
// xxhash64 of every record byte, tags included.
package snapshot

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/KevoDB/btkv/pkg/common/iterator"
	"github.com/cespare/xxhash/v2"
)

const (
	// HeaderMagic is "BTSN" read as a little-endian uint32
	HeaderMagic    = uint32(0x4E535442)
	HeaderSize     = 8
	CurrentVersion = uint32(1)

	recordTag       = byte(0x01)
	footerTag       = byte(0xFF)
	recordHeaderLen = 9
)

var (
	// ErrUnknownCodec is returned when an unsupported compression codec is specified
	ErrUnknownCodec = errors.New("unknown compression codec")
	// ErrInvalidSnapshot is returned for malformed or truncated snapshots
	ErrInvalidSnapshot = errors.New("invalid snapshot")
	// ErrChecksumMismatch is returned when the stored checksums do not match the data
	ErrChecksumMismatch = errors.New("snapshot checksum mismatch")
	// ErrWriterClosed is returned when adding to a closed Writer
	ErrWriterClosed = errors.New("snapshot writer is closed")
)

// Writer streams records into a snapshot
type Writer struct {
	cw     io.WriteCloser
	hash   *xxhash.Digest
	count  uint64
	last   int32
	closed bool
	buf    [recordHeaderLen]byte
}

// NewWriter writes the snapshot header to w and returns a Writer for the
// records. Close finishes the snapshot but leaves w open.
func NewWriter(w io.Writer, codec Codec) (*Writer, error) {
	var header [HeaderSize]byte
	binary.LittleEndian.PutUint32(header[0:4], HeaderMagic)
	binary.LittleEndian.PutUint16(header[4:6], uint16(CurrentVersion))
	header[6] = byte(codec)

	cw, err := newCompressWriter(w, codec)
	if err != nil {
		return nil, err
	}

	if _, err := w.Write(header[:]); err != nil {
		cw.Close()
		return nil, fmt.Errorf("failed to write snapshot header: %w", err)
	}

	return &Writer{cw: cw, hash: xxhash.New()}, nil
}

// Add appends a record. Keys must arrive in strictly increasing order.
func (w *Writer) Add(key int32, value []byte) error {
	if w.closed {
		return ErrWriterClosed
	}
	if w.count > 0 && key <= w.last {
		return fmt.Errorf("key %d added after %d: keys must be increasing", key, w.last)
	}
	if len(value) > math.MaxInt32 {
		return fmt.Errorf("value of %d bytes for key %d is too large", len(value), key)
	}

	w.buf[0] = recordTag
	binary.LittleEndian.PutUint32(w.buf[1:5], uint32(key))
	binary.LittleEndian.PutUint32(w.buf[5:9], uint32(len(value)))

	if err := w.write(w.buf[:]); err != nil {
		return err
	}
	if err := w.write(value); err != nil {
		return err
	}

	w.count++
	w.last = key
	return nil
}

func (w *Writer) write(b []byte) error {
	w.hash.Write(b)
	if _, err := w.cw.Write(b); err != nil {
		return fmt.Errorf("failed to write snapshot record: %w", err)
	}
	return nil
}

// Count returns the number of records added so far
func (w *Writer) Count() uint64 {
	return w.count
}

// Close writes the footer and flushes the compressed stream
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	footer := newFooter(w.count, w.hash.Sum64())
	if _, err := w.cw.Write([]byte{footerTag}); err != nil {
		w.cw.Close()
		return fmt.Errorf("failed to write snapshot footer: %w", err)
	}
	if _, err := w.cw.Write(footer.Encode()); err != nil {
		w.cw.Close()
		return fmt.Errorf("failed to write snapshot footer: %w", err)
	}
	if err := w.cw.Close(); err != nil {
		return fmt.Errorf("failed to flush snapshot: %w", err)
	}
	return nil
}

// Reader walks the records of a snapshot in order. Next returns false at
// the footer or on error; Err distinguishes the two.
type Reader struct {
	codec  Codec
	rc     io.ReadCloser
	r      *bufio.Reader
	hash   *xxhash.Digest
	count  uint64
	footer *Footer

	key   int32
	value []byte
	err   error
	buf   [recordHeaderLen]byte
}

// NewReader reads and validates the snapshot header from r
func NewReader(r io.Reader) (*Reader, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("%w: short header: %v", ErrInvalidSnapshot, err)
	}

	if magic := binary.LittleEndian.Uint32(header[0:4]); magic != HeaderMagic {
		return nil, fmt.Errorf("%w: header magic %x, expected %x", ErrInvalidSnapshot, magic, HeaderMagic)
	}
	if version := uint32(binary.LittleEndian.Uint16(header[4:6])); version != CurrentVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidSnapshot, version)
	}

	codec := Codec(header[6])
	rc, err := newCompressReader(r, codec)
	if err != nil {
		return nil, err
	}

	return &Reader{
		codec: codec,
		rc:    rc,
		r:     bufio.NewReader(rc),
		hash:  xxhash.New(),
	}, nil
}

// Codec returns the codec the snapshot was written with
func (r *Reader) Codec() Codec {
	return r.codec
}

// Next advances to the next record
func (r *Reader) Next() bool {
	if r.err != nil || r.footer != nil {
		return false
	}

	tag, err := r.r.ReadByte()
	if err != nil {
		r.fail(err)
		return false
	}

	switch tag {
	case recordTag:
		return r.readRecord()
	case footerTag:
		r.readFooter()
		return false
	default:
		r.err = fmt.Errorf("%w: unknown tag %#x after %d records", ErrInvalidSnapshot, tag, r.count)
		return false
	}
}

func (r *Reader) readRecord() bool {
	r.buf[0] = recordTag
	if _, err := io.ReadFull(r.r, r.buf[1:]); err != nil {
		r.fail(err)
		return false
	}
	key := int32(binary.LittleEndian.Uint32(r.buf[1:5]))
	length := binary.LittleEndian.Uint32(r.buf[5:9])
	if length > math.MaxInt32 {
		r.err = fmt.Errorf("%w: record %d claims %d bytes", ErrInvalidSnapshot, key, length)
		return false
	}
	if r.count > 0 && key <= r.key {
		r.err = fmt.Errorf("%w: key %d follows %d", ErrInvalidSnapshot, key, r.key)
		return false
	}

	// grow with the data actually present rather than the claimed length
	var value bytes.Buffer
	if _, err := io.CopyN(&value, r.r, int64(length)); err != nil {
		r.fail(err)
		return false
	}

	r.hash.Write(r.buf[:])
	r.hash.Write(value.Bytes())
	r.key = key
	r.value = value.Bytes()
	r.count++
	return true
}

func (r *Reader) readFooter() {
	data := make([]byte, FooterSize)
	if _, err := io.ReadFull(r.r, data); err != nil {
		r.fail(err)
		return
	}

	footer, err := decodeFooter(data)
	if err != nil {
		r.err = err
		return
	}
	if footer.Count != r.count {
		r.err = fmt.Errorf("%w: footer counts %d records, read %d", ErrInvalidSnapshot, footer.Count, r.count)
		return
	}
	if sum := r.hash.Sum64(); footer.RecordChecksum != sum {
		r.err = fmt.Errorf("%w: records hash to %x, footer has %x", ErrChecksumMismatch, sum, footer.RecordChecksum)
		return
	}
	if _, err := r.r.ReadByte(); err != io.EOF {
		r.err = fmt.Errorf("%w: data after footer", ErrInvalidSnapshot)
		return
	}

	r.footer = footer
	r.key, r.value = 0, nil
}

func (r *Reader) fail(err error) {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		r.err = fmt.Errorf("%w: truncated after %d records", ErrInvalidSnapshot, r.count)
		return
	}
	r.err = fmt.Errorf("failed to read snapshot: %w", err)
}

// Key returns the key of the current record
func (r *Reader) Key() int32 {
	return r.key
}

// Value returns the value of the current record. It stays valid after Next.
func (r *Reader) Value() []byte {
	return r.value
}

// Err returns the first error met, or nil once the footer has been
// verified
func (r *Reader) Err() error {
	return r.err
}

// Footer returns the verified footer, or nil before the end of the stream
func (r *Reader) Footer() *Footer {
	return r.footer
}

// Close releases the decompressor
func (r *Reader) Close() error {
	return r.rc.Close()
}

// Export writes every record of iter, from its first key, as a snapshot
// to w and returns the number of records written
func Export(w io.Writer, iter iterator.Iterator, codec Codec) (uint64, error) {
	sw, err := NewWriter(w, codec)
	if err != nil {
		return 0, err
	}

	for iter.SeekToFirst(); iter.Valid(); iter.Next() {
		if err := sw.Add(iter.Key(), iter.Value()); err != nil {
			sw.Close()
			return sw.Count(), err
		}
	}
	if err := iter.Err(); err != nil {
		sw.Close()
		return sw.Count(), fmt.Errorf("failed to iterate: %w", err)
	}

	if err := sw.Close(); err != nil {
		return sw.Count(), err
	}
	return sw.Count(), nil
}

// Import reads the snapshot in r and calls apply for every record in
// order. It returns the number of records applied. Records are applied as
// they are read, so a snapshot found corrupt part way through has already
// delivered its earlier records.
func Import(r io.Reader, apply func(key int32, value []byte) error) (uint64, error) {
	sr, err := NewReader(r)
	if err != nil {
		return 0, err
	}
	defer sr.Close()

	var applied uint64
	for sr.Next() {
		if err := apply(sr.Key(), sr.Value()); err != nil {
			return applied, fmt.Errorf("failed to apply key %d: %w", sr.Key(), err)
		}
		applied++
	}
	if err := sr.Err(); err != nil {
		return applied, err
	}
	if sr.Footer() == nil {
		return applied, fmt.Errorf("%w: missing footer", ErrInvalidSnapshot)
	}
	return applied, nil
}
