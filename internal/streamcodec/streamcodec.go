// Package streamcodec provides a small binary encoding layer shared by the
// wire packet types: big-endian primitives, fixed-size arrays, and an
// "unframed" byte vector that consumes whatever bytes remain in its cursor.
package streamcodec

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrUnexpectedEOF is returned when a read runs out of bytes before the
// value it was decoding is complete.
var ErrUnexpectedEOF = errors.New("streamcodec: unexpected end of input")

// ErrTrailingData describes a cursor with bytes remaining after a value was
// fully decoded. Nothing in this module returns it: sealed.Open and
// wire.Decode report that condition with their own ErrTrailingData values.
var ErrTrailingData = errors.New("streamcodec: trailing data after value")

// InvalidPacketTypeError reports an unrecognized packet tag byte.
type InvalidPacketTypeError struct {
	Tag byte
}

func (e *InvalidPacketTypeError) Error() string {
	return fmt.Sprintf("streamcodec: invalid packet type %#02x", e.Tag)
}

// Reader is a forward-only cursor over an in-memory byte slice; reads
// narrow the remaining slice. Bytes and RestAsUnframedByteVec return
// copies, and FixedArray copies into the caller's destination.
type Reader struct {
	buf []byte
}

// NewReader wraps b for reading. The caller must not mutate b while the
// Reader is in use.
func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.buf)
}

// AtEnd reports whether every byte has been consumed.
func (r *Reader) AtEnd() bool {
	return len(r.buf) == 0
}

func (r *Reader) take(n int) ([]byte, error) {
	if len(r.buf) < n {
		return nil, ErrUnexpectedEOF
	}
	b := r.buf[:n]
	r.buf = r.buf[n:]
	return b, nil
}

// Uint8 reads a single byte.
func (r *Reader) Uint8() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// Uint16 reads a big-endian uint16.
func (r *Reader) Uint16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

// Uint32 reads a big-endian uint32.
func (r *Reader) Uint32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// Uint64 reads a big-endian uint64.
func (r *Reader) Uint64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

// Bytes reads exactly n verbatim bytes, copying them out.
func (r *Reader) Bytes(n int) ([]byte, error) {
	b, err := r.take(n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

// FixedArray reads exactly len(dst) verbatim bytes into dst.
func (r *Reader) FixedArray(dst []byte) error {
	b, err := r.take(len(dst))
	if err != nil {
		return err
	}
	copy(dst, b)
	return nil
}

// RestAsUnframedByteVec consumes and returns every remaining byte. This is
// the codec used for payloads whose length is implied by the enclosing
// datagram rather than an explicit length prefix.
func (r *Reader) RestAsUnframedByteVec() []byte {
	out := make([]byte, len(r.buf))
	copy(out, r.buf)
	r.buf = nil
	return out
}

// Writer is an append-only sink used when encoding wire values. Writes never
// fail; any failure mode in this protocol is caught at read time.
type Writer struct {
	buf []byte
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer {
	return &Writer{}
}

// NewWriterSize returns an empty Writer with its backing buffer pre-sized.
func NewWriterSize(n int) *Writer {
	return &Writer{buf: make([]byte, 0, n)}
}

// Bytes returns the accumulated output. The returned slice aliases the
// Writer's internal buffer; callers that retain it across further writes
// should copy it first.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// PutUint8 appends a single byte.
func (w *Writer) PutUint8(v uint8) {
	w.buf = append(w.buf, v)
}

// PutUint16 appends a big-endian uint16.
func (w *Writer) PutUint16(v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// PutUint32 appends a big-endian uint32.
func (w *Writer) PutUint32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// PutUint64 appends a big-endian uint64.
func (w *Writer) PutUint64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// PutBytes appends b verbatim.
func (w *Writer) PutBytes(b []byte) {
	w.buf = append(w.buf, b...)
}
