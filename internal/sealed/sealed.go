// Package sealed implements the {nonce, ciphertext} authenticated
// envelope shared by every encrypted packet kind. The payload type is a
// compile-time-only type parameter: at runtime an envelope is just a nonce
// and a byte slice, and the type parameter only selects which codec Open
// uses to decode the recovered plaintext.
package sealed

import (
	"errors"

	"github.com/dungeon-vr/netcore/internal/cryptocore"
	"github.com/dungeon-vr/netcore/internal/streamcodec"
)

// ErrTrailingData is returned by Open when the decoded plaintext does not
// consume every byte the AEAD produced.
var ErrTrailingData = errors.New("sealed: trailing data after payload")

// Sealed is an authenticated envelope carrying an encrypted T. The wire
// form is nonce(24) || ciphertext(rest); T is never itself serialized,
// since both ends know it from the enclosing packet's tag.
type Sealed[T any] struct {
	Nonce cryptocore.Nonce
	Data  []byte
}

// Cast reinterprets a Sealed[T] as a Sealed[U] without touching any bytes.
// Opening the result with a codec for U may still fail; Cast performs no
// validation of its own.
func Cast[U, T any](s Sealed[T]) Sealed[U] {
	return Sealed[U]{Nonce: s.Nonce, Data: s.Data}
}

// Encoder writes a plaintext value's wire form. Encoding this protocol's
// payload types never fails.
type Encoder[T any] func(v T, w *streamcodec.Writer)

// Decoder reads a plaintext value from a cursor over exactly the decrypted
// bytes.
type Decoder[T any] func(r *streamcodec.Reader) (T, error)

// Seal encodes v with enc, encrypts it under secret with a fresh random
// nonce, and returns the resulting envelope.
func Seal[T any](v T, enc Encoder[T], secret cryptocore.SharedSecret) (Sealed[T], error) {
	w := streamcodec.NewWriter()
	enc(v, w)

	nonce, ciphertext, err := cryptocore.Encrypt(secret, w.Bytes())
	if err != nil {
		return Sealed[T]{}, err
	}
	return Sealed[T]{Nonce: nonce, Data: ciphertext}, nil
}

// Open decrypts s under secret and decodes the recovered plaintext with
// dec, rejecting any trailing bytes after the decoded value.
func Open[T any](s Sealed[T], dec Decoder[T], secret cryptocore.SharedSecret) (T, error) {
	var zero T

	plaintext, err := cryptocore.Decrypt(secret, s.Nonce, s.Data)
	if err != nil {
		return zero, err
	}

	r := streamcodec.NewReader(plaintext)
	v, err := dec(r)
	if err != nil {
		return zero, err
	}
	if !r.AtEnd() {
		return zero, ErrTrailingData
	}
	return v, nil
}

// ReadFrom reads a Sealed[T] from r: a 24-byte nonce followed by every
// remaining byte in r as ciphertext. Because the ciphertext consumes the
// rest of the cursor, a Sealed[T] must be the last field read from any
// enclosing packet body.
func ReadFrom[T any](r *streamcodec.Reader) (Sealed[T], error) {
	var nonce cryptocore.Nonce
	if err := r.FixedArray(nonce[:]); err != nil {
		return Sealed[T]{}, err
	}
	return Sealed[T]{Nonce: nonce, Data: r.RestAsUnframedByteVec()}, nil
}

// WriteTo appends s's wire form (nonce followed by raw ciphertext) to w.
func (s Sealed[T]) WriteTo(w *streamcodec.Writer) {
	w.PutBytes(s.Nonce[:])
	w.PutBytes(s.Data)
}
