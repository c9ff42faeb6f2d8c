// Copyright 2024 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package bytecoding provides a small growable byte buffer with varint and
// length-prefixed string helpers, used by the bit-packing, bitmap and
// fingerprint-store encodings.
package bytecoding

import "encoding/binary"

// Buffer is a growable append-only byte buffer, similar in spirit to
// bytes.Buffer. Pos reports the current length, so callers can record where
// a packed run starts; Grow hands back a slice of freshly appended zeroed
// bytes for callers to fill in place.
type Buffer struct {
	data []byte
}

// NewBuffer returns an empty Buffer with the given initial capacity.
func NewBuffer(capacity int) *Buffer {
	return &Buffer{data: make([]byte, 0, capacity)}
}

// Bytes returns the buffer's contents. The returned slice aliases the
// buffer's storage and is invalidated by further writes.
func (b *Buffer) Bytes() []byte { return b.data }

// Pos returns the current length of the buffer.
func (b *Buffer) Pos() int { return len(b.data) }

// Grow ensures the buffer has room for n more bytes without reallocating on
// every subsequent append, and returns the slice of n zeroed bytes appended
// at the end.
func (b *Buffer) Grow(n int) []byte {
	start := len(b.data)
	b.data = append(b.data, make([]byte, n)...)
	return b.data[start : start+n]
}

// PutBytes appends raw bytes verbatim.
func (b *Buffer) PutBytes(p []byte) {
	b.data = append(b.data, p...)
}

// PutUvarint appends v as a binary.Uvarint.
func (b *Buffer) PutUvarint(v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	b.data = append(b.data, tmp[:n]...)
}

// PutString appends the varint-encoded length of s followed by its bytes.
func (b *Buffer) PutString(s []byte) {
	b.PutUvarint(uint64(len(s)))
	b.PutBytes(s)
}

// PutSlop appends the 8 zero "slop" bytes required after a bit-packed run so
// that a reader may unconditionally load a 64-bit word at any valid element
// position. See internal/bitpack.
func (b *Buffer) PutSlop() {
	var zero [8]byte
	b.data = append(b.data, zero[:]...)
}

// Reader reads back values written with Buffer in the same order.
type Reader struct {
	data []byte
	pos  int
}

// NewReader returns a Reader over data, starting at position 0.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Pos returns the reader's current byte offset.
func (r *Reader) Pos() int { return r.pos }

// Uvarint reads a binary.Uvarint and advances the position.
func (r *Reader) Uvarint() uint64 {
	v, n := binary.Uvarint(r.data[r.pos:])
	if n <= 0 {
		panic("bytecoding: invalid varint")
	}
	r.pos += n
	return v
}

// String reads a length-prefixed string written by PutString.
func (r *Reader) String() []byte {
	n := int(r.Uvarint())
	s := r.data[r.pos : r.pos+n]
	r.pos += n
	return s
}

// Bytes reads n raw bytes and advances the position.
func (r *Reader) Bytes(n int) []byte {
	s := r.data[r.pos : r.pos+n]
	r.pos += n
	return s
}

// Remaining returns the yet-unread tail of the underlying data.
func (r *Reader) Remaining() []byte {
	return r.data[r.pos:]
}
