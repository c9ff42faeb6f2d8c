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

// Package bitpack implements a fixed-width bit-packed integer stream: a byte
// buffer storing a sequence of unsigned integers of a common width w in
// [0, 64], packed back to back in little-endian order starting at bit 0 of
// byte 0.
//
// Callers that write a packed run are responsible for appending the 8 "slop"
// bytes (bytecoding.Buffer.PutSlop) so that Reader.Read may unconditionally
// load a 64-bit word at any valid element position.
package bitpack

import (
	"encoding/binary"
	"math/bits"

	"golang.org/x/exp/constraints"

	"github.com/google/cuckoo-index/internal/bytecoding"
)

// maxSingleWordBitWidth is the largest width for which Reader.Read never
// needs to straddle into a second 64-bit word load. An element starts at most
// 7 bits into its first byte, so widths up to 57 always fit one load; width
// 58 fits too because, being even, its elements start at most 6 bits in.
const maxSingleWordBitWidth = 58

// BitWidth64 returns the number of bits needed to represent val, treating 0
// as requiring 0 bits.
func BitWidth64(val uint64) int {
	if val == 0 {
		return 0
	}
	return 64 - bits.LeadingZeros64(val)
}

// MaxOf returns the largest element of values, or the zero value of T if
// values is empty. Used to find the bit width a packed stream must
// accommodate before writing it.
func MaxOf[T constraints.Unsigned](values []T) T {
	var max T
	for _, v := range values {
		if v > max {
			max = v
		}
	}
	return max
}

// MaxBitWidth returns the bit width required to represent the largest value
// in values, or 0 if values is empty or every element is 0.
func MaxBitWidth(values []uint64) int {
	return BitWidth64(MaxOf(values))
}

// BytesRequired returns the number of bytes required to hold numBits worth of
// packed data.
func BytesRequired(numBits int) int {
	return (numBits + 7) >> 3
}

func mask(width int) uint64 {
	if width >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << uint(width)) - 1
}

// Write appends values, each truncated to width bits, to buf in packed
// little-endian order. It does not append slop bytes; call buf.PutSlop()
// once after the final packed run written to buf.
func Write(buf *bytecoding.Buffer, values []uint64, width int) {
	if width == 0 {
		return
	}
	numBytes := BytesRequired(width * len(values))
	dst := buf.Grow(numBytes)
	var word uint64
	var bitsInWord uint
	pos := 0
	for _, v := range values {
		v &= mask(width)
		remaining := uint(width)
		for remaining > 0 {
			// A value whose width plus the bits already pending in word
			// would overflow 64 bits (possible once width >= 58, since
			// bitsInWord may be up to 7 after the last flush) must be split
			// across two accumulator fills; writing it in one shift would
			// silently lose its high bits.
			space := 64 - bitsInWord
			chunk := remaining
			if chunk > space {
				chunk = space
			}
			word |= (v & (chunkMask(chunk))) << bitsInWord
			v >>= chunk
			bitsInWord += chunk
			remaining -= chunk
			for bitsInWord >= 8 {
				dst[pos] = byte(word)
				word >>= 8
				bitsInWord -= 8
				pos++
			}
		}
	}
	if bitsInWord > 0 {
		dst[pos] = byte(word)
	}
}

// chunkMask returns a mask with the lowest n bits set, for n in [0, 64].
func chunkMask(n uint) uint64 {
	if n >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << n) - 1
}

// Reader provides random access to a sequence previously written by Write.
// Values are always decoded as uint64 and the caller narrows as appropriate.
type Reader struct {
	width int
	data  []byte
}

// NewReader returns a Reader over data (which must have the 8 slop bytes
// required by Read available past the last encoded element) using the given
// bit width.
func NewReader(width int, data []byte) Reader {
	return Reader{width: width, data: data}
}

// Read returns the i-th packed element.
func (r Reader) Read(i int) uint64 {
	if r.width == 0 {
		return 0
	}
	bitOffset := i * r.width
	byteOffset := bitOffset >> 3
	start := uint(bitOffset & 0x7)
	val := binary.LittleEndian.Uint64(r.data[byteOffset:]) >> start

	if r.width > maxSingleWordBitWidth {
		nextWordBits := int(start) + r.width - 64
		if nextWordBits > 0 {
			val |= binary.LittleEndian.Uint64(r.data[byteOffset+8:]) << uint(r.width-nextWordBits)
		}
	}
	return val & mask(r.width)
}

// Scan visits elements [0, n) in order, calling sink(i, value) for each. The
// default implementation simply calls Read repeatedly; it is provided as a
// named entry point so callers have a single place to later plug in a
// vectorized unroll without changing call sites.
func (r Reader) Scan(n int, sink func(i int, value uint64)) {
	for i := 0; i < n; i++ {
		sink(i, r.Read(i))
	}
}
