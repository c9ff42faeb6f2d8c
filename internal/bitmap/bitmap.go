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

// Package bitmap implements a dynamically sized bitmap with rank support,
// following the design of the original Cuckoo Index's Bitmap64: bits are
// stored in 64-bit words, and a lookup table of precomputed cumulative
// popcounts over fixed-size "rank blocks" accelerates GetOnesCountBeforeLimit
// at the cost of roughly 6% extra space. See
// https://github.com/efficient/SuRF for the rank scheme this is adapted
// from.
package bitmap

import (
	"encoding/binary"
	"math/bits"

	"github.com/cockroachdb/errors"
)

// rankBlockSize is the number of bits covered by a single rank lookup table
// entry.
const rankBlockSize = 512

const wordBits = 64

// Bitmap is a fixed-length, mutable sequence of bits with optional rank
// support.
type Bitmap struct {
	numBits   int
	words     []uint64
	rankTable []uint32
}

// New returns a Bitmap with numBits bits, all initially zero.
func New(numBits int) *Bitmap {
	return &Bitmap{
		numBits: numBits,
		words:   make([]uint64, (numBits+wordBits-1)/wordBits),
	}
}

// NewFilled returns a Bitmap with numBits bits, all initially set to fill.
func NewFilled(numBits int, fill bool) *Bitmap {
	b := New(numBits)
	if fill {
		for i := range b.words {
			b.words[i] = ^uint64(0)
		}
		if rem := numBits % wordBits; rem != 0 && len(b.words) > 0 {
			b.words[len(b.words)-1] &= (uint64(1) << uint(rem)) - 1
		}
	}
	return b
}

// Bits returns the number of bits in the bitmap.
func (b *Bitmap) Bits() int { return b.numBits }

// Get returns the value of the bit at pos.
func (b *Bitmap) Get(pos int) bool {
	return b.words[pos/wordBits]&(uint64(1)<<uint(pos%wordBits)) != 0
}

// Set sets the bit at pos to value.
func (b *Bitmap) Set(pos int, value bool) {
	w := pos / wordBits
	mask := uint64(1) << uint(pos%wordBits)
	if value {
		b.words[w] |= mask
	} else {
		b.words[w] &^= mask
	}
}

// InitRankLookupTable precomputes cumulative popcounts over rankBlockSize-bit
// blocks. Without a table, GetOnesCountBeforeLimit scans the words directly;
// once a table is built, it must be rebuilt after any Set, since
// GetOnesCountBeforeLimit trusts it. A no-op for bitmaps of at most
// rankBlockSize bits.
func (b *Bitmap) InitRankLookupTable() {
	if b.numBits <= rankBlockSize {
		b.rankTable = nil
		return
	}
	numRankBlocks := b.numBits/rankBlockSize + 1
	b.rankTable = make([]uint32, numRankBlocks)
	var cumulative uint32
	for i := 0; i < numRankBlocks-1; i++ {
		b.rankTable[i] = cumulative
		cumulative += uint32(b.onesCountInRankBlock(i, rankBlockSize))
	}
	b.rankTable[numRankBlocks-1] = cumulative
}

func (b *Bitmap) onesCountInRankBlock(rankBlockID, limitWithinBlock int) int {
	start := rankBlockID * rankBlockSize
	end := start + limitWithinBlock
	return b.onesCountInRange(start, end)
}

func (b *Bitmap) onesCountInRange(start, end int) int {
	if start == end {
		return 0
	}
	startWord := start / wordBits
	endWord := (end - 1) / wordBits
	count := 0
	for w := startWord; w <= endWord; w++ {
		word := b.words[w]
		wordStart := w * wordBits
		if wordStart < start {
			word &^= (uint64(1) << uint(start-wordStart)) - 1
		}
		wordEnd := wordStart + wordBits
		if wordEnd > end {
			rem := uint(end - wordStart)
			if rem < wordBits {
				word &= (uint64(1) << rem) - 1
			}
		}
		count += bits.OnesCount64(word)
	}
	return count
}

// GetOnesCountBeforeLimit returns the number of set bits in [0, limit), i.e.
// the rank of limit.
func (b *Bitmap) GetOnesCountBeforeLimit(limit int) int {
	if limit <= 0 {
		return 0
	}
	if b.rankTable == nil {
		return b.onesCountInRange(0, limit)
	}
	lastPos := limit - 1
	rankBlockID := lastPos / rankBlockSize
	limitWithinBlock := (lastPos & (rankBlockSize - 1)) + 1
	return int(b.rankTable[rankBlockID]) + b.onesCountInRankBlock(rankBlockID, limitWithinBlock)
}

// GetOnesCount returns the total number of set bits.
func (b *Bitmap) GetOnesCount() int { return b.GetOnesCountBeforeLimit(b.numBits) }

// GetZeroesCount returns the total number of unset bits.
func (b *Bitmap) GetZeroesCount() int { return b.numBits - b.GetOnesCount() }

// IsAllZeroes reports whether every bit is unset.
func (b *Bitmap) IsAllZeroes() bool {
	for _, w := range b.words {
		if w != 0 {
			return false
		}
	}
	return true
}

// TrueBitIndices returns the positions of all set bits, in ascending order.
func (b *Bitmap) TrueBitIndices() []int {
	var indices []int
	for w, word := range b.words {
		base := w * wordBits
		for word != 0 {
			bit := bits.TrailingZeros64(word)
			indices = append(indices, base+bit)
			word &= word - 1
		}
	}
	return indices
}

// SelectOne returns the position of the (rank+1)-th set bit (0-indexed rank),
// or -1 if there is no such bit.
func (b *Bitmap) SelectOne(rank int) int {
	seen := 0
	for w, word := range b.words {
		base := w * wordBits
		c := bits.OnesCount64(word)
		if seen+c > rank {
			for word != 0 {
				bit := bits.TrailingZeros64(word)
				if seen == rank {
					return base + bit
				}
				seen++
				word &= word - 1
			}
		}
		seen += c
	}
	return -1
}

// SelectZero returns the position of the (rank+1)-th unset bit, or -1 if
// there is no such bit.
func (b *Bitmap) SelectZero(rank int) int {
	seen := 0
	for i := 0; i < b.numBits; i++ {
		if !b.Get(i) {
			if seen == rank {
				return i
			}
			seen++
		}
	}
	return -1
}

// GetGlobalBitmap concatenates bitmaps (skipping nils) into a single Bitmap,
// preserving order.
func GetGlobalBitmap(bitmaps []*Bitmap) *Bitmap {
	numBits := 0
	for _, bm := range bitmaps {
		if bm != nil {
			numBits += bm.Bits()
		}
	}
	global := New(numBits)
	base := 0
	for _, bm := range bitmaps {
		if bm == nil {
			continue
		}
		for _, idx := range bm.TrueBitIndices() {
			global.Set(base+idx, true)
		}
		base += bm.Bits()
	}
	return global
}

// DenseEncode serializes bitmap in the format: uint32 num_bits, packed
// 64-bit words (little-endian), uint32 num_rank_entries, rank table entries
// (uint32 each). This mirrors the original Bitmap64::DenseEncode layout,
// with boost::dynamic_bitset's block storage replaced by a plain []uint64.
func DenseEncode(bitmap *Bitmap) []byte {
	numWords := len(bitmap.words)
	size := 4 + numWords*8 + 4 + len(bitmap.rankTable)*4
	out := make([]byte, size)
	binary.LittleEndian.PutUint32(out[0:], uint32(bitmap.numBits))
	pos := 4
	for _, w := range bitmap.words {
		binary.LittleEndian.PutUint64(out[pos:], w)
		pos += 8
	}
	binary.LittleEndian.PutUint32(out[pos:], uint32(len(bitmap.rankTable)))
	pos += 4
	for _, r := range bitmap.rankTable {
		binary.LittleEndian.PutUint32(out[pos:], r)
		pos += 4
	}
	return out
}

// DenseDecode parses the format written by DenseEncode.
func DenseDecode(encoded []byte) (*Bitmap, error) {
	if len(encoded) < 4 {
		return nil, errors.New("bitmap: truncated dense encoding")
	}
	numBits := int(binary.LittleEndian.Uint32(encoded[0:]))
	pos := 4
	numWords := (numBits + wordBits - 1) / wordBits
	if pos+numWords*8+4 > len(encoded) {
		return nil, errors.New("bitmap: truncated dense encoding")
	}
	b := &Bitmap{numBits: numBits, words: make([]uint64, numWords)}
	for i := 0; i < numWords; i++ {
		b.words[i] = binary.LittleEndian.Uint64(encoded[pos:])
		pos += 8
	}
	numRankEntries := int(binary.LittleEndian.Uint32(encoded[pos:]))
	pos += 4
	if pos+numRankEntries*4 > len(encoded) {
		return nil, errors.New("bitmap: truncated dense encoding rank table")
	}
	if numRankEntries > 0 {
		b.rankTable = make([]uint32, numRankEntries)
		for i := 0; i < numRankEntries; i++ {
			b.rankTable[i] = binary.LittleEndian.Uint32(encoded[pos:])
			pos += 4
		}
	}
	return b, nil
}
