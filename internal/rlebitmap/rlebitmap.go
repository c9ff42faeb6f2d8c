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

// Package rlebitmap implements a run-length encoded bitmap with random-access
// extraction in roughly O(sqrt(n)) time via a skip list, following the
// design of the original Cuckoo Index's RleBitmap. Two encodings are
// supported and chosen automatically based on density: a "dense" encoding
// that stores runs of raw bits interleaved with runs of a single repeated
// bit, and a "sparse" encoding that stores the gaps between set bits.
package rlebitmap

import (
	"math"

	"github.com/google/cuckoo-index/internal/bitmap"
	"github.com/google/cuckoo-index/internal/bitpack"
	"github.com/google/cuckoo-index/internal/bytecoding"
)

// Each time a repeated run is added it costs, in the worst case, 8+8 bits
// for the two additional run-lengths (raw & repeated) plus 1 bit for the
// value to repeat, so only add one if more than 17 bits are saved.
const minDenseRunLength = 18

// The maximum dense run-length, chosen so 8 bits are used per entry; this is
// a good size/compression trade-off for zstd.
const maxDenseRunLength = 128

// Fudge factor applied when deciding whether to use the sparse encoding.
// Slightly prefer sparse, since it tends to compress better with zstd.
const sparseFudgeFactor = 1.1

// The maximum run-length for the sparse encoding.
const maxSparseRunLength = 255

// RleBitmap is an immutable run-length encoded bitmap supporting random
// access extraction of arbitrary ranges.
type RleBitmap struct {
	isSparse        bool
	size            int
	skipOffsetsStep int
	skipOffsetsLen  int
	runLengthsLen   int
	bitsLen         int

	data []byte

	skipOffsets bitpack.Reader
	runLengths  bitpack.Reader
	bits        bitpack.Reader
}

// Data returns the serialized encoding.
func (r *RleBitmap) Data() []byte { return r.data }

// Size returns the number of bits in the original (uncompressed) bitmap.
func (r *RleBitmap) Size() int { return r.size }

func encodeDenseRunLengths(bm *bitmap.Bitmap) (runLengths, bits []uint32) {
	i := 0
	n := bm.Bits()
	for i < n {
		countRep := uint32(1)
		countRaw := uint32(0)
		for j := i + 1; j < n; j++ {
			if countRep >= maxDenseRunLength+minDenseRunLength-1 || countRaw >= maxDenseRunLength {
				break
			}
			if bm.Get(j) != bm.Get(j-1) {
				if countRep >= minDenseRunLength {
					break
				}
				countRaw += countRep
				countRep = 1
			} else {
				countRep++
			}
		}
		if countRep < minDenseRunLength {
			countRaw += countRep
			countRep = 0
		}
		if countRaw > maxDenseRunLength {
			countRaw = maxDenseRunLength
			countRep = 0
		}
		if countRaw > 0 {
			runLengths = append(runLengths, (countRaw-1)<<1|1)
			for j := uint32(0); j < countRaw; j++ {
				bits = append(bits, boolToUint32(bm.Get(i+int(j))))
			}
		}
		if countRep > 0 {
			runLengths = append(runLengths, (countRep-minDenseRunLength)<<1|0)
			bits = append(bits, boolToUint32(bm.Get(i+int(countRaw))))
		}
		i += int(countRaw + countRep)
	}
	return runLengths, bits
}

func boolToUint32(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// encodeSparseRunLengths fills run_lengths with the offsets from one 1-bit
// to the next. An offset larger than maxSparseRunLength is split into one or
// more 0 entries (each meaning "skip maxSparseRunLength 0-bits") followed by
// the remainder.
func encodeSparseRunLengths(bm *bitmap.Bitmap) []uint32 {
	indices := bm.TrueBitIndices()
	indices = append(indices, bm.Bits())
	var runLengths []uint32
	prevIndex := -1
	for _, index := range indices {
		offset := index - prevIndex
		prevIndex = index
		for offset > maxSparseRunLength {
			runLengths = append(runLengths, 0)
			offset -= maxSparseRunLength
		}
		runLengths = append(runLengths, uint32(offset))
	}
	return runLengths
}

// computeDenseSkipOffsets returns a skip list for the dense encoding. Even
// entries give the count in the uncompressed bitmap and odd entries the
// corresponding count in the compressed bits stream.
func computeDenseSkipOffsets(runLengths []uint32, step int) []uint32 {
	var skipOffsets []uint32
	for i := 0; i < len(runLengths); i += step {
		var uncompressedCount, compressedCount uint32
		end := i + step
		if end > len(runLengths) {
			end = len(runLengths)
		}
		for j := i; j < end; j++ {
			isRaw := runLengths[j]&1 != 0
			var count uint32
			if isRaw {
				count = (runLengths[j] >> 1) + 1
			} else {
				count = (runLengths[j] >> 1) + minDenseRunLength
			}
			uncompressedCount += count
			if isRaw {
				compressedCount += count
			} else {
				compressedCount++
			}
		}
		skipOffsets = append(skipOffsets, uncompressedCount, compressedCount)
	}
	return skipOffsets
}

// computeSparseSkipOffsets returns a skip list for the sparse encoding.
// skip_offsets[i] is the sum of entries run_lengths[i*step : (i+1)*step).
func computeSparseSkipOffsets(runLengths []uint32, step int) []uint32 {
	var skipOffsets []uint32
	for i := 0; i < len(runLengths); i += step {
		var count uint32
		end := i + step
		if end > len(runLengths) {
			end = len(runLengths)
		}
		for j := i; j < end; j++ {
			if runLengths[j] == 0 {
				count += maxSparseRunLength
			} else {
				count += runLengths[j]
			}
		}
		skipOffsets = append(skipOffsets, count)
	}
	return skipOffsets
}

func maxBitWidth32(values []uint32) int {
	return bitpack.BitWidth64(uint64(bitpack.MaxOf(values)))
}

func toUint64(values []uint32) []uint64 {
	out := make([]uint64, len(values))
	for i, v := range values {
		out[i] = uint64(v)
	}
	return out
}

// New builds an RleBitmap from bm, choosing the dense or sparse encoding
// based on which is expected to be smaller (with a fudge factor favoring
// sparse, since it tends to compress better downstream).
func New(bm *bitmap.Bitmap) *RleBitmap {
	runLengths, bits := encodeDenseRunLengths(bm)

	r := &RleBitmap{size: bm.Bits()}

	var skipOffsets []uint32
	if float64(bm.GetOnesCount()) < sparseFudgeFactor*float64(len(runLengths))+float64(len(bits))/8 {
		r.isSparse = true
		runLengths = encodeSparseRunLengths(bm)
		bits = nil
		r.skipOffsetsStep = int(math.Sqrt(float64(len(runLengths))))
		if r.skipOffsetsStep == 0 {
			r.skipOffsetsStep = 1
		}
		skipOffsets = computeSparseSkipOffsets(runLengths, r.skipOffsetsStep)
	} else {
		r.isSparse = false
		r.skipOffsetsStep = int(math.Sqrt(float64(len(runLengths))))
		if r.skipOffsetsStep == 0 {
			r.skipOffsetsStep = 1
		}
		skipOffsets = computeDenseSkipOffsets(runLengths, r.skipOffsetsStep)
	}

	buf := bytecoding.NewBuffer(64)
	if r.isSparse {
		buf.PutUvarint(1)
	} else {
		buf.PutUvarint(0)
	}
	buf.PutUvarint(uint64(r.size))
	buf.PutUvarint(uint64(r.skipOffsetsStep))
	r.skipOffsetsLen = len(skipOffsets)
	buf.PutUvarint(uint64(r.skipOffsetsLen))
	r.runLengthsLen = len(runLengths)
	buf.PutUvarint(uint64(r.runLengthsLen))
	r.bitsLen = len(bits)
	buf.PutUvarint(uint64(r.bitsLen))

	skipOffsetsWidth := maxBitWidth32(skipOffsets)
	buf.PutUvarint(uint64(skipOffsetsWidth))
	skipOffsetsPos := buf.Pos()
	bitpack.Write(buf, toUint64(skipOffsets), skipOffsetsWidth)

	runLengthsWidth := maxBitWidth32(runLengths)
	buf.PutUvarint(uint64(runLengthsWidth))
	runLengthsPos := buf.Pos()
	if r.runLengthsLen > 0 {
		bitpack.Write(buf, toUint64(runLengths), runLengthsWidth)
	}

	bitsPos := buf.Pos()
	if r.bitsLen > 0 {
		bitpack.Write(buf, toUint64(bits), 1)
	}
	buf.PutSlop()

	r.data = buf.Bytes()
	r.skipOffsets = bitpack.NewReader(skipOffsetsWidth, r.data[skipOffsetsPos:])
	r.runLengths = bitpack.NewReader(runLengthsWidth, r.data[runLengthsPos:])
	r.bits = bitpack.NewReader(1, r.data[bitsPos:])

	return r
}

// Parse reconstructs an RleBitmap from bytes previously returned by its
// Data method, without needing the original Bitmap.
func Parse(data []byte) *RleBitmap {
	r := bytecoding.NewReader(data)
	isSparse := r.Uvarint() != 0
	size := int(r.Uvarint())
	skipOffsetsStep := int(r.Uvarint())
	skipOffsetsLen := int(r.Uvarint())
	runLengthsLen := int(r.Uvarint())
	bitsLen := int(r.Uvarint())

	skipOffsetsWidth := int(r.Uvarint())
	skipOffsetsPos := r.Pos()
	skipOffsets := bitpack.NewReader(skipOffsetsWidth, data[skipOffsetsPos:])

	skippedBytes := bitpack.BytesRequired(skipOffsetsWidth * skipOffsetsLen)
	r2 := bytecoding.NewReader(data[skipOffsetsPos+skippedBytes:])
	runLengthsWidth := int(r2.Uvarint())
	runLengthsPos := skipOffsetsPos + skippedBytes + r2.Pos()
	runLengths := bitpack.NewReader(runLengthsWidth, data[runLengthsPos:])

	runLengthsBytes := bitpack.BytesRequired(runLengthsWidth * runLengthsLen)
	bitsPos := runLengthsPos + runLengthsBytes
	bits := bitpack.NewReader(1, data[bitsPos:])

	return &RleBitmap{
		isSparse:        isSparse,
		size:            size,
		skipOffsetsStep: skipOffsetsStep,
		skipOffsetsLen:  skipOffsetsLen,
		runLengthsLen:   runLengthsLen,
		bitsLen:         bitsLen,
		data:            data,
		skipOffsets:     skipOffsets,
		runLengths:      runLengths,
		bits:            bits,
	}
}

// Extract returns the slice of the original bitmap [offset, offset+size).
func (r *RleBitmap) Extract(offset, size int) *bitmap.Bitmap {
	if r.isSparse {
		return r.extractSparse(offset, size)
	}
	return r.extractDense(offset, size)
}

// Get returns the value of the original bitmap's bit at pos.
func (r *RleBitmap) Get(pos int) bool {
	return r.Extract(pos, 1).Get(0)
}

func (r *RleBitmap) extractDense(offset, size int) *bitmap.Bitmap {
	result := bitmap.New(size)

	rlePos := 0
	bitsPos := 0
	for i := 0; i < r.skipOffsetsLen; i += 2 {
		uncompressed := int(r.skipOffsets.Read(i))
		if uncompressed > offset {
			break
		}
		offset -= uncompressed
		rlePos += r.skipOffsetsStep
		bitsPos += int(r.skipOffsets.Read(i + 1))
	}

	countRep := 0
	countRaw := 0
	for i := 0; i < offset+size; i++ {
		if countRep == 0 && countRaw == 0 {
			entry := uint32(r.runLengths.Read(rlePos))
			rlePos++
			if entry&1 != 0 {
				countRaw = int(entry>>1) + 1
			} else {
				countRep = int(entry>>1) + minDenseRunLength
			}
		}
		var bit bool
		if countRep > 0 {
			countRep--
			bit = r.bits.Read(bitsPos) != 0
			if countRep == 0 {
				bitsPos++
			}
		} else {
			countRaw--
			bit = r.bits.Read(bitsPos) != 0
			bitsPos++
		}
		if i >= offset && bit {
			result.Set(i-offset, true)
		}
	}
	return result
}

func (r *RleBitmap) extractSparse(offset, size int) *bitmap.Bitmap {
	result := bitmap.New(size)

	rlePos := 0
	for i := 0; i < r.skipOffsetsLen; i++ {
		count := int(r.skipOffsets.Read(i))
		if count > offset {
			break
		}
		offset -= count
		rlePos += r.skipOffsetsStep
	}

	i := -1
	for i < offset+size && rlePos < r.runLengthsLen {
		count := int(r.runLengths.Read(rlePos))
		rlePos++
		if count == 0 {
			i += maxSparseRunLength
			continue
		}
		i += count
		if i >= offset && i < offset+size {
			result.Set(i-offset, true)
		}
	}
	return result
}
