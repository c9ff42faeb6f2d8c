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

// Package fingerprint implements the fingerprint store: a block-structured,
// bit-packed container mapping cuckoo table slots to variable-length
// fingerprints. Slots are grouped into blocks by fingerprint length, with
// each block storing its fingerprints at a single bit width. A chain of
// "compacted" block bitmaps records which bucket lives in which block, each
// bitmap covering only the buckets left unclaimed by its predecessors; this
// keeps the per-block bitmaps small when most buckets share one dominant
// fingerprint length.
package fingerprint

import (
	"sort"

	"github.com/cockroachdb/errors"

	"github.com/google/cuckoo-index/internal/bitmap"
	"github.com/google/cuckoo-index/internal/bitpack"
	"github.com/google/cuckoo-index/internal/bytecoding"
	"github.com/google/cuckoo-index/internal/cuckoo"
	"github.com/google/cuckoo-index/internal/rlebitmap"
)

// emptyBucketsBlockMarker identifies the virtual block that groups entirely
// empty buckets. It is never serialized; it is reconstructed from the
// empty-slots bitmap at both build and decode time, purely to simplify the
// lookup logic (it lets every real block's bitmap be compacted uniformly).
const emptyBucketsBlockMarker = 999

// block stores fingerprints of a fixed bit length, bit-packed back to back.
type block struct {
	numBits         int
	numFingerprints int
	data            []byte
	reader          bitpack.Reader
}

func newBlock(numBits int, fingerprints []uint64) (*block, error) {
	bitWidth := bitpack.MaxBitWidth(fingerprints)
	if bitWidth > numBits {
		return nil, errors.Newf("fingerprint: block bit width %d exceeds declared length %d", bitWidth, numBits)
	}
	buf := bytecoding.NewBuffer(16)
	buf.PutUvarint(uint64(numBits))
	buf.PutUvarint(uint64(bitWidth))
	fpPos := buf.Pos()
	bitpack.Write(buf, fingerprints, bitWidth)
	buf.PutSlop()
	data := buf.Bytes()
	return &block{
		numBits:         numBits,
		numFingerprints: len(fingerprints),
		data:            data,
		reader:          bitpack.NewReader(bitWidth, data[fpPos:]),
	}, nil
}

func (b *block) Get(idx int) uint64 { return b.reader.Read(idx) }

// Store maps cuckoo table slots to their fingerprints.
type Store struct {
	numSlots           int
	slotsPerBucket     int
	useRLEBlockBitmaps bool

	numStoredFingerprints int

	emptySlotsBitmap *bitmap.Bitmap
	// blockLengths, blockBitmaps and blocks are parallel slices, one entry
	// per block including the virtual empty-buckets block at index 0
	// (blocks[0] is nil; blockLengths[0] == emptyBucketsBlockMarker).
	blockLengths []int
	blockBitmaps []*bitmap.Bitmap
	blocks       []*block
}

type blockContent struct {
	bitmap       *bitmap.Bitmap
	fingerprints []uint64
}

// Build constructs a Store from fingerprints, which must have one entry per
// cuckoo table slot (inactive entries denote empty slots). If
// slotsPerBucket > 1, all active fingerprints within a bucket must share the
// same NumBits.
func Build(fingerprints []cuckoo.Fingerprint, slotsPerBucket int, useRLEBlockBitmaps bool) (*Store, error) {
	if len(fingerprints)%slotsPerBucket != 0 {
		return nil, errors.Newf("fingerprint: %d fingerprints not a multiple of %d slots per bucket", len(fingerprints), slotsPerBucket)
	}
	if slotsPerBucket > 1 && !cuckoo.CheckWhetherAllBucketsOnlyContainSameSizeFingerprints(fingerprints, slotsPerBucket) {
		return nil, errors.New("fingerprint: all fingerprints in a bucket must share the same length")
	}

	emptySlotsBitmap := bitmap.New(len(fingerprints))
	for i, fp := range fingerprints {
		if !fp.Active {
			emptySlotsBitmap.Set(i, true)
		}
	}
	emptySlotsBitmap.InitRankLookupTable()

	blocks := map[int]*blockContent{}
	blocks[emptyBucketsBlockMarker] = &blockContent{
		bitmap: cuckoo.GetEmptyBucketsBitmap(emptySlotsBitmap, slotsPerBucket),
	}

	for i, fp := range fingerprints {
		if !fp.Active {
			continue
		}
		bc, ok := blocks[fp.NumBits]
		if !ok {
			bc = &blockContent{bitmap: bitmap.New(len(fingerprints) / slotsPerBucket)}
			blocks[fp.NumBits] = bc
		}
		bc.bitmap.Set(i/slotsPerBucket, true)
		bc.fingerprints = append(bc.fingerprints, cuckoo.GetFingerprintSuffix(fp.Value, fp.NumBits))
	}

	lengths := make([]int, 0, len(blocks))
	for length := range blocks {
		lengths = append(lengths, length)
	}
	sort.Slice(lengths, func(i, j int) bool {
		li, lj := lengths[i], lengths[j]
		if li == emptyBucketsBlockMarker {
			return true
		}
		if lj == emptyBucketsBlockMarker {
			return false
		}
		ci, cj := blocks[li].bitmap.GetOnesCount(), blocks[lj].bitmap.GetOnesCount()
		if ci != cj {
			return ci > cj
		}
		// Break ties on the length itself so that the block order - and
		// hence the serialized byte stream - is a deterministic function of
		// the input fingerprints, not of Go's randomized map iteration order
		// (lengths was built by ranging over the blocks map above).
		return li < lj
	})

	s := &Store{
		numSlots:              len(fingerprints),
		slotsPerBucket:        slotsPerBucket,
		useRLEBlockBitmaps:    useRLEBlockBitmaps,
		numStoredFingerprints: emptySlotsBitmap.GetZeroesCount(),
		emptySlotsBitmap:      emptySlotsBitmap,
		blockLengths:          lengths,
	}

	for _, length := range lengths {
		if length == emptyBucketsBlockMarker {
			s.blocks = append(s.blocks, nil)
			continue
		}
		b, err := newBlock(length, blocks[length].fingerprints)
		if err != nil {
			return nil, err
		}
		s.blocks = append(s.blocks, b)
	}

	s.createAndCompactBlockBitmaps(lengths, blocks)

	return s, nil
}

// mapBucketIndexToBitInBlockBitmap maps bucketIdx to its corresponding bit
// in the block bitmap at blockBitmapIdx, by successively subtracting the
// rank of each prior (already compacted) bitmap.
func (s *Store) mapBucketIndexToBitInBlockBitmap(bucketIdx, blockBitmapIdx int) int {
	currIdx := bucketIdx
	for i := 0; i < blockBitmapIdx; i++ {
		rank := cuckoo.GetRank(s.blockBitmaps[i], currIdx)
		currIdx -= rank
	}
	return currIdx
}

func (s *Store) createAndCompactBlockBitmaps(lengths []int, blocks map[int]*blockContent) {
	if len(lengths) == 0 {
		return
	}
	first := blocks[lengths[0]].bitmap
	first.InitRankLookupTable()
	s.blockBitmaps = append(s.blockBitmaps, first)

	for i := 1; i < len(lengths); i++ {
		curr := blocks[lengths[i]].bitmap
		numBitsCompacted := s.blockBitmaps[len(s.blockBitmaps)-1].GetZeroesCount()
		compacted := bitmap.New(numBitsCompacted)
		for _, bucketIdx := range curr.TrueBitIndices() {
			idx := s.mapBucketIndexToBitInBlockBitmap(bucketIdx, len(s.blockBitmaps))
			compacted.Set(idx, true)
		}
		compacted.InitRankLookupTable()
		s.blockBitmaps = append(s.blockBitmaps, compacted)
	}
}

// GetBucketIndex returns the bucket index that bit bitIdx of block bitmap
// blockIdx corresponds to, by walking back through the compaction chain.
func (s *Store) GetBucketIndex(blockIdx, bitIdx int) (int, error) {
	pos := bitIdx
	for i := blockIdx - 1; i >= 0; i-- {
		zeroPos := s.blockBitmaps[i].SelectZero(pos)
		if zeroPos < 0 {
			return 0, errors.Newf("fingerprint: insufficient zeros in block bitmap %d", i)
		}
		pos = zeroPos
	}
	return pos, nil
}

// GetNumItemsInBucket returns the number of non-empty slots in bucket
// bucketIdx.
func (s *Store) GetNumItemsInBucket(bucketIdx int) int {
	count := 0
	firstSlotIdx := bucketIdx * s.slotsPerBucket
	for i := firstSlotIdx; i < firstSlotIdx+s.slotsPerBucket; i++ {
		if !s.emptySlotsBitmap.Get(i) {
			count++
		}
	}
	return count
}

// GetIndexOfFingerprintInBlock returns the offset of the fingerprint for
// slotIdx within block blockIdx's bit-packed storage.
func (s *Store) GetIndexOfFingerprintInBlock(blockIdx, idxInCompactedBitmap, slotIdx int) (int, error) {
	blockBitmap := s.blockBitmaps[blockIdx]

	if s.slotsPerBucket == 1 {
		return cuckoo.GetRank(blockBitmap, idxInCompactedBitmap), nil
	}

	count := 0
	for _, bitIdx := range blockBitmap.TrueBitIndices() {
		if bitIdx >= idxInCompactedBitmap {
			break
		}
		bucketIdx, err := s.GetBucketIndex(blockIdx, bitIdx)
		if err != nil {
			return 0, err
		}
		count += s.GetNumItemsInBucket(bucketIdx)
	}

	bucketIdx := slotIdx / s.slotsPerBucket
	firstSlotInBucket := bucketIdx * s.slotsPerBucket
	numEmptySlots := 0
	for i := firstSlotInBucket; i < slotIdx; i++ {
		if s.emptySlotsBitmap.Get(i) {
			numEmptySlots++
		}
	}

	return count - numEmptySlots + (slotIdx % s.slotsPerBucket), nil
}

// GetFingerprint returns the fingerprint stored for slotIdx.
func (s *Store) GetFingerprint(slotIdx int) (cuckoo.Fingerprint, error) {
	if s.emptySlotsBitmap.Get(slotIdx) {
		return cuckoo.Fingerprint{Active: false}, nil
	}

	bucketIdx := slotIdx / s.slotsPerBucket
	idxInCompactedBitmap := bucketIdx

	for blockIdx := 0; blockIdx < len(s.blocks); blockIdx++ {
		blockBitmap := s.blockBitmaps[blockIdx]

		if blockIdx > 0 {
			idxInCompactedBitmap -= cuckoo.GetRank(s.blockBitmaps[blockIdx-1], idxInCompactedBitmap)
		}

		if s.blockLengths[blockIdx] == emptyBucketsBlockMarker {
			continue
		}

		if blockBitmap.Get(idxInCompactedBitmap) {
			idxInBlock, err := s.GetIndexOfFingerprintInBlock(blockIdx, idxInCompactedBitmap, slotIdx)
			if err != nil {
				return cuckoo.Fingerprint{}, err
			}
			b := s.blocks[blockIdx]
			return cuckoo.Fingerprint{Active: true, NumBits: b.numBits, Value: b.Get(idxInBlock)}, nil
		}
	}

	return cuckoo.Fingerprint{}, errors.Newf("fingerprint: couldn't find block for slot %d", slotIdx)
}

// NumSlots returns the number of cuckoo table slots covered by the store.
func (s *Store) NumSlots() int { return s.numSlots }

// EmptySlotsBitmap returns the bitmap marking empty slots.
func (s *Store) EmptySlotsBitmap() *bitmap.Bitmap { return s.emptySlotsBitmap }

// NumBlocks returns the number of blocks, including the virtual
// empty-buckets block.
func (s *Store) NumBlocks() int { return len(s.blocks) }

func (s *Store) encodeBitmap(buf *bytecoding.Buffer, bm *bitmap.Bitmap) {
	if s.useRLEBlockBitmaps {
		buf.PutString(rlebitmap.New(bm).Data())
	} else {
		buf.PutString(bitmap.DenseEncode(bm))
	}
}

// Encode serializes the store. If bitmapsOnly is true, only the block
// bitmaps are encoded (used for size accounting, not for round-tripping).
func (s *Store) Encode(bitmapsOnly bool) []byte {
	buf := bytecoding.NewBuffer(256)

	buf.PutUvarint(uint64(len(s.blocks)))

	buf.PutUvarint(uint64(s.emptySlotsBitmap.Bits()))
	s.encodeBitmap(buf, s.emptySlotsBitmap)

	var withoutEmptyBlock []*bitmap.Bitmap
	for i, length := range s.blockLengths {
		if length == emptyBucketsBlockMarker {
			continue
		}
		withoutEmptyBlock = append(withoutEmptyBlock, s.blockBitmaps[i])
	}
	for _, bm := range withoutEmptyBlock {
		buf.PutUvarint(uint64(bm.Bits()))
	}
	global := bitmap.GetGlobalBitmap(withoutEmptyBlock)
	s.encodeBitmap(buf, global)

	if !bitmapsOnly {
		for i, length := range s.blockLengths {
			if length == emptyBucketsBlockMarker {
				continue
			}
			buf.PutBytes(s.blocks[i].data)
		}
	}

	return buf.Bytes()
}

// SizeBreakdown reports per-block size statistics, supplementing the byte
// size accounting the build pipeline needs with the richer stats the
// reference implementation printed at build time.
type SizeBreakdown struct {
	NumBlocks                     int
	BlockBits                     []int
	BlockBuckets                  []int
	SizeInBytes                   int
	BitsPerFingerprint            float64
	BitmapsOnlySizeInBytes        int
	BitmapsOnlyBitsPerFingerprint float64
}

// Size returns SizeBreakdown for the store. All sizes are uncompressed; the
// compress argument is not used and may be nil.
func (s *Store) Size(compress func([]byte) []byte) SizeBreakdown {
	var sb SizeBreakdown
	for i := range s.blocks {
		if s.blockLengths[i] == emptyBucketsBlockMarker {
			continue
		}
		sb.BlockBits = append(sb.BlockBits, s.blockLengths[i])
		sb.BlockBuckets = append(sb.BlockBuckets, s.blockBitmaps[i].GetOnesCount())
	}
	sb.NumBlocks = len(s.blocks)
	full := s.Encode(false)
	bitmapsOnly := s.Encode(true)
	sb.SizeInBytes = len(full)
	sb.BitmapsOnlySizeInBytes = len(bitmapsOnly)
	if s.numStoredFingerprints > 0 {
		sb.BitsPerFingerprint = float64(sb.SizeInBytes*8) / float64(s.numStoredFingerprints)
		sb.BitmapsOnlyBitsPerFingerprint = float64(sb.BitmapsOnlySizeInBytes*8) / float64(s.numStoredFingerprints)
	}
	return sb
}

func (s *Store) decodeBitmap(encoded []byte, numBits int) (*bitmap.Bitmap, error) {
	if s.useRLEBlockBitmaps {
		return rlebitmap.Parse(encoded).Extract(0, numBits), nil
	}
	return bitmap.DenseDecode(encoded)
}

// Decode reconstructs a Store from bytes written by Encode(false).
func Decode(data []byte, slotsPerBucket int, useRLEBlockBitmaps bool) (*Store, error) {
	s := &Store{slotsPerBucket: slotsPerBucket, useRLEBlockBitmaps: useRLEBlockBitmaps}

	r := bytecoding.NewReader(data)
	numBlocks := int(r.Uvarint())

	emptyBits := int(r.Uvarint())
	emptyEncoded := r.String()
	emptySlotsBitmap, err := s.decodeBitmap(emptyEncoded, emptyBits)
	if err != nil {
		return nil, errors.Wrap(err, "fingerprint: decoding empty-slots bitmap")
	}
	emptySlotsBitmap.InitRankLookupTable()
	s.numSlots = emptyBits
	s.emptySlotsBitmap = emptySlotsBitmap
	s.numStoredFingerprints = emptySlotsBitmap.GetZeroesCount()

	numRealBlocks := numBlocks - 1
	blockBitmapBits := make([]int, numRealBlocks)
	for i := range blockBitmapBits {
		blockBitmapBits[i] = int(r.Uvarint())
	}
	globalBits := 0
	for _, b := range blockBitmapBits {
		globalBits += b
	}
	globalEncoded := r.String()
	global, err := s.decodeBitmap(globalEncoded, globalBits)
	if err != nil {
		return nil, errors.Wrap(err, "fingerprint: decoding block bitmaps")
	}

	s.blockBitmaps = append(s.blockBitmaps, cuckoo.GetEmptyBucketsBitmap(emptySlotsBitmap, slotsPerBucket))
	s.blockBitmaps[0].InitRankLookupTable()
	s.blockLengths = append(s.blockLengths, emptyBucketsBlockMarker)
	s.blocks = append(s.blocks, nil)

	base := 0
	realBitmaps := make([]*bitmap.Bitmap, numRealBlocks)
	for i, numBits := range blockBitmapBits {
		bm := bitmap.New(numBits)
		for j := 0; j < numBits; j++ {
			if global.Get(base + j) {
				bm.Set(j, true)
			}
		}
		base += numBits
		bm.InitRankLookupTable()
		realBitmaps[i] = bm
		s.blockBitmaps = append(s.blockBitmaps, bm)
	}

	for i := 0; i < numRealBlocks; i++ {
		blockIdx := i + 1
		numFingerprints := 0
		for _, bitIdx := range realBitmaps[i].TrueBitIndices() {
			bucketIdx, err := s.GetBucketIndex(blockIdx, bitIdx)
			if err != nil {
				return nil, err
			}
			numFingerprints += s.GetNumItemsInBucket(bucketIdx)
		}

		numBits := int(r.Uvarint())
		bitWidth := int(r.Uvarint())
		fpPos := r.Pos()
		numPackedBytes := bitpack.BytesRequired(bitWidth * numFingerprints)
		reader := bitpack.NewReader(bitWidth, data[fpPos:])
		// Advance past this block's packed bytes and its trailing slop.
		r.Bytes(numPackedBytes + 8)

		s.blockLengths = append(s.blockLengths, numBits)
		s.blocks = append(s.blocks, &block{numBits: numBits, numFingerprints: numFingerprints, reader: reader})
	}

	return s, nil
}
