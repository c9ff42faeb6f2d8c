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

package cuckooindex

import (
	"encoding/binary"
	"math"
	"sort"

	"github.com/cockroachdb/errors"

	"github.com/google/cuckoo-index/internal/bitmap"
	"github.com/google/cuckoo-index/internal/bytecoding"
	"github.com/google/cuckoo-index/internal/cuckoo"
	"github.com/google/cuckoo-index/internal/fingerprint"
	"github.com/google/cuckoo-index/internal/rlebitmap"
)

// kNumBucketsGrowFactor is the factor the bucket count is grown by each time
// the kicker fails to place every value.
const kNumBucketsGrowFactor = 1.01

func keyBytes(v int32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(v))
	return b[:]
}

// valueToStripeBitmaps scans column and returns, for every distinct value
// appearing in a complete stripe, the bitmap of stripes it occurs in, along
// with the number of complete stripes. Rows beyond the last complete stripe
// are ignored.
func valueToStripeBitmaps(column Column, rowsPerStripe int) (map[int32]*bitmap.Bitmap, int) {
	numStripes := column.NumRows() / rowsPerStripe
	numRows := numStripes * rowsPerStripe
	bitmaps := make(map[int32]*bitmap.Bitmap)
	for row := 0; row < numRows; row++ {
		value := column.Get(row)
		bm, ok := bitmaps[value]
		if !ok {
			bm = bitmap.New(numStripes)
			bitmaps[value] = bm
		}
		bm.Set(row/rowsPerStripe, true)
	}
	return bitmaps, numStripes
}

// distribute attempts to place distinctValues into numBuckets buckets and
// returns nil if the kicker failed to place every value. The values are
// processed in ascending order so that, for a fixed hash family, the build
// is deterministic regardless of Go's randomized map iteration order (the
// reference implementation relies on an order that is merely
// implementation-defined for the same reason).
func distribute(numBuckets int, opts BuildOptions, distinctValues []int32) []*cuckoo.Bucket {
	values := make([]cuckoo.Value, len(distinctValues))
	for i, v := range distinctValues {
		values[i] = cuckoo.NewValue(int(v), keyBytes(v), numBuckets)
	}

	buckets := make([]*cuckoo.Bucket, numBuckets)
	for i := range buckets {
		buckets[i] = cuckoo.NewBucket(opts.SlotsPerBucket)
	}

	skewKicking := opts.Algorithm == SkewedKicking
	kicker := cuckoo.NewKicker(opts.SlotsPerBucket, buckets, skewKicking, opts.MaxKicks)
	if !kicker.InsertValues(values) {
		return nil
	}
	opts.Logger.Infof("cuckoo-index: placed %d values into %d buckets (slots_per_bucket=%d, skew=%v); max kicks observed %d",
		len(values), numBuckets, opts.SlotsPerBucket, skewKicking, kicker.MaxKicksObserved)

	cuckoo.FillKicked(values, buckets)
	return buckets
}

// createSlots computes, for every bucket, the minimum fingerprint length
// that is both collision-free among the bucket's possibly-colliding values
// and meets the target scan rate, then materializes the per-slot fingerprint
// and stripe-bitmap vectors.
func createSlots(opts BuildOptions, buckets []*cuckoo.Bucket, valueToBitmap map[int32]*bitmap.Bitmap) ([]cuckoo.Fingerprint, *bitmap.Bitmap, []*bitmap.Bitmap, error) {
	numBuckets := len(buckets)
	numSlots := numBuckets * opts.SlotsPerBucket

	numEmptyBuckets := 0
	for _, b := range buckets {
		if len(b.Slots) == 0 {
			numEmptyBuckets++
		}
	}
	bucketDensity := 1.0 - float64(numEmptyBuckets)/float64(numBuckets)

	slotFingerprints := make([]cuckoo.Fingerprint, numSlots)
	var usePrefixBitsBitmap *bitmap.Bitmap
	if opts.PrefixBitsOptimization {
		usePrefixBitsBitmap = bitmap.New(numBuckets)
	}
	slotBitmaps := make([]*bitmap.Bitmap, numSlots)

	for bucketID, bucket := range buckets {
		var possiblyColliding []uint64
		for _, v := range bucket.Slots {
			possiblyColliding = append(possiblyColliding, v.Fingerprint)
		}
		for _, v := range bucket.Kicked {
			possiblyColliding = append(possiblyColliding, v.Fingerprint)
		}

		var usePrefixBits bool
		var numBits int
		if opts.PrefixBitsOptimization {
			numBits, usePrefixBits = cuckoo.GetMinCollisionFreeFingerprintPrefixOrSuffix(possiblyColliding)
			usePrefixBitsBitmap.Set(bucketID, usePrefixBits)
		} else {
			numBits = cuckoo.GetMinCollisionFreeFingerprintLength(possiblyColliding, false)
		}

		for {
			if numBits > 64 {
				return nil, nil, nil, errors.Wrapf(ErrExhaustedFingerprintBits, "bucket %d", bucketID)
			}
			var actualScanRate float64
			if len(bucket.Slots) > 0 {
				fpProb := 1.0 / math.Pow(2, float64(numBits))
				var sumScanRate float64
				for _, v := range bucket.Slots {
					bm := valueToBitmap[int32(v.OrigValue)]
					sumScanRate += (fpProb * float64(bm.GetOnesCount())) / float64(bm.Bits())
				}
				actualScanRate = (sumScanRate / float64(len(bucket.Slots))) * bucketDensity * 2
			}
			if actualScanRate <= opts.ScanRate {
				break
			}
			numBits++
		}

		for i := 0; i < opts.SlotsPerBucket; i++ {
			slot := bucketID*opts.SlotsPerBucket + i
			if i >= len(bucket.Slots) {
				slotFingerprints[slot] = cuckoo.Fingerprint{}
				continue
			}
			v := bucket.Slots[i]
			var fpValue uint64
			if opts.PrefixBitsOptimization && usePrefixBits {
				fpValue = cuckoo.GetFingerprintPrefix(v.Fingerprint, numBits)
			} else {
				fpValue = cuckoo.GetFingerprintSuffix(v.Fingerprint, numBits)
			}
			slotFingerprints[slot] = cuckoo.Fingerprint{Active: true, NumBits: numBits, Value: fpValue}
			slotBitmaps[slot] = valueToBitmap[int32(v.OrigValue)]
		}
	}

	return slotFingerprints, usePrefixBitsBitmap, slotBitmaps, nil
}

func encodeIndex(fpStore *fingerprint.Store, opts BuildOptions, usePrefixBitsBitmap *bitmap.Bitmap, global *rlebitmap.RleBitmap) []byte {
	buf := bytecoding.NewBuffer(256)
	buf.PutString(fpStore.Encode(false))
	if opts.PrefixBitsOptimization {
		buf.PutBytes([]byte{1})
		buf.PutString(rlebitmap.New(usePrefixBitsBitmap).Data())
	} else {
		buf.PutBytes([]byte{0})
	}
	buf.PutString(global.Data())
	return buf.Bytes()
}

// Build constructs a CuckooIndex over column.
func Build(name string, column Column, opts BuildOptions) (*CuckooIndex, error) {
	opts = opts.EnsureDefaults()

	valueToBitmap, numStripes := valueToStripeBitmaps(column, opts.RowsPerStripe)

	distinctValues := make([]int32, 0, len(valueToBitmap))
	for v := range valueToBitmap {
		distinctValues = append(distinctValues, v)
	}
	// Map iteration order is randomized in Go; sort so that, for fixed
	// inputs and options, the build (including the kicker's sequence of
	// insertions) is reproducible (§5's determinism property).
	sort.Slice(distinctValues, func(i, j int) bool { return distinctValues[i] < distinctValues[j] })

	numBuckets := cuckoo.GetMinNumBucketsAt(len(distinctValues), opts.SlotsPerBucket, opts.MaxLoadFactor)
	if numBuckets < 1 {
		numBuckets = 1
	}

	var buckets []*cuckoo.Bucket
	for attempt := 0; ; attempt++ {
		opts.Logger.Infof("cuckoo-index: attempting to distribute %d values into %d buckets with %d slots each (load factor %.4f)",
			len(distinctValues), numBuckets, opts.SlotsPerBucket,
			float64(len(distinctValues))/float64(opts.SlotsPerBucket*numBuckets))
		buckets = distribute(numBuckets, opts, distinctValues)
		if buckets != nil {
			break
		}
		if attempt >= opts.MaxBucketGrowAttempts {
			return nil, errors.Wrapf(ErrTooManyKicks, "gave up growing buckets past %d after %d attempts", numBuckets, attempt+1)
		}
		numBuckets = maxInt(int(math.Ceil(float64(numBuckets)*kNumBucketsGrowFactor)), numBuckets+1)
	}

	slotFingerprints, usePrefixBitsBitmap, slotBitmaps, err := createSlots(opts, buckets, valueToBitmap)
	if err != nil {
		return nil, err
	}

	fpStore, err := fingerprint.Build(slotFingerprints, opts.SlotsPerBucket, opts.UseRLEBlockBitmaps)
	if err != nil {
		return nil, errors.Wrap(err, "cuckoo-index: building fingerprint store")
	}

	globalBitmap := bitmap.GetGlobalBitmap(slotBitmaps)
	global := rlebitmap.New(globalBitmap)

	data := encodeIndex(fpStore, opts, usePrefixBitsBitmap, global)

	return &CuckooIndex{
		name:                name,
		numBuckets:          numBuckets,
		slotsPerBucket:      opts.SlotsPerBucket,
		numStripes:          numStripes,
		fingerprintStore:    fpStore,
		usePrefixBitsBitmap: usePrefixBitsBitmap,
		globalSlotBitmap:    global,
		encoded:             data,
		byteSize:            len(data),
		compressedByteSize:  len(Compress(data)),
	}, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
