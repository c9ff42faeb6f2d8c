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
	"github.com/cockroachdb/errors"

	"github.com/google/cuckoo-index/internal/bitmap"
	"github.com/google/cuckoo-index/internal/cuckoo"
	"github.com/google/cuckoo-index/internal/fingerprint"
	"github.com/google/cuckoo-index/internal/rlebitmap"
)

// CuckooIndex is an immutable secondary index over a Column, built by Build.
// It answers, for a key, which stripes of the column may contain it: an
// exact answer for keys that were present at build time, and a bounded
// false-positive rate for absent keys.
type CuckooIndex struct {
	name           string
	numBuckets     int
	slotsPerBucket int
	numStripes     int

	fingerprintStore    *fingerprint.Store
	usePrefixBitsBitmap *bitmap.Bitmap // nil when prefix bits optimization is disabled
	globalSlotBitmap    *rlebitmap.RleBitmap

	// encoded is the full serialized representation assembled by Build (see
	// encodeIndex), kept around so tests can assert on the literal bytes
	// rather than on a size proxy (§5, §8.3's determinism property).
	encoded []byte

	byteSize           int
	compressedByteSize int
}

// Name returns the index's name, as passed to Build.
func (idx *CuckooIndex) Name() string { return idx.name }

// NumStripes returns the number of stripes the index was built over.
func (idx *CuckooIndex) NumStripes() int { return idx.numStripes }

// NumBuckets returns the number of cuckoo buckets the index was built with.
func (idx *CuckooIndex) NumBuckets() int { return idx.numBuckets }

// ByteSize returns the size in bytes of the index's serialized
// representation.
func (idx *CuckooIndex) ByteSize() int { return idx.byteSize }

// CompressedByteSize returns the zstd-compressed size in bytes of the
// index's serialized representation.
func (idx *CuckooIndex) CompressedByteSize() int { return idx.compressedByteSize }

// ActiveSlots returns the number of occupied slots in the cuckoo table, a
// diagnostic used for computing bits-per-distinct-value.
func (idx *CuckooIndex) ActiveSlots() int {
	active := 0
	for i := 0; i < idx.fingerprintStore.NumSlots(); i++ {
		fp, err := idx.fingerprintStore.GetFingerprint(i)
		if err != nil {
			panic(errors.AssertionFailedf("cuckoo-index: %v", err))
		}
		if fp.Active {
			active++
		}
	}
	return active
}

// bucketContains reports whether bucket holds a slot whose fingerprint
// matches fingerprint, and if so which slot.
func (idx *CuckooIndex) bucketContains(bucket int, fingerprint uint64) (slot int, ok bool) {
	usePrefixBits := false
	if idx.usePrefixBitsBitmap != nil {
		usePrefixBits = idx.usePrefixBitsBitmap.Get(bucket)
	}
	first := bucket * idx.slotsPerBucket
	for s := first; s < first+idx.slotsPerBucket; s++ {
		fp, err := idx.fingerprintStore.GetFingerprint(s)
		if err != nil {
			panic(errors.AssertionFailedf("cuckoo-index: %v", err))
		}
		if !fp.Active {
			continue
		}
		var want uint64
		if usePrefixBits {
			want = cuckoo.GetFingerprintPrefix(fingerprint, fp.NumBits)
		} else {
			want = cuckoo.GetFingerprintSuffix(fingerprint, fp.NumBits)
		}
		if fp.Value == want {
			return s, true
		}
	}
	return 0, false
}

func (idx *CuckooIndex) lookupSlot(key int32) (slot int, ok bool) {
	v := cuckoo.NewValue(int(key), keyBytes(key), idx.numBuckets)
	if slot, ok = idx.bucketContains(v.PrimaryBucket, v.Fingerprint); ok {
		return slot, true
	}
	return idx.bucketContains(v.SecondaryBucket, v.Fingerprint)
}

// actualSlot maps a raw cuckoo table slot index to its offset in
// globalSlotBitmap, which omits the bitmaps of empty slots.
func (idx *CuckooIndex) actualSlot(slot int) int {
	numEmptyBefore := idx.fingerprintStore.EmptySlotsBitmap().GetOnesCountBeforeLimit(slot)
	return slot - numEmptyBefore
}

// StripeContains reports whether stripe stripeID may contain key. For keys
// that were present at build time the answer is exact; for absent keys it
// may be a false positive at the configured scan rate, never a false
// negative.
func (idx *CuckooIndex) StripeContains(stripeID int, key int32) bool {
	if stripeID < 0 || stripeID >= idx.numStripes {
		panic(errors.AssertionFailedf("cuckoo-index: stripe id %d out of range [0, %d)", stripeID, idx.numStripes))
	}
	slot, ok := idx.lookupSlot(key)
	if !ok {
		return false
	}
	actual := idx.actualSlot(slot)
	return idx.globalSlotBitmap.Get(idx.numStripes*actual + stripeID)
}

// GetQualifyingStripes returns the bitmap of stripes that may contain key,
// of length NumStripes. For absent keys, the all-zeroes bitmap is returned.
func (idx *CuckooIndex) GetQualifyingStripes(key int32) *bitmap.Bitmap {
	slot, ok := idx.lookupSlot(key)
	if !ok {
		return bitmap.New(idx.numStripes)
	}
	actual := idx.actualSlot(slot)
	return idx.globalSlotBitmap.Extract(idx.numStripes*actual, idx.numStripes)
}
