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

// Package cuckoo implements the two-choice cuckoo hashing primitives shared
// by the index builder: hashing a key into a primary/secondary bucket pair
// and a fingerprint, choosing a collision-free fingerprint length per
// bucket, and the bucket-filling bookkeeping used while distributing values
// (with kicking, see kicker.go).
package cuckoo

import (
	"math"

	"github.com/cespare/xxhash/v2"
)

// The seeds for the primary & secondary buckets and the fingerprint. Kept
// from the reference implementation's CityHash64WithSeed constants; mixed
// into the xxhash input rather than used as a true hash seed, since xxhash
// has no seed parameter of its own.
const (
	seedPrimaryBucket   uint64 = 17
	seedSecondaryBucket uint64 = 23
	seedFingerprint     uint64 = 42
)

// Maximum load factors (occupied vs. all slots), obtained from the Cuckoo
// filter paper (https://www.cs.cmu.edu/~dga/papers/cuckoo-conext2014.pdf).
// Empirically, plain (non-partial-key) cuckoo hashing with the kicking
// strategy implemented here cannot reliably exceed these.
const (
	MaxLoadFactor1SlotsPerBucket = 0.49
	MaxLoadFactor2SlotsPerBucket = 0.84
	MaxLoadFactor4SlotsPerBucket = 0.95
	MaxLoadFactor8SlotsPerBucket = 0.98
)

// MaxLoadFactorForSlotsPerBucket returns the default max load factor for the
// given slots-per-bucket configuration. Panics for unsupported values, since
// this indicates a programming error rather than a recoverable condition.
func MaxLoadFactorForSlotsPerBucket(slotsPerBucket int) float64 {
	switch slotsPerBucket {
	case 1:
		return MaxLoadFactor1SlotsPerBucket
	case 2:
		return MaxLoadFactor2SlotsPerBucket
	case 4:
		return MaxLoadFactor4SlotsPerBucket
	case 8:
		return MaxLoadFactor8SlotsPerBucket
	}
	panic("cuckoo: no default max load factor for this slots-per-bucket")
}

// GetMinNumBucketsAt returns the minimum number of buckets required to
// accommodate numValues values with slotsPerBucket slots per bucket under
// maxLoadFactor.
func GetMinNumBucketsAt(numValues, slotsPerBucket int, maxLoadFactor float64) int {
	return int(math.Ceil((float64(numValues) / maxLoadFactor) / float64(slotsPerBucket)))
}

// GetMinNumBuckets uses the empirically obtained default max load factors.
func GetMinNumBuckets(numValues, slotsPerBucket int) int {
	return GetMinNumBucketsAt(numValues, slotsPerBucket, MaxLoadFactorForSlotsPerBucket(slotsPerBucket))
}

// Fingerprint is a variable-length fingerprint for a single cuckoo table
// slot.
type Fingerprint struct {
	// Active indicates whether the corresponding slot is filled.
	Active bool
	// NumBits is the number of significant bits, counting from the least
	// significant bit.
	NumBits int
	// Value holds the fingerprint in its low NumBits bits; higher bits are
	// zero.
	Value uint64
}

// FingerprintSuffixMask returns a mask with the lowest numBits bits set.
func FingerprintSuffixMask(numBits int) uint64 {
	if numBits >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << uint(numBits)) - 1
}

// GetFingerprintSuffix returns the numBits lowest bits of fingerprint.
func GetFingerprintSuffix(fingerprint uint64, numBits int) uint64 {
	return fingerprint & FingerprintSuffixMask(numBits)
}

// GetFingerprintPrefix returns the numBits highest bits of fingerprint,
// right-aligned.
func GetFingerprintPrefix(fingerprint uint64, numBits int) uint64 {
	if numBits == 0 {
		return 0
	}
	if numBits >= 64 {
		return fingerprint
	}
	return fingerprint >> uint(64-numBits)
}

// GetMinCollisionFreeFingerprintLength returns the minimum number of bits
// needed for fingerprints (taking either prefix or suffix bits, depending on
// usePrefixBits) to be pairwise distinct. Fewer than two fingerprints are
// trivially collision-free with 0 bits.
func GetMinCollisionFreeFingerprintLength(fingerprints []uint64, usePrefixBits bool) int {
	if len(fingerprints) < 2 {
		return 0
	}
	for numBits := 1; numBits <= 64; numBits++ {
		seen := make(map[uint64]struct{}, len(fingerprints))
		success := true
		for _, fp := range fingerprints {
			var bitsVal uint64
			if usePrefixBits {
				bitsVal = GetFingerprintPrefix(fp, numBits)
			} else {
				bitsVal = GetFingerprintSuffix(fp, numBits)
			}
			if _, ok := seen[bitsVal]; ok {
				success = false
				break
			}
			seen[bitsVal] = struct{}{}
		}
		if success {
			return numBits
		}
	}
	// Exhausted all 64 bits and still have collisions. Only possible with
	// duplicate hash inputs (i.e. actual hash collisions), which callers
	// should treat as a build-time error.
	return 65
}

// GetMinCollisionFreeFingerprintPrefixOrSuffix tries both prefix and suffix
// bits and returns the minimum number of bits needed, preferring suffix bits
// on ties. usePrefixBits reports which was chosen.
func GetMinCollisionFreeFingerprintPrefixOrSuffix(fingerprints []uint64) (numBits int, usePrefixBits bool) {
	numSuffixBits := GetMinCollisionFreeFingerprintLength(fingerprints, false)
	if numSuffixBits <= 1 {
		return numSuffixBits, false
	}
	numPrefixBits := GetMinCollisionFreeFingerprintLength(fingerprints, true)
	if numSuffixBits <= numPrefixBits {
		return numSuffixBits, false
	}
	return numPrefixBits, true
}

// CheckWhetherAllBucketsOnlyContainSameSizeFingerprints reports whether every
// bucket's active fingerprints all share the same NumBits.
func CheckWhetherAllBucketsOnlyContainSameSizeFingerprints(fingerprints []Fingerprint, slotsPerBucket int) bool {
	for i := 0; i < len(fingerprints); i += slotsPerBucket {
		foundActive := false
		numBits := 0
		for j := 0; j < slotsPerBucket; j++ {
			fp := fingerprints[i+j]
			if !fp.Active {
				continue
			}
			if !foundActive {
				numBits = fp.NumBits
				foundActive = true
				continue
			}
			if fp.NumBits != numBits {
				return false
			}
		}
	}
	return true
}

func hashWithSeed(seed uint64, key []byte) uint64 {
	d := xxhash.New()
	var seedBytes [8]byte
	for i := 0; i < 8; i++ {
		seedBytes[i] = byte(seed >> (8 * uint(i)))
	}
	_, _ = d.Write(seedBytes[:])
	_, _ = d.Write(key)
	return d.Sum64()
}

// Value represents a value placed into the cuckoo table: its original
// identity (an opaque caller-chosen identifier; Build uses the key itself),
// its two candidate buckets, and its 64-bit fingerprint.
type Value struct {
	OrigValue       int
	PrimaryBucket   int
	SecondaryBucket int
	Fingerprint     uint64
}

// NewValue hashes key (the canonical byte representation of the value
// identified by origValue) into a Value with buckets in [0, numBuckets).
func NewValue(origValue int, key []byte, numBuckets int) Value {
	return Value{
		OrigValue:       origValue,
		PrimaryBucket:   int(hashWithSeed(seedPrimaryBucket, key) % uint64(numBuckets)),
		SecondaryBucket: int(hashWithSeed(seedSecondaryBucket, key) % uint64(numBuckets)),
		Fingerprint:     hashWithSeed(seedFingerprint, key),
	}
}

// Bucket is scratch state used while assigning Values to buckets: the
// values actually assigned (up to NumSlots), and the values that were kicked
// out of this bucket even though it was their primary choice.
type Bucket struct {
	Slots  []Value
	Kicked []Value

	numSlots int
}

// NewBucket returns an empty Bucket with the given slot capacity.
func NewBucket(numSlots int) *Bucket {
	return &Bucket{numSlots: numSlots}
}

// NumSlots returns the bucket's slot capacity.
func (b *Bucket) NumSlots() int { return b.numSlots }

// InsertValue appends value to the bucket's slots if it isn't full and
// reports whether the insert succeeded.
func (b *Bucket) InsertValue(value Value) bool {
	if len(b.Slots) < b.numSlots {
		b.Slots = append(b.Slots, value)
		return true
	}
	return false
}

func containsValue(values []Value, value Value) bool {
	for _, v := range values {
		if v.OrigValue == value.OrigValue {
			return true
		}
	}
	return false
}

// ContainsValue reports whether value has already been assigned to this
// bucket.
func (b *Bucket) ContainsValue(value Value) bool {
	return containsValue(b.Slots, value)
}

// LookupValueInBuckets searches for value in its primary and secondary
// bucket. inPrimary reports which bucket it was found in; found reports
// whether it was found at all.
func LookupValueInBuckets(buckets []*Bucket, value Value) (found, inPrimary bool) {
	if buckets[value.PrimaryBucket].ContainsValue(value) {
		return true, true
	}
	if buckets[value.SecondaryBucket].ContainsValue(value) {
		return true, false
	}
	return false, false
}

// FillKicked scans values and, for each one that ended up in its secondary
// bucket, records it in its primary bucket's Kicked list (unless already
// present).
func FillKicked(values []Value, buckets []*Bucket) {
	for _, value := range values {
		_, inPrimary := LookupValueInBuckets(buckets, value)
		primary := buckets[value.PrimaryBucket]
		if !inPrimary && !containsValue(primary.Kicked, value) {
			primary.Kicked = append(primary.Kicked, value)
		}
	}
}
