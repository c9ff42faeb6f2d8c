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

package cuckoo

import "math/rand"

// Kick skew factors used to bias kicking towards items that reside in their
// secondary bucket when SkewKicking is enabled. Obtained empirically by the
// reference implementation using a random 1M-item test set.
const (
	KickSkewFactor1SlotsPerBucket = 1.1
	KickSkewFactor2SlotsPerBucket = 16.0
	KickSkewFactor4SlotsPerBucket = 128.0
	KickSkewFactor8SlotsPerBucket = 1024.0
)

// KickSkewFactorForSlotsPerBucket returns the default kick skew factor for
// the given slots-per-bucket configuration. Panics for unsupported values.
func KickSkewFactorForSlotsPerBucket(slotsPerBucket int) float64 {
	switch slotsPerBucket {
	case 1:
		return KickSkewFactor1SlotsPerBucket
	case 2:
		return KickSkewFactor2SlotsPerBucket
	case 4:
		return KickSkewFactor4SlotsPerBucket
	case 8:
		return KickSkewFactor8SlotsPerBucket
	}
	panic("cuckoo: no default kick skew factor for this slots-per-bucket")
}

// DefaultMaxKicks bounds the number of kicks attempted before an insertion
// is considered to have failed.
const DefaultMaxKicks = 50000

// Kicker distributes Values into a fixed set of Buckets using cuckoo kicking:
// when both of a value's candidate buckets are full, a random occupant is
// evicted (kicked) to its own alternative bucket, possibly cascading.
type Kicker struct {
	rng *rand.Rand

	slotsPerBucket int
	buckets        []*Bucket

	skewKicking    bool
	kickSkewFactor float64
	maxKicks       int

	MaxKicksObserved  int
	SuccessfulInserts int
}

// NewKicker returns a Kicker over buckets. skewKicking trades build time and
// a higher chance of build failure for a smaller resulting index (since
// fewer items settling in their secondary buckets means fewer kicked values
// enlarging their primary bucket's set of possibly-colliding fingerprints)
// and a higher chance that lookups find a match in their primary bucket.
func NewKicker(slotsPerBucket int, buckets []*Bucket, skewKicking bool, maxKicks int) *Kicker {
	k := &Kicker{
		// Fixed seed: build output must be deterministic given the same
		// input and options.
		rng:            rand.New(rand.NewSource(42)),
		slotsPerBucket: slotsPerBucket,
		buckets:        buckets,
		skewKicking:    skewKicking,
		maxKicks:       maxKicks,
	}
	if skewKicking {
		k.kickSkewFactor = KickSkewFactorForSlotsPerBucket(slotsPerBucket)
	}
	return k
}

// InsertValues attempts to distribute all of values into the Kicker's
// buckets and reports whether every value was successfully placed.
func (k *Kicker) InsertValues(values []Value) bool {
	for _, value := range values {
		if !k.insertValueWithKicking(value) {
			return false
		}
		k.SuccessfulInserts++
	}
	return true
}

func (k *Kicker) randomBool(trueProbability float64) bool {
	return k.rng.Float64() < trueProbability
}

func (k *Kicker) randomVictimIndex(size int) int {
	return k.rng.Intn(size)
}

// getNumSecondaryItems returns the number of items in bucket bucketIdx for
// which this bucket is their secondary bucket.
func (k *Kicker) getNumSecondaryItems(bucketIdx int) int {
	count := 0
	for _, value := range k.buckets[bucketIdx].Slots {
		if value.SecondaryBucket == bucketIdx {
			count++
		}
	}
	return count
}

// findVictim locates the victimIdx-th item (0-indexed) among the items in
// primaryBucketIdx and secondaryBucketIdx for which bucketIdx (primary or
// secondary, per kickSecondary) equals the bucket it's being searched in.
func (k *Kicker) findVictim(victimIdx, primaryBucketIdx, secondaryBucketIdx int, kickSecondary bool) (victimBucketIdx, idxWithinVictimBucket int) {
	currVictimIdx := 0
	searchBucket := func(bucketIdx int) bool {
		bucket := k.buckets[bucketIdx]
		for i, currVal := range bucket.Slots {
			bucketIdxToCompare := currVal.PrimaryBucket
			if kickSecondary {
				bucketIdxToCompare = currVal.SecondaryBucket
			}
			if bucketIdxToCompare == bucketIdx {
				if currVictimIdx == victimIdx {
					victimBucketIdx = bucketIdx
					idxWithinVictimBucket = i
					return true
				}
				currVictimIdx++
			}
		}
		return false
	}
	if searchBucket(primaryBucketIdx) {
		return
	}
	if searchBucket(secondaryBucketIdx) {
		return
	}
	panic("cuckoo: couldn't find victim")
}

func swapWithValue(bucket *Bucket, victimIdx int, value Value) Value {
	victim := bucket.Slots[victimIdx]
	bucket.Slots[victimIdx] = value
	return victim
}

// swapWithRandomValue swaps value with a random occupant of its primary or
// secondary bucket. May only be called when both buckets are full.
func (k *Kicker) swapWithRandomValue(value Value) (victim Value, victimBucketIdx int) {
	if !k.skewKicking {
		victimBucketIdx = value.PrimaryBucket
		if k.randomBool(0.5) {
			victimBucketIdx = value.SecondaryBucket
		}
		return swapWithValue(k.buckets[victimBucketIdx], k.randomVictimIndex(k.slotsPerBucket), value), victimBucketIdx
	}

	numSlotsBothBuckets := 2 * k.slotsPerBucket
	numInSecondary := k.getNumSecondaryItems(value.PrimaryBucket) + k.getNumSecondaryItems(value.SecondaryBucket)

	if numInSecondary == 0 || numInSecondary == numSlotsBothBuckets {
		victimBucketIdx = value.PrimaryBucket
		if k.randomBool(0.5) {
			victimBucketIdx = value.SecondaryBucket
		}
		return swapWithValue(k.buckets[victimBucketIdx], k.randomVictimIndex(k.slotsPerBucket), value), victimBucketIdx
	}
	numInPrimary := numSlotsBothBuckets - numInSecondary

	secondaryWeightFactor := (float64(numInSecondary) / float64(numInPrimary)) * k.kickSkewFactor
	weightedProbability := secondaryWeightFactor / (secondaryWeightFactor + 1)

	kickSecondary := k.randomBool(weightedProbability)

	numPotentialVictims := numInPrimary
	if kickSecondary {
		numPotentialVictims = numInSecondary
	}
	victimIdx := k.randomVictimIndex(numPotentialVictims)

	victimBucketIdx, idxWithinVictimBucket := k.findVictim(victimIdx, value.PrimaryBucket, value.SecondaryBucket, kickSecondary)
	return swapWithValue(k.buckets[victimBucketIdx], idxWithinVictimBucket, value), victimBucketIdx
}

// insertValueWithKick performs a single kick, swapping value into a random
// slot of one of its buckets and trying to place the evicted victim into its
// alternative bucket. Returns the (possibly new) in-flight value and whether
// it was successfully placed.
func (k *Kicker) insertValueWithKick(value Value) (next Value, inserted bool) {
	victim, victimBucketIdx := k.swapWithRandomValue(value)

	alternativeBucketIdx := victim.SecondaryBucket
	if victimBucketIdx == victim.SecondaryBucket {
		alternativeBucketIdx = victim.PrimaryBucket
	}
	alternativeBucket := k.buckets[alternativeBucketIdx]
	if alternativeBucket.InsertValue(victim) {
		return Value{}, true
	}
	return victim, false
}

func (k *Kicker) insertValueWithKicking(value Value) bool {
	primaryBucket := k.buckets[value.PrimaryBucket]
	secondaryBucket := k.buckets[value.SecondaryBucket]

	if primaryBucket.InsertValue(value) {
		return true
	}
	if secondaryBucket.InsertValue(value) {
		return true
	}

	inFlight := value
	for numKicks := 0; numKicks < k.maxKicks; numKicks++ {
		next, inserted := k.insertValueWithKick(inFlight)
		if inserted {
			if numKicks+1 > k.MaxKicksObserved {
				k.MaxKicksObserved = numKicks + 1
			}
			return true
		}
		inFlight = next
	}
	return false
}
