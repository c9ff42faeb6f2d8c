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

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFingerprintPrefixSuffix(t *testing.T) {
	const fp = uint64(0xABCD1234EF567890)
	require.Equal(t, fp, GetFingerprintSuffix(fp, 64))
	require.Equal(t, uint64(0), GetFingerprintPrefix(fp, 0))
	require.Equal(t, fp, GetFingerprintPrefix(fp, 64))
	require.Equal(t, uint64(0x0), GetFingerprintSuffix(fp, 4)&^0xF)
	require.Equal(t, fp&0xF, GetFingerprintSuffix(fp, 4))
	require.Equal(t, fp>>56, GetFingerprintPrefix(fp, 8))
}

// TestMinCollisionFreeLength exercises the spec's literal S4 scenario.
func TestMinCollisionFreeLength(t *testing.T) {
	fingerprints := []uint64{0b001, 0b011, 0b111}
	numBits, usePrefix := GetMinCollisionFreeFingerprintPrefixOrSuffix(fingerprints)
	require.Equal(t, 3, numBits)
	require.False(t, usePrefix)
}

func TestMinCollisionFreeLengthFewerThanTwo(t *testing.T) {
	require.Equal(t, 0, GetMinCollisionFreeFingerprintLength(nil, false))
	require.Equal(t, 0, GetMinCollisionFreeFingerprintLength([]uint64{7}, false))
}

func TestMinCollisionFreeLengthSuffix(t *testing.T) {
	fingerprints := []uint64{0b000, 0b001, 0b010, 0b011}
	require.Equal(t, 2, GetMinCollisionFreeFingerprintLength(fingerprints, false))
}

// TestMinNumBuckets exercises the spec's literal S3 scenario.
func TestMinNumBuckets(t *testing.T) {
	require.Equal(t, 3, GetMinNumBucketsAt(10, 4, MaxLoadFactor4SlotsPerBucket))
	require.Equal(t, 3, GetMinNumBuckets(10, 4))
}

func TestMaxLoadFactorForSlotsPerBucketPanicsOnUnsupported(t *testing.T) {
	require.Panics(t, func() { MaxLoadFactorForSlotsPerBucket(3) })
}

func TestBucketInsertAndContains(t *testing.T) {
	b := NewBucket(2)
	v1 := NewValue(1, []byte{1}, 16)
	v2 := NewValue(2, []byte{2}, 16)
	v3 := NewValue(3, []byte{3}, 16)

	require.True(t, b.InsertValue(v1))
	require.True(t, b.InsertValue(v2))
	require.False(t, b.InsertValue(v3))
	require.True(t, b.ContainsValue(v1))
	require.False(t, b.ContainsValue(v3))
}

func TestCheckWhetherAllBucketsOnlyContainSameSizeFingerprints(t *testing.T) {
	fps := []Fingerprint{
		{Active: true, NumBits: 4}, {Active: true, NumBits: 4},
		{Active: true, NumBits: 5}, {Active: false},
	}
	require.True(t, CheckWhetherAllBucketsOnlyContainSameSizeFingerprints(fps, 2))

	bad := []Fingerprint{
		{Active: true, NumBits: 4}, {Active: true, NumBits: 5},
	}
	require.False(t, CheckWhetherAllBucketsOnlyContainSameSizeFingerprints(bad, 2))
}

func TestFillKicked(t *testing.T) {
	const numBuckets = 4
	var v Value
	for origValue := 1; ; origValue++ {
		v = NewValue(origValue, keyBytesForTest(origValue), numBuckets)
		if v.PrimaryBucket != v.SecondaryBucket {
			break
		}
	}
	buckets := make([]*Bucket, numBuckets)
	for i := range buckets {
		buckets[i] = NewBucket(1)
	}
	// Force the value to have landed in its secondary bucket.
	buckets[v.SecondaryBucket].Slots = append(buckets[v.SecondaryBucket].Slots, v)

	FillKicked([]Value{v}, buckets)
	require.Contains(t, buckets[v.PrimaryBucket].Kicked, v)
}

func keyBytesForTest(v int) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}
