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

package fingerprint

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/google/cuckoo-index/internal/cuckoo"
)

// randomFingerprints builds a slotsPerBucket-respecting fingerprint vector
// for numBuckets buckets, with a random subset of slots active and a random
// (but per-bucket-uniform) length chosen from lengths.
func randomFingerprints(rng *rand.Rand, numBuckets, slotsPerBucket int, lengths []int) []cuckoo.Fingerprint {
	out := make([]cuckoo.Fingerprint, numBuckets*slotsPerBucket)
	for b := 0; b < numBuckets; b++ {
		numBits := lengths[rng.Intn(len(lengths))]
		numActive := rng.Intn(slotsPerBucket + 1)
		seen := map[uint64]bool{}
		for s := 0; s < slotsPerBucket; s++ {
			idx := b*slotsPerBucket + s
			if s >= numActive {
				out[idx] = cuckoo.Fingerprint{}
				continue
			}
			var v uint64
			for {
				v = rng.Uint64() & cuckoo.FingerprintSuffixMask(numBits)
				if !seen[v] {
					seen[v] = true
					break
				}
			}
			out[idx] = cuckoo.Fingerprint{Active: true, NumBits: numBits, Value: v}
		}
	}
	return out
}

func checkFidelity(t *testing.T, fingerprints []cuckoo.Fingerprint, slotsPerBucket int, useRLE bool) *Store {
	t.Helper()
	store, err := Build(fingerprints, slotsPerBucket, useRLE)
	require.NoError(t, err)
	for i, want := range fingerprints {
		got, err := store.GetFingerprint(i)
		require.NoError(t, err, "slot %d", i)
		require.Equal(t, want, got, "slot %d", i)
	}
	return store
}

func TestFingerprintStoreFidelitySlotsPerBucket1(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	fps := randomFingerprints(rng, 50, 1, []int{4, 8, 12})
	checkFidelity(t, fps, 1, false)
	checkFidelity(t, fps, 1, true)
}

func TestFingerprintStoreFidelitySlotsPerBucket4(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	fps := randomFingerprints(rng, 30, 4, []int{6, 10, 16})
	checkFidelity(t, fps, 4, false)
	checkFidelity(t, fps, 4, true)
}

func TestFingerprintStoreRejectsHeterogeneousBucket(t *testing.T) {
	fps := []cuckoo.Fingerprint{
		{Active: true, NumBits: 4, Value: 1},
		{Active: true, NumBits: 5, Value: 2},
	}
	_, err := Build(fps, 2, false)
	require.Error(t, err)
}

func TestFingerprintStoreAllEmpty(t *testing.T) {
	fps := make([]cuckoo.Fingerprint, 16)
	store := checkFidelity(t, fps, 4, false)
	require.Equal(t, 16, store.NumSlots())
}

func TestFingerprintStoreEncodeDecodeRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	fps := randomFingerprints(rng, 40, 2, []int{5, 9, 14})

	for _, useRLE := range []bool{false, true} {
		store, err := Build(fps, 2, useRLE)
		require.NoError(t, err)
		encoded := store.Encode(false)

		decoded, err := Decode(encoded, 2, useRLE)
		require.NoError(t, err)
		for i, want := range fps {
			got, err := decoded.GetFingerprint(i)
			require.NoError(t, err)
			require.Equal(t, want, got, "slot %d useRLE=%v", i, useRLE)
		}
	}
}

func TestFingerprintStoreSizeBreakdown(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	fps := randomFingerprints(rng, 20, 1, []int{4, 10})
	store, err := Build(fps, 1, false)
	require.NoError(t, err)

	sb := store.Size(nil)
	require.Greater(t, sb.SizeInBytes, 0)
	require.GreaterOrEqual(t, sb.SizeInBytes, sb.BitmapsOnlySizeInBytes)
	require.Equal(t, len(sb.BlockBits), len(sb.BlockBuckets))
}
