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
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildSmallIndex(t *testing.T) *CuckooIndex {
	t.Helper()
	column := randomColumn(rand.New(rand.NewSource(4242)), 1000, 80)
	idx, err := Build("small", column, BuildOptions{
		RowsPerStripe:  20,
		SlotsPerBucket: 2,
		ScanRate:       0.05,
	})
	require.NoError(t, err)
	return idx
}

func TestStripeContainsOutOfRangePanics(t *testing.T) {
	idx := buildSmallIndex(t)
	require.Panics(t, func() { idx.StripeContains(idx.NumStripes(), 1) })
	require.Panics(t, func() { idx.StripeContains(-1, 1) })
}

func TestGetQualifyingStripesAbsentKey(t *testing.T) {
	idx := buildSmallIndex(t)
	// A value well outside the generated column's cardinality range was
	// never placed at build time. It may still match a stored fingerprint
	// (a false positive), so the result need not be empty; this only checks
	// that the returned bitmap has no more set bits than its length.
	got := idx.GetQualifyingStripes(1 << 29)
	require.LessOrEqual(t, got.GetOnesCount(), got.Bits())
}

func TestNameAndAccessors(t *testing.T) {
	idx := buildSmallIndex(t)
	require.Equal(t, "small", idx.Name())
	require.Greater(t, idx.NumBuckets(), 0)
	require.Greater(t, idx.ActiveSlots(), 0)
	require.LessOrEqual(t, idx.ActiveSlots(), idx.NumBuckets()*2)
}

func TestMinimumBucketCount(t *testing.T) {
	// Exercises GetMinNumBucketsAt transitively through Build for the spec's
	// S3 cardinality/slots-per-bucket combination: 10 distinct values at
	// slots_per_bucket=4 start from 3 buckets, and the count only grows if
	// the kicker fails, so the index never has fewer than 3.
	column := make(Int32Column, 0, 10)
	for v := int32(1); v <= 10; v++ {
		column = append(column, v)
	}
	idx, err := Build("min-buckets", column, BuildOptions{
		RowsPerStripe:  1,
		SlotsPerBucket: 4,
		ScanRate:       0.1,
	})
	require.NoError(t, err)
	require.GreaterOrEqual(t, idx.NumBuckets(), 3)
}
