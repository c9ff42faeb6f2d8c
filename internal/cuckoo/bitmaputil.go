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

import "github.com/google/cuckoo-index/internal/bitmap"

// GetRank returns the rank of idx in bm, i.e. the number of set bits before
// position idx.
func GetRank(bm *bitmap.Bitmap, idx int) int {
	return bm.GetOnesCountBeforeLimit(idx)
}

// GetEmptyBucketsBitmap folds an empty-slots bitmap (one bit per slot) down
// to one bit per bucket, set only when every slot in that bucket is empty.
func GetEmptyBucketsBitmap(emptySlotsBitmap *bitmap.Bitmap, slotsPerBucket int) *bitmap.Bitmap {
	numBuckets := emptySlotsBitmap.Bits() / slotsPerBucket
	emptyBuckets := bitmap.New(numBuckets)
	for i := 0; i < emptySlotsBitmap.Bits(); i += slotsPerBucket {
		empty := true
		for j := 0; j < slotsPerBucket; j++ {
			if !emptySlotsBitmap.Get(i + j) {
				empty = false
				break
			}
		}
		if empty {
			emptyBuckets.Set(i/slotsPerBucket, true)
		}
	}
	return emptyBuckets
}
