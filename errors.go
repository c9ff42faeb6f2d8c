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

import "github.com/cockroachdb/errors"

// ErrTooManyKicks is returned by Build when distributing values into buckets
// exceeded the configured kick budget for every bucket-count attempted, up
// to BuildOptions.MaxBucketGrowAttempts.
var ErrTooManyKicks = errors.New("cuckoo-index: exceeded max kicks while distributing values")

// ErrExhaustedFingerprintBits is returned by Build when a bucket would need
// more than 64 fingerprint bits: either its fingerprints are not
// collision-free even at the full 64 bits of the hash (an actual 64-bit hash
// collision between distinct values), or no length up to 64 bits brings the
// bucket's estimated scan rate down to BuildOptions.ScanRate.
var ErrExhaustedFingerprintBits = errors.New("cuckoo-index: exhausted 64 fingerprint bits and still have collisions")
