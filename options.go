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

import "github.com/google/cuckoo-index/internal/cuckoo"

// Algorithm selects the strategy the kicker uses to distribute values into
// buckets. The reference implementation's third option, a weighted-matching
// based assignment, is left unimplemented (see DESIGN.md).
type Algorithm int

const (
	// Kicking distributes values with unweighted cuckoo kicking.
	Kicking Algorithm = iota
	// SkewedKicking biases kicking towards evicting items that reside in
	// their secondary bucket, shrinking the resulting index at the cost of a
	// slower, less reliable build.
	SkewedKicking
)

// String implements fmt.Stringer.
func (a Algorithm) String() string {
	switch a {
	case Kicking:
		return "kicking"
	case SkewedKicking:
		return "skewed-kicking"
	default:
		return "unknown"
	}
}

// Logger receives build-time diagnostics (each bucket-count attempt and the
// kicker's max kicks observed). Size breakdowns are not logged. It is never
// required for correctness.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

type noopLogger struct{}

func (noopLogger) Infof(string, ...interface{})  {}
func (noopLogger) Errorf(string, ...interface{}) {}

// BuildOptions configures Build. Zero-valued fields are filled in by
// EnsureDefaults.
type BuildOptions struct {
	// RowsPerStripe is the number of rows grouped into one stripe.
	RowsPerStripe int
	// MaxLoadFactor bounds the fraction of slots the builder tries to fill.
	// Defaults to the fixed constant for SlotsPerBucket (§4.4) when zero.
	MaxLoadFactor float64
	// ScanRate (ρ) is the target upper bound on the false-positive rate for
	// absent keys.
	ScanRate float64
	// SlotsPerBucket must be one of 1, 2, 4, 8.
	SlotsPerBucket int
	// Algorithm selects the kicking strategy.
	Algorithm Algorithm
	// PrefixBitsOptimization allows a bucket's fingerprints to use prefix
	// bits instead of suffix bits of the 64-bit hash, when that yields a
	// shorter collision-free length.
	PrefixBitsOptimization bool
	// UseRLEBlockBitmaps selects RLE over dense encoding for the fingerprint
	// store's block bitmaps.
	UseRLEBlockBitmaps bool
	// MaxKicks bounds the number of kicks attempted per value before the
	// kicker gives up on the current bucket count.
	MaxKicks int
	// MaxBucketGrowAttempts bounds how many times the bucket count may be
	// grown (§4.7 step 3) before Build gives up and returns an error.
	MaxBucketGrowAttempts int
	// Logger receives build diagnostics. Defaults to a no-op.
	Logger Logger
}

// EnsureDefaults returns a copy of o with zero-valued fields filled in.
func (o BuildOptions) EnsureDefaults() BuildOptions {
	if o.RowsPerStripe == 0 {
		o.RowsPerStripe = 1
	}
	if o.SlotsPerBucket == 0 {
		o.SlotsPerBucket = 1
	}
	if o.MaxLoadFactor == 0 {
		o.MaxLoadFactor = cuckoo.MaxLoadFactorForSlotsPerBucket(o.SlotsPerBucket)
	}
	if o.ScanRate == 0 {
		o.ScanRate = 0.01
	}
	if o.MaxKicks == 0 {
		o.MaxKicks = cuckoo.DefaultMaxKicks
	}
	if o.MaxBucketGrowAttempts == 0 {
		o.MaxBucketGrowAttempts = 1000
	}
	if o.Logger == nil {
		o.Logger = noopLogger{}
	}
	return o
}
