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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/google/cuckoo-index/internal/cuckoo"
)

func TestEnsureDefaults(t *testing.T) {
	opts := BuildOptions{}.EnsureDefaults()
	require.Equal(t, 1, opts.RowsPerStripe)
	require.Equal(t, 1, opts.SlotsPerBucket)
	require.Equal(t, cuckoo.MaxLoadFactor1SlotsPerBucket, opts.MaxLoadFactor)
	require.Equal(t, 0.01, opts.ScanRate)
	require.Equal(t, cuckoo.DefaultMaxKicks, opts.MaxKicks)
	require.NotNil(t, opts.Logger)
}

func TestEnsureDefaultsPreservesExplicitValues(t *testing.T) {
	opts := BuildOptions{
		RowsPerStripe:  10,
		SlotsPerBucket: 4,
		MaxLoadFactor:  0.5,
		ScanRate:       0.2,
		MaxKicks:       100,
	}.EnsureDefaults()
	require.Equal(t, 10, opts.RowsPerStripe)
	require.Equal(t, 4, opts.SlotsPerBucket)
	require.Equal(t, 0.5, opts.MaxLoadFactor)
	require.Equal(t, 0.2, opts.ScanRate)
	require.Equal(t, 100, opts.MaxKicks)
}

func TestAlgorithmString(t *testing.T) {
	require.Equal(t, "kicking", Kicking.String())
	require.Equal(t, "skewed-kicking", SkewedKicking.String())
	require.Equal(t, "unknown", Algorithm(99).String())
}
