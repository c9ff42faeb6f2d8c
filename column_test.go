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
)

func TestInt32Column(t *testing.T) {
	c := Int32Column{5, 3, 5, 0, 3, 3}
	require.Equal(t, 6, c.NumRows())
	require.Equal(t, int32(5), c.Get(0))
	require.True(t, c.Contains(0))
	require.False(t, c.Contains(9))

	distinct := c.DistinctValues()
	seen := map[int32]bool{}
	for _, v := range distinct {
		seen[v] = true
	}
	require.Equal(t, map[int32]bool{5: true, 3: true, 0: true}, seen)
}
