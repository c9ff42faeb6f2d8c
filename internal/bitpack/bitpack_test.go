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

package bitpack

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/google/cuckoo-index/internal/bytecoding"
)

func TestBitWidth64(t *testing.T) {
	cases := []struct {
		val  uint64
		want int
	}{
		{0, 0},
		{1, 1},
		{2, 2},
		{3, 2},
		{255, 8},
		{256, 9},
		{^uint64(0), 64},
	}
	for _, c := range cases {
		require.Equal(t, c.want, BitWidth64(c.val), "val=%d", c.val)
	}
}

func writeAndRead(t *testing.T, values []uint64, width int) {
	t.Helper()
	buf := bytecoding.NewBuffer(16)
	Write(buf, values, width)
	buf.PutSlop()
	r := NewReader(width, buf.Bytes())
	for i, v := range values {
		require.Equal(t, v, r.Read(i), "width=%d i=%d", width, i)
	}
	var scanned []uint64
	r.Scan(len(values), func(_ int, value uint64) { scanned = append(scanned, value) })
	require.Equal(t, values, scanned)
}

func TestWriteReadRoundTrip(t *testing.T) {
	for width := 0; width <= 64; width++ {
		rng := rand.New(rand.NewSource(int64(width)))
		n := 37
		values := make([]uint64, n)
		for i := range values {
			values[i] = rng.Uint64() & mask(width)
		}
		writeAndRead(t, values, width)
	}
}

func TestWriteZeroWidth(t *testing.T) {
	buf := bytecoding.NewBuffer(0)
	Write(buf, []uint64{0, 0, 0}, 0)
	require.Equal(t, 0, buf.Pos())
}

func TestReadStraddlesWordBoundary(t *testing.T) {
	// Widths above maxSingleWordBitWidth force Read to straddle two 64-bit
	// word loads; exercise a handful of odd element indices explicitly.
	values := make([]uint64, 20)
	for i := range values {
		values[i] = uint64(i) * 0x0101010101
	}
	writeAndRead(t, values, 63)
	writeAndRead(t, values, 64)
}

// TestWriteStraddlesAccumulatorWord exercises the Write side of the same
// boundary: once width >= 58, an element's packed bits plus whatever is
// already pending in the 64-bit accumulator from a prior, non-byte-aligned
// element can overflow 64 bits, so the top bit must survive being split
// across two accumulator fills instead of being shifted out and lost.
func TestWriteStraddlesAccumulatorWord(t *testing.T) {
	for width := 58; width <= 64; width++ {
		values := make([]uint64, 12)
		for i := range values {
			// Every value has its top significant bit set, so a dropped
			// high bit is guaranteed to change the read-back value.
			values[i] = mask(width)&^(mask(width)>>1) | uint64(i)
		}
		writeAndRead(t, values, width)
	}
}

func TestMaxOf(t *testing.T) {
	require.EqualValues(t, 0, MaxOf([]uint32(nil)))
	require.EqualValues(t, 9, MaxOf([]uint32{3, 9, 1, 7}))
}

func TestBytesRequired(t *testing.T) {
	require.Equal(t, 0, BytesRequired(0))
	require.Equal(t, 1, BytesRequired(1))
	require.Equal(t, 1, BytesRequired(8))
	require.Equal(t, 2, BytesRequired(9))
}
