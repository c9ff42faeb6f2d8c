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

package bytecoding

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBufferRoundTrip(t *testing.T) {
	buf := NewBuffer(4)
	buf.PutUvarint(0)
	buf.PutUvarint(127)
	buf.PutUvarint(300)
	buf.PutString([]byte("hello"))
	buf.PutBytes([]byte{0xAA, 0xBB})
	buf.PutSlop()

	r := NewReader(buf.Bytes())
	require.EqualValues(t, 0, r.Uvarint())
	require.EqualValues(t, 127, r.Uvarint())
	require.EqualValues(t, 300, r.Uvarint())
	require.Equal(t, []byte("hello"), r.String())
	require.Equal(t, []byte{0xAA, 0xBB}, r.Bytes(2))
	require.Equal(t, make([]byte, 8), r.Remaining())
}

func TestBufferGrow(t *testing.T) {
	buf := NewBuffer(0)
	dst := buf.Grow(3)
	dst[0], dst[1], dst[2] = 1, 2, 3
	require.Equal(t, []byte{1, 2, 3}, buf.Bytes())
	require.Equal(t, 3, buf.Pos())
}
