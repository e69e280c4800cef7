// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
package vectorio

import (
	"testing"

	"github.com/kraklabs/embeddingbridge/internal/ebrerrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBinRoundTrip(t *testing.T) {
	vec := []float32{1.0, 2.0, 3.0, 4.0}
	buf := EncodeBin(vec)
	assert.Equal(t, []byte{0, 0, 0x80, 0x3f, 0, 0, 0, 0x40, 0, 0, 0x40, 0x40, 0, 0, 0x80, 0x40}, buf)

	got, err := Decode(buf, false, 0)
	require.NoError(t, err)
	assert.Equal(t, vec, got)
}

func TestBinDimsMismatch(t *testing.T) {
	buf := EncodeBin([]float32{1, 2, 3, 4})
	_, err := Decode(buf, false, 3)
	require.Error(t, err)
	assert.True(t, ebrerrors.Is(err, ebrerrors.InvalidFormat))
}

func TestBinSizeNotMultipleOf4(t *testing.T) {
	_, err := Decode([]byte{1, 2, 3}, false, 0)
	require.Error(t, err)
	assert.True(t, ebrerrors.Is(err, ebrerrors.InvalidFormat))
}

func TestNpyRoundTrip(t *testing.T) {
	vec := []float32{1.5, -2.25, 3.0}
	buf := EncodeNpy(vec)
	got, err := Decode(buf, true, 0)
	require.NoError(t, err)
	assert.Equal(t, vec, got)
}

func TestNpyRejectsBadMagic(t *testing.T) {
	_, err := Decode([]byte("not an npy file at all"), true, 0)
	require.Error(t, err)
	assert.True(t, ebrerrors.Is(err, ebrerrors.InvalidFormat))
}

func TestNpyRejects2D(t *testing.T) {
	buf := []byte(npyMagic)
	buf = append(buf, 1, 0)
	dict := "{'descr': '<f4', 'fortran_order': False, 'shape': (2, 3), }"
	pad := (64 - (10+len(dict)+1)%64) % 64
	header := dict
	for i := 0; i < pad; i++ {
		header += " "
	}
	header += "\n"
	lenBuf := make([]byte, 2)
	lenBuf[0] = byte(len(header))
	lenBuf[1] = byte(len(header) >> 8)
	buf = append(buf, lenBuf...)
	buf = append(buf, []byte(header)...)
	buf = append(buf, EncodeBin(make([]float32, 6))...)

	_, err := Decode(buf, true, 0)
	require.Error(t, err)
	assert.True(t, ebrerrors.Is(err, ebrerrors.InvalidFormat))
}
