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
package xcompress

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/kraklabs/embeddingbridge/internal/ebrerrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressDecompressRoundTrip(t *testing.T) {
	orig := bytes.Repeat([]byte("embeddingbridge"), 512)

	compressed, err := Compress(context.Background(), orig, DefaultLevel)
	require.NoError(t, err)
	assert.True(t, IsCompressed(compressed))
	assert.Less(t, len(compressed), len(orig))

	out, err := Decompress(compressed)
	require.NoError(t, err)
	assert.Equal(t, orig, out)
}

func TestDecompressPassesThroughUncompressed(t *testing.T) {
	plain := []byte{0x01, 0x02, 0x03, 0x04}
	out, err := Decompress(plain)
	require.NoError(t, err)
	assert.Equal(t, plain, out)
}

func TestCompressRejectsInvalidLevel(t *testing.T) {
	_, err := Compress(context.Background(), []byte("x"), 99)
	require.Error(t, err)
	assert.True(t, ebrerrors.Is(err, ebrerrors.InvalidInput))
}

func TestCompressRespectsContextDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)

	_, err := Compress(ctx, bytes.Repeat([]byte{0}, 1<<20), DefaultLevel)
	require.Error(t, err)
	assert.True(t, ebrerrors.Is(err, ebrerrors.Timeout))
}
