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
package transform

import (
	"testing"

	"github.com/kraklabs/embeddingbridge/internal/ebrerrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryLookupByNameAndFormat(t *testing.T) {
	r := NewRegistry()

	byName, err := r.Lookup("json")
	require.NoError(t, err)
	assert.Equal(t, "json", byName.Name())

	byFormat, err := r.LookupByFormat("parquet")
	require.NoError(t, err)
	assert.Equal(t, "parquet", byFormat.Name())

	_, err = r.Lookup("does-not-exist")
	require.Error(t, err)
	assert.True(t, ebrerrors.Is(err, ebrerrors.NotFound))
}

func TestJSONRoundTrip(t *testing.T) {
	payload := []byte{1, 2, 3, 4, 5}
	meta := map[string]string{"model": "m1"}

	tr := jsonTransformer{}
	wire, err := tr.Transform(payload, meta)
	require.NoError(t, err)

	got, gotMeta, err := tr.Inverse(wire)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.Equal(t, meta, gotMeta)
}

func TestJSONPassesAlreadyValidJSONThrough(t *testing.T) {
	tr := jsonTransformer{}
	input := []byte(`{"already":"json","n":3}`)

	wire, err := tr.Transform(input, map[string]string{"model": "m1"})
	require.NoError(t, err)
	assert.Equal(t, input, wire)

	got, meta, err := tr.Inverse(wire)
	require.NoError(t, err)
	assert.Equal(t, input, got)
	assert.Nil(t, meta)
}

func TestParquetRoundTrip(t *testing.T) {
	payload := []byte{10, 20, 30, 40}
	meta := map[string]string{"source": "a.txt", "model": "m2"}

	tr := parquetTransformer{}
	wire, err := tr.Transform(payload, meta)
	require.NoError(t, err)

	got, gotMeta, err := tr.Inverse(wire)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.Equal(t, meta, gotMeta)
}

func TestParquetRejectsBadMagic(t *testing.T) {
	tr := parquetTransformer{}
	_, _, err := tr.Inverse([]byte("not a parquet table"))
	require.Error(t, err)
	assert.True(t, ebrerrors.Is(err, ebrerrors.InvalidFormat))
}

func TestEmptyPayloadRoundTrips(t *testing.T) {
	for _, tr := range []Transformer{jsonTransformer{}, parquetTransformer{}} {
		wire, err := tr.Transform(nil, nil)
		require.NoError(t, err)
		got, _, err := tr.Inverse(wire)
		require.NoError(t, err)
		assert.Empty(t, got)
	}
}
