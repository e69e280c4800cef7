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
package objectstore

import (
	"testing"
	"time"

	"github.com/kraklabs/embeddingbridge/internal/ebrerrors"
	"github.com/kraklabs/embeddingbridge/internal/vectorio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutGetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, nil)
	require.NoError(t, err)

	vec := []float32{1.0, 2.0, 3.0, 4.0}
	payload := vectorio.EncodeBin(vec)

	hash, err := store.Put(payload, Meta{Source: "doc.bin", FileType: FileTypeBin, Model: "text-embedding-3"})
	require.NoError(t, err)
	assert.Equal(t, Hash(payload), hash)

	got, meta, err := store.Get(hash)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.Equal(t, "doc.bin", meta.Source)
	assert.Equal(t, FileTypeBin, meta.FileType)
	assert.Equal(t, "text-embedding-3", meta.Model)
	assert.False(t, meta.Timestamp.IsZero())
}

func TestPutIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, nil)
	require.NoError(t, err)

	payload := vectorio.EncodeBin([]float32{5, 6, 7})

	h1, err := store.Put(payload, Meta{Source: "a.bin", Model: "m1"})
	require.NoError(t, err)

	h2, err := store.Put(payload, Meta{Source: "b.bin", Model: "m1", Timestamp: time.Now().UTC().Add(time.Hour)})
	require.NoError(t, err)

	assert.Equal(t, h1, h2)

	raw, meta, err := store.Get(h2)
	require.NoError(t, err)
	assert.Equal(t, payload, raw)
	assert.Equal(t, "b.bin", meta.Source)
}

func TestGetMissing(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, nil)
	require.NoError(t, err)

	_, _, err = store.Get("deadbeef00000000000000000000000000000000000000000000000000beef")
	require.Error(t, err)
	assert.True(t, ebrerrors.Is(err, ebrerrors.NotFound))
}

func TestResolvePrefix(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, nil)
	require.NoError(t, err)

	h, err := store.Put(vectorio.EncodeBin([]float32{1, 2}), Meta{Model: "m"})
	require.NoError(t, err)

	resolved, err := store.Resolve(h[:6])
	require.NoError(t, err)
	assert.Equal(t, h, resolved)

	_, err = store.Resolve("abc")
	require.Error(t, err)
	assert.True(t, ebrerrors.Is(err, ebrerrors.InvalidInput))

	_, err = store.Resolve("zzzzzzzz")
	require.Error(t, err)
	assert.True(t, ebrerrors.Is(err, ebrerrors.NotFound))
}

func TestResolveAmbiguous(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, nil)
	require.NoError(t, err)

	// Forge two objects whose hashes happen to share a known prefix by
	// writing raw/meta files directly rather than depending on a SHA-256
	// collision.
	for _, h := range []string{"aaaa1111111111111111111111111111111111111111111111111111111111", "aaaa2222222222222222222222222222222222222222222222222222222222"} {
		_, err := store.Put([]byte("x"), Meta{Model: "m"})
		require.NoError(t, err)
		require.NoError(t, forceWriteObject(store, h, []byte("x")))
	}

	_, err = store.Resolve("aaaa")
	require.Error(t, err)
	assert.True(t, ebrerrors.Is(err, ebrerrors.Ambiguous))
}

func forceWriteObject(s *Store, hash string, payload []byte) error {
	if err := writeFileAtomic(s.rawPath(hash), payload, 0o640); err != nil {
		return err
	}
	return writeFileAtomic(s.metaPath(hash), []byte(encodeMeta(Meta{Model: "m", Timestamp: time.Now().UTC()})), 0o640)
}

func TestDeleteFreesBytes(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, nil)
	require.NoError(t, err)

	payload := vectorio.EncodeBin([]float32{1, 2, 3})
	h, err := store.Put(payload, Meta{Model: "m"})
	require.NoError(t, err)

	freed, err := store.Delete(h)
	require.NoError(t, err)
	assert.Positive(t, freed)
	assert.False(t, store.Exists(h))

	freed, err = store.Delete(h)
	require.NoError(t, err)
	assert.Zero(t, freed)
}

func TestAllHashesSorted(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, nil)
	require.NoError(t, err)

	for _, v := range [][]float32{{1}, {2}, {3}} {
		_, err := store.Put(vectorio.EncodeBin(v), Meta{Model: "m"})
		require.NoError(t, err)
	}

	hashes, err := store.AllHashes()
	require.NoError(t, err)
	assert.Len(t, hashes, 3)
	for i := 1; i < len(hashes); i++ {
		assert.Less(t, hashes[i-1], hashes[i])
	}
}
