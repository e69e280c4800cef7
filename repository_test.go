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
package embeddingbridge

import (
	"context"
	"math"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/embeddingbridge/internal/ebrerrors"
	"github.com/kraklabs/embeddingbridge/internal/gc"
	"github.com/kraklabs/embeddingbridge/internal/objectstore"
	"github.com/kraklabs/embeddingbridge/internal/remote"
)

func writeBinFile(t *testing.T, dir string, floats ...float32) string {
	t.Helper()
	path := filepath.Join(dir, "v.bin")
	buf := make([]byte, 4*len(floats))
	for i, f := range floats {
		bits := math.Float32bits(f)
		buf[i*4+0] = byte(bits)
		buf[i*4+1] = byte(bits >> 8)
		buf[i*4+2] = byte(bits >> 16)
		buf[i*4+3] = byte(bits >> 24)
	}
	require.NoError(t, os.WriteFile(path, buf, 0o640))
	return path
}

func TestDeterministicHash(t *testing.T) {
	work := t.TempDir()
	repo, err := Init(work, nil)
	require.NoError(t, err)

	embPath := writeBinFile(t, work, 1.0, 2.0, 3.0, 4.0)
	hash, err := repo.Store("default", embPath, "a.txt", "m")
	require.NoError(t, err)
	assert.Len(t, hash, 64)

	payload, _, err := repo.Get(hash)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x00, 0x80, 0x3f, 0x00, 0x00, 0x00, 0x40, 0x00, 0x00, 0x40, 0x40, 0x00, 0x00, 0x80, 0x40}, payload)
}

func TestStoreRejectsEmptyFile(t *testing.T) {
	work := t.TempDir()
	repo, err := Init(work, nil)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "empty.bin")
	require.NoError(t, os.WriteFile(path, nil, 0o640))

	_, err = repo.Store("default", path, "a.txt", "m")
	require.Error(t, err)
	assert.True(t, ebrerrors.Is(err, ebrerrors.InvalidInput))
}

func TestStoreRejectsOversizeFile(t *testing.T) {
	work := t.TempDir()
	repo, err := Init(work, nil)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "huge.bin")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(maxSourceSize+4))
	require.NoError(t, f.Close())

	_, err = repo.Store("default", path, "a.txt", "m")
	require.Error(t, err)
	assert.True(t, ebrerrors.Is(err, ebrerrors.InvalidInput))
}

func TestTwoModelCoexistence(t *testing.T) {
	work := t.TempDir()
	repo, err := Init(work, nil)
	require.NoError(t, err)

	p1 := writeBinFile(t, t.TempDir(), 1.0, 2.0, 3.0, 4.0)
	p2 := writeBinFile(t, t.TempDir(), 5.0, 6.0, 7.0, 8.0)

	_, err = repo.Store("default", p1, "a.txt", "M1")
	require.NoError(t, err)
	_, err = repo.Store("default", p2, "a.txt", "M2")
	require.NoError(t, err)

	set, err := repo.openSet("default")
	require.NoError(t, err)
	lines, err := set.ReadIndex()
	require.NoError(t, err)
	assert.Len(t, lines, 2)

	refs, err := repo.head.Refs()
	require.NoError(t, err)
	assert.Len(t, refs, 2)

	entries, err := set.ReadLog()
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestRollbackScenario(t *testing.T) {
	work := t.TempDir()
	repo, err := Init(work, nil)
	require.NoError(t, err)

	dir := t.TempDir()
	p1 := writeBinFile(t, dir, 1.0, 2.0, 3.0, 4.0)
	firstHash, err := repo.Store("default", p1, "a.txt", "M1")
	require.NoError(t, err)

	p2 := writeBinFile(t, dir, 9.0, 9.0, 9.0, 9.0)
	_, err = repo.Store("default", p2, "a.txt", "M1")
	require.NoError(t, err)

	p3 := writeBinFile(t, dir, 2.0, 2.0, 2.0, 2.0)
	_, err = repo.Store("default", p3, "a.txt", "M1")
	require.NoError(t, err)

	hash, err := repo.Rollback("default", "a.txt", firstHash[:7], "M1")
	require.NoError(t, err)
	assert.Equal(t, firstHash, hash)

	set, err := repo.openSet("default")
	require.NoError(t, err)
	lines, err := set.ReadIndex()
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, firstHash, lines[0].Hash)

	refs, err := repo.head.Refs()
	require.NoError(t, err)
	assert.Equal(t, firstHash, refs["M1"])

	entries, err := set.ReadLog()
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestAmbiguousPrefixRollback(t *testing.T) {
	work := t.TempDir()
	repo, err := Init(work, nil)
	require.NoError(t, err)

	set, err := repo.openSet("default")
	require.NoError(t, err)
	require.NoError(t, set.AppendLog("abcd1111111111111111111111111111111111111111111111111111111111", "a.txt", "M1"))
	require.NoError(t, set.AppendLog("abcd2222222222222222222222222222222222222222222222222222222222", "a.txt", "M1"))

	_, err = repo.Rollback("default", "a.txt", "abcd", "M1")
	require.Error(t, err)
	assert.True(t, ebrerrors.Is(err, ebrerrors.Ambiguous))
}

func TestGCSafetyScenario(t *testing.T) {
	work := t.TempDir()
	repo, err := Init(work, nil)
	require.NoError(t, err)

	dir := t.TempDir()
	hashX, err := repo.Store("default", writeBinFile(t, dir, 1.0, 2.0, 3.0, 4.0), "x.txt", "m")
	require.NoError(t, err)
	hashY, err := repo.Store("default", writeBinFile(t, dir, 5.0, 6.0, 7.0, 8.0), "y.txt", "m")
	require.NoError(t, err)
	hashZ, err := repo.objects.Put([]byte("unreferenced payload bytes"), objectstore.Meta{Source: "z.txt", FileType: objectstore.FileTypeBin, Model: "m"})
	require.NoError(t, err)

	result, err := repo.GC(gc.Options{Expire: "never"})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Deleted)

	result, err = repo.GC(gc.Options{Expire: "now"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Deleted)
	assert.True(t, repo.objects.Exists(hashX))
	assert.True(t, repo.objects.Exists(hashY))
	assert.False(t, repo.objects.Exists(hashZ))
}

func TestPushPullRoundTripThroughFacade(t *testing.T) {
	work := t.TempDir()
	remoteDir := filepath.Join(t.TempDir(), "remote-store")
	repo, err := Init(work, nil)
	require.NoError(t, err)
	require.NoError(t, repo.AddRemote(remote.Remote{Name: "origin", URL: remoteDir}))

	dir := t.TempDir()
	_, err = repo.Store("default", writeBinFile(t, dir, 1.0, 2.0, 3.0, 4.0), "a.txt", "m")
	require.NoError(t, err)

	require.NoError(t, repo.Push(context.Background(), "default", "origin", "a.txt"))

	hash, err := repo.Pull(context.Background(), "default", "origin", "a.txt", "m")
	require.NoError(t, err)
	assert.Len(t, hash, 64)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	repo.Metrics().Handler().ServeHTTP(rec, req)
	assert.Contains(t, rec.Body.String(), "embeddingbridge_operations_in_flight 0")
}

func TestOpenRecoversUnterminatedBegin(t *testing.T) {
	work := t.TempDir()
	repo, err := Init(work, nil)
	require.NoError(t, err)
	root := repo.root

	require.NoError(t, os.WriteFile(filepath.Join(root, "REMOTE_JOURNAL"), []byte("BEGIN 1 PUSH origin a.txt\n"), 0o640))
	require.NoError(t, os.WriteFile(filepath.Join(root, "REMOTE_TEMP"), []byte("OPERATION=push\n"), 0o640))

	repo2, err := Open(work, nil)
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(repo2.root, "REMOTE_HEAD"))
	require.NoError(t, err)
}
