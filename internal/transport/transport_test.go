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
package transport

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/kraklabs/embeddingbridge/internal/ebrerrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialDispatchesByScheme(t *testing.T) {
	local, err := Dial(Config{URL: t.TempDir()}, nil)
	require.NoError(t, err)
	assert.IsType(t, &localTransport{}, local)

	httpT, err := Dial(Config{URL: "https://example.com/remote"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &httpTransport{}, httpT)

	s3T, err := Dial(Config{URL: "s3://bucket/prefix"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &s3Transport{}, s3T)

	_, err = Dial(Config{URL: "ftp://example.com"}, nil)
	require.Error(t, err)
	assert.True(t, ebrerrors.Is(err, ebrerrors.InvalidInput))
}

func TestLocalTransportSendReceiveListDelete(t *testing.T) {
	root := filepath.Join(t.TempDir(), "remote")
	tr, err := Dial(Config{URL: root}, nil)
	require.NoError(t, err)
	require.NoError(t, tr.Connect(context.Background()))

	require.NoError(t, tr.Send(context.Background(), []byte("payload"), "abc123"))

	got, err := tr.Receive(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)

	refs, err := tr.ListRefs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"abc123"}, refs)

	require.NoError(t, tr.DeleteRefs(context.Background(), []string{"abc123"}))
	refs, err = tr.ListRefs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, refs)
}

func TestLocalTransportReceiveMissing(t *testing.T) {
	tr, err := Dial(Config{URL: t.TempDir()}, nil)
	require.NoError(t, err)
	require.NoError(t, tr.Connect(context.Background()))

	_, err = tr.Receive(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, ebrerrors.Is(err, ebrerrors.NotFound))
}

func TestHTTPAndS3StubsReturnNotImplemented(t *testing.T) {
	for _, url := range []string{"http://example.com", "s3://bucket"} {
		tr, err := Dial(Config{URL: url}, nil)
		require.NoError(t, err)

		err = tr.Connect(context.Background())
		require.Error(t, err)
		assert.True(t, ebrerrors.Is(err, ebrerrors.NotImplemented))
		assert.Equal(t, err, tr.LastError())
	}
}
