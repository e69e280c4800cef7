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
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/kraklabs/embeddingbridge/internal/ebrerrors"
)

// localTransport is the mandatory reference implementation: it copies
// bytes from/to files under a directory on the local filesystem, named
// by hash.
type localTransport struct {
	baseTransport
	root string
}

func newLocalTransport(root string, logger *slog.Logger) *localTransport {
	return &localTransport{baseTransport: baseTransport{logger: logger}, root: root}
}

func (t *localTransport) Connect(ctx context.Context) error {
	if err := os.MkdirAll(t.root, 0o750); err != nil {
		return t.fail(ebrerrors.NewConnectionFailed("cannot create local remote directory", t.root, err))
	}
	return nil
}

func (t *localTransport) Disconnect() error { return nil }

func (t *localTransport) Send(ctx context.Context, buf []byte, hash string) error {
	dst := filepath.Join(t.root, hash)
	tmp := dst + ".tmp"
	if err := os.WriteFile(tmp, buf, 0o640); err != nil {
		return t.fail(ebrerrors.NewIO("cannot write to local remote", dst, err))
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return t.fail(ebrerrors.NewIO("cannot finalize local remote write", dst, err))
	}
	return nil
}

func (t *localTransport) Receive(ctx context.Context, hash string) ([]byte, error) {
	src := filepath.Join(t.root, hash)
	buf, err := os.ReadFile(src)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, t.fail(ebrerrors.NewNotFound("object not present on local remote", hash))
		}
		return nil, t.fail(ebrerrors.NewIO("cannot read from local remote", src, err))
	}
	return buf, nil
}

func (t *localTransport) ListRefs(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(t.root)
	if err != nil {
		return nil, t.fail(ebrerrors.NewIO("cannot list local remote", t.root, err))
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (t *localTransport) DeleteRefs(ctx context.Context, names []string) error {
	for _, n := range names {
		if err := os.Remove(filepath.Join(t.root, n)); err != nil && !os.IsNotExist(err) {
			return t.fail(ebrerrors.NewIO("cannot delete from local remote", n, err))
		}
	}
	return nil
}
