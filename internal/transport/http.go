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

	"github.com/kraklabs/embeddingbridge/internal/ebrerrors"
)

// httpTransport is a typed stub. No HTTP client framework appears
// anywhere in this project's dependency pack beyond net/http itself, and
// the spec explicitly allows this transport to be a stub.
type httpTransport struct {
	baseTransport
	cfg Config
}

func newHTTPTransport(cfg Config, logger *slog.Logger) *httpTransport {
	return &httpTransport{baseTransport: baseTransport{logger: logger}, cfg: cfg}
}

func (t *httpTransport) notImplemented(op string) error {
	return t.fail(ebrerrors.NewNotImplemented("http(s) transport is not implemented", op))
}

func (t *httpTransport) Connect(context.Context) error { return t.notImplemented("connect") }
func (t *httpTransport) Disconnect() error              { return nil }
func (t *httpTransport) Send(context.Context, []byte, string) error {
	return t.notImplemented("send")
}
func (t *httpTransport) Receive(context.Context, string) ([]byte, error) {
	return nil, t.notImplemented("receive")
}
func (t *httpTransport) ListRefs(context.Context) ([]string, error) {
	return nil, t.notImplemented("list_refs")
}
func (t *httpTransport) DeleteRefs(context.Context, []string) error {
	return t.notImplemented("delete_refs")
}
