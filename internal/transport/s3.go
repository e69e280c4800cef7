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

// s3Transport is a typed stub, for the same reason as httpTransport: no
// object-storage SDK (aws-sdk-go, minio-go, ...) appears anywhere in
// this project's dependency pack to ground a real implementation on.
type s3Transport struct {
	baseTransport
	cfg Config
}

func newS3Transport(cfg Config, logger *slog.Logger) *s3Transport {
	return &s3Transport{baseTransport: baseTransport{logger: logger}, cfg: cfg}
}

func (t *s3Transport) notImplemented(op string) error {
	return t.fail(ebrerrors.NewNotImplemented("s3 transport is not implemented", op))
}

func (t *s3Transport) Connect(context.Context) error { return t.notImplemented("connect") }
func (t *s3Transport) Disconnect() error              { return nil }
func (t *s3Transport) Send(context.Context, []byte, string) error {
	return t.notImplemented("send")
}
func (t *s3Transport) Receive(context.Context, string) ([]byte, error) {
	return nil, t.notImplemented("receive")
}
func (t *s3Transport) ListRefs(context.Context) ([]string, error) {
	return nil, t.notImplemented("list_refs")
}
func (t *s3Transport) DeleteRefs(context.Context, []string) error {
	return t.notImplemented("delete_refs")
}
