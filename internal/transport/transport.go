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
// Package transport implements the scheme-dispatched remote connectors:
// local, ssh, http(s), and s3. Every Transport sets LastError on its most
// recent failed operation, mirroring the spec's "each op sets last_error
// and error_msg" requirement.
package transport

import (
	"context"
	"log/slog"
	"net/url"
	"strings"

	"github.com/kraklabs/embeddingbridge/internal/ebrerrors"
)

// Transport is a scheme-dispatched connector to a remote object/ref
// store. Send/Receive move a single object's bytes; ListRefs/DeleteRefs
// manage the remote's named refs.
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Send(ctx context.Context, buf []byte, hash string) error
	Receive(ctx context.Context, hash string) ([]byte, error)
	ListRefs(ctx context.Context) ([]string, error)
	DeleteRefs(ctx context.Context, names []string) error
	LastError() error
}

// Config carries the caller-resolved connection parameters a remote's
// config supplies (see internal/remote), kept here rather than in that
// package to avoid a cyclic import.
type Config struct {
	URL         string
	Token       string
	TimeoutSecs int
	VerifySSL   bool
}

// Dial resolves cfg.URL's scheme and returns the matching Transport,
// unconnected. "file://" URLs and bare filesystem paths both dispatch to
// the local transport, which is the mandatory reference implementation.
func Dial(cfg Config, logger *slog.Logger) (Transport, error) {
	if logger == nil {
		logger = slog.Default()
	}

	scheme, path := splitScheme(cfg.URL)
	switch scheme {
	case "", "file":
		return newLocalTransport(path, logger), nil
	case "ssh":
		return newSSHTransport(cfg, logger), nil
	case "http", "https":
		return newHTTPTransport(cfg, logger), nil
	case "s3":
		return newS3Transport(cfg, logger), nil
	default:
		return nil, ebrerrors.NewInvalidInput("unsupported remote URL scheme", scheme, nil)
	}
}

// splitScheme returns ("", url) for a bare path with no "scheme://"
// prefix, and (scheme, rest) otherwise.
func splitScheme(raw string) (scheme, rest string) {
	if !strings.Contains(raw, "://") {
		return "", raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", raw
	}
	switch u.Scheme {
	case "file":
		return "file", u.Path
	default:
		return u.Scheme, raw
	}
}

// baseTransport centralizes the LastError bookkeeping shared by every
// scheme-specific implementation.
type baseTransport struct {
	logger *slog.Logger
	err    error
}

func (b *baseTransport) LastError() error { return b.err }

func (b *baseTransport) fail(err error) error {
	b.err = err
	return err
}
