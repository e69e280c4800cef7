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
// Package xcompress wraps klauspost/compress/zstd for the core's
// mixed-content transports: payloads may or may not be compressed, and
// decode must tell the difference from the first two bytes alone.
package xcompress

import (
	"context"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/kraklabs/embeddingbridge/internal/ebrerrors"
)

const (
	zstdMagic0 = 0x28
	zstdMagic1 = 0xb5

	// DefaultLevel matches the core's documented default compression level.
	DefaultLevel = 9
	MinLevel     = 1
	MaxLevel     = 22
)

// Compress zstd-compresses buf at level, which must lie in [MinLevel,
// MaxLevel]; any other level is rejected with InvalidInput.
// If ctx is cancelled before encoding finishes, Compress returns Timeout.
func Compress(ctx context.Context, buf []byte, level int) ([]byte, error) {
	if level < MinLevel || level > MaxLevel {
		return nil, ebrerrors.NewInvalidInput("invalid compression level",
			fmt.Sprintf("level %d is outside [%d, %d]", level, MinLevel, MaxLevel), nil)
	}

	type result struct {
		out []byte
		err error
	}
	ch := make(chan result, 1)
	go func() {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
		if err != nil {
			ch <- result{nil, ebrerrors.NewComputationFailed("cannot create zstd encoder", err.Error())}
			return
		}
		ch <- result{enc.EncodeAll(buf, nil), nil}
	}()

	select {
	case <-ctx.Done():
		return nil, ebrerrors.NewTimeout("compression deadline exceeded", ctx.Err().Error())
	case r := <-ch:
		return r.out, r.err
	}
}

// IsCompressed reports whether buf begins with the zstd magic bytes.
func IsCompressed(buf []byte) bool {
	return len(buf) >= 2 && buf[0] == zstdMagic0 && buf[1] == zstdMagic1
}

// Decompress detects a zstd magic prefix and decompresses; any other
// input is returned unchanged, permitting mixed plain/compressed
// transports.
func Decompress(buf []byte) ([]byte, error) {
	if !IsCompressed(buf) {
		return buf, nil
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, ebrerrors.NewComputationFailed("cannot create zstd decoder", err.Error())
	}
	defer dec.Close()

	out, err := dec.DecodeAll(buf, nil)
	if err != nil {
		return nil, ebrerrors.NewInvalidFormat("cannot decompress zstd payload", err.Error())
	}
	return out, nil
}
