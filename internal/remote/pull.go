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
package remote

import (
	"context"
	"encoding/binary"
	"strconv"

	"github.com/kraklabs/embeddingbridge/internal/ebrerrors"
	"github.com/kraklabs/embeddingbridge/internal/opstate"
	"github.com/kraklabs/embeddingbridge/internal/transport"
	"github.com/kraklabs/embeddingbridge/internal/xcompress"
)

// Pull retrieves path's payload from the named remote, reassembling any
// batched transfer and decompressing each segment.
func (s *Subsystem) Pull(ctx context.Context, remoteName, path string) ([]byte, error) {
	r, err := s.Get(remoteName)
	if err != nil {
		return nil, err
	}

	tr, err := transport.Dial(transport.Config{URL: r.URL, Token: r.Token, TimeoutSecs: r.TimeoutSecs, VerifySSL: r.VerifySSL}, s.logger)
	if err != nil {
		return nil, err
	}
	if err := tr.Connect(ctx); err != nil {
		return nil, err
	}
	defer tr.Disconnect()

	if err := s.operations.Start(opstate.Operation{Remote: r.Name, Path: path, Kind: opstate.KindPull}); err != nil {
		return nil, err
	}

	payload, err := receivePayload(ctx, tr, objectKey(path))
	if err != nil {
		return nil, err
	}

	if r.Format != "" {
		t, err := s.transformer.LookupByFormat(r.Format)
		if err != nil {
			return nil, err
		}
		payload, _, err = t.Inverse(payload)
		if err != nil {
			return nil, err
		}
	}

	if err := s.operations.Update(r.Name, path, opstate.KindPull, int64(len(payload))); err != nil {
		return nil, err
	}
	if err := s.operations.Complete(r.Name, path, opstate.KindPull); err != nil {
		return nil, err
	}
	return payload, nil
}

// receivePayload fetches key's object. A small or zero-byte push writes
// directly to key; a batched push never writes key itself, only
// key.batch0, key.batch1, ... — so a miss on key falls through to
// reassembling those parts in order.
func receivePayload(ctx context.Context, tr transport.Transport, key string) ([]byte, error) {
	wire, err := tr.Receive(ctx, key)
	if err == nil {
		return wire, nil
	}
	if !ebrerrors.Is(err, ebrerrors.NotFound) {
		return nil, err
	}

	var payload []byte
	for i := 0; ; i++ {
		part, err := tr.Receive(ctx, batchKey(key, i))
		if err != nil {
			if ebrerrors.Is(err, ebrerrors.NotFound) && i == 0 {
				return nil, ebrerrors.NewNotFound("object not present on remote", key)
			}
			return nil, err
		}

		chunk, batchIdx, total, err := parseBatchFrame(part)
		if err != nil {
			return nil, err
		}
		if batchIdx != i {
			return nil, ebrerrors.NewProtocol("out-of-order batch part", key, nil)
		}
		payload = append(payload, chunk...)
		if i+1 == total {
			break
		}
	}
	return payload, nil
}

// parseBatchFrame parses the single frame a batched push stores per key:
// a 4-byte big-endian header length, the "BATCH i/N SIZE s COMPRESSED c"
// header, and the compressed chunk filling the rest of wire. It returns
// the decompressed chunk and the header's zero-based batch index and
// total batch count.
func parseBatchFrame(wire []byte) (chunk []byte, batchIdx, total int, err error) {
	if len(wire) < 4 {
		return nil, 0, 0, ebrerrors.NewProtocol("truncated batch frame", "", nil)
	}
	headerLen := int(binary.BigEndian.Uint32(wire[:4]))
	if headerLen <= 0 || 4+headerLen > len(wire) {
		return nil, 0, 0, ebrerrors.NewProtocol("malformed batch frame header length", "", nil)
	}
	header := string(wire[4 : 4+headerLen])

	m := batchHeaderRE.FindStringSubmatch(header)
	if m == nil {
		return nil, 0, 0, ebrerrors.NewProtocol("malformed batch header", header, nil)
	}
	idx, err1 := strconv.Atoi(m[1])
	n, err2 := strconv.Atoi(m[2])
	compressedLen, err3 := strconv.Atoi(m[4])
	if err1 != nil || err2 != nil || err3 != nil {
		return nil, 0, 0, ebrerrors.NewProtocol("malformed batch header fields", header, nil)
	}

	off := 4 + headerLen
	if off+compressedLen != len(wire) {
		return nil, 0, 0, ebrerrors.NewProtocol("batch payload length mismatch", header, nil)
	}
	decompressed, err := xcompress.Decompress(wire[off : off+compressedLen])
	if err != nil {
		return nil, 0, 0, err
	}
	return decompressed, idx - 1, n, nil
}
