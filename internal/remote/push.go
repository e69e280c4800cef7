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
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kraklabs/embeddingbridge/internal/ebrerrors"
	"github.com/kraklabs/embeddingbridge/internal/opstate"
	"github.com/kraklabs/embeddingbridge/internal/transform"
	"github.com/kraklabs/embeddingbridge/internal/transport"
	"github.com/kraklabs/embeddingbridge/internal/txjournal"
	"github.com/kraklabs/embeddingbridge/internal/xcompress"
)

// batchCompressConcurrency bounds how many batches are compressed at
// once when framing a large push.
const batchCompressConcurrency = 4

const (
	// BatchSize is the large-payload chunk size ("B" in the spec).
	BatchSize  = 8 << 20 // 8 MiB
	MaxRetries = 3
	RetryDelay = time.Second
)

var batchHeaderRE = regexp.MustCompile(`^BATCH (\d+)/(\d+) SIZE (\d+) COMPRESSED (\d+)$`)

// Push sends path's payload to the named remote, journaling the
// transaction for crash recovery and resuming a prior interrupted push
// if its recorded checksum matches.
func (s *Subsystem) Push(ctx context.Context, remoteName, path string, payload []byte) error {
	r, err := s.Get(remoteName)
	if err != nil {
		return err
	}

	j := txjournal.Open(s.repoRoot)
	if err := j.Lock(); err != nil {
		return err
	}
	defer j.Unlock()

	if err := j.Begin("PUSH", remoteName, path); err != nil {
		return err
	}

	if err := s.doPush(ctx, j, r, path, payload); err != nil {
		_ = j.Abort()
		return err
	}
	return j.Commit()
}

func (s *Subsystem) doPush(ctx context.Context, j *txjournal.Journal, r Remote, path string, payload []byte) error {
	tr, err := transport.Dial(transport.Config{URL: r.URL, Token: r.Token, TimeoutSecs: r.TimeoutSecs, VerifySSL: r.VerifySSL}, s.logger)
	if err != nil {
		return err
	}
	if err := tr.Connect(ctx); err != nil {
		return err
	}
	defer tr.Disconnect()

	checksum := weakChecksum(payload)
	key := objectKey(path)
	total := len(payload)

	prior, resumed := s.operations.Find(r.Name, path, opstate.KindPush)
	startBatch := 0
	if resumed && !prior.Completed && prior.TotalSize == int64(total) && prior.Checksum == checksum {
		startBatch = int(prior.Transferred / BatchSize)
	} else {
		if err := s.operations.Start(opstate.Operation{
			Remote: r.Name, Path: path, Kind: opstate.KindPush,
			TotalSize: int64(total), Checksum: checksum,
		}); err != nil {
			return err
		}
	}

	if total <= BatchSize {
		wire, err := applyTransformer(s.transformer, r.Format, payload)
		if err != nil {
			return err
		}
		if err := sendWithRetry(ctx, tr, wire, key); err != nil {
			return err
		}
		if err := s.operations.Update(r.Name, path, opstate.KindPush, int64(total)); err != nil {
			return err
		}
	} else {
		n := (total + BatchSize - 1) / BatchSize
		if err := s.sendBatches(ctx, tr, r, path, payload, startBatch, n); err != nil {
			return err
		}
	}

	if err := s.operations.Complete(r.Name, path, opstate.KindPush); err != nil {
		return err
	}

	return j.WriteTemp(map[string]string{
		"OPERATION": "push",
		"REMOTE":    r.Name,
		"PATH":      path,
		"SIZE":      strconv.Itoa(total),
		"TIMESTAMP": strconv.FormatInt(time.Now().UTC().Unix(), 10),
		"CHECKSUM":  checksum,
	})
}

// sendBatches compresses and sends payload's [startBatch, n) chunks, each
// to its own remote key, recording transferred bytes in the operation
// tracker as soon as each batch's send succeeds — not after the whole
// transfer completes — so an interrupted push resumes from the first
// batch that was never acknowledged by the remote, not from zero.
func (s *Subsystem) sendBatches(ctx context.Context, tr transport.Transport, r Remote, path string, payload []byte, startBatch, n int) error {
	total := len(payload)
	key := objectKey(path)

	compressed, err := compressBatches(ctx, payload, startBatch, n)
	if err != nil {
		return err
	}

	for i := startBatch; i < n; i++ {
		start := i * BatchSize
		end := start + BatchSize
		if end > total {
			end = total
		}

		frame := buildBatchFrame(i, n, end-start, compressed[i])
		if err := sendWithRetry(ctx, tr, frame, batchKey(key, i)); err != nil {
			return err
		}
		if err := s.operations.Update(r.Name, path, opstate.KindPush, int64(end)); err != nil {
			return err
		}
	}
	return nil
}

// buildBatchFrame frames one chunk per the wire grammar: a 4-byte
// big-endian header length, the ASCII "BATCH i/N SIZE s COMPRESSED c"
// header, then the compressed chunk — with no magic prefix, since each
// stored object holds exactly one frame.
func buildBatchFrame(i, n, chunkLen int, compressed []byte) []byte {
	header := fmt.Sprintf("BATCH %d/%d SIZE %d COMPRESSED %d", i+1, n, chunkLen, len(compressed))
	out := appendFrame(nil, header)
	return append(out, compressed...)
}

// compressBatches compresses payload's [startBatch, n) chunks concurrently,
// bounded by batchCompressConcurrency, and returns them indexed by batch
// number so the caller can send each in order.
func compressBatches(ctx context.Context, payload []byte, startBatch, n int) ([][]byte, error) {
	total := len(payload)
	out := make([][]byte, n)

	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, batchCompressConcurrency)

	for i := startBatch; i < n; i++ {
		i := i
		start := i * BatchSize
		end := start + BatchSize
		if end > total {
			end = total
		}
		chunk := payload[start:end]

		g.Go(func() error {
			select {
			case sem <- struct{}{}:
			case <-gctx.Done():
				return gctx.Err()
			}
			defer func() { <-sem }()

			compressed, err := xcompress.Compress(gctx, chunk, xcompress.DefaultLevel)
			if err != nil {
				return err
			}
			out[i] = compressed
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// batchKey names the remote object holding chunk i of a batched
// transfer of key.
func batchKey(key string, i int) string {
	return fmt.Sprintf("%s.batch%d", key, i)
}

func appendFrame(buf []byte, header string) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(header)))
	buf = append(buf, lenBuf[:]...)
	return append(buf, header...)
}

func applyTransformer(reg *transform.Registry, format string, payload []byte) ([]byte, error) {
	if format == "" {
		return payload, nil
	}
	t, err := reg.LookupByFormat(format)
	if err != nil {
		return nil, err
	}
	return t.Transform(payload, nil)
}

func sendWithRetry(ctx context.Context, tr transport.Transport, buf []byte, key string) error {
	var lastErr error
	for attempt := 0; attempt < MaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(RetryDelay)
		}
		if err := tr.Send(ctx, buf, key); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return ebrerrors.NewConnectionFailed("push failed after retries", lastErr.Error(), lastErr)
}

func objectKey(path string) string {
	return strings.ReplaceAll(path, "/", "_")
}

// weakChecksum is a djb2-like 64-bit hash, encoded as hex, used as the
// operation-state checksum recorded for resumable pushes.
func weakChecksum(data []byte) string {
	var h uint64 = 5381
	for _, b := range data {
		h = (h*33 + uint64(b))
	}
	return fmt.Sprintf("%016x", h)
}
