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
// Package objectstore implements the content-addressed object store:
// <root>/objects/<hash>.raw (float32 payload) and <hash>.meta (key=value
// metadata). Hashes are SHA-256 over the float payload bytes only.
package objectstore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/kraklabs/embeddingbridge/internal/ebrerrors"
)

const minPrefixLen = 4

// FileType is the origin format of an object's payload, as recorded in
// its .meta sidecar.
type FileType string

const (
	FileTypeNpy FileType = "npy"
	FileTypeBin FileType = "bin"
)

// Meta is an object's .meta sidecar contents.
type Meta struct {
	Source    string
	FileType  FileType
	Model     string
	Timestamp time.Time
}

// Store is a handle onto <root>/objects. It does no locking of its own:
// every write goes through one fixed "<file>.tmp" name, so concurrent
// writes of the same object must be serialized by the caller. It does not
// coordinate across processes either (the caller's advisory lock does
// that for multi-file transactions elsewhere in the core).
type Store struct {
	dir    string
	logger *slog.Logger
}

// Open returns a Store rooted at <repoRoot>/objects, creating the
// directory if necessary.
func Open(repoRoot string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Join(repoRoot, "objects")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, ebrerrors.NewIO("cannot create object directory", dir, err)
	}
	return &Store{dir: dir, logger: logger}, nil
}

// Hash computes the content address of a float payload.
func Hash(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func (s *Store) rawPath(hash string) string  { return filepath.Join(s.dir, hash+".raw") }
func (s *Store) metaPath(hash string) string { return filepath.Join(s.dir, hash+".meta") }

// Put writes (or rewrites the metadata of) an object. Writing an
// already-present payload is idempotent: the .raw bytes are unchanged,
// but .meta is rewritten with the current timestamp, matching the spec's
// "duplicate put is idempotent" tie-break.
func (s *Store) Put(payload []byte, meta Meta) (string, error) {
	hash := Hash(payload)
	if meta.Timestamp.IsZero() {
		meta.Timestamp = time.Now().UTC()
	}

	rawPath := s.rawPath(hash)
	if _, err := os.Stat(rawPath); err != nil {
		if !os.IsNotExist(err) {
			return "", ebrerrors.NewIO("cannot stat object payload", rawPath, err)
		}
		if err := writeFileAtomic(rawPath, payload, 0o640); err != nil {
			return "", ebrerrors.NewIO("cannot write object payload", rawPath, err)
		}
	}

	if err := writeFileAtomic(s.metaPath(hash), []byte(encodeMeta(meta)), 0o640); err != nil {
		return "", ebrerrors.NewIO("cannot write object metadata", s.metaPath(hash), err)
	}

	s.logger.Debug("objectstore.put", "hash", hash, "source", meta.Source, "model", meta.Model)
	return hash, nil
}

// Get reads an object's payload and metadata. Both files must exist.
func (s *Store) Get(hash string) ([]byte, Meta, error) {
	payload, err := os.ReadFile(s.rawPath(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, Meta{}, ebrerrors.NewNotFound("object not found", hash+".raw does not exist")
		}
		return nil, Meta{}, ebrerrors.NewIO("cannot read object payload", s.rawPath(hash), err)
	}
	metaBytes, err := os.ReadFile(s.metaPath(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, Meta{}, ebrerrors.NewNotFound("object not found", hash+".meta does not exist")
		}
		return nil, Meta{}, ebrerrors.NewIO("cannot read object metadata", s.metaPath(hash), err)
	}
	meta, err := decodeMeta(metaBytes)
	if err != nil {
		return nil, Meta{}, err
	}
	return payload, meta, nil
}

// GetMeta reads only an object's metadata.
func (s *Store) GetMeta(hash string) (Meta, error) {
	metaBytes, err := os.ReadFile(s.metaPath(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return Meta{}, ebrerrors.NewNotFound("object not found", hash+".meta does not exist")
		}
		return Meta{}, ebrerrors.NewIO("cannot read object metadata", s.metaPath(hash), err)
	}
	return decodeMeta(metaBytes)
}

// Exists reports whether hash has both a .raw and a .meta file.
func (s *Store) Exists(hash string) bool {
	_, err1 := os.Stat(s.rawPath(hash))
	_, err2 := os.Stat(s.metaPath(hash))
	return err1 == nil && err2 == nil
}

// Resolve expands a hash prefix (minimum 4 characters) to the unique full
// hash it identifies.
func (s *Store) Resolve(prefix string) (string, error) {
	if len(prefix) < minPrefixLen {
		return "", ebrerrors.NewInvalidInput("prefix too short", fmt.Sprintf("minimum length is %d", minPrefixLen), nil)
	}
	prefix = strings.ToLower(prefix)

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return "", ebrerrors.NewIO("cannot list object directory", s.dir, err)
	}

	seen := make(map[string]struct{})
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, ".raw") {
			continue
		}
		hash := strings.TrimSuffix(name, ".raw")
		if strings.HasPrefix(hash, prefix) {
			seen[hash] = struct{}{}
		}
	}

	switch len(seen) {
	case 0:
		return "", ebrerrors.NewNotFound("no object matches prefix", prefix)
	case 1:
		for h := range seen {
			return h, nil
		}
	}

	matches := make([]string, 0, len(seen))
	for h := range seen {
		matches = append(matches, h)
	}
	sort.Strings(matches)
	return "", ebrerrors.NewAmbiguous("multiple objects match prefix", prefix, fmt.Sprintf("candidates: %s", strings.Join(matches, ", ")))
}

// Delete removes an object's .raw and .meta files. A missing file is not
// an error (ENOENT on unlink is swallowed per the core's error policy).
func (s *Store) Delete(hash string) (bytesFreed int64, err error) {
	for _, p := range []string{s.rawPath(hash), s.metaPath(hash)} {
		info, statErr := os.Stat(p)
		if statErr != nil {
			if os.IsNotExist(statErr) {
				continue
			}
			return bytesFreed, ebrerrors.NewIO("cannot stat object file", p, statErr)
		}
		if rmErr := os.Remove(p); rmErr != nil && !os.IsNotExist(rmErr) {
			return bytesFreed, ebrerrors.NewIO("cannot remove object file", p, rmErr)
		}
		bytesFreed += info.Size()
	}
	return bytesFreed, nil
}

// ModTime returns the modification time of an object's .raw file, used by
// the garbage collector's expiry check.
func (s *Store) ModTime(hash string) (time.Time, error) {
	info, err := os.Stat(s.rawPath(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return time.Time{}, ebrerrors.NewNotFound("object not found", hash+".raw does not exist")
		}
		return time.Time{}, ebrerrors.NewIO("cannot stat object payload", s.rawPath(hash), err)
	}
	return info.ModTime(), nil
}

// RawSize returns the size in bytes of an object's .raw file.
func (s *Store) RawSize(hash string) (int64, error) {
	info, err := os.Stat(s.rawPath(hash))
	if err != nil {
		return 0, ebrerrors.NewIO("cannot stat object payload", s.rawPath(hash), err)
	}
	return info.Size(), nil
}

// AllHashes lists every object hash currently present in the store
// (those with a .raw file), used by the garbage collector.
func (s *Store) AllHashes() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, ebrerrors.NewIO("cannot list object directory", s.dir, err)
	}
	var hashes []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".raw") {
			hashes = append(hashes, strings.TrimSuffix(e.Name(), ".raw"))
		}
	}
	sort.Strings(hashes)
	return hashes, nil
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func encodeMeta(m Meta) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "source=%s\n", m.Source)
	fmt.Fprintf(&sb, "file_type=%s\n", m.FileType)
	fmt.Fprintf(&sb, "model=%s\n", m.Model)
	fmt.Fprintf(&sb, "timestamp=%s\n", m.Timestamp.UTC().Format(time.RFC3339))
	return sb.String()
}

func decodeMeta(data []byte) (Meta, error) {
	var m Meta
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			return Meta{}, ebrerrors.NewInvalidFormat("malformed metadata line", line)
		}
		switch k {
		case "source":
			m.Source = v
		case "file_type":
			m.FileType = FileType(v)
		case "model":
			m.Model = v
		case "timestamp":
			ts, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return Meta{}, ebrerrors.NewInvalidFormat("malformed timestamp", v)
			}
			m.Timestamp = ts
		}
	}
	return m, nil
}
