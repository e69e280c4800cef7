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
// Package embeddingbridge is the repository façade: the single entry
// point a caller drives to store, retrieve, roll back, and synchronize
// versioned embedding vectors against remotes. It wires together the
// object store, set index/log, HEAD, transformer registry, and remote
// subsystem in the dependency order each leaf package was built in.
package embeddingbridge

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/kraklabs/embeddingbridge/internal/ebrerrors"
	"github.com/kraklabs/embeddingbridge/internal/gc"
	"github.com/kraklabs/embeddingbridge/internal/head"
	"github.com/kraklabs/embeddingbridge/internal/metrics"
	"github.com/kraklabs/embeddingbridge/internal/objectstore"
	"github.com/kraklabs/embeddingbridge/internal/remote"
	"github.com/kraklabs/embeddingbridge/internal/setstore"
	"github.com/kraklabs/embeddingbridge/internal/vectorio"
)

// dotDir is the repository metadata directory name, resolving the
// ".eb"/".embr" naming ambiguity in favor of ".embr".
const dotDir = ".embr"

// Repository is the handle a caller opens once per working tree.
type Repository struct {
	root    string // <workTree>/.embr
	objects *objectstore.Store
	head    *head.HEAD
	remotes *remote.Subsystem
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Init creates a new repository's metadata directory under workTree and
// returns a handle onto it. It is an error for the directory to already
// exist.
func Init(workTree string, logger *slog.Logger) (*Repository, error) {
	root := filepath.Join(workTree, dotDir)
	if _, err := os.Stat(root); err == nil {
		return nil, ebrerrors.NewAlreadyExists("repository already initialized", root)
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, ebrerrors.NewIO("cannot create repository directory", root, err)
	}
	return open(root, logger)
}

// Open returns a handle onto an existing repository under workTree,
// running crash recovery on the transaction journal if needed.
func Open(workTree string, logger *slog.Logger) (*Repository, error) {
	root := filepath.Join(workTree, dotDir)
	if _, err := os.Stat(root); err != nil {
		return nil, ebrerrors.NewNotInitialized("no repository at this path", root)
	}
	return open(root, logger)
}

func open(root string, logger *slog.Logger) (*Repository, error) {
	if logger == nil {
		logger = slog.Default()
	}

	objects, err := objectstore.Open(root, logger)
	if err != nil {
		return nil, err
	}
	remotes, err := remote.Open(root, logger)
	if err != nil {
		return nil, err
	}
	if err := recoverJournal(root); err != nil {
		return nil, err
	}

	return &Repository{
		root:    root,
		objects: objects,
		head:    head.Open(root),
		remotes: remotes,
		metrics: metrics.New(),
		logger:  logger,
	}, nil
}

// Metrics returns the repository's Prometheus collector set, for a
// caller to mount its Handler at an HTTP endpoint.
func (r *Repository) Metrics() *metrics.Metrics { return r.metrics }

func (r *Repository) openSet(set string) (*setstore.Set, error) {
	return setstore.Open(r.root, set)
}

// maxSourceSize is the largest embedding file Store will accept (spec
// boundary: "file > 10 MiB → rejected").
const maxSourceSize = 10 << 20

// Store loads embeddingPath as a 1-D float32 vector, writes it to the
// object store, and records it in set's index, log, and model-ref.
func (r *Repository) Store(set, embeddingPath, source, model string) (string, error) {
	info, err := os.Stat(embeddingPath)
	if err != nil {
		return "", ebrerrors.NewIO("cannot stat embedding file", embeddingPath, err)
	}
	if !info.Mode().IsRegular() {
		return "", ebrerrors.NewInvalidInput("embedding path is not a regular file", embeddingPath, nil)
	}
	if info.Size() == 0 {
		return "", ebrerrors.NewInvalidInput("embedding file is empty", embeddingPath, nil)
	}
	if info.Size() > maxSourceSize {
		return "", ebrerrors.NewInvalidInput("embedding file exceeds 10 MiB limit", embeddingPath, nil)
	}

	raw, err := os.ReadFile(embeddingPath)
	if err != nil {
		return "", ebrerrors.NewIO("cannot read embedding file", embeddingPath, err)
	}

	fileType := objectstore.FileTypeBin
	if filepath.Ext(embeddingPath) == ".npy" {
		fileType = objectstore.FileTypeNpy
	}

	vec, err := vectorio.Decode(raw, fileType == objectstore.FileTypeNpy, 0)
	if err != nil {
		return "", err
	}
	payload := vectorio.EncodeBin(vec)

	hash, err := r.objects.Put(payload, objectstore.Meta{
		Source: source, FileType: fileType, Model: model,
	})
	if err != nil {
		return "", err
	}
	r.metrics.ObjectsStored.Inc()

	s, err := r.openSet(set)
	if err != nil {
		return "", err
	}
	if err := s.AppendLog(hash, source, model); err != nil {
		return "", err
	}
	if err := s.SetIndex(r.objects, hash, source, model); err != nil {
		return "", err
	}
	if err := s.UpdateModelRef(model, hash, source); err != nil {
		return "", err
	}
	if err := r.head.SetRef(model, hash); err != nil {
		return "", err
	}
	return hash, nil
}

// Get returns an object's payload and metadata.
func (r *Repository) Get(hash string) ([]byte, objectstore.Meta, error) {
	return r.objects.Get(hash)
}

// Resolve expands a hash prefix to the unique full hash it identifies.
func (r *Repository) Resolve(prefix string) (string, error) {
	return r.objects.Resolve(prefix)
}

// Rm removes path's entry from set's index and model-ref. When cached is
// false, it also deletes the matching hashes' object files.
func (r *Repository) Rm(set, path, model string, cached bool) error {
	s, err := r.openSet(set)
	if err != nil {
		return err
	}

	lines, err := s.ReadIndex()
	if err != nil {
		return err
	}
	var hashes []string
	for _, l := range lines {
		if l.Path != path {
			continue
		}
		if model != "" {
			meta, err := r.objects.GetMeta(l.Hash)
			if err != nil || meta.Model != model {
				continue
			}
		}
		hashes = append(hashes, l.Hash)
	}

	if err := s.RemoveFromIndex(r.objects, path, model); err != nil {
		return err
	}
	refModels := []string{model}
	if model == "" {
		if refModels, err = s.Models(); err != nil {
			return err
		}
	}
	for _, m := range refModels {
		if err := s.RemoveFromModelRef(m, path); err != nil {
			return err
		}
	}

	if cached {
		return nil
	}
	for _, h := range hashes {
		if _, err := r.objects.Delete(h); err != nil {
			return err
		}
		r.metrics.ObjectsDeleted.Inc()
	}
	return nil
}

// Rollback points path back at the historical object matching prefix
// (optionally scoped by model), updating set's index, model-ref, and
// HEAD.
func (r *Repository) Rollback(set, path, prefix, model string) (string, error) {
	s, err := r.openSet(set)
	if err != nil {
		return "", err
	}
	return head.Rollback(r.head, r.objects, s, path, prefix, model)
}

// Push reads the object currently indexed for path in set and sends it
// to the named remote, resuming a prior interrupted transfer when
// possible.
func (r *Repository) Push(ctx context.Context, set, remoteName, path string) error {
	s, err := r.openSet(set)
	if err != nil {
		return err
	}
	lines, err := s.ReadIndex()
	if err != nil {
		return err
	}
	var hash string
	for _, l := range lines {
		if l.Path == path {
			hash = l.Hash
		}
	}
	if hash == "" {
		return ebrerrors.NewNotFound("path is not tracked in this set", path)
	}

	payload, _, err := r.objects.Get(hash)
	if err != nil {
		return err
	}

	r.metrics.OperationsInFlight.Inc()
	defer r.metrics.OperationsInFlight.Dec()

	if err := r.remotes.Push(ctx, remoteName, path, payload); err != nil {
		r.metrics.PushFailures.Inc()
		return err
	}
	r.metrics.BytesPushed.Add(float64(len(payload)))
	return nil
}

// Pull fetches path's payload from the named remote and records it in
// set as a new object, under model.
func (r *Repository) Pull(ctx context.Context, set, remoteName, path, model string) (string, error) {
	r.metrics.OperationsInFlight.Inc()
	defer r.metrics.OperationsInFlight.Dec()

	payload, err := r.remotes.Pull(ctx, remoteName, path)
	if err != nil {
		return "", err
	}
	r.metrics.BytesPulled.Add(float64(len(payload)))

	hash, err := r.objects.Put(payload, objectstore.Meta{
		Source: path, FileType: objectstore.FileTypeBin, Model: model,
	})
	if err != nil {
		return "", err
	}
	r.metrics.ObjectsStored.Inc()

	s, err := r.openSet(set)
	if err != nil {
		return "", err
	}
	if err := s.AppendLog(hash, path, model); err != nil {
		return "", err
	}
	if err := s.SetIndex(r.objects, hash, path, model); err != nil {
		return "", err
	}
	if err := s.UpdateModelRef(model, hash, path); err != nil {
		return "", err
	}
	if err := r.head.SetRef(model, hash); err != nil {
		return "", err
	}
	return hash, nil
}

// Prune asks a remote to drop refs older than olderThanSecs.
func (r *Repository) Prune(ctx context.Context, remoteName string, olderThanSecs int64, dryRun bool) (remote.PruneResult, error) {
	return r.remotes.Prune(ctx, remoteName, olderThanSecs, dryRun)
}

// GC runs garbage collection over the object store.
func (r *Repository) GC(opts gc.Options) (gc.Result, error) {
	result, err := gc.Run(r.root, r.objects, opts)
	if err != nil {
		return result, err
	}
	r.metrics.GCRuns.Inc()
	r.metrics.ObjectsDeleted.Add(float64(result.Deleted))
	r.metrics.GCBytesFreed.Add(float64(result.BytesFreed))
	return result, nil
}

// AddRemote registers (or replaces) a remote.
func (r *Repository) AddRemote(rem remote.Remote) error { return r.remotes.Add(rem) }

// RemoveRemote deletes a remote.
func (r *Repository) RemoveRemote(name string) error { return r.remotes.Remove(name) }

// Remotes lists every configured remote's name.
func (r *Repository) Remotes() []string { return r.remotes.List() }
