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
// Package head maintains the repository-wide HEAD file (one "ref: <model>
// <hash>" line per model) and implements partial-hash resolution and
// rollback of a source path to a historical object.
package head

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kraklabs/embeddingbridge/internal/ebrerrors"
	"github.com/kraklabs/embeddingbridge/internal/objectstore"
	"github.com/kraklabs/embeddingbridge/internal/setstore"
)

// ModelRequiredError is returned by Rollback when a source path has more
// than one model in the log and the caller did not disambiguate.
type ModelRequiredError struct {
	Path            string
	AvailableModels []string
}

func (e *ModelRequiredError) Error() string {
	return fmt.Sprintf("model flag required to roll back %q: available models are %s",
		e.Path, strings.Join(e.AvailableModels, ", "))
}

// HEAD is a handle onto <root>/HEAD.
type HEAD struct {
	path string
}

// Open returns a handle onto the repository's HEAD file.
func Open(repoRoot string) *HEAD {
	return &HEAD{path: filepath.Join(repoRoot, "HEAD")}
}

// Refs returns the current model→hash mapping. An absent HEAD file is
// the AbsentHEAD state and yields an empty, non-error map.
func (h *HEAD) Refs() (map[string]string, error) {
	data, err := os.ReadFile(h.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, ebrerrors.NewIO("cannot read HEAD", h.path, err)
	}

	refs := make(map[string]string)
	sc := bufio.NewScanner(strings.NewReader(string(data)))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		rest, ok := strings.CutPrefix(line, "ref: ")
		if !ok {
			return nil, ebrerrors.NewInvalidFormat("malformed HEAD line", line)
		}
		fields := strings.Fields(rest)
		if len(fields) != 2 {
			return nil, ebrerrors.NewInvalidFormat("malformed HEAD line", line)
		}
		refs[fields[0]] = fields[1]
	}
	return refs, nil
}

// SetRef writes (or overwrites) the line for model, then atomically
// replaces HEAD with every ref in a stable, model-sorted order.
func (h *HEAD) SetRef(model, hash string) error {
	refs, err := h.Refs()
	if err != nil {
		return err
	}
	refs[model] = hash
	return h.writeRefs(refs)
}

func (h *HEAD) writeRefs(refs map[string]string) error {
	models := make([]string, 0, len(refs))
	for m := range refs {
		models = append(models, m)
	}
	sort.Strings(models)

	var sb strings.Builder
	for _, m := range models {
		fmt.Fprintf(&sb, "ref: %s %s\n", m, refs[m])
	}

	tmp := h.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(sb.String()), 0o640); err != nil {
		return ebrerrors.NewIO("cannot write HEAD", h.path, err)
	}
	if err := os.Rename(tmp, h.path); err != nil {
		_ = os.Remove(tmp)
		return ebrerrors.NewIO("cannot replace HEAD", h.path, err)
	}
	return nil
}

// ResolvePartial scans the set's log for entries matching path and an
// optional model filter whose hash starts with prefix. Exactly one match
// succeeds; zero is NotFound; two or more is Ambiguous.
func ResolvePartial(set *setstore.Set, path, prefix, model string) (string, error) {
	entries, err := set.ListForSource(path)
	if err != nil {
		return "", err
	}

	seen := make(map[string]struct{})
	for _, e := range entries {
		if model != "" && e.Model != model {
			continue
		}
		if strings.HasPrefix(e.Hash, prefix) {
			seen[e.Hash] = struct{}{}
		}
	}

	switch len(seen) {
	case 0:
		return "", ebrerrors.NewNotFound("no matching object", fmt.Sprintf("path %q, prefix %q", path, prefix))
	case 1:
		for hash := range seen {
			return hash, nil
		}
	}

	matches := make([]string, 0, len(seen))
	for hash := range seen {
		matches = append(matches, hash)
	}
	sort.Strings(matches)
	return "", ebrerrors.NewAmbiguous("multiple objects match prefix", prefix, fmt.Sprintf("candidates: %s", strings.Join(matches, ", ")))
}

// Rollback resolves prefix to a full hash for path (optionally scoped by
// model), then rewrites the set index, the model's ref file, and HEAD's
// line for that model to point at it.
func Rollback(h *HEAD, store *objectstore.Store, set *setstore.Set, path, prefix, model string) (string, error) {
	if model == "" {
		models, err := modelsForSource(set, path)
		if err != nil {
			return "", err
		}
		if len(models) > 1 {
			return "", &ModelRequiredError{Path: path, AvailableModels: models}
		}
		if len(models) == 1 {
			model = models[0]
		}
	}

	hash, err := ResolvePartial(set, path, prefix, model)
	if err != nil {
		return "", err
	}

	meta, err := store.GetMeta(hash)
	if err != nil {
		return "", err
	}
	if model == "" {
		model = meta.Model
	}

	if err := set.SetIndex(store, hash, path, model); err != nil {
		return "", err
	}
	if err := set.UpdateModelRef(model, hash, path); err != nil {
		return "", err
	}
	if err := h.SetRef(model, hash); err != nil {
		return "", err
	}
	return hash, nil
}

func modelsForSource(set *setstore.Set, path string) ([]string, error) {
	entries, err := set.ListForSource(path)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	for _, e := range entries {
		seen[e.Model] = struct{}{}
	}
	models := make([]string, 0, len(seen))
	for m := range seen {
		models = append(models, m)
	}
	sort.Strings(models)
	return models, nil
}
