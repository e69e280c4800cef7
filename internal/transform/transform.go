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
// Package transform holds the pluggable wire-format transformer registry:
// named encode/decode pairs that convert between raw binary vector
// payloads and the formats remotes actually transfer.
package transform

import (
	"sync"

	"github.com/kraklabs/embeddingbridge/internal/ebrerrors"
)

// Transformer converts raw object-store payload bytes to and from a wire
// format. Transform and Inverse must round-trip: Inverse(Transform(b)) == b.
type Transformer interface {
	Name() string
	FormatName() string
	Transform(payload []byte, meta map[string]string) ([]byte, error)
	Inverse(wire []byte) (payload []byte, meta map[string]string, err error)
}

// Registry looks up transformers by name or by the wire format they
// produce. It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Transformer
}

// NewRegistry returns a registry pre-populated with the built-in "json"
// and "parquet" transformers. Construction is idempotent: calling it
// twice yields two independent, identically-populated registries.
func NewRegistry() *Registry {
	r := &Registry{byName: make(map[string]Transformer)}
	r.Register(jsonTransformer{})
	r.Register(parquetTransformer{})
	return r
}

// Register adds or replaces a transformer under its own Name().
func (r *Registry) Register(t Transformer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[t.Name()] = t
}

// Lookup returns the transformer registered under name.
func (r *Registry) Lookup(name string) (Transformer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byName[name]
	if !ok {
		return nil, ebrerrors.NewNotFound("no transformer registered", name)
	}
	return t, nil
}

// LookupByFormat returns the first registered transformer whose
// FormatName() matches format. Registration order is not guaranteed, so
// this is only deterministic for registries with at most one transformer
// per format — true of the built-ins.
func (r *Registry) LookupByFormat(format string) (Transformer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.byName {
		if t.FormatName() == format {
			return t, nil
		}
	}
	return nil, ebrerrors.NewNotFound("no transformer registered for format", format)
}
