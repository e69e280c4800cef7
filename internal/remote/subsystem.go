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
// Package remote owns the named-remote registry (INI config plus a
// mode-0600 token sidecar) and the push/pull/prune protocol that moves a
// set's objects to and from them. Everything hangs off a Subsystem
// handle returned by Open; there are no package-level singletons.
package remote

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/kraklabs/embeddingbridge/internal/ebrerrors"
	"github.com/kraklabs/embeddingbridge/internal/opstate"
	"github.com/kraklabs/embeddingbridge/internal/transform"
)

// Subsystem is the single handle a caller opens once per repository and
// passes to every remote operation. Its table of remotes is guarded by
// one RWMutex, per the "Mutex-guarded tables" design note — Go has no
// convenience overhead to amortize by splitting it into three.
type Subsystem struct {
	mu sync.RWMutex

	repoRoot    string
	configPath  string
	localPath   string
	remotes     map[string]Remote
	operations  *opstate.Tracker
	transformer *transform.Registry
	logger      *slog.Logger
}

// Open loads the remote registry from <repoRoot>/config and
// <repoRoot>/config.local, plus the operation tracker.
func Open(repoRoot string, logger *slog.Logger) (*Subsystem, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Subsystem{
		repoRoot:    repoRoot,
		configPath:  filepath.Join(repoRoot, "config"),
		localPath:   filepath.Join(repoRoot, "config.local"),
		remotes:     make(map[string]Remote),
		transformer: transform.NewRegistry(),
		logger:      logger,
	}

	ops, err := opstate.Open(repoRoot)
	if err != nil {
		return nil, err
	}
	s.operations = ops

	if err := s.loadRemotes(); err != nil {
		return nil, err
	}
	return s, nil
}

// Shutdown releases the subsystem's handle. There is no background
// goroutine or open file descriptor to close today; it exists so the
// façade's construction/teardown pairing matches the "Global mutable
// state" design note's RemoteSubsystem/init/shutdown shape.
func (s *Subsystem) Shutdown() error { return nil }

func (s *Subsystem) loadRemotes() error {
	doc, err := loadINI(s.configPath)
	if err != nil {
		return err
	}
	localDoc, err := loadINI(s.localPath)
	if err != nil {
		return err
	}

	for _, name := range doc.remoteNames() {
		fields := doc.remoteFields(name)
		localFields := localDoc.remoteFields(name)
		s.remotes[name] = Remote{
			Name:        name,
			URL:         fields["url"],
			Token:       localFields["token"],
			TimeoutSecs: parseIntDefault(fields["timeout"], 30),
			VerifySSL:   parseBool(fields["verify_ssl"], true),
			Transformer: fields["transformer"],
			Format:      fields["format"],
		}
	}
	return nil
}

// Add registers (or replaces) a remote, persisting its non-secret fields
// to config and its token to the mode-0600 config.local.
func (s *Subsystem) Add(r Remote) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := loadINI(s.configPath)
	if err != nil {
		return err
	}
	doc.setRemote(r.Name, map[string]string{
		"url":         r.URL,
		"timeout":     fmt.Sprintf("%d", r.TimeoutSecs),
		"verify_ssl":  fmt.Sprintf("%t", r.VerifySSL),
		"transformer": r.Transformer,
		"format":      r.Format,
	})
	if err := saveINI(s.configPath, doc, 0o640); err != nil {
		return err
	}

	if r.Token != "" {
		localDoc, err := loadINI(s.localPath)
		if err != nil {
			return err
		}
		localDoc.setRemote(r.Name, map[string]string{"token": r.Token})
		if err := saveINI(s.localPath, localDoc, 0o600); err != nil {
			return err
		}
	}

	s.remotes[r.Name] = r
	return nil
}

// Remove deletes a remote from both config files and the in-memory table.
func (s *Subsystem) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := loadINI(s.configPath)
	if err != nil {
		return err
	}
	doc.removeRemote(name)
	if err := saveINI(s.configPath, doc, 0o640); err != nil {
		return err
	}

	localDoc, err := loadINI(s.localPath)
	if err != nil {
		return err
	}
	localDoc.removeRemote(name)
	if err := saveINI(s.localPath, localDoc, 0o600); err != nil {
		return err
	}

	delete(s.remotes, name)
	return nil
}

// Get returns the named remote's configuration.
func (s *Subsystem) Get(name string) (Remote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.remotes[name]
	if !ok {
		return Remote{}, ebrerrors.NewNotFound("no such remote", name)
	}
	return r, nil
}

// List returns every configured remote's name.
func (s *Subsystem) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.remotes))
	for n := range s.remotes {
		names = append(names, n)
	}
	return names
}
