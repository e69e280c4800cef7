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
// Package setstore implements a set's working-tree index, append-only log,
// and per-model ref files under <root>/sets/<set>/.
package setstore

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/kraklabs/embeddingbridge/internal/ebrerrors"
	"github.com/kraklabs/embeddingbridge/internal/objectstore"
)

// LogEntry is one line of a set's append-only log.
type LogEntry struct {
	Timestamp time.Time
	Hash      string
	Path      string
	// Model is "unknown" for legacy 3-field log lines that predate the
	// model column.
	Model string
}

// IndexLine is one line of a set's working-tree index.
type IndexLine struct {
	Hash string
	Path string
}

// Set is a handle onto <root>/sets/<name>.
type Set struct {
	name string
	dir  string
}

// Open returns a handle onto the named set, creating its directory
// structure if necessary.
func Open(repoRoot, name string) (*Set, error) {
	dir := filepath.Join(repoRoot, "sets", name)
	if err := os.MkdirAll(filepath.Join(dir, "refs", "models"), 0o750); err != nil {
		return nil, ebrerrors.NewIO("cannot create set directory", dir, err)
	}
	return &Set{name: name, dir: dir}, nil
}

func (s *Set) Name() string      { return s.name }
func (s *Set) logPath() string   { return filepath.Join(s.dir, "log") }
func (s *Set) indexPath() string { return filepath.Join(s.dir, "index") }
func (s *Set) refPath(model string) string {
	return filepath.Join(s.dir, "refs", "models", model)
}

// AppendLog appends one entry to the set's log. Never reorders or
// rewrites existing lines.
func (s *Set) AppendLog(hash, path, model string) error {
	f, err := os.OpenFile(s.logPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return ebrerrors.NewIO("cannot open log for append", s.logPath(), err)
	}
	defer f.Close()

	line := fmt.Sprintf("%d %s %s %s\n", time.Now().UTC().Unix(), hash, path, model)
	if _, err := f.WriteString(line); err != nil {
		return ebrerrors.NewIO("cannot append log line", s.logPath(), err)
	}
	return nil
}

// ReadLog parses every log line, tolerating legacy 3-field lines (no
// model column), which are reported with Model="unknown".
func (s *Set) ReadLog() ([]LogEntry, error) {
	data, err := os.ReadFile(s.logPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, ebrerrors.NewIO("cannot read log", s.logPath(), err)
	}

	var entries []LogEntry
	sc := bufio.NewScanner(strings.NewReader(string(data)))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			return nil, ebrerrors.NewInvalidFormat("malformed log line", line)
		}
		ts, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return nil, ebrerrors.NewInvalidFormat("malformed log timestamp", fields[0])
		}
		model := "unknown"
		if len(fields) >= 4 {
			model = fields[3]
		}
		entries = append(entries, LogEntry{
			Timestamp: time.Unix(ts, 0).UTC(),
			Hash:      fields[1],
			Path:      fields[2],
			Model:     model,
		})
	}
	if err := sc.Err(); err != nil {
		return nil, ebrerrors.NewIO("cannot scan log", s.logPath(), err)
	}
	return entries, nil
}

// ListForSource returns every log entry recorded for path, in log order.
func (s *Set) ListForSource(path string) ([]LogEntry, error) {
	entries, err := s.ReadLog()
	if err != nil {
		return nil, err
	}
	var out []LogEntry
	for _, e := range entries {
		if e.Path == path {
			out = append(out, e)
		}
	}
	return out, nil
}

// ReadIndex parses the set's current index file.
func (s *Set) ReadIndex() ([]IndexLine, error) {
	data, err := os.ReadFile(s.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, ebrerrors.NewIO("cannot read index", s.indexPath(), err)
	}
	var out []IndexLine
	sc := bufio.NewScanner(strings.NewReader(string(data)))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, " ", 2)
		if len(fields) != 2 {
			return nil, ebrerrors.NewInvalidFormat("malformed index line", line)
		}
		out = append(out, IndexLine{Hash: fields[0], Path: fields[1]})
	}
	return out, nil
}

// SetIndex rewrites the index line for path/model. A prior line is kept
// unless its path matches and its object's meta model also matches
// (switching models for the same path keeps both lines, since the index
// is keyed by (path, model)).
func (s *Set) SetIndex(store *objectstore.Store, hash, path, model string) error {
	lines, err := s.ReadIndex()
	if err != nil {
		return err
	}

	var kept []IndexLine
	for _, l := range lines {
		if l.Path != path {
			kept = append(kept, l)
			continue
		}
		meta, err := store.GetMeta(l.Hash)
		if err != nil {
			// Referenced object vanished from underneath the index; drop
			// the dangling line rather than fail the whole store call.
			continue
		}
		if string(meta.Model) != model {
			kept = append(kept, l)
		}
		// else: same (path, model) — drop, replaced below.
	}
	kept = append(kept, IndexLine{Hash: hash, Path: path})

	return writeIndexAtomic(s.indexPath(), kept)
}

// RemoveFromIndex drops every index line for path (optionally filtered by
// model, read from each referenced object's meta).
func (s *Set) RemoveFromIndex(store *objectstore.Store, path, model string) error {
	lines, err := s.ReadIndex()
	if err != nil {
		return err
	}
	var kept []IndexLine
	for _, l := range lines {
		if l.Path != path {
			kept = append(kept, l)
			continue
		}
		if model == "" {
			continue
		}
		meta, err := store.GetMeta(l.Hash)
		if err == nil && string(meta.Model) == model {
			continue
		}
		kept = append(kept, l)
	}
	return writeIndexAtomic(s.indexPath(), kept)
}

func writeIndexAtomic(path string, lines []IndexLine) error {
	var sb strings.Builder
	for _, l := range lines {
		fmt.Fprintf(&sb, "%s %s\n", l.Hash, l.Path)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(sb.String()), 0o640); err != nil {
		return ebrerrors.NewIO("cannot write index", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return ebrerrors.NewIO("cannot replace index", path, err)
	}
	return nil
}

// ReadModelRef parses a per-model ref file.
func (s *Set) ReadModelRef(model string) ([]IndexLine, error) {
	data, err := os.ReadFile(s.refPath(model))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, ebrerrors.NewIO("cannot read model ref", s.refPath(model), err)
	}
	var out []IndexLine
	sc := bufio.NewScanner(strings.NewReader(string(data)))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, " ", 2)
		if len(fields) != 2 {
			return nil, ebrerrors.NewInvalidFormat("malformed model ref line", line)
		}
		out = append(out, IndexLine{Hash: fields[0], Path: fields[1]})
	}
	return out, nil
}

// UpdateModelRef drops any existing line for path and appends the new
// (hash, path) pair, rewriting the file atomically.
func (s *Set) UpdateModelRef(model, hash, path string) error {
	lines, err := s.ReadModelRef(model)
	if err != nil {
		return err
	}
	var kept []IndexLine
	for _, l := range lines {
		if l.Path != path {
			kept = append(kept, l)
		}
	}
	kept = append(kept, IndexLine{Hash: hash, Path: path})

	if err := os.MkdirAll(filepath.Dir(s.refPath(model)), 0o750); err != nil {
		return ebrerrors.NewIO("cannot create refs directory", filepath.Dir(s.refPath(model)), err)
	}
	return writeIndexAtomic(s.refPath(model), kept)
}

// RemoveFromModelRef drops the line for path from the model's ref file.
func (s *Set) RemoveFromModelRef(model, path string) error {
	lines, err := s.ReadModelRef(model)
	if err != nil {
		return err
	}
	var kept []IndexLine
	for _, l := range lines {
		if l.Path != path {
			kept = append(kept, l)
		}
	}
	return writeIndexAtomic(s.refPath(model), kept)
}

// RewriteLog atomically replaces the log, keeping only entries for which
// keep returns true. Used by aggressive garbage collection; ordinary
// operation never calls this, since the log is otherwise append-only.
func (s *Set) RewriteLog(keep func(LogEntry) bool) error {
	entries, err := s.ReadLog()
	if err != nil {
		return err
	}
	var sb strings.Builder
	for _, e := range entries {
		if !keep(e) {
			continue
		}
		fmt.Fprintf(&sb, "%d %s %s %s\n", e.Timestamp.Unix(), e.Hash, e.Path, e.Model)
	}
	tmp := s.logPath() + ".tmp"
	if err := os.WriteFile(tmp, []byte(sb.String()), 0o640); err != nil {
		return ebrerrors.NewIO("cannot write log", s.logPath(), err)
	}
	if err := os.Rename(tmp, s.logPath()); err != nil {
		_ = os.Remove(tmp)
		return ebrerrors.NewIO("cannot replace log", s.logPath(), err)
	}
	return nil
}

// ListSets returns every set name found under <root>/sets.
func ListSets(repoRoot string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(repoRoot, "sets"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, ebrerrors.NewIO("cannot list sets", repoRoot, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// Models returns every model name that has a refs/models/<model> file.
func (s *Set) Models() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, "refs", "models"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, ebrerrors.NewIO("cannot list model refs", s.dir, err)
	}
	var models []string
	for _, e := range entries {
		if !e.IsDir() {
			models = append(models, e.Name())
		}
	}
	return models, nil
}
