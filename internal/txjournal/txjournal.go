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
// Package txjournal implements the remote subsystem's crash-recovery
// primitives: a PID-based, steal-if-dead lock file, and an append-only
// BEGIN/COMMIT/ABORT/RECOVER journal with temp-ref-then-rename commits.
package txjournal

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/kraklabs/embeddingbridge/internal/ebrerrors"
)

// Journal is a handle onto the lock, journal, temp-ref, and head files
// under a repository's root.
type Journal struct {
	lockPath  string
	journal   string
	tempPath  string
	headPath  string
}

// Open returns a handle onto <repoRoot>/REMOTE_LOCK, REMOTE_JOURNAL,
// REMOTE_TEMP, and REMOTE_HEAD.
func Open(repoRoot string) *Journal {
	return &Journal{
		lockPath: filepath.Join(repoRoot, "REMOTE_LOCK"),
		journal:  filepath.Join(repoRoot, "REMOTE_JOURNAL"),
		tempPath: filepath.Join(repoRoot, "REMOTE_TEMP"),
		headPath: filepath.Join(repoRoot, "REMOTE_HEAD"),
	}
}

// Lock acquires the atomic lock file, stealing it if its recorded PID is
// no longer alive.
func (j *Journal) Lock() error {
	for {
		f, err := os.OpenFile(j.lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
		if err == nil {
			_, werr := fmt.Fprintf(f, "%d\n", os.Getpid())
			f.Close()
			if werr != nil {
				return ebrerrors.NewIO("cannot write lock pid", j.lockPath, werr)
			}
			return nil
		}
		if !os.IsExist(err) {
			return ebrerrors.NewIO("cannot create lock file", j.lockPath, err)
		}

		pid, readErr := j.readLockPID()
		if readErr != nil {
			return ebrerrors.NewLockFailed("cannot read existing lock", j.lockPath)
		}
		if pidAlive(pid) {
			return ebrerrors.NewLockFailed("remote lock is held", fmt.Sprintf("pid %d is alive", pid))
		}
		if err := os.Remove(j.lockPath); err != nil && !os.IsNotExist(err) {
			return ebrerrors.NewLockFailed("cannot steal dead lock", j.lockPath)
		}
		// Loop and retry creating the lock now that the stale one is gone.
	}
}

// Held reports whether the transaction lock is currently held by a live
// process, without acquiring or stealing it.
func (j *Journal) Held() (bool, error) {
	pid, err := j.readLockPID()
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, nil
	}
	return pidAlive(pid), nil
}

// Unlock releases the lock file.
func (j *Journal) Unlock() error {
	if err := os.Remove(j.lockPath); err != nil && !os.IsNotExist(err) {
		return ebrerrors.NewIO("cannot release lock", j.lockPath, err)
	}
	return nil
}

func (j *Journal) readLockPID() (int, error) {
	data, err := os.ReadFile(j.lockPath)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	// EPERM means the process exists but belongs to another user.
	return err == nil || errors.Is(err, syscall.EPERM)
}

func (j *Journal) appendLine(line string) error {
	f, err := os.OpenFile(j.journal, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return ebrerrors.NewIO("cannot open journal", j.journal, err)
	}
	defer f.Close()
	if _, err := f.WriteString(line + "\n"); err != nil {
		return ebrerrors.NewIO("cannot append journal line", j.journal, err)
	}
	return nil
}

// Begin appends a BEGIN line for the given operation.
func (j *Journal) Begin(kind, remote, path string) error {
	return j.appendLine(fmt.Sprintf("BEGIN %d %s %s %s", time.Now().UTC().Unix(), kind, remote, path))
}

// Commit renames REMOTE_TEMP into REMOTE_HEAD and appends COMMIT.
func (j *Journal) Commit() error {
	if err := os.Rename(j.tempPath, j.headPath); err != nil {
		return ebrerrors.NewIO("cannot commit remote head", j.tempPath, err)
	}
	return j.appendLine(fmt.Sprintf("COMMIT %d", time.Now().UTC().Unix()))
}

// Abort deletes REMOTE_TEMP (ENOENT swallowed) and appends ABORT.
func (j *Journal) Abort() error {
	if err := os.Remove(j.tempPath); err != nil && !os.IsNotExist(err) {
		return ebrerrors.NewIO("cannot remove temp ref during abort", j.tempPath, err)
	}
	return j.appendLine(fmt.Sprintf("ABORT %d", time.Now().UTC().Unix()))
}

// WriteTemp writes REMOTE_TEMP's contents (a small key=value record).
func (j *Journal) WriteTemp(fields map[string]string) error {
	var sb strings.Builder
	for _, k := range []string{"OPERATION", "REMOTE", "PATH", "SIZE", "TIMESTAMP", "CHECKSUM"} {
		if v, ok := fields[k]; ok {
			fmt.Fprintf(&sb, "%s=%s\n", k, v)
		}
	}
	if err := os.WriteFile(j.tempPath, []byte(sb.String()), 0o640); err != nil {
		return ebrerrors.NewIO("cannot write temp ref", j.tempPath, err)
	}
	return nil
}

// NeedsRecovery reports whether the journal's last line is an
// unterminated BEGIN (I5).
func (j *Journal) NeedsRecovery() (bool, error) {
	data, err := os.ReadFile(j.journal)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, ebrerrors.NewIO("cannot read journal", j.journal, err)
	}
	var lastVerb string
	sc := bufio.NewScanner(strings.NewReader(string(data)))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) > 0 {
			lastVerb = fields[0]
		}
	}
	return lastVerb == "BEGIN", nil
}

// Recover runs crash recovery: if REMOTE_TEMP exists, the in-flight
// transaction is completed by promoting it to REMOTE_HEAD; otherwise any
// stale temp ref is removed. Either way, a RECOVER line is appended.
func (j *Journal) Recover() error {
	if _, err := os.Stat(j.tempPath); err == nil {
		if renameErr := os.Rename(j.tempPath, j.headPath); renameErr != nil {
			return ebrerrors.NewIO("cannot complete recovery", j.tempPath, renameErr)
		}
	} else if !os.IsNotExist(err) {
		return ebrerrors.NewIO("cannot stat temp ref", j.tempPath, err)
	}
	return j.appendLine(fmt.Sprintf("RECOVER %d", time.Now().UTC().Unix()))
}
