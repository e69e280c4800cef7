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
// Package gc implements garbage collection over the object store: objects
// unreferenced by any set's index or HEAD, and older than an expiry, are
// deleted. An aggressive pass also rewrites each set's log to drop lines
// for hashes that are no longer live.
package gc

import (
	"time"

	"github.com/kraklabs/embeddingbridge/internal/ebrerrors"
	"github.com/kraklabs/embeddingbridge/internal/head"
	"github.com/kraklabs/embeddingbridge/internal/objectstore"
	"github.com/kraklabs/embeddingbridge/internal/setstore"
	"github.com/kraklabs/embeddingbridge/internal/txjournal"
)

// Options configures a collection run.
type Options struct {
	// Expire is a prune_expire literal: "never", "now", or
	// "<N>.<unit>.ago" for unit in {minutes,hours,days,weeks}.
	Expire string
	// Aggressive also rewrites every set's log, dropping lines whose hash
	// is no longer live.
	Aggressive bool
}

// Result summarizes one collection run.
type Result struct {
	Scanned    int
	Deleted    int
	BytesFreed int64
}

// Run scans the object store under repoRoot, deleting every object that
// is unreferenced by any set's index or HEAD and older than the expiry.
// It refuses to run while the transaction lock is held, or while another
// collection holds the dedicated gc lock.
func Run(repoRoot string, store *objectstore.Store, opts Options) (Result, error) {
	txn := txjournal.Open(repoRoot)
	held, err := txn.Held()
	if err != nil {
		return Result{}, err
	}
	if held {
		return Result{}, ebrerrors.NewLockFailed("transaction lock is held", repoRoot)
	}

	gl := newLock(repoRoot)
	if err := gl.Lock(); err != nil {
		return Result{}, err
	}
	defer gl.Unlock()

	exp, err := parseExpire(opts.Expire)
	if err != nil {
		return Result{}, err
	}

	live, err := liveHashes(repoRoot, store)
	if err != nil {
		return Result{}, err
	}

	hashes, err := store.AllHashes()
	if err != nil {
		return Result{}, err
	}

	var result Result
	result.Scanned = len(hashes)
	for _, hash := range hashes {
		if live[hash] {
			continue
		}
		if exp.never {
			continue
		}
		mt, err := store.ModTime(hash)
		if err != nil {
			continue
		}
		if !mt.Before(exp.at) {
			continue
		}
		freed, err := store.Delete(hash)
		if err != nil {
			return result, err
		}
		result.Deleted++
		result.BytesFreed += freed
	}

	if opts.Aggressive {
		if err := rewriteLogs(repoRoot, live); err != nil {
			return result, err
		}
	}

	return result, nil
}

// liveHashes is the union of every set's current index hashes and every
// HEAD line's hash.
func liveHashes(repoRoot string, store *objectstore.Store) (map[string]bool, error) {
	live := make(map[string]bool)

	names, err := setstore.ListSets(repoRoot)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		set, err := setstore.Open(repoRoot, name)
		if err != nil {
			return nil, err
		}
		lines, err := set.ReadIndex()
		if err != nil {
			return nil, err
		}
		for _, l := range lines {
			live[l.Hash] = true
		}
	}

	refs, err := head.Open(repoRoot).Refs()
	if err != nil {
		return nil, err
	}
	for _, hash := range refs {
		live[hash] = true
	}

	return live, nil
}

func rewriteLogs(repoRoot string, live map[string]bool) error {
	names, err := setstore.ListSets(repoRoot)
	if err != nil {
		return err
	}
	for _, name := range names {
		set, err := setstore.Open(repoRoot, name)
		if err != nil {
			return err
		}
		if err := set.RewriteLog(func(e setstore.LogEntry) bool { return live[e.Hash] }); err != nil {
			return err
		}
	}
	return nil
}

type expireTime struct {
	never bool
	at    time.Time
}

func unitDuration(unit string) (time.Duration, bool) {
	switch unit {
	case "minutes":
		return time.Minute, true
	case "hours":
		return time.Hour, true
	case "days":
		return 24 * time.Hour, true
	case "weeks":
		return 7 * 24 * time.Hour, true
	}
	return 0, false
}
