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
package embeddingbridge

import "github.com/kraklabs/embeddingbridge/internal/txjournal"

// recoverJournal runs crash recovery if the last open/init left an
// unterminated BEGIN in REMOTE_JOURNAL (I5).
func recoverJournal(root string) error {
	j := txjournal.Open(root)
	needsRecovery, err := j.NeedsRecovery()
	if err != nil {
		return err
	}
	if !needsRecovery {
		return nil
	}
	return j.Recover()
}
