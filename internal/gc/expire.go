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
package gc

import (
	"strconv"
	"strings"
	"time"

	"github.com/kraklabs/embeddingbridge/internal/ebrerrors"
)

// parseExpire hand-parses the prune_expire grammar: "never", "now", or
// "<N>.<unit>.ago" for unit in {minutes,hours,days,weeks}. Same idiom as
// the .npy header and INI parsers: the grammar is small enough that a
// regular-expression or parser-combinator dependency buys nothing.
func parseExpire(s string) (expireTime, error) {
	switch s {
	case "", "now":
		return expireTime{at: time.Now().UTC()}, nil
	case "never":
		return expireTime{never: true}, nil
	}

	fields := strings.Split(s, ".")
	if len(fields) != 3 || fields[2] != "ago" {
		return expireTime{}, ebrerrors.NewInvalidFormat("malformed prune_expire", s)
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil || n < 0 {
		return expireTime{}, ebrerrors.NewInvalidFormat("malformed prune_expire count", s)
	}
	unit, ok := unitDuration(fields[1])
	if !ok {
		return expireTime{}, ebrerrors.NewInvalidFormat("malformed prune_expire unit", s)
	}

	return expireTime{at: time.Now().UTC().Add(-time.Duration(n) * unit)}, nil
}
