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
package remote

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"github.com/kraklabs/embeddingbridge/internal/ebrerrors"
	"github.com/kraklabs/embeddingbridge/internal/transport"
)

var prunedResponseRE = regexp.MustCompile(`^PRUNED (\d+) FILES (\d+) BYTES$`)

// PruneResult is the parsed response to a remote PRUNE control message.
type PruneResult struct {
	Files int
	Bytes int64
}

// Prune asks the named remote to drop refs older than olderThanSecs,
// sending one PRUNE control message whose dry-run flag is 1 when dryRun
// is set.
func (s *Subsystem) Prune(ctx context.Context, remoteName string, olderThanSecs int64, dryRun bool) (PruneResult, error) {
	r, err := s.Get(remoteName)
	if err != nil {
		return PruneResult{}, err
	}

	tr, err := transport.Dial(transport.Config{URL: r.URL, Token: r.Token, TimeoutSecs: r.TimeoutSecs, VerifySSL: r.VerifySSL}, s.logger)
	if err != nil {
		return PruneResult{}, err
	}
	if err := tr.Connect(ctx); err != nil {
		return PruneResult{}, err
	}
	defer tr.Disconnect()

	dryFlag := 0
	if dryRun {
		dryFlag = 1
	}
	control := fmt.Sprintf("PRUNE %d %d", olderThanSecs, dryFlag)

	if err := tr.Send(ctx, []byte(control), "prune"); err != nil {
		return PruneResult{}, err
	}
	resp, err := tr.Receive(ctx, "prune")
	if err != nil {
		return PruneResult{}, err
	}

	m := prunedResponseRE.FindStringSubmatch(string(resp))
	if m == nil {
		return PruneResult{}, ebrerrors.NewProtocol("malformed prune response", string(resp), nil)
	}
	files, _ := strconv.Atoi(m[1])
	bytes, _ := strconv.ParseInt(m[2], 10, 64)
	return PruneResult{Files: files, Bytes: bytes}, nil
}
