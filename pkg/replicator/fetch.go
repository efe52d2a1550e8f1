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
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package replicator

import (
	"context"
	"os"
	"time"

	"github.com/hotosm/underpass-go/pkg/planet"
	"github.com/hotosm/underpass-go/pkg/sqlout"
)

// maxRetries bounds how many mirrors one task tries at the same cursor
// position before giving up, per spec.md §4.2's "max_retries=4".
const maxRetries = 4

// FileProcessor turns one successfully downloaded replication file into a
// batch of SQL and the latest timestamp observed inside it. A non-nil error
// is treated as a parse_error. Implemented in this package by
// ChangeSetProcessor (changeset dumps) and OsmChangeProcessor (osmChange
// batches, built on pkg/geo + pkg/validation).
type FileProcessor interface {
	Process(ctx context.Context, data []byte, url planet.RemoteURL) (time.Time, *sqlout.Batch, error)
}

// fetchResult is the raw outcome of fetchWithRetry, before a FileProcessor
// has turned success into a batch.
type fetchResult struct {
	data    []byte
	outcome Outcome
}

// fetchWithRetry downloads url, retrying at the same cursor position
// against successive mirrors from a task-local snapshot on io_error or
// remote_not_found, up to maxRetries attempts, per spec.md §4.2 and scenario
// S6 (a mirror-specific 404 resolved by the next mirror within the same
// task, not by skipping the cursor position). snapshot is never mutated and
// is not shared with any other concurrently running task, satisfying
// spec.md §5's "mirror list… no concurrent mutation" for the shared list.
func fetchWithRetry(ctx context.Context, snapshot []*planet.Mirror, url planet.RemoteURL) fetchResult {
	if cached, ok := readCache(url); ok {
		return fetchResult{data: cached, outcome: OutcomeSuccess}
	}
	if len(snapshot) == 0 {
		return fetchResult{outcome: OutcomeIOError}
	}

	var last fetchResult
	attempts := maxRetries
	if len(snapshot) < attempts {
		attempts = len(snapshot)
	}
	for attempt := 0; attempt < attempts; attempt++ {
		mirror := snapshot[attempt%len(snapshot)]
		dataURL := url
		dataURL.UpdateDomain(mirror.Domain, mirror.Datadir)

		result, err := mirror.Download(ctx, dataURL.DataURL())
		if err != nil {
			last = fetchResult{outcome: OutcomeIOError}
			continue
		}

		switch result.Status {
		case planet.StatusSuccess:
			writeCache(url, result.Data)
			return fetchResult{data: result.Data, outcome: OutcomeSuccess}
		case planet.StatusRemoteNotFound:
			last = fetchResult{outcome: OutcomeRemoteNotFound}
		default:
			last = fetchResult{outcome: OutcomeIOError}
		}
	}
	return last
}

// readCache returns the cached file bytes for url, if a filesystem cache is
// configured and the file is present, per spec.md §4.3 step 1.
func readCache(url planet.RemoteURL) ([]byte, bool) {
	spec := url.Filespec()
	if spec == "" {
		return nil, false
	}
	data, err := os.ReadFile(spec)
	if err != nil {
		return nil, false
	}
	return data, true
}

// writeCache persists a freshly downloaded file to the local cache, if
// configured. Best-effort: the cache is an optional optimization, so a
// write failure does not fail the task.
func writeCache(url planet.RemoteURL, data []byte) {
	spec := url.Filespec()
	if spec == "" {
		return
	}
	_ = os.WriteFile(spec, data, 0o644)
}
