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

// Package replicator implements the top-level driver loop: it schedules
// worker tasks over a bounded pool, advances the replication cursor, rotates
// mirrors, and commits each round's SQL as a single transaction.
package replicator

import (
	"time"

	"github.com/hotosm/underpass-go/pkg/planet"
	"github.com/hotosm/underpass-go/pkg/sqlout"
)

// Outcome classifies how one worker task finished, per spec.md §3's
// ReplicationTask entity and §7's error-kind table.
type Outcome string

const (
	OutcomeSuccess        Outcome = "success"
	OutcomeRemoteNotFound Outcome = "remote_not_found"
	OutcomeParseError     Outcome = "parse_error"
	OutcomeIOError        Outcome = "io_error"
)

// ReplicationTask is the outcome of one worker invocation: the cursor it
// fetched, the latest timestamp observed in that file, its disposition, and
// the SQL it produced (nil unless Outcome is OutcomeSuccess).
type ReplicationTask struct {
	URL       planet.RemoteURL
	Timestamp time.Time
	Outcome   Outcome
	Batch     *sqlout.Batch
}
