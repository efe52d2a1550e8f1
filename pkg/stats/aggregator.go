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

package stats

import (
	"time"

	"github.com/hotosm/underpass-go/pkg/osm"
)

// ChangeStats is one (user, change) tally, matching the destination
// "changesets" table's hstore columns.
type ChangeStats struct {
	ChangeID  int64
	UserID    int64
	Username  string
	CreatedAt time.Time
	ClosedAt  time.Time
	Added     map[string]int
	Modified  map[string]int
	Deleted   map[string]int
}

// Aggregator maintains per-(user, change) tag-count maps as a changeset
// replication file is processed. It is not safe for concurrent use; one
// Aggregator is owned by a single worker task for the lifetime of one file.
type Aggregator struct {
	taxonomy Taxonomy
	byChange map[int64]*ChangeStats
}

// NewAggregator constructs an Aggregator over the given category taxonomy.
func NewAggregator(taxonomy Taxonomy) *Aggregator {
	return &Aggregator{taxonomy: taxonomy, byChange: make(map[int64]*ChangeStats)}
}

func (a *Aggregator) entry(cs osm.ChangeSet) *ChangeStats {
	if existing, ok := a.byChange[cs.ID]; ok {
		return existing
	}
	entry := &ChangeStats{
		ChangeID:  cs.ID,
		UserID:    cs.UID,
		Username:  cs.User,
		CreatedAt: cs.CreatedAt,
		ClosedAt:  cs.ClosedAt,
		Added:     make(map[string]int),
		Modified:  make(map[string]int),
		Deleted:   make(map[string]int),
	}
	a.byChange[cs.ID] = entry
	return entry
}

// RecordChangeSet folds a parsed ChangeSet's tags into the per-user tally,
// incrementing categories present in the taxonomy. action selects which of
// the three counters (added/modified/deleted) is incremented; the OSM
// changeset dump itself carries no per-tag action, so callers typically
// call this once per changeset with ActionCreate/ActionModify depending on
// whether the underlying edit session is new or continuing.
func (a *Aggregator) RecordChangeSet(cs osm.ChangeSet, action osm.Action, tags map[string]string) {
	if cs.IsDegenerate() {
		return
	}
	entry := a.entry(cs)
	entry.ClosedAt = cs.ClosedAt

	target := entry.Added
	switch action {
	case osm.ActionModify:
		target = entry.Modified
	case osm.ActionRemove:
		target = entry.Deleted
	}

	for k := range tags {
		if cat, ok := a.taxonomy.Categorize(k); ok {
			target[cat]++
		}
	}
}

// Results returns every accumulated ChangeStats, ready for the SQL emitter
// to upsert keyed on change_id.
func (a *Aggregator) Results() []ChangeStats {
	out := make([]ChangeStats, 0, len(a.byChange))
	for _, entry := range a.byChange {
		out = append(out, *entry)
	}
	return out
}
