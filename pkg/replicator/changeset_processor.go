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
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/paulmach/orb"

	"github.com/hotosm/underpass-go/pkg/geo"
	"github.com/hotosm/underpass-go/pkg/osm"
	"github.com/hotosm/underpass-go/pkg/planet"
	"github.com/hotosm/underpass-go/pkg/sqlout"
	"github.com/hotosm/underpass-go/pkg/stats"
)

// ChangeSetProcessor turns one changeset-dump replication file into the
// changesets table's metadata rows (user, timestamps, bbox), per spec.md
// §4.6. The per-tag added/modified tallies on the same table are populated
// separately by OsmChangeProcessor, since changeset dumps carry no feature
// tags of their own (only comment/hashtags/editor metadata).
type ChangeSetProcessor struct {
	filter       *geo.PriorityFilter
	logger       *slog.Logger
	disableStats bool
}

// NewChangeSetProcessor wires the priority filter for the changesets driver.
// disableStats mirrors underpass.yaml's disable_stats option (spec.md §6):
// when true, every changeset this processor sees is parsed but not run
// through the filter, and none of its stats rows are emitted, since the changesets table this
// processor writes to is entirely a stats concern.
func NewChangeSetProcessor(filter *geo.PriorityFilter, logger *slog.Logger, disableStats bool) *ChangeSetProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChangeSetProcessor{filter: filter, logger: logger, disableStats: disableStats}
}

// Process implements FileProcessor for the changeset-dump stream.
func (p *ChangeSetProcessor) Process(ctx context.Context, data []byte, url planet.RemoteURL) (time.Time, *sqlout.Batch, error) {
	file, err := osm.ParseChangeSetFile(bytes.NewReader(data))
	if err != nil {
		return time.Time{}, nil, fmt.Errorf("replicator: parse changeset dump %s: %w", url.Path(), err)
	}

	batch := &sqlout.Batch{}
	if p.disableStats {
		return file.FinalTimestamp, batch, nil
	}
	for _, cs := range file.ChangeSets {
		if !p.filter.IntersectsGeometry(bboxPolygon(cs.BBox)) {
			continue
		}
		sqlout.EmitChangeStats(batch, stats.ChangeStats{
			ChangeID:  cs.ID,
			UserID:    cs.UID,
			Username:  cs.User,
			CreatedAt: cs.CreatedAt,
			ClosedAt:  cs.ClosedAt,
			Added:     map[string]int{},
			Modified:  map[string]int{},
		})
		sqlout.EmitChangeSetBBox(batch, cs.ID, cs.BBox)
	}

	return file.FinalTimestamp, batch, nil
}

// bboxPolygon turns a changeset's bounding box into the closed ring shape
// PriorityFilter.IntersectsGeometry expects.
func bboxPolygon(b orb.Bound) orb.Polygon {
	ring := orb.Ring{
		{b.Min[0], b.Min[1]}, {b.Max[0], b.Min[1]},
		{b.Max[0], b.Max[1]}, {b.Min[0], b.Max[1]},
		{b.Min[0], b.Min[1]},
	}
	return orb.Polygon{ring}
}
