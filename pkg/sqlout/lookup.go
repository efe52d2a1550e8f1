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

package sqlout

import (
	"context"
	"fmt"

	"github.com/paulmach/orb"
)

// NodeLookup implements pkg/geo's NodeLookup interface against the
// destination database, resolving the node coordinates and way node-refs
// the geometry builder cannot find in the current replication file.
type NodeLookup struct {
	db *DB
}

// NewNodeLookup constructs a NodeLookup over an open DB.
func NewNodeLookup(db *DB) *NodeLookup {
	return &NodeLookup{db: db}
}

// LookupNodes batch-resolves node coordinates by id.
func (n *NodeLookup) LookupNodes(ctx context.Context, ids []int64) (map[int64]orb.Point, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := n.db.Pool.Query(ctx, `
		SELECT osm_id, ST_X(geom), ST_Y(geom) FROM nodes WHERE osm_id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("sqlout: lookup nodes: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]orb.Point, len(ids))
	for rows.Next() {
		var id int64
		var lon, lat float64
		if err := rows.Scan(&id, &lon, &lat); err != nil {
			return nil, fmt.Errorf("sqlout: scan node row: %w", err)
		}
		out[id] = orb.Point{lon, lat}
	}
	return out, rows.Err()
}

// LookupWays batch-resolves a way's ordered node refs by id, used when a
// relation member way is absent from the current file.
func (n *NodeLookup) LookupWays(ctx context.Context, ids []int64) (map[int64][]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := n.db.Pool.Query(ctx, `
		SELECT osm_id, node_refs FROM ways WHERE osm_id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("sqlout: lookup ways: %w", err)
	}
	defer rows.Close()

	out := make(map[int64][]int64, len(ids))
	for rows.Next() {
		var id int64
		var refs []int64
		if err := rows.Scan(&id, &refs); err != nil {
			return nil, fmt.Errorf("sqlout: scan way row: %w", err)
		}
		out[id] = refs
	}
	return out, rows.Err()
}
