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

package geo

import (
	"context"
	"sync"

	"github.com/paulmach/orb"
)

// NodeLookup resolves node coordinates not present in the current
// replication file, backed by the destination database. Implemented by
// pkg/sqlout.
type NodeLookup interface {
	LookupNodes(ctx context.Context, ids []int64) (map[int64]orb.Point, error)
	LookupWays(ctx context.Context, ids []int64) (map[int64][]int64, error) // way id -> node refs
}

// NodeCache is the shared, read-mostly cache of node coordinates used to
// materialize way and relation geometry. Population (a batch DB lookup)
// takes a write lock; individual reads take a read lock, matching spec.md
// §5's "population batches hold a write lock; reads use shared locking".
type NodeCache struct {
	mu    sync.RWMutex
	coord map[int64]orb.Point
	db    NodeLookup
}

// NewNodeCache constructs an empty cache backed by db.
func NewNodeCache(db NodeLookup) *NodeCache {
	return &NodeCache{coord: make(map[int64]orb.Point), db: db}
}

// Put inserts or overwrites a node's coordinate, used both to seed the
// cache from in-file node creations and to apply a lookup batch's results.
func (c *NodeCache) Put(id int64, p orb.Point) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.coord[id] = p
}

// Get returns a cached coordinate, if present.
func (c *NodeCache) Get(id int64) (orb.Point, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.coord[id]
	return p, ok
}

// Populate resolves every id not already cached via a single batched DB
// lookup and stores the results. Returns the subset of ids that remain
// unresolved after the lookup (referenced nothing in-file or in the DB).
func (c *NodeCache) Populate(ctx context.Context, ids []int64) ([]int64, error) {
	c.mu.RLock()
	var missing []int64
	for _, id := range ids {
		if _, ok := c.coord[id]; !ok {
			missing = append(missing, id)
		}
	}
	c.mu.RUnlock()

	if len(missing) == 0 {
		return nil, nil
	}

	resolved, err := c.db.LookupNodes(ctx, missing)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	var stillMissing []int64
	for _, id := range missing {
		if p, ok := resolved[id]; ok {
			c.coord[id] = p
		} else {
			stillMissing = append(stillMissing, id)
		}
	}
	return stillMissing, nil
}
