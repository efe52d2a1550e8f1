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
	"fmt"
	"log/slog"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/hotosm/underpass-go/pkg/osm"
)

// Builder reconstructs way and relation geometry from a change file's own
// elements plus the shared NodeCache, per spec.md §4.5.
type Builder struct {
	nodes  *NodeCache
	db     NodeLookup
	logger *slog.Logger
}

// NewBuilder constructs a Builder over a shared NodeCache.
func NewBuilder(nodes *NodeCache, db NodeLookup, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{nodes: nodes, db: db, logger: logger}
}

// Prepare seeds the node cache with every node created/modified in-file,
// then resolves every remaining node_ref/member ref against the database in
// one batch per kind, per spec.md §4.5 steps 1–2.
func (b *Builder) Prepare(ctx context.Context, change osm.OsmChange) (map[int64]osm.OsmWay, error) {
	for _, n := range change.Nodes {
		if n.Action != osm.ActionRemove {
			b.nodes.Put(n.ID, n.Point())
		}
	}

	inFileWays := make(map[int64]osm.OsmWay, len(change.Ways))
	for _, w := range change.Ways {
		inFileWays[w.ID] = w
	}

	var nodeRefs []int64
	for _, w := range change.Ways {
		nodeRefs = append(nodeRefs, w.NodeRefs...)
	}

	var wayRefs []int64
	for _, rel := range change.Relations {
		for _, m := range rel.Members {
			if m.Type == osm.KindWay {
				wayRefs = append(wayRefs, m.Ref)
			}
		}
	}

	if len(nodeRefs) > 0 {
		if _, err := b.nodes.Populate(ctx, nodeRefs); err != nil {
			return nil, fmt.Errorf("geo: populate node cache: %w", err)
		}
	}

	if len(wayRefs) > 0 {
		missing := missingWays(wayRefs, inFileWays)
		if len(missing) > 0 {
			resolved, err := b.db.LookupWays(ctx, missing)
			if err != nil {
				return nil, fmt.Errorf("geo: lookup member ways: %w", err)
			}
			// Resolve the node refs of fetched ways too, then materialize
			// a geometry-only stand-in so relation assembly can treat it
			// the same as an in-file way.
			var extraNodeRefs []int64
			for _, refs := range resolved {
				extraNodeRefs = append(extraNodeRefs, refs...)
			}
			if len(extraNodeRefs) > 0 {
				if _, err := b.nodes.Populate(ctx, extraNodeRefs); err != nil {
					return nil, fmt.Errorf("geo: populate member way nodes: %w", err)
				}
			}
			for id, refs := range resolved {
				if _, inFile := inFileWays[id]; !inFile {
					inFileWays[id] = osm.OsmWay{ID: id, NodeRefs: refs, Action: osm.ActionModify}
				}
			}
		}
	}

	return inFileWays, nil
}

func missingWays(ids []int64, known map[int64]osm.OsmWay) []int64 {
	var missing []int64
	for _, id := range ids {
		if _, ok := known[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}

// BuildWay assembles w's geometry as a closed polygon (first ref == last
// ref) or an open linestring, from node coordinates resolved via in-file
// nodes ∪ node cache. A way with any unresolved ref is still materialized
// (without geometry), never silently dropped, per spec.md's node-cache
// invariant.
func (b *Builder) BuildWay(w *osm.OsmWay) {
	if len(w.NodeRefs) == 0 {
		return
	}

	coords := make([]orb.Point, 0, len(w.NodeRefs))
	unresolved := false
	for _, ref := range w.NodeRefs {
		p, ok := b.nodes.Get(ref)
		if !ok {
			b.logger.Warn("geo.way.unresolved_ref", "way_id", w.ID, "node_ref", ref)
			w.BadGeom = true
			unresolved = true
			continue
		}
		coords = append(coords, p)
	}

	if unresolved {
		return
	}

	if len(coords) < 2 {
		w.BadGeom = true
		return
	}

	if coords[0] == coords[len(coords)-1] && len(coords) >= 4 {
		ring := orb.Ring(coords)
		w.Geometry = orb.Polygon{ring}
	} else {
		w.Geometry = orb.LineString(coords)
	}
}

// BuildRelation dispatches on the relation's "type" tag per spec.md §4.5
// step 4. ways resolves member way ids (the in-file version always wins
// over the cached one, per the tie-break policy in step 5) to their
// geometry.
func (b *Builder) BuildRelation(rel *osm.OsmRelation, ways map[int64]osm.OsmWay, builtWays map[int64]*osm.OsmWay) {
	for _, m := range rel.Members {
		if m.Type == osm.KindRelation {
			// Cyclic graphs (relations referencing relations) are bounded
			// by refusing to expand them during assembly (spec.md §9).
			rel.BadGeom = true
			return
		}
	}

	switch rel.Tags["type"] {
	case "multipolygon":
		b.buildMultipolygon(rel, ways, builtWays)
	case "multilinestring":
		b.buildMultilinestring(rel, ways, builtWays)
	default:
		// Other types are not materialized here, per spec.md §4.5 step 4.
	}
}

func (b *Builder) resolveMemberWay(ref int64, ways map[int64]osm.OsmWay, builtWays map[int64]*osm.OsmWay) (osm.OsmWay, bool) {
	// The tie-break policy: if the member way is itself present (and
	// modified) in this same file, that in-file version wins over any
	// value already built from the cache.
	if built, ok := builtWays[ref]; ok {
		return *built, true
	}
	w, ok := ways[ref]
	if !ok {
		return osm.OsmWay{}, false
	}
	if w.Geometry == nil {
		b.BuildWay(&w)
	}
	return w, true
}

func (b *Builder) buildMultipolygon(rel *osm.OsmRelation, ways map[int64]osm.OsmWay, builtWays map[int64]*osm.OsmWay) {
	var outer, inner []orb.Ring

	for _, m := range rel.Members {
		if m.Type != osm.KindWay {
			continue
		}
		w, ok := b.resolveMemberWay(m.Ref, ways, builtWays)
		if !ok {
			rel.BadGeom = true
			return
		}
		ring, ok := ringFromWay(w)
		if !ok {
			rel.BadGeom = true
			return
		}
		if m.Role == "inner" {
			inner = append(inner, ring)
		} else {
			outer = append(outer, ring)
		}
	}

	if len(outer) == 0 {
		rel.BadGeom = true
		return
	}

	// Stitch touching ways that share endpoints but were not individually
	// closed, then build a MultiPolygon out of each outer ring paired with
	// whichever inner rings it contains.
	outer = stitchRings(outer)
	inner = stitchRings(inner)

	if !allClosed(outer) || !allClosed(inner) {
		rel.BadGeom = true
		return
	}

	mp := make(orb.MultiPolygon, 0, len(outer))
	for _, o := range outer {
		poly := orb.Polygon{o}
		for _, in := range inner {
			if len(in) > 0 && planar.RingContains(o, in[0]) {
				poly = append(poly, in)
			}
		}
		mp = append(mp, poly)
	}
	rel.Geometry = mp
}

func (b *Builder) buildMultilinestring(rel *osm.OsmRelation, ways map[int64]osm.OsmWay, builtWays map[int64]*osm.OsmWay) {
	var mls orb.MultiLineString
	for _, m := range rel.Members {
		if m.Type != osm.KindWay {
			continue
		}
		w, ok := b.resolveMemberWay(m.Ref, ways, builtWays)
		if !ok {
			rel.BadGeom = true
			return
		}
		ls, ok := w.Geometry.(orb.LineString)
		if !ok {
			if ring, ok := w.Geometry.(orb.Polygon); ok && len(ring) > 0 {
				ls = orb.LineString(ring[0])
			} else {
				rel.BadGeom = true
				return
			}
		}
		mls = append(mls, ls)
	}
	rel.Geometry = mls
}

func ringFromWay(w osm.OsmWay) (orb.Ring, bool) {
	switch g := w.Geometry.(type) {
	case orb.Polygon:
		if len(g) == 0 {
			return nil, false
		}
		return g[0], true
	case orb.LineString:
		return orb.Ring(g), true
	default:
		return nil, false
	}
}

// stitchRings joins open rings that share endpoints into closed ones. Rings
// already closed pass through unchanged.
func stitchRings(rings []orb.Ring) []orb.Ring {
	var closed, open []orb.Ring
	for _, r := range rings {
		if len(r) > 0 && r[0] == r[len(r)-1] {
			closed = append(closed, r)
		} else {
			open = append(open, r)
		}
	}

	for len(open) > 0 {
		chain := open[0]
		open = open[1:]
		progress := true
		for progress {
			progress = false
			for i, candidate := range open {
				if chain[len(chain)-1] == candidate[0] {
					chain = append(chain, candidate[1:]...)
					open = append(open[:i], open[i+1:]...)
					progress = true
					break
				}
				if chain[len(chain)-1] == candidate[len(candidate)-1] {
					reversed := reverseRing(candidate)
					chain = append(chain, reversed[1:]...)
					open = append(open[:i], open[i+1:]...)
					progress = true
					break
				}
			}
		}
		closed = append(closed, chain)
	}

	return closed
}

func reverseRing(r orb.Ring) orb.Ring {
	out := make(orb.Ring, len(r))
	for i, p := range r {
		out[len(r)-1-i] = p
	}
	return out
}

func allClosed(rings []orb.Ring) bool {
	for _, r := range rings {
		if len(r) == 0 || r[0] != r[len(r)-1] {
			return false
		}
	}
	return true
}
