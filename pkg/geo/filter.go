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

// Package geo filters OSM elements against a priority polygon and
// reconstructs way/relation geometry from a node cache.
package geo

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

// PriorityFilter tests OSM geometry against a configured multipolygon. Swap
// may replace the polygon at any time; every method is safe for concurrent
// use by multiple worker goroutines within a round.
type PriorityFilter struct {
	mu      sync.RWMutex
	polygon orb.MultiPolygon
}

// NewPriorityFilter builds a filter from a MultiPolygon. An empty polygon
// means every element is in-priority (no region configured).
func NewPriorityFilter(polygon orb.MultiPolygon) *PriorityFilter {
	return &PriorityFilter{polygon: polygon}
}

// LoadPriorityPolygon reads a GeoJSON FeatureCollection/Feature/Geometry
// from r and builds a PriorityFilter from every Polygon/MultiPolygon
// geometry found, merged into one MultiPolygon (see ParsePriorityPolygon).
func LoadPriorityPolygon(r io.Reader) (*PriorityFilter, error) {
	mp, err := ParsePriorityPolygon(r)
	if err != nil {
		return nil, err
	}
	return NewPriorityFilter(mp), nil
}

// ParsePriorityPolygon reads a GeoJSON FeatureCollection/Feature/Geometry
// from r and returns its geometry as a MultiPolygon, without constructing a
// PriorityFilter — used by a hot-reload path that Swaps the result into an
// already-running filter rather than replacing it.
func ParsePriorityPolygon(r io.Reader) (orb.MultiPolygon, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("geo: read priority polygon: %w", err)
	}

	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err == nil && len(fc.Features) > 0 {
		return collectPolygons(fc), nil
	}

	var geom geojson.Geometry
	if err := json.Unmarshal(data, &geom); err != nil {
		return nil, fmt.Errorf("geo: unmarshal priority polygon: %w", err)
	}
	return toMultiPolygon(geom.Geometry()), nil
}

func collectPolygons(fc *geojson.FeatureCollection) orb.MultiPolygon {
	var mp orb.MultiPolygon
	for _, f := range fc.Features {
		mp = append(mp, toMultiPolygon(f.Geometry)...)
	}
	return mp
}

func toMultiPolygon(g orb.Geometry) orb.MultiPolygon {
	switch v := g.(type) {
	case orb.Polygon:
		return orb.MultiPolygon{v}
	case orb.MultiPolygon:
		return v
	default:
		return nil
	}
}

// Swap atomically replaces the filter's polygon, used when fsnotify signals
// the priority-polygon file changed on disk.
func (f *PriorityFilter) Swap(polygon orb.MultiPolygon) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polygon = polygon
}

// IntersectsPoint reports whether a single coordinate falls within the
// configured region. An empty/unset polygon always returns true.
func (f *PriorityFilter) IntersectsPoint(p orb.Point) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if len(f.polygon) == 0 {
		return true
	}
	for _, poly := range f.polygon {
		if planar.PolygonContains(poly, p) {
			return true
		}
	}
	return false
}

// IntersectsGeometry reports whether any part of g falls within the
// configured region. Used for ways/relations once their geometry has been
// assembled. Tests actual intersection, not just bounding-box overlap: a
// vertex of g inside the priority polygon, or (for area geometry such as an
// assembled relation multipolygon) a vertex of the priority polygon inside
// g, since a large way can wholly enclose a small priority polygon without
// either shape's own vertices crossing the other's boundary.
func (f *PriorityFilter) IntersectsGeometry(g orb.Geometry) bool {
	if g == nil {
		return false
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if len(f.polygon) == 0 {
		return true
	}

	bound := g.Bound()
	vertices := geometryVertices(g)
	for _, poly := range f.polygon {
		if !boundsOverlap(bound, poly.Bound()) {
			continue
		}
		for _, p := range vertices {
			if planar.PolygonContains(poly, p) {
				return true
			}
		}
		for _, ring := range poly {
			for _, p := range ring {
				if geometryContainsPoint(g, p) {
					return true
				}
			}
		}
	}
	return false
}

// geometryVertices flattens any orb.Geometry g can actually hold (Point,
// LineString, Ring, Polygon, and their Multi/Collection variants, as built
// by pkg/geo's Builder) into its constituent points.
func geometryVertices(g orb.Geometry) []orb.Point {
	switch v := g.(type) {
	case orb.Point:
		return []orb.Point{v}
	case orb.MultiPoint:
		return []orb.Point(v)
	case orb.LineString:
		return []orb.Point(v)
	case orb.MultiLineString:
		var pts []orb.Point
		for _, ls := range v {
			pts = append(pts, []orb.Point(ls)...)
		}
		return pts
	case orb.Ring:
		return []orb.Point(v)
	case orb.Polygon:
		var pts []orb.Point
		for _, r := range v {
			pts = append(pts, []orb.Point(r)...)
		}
		return pts
	case orb.MultiPolygon:
		var pts []orb.Point
		for _, poly := range v {
			pts = append(pts, geometryVertices(poly)...)
		}
		return pts
	case orb.Collection:
		var pts []orb.Point
		for _, gg := range v {
			pts = append(pts, geometryVertices(gg)...)
		}
		return pts
	default:
		return nil
	}
}

// geometryContainsPoint reports whether p falls inside g, for the
// area-valued geometries g can be (a way's closed-ring Polygon, a
// relation's assembled MultiPolygon). Always false for line/point
// geometry, which has no interior to contain anything.
func geometryContainsPoint(g orb.Geometry, p orb.Point) bool {
	switch v := g.(type) {
	case orb.Polygon:
		return planar.PolygonContains(v, p)
	case orb.MultiPolygon:
		for _, poly := range v {
			if planar.PolygonContains(poly, p) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// IntersectsPoints reports whether the union of a set of known node
// coordinates intersects the region, the fallback spec.md §4.4 specifies
// for a way whose geometry has not been assembled yet.
func (f *PriorityFilter) IntersectsPoints(points []orb.Point) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if len(f.polygon) == 0 {
		return true
	}
	for _, p := range points {
		for _, poly := range f.polygon {
			if planar.PolygonContains(poly, p) {
				return true
			}
		}
	}
	return false
}

func boundsOverlap(a, b orb.Bound) bool {
	return a.Min[0] <= b.Max[0] && a.Max[0] >= b.Min[0] &&
		a.Min[1] <= b.Max[1] && a.Max[1] >= b.Min[1]
}
