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
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
)

// lShapePriority is a priority region whose bounding box is a 0..10 square
// but whose actual area is an L: the full-width bottom strip (y<4) plus the
// left column (x<4) — leaving the square's own top-right corner (x>4, y>4)
// outside the polygon despite being inside its bbox.
func lShapePriority() *PriorityFilter {
	ring := orb.Ring{
		{0, 0}, {10, 0}, {10, 4}, {4, 4}, {4, 10}, {0, 10}, {0, 0},
	}
	return NewPriorityFilter(orb.MultiPolygon{{ring}})
}

func TestPriorityFilter_IntersectsGeometry_BoundOverlapAloneIsNotEnough(t *testing.T) {
	f := lShapePriority()

	// A way entirely inside the L-shape's bbox but outside its actual area:
	// the notch cut out of the square's top-right corner.
	outside := orb.LineString{{5, 5}, {9, 9}, {5, 9}}
	assert.False(t, f.IntersectsGeometry(outside),
		"geometry whose bbox overlaps the priority polygon's bbox, but which never enters its actual area, must not be flagged priority")
}

func TestPriorityFilter_IntersectsGeometry_VertexInsideRegion(t *testing.T) {
	f := lShapePriority()

	inside := orb.LineString{{1, 1}, {2, 2}}
	assert.True(t, f.IntersectsGeometry(inside))
}

func TestPriorityFilter_IntersectsGeometry_RegionVertexInsideGeometry(t *testing.T) {
	f := lShapePriority()

	// A large polygon that wholly encloses the entire L-shape priority
	// region, so none of its own vertices fall inside the priority polygon
	// — only checking the priority polygon's vertices against g catches
	// this "way fully surrounds the region" direction.
	enclosing := orb.Polygon{{
		{-5, -5}, {15, -5}, {15, 15}, {-5, 15}, {-5, -5},
	}}
	assert.True(t, f.IntersectsGeometry(enclosing))
}

func TestPriorityFilter_IntersectsGeometry_EmptyPolygonAlwaysTrue(t *testing.T) {
	f := NewPriorityFilter(nil)
	assert.True(t, f.IntersectsGeometry(orb.LineString{{100, 100}}))
}

func TestPriorityFilter_IntersectsGeometry_NilGeometryIsFalse(t *testing.T) {
	f := lShapePriority()
	assert.False(t, f.IntersectsGeometry(nil))
}

func TestPriorityFilter_IntersectsPoint_OutsideLShapeNotch(t *testing.T) {
	f := lShapePriority()
	assert.False(t, f.IntersectsPoint(orb.Point{5, 9}))
	assert.True(t, f.IntersectsPoint(orb.Point{1, 1}))
}
