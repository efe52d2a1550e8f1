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

// Package osm holds the typed representation of OSM replication artifacts
// and the streaming parsers that produce them from gzip-compressed XML.
package osm

import (
	"time"

	"github.com/paulmach/orb"
)

// Action is the single mutation kind carried by an OSM element within one
// OsmChange batch.
type Action string

const (
	ActionCreate Action = "create"
	ActionModify Action = "modify"
	ActionRemove Action = "remove"
)

// ElementKind distinguishes the three OSM primitive types. Go has no
// inheritance; the source's class hierarchy for OSM object variants becomes
// this tagged variant, dispatched on Kind.
type ElementKind string

const (
	KindNode     ElementKind = "node"
	KindWay      ElementKind = "way"
	KindRelation ElementKind = "relation"
)

// bboxDegenerateFudge is the minimum bounding-box dimension (in degrees)
// below which a bbox is expanded symmetrically so spatial predicates
// operate on non-degenerate geometry. Preserved from the original as a
// named constant rather than an inline magic number (spec.md §9).
const bboxDegenerateFudge = 1e-4

// Member is one entry in a relation's member list.
type Member struct {
	Type ElementKind
	Ref  int64
	Role string
}

// OsmNode is a single node mutation within an OsmChange.
type OsmNode struct {
	ID        int64
	Lat, Lon  float64
	Tags      map[string]string
	Action    Action
	Version   int
	Priority  bool
	UID       int64
	User      string
	Changeset int64
}

// Point returns the node's coordinate as an orb.Point (lon, lat order, the
// orb/GeoJSON convention).
func (n OsmNode) Point() orb.Point {
	return orb.Point{n.Lon, n.Lat}
}

// OsmWay is a single way mutation within an OsmChange. Geometry is filled
// in by the geometry builder (pkg/geo), not by the parser — a way's XML
// representation carries only node refs, not coordinates.
type OsmWay struct {
	ID        int64
	NodeRefs  []int64
	Tags      map[string]string
	Action    Action
	Priority  bool
	UID       int64
	User      string
	Changeset int64

	Geometry orb.Geometry // polygon if closed, linestring if open; nil until built
	BadGeom  bool
}

// OsmRelation is a single relation mutation within an OsmChange.
type OsmRelation struct {
	ID        int64
	Members   []Member
	Tags      map[string]string
	Action    Action
	Priority  bool
	UID       int64
	User      string
	Changeset int64

	Geometry orb.Geometry // multipolygon or multilinestring; nil until built
	BadGeom  bool
}

// OsmChange is one batch of element mutations parsed from a single
// replication file.
type OsmChange struct {
	Nodes     []OsmNode
	Ways      []OsmWay
	Relations []OsmRelation

	// FinalTimestamp is the latest embedded timestamp observed across all
	// elements in the batch (spec.md §4.3 "changes.back().final_entry").
	FinalTimestamp time.Time
}

// ChangeSet is one OSM editing session's metadata, parsed from a
// changeset-dump replication file.
type ChangeSet struct {
	ID          int64
	UID         int64
	User        string
	CreatedAt   time.Time
	ClosedAt    time.Time // zero value means still open
	Open        bool
	NumChanges  int
	BBox        orb.Bound
	Hashtags    []string
	Editor      string
	Source      string
}

// IsDegenerate reports whether the changeset should be discarded per
// spec.md §4.3: zero changes, or a bbox collapsed to a single point.
func (c ChangeSet) IsDegenerate() bool {
	if c.NumChanges == 0 {
		return true
	}
	return c.BBox.Min == c.BBox.Max
}

// ExpandDegenerateBBox symmetrically widens a bbox whose width or height is
// smaller than bboxDegenerateFudge, so downstream spatial predicates never
// operate on a zero-area box.
func ExpandDegenerateBBox(b orb.Bound) orb.Bound {
	width := b.Max[0] - b.Min[0]
	height := b.Max[1] - b.Min[1]

	if width >= bboxDegenerateFudge && height >= bboxDegenerateFudge {
		return b
	}

	half := bboxDegenerateFudge / 2
	if width < bboxDegenerateFudge {
		b.Min[0] -= half
		b.Max[0] += half
	}
	if height < bboxDegenerateFudge {
		b.Min[1] -= half
		b.Max[1] += half
	}
	return b
}
