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

package validation

import (
	"context"
	"fmt"

	"github.com/hotosm/underpass-go/pkg/osm"
)

// Engine iterates parsed features, dispatches each to the loaded Plugin,
// folds in the driver-owned global checks, and decides the upsert/delete
// outcome per spec.md §4.7.
type Engine struct {
	plugin  Plugin
	global  *GlobalChecks
	seenIDs map[int64]int // osm_id -> occurrences seen this round, for duplicate detection
}

// NewEngine constructs an Engine over a loaded Plugin and compiled global
// policy.
func NewEngine(plugin Plugin, global *GlobalChecks) *Engine {
	return &Engine{plugin: plugin, global: global, seenIDs: make(map[int64]int)}
}

// Decision is the driver's per-feature action after validation.
type Decision struct {
	OsmID  int64
	Upsert *ValidationStatus // non-nil: upsert this row, replacing any existing status array
	Delete bool              // true: delete any existing row for OsmID
}

// EvaluateWay runs the plugin and global checks over w and returns the
// driver's decision. neighborCount is the number of other ways in this
// round sharing w's geometry footprint, precomputed by the caller.
func (e *Engine) EvaluateWay(ctx context.Context, w osm.OsmWay, neighborCount int) (Decision, error) {
	e.seenIDs[w.ID]++

	if w.Action == osm.ActionRemove {
		return Decision{OsmID: w.ID, Delete: true}, nil
	}

	result := e.plugin.CheckWay(w)

	globalStatus, err := e.global.Evaluate(ctx, globalInputFromWay(w, neighborCount, e.seenIDs[w.ID]-1))
	if err != nil {
		return Decision{}, fmt.Errorf("validation: evaluate way %d: %w", w.ID, err)
	}

	merged := mergeGlobalStatus(result.Status, globalStatus)

	if len(merged) == 0 {
		return Decision{OsmID: w.ID, Delete: true}, nil
	}
	result.Status = merged
	return Decision{OsmID: w.ID, Upsert: &result}, nil
}

// EvaluateNode runs the plugin and global checks over n, mirroring
// EvaluateWay's disposition rules for the node kind.
func (e *Engine) EvaluateNode(ctx context.Context, n osm.OsmNode) (Decision, error) {
	e.seenIDs[n.ID]++

	if n.Action == osm.ActionRemove {
		return Decision{OsmID: n.ID, Delete: true}, nil
	}

	result := e.plugin.CheckNode(n)

	globalStatus, err := e.global.Evaluate(ctx, GlobalCheckInput{DuplicateCount: e.seenIDs[n.ID] - 1})
	if err != nil {
		return Decision{}, fmt.Errorf("validation: evaluate node %d: %w", n.ID, err)
	}

	merged := mergeGlobalStatus(result.Status, globalStatus)
	if len(merged) == 0 {
		return Decision{OsmID: n.ID, Delete: true}, nil
	}
	result.Status = merged
	return Decision{OsmID: n.ID, Upsert: &result}, nil
}

// EvaluateRelation runs the plugin and global checks over rel, mirroring
// EvaluateWay's disposition rules for the relation kind.
func (e *Engine) EvaluateRelation(ctx context.Context, rel osm.OsmRelation) (Decision, error) {
	e.seenIDs[rel.ID]++

	if rel.Action == osm.ActionRemove {
		return Decision{OsmID: rel.ID, Delete: true}, nil
	}

	result := e.plugin.CheckRelation(rel)

	globalStatus, err := e.global.Evaluate(ctx, GlobalCheckInput{
		DuplicateCount: e.seenIDs[rel.ID] - 1,
		BadGeom:        rel.BadGeom,
	})
	if err != nil {
		return Decision{}, fmt.Errorf("validation: evaluate relation %d: %w", rel.ID, err)
	}

	merged := mergeGlobalStatus(result.Status, globalStatus)
	if len(merged) == 0 {
		return Decision{OsmID: rel.ID, Delete: true}, nil
	}
	result.Status = merged
	return Decision{OsmID: rel.ID, Upsert: &result}, nil
}

// mergeGlobalStatus applies spec.md §4.7's clearing rule: when the plugin
// omits a condition the driver checks globally (overlapping, duplicate,
// badgeom), the driver explicitly clears that flag rather than leaving a
// stale one from a previous run in place. The merged set is: every
// plugin-reported status, plus exactly the driver-global conditions the
// policy currently asserts — any global condition the plugin did not also
// assert but the policy no longer confirms is dropped.
func mergeGlobalStatus(pluginStatus map[Status]struct{}, globalStatus map[Status]struct{}) map[Status]struct{} {
	merged := make(map[Status]struct{}, len(pluginStatus)+len(globalStatus))
	globalOwned := map[Status]struct{}{StatusOverlapping: {}, StatusDuplicate: {}, StatusBadGeom: {}}

	for st := range pluginStatus {
		if _, owned := globalOwned[st]; owned {
			continue // the driver's global evaluation is authoritative for these
		}
		merged[st] = struct{}{}
	}
	for st := range globalStatus {
		merged[st] = struct{}{}
	}
	return merged
}

// Reset clears the engine's per-round duplicate-tracking state, called by
// the driver at the start of each round.
func (e *Engine) Reset() {
	e.seenIDs = make(map[int64]int)
}
