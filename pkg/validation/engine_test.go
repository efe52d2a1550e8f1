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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hotosm/underpass-go/pkg/osm"
)

type stubPlugin struct {
	wayResult ValidationStatus
}

func (s stubPlugin) CheckNode(n osm.OsmNode) ValidationStatus         { return ValidationStatus{OsmID: n.ID} }
func (s stubPlugin) CheckWay(w osm.OsmWay) ValidationStatus           { s.wayResult.OsmID = w.ID; return s.wayResult }
func (s stubPlugin) CheckRelation(r osm.OsmRelation) ValidationStatus { return ValidationStatus{OsmID: r.ID} }

func newTestEngine(t *testing.T, plugin Plugin) *Engine {
	t.Helper()
	global, err := NewGlobalChecks(context.Background(), "")
	require.NoError(t, err)
	return NewEngine(plugin, global)
}

func TestEngine_RemoveActionAlwaysDeletes(t *testing.T) {
	engine := newTestEngine(t, stubPlugin{})
	way := osm.OsmWay{ID: 42, Action: osm.ActionRemove}

	decision, err := engine.EvaluateWay(context.Background(), way, 0)
	require.NoError(t, err)
	assert.True(t, decision.Delete)
	assert.Nil(t, decision.Upsert)
	assert.EqualValues(t, 42, decision.OsmID)
}

func TestEngine_EmptyStatusQueuesForDeletion(t *testing.T) {
	engine := newTestEngine(t, stubPlugin{wayResult: ValidationStatus{Status: map[Status]struct{}{}}})
	way := osm.OsmWay{ID: 1, Action: osm.ActionCreate}

	decision, err := engine.EvaluateWay(context.Background(), way, 0)
	require.NoError(t, err)
	assert.True(t, decision.Delete)
}

func TestEngine_NonEmptyStatusUpserts(t *testing.T) {
	plugin := stubPlugin{wayResult: ValidationStatus{Status: map[Status]struct{}{StatusComplete: {}}}}
	engine := newTestEngine(t, plugin)
	way := osm.OsmWay{ID: 1, Action: osm.ActionCreate}

	decision, err := engine.EvaluateWay(context.Background(), way, 0)
	require.NoError(t, err)
	require.NotNil(t, decision.Upsert)
	assert.True(t, decision.Upsert.HasStatus(StatusComplete))
}

func TestEngine_GlobalBadGeomClearedWhenNotAsserted(t *testing.T) {
	// Plugin reports badgeom, but the driver's global check (BadGeom: false
	// since way.BadGeom is false) disagrees — the global evaluation is
	// authoritative and the flag is cleared.
	plugin := stubPlugin{wayResult: ValidationStatus{Status: map[Status]struct{}{StatusBadGeom: {}, StatusComplete: {}}}}
	engine := newTestEngine(t, plugin)
	way := osm.OsmWay{ID: 1, Action: osm.ActionCreate, BadGeom: false}

	decision, err := engine.EvaluateWay(context.Background(), way, 0)
	require.NoError(t, err)
	require.NotNil(t, decision.Upsert)
	assert.False(t, decision.Upsert.HasStatus(StatusBadGeom))
	assert.True(t, decision.Upsert.HasStatus(StatusComplete))
}

func TestEngine_GlobalBadGeomAssertedFromDriverState(t *testing.T) {
	plugin := stubPlugin{wayResult: ValidationStatus{Status: map[Status]struct{}{}}}
	engine := newTestEngine(t, plugin)
	way := osm.OsmWay{ID: 1, Action: osm.ActionCreate, BadGeom: true}

	decision, err := engine.EvaluateWay(context.Background(), way, 0)
	require.NoError(t, err)
	require.NotNil(t, decision.Upsert)
	assert.True(t, decision.Upsert.HasStatus(StatusBadGeom))
}

func TestEngine_DuplicateDetectedOnSecondOccurrence(t *testing.T) {
	plugin := stubPlugin{wayResult: ValidationStatus{Status: map[Status]struct{}{}}}
	engine := newTestEngine(t, plugin)
	way := osm.OsmWay{ID: 7, Action: osm.ActionCreate}

	_, err := engine.EvaluateWay(context.Background(), way, 0)
	require.NoError(t, err)

	decision, err := engine.EvaluateWay(context.Background(), way, 0)
	require.NoError(t, err)
	require.NotNil(t, decision.Upsert)
	assert.True(t, decision.Upsert.HasStatus(StatusDuplicate))
}
