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
	"context"
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hotosm/underpass-go/pkg/geo"
	"github.com/hotosm/underpass-go/pkg/planet"
)

const sampleChangesetDump = `<?xml version="1.0"?>
<osm version="0.6">
<changeset id="500" created_at="2024-01-01T00:00:00Z" closed_at="2024-01-01T00:05:00Z" open="false" num_changes="4" min_lon="1.0" min_lat="1.0" max_lon="1.1" max_lat="1.1" uid="12" user="mapper12">
  <tag k="comment" v="adding cafes"/>
</changeset>
</osm>`

func TestChangeSetProcessor_PriorityChangesetEmitsStatsAndBBox(t *testing.T) {
	p := NewChangeSetProcessor(geo.NewPriorityFilter(nil), nil, false)

	_, batch, err := p.Process(context.Background(), gzipOsmChange(t, sampleChangesetDump), planet.RemoteURL{})
	require.NoError(t, err)

	var sawStats, sawBBox bool
	for _, stmt := range batch.Statements() {
		if strings.Contains(stmt.SQL, "INSERT INTO changesets") {
			sawStats = true
		}
		if strings.Contains(stmt.SQL, "UPDATE changesets SET bbox") {
			sawBBox = true
		}
	}
	assert.True(t, sawStats)
	assert.True(t, sawBBox)
}

func TestChangeSetProcessor_NonPriorityChangesetEmitsNothing(t *testing.T) {
	farAway := orb.Polygon{{{50, 50}, {51, 50}, {51, 51}, {50, 51}, {50, 50}}}
	p := NewChangeSetProcessor(geo.NewPriorityFilter(orb.MultiPolygon{farAway}), nil, false)

	_, batch, err := p.Process(context.Background(), gzipOsmChange(t, sampleChangesetDump), planet.RemoteURL{})
	require.NoError(t, err)

	assert.Empty(t, batch.Statements(), "a changeset whose bbox misses the priority polygon emits no SQL")
}

func TestChangeSetProcessor_ReturnsFinalTimestamp(t *testing.T) {
	p := NewChangeSetProcessor(geo.NewPriorityFilter(nil), nil, false)

	ts, _, err := p.Process(context.Background(), gzipOsmChange(t, sampleChangesetDump), planet.RemoteURL{})
	require.NoError(t, err)
	assert.Equal(t, 2024, ts.Year())
}

func TestChangeSetProcessor_DisableStatsEmitsNothing(t *testing.T) {
	p := NewChangeSetProcessor(geo.NewPriorityFilter(nil), nil, true)

	ts, batch, err := p.Process(context.Background(), gzipOsmChange(t, sampleChangesetDump), planet.RemoteURL{})
	require.NoError(t, err)
	assert.Empty(t, batch.Statements(), "disable_stats must suppress every changesets row, even for an in-priority changeset")
	assert.Equal(t, 2024, ts.Year(), "disable_stats must not affect cursor advancement")
}
