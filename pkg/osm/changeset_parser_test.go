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

package osm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleChangesets = `<?xml version="1.0" encoding="UTF-8"?>
<osm version="0.6" generator="planet-dump-ng">
<changeset id="100" created_at="2024-01-01T00:00:00Z" closed_at="2024-01-01T00:05:00Z" open="false" num_changes="12" min_lon="1.0" min_lat="1.0" max_lon="1.01" max_lat="1.01" uid="7" user="mapper7">
  <tag k="comment" v="fixing roads"/>
  <tag k="created_by" v="JOSM/1.5"/>
  <tag k="hashtags" v="#hotosm-1234;#missingmaps"/>
</changeset>
<changeset id="101" created_at="2024-01-01T00:06:00Z" open="true" num_changes="3" min_lon="2.0" min_lat="2.0" max_lon="2.0" max_lat="2.0" uid="8" user="mapper8">
</changeset>
<changeset id="102" created_at="2024-01-01T00:07:00Z" closed_at="2024-01-01T00:08:00Z" open="false" num_changes="0" min_lon="3.0" min_lat="3.0" max_lon="3.0" max_lat="3.0" uid="9" user="mapper9">
</changeset>
</osm>`

func TestParseChangeSetFile(t *testing.T) {
	result, err := ParseChangeSetFile(gzipString(t, sampleChangesets))
	require.NoError(t, err)

	// changeset 101 is a degenerate single-point bbox (min==max) and is
	// discarded; changeset 102 has num_changes==0 and is discarded too.
	require.Len(t, result.ChangeSets, 1)

	cs := result.ChangeSets[0]
	assert.EqualValues(t, 100, cs.ID)
	assert.Equal(t, "mapper7", cs.User)
	assert.False(t, cs.Open)
	assert.Equal(t, "fixing roads", cs.Source)
	assert.Equal(t, "JOSM/1.5", cs.Editor)
	assert.ElementsMatch(t, []string{"#hotosm-1234", "#missingmaps"}, cs.Hashtags)
	assert.Equal(t, int64(2024), int64(cs.ClosedAt.Year()))
}

func TestParseChangeSetFile_OpenChangesetWithoutClosedAt(t *testing.T) {
	const body = `<?xml version="1.0"?>
<osm version="0.6">
<changeset id="1" created_at="2024-01-01T00:00:00Z" num_changes="5" min_lon="1.0" min_lat="1.0" max_lon="1.2" max_lat="1.2" uid="1" user="a">
</changeset>
</osm>`
	result, err := ParseChangeSetFile(gzipString(t, body))
	require.NoError(t, err)
	require.Len(t, result.ChangeSets, 1)
	assert.True(t, result.ChangeSets[0].Open)
	assert.True(t, result.ChangeSets[0].ClosedAt.IsZero())
}

func TestExpandDegenerateBBox(t *testing.T) {
	result, err := ParseChangeSetFile(gzipString(t, `<?xml version="1.0"?>
<osm version="0.6">
<changeset id="1" created_at="2024-01-01T00:00:00Z" num_changes="1" min_lon="1.0" min_lat="1.0" max_lon="1.00001" max_lat="1.00001" uid="1" user="a"/>
</osm>`))
	require.NoError(t, err)
	require.Len(t, result.ChangeSets, 1)

	b := result.ChangeSets[0].BBox
	assert.GreaterOrEqual(t, b.Max[0]-b.Min[0], bboxDegenerateFudge)
	assert.GreaterOrEqual(t, b.Max[1]-b.Min[1], bboxDegenerateFudge)
}
