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

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, g.Write(&m))
	return m.GetGauge().GetValue()
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestRegistry_ObserveLagTracksElapsedTime(t *testing.T) {
	reg := NewRegistry(prometheus.NewRegistry())
	reg.ObserveLag("minutely", time.Now().Add(-30*time.Second))

	v := gaugeValue(t, reg.ReplicationLagSeconds.WithLabelValues("minutely"))
	require.InDelta(t, 30, v, 2)
}

func TestRegistry_SetCaughtUpTogglesBetweenZeroAndOne(t *testing.T) {
	reg := NewRegistry(prometheus.NewRegistry())

	reg.SetCaughtUp("minutely", true)
	require.Equal(t, 1.0, gaugeValue(t, reg.CatchUp.WithLabelValues("minutely")))

	reg.SetCaughtUp("minutely", false)
	require.Equal(t, 0.0, gaugeValue(t, reg.CatchUp.WithLabelValues("minutely")))
}

func TestRegistry_AddRowsAppliedAccumulates(t *testing.T) {
	reg := NewRegistry(prometheus.NewRegistry())

	reg.AddRowsApplied("ways", 5)
	reg.AddRowsApplied("ways", 3)

	require.Equal(t, 8.0, counterValue(t, reg.RowsApplied.WithLabelValues("ways")))
}

func TestRegistry_ObserveRoundIncrementsOutcomeCounter(t *testing.T) {
	reg := NewRegistry(prometheus.NewRegistry())

	reg.ObserveRound("minutely", "applied", 250*time.Millisecond)
	reg.ObserveRound("minutely", "applied", 100*time.Millisecond)

	require.Equal(t, 2.0, counterValue(t, reg.RoundsTotal.WithLabelValues("minutely", "applied")))
}
