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

// Package metrics exposes the replication daemon's Prometheus instrumentation.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry groups every metric the driver and its subsystems update. One
// Registry is constructed at startup and threaded through both drivers.
type Registry struct {
	ReplicationLagSeconds *prometheus.GaugeVec
	RoundDuration         *prometheus.HistogramVec
	RoundsTotal           *prometheus.CounterVec
	RowsApplied           *prometheus.CounterVec
	MirrorFailures        *prometheus.CounterVec
	CatchUp               *prometheus.GaugeVec
}

// NewRegistry constructs and registers every metric against reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	m := &Registry{
		ReplicationLagSeconds: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "underpass",
			Name:      "replication_lag_seconds",
			Help:      "Seconds between now and the most recent applied state file's timestamp.",
		}, []string{"frequency"}),

		RoundDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "underpass",
			Name:      "round_duration_seconds",
			Help:      "Wall-clock time to fetch, parse, and commit one replication round.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"frequency"}),

		RoundsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "underpass",
			Name:      "rounds_total",
			Help:      "Replication rounds completed, by outcome.",
		}, []string{"frequency", "outcome"}),

		RowsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "underpass",
			Name:      "rows_applied_total",
			Help:      "Rows written to the destination database, by table.",
		}, []string{"table"}),

		MirrorFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "underpass",
			Name:      "mirror_failures_total",
			Help:      "Download failures per planet mirror, by status.",
		}, []string{"mirror", "status"}),

		CatchUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "underpass",
			Name:      "caught_up",
			Help:      "1 when the driver's cursor is within the catch-up window of real time, else 0.",
		}, []string{"frequency"}),
	}

	reg.MustRegister(
		m.ReplicationLagSeconds,
		m.RoundDuration,
		m.RoundsTotal,
		m.RowsApplied,
		m.MirrorFailures,
		m.CatchUp,
	)
	return m
}

// ObserveRound records one round's duration and outcome.
func (m *Registry) ObserveRound(frequency, outcome string, d time.Duration) {
	m.RoundDuration.WithLabelValues(frequency).Observe(d.Seconds())
	m.RoundsTotal.WithLabelValues(frequency, outcome).Inc()
}

// ObserveLag records the gap between the most recently applied state file's
// timestamp and now.
func (m *Registry) ObserveLag(frequency string, fileTimestamp time.Time) {
	m.ReplicationLagSeconds.WithLabelValues(frequency).Set(time.Since(fileTimestamp).Seconds())
}

// SetCaughtUp records whether frequency's cursor is inside the catch-up window.
func (m *Registry) SetCaughtUp(frequency string, caughtUp bool) {
	v := 0.0
	if caughtUp {
		v = 1.0
	}
	m.CatchUp.WithLabelValues(frequency).Set(v)
}

// AddRowsApplied increments the rows-written counter for table by n.
func (m *Registry) AddRowsApplied(table string, n int) {
	m.RowsApplied.WithLabelValues(table).Add(float64(n))
}

// AddMirrorFailure increments the per-mirror failure counter.
func (m *Registry) AddMirrorFailure(mirror, status string) {
	m.MirrorFailures.WithLabelValues(mirror, status).Inc()
}
