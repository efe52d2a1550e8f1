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
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hotosm/underpass-go/internal/eventlog"
	"github.com/hotosm/underpass-go/pkg/httpstatus"
	"github.com/hotosm/underpass-go/pkg/metrics"
	"github.com/hotosm/underpass-go/pkg/planet"
	"github.com/hotosm/underpass-go/pkg/sqlout"
)

// catchUpWindow bounds how close a round's latest observed timestamp must be
// to now before the driver considers itself caught up, per spec.md §4.8.
const catchUpWindow = 2 * time.Minute

// pollInterval is how long the driver waits between rounds once caught up,
// matching the planet mirrors' own minutely publication cadence.
const pollInterval = 45 * time.Second

// Driver runs the round loop for one replication frequency: fetch N
// positions concurrently (N=1 once caught up, N=concurrency while catching
// up historical backlog), commit the round's combined SQL as one
// transaction, advance the cursor, and repeat. One Driver owns one
// frequency; a process runs one Driver per configured frequency.
type Driver struct {
	frequency   planet.Frequency
	mirrors     *planet.MirrorList
	store       *planet.StateStore
	db          *sqlout.DB
	process     FileProcessor
	concurrency int
	endTime     time.Time
	metrics     *metrics.Registry
	logger      *slog.Logger

	mu            sync.RWMutex
	cursor        planet.RemoteURL
	caughtUp      bool
	lastTimestamp time.Time

	eventLogPath string
}

// SetEventLogPath points the driver at a JSONL audit file for round
// outcomes, appended via internal/eventlog. Leaving it unset (the default)
// disables the audit trail without affecting replication.
func (d *Driver) SetEventLogPath(path string) {
	d.eventLogPath = path
}

// NewDriver constructs a Driver starting at start. endTime is zero for an
// unbounded (daemon) run, or a specific cutover point for a backfill.
func NewDriver(
	frequency planet.Frequency,
	start planet.RemoteURL,
	mirrors *planet.MirrorList,
	store *planet.StateStore,
	db *sqlout.DB,
	process FileProcessor,
	concurrency int,
	endTime time.Time,
	reg *metrics.Registry,
	logger *slog.Logger,
) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &Driver{
		frequency:   frequency,
		cursor:      start,
		mirrors:     mirrors,
		store:       store,
		db:          db,
		process:     process,
		concurrency: concurrency,
		endTime:     endTime,
		metrics:     reg,
		logger:      logger,
	}
}

// Run executes rounds until ctx is cancelled or endTime passes.
func (d *Driver) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if !d.endTime.IsZero() && !time.Now().Before(d.endTime) {
			d.logger.Info("replicator.driver.end_time_reached", "frequency", d.frequency)
			return nil
		}

		roundID := uuid.NewString()
		roundStart := time.Now()
		outcome, err := d.runRound(ctx, roundID)
		if d.metrics != nil {
			d.metrics.ObserveRound(string(d.frequency), outcome, time.Since(roundStart))
		}
		if err != nil {
			d.logger.Error("replicator.round.failed", "frequency", d.frequency, "round_id", roundID, "outcome", outcome, "err", err)
		}

		d.mu.RLock()
		sequence := d.cursor.Sequence()
		d.mu.RUnlock()
		ev := eventlog.Event{Frequency: string(d.frequency), Outcome: outcome, Sequence: sequence, RoundID: roundID}
		if err != nil {
			ev.Err = err.Error()
		}
		eventlog.Append(d.eventLogPath, d.logger, ev)

		d.mu.RLock()
		caughtUp := d.caughtUp
		d.mu.RUnlock()
		if caughtUp {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(pollInterval):
			}
		}
	}
}

// taskOutcome is one concurrently fetched position's disposition, collected
// before any of the round's effects (cursor advance, commit) are applied.
type taskOutcome struct {
	cursor  planet.RemoteURL
	outcome Outcome
	ts      time.Time
	batch   *sqlout.Batch
}

// runRound fetches one round of positions and, if the round produced any
// applicable data, commits it as a single transaction. It returns the
// round's outcome label for metrics and a non-nil error only when the round
// could not make progress (io_error/parse_error; remote_not_found while
// caught up is reported as "remote_not_found" with a nil error, since
// waiting is expected steady-state behavior, not a failure).
func (d *Driver) runRound(ctx context.Context, roundID string) (string, error) {
	d.mu.RLock()
	caughtUp := d.caughtUp
	roundStart := d.cursor.Clone()
	d.mu.RUnlock()

	n := d.concurrency
	if caughtUp {
		n = 1
	}

	cursors := make([]planet.RemoteURL, n)
	cur := roundStart.Clone()
	for i := 0; i < n; i++ {
		cursors[i] = cur.Clone()
		cur.Increment()
	}

	// Mirror rotation happens here, sequentially on this goroutine, once per
	// task submission — never concurrently — per spec.md §5. Each task keeps
	// its own private snapshot for the lifetime of its retry loop.
	snapshots := make([][]*planet.Mirror, n)
	for i := 0; i < n; i++ {
		snapshots[i] = d.mirrors.Snapshot()
		d.mirrors.Rotate()
	}

	results := make([]taskOutcome, n)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			fetched := fetchWithRetry(gctx, snapshots[i], cursors[i])
			if fetched.outcome != OutcomeSuccess {
				if d.metrics != nil {
					d.metrics.AddMirrorFailure(cursors[i].Domain, string(fetched.outcome))
				}
				results[i] = taskOutcome{cursor: cursors[i], outcome: fetched.outcome}
				return nil
			}

			ts, batch, err := d.process.Process(gctx, fetched.data, cursors[i])
			if err != nil {
				d.logger.Warn("replicator.task.parse_error", "frequency", d.frequency, "round_id", roundID, "path", cursors[i].Path(), "err", err)
				results[i] = taskOutcome{cursor: cursors[i], outcome: OutcomeParseError}
				return nil
			}
			results[i] = taskOutcome{cursor: cursors[i], outcome: OutcomeSuccess, ts: ts, batch: batch}
			return nil
		})
	}
	_ = g.Wait()

	var batches []*sqlout.Batch
	var latestTS time.Time
	advanceTo := roundStart.Clone()

	for i := 0; i < n; i++ {
		r := results[i]
		switch r.outcome {
		case OutcomeSuccess:
			batches = append(batches, r.batch)
			if r.ts.After(latestTS) {
				latestTS = r.ts
			}
			advanceTo = r.cursor.Clone()
			advanceTo.Increment()

		case OutcomeRemoteNotFound:
			if caughtUp {
				// Steady state: nothing published yet at this position. Wait
				// for the next round rather than advancing past it.
				return string(OutcomeRemoteNotFound), nil
			}
			// Historical catch-up: a gap in the archive, skip over it.
			advanceTo = r.cursor.Clone()
			advanceTo.Increment()

		default:
			return string(r.outcome), fmt.Errorf("replicator: round at %s: %s", r.cursor.Path(), r.outcome)
		}
	}

	merged := sqlout.MergeBatches(batches...)
	if advanceTo.Sequence() != roundStart.Sequence() {
		sqlout.EmitStateFile(merged, string(d.frequency), advanceTo.Path(), advanceTo.Sequence(), latestTS)
	}

	if len(merged.Statements()) > 0 {
		if err := sqlout.Commit(ctx, d.db, merged); err != nil {
			return string(OutcomeIOError), fmt.Errorf("replicator: commit round: %w", err)
		}
	}

	if err := d.store.Put(ctx, planet.StateFile{
		Path:      advanceTo.Path(),
		Timestamp: latestTS,
		Sequence:  advanceTo.Sequence(),
		Frequency: d.frequency,
	}); err != nil {
		d.logger.Warn("replicator.state_store.put_failed", "frequency", d.frequency, "err", err)
	}

	d.mu.Lock()
	d.cursor = advanceTo
	if !latestTS.IsZero() {
		d.lastTimestamp = latestTS
	}
	d.caughtUp = !d.lastTimestamp.IsZero() && time.Since(d.lastTimestamp) <= catchUpWindow
	newlyCaughtUp := d.caughtUp
	d.mu.Unlock()

	if d.metrics != nil {
		d.metrics.SetCaughtUp(string(d.frequency), newlyCaughtUp)
		if !latestTS.IsZero() {
			d.metrics.ObserveLag(string(d.frequency), latestTS)
		}
	}

	return string(OutcomeSuccess), nil
}

// Snapshot implements httpstatus.StatusSource, reporting this driver's
// current cursor position for the /status endpoint.
func (d *Driver) Snapshot() []httpstatus.FrequencyStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return []httpstatus.FrequencyStatus{{
		Frequency: string(d.frequency),
		Sequence:  d.cursor.Sequence(),
		Path:      d.cursor.Path(),
		Timestamp: d.lastTimestamp,
		CaughtUp:  d.caughtUp,
	}}
}
