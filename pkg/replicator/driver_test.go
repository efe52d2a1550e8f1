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
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hotosm/underpass-go/pkg/planet"
	"github.com/hotosm/underpass-go/pkg/sqlout"
)

// fakeFileProcessor stands in for the osmChange/changeset processors so the
// driver's round loop can be exercised without real OSM data.
type fakeFileProcessor struct {
	ts time.Time
}

func (f fakeFileProcessor) Process(ctx context.Context, data []byte, url planet.RemoteURL) (time.Time, *sqlout.Batch, error) {
	b := &sqlout.Batch{}
	b.Add("INSERT INTO marker (seq) VALUES ($1)", url.Sequence())
	return f.ts, b, nil
}

// fakeQuerier is a minimal sqlout.Querier that counts transactions and
// statements instead of talking to Postgres, so driver tests can assert on
// commit/rollback behavior directly.
type fakeQuerier struct {
	mu        sync.Mutex
	commits   int
	rollbacks int
	execCount int
	failExec  bool
}

func (q *fakeQuerier) Begin(ctx context.Context) (sqlout.Tx, error) {
	return &fakeTx{q: q}, nil
}

func (q *fakeQuerier) Query(ctx context.Context, sql string, args ...interface{}) (sqlout.Rows, error) {
	return nil, errors.New("not used by driver tests")
}

type fakeTx struct{ q *fakeQuerier }

func (t *fakeTx) Exec(ctx context.Context, sql string, args ...interface{}) (int64, error) {
	t.q.mu.Lock()
	defer t.q.mu.Unlock()
	if t.q.failExec {
		return 0, errors.New("boom")
	}
	t.q.execCount++
	return 1, nil
}

func (t *fakeTx) Commit(ctx context.Context) error {
	t.q.mu.Lock()
	defer t.q.mu.Unlock()
	t.q.commits++
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	t.q.mu.Lock()
	defer t.q.mu.Unlock()
	t.q.rollbacks++
	return nil
}

func newTLSMirrorAlways(t *testing.T, status int, body string) (*planet.Mirror, *httptest.Server) {
	t.Helper()
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		w.Write([]byte(body))
	}))
	domain := strings.TrimPrefix(srv.URL, "https://")
	return planet.NewMirrorWithClient(domain, "/planet", srv.Client(), nil), srv
}

func newTestDriver(t *testing.T, mirror *planet.Mirror, process FileProcessor, concurrency int) (*Driver, *fakeQuerier) {
	t.Helper()
	q := &fakeQuerier{}
	db := &sqlout.DB{Pool: q}
	store := planet.NewStateStore(nil)
	mirrors := planet.NewMirrorList([]*planet.Mirror{mirror})
	start := planet.RemoteURL{Frequency: planet.Minutely}
	d := NewDriver(planet.Minutely, start, mirrors, store, db, process, concurrency, time.Time{}, nil, nil)
	return d, q
}

func TestDriver_SuccessfulRoundAdvancesCursorAndCommitsOnce(t *testing.T) {
	mirror, srv := newTLSMirrorAlways(t, http.StatusOK, "0123456789-enough-bytes")
	defer srv.Close()

	d, q := newTestDriver(t, mirror, fakeFileProcessor{ts: time.Now().Add(-time.Hour)}, 1)

	outcome, err := d.runRound(context.Background(), "test-round")
	require.NoError(t, err)
	assert.Equal(t, string(OutcomeSuccess), outcome)
	assert.Equal(t, int64(1), d.cursor.Sequence())
	assert.Equal(t, 1, q.commits)
	assert.Equal(t, 0, q.rollbacks)
}

func TestDriver_IOErrorAbortsRoundWithNoCommitOrAdvance(t *testing.T) {
	mirror, srv := newTLSMirrorAlways(t, http.StatusInternalServerError, "")
	defer srv.Close()

	d, q := newTestDriver(t, mirror, fakeFileProcessor{ts: time.Now()}, 1)

	outcome, err := d.runRound(context.Background(), "test-round")
	require.Error(t, err)
	assert.Equal(t, string(OutcomeIOError), outcome)
	assert.Equal(t, int64(0), d.cursor.Sequence())
	assert.Equal(t, 0, q.commits)
}

func TestDriver_RemoteNotFoundWhileCaughtUpWaitsWithoutAdvancing(t *testing.T) {
	mirror, srv := newTLSMirrorAlways(t, http.StatusNotFound, "")
	defer srv.Close()

	d, q := newTestDriver(t, mirror, fakeFileProcessor{ts: time.Now()}, 3)
	d.caughtUp = true // steady state: N collapses to 1 inside runRound

	outcome, err := d.runRound(context.Background(), "test-round")
	require.NoError(t, err)
	assert.Equal(t, string(OutcomeRemoteNotFound), outcome)
	assert.Equal(t, int64(0), d.cursor.Sequence())
	assert.Equal(t, 0, q.commits)
}

func TestDriver_RemoteNotFoundDuringCatchUpSkipsGapAndAdvances(t *testing.T) {
	mirror, srv := newTLSMirrorAlways(t, http.StatusNotFound, "")
	defer srv.Close()

	d, q := newTestDriver(t, mirror, fakeFileProcessor{ts: time.Now()}, 3)
	// d.caughtUp defaults to false: historical catch-up, concurrency=3.

	outcome, err := d.runRound(context.Background(), "test-round")
	require.NoError(t, err)
	assert.Equal(t, string(OutcomeSuccess), outcome)
	assert.Equal(t, int64(3), d.cursor.Sequence(), "all three gaps in the round are skipped, advancing the cursor past them")
	assert.Equal(t, 1, q.commits, "the advanced state-file position is still committed even with no successful fetch")
}

func TestDriver_MirrorFailoverWithinOneRound(t *testing.T) {
	// Scenario S6 at the driver level: the first mirror in the rotation 404s
	// and the next one serves the file, so the single round succeeds and the
	// cursor advances exactly once.
	missing, srvMissing := newTLSMirrorAlways(t, http.StatusNotFound, "")
	defer srvMissing.Close()
	serving, srvServing := newTLSMirrorAlways(t, http.StatusOK, "0123456789-enough-bytes")
	defer srvServing.Close()

	q := &fakeQuerier{}
	mirrors := planet.NewMirrorList([]*planet.Mirror{missing, serving})
	start := planet.RemoteURL{Frequency: planet.Minutely}
	d := NewDriver(planet.Minutely, start, mirrors, planet.NewStateStore(nil), &sqlout.DB{Pool: q},
		fakeFileProcessor{ts: time.Now().Add(-time.Hour)}, 1, time.Time{}, nil, nil)

	outcome, err := d.runRound(context.Background(), "test-round")
	require.NoError(t, err)
	assert.Equal(t, string(OutcomeSuccess), outcome)
	assert.Equal(t, int64(1), d.cursor.Sequence())
	assert.Equal(t, 1, q.commits)
}
