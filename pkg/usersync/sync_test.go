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

package usersync

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hotosm/underpass-go/pkg/sqlout"
)

// fakeQuerier is a minimal sqlout.Querier, mirroring the one in
// pkg/replicator/driver_test.go, duplicated locally since that type is
// private to its package.
type fakeQuerier struct {
	mu      sync.Mutex
	execSQL []string
	commits int
}

func (q *fakeQuerier) Begin(ctx context.Context) (sqlout.Tx, error) {
	return &fakeTx{q: q}, nil
}

func (q *fakeQuerier) Query(ctx context.Context, sql string, args ...interface{}) (sqlout.Rows, error) {
	return nil, errors.New("not used by SyncOnce tests")
}

type fakeTx struct{ q *fakeQuerier }

func (t *fakeTx) Exec(ctx context.Context, sql string, args ...interface{}) (int64, error) {
	t.q.mu.Lock()
	defer t.q.mu.Unlock()
	t.q.execSQL = append(t.q.execSQL, sql)
	return 1, nil
}

func (t *fakeTx) Commit(ctx context.Context) error {
	t.q.mu.Lock()
	defer t.q.mu.Unlock()
	t.q.commits++
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error { return nil }

// fakeSource is a TaskingManagerUserSource returning a fixed roster or error.
type fakeSource struct {
	users []TMUser
	err   error
}

func (s fakeSource) FetchUsers(ctx context.Context) ([]TMUser, error) {
	return s.users, s.err
}

func sampleUsers() []TMUser {
	return []TMUser{
		{ID: 1, Name: "Ada", Username: "ada", Role: RoleMapper, MappingLevel: MappingLevelAdvanced},
		{ID: 2, Name: "Grace", Username: "grace", Role: RoleAdmin, MappingLevel: MappingLevelIntermediate},
	}
}

func TestSyncer_SyncOnceUpsertsAllUsersAndDeletesMissing(t *testing.T) {
	q := &fakeQuerier{}
	s := NewSyncer(fakeSource{users: sampleUsers()}, &sqlout.DB{Pool: q}, time.Minute, true, nil)

	require.NoError(t, s.SyncOnce(context.Background()))

	assert.Equal(t, 1, q.commits)
	var upserts, deletes int
	for _, sql := range q.execSQL {
		if strings.Contains(sql, "INSERT INTO users") {
			upserts++
		}
		if strings.Contains(sql, "DELETE FROM users") {
			deletes++
		}
	}
	assert.Equal(t, 2, upserts)
	assert.Equal(t, 1, deletes)
}

func TestSyncer_SyncOnceSkipsDeleteWhenDisabled(t *testing.T) {
	q := &fakeQuerier{}
	s := NewSyncer(fakeSource{users: sampleUsers()}, &sqlout.DB{Pool: q}, time.Minute, false, nil)

	require.NoError(t, s.SyncOnce(context.Background()))

	for _, sql := range q.execSQL {
		assert.False(t, strings.Contains(sql, "DELETE FROM users"), "delete must not run when deleteMissing is false")
	}
}

func TestSyncer_SyncOnceNoUsersAndNoDeleteIsNoOp(t *testing.T) {
	q := &fakeQuerier{}
	s := NewSyncer(fakeSource{}, &sqlout.DB{Pool: q}, time.Minute, false, nil)

	require.NoError(t, s.SyncOnce(context.Background()))
	assert.Equal(t, 0, q.commits, "nothing to upsert and deletion disabled commits nothing")
}

func TestSyncer_SyncOnceEmptyRosterStillDeletesWhenEnabled(t *testing.T) {
	q := &fakeQuerier{}
	s := NewSyncer(fakeSource{}, &sqlout.DB{Pool: q}, time.Minute, true, nil)

	require.NoError(t, s.SyncOnce(context.Background()))
	assert.Equal(t, 1, q.commits, "an empty upstream roster with deleteMissing still clears local rows")
}

func TestSyncer_SyncOnceReturnsErrorOnFetchFailure(t *testing.T) {
	q := &fakeQuerier{}
	s := NewSyncer(fakeSource{err: errors.New("tm db unreachable")}, &sqlout.DB{Pool: q}, time.Minute, true, nil)

	err := s.SyncOnce(context.Background())
	require.Error(t, err)
	assert.Equal(t, 0, q.commits)
}

// fakeRows implements sqlout.Rows over an in-memory slice of rows, each
// already shaped as the positional values FetchUsers scans into.
type fakeRows struct {
	rows []TMUser
	idx  int
}

func (r *fakeRows) Next() bool {
	r.idx++
	return r.idx <= len(r.rows)
}

func (r *fakeRows) Scan(dest ...interface{}) error {
	u := r.rows[r.idx-1]
	*(dest[0].(*int64)) = u.ID
	*(dest[1].(*string)) = u.Name
	*(dest[2].(*string)) = u.Username
	*(dest[3].(*Gender)) = u.Gender
	*(dest[4].(*Role)) = u.Role
	*(dest[5].(*MappingLevel)) = u.MappingLevel
	*(dest[6].(*int)) = u.TasksMapped
	*(dest[7].(*int)) = u.TasksValidated
	*(dest[8].(*int)) = u.TasksInvalidated
	*(dest[9].(*time.Time)) = u.DateRegistered
	*(dest[10].(*time.Time)) = u.LastValidationDate
	return nil
}

func (r *fakeRows) Close()     {}
func (r *fakeRows) Err() error { return nil }

type queryOnlyPool struct {
	rows sqlout.Rows
	err  error
}

func (p queryOnlyPool) Begin(ctx context.Context) (sqlout.Tx, error) {
	return nil, errors.New("not used by FetchUsers tests")
}

func (p queryOnlyPool) Query(ctx context.Context, sql string, args ...interface{}) (sqlout.Rows, error) {
	return p.rows, p.err
}

func TestPostgresUserSource_FetchUsersScansEveryRow(t *testing.T) {
	want := sampleUsers()
	src := NewPostgresUserSource(queryOnlyPool{rows: &fakeRows{rows: want}})

	got, err := src.FetchUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, want[0].Username, got[0].Username)
	assert.Equal(t, want[1].Role, got[1].Role)
}

func TestPostgresUserSource_FetchUsersPropagatesQueryError(t *testing.T) {
	src := NewPostgresUserSource(queryOnlyPool{err: errors.New("connection refused")})

	_, err := src.FetchUsers(context.Background())
	require.Error(t, err)
}
