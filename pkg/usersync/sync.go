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

// Package usersync periodically pulls the user roster from an external
// tasking-manager database and upserts it into the local users table,
// independently of any replication driver, per spec.md §4.9.
package usersync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hotosm/underpass-go/pkg/sqlout"
)

// Gender maps the tasking-manager database's numeric gender column.
type Gender int

const (
	GenderUnset Gender = iota
	GenderMale
	GenderFemale
	GenderSelfDescribe
	GenderPreferNot
)

// Role maps the tasking-manager database's numeric role column.
type Role int

const (
	RoleUnset Role = iota
	RoleReadOnly
	RoleMapper
	RoleAdmin
)

// MappingLevel maps the tasking-manager database's numeric experience level.
type MappingLevel int

const (
	MappingLevelUnset MappingLevel = iota
	MappingLevelBeginner
	MappingLevelIntermediate
	MappingLevelAdvanced
)

// TMUser is one row of the external tasking-manager roster, narrowed to the
// columns the local users table mirrors.
type TMUser struct {
	ID                 int64
	Name               string
	Username           string
	Gender             Gender
	Role               Role
	MappingLevel       MappingLevel
	TasksMapped        int
	TasksValidated     int
	TasksInvalidated   int
	DateRegistered     time.Time
	LastValidationDate time.Time
}

// TaskingManagerUserSource pulls the current user roster from an external
// tasking-manager deployment. The tasking-manager schema itself is out of
// scope (spec.md §1's "external collaborator"); this interface is the only
// contract a Syncer depends on.
type TaskingManagerUserSource interface {
	FetchUsers(ctx context.Context) ([]TMUser, error)
}

// PostgresUserSource is the default TaskingManagerUserSource, reading a
// tasking-manager users table directly over the same pgx-backed Querier
// abstraction pkg/sqlout builds its destination writes on.
type PostgresUserSource struct {
	pool sqlout.Querier
}

// NewPostgresUserSource wraps an already-connected pool. Callers typically
// construct this over a second *pgxpool.Pool pointed at the tasking-manager
// database, distinct from the destination DB's pool.
func NewPostgresUserSource(pool sqlout.Querier) *PostgresUserSource {
	return &PostgresUserSource{pool: pool}
}

func (s *PostgresUserSource) FetchUsers(ctx context.Context) ([]TMUser, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, username, gender, role, mapping_level,
			tasks_mapped, tasks_validated, tasks_invalidated,
			date_registered, last_validation_date
		FROM users`)
	if err != nil {
		return nil, fmt.Errorf("usersync: fetch users: %w", err)
	}
	defer rows.Close()

	var out []TMUser
	for rows.Next() {
		var u TMUser
		if err := rows.Scan(&u.ID, &u.Name, &u.Username, &u.Gender, &u.Role, &u.MappingLevel,
			&u.TasksMapped, &u.TasksValidated, &u.TasksInvalidated,
			&u.DateRegistered, &u.LastValidationDate); err != nil {
			return nil, fmt.Errorf("usersync: scan user row: %w", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("usersync: read user rows: %w", err)
	}
	return out, nil
}

// Syncer upserts the external roster into the local users table on its own
// ticker. It shares only the destination database handle with the
// replication drivers; it never touches the replication cursor or mirror
// state, per spec.md §4.9's "runs independently".
type Syncer struct {
	source        TaskingManagerUserSource
	db            *sqlout.DB
	interval      time.Duration
	deleteMissing bool
	logger        *slog.Logger
}

// NewSyncer constructs a Syncer. deleteMissing controls whether local rows
// whose id is no longer present upstream are removed each sync, per
// spec.md §4.9's "(optionally) delete".
func NewSyncer(source TaskingManagerUserSource, db *sqlout.DB, interval time.Duration, deleteMissing bool, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{source: source, db: db, interval: interval, deleteMissing: deleteMissing, logger: logger}
}

// Run syncs once immediately, then on every tick of its own interval, until
// ctx is cancelled.
func (s *Syncer) Run(ctx context.Context) error {
	if err := s.SyncOnce(ctx); err != nil {
		s.logger.Error("usersync.sync.failed", "err", err)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.SyncOnce(ctx); err != nil {
				s.logger.Error("usersync.sync.failed", "err", err)
			}
		}
	}
}

// SyncOnce pulls the current roster and upserts it as one transaction, per
// tmusers.hh's two-query diff-and-upsert shape: one upsert per row, then
// (if enabled) one delete of everything not in the fetched id set.
func (s *Syncer) SyncOnce(ctx context.Context) error {
	users, err := s.source.FetchUsers(ctx)
	if err != nil {
		return fmt.Errorf("usersync: fetch: %w", err)
	}

	batch := &sqlout.Batch{}
	keep := make([]int64, 0, len(users))
	for _, u := range users {
		emitUpsert(batch, u)
		keep = append(keep, u.ID)
	}
	if s.deleteMissing {
		emitDeleteMissing(batch, keep)
	}

	if len(batch.Statements()) == 0 {
		return nil
	}
	if err := sqlout.Commit(ctx, s.db, batch); err != nil {
		return fmt.Errorf("usersync: commit: %w", err)
	}
	s.logger.Info("usersync.sync.complete", "users", len(users), "delete_missing", s.deleteMissing)
	return nil
}

func emitUpsert(b *sqlout.Batch, u TMUser) {
	b.Add(`
		INSERT INTO users (id, name, username, gender, role, mapping_level,
			tasks_mapped, tasks_validated, tasks_invalidated,
			date_registered, last_validation_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, username = EXCLUDED.username,
			gender = EXCLUDED.gender, role = EXCLUDED.role,
			mapping_level = EXCLUDED.mapping_level,
			tasks_mapped = EXCLUDED.tasks_mapped,
			tasks_validated = EXCLUDED.tasks_validated,
			tasks_invalidated = EXCLUDED.tasks_invalidated,
			last_validation_date = EXCLUDED.last_validation_date`,
		u.ID, u.Name, u.Username, int(u.Gender), int(u.Role), int(u.MappingLevel),
		u.TasksMapped, u.TasksValidated, u.TasksInvalidated,
		u.DateRegistered, u.LastValidationDate)
}

// emitDeleteMissing drops every local row whose id is absent from keep. An
// empty keep set (upstream reports zero users) deletes every local row,
// which is the correct mirror of an empty upstream roster.
func emitDeleteMissing(b *sqlout.Batch, keep []int64) {
	b.Add(`DELETE FROM users WHERE NOT (id = ANY($1))`, keep)
}
