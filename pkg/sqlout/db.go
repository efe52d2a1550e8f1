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

// Package sqlout turns parsed statistics, raw geometry, and validation
// outcomes into batched SQL applied as one transaction per replication
// round, against a PostGIS+hstore destination database.
package sqlout

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps a pgx connection pool. Prepared statements are created exactly
// once per process (pgx's own statement cache handles this transparently
// for us, matching spec.md §5's "idempotent init, then shared").
type DB struct {
	Pool Querier
}

// Querier is the subset of *pgxpool.Pool the rest of this package needs,
// narrowed so tests can substitute pgxmock.
type Querier interface {
	Begin(ctx context.Context) (Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (Rows, error)
}

// Tx is the subset of pgx.Tx used by a single round's commit.
type Tx interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (int64, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Rows is the subset of pgx.Rows used by lookups.
type Rows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Close()
	Err() error
}

// Connect opens a pgx pool against dsn.
func Connect(ctx context.Context, dsn string) (*DB, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlout: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("sqlout: ping: %w", err)
	}
	return &DB{Pool: poolAdapter{pool}}, nil
}

// poolAdapter narrows *pgxpool.Pool to the Querier interface.
type poolAdapter struct{ pool *pgxpool.Pool }

func (a poolAdapter) Begin(ctx context.Context) (Tx, error) {
	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return txAdapter{tx}, nil
}

func (a poolAdapter) Query(ctx context.Context, sql string, args ...interface{}) (Rows, error) {
	return a.pool.Query(ctx, sql, args...)
}

type txAdapter struct {
	tx pgx.Tx
}

func (a txAdapter) Exec(ctx context.Context, sql string, args ...interface{}) (int64, error) {
	tag, err := a.tx.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (a txAdapter) Commit(ctx context.Context) error   { return a.tx.Commit(ctx) }
func (a txAdapter) Rollback(ctx context.Context) error { return a.tx.Rollback(ctx) }
