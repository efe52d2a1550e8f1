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

package sqlout

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"

	"github.com/hotosm/underpass-go/pkg/osm"
	"github.com/hotosm/underpass-go/pkg/stats"
	"github.com/hotosm/underpass-go/pkg/validation"
)

// Statement is one piece of SQL text plus its positional arguments. The
// emitter never interpolates values into the SQL string directly — every
// value travels as a bound parameter, avoiding injection regardless of
// what an upstream tag or username contains.
type Statement struct {
	SQL  string
	Args []interface{}
}

// Batch accumulates the Statements produced while processing one
// replication file (one ReplicationTask's worth of work). The driver
// merges every worker's Batch under a mutex before a single transaction
// commit, per spec.md §4.8 and §5.
type Batch struct {
	mu         sync.Mutex
	statements []Statement
}

// Add appends a statement, safe for concurrent callers (multiple pipeline
// stages within one worker may append independently).
func (b *Batch) Add(sql string, args ...interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.statements = append(b.statements, Statement{SQL: sql, Args: args})
}

// Statements returns a snapshot of the accumulated statements.
func (b *Batch) Statements() []Statement {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Statement, len(b.statements))
	copy(out, b.statements)
	return out
}

// EmitChangeStats appends the upsert for one user's per-change tallies,
// keyed on change_id, populating the added/modified hstore columns per
// spec.md §4.6.
func EmitChangeStats(b *Batch, cs stats.ChangeStats) {
	b.Add(`
		INSERT INTO changesets (change_id, user_id, username, created_at, closed_at, added, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (change_id) DO UPDATE SET
			added = changesets.added || EXCLUDED.added,
			updated_at = now()`,
		cs.ChangeID, cs.UserID, cs.Username, cs.CreatedAt, cs.ClosedAt, hstoreArg(cs.Added))

	if len(cs.Modified) > 0 {
		b.Add(`
			UPDATE changesets SET modified = modified || $2, updated_at = now()
			WHERE change_id = $1`,
			cs.ChangeID, hstoreArg(cs.Modified))
	}
}

// EmitChangeSetBBox appends the bbox upsert for a changeset's geometry
// column (SRID 4326), using WKT text and ST_GeomFromText rather than a
// binary EWKB parameter, matching the text-grammar style the rest of this
// emitter uses.
func EmitChangeSetBBox(b *Batch, changeID int64, bbox orb.Bound) {
	poly := bboxToPolygon(bbox)
	b.Add(`
		UPDATE changesets SET bbox = ST_SetSRID(ST_GeomFromText($2), 4326)
		WHERE change_id = $1`,
		changeID, wkt.MarshalString(poly))
}

func bboxToPolygon(b orb.Bound) orb.Polygon {
	ring := orb.Ring{
		{b.Min[0], b.Min[1]}, {b.Max[0], b.Min[1]},
		{b.Max[0], b.Max[1]}, {b.Min[0], b.Max[1]},
		{b.Min[0], b.Min[1]},
	}
	return orb.Polygon{ring}
}

// EmitNode appends an upsert/delete for a single node's raw representation.
func EmitNode(b *Batch, n osm.OsmNode) {
	if n.Action == osm.ActionRemove {
		b.Add(`DELETE FROM nodes WHERE osm_id = $1`, n.ID)
		return
	}
	b.Add(`
		INSERT INTO nodes (osm_id, tags, geom, "timestamp", version)
		VALUES ($1, $2, ST_SetSRID(ST_GeomFromText($3), 4326), now(), $4)
		ON CONFLICT (osm_id) DO UPDATE SET
			tags = EXCLUDED.tags, geom = EXCLUDED.geom, "timestamp" = now(), version = EXCLUDED.version`,
		n.ID, hstoreArgTags(n.Tags), wkt.MarshalString(n.Point()), n.Version)
}

// EmitWay appends an upsert/delete for a single way's raw representation.
// A way with no assembled geometry (BadGeom) is still written, per the
// node-cache invariant that no way is silently dropped.
func EmitWay(b *Batch, w osm.OsmWay) {
	if w.Action == osm.ActionRemove {
		b.Add(`DELETE FROM ways WHERE osm_id = $1`, w.ID)
		return
	}
	var geomSQL, geomArg string
	if w.Geometry != nil {
		geomSQL = `ST_SetSRID(ST_GeomFromText($4), 4326)`
		geomArg = wkt.MarshalString(w.Geometry)
	} else {
		geomSQL = `NULL`
	}
	sql := fmt.Sprintf(`
		INSERT INTO ways (osm_id, tags, node_refs, geom, "timestamp")
		VALUES ($1, $2, $3, %s, now())
		ON CONFLICT (osm_id) DO UPDATE SET
			tags = EXCLUDED.tags, node_refs = EXCLUDED.node_refs, geom = EXCLUDED.geom, "timestamp" = now()`, geomSQL)
	if w.Geometry != nil {
		b.Add(sql, w.ID, hstoreArgTags(w.Tags), w.NodeRefs, geomArg)
	} else {
		b.Add(sql, w.ID, hstoreArgTags(w.Tags), w.NodeRefs)
	}
}

// EmitRelation appends an upsert/delete for a single relation's raw
// representation.
func EmitRelation(b *Batch, r osm.OsmRelation) {
	if r.Action == osm.ActionRemove {
		b.Add(`DELETE FROM relations WHERE osm_id = $1`, r.ID)
		return
	}
	var geomSQL, geomArg string
	if r.Geometry != nil {
		geomSQL = `ST_SetSRID(ST_GeomFromText($3), 4326)`
		geomArg = wkt.MarshalString(r.Geometry)
	} else {
		geomSQL = `NULL`
	}
	sql := fmt.Sprintf(`
		INSERT INTO relations (osm_id, tags, geom, "timestamp")
		VALUES ($1, $2, %s, now())
		ON CONFLICT (osm_id) DO UPDATE SET
			tags = EXCLUDED.tags, geom = EXCLUDED.geom, "timestamp" = now()`, geomSQL)
	if r.Geometry != nil {
		b.Add(sql, r.ID, hstoreArgTags(r.Tags), geomArg)
	} else {
		b.Add(sql, r.ID, hstoreArgTags(r.Tags))
	}
}

// EmitValidation appends an upsert or delete for one validation Decision,
// per spec.md §4.7.
func EmitValidation(b *Batch, d validation.Decision) {
	if d.Delete {
		b.Add(`DELETE FROM validation WHERE osm_id = $1`, d.OsmID)
		return
	}
	statuses := make([]string, 0, len(d.Upsert.Status))
	for st := range d.Upsert.Status {
		statuses = append(statuses, string(st))
	}
	b.Add(`
		INSERT INTO validation (osm_id, objtype, user_id, "timestamp", status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (osm_id) DO UPDATE SET
			objtype = EXCLUDED.objtype, user_id = EXCLUDED.user_id,
			"timestamp" = EXCLUDED."timestamp", status = EXCLUDED.status`,
		d.Upsert.OsmID, string(d.Upsert.ObjType), d.Upsert.UserID, d.Upsert.Timestamp, statuses)
}

// EmitStateFile appends the durable upsert for one cursor position, per
// SPEC_FULL.md §4.1 (the state store's own table, not one of the
// application tables spec.md §6 names, since it owns its own persistence).
func EmitStateFile(b *Batch, freq string, path string, sequence int64, ts time.Time) {
	b.Add(`
		INSERT INTO state_files (frequency, path, sequence, "timestamp")
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (frequency, path) DO UPDATE SET
			sequence = EXCLUDED.sequence, "timestamp" = EXCLUDED."timestamp"`,
		freq, path, sequence, ts)
}

// hstoreArg renders a Go map as Postgres hstore literal text, which pgx
// passes through as a plain text parameter; the destination column cast
// happens server-side via the hstore extension's input function.
func hstoreArg(m map[string]int) string {
	if len(m) == 0 {
		return ""
	}
	parts := make([]string, 0, len(m))
	for k, v := range m {
		parts = append(parts, fmt.Sprintf(`"%s"=>"%d"`, hstoreEscape(k), v))
	}
	return strings.Join(parts, ", ")
}

// hstoreArgTags renders a string-valued tag map the same way, used for
// the tags column on nodes/ways/relations.
func hstoreArgTags(m map[string]string) string {
	if len(m) == 0 {
		return ""
	}
	parts := make([]string, 0, len(m))
	for k, v := range m {
		parts = append(parts, fmt.Sprintf(`"%s"=>"%s"`, hstoreEscape(k), hstoreEscape(v)))
	}
	return strings.Join(parts, ", ")
}

// hstoreEscape backslash-escapes a quoted hstore literal's content:
// backslashes first, so an already-escaped quote doesn't get re-escaped
// into `\\"`.
func hstoreEscape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}

// MergeBatches concatenates every batch's statements in argument order into
// one Batch, the shape the driver needs to commit a round's tasks in
// task-submission order per spec.md §4.8/§5.
func MergeBatches(batches ...*Batch) *Batch {
	merged := &Batch{}
	for _, b := range batches {
		if b == nil {
			continue
		}
		for _, stmt := range b.Statements() {
			merged.Add(stmt.SQL, stmt.Args...)
		}
	}
	return merged
}

// Commit executes every Statement in b in submission order as one
// transaction; a failure rolls back the whole round, preserving the prior
// cursor, per spec.md's round-atomicity invariant.
func Commit(ctx context.Context, db *DB, b *Batch) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("sqlout: begin transaction: %w", err)
	}

	for _, stmt := range b.Statements() {
		if _, err := tx.Exec(ctx, stmt.SQL, stmt.Args...); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("sqlout: exec statement: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("sqlout: commit: %w", err)
	}
	return nil
}
