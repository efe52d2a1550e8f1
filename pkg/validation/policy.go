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

package validation

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"

	"github.com/hotosm/underpass-go/pkg/osm"
)

// defaultGlobalPolicy expresses the driver-owned checks spec.md §4.7 calls
// out by name (overlapping, duplicate, badgeom) as Rego, evaluated
// alongside whatever the loaded plugin decides. These are checks the
// driver performs itself rather than delegating to the plugin, so they are
// not expressed via the Plugin interface.
const defaultGlobalPolicy = `
package underpass.validation

overlapping if {
	input.neighbor_count > 1
}

duplicate if {
	input.duplicate_count > 0
}

badgeom if {
	input.bad_geom
}
`

// GlobalChecks evaluates the driver-owned overlapping/duplicate/badgeom
// conditions via Rego, independent of the loaded plugin.
type GlobalChecks struct {
	query rego.PreparedEvalQuery
}

// GlobalCheckInput is the facts a single feature's global-check evaluation
// needs; the driver computes these from its own bookkeeping (e.g. an
// in-round osm_id index for duplicate detection) before calling Evaluate.
type GlobalCheckInput struct {
	NeighborCount  int  `json:"neighbor_count"`
	DuplicateCount int  `json:"duplicate_count"`
	BadGeom        bool `json:"bad_geom"`
}

// NewGlobalChecks compiles the default policy. policyOverride, if non-empty,
// replaces the built-in Rego source (used for operator-tunable thresholds).
func NewGlobalChecks(ctx context.Context, policyOverride string) (*GlobalChecks, error) {
	source := defaultGlobalPolicy
	if policyOverride != "" {
		source = policyOverride
	}

	query, err := rego.New(
		rego.Query("data.underpass.validation"),
		rego.Module("global.rego", source),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("validation: compile global policy: %w", err)
	}

	return &GlobalChecks{query: query}, nil
}

// Evaluate returns the subset of {overlapping, duplicate, badgeom} that the
// policy asserts for in.
func (g *GlobalChecks) Evaluate(ctx context.Context, in GlobalCheckInput) (map[Status]struct{}, error) {
	results, err := g.query.Eval(ctx, rego.EvalInput(in))
	if err != nil {
		return nil, fmt.Errorf("validation: evaluate global policy: %w", err)
	}

	out := make(map[Status]struct{})
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return out, nil
	}

	obj, ok := results[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return out, nil
	}
	for key, status := range map[string]Status{
		"overlapping": StatusOverlapping,
		"duplicate":   StatusDuplicate,
		"badgeom":     StatusBadGeom,
	} {
		if v, ok := obj[key].(bool); ok && v {
			out[status] = struct{}{}
		}
	}
	return out, nil
}

// globalInputFromWay derives GlobalCheckInput facts for a way from
// bookkeeping the engine maintains across one round (see engine.go).
func globalInputFromWay(w osm.OsmWay, neighborCount, duplicateCount int) GlobalCheckInput {
	return GlobalCheckInput{
		NeighborCount:  neighborCount,
		DuplicateCount: duplicateCount,
		BadGeom:        w.BadGeom,
	}
}
