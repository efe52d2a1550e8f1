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

// Package validation loads a pluggable rule set and produces ValidationStatus
// records for parsed OSM features.
package validation

import (
	"fmt"
	"plugin"
	"time"

	"github.com/paulmach/orb"

	"github.com/hotosm/underpass-go/pkg/osm"
)

// Status is one of the condition tags a validation result may carry.
type Status string

const (
	StatusNoTags      Status = "notags"
	StatusComplete    Status = "complete"
	StatusIncomplete  Status = "incomplete"
	StatusBadValue    Status = "badvalue"
	StatusCorrect     Status = "correct"
	StatusBadGeom     Status = "badgeom"
	StatusOverlapping Status = "overlapping"
	StatusDuplicate   Status = "duplicate"
)

// ValidationStatus is one feature's validation outcome.
type ValidationStatus struct {
	OsmID     int64
	ObjType   osm.ElementKind
	UserID    int64
	Timestamp time.Time
	Angle     float64
	Center    orb.Point
	Status    map[Status]struct{}
}

// HasStatus reports whether s carries the given condition.
func (s ValidationStatus) HasStatus(st Status) bool {
	_, ok := s.Status[st]
	return ok
}

// Plugin is the three-method capability loaded dynamically at startup. A
// rule-set implementation is provided by a Go plugin .so (the literal ABI
// spec.md's shared-library contract demands). The driver's own global checks
// are evaluated separately by the Rego policy engine in policy.go, not
// through this interface.
type Plugin interface {
	CheckNode(n osm.OsmNode) ValidationStatus
	CheckWay(w osm.OsmWay) ValidationStatus
	CheckRelation(r osm.OsmRelation) ValidationStatus
}

// pluginFactorySymbol is the exported factory function name every plugin
// .so must provide, per spec.md §6's Plugin ABI.
const pluginFactorySymbol = "CreatePlugin"

// LoadPlugin opens the shared library at path and resolves its factory
// symbol. Failure to load is fatal at startup, per spec.md §7.
func LoadPlugin(path string) (Plugin, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("validation: open plugin %s: %w", path, err)
	}

	sym, err := p.Lookup(pluginFactorySymbol)
	if err != nil {
		return nil, fmt.Errorf("validation: plugin %s missing %s symbol: %w", path, pluginFactorySymbol, err)
	}

	factory, ok := sym.(func() Plugin)
	if !ok {
		return nil, fmt.Errorf("validation: plugin %s: %s has unexpected signature", path, pluginFactorySymbol)
	}

	return factory(), nil
}
