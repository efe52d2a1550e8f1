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

// Package planet locates, fetches, and tracks cursor position within OSM
// planet replication directories.
package planet

import "fmt"

// Frequency identifies one of the replication cadences published by a planet
// mirror. Each has its own numbered directory tree and state.txt cursor.
type Frequency string

const (
	Minutely   Frequency = "minute"
	Hourly     Frequency = "hour"
	Daily      Frequency = "day"
	Changesets Frequency = "changesets"
)

// ParseFrequency maps a replication path segment to a Frequency.
func ParseFrequency(s string) (Frequency, error) {
	switch Frequency(s) {
	case Minutely, Hourly, Daily, Changesets:
		return Frequency(s), nil
	default:
		return "", fmt.Errorf("planet: unknown frequency %q", s)
	}
}

// extension returns the data file suffix used by this frequency's artifacts.
func (f Frequency) extension() string {
	if f == Changesets {
		return "osm.gz"
	}
	return "osc.gz"
}

// RemoteURL is a value object encoding one location in a mirror's
// replication space: the mirror itself, the (major, minor, index) cursor
// triple, and the derived URL/filespec for that position. It is pure and
// trivially copyable — workers receive clones, never the driver's original.
type RemoteURL struct {
	Domain    string
	Datadir   string
	Frequency Frequency
	Major     int
	Minor     int
	Index     int
	Destdir   string // local cache root, empty disables filesystem caching
}

// Clone returns an independent copy, matching spec.md's ownership rule that
// workers operate on cloned cursors while the driver retains the original.
func (r RemoteURL) Clone() RemoteURL {
	return r
}

// Path returns the canonical planet path for the current cursor, e.g.
// "/replication/minute/000/001/633".
func (r RemoteURL) Path() string {
	return fmt.Sprintf("/replication/%s/%03d/%03d/%03d", r.Frequency, r.Major, r.Minor, r.Index)
}

// DataURL returns the full URL of the data file (osc.gz or osm.gz) at the
// current cursor.
func (r RemoteURL) DataURL() string {
	return fmt.Sprintf("https://%s%s.%s", r.Domain, r.Path(), r.Frequency.extension())
}

// StateURL returns the full URL of the numbered state.txt file at the
// current cursor.
func (r RemoteURL) StateURL() string {
	return fmt.Sprintf("https://%s%s.state.txt", r.Domain, r.Path())
}

// TopStateURL returns the URL of the frequency-level state.txt that records
// the most recently published sequence for this frequency.
func (r RemoteURL) TopStateURL() string {
	return fmt.Sprintf("https://%s/replication/%s/state.txt", r.Domain, r.Frequency)
}

// Filespec returns the local cache path for the current cursor's data file,
// relative to Destdir. Empty when Destdir is unset (no filesystem cache).
func (r RemoteURL) Filespec() string {
	if r.Destdir == "" {
		return ""
	}
	return fmt.Sprintf("%s/%s.%s", r.Destdir, r.Path(), r.Frequency.extension())
}

// Sequence returns the triple collapsed to a single base-1000 integer, the
// same quantity a StateFile carries as its sequence number.
func (r RemoteURL) Sequence() int64 {
	return int64(r.Major)*1_000_000 + int64(r.Minor)*1_000 + int64(r.Index)
}

// FromSequence sets the cursor triple from a collapsed sequence number, the
// inverse of Sequence.
func (r *RemoteURL) FromSequence(seq int64) {
	r.Index = int(seq % 1000)
	seq /= 1000
	r.Minor = int(seq % 1000)
	seq /= 1000
	r.Major = int(seq)
}

// Increment advances the cursor by one position, carrying into minor and
// major at 999 the way the upstream base-1000 triple does.
func (r *RemoteURL) Increment() {
	r.Index++
	if r.Index > 999 {
		r.Index = 0
		r.Minor++
		if r.Minor > 999 {
			r.Minor = 0
			r.Major++
		}
	}
}

// UpdatePath overwrites the cursor triple directly, used when resuming from
// a StateFile or jumping to a server-discovered position.
func (r *RemoteURL) UpdatePath(major, minor, index int) {
	r.Major, r.Minor, r.Index = major, minor, index
}

// UpdateDomain switches this cursor to a different mirror without touching
// its position, the operation the driver performs on mirror rotation.
func (r *RemoteURL) UpdateDomain(domain, datadir string) {
	r.Domain, r.Datadir = domain, datadir
}
