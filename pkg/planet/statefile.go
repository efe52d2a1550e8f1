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

package planet

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// StateFile is a parsed ???.state.txt, identifying the timestamp and
// sequence of an associated replication data file.
type StateFile struct {
	Path      string
	Timestamp time.Time
	Sequence  int64
	Frequency Frequency
}

// IsValid reports whether s carries a complete, usable position: a non-null
// timestamp, a non-negative sequence, a path, and a recognized frequency.
func (s StateFile) IsValid() bool {
	return !s.Timestamp.IsZero() && s.Sequence >= 0 && s.Path != "" && s.Frequency != ""
}

// ParseStateFile parses either state-file grammar used by planet mirrors:
//
//   - changeset-style: a "---" header, then "last_run: <unix-seconds>" and
//     "sequence: <int>" lines.
//   - change-style: "sequenceNumber=<int>", then "txnMax..." lines, then
//     "timestamp=<iso-8601 with escaped colons>"; colons in the timestamp
//     are escaped as "\:" and must be unescaped before parsing.
//
// freq and path are supplied by the caller (they are positional, not part
// of the file body) and are copied into the result.
func ParseStateFile(r io.Reader, freq Frequency, path string) (StateFile, error) {
	sf := StateFile{Path: path, Frequency: freq, Sequence: -1}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line == "---" {
			continue
		}

		switch {
		case strings.HasPrefix(line, "last_run:"):
			raw := strings.TrimSpace(strings.TrimPrefix(line, "last_run:"))
			sec, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return StateFile{}, fmt.Errorf("planet: parse last_run %q: %w", raw, err)
			}
			sf.Timestamp = time.Unix(sec, 0).UTC()

		case strings.HasPrefix(line, "sequence:"):
			raw := strings.TrimSpace(strings.TrimPrefix(line, "sequence:"))
			seq, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return StateFile{}, fmt.Errorf("planet: parse sequence %q: %w", raw, err)
			}
			sf.Sequence = seq

		case strings.HasPrefix(line, "sequenceNumber="):
			raw := strings.TrimPrefix(line, "sequenceNumber=")
			seq, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return StateFile{}, fmt.Errorf("planet: parse sequenceNumber %q: %w", raw, err)
			}
			sf.Sequence = seq

		case strings.HasPrefix(line, "timestamp="):
			raw := strings.TrimPrefix(line, "timestamp=")
			raw = strings.ReplaceAll(raw, `\:`, ":")
			ts, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				return StateFile{}, fmt.Errorf("planet: parse timestamp %q: %w", raw, err)
			}
			sf.Timestamp = ts.UTC()
		}
	}
	if err := scanner.Err(); err != nil {
		return StateFile{}, fmt.Errorf("planet: read state file: %w", err)
	}

	return sf, nil
}

// Serialize writes s back out using the change-style grammar, the one
// format that is lossless for both sequence and timestamp precision.
// parse(serialize(s)) must reproduce s for every valid StateFile.
func (s StateFile) Serialize(w io.Writer) error {
	escaped := strings.ReplaceAll(s.Timestamp.UTC().Format(time.RFC3339), ":", `\:`)
	_, err := fmt.Fprintf(w, "sequenceNumber=%d\ntimestamp=%s\n", s.Sequence, escaped)
	if err != nil {
		return fmt.Errorf("planet: write state file: %w", err)
	}
	return nil
}
