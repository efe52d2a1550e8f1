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

package eventlog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.NoError(t, scanner.Err())
	return lines
}

func TestAppend_CreatesFileAndDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "events.jsonl")

	Append(path, nil, Event{Frequency: "minute", Outcome: "success", Sequence: 42})

	lines := readLines(t, path)
	require.Len(t, lines, 1)

	var ev Event
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &ev))
	assert.Equal(t, "minute", ev.Frequency)
	assert.Equal(t, "success", ev.Outcome)
	assert.Equal(t, int64(42), ev.Sequence)
	assert.False(t, ev.Timestamp.IsZero(), "a zero Timestamp is stamped with now()")
}

func TestAppend_MultipleCallsAppendRatherThanOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")

	Append(path, nil, Event{Frequency: "minute", Outcome: "success"})
	Append(path, nil, Event{Frequency: "minute", Outcome: "io_error"})

	lines := readLines(t, path)
	require.Len(t, lines, 2)
}

func TestAppend_EmptyPathIsNoOp(t *testing.T) {
	Append("", nil, Event{Frequency: "minute", Outcome: "success"})
}
