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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
concurrency: 8
planet_servers:
  - domain: planet.openstreetmap.org
    datadir: /planet
underpass_db_url: postgres://localhost/underpass
priority_polygon_path: /etc/underpass/priority.geojson
validation_plugin_path: /etc/underpass/plugin.so
frequency:
  - minute
`

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "underpass.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_ValidConfigMergesOverDefaults(t *testing.T) {
	path := writeTempConfig(t, validYAML)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Concurrency)
	assert.Equal(t, []string{"minute"}, cfg.Frequencies)
	assert.Equal(t, "postgres://localhost/underpass", cfg.UnderpassDBURL)
	assert.Equal(t, "info", cfg.LogLevel, "unset fields keep Default()'s value")
	assert.Equal(t, 3600, cfg.TaskingManagerUsersUpdateFrequency)
}

func TestLoad_MissingRequiredFieldFailsValidation(t *testing.T) {
	path := writeTempConfig(t, `
concurrency: 8
planet_servers:
  - domain: planet.openstreetmap.org
    datadir: /planet
frequency:
  - minute
validation_plugin_path: /etc/underpass/plugin.so
`)

	_, err := Load(path)
	require.Error(t, err, "underpass_db_url is required and was omitted")
}

func TestLoad_MissingPlanetServersFailsValidation(t *testing.T) {
	path := writeTempConfig(t, `
underpass_db_url: postgres://localhost/underpass
validation_plugin_path: /etc/underpass/plugin.so
frequency:
  - minute
`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_UnreadableFileReturnsError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.Error(t, err)
}

func TestLoad_EnvOverrideWinsOverFile(t *testing.T) {
	path := writeTempConfig(t, validYAML)
	t.Setenv("UNDERPASS_DB_URL", "postgres://override/underpass")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres://override/underpass", cfg.UnderpassDBURL)
}

func TestLoad_InvalidLogLevelFailsValidation(t *testing.T) {
	path := writeTempConfig(t, validYAML+"\nlog_level: verbose\n")

	_, err := Load(path)
	require.Error(t, err)
}

func TestDefault_HasSensiblePlaceholders(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, ":9091", cfg.MetricsListenAddr)
	assert.NotZero(t, cfg.DownloadTimeout)
}
