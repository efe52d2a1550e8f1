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

// Package config loads and validates underpass.yaml, the daemon's only
// configuration surface, and applies environment variable overrides, the
// way vjache-cie/cmd/cie/config.go does for project.yaml.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// PlanetServer is one mirror entry of the planet_servers list.
type PlanetServer struct {
	Domain  string `yaml:"domain" validate:"required"`
	Datadir string `yaml:"datadir" validate:"required"`
}

// Config is the root of underpass.yaml, covering every option spec.md §6
// enumerates plus the handful the ambient layers need (log level, metrics
// listen address, cache directory, download timeout, validation plugin
// path).
type Config struct {
	Concurrency   int            `yaml:"concurrency" validate:"min=1"`
	PlanetServers []PlanetServer `yaml:"planet_servers" validate:"required,min=1,dive"`

	UnderpassDBURL       string `yaml:"underpass_db_url" validate:"required"`
	Osm2pgsqlDBURL       string `yaml:"osm2pgsql_db_url"`
	GalaxyDBURL          string `yaml:"galaxy_db_url"`
	TaskingManagerDBURL  string `yaml:"taskingmanager_db_url"`

	StartTime time.Time `yaml:"start_time"`
	EndTime   time.Time `yaml:"end_time"`

	DisableStats      bool `yaml:"disable_stats"`
	DisableValidation bool `yaml:"disable_validation"`
	DisableRaw        bool `yaml:"disable_raw"`

	PriorityPolygonPath string `yaml:"priority_polygon_path"`

	// Frequencies is one Driver per entry, per spec.md's "a process runs one
	// Driver per configured frequency". The YAML key stays singular,
	// matching spec.md §6's literal `frequency` option name; one or more
	// values are accepted.
	Frequencies []string `yaml:"frequency" validate:"required,min=1"`

	TaskingManagerUsersUpdateFrequency int `yaml:"taskingmanager_users_update_frequency" validate:"min=0"`

	// ValidationPluginPath is the shared-library path spec.md §4.4 says the
	// validator plugin is "loaded at startup from a configured" location;
	// spec.md §6's enumerated option list omits a key for it, but the
	// Plugin ABI it describes is unbuildable without one.
	ValidationPluginPath string `yaml:"validation_plugin_path" validate:"required"`

	// CacheDir is the filesystem cache root spec.md §6 calls "destdir"; empty
	// disables the optional local cache.
	CacheDir string `yaml:"cache_dir"`

	// DownloadTimeout bounds a single mirror download attempt, per spec.md
	// §5's "per-download timeout (configurable, default on the order of
	// seconds)".
	DownloadTimeout time.Duration `yaml:"download_timeout"`

	LogLevel          string `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
	MetricsListenAddr string `yaml:"metrics_listen_addr"`
}

// Default returns a Config with the same sensible-defaults-for-local-dev
// posture as the teacher's DefaultConfig, before any file or environment
// override is applied.
func Default() *Config {
	return &Config{
		Concurrency:                         4,
		Frequencies:                         []string{"minute"},
		DisableStats:                        false,
		DisableValidation:                   false,
		DisableRaw:                          false,
		TaskingManagerUsersUpdateFrequency: 3600,
		DownloadTimeout:                    30 * time.Second,
		LogLevel:                           "info",
		MetricsListenAddr:                  ":9091",
	}
}

// Load reads path, unmarshals it over Default(), applies environment
// overrides, and validates the result. A validation failure is reported
// with every violated field, per spec.md §7's "Config parse failure" being
// fatal at startup.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.applyEnvOverrides()

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config: %s is invalid: %w", path, err)
	}
	return cfg, nil
}

// applyEnvOverrides lets operators override a handful of frequently-rotated
// secrets/endpoints without editing the file on disk, the same purpose the
// teacher's applyEnvOverrides serves.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("UNDERPASS_DB_URL"); v != "" {
		c.UnderpassDBURL = v
	}
	if v := os.Getenv("OSM2PGSQL_DB_URL"); v != "" {
		c.Osm2pgsqlDBURL = v
	}
	if v := os.Getenv("GALAXY_DB_URL"); v != "" {
		c.GalaxyDBURL = v
	}
	if v := os.Getenv("TASKINGMANAGER_DB_URL"); v != "" {
		c.TaskingManagerDBURL = v
	}
	if v := os.Getenv("UNDERPASS_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Concurrency = n
		}
	}
	if v := os.Getenv("UNDERPASS_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}
