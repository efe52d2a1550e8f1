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

package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/hotosm/underpass-go/internal/config"
	"github.com/hotosm/underpass-go/pkg/httpstatus"
)

// runStatus queries a running daemon's /status endpoint and prints each
// frequency's current cursor, per SPEC_FULL.md §2.3.
func runStatus(args []string, globals GlobalFlags) error {
	cfg, err := config.Load(globals.ConfigPath)
	if err != nil {
		return err
	}

	addr := cfg.MetricsListenAddr
	if addr == "" {
		addr = ":9091"
	}
	url := fmt.Sprintf("http://localhost%s/status", addr)

	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("status: query %s: %w", url, err)
	}
	defer resp.Body.Close()

	var statuses []httpstatus.FrequencyStatus
	if err := json.NewDecoder(resp.Body).Decode(&statuses); err != nil {
		return fmt.Errorf("status: decode response: %w", err)
	}

	if globals.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(statuses)
	}

	useColor := !globals.NoColor && isatty.IsTerminal(os.Stdout.Fd())
	for _, s := range statuses {
		label := s.Frequency
		if useColor {
			if s.CaughtUp {
				label = color.New(color.FgGreen).Sprint(s.Frequency)
			} else {
				label = color.New(color.FgYellow).Sprint(s.Frequency)
			}
		}
		fmt.Printf("%-12s sequence=%-10d path=%-30s caught_up=%-5t timestamp=%s\n",
			label, s.Sequence, s.Path, s.CaughtUp, s.Timestamp.Format(time.RFC3339))
	}
	return nil
}
