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
	"context"
	"fmt"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"

	"github.com/hotosm/underpass-go/pkg/httpstatus"
	"github.com/hotosm/underpass-go/pkg/planet"
)

// monitorCatchUp shows a spinner on stderr while freq's driver is working
// through historical backlog, the way index.go's SetProgressCallback drives
// a *progressbar.ProgressBar across phases. The target sequence isn't known
// up front (the remote's tip keeps moving), so this renders as an
// indeterminate spinner rather than a bounded bar, and exits for good once
// the frequency first reports caught up.
func monitorCatchUp(ctx context.Context, freq planet.Frequency, source httpstatus.StatusSource, globals GlobalFlags) {
	if globals.Quiet || globals.JSON || !isatty.IsTerminal(os.Stderr.Fd()) {
		return
	}

	var bar *progressbar.ProgressBar
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if bar != nil {
				_ = bar.Finish()
			}
			return
		case <-ticker.C:
		}

		var status *httpstatus.FrequencyStatus
		for _, s := range source.Snapshot() {
			if s.Frequency == string(freq) {
				st := s
				status = &st
				break
			}
		}
		if status == nil {
			continue
		}

		if status.CaughtUp {
			if bar != nil {
				_ = bar.Finish()
			}
			return
		}

		if bar == nil {
			bar = progressbar.NewOptions64(-1,
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionSetDescription(fmt.Sprintf("%s catching up", freq)),
				progressbar.OptionSpinnerType(14),
				progressbar.OptionClearOnFinish(),
			)
		}
		bar.Describe(fmt.Sprintf("%s catching up: seq %d (%s)", freq, status.Sequence, status.Path))
		_ = bar.Add(1)
	}
}
