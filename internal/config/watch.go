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
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce matches the teacher's own debounce window for batching a
// burst of filesystem events into a single reload.
const reloadDebounce = 2 * time.Second

// Watcher triggers onChange once, debounced, whenever any of the watched
// paths is written, passing it the changed path. cmd/underpass watches the
// priority polygon and validation plugin paths but only acts on the former,
// hot-swapping the polygon without restarting the daemon.
type Watcher struct {
	watcher *fsnotify.Watcher
	logger  *slog.Logger
}

// NewWatcher opens an fsnotify watch on every path in paths, skipping paths
// that do not exist (a feature may be left unconfigured).
func NewWatcher(paths []string, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := w.Add(p); err != nil {
			logger.Warn("config.watch.add_failed", "path", p, "err", err)
		}
	}
	return &Watcher{watcher: w, logger: logger}, nil
}

// Run blocks, invoking onChange(path) at most once per reloadDebounce window
// after the last write event, until stop is closed. Matches the
// debounce-timer shape of vjache-cie/cmd/cie/watch.go's runWatchAndReindex,
// substituted here for a per-path reload callback instead of a single
// reindex trigger.
func (w *Watcher) Run(stop <-chan struct{}, onChange func(path string)) {
	defer w.watcher.Close()

	var timer *time.Timer
	var timerCh <-chan time.Time
	var pending string

	for {
		select {
		case <-stop:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			pending = event.Name
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(reloadDebounce)
			timerCh = timer.C
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config.watch.error", "err", err)
		case <-timerCh:
			timerCh = nil
			onChange(pending)
		}
	}
}
