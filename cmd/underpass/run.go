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
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	flag "github.com/spf13/pflag"

	"github.com/hotosm/underpass-go/internal/config"
	"github.com/hotosm/underpass-go/internal/eventlog"
	"github.com/hotosm/underpass-go/internal/logging"
	"github.com/hotosm/underpass-go/pkg/geo"
	"github.com/hotosm/underpass-go/pkg/httpstatus"
	"github.com/hotosm/underpass-go/pkg/metrics"
	"github.com/hotosm/underpass-go/pkg/planet"
	"github.com/hotosm/underpass-go/pkg/replicator"
	"github.com/hotosm/underpass-go/pkg/sqlout"
	"github.com/hotosm/underpass-go/pkg/stats"
	"github.com/hotosm/underpass-go/pkg/usersync"
	"github.com/hotosm/underpass-go/pkg/validation"
)

// runRun builds every component runRun wires together from cfg and blocks
// until an interrupt or terminate signal is received.
func runRun(args []string, globals GlobalFlags) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	eventLogPath := fs.String("event-log", "", "Path to a JSONL audit log of round outcomes (disabled if empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(globals.ConfigPath)
	if err != nil {
		return err
	}

	logger := logging.New(cfg.LogLevel, os.Stderr)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, err := sqlout.Connect(ctx, cfg.UnderpassDBURL)
	if err != nil {
		return fmt.Errorf("connect underpass db: %w", err)
	}

	reg := prometheus.NewRegistry()
	metricsReg := metrics.NewRegistry(reg)

	mirrors, err := buildMirrors(cfg, logger)
	if err != nil {
		return err
	}

	filter, err := buildPriorityFilter(cfg)
	if err != nil {
		return err
	}

	plugin, err := validation.LoadPlugin(cfg.ValidationPluginPath)
	if err != nil {
		return fmt.Errorf("load validation plugin: %w", err)
	}

	global, err := validation.NewGlobalChecks(ctx, "")
	if err != nil {
		return fmt.Errorf("compile global validation policy: %w", err)
	}

	nodeLookup := sqlout.NewNodeLookup(db)
	nodes := geo.NewNodeCache(nodeLookup)
	taxonomy := stats.DefaultTaxonomy()

	store := planet.NewStateStore(nil)

	drivers := make([]*replicator.Driver, 0, len(cfg.Frequencies))
	sources := make([]httpstatus.StatusSource, 0, len(cfg.Frequencies))

	for _, freqName := range cfg.Frequencies {
		freq, err := planet.ParseFrequency(freqName)
		if err != nil {
			return err
		}

		start, err := resumeCursor(ctx, freq, mirrors, store, cfg, logger)
		if err != nil {
			return fmt.Errorf("resume cursor for %s: %w", freq, err)
		}

		var process replicator.FileProcessor
		if freq == planet.Changesets {
			process = replicator.NewChangeSetProcessor(filter, logger, cfg.DisableStats)
		} else {
			process = replicator.NewOsmChangeProcessor(nodes, nodeLookup, filter, taxonomy, plugin, global, logger,
				cfg.DisableStats, cfg.DisableValidation, cfg.DisableRaw)
		}

		driverMirrors := planet.NewMirrorList(mirrors)
		d := replicator.NewDriver(freq, start, driverMirrors, store, db, process, cfg.Concurrency, cfg.EndTime, metricsReg, logger)
		d.SetEventLogPath(*eventLogPath)
		drivers = append(drivers, d)
		sources = append(sources, d)

		go monitorCatchUp(ctx, freq, d, globals)
	}

	if cfg.TaskingManagerDBURL != "" {
		tmDB, err := sqlout.Connect(ctx, cfg.TaskingManagerDBURL)
		if err != nil {
			return fmt.Errorf("connect tasking-manager db: %w", err)
		}
		source := usersync.NewPostgresUserSource(tmDB.Pool)
		interval := time.Duration(cfg.TaskingManagerUsersUpdateFrequency) * time.Second
		if interval <= 0 {
			interval = time.Hour
		}
		syncer := usersync.NewSyncer(source, db, interval, false, logger)
		go func() {
			if err := syncer.Run(ctx); err != nil && err != context.Canceled {
				logger.Error("usersync.run.failed", "err", err)
			}
		}()
	}

	watchPaths := []string{cfg.PriorityPolygonPath, cfg.ValidationPluginPath}
	watcher, err := config.NewWatcher(watchPaths, logger)
	if err != nil {
		logger.Warn("config.watch.disabled", "err", err)
	} else {
		stop := make(chan struct{})
		go watcher.Run(stop, func(path string) {
			if path != cfg.PriorityPolygonPath {
				return
			}
			f, err := os.Open(path)
			if err != nil {
				logger.Warn("config.watch.priority_polygon_reload_failed", "path", path, "err", err)
				return
			}
			defer f.Close()
			mp, err := geo.ParsePriorityPolygon(f)
			if err != nil {
				logger.Warn("config.watch.priority_polygon_reload_failed", "path", path, "err", err)
				return
			}
			filter.Swap(mp)
			logger.Info("config.watch.priority_polygon_reloaded", "path", path)
		})
		go func() {
			<-ctx.Done()
			close(stop)
		}()
	}

	statusServer := httpstatus.NewServer(logger, reg, sources...)
	go func() {
		if err := statusServer.ListenAndServe(cfg.MetricsListenAddr); err != nil {
			logger.Error("httpstatus.server.failed", "err", err)
		}
	}()

	for _, d := range drivers {
		go func(d *replicator.Driver) {
			if err := d.Run(ctx); err != nil && err != context.Canceled {
				logger.Error("replicator.driver.stopped", "err", err)
			}
			ev := eventlog.Event{Outcome: "driver_stopped"}
			eventlog.Append(*eventLogPath, logger, ev)
		}(d)
	}

	<-ctx.Done()
	logger.Info("underpass.run.shutdown")
	return nil
}

func buildMirrors(cfg *config.Config, logger *slog.Logger) ([]*planet.Mirror, error) {
	if len(cfg.PlanetServers) == 0 {
		return nil, fmt.Errorf("no planet_servers configured")
	}
	mirrors := make([]*planet.Mirror, 0, len(cfg.PlanetServers))
	for _, s := range cfg.PlanetServers {
		mirrors = append(mirrors, planet.NewMirror(s.Domain, s.Datadir, cfg.DownloadTimeout, logger))
	}
	return mirrors, nil
}

func buildPriorityFilter(cfg *config.Config) (*geo.PriorityFilter, error) {
	if cfg.PriorityPolygonPath == "" {
		return geo.NewPriorityFilter(nil), nil
	}
	f, err := os.Open(cfg.PriorityPolygonPath)
	if err != nil {
		return nil, fmt.Errorf("open priority polygon %s: %w", cfg.PriorityPolygonPath, err)
	}
	defer f.Close()
	return geo.LoadPriorityPolygon(f)
}

// resumeCursor implements spec.md's startup resume logic: prefer the state
// store's last known position for this frequency; if none exists yet, fetch
// the mirror's top-level state.txt and seed the store from it.
func resumeCursor(ctx context.Context, freq planet.Frequency, mirrors []*planet.Mirror, store *planet.StateStore, cfg *config.Config, logger *slog.Logger) (planet.RemoteURL, error) {
	if sf, ok := store.Last(freq); ok {
		start := planet.RemoteURL{Domain: mirrors[0].Domain, Datadir: mirrors[0].Datadir, Frequency: freq, Destdir: cfg.CacheDir}
		start.FromSequence(sf.Sequence)
		return start, nil
	}

	if !cfg.StartTime.IsZero() {
		sf, ok := store.FirstSince(freq, cfg.StartTime)
		if ok {
			start := planet.RemoteURL{Domain: mirrors[0].Domain, Datadir: mirrors[0].Datadir, Frequency: freq, Destdir: cfg.CacheDir}
			start.FromSequence(sf.Sequence)
			return start, nil
		}
	}

	top := planet.RemoteURL{Domain: mirrors[0].Domain, Datadir: mirrors[0].Datadir, Frequency: freq, Destdir: cfg.CacheDir}
	result, err := mirrors[0].Download(ctx, top.TopStateURL())
	if err != nil {
		return planet.RemoteURL{}, fmt.Errorf("fetch top state.txt: %w", err)
	}
	if result.Status != planet.StatusSuccess {
		return planet.RemoteURL{}, fmt.Errorf("fetch top state.txt: %s", result.Status)
	}

	sf, err := planet.ParseStateFile(bytes.NewReader(result.Data), freq, top.TopStateURL())
	if err != nil {
		return planet.RemoteURL{}, fmt.Errorf("parse top state.txt: %w", err)
	}
	if err := store.Put(ctx, sf); err != nil {
		logger.Warn("planet.store.put_failed", "err", err)
	}

	top.FromSequence(sf.Sequence)
	return top, nil
}
