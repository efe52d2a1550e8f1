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

// Package httpstatus serves the daemon's internal observability endpoints:
// liveness, Prometheus metrics, and a human/machine-readable cursor status.
// This is the ambient status surface spec.md §1 allows, not the write-side
// OSM API the Non-goals exclude.
package httpstatus

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// FrequencyStatus is one frequency's current cursor, reported by /status.
type FrequencyStatus struct {
	Frequency string    `json:"frequency"`
	Sequence  int64     `json:"sequence"`
	Path      string    `json:"path"`
	Timestamp time.Time `json:"timestamp"`
	CaughtUp  bool      `json:"caught_up"`
}

// StatusSource is implemented by a replication driver and queried on every
// /status request. Kept as an interface here, rather than importing the
// driver package directly, so this package has no dependency on the
// replicator's internals.
type StatusSource interface {
	Snapshot() []FrequencyStatus
}

// Server is the internal HTTP surface: /healthz, /metrics, /status.
type Server struct {
	router *chi.Mux
	logger *slog.Logger
}

// NewServer builds the router. registry is the Prometheus registerer metrics
// were registered against; sources are queried live on each /status request.
func NewServer(logger *slog.Logger, registry prometheus.Gatherer, sources ...StatusSource) *Server {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		var all []FrequencyStatus
		for _, s := range sources {
			all = append(all, s.Snapshot()...)
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(all); err != nil {
			logger.Error("httpstatus.status.encode_failed", "error", err)
		}
	})

	return &Server{router: r, logger: logger}
}

// ListenAndServe starts the HTTP server on addr, blocking until it returns an
// error. It uses http.ListenAndServe directly, so Server has no method that
// shuts the listener down.
func (s *Server) ListenAndServe(addr string) error {
	s.logger.Info("httpstatus.server.listen", "addr", addr)
	return http.ListenAndServe(addr, s.router)
}

// Handler exposes the underlying router for tests and for embedding in a
// larger mux.
func (s *Server) Handler() http.Handler {
	return s.router
}
