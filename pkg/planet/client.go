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
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/sony/gobreaker"
)

// DownloadStatus classifies the outcome of a single download attempt.
type DownloadStatus int

const (
	StatusSuccess DownloadStatus = iota
	StatusRemoteNotFound
	StatusIOError
)

func (s DownloadStatus) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusRemoteNotFound:
		return "remote_not_found"
	default:
		return "io_error"
	}
}

// minBodySize is the sanity floor below which a 200 response is still
// treated as remote_not_found: planet mirrors sometimes serve a short
// placeholder body instead of a real 404.
const minBodySize = 10

// DownloadResult is the outcome of one Client.Download call.
type DownloadResult struct {
	Data   []byte
	Status DownloadStatus
}

// Mirror is one HTTPS endpoint serving a planet replication namespace,
// wrapped in its own circuit breaker so a dead mirror is skipped during
// rotation rather than retried into exhaustion.
type Mirror struct {
	Domain  string
	Datadir string

	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	logger     *slog.Logger
}

// NewMirror constructs a Mirror bound to one domain/datadir pair. timeout
// bounds a single download attempt.
func NewMirror(domain, datadir string, timeout time.Duration, logger *slog.Logger) *Mirror {
	return NewMirrorWithClient(domain, datadir, &http.Client{Timeout: timeout}, logger)
}

// NewMirrorWithClient is NewMirror with an explicit http.Client, letting a
// caller point a Mirror at a test server's trusted transport (or a proxy)
// without touching the breaker/logging wiring.
func NewMirrorWithClient(domain, datadir string, client *http.Client, logger *slog.Logger) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}
	st := gobreaker.Settings{
		Name:        domain,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}
	return &Mirror{
		Domain:     domain,
		Datadir:    datadir,
		httpClient: client,
		breaker:    gobreaker.NewCircuitBreaker(st),
		logger:     logger,
	}
}

// Available reports whether the mirror's breaker currently allows requests.
func (m *Mirror) Available() bool {
	return m.breaker.State() != gobreaker.StateOpen
}

// Download fetches url and classifies the outcome. A partial read is
// retried once on a fresh connection before it is reported as io_error,
// matching spec.md's "retry once on the same connection" policy (Go's
// http.Client does not expose connection reuse directly, so the retry here
// re-issues the request, which for a keep-alive transport lands on the same
// pooled connection in the common case).
func (m *Mirror) Download(ctx context.Context, url string) (DownloadResult, error) {
	result, err := m.breaker.Execute(func() (interface{}, error) {
		res, attemptErr := m.attempt(ctx, url)
		if attemptErr != nil {
			return DownloadResult{Status: StatusIOError}, attemptErr
		}
		if res.Status == StatusIOError {
			res, attemptErr = m.attempt(ctx, url)
			if attemptErr != nil {
				return DownloadResult{Status: StatusIOError}, attemptErr
			}
		}
		return res, nil
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			return DownloadResult{Status: StatusIOError}, nil
		}
		return DownloadResult{Status: StatusIOError}, err
	}
	return result.(DownloadResult), nil
}

func (m *Mirror) attempt(ctx context.Context, url string) (DownloadResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return DownloadResult{}, fmt.Errorf("planet: build request: %w", err)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		m.logger.Warn("planet.download.io_error", "url", url, "err", err)
		return DownloadResult{Status: StatusIOError}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return DownloadResult{Status: StatusRemoteNotFound}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return DownloadResult{Status: StatusIOError}, nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		m.logger.Warn("planet.download.partial_read", "url", url, "err", err)
		return DownloadResult{Status: StatusIOError}, nil
	}
	if len(data) < minBodySize {
		return DownloadResult{Status: StatusRemoteNotFound}, nil
	}

	return DownloadResult{Data: data, Status: StatusSuccess}, nil
}

var linkPattern = regexp.MustCompile(`href="([^"/][^"]*)"`)

// ScanDirectory downloads a directory index and returns the link targets it
// contains, used to discover available numbered state.txt files.
func (m *Mirror) ScanDirectory(ctx context.Context, path string) ([]string, error) {
	url := fmt.Sprintf("https://%s%s", m.Domain, path)
	result, err := m.Download(ctx, url)
	if err != nil {
		return nil, err
	}
	if result.Status != StatusSuccess {
		return nil, fmt.Errorf("planet: scan_directory %s: %s", path, result.Status)
	}

	matches := linkPattern.FindAllStringSubmatch(string(result.Data), -1)
	links := make([]string, 0, len(matches))
	for _, match := range matches {
		links = append(links, match[1])
	}
	return links, nil
}

// MirrorList rotates through an ordered set of mirrors, one position at a
// time, skipping mirrors whose circuit breaker is currently open. It is
// local to a single driver and is rotated only between task submissions —
// never concurrently mutated, per spec.md §5.
type MirrorList struct {
	mirrors []*Mirror
	cursor  int
}

// NewMirrorList builds a rotation over mirrors in the given order.
func NewMirrorList(mirrors []*Mirror) *MirrorList {
	return &MirrorList{mirrors: mirrors}
}

// Current returns the mirror at the current rotation position.
func (l *MirrorList) Current() *Mirror {
	if len(l.mirrors) == 0 {
		return nil
	}
	return l.mirrors[l.cursor%len(l.mirrors)]
}

// Snapshot returns every mirror in current rotation order, starting from the
// position Current() would return. Workers use this to retry against
// successive mirrors for a single task without touching the shared rotation
// cursor, which only the driver mutates between task submissions (spec.md
// §5).
func (l *MirrorList) Snapshot() []*Mirror {
	n := len(l.mirrors)
	out := make([]*Mirror, n)
	for i := 0; i < n; i++ {
		out[i] = l.mirrors[(l.cursor+i)%n]
	}
	return out
}

// Rotate advances the rotation by one position, skipping any mirror whose
// breaker is open, and returns the newly current mirror.
func (l *MirrorList) Rotate() *Mirror {
	if len(l.mirrors) == 0 {
		return nil
	}
	for i := 0; i < len(l.mirrors); i++ {
		l.cursor = (l.cursor + 1) % len(l.mirrors)
		if l.mirrors[l.cursor].Available() {
			break
		}
	}
	return l.Current()
}
