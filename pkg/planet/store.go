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
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// StateStore is a durable key-value of StateFiles keyed by (frequency,
// path), additionally indexed by timestamp and sequence so the driver can
// resume from either axis. The in-process index is authoritative; an
// optional Redis layer shares it across processes (multiple driver
// instances watching different frequencies on the same host).
type StateStore struct {
	mu        sync.RWMutex
	byPath    map[string]StateFile   // key: frequency + "|" + path
	bySeq     map[Frequency][]int64  // sorted sequence index per frequency
	seqLookup map[string]StateFile   // key: frequency + "|" + sequence
	redis     *redis.Client
}

// NewStateStore constructs an empty store. redisClient may be nil, in which
// case the store is purely in-memory for the lifetime of the process.
func NewStateStore(redisClient *redis.Client) *StateStore {
	return &StateStore{
		byPath:    make(map[string]StateFile),
		bySeq:     make(map[Frequency][]int64),
		seqLookup: make(map[string]StateFile),
		redis:     redisClient,
	}
}

func pathKey(freq Frequency, path string) string {
	return string(freq) + "|" + path
}

func seqKey(freq Frequency, seq int64) string {
	return fmt.Sprintf("%s|%d", freq, seq)
}

// Put persists sf, indexing it by path and by sequence. If a Redis client
// is configured, the entry is mirrored there under a key namespaced by
// frequency and path so other processes see the update on their next Get.
func (s *StateStore) Put(ctx context.Context, sf StateFile) error {
	s.mu.Lock()
	pk := pathKey(sf.Frequency, sf.Path)
	if _, exists := s.seqLookup[seqKey(sf.Frequency, sf.Sequence)]; !exists {
		seqs := s.bySeq[sf.Frequency]
		i := sort.Search(len(seqs), func(i int) bool { return seqs[i] >= sf.Sequence })
		seqs = append(seqs, 0)
		copy(seqs[i+1:], seqs[i:])
		seqs[i] = sf.Sequence
		s.bySeq[sf.Frequency] = seqs
	}
	s.byPath[pk] = sf
	s.seqLookup[seqKey(sf.Frequency, sf.Sequence)] = sf
	s.mu.Unlock()

	if s.redis == nil {
		return nil
	}
	data, err := json.Marshal(sf)
	if err != nil {
		return fmt.Errorf("planet: marshal state file: %w", err)
	}
	if err := s.redis.Set(ctx, "underpass:state:"+pk, data, 0).Err(); err != nil {
		return fmt.Errorf("planet: cache state file in redis: %w", err)
	}
	return nil
}

// Get returns the cached StateFile for (freq, path), consulting Redis first
// when configured so a cold in-process cache still benefits from another
// process's work.
func (s *StateStore) Get(ctx context.Context, freq Frequency, path string) (StateFile, bool) {
	pk := pathKey(freq, path)

	if s.redis != nil {
		data, err := s.redis.Get(ctx, "underpass:state:"+pk).Bytes()
		if err == nil {
			var sf StateFile
			if json.Unmarshal(data, &sf) == nil {
				s.mu.Lock()
				s.byPath[pk] = sf
				s.mu.Unlock()
				return sf, true
			}
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	sf, ok := s.byPath[pk]
	return sf, ok
}

// Last returns the StateFile with the highest sequence cached for freq.
func (s *StateStore) Last(freq Frequency) (StateFile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seqs := s.bySeq[freq]
	if len(seqs) == 0 {
		return StateFile{}, false
	}
	sf, ok := s.seqLookup[seqKey(freq, seqs[len(seqs)-1])]
	return sf, ok
}

// FirstSince walks the sequence index forward and returns the first cached
// StateFile whose timestamp is greater than or equal to since, implementing
// the resume-from-start_time rule of spec.md §4.1 step 3 for entries
// already present in the store.
func (s *StateStore) FirstSince(freq Frequency, since time.Time) (StateFile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seqs := s.bySeq[freq]
	for _, seq := range seqs {
		sf := s.seqLookup[seqKey(freq, seq)]
		if !sf.Timestamp.Before(since) {
			return sf, true
		}
	}
	return StateFile{}, false
}
