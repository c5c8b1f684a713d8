// Copyright 2023 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

package extract

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"github.com/clinicalstream/extract-core/internal/util/contenthash"
	"github.com/clinicalstream/extract-core/internal/util/qtime"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// stateFile is the on-disk schema of spec.md §4.4: the durable restart
// anchor, and every acked-but-not-yet-reclaimed message hash, grouped
// by the timestamp it was acked at.
type stateFile struct {
	Time  string              `json:"time"`
	Acked map[string][]string `json:"acked"`
}

func statePath(destDir, name string) string {
	return filepath.Join(destDir, "%"+name+".queue")
}

// buildAckedMap collects every acked hash still worth remembering: the
// ones sitting in live buckets (not yet reclaimed by updatePointer) and
// the ones already hydrated from a previous save that have not yet
// reappeared. Callers must hold q.mu.
func (q *Queue) buildAckedMap() map[string][]string {
	result := make(map[string][]string)
	for _, bucket := range q.deque {
		if len(bucket.acked) == 0 {
			continue
		}
		tsStr := bucket.Timestamp.String()
		hashes := result[tsStr]
		for _, mi := range bucket.acked {
			hashes = append(hashes, contenthash.Of(mi.Message.CanonicalBytes()))
		}
		result[tsStr] = hashes
	}
	for tsStr, hashes := range q.ackedSaved {
		set := result[tsStr]
		for h := range hashes {
			set = append(set, h)
		}
		result[tsStr] = set
	}
	return result
}

// SaveState writes the queue's durable restart anchor to destDir using
// the temp-file-plus-fsync-plus-rename protocol of spec.md §4.4, so a
// crash mid-write never leaves a half-written state file behind.
func (q *Queue) SaveState(destDir string) error {
	q.mu.Lock()
	sf := stateFile{
		Time:  q.oldestUnacked.String(),
		Acked: q.buildAckedMap(),
	}
	deterministic := q.deterministic
	name := q.variant.Name()
	q.mu.Unlock()

	if deterministic {
		for _, hashes := range sf.Acked {
			sort.Strings(hashes)
		}
	}

	data, err := json.Marshal(sf)
	if err != nil {
		return errors.Wrap(err, "marshaling queue state")
	}

	path := statePath(destDir, name)
	tmp := path + ".tmp"

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return errors.Wrap(err, "opening temporary state file")
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return errors.Wrap(err, "writing temporary state file")
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return errors.Wrap(err, "fsyncing temporary state file")
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, "closing temporary state file")
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrap(err, "renaming temporary state file into place")
	}
	return nil
}

// LoadState hydrates the queue from a previously-saved state file. A
// missing or unparsable file is treated as a fresh start, not an error:
// the queue simply behaves as though it has never run (spec.md §4.4).
func (q *Queue) LoadState(destDir string) error {
	path := statePath(destDir, q.variant.Name())
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		log.WithError(err).WithField("queue", q.variant.Name()).
			Warn("could not read queue state file; starting fresh")
		return nil
	}

	var sf stateFile
	if err := json.Unmarshal(data, &sf); err != nil || sf.Time == "" {
		log.WithError(err).WithField("queue", q.variant.Name()).
			Warn("could not parse queue state file; starting fresh")
		return nil
	}

	ts, err := qtime.Parse(sf.Time)
	if err != nil {
		log.WithError(err).WithField("queue", q.variant.Name()).
			Warn("could not parse queue state timestamp; starting fresh")
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.started = true
	q.newestSeen = ts
	q.oldestUnacked = ts
	q.deque = []*TimestampInfo{newTimestampInfo(ts)}
	q.ackedSaved = make(map[string]map[string]struct{}, len(sf.Acked))
	for tsStr, hashes := range sf.Acked {
		set := make(map[string]struct{}, len(hashes))
		for _, h := range hashes {
			set[h] = struct{}{}
		}
		q.ackedSaved[tsStr] = set
	}
	return nil
}
