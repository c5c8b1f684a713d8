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

// Package origin holds the mapping_id -> patient_id association that
// the PatientMapping queue populates and every other mapping-id-keyed
// queue consults when deriving a message's dispatch channel (spec.md
// §4.5-§4.6).
package origin

import (
	"sync"

	"github.com/clinicalstream/extract-core/internal/extract"
)

// Origin is the registry a PatientMapping queue writes to and the
// mapping-id-keyed variants read from. It is shared across all queues
// in one Extractor.
type Origin struct {
	mu           sync.RWMutex
	patientID    map[string]string
	mappingQueue *extract.Queue
}

// New constructs an empty Origin.
func New() *Origin {
	return &Origin{patientID: make(map[string]string)}
}

// SetMappingQueue records the PatientMapping queue, so mapping-id-keyed
// variants can report it as their stall blocker.
func (o *Origin) SetMappingQueue(q *extract.Queue) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.mappingQueue = q
}

// MappingQueue returns the registered PatientMapping queue, or nil if
// none has been set.
func (o *Origin) MappingQueue() *extract.Queue {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.mappingQueue
}

// Register associates mappingID with patientID. Called from
// PatientMapping's channel derivation as its documented side effect
// (spec.md §4.5).
func (o *Origin) Register(mappingID, patientID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.patientID[mappingID] = patientID
}

// GetPatientID looks up the patient_id for a mapping_id. allowPending
// mirrors the source's synchronous, non-blocking lookup contract: a
// miss is reported as (ok=false) rather than waiting for the
// association to appear.
func (o *Origin) GetPatientID(mappingID string, allowPending bool) (patientID string, ok bool) {
	_ = allowPending
	o.mu.RLock()
	defer o.mu.RUnlock()
	patientID, ok = o.patientID[mappingID]
	return patientID, ok
}
