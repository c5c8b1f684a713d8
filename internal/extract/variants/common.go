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

// Package variants holds the nine concrete queue variants of spec.md
// §4.5. Each implements extract.Variant and differs mostly in constants;
// the shared batch-cycle logic lives in package extract.
package variants

import (
	"encoding/json"
	"sync"

	"github.com/clinicalstream/extract-core/internal/extract"
	"github.com/clinicalstream/extract-core/internal/origin"
	"github.com/pkg/errors"
)

// canonicalBytes renders v as deterministic JSON. Struct field order is
// fixed by declaration, so this is stable across processes so long as
// the struct definition does not change, which is what the content
// hash in spec.md §4.4 requires.
func canonicalBytes(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		// Every message type here is a plain value struct; Marshal can
		// only fail on unsupported types, which would be a programming
		// error caught immediately by any test.
		panic(errors.Wrap(err, "marshaling canonical message bytes"))
	}
	return b
}

// mappingKeyed is embedded by every variant whose messages are keyed by
// mapping_id and whose channel resolves through the origin registry
// (spec.md §4.5-§4.6).
type mappingKeyed struct {
	origin *origin.Origin

	mu      sync.Mutex
	stalled bool
}

// channelForMappingID implements the shared "derive the channel by
// calling origin.get_patient_id(mapping_id, allow_pending=true)" rule.
// An unresolved mapping_id yields an empty channel (routed to dead
// letter) and marks the variant stalled so the scheduler's next step
// redirects priority to the PatientMapping queue.
func (m *mappingKeyed) channelForMappingID(mappingID string) string {
	patientID, ok := m.origin.GetPatientID(mappingID, true)

	m.mu.Lock()
	m.stalled = !ok
	m.mu.Unlock()

	if !ok {
		return ""
	}
	return patientID
}

// StallingQueue implements extract.Variant for every mapping-id-keyed
// variant.
func (m *mappingKeyed) StallingQueue() *extract.Queue {
	m.mu.Lock()
	stalled := m.stalled
	m.mu.Unlock()
	if !stalled {
		return nil
	}
	return m.origin.MappingQueue()
}

// defaultTTL is the TTL formula shared by every variant except BedTag
// (spec.md §4.5).
func defaultTTL(limit int) int { return limit * 20 }

// noStall is embedded by variants that never stall (everything keyed
// by patient_id, and BedTag).
type noStall struct{}

func (noStall) StallingQueue() *extract.Queue { return nil }
