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

package variants

import (
	"context"
	"time"

	"github.com/clinicalstream/extract-core/internal/extract"
	"github.com/clinicalstream/extract-core/internal/origin"
	"github.com/clinicalstream/extract-core/internal/source/sqlsource"
	"github.com/clinicalstream/extract-core/internal/types"
	"github.com/clinicalstream/extract-core/internal/util/qtime"
)

// PatientMappingMessage associates a device/bedside mapping_id with the
// patient_id it currently resolves to.
type PatientMappingMessage struct {
	MappingID string     `json:"mapping_id"`
	PatientID string     `json:"patient_id"`
	Timestamp qtime.Time `json:"timestamp"`
}

func (m PatientMappingMessage) Key() string {
	return m.MappingID + "|" + m.Timestamp.String()
}

func (m PatientMappingMessage) CanonicalBytes() []byte { return canonicalBytes(m) }

var patientMappingSpec = sqlsource.TableSpec{
	Table:      "patient_mapping",
	TimeColumn: "ts",
	KeyColumn:  "mapping_id",
	Columns:    []string{"mapping_id", "patient_id", "ts"},
}

func scanPatientMapping(row sqlsource.Row) (types.Message, error) {
	var m PatientMappingMessage
	var ts time.Time
	if err := row.Scan(&m.MappingID, &m.PatientID, &ts); err != nil {
		return nil, err
	}
	m.Timestamp = qtime.FromTime(ts)
	return m, nil
}

// PatientMapping is the source of truth every other mapping-id-keyed
// variant stalls behind while a given mapping_id's patient is still
// unknown (spec.md §4.5-§4.6). It never stalls itself.
type PatientMapping struct {
	noStall
	origin *origin.Origin
}

var _ extract.Variant = (*PatientMapping)(nil)

func NewPatientMapping(o *origin.Origin) *PatientMapping {
	return &PatientMapping{origin: o}
}

func (*PatientMapping) Name() string                       { return "PatientMapping" }
func (*PatientMapping) DefaultBatchDuration() time.Duration { return 11 * time.Second }
func (*PatientMapping) Bias() time.Duration                 { return -8 * time.Minute }
func (*PatientMapping) IdleDelay() time.Duration            { return 5 * time.Minute }
func (*PatientMapping) TTL(_ types.Message, limit int) int  { return defaultTTL(limit) }

func (*PatientMapping) Timestamp(msg types.Message) qtime.Time {
	return msg.(PatientMappingMessage).Timestamp
}

// Channel performs the documented side effect: registering the
// mapping_id -> patient_id association before returning the routing
// channel, so other queues can resolve it on their very next batch.
func (v *PatientMapping) Channel(_ context.Context, msg types.Message) (string, error) {
	pm := msg.(PatientMappingMessage)
	v.origin.Register(pm.MappingID, pm.PatientID)
	return pm.PatientID, nil
}

func (*PatientMapping) NewParser(ctx context.Context, conn extract.Conn, params extract.ParserParams) (extract.Parser, error) {
	return sqlsource.NewParser(ctx, conn, params, patientMappingSpec, scanPatientMapping)
}
