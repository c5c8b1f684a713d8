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
	"github.com/clinicalstream/extract-core/internal/source/sqlsource"
	"github.com/clinicalstream/extract-core/internal/types"
	"github.com/clinicalstream/extract-core/internal/util/qtime"
)

// PatientStringAttributeMessage is one free-text patient attribute
// update, e.g. attending physician.
type PatientStringAttributeMessage struct {
	PatientID string     `json:"patient_id"`
	Timestamp qtime.Time `json:"timestamp"`
	Attribute string     `json:"attribute"`
	Value     string     `json:"value"`
}

func (m PatientStringAttributeMessage) Key() string {
	return m.PatientID + "|" + m.Attribute + "|" + m.Timestamp.String()
}

func (m PatientStringAttributeMessage) CanonicalBytes() []byte { return canonicalBytes(m) }

var patientStringAttributeSpec = sqlsource.TableSpec{
	Table:      "patient_string_attribute",
	TimeColumn: "ts",
	KeyColumn:  "patient_id",
	Columns:    []string{"patient_id", "ts", "attribute", "value"},
}

func scanPatientStringAttribute(row sqlsource.Row) (types.Message, error) {
	var m PatientStringAttributeMessage
	var ts time.Time
	if err := row.Scan(&m.PatientID, &ts, &m.Attribute, &m.Value); err != nil {
		return nil, err
	}
	m.Timestamp = qtime.FromTime(ts)
	return m, nil
}

// PatientStringAttribute streams free-text patient attribute updates.
type PatientStringAttribute struct {
	noStall
}

var _ extract.Variant = (*PatientStringAttribute)(nil)

func NewPatientStringAttribute() *PatientStringAttribute { return &PatientStringAttribute{} }

func (*PatientStringAttribute) Name() string                       { return "PatientStringAttribute" }
func (*PatientStringAttribute) DefaultBatchDuration() time.Duration { return 60 * time.Minute }
func (*PatientStringAttribute) Bias() time.Duration                 { return 0 }
func (*PatientStringAttribute) IdleDelay() time.Duration            { return 33 * time.Minute }
func (*PatientStringAttribute) TTL(_ types.Message, limit int) int  { return defaultTTL(limit) }

func (*PatientStringAttribute) Timestamp(msg types.Message) qtime.Time {
	return msg.(PatientStringAttributeMessage).Timestamp
}

func (*PatientStringAttribute) Channel(_ context.Context, msg types.Message) (string, error) {
	return msg.(PatientStringAttributeMessage).PatientID, nil
}

func (*PatientStringAttribute) NewParser(ctx context.Context, conn extract.Conn, params extract.ParserParams) (extract.Parser, error) {
	return sqlsource.NewParser(ctx, conn, params, patientStringAttributeSpec, scanPatientStringAttribute)
}
