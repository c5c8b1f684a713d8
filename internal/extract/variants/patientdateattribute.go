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

// PatientDateAttributeMessage is one date-valued patient attribute
// update, e.g. admission date.
type PatientDateAttributeMessage struct {
	PatientID string     `json:"patient_id"`
	Timestamp qtime.Time `json:"timestamp"`
	Attribute string     `json:"attribute"`
	Value     qtime.Time `json:"value"`
}

func (m PatientDateAttributeMessage) Key() string {
	return m.PatientID + "|" + m.Attribute + "|" + m.Timestamp.String()
}

func (m PatientDateAttributeMessage) CanonicalBytes() []byte { return canonicalBytes(m) }

var patientDateAttributeSpec = sqlsource.TableSpec{
	Table:      "patient_date_attribute",
	TimeColumn: "ts",
	KeyColumn:  "patient_id",
	Columns:    []string{"patient_id", "ts", "attribute", "value"},
}

func scanPatientDateAttribute(row sqlsource.Row) (types.Message, error) {
	var m PatientDateAttributeMessage
	var ts, value time.Time
	if err := row.Scan(&m.PatientID, &ts, &m.Attribute, &value); err != nil {
		return nil, err
	}
	m.Timestamp = qtime.FromTime(ts)
	m.Value = qtime.FromTime(value)
	return m, nil
}

// PatientDateAttribute streams date-valued patient attribute updates.
type PatientDateAttribute struct {
	noStall
}

var _ extract.Variant = (*PatientDateAttribute)(nil)

func NewPatientDateAttribute() *PatientDateAttribute { return &PatientDateAttribute{} }

func (*PatientDateAttribute) Name() string                       { return "PatientDateAttribute" }
func (*PatientDateAttribute) DefaultBatchDuration() time.Duration { return 60 * time.Minute }
func (*PatientDateAttribute) Bias() time.Duration                 { return 0 }
func (*PatientDateAttribute) IdleDelay() time.Duration            { return 32 * time.Minute }
func (*PatientDateAttribute) TTL(_ types.Message, limit int) int  { return defaultTTL(limit) }

func (*PatientDateAttribute) Timestamp(msg types.Message) qtime.Time {
	return msg.(PatientDateAttributeMessage).Timestamp
}

func (*PatientDateAttribute) Channel(_ context.Context, msg types.Message) (string, error) {
	return msg.(PatientDateAttributeMessage).PatientID, nil
}

func (*PatientDateAttribute) NewParser(ctx context.Context, conn extract.Conn, params extract.ParserParams) (extract.Parser, error) {
	return sqlsource.NewParser(ctx, conn, params, patientDateAttributeSpec, scanPatientDateAttribute)
}
