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

// PatientBasicInfoMessage is one demographic field update, e.g. name or
// date of birth.
type PatientBasicInfoMessage struct {
	PatientID string     `json:"patient_id"`
	Timestamp qtime.Time `json:"timestamp"`
	Field     string     `json:"field"`
	Value     string     `json:"value"`
}

func (m PatientBasicInfoMessage) Key() string {
	return m.PatientID + "|" + m.Field + "|" + m.Timestamp.String()
}

func (m PatientBasicInfoMessage) CanonicalBytes() []byte { return canonicalBytes(m) }

var patientBasicInfoSpec = sqlsource.TableSpec{
	Table:      "patient_basic_info",
	TimeColumn: "ts",
	KeyColumn:  "patient_id",
	Columns:    []string{"patient_id", "ts", "field", "value"},
}

func scanPatientBasicInfo(row sqlsource.Row) (types.Message, error) {
	var m PatientBasicInfoMessage
	var ts time.Time
	if err := row.Scan(&m.PatientID, &ts, &m.Field, &m.Value); err != nil {
		return nil, err
	}
	m.Timestamp = qtime.FromTime(ts)
	return m, nil
}

// PatientBasicInfo streams demographic field updates. Keyed directly by
// patient_id, it never stalls on PatientMapping.
type PatientBasicInfo struct {
	noStall
}

var _ extract.Variant = (*PatientBasicInfo)(nil)

func NewPatientBasicInfo() *PatientBasicInfo { return &PatientBasicInfo{} }

func (*PatientBasicInfo) Name() string                       { return "PatientBasicInfo" }
func (*PatientBasicInfo) DefaultBatchDuration() time.Duration { return 60 * time.Minute }
func (*PatientBasicInfo) Bias() time.Duration                 { return 0 }
func (*PatientBasicInfo) IdleDelay() time.Duration            { return 31 * time.Minute }
func (*PatientBasicInfo) TTL(_ types.Message, limit int) int  { return defaultTTL(limit) }

func (*PatientBasicInfo) Timestamp(msg types.Message) qtime.Time {
	return msg.(PatientBasicInfoMessage).Timestamp
}

func (*PatientBasicInfo) Channel(_ context.Context, msg types.Message) (string, error) {
	return msg.(PatientBasicInfoMessage).PatientID, nil
}

func (*PatientBasicInfo) NewParser(ctx context.Context, conn extract.Conn, params extract.ParserParams) (extract.Parser, error) {
	return sqlsource.NewParser(ctx, conn, params, patientBasicInfoSpec, scanPatientBasicInfo)
}
