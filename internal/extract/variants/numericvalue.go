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

// NumericValueMessage is one scalar vital-sign reading, e.g. heart rate.
type NumericValueMessage struct {
	MappingID string     `json:"mapping_id"`
	Timestamp qtime.Time `json:"timestamp"`
	Label     string     `json:"label"`
	Value     float64    `json:"value"`
	Units     string     `json:"units"`
}

func (m NumericValueMessage) Key() string {
	return m.MappingID + "|" + m.Label + "|" + m.Timestamp.String()
}

func (m NumericValueMessage) CanonicalBytes() []byte { return canonicalBytes(m) }

var numericValueSpec = sqlsource.TableSpec{
	Table:      "numeric_value",
	TimeColumn: "ts",
	KeyColumn:  "mapping_id",
	Columns:    []string{"mapping_id", "ts", "label", "value", "units"},
}

func scanNumericValue(row sqlsource.Row) (types.Message, error) {
	var m NumericValueMessage
	var ts time.Time
	if err := row.Scan(&m.MappingID, &ts, &m.Label, &m.Value, &m.Units); err != nil {
		return nil, err
	}
	m.Timestamp = qtime.FromTime(ts)
	return m, nil
}

// NumericValue streams scalar vital-sign readings.
type NumericValue struct {
	mappingKeyed
}

var _ extract.Variant = (*NumericValue)(nil)

func NewNumericValue(o *origin.Origin) *NumericValue {
	return &NumericValue{mappingKeyed: mappingKeyed{origin: o}}
}

func (*NumericValue) Name() string                       { return "NumericValue" }
func (*NumericValue) DefaultBatchDuration() time.Duration { return 11 * time.Second }
func (*NumericValue) Bias() time.Duration                 { return 0 }
func (*NumericValue) IdleDelay() time.Duration            { return time.Second }
func (*NumericValue) TTL(_ types.Message, limit int) int  { return defaultTTL(limit) }

func (*NumericValue) Timestamp(msg types.Message) qtime.Time {
	return msg.(NumericValueMessage).Timestamp
}

func (v *NumericValue) Channel(_ context.Context, msg types.Message) (string, error) {
	return v.channelForMappingID(msg.(NumericValueMessage).MappingID), nil
}

func (*NumericValue) NewParser(ctx context.Context, conn extract.Conn, params extract.ParserParams) (extract.Parser, error) {
	return sqlsource.NewParser(ctx, conn, params, numericValueSpec, scanNumericValue)
}
