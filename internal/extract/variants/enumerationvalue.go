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

// EnumerationValueMessage is a discrete-state reading, e.g. an alarm
// silence state or a ventilator mode.
type EnumerationValueMessage struct {
	MappingID string     `json:"mapping_id"`
	Timestamp qtime.Time `json:"timestamp"`
	Label     string     `json:"label"`
	Value     string     `json:"value"`
}

func (m EnumerationValueMessage) Key() string {
	return m.MappingID + "|" + m.Label + "|" + m.Timestamp.String()
}

func (m EnumerationValueMessage) CanonicalBytes() []byte { return canonicalBytes(m) }

var enumerationValueSpec = sqlsource.TableSpec{
	Table:      "enumeration_value",
	TimeColumn: "ts",
	KeyColumn:  "mapping_id",
	Columns:    []string{"mapping_id", "ts", "label", "value"},
}

func scanEnumerationValue(row sqlsource.Row) (types.Message, error) {
	var m EnumerationValueMessage
	var ts time.Time
	if err := row.Scan(&m.MappingID, &ts, &m.Label, &m.Value); err != nil {
		return nil, err
	}
	m.Timestamp = qtime.FromTime(ts)
	return m, nil
}

// EnumerationValue streams discrete-state readings.
type EnumerationValue struct {
	mappingKeyed
}

var _ extract.Variant = (*EnumerationValue)(nil)

func NewEnumerationValue(o *origin.Origin) *EnumerationValue {
	return &EnumerationValue{mappingKeyed: mappingKeyed{origin: o}}
}

func (*EnumerationValue) Name() string                       { return "EnumerationValue" }
func (*EnumerationValue) DefaultBatchDuration() time.Duration { return 11 * time.Second }
func (*EnumerationValue) Bias() time.Duration                 { return 0 }
func (*EnumerationValue) IdleDelay() time.Duration            { return 500 * time.Millisecond }
func (*EnumerationValue) TTL(_ types.Message, limit int) int  { return defaultTTL(limit) }

func (*EnumerationValue) Timestamp(msg types.Message) qtime.Time {
	return msg.(EnumerationValueMessage).Timestamp
}

func (v *EnumerationValue) Channel(_ context.Context, msg types.Message) (string, error) {
	return v.channelForMappingID(msg.(EnumerationValueMessage).MappingID), nil
}

func (*EnumerationValue) NewParser(ctx context.Context, conn extract.Conn, params extract.ParserParams) (extract.Parser, error) {
	return sqlsource.NewParser(ctx, conn, params, enumerationValueSpec, scanEnumerationValue)
}
