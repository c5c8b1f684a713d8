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

// AlertMessage is one clinical alarm event.
type AlertMessage struct {
	MappingID string     `json:"mapping_id"`
	Timestamp qtime.Time `json:"timestamp"`
	Code      string     `json:"code"`
	Severity  int        `json:"severity"`
	Text      string     `json:"text"`
}

func (m AlertMessage) Key() string {
	return m.MappingID + "|" + m.Code + "|" + m.Timestamp.String()
}

func (m AlertMessage) CanonicalBytes() []byte { return canonicalBytes(m) }

var alertSpec = sqlsource.TableSpec{
	Table:      "alert",
	TimeColumn: "ts",
	KeyColumn:  "mapping_id",
	Columns:    []string{"mapping_id", "ts", "code", "severity", "text"},
}

func scanAlert(row sqlsource.Row) (types.Message, error) {
	var m AlertMessage
	var ts time.Time
	if err := row.Scan(&m.MappingID, &ts, &m.Code, &m.Severity, &m.Text); err != nil {
		return nil, err
	}
	m.Timestamp = qtime.FromTime(ts)
	return m, nil
}

// Alert streams clinical alarm events.
type Alert struct {
	mappingKeyed
}

var _ extract.Variant = (*Alert)(nil)

func NewAlert(o *origin.Origin) *Alert {
	return &Alert{mappingKeyed: mappingKeyed{origin: o}}
}

func (*Alert) Name() string                       { return "Alert" }
func (*Alert) DefaultBatchDuration() time.Duration { return 11 * time.Second }
func (*Alert) Bias() time.Duration                 { return 0 }
func (*Alert) IdleDelay() time.Duration            { return time.Second }
func (*Alert) TTL(_ types.Message, limit int) int  { return defaultTTL(limit) }

func (*Alert) Timestamp(msg types.Message) qtime.Time {
	return msg.(AlertMessage).Timestamp
}

func (v *Alert) Channel(_ context.Context, msg types.Message) (string, error) {
	return v.channelForMappingID(msg.(AlertMessage).MappingID), nil
}

func (*Alert) NewParser(ctx context.Context, conn extract.Conn, params extract.ParserParams) (extract.Parser, error) {
	return sqlsource.NewParser(ctx, conn, params, alertSpec, scanAlert)
}
