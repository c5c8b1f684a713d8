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

// BedTagMessage is a bed/location label update. It carries no mapping
// or patient key; the channel is always empty (broadcast to the
// dead-letter handler, per spec.md §4.5's "channel = null").
type BedTagMessage struct {
	Timestamp qtime.Time `json:"timestamp"`
	BedID     string     `json:"bed_id"`
	Tag       string     `json:"tag"`
}

func (m BedTagMessage) Key() string {
	return m.BedID + "|" + m.Tag + "|" + m.Timestamp.String()
}

func (m BedTagMessage) CanonicalBytes() []byte { return canonicalBytes(m) }

var bedTagSpec = sqlsource.TableSpec{
	Table:      "bed_tag",
	TimeColumn: "ts",
	Columns:    []string{"ts", "bed_id", "tag"},
}

func scanBedTag(row sqlsource.Row) (types.Message, error) {
	var m BedTagMessage
	var ts time.Time
	if err := row.Scan(&ts, &m.BedID, &m.Tag); err != nil {
		return nil, err
	}
	m.Timestamp = qtime.FromTime(ts)
	return m, nil
}

// BedTag is the one key-less variant. It never stalls, and its TTL is
// the source's hard-coded placeholder value, preserved verbatim rather
// than silently resolved (spec.md §9 open question 2).
type BedTag struct {
	noStall
}

var _ extract.Variant = (*BedTag)(nil)

func NewBedTag() *BedTag { return &BedTag{} }

func (*BedTag) Name() string                       { return "BedTag" }
func (*BedTag) DefaultBatchDuration() time.Duration { return 11 * time.Second }
func (*BedTag) Bias() time.Duration                 { return 0 }
func (*BedTag) IdleDelay() time.Duration            { return 34 * time.Minute }

// TTL is hard-coded to 1000 in the source with no derivation from
// limit; preserved as-is rather than silently "fixed" (spec.md §9).
func (*BedTag) TTL(types.Message, int) int { return 1000 }

func (*BedTag) Timestamp(msg types.Message) qtime.Time {
	return msg.(BedTagMessage).Timestamp
}

func (*BedTag) Channel(context.Context, types.Message) (string, error) { return "", nil }

func (*BedTag) NewParser(ctx context.Context, conn extract.Conn, params extract.ParserParams) (extract.Parser, error) {
	return sqlsource.NewParser(ctx, conn, params, bedTagSpec, scanBedTag)
}
