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

// WaveSampleMessage is one packed waveform sample block for a single
// monitored lead.
type WaveSampleMessage struct {
	MappingID    string     `json:"mapping_id"`
	Timestamp    qtime.Time `json:"timestamp"`
	Lead         string     `json:"lead"`
	SampleRateHz int        `json:"sample_rate_hz"`
	Samples      []float64  `json:"samples"`
}

func (m WaveSampleMessage) Key() string {
	return m.MappingID + "|" + m.Lead + "|" + m.Timestamp.String()
}

func (m WaveSampleMessage) CanonicalBytes() []byte { return canonicalBytes(m) }

var wavesampleSpec = sqlsource.TableSpec{
	Table:      "wave_sample",
	TimeColumn: "ts",
	KeyColumn:  "mapping_id",
	Columns:    []string{"mapping_id", "ts", "lead", "sample_rate_hz", "samples"},
}

func scanWaveSample(row sqlsource.Row) (types.Message, error) {
	var m WaveSampleMessage
	var ts time.Time
	if err := row.Scan(&m.MappingID, &ts, &m.Lead, &m.SampleRateHz, &m.Samples); err != nil {
		return nil, err
	}
	m.Timestamp = qtime.FromTime(ts)
	return m, nil
}

// WaveSample is the highest-rate, densest queue: many samples can share
// a single timestamp, which is exactly the case the adaptive batch
// policy's row-cap doubling exists for (spec.md §4.2, §8 scenario S1).
type WaveSample struct {
	mappingKeyed
}

var _ extract.Variant = (*WaveSample)(nil)

// NewWaveSample constructs the WaveSample variant, registered against
// the shared mapping-id origin registry.
func NewWaveSample(o *origin.Origin) *WaveSample {
	return &WaveSample{mappingKeyed: mappingKeyed{origin: o}}
}

func (*WaveSample) Name() string                       { return "WaveSample" }
func (*WaveSample) DefaultBatchDuration() time.Duration { return 11 * time.Second }
func (*WaveSample) Bias() time.Duration                 { return -30 * time.Second }
func (*WaveSample) IdleDelay() time.Duration            { return 500 * time.Millisecond }
func (*WaveSample) TTL(_ types.Message, limit int) int  { return defaultTTL(limit) }

func (*WaveSample) Timestamp(msg types.Message) qtime.Time {
	return msg.(WaveSampleMessage).Timestamp
}

func (v *WaveSample) Channel(_ context.Context, msg types.Message) (string, error) {
	return v.channelForMappingID(msg.(WaveSampleMessage).MappingID), nil
}

func (*WaveSample) NewParser(ctx context.Context, conn extract.Conn, params extract.ParserParams) (extract.Parser, error) {
	return sqlsource.NewParser(ctx, conn, params, wavesampleSpec, scanWaveSample)
}
