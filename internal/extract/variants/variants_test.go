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

package variants_test

import (
	"context"
	"testing"

	"github.com/clinicalstream/extract-core/internal/extract"
	"github.com/clinicalstream/extract-core/internal/extract/variants"
	"github.com/clinicalstream/extract-core/internal/origin"
	"github.com/clinicalstream/extract-core/internal/util/qtime"
	"github.com/stretchr/testify/require"
)

// TestMappingKeyedStallsUntilRegistered verifies the core §4.6 contract:
// a mapping-id-keyed variant reports a channel of "" and stalls behind
// the PatientMapping queue until that mapping_id has been registered,
// then resolves normally afterward.
func TestMappingKeyedStallsUntilRegistered(t *testing.T) {
	ctx := context.Background()
	o := origin.New()
	mappingQueue := extract.NewQueue(variants.NewPatientMapping(o), 10, true)
	o.SetMappingQueue(mappingQueue)

	ws := variants.NewWaveSample(o)
	msg := variants.WaveSampleMessage{
		MappingID:    "dev-1",
		Timestamp:    qtime.New(1_000),
		Lead:         "II",
		SampleRateHz: 500,
		Samples:      []float64{0.1, 0.2},
	}

	channel, err := ws.Channel(ctx, msg)
	require.NoError(t, err)
	require.Equal(t, "", channel)
	require.Same(t, mappingQueue, ws.StallingQueue())

	o.Register("dev-1", "patient-42")

	channel, err = ws.Channel(ctx, msg)
	require.NoError(t, err)
	require.Equal(t, "patient-42", channel)
	require.Nil(t, ws.StallingQueue())
}

// TestMessageKeyIncludesTimestamp confirms Key() disambiguates repeated
// updates to the same logical entity at different instants, and that
// CanonicalBytes is stable across two structurally identical messages
// (required for the cross-restart content hash in spec.md §4.4).
func TestMessageKeyIncludesTimestamp(t *testing.T) {
	m1 := variants.NumericValueMessage{MappingID: "dev-1", Timestamp: qtime.New(1_000), Label: "hr", Value: 72, Units: "bpm"}
	m2 := variants.NumericValueMessage{MappingID: "dev-1", Timestamp: qtime.New(2_000), Label: "hr", Value: 72, Units: "bpm"}
	require.NotEqual(t, m1.Key(), m2.Key())

	m3 := variants.NumericValueMessage{MappingID: "dev-1", Timestamp: qtime.New(1_000), Label: "hr", Value: 72, Units: "bpm"}
	require.Equal(t, m1.CanonicalBytes(), m3.CanonicalBytes())
}

// TestBedTagTTLPreserved pins the deliberately-unresolved TTL constant
// carried over from the source (spec.md §9 open question 2).
func TestBedTagTTLPreserved(t *testing.T) {
	bt := variants.NewBedTag()
	require.Equal(t, 1000, bt.TTL(nil, 5))
	require.Equal(t, 1000, bt.TTL(nil, 500))
}
