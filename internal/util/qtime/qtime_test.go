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

package qtime_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/clinicalstream/extract-core/internal/util/qtime"
	"github.com/stretchr/testify/require"
)

func TestCompareAndOrdering(t *testing.T) {
	a := qtime.New(100)
	b := qtime.New(200)

	require.Equal(t, -1, qtime.Compare(a, b))
	require.Equal(t, 1, qtime.Compare(b, a))
	require.Equal(t, 0, qtime.Compare(a, a))
	require.True(t, a.Before(b))
	require.True(t, b.After(a))
	require.True(t, qtime.VeryOld.Before(a))
}

func TestStringRoundTrip(t *testing.T) {
	ts := qtime.New(1_700_000_123_456)
	parsed, err := qtime.Parse(ts.String())
	require.NoError(t, err)
	require.True(t, ts.Equal(parsed))
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := qtime.Parse("not-a-number")
	require.Error(t, err)
}

func TestAddSub(t *testing.T) {
	ts := qtime.New(0)
	next := ts.Add(11 * time.Second)
	require.Equal(t, 11*time.Second, next.Sub(ts))
}

func TestFromTimeTruncatesToMicros(t *testing.T) {
	now := time.Now()
	ts := qtime.FromTime(now)
	require.Equal(t, now.UnixMicro(), ts.Micros())
}

func TestJSONRoundTrip(t *testing.T) {
	type wrapper struct {
		Timestamp qtime.Time `json:"timestamp"`
	}
	ts := qtime.New(1_700_000_123_456)
	data, err := json.Marshal(wrapper{Timestamp: ts})
	require.NoError(t, err)
	require.JSONEq(t, `{"timestamp":"1700000123456"}`, string(data))

	var out wrapper
	require.NoError(t, json.Unmarshal(data, &out))
	require.True(t, ts.Equal(out.Timestamp))
}
