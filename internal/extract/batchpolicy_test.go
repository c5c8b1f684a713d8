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

package extract

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNextBatchFirstQuery(t *testing.T) {
	cfg := BatchConfig{BaseLimit: 10, DefaultDuration: 11 * time.Second}
	n, d := NextBatch(true, BatchStats{}, cfg)
	require.Equal(t, 10, n)
	require.Equal(t, time.Duration(0), d)
}

func TestNextBatchHitLimitDoublesRowCap(t *testing.T) {
	cfg := BatchConfig{BaseLimit: 10, DefaultDuration: 11 * time.Second}
	prev := BatchStats{Count: 10, CountAtNewest: 10, Limit: 10, Duration: 11 * time.Second}
	n, d := NextBatch(false, prev, cfg)
	require.Equal(t, 20, n)
	require.Equal(t, 11*time.Second, d)
}

func TestNextBatchSingleTimestampUnderLimitDoublesDuration(t *testing.T) {
	cfg := BatchConfig{BaseLimit: 10, DefaultDuration: 11 * time.Second}
	prev := BatchStats{Count: 5, CountAtNewest: 5, Limit: 10, Duration: 11 * time.Second}
	n, d := NextBatch(false, prev, cfg)
	require.Equal(t, 10, n)
	require.Equal(t, 22*time.Second, d)
}

func TestNextBatchMultiTimestampResetsToBase(t *testing.T) {
	cfg := BatchConfig{BaseLimit: 10, DefaultDuration: 11 * time.Second}
	prev := BatchStats{Count: 8, CountAtNewest: 3, Limit: 20, Duration: 44 * time.Second}
	n, d := NextBatch(false, prev, cfg)
	require.Equal(t, 10, n)
	require.Equal(t, 11*time.Second, d)
}

func TestNextBatchMissingDurationResetsToBase(t *testing.T) {
	cfg := BatchConfig{BaseLimit: 10, DefaultDuration: 11 * time.Second}
	// Single-timestamp, but no recorded duration (e.g. immediately after
	// the unbounded first query): treated like the multi-timestamp case.
	prev := BatchStats{Count: 3, CountAtNewest: 3, Limit: 10, Duration: 0}
	n, d := NextBatch(false, prev, cfg)
	require.Equal(t, 10, n)
	require.Equal(t, 11*time.Second, d)
}

func TestNextBatchExhaustive(t *testing.T) {
	cfg := BatchConfig{BaseLimit: 7, DefaultDuration: 5 * time.Second}
	for limit := 1; limit <= 20; limit++ {
		for count := 0; count <= limit; count++ {
			for countAtNewest := 0; countAtNewest <= count; countAtNewest++ {
				prev := BatchStats{
					Count:         count,
					CountAtNewest: countAtNewest,
					Limit:         limit,
					Duration:      3 * time.Second,
				}
				n, d := NextBatch(false, prev, cfg)
				single := count == countAtNewest
				switch {
				case !single:
					require.Equal(t, cfg.BaseLimit, n)
					require.Equal(t, cfg.DefaultDuration, d)
				case count >= limit:
					require.Equal(t, limit*2, n)
					require.Equal(t, prev.Duration, d)
				default:
					require.Equal(t, limit, n)
					require.Equal(t, prev.Duration*2, d)
				}
			}
		}
	}
}
