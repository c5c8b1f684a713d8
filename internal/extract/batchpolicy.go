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

import "time"

// BatchStats summarizes the outcome of the previous batch query, the
// only input the adaptive batch-sizing policy needs. Kept separate
// from any DB interaction so it can be tested exhaustively (spec.md §9
// design note "encode as a pure function... test exhaustively").
type BatchStats struct {
	// Count is the number of messages observed in the previous batch.
	Count int
	// CountAtNewest is how many of those messages shared the batch's
	// final (newest) timestamp.
	CountAtNewest int
	// Limit is the row cap used for the previous batch.
	Limit int
	// Duration is the time-window width used for the previous batch. A
	// zero Duration means the previous batch was unbounded (the very
	// first query, or one that otherwise has no recorded duration).
	Duration time.Duration
}

// BatchConfig holds the per-queue constants the policy falls back to
// when it cannot adapt from BatchStats.
type BatchConfig struct {
	// BaseLimit is limit_per_batch: the row cap used for the first
	// query and whenever the policy resets to the base case.
	BaseLimit int
	// DefaultDuration is the variant's default_batch_duration().
	DefaultDuration time.Duration
}

// NextBatch implements the adaptive batch-sizing table of spec.md §4.2.
//
//	First query (start is null)                                  -> (BaseLimit, 0)          // unbounded, use end_time
//	Multi-timestamp batch, or duration missing                    -> (BaseLimit, DefaultDuration)
//	Single-timestamp batch, did not hit limit                     -> (prev.Limit, prev.Duration*2)
//	Single-timestamp batch, hit limit                              -> (prev.Limit*2, prev.Duration)
//
// first must be true only for the very first call a queue ever makes; a
// zero-value BatchStats is otherwise indistinguishable from "batch with
// zero messages", which is a legitimate (non-first) outcome handled by
// the multi-timestamp/reset branch.
func NextBatch(first bool, prev BatchStats, cfg BatchConfig) (n int, d time.Duration) {
	if first {
		return cfg.BaseLimit, 0
	}

	singleTimestamp := prev.Count == prev.CountAtNewest && prev.Duration > 0
	if !singleTimestamp {
		return cfg.BaseLimit, cfg.DefaultDuration
	}

	if prev.Count >= prev.Limit {
		// Dense at one instant and hit the cap: widen the row budget,
		// keep the window narrow so we finish this instant quickly.
		return prev.Limit * 2, prev.Duration
	}

	// Sparse: widen the window, keep the row budget steady.
	return prev.Limit, prev.Duration * 2
}
