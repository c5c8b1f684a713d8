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

package extract_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/clinicalstream/extract-core/internal/extract"
	"github.com/clinicalstream/extract-core/internal/extract/extracttest"
	"github.com/clinicalstream/extract-core/internal/types"
	"github.com/clinicalstream/extract-core/internal/util/qtime"
	"github.com/stretchr/testify/require"
)

// TestSaveStateRoundTrip verifies that a queue's restart anchor and
// outstanding acked hashes survive a save/load cycle through a fresh
// Queue instance.
func TestSaveStateRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	variant := extracttest.NewFakeVariant("RoundTrip")
	ts := qtime.New(5_000_000)
	msgs := []types.Message{
		extracttest.FakeMessage{K: "x", TS: ts},
		extracttest.FakeMessage{K: "y", TS: ts},
	}
	variant.Seed(msgs...)

	q := extract.NewQueue(variant, 10, true)
	disp := &extracttest.FakeDispatcher{}
	conn := extracttest.FakeConn{}
	parser, err := q.NextMessageParser(ctx, conn)
	require.NoError(t, err)
	for {
		msg, ok, nerr := parser.Next(ctx)
		require.NoError(t, nerr)
		if !ok {
			break
		}
		require.NoError(t, q.PushMessage(ctx, msg, disp))
	}
	require.NoError(t, parser.Close())

	require.NoError(t, q.SaveState(dir))

	path := filepath.Join(dir, "%RoundTrip.queue")
	_, err = os.Stat(path)
	require.NoError(t, err, "state file should exist at the documented %%name.queue path")

	q2 := extract.NewQueue(variant, 10, true)
	require.NoError(t, q2.LoadState(dir))
	require.True(t, q2.OldestUnackedTimestamp().Equal(ts))
	require.True(t, q2.Started())
}

// TestLoadStateMissingFileIsFreshStart verifies a missing state file is
// treated as "never run", not an error (spec.md §4.4).
func TestLoadStateMissingFileIsFreshStart(t *testing.T) {
	dir := t.TempDir()
	variant := extracttest.NewFakeVariant("NeverRun")
	q := extract.NewQueue(variant, 10, true)
	require.NoError(t, q.LoadState(dir))
	require.False(t, q.Started())
}

// TestLoadStateCorruptFileIsFreshStart verifies a corrupt state file is
// likewise treated as a fresh start rather than a fatal error, matching
// the crash-safety goal of the temp-file-plus-rename write protocol:
// a reader should never see a half-written file, but if it somehow
// does, it must not be mistaken for valid state.
func TestLoadStateCorruptFileIsFreshStart(t *testing.T) {
	dir := t.TempDir()
	variant := extracttest.NewFakeVariant("Corrupt")
	path := filepath.Join(dir, "%Corrupt.queue")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	q := extract.NewQueue(variant, 10, true)
	require.NoError(t, q.LoadState(dir))
	require.False(t, q.Started())
}
