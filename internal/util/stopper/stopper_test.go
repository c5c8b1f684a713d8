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

package stopper_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/clinicalstream/extract-core/internal/util/stopper"
	"github.com/stretchr/testify/require"
)

func TestGoStopsOnSignal(t *testing.T) {
	ctx := stopper.WithContext(context.Background())

	ran := make(chan struct{})
	ctx.Go(func() error {
		defer close(ran)
		<-ctx.Stopping()
		return nil
	})

	err := ctx.Stop(time.Second)
	require.NoError(t, err)

	select {
	case <-ran:
	default:
		t.Fatal("goroutine did not observe stop signal")
	}
}

func TestStopCollectsFirstError(t *testing.T) {
	ctx := stopper.WithContext(context.Background())
	boom := errors.New("boom")

	ctx.Go(func() error {
		<-ctx.Stopping()
		return boom
	})

	err := ctx.Stop(time.Second)
	require.ErrorIs(t, err, boom)
}
