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

package dispatch_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/clinicalstream/extract-core/internal/dispatch"
	"github.com/clinicalstream/extract-core/internal/extract"
	"github.com/clinicalstream/extract-core/internal/extract/extracttest"
	"github.com/clinicalstream/extract-core/internal/types"
	"github.com/clinicalstream/extract-core/internal/util/qtime"
	"github.com/clinicalstream/extract-core/internal/util/stopper"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	channel string

	mu  sync.Mutex
	got []types.Message
	err error
}

func (h *recordingHandler) Channel() string { return h.channel }

func (h *recordingHandler) Handle(_ context.Context, msg types.Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.got = append(h.got, msg)
	return h.err
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.got)
}

func newTestQueue() *extract.Queue {
	return extract.NewQueue(extracttest.NewFakeVariant("q"), 10, true)
}

// TestDispatchRoutesByChannelAndAcks verifies a message routed to a
// registered handler is acked on success, with no dead-letter delivery.
func TestDispatchRoutesByChannelAndAcks(t *testing.T) {
	d := dispatch.New(2)
	stop := stopper.WithContext(context.Background())
	d.Start(stop)
	defer stop.Stop(time.Second)

	h := &recordingHandler{channel: "patient-1"}
	dl := &recordingHandler{channel: ""}
	d.AddHandler(h)
	d.AddDeadLetterHandler(dl)

	q := newTestQueue()
	msg := extracttest.FakeMessage{K: "m1", TS: qtime.New(1)}
	require.NoError(t, q.PushMessage(context.Background(), msg, d))

	require.NoError(t, d.Flush(context.Background()))
	require.Equal(t, 1, h.count())
	require.Equal(t, 0, dl.count())
}

// TestDispatchUnroutedGoesToDeadLetter verifies a channel with no
// registered handler falls through to the dead-letter handler.
func TestDispatchUnroutedGoesToDeadLetter(t *testing.T) {
	d := dispatch.New(2)
	stop := stopper.WithContext(context.Background())
	d.Start(stop)
	defer stop.Stop(time.Second)

	dl := &recordingHandler{channel: ""}
	d.AddDeadLetterHandler(dl)

	q := newTestQueue()
	msg := extracttest.FakeMessage{K: "m1", TS: qtime.New(1)}
	require.NoError(t, d.SendMessage(context.Background(), "nobody-claims-this", msg, q, 1))

	require.NoError(t, d.Flush(context.Background()))
	require.Equal(t, 1, dl.count())
}

// TestDispatchFatalExceptionsSurfacesError verifies that with the
// fatal_exceptions policy enabled, a handler error is recorded on
// FatalErr instead of being routed to the dead-letter handler.
func TestDispatchFatalExceptionsSurfacesError(t *testing.T) {
	d := dispatch.New(1, dispatch.WithFatalExceptions(true))
	stop := stopper.WithContext(context.Background())
	d.Start(stop)
	defer stop.Stop(time.Second)

	boom := errors.New("boom")
	h := &recordingHandler{channel: "c", err: boom}
	dl := &recordingHandler{channel: ""}
	d.AddHandler(h)
	d.AddDeadLetterHandler(dl)

	q := newTestQueue()
	msg := extracttest.FakeMessage{K: "m1", TS: qtime.New(1)}
	require.NoError(t, d.SendMessage(context.Background(), "c", msg, q, 1))

	require.NoError(t, d.Flush(context.Background()))
	require.ErrorIs(t, d.FatalErr(), boom)
	require.Equal(t, 0, dl.count())
}
