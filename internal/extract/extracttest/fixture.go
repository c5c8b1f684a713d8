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

package extracttest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/clinicalstream/extract-core/internal/extract"
	"github.com/clinicalstream/extract-core/internal/types"
	"github.com/clinicalstream/extract-core/internal/util/qtime"
)

// FakeMessage is a minimal types.Message for scenario tests that don't
// care about a variant's real payload shape.
type FakeMessage struct {
	K  string
	TS qtime.Time
}

var _ types.Message = FakeMessage{}

func (m FakeMessage) Key() string           { return m.K }
func (m FakeMessage) CanonicalBytes() []byte { return []byte(m.K + "|" + m.TS.String()) }

// FakeDB hands out a single shared FakeConn forever; tests don't model
// pool exhaustion.
type FakeDB struct{}

var _ extract.DB = FakeDB{}

func (FakeDB) Connect(context.Context) (extract.Conn, error) { return FakeConn{}, nil }

// FakeConn is a no-op extract.Conn.
type FakeConn struct{}

var _ extract.Conn = FakeConn{}

func (FakeConn) Dialect() string    { return "fake" }
func (FakeConn) Paramstyle() string { return "fake" }
func (FakeConn) Close() error       { return nil }

// FakeParser replays a fixed, pre-sorted slice of messages filtered to
// the window described by extract.ParserParams. Tests construct the
// full backing slice up front and hand a FakeVariant a reference to it.
type FakeParser struct {
	msgs []types.Message
	pos  int
}

var _ extract.Parser = (*FakeParser)(nil)

// NewFakeParser filters all of backing to the window in params and
// orders it accordingly. backing need not be sorted.
func NewFakeParser(backing []types.Message, timestampOf func(types.Message) qtime.Time, params extract.ParserParams) *FakeParser {
	filtered := make([]types.Message, 0, len(backing))
	for _, m := range backing {
		ts := timestampOf(m)
		if params.TimeGE != nil && ts.Before(*params.TimeGE) {
			continue
		}
		if params.TimeLE != nil && ts.After(*params.TimeLE) {
			continue
		}
		if params.TimeLT != nil && !ts.Before(*params.TimeLT) {
			continue
		}
		filtered = append(filtered, m)
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		ti, tj := timestampOf(filtered[i]), timestampOf(filtered[j])
		if params.Reverse {
			return tj.Before(ti)
		}
		return ti.Before(tj)
	})
	if params.Limit > 0 && len(filtered) > params.Limit {
		filtered = filtered[:params.Limit]
	}
	return &FakeParser{msgs: filtered}
}

func (p *FakeParser) Next(context.Context) (types.Message, bool, error) {
	if p.pos >= len(p.msgs) {
		return nil, false, nil
	}
	m := p.msgs[p.pos]
	p.pos++
	return m, true, nil
}

func (p *FakeParser) Close() error { return nil }

// FakeVariant is a scriptable extract.Variant backed by an in-memory
// message set, for scenario and invariant tests that exercise Queue
// and Extractor without a real warehouse.
type FakeVariant struct {
	NameValue    string
	BatchDurValue time.Duration
	BiasValue    time.Duration
	IdleValue    time.Duration
	ChannelFn    func(types.Message) string
	StallQueueFn func() *extract.Queue

	mu   sync.Mutex
	msgs []types.Message
}

var _ extract.Variant = (*FakeVariant)(nil)

// NewFakeVariant constructs a variant with sensible test defaults: no
// bias, no idle delay, every message routed to the fixed channel "c".
func NewFakeVariant(name string) *FakeVariant {
	return &FakeVariant{
		NameValue: name,
		ChannelFn: func(types.Message) string { return "c" },
	}
}

// Seed appends messages to the backing set a Parser will be built
// against; safe to call between Extractor.Run invocations to simulate
// new rows landing in the warehouse.
func (v *FakeVariant) Seed(msgs ...types.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.msgs = append(v.msgs, msgs...)
}

func (v *FakeVariant) snapshot() []types.Message {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]types.Message, len(v.msgs))
	copy(out, v.msgs)
	return out
}

func (v *FakeVariant) Name() string { return v.NameValue }

func (v *FakeVariant) DefaultBatchDuration() time.Duration { return v.BatchDurValue }
func (v *FakeVariant) Bias() time.Duration                 { return v.BiasValue }
func (v *FakeVariant) IdleDelay() time.Duration            { return v.IdleValue }

func (v *FakeVariant) NewParser(_ context.Context, _ extract.Conn, params extract.ParserParams) (extract.Parser, error) {
	return NewFakeParser(v.snapshot(), v.Timestamp, params), nil
}

func (v *FakeVariant) Channel(_ context.Context, msg types.Message) (string, error) {
	return v.ChannelFn(msg), nil
}

func (v *FakeVariant) Timestamp(msg types.Message) qtime.Time {
	return msg.(FakeMessage).TS
}

func (v *FakeVariant) TTL(types.Message, int) int { return 1 }

func (v *FakeVariant) StallingQueue() *extract.Queue {
	if v.StallQueueFn == nil {
		return nil
	}
	return v.StallQueueFn()
}

// FakeDispatcher records every message handed to SendMessage and, unless
// told to hold, immediately acks it back onto the source queue — the
// same-batch ack timing most scenario tests want. Tests that need to
// exercise nack/redelivery set Hold and drive AckMessage themselves.
type FakeDispatcher struct {
	Hold bool

	mu  sync.Mutex
	Got []FakeDelivery
}

var _ extract.Dispatcher = (*FakeDispatcher)(nil)

// FakeDelivery records one SendMessage call.
type FakeDelivery struct {
	Channel string
	Msg     types.Message
	Source  *extract.Queue
	TTL     int
}

func (d *FakeDispatcher) SendMessage(_ context.Context, channel string, msg types.Message, source *extract.Queue, ttl int) error {
	d.mu.Lock()
	d.Got = append(d.Got, FakeDelivery{Channel: channel, Msg: msg, Source: source, TTL: ttl})
	d.mu.Unlock()
	if d.Hold {
		return nil
	}
	return source.AckMessage(msg)
}

func (d *FakeDispatcher) Flush(context.Context) error { return nil }

// Deliveries returns a snapshot of every SendMessage call observed so far.
func (d *FakeDispatcher) Deliveries() []FakeDelivery {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]FakeDelivery, len(d.Got))
	copy(out, d.Got)
	return out
}
