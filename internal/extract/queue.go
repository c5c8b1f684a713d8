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
	"context"
	"sync"
	"time"

	"github.com/clinicalstream/extract-core/internal/types"
	"github.com/clinicalstream/extract-core/internal/util/contenthash"
	"github.com/clinicalstream/extract-core/internal/util/qtime"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Dispatcher is the minimal sink contract a Queue needs during message
// ingestion. It is satisfied by dispatch.Dispatcher; declaring it here
// (rather than importing the dispatch package) keeps extract free of a
// dependency on the dispatcher's worker-pool implementation.
type Dispatcher interface {
	SendMessage(ctx context.Context, channel string, msg types.Message, source *Queue, ttl int) error
	// Flush blocks until every in-flight handler invocation has
	// completed, so a clean shutdown can safely persist queue state.
	Flush(ctx context.Context) error
}

// Queue is the ExtractorQueue base of spec.md §3/§4.2-§4.4: one per
// logical message stream, owning its own virtual clock, batch-sizing
// policy, ack tracking, and durable state file. Concrete behavior that
// differs between message streams is supplied by a Variant.
type Queue struct {
	variant       Variant
	baseLimit     int
	deterministic bool

	mu sync.Mutex

	started       bool
	newestSeen    qtime.Time
	oldestUnacked qtime.Time
	endTime       *qtime.Time

	messageInfo map[string]*MessageInfo
	deque       []*TimestampInfo
	ackedSaved  map[string]map[string]struct{}

	lastBatchCount         int
	lastBatchCountAtNewest int
	lastBatchLimit         int
	lastBatchDuration      time.Duration
	lastBatchEnd           qtime.Time
	queryTime              qtime.Time
}

// NewQueue constructs a Queue around the given Variant. baseLimit is
// limit_per_batch; deterministic requests sorted, byte-exact state
// output (spec.md §4.4).
func NewQueue(variant Variant, baseLimit int, deterministic bool) *Queue {
	return &Queue{
		variant:       variant,
		baseLimit:     baseLimit,
		deterministic: deterministic,
		newestSeen:    qtime.VeryOld,
		oldestUnacked: qtime.VeryOld,
		messageInfo:   make(map[string]*MessageInfo),
		ackedSaved:    make(map[string]map[string]struct{}),
	}
}

// Name returns the variant's queue name, used for state file naming,
// metrics labels, and log fields.
func (q *Queue) Name() string { return q.variant.Name() }

// Started reports whether the queue has observed its first message
// (live or hydrated from a state file).
func (q *Queue) Started() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.started
}

// SetEndTime installs an optional upper bound for all future queries.
func (q *Queue) SetEndTime(t qtime.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.endTime = &t
}

// NewestSeenTimestamp returns the maximum timestamp seen so far.
func (q *Queue) NewestSeenTimestamp() qtime.Time {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.newestSeen
}

// OldestUnackedTimestamp returns the durable restart anchor.
func (q *Queue) OldestUnackedTimestamp() qtime.Time {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.oldestUnacked
}

// QueryTime returns the maximum timestamp observed in the batch most
// recently drained.
func (q *Queue) QueryTime() qtime.Time {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.queryTime
}

// Bias, IdleDelay expose the variant's scheduling constants so the
// Extractor need not hold a reference to the Variant directly.
func (q *Queue) Bias() time.Duration      { return q.variant.Bias() }
func (q *Queue) IdleDelay() time.Duration { return q.variant.IdleDelay() }

// StallingQueue reports the queue this one is currently blocked behind.
func (q *Queue) StallingQueue() *Queue { return q.variant.StallingQueue() }

// ReachedPresent implements spec.md §4.2's reached_present(). Without
// an end_time this is only approximate (Open Question 1, spec.md §9):
// it cannot distinguish "caught up" from "the source is simply slow".
func (q *Queue) ReachedPresent() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.endTime != nil {
		return !q.lastBatchEnd.Before(*q.endTime) && q.lastBatchCount < q.lastBatchLimit
	}
	return q.lastBatchCount < q.lastBatchLimit
}

// NextMessageParser implements the adaptive batch-construction policy
// of spec.md §4.2 and asks the Variant for a bounded Parser over the
// resulting window.
func (q *Queue) NextMessageParser(ctx context.Context, conn Conn) (Parser, error) {
	q.mu.Lock()

	first := !q.started
	prevStats := BatchStats{
		Count:         q.lastBatchCount,
		CountAtNewest: q.lastBatchCountAtNewest,
		Limit:         q.lastBatchLimit,
		Duration:      q.lastBatchDuration,
	}
	cfg := BatchConfig{BaseLimit: q.baseLimit, DefaultDuration: q.variant.DefaultBatchDuration()}
	n, d := NextBatch(first, prevStats, cfg)

	start := q.newestSeen
	unbounded := d == 0

	// On a queue's first batch, start is qtime.VeryOld: there is no
	// real newest-seen timestamp yet to measure a duration from, so
	// end_time.Sub(start) would overflow rather than produce anything
	// near end_time. Skip straight to the configured upper bound, the
	// way the original short-circuits when newest_seen_timestamp is
	// still unset.
	if q.endTime != nil && !first {
		maxD := q.endTime.Sub(start)
		if unbounded || d > maxD {
			d = maxD
			unbounded = false
		}
	}

	q.lastBatchCount = 0
	q.lastBatchCountAtNewest = 0
	q.lastBatchLimit = n
	q.lastBatchDuration = d
	q.queryTime = start

	params := ParserParams{
		Limit: n,
		TimeGE: func() *qtime.Time {
			ts := start
			return &ts
		}(),
	}
	switch {
	case q.endTime != nil && first:
		end := *q.endTime
		q.lastBatchEnd = end
		params.TimeLE = &end
	case !unbounded:
		end := start.Add(d)
		q.lastBatchEnd = end
		params.TimeLE = &end
	case q.endTime != nil:
		q.lastBatchEnd = *q.endTime
		params.TimeLE = q.endTime
	default:
		q.lastBatchEnd = qtime.Time{}
	}

	q.mu.Unlock()

	log.WithFields(log.Fields{
		"queue": q.variant.Name(),
		"limit": n,
		"start": start,
	}).Trace("constructed next batch window")

	return q.variant.NewParser(ctx, conn, params)
}

// FinalMessageParser builds the reverse, limit-1 probe used by
// _update_current_time during stall resolution (spec.md §4.1 step 4):
// the single most recent message available up to end_time, if any.
func (q *Queue) FinalMessageParser(ctx context.Context, conn Conn) (Parser, error) {
	q.mu.Lock()
	params := ParserParams{Limit: 1, Reverse: true, TimeLE: q.endTime}
	q.mu.Unlock()
	return q.variant.NewParser(ctx, conn, params)
}

// PushMessage implements the ingestion rules of spec.md §4.2: ordering
// enforcement, dedup, the restart-ack check against acked_saved, and
// dispatch of genuinely new messages.
func (q *Queue) PushMessage(ctx context.Context, msg types.Message, sink Dispatcher) error {
	q.mu.Lock()

	ts := q.variant.Timestamp(msg)

	if q.started && ts.Before(q.newestSeen) {
		q.mu.Unlock()
		log.WithFields(log.Fields{
			"queue":     q.variant.Name(),
			"timestamp": ts,
			"newest":    q.newestSeen,
		}).Warn("rejecting out-of-order message")
		return nil
	}

	q.lastBatchCount++

	var bucket *TimestampInfo
	switch {
	case !q.started || ts.After(q.newestSeen):
		bucket = newTimestampInfo(ts)
		q.deque = append(q.deque, bucket)
		q.newestSeen = ts
		q.lastBatchCountAtNewest = 1
		if !q.started {
			q.started = true
			q.oldestUnacked = ts
		}
	default:
		bucket = q.deque[len(q.deque)-1]
		q.lastBatchCountAtNewest++
	}

	if ts.After(q.queryTime) {
		q.queryTime = ts
	}

	key := msg.Key()
	if _, exists := q.messageInfo[key]; exists {
		q.mu.Unlock()
		return nil
	}

	mi := &MessageInfo{Message: msg, bucket: bucket}
	q.messageInfo[key] = mi

	if hashes, ok := q.ackedSaved[ts.String()]; ok {
		hash := contenthash.Of(msg.CanonicalBytes())
		if _, found := hashes[hash]; found {
			delete(hashes, hash)
			if len(hashes) == 0 {
				delete(q.ackedSaved, ts.String())
			}
			mi.acked = true
			bucket.acked = append(bucket.acked, mi)
			q.mu.Unlock()
			return nil
		}
	}

	bucket.unacked[key] = mi
	limit := q.lastBatchLimit
	q.mu.Unlock()

	channel, err := q.variant.Channel(ctx, msg)
	if err != nil {
		return errors.Wrap(err, "deriving dispatch channel")
	}
	ttl := q.variant.TTL(msg, limit)
	return sink.SendMessage(ctx, channel, msg, q, ttl)
}

// AckMessage implements spec.md §4.3: move a message from unacked to
// acked and advance the durable pointer. An unknown message logs a
// warning and is otherwise ignored.
func (q *Queue) AckMessage(msg types.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	key := msg.Key()
	mi, ok := q.messageInfo[key]
	if !ok {
		log.WithFields(log.Fields{
			"queue": q.variant.Name(),
			"key":   key,
		}).Warn("ack for unknown message")
		return nil
	}
	if mi.acked {
		return nil
	}

	bucket := mi.bucket
	delete(bucket.unacked, key)
	bucket.acked = append(bucket.acked, mi)
	mi.acked = true

	q.updatePointer()
	return nil
}

// NackMessage is a no-op in the base design: the message remains
// unacked and redelivery/dead-lettering is the dispatcher's
// responsibility (spec.md §4.3).
func (q *Queue) NackMessage(msg types.Message) error {
	return nil
}

// updatePointer implements spec.md §4.3's pointer-advance rule. Callers
// must hold q.mu.
func (q *Queue) updatePointer() {
	for len(q.deque) > 1 && q.deque[0].UnackedCount() == 0 {
		head := q.deque[0]
		for _, mi := range head.acked {
			delete(q.messageInfo, mi.Message.Key())
		}
		q.deque = q.deque[1:]
	}

	if len(q.deque) == 0 {
		return
	}

	newOldest := q.deque[0].Timestamp
	if !newOldest.After(q.oldestUnacked) {
		return
	}
	q.oldestUnacked = newOldest

	for tsStr, hashes := range q.ackedSaved {
		ts, err := qtime.Parse(tsStr)
		if err != nil {
			continue
		}
		if ts.Before(q.oldestUnacked) {
			log.WithFields(log.Fields{
				"queue":     q.variant.Name(),
				"timestamp": tsStr,
				"missed":    len(hashes),
			}).Warn("acked_saved entries never reappeared before pointer advance")
			delete(q.ackedSaved, tsStr)
		}
	}
}
