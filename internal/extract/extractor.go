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

// Package extract implements the cooperative, single-threaded batch
// scheduler described in spec.md §4: a set of per-stream Queues, each
// with its own virtual clock and durable state, pulled forward one
// bounded batch at a time by an Extractor.
package extract

import (
	"container/list"
	"context"
	"sync"

	"github.com/clinicalstream/extract-core/internal/types"
	"github.com/clinicalstream/extract-core/internal/util/qtime"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Extractor is the scheduler of spec.md §4.1. It is single-threaded by
// contract: Run is one unit of work, and callers loop it until Idle
// reports true. AddQueue/Run/Flush/Idle are nonetheless guarded by a
// mutex so a monitoring goroutine can safely read queue state alongside
// the scheduler loop.
type Extractor struct {
	db         DB
	dispatcher Dispatcher
	destDir    string

	mu       sync.Mutex
	order    *list.List // of *Queue; front is least-recently rotated
	elems    map[*Queue]*list.Element
	nextFire map[*Queue]qtime.Time
	current  qtime.Time
}

// NewExtractor constructs an Extractor against a database collaborator,
// a dispatcher, and a destination directory for durable queue state.
func NewExtractor(db DB, dispatcher Dispatcher, destDir string) *Extractor {
	return &Extractor{
		db:         db,
		dispatcher: dispatcher,
		destDir:    destDir,
		order:      list.New(),
		elems:      make(map[*Queue]*list.Element),
		nextFire:   make(map[*Queue]qtime.Time),
		current:    qtime.VeryOld,
	}
}

// AddQueue registers a queue, loading any persisted state from the
// destination directory and seeding its scheduling priority (spec.md
// §4.1 "Registration").
func (e *Extractor) AddQueue(q *Queue) error {
	if err := q.LoadState(e.destDir); err != nil {
		return errors.Wrapf(err, "loading state for queue %s", q.Name())
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	elem := e.order.PushBack(q)
	e.elems[q] = elem

	if q.Started() {
		nf := q.NewestSeenTimestamp().Add(q.Bias())
		e.nextFire[q] = nf
		if nf.After(e.current) {
			e.current = nf
		}
	} else {
		e.nextFire[q] = qtime.VeryOld
	}
	return nil
}

// Idle reports whether every registered queue's next fire time is
// still ahead of the virtual clock: nothing productive remains to do
// until real time advances, so the caller should sleep.
func (e *Extractor) Idle() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	for elem := e.order.Front(); elem != nil; elem = elem.Next() {
		q := elem.Value.(*Queue)
		if !e.nextFire[q].After(e.current) {
			return false
		}
	}
	return true
}

// Run executes one scheduling step (spec.md §4.1): select the
// least-advanced queue, resolve any stall chain, and — unless every
// queue is merely waiting on real time — run exactly one batch. Run
// acquires a single database connection scoped to this call, per
// spec.md §5's resource policy.
func (e *Extractor) Run(ctx context.Context) error {
	e.mu.Lock()

	if e.order.Len() == 0 {
		e.mu.Unlock()
		return nil
	}

	selected := e.selectMinLocked()

	if e.nextFire[selected].After(e.current) {
		front := e.order.Front()
		e.order.MoveToBack(front)
		e.mu.Unlock()
		return nil
	}

	resolved := selected
	redirected := false
	for {
		blocker := resolved.StallingQueue()
		if blocker == nil {
			break
		}
		resolved = blocker
		redirected = true
	}

	e.mu.Unlock()

	conn, err := e.db.Connect(ctx)
	if err != nil {
		return errors.Wrap(err, "acquiring database connection")
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			log.WithError(cerr).Warn("releasing database connection")
		}
	}()

	if redirected && resolved.ReachedPresent() {
		if err := e.updateCurrentTime(ctx, conn); err != nil {
			log.WithError(err).Warn("final-message probe failed during stall resolution")
		}
	}

	return e.runBatch(ctx, conn, resolved)
}

// selectMinLocked returns the queue with the smallest next-fire time,
// ties broken by insertion order. Callers must hold e.mu.
func (e *Extractor) selectMinLocked() *Queue {
	var best *Queue
	for elem := e.order.Front(); elem != nil; elem = elem.Next() {
		q := elem.Value.(*Queue)
		if best == nil || e.nextFire[q].Before(e.nextFire[best]) {
			best = q
		}
	}
	return best
}

// runBatch drains one parser for q and reschedules it.
func (e *Extractor) runBatch(ctx context.Context, conn Conn, q *Queue) error {
	parser, err := q.NextMessageParser(ctx, conn)
	if err != nil {
		return errors.Wrapf(err, "constructing parser for queue %s", q.Name())
	}
	defer func() {
		if cerr := parser.Close(); cerr != nil {
			log.WithError(cerr).WithField("queue", q.Name()).Warn("closing parser")
		}
	}()

	var batch []types.Message
	for {
		msg, ok, err := parser.Next(ctx)
		if err != nil {
			return errors.Wrapf(err, "reading from queue %s", q.Name())
		}
		if !ok {
			break
		}
		batch = append(batch, msg)
	}

	for _, msg := range batch {
		if err := q.PushMessage(ctx, msg, e.dispatcher); err != nil {
			return errors.Wrapf(err, "pushing message into queue %s", q.Name())
		}
	}

	q.reportBatchMetrics()

	e.mu.Lock()
	defer e.mu.Unlock()

	if q.ReachedPresent() {
		e.nextFire[q] = e.current.Add(q.IdleDelay())
	} else {
		e.nextFire[q] = q.QueryTime().Add(q.Bias())
	}
	if newest := q.NewestSeenTimestamp(); newest.After(e.current) {
		e.current = newest
	}
	return nil
}

// updateCurrentTime implements spec.md §4.1 step 4: probe every queue
// with its final-message parser and lift current_timestamp to the
// overall maximum observed, preventing indefinite idling on a stalled
// chain whose blocker never produces the expected message.
func (e *Extractor) updateCurrentTime(ctx context.Context, conn Conn) error {
	e.mu.Lock()
	queues := make([]*Queue, 0, e.order.Len())
	for elem := e.order.Front(); elem != nil; elem = elem.Next() {
		queues = append(queues, elem.Value.(*Queue))
	}
	e.mu.Unlock()

	var max qtime.Time
	have := false
	for _, q := range queues {
		parser, err := q.FinalMessageParser(ctx, conn)
		if err != nil {
			return errors.Wrapf(err, "building final-message parser for queue %s", q.Name())
		}
		msg, ok, err := parser.Next(ctx)
		closeErr := parser.Close()
		if err != nil {
			return errors.Wrapf(err, "probing final message for queue %s", q.Name())
		}
		if closeErr != nil {
			log.WithError(closeErr).WithField("queue", q.Name()).Warn("closing final-message parser")
		}
		if !ok {
			continue
		}
		ts := q.variant.Timestamp(msg)
		if !have || ts.After(max) {
			max = ts
			have = true
		}
	}

	if !have {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if max.After(e.current) {
		e.current = max
	}
	return nil
}

// Flush implements spec.md §6's exit behavior: drain the dispatcher so
// every in-flight handler has run, then persist every queue's durable
// state so a clean shutdown loses nothing already acked.
func (e *Extractor) Flush(ctx context.Context) error {
	if err := e.dispatcher.Flush(ctx); err != nil {
		return errors.Wrap(err, "flushing dispatcher")
	}

	e.mu.Lock()
	queues := make([]*Queue, 0, e.order.Len())
	for elem := e.order.Front(); elem != nil; elem = elem.Next() {
		queues = append(queues, elem.Value.(*Queue))
	}
	e.mu.Unlock()

	var firstErr error
	for _, q := range queues {
		if err := q.SaveState(e.destDir); err != nil {
			stateSaveErrors.WithLabelValues(q.Name()).Inc()
			log.WithError(err).WithField("queue", q.Name()).Error("saving queue state")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
