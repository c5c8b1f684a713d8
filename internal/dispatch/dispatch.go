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

// Package dispatch fans dispatched messages out to a fixed pool of
// handler goroutines, with dead-letter routing for unclaimed channels
// and a policy flag governing handler errors (spec.md §4/§6/§7).
package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/clinicalstream/extract-core/internal/extract"
	"github.com/clinicalstream/extract-core/internal/types"
	"github.com/clinicalstream/extract-core/internal/util/notify"
	"github.com/clinicalstream/extract-core/internal/util/stopper"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Handler processes every message delivered on the channel it claims.
// Handle runs on one of the dispatcher's worker goroutines; it must be
// safe to call concurrently with other handlers and with itself.
type Handler interface {
	// Channel is the routing key this handler claims. The dead-letter
	// handler passed to AddDeadLetterHandler is exempt from this and
	// receives whatever no live handler claims.
	Channel() string
	Handle(ctx context.Context, msg types.Message) error
}

type job struct {
	channel string
	msg     types.Message
	source  *extract.Queue
	ttl     int
}

// Dispatcher is the concrete, parallel implementation of
// extract.Dispatcher (spec.md §5: "the dispatcher may be parallel...
// configured with a fixed parallelism; the source uses 8").
type Dispatcher struct {
	fatalExceptions bool
	parallelism     int

	mu         sync.RWMutex
	handlers   map[string]Handler
	deadLetter Handler

	jobs     chan job
	inFlight int64

	fatal notify.Var[error]

	stop *stopper.Context
}

var _ extract.Dispatcher = (*Dispatcher)(nil)

// Option configures a Dispatcher at construction time.
type Option func(*Dispatcher)

// WithFatalExceptions sets the fatal_exceptions policy flag (spec.md
// §7): when true, a handler error is surfaced via FatalErr instead of
// being routed to the dead-letter handler.
func WithFatalExceptions(fatal bool) Option {
	return func(d *Dispatcher) { d.fatalExceptions = fatal }
}

// New constructs a Dispatcher with the given worker-pool parallelism.
func New(parallelism int, opts ...Option) *Dispatcher {
	if parallelism <= 0 {
		parallelism = 8
	}
	d := &Dispatcher{
		handlers:    make(map[string]Handler),
		jobs:        make(chan job, parallelism*4),
		parallelism: parallelism,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start launches the worker pool, bound to the stopper context's
// lifecycle. It must be called once before any SendMessage.
func (d *Dispatcher) Start(ctx *stopper.Context) {
	d.stop = ctx
	for i := 0; i < d.parallelism; i++ {
		ctx.Go(d.worker)
	}
}

// AddHandler registers h for the channel it claims. A later call for
// the same channel replaces the previous handler.
func (d *Dispatcher) AddHandler(h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[h.Channel()] = h
}

// AddDeadLetterHandler installs the handler that receives messages for
// which no live handler claims the channel.
func (d *Dispatcher) AddDeadLetterHandler(h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deadLetter = h
}

// FatalErr returns the first handler error recorded under the
// fatal_exceptions policy, or nil if none has occurred.
func (d *Dispatcher) FatalErr() error {
	err, _ := d.fatal.Get()
	return err
}

// SendMessage implements extract.Dispatcher. It blocks if the worker
// pool is saturated, providing the back-pressure spec.md §5 requires.
func (d *Dispatcher) SendMessage(ctx context.Context, channel string, msg types.Message, source *extract.Queue, ttl int) error {
	dispatchedMessages.WithLabelValues(source.Name()).Inc()
	select {
	case d.jobs <- job{channel: channel, msg: msg, source: source, ttl: ttl}:
		queueDepth.WithLabelValues(source.Name()).Set(float64(len(d.jobs)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-d.stop.Stopping():
		return errors.New("dispatcher is stopping")
	}
}

// Flush blocks until every enqueued and in-flight job has completed.
func (d *Dispatcher) Flush(ctx context.Context) error {
	for len(d.jobs) > 0 || atomic.LoadInt64(&d.inFlight) > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
	return nil
}

func (d *Dispatcher) worker() error {
	for {
		select {
		case <-d.stop.Stopping():
			return nil
		case j, ok := <-d.jobs:
			if !ok {
				return nil
			}
			atomic.AddInt64(&d.inFlight, 1)
			d.process(j)
			atomic.AddInt64(&d.inFlight, -1)
		}
	}
}

func (d *Dispatcher) process(j job) {
	d.mu.RLock()
	h := d.handlers[j.channel]
	deadLetter := d.deadLetter
	d.mu.RUnlock()

	if h == nil {
		log.WithFields(log.Fields{
			"queue":   j.source.Name(),
			"channel": j.channel,
		}).Warn("unrouted message")
		unroutedMessages.WithLabelValues(j.source.Name()).Inc()
		d.deliverDeadLetter(deadLetter, j)
		return
	}

	if err := h.Handle(d.stop, j.msg); err != nil {
		handlerErrors.WithLabelValues(j.source.Name(), j.channel).Inc()
		if nackErr := j.source.NackMessage(j.msg); nackErr != nil {
			log.WithError(nackErr).Warn("nacking message after handler error")
		}
		log.WithError(err).WithFields(log.Fields{
			"queue":   j.source.Name(),
			"channel": j.channel,
		}).Warn("handler error")

		if d.fatalExceptions {
			d.fatal.Set(err)
			return
		}
		d.deliverDeadLetter(deadLetter, j)
		return
	}

	if err := j.source.AckMessage(j.msg); err != nil {
		log.WithError(err).Warn("acking message")
	}
}

func (d *Dispatcher) deliverDeadLetter(deadLetter Handler, j job) {
	if deadLetter == nil {
		log.WithFields(log.Fields{
			"queue":   j.source.Name(),
			"channel": j.channel,
		}).Warn("no dead-letter handler configured; message dropped")
		return
	}
	deadLetterMessages.WithLabelValues(j.source.Name()).Inc()
	if err := deadLetter.Handle(d.stop, j.msg); err != nil {
		log.WithError(err).Warn("dead-letter handler error")
		return
	}
	if err := j.source.AckMessage(j.msg); err != nil {
		log.WithError(err).Warn("acking dead-lettered message")
	}
}
