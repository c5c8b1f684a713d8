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
	"time"

	"github.com/clinicalstream/extract-core/internal/types"
	"github.com/clinicalstream/extract-core/internal/util/qtime"
)

// Variant supplies the behavior that differs between concrete queue
// implementations (spec.md §4.5). Most variants differ only in
// constants; the batch-cycle code path in Queue is shared.
type Variant interface {
	// Name identifies the queue, e.g. "WaveSample". Used to build the
	// durable state file name and as the Prometheus metrics label.
	Name() string

	// DefaultBatchDuration is used whenever the batch policy resets to
	// its base case (spec.md §4.2).
	DefaultBatchDuration() time.Duration

	// Bias is the (typically negative) offset applied when scheduling
	// the next batch once the queue has not reached the present, to
	// force overlap with the next window and catch late arrivals.
	Bias() time.Duration

	// IdleDelay is the minimum real-time pause once the queue has
	// reached the present, before the next probe.
	IdleDelay() time.Duration

	// NewParser constructs a bounded parser for one batch query. It is
	// the sole point of contact with the database collaborator; the
	// core never constructs SQL itself.
	NewParser(ctx context.Context, conn Conn, params ParserParams) (Parser, error)

	// Channel derives the dispatcher routing key for a message. An
	// empty string means broadcast (no live handler claims the
	// channel by identity; only the dead-letter handler, or handlers
	// registered for the empty channel, will see it).
	Channel(ctx context.Context, msg types.Message) (string, error)

	// Timestamp extracts the message's logical time.
	Timestamp(msg types.Message) qtime.Time

	// TTL computes the dispatcher retry-budget hint for a message,
	// given the queue's current row-limit setting.
	TTL(msg types.Message, limit int) int

	// StallingQueue reports the queue this one is blocked behind, or
	// nil if it is not currently stalled (spec.md §4.6).
	StallingQueue() *Queue
}

// ParserParams describes a single bounded query. Concrete parsers
// translate these into dialect-specific SQL; the core never inspects
// the dialect itself.
type ParserParams struct {
	Dialect    string
	Paramstyle string

	Limit int

	// TimeGE/TimeLE/TimeLT bound the query window. Queue sets TimeGE
	// (inclusive) to its newest-seen timestamp on every batch, so rows
	// at that timestamp are read again and deduplicated, and TimeLE
	// (inclusive) to the window's upper end whenever the window is
	// bounded. Parsers honor TimeLT (exclusive), but Queue never sets it.
	TimeGE, TimeLE, TimeLT *qtime.Time

	// Reverse requests messages in non-increasing timestamp order,
	// used by the "final message parser" probe during stall
	// resolution (spec.md §4.1 step 4).
	Reverse bool

	// Key is the variant-specific scalar the query filters on: a
	// mapping_id, a patient_id, or nil for queues with no key
	// (BedTag).
	Key any
}

// Parser yields messages in non-decreasing timestamp order (or
// non-increasing order when constructed with Reverse), lazily pulling
// rows from the database collaborator.
type Parser interface {
	// Next returns the next message, or ok=false once the parser is
	// exhausted.
	Next(ctx context.Context) (msg types.Message, ok bool, err error)
	// Close releases any underlying cursor resources.
	Close() error
}

// Conn is a single database connection or session handed to a Variant
// while it constructs a Parser. It is opaque to the core: the core
// never issues SQL against it directly.
type Conn interface {
	Dialect() string
	Paramstyle() string
	// Close releases the connection back to its pool. It is called once
	// per Run, scoping the connection's lifetime to a single batch.
	Close() error
}

// DB is the database collaborator interface consumed, never
// implemented, by the core (spec.md §6). Concrete backends — a real
// Postgres or MySQL pool — live outside this package.
type DB interface {
	Connect(ctx context.Context) (Conn, error)
}
