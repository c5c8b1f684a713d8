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

// Package main wires up the extraction engine of spec.md §4 into a
// long-running process: a warehouse connection, the nine queue
// variants, a parallel dispatcher, and the archive sink, driven by a
// cooperative scheduling loop until signaled to stop.
package main

import (
	"time"

	"github.com/clinicalstream/extract-core/internal/util/qtime"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

// Config contains the user-visible configuration for running the
// extractor.
type Config struct {
	// WarehouseConn is a pgx connection string for the clinical
	// warehouse that backs every variant except PatientMapping when
	// MappingConn is set.
	WarehouseConn string

	// MappingConn is an optional go-sql-driver/mysql DSN for a
	// hospital ADT system's mapping_id/patient_id registry. When
	// unset, PatientMapping is served from WarehouseConn instead.
	MappingConn string

	// ArchiveConn is an optional pgx connection string for the
	// dead-letter archive and high-water audit tables. When unset,
	// dead-lettered messages are only logged, not persisted.
	ArchiveConn string

	// StateDir is the destination directory for each queue's durable
	// %<name>.queue state file (spec.md §4.4).
	StateDir string

	// Parallelism is the dispatcher's fixed worker-pool size
	// (spec.md §5; defaults to 8 to match the source).
	Parallelism int

	// FatalExceptions enables the fatal_exceptions policy: a handler
	// error is surfaced via Dispatcher.FatalErr instead of being
	// routed to the dead-letter handler (spec.md §7).
	FatalExceptions bool

	// BaseLimit is the starting batch size handed to every queue
	// (spec.md §4.2's adaptive batch control adjusts it from there).
	BaseLimit int

	// IdlePoll is how long the main loop sleeps when Idle reports
	// true before trying again.
	IdlePoll int

	// BackfillEnd is an optional RFC3339 upper bound applied to every
	// queue via Queue.SetEndTime, for a bounded historical backfill
	// run that should stop at a fixed point instead of chasing the
	// live present. Unset means no upper bound.
	BackfillEnd string

	// backfillEnd is BackfillEnd parsed by Preflight.
	backfillEnd *qtime.Time
}

// Bind registers flags.
func (c *Config) Bind(flags *pflag.FlagSet) {
	flags.StringVar(&c.WarehouseConn, "warehouseConn", "",
		"a pgx connection string for the clinical warehouse")
	flags.StringVar(&c.MappingConn, "mappingConn", "",
		"an optional MySQL DSN for the mapping_id/patient_id registry; "+
			"if unset, the mapping queue is served from warehouseConn")
	flags.StringVar(&c.ArchiveConn, "archiveConn", "",
		"an optional pgx connection string for the dead-letter archive and high-water tables")
	flags.StringVar(&c.StateDir, "stateDir", "./extractor-state",
		"the directory holding each queue's durable state file")
	flags.IntVar(&c.Parallelism, "parallelism", 8,
		"the dispatcher's fixed worker-pool size")
	flags.BoolVar(&c.FatalExceptions, "fatalExceptions", false,
		"treat a handler error as fatal instead of routing to the dead-letter handler")
	flags.IntVar(&c.BaseLimit, "baseLimit", 200,
		"the starting batch size handed to every queue")
	flags.IntVar(&c.IdlePoll, "idlePollSeconds", 5,
		"how long the main loop sleeps, in seconds, when every queue is idle")
	flags.StringVar(&c.BackfillEnd, "backfillEnd", "",
		"an optional RFC3339 upper bound applied to every queue, for a bounded backfill run")
}

// Preflight validates the configuration.
func (c *Config) Preflight() error {
	if c.WarehouseConn == "" {
		return errors.New("warehouseConn unset")
	}
	if c.StateDir == "" {
		return errors.New("stateDir unset")
	}
	if c.Parallelism <= 0 {
		return errors.New("parallelism must be positive")
	}
	if c.BaseLimit <= 0 {
		return errors.New("baseLimit must be positive")
	}
	if c.IdlePoll <= 0 {
		return errors.New("idlePollSeconds must be positive")
	}
	if c.BackfillEnd != "" {
		t, err := time.Parse(time.RFC3339, c.BackfillEnd)
		if err != nil {
			return errors.Wrap(err, "parsing backfillEnd")
		}
		end := qtime.FromTime(t)
		c.backfillEnd = &end
	}
	return nil
}
