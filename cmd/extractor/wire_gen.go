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

package main

import (
	"context"
	"database/sql"
	"time"

	"github.com/clinicalstream/extract-core/internal/archive"
	"github.com/clinicalstream/extract-core/internal/dispatch"
	"github.com/clinicalstream/extract-core/internal/extract"
	"github.com/clinicalstream/extract-core/internal/extract/variants"
	"github.com/clinicalstream/extract-core/internal/origin"
	"github.com/clinicalstream/extract-core/internal/source/sqlsource"
	"github.com/clinicalstream/extract-core/internal/util/stopper"
	_ "github.com/go-sql-driver/mysql" // register driver
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

const archiveTable = "extract_archive"
const highWaterTable = "extract_high_water"

// app bundles the wired-up collaborators that main needs to run the
// extraction loop.
type app struct {
	stop        *stopper.Context
	dispatcher  *dispatch.Dispatcher
	extractors  []*extract.Extractor
	archivePool *pgxpool.Pool // nil unless ArchiveConn is set
	highWaterQ  []*extract.Queue
}

// buildApp wires every collaborator the extractor needs, following the
// same cascading-cleanup pattern as a Wire-generated injector: each
// step's cleanup function is only added to the returned chain once its
// step has succeeded, and an error at any step unwinds everything
// already built, in reverse order.
func buildApp(ctx context.Context, cfg *Config) (*app, func(), error) {
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	warehousePool, err := pgxpool.New(ctx, cfg.WarehouseConn)
	if err != nil {
		return nil, cleanup, errors.Wrap(err, "connecting to warehouse")
	}
	cleanups = append(cleanups, warehousePool.Close)

	warehouseDB := sqlsource.Open(warehousePool)

	var mappingDB extract.DB = warehouseDB
	if cfg.MappingConn != "" {
		mysqlDB, err := sql.Open("mysql", cfg.MappingConn)
		if err != nil {
			cleanup()
			return nil, cleanup, errors.Wrap(err, "connecting to mapping registry")
		}
		cleanups = append(cleanups, func() { _ = mysqlDB.Close() })
		if err := sqlsource.WaitReady(ctx, mysqlDB, 10*time.Second); err != nil {
			cleanup()
			return nil, cleanup, err
		}
		mappingDB = sqlsource.OpenMySQL(mysqlDB)
	}

	var archivePool *pgxpool.Pool
	if cfg.ArchiveConn != "" {
		archivePool, err = pgxpool.New(ctx, cfg.ArchiveConn)
		if err != nil {
			cleanup()
			return nil, cleanup, errors.Wrap(err, "connecting to archive database")
		}
		cleanups = append(cleanups, archivePool.Close)

		if err := archive.CreateTable(ctx, archivePool, archiveTable); err != nil {
			cleanup()
			return nil, cleanup, err
		}
		if err := archive.CreateHighWaterTable(ctx, archivePool, highWaterTable); err != nil {
			cleanup()
			return nil, cleanup, err
		}
	}

	stop := stopper.WithContext(ctx)

	d := dispatch.New(cfg.Parallelism, dispatch.WithFatalExceptions(cfg.FatalExceptions))
	if archivePool != nil {
		d.AddDeadLetterHandler(archive.New(archivePool, archiveTable))
	}
	d.Start(stop)

	o := origin.New()

	mappingQueue := extract.NewQueue(variants.NewPatientMapping(o), cfg.BaseLimit, true)
	o.SetMappingQueue(mappingQueue)

	warehouseQueues := []*extract.Queue{
		extract.NewQueue(variants.NewWaveSample(o), cfg.BaseLimit, true),
		extract.NewQueue(variants.NewNumericValue(o), cfg.BaseLimit, true),
		extract.NewQueue(variants.NewEnumerationValue(o), cfg.BaseLimit, true),
		extract.NewQueue(variants.NewAlert(o), cfg.BaseLimit, true),
		extract.NewQueue(variants.NewPatientBasicInfo(), cfg.BaseLimit, true),
		extract.NewQueue(variants.NewPatientDateAttribute(), cfg.BaseLimit, true),
		extract.NewQueue(variants.NewPatientStringAttribute(), cfg.BaseLimit, true),
		extract.NewQueue(variants.NewBedTag(), cfg.BaseLimit, true),
	}

	warehouseExtractor := extract.NewExtractor(warehouseDB, d, cfg.StateDir)
	var extractors []*extract.Extractor
	var allQueues []*extract.Queue

	if cfg.MappingConn != "" {
		mappingExtractor := extract.NewExtractor(mappingDB, d, cfg.StateDir)
		if err := mappingExtractor.AddQueue(mappingQueue); err != nil {
			cleanup()
			return nil, cleanup, errors.Wrap(err, "registering mapping queue")
		}
		extractors = append(extractors, mappingExtractor)
	} else {
		if err := warehouseExtractor.AddQueue(mappingQueue); err != nil {
			cleanup()
			return nil, cleanup, errors.Wrap(err, "registering mapping queue")
		}
	}
	allQueues = append(allQueues, mappingQueue)

	for _, q := range warehouseQueues {
		if err := warehouseExtractor.AddQueue(q); err != nil {
			cleanup()
			return nil, cleanup, errors.Wrapf(err, "registering queue %s", q.Name())
		}
	}
	allQueues = append(allQueues, warehouseQueues...)
	extractors = append(extractors, warehouseExtractor)

	if cfg.backfillEnd != nil {
		for _, q := range allQueues {
			q.SetEndTime(*cfg.backfillEnd)
		}
	}

	a := &app{
		stop:        stop,
		dispatcher:  d,
		extractors:  extractors,
		archivePool: archivePool,
		highWaterQ:  allQueues,
	}
	return a, cleanup, nil
}
