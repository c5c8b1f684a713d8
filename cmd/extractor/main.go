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
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/clinicalstream/extract-core/internal/archive"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(); err != nil {
		log.WithError(err).Fatal("extractor exited with an error")
	}
}

func run() error {
	cfg := &Config{}
	cfg.Bind(pflag.CommandLine)
	pflag.Parse()
	if err := cfg.Preflight(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, cleanup, err := buildApp(ctx, cfg)
	defer cleanup()
	if err != nil {
		return err
	}

	idlePoll := time.Duration(cfg.IdlePoll) * time.Second

	log.WithFields(log.Fields{
		"queues":      len(a.highWaterQ),
		"extractors":  len(a.extractors),
		"parallelism": cfg.Parallelism,
	}).Info("extractor starting")

	for {
		select {
		case <-ctx.Done():
			return shutdown(a)
		default:
		}

		ran := false
		for _, ex := range a.extractors {
			if !ex.Idle() {
				ran = true
			}
			if err := ex.Run(ctx); err != nil {
				log.WithError(err).Warn("scheduling step failed")
			}
		}

		if !ran {
			if err := flushAll(ctx, a); err != nil {
				log.WithError(err).Warn("periodic flush failed")
			}
			select {
			case <-ctx.Done():
				return shutdown(a)
			case <-time.After(idlePoll):
			}
		}
	}
}

// flushAll drains the dispatcher and persists every queue's durable
// state, and, when an archive database is configured, records each
// queue's current restart anchor for operator visibility.
func flushAll(ctx context.Context, a *app) error {
	var firstErr error
	for _, ex := range a.extractors {
		if err := ex.Flush(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if a.archivePool != nil {
		for _, q := range a.highWaterQ {
			ts := q.OldestUnackedTimestamp()
			if err := archive.RecordHighWater(ctx, a.archivePool, highWaterTable, q.Name(), ts); err != nil {
				log.WithError(err).WithField("queue", q.Name()).Warn("recording high-water mark")
			}
		}
	}
	return firstErr
}

func shutdown(a *app) error {
	log.Info("extractor stopping")
	err := flushAll(context.Background(), a)
	if stopErr := a.stop.Stop(30 * time.Second); stopErr != nil && err == nil {
		err = stopErr
	}
	return err
}
