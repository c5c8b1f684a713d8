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

// Package archive provides a durable dead-letter sink: any message the
// dispatcher cannot route to a live per-patient handler (an unresolved
// channel, or a handler that has not yet subscribed) is upserted into a
// warehouse table instead of being dropped, so downstream consumers can
// replay it once they come online.
package archive

import (
	"context"
	"fmt"
	"strings"

	"github.com/clinicalstream/extract-core/internal/types"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const archiveTableSchema = `
CREATE TABLE IF NOT EXISTS %s (
	message_key STRING PRIMARY KEY,
	payload     JSONB NOT NULL
)
`

// CreateTable creates the dead-letter archive table if it does not
// already exist.
func CreateTable(ctx context.Context, pool *pgxpool.Pool, tableName string) error {
	_, err := pool.Exec(ctx, fmt.Sprintf(archiveTableSchema, tableName))
	return errors.Wrap(err, "creating archive table")
}

// Sink is a dispatch.Handler that claims the dead-letter channel ("")
// and upserts every message it sees, keyed by the message's own Key,
// so a redelivered message simply overwrites its prior row.
type Sink struct {
	pool      *pgxpool.Pool
	tableName string
}

// New constructs a Sink against an already-created archive table.
func New(pool *pgxpool.Pool, tableName string) *Sink {
	return &Sink{pool: pool, tableName: tableName}
}

// Channel implements dispatch.Handler. The empty string is the channel
// stalled-mapping and BedTag messages carry. When Sink is installed with
// dispatch.Dispatcher.AddDeadLetterHandler, its channel is not consulted:
// it receives every message no live handler claims.
func (s *Sink) Channel() string { return "" }

// Handle upserts msg into the archive table.
func (s *Sink) Handle(ctx context.Context, msg types.Message) error {
	var statement strings.Builder
	fmt.Fprintf(&statement, "UPSERT INTO %s (message_key, payload) VALUES ($1, $2)", s.tableName)
	log.WithField("key", msg.Key()).Trace("archiving dead-lettered message")

	_, err := s.pool.Exec(ctx, statement.String(), msg.Key(), msg.CanonicalBytes())
	return errors.Wrap(err, "upserting archived message")
}
