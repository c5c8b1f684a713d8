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

package archive

import (
	"context"
	"fmt"

	"github.com/clinicalstream/extract-core/internal/util/qtime"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

const highWaterTableSchema = `
CREATE TABLE IF NOT EXISTS %s (
	queue_name STRING PRIMARY KEY,
	micros     INT NOT NULL
)
`

const highWaterQuery = `SELECT micros FROM %s WHERE queue_name = $1`

const highWaterWrite = `UPSERT INTO %s (queue_name, micros) VALUES ($1, $2)`

// CreateHighWaterTable creates the operator-visible high-water table if
// it does not already exist. This table mirrors the JSON state files a
// queue persists under its destination directory, but in a form an
// operator can query with SQL instead of reading a file off disk.
func CreateHighWaterTable(ctx context.Context, pool *pgxpool.Pool, tableName string) error {
	_, err := pool.Exec(ctx, fmt.Sprintf(highWaterTableSchema, tableName))
	return errors.Wrap(err, "creating high-water table")
}

// RecordHighWater upserts the oldest-unacked timestamp for queueName.
// Called after every Extractor.Flush so an operator dashboard can see
// how far each queue's restart anchor has advanced.
func RecordHighWater(ctx context.Context, pool *pgxpool.Pool, tableName, queueName string, ts qtime.Time) error {
	_, err := pool.Exec(ctx, fmt.Sprintf(highWaterWrite, tableName), queueName, ts.Micros())
	return errors.Wrap(err, "recording queue high-water mark")
}

// GetHighWater returns the last recorded high-water mark for queueName,
// or ok=false if nothing has ever been recorded for it.
func GetHighWater(ctx context.Context, pool *pgxpool.Pool, tableName, queueName string) (ts qtime.Time, ok bool, err error) {
	row := pool.QueryRow(ctx, fmt.Sprintf(highWaterQuery, tableName), queueName)
	var micros int64
	switch scanErr := row.Scan(&micros); scanErr {
	case pgx.ErrNoRows:
		return qtime.Time{}, false, nil
	case nil:
		return qtime.New(micros), true, nil
	default:
		return qtime.Time{}, false, errors.Wrap(scanErr, "reading queue high-water mark")
	}
}
