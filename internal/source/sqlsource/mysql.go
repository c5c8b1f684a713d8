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

package sqlsource

import (
	"context"
	"database/sql"
	sqldriver "database/sql/driver"
	"time"

	"github.com/clinicalstream/extract-core/internal/extract"
	_ "github.com/go-sql-driver/mysql" // register driver
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// MySQLDB is a database/sql-backed implementation of extract.DB, for
// warehouse deployments where the patient-mapping feed lives on a
// MySQL-flavored ADT system rather than the Postgres warehouse the
// other variants read from.
type MySQLDB struct {
	db *sql.DB
}

var _ extract.DB = (*MySQLDB)(nil)

// OpenMySQL wraps an already-opened *sql.DB, typically constructed
// with sql.Open("mysql", dsn) against a DSN supplied by cmd/extractor.
func OpenMySQL(db *sql.DB) *MySQLDB {
	return &MySQLDB{db: db}
}

// Connect acquires a pooled connection scoped to one batch.
func (d *MySQLDB) Connect(ctx context.Context) (extract.Conn, error) {
	conn, err := d.db.Conn(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "acquiring pool connection")
	}
	return &MySQLConn{conn: conn}, nil
}

// MySQLConn wraps a single pooled database/sql connection.
type MySQLConn struct {
	conn *sql.Conn
}

var _ extract.Conn = (*MySQLConn)(nil)

func (c *MySQLConn) Dialect() string    { return "mysql" }
func (c *MySQLConn) Paramstyle() string { return "qmark" }
func (c *MySQLConn) Close() error       { return c.conn.Close() }

// WaitReady pings db until it succeeds or ctx is done, retrying only on
// errors that look like the server is still starting up. A hospital
// ADT system's MySQL instance is frequently the last thing to come up
// in a docker-compose stack, so the extractor should wait rather than
// fail its first connection attempt.
func WaitReady(ctx context.Context, db *sql.DB, retryEvery time.Duration) error {
	for {
		err := db.PingContext(ctx)
		if err == nil {
			return nil
		}
		if !isMySQLStartupError(err) {
			return errors.Wrap(err, "pinging mapping registry database")
		}
		log.WithError(err).Info("waiting for mapping registry database to become ready")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryEvery):
		}
	}
}

func isMySQLStartupError(err error) bool {
	return errors.Is(err, sqldriver.ErrBadConn)
}
