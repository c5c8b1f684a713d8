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

// Package sqlsource is the sole point of contact with the warehouse
// database (spec.md §6's "database collaborator interface"). Every
// variant builds its Parser on top of this package instead of issuing
// SQL directly, so the query-construction logic is written once.
package sqlsource

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/clinicalstream/extract-core/internal/extract"
	"github.com/clinicalstream/extract-core/internal/types"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

// DB is a pgx-backed implementation of extract.DB.
type DB struct {
	pool *pgxpool.Pool
}

var _ extract.DB = (*DB)(nil)

// Open constructs a DB from an already-configured pool, typically built
// via pgxpool.New against a connection string supplied by cmd/extractor.
func Open(pool *pgxpool.Pool) *DB {
	return &DB{pool: pool}
}

// Connect acquires a pooled connection scoped to one batch.
func (d *DB) Connect(ctx context.Context) (extract.Conn, error) {
	conn, err := d.pool.Acquire(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "acquiring pool connection")
	}
	return &Conn{conn: conn}, nil
}

// Conn wraps a single pooled pgx connection.
type Conn struct {
	conn *pgxpool.Conn
}

var _ extract.Conn = (*Conn)(nil)

func (c *Conn) Dialect() string    { return "postgres" }
func (c *Conn) Paramstyle() string { return "dollar" }
func (c *Conn) Close() error       { c.conn.Release(); return nil }

// TableSpec describes how one variant's rows map onto a warehouse
// table: which column carries the logical timestamp, and which column
// (if any) is filtered on the variant-specific key.
type TableSpec struct {
	Table      string
	TimeColumn string
	// KeyColumn is empty for key-less variants (BedTag).
	KeyColumn string
	// Columns lists every column to select, in the order Scan expects
	// them; TimeColumn must be included if the scanner needs it.
	Columns []string
}

// Row is the subset of pgx.Rows and *sql.Rows that a Scanner needs.
// Both driver families satisfy it without adaptation, so one Scanner
// per variant works against either warehouse dialect.
type Row interface {
	Scan(dest ...any) error
}

// Scanner builds one types.Message from a single result row.
type Scanner func(row Row) (types.Message, error)

// Parser is a thin, lazy wrapper over a query cursor. The cursor field
// is one of pgxRows or sqlRows depending on which dialect produced it.
type Parser struct {
	pgxRows pgx.Rows
	sqlRows *sql.Rows
	scan    Scanner
}

var _ extract.Parser = (*Parser)(nil)

// NewParser runs the bounded query described by params against spec
// and returns a lazily-iterated Parser. It is the only place in the
// module that assembles SQL text, for either supported dialect.
func NewParser(ctx context.Context, conn extract.Conn, params extract.ParserParams, spec TableSpec, scan Scanner) (*Parser, error) {
	switch c := conn.(type) {
	case *Conn:
		query, args := buildQuery(spec, params, dollarPlaceholder)
		rows, err := c.conn.Query(ctx, query, args...)
		if err != nil {
			return nil, errors.Wrap(err, "querying warehouse")
		}
		return &Parser{pgxRows: rows, scan: scan}, nil
	case *MySQLConn:
		query, args := buildQuery(spec, params, qmarkPlaceholder)
		rows, err := c.conn.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, errors.Wrap(err, "querying warehouse")
		}
		return &Parser{sqlRows: rows, scan: scan}, nil
	default:
		return nil, errors.Errorf("sqlsource: unexpected connection type %T", conn)
	}
}

func dollarPlaceholder(idx int) string { return fmt.Sprintf("$%d", idx) }
func qmarkPlaceholder(int) string      { return "?" }

func buildQuery(spec TableSpec, params extract.ParserParams, placeholder func(int) string) (string, []any) {
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s WHERE 1=1", strings.Join(spec.Columns, ", "), spec.Table)

	args := make([]any, 0, 4)
	argIdx := 1
	addClause := func(clause string, arg any) {
		fmt.Fprintf(&b, " AND %s %s", clause, placeholder(argIdx))
		args = append(args, arg)
		argIdx++
	}

	if params.TimeGE != nil {
		addClause(spec.TimeColumn+" >=", params.TimeGE.AsTime())
	}
	if params.TimeLE != nil {
		addClause(spec.TimeColumn+" <=", params.TimeLE.AsTime())
	}
	if params.TimeLT != nil {
		addClause(spec.TimeColumn+" <", params.TimeLT.AsTime())
	}
	if spec.KeyColumn != "" && params.Key != nil {
		addClause(spec.KeyColumn+" =", params.Key)
	}

	if params.Reverse {
		fmt.Fprintf(&b, " ORDER BY %s DESC", spec.TimeColumn)
	} else {
		fmt.Fprintf(&b, " ORDER BY %s ASC", spec.TimeColumn)
	}
	fmt.Fprintf(&b, " LIMIT %d", params.Limit)

	return b.String(), args
}

// Next implements extract.Parser.
func (p *Parser) Next(ctx context.Context) (types.Message, bool, error) {
	switch {
	case p.pgxRows != nil:
		if !p.pgxRows.Next() {
			if err := p.pgxRows.Err(); err != nil {
				return nil, false, errors.Wrap(err, "iterating warehouse rows")
			}
			return nil, false, nil
		}
		msg, err := p.scan(p.pgxRows)
		if err != nil {
			return nil, false, errors.Wrap(err, "scanning warehouse row")
		}
		return msg, true, nil
	default:
		if !p.sqlRows.Next() {
			if err := p.sqlRows.Err(); err != nil {
				return nil, false, errors.Wrap(err, "iterating warehouse rows")
			}
			return nil, false, nil
		}
		msg, err := p.scan(p.sqlRows)
		if err != nil {
			return nil, false, errors.Wrap(err, "scanning warehouse row")
		}
		return msg, true, nil
	}
}

// Close implements extract.Parser.
func (p *Parser) Close() error {
	if p.pgxRows != nil {
		p.pgxRows.Close()
		return nil
	}
	return p.sqlRows.Close()
}
