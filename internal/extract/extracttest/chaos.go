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

// Package extracttest provides fault-injecting wrappers and fixtures
// for exercising the extraction engine's restart and error-handling
// paths without a real warehouse or dispatcher behind it.
package extracttest

import (
	"context"
	"math/rand"

	"github.com/clinicalstream/extract-core/internal/extract"
	"github.com/clinicalstream/extract-core/internal/types"
	"github.com/pkg/errors"
)

// ErrChaos is the error injected by the WithChaos wrappers in this
// package.
var ErrChaos = errors.New("chaos")

func doChaos(msg string) error {
	return errors.WithMessage(ErrChaos, msg)
}

// WithChaosDB returns a wrapper around db that fails Connect with
// probability prob. The Conn it hands out passes every call straight
// through to the delegate. db itself is returned unwrapped if prob <= 0.
func WithChaosDB(delegate extract.DB, prob float32) extract.DB {
	if prob <= 0 {
		return delegate
	}
	return &chaosDB{delegate: delegate, prob: prob}
}

type chaosDB struct {
	delegate extract.DB
	prob     float32
}

var _ extract.DB = (*chaosDB)(nil)

func (d *chaosDB) Connect(ctx context.Context) (extract.Conn, error) {
	if rand.Float32() < d.prob {
		return nil, doChaos("Connect")
	}
	conn, err := d.delegate.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return &chaosConn{delegate: conn, prob: d.prob}, nil
}

type chaosConn struct {
	delegate extract.Conn
	prob     float32
}

var _ extract.Conn = (*chaosConn)(nil)

func (c *chaosConn) Dialect() string    { return c.delegate.Dialect() }
func (c *chaosConn) Paramstyle() string { return c.delegate.Paramstyle() }
func (c *chaosConn) Close() error       { return c.delegate.Close() }

// WithChaosParser returns a wrapper around a Variant's Parser that
// fails Next with probability prob. No variant wraps its parsers on its
// own; it is exported so tests building fake variants can opt
// individual queues in.
func WithChaosParser(delegate extract.Parser, prob float32) extract.Parser {
	if prob <= 0 {
		return delegate
	}
	return &chaosParser{delegate: delegate, prob: prob}
}

type chaosParser struct {
	delegate extract.Parser
	prob     float32
}

var _ extract.Parser = (*chaosParser)(nil)

func (p *chaosParser) Next(ctx context.Context) (types.Message, bool, error) {
	if rand.Float32() < p.prob {
		return nil, false, doChaos("Next")
	}
	return p.delegate.Next(ctx)
}

func (p *chaosParser) Close() error { return p.delegate.Close() }

// Dispatcher is the subset of dispatch.Dispatcher that extract.Queue
// depends on, duplicated here so this package need not import
// internal/dispatch (which already imports internal/extract).
type Dispatcher interface {
	SendMessage(ctx context.Context, channel string, msg types.Message, source *extract.Queue, ttl int) error
	Flush(ctx context.Context) error
}

// WithChaosDispatcher returns a wrapper around delegate that fails
// SendMessage and Flush with probability prob.
func WithChaosDispatcher(delegate Dispatcher, prob float32) Dispatcher {
	if prob <= 0 {
		return delegate
	}
	return &chaosDispatcher{delegate: delegate, prob: prob}
}

type chaosDispatcher struct {
	delegate Dispatcher
	prob     float32
}

func (d *chaosDispatcher) SendMessage(ctx context.Context, channel string, msg types.Message, source *extract.Queue, ttl int) error {
	if rand.Float32() < d.prob {
		return doChaos("SendMessage")
	}
	return d.delegate.SendMessage(ctx, channel, msg, source, ttl)
}

func (d *chaosDispatcher) Flush(ctx context.Context) error {
	if rand.Float32() < d.prob {
		return doChaos("Flush")
	}
	return d.delegate.Flush(ctx)
}
