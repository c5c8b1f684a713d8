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

// Package stopper provides cooperative lifecycle management for
// background goroutines: a Context that can be asked to stop, that
// tracks goroutines launched with Go, and that can be waited on (with a
// timeout) for all of them to exit.
package stopper

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// A Context wraps a context.Context with goroutine bookkeeping. It is
// passed to long-running loops (the dispatcher worker pool) so that
// they can be stopped cleanly.
type Context struct {
	context.Context

	stopping chan struct{}
	stopOnce sync.Once

	wg sync.WaitGroup

	mu struct {
		sync.Mutex
		firstErr error
	}
}

// WithContext returns a new stopper Context derived from parent.
func WithContext(parent context.Context) *Context {
	return &Context{
		Context:  parent,
		stopping: make(chan struct{}),
	}
}

// Go launches fn in a new goroutine, tracked by the Context's WaitGroup.
// If fn returns a non-nil error, it is recorded (the first error wins)
// and logged.
func (c *Context) Go(fn func() error) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := fn(); err != nil {
			c.mu.Lock()
			if c.mu.firstErr == nil {
				c.mu.firstErr = err
			}
			c.mu.Unlock()
			log.WithError(err).Trace("stopper-managed goroutine exited with error")
		}
	}()
}

// Stopping returns a channel that is closed once Stop has been called.
// Goroutines launched with Go should select on this channel to know
// when to wind down.
func (c *Context) Stopping() <-chan struct{} {
	return c.stopping
}

// Stop signals all goroutines to stop and blocks until they have exited
// or the timeout elapses. It returns the first error returned by any
// goroutine launched with Go, if any. A timeout is logged as a warning
// and is not itself reported as an error.
func (c *Context) Stop(timeout time.Duration) error {
	c.stopOnce.Do(func() { close(c.stopping) })

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		log.Warn("stopper: timed out waiting for goroutines to exit")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mu.firstErr
}
