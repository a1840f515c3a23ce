/*
 * MIT License
 *
 * Copyright (c) 2025 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

// Package startStop wraps a run/close function pair into a restartable
// background goroutine with Start/Stop/Restart/IsRunning/Uptime and a small
// error history, the lifecycle primitive ioutils/aggregator builds on.
package startStop

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrAlreadyRunning is returned by Start when the goroutine is already active.
var ErrAlreadyRunning = errors.New("startStop: already running")

// StartStop is the lifecycle contract a background goroutine is driven
// through: start it, stop it, ask whether it is running, and inspect the
// errors it surfaced along the way.
type StartStop interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	IsRunning() bool
	Uptime() time.Duration
	ErrorsLast() error
	ErrorsList() []error
}

// New builds a StartStop around run (the loop to execute in its own
// goroutine) and closeFn (invoked once the loop has returned, on every Stop).
func New(run func(ctx context.Context) error, closeFn func(ctx context.Context) error) StartStop {
	return &ss{run: run, close: closeFn}
}

type ss struct {
	run   func(ctx context.Context) error
	close func(ctx context.Context) error

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started time.Time
	running atomic.Bool

	errMu sync.Mutex
	errs  []error
}

func (s *ss) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running.Load() {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}

	if ctx == nil {
		ctx = context.Background()
	}

	cctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.started = time.Now()
	s.running.Store(true)
	done := s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		defer s.running.Store(false)

		if err := s.run(cctx); err != nil {
			s.addErr(err)
		}
	}()

	return nil
}

func (s *ss) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	closeFn := s.close
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if closeFn != nil {
		if err := closeFn(ctx); err != nil {
			s.addErr(err)
			return err
		}
	}

	return nil
}

func (s *ss) IsRunning() bool {
	return s.running.Load()
}

func (s *ss) Uptime() time.Duration {
	if !s.running.Load() {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.started)
}

func (s *ss) ErrorsLast() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()

	if len(s.errs) == 0 {
		return nil
	}
	return s.errs[len(s.errs)-1]
}

func (s *ss) ErrorsList() []error {
	s.errMu.Lock()
	defer s.errMu.Unlock()

	out := make([]error, len(s.errs))
	copy(out, s.errs)
	return out
}

func (s *ss) addErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	s.errs = append(s.errs, err)
}
