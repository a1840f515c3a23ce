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

// Package semaphore caps the number of concurrently running async callbacks,
// the non-blocking worker-slot half of the teacher's bar/nobar semaphore
// split (progress-bar reporting is out of scope here, so only the plain
// slot-counting variant is kept).
package semaphore

import "context"

// Semaphore bounds concurrent worker goroutines. NewWorkerTry never blocks:
// it reports whether a slot was free instead of waiting for one.
type Semaphore interface {
	NewWorkerTry() bool
	DeferWorker()
	DeferMain()
}

// New returns a Semaphore allowing at most max concurrent workers. max <= 0
// means unbounded. ctx and bar are accepted for call-site parity with the
// teacher's constructor (context-scoped teardown and progress-bar toggle);
// neither is used since this module has no progress-bar reporting.
func New(ctx context.Context, max int, bar bool) Semaphore {
	_ = ctx
	_ = bar

	if max <= 0 {
		return unbounded{}
	}
	return &bounded{slots: make(chan struct{}, max)}
}

type bounded struct {
	slots chan struct{}
}

func (b *bounded) NewWorkerTry() bool {
	select {
	case b.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

func (b *bounded) DeferWorker() {
	select {
	case <-b.slots:
	default:
	}
}

func (b *bounded) DeferMain() {}

type unbounded struct{}

func (unbounded) NewWorkerTry() bool { return true }
func (unbounded) DeferWorker()       {}
func (unbounded) DeferMain()         {}
