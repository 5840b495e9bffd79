// Copyright 2021 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package rtgpio

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// EdgeSource bridges hardware edges to blocked consumers.
//
// Edges accumulate in a counter: each Signal adds one, each successful
// wait takes one. A wait with a positive count returns immediately, so
// no edge is lost between two waits and no edge satisfies two waiters.
type EdgeSource struct {
	edge    Edge
	count   atomic.Int64
	signals atomic.Uint64
	wake    chan struct{} // wake token, capacity 1
	done    chan struct{}
	once    sync.Once

	hmu               sync.Mutex
	handlerRegistered atomic.Bool
	stopChan          chan chan bool
}

// NewEdgeSource creates an EdgeSource counting edges of the given polarity.
// The polarity cannot be changed afterwards.
func NewEdgeSource(e Edge) *EdgeSource {
	return &EdgeSource{
		edge: e,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Edge returns the polarity of the source.
func (s *EdgeSource) Edge() Edge {
	return s.edge
}

// Signal records one edge and wakes a blocked waiter. It never blocks
// and never allocates, so it may be called from an interrupt handler.
func (s *EdgeSource) Signal() {
	s.count.Add(1)
	s.signals.Add(1)
	s.kick()
}

// Notify records the transition t if it matches the polarity of the
// source, and reports whether it did.
func (s *EdgeSource) Notify(t Edge) bool {
	if !s.edge.Matches(t) {
		return false
	}
	s.Signal()
	return true
}

func (s *EdgeSource) kick() {
	select {
	case s.wake <- struct{}{}:
	default:
		// A token is already pending.
	}
}

// Pending returns the number of edges not yet consumed.
func (s *EdgeSource) Pending() int {
	return int(s.count.Load())
}

// Signals returns the total number of edges recorded.
func (s *EdgeSource) Signals() uint64 {
	return s.signals.Load()
}

// TryWait consumes one pending edge without blocking, and reports
// whether there was one.
func (s *EdgeSource) TryWait() bool {
	for {
		c := s.count.Load()
		if c <= 0 {
			return false
		}
		if s.count.CompareAndSwap(c, c-1) {
			if c > 1 {
				// Pass the wake on to the next waiter.
				s.kick()
			}
			return true
		}
	}
}

// Wait consumes one edge, blocking until one arrives. It fails with
// ErrTimeout if the context deadline passes first, and ErrCancelled if
// the context is cancelled or the source is closed. A failed wait
// consumes nothing. Wait cannot be used while a handler is installed.
func (s *EdgeSource) Wait(ctx context.Context) error {
	if s.handlerRegistered.Load() {
		return ErrHandlerRegistered
	}
	return s.wait(ctx.Done(), func() error { return ctxErr(ctx) })
}

// WaitTimeout waits for an edge, returning false if the timeout expires e.g
//
//	ok, err := s.WaitTimeout(time.Second)
//	if ok {
//	    // Edge received
//	} else {
//	    // Timed out
//	}
func (s *EdgeSource) WaitTimeout(tout time.Duration) (bool, error) {
	if s.handlerRegistered.Load() {
		return false, ErrHandlerRegistered
	}
	ctx, cancel := context.WithTimeout(context.Background(), tout)
	defer cancel()
	err := s.wait(ctx.Done(), func() error { return ErrTimeout })
	switch err {
	case nil:
		return true, nil
	case ErrTimeout:
		return false, nil
	}
	return false, err
}

func (s *EdgeSource) wait(expired <-chan struct{}, why func() error) error {
	for {
		if s.TryWait() {
			return nil
		}
		select {
		case <-s.wake:
		case <-s.done:
			if s.TryWait() {
				return nil
			}
			return ErrCancelled
		case <-expired:
			return why()
		}
	}
}

// SetHandler installs an asynch handler that is invoked once for every
// edge consumed from the source.
func (s *EdgeSource) SetHandler(f func()) {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	if s.handlerRegistered.Load() {
		s.clearHandler()
	}
	s.handlerRegistered.Store(true)
	s.stopChan = make(chan chan bool)
	go s.dispatcher(f, s.stopChan)
}

// ClearHandler removes any currently installed handler.
func (s *EdgeSource) ClearHandler() {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.clearHandler()
}

func (s *EdgeSource) clearHandler() {
	if s.handlerRegistered.Load() {
		// Create a channel to be used to signal when the handler has exited.
		c := make(chan bool)
		s.stopChan <- c
		// Once the handler receives the stop channel, a value is signalled back
		// to indicate that the handler has exited.
		<-c
		close(s.stopChan)
		s.handlerRegistered.Store(false)
	}
}

// dispatcher is a shim between the edge counter and the
// external handler that will be invoked when an edge is received.
// A stop channel is used to indicate when the handler should terminate.
func (s *EdgeSource) dispatcher(f func(), stop chan chan bool) {
	for {
		for s.TryWait() {
			f()
		}
		select {
		case c := <-stop:
			// Send a value back to signal that the handler has terminated.
			c <- true
			return
		case <-s.wake:
		}
	}
}

// Close removes any handler and releases all blocked waiters with
// ErrCancelled. Edges still pending may be consumed after Close.
func (s *EdgeSource) Close() {
	s.once.Do(func() {
		s.ClearHandler()
		close(s.done)
	})
}

// ctxErr maps a finished context to ErrTimeout or ErrCancelled.
func ctxErr(ctx context.Context) error {
	if ctx.Err() == context.DeadlineExceeded {
		return ErrTimeout
	}
	return ErrCancelled
}
