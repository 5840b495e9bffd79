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
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
)

// PeriodSpec describes a periodic activation. A zero Start places the
// first boundary one Interval after the task is created.
type PeriodSpec struct {
	Interval time.Duration
	Start    time.Time
}

// Activation is the outcome of one wait for a period boundary.
type Activation struct {
	Tick     uint64    // Activation number, starting at 0
	Overruns int       // Boundaries already passed when the wait began
	Deadline time.Time // The boundary that released the wait
	Time     time.Time // Clock time when the wait returned
}

// OnTime reports whether no boundary was missed.
func (a Activation) OnTime() bool {
	return a.Overruns == 0
}

// Latency returns how late the activation was relative to its boundary.
func (a Activation) Latency() time.Duration {
	return a.Time.Sub(a.Deadline)
}

// TickFunc is invoked by Task.Run once per activation.
type TickFunc func(ctx context.Context, a Activation) error

// Scheduler creates periodic tasks driven by a monotonic clock.
type Scheduler struct {
	clk clock.Clock
	res time.Duration

	mu     sync.Mutex
	tasks  map[*Task]struct{}
	closed bool
}

// SchedulerOption configures NewScheduler.
type SchedulerOption func(s *Scheduler)

// WithClock replaces the system clock, typically with a clock.Mock.
func WithClock(c clock.Clock) SchedulerOption {
	return func(s *Scheduler) {
		s.clk = c
	}
}

// WithResolution overrides the clock granularity used to round intervals.
func WithResolution(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		s.res = d
	}
}

// NewScheduler creates a Scheduler. By default it uses the system clock
// and the resolution reported by the OS for the monotonic clock.
func NewScheduler(opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{tasks: make(map[*Task]struct{})}
	for _, o := range opts {
		o(s)
	}
	if s.clk == nil {
		s.clk = clock.New()
	}
	if s.res <= 0 {
		s.res = clockResolution()
	}
	return s
}

// Clock returns the clock driving the scheduler.
func (s *Scheduler) Clock() clock.Clock {
	return s.clk
}

// Resolution returns the clock granularity.
func (s *Scheduler) Resolution() time.Duration {
	return s.res
}

// Effective returns the interval a task created with d would run at.
func (s *Scheduler) Effective(d time.Duration) time.Duration {
	if r := d % s.res; r != 0 {
		d += s.res - r
	}
	return d
}

// Create registers a periodic task. fn is only used by Task.Run and may
// be nil for tasks driven by WaitNextPeriod.
func (s *Scheduler) Create(name string, ps PeriodSpec, fn TickFunc) (*Task, error) {
	if ps.Interval <= 0 {
		return nil, fmt.Errorf("%s: %w: %v", name, ErrInvalidPeriod, ps.Interval)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("%s: scheduler %w", name, ErrClosed)
	}
	t := &Task{
		name:     name,
		sched:    s,
		interval: s.Effective(ps.Interval),
		fn:       fn,
		done:     make(chan struct{}),
	}
	t.next = ps.Start
	if t.next.IsZero() {
		t.next = s.clk.Now().Add(t.interval)
	}
	s.tasks[t] = struct{}{}
	return t, nil
}

// Cancel stops the task, releasing any blocked waiter.
func (s *Scheduler) Cancel(t *Task) {
	t.Cancel()
}

// Close cancels every task and refuses new ones.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	tasks := make([]*Task, 0, len(s.tasks))
	for t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.mu.Unlock()
	for _, t := range tasks {
		t.Cancel()
	}
}

func (s *Scheduler) remove(t *Task) {
	s.mu.Lock()
	delete(s.tasks, t)
	s.mu.Unlock()
}

// Tasks returns the number of live tasks.
func (s *Scheduler) Tasks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Task is one periodic activation stream. Boundaries fall at
// Start + n*Period; a missed boundary is never replayed.
type Task struct {
	name     string
	sched    *Scheduler
	interval time.Duration
	fn       TickFunc

	mu   sync.Mutex // serialises waits
	next time.Time
	tick uint64

	ticks    atomic.Uint64
	overruns atomic.Uint64
	waiters  atomic.Int32
	done     chan struct{}
	once     sync.Once
}

// Name returns the task name.
func (t *Task) Name() string {
	return t.name
}

// Period returns the effective interval after rounding to the clock
// resolution.
func (t *Task) Period() time.Duration {
	return t.interval
}

// Ticks returns the number of activations so far.
func (t *Task) Ticks() uint64 {
	return t.ticks.Load()
}

// Overruns returns the total number of missed boundaries.
func (t *Task) Overruns() uint64 {
	return t.overruns.Load()
}

// Cancelled reports whether the task has been cancelled.
func (t *Task) Cancelled() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Cancel stops future activations. Blocked waiters return ErrCancelled.
// Calling Cancel more than once has no further effect.
func (t *Task) Cancel() {
	t.once.Do(func() {
		close(t.done)
		t.sched.remove(t)
	})
}

// WaitNextPeriod blocks until the next period boundary. If boundaries
// have already passed, their number is reported in Activation.Overruns
// and the wait targets the first boundary not yet passed.
// A context deadline returns ErrTimeout and cancellation of the context
// or the task returns ErrCancelled; a failed wait leaves the task's
// schedule untouched.
func (t *Task) WaitNextPeriod(ctx context.Context) (Activation, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Cancelled() {
		return Activation{}, ErrCancelled
	}
	if ctx.Err() != nil {
		return Activation{}, ctxErr(ctx)
	}
	clk := t.sched.clk
	now := clk.Now()
	next := t.next
	missed := 0
	if now.After(next) {
		missed = int((now.Sub(next)-1)/t.interval) + 1
		next = next.Add(time.Duration(missed) * t.interval)
	}
	if d := next.Sub(now); d > 0 {
		timer := clk.Timer(d)
		t.waiters.Add(1)
		select {
		case <-timer.C:
		case <-t.done:
			timer.Stop()
			t.waiters.Add(-1)
			return Activation{}, ErrCancelled
		case <-ctx.Done():
			timer.Stop()
			t.waiters.Add(-1)
			return Activation{}, ctxErr(ctx)
		}
		t.waiters.Add(-1)
	}
	t.next = next.Add(t.interval)
	a := Activation{
		Tick:     t.tick,
		Overruns: missed,
		Deadline: next,
		Time:     clk.Now(),
	}
	t.tick++
	t.ticks.Add(1)
	t.overruns.Add(uint64(missed))
	return a, nil
}

// Run invokes the task function once per activation until the task or
// context is cancelled, which returns nil. An error from the task
// function stops the task and is returned.
func (t *Task) Run(ctx context.Context) error {
	if t.fn == nil {
		return fmt.Errorf("%s: no tick function", t.name)
	}
	for {
		a, err := t.WaitNextPeriod(ctx)
		if errors.Is(err, ErrCancelled) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := t.fn(ctx, a); err != nil {
			t.Cancel()
			return err
		}
	}
}
