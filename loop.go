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
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// LoopConfig describes a square wave control loop.
type LoopConfig struct {
	Name        string
	Output      Line          // Line driven by the loop
	Input       Line          // Edge input, or NoLine
	Period      time.Duration // Time between output transitions
	Start       time.Time     // First boundary, zero for one period from now
	ReportEvery uint64        // Activations between drift reports, 0 for none
	EdgeTimeout time.Duration // Bound on a blocking edge wait, 0 for none
}

// Drift accumulates the difference between the measured interval of
// consecutive activations and the nominal period. Periods skipped by an
// overrun are not counted as drift.
type Drift struct {
	Last    time.Duration
	Min     time.Duration
	Max     time.Duration
	Sum     time.Duration
	Samples uint64
}

func (d *Drift) add(v time.Duration) {
	if d.Samples == 0 || v < d.Min {
		d.Min = v
	}
	if d.Samples == 0 || v > d.Max {
		d.Max = v
	}
	d.Last = v
	d.Sum += v
	d.Samples++
}

// Mean returns the average drift.
func (d Drift) Mean() time.Duration {
	if d.Samples == 0 {
		return 0
	}
	return d.Sum / time.Duration(d.Samples)
}

// Stats is a snapshot of the loop counters.
type Stats struct {
	Ticks    uint64
	Overruns uint64
	Edges    uint64
	Drift    Drift
}

// Loop drives a square wave on one output line from a periodic task,
// and optionally reacts to edges on an input line.
//
// Every activation issues one assert or deassert, alternating. Each edge
// consumed from the input toggles a divider that halves the rate of the
// output, so the wave switches between full and half rate as edges arrive.
type Loop struct {
	ctl   *Controller
	sched *Scheduler
	cfg   LoopConfig
	task  *Task
	src   *EdgeSource
	rep   *Reporter

	shared   bool
	idleLow  bool
	prio     int
	consumer bool
	onEdge   func(n uint64)

	mu       sync.Mutex
	stats    Stats
	phase    uint64
	halfRate bool
	last     time.Time

	ran atomic.Bool
}

// LoopOption configures NewLoop.
type LoopOption func(l *Loop)

// WithSharedPort leaves the Controller open when the loop exits, for
// loops sharing a Port on disjoint lines.
func WithSharedPort() LoopOption {
	return func(l *Loop) {
		l.shared = true
	}
}

// WithIdleLow drives the output low once the loop has stopped.
func WithIdleLow() LoopOption {
	return func(l *Loop) {
		l.idleLow = true
	}
}

// WithRealtime runs the loop on a locked OS thread at SCHED_FIFO prio.
func WithRealtime(prio int) LoopOption {
	return func(l *Loop) {
		l.prio = prio
	}
}

// WithReporter sends loop diagnostics to r.
func WithReporter(r *Reporter) LoopOption {
	return func(l *Loop) {
		l.rep = r
	}
}

// WithEdgeConsumer moves edge handling from a non-blocking check in each
// activation to a separate goroutine blocked on the edge source. fn, if
// not nil, is called with the running edge count after each edge.
func WithEdgeConsumer(fn func(n uint64)) LoopOption {
	return func(l *Loop) {
		l.consumer = true
		l.onEdge = fn
	}
}

// NewLoop creates a Loop, configuring the output line, and the input
// line if one is given. The loop owns the Controller unless
// WithSharedPort is used.
func NewLoop(ctl *Controller, sched *Scheduler, cfg LoopConfig, opts ...LoopOption) (*Loop, error) {
	l := &Loop{ctl: ctl, sched: sched, cfg: cfg}
	for _, o := range opts {
		o(l)
	}
	if l.cfg.Name == "" {
		l.cfg.Name = fmt.Sprintf("loop%d", cfg.Output)
	}
	if err := ctl.Configure(cfg.Output, Output); err != nil {
		return nil, err
	}
	if cfg.Input != NoLine {
		if err := ctl.Configure(cfg.Input, Input); err != nil {
			return nil, err
		}
		l.src = ctl.EdgeSource(cfg.Input)
	}
	if l.consumer && l.src == nil {
		return nil, fmt.Errorf("%s: %w", l.cfg.Name, ErrNoEdgeSource)
	}
	t, err := sched.Create(l.cfg.Name, PeriodSpec{Interval: cfg.Period, Start: cfg.Start}, nil)
	if err != nil {
		return nil, err
	}
	l.task = t
	return l, nil
}

// Task returns the periodic task of the loop.
func (l *Loop) Task() *Task {
	return l.task
}

// Stats returns a snapshot of the loop counters.
func (l *Loop) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

// HalfRate reports whether the output is running at half rate.
func (l *Loop) HalfRate() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.halfRate
}

// Run drives the output until ctx is cancelled, returning nil.
// Cancellation is observed when the pending period wait returns. On exit
// the task is cancelled and the Controller is closed; no further command
// reaches the output unless WithIdleLow is given. A loop can only be run
// once.
func (l *Loop) Run(ctx context.Context) (err error) {
	if !l.ran.CompareAndSwap(false, true) {
		return fmt.Errorf("%s: loop already run", l.cfg.Name)
	}
	defer func() {
		if cerr := l.shutdown(); err == nil {
			err = cerr
		}
	}()
	l.rep.Banner(l.cfg.Name, l.ctl.Port().Description(), l.cfg.Output, l.cfg.Input, l.task.Period())
	if !l.consumer {
		return l.periodic(ctx)
	}
	g, gctx := errgroup.WithContext(ctx)
	cctx, cancel := context.WithCancel(gctx)
	g.Go(func() error {
		// Release the edge consumer when the periodic side stops.
		defer cancel()
		return l.periodic(gctx)
	})
	g.Go(func() error {
		return l.consume(cctx)
	})
	return g.Wait()
}

func (l *Loop) periodic(ctx context.Context) error {
	if l.prio > 0 {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		if err := SetRealtimePriority(l.prio); err != nil {
			l.rep.Logger().Warning().Str("task", l.cfg.Name).Err(err).Log("realtime priority not set")
		}
	}
	for {
		a, err := l.task.WaitNextPeriod(ctx)
		if errors.Is(err, ErrCancelled) || errors.Is(err, ErrTimeout) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := l.tick(a); err != nil {
			return err
		}
	}
}

// tick runs one activation.
func (l *Loop) tick(a Activation) error {
	l.mu.Lock()
	div := uint64(1)
	if l.halfRate {
		div = 2
	}
	high := (l.phase/div)%2 == 0
	l.phase++
	l.mu.Unlock()

	var err error
	if high {
		err = l.ctl.Assert(l.cfg.Output)
	} else {
		err = l.ctl.Deassert(l.cfg.Output)
	}
	if err != nil {
		return err
	}
	if !l.consumer && l.src != nil && l.src.TryWait() {
		l.edge()
	}

	l.mu.Lock()
	l.stats.Ticks++
	l.stats.Overruns += uint64(a.Overruns)
	if !l.last.IsZero() {
		periods := time.Duration(a.Overruns+1) * l.task.Period()
		l.stats.Drift.add(a.Time.Sub(l.last) - periods)
	}
	l.last = a.Time
	s := l.stats
	l.mu.Unlock()

	if a.Overruns > 0 {
		l.rep.Overrun(l.cfg.Name, a.Tick, a.Overruns)
	}
	if n := l.cfg.ReportEvery; n > 0 && s.Ticks%n == 0 {
		l.rep.Drift(l.cfg.Name, a.Tick, s.Drift)
	}
	return nil
}

// edge records one consumed edge and toggles the divider.
func (l *Loop) edge() {
	l.mu.Lock()
	l.halfRate = !l.halfRate
	l.stats.Edges++
	n := l.stats.Edges
	l.mu.Unlock()
	l.rep.EdgeConsumed(l.cfg.Name, l.cfg.Input, n)
	if l.onEdge != nil {
		l.onEdge(n)
	}
}

// consume blocks on the edge source until the loop stops. Timeouts are
// reported and do not stop the loop.
func (l *Loop) consume(ctx context.Context) error {
	for {
		err := l.ctl.WaitEdge(ctx, l.cfg.Input, l.cfg.EdgeTimeout)
		switch {
		case err == nil:
			l.edge()
		case errors.Is(err, ErrTimeout):
			if ctx.Err() != nil || l.task.Cancelled() {
				return nil
			}
			l.rep.EdgeTimeout(l.cfg.Name, l.cfg.Input, err)
		case errors.Is(err, ErrCancelled):
			return nil
		default:
			return err
		}
		if l.task.Cancelled() {
			return nil
		}
	}
}

// shutdown cancels the task and releases the port.
func (l *Loop) shutdown() error {
	l.task.Cancel()
	var err error
	if l.idleLow {
		err = l.ctl.Deassert(l.cfg.Output)
	}
	l.rep.Shutdown(l.cfg.Name, l.Stats())
	if !l.shared {
		if cerr := l.ctl.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
