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
	"io"
	"sync"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Logger is the structured logger accepted by the package.
type Logger = logiface.Logger[logiface.Event]

// NewLogger returns a logger writing JSON lines to w.
func NewLogger(w io.Writer, level logiface.Level) *Logger {
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w)),
		stumpy.L.WithLevel(level),
	).Logger()
}

// DefaultOverrunRates limits overrun warnings per task.
var DefaultOverrunRates = map[time.Duration]int{
	time.Second: 5,
	time.Minute: 60,
}

// Reporter turns loop and device events into structured log records.
// A nil Reporter, or one with a nil logger, discards everything.
type Reporter struct {
	log   *Logger
	limit *catrate.Limiter

	mu         sync.Mutex
	suppressed map[string]int
}

// NewReporter creates a Reporter. Overrun warnings for each task are
// limited to rates, or DefaultOverrunRates if rates is nil.
func NewReporter(log *Logger, rates map[time.Duration]int) *Reporter {
	if rates == nil {
		rates = DefaultOverrunRates
	}
	return &Reporter{
		log:        log,
		limit:      catrate.NewLimiter(rates),
		suppressed: make(map[string]int),
	}
}

// Logger returns the underlying logger.
func (r *Reporter) Logger() *Logger {
	if r == nil {
		return nil
	}
	return r.log
}

// Banner records the start of a periodic task.
func (r *Reporter) Banner(name, port string, output, input Line, period time.Duration) {
	if r == nil {
		return
	}
	r.log.Notice().
		Str("task", name).
		Str("port", port).
		Int("output", int(output)).
		Int("input", int(input)).
		Dur("period", period).
		Log("periodic task started")
}

// Overrun records missed boundaries, returning false if the warning was
// suppressed by the rate limit. The number of suppressed warnings is
// attached to the next one emitted.
func (r *Reporter) Overrun(name string, tick uint64, missed int) bool {
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.limit.Allow(name); !ok {
		r.suppressed[name]++
		return false
	}
	n := r.suppressed[name]
	delete(r.suppressed, name)
	r.log.Warning().
		Str("task", name).
		Uint64("tick", tick).
		Int("missed", missed).
		Call(func(b *logiface.Builder[logiface.Event]) {
			if n > 0 {
				b.Int("suppressed", n)
			}
		}).
		Log("period overrun")
	return true
}

// Suppressed returns the number of overrun warnings for the task held
// back since the last one emitted.
func (r *Reporter) Suppressed(name string) int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.suppressed[name]
}

// Drift records the periodic timing report.
func (r *Reporter) Drift(name string, tick uint64, d Drift) {
	if r == nil {
		return
	}
	r.log.Info().
		Str("task", name).
		Uint64("tick", tick).
		Dur("last", d.Last).
		Dur("min", d.Min).
		Dur("max", d.Max).
		Dur("mean", d.Mean()).
		Log("drift")
}

// EdgeTimeout records an edge wait that gave up.
func (r *Reporter) EdgeTimeout(name string, l Line, err error) {
	if r == nil {
		return
	}
	r.log.Warning().
		Str("task", name).
		Int("line", int(l)).
		Err(err).
		Log("edge wait failed")
}

// EdgeConsumed records an edge taken by a task.
func (r *Reporter) EdgeConsumed(name string, l Line, count uint64) {
	if r == nil {
		return
	}
	r.log.Debug().
		Str("task", name).
		Int("line", int(l)).
		Uint64("edges", count).
		Log("edge")
}

// Command records a rejected control surface request.
func (r *Reporter) Command(op Opcode, arg int, err error) {
	if r == nil {
		return
	}
	r.log.Err().
		Stringer("op", op).
		Int("arg", arg).
		Err(err).
		Log("command failed")
}

// Shutdown records the final statistics of a task.
func (r *Reporter) Shutdown(name string, s Stats) {
	if r == nil {
		return
	}
	r.log.Notice().
		Str("task", name).
		Uint64("ticks", s.Ticks).
		Uint64("overruns", s.Overruns).
		Uint64("edges", s.Edges).
		Dur("drift_max", s.Drift.Max).
		Log("periodic task stopped")
}
