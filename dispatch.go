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
	"fmt"
	"time"
)

// Opcode selects a control surface operation. The values are those of
// the rpi_gpio character driver.
type Opcode int

const (
	OpOutput   Opcode = 0 // Configure line as output
	OpInput    Opcode = 1 // Configure line as input
	OpSet      Opcode = 2 // Drive line high
	OpClear    Opcode = 3 // Drive line low
	OpRead     Opcode = 4 // Read line level
	OpWaitEdge Opcode = 5 // Wait for an edge on the line
)

func (op Opcode) String() string {
	switch op {
	case OpOutput:
		return "output"
	case OpInput:
		return "input"
	case OpSet:
		return "set"
	case OpClear:
		return "clear"
	case OpRead:
		return "read"
	case OpWaitEdge:
		return "wait-edge"
	}
	return fmt.Sprintf("op(%d)", int(op))
}

// Command is one control surface request.
type Command struct {
	Op   Opcode
	Line Line
}

// Result is the outcome of a Command. Level is only meaningful for
// OpRead.
type Result struct {
	Level bool
}

// Exec applies a command to the controller. Edge waits are unbounded
// unless ctx carries a deadline.
func (c *Controller) Exec(ctx context.Context, cmd Command) (Result, error) {
	var err error
	switch cmd.Op {
	case OpOutput:
		err = c.Configure(cmd.Line, Output)
	case OpInput:
		err = c.Configure(cmd.Line, Input)
	case OpSet:
		err = c.Assert(cmd.Line)
	case OpClear:
		err = c.Deassert(cmd.Line)
	case OpRead:
		v, rerr := c.Read(cmd.Line)
		return Result{Level: v}, rerr
	case OpWaitEdge:
		err = c.WaitEdge(ctx, cmd.Line, 0)
	default:
		err = fmt.Errorf("%v: %w", cmd.Op, ErrUnsupportedCommand)
	}
	return Result{}, err
}

// Dispatcher is the device control surface over a Controller, addressed
// by opcode and line number.
type Dispatcher struct {
	ctl     *Controller
	rep     *Reporter
	timeout time.Duration
}

// DispatcherOption configures NewDispatcher.
type DispatcherOption func(d *Dispatcher)

// WithEdgeTimeout bounds OpWaitEdge. Zero waits without bound.
func WithEdgeTimeout(t time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		d.timeout = t
	}
}

// WithCommandReporter reports failed commands to r.
func WithCommandReporter(r *Reporter) DispatcherOption {
	return func(d *Dispatcher) {
		d.rep = r
	}
}

// NewDispatcher creates a Dispatcher for the controller.
func NewDispatcher(ctl *Controller, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{ctl: ctl}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Controller returns the controller the dispatcher drives.
func (d *Dispatcher) Controller() *Controller {
	return d.ctl
}

// Exec applies one command. Failures are reported and returned; an
// unknown opcode fails with ErrUnsupportedCommand.
func (d *Dispatcher) Exec(cmd Command) (Result, error) {
	ctx := context.Background()
	if cmd.Op == OpWaitEdge && d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	r, err := d.ctl.Exec(ctx, cmd)
	if err != nil {
		d.rep.Command(cmd.Op, int(cmd.Line), err)
	}
	return r, err
}

// Ioctl is the numeric form of Exec. It returns the line level for
// OpRead, 0 for the other successful operations, and -1 on failure.
func (d *Dispatcher) Ioctl(op, arg int) (int, error) {
	r, err := d.Exec(Command{Op: Opcode(op), Line: Line(arg)})
	if err != nil {
		return -1, err
	}
	if r.Level {
		return 1, nil
	}
	return 0, nil
}
