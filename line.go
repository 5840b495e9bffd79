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
	"strings"
	"sync"
	"time"
)

// Line is the index of a digital I/O line within a Port.
type Line int

// NoLine marks an unused line in a configuration.
const NoLine Line = -1

// bank returns the register bank and bit mask of the line.
func (l Line) bank() (uint, uint32) {
	return uint(l) / 32, 1 << (uint(l) % 32)
}

// Direction of a line.
type Direction int

const (
	Input Direction = iota
	Output
)

func (d Direction) String() string {
	if d == Output {
		return "output"
	}
	return "input"
}

// Edge selects which transitions of an input line are events.
type Edge int

const (
	EdgeNone Edge = iota
	EdgeRising
	EdgeFalling
	EdgeBoth
)

func (e Edge) String() string {
	switch e {
	case EdgeNone:
		return "none"
	case EdgeRising:
		return "rising"
	case EdgeFalling:
		return "falling"
	case EdgeBoth:
		return "both"
	}
	return fmt.Sprintf("Edge(%d)", int(e))
}

// ParseEdge converts the name of an edge polarity to an Edge.
func ParseEdge(s string) (Edge, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return EdgeNone, nil
	case "rising":
		return EdgeRising, nil
	case "falling":
		return EdgeFalling, nil
	case "both":
		return EdgeBoth, nil
	}
	return EdgeNone, fmt.Errorf("unknown edge %q", s)
}

// Matches reports whether a transition of polarity t is an event
// for a source configured with e.
func (e Edge) Matches(t Edge) bool {
	switch e {
	case EdgeBoth:
		return t == EdgeRising || t == EdgeFalling || t == EdgeBoth
	case EdgeNone:
		return false
	}
	return e == t
}

// Controller issues line level commands against a Port.
type Controller struct {
	port *Port

	mu    sync.RWMutex
	edges map[Line]*EdgeSource
}

// NewController creates a Controller that takes ownership of the Port.
func NewController(p *Port) *Controller {
	return &Controller{port: p, edges: make(map[Line]*EdgeSource)}
}

// Port returns the Port the controller drives.
func (c *Controller) Port() *Port {
	return c.port
}

func (c *Controller) check(l Line) error {
	if c.port.Closed() {
		return ErrClosed
	}
	if l < 0 || int(l) >= c.port.Lines() {
		return ErrLineRange
	}
	return nil
}

// Configure sets the direction of the line. Configuring a line to the
// direction it already has does not touch the hardware.
func (c *Controller) Configure(l Line, d Direction) error {
	if err := c.check(l); err != nil {
		return lineError("configure", l, err)
	}
	fn := FuncInput
	if d == Output {
		fn = FuncOutput
	}
	if _, err := c.port.SelectFunction(l, fn); err != nil {
		return lineError("configure", l, err)
	}
	return nil
}

// Direction returns the current direction of the line. Lines set to an
// alternate function fail with ErrWrongDirection.
func (c *Controller) Direction(l Line) (Direction, error) {
	if err := c.check(l); err != nil {
		return Input, lineError("direction", l, err)
	}
	fn, err := c.port.Function(l)
	if err != nil {
		return Input, lineError("direction", l, err)
	}
	switch fn {
	case FuncInput:
		return Input, nil
	case FuncOutput:
		return Output, nil
	}
	return Input, lineError("direction", l, ErrWrongDirection)
}

func (c *Controller) checkOutput(op string, l Line) error {
	if err := c.check(l); err != nil {
		return lineError(op, l, err)
	}
	fn, err := c.port.Function(l)
	if err != nil {
		return lineError(op, l, err)
	}
	if fn != FuncOutput {
		return lineError(op, l, ErrWrongDirection)
	}
	return nil
}

// Assert drives an output line high.
func (c *Controller) Assert(l Line) error {
	if err := c.checkOutput("assert", l); err != nil {
		return err
	}
	bank, mask := l.bank()
	if err := c.port.SetBits(bank, mask); err != nil {
		return lineError("assert", l, err)
	}
	return nil
}

// Deassert drives an output line low.
func (c *Controller) Deassert(l Line) error {
	if err := c.checkOutput("deassert", l); err != nil {
		return err
	}
	bank, mask := l.bank()
	if err := c.port.ClearBits(bank, mask); err != nil {
		return lineError("deassert", l, err)
	}
	return nil
}

// Read returns the instantaneous level of an input or output line.
func (c *Controller) Read(l Line) (bool, error) {
	if _, err := c.Direction(l); err != nil {
		return false, err
	}
	bank, _ := l.bank()
	v, err := c.port.ReadBit(bank, uint(l)%32)
	if err != nil {
		return false, lineError("read", l, err)
	}
	return v, nil
}

// AttachEdge associates an edge source with the line, replacing any
// previous one.
func (c *Controller) AttachEdge(l Line, src *EdgeSource) error {
	if err := c.check(l); err != nil {
		return lineError("attach", l, err)
	}
	c.mu.Lock()
	c.edges[l] = src
	c.mu.Unlock()
	return nil
}

// EdgeSource returns the edge source of the line, or nil.
func (c *Controller) EdgeSource(l Line) *EdgeSource {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.edges[l]
}

// WaitEdge blocks until an edge is consumed from the line's edge source.
// A timeout of zero or less waits without bound.
func (c *Controller) WaitEdge(ctx context.Context, l Line, timeout time.Duration) error {
	if err := c.check(l); err != nil {
		return lineError("wait", l, err)
	}
	src := c.EdgeSource(l)
	if src == nil {
		return lineError("wait", l, ErrNoEdgeSource)
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := src.Wait(ctx); err != nil {
		return lineError("wait", l, err)
	}
	return nil
}

// Close closes the attached edge sources, releasing their waiters,
// then releases the Port.
func (c *Controller) Close() error {
	c.mu.Lock()
	for l, src := range c.edges {
		src.Close()
		delete(c.edges, l)
	}
	c.mu.Unlock()
	return c.port.Close()
}
